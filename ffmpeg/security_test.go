package ffmpeg

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitCommand(t *testing.T) {
	cmd := `-preset fast -vf "scale=1280:-1" -crf 23`
	expected := []string{"-preset", "fast", "-vf", "scale=1280:-1", "-crf", "23"}

	args, err := SplitCommand(cmd)
	assert.NoError(t, err)
	assert.Equal(t, expected, args)

	t.Run("empty string yields no args", func(t *testing.T) {
		args, err := SplitCommand("")
		require.NoError(t, err)
		assert.Empty(t, args)
	})

	t.Run("unterminated quote", func(t *testing.T) {
		_, err := SplitCommand(`-vf "scale=1280:-1`)
		assert.Error(t, err)
	})
}

func TestSanitizeAndValidateArgs(t *testing.T) {
	t.Run("Valid codec options", func(t *testing.T) {
		args, _ := SplitCommand(`-preset fast -crf 23 -c:a aac`)
		assert.NoError(t, SanitizeAndValidateArgs(args))
	})

	t.Run("Extra input rejected", func(t *testing.T) {
		args, _ := SplitCommand(`-i other.mp4`)
		err := SanitizeAndValidateArgs(args)
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "-i is managed by the runner")
	})

	t.Run("Disallowed character (semicolon)", func(t *testing.T) {
		args, _ := SplitCommand(`-crf 23; ls`)
		err := SanitizeAndValidateArgs(args)
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "disallowed character found in argument: 23;")
	})

	t.Run("Disallowed character (dollar)", func(t *testing.T) {
		args, _ := SplitCommand(`-vf "crop=$(($RANDOM))"`)
		err := SanitizeAndValidateArgs(args)
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "disallowed character found in argument: crop=$(($RANDOM))")
	})
}
