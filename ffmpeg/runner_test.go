package ffmpeg

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"ffbatch/config"
	"ffbatch/task"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeFFmpeg writes an executable shell script that stands in for ffmpeg.
// The script receives the output path as its last argument.
func fakeFFmpeg(t *testing.T, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("fake ffmpeg relies on /bin/sh")
	}
	path := filepath.Join(t.TempDir(), "ffmpeg")
	script := "#!/bin/sh\nfor last; do :; done\n" + body + "\n"
	require.NoError(t, os.WriteFile(path, []byte(script), 0o755))
	return path
}

func testConfig(bin string) *config.Config {
	return &config.Config{
		FFBin:        bin,
		FFVideoCodec: "copy",
		MaxInputSize: 1 << 20,
	}
}

func writeInput(t *testing.T, name string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte("not really a video"), 0o644))
	return path
}

func TestOutputPath(t *testing.T) {
	tk := &task.Task{InputPath: "/videos/holiday.clip.avi", Format: task.FormatMKV, OutputDir: "/out"}
	assert.Equal(t, filepath.Join("/out", "holiday.clip.mkv"), OutputPath(tk))

	tk.OutputPath = filepath.Join("/out", "holiday.clip - dup1.mkv")
	assert.Equal(t, tk.OutputPath, OutputPath(tk))
}

func TestBuildArgs(t *testing.T) {
	args := BuildArgs("in.avi", "copy", []string{"-preset", "fast"}, "out.mp4")
	assert.Equal(t, []string{"-hide_banner", "-nostdin", "-y", "-i", "in.avi", "-c:v", "copy", "-preset", "fast", "out.mp4"}, args)

	args = BuildArgs("in.avi", "", nil, "out.mp4")
	assert.Equal(t, []string{"-hide_banner", "-nostdin", "-y", "-i", "in.avi", "out.mp4"}, args)
}

func TestRunner_Run(t *testing.T) {
	t.Run("successful conversion", func(t *testing.T) {
		bin := fakeFFmpeg(t, `echo "$@" > "$last"`)
		runner, err := NewRunner(testConfig(bin), nil)
		require.NoError(t, err)

		outDir := filepath.Join(t.TempDir(), "converted")
		tk := &task.Task{ID: "b-1", InputPath: writeInput(t, "movie.avi"), Format: task.FormatMP4, OutputDir: outDir}

		res := runner.Run(context.Background(), tk)
		require.True(t, res.OK, res.Diagnostic)
		assert.Equal(t, filepath.Join(outDir, "movie.mp4"), res.OutputPath)

		data, err := os.ReadFile(res.OutputPath)
		require.NoError(t, err)
		assert.Contains(t, string(data), "-i "+tk.InputPath)
		assert.Contains(t, string(data), "-c:v copy")
		assert.Contains(t, string(data), ".part.mp4")

		entries, err := os.ReadDir(outDir)
		require.NoError(t, err)
		require.Len(t, entries, 1, "partial file should have been renamed")
		assert.Equal(t, "movie.mp4", entries[0].Name())
	})

	t.Run("nonzero exit captures stderr", func(t *testing.T) {
		bin := fakeFFmpeg(t, `echo "partial" > "$last"; echo "Invalid data found when processing input" >&2; exit 3`)
		runner, err := NewRunner(testConfig(bin), nil)
		require.NoError(t, err)

		outDir := t.TempDir()
		tk := &task.Task{ID: "b-1", InputPath: writeInput(t, "broken.mov"), Format: task.FormatMKV, OutputDir: outDir}

		res := runner.Run(context.Background(), tk)
		assert.False(t, res.OK)
		assert.Contains(t, res.Diagnostic, "exited with status 3")
		assert.Contains(t, res.Diagnostic, "Invalid data found")

		entries, err := os.ReadDir(outDir)
		require.NoError(t, err)
		assert.Empty(t, entries, "failed conversions must not leave files behind")
	})

	t.Run("missing binary", func(t *testing.T) {
		runner, err := NewRunner(testConfig(filepath.Join(t.TempDir(), "no-such-ffmpeg")), nil)
		require.NoError(t, err)

		tk := &task.Task{InputPath: writeInput(t, "a.mp4"), Format: task.FormatMKV, OutputDir: t.TempDir()}
		res := runner.Run(context.Background(), tk)
		assert.False(t, res.OK)
		assert.Contains(t, res.Diagnostic, "not found")
	})

	t.Run("missing input", func(t *testing.T) {
		runner, err := NewRunner(testConfig(fakeFFmpeg(t, `exit 0`)), nil)
		require.NoError(t, err)

		tk := &task.Task{InputPath: filepath.Join(t.TempDir(), "gone.mp4"), Format: task.FormatMKV, OutputDir: t.TempDir()}
		res := runner.Run(context.Background(), tk)
		assert.False(t, res.OK)
		assert.Contains(t, res.Diagnostic, "could not read input file")
	})

	t.Run("input over size limit", func(t *testing.T) {
		cfg := testConfig(fakeFFmpeg(t, `exit 0`))
		cfg.MaxInputSize = 4
		runner, err := NewRunner(cfg, nil)
		require.NoError(t, err)

		tk := &task.Task{InputPath: writeInput(t, "big.mp4"), Format: task.FormatMKV, OutputDir: t.TempDir()}
		res := runner.Run(context.Background(), tk)
		assert.False(t, res.OK)
		assert.Contains(t, res.Diagnostic, "exceeds limit")
	})

	t.Run("output would overwrite input", func(t *testing.T) {
		runner, err := NewRunner(testConfig(fakeFFmpeg(t, `exit 0`)), nil)
		require.NoError(t, err)

		input := writeInput(t, "same.mp4")
		tk := &task.Task{InputPath: input, Format: task.FormatMP4, OutputDir: filepath.Dir(input)}
		res := runner.Run(context.Background(), tk)
		assert.False(t, res.OK)
		assert.Contains(t, res.Diagnostic, "would overwrite the input")
	})

	t.Run("unwritable output directory", func(t *testing.T) {
		runner, err := NewRunner(testConfig(fakeFFmpeg(t, `exit 0`)), nil)
		require.NoError(t, err)

		// A regular file cannot act as a directory.
		blocker := writeInput(t, "not-a-dir")
		tk := &task.Task{InputPath: writeInput(t, "a.mp4"), Format: task.FormatMKV, OutputDir: filepath.Join(blocker, "out")}
		res := runner.Run(context.Background(), tk)
		assert.False(t, res.OK)
		assert.Contains(t, res.Diagnostic, "not writable")
	})

	t.Run("timeout is reported", func(t *testing.T) {
		cfg := testConfig(fakeFFmpeg(t, `exec sleep 5`))
		cfg.FFTimeout = 100 * time.Millisecond
		runner, err := NewRunner(cfg, nil)
		require.NoError(t, err)

		tk := &task.Task{InputPath: writeInput(t, "slow.mp4"), Format: task.FormatMKV, OutputDir: t.TempDir()}
		res := runner.Run(context.Background(), tk)
		assert.False(t, res.OK)
		assert.Contains(t, res.Diagnostic, "timed out")
	})
}

func TestNewRunnerRejectsBadExtraArgs(t *testing.T) {
	cfg := testConfig("ffmpeg")
	cfg.FFExtraArgs = "-i /etc/passwd"
	_, err := NewRunner(cfg, nil)
	assert.Error(t, err)
}

func TestRunner_SameNamedInputsInOneBatch(t *testing.T) {
	// Copies the input to the output after a delay so both conversions overlap.
	bin := fakeFFmpeg(t, `prev=; for a; do [ "$prev" = "-i" ] && in="$a"; prev="$a"; done
sleep 0.3
cp "$in" "$last"`)
	cfg := testConfig(bin)
	cfg.MaxConcurrency = 2
	cfg.EventBuffer = 100

	runner, err := NewRunner(cfg, nil)
	require.NoError(t, err)
	mgr, err := task.NewManager(cfg, runner, nil)
	require.NoError(t, err)
	mgr.Start(context.Background())

	first := filepath.Join(t.TempDir(), "clip.avi")
	second := filepath.Join(t.TempDir(), "clip.mov")
	require.NoError(t, os.WriteFile(first, []byte("AAAA"), 0o644))
	require.NoError(t, os.WriteFile(second, []byte("BBBB"), 0o644))
	outDir := t.TempDir()

	run, err := mgr.Submit([]string{first, second}, "mp4", outDir)
	require.NoError(t, err)
	select {
	case <-run.Done():
	case <-time.After(10 * time.Second):
		t.Fatal("batch did not finish")
	}

	summary := run.Summary()
	assert.Equal(t, 2, summary.Succeeded)
	assert.Equal(t, 0, summary.Failed)
	assert.False(t, summary.Cancelled)

	got, err := os.ReadFile(filepath.Join(outDir, "clip.mp4"))
	require.NoError(t, err)
	assert.Equal(t, "AAAA", string(got))

	got, err = os.ReadFile(filepath.Join(outDir, "clip - dup1.mp4"))
	require.NoError(t, err)
	assert.Equal(t, "BBBB", string(got))

	entries, err := os.ReadDir(outDir)
	require.NoError(t, err)
	assert.Len(t, entries, 2, "no partial files may remain")
}
