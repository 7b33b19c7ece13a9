package task

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDefaultOutputPath(t *testing.T) {
	assert.Equal(t, filepath.Join("/out", "holiday.clip.mkv"), DefaultOutputPath("/videos/holiday.clip.avi", "/out", FormatMKV))
	assert.Equal(t, filepath.Join("/out", "noext.mp4"), DefaultOutputPath("noext", "/out", FormatMP4))
}

func TestOutputClaims(t *testing.T) {
	inputs := []string{"/a/clip.avi", "/b/clip.avi", "/out/taken.mp4"}
	c := newOutputClaims(inputs)

	assert.Equal(t, filepath.Join("/out", "clip.mp4"), c.claim(inputs[0], filepath.Join("/out", "clip.mp4")))
	assert.Equal(t, filepath.Join("/out", "clip - dup1.mp4"), c.claim(inputs[1], filepath.Join("/out", "clip.mp4")))
	assert.Equal(t, filepath.Join("/out", "clip.mp4"), c.claim(inputs[0], filepath.Join("/out", "clip.mp4")), "an owner keeps its path")

	// Equivalent spellings collide too.
	assert.Equal(t, filepath.Join("/out", "clip - dup2.mp4"), c.claim("/c/clip.avi", "/out/./clip.mp4"))

	assert.Equal(t, filepath.Join("/out", "taken - dup1.mp4"), c.claim(inputs[2], "/out/taken.mp4"))
}
