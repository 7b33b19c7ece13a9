package task

import (
	"fmt"
	"path/filepath"
	"strings"
)

// DefaultOutputPath places the converted file in outputDir, keeping the
// input's base name with the extension of f.
func DefaultOutputPath(inputPath, outputDir string, f Format) string {
	base := filepath.Base(inputPath)
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	return filepath.Join(outputDir, stem+"."+string(f))
}

// inputOwner marks a path that belongs to one of the batch's inputs.
const inputOwner = "\x00input"

// outputClaims hands out one output path per input of a batch. A path that
// is already claimed, or that is one of the inputs, gets a " - dupN" suffix.
type outputClaims struct {
	owners   map[string]string // output path → input that owns it
	counters map[string]int    // requested path → next dup counter
}

func newOutputClaims(inputs []string) *outputClaims {
	c := &outputClaims{
		owners:   make(map[string]string, len(inputs)*2),
		counters: make(map[string]int),
	}
	for _, in := range inputs {
		c.owners[claimKey(in)] = inputOwner
	}
	return c
}

// claim returns the output path input will write to.
func (c *outputClaims) claim(input, requested string) string {
	key := claimKey(requested)
	if owner, taken := c.owners[key]; !taken || owner == input {
		c.owners[key] = input
		return requested
	}

	dir := filepath.Dir(requested)
	ext := filepath.Ext(requested)
	stem := strings.TrimSuffix(filepath.Base(requested), ext)

	counter := max(c.counters[key], 1)
	for {
		candidate := filepath.Join(dir, fmt.Sprintf("%s - dup%d%s", stem, counter, ext))
		if owner, taken := c.owners[claimKey(candidate)]; !taken || owner == input {
			c.counters[key] = counter + 1
			c.owners[claimKey(candidate)] = input
			return candidate
		}
		counter++
	}
}

func claimKey(path string) string {
	if abs, err := filepath.Abs(path); err == nil {
		return abs
	}
	return filepath.Clean(path)
}
