package task

import (
	"fmt"
	"strings"
)

// Format is an output container format.
type Format string

const (
	FormatMP4 Format = "mp4"
	FormatAVI Format = "avi"
	FormatMOV Format = "mov"
	FormatMKV Format = "mkv"
)

// SupportedFormats lists every accepted output format in display order.
var SupportedFormats = []Format{FormatMP4, FormatAVI, FormatMOV, FormatMKV}

// ParseFormat normalizes s and checks it against SupportedFormats.
func ParseFormat(s string) (Format, error) {
	f := Format(strings.ToLower(strings.TrimSpace(s)))
	for _, supported := range SupportedFormats {
		if f == supported {
			return f, nil
		}
	}
	return "", fmt.Errorf("format %q is not supported", s)
}

// Task converts one input file to one format inside one directory.
// It is never mutated after being enqueued. OutputPath is claimed when the
// batch is created and is unique within the batch.
type Task struct {
	ID         string `json:"id"`
	BatchID    string `json:"batchId"`
	InputPath  string `json:"inputPath"`
	Format     Format `json:"format"`
	OutputDir  string `json:"outputDir"`
	OutputPath string `json:"outputPath"`
}

// Result is what a ProcessRunner reports for a single task.
type Result struct {
	OK         bool
	OutputPath string
	Diagnostic string
}
