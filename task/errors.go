package task

import (
	"errors"
	"fmt"
)

var (
	// ErrBatchActive is returned when submitting while another batch is
	// still running or draining.
	ErrBatchActive = errors.New("a batch is already running")

	// ErrBatchNotFound is returned for unknown or pruned batch IDs.
	ErrBatchNotFound = errors.New("batch not found")

	// ErrNoActiveBatch is returned by CancelActive when nothing is running.
	ErrNoActiveBatch = errors.New("no active batch")
)

// ValidationError rejects a submission before any work starts.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}
