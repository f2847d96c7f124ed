package pipeline

import (
	"errors"
	"fmt"
)

var (
	// ErrGenerationUnavailable means the generation capability kept failing
	// after every retry. It is a pipeline failure, not a verification outcome.
	ErrGenerationUnavailable = errors.New("generation unavailable")

	// ErrGenerationTimeout marks a single attempt that ran past its deadline.
	// It is retryable.
	ErrGenerationTimeout = errors.New("generation timed out")
)

// RunError records where a run stopped and why
type RunError struct {
	State  State
	Reason string
	Err    error
}

func (e *RunError) Error() string {
	return fmt.Sprintf("pipeline failed in %s (%s): %v", e.State, e.Reason, e.Err)
}

func (e *RunError) Unwrap() error { return e.Err }
