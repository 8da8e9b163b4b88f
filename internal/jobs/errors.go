package jobs

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound       = errors.New("not found")
	ErrNotCancellable = errors.New("job is not cancellable")
	// errJobFinished aborts an update when the job already reached a terminal state.
	errJobFinished = errors.New("job already finished")
	errNotPending  = errors.New("job is not pending")
)

const (
	ErrorCodeRateLimited   = "RATE_LIMITED"
	ErrorCodeProvider      = "PROVIDER_ERROR"
	ErrorCodeMaxIterations = "MAX_ITERATIONS"
	ErrorCodeStorage       = "STORAGE_ERROR"
	ErrorCodeInternal      = "INTERNAL_ERROR"
)

// ValidationError reports a malformed submission. No job is created.
type ValidationError struct {
	Field string
	Issue string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation: %s %s", e.Field, e.Issue)
}

func invalid(field, issue string) error {
	return &ValidationError{Field: field, Issue: issue}
}
