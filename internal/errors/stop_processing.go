package errors

import (
	"errors"
	"fmt"
)

// StopProcessingError is returned from a progress callback to end an
// enrichment run after the current chunk. Records not yet looked up are
// reported as failed.
type StopProcessingError struct {
	Reason string
}

func (e *StopProcessingError) Error() string {
	if e.Reason == "" {
		return "enrichment stopped"
	}
	return fmt.Sprintf("enrichment stopped: %s", e.Reason)
}

// NewStopProcessingError creates a StopProcessingError.
func NewStopProcessingError(reason string) *StopProcessingError {
	return &StopProcessingError{Reason: reason}
}

// IsStopProcessingError reports whether err is a StopProcessingError, also
// when wrapped.
func IsStopProcessingError(err error) bool {
	var stopErr *StopProcessingError
	return errors.As(err, &stopErr)
}
