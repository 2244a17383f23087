package errors

import (
	stdErrors "errors"
	"fmt"
	"time"
)

// RateLimitError represents a 429 response from the card service.
// RetryAfter carries the server's advisory delay when it sent one.
type RateLimitError struct {
	Message    string
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("%s (retry after %s)", e.Message, e.RetryAfter)
	}
	return e.Message
}

// NewRateLimitError creates a new RateLimitError with the given message
func NewRateLimitError(message string) *RateLimitError {
	return &RateLimitError{Message: message}
}

// NewRateLimitErrorWithRetry creates a RateLimitError with an advisory retry delay.
func NewRateLimitErrorWithRetry(message string, retryAfter time.Duration) *RateLimitError {
	return &RateLimitError{Message: message, RetryAfter: retryAfter}
}

// IsRateLimitError reports whether err is a RateLimitError (even when wrapped).
func IsRateLimitError(err error) bool {
	var rlErr *RateLimitError
	return stdErrors.As(err, &rlErr)
}

// RetryAfter returns the advisory delay of a wrapped RateLimitError, or zero.
func RetryAfter(err error) time.Duration {
	var rlErr *RateLimitError
	if stdErrors.As(err, &rlErr) {
		return rlErr.RetryAfter
	}
	return 0
}
