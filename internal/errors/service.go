package errors

import (
	stdErrors "errors"
	"fmt"
)

// NotFoundError means the card service has no record for the lookup.
type NotFoundError struct {
	Query string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("card not found: %s", e.Query)
}

// NewNotFoundError creates a NotFoundError for the given lookup description.
func NewNotFoundError(query string) *NotFoundError {
	return &NotFoundError{Query: query}
}

// IsNotFoundError reports whether err is a NotFoundError (even when wrapped).
func IsNotFoundError(err error) bool {
	var nfErr *NotFoundError
	return stdErrors.As(err, &nfErr)
}

// ServiceError is a 5xx response. It is expected to succeed on retry.
type ServiceError struct {
	StatusCode int
	Body       string
}

func (e *ServiceError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("card service error (HTTP %d): %s", e.StatusCode, e.Body)
	}
	return fmt.Sprintf("card service error (HTTP %d)", e.StatusCode)
}

// NewServiceError creates a ServiceError.
func NewServiceError(statusCode int, body string) *ServiceError {
	return &ServiceError{StatusCode: statusCode, Body: body}
}

// IsServiceError reports whether err is a ServiceError (even when wrapped).
func IsServiceError(err error) bool {
	var svcErr *ServiceError
	return stdErrors.As(err, &svcErr)
}

// FatalError is a non-retryable failure: an unexpected 4xx, an undecodable
// response, or the card service being switched off by the circuit breaker.
type FatalError struct {
	Message    string
	StatusCode int
	Err        error
}

func (e *FatalError) Error() string {
	msg := e.Message
	if e.StatusCode != 0 {
		msg = fmt.Sprintf("%s (HTTP %d)", msg, e.StatusCode)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *FatalError) Unwrap() error {
	return e.Err
}

// NewFatalError creates a FatalError wrapping the optional cause.
func NewFatalError(message string, statusCode int, cause error) *FatalError {
	return &FatalError{Message: message, StatusCode: statusCode, Err: cause}
}

// IsFatalError reports whether err is a FatalError (even when wrapped).
func IsFatalError(err error) bool {
	var fatalErr *FatalError
	return stdErrors.As(err, &fatalErr)
}

// MalformedRecordError marks an import record without any usable identity.
// Index is the 1-based position of the record in its import.
type MalformedRecordError struct {
	Index int
}

func (e *MalformedRecordError) Error() string {
	return fmt.Sprintf("record %d has neither a name nor a set and collector number", e.Index)
}

// IsMalformedRecordError reports whether err is a MalformedRecordError.
func IsMalformedRecordError(err error) bool {
	var mErr *MalformedRecordError
	return stdErrors.As(err, &mErr)
}
