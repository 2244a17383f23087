// Package retry classifies card-service failures and computes exponential
// backoff for the transient ones.
package retry

import (
	"context"
	stdErrors "errors"
	"fmt"
	"io"
	"math"
	"net"
	"time"

	"github.com/lepinkainen/deckhand/internal/errors"
)

// Class is the retry classification of a lookup result.
type Class int

const (
	// Success means the lookup returned a card.
	Success Class = iota
	// NotFoundPermanent means the card does not exist. Never retried.
	NotFoundPermanent
	// Transient covers rate limiting, 5xx and network errors.
	Transient
	// Fatal covers every other failure. Never retried.
	Fatal
)

func (c Class) String() string {
	switch c {
	case Success:
		return "success"
	case NotFoundPermanent:
		return "not_found"
	case Transient:
		return "transient"
	case Fatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Classify maps a lookup error onto a Class.
func Classify(err error) Class {
	if err == nil {
		return Success
	}

	switch {
	case errors.IsNotFoundError(err):
		return NotFoundPermanent
	case errors.IsFatalError(err):
		return Fatal
	case errors.IsRateLimitError(err), errors.IsServiceError(err):
		return Transient
	case stdErrors.Is(err, context.Canceled):
		// The caller gave up.
		return Fatal
	case stdErrors.Is(err, context.DeadlineExceeded),
		stdErrors.Is(err, io.ErrUnexpectedEOF):
		return Transient
	}

	var netErr net.Error
	if stdErrors.As(err, &netErr) {
		return Transient
	}

	return Fatal
}

// Policy holds the backoff constants. They are configuration, not contract.
type Policy struct {
	// BaseDelay is the wait after the first failed attempt.
	BaseDelay time.Duration
	// Multiplier scales the delay after every further failure.
	Multiplier float64
	// MaxAttempts is the total number of attempts, including the first.
	MaxAttempts int
	// MaxDelay caps a single backoff. Zero means uncapped.
	MaxDelay time.Duration
}

// DefaultPolicy returns the policy used when nothing is configured.
func DefaultPolicy() Policy {
	return Policy{
		BaseDelay:   100 * time.Millisecond,
		Multiplier:  2,
		MaxAttempts: 4,
		MaxDelay:    5 * time.Second,
	}
}

// Validate checks that the policy can make progress.
func (p Policy) Validate() error {
	if p.MaxAttempts < 1 {
		return fmt.Errorf("retry max attempts must be at least 1, got %d", p.MaxAttempts)
	}
	if p.BaseDelay < 0 {
		return fmt.Errorf("retry base delay must not be negative, got %v", p.BaseDelay)
	}
	if p.Multiplier < 1 {
		return fmt.Errorf("retry multiplier must be at least 1, got %v", p.Multiplier)
	}
	return nil
}

// Backoff returns the delay to wait after the given (1-based) failed attempt:
// BaseDelay * Multiplier^(attempt-1), capped at MaxDelay.
func (p Policy) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := float64(p.BaseDelay) * math.Pow(p.Multiplier, float64(attempt-1))
	if p.MaxDelay > 0 && delay > float64(p.MaxDelay) {
		return p.MaxDelay
	}
	if delay > math.MaxInt64 {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(delay)
}

// Decision is what to do after an attempt.
type Decision struct {
	Class Class
	Retry bool
	Delay time.Duration
	Err   error
}

// Decide classifies err from the given (1-based) attempt and says whether
// and when to try again. A server-provided Retry-After wins when it is
// longer than the computed backoff.
func (p Policy) Decide(attempt int, err error) Decision {
	d := Decision{Class: Classify(err), Err: err}
	if d.Class != Transient || attempt >= p.MaxAttempts {
		return d
	}

	d.Retry = true
	d.Delay = p.Backoff(attempt)
	if advisory := errors.RetryAfter(err); advisory > d.Delay {
		d.Delay = advisory
	}
	return d
}
