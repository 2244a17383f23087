package scryfall

import (
	"context"
	stdErrors "errors"
	"log/slog"
	"time"

	"github.com/lepinkainen/deckhand/internal/errors"
	"github.com/sony/gobreaker"
)

// BreakerSettings configures the circuit breaker around the card service.
type BreakerSettings struct {
	// MaxFailures is the number of consecutive transient failures that opens
	// the circuit.
	MaxFailures uint32
	// OpenTimeout is how long the circuit stays open before a trial request.
	OpenTimeout time.Duration
}

// NewBreaker creates a circuit breaker that trips on consecutive 5xx or
// network failures. Not-found answers, rate limiting and client errors count
// as successes.
func NewBreaker(settings BreakerSettings) *gobreaker.CircuitBreaker {
	if settings.MaxFailures == 0 {
		settings.MaxFailures = 5
	}
	if settings.OpenTimeout <= 0 {
		settings.OpenTimeout = 30 * time.Second
	}

	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "scryfall",
		MaxRequests: 1,
		Timeout:     settings.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= settings.MaxFailures
		},
		IsSuccessful: func(err error) bool {
			return err == nil || !countsAsOutage(err)
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			slog.Warn("Circuit breaker state changed", "name", name, "from", from.String(), "to", to.String())
		},
	})
}

func countsAsOutage(err error) bool {
	switch {
	case errors.IsNotFoundError(err), errors.IsFatalError(err), errors.IsRateLimitError(err):
		return false
	case stdErrors.Is(err, context.Canceled):
		return false
	}
	return true
}
