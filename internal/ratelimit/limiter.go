// Package ratelimit wraps golang.org/x/time/rate with a name for logging and
// with reservations taken at caller-supplied times, so a virtual clock can
// drive it.
package ratelimit

import (
	"time"

	"golang.org/x/time/rate"
)

// Limiter wraps rate.Limiter with a name for logging.
type Limiter struct {
	limiter *rate.Limiter
	name    string
}

// NewStrict creates a limiter with burst 1: consecutive reservations are
// always at least 1/requestsPerSecond apart.
func NewStrict(name string, requestsPerSecond float64) *Limiter {
	return &Limiter{
		limiter: rate.NewLimiter(rate.Limit(requestsPerSecond), 1),
		name:    name,
	}
}

// ReserveAt books the next slot as of now and returns how long the caller
// must wait before acting on it. Slots are handed out in call order.
func (l *Limiter) ReserveAt(now time.Time) time.Duration {
	r := l.limiter.ReserveN(now, 1)
	if !r.OK() {
		// Only possible with a zero burst; treat as unthrottled.
		return 0
	}
	return r.DelayFrom(now)
}

// Interval returns the minimum spacing between two requests.
func (l *Limiter) Interval() time.Duration {
	limit := l.limiter.Limit()
	if limit == rate.Inf || limit <= 0 {
		return 0
	}
	return time.Duration(float64(time.Second) / float64(limit))
}

// Name returns the name of this rate limiter.
func (l *Limiter) Name() string {
	return l.name
}
