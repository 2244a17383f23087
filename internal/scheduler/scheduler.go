// Package scheduler dispatches card lookups under a maximum request rate and
// a maximum number of concurrent requests.
//
// A single dispatcher loop pops entries from the pending queue in order and
// books a rate-limiter slot for each one before starting it, so the spacing
// between dispatches follows submission order no matter how long individual
// requests take. Entries that ask to be retried release their concurrency
// slot, sleep their backoff and are then queued ahead of entries that have
// never been attempted.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/lepinkainen/deckhand/internal/card"
	"github.com/lepinkainen/deckhand/internal/clock"
	"github.com/lepinkainen/deckhand/internal/ratelimit"
)

const (
	// DefaultRatePerSecond is the card service's published limit (~10 req/s).
	DefaultRatePerSecond = 10
	// DefaultMaxConcurrent bounds requests in flight.
	DefaultMaxConcurrent = 4
)

// Config sets the two independent ceilings.
type Config struct {
	RatePerSecond float64
	MaxConcurrent int
}

// Validate checks both ceilings are usable.
func (c Config) Validate() error {
	if c.RatePerSecond <= 0 {
		return fmt.Errorf("rate per second must be positive, got %v", c.RatePerSecond)
	}
	if c.MaxConcurrent < 1 {
		return fmt.Errorf("max concurrent must be at least 1, got %d", c.MaxConcurrent)
	}
	return nil
}

// Verdict is returned by an entry after each attempt.
type Verdict struct {
	// Done marks a terminal outcome.
	Done bool
	// Backoff is how long to wait before the next attempt when !Done.
	Backoff time.Duration
}

// Entry is a pending lookup.
type Entry struct {
	Key   card.Key
	Label string
	// Attempt is the number of attempts started so far.
	Attempt int
	// Run performs one attempt. attempt is 1-based.
	Run func(ctx context.Context, attempt int) Verdict
}

// Stats is a snapshot of the scheduler's counters.
type Stats struct {
	Dispatched    int
	Retries       int
	Paced         int
	Pending       int
	QueuedRetries int
	InFlight      int
	BackingOff    int
	PeakInFlight  int
}

// Scheduler owns the pending queue. Run must not be called concurrently.
type Scheduler struct {
	cfg     Config
	clock   clock.Clock
	limiter *ratelimit.Limiter
	logger  *slog.Logger

	mu         sync.Mutex
	pending    []*Entry
	retries    []*Entry
	inFlight   int
	backingOff int
	abandoned  []*Entry
	stats      Stats
	wake       chan struct{}
}

// New creates a Scheduler. A nil clock means the wall clock.
func New(cfg Config, clk clock.Clock, logger *slog.Logger) (*Scheduler, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if clk == nil {
		clk = clock.Real{}
	}
	if logger == nil {
		logger = slog.Default()
	}

	limiter := ratelimit.NewStrict("card-service", cfg.RatePerSecond)
	logger.Debug("Scheduler configured",
		"limiter", limiter.Name(), "interval", limiter.Interval(), "max_concurrent", cfg.MaxConcurrent)

	return &Scheduler{
		cfg:     cfg,
		clock:   clk,
		limiter: limiter,
		logger:  logger,
		wake:    make(chan struct{}, 1),
	}, nil
}

// Run queues entries behind anything already pending and blocks until every
// entry has reached a terminal verdict or been abandoned. Entries are
// abandoned only when ctx is cancelled before they could finish; they are
// returned so the caller can resolve them.
func (s *Scheduler) Run(ctx context.Context, entries []*Entry) []*Entry {
	s.mu.Lock()
	s.pending = append(s.pending, entries...)
	s.abandoned = nil
	s.mu.Unlock()

	var wg sync.WaitGroup
	for {
		s.mu.Lock()
		if ctx.Err() != nil {
			s.abandonQueuedLocked()
		}
		if s.idleLocked() {
			s.mu.Unlock()
			break
		}

		if next := s.popLocked(); next != nil {
			s.inFlight++
			if s.inFlight > s.stats.PeakInFlight {
				s.stats.PeakInFlight = s.inFlight
			}
			delay := s.limiter.ReserveAt(s.clock.Now())
			s.mu.Unlock()

			if err := s.clock.Sleep(ctx, delay); err != nil {
				s.mu.Lock()
				s.inFlight--
				s.abandoned = append(s.abandoned, next)
				s.mu.Unlock()
				continue
			}

			wg.Add(1)
			go s.execute(ctx, next, &wg)
			continue
		}
		s.mu.Unlock()

		done := ctx.Done()
		if ctx.Err() != nil {
			done = nil
		}
		select {
		case <-s.wake:
		case <-done:
		}
	}
	wg.Wait()

	s.mu.Lock()
	defer s.mu.Unlock()
	abandoned := s.abandoned
	s.abandoned = nil
	if len(abandoned) > 0 {
		s.logger.Debug("Scheduler abandoned entries", "count", len(abandoned), "error", ctx.Err())
	}
	return abandoned
}

// Pace books an extra rate-limiter slot for a follow-up request made by an
// entry that is already running, and sleeps until it is due.
func (s *Scheduler) Pace(ctx context.Context) error {
	s.mu.Lock()
	delay := s.limiter.ReserveAt(s.clock.Now())
	s.stats.Paced++
	s.mu.Unlock()

	return s.clock.Sleep(ctx, delay)
}

// Stats returns a snapshot of the counters.
func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.stats
	st.Pending = len(s.pending)
	st.QueuedRetries = len(s.retries)
	st.InFlight = s.inFlight
	st.BackingOff = s.backingOff
	return st
}

// Reset drops every queued entry and zeroes the counters. Entries already
// running are not interrupted.
func (s *Scheduler) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.pending = nil
	s.retries = nil
	s.stats = Stats{}
}

func (s *Scheduler) execute(ctx context.Context, e *Entry, wg *sync.WaitGroup) {
	defer wg.Done()

	e.Attempt++
	verdict := s.attempt(ctx, e)

	s.mu.Lock()
	s.inFlight--
	s.stats.Dispatched++
	if verdict.Done {
		s.mu.Unlock()
		s.signal()
		return
	}
	s.backingOff++
	s.stats.Retries++
	s.mu.Unlock()
	s.signal()

	s.logger.Debug("Backing off before retry", "key", e.Key, "label", e.Label, "attempt", e.Attempt, "delay", verdict.Backoff)
	err := s.clock.Sleep(ctx, verdict.Backoff)

	s.mu.Lock()
	s.backingOff--
	if err != nil {
		s.abandoned = append(s.abandoned, e)
	} else {
		s.retries = append(s.retries, e)
	}
	s.mu.Unlock()
	s.signal()
}

// attempt runs one attempt and turns a panic into a terminal verdict so a
// single bad entry cannot take the dispatcher down.
func (s *Scheduler) attempt(ctx context.Context, e *Entry) (v Verdict) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Lookup panicked", "key", e.Key, "label", e.Label, "panic", r)
			v = Verdict{Done: true}
		}
	}()
	return e.Run(ctx, e.Attempt)
}

func (s *Scheduler) popLocked() *Entry {
	if s.inFlight >= s.cfg.MaxConcurrent {
		return nil
	}
	if len(s.retries) > 0 {
		e := s.retries[0]
		s.retries = s.retries[1:]
		return e
	}
	if len(s.pending) > 0 {
		e := s.pending[0]
		s.pending = s.pending[1:]
		return e
	}
	return nil
}

func (s *Scheduler) abandonQueuedLocked() {
	s.abandoned = append(s.abandoned, s.retries...)
	s.abandoned = append(s.abandoned, s.pending...)
	s.retries = nil
	s.pending = nil
}

func (s *Scheduler) idleLocked() bool {
	return len(s.pending) == 0 && len(s.retries) == 0 && s.inFlight == 0 && s.backingOff == 0
}

func (s *Scheduler) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}
