package cache

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/lepinkainen/deckhand/internal/card"
	"github.com/lepinkainen/deckhand/internal/errors"
)

// Tier says where a resolution came from.
type Tier int

const (
	// TierNone means the value was fetched from the card service.
	TierNone Tier = iota
	// TierRun means the per-run memo answered.
	TierRun
	// TierSession means the cross-run session store answered.
	TierSession
)

func (t Tier) String() string {
	switch t {
	case TierRun:
		return "run"
	case TierSession:
		return "session"
	default:
		return "none"
	}
}

// FetchFunc fetches one card from the card service.
type FetchFunc func() (*card.Card, error)

// HitStats counts lookups per tier.
type HitStats struct {
	RunHits     int64 `json:"run_hits"`
	SessionHits int64 `json:"session_hits"`
	Misses      int64 `json:"misses"`
}

// Total is the number of lookups answered by any cache tier.
func (h HitStats) Total() int64 {
	return h.RunHits + h.SessionHits
}

// Layers is the two-tier read-through view used by one enrichment run. The
// run tier is owned by the Layers; the session store is shared.
type Layers struct {
	run     *RunCache
	session SessionStore
	logger  *slog.Logger

	runHits     atomic.Int64
	sessionHits atomic.Int64
	misses      atomic.Int64
}

// NewLayers creates a fresh run tier on top of session. A nil session store
// disables the cross-run tier.
func NewLayers(session SessionStore, logger *slog.Logger) *Layers {
	if logger == nil {
		logger = slog.Default()
	}
	return &Layers{
		run:     NewRunCache(),
		session: session,
		logger:  logger,
	}
}

// Run exposes the per-run tier.
func (l *Layers) Run() *RunCache {
	return l.run
}

// Lookup checks the run tier, then the session tier. Session hits are
// promoted into the run tier. Session errors degrade to a miss.
func (l *Layers) Lookup(ctx context.Context, key card.Key) (Entry, Tier, bool) {
	if e, ok := l.run.Get(key); ok {
		l.runHits.Add(1)
		l.logger.Debug("Cache hit", "tier", TierRun, "key", key)
		return e, TierRun, true
	}

	if l.session != nil {
		e, ok, err := l.session.Get(ctx, key)
		if err != nil {
			l.logger.Warn("Session cache read failed, treating as miss", "key", key, "error", err)
		} else if ok {
			l.run.Set(key, e)
			l.sessionHits.Add(1)
			l.logger.Debug("Cache hit", "tier", TierSession, "key", key)
			return e, TierSession, true
		}
	}

	return Entry{}, TierNone, false
}

// GetOrFetch resolves key from the caches or, on a miss, by calling fetch.
// A card or a not-found answer is written to both tiers before returning;
// any other error is returned as is and nothing is cached.
func (l *Layers) GetOrFetch(ctx context.Context, key card.Key, fetch FetchFunc) (Entry, Tier, error) {
	if e, tier, ok := l.Lookup(ctx, key); ok {
		return e, tier, nil
	}

	fetched := false
	e, _, err := l.run.Do(key, func() (Entry, error) {
		fetched = true
		l.misses.Add(1)
		l.logger.Debug("Cache miss, fetching card", "key", key)

		c, fetchErr := fetch()
		switch {
		case fetchErr == nil && c == nil:
			return Entry{}, fmt.Errorf("fetch for %s returned no card and no error", key)
		case fetchErr == nil:
			return l.writeBack(ctx, key, Found(c)), nil
		case errors.IsNotFoundError(fetchErr):
			return l.writeBack(ctx, key, Missing()), nil
		default:
			return Entry{}, fetchErr
		}
	})
	if err != nil {
		return Entry{}, TierNone, err
	}
	if !fetched {
		// Another caller resolved the key while we waited.
		l.runHits.Add(1)
		return e, TierRun, nil
	}
	return e, TierNone, nil
}

// Seed stores an already-resolved entry under an additional key, so that a
// card found by name can later be found by its printing.
func (l *Layers) Seed(ctx context.Context, key card.Key, entry Entry) {
	if key == "" {
		return
	}
	if _, ok := l.run.Get(key); ok {
		return
	}
	l.writeBack(ctx, key, entry)
}

// Hits returns the hit counters of this run.
func (l *Layers) Hits() HitStats {
	return HitStats{
		RunHits:     l.runHits.Load(),
		SessionHits: l.sessionHits.Load(),
		Misses:      l.misses.Load(),
	}
}

func (l *Layers) writeBack(ctx context.Context, key card.Key, e Entry) Entry {
	l.run.Set(key, e)
	if l.session == nil {
		return e
	}
	if err := l.session.Set(ctx, key, e); err != nil {
		// Caching failure shouldn't stop the lookup
		l.logger.Warn("Failed to write session cache", "key", key, "error", err)
	} else {
		l.logger.Debug("Card cached", "key", key, "not_found", e.NotFound)
	}
	return e
}
