// Package cache implements the two cache tiers of the enrichment pipeline:
// a per-run memo that collapses concurrent duplicate lookups, and a session
// store that survives across runs (memory, SQLite or Redis backed).
package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/lepinkainen/deckhand/internal/card"
)

const (
	// DefaultCacheTTL is the default time-to-live for resolved cards (30 days)
	DefaultCacheTTL = 720 * time.Hour
	// NegativeCacheTTL is the TTL for "not found" markers (7 days)
	NegativeCacheTTL = 168 * time.Hour
)

// Entry is the resolution of one key: a canonical card or a not-found
// marker. Entries are immutable once written; the Card must not be mutated.
// Quantities are never cached.
type Entry struct {
	Card     *card.Card `json:"card,omitempty"`
	NotFound bool       `json:"not_found,omitempty"`
	CachedAt time.Time  `json:"cached_at"`
}

// Found wraps a canonical card.
func Found(c *card.Card) Entry {
	return Entry{Card: c, CachedAt: time.Now().UTC()}
}

// Missing is the permanent not-found marker.
func Missing() Entry {
	return Entry{NotFound: true, CachedAt: time.Now().UTC()}
}

// TTL picks the positive or negative TTL for the entry.
func (e Entry) TTL(positive, negative time.Duration) time.Duration {
	if e.NotFound {
		return negative
	}
	return positive
}

func (e Entry) approxSize() int64 {
	data, err := json.Marshal(e)
	if err != nil {
		return 0
	}
	return int64(len(data))
}

// StoreStats describes the contents of a cache tier.
type StoreStats struct {
	Entries     int   `json:"entries"`
	ApproxBytes int64 `json:"approx_bytes"`
}

// SessionStore is the cross-run tier. Implementations must be safe for
// concurrent use.
type SessionStore interface {
	// Get returns the entry for key. A missing or expired entry is not an error.
	Get(ctx context.Context, key card.Key) (Entry, bool, error)
	// Set writes the entry, replacing any previous one.
	Set(ctx context.Context, key card.Key, entry Entry) error
	// Stats reports the entry count and approximate size.
	Stats(ctx context.Context) (StoreStats, error)
	// Clear removes every entry.
	Clear(ctx context.Context) error
}
