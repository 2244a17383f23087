package cache

import (
	"context"
	"time"

	"github.com/lepinkainen/deckhand/internal/card"
	gocache "github.com/patrickmn/go-cache"
)

// MemoryStore is an in-process session store that lives as long as the
// process. Not-found markers expire sooner than cards.
type MemoryStore struct {
	cache       *gocache.Cache
	ttl         time.Duration
	negativeTTL time.Duration
}

// NewMemoryStore creates a MemoryStore. Non-positive TTLs fall back to the
// package defaults.
func NewMemoryStore(ttl, negativeTTL time.Duration) *MemoryStore {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	if negativeTTL <= 0 {
		negativeTTL = NegativeCacheTTL
	}
	return &MemoryStore{
		cache:       gocache.New(ttl, time.Hour),
		ttl:         ttl,
		negativeTTL: negativeTTL,
	}
}

// Get retrieves an entry.
func (m *MemoryStore) Get(_ context.Context, key card.Key) (Entry, bool, error) {
	v, found := m.cache.Get(string(key))
	if !found {
		return Entry{}, false, nil
	}
	e, ok := v.(Entry)
	return e, ok, nil
}

// Set stores an entry with the TTL matching its kind.
func (m *MemoryStore) Set(_ context.Context, key card.Key, entry Entry) error {
	m.cache.Set(string(key), entry, entry.TTL(m.ttl, m.negativeTTL))
	return nil
}

// Stats counts unexpired entries and sums their encoded size.
func (m *MemoryStore) Stats(context.Context) (StoreStats, error) {
	items := m.cache.Items()
	st := StoreStats{Entries: len(items)}
	for _, item := range items {
		if e, ok := item.Object.(Entry); ok {
			st.ApproxBytes += e.approxSize()
		}
	}
	return st, nil
}

// Clear removes all entries.
func (m *MemoryStore) Clear(context.Context) error {
	m.cache.Flush()
	return nil
}
