package cache

import (
	"sync"

	"github.com/lepinkainen/deckhand/internal/card"
	"golang.org/x/sync/singleflight"
)

// RunCache memoizes resolutions for the lifetime of one enrichment run.
// Concurrent requests for the same key share a single fetch.
type RunCache struct {
	mu      sync.RWMutex
	entries map[card.Key]Entry
	group   singleflight.Group
}

// NewRunCache creates an empty run cache.
func NewRunCache() *RunCache {
	return &RunCache{entries: make(map[card.Key]Entry)}
}

// Get returns the memoized entry for key.
func (r *RunCache) Get(key card.Key) (Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[key]
	return e, ok
}

// Set stores entry unless the key is already resolved; the first write wins.
func (r *RunCache) Set(key card.Key, entry Entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.entries[key]; !exists {
		r.entries[key] = entry
	}
}

// Do returns the memoized entry or runs fetch once for all concurrent
// callers of the same key. Only successful fetches are memoized.
func (r *RunCache) Do(key card.Key, fetch func() (Entry, error)) (Entry, bool, error) {
	v, err, shared := r.group.Do(string(key), func() (any, error) {
		if e, ok := r.Get(key); ok {
			return e, nil
		}
		e, err := fetch()
		if err != nil {
			return Entry{}, err
		}
		r.Set(key, e)
		return e, nil
	})
	if err != nil {
		return Entry{}, shared, err
	}
	return v.(Entry), shared, nil
}

// Stats reports the number of memoized keys and their approximate size.
func (r *RunCache) Stats() StoreStats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	st := StoreStats{Entries: len(r.entries)}
	for _, e := range r.entries {
		st.ApproxBytes += e.approxSize()
	}
	return st
}

// Clear forgets every memoized key.
func (r *RunCache) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = make(map[card.Key]Entry)
}
