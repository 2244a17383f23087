package cache

// CardCacheTable is the SQLite table backing the session store.
const CardCacheTable = "card_cache"

// CardCacheSchema defines the session cache table. One row per key; the
// not_found flag selects the negative TTL on read. cached_at is Unix nanoseconds.
const CardCacheSchema = `
CREATE TABLE IF NOT EXISTS card_cache (
	cache_key TEXT PRIMARY KEY NOT NULL,
	data TEXT NOT NULL,
	not_found INTEGER NOT NULL DEFAULT 0,
	cached_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_card_cache_cached_at ON card_cache(cached_at);
`
