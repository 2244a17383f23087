package cache

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/lepinkainen/deckhand/internal/card"
	_ "modernc.org/sqlite"
)

// SQLiteStore is a persistent session store in a SQLite file, so repeated
// imports across process runs skip the network.
type SQLiteStore struct {
	db          *sql.DB
	mu          sync.RWMutex
	path        string
	ttl         time.Duration
	negativeTTL time.Duration
	now         func() time.Time
}

// NewSQLiteStore opens (or creates) the cache database at dbPath.
func NewSQLiteStore(dbPath string, ttl, negativeTTL time.Duration) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open cache database: %w", err)
	}

	// Set connection pool settings
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)

	if err := db.Ping(); err != nil {
		closeErr := db.Close()
		return nil, errors.Join(fmt.Errorf("failed to connect to cache database: %w", err), closeErr)
	}

	if _, err := db.Exec(CardCacheSchema); err != nil {
		closeErr := db.Close()
		return nil, errors.Join(fmt.Errorf("failed to create cache table: %w", err), closeErr)
	}

	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	if negativeTTL <= 0 {
		negativeTTL = NegativeCacheTTL
	}

	return &SQLiteStore{
		db:          db,
		path:        dbPath,
		ttl:         ttl,
		negativeTTL: negativeTTL,
		now:         func() time.Time { return time.Now().UTC() },
	}, nil
}

// Path returns the database file path.
func (s *SQLiteStore) Path() string {
	return s.path
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Get retrieves an entry, ignoring rows older than their TTL.
func (s *SQLiteStore) Get(ctx context.Context, key card.Key) (Entry, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var data string
	var notFound bool
	var cachedAt int64
	err := s.db.QueryRowContext(ctx, `
		SELECT data, not_found, cached_at
		FROM card_cache
		WHERE cache_key = ?
	`, string(key)).Scan(&data, &notFound, &cachedAt)
	if err == sql.ErrNoRows {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, fmt.Errorf("failed to query cache: %w", err)
	}

	ttl := s.ttl
	if notFound {
		ttl = s.negativeTTL
	}
	if age := s.now().Sub(time.Unix(0, cachedAt)); age > ttl {
		slog.Debug("Cache expired", "table", CardCacheTable, "key", key, "age", age)
		return Entry{}, false, nil
	}

	var e Entry
	if err := json.Unmarshal([]byte(data), &e); err != nil {
		slog.Warn("Failed to unmarshal cached data, will refetch", "key", key, "error", err)
		return Entry{}, false, nil
	}
	return e, true, nil
}

// Set stores an entry.
func (s *SQLiteStore) Set(ctx context.Context, key card.Key, entry Entry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal cache entry: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err = s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO card_cache (cache_key, data, not_found, cached_at)
		VALUES (?, ?, ?, ?)
	`, string(key), string(data), entry.NotFound, s.now().UnixNano())
	if err != nil {
		return fmt.Errorf("failed to set cache: %w", err)
	}
	return nil
}

// Stats counts rows and sums their payload length.
func (s *SQLiteStore) Stats(ctx context.Context) (StoreStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var st StoreStats
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COALESCE(SUM(LENGTH(data)), 0) FROM card_cache
	`).Scan(&st.Entries, &st.ApproxBytes)
	if err != nil {
		return StoreStats{}, fmt.Errorf("failed to read cache stats: %w", err)
	}
	return st, nil
}

// Clear removes all cache entries.
func (s *SQLiteStore) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	result, err := s.db.ExecContext(ctx, "DELETE FROM card_cache")
	if err != nil {
		return fmt.Errorf("failed to clear cache: %w", err)
	}

	rows, _ := result.RowsAffected()
	slog.Info("Cache cleared", "table", CardCacheTable, "rows_deleted", rows)
	return nil
}

// ClearExpired removes entries older than their TTL.
func (s *SQLiteStore) ClearExpired(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM card_cache
		WHERE (not_found = 0 AND cached_at < ?) OR (not_found = 1 AND cached_at < ?)
	`, now.Add(-s.ttl).UnixNano(), now.Add(-s.negativeTTL).UnixNano())
	if err != nil {
		return 0, fmt.Errorf("failed to clear expired cache: %w", err)
	}

	rows, _ := result.RowsAffected()
	if rows > 0 {
		slog.Info("Cleared expired cache entries", "table", CardCacheTable, "count", rows)
	}
	return rows, nil
}
