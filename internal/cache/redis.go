package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/lepinkainen/deckhand/internal/card"
)

// DefaultRedisPrefix namespaces the session cache keys.
const DefaultRedisPrefix = "deckhand:card:"

// RedisStore is a session store shared between processes through Redis.
// Expiry is delegated to Redis key TTLs.
type RedisStore struct {
	client      *redis.Client
	keyPrefix   string
	ttl         time.Duration
	negativeTTL time.Duration
}

// NewRedisStore wraps an existing client. An empty prefix uses
// DefaultRedisPrefix.
func NewRedisStore(client *redis.Client, keyPrefix string, ttl, negativeTTL time.Duration) *RedisStore {
	if keyPrefix == "" {
		keyPrefix = DefaultRedisPrefix
	}
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	if negativeTTL <= 0 {
		negativeTTL = NegativeCacheTTL
	}
	return &RedisStore{
		client:      client,
		keyPrefix:   keyPrefix,
		ttl:         ttl,
		negativeTTL: negativeTTL,
	}
}

// DialRedis connects to addr and verifies the connection.
func DialRedis(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", addr, err)
	}
	return client, nil
}

// Get retrieves an entry.
func (r *RedisStore) Get(ctx context.Context, key card.Key) (Entry, bool, error) {
	val, err := r.client.Get(ctx, r.keyPrefix+string(key)).Result()
	if err == redis.Nil {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, fmt.Errorf("failed to read redis cache: %w", err)
	}

	var e Entry
	if err := json.Unmarshal([]byte(val), &e); err != nil {
		slog.Warn("Failed to unmarshal cached data, will refetch", "key", key, "error", err)
		return Entry{}, false, nil
	}
	return e, true, nil
}

// Set stores an entry with the TTL matching its kind.
func (r *RedisStore) Set(ctx context.Context, key card.Key, entry Entry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal cache entry: %w", err)
	}
	if err := r.client.Set(ctx, r.keyPrefix+string(key), data, entry.TTL(r.ttl, r.negativeTTL)).Err(); err != nil {
		return fmt.Errorf("failed to write redis cache: %w", err)
	}
	return nil
}

// Stats scans the prefix and sums value lengths.
func (r *RedisStore) Stats(ctx context.Context) (StoreStats, error) {
	var st StoreStats
	iter := r.client.Scan(ctx, 0, r.keyPrefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		n, err := r.client.StrLen(ctx, iter.Val()).Result()
		if err != nil {
			return StoreStats{}, fmt.Errorf("failed to read redis value size: %w", err)
		}
		st.Entries++
		st.ApproxBytes += n
	}
	if err := iter.Err(); err != nil {
		return StoreStats{}, fmt.Errorf("failed to scan redis cache: %w", err)
	}
	return st, nil
}

// Clear deletes every key under the prefix.
func (r *RedisStore) Clear(ctx context.Context) error {
	var deleted int64
	iter := r.client.Scan(ctx, 0, r.keyPrefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		n, err := r.client.Del(ctx, iter.Val()).Result()
		if err != nil {
			return fmt.Errorf("failed to delete redis key: %w", err)
		}
		deleted += n
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("failed to scan redis cache: %w", err)
	}
	slog.Info("Cache cleared", "backend", "redis", "keys_deleted", deleted)
	return nil
}
