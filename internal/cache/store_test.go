package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/lepinkainen/deckhand/internal/card"
	"github.com/lepinkainen/deckhand/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	env := testutil.NewTestEnv(t)
	store, err := NewSQLiteStore(env.Path("cache.db"), time.Hour, time.Minute)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func newTestRedisStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisStore(client, "", time.Hour, time.Minute), mr
}

// exerciseSessionStore runs the behaviour every backend shares.
func exerciseSessionStore(t *testing.T, store SessionStore) {
	t.Helper()
	ctx := context.Background()

	_, ok, err := store.Get(ctx, "print:lea/161")
	require.NoError(t, err)
	assert.False(t, ok)

	mv := &card.Card{ID: "bolt", Name: "Lightning Bolt", CMC: 1, Colors: []string{"R"}}
	require.NoError(t, store.Set(ctx, "print:lea/161", Found(mv)))
	require.NoError(t, store.Set(ctx, "name:nonexistent", Missing()))

	e, ok, err := store.Get(ctx, "print:lea/161")
	require.NoError(t, err)
	require.True(t, ok)
	require.NotNil(t, e.Card)
	assert.Equal(t, "Lightning Bolt", e.Card.Name)
	assert.Equal(t, []string{"R"}, e.Card.Colors)

	e, ok, err = store.Get(ctx, "name:nonexistent")
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, e.NotFound)

	st, err := store.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, st.Entries)
	assert.Positive(t, st.ApproxBytes)

	require.NoError(t, store.Clear(ctx))
	st, err = store.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, st.Entries)
}

func TestSessionStores(t *testing.T) {
	t.Run("memory", func(t *testing.T) {
		exerciseSessionStore(t, NewMemoryStore(time.Hour, time.Minute))
	})
	t.Run("sqlite", func(t *testing.T) {
		exerciseSessionStore(t, newTestSQLiteStore(t))
	})
	t.Run("redis", func(t *testing.T) {
		store, _ := newTestRedisStore(t)
		exerciseSessionStore(t, store)
	})
}

func TestSQLiteStore_Expiry(t *testing.T) {
	ctx := context.Background()
	store := newTestSQLiteStore(t)

	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return now }

	require.NoError(t, store.Set(ctx, "found", Found(&card.Card{ID: "a"})))
	require.NoError(t, store.Set(ctx, "missing", Missing()))

	// Past the negative TTL but within the positive one
	now = now.Add(2 * time.Minute)
	_, ok, err := store.Get(ctx, "found")
	require.NoError(t, err)
	assert.True(t, ok)
	_, ok, err = store.Get(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)

	removed, err := store.ClearExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)

	now = now.Add(2 * time.Hour)
	_, ok, err = store.Get(ctx, "found")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSQLiteStore_PersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	env := testutil.NewTestEnv(t)
	path := env.Path("cache.db")

	store, err := NewSQLiteStore(path, 0, 0)
	require.NoError(t, err)
	require.NoError(t, store.Set(ctx, "print:m10/146", Found(&card.Card{ID: "bolt"})))
	require.NoError(t, store.Close())

	reopened, err := NewSQLiteStore(path, 0, 0)
	require.NoError(t, err)
	defer func() { _ = reopened.Close() }()

	e, ok, err := reopened.Get(ctx, "print:m10/146")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "bolt", e.Card.ID)
	assert.Equal(t, path, reopened.Path())
}

func TestRedisStore_TTLs(t *testing.T) {
	ctx := context.Background()
	store, mr := newTestRedisStore(t)

	require.NoError(t, store.Set(ctx, "found", Found(&card.Card{ID: "a"})))
	require.NoError(t, store.Set(ctx, "missing", Missing()))

	assert.Equal(t, time.Hour, mr.TTL(DefaultRedisPrefix+"found"))
	assert.Equal(t, time.Minute, mr.TTL(DefaultRedisPrefix+"missing"))

	mr.FastForward(2 * time.Minute)
	_, ok, err := store.Get(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)
	_, ok, err = store.Get(ctx, "found")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRedisStore_ClearKeepsForeignKeys(t *testing.T) {
	ctx := context.Background()
	store, mr := newTestRedisStore(t)

	require.NoError(t, mr.Set("unrelated", "value"))
	require.NoError(t, store.Set(ctx, "k", Missing()))
	require.NoError(t, store.Clear(ctx))

	assert.True(t, mr.Exists("unrelated"))
	assert.False(t, mr.Exists(DefaultRedisPrefix+"k"))
}

func TestRedisStore_ReadErrorIsReturned(t *testing.T) {
	store, mr := newTestRedisStore(t)
	mr.Close()

	_, _, err := store.Get(context.Background(), "k")
	assert.Error(t, err)
}

func TestMemoryStore_Expiry(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(time.Hour, 10*time.Millisecond)
	require.NoError(t, store.Set(ctx, "missing", Missing()))

	assert.Eventually(t, func() bool {
		_, ok, _ := store.Get(ctx, "missing")
		return !ok
	}, time.Second, 5*time.Millisecond)
}
