package testutil

import (
	"testing"

	"github.com/spf13/viper"
)

// ResetConfig resets viper now and again when the test completes.
func ResetConfig(t *testing.T) {
	t.Helper()

	viper.Reset()
	t.Cleanup(viper.Reset)
}

// SetViperValue sets a viper configuration value and schedules cleanup.
func SetViperValue(t *testing.T, key string, value any) {
	t.Helper()

	oldValue := viper.Get(key)
	hadValue := viper.IsSet(key)

	viper.Set(key, value)

	t.Cleanup(func() {
		if hadValue {
			viper.Set(key, oldValue)
		}
		// viper has no Unset, so a previously unset key stays set
	})
}

// SetupTestCache points the session cache at a SQLite file inside env and
// returns its path.
func SetupTestCache(t *testing.T, env *TestEnv) string {
	t.Helper()

	dbPath := env.Path("cache", "test-cache.db")
	env.WriteFile("cache/.keep", nil)

	SetViperValue(t, "cache.backend", "sqlite")
	SetViperValue(t, "cache.dbfile", dbPath)
	SetViperValue(t, "cache.ttl", "24h")

	return dbPath
}

// SetupTestDatastore points the collection store at a SQLite file inside env
// and returns its path.
func SetupTestDatastore(t *testing.T, env *TestEnv) string {
	t.Helper()

	dbPath := env.Path("collection.db")
	SetViperValue(t, "datastore.dbfile", dbPath)
	return dbPath
}

// SetupFastPipeline removes pacing and backoff delays and points the card
// service at baseURL.
func SetupFastPipeline(t *testing.T, baseURL string) {
	t.Helper()

	SetViperValue(t, "service.baseurl", baseURL)
	SetViperValue(t, "ratelimit.persecond", 1000.0)
	SetViperValue(t, "retry.base", "1ms")
	SetViperValue(t, "retry.maxdelay", "5ms")
	SetViperValue(t, "batch.pause", "0s")
}
