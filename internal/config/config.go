// Package config loads deckhand settings from viper into a typed struct.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Cache backends.
const (
	CacheBackendSQLite = "sqlite"
	CacheBackendMemory = "memory"
	CacheBackendRedis  = "redis"
)

// EnvPrefix is the prefix of environment overrides, e.g. DECKHAND_RATELIMIT_PERSECOND.
const EnvPrefix = "DECKHAND"

// Config holds every runtime setting.
type Config struct {
	Service   ServiceConfig
	RateLimit RateLimitConfig
	Retry     RetryConfig
	Batch     BatchConfig
	Cache     CacheConfig
	Breaker   BreakerConfig
	Datastore DatastoreConfig
}

// ServiceConfig describes the card service endpoint.
type ServiceConfig struct {
	BaseURL   string
	UserAgent string
	Timeout   time.Duration
}

// RateLimitConfig sets the outbound ceilings.
type RateLimitConfig struct {
	PerSecond   float64
	Concurrency int
}

// RetryConfig sets the backoff policy.
type RetryConfig struct {
	Base        time.Duration
	Multiplier  float64
	MaxAttempts int
	MaxDelay    time.Duration
}

// BatchConfig sets chunking of unique lookups.
type BatchConfig struct {
	Size  int
	Pause time.Duration
}

// CacheConfig selects and configures the session cache.
type CacheConfig struct {
	Backend       string
	DBFile        string
	TTL           time.Duration
	NegativeTTL   time.Duration
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisPrefix   string
}

// BreakerConfig configures the circuit breaker around the card service.
type BreakerConfig struct {
	Enabled     bool
	MaxFailures uint32
	Timeout     time.Duration
}

// DatastoreConfig configures where the enriched collection is stored.
type DatastoreConfig struct {
	Enabled bool
	DBFile  string
	// DatasetteURL switches to the remote Datasette insert API when set.
	DatasetteURL   string
	DatasetteToken string
}

// SetDefaults registers every default with viper.
func SetDefaults() {
	viper.SetDefault("service.baseurl", "https://api.scryfall.com")
	viper.SetDefault("service.useragent", "deckhand/1.0")
	viper.SetDefault("service.timeout", "15s")

	viper.SetDefault("ratelimit.persecond", 10.0)
	viper.SetDefault("ratelimit.concurrency", 4)

	viper.SetDefault("retry.base", "100ms")
	viper.SetDefault("retry.multiplier", 2.0)
	viper.SetDefault("retry.maxattempts", 4)
	viper.SetDefault("retry.maxdelay", "5s")

	viper.SetDefault("batch.size", 75)
	viper.SetDefault("batch.pause", "50ms")

	viper.SetDefault("cache.backend", CacheBackendSQLite)
	viper.SetDefault("cache.dbfile", "./cache.db")
	viper.SetDefault("cache.ttl", "720h")         // 30 days
	viper.SetDefault("cache.negativettl", "168h") // 7 days
	viper.SetDefault("cache.redis.addr", "localhost:6379")
	viper.SetDefault("cache.redis.password", "")
	viper.SetDefault("cache.redis.db", 0)
	viper.SetDefault("cache.redis.prefix", "deckhand:card:")

	viper.SetDefault("breaker.enabled", true)
	viper.SetDefault("breaker.maxfailures", 5)
	viper.SetDefault("breaker.timeout", "30s")

	viper.SetDefault("datastore.enabled", true)
	viper.SetDefault("datastore.dbfile", "./deckhand.db")
	viper.SetDefault("datastore.datasetteurl", "")
	viper.SetDefault("datastore.datasettetoken", "")
}

// BindEnv enables DECKHAND_* environment overrides for every key.
func BindEnv() {
	viper.SetEnvPrefix(EnvPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()
}

// Load reads the current viper state into a Config and validates it.
func Load() (Config, error) {
	cfg := Config{
		Service: ServiceConfig{
			BaseURL:   viper.GetString("service.baseurl"),
			UserAgent: viper.GetString("service.useragent"),
			Timeout:   viper.GetDuration("service.timeout"),
		},
		RateLimit: RateLimitConfig{
			PerSecond:   viper.GetFloat64("ratelimit.persecond"),
			Concurrency: viper.GetInt("ratelimit.concurrency"),
		},
		Retry: RetryConfig{
			Base:        viper.GetDuration("retry.base"),
			Multiplier:  viper.GetFloat64("retry.multiplier"),
			MaxAttempts: viper.GetInt("retry.maxattempts"),
			MaxDelay:    viper.GetDuration("retry.maxdelay"),
		},
		Batch: BatchConfig{
			Size:  viper.GetInt("batch.size"),
			Pause: viper.GetDuration("batch.pause"),
		},
		Cache: CacheConfig{
			Backend:       strings.ToLower(viper.GetString("cache.backend")),
			DBFile:        viper.GetString("cache.dbfile"),
			TTL:           viper.GetDuration("cache.ttl"),
			NegativeTTL:   viper.GetDuration("cache.negativettl"),
			RedisAddr:     viper.GetString("cache.redis.addr"),
			RedisPassword: viper.GetString("cache.redis.password"),
			RedisDB:       viper.GetInt("cache.redis.db"),
			RedisPrefix:   viper.GetString("cache.redis.prefix"),
		},
		Breaker: BreakerConfig{
			Enabled:     viper.GetBool("breaker.enabled"),
			MaxFailures: viper.GetUint32("breaker.maxfailures"),
			Timeout:     viper.GetDuration("breaker.timeout"),
		},
		Datastore: DatastoreConfig{
			Enabled:        viper.GetBool("datastore.enabled"),
			DBFile:         viper.GetString("datastore.dbfile"),
			DatasetteURL:   viper.GetString("datastore.datasetteurl"),
			DatasetteToken: viper.GetString("datastore.datasettetoken"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects settings the pipeline cannot run with.
func (c Config) Validate() error {
	if c.Service.BaseURL == "" {
		return fmt.Errorf("service.baseurl must not be empty")
	}
	if c.RateLimit.PerSecond <= 0 {
		return fmt.Errorf("ratelimit.persecond must be positive, got %v", c.RateLimit.PerSecond)
	}
	if c.RateLimit.Concurrency < 1 {
		return fmt.Errorf("ratelimit.concurrency must be at least 1, got %d", c.RateLimit.Concurrency)
	}
	if c.Retry.MaxAttempts < 1 {
		return fmt.Errorf("retry.maxattempts must be at least 1, got %d", c.Retry.MaxAttempts)
	}
	if c.Retry.Multiplier < 1 {
		return fmt.Errorf("retry.multiplier must be at least 1, got %v", c.Retry.Multiplier)
	}
	if c.Retry.Base < 0 {
		return fmt.Errorf("retry.base must not be negative, got %v", c.Retry.Base)
	}
	if c.Batch.Size < 1 {
		return fmt.Errorf("batch.size must be at least 1, got %d", c.Batch.Size)
	}
	if c.Batch.Pause < 0 {
		return fmt.Errorf("batch.pause must not be negative, got %v", c.Batch.Pause)
	}

	switch c.Cache.Backend {
	case CacheBackendSQLite:
		if c.Cache.DBFile == "" {
			return fmt.Errorf("cache.dbfile is required for the sqlite cache backend")
		}
	case CacheBackendRedis:
		if c.Cache.RedisAddr == "" {
			return fmt.Errorf("cache.redis.addr is required for the redis cache backend")
		}
	case CacheBackendMemory:
	default:
		return fmt.Errorf("unknown cache.backend %q (want sqlite, memory or redis)", c.Cache.Backend)
	}

	return nil
}
