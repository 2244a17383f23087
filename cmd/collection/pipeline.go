package collection

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/lepinkainen/deckhand/internal/cache"
	"github.com/lepinkainen/deckhand/internal/config"
	"github.com/lepinkainen/deckhand/internal/enrichment"
	"github.com/lepinkainen/deckhand/internal/retry"
	"github.com/lepinkainen/deckhand/internal/scheduler"
	"github.com/lepinkainen/deckhand/internal/scryfall"
)

// Pipeline holds the components wired from one configuration.
type Pipeline struct {
	Config   config.Config
	Store    cache.SessionStore
	Client   *scryfall.Client
	Enricher *enrichment.Enricher

	closers []func() error
}

// NewPipeline opens the session cache and builds the card client and enricher.
func NewPipeline(ctx context.Context, cfg config.Config) (*Pipeline, error) {
	p := &Pipeline{Config: cfg}

	store, err := p.openSessionStore(ctx)
	if err != nil {
		return nil, err
	}
	p.Store = store

	opts := []scryfall.Option{
		scryfall.WithBaseURL(cfg.Service.BaseURL),
		scryfall.WithUserAgent(cfg.Service.UserAgent),
		scryfall.WithHTTPClient(&http.Client{Timeout: cfg.Service.Timeout}),
	}
	if cfg.Breaker.Enabled {
		opts = append(opts, scryfall.WithBreaker(scryfall.NewBreaker(scryfall.BreakerSettings{
			MaxFailures: cfg.Breaker.MaxFailures,
			OpenTimeout: cfg.Breaker.Timeout,
		})))
	}
	p.Client = scryfall.NewClient(opts...)

	enricher, err := enrichment.New(p.Client, store,
		enrichment.WithSchedulerConfig(scheduler.Config{
			RatePerSecond: cfg.RateLimit.PerSecond,
			MaxConcurrent: cfg.RateLimit.Concurrency,
		}),
		enrichment.WithRetryPolicy(retry.Policy{
			BaseDelay:   cfg.Retry.Base,
			Multiplier:  cfg.Retry.Multiplier,
			MaxAttempts: cfg.Retry.MaxAttempts,
			MaxDelay:    cfg.Retry.MaxDelay,
		}),
		enrichment.WithBatchSize(cfg.Batch.Size),
		enrichment.WithChunkPause(cfg.Batch.Pause),
	)
	if err != nil {
		_ = p.Close()
		return nil, fmt.Errorf("failed to create enricher: %w", err)
	}
	p.Enricher = enricher

	// Fallback lookups share the scheduler's request budget
	p.Client.SetPacer(enricher.Scheduler())

	return p, nil
}

func (p *Pipeline) openSessionStore(ctx context.Context) (cache.SessionStore, error) {
	c := p.Config.Cache

	switch c.Backend {
	case config.CacheBackendMemory:
		return cache.NewMemoryStore(c.TTL, c.NegativeTTL), nil

	case config.CacheBackendRedis:
		client, err := cache.DialRedis(ctx, c.RedisAddr, c.RedisPassword, c.RedisDB)
		if err != nil {
			return nil, err
		}
		p.closers = append(p.closers, client.Close)
		return cache.NewRedisStore(client, c.RedisPrefix, c.TTL, c.NegativeTTL), nil

	case config.CacheBackendSQLite:
		store, err := cache.NewSQLiteStore(c.DBFile, c.TTL, c.NegativeTTL)
		if err != nil {
			return nil, err
		}
		p.closers = append(p.closers, store.Close)
		if removed, err := store.ClearExpired(ctx); err != nil {
			slog.Warn("Failed to prune expired cache entries", "error", err)
		} else if removed > 0 {
			slog.Debug("Pruned expired cache entries", "count", removed)
		}
		return store, nil
	}

	return nil, fmt.Errorf("unknown cache backend %q", c.Backend)
}

// Close releases the session cache.
func (p *Pipeline) Close() error {
	var errs []error
	for i := len(p.closers) - 1; i >= 0; i-- {
		if err := p.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	p.closers = nil
	return errors.Join(errs...)
}
