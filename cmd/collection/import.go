package collection

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/lepinkainen/deckhand/internal/card"
	"github.com/lepinkainen/deckhand/internal/config"
	"github.com/lepinkainen/deckhand/internal/datastore"
	"github.com/lepinkainen/deckhand/internal/enrichment"
	"github.com/lepinkainen/deckhand/internal/fileutil"
)

// ImportParams describes one import invocation.
type ImportParams struct {
	Format Format
	Input  string
	// Collection names the stored rows; defaults to the input file name.
	Collection string
	JSONOutput string
	Overwrite  bool
	NoStore    bool
}

// Package-level hooks, replaced in tests.
var (
	stdout       io.Writer = os.Stdout
	loadConfig             = config.Load
	newDatastore           = defaultDatastore
)

// ImportWithParams parses the input file, enriches every record and writes
// the result to JSON and the datastore.
func ImportWithParams(ctx context.Context, params ImportParams) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	records, err := ParseFile(params.Format, params.Input)
	if err != nil {
		return err
	}
	slog.Info("Parsed import file", "format", params.Format, "file", params.Input, "records", len(records))

	p, err := NewPipeline(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := p.Close(); err != nil {
			slog.Warn("Failed to close card cache", "error", err)
		}
	}()

	enriched, report := p.Enricher.Enrich(ctx, records, enrichment.EnrichOptions{
		Progress: logProgress,
	})

	collection := params.Collection
	if collection == "" {
		collection = fileutil.BaseName(params.Input)
	}
	if err := RenderSummary(stdout, "Imported "+collection, report); err != nil {
		return fmt.Errorf("failed to write summary: %w", err)
	}

	if params.JSONOutput != "" {
		if _, err := fileutil.WriteJSONFile(enriched, params.JSONOutput, params.Overwrite); err != nil {
			return err
		}
	}

	if !params.NoStore && cfg.Datastore.Enabled {
		if err := storeCollection(cfg.Datastore, collection, enriched); err != nil {
			return err
		}
	}

	if report.Stopped {
		return ctx.Err()
	}
	return nil
}

func storeCollection(cfg config.DatastoreConfig, collection string, records []card.Record) error {
	return datastore.WriteCollection(newDatastore(cfg), datastore.DefaultDatabase, collection, records)
}

func defaultDatastore(cfg config.DatastoreConfig) datastore.Store {
	if cfg.DatasetteURL != "" {
		return datastore.NewDatasetteClient(cfg.DatasetteURL, cfg.DatasetteToken)
	}
	return datastore.NewSQLiteStore(cfg.DBFile)
}

func logProgress(processed, total int, stats enrichment.Stats) error {
	slog.Info("Enrichment progress",
		"processed", processed,
		"total", total,
		"enriched", stats.Enriched,
		"not_found", stats.NotFound,
		"failed", stats.Failed,
		"cache_hits", stats.CacheHits,
	)
	return nil
}

// ShowCacheStats prints the session cache entry count and size.
func ShowCacheStats(ctx context.Context) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	p, err := NewPipeline(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = p.Close() }()

	stats, err := p.Enricher.CacheStats(ctx)
	if err != nil {
		return err
	}
	return RenderCacheStats(stdout, cfg.Cache.Backend, stats.Session)
}

// ResetCache clears the session cache.
func ResetCache(ctx context.Context) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	p, err := NewPipeline(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = p.Close() }()

	if err := p.Enricher.Reset(ctx); err != nil {
		return err
	}
	slog.Info("Card cache cleared", "backend", cfg.Cache.Backend)
	return nil
}
