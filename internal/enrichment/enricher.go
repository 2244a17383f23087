// Package enrichment fills in canonical card data on imported records.
//
// Records are deduplicated by key, each unique key is resolved once through
// the cache tiers or, on a miss, through the rate-limited scheduler with
// retries, and the result is merged back into every record of the group.
// The output always has the same length and order as the input.
package enrichment

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lepinkainen/deckhand/internal/cache"
	"github.com/lepinkainen/deckhand/internal/card"
	"github.com/lepinkainen/deckhand/internal/clock"
	"github.com/lepinkainen/deckhand/internal/errors"
	"github.com/lepinkainen/deckhand/internal/retry"
	"github.com/lepinkainen/deckhand/internal/scheduler"
)

const (
	// DefaultBatchSize is the number of unique lookups submitted per chunk.
	DefaultBatchSize = 75
	// DefaultChunkPause separates chunks so their edges do not burst.
	DefaultChunkPause = 50 * time.Millisecond
)

// Fetcher resolves a record against the card service.
type Fetcher interface {
	Fetch(ctx context.Context, rec card.Record) (*card.Card, error)
}

// ProgressFunc is called after every chunk with the number of processed and
// total records. Returning a StopProcessingError stops further chunks.
type ProgressFunc func(processed, total int, stats Stats) error

// EnrichOptions configures a single Enrich call.
type EnrichOptions struct {
	// BatchSize overrides the enricher's chunk size when positive.
	BatchSize int
	Progress  ProgressFunc
}

// Enricher drives enrichment runs. The session store is shared across runs;
// each run gets a fresh run tier. Enrich calls are serialized.
type Enricher struct {
	fetcher    Fetcher
	store      cache.SessionStore
	sched      *scheduler.Scheduler
	schedCfg   scheduler.Config
	policy     retry.Policy
	clock      clock.Clock
	logger     *slog.Logger
	batchSize  int
	chunkPause time.Duration

	runMu  sync.Mutex
	mu     sync.Mutex
	layers *cache.Layers
}

// Option configures an Enricher.
type Option func(*Enricher)

// WithClock sets the clock used for pacing, backoff and chunk pauses.
func WithClock(c clock.Clock) Option {
	return func(e *Enricher) {
		if c != nil {
			e.clock = c
		}
	}
}

// WithSchedulerConfig sets the rate and concurrency ceilings.
func WithSchedulerConfig(cfg scheduler.Config) Option {
	return func(e *Enricher) {
		e.schedCfg = cfg
	}
}

// WithRetryPolicy sets the backoff policy.
func WithRetryPolicy(p retry.Policy) Option {
	return func(e *Enricher) {
		e.policy = p
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Enricher) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithBatchSize sets the default chunk size.
func WithBatchSize(n int) Option {
	return func(e *Enricher) {
		if n > 0 {
			e.batchSize = n
		}
	}
}

// WithChunkPause sets the pause between chunks. Zero disables it.
func WithChunkPause(d time.Duration) Option {
	return func(e *Enricher) {
		if d >= 0 {
			e.chunkPause = d
		}
	}
}

// New creates an Enricher. A nil store disables the cross-run cache tier.
func New(fetcher Fetcher, store cache.SessionStore, opts ...Option) (*Enricher, error) {
	if fetcher == nil {
		return nil, fmt.Errorf("enrichment: fetcher is required")
	}

	e := &Enricher{
		fetcher: fetcher,
		store:   store,
		schedCfg: scheduler.Config{
			RatePerSecond: scheduler.DefaultRatePerSecond,
			MaxConcurrent: scheduler.DefaultMaxConcurrent,
		},
		policy:     retry.DefaultPolicy(),
		clock:      clock.Real{},
		logger:     slog.Default(),
		batchSize:  DefaultBatchSize,
		chunkPause: DefaultChunkPause,
	}
	for _, opt := range opts {
		opt(e)
	}

	if err := e.policy.Validate(); err != nil {
		return nil, err
	}
	sched, err := scheduler.New(e.schedCfg, e.clock, e.logger)
	if err != nil {
		return nil, err
	}
	e.sched = sched
	e.layers = cache.NewLayers(store, e.logger)

	return e, nil
}

// Scheduler exposes the scheduler so the card client can pace follow-up
// requests on the same limiter.
func (e *Enricher) Scheduler() *scheduler.Scheduler {
	return e.sched
}

// Enrich returns a copy of records with canonical data merged in, in the same
// order, plus a report. It never fails as a whole: every problem is recorded
// on the affected record.
func (e *Enricher) Enrich(ctx context.Context, records []card.Record, opts EnrichOptions) ([]card.Record, *Report) {
	e.runMu.Lock()
	defer e.runMu.Unlock()

	started := e.clock.Now()
	out := make([]card.Record, len(records))
	for i := range records {
		out[i] = records[i].Clone()
		if out[i].Quantity <= 0 {
			out[i].Quantity = 1
		}
	}

	plan := Normalize(out)
	layers := cache.NewLayers(e.store, e.logger)
	e.mu.Lock()
	e.layers = layers
	e.mu.Unlock()

	report := &Report{Total: len(records), Unique: len(plan.Groups)}
	for _, idx := range plan.Malformed {
		err := &errors.MalformedRecordError{Index: idx + 1}
		e.logger.Debug("Skipping malformed record", "error", err)
		out[idx] = MarkMalformed(out[idx], err)
		report.countRecord(out[idx])
	}

	batchSize := opts.BatchSize
	if batchSize <= 0 {
		batchSize = e.batchSize
	}

	e.logger.Info("Starting enrichment",
		"records", len(records), "unique", len(plan.Groups), "malformed", len(plan.Malformed), "batch_size", batchSize)

	var lookups atomic.Int64
	fetcher := countingFetcher{Fetcher: e.fetcher, calls: &lookups}

	next := 0
	notified := false
	for next < len(plan.Groups) {
		if ctx.Err() != nil {
			report.Stopped = true
			break
		}

		end := min(next+batchSize, len(plan.Groups))
		chunk := plan.Groups[next:end]
		resolutions := e.resolveChunk(ctx, layers, fetcher, out, chunk)
		for i, g := range chunk {
			e.applyGroup(out, g, resolutions[i], report)
		}
		next = end
		report.Lookups = int(lookups.Load())

		if opts.Progress != nil {
			notified = true
			if err := opts.Progress(report.Processed(), report.Total, report.snapshot()); err != nil {
				if errors.IsStopProcessingError(err) {
					e.logger.Info("Enrichment stopped by progress callback", "reason", err)
					report.Stopped = next < len(plan.Groups)
					break
				}
				e.logger.Warn("Progress callback failed", "error", err)
			}
		}

		if next < len(plan.Groups) && e.chunkPause > 0 {
			if err := e.clock.Sleep(ctx, e.chunkPause); err != nil {
				report.Stopped = true
				break
			}
		}
	}

	for _, g := range plan.Groups[next:] {
		for _, idx := range g.Members {
			out[idx] = Merge(out[idx], Resolution{Err: fmt.Errorf("stopped before lookup")})
			report.countRecord(out[idx])
		}
	}

	report.Lookups = int(lookups.Load())
	report.Elapsed = e.clock.Now().Sub(started)
	if opts.Progress != nil && (!notified || report.Stopped) {
		if err := opts.Progress(report.Processed(), report.Total, report.snapshot()); err != nil && !errors.IsStopProcessingError(err) {
			e.logger.Warn("Progress callback failed", "error", err)
		}
	}

	e.logger.Info("Enrichment finished",
		"enriched", report.Enriched, "not_found", report.NotFound, "failed", report.Failed,
		"cache_hits", report.CacheHits, "lookups", report.Lookups, "elapsed", report.Elapsed)

	return out, report
}

// resolveChunk resolves every group of the chunk. Cache hits resolve
// immediately; misses go through the scheduler.
func (e *Enricher) resolveChunk(ctx context.Context, layers *cache.Layers, fetcher Fetcher, out []card.Record, chunk []Group) []Resolution {
	resolutions := make([]Resolution, len(chunk))
	index := make(map[*scheduler.Entry]int)
	var entries []*scheduler.Entry

	for i, g := range chunk {
		if entry, tier, ok := cachedResolution(ctx, layers, g); ok {
			resolutions[i] = Resolution{Entry: &entry, Tier: tier}
			continue
		}

		rep := out[g.Representative()]
		res := &resolutions[i]
		steps := lookupsFor(g, rep)
		entry := &scheduler.Entry{
			Key:   g.Key,
			Label: rep.DisplayName(),
			Run: func(ctx context.Context, attempt int) scheduler.Verdict {
				return e.attempt(ctx, layers, fetcher, steps, rep.DisplayName(), attempt, res)
			},
		}
		index[entry] = i
		entries = append(entries, entry)
	}

	if len(entries) == 0 {
		return resolutions
	}

	for _, abandoned := range e.sched.Run(ctx, entries) {
		res := &resolutions[index[abandoned]]
		cause := ctx.Err()
		if res.Err != nil {
			cause = res.Err
		}
		res.Entry = nil
		res.Attempts = abandoned.Attempt
		res.Err = fmt.Errorf("lookup abandoned: %w", cause)
	}

	return resolutions
}

// lookup is one cache key and the record fetched for it on a miss.
type lookup struct {
	key card.Key
	rec card.Record
}

// lookupsFor lists the lookups of a group in order. A record naming both a
// printing and a card resolves the printing first and the name only when the
// printing does not exist, each cached under its own key.
func lookupsFor(g Group, rep card.Record) []lookup {
	if g.Fallback == "" {
		return []lookup{{key: g.Key, rec: rep}}
	}
	byPrinting := rep
	byPrinting.Name = ""
	byName := rep
	byName.CollectorNumber = ""
	return []lookup{{key: g.Key, rec: byPrinting}, {key: g.Fallback, rec: byName}}
}

// cachedResolution answers a group from the cache tiers alone.
func cachedResolution(ctx context.Context, layers *cache.Layers, g Group) (cache.Entry, cache.Tier, bool) {
	entry, tier, ok := layers.Lookup(ctx, g.Key)
	if !ok || entry.Card != nil || g.Fallback == "" {
		return entry, tier, ok
	}
	return layers.Lookup(ctx, g.Fallback)
}

// attempt runs one network attempt for the lookups and records the outcome
// in res.
func (e *Enricher) attempt(ctx context.Context, layers *cache.Layers, fetcher Fetcher, steps []lookup, label string, attempt int, res *Resolution) (v scheduler.Verdict) {
	key := steps[0].key
	res.Attempts = attempt
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("Lookup panicked", "key", key, "record", label, "panic", r)
			res.Entry = nil
			res.Err = fmt.Errorf("panic during lookup: %v", r)
			v = scheduler.Verdict{Done: true}
		}
	}()

	entry, tier, err := e.resolve(ctx, layers, fetcher, steps)
	if err == nil {
		res.Entry = &entry
		res.Tier = tier
		res.Err = nil
		if tier != cache.TierNone {
			// Resolved by a concurrent lookup while this one waited
			res.Attempts = 0
		}
		return scheduler.Verdict{Done: true}
	}

	res.Err = err
	decision := e.policy.Decide(attempt, err)
	if decision.Retry {
		e.logger.Debug("Transient lookup failure, retrying",
			"key", key, "attempt", attempt, "delay", decision.Delay, "error", err)
		return scheduler.Verdict{Backoff: decision.Delay}
	}

	e.logger.Debug("Lookup failed", "key", key, "attempt", attempt, "class", decision.Class, "error", err)
	return scheduler.Verdict{Done: true}
}

// resolve walks the lookups until one finds a card. The tier is TierNone
// when any of them went to the network.
func (e *Enricher) resolve(ctx context.Context, layers *cache.Layers, fetcher Fetcher, steps []lookup) (cache.Entry, cache.Tier, error) {
	var (
		entry   cache.Entry
		tier    cache.Tier
		fetched bool
	)
	for i, step := range steps {
		if i > 0 && fetched {
			if err := e.sched.Pace(ctx); err != nil {
				return cache.Entry{}, cache.TierNone, err
			}
		}

		var err error
		entry, tier, err = layers.GetOrFetch(ctx, step.key, func() (*card.Card, error) {
			return fetcher.Fetch(ctx, step.rec)
		})
		if err != nil {
			return cache.Entry{}, cache.TierNone, err
		}
		if tier == cache.TierNone {
			fetched = true
			e.seed(ctx, layers, step.key, entry)
		}
		if entry.Card != nil {
			break
		}
	}

	if fetched {
		tier = cache.TierNone
	}
	return entry, tier, nil
}

// seed stores a card found by name under its printing key too.
func (e *Enricher) seed(ctx context.Context, layers *cache.Layers, key card.Key, entry cache.Entry) {
	if entry.Card == nil || !IsNameKey(key) {
		return
	}
	if entry.Card.Set == "" || entry.Card.CollectorNumber == "" {
		return
	}
	layers.Seed(ctx, PrintingKey(entry.Card.Set, entry.Card.CollectorNumber), entry)
}

// applyGroup merges one resolution into every member of the group. A panic
// while merging fails only the affected record.
func (e *Enricher) applyGroup(out []card.Record, g Group, res Resolution, report *Report) {
	switch {
	case res.Tier == cache.TierRun:
		report.CacheHits++
		report.RunCacheHits++
	case res.Tier == cache.TierSession:
		report.CacheHits++
		report.SessionCacheHits++
	}
	if res.Attempts > 1 {
		report.Retries += res.Attempts - 1
	}

	for _, idx := range g.Members {
		out[idx] = e.mergeRecord(out[idx], res)
		report.countRecord(out[idx])
	}
}

func (e *Enricher) mergeRecord(rec card.Record, res Resolution) (merged card.Record) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("Merge panicked", "record", rec.DisplayName(), "panic", r)
			merged = rec
			merged.Status = card.StatusFailed
			merged.Note = fmt.Sprintf("merge failed: %v", r)
		}
	}()
	return Merge(rec, res)
}

// CacheStats describes the cache tiers.
type CacheStats struct {
	Run     cache.StoreStats `json:"run"`
	Session cache.StoreStats `json:"session"`
	Hits    cache.HitStats   `json:"hits"`
}

// CacheStats reports entry counts and sizes of both tiers. The run tier is
// that of the most recent run.
func (e *Enricher) CacheStats(ctx context.Context) (CacheStats, error) {
	e.mu.Lock()
	layers := e.layers
	e.mu.Unlock()

	st := CacheStats{
		Run:  layers.Run().Stats(),
		Hits: layers.Hits(),
	}
	if e.store != nil {
		session, err := e.store.Stats(ctx)
		if err != nil {
			return st, fmt.Errorf("failed to read session cache stats: %w", err)
		}
		st.Session = session
	}
	return st, nil
}

// Reset clears both cache tiers and drops pending scheduler entries.
func (e *Enricher) Reset(ctx context.Context) error {
	e.mu.Lock()
	e.layers = cache.NewLayers(e.store, e.logger)
	e.mu.Unlock()

	e.sched.Reset()
	if e.store != nil {
		if err := e.store.Clear(ctx); err != nil {
			return fmt.Errorf("failed to clear session cache: %w", err)
		}
	}
	return nil
}

// countingFetcher counts calls to the card service.
type countingFetcher struct {
	Fetcher
	calls *atomic.Int64
}

func (f countingFetcher) Fetch(ctx context.Context, rec card.Record) (*card.Card, error) {
	f.calls.Add(1)
	return f.Fetcher.Fetch(ctx, rec)
}
