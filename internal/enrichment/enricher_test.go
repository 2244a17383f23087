package enrichment

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/lepinkainen/deckhand/internal/cache"
	"github.com/lepinkainen/deckhand/internal/card"
	"github.com/lepinkainen/deckhand/internal/clock"
	"github.com/lepinkainen/deckhand/internal/errors"
	"github.com/lepinkainen/deckhand/internal/retry"
	"github.com/lepinkainen/deckhand/internal/scheduler"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeFetcher serves cards from memory and can fail lookups on demand.
type fakeFetcher struct {
	mu     sync.Mutex
	cards  map[string]*card.Card
	errs   map[string][]error
	panics map[string]bool
	calls  map[string]int
	total  int
}

func newFakeFetcher(cards ...*card.Card) *fakeFetcher {
	f := &fakeFetcher{
		cards:  make(map[string]*card.Card),
		errs:   make(map[string][]error),
		panics: make(map[string]bool),
		calls:  make(map[string]int),
	}
	for _, c := range cards {
		f.cards[strings.ToLower(c.Name)] = c
		f.cards[c.Set+"/"+c.CollectorNumber] = c
	}
	return f
}

func lookupLabel(rec card.Record) string {
	if rec.HasPrinting() {
		return card.NormalizeSetCode(rec.SetCode) + "/" + card.NormalizeCollectorNumber(rec.CollectorNumber)
	}
	return strings.ToLower(strings.Join(strings.Fields(rec.Name), " "))
}

func (f *fakeFetcher) failNext(label string, errs ...error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errs[label] = append(f.errs[label], errs...)
}

func (f *fakeFetcher) Fetch(_ context.Context, rec card.Record) (*card.Card, error) {
	label := lookupLabel(rec)

	f.mu.Lock()
	f.calls[label]++
	f.total++
	if f.panics[label] {
		f.mu.Unlock()
		panic("fetcher exploded")
	}
	if pending := f.errs[label]; len(pending) > 0 {
		f.errs[label] = pending[1:]
		f.mu.Unlock()
		return nil, pending[0]
	}
	c, ok := f.cards[label]
	f.mu.Unlock()

	if !ok {
		return nil, errors.NewNotFoundError(rec.DisplayName())
	}
	cp := *c
	return &cp, nil
}

func (f *fakeFetcher) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.total
}

func (f *fakeFetcher) CallsFor(label string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[label]
}

func testCards() []*card.Card {
	return []*card.Card{
		{ID: "sol", Name: "Sol Ring", Set: "lea", CollectorNumber: "1", TypeLine: "Artifact", CMC: 1, Rarity: "uncommon"},
		{ID: "bolt", Name: "Lightning Bolt", Set: "m10", CollectorNumber: "146", TypeLine: "Instant", CMC: 1, Colors: []string{"R"}},
		{ID: "island", Name: "Island", Set: "lea", CollectorNumber: "288", TypeLine: "Basic Land"},
		{ID: "counterspell", Name: "Counterspell", Set: "ice", CollectorNumber: "64", TypeLine: "Instant"},
		{ID: "swords", Name: "Swords to Plowshares", Set: "ice", CollectorNumber: "54", TypeLine: "Instant"},
	}
}

func newTestEnricher(t *testing.T, f Fetcher, store cache.SessionStore, opts ...Option) (*Enricher, *clock.Fake) {
	t.Helper()
	clk := clock.NewFake(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	base := []Option{
		WithClock(clk),
		WithChunkPause(0),
		WithSchedulerConfig(scheduler.Config{RatePerSecond: 10, MaxConcurrent: 4}),
	}
	e, err := New(f, store, append(base, opts...)...)
	require.NoError(t, err)
	return e, clk
}

func TestNew_Validation(t *testing.T) {
	_, err := New(nil, nil)
	assert.Error(t, err)

	_, err = New(newFakeFetcher(), nil, WithRetryPolicy(retry.Policy{MaxAttempts: 0, Multiplier: 2}))
	assert.Error(t, err)

	_, err = New(newFakeFetcher(), nil, WithSchedulerConfig(scheduler.Config{RatePerSecond: 0, MaxConcurrent: 1}))
	assert.Error(t, err)
}

func TestEnrich_SolRingScenario(t *testing.T) {
	f := newFakeFetcher(testCards()...)
	e, _ := newTestEnricher(t, f, cache.NewMemoryStore(0, 0))

	out, report := e.Enrich(context.Background(), []card.Record{{Name: "Sol Ring", Quantity: 1}}, EnrichOptions{})

	require.Len(t, out, 1)
	assert.Equal(t, 1, out[0].Quantity)
	assert.Equal(t, "Artifact", out[0].TypeLine)
	assert.Equal(t, card.StatusEnriched, out[0].Status)
	assert.Equal(t, 1, out[0].Attempts)
	assert.Equal(t, 1, report.Enriched)
	assert.Equal(t, 1, report.Lookups)
}

func TestEnrich_NotFoundScenario(t *testing.T) {
	f := newFakeFetcher(testCards()...)
	e, _ := newTestEnricher(t, f, cache.NewMemoryStore(0, 0))

	in := []card.Record{{Name: "Totally Fake Card", Quantity: 2}}
	out, report := e.Enrich(context.Background(), in, EnrichOptions{})

	require.Len(t, out, 1)
	assert.Equal(t, card.StatusNotFound, out[0].Status)
	assert.Equal(t, 2, out[0].Quantity)
	assert.Equal(t, 1, out[0].Attempts)
	assert.Empty(t, out[0].TypeLine)
	assert.Empty(t, out[0].ScryfallID)
	assert.Equal(t, in[0].Name, out[0].Name)

	assert.Equal(t, 1, report.NotFound)
	assert.Equal(t, 0, report.Failed)
	assert.Equal(t, []string{"Totally Fake Card"}, report.NotFoundExamples)
}

func TestEnrich_DeduplicatesSharedKey(t *testing.T) {
	f := newFakeFetcher(testCards()...)
	e, _ := newTestEnricher(t, f, cache.NewMemoryStore(0, 0))

	in := []card.Record{
		{Name: "Sol Ring", SetCode: "lea", CollectorNumber: "1"},
		{Name: "Sol Ring", SetCode: "LEA", CollectorNumber: "1", Quantity: 3},
	}
	out, report := e.Enrich(context.Background(), in, EnrichOptions{})

	assert.Equal(t, 1, f.Calls())
	assert.Equal(t, 1, f.CallsFor("lea/1"))
	require.Len(t, out, 2)
	assert.Equal(t, 1, out[0].Quantity)
	assert.Equal(t, 3, out[1].Quantity)
	assert.Equal(t, "sol", out[0].ScryfallID)
	assert.Equal(t, out[0].ScryfallID, out[1].ScryfallID)
	assert.Equal(t, out[0].TypeLine, out[1].TypeLine)
	assert.Equal(t, 1, report.Unique)
	assert.Equal(t, 2, report.Enriched)
}

func TestEnrich_TransientThenSuccess(t *testing.T) {
	f := newFakeFetcher(testCards()...)
	f.failNext("sol ring", errors.NewServiceError(503, ""), errors.NewRateLimitError("slow down"))
	e, clk := newTestEnricher(t, f, nil)

	out, report := e.Enrich(context.Background(), []card.Record{{Name: "Sol Ring", Quantity: 1}}, EnrichOptions{})

	assert.Equal(t, card.StatusEnriched, out[0].Status)
	assert.Equal(t, 3, out[0].Attempts)
	assert.Equal(t, 2, report.Retries)
	assert.Equal(t, 3, report.Lookups)

	// Backoff sleeps of the default policy: 100ms then 200ms
	sleeps := clk.Sleeps()
	assert.Contains(t, sleeps, 100*time.Millisecond)
	assert.Contains(t, sleeps, 200*time.Millisecond)
}

func TestEnrich_RetryAfterIsHonoured(t *testing.T) {
	f := newFakeFetcher(testCards()...)
	f.failNext("sol ring", errors.NewRateLimitErrorWithRetry("slow down", 3*time.Second))
	e, clk := newTestEnricher(t, f, nil)

	out, _ := e.Enrich(context.Background(), []card.Record{{Name: "Sol Ring"}}, EnrichOptions{})

	assert.Equal(t, card.StatusEnriched, out[0].Status)
	assert.Contains(t, clk.Sleeps(), 3*time.Second)
}

func TestEnrich_RetriesExhausted(t *testing.T) {
	f := newFakeFetcher(testCards()...)
	for range 10 {
		f.failNext("sol ring", errors.NewServiceError(502, "bad gateway"))
	}
	policy := retry.Policy{BaseDelay: 10 * time.Millisecond, Multiplier: 2, MaxAttempts: 4, MaxDelay: time.Second}
	e, clk := newTestEnricher(t, f, cache.NewMemoryStore(0, 0),
		WithRetryPolicy(policy),
		// Fast enough that pacing never adds its own sleeps
		WithSchedulerConfig(scheduler.Config{RatePerSecond: 1000, MaxConcurrent: 1}))

	out, report := e.Enrich(context.Background(), []card.Record{{Name: "Sol Ring", Quantity: 2}}, EnrichOptions{})

	assert.Equal(t, card.StatusFailed, out[0].Status)
	assert.Equal(t, 4, out[0].Attempts)
	assert.Equal(t, 2, out[0].Quantity)
	assert.Contains(t, out[0].Note, "after 4 attempts")
	assert.Contains(t, out[0].Note, "bad gateway")
	assert.Equal(t, 4, f.Calls())
	assert.Equal(t, 1, report.Failed)

	// Backoff strictly grows between attempts
	assert.Equal(t, []time.Duration{10 * time.Millisecond, 20 * time.Millisecond, 40 * time.Millisecond}, clk.Sleeps())

	// Failures are never cached
	_, ok, err := e.store.Get(context.Background(), "name:sol ring")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestEnrich_FatalIsNotRetried(t *testing.T) {
	f := newFakeFetcher(testCards()...)
	f.failNext("sol ring", errors.NewFatalError("unexpected response", 400, nil))
	e, _ := newTestEnricher(t, f, nil)

	out, _ := e.Enrich(context.Background(), []card.Record{{Name: "Sol Ring"}}, EnrichOptions{})

	assert.Equal(t, card.StatusFailed, out[0].Status)
	assert.Equal(t, 1, out[0].Attempts)
	assert.Equal(t, 1, f.Calls())
}

func TestEnrich_MalformedIsNeverLookedUp(t *testing.T) {
	f := newFakeFetcher(testCards()...)
	e, _ := newTestEnricher(t, f, nil)

	out, report := e.Enrich(context.Background(), []card.Record{{Quantity: 2}, {SetCode: "lea"}, {Name: "Island"}}, EnrichOptions{})

	require.Len(t, out, 3)
	assert.Equal(t, card.StatusMalformed, out[0].Status)
	assert.Equal(t, card.StatusMalformed, out[1].Status)
	assert.Equal(t, card.StatusEnriched, out[2].Status)
	assert.Equal(t, 0, out[0].Attempts)
	assert.Equal(t, "record 1 has neither a name nor a set and collector number", out[0].Note)
	assert.Equal(t, "record 2 has neither a name nor a set and collector number", out[1].Note)
	assert.Equal(t, 1, f.Calls())
	assert.Equal(t, 2, report.Malformed)
}

func TestEnrich_PreservesLengthAndOrder(t *testing.T) {
	f := newFakeFetcher(testCards()...)
	f.failNext("counterspell", errors.NewFatalError("nope", 400, nil))
	e, _ := newTestEnricher(t, f, cache.NewMemoryStore(0, 0))

	in := []card.Record{
		{Name: "Island", Quantity: 20},
		{Name: "Made Up"},
		{},
		{Name: "Sol Ring"},
		{Name: "Counterspell", Quantity: 4},
		{Name: "island", Quantity: 5},
		{SetCode: "m10", CollectorNumber: "146"},
		{Name: "Swords to Plowshares", Quantity: 0},
	}
	out, report := e.Enrich(context.Background(), in, EnrichOptions{BatchSize: 2})

	require.Len(t, out, len(in))
	wantStatus := []card.Status{
		card.StatusEnriched, card.StatusNotFound, card.StatusMalformed, card.StatusEnriched,
		card.StatusFailed, card.StatusEnriched, card.StatusEnriched, card.StatusEnriched,
	}
	for i := range in {
		assert.Equal(t, wantStatus[i], out[i].Status, "record %d", i)
		if in[i].Name != "" {
			assert.Equal(t, in[i].Name, out[i].Name, "record %d", i)
		}
	}
	assert.Equal(t, 20, out[0].Quantity)
	assert.Equal(t, 5, out[5].Quantity)
	assert.Equal(t, "Lightning Bolt", out[6].Name)
	assert.Equal(t, 1, out[7].Quantity)
	assert.Equal(t, len(in), report.Processed())

	// The input is left untouched
	assert.Empty(t, in[0].Status)
	assert.Equal(t, 0, in[7].Quantity)
}

func TestEnrich_WarmCacheIsIdempotent(t *testing.T) {
	f := newFakeFetcher(testCards()...)
	store := cache.NewMemoryStore(0, 0)
	e, _ := newTestEnricher(t, f, store)

	in := []card.Record{{Name: "Sol Ring"}, {Name: "Lightning Bolt", Quantity: 4}, {Name: "Nope"}}
	first, _ := e.Enrich(context.Background(), in, EnrichOptions{})
	calls := f.Calls()
	assert.Equal(t, 3, calls)

	// A second enricher sharing the session store needs no network at all
	e2, _ := newTestEnricher(t, f, store)
	second, report := e2.Enrich(context.Background(), in, EnrichOptions{})

	assert.Equal(t, calls, f.Calls())
	assert.Equal(t, 3, report.SessionCacheHits)
	assert.Equal(t, 0, report.Lookups)
	for i := range first {
		assert.Equal(t, first[i].ScryfallID, second[i].ScryfallID)
		assert.Equal(t, first[i].TypeLine, second[i].TypeLine)
		assert.Equal(t, first[i].Status, second[i].Status)
		assert.Equal(t, first[i].Quantity, second[i].Quantity)
	}
}

func TestEnrich_NameResolutionSeedsPrintingKey(t *testing.T) {
	f := newFakeFetcher(testCards()...)
	e, _ := newTestEnricher(t, f, cache.NewMemoryStore(0, 0))

	in := []card.Record{{Name: "Lightning Bolt"}, {SetCode: "M10", CollectorNumber: "0146", Quantity: 2}}
	out, report := e.Enrich(context.Background(), in, EnrichOptions{BatchSize: 1})

	assert.Equal(t, 1, f.Calls())
	assert.Equal(t, "bolt", out[1].ScryfallID)
	assert.Equal(t, 2, out[1].Quantity)
	assert.Equal(t, 1, report.RunCacheHits)
}

func TestEnrich_UnknownPrintingFallsBackPerName(t *testing.T) {
	lotus := &card.Card{ID: "lotus", Name: "Black Lotus", Set: "lea", CollectorNumber: "232", TypeLine: "Artifact"}
	elves := &card.Card{ID: "elves", Name: "Llanowar Elves", Set: "lea", CollectorNumber: "210", TypeLine: "Creature - Elf Druid"}
	f := newFakeFetcher(lotus, elves)
	store := cache.NewMemoryStore(0, 0)
	e, _ := newTestEnricher(t, f, store)
	ctx := context.Background()

	in := []card.Record{
		{Name: "Black Lotus", SetCode: "lea", CollectorNumber: "999"},
		{Name: "Llanowar Elves", SetCode: "lea", CollectorNumber: "999"},
		{Name: "Made Up Card", SetCode: "lea", CollectorNumber: "999"},
	}
	out, report := e.Enrich(ctx, in, EnrichOptions{})

	require.Len(t, out, 3)
	assert.Equal(t, "lotus", out[0].ScryfallID)
	assert.Equal(t, "Artifact", out[0].TypeLine)
	assert.Equal(t, "elves", out[1].ScryfallID)
	assert.Equal(t, "Creature - Elf Druid", out[1].TypeLine)
	assert.Contains(t, out[1].Note, "Llanowar Elves")
	assert.Equal(t, card.StatusNotFound, out[2].Status)
	assert.Empty(t, out[2].ScryfallID)
	assert.Equal(t, 3, report.Unique)
	assert.Equal(t, 1, f.CallsFor("lea/999"))

	// The printing is cached as missing; names keep their own answers
	entry, ok, err := store.Get(ctx, "print:lea/999")
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, entry.NotFound)

	entry, ok, err = store.Get(ctx, "name:black lotus@lea")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "lotus", entry.Card.ID)

	entry, ok, err = store.Get(ctx, "name:made up card@lea")
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, entry.NotFound)

	// The real printing of a name match is seeded
	entry, ok, err = store.Get(ctx, "print:lea/210")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "elves", entry.Card.ID)

	// A later run resolves the same bad printing under another name correctly
	calls := f.Calls()
	e2, _ := newTestEnricher(t, f, store)
	again, _ := e2.Enrich(ctx, []card.Record{{Name: "Llanowar Elves", SetCode: "LEA", CollectorNumber: "999"}}, EnrichOptions{})

	assert.Equal(t, calls, f.Calls())
	assert.Equal(t, "elves", again[0].ScryfallID)
	assert.Equal(t, card.StatusEnriched, again[0].Status)
}

func TestEnrich_PanicIsContained(t *testing.T) {
	f := newFakeFetcher(testCards()...)
	f.panics["sol ring"] = true
	e, _ := newTestEnricher(t, f, nil)

	out, report := e.Enrich(context.Background(), []card.Record{{Name: "Sol Ring"}, {Name: "Island"}}, EnrichOptions{})

	require.Len(t, out, 2)
	assert.Equal(t, card.StatusFailed, out[0].Status)
	assert.Contains(t, out[0].Note, "panic")
	assert.Equal(t, card.StatusEnriched, out[1].Status)
	assert.Equal(t, 1, report.Failed)
}

func TestEnrich_RateCeiling(t *testing.T) {
	f := newFakeFetcher(testCards()...)
	e, clk := newTestEnricher(t, f, nil)

	in := []card.Record{{Name: "Sol Ring"}, {Name: "Lightning Bolt"}, {Name: "Island"}, {Name: "Counterspell"}, {Name: "Swords to Plowshares"}}
	out, report := e.Enrich(context.Background(), in, EnrichOptions{})

	for _, rec := range out {
		assert.Equal(t, card.StatusEnriched, rec.Status)
	}
	// Five dispatches at 10/s need four 100ms gaps
	assert.Equal(t, 400*time.Millisecond, clk.TotalSlept())
	assert.Equal(t, 400*time.Millisecond, report.Elapsed)
}

func TestEnrich_ProgressPerChunk(t *testing.T) {
	f := newFakeFetcher(testCards()...)
	e, clk := newTestEnricher(t, f, nil, WithChunkPause(time.Second))

	in := []card.Record{{Name: "Sol Ring"}, {Name: "Lightning Bolt"}, {Name: "Island"}, {Name: "Counterspell"}, {Name: "Swords to Plowshares"}, {}}
	type call struct{ processed, total int }
	var calls []call
	_, _ = e.Enrich(context.Background(), in, EnrichOptions{
		BatchSize: 2,
		Progress: func(processed, total int, stats Stats) error {
			calls = append(calls, call{processed, total})
			return nil
		},
	})

	// Malformed records count as processed from the start
	assert.Equal(t, []call{{3, 6}, {5, 6}, {6, 6}}, calls)

	pauses := 0
	for _, d := range clk.Sleeps() {
		if d == time.Second {
			pauses++
		}
	}
	assert.Equal(t, 2, pauses, "pause between chunks but not after the last")
}

func TestEnrich_ProgressOnEmptyInput(t *testing.T) {
	e, _ := newTestEnricher(t, newFakeFetcher(), nil)

	calls := 0
	out, report := e.Enrich(context.Background(), nil, EnrichOptions{
		Progress: func(processed, total int, _ Stats) error {
			calls++
			assert.Equal(t, 0, processed)
			assert.Equal(t, 0, total)
			return nil
		},
	})

	assert.Empty(t, out)
	assert.Equal(t, 1, calls)
	assert.Equal(t, 0, report.Total)
}

func TestEnrich_StopFromProgress(t *testing.T) {
	f := newFakeFetcher(testCards()...)
	e, _ := newTestEnricher(t, f, nil)

	in := []card.Record{{Name: "Sol Ring"}, {Name: "Lightning Bolt"}, {Name: "Island"}, {Name: "Counterspell", Quantity: 4}}
	out, report := e.Enrich(context.Background(), in, EnrichOptions{
		BatchSize: 2,
		Progress: func(int, int, Stats) error {
			return errors.NewStopProcessingError("user quit")
		},
	})

	require.Len(t, out, 4)
	assert.Equal(t, card.StatusEnriched, out[0].Status)
	assert.Equal(t, card.StatusEnriched, out[1].Status)
	assert.Equal(t, card.StatusFailed, out[2].Status)
	assert.Contains(t, out[2].Note, "stopped before lookup")
	assert.Equal(t, 4, out[3].Quantity)
	assert.True(t, report.Stopped)
	assert.Equal(t, 2, f.Calls())
}

func TestEnrich_CancelledContext(t *testing.T) {
	f := newFakeFetcher(testCards()...)
	e, _ := newTestEnricher(t, f, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	in := []card.Record{{Name: "Sol Ring"}, {Name: "Island"}}
	out, report := e.Enrich(ctx, in, EnrichOptions{})

	require.Len(t, out, 2)
	for _, rec := range out {
		assert.Equal(t, card.StatusFailed, rec.Status)
	}
	assert.True(t, report.Stopped)
	assert.Equal(t, 0, f.Calls())
}

func TestEnrich_ProgressErrorIsLoggedNotFatal(t *testing.T) {
	f := newFakeFetcher(testCards()...)
	e, _ := newTestEnricher(t, f, nil)

	out, report := e.Enrich(context.Background(), []card.Record{{Name: "Sol Ring"}, {Name: "Island"}}, EnrichOptions{
		BatchSize: 1,
		Progress: func(int, int, Stats) error {
			return fmt.Errorf("display broke")
		},
	})

	assert.Equal(t, card.StatusEnriched, out[1].Status)
	assert.False(t, report.Stopped)
}

func TestEnricher_CacheStatsAndReset(t *testing.T) {
	ctx := context.Background()
	f := newFakeFetcher(testCards()...)
	store := cache.NewMemoryStore(0, 0)
	e, _ := newTestEnricher(t, f, store)

	_, _ = e.Enrich(ctx, []card.Record{{Name: "Sol Ring"}, {Name: "Nope"}}, EnrichOptions{})

	st, err := e.CacheStats(ctx)
	require.NoError(t, err)
	// Sol Ring is stored under its name and its seeded printing
	assert.Equal(t, 3, st.Run.Entries)
	assert.Equal(t, 3, st.Session.Entries)
	assert.Positive(t, st.Session.ApproxBytes)
	assert.Equal(t, int64(2), st.Hits.Misses)

	require.NoError(t, e.Reset(ctx))
	st, err = e.CacheStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, st.Run.Entries)
	assert.Equal(t, 0, st.Session.Entries)

	_, _ = e.Enrich(ctx, []card.Record{{Name: "Sol Ring"}}, EnrichOptions{})
	assert.Equal(t, 3, f.Calls())
}
