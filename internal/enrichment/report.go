package enrichment

import (
	"fmt"
	"strings"
	"time"

	"github.com/lepinkainen/deckhand/internal/card"
)

// maxExamples bounds the example names kept for diagnostics.
const maxExamples = 5

// Report summarizes one enrichment run. Outcome counts are per input record;
// cache hits, lookups and retries are per unique key.
type Report struct {
	Total     int `json:"total"`
	Unique    int `json:"unique"`
	Enriched  int `json:"enriched"`
	NotFound  int `json:"not_found"`
	Failed    int `json:"failed"`
	Malformed int `json:"malformed"`

	CacheHits        int `json:"cache_hits"`
	RunCacheHits     int `json:"run_cache_hits"`
	SessionCacheHits int `json:"session_cache_hits"`
	Lookups          int `json:"lookups"`
	Retries          int `json:"retries"`

	Stopped bool          `json:"stopped,omitempty"`
	Elapsed time.Duration `json:"elapsed"`

	NotFoundExamples []string `json:"not_found_examples,omitempty"`
	FailedExamples   []string `json:"failed_examples,omitempty"`
}

// Stats is the running snapshot handed to progress callbacks.
type Stats struct {
	Enriched  int
	NotFound  int
	Failed    int
	Malformed int
	CacheHits int
	Lookups   int
}

func (r *Report) countRecord(rec card.Record) {
	switch rec.Status {
	case card.StatusEnriched:
		r.Enriched++
	case card.StatusNotFound:
		r.NotFound++
		r.NotFoundExamples = appendExample(r.NotFoundExamples, rec.DisplayName())
	case card.StatusMalformed:
		r.Malformed++
	default:
		r.Failed++
		r.FailedExamples = appendExample(r.FailedExamples, rec.DisplayName()+": "+rec.Note)
	}
}

func appendExample(examples []string, name string) []string {
	if len(examples) >= maxExamples {
		return examples
	}
	for _, e := range examples {
		if e == name {
			return examples
		}
	}
	return append(examples, name)
}

func (r *Report) snapshot() Stats {
	return Stats{
		Enriched:  r.Enriched,
		NotFound:  r.NotFound,
		Failed:    r.Failed,
		Malformed: r.Malformed,
		CacheHits: r.CacheHits,
		Lookups:   r.Lookups,
	}
}

// Processed is the number of records with a terminal status.
func (r *Report) Processed() int {
	return r.Enriched + r.NotFound + r.Failed + r.Malformed
}

// Summary renders a human-readable multi-line summary.
func (r *Report) Summary() string {
	var b strings.Builder

	fmt.Fprintf(&b, "Enriched %d of %d records (%d unique cards) in %s\n",
		r.Enriched, r.Total, r.Unique, r.Elapsed.Round(time.Millisecond))
	fmt.Fprintf(&b, "  not found: %d, failed: %d, malformed: %d\n", r.NotFound, r.Failed, r.Malformed)
	fmt.Fprintf(&b, "  cache hits: %d (run %d, session %d), lookups: %d, retries: %d\n",
		r.CacheHits, r.RunCacheHits, r.SessionCacheHits, r.Lookups, r.Retries)

	if r.Stopped {
		b.WriteString("  stopped early; remaining records were not looked up\n")
	}
	if len(r.NotFoundExamples) > 0 {
		fmt.Fprintf(&b, "  not found examples: %s\n", strings.Join(r.NotFoundExamples, ", "))
	}
	for _, f := range r.FailedExamples {
		fmt.Fprintf(&b, "  failed: %s\n", f)
	}

	return strings.TrimRight(b.String(), "\n")
}
