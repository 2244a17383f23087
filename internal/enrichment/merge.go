package enrichment

import (
	"fmt"

	"github.com/lepinkainen/deckhand/internal/cache"
	"github.com/lepinkainen/deckhand/internal/card"
)

// Resolution is the terminal result of looking up one key.
type Resolution struct {
	// Entry is the cached or fetched answer; nil when the lookup failed.
	Entry *cache.Entry
	// Tier says which cache answered, TierNone for a network fetch.
	Tier cache.Tier
	// Attempts counts network attempts; zero for cache hits.
	Attempts int
	// Err is the last error when Entry is nil.
	Err error
}

// Merge returns a copy of rec with the outcome of res applied. Canonical
// fields only fill empty fields; anything already present on rec is kept.
// Without a canonical card the record comes back unchanged apart from its
// status, note and attempt count.
func Merge(rec card.Record, res Resolution) card.Record {
	out := rec.Clone()
	out.Attempts = res.Attempts

	switch {
	case res.Entry != nil && res.Entry.Card != nil:
		fillCanonical(&out, res.Entry.Card)
		out.Status = card.StatusEnriched
		out.Note = enrichedNote(res.Entry.Card, res.Tier)
	case res.Entry != nil && res.Entry.NotFound:
		out.Status = card.StatusNotFound
		out.Note = fmt.Sprintf("no card found for %s", rec.DisplayName())
	default:
		out.Status = card.StatusFailed
		out.Note = failedNote(res)
	}

	return out
}

// MarkMalformed tags a record that was rejected before lookup with the
// reason in err.
func MarkMalformed(rec card.Record, err error) card.Record {
	out := rec.Clone()
	out.Status = card.StatusMalformed
	out.Note = err.Error()
	return out
}

func fillCanonical(rec *card.Record, c *card.Card) {
	if rec.ScryfallID == "" {
		rec.ScryfallID = c.ID
	}
	if rec.Name == "" {
		rec.Name = c.Name
	}
	if rec.SetCode == "" {
		rec.SetCode = c.Set
	}
	if rec.CollectorNumber == "" {
		rec.CollectorNumber = c.CollectorNumber
	}
	if rec.SetName == "" {
		rec.SetName = c.SetName
	}
	if rec.TypeLine == "" {
		rec.TypeLine = c.TypeLine
	}
	if rec.ManaCost == "" {
		rec.ManaCost = c.FrontManaCost()
	}
	if rec.ManaValue == nil {
		mv := c.CMC
		rec.ManaValue = &mv
	}
	if rec.OracleText == "" {
		rec.OracleText = c.FullOracleText()
	}
	if rec.Rarity == "" {
		rec.Rarity = c.Rarity
	}
	if len(rec.Colors) == 0 && len(c.Colors) > 0 {
		rec.Colors = append([]string(nil), c.Colors...)
	}
	if len(rec.ColorIdentity) == 0 && len(c.ColorIdentity) > 0 {
		rec.ColorIdentity = append([]string(nil), c.ColorIdentity...)
	}
	if rec.ImageURL == "" {
		rec.ImageURL = c.ImageURL()
	}
	if rec.PriceUSD == "" {
		rec.PriceUSD = c.Prices.USD
		if rec.Foil && c.Prices.USDFoil != "" {
			rec.PriceUSD = c.Prices.USDFoil
		}
	}
}

func enrichedNote(c *card.Card, tier cache.Tier) string {
	note := fmt.Sprintf("matched %s (%s #%s)", c.Name, c.Set, c.CollectorNumber)
	if tier != cache.TierNone {
		note += ", " + tier.String() + " cache"
	}
	return note
}

func failedNote(res Resolution) string {
	if res.Err == nil {
		return "lookup failed"
	}
	if res.Attempts > 1 {
		return fmt.Sprintf("lookup failed after %d attempts: %v", res.Attempts, res.Err)
	}
	return fmt.Sprintf("lookup failed: %v", res.Err)
}
