package enrichment

import (
	"strings"

	"github.com/lepinkainen/deckhand/internal/card"
	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

const (
	printingKeyPrefix = "print:"
	nameKeyPrefix     = "name:"
)

// Group is a set of records sharing one key. Members are input indices in
// input order; the first member is the representative that gets looked up.
// Fallback is the name key tried when the printing in Key does not exist;
// records of one printing with different names land in different groups.
type Group struct {
	Key      card.Key
	Fallback card.Key
	Members  []int
}

// Representative returns the input index of the record that is looked up.
func (g Group) Representative() int {
	return g.Members[0]
}

// Plan is the deduplicated view of an input list.
type Plan struct {
	// Keys holds the key of every input record, empty for malformed ones.
	Keys []card.Key
	// Groups are in order of first appearance.
	Groups []Group
	// Malformed lists the indices of records without any usable identity.
	Malformed []int
}

// Normalize computes a key per record and collapses records sharing a key.
func Normalize(records []card.Record) Plan {
	type groupID struct{ key, fallback card.Key }

	plan := Plan{Keys: make([]card.Key, len(records))}
	groupIndex := make(map[groupID]int)

	for i, rec := range records {
		key, ok := KeyFor(rec)
		if !ok {
			plan.Malformed = append(plan.Malformed, i)
			continue
		}
		plan.Keys[i] = key

		id := groupID{key: key, fallback: FallbackKey(rec)}
		if gi, exists := groupIndex[id]; exists {
			plan.Groups[gi].Members = append(plan.Groups[gi].Members, i)
			continue
		}
		groupIndex[id] = len(plan.Groups)
		plan.Groups = append(plan.Groups, Group{Key: key, Fallback: id.fallback, Members: []int{i}})
	}

	return plan
}

// KeyFor derives the cache key of a record: the printing when both set and
// collector number are present, otherwise the normalized name qualified by
// the set when one is given. ok is false when the record has no identity.
func KeyFor(rec card.Record) (card.Key, bool) {
	if rec.HasPrinting() {
		return PrintingKey(rec.SetCode, rec.CollectorNumber), true
	}
	key := nameKey(rec.Name, rec.SetCode)
	return key, key != ""
}

// FallbackKey is the name key of a record that also names a printing, or
// empty when the record has no printing or no name.
func FallbackKey(rec card.Record) card.Key {
	if !rec.HasPrinting() {
		return ""
	}
	return nameKey(rec.Name, rec.SetCode)
}

func nameKey(rawName, set string) card.Key {
	name := NormalizeName(rawName)
	if name == "" {
		return ""
	}
	if set = card.NormalizeSetCode(set); set != "" {
		return card.Key(nameKeyPrefix + name + "@" + set)
	}
	return card.Key(nameKeyPrefix + name)
}

// PrintingKey is the key of a specific printing.
func PrintingKey(set, number string) card.Key {
	return card.Key(printingKeyPrefix + card.NormalizeSetCode(set) + "/" + card.NormalizeCollectorNumber(number))
}

// IsNameKey reports whether key was derived from a card name.
func IsNameKey(key card.Key) bool {
	return strings.HasPrefix(string(key), nameKeyPrefix)
}

// NormalizeName folds case, composes Unicode and collapses whitespace so that
// "Sol  Ring", "sol ring" and "SOL RING" compare equal. Split-card names are
// spaced uniformly around "//".
func NormalizeName(name string) string {
	n := norm.NFC.String(name)
	n = strings.ReplaceAll(n, "//", " // ")
	n = strings.Join(strings.Fields(n), " ")
	// A Caser is stateful, so one per call
	return cases.Fold().String(n)
}
