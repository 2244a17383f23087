package collection

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/lepinkainen/deckhand/internal/card"
	"github.com/lepinkainen/deckhand/internal/csvutil"
)

// Header aliases seen in common collection-manager exports.
var (
	nameColumns      = []string{"name", "card name", "card"}
	quantityColumns  = []string{"quantity", "count", "qty", "amount"}
	setColumns       = []string{"set", "set code", "edition", "edition code"}
	numberColumns    = []string{"collector number", "number", "card number", "cn"}
	foilColumns      = []string{"foil", "printing", "finish"}
	conditionColumns = []string{"condition"}
	languageColumns  = []string{"language", "lang"}
)

// ParseCSV reads a header-mapped collection CSV. Rows without any identity
// are kept so enrichment can report them as malformed.
func ParseCSV(r io.Reader) ([]card.Record, error) {
	records, err := csvutil.ProcessReader(r, parseCSVRow, csvutil.ProcessorOptions{SkipInvalid: true})
	if err != nil {
		return nil, fmt.Errorf("failed to parse collection CSV: %w", err)
	}
	return records, nil
}

func parseCSVRow(row csvutil.Row) (card.Record, error) {
	qty, err := parseQuantity(row.Get(quantityColumns...))
	if err != nil {
		return card.Record{}, err
	}

	return card.Record{
		Name:            row.Get(nameColumns...),
		Quantity:        qty,
		SetCode:         row.Get(setColumns...),
		CollectorNumber: row.Get(numberColumns...),
		Foil:            parseFoil(row.Get(foilColumns...)),
		Condition:       row.Get(conditionColumns...),
		Language:        row.Get(languageColumns...),
		Source:          string(FormatCSV),
	}, nil
}

// parseQuantity treats an empty cell as one copy.
func parseQuantity(s string) (int, error) {
	s = strings.TrimSuffix(strings.ToLower(strings.TrimSpace(s)), "x")
	if s == "" {
		return 1, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid quantity %q", s)
	}
	return n, nil
}

func parseFoil(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "foil", "etched", "yes", "y", "true", "1":
		return true
	}
	return false
}
