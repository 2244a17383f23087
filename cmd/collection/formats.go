// Package collection parses card-collection exports and runs them through
// the enrichment pipeline.
package collection

import (
	"fmt"
	"io"
	"os"

	"github.com/lepinkainen/deckhand/internal/card"
)

// Format names an import file format.
type Format string

const (
	FormatCSV        Format = "csv"
	FormatDecklist   Format = "decklist"
	FormatStructured Format = "structured"
)

// ParseFile opens path and parses it in the given format.
func ParseFile(format Format, path string) ([]card.Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s file: %w", format, err)
	}
	defer func() { _ = f.Close() }()

	return Parse(format, f)
}

// Parse reads records in the given format from r.
func Parse(format Format, r io.Reader) ([]card.Record, error) {
	switch format {
	case FormatCSV:
		return ParseCSV(r)
	case FormatDecklist:
		return ParseDecklist(r)
	case FormatStructured:
		return ParseStructured(r)
	default:
		return nil, fmt.Errorf("unknown import format %q", format)
	}
}
