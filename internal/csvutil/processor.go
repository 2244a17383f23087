package csvutil

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

// ProcessorOptions configures CSV processing behavior.
type ProcessorOptions struct {
	// FieldsPerRecord sets the expected number of fields per record.
	// If 0, rows may have any number of fields.
	FieldsPerRecord int

	// SkipInvalid controls whether to skip invalid records or return an error.
	SkipInvalid bool

	// Comma overrides the field delimiter. Zero means ','.
	Comma rune
}

// Row is one data line addressed by header name.
type Row struct {
	// Line is the 1-based line of the row in the input, header included.
	Line   int
	fields []string
	index  map[string]int
}

// Get returns the trimmed value of the first header alias present in the row.
// Header names are matched case-insensitively, ignoring spaces, '_' and '-'.
func (r Row) Get(names ...string) string {
	for _, name := range names {
		if i, ok := r.index[normalizeHeader(name)]; ok && i < len(r.fields) {
			return strings.TrimSpace(r.fields[i])
		}
	}
	return ""
}

// Has reports whether any of the header aliases is a column of the input.
func (r Row) Has(names ...string) bool {
	for _, name := range names {
		if _, ok := r.index[normalizeHeader(name)]; ok {
			return true
		}
	}
	return false
}

// ProcessCSV reads a CSV file and parses each row into type T.
func ProcessCSV[T any](filename string, parser func(Row) (T, error), opts ProcessorOptions) ([]T, error) {
	csvFile, err := os.Open(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to open CSV file: %w", err)
	}
	defer func() { _ = csvFile.Close() }()

	if fi, err := csvFile.Stat(); err != nil || fi.Size() == 0 {
		return nil, fmt.Errorf("CSV file is empty or cannot be read")
	}

	return ProcessReader(csvFile, parser, opts)
}

// ProcessReader parses CSV from r. The first line is the header; every later
// line is handed to parser as a Row.
func ProcessReader[T any](r io.Reader, parser func(Row) (T, error), opts ProcessorOptions) ([]T, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = opts.FieldsPerRecord
	if opts.FieldsPerRecord == 0 {
		reader.FieldsPerRecord = -1
	}
	if opts.Comma != 0 {
		reader.Comma = opts.Comma
	}

	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("CSV input has no header")
		}
		return nil, fmt.Errorf("failed to read header: %w", err)
	}

	index := make(map[string]int, len(header))
	for i, name := range header {
		if i == 0 {
			name = strings.TrimPrefix(name, "\ufeff")
		}
		key := normalizeHeader(name)
		if _, dup := index[key]; !dup {
			index[key] = i
		}
	}

	var items []T
	line := 1

	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			if opts.SkipInvalid {
				slog.Warn("Error reading record", "line", line, "error", err)
				continue
			}
			return nil, fmt.Errorf("failed to read line %d: %w", line, err)
		}
		if isBlank(record) {
			continue
		}

		item, err := parser(Row{Line: line, fields: record, index: index})
		if err != nil {
			if opts.SkipInvalid {
				slog.Warn("Skipping invalid record", "line", line, "error", err)
				continue
			}
			return nil, fmt.Errorf("invalid record on line %d: %w", line, err)
		}

		items = append(items, item)
	}

	return items, nil
}

func normalizeHeader(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	return strings.NewReplacer(" ", "", "_", "", "-", "").Replace(name)
}

func isBlank(record []string) bool {
	for _, f := range record {
		if strings.TrimSpace(f) != "" {
			return false
		}
	}
	return true
}
