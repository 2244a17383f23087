package collection

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"regexp"
	"strconv"
	"strings"

	"github.com/lepinkainen/deckhand/internal/card"
)

// deckLine matches "4 Sol Ring (LEA) 270 *F*" with everything but the name
// optional. Quantities may carry an x suffix.
var deckLine = regexp.MustCompile(`^(?:(\d+)x?\s+)?(.+?)(?:\s+\(([A-Za-z0-9]{2,6})\)(?:\s+([A-Za-z0-9★\-]+))?)?(\s+\*[Ff]\*)?$`)

var sectionHeaders = map[string]bool{
	"deck":        true,
	"main":        true,
	"mainboard":   true,
	"maindeck":    true,
	"sideboard":   true,
	"commander":   true,
	"companion":   true,
	"maybeboard":  true,
	"considering": true,
}

// ParseDecklist reads a plain-text decklist. Blank lines, comments and
// section headers are skipped; the current section is kept in Source.
func ParseDecklist(r io.Reader) ([]card.Record, error) {
	var (
		records []card.Record
		section string
	)

	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if comment, ok := strings.CutPrefix(line, "//"); ok {
			if name, ok := sectionHeader(strings.TrimSpace(comment)); ok {
				section = name
			}
			continue
		}

		if name, ok := sectionHeader(line); ok {
			section = name
			continue
		}

		lineSection := section
		if rest, ok := cutPrefixFold(line, "SB:"); ok {
			line = strings.TrimSpace(rest)
			lineSection = "sideboard"
		}

		rec, ok := parseDeckLine(line)
		if !ok {
			slog.Warn("Skipping unparseable decklist line", "line", lineNo, "text", line)
			continue
		}
		rec.Source = string(FormatDecklist)
		if lineSection != "" {
			rec.Source += ":" + lineSection
		}
		records = append(records, rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read decklist: %w", err)
	}

	return records, nil
}

func parseDeckLine(line string) (card.Record, bool) {
	m := deckLine.FindStringSubmatch(line)
	if m == nil {
		return card.Record{}, false
	}

	qty := 1
	if m[1] != "" {
		n, err := strconv.Atoi(m[1])
		if err != nil {
			return card.Record{}, false
		}
		qty = n
	}

	return card.Record{
		Name:            strings.TrimSpace(m[2]),
		Quantity:        qty,
		SetCode:         m[3],
		CollectorNumber: m[4],
		Foil:            m[5] != "",
	}, true
}

// sectionHeader recognizes known section names with or without a trailing
// colon, and any other digit-free line ending in a colon.
func sectionHeader(line string) (string, bool) {
	name := strings.ToLower(strings.TrimSpace(strings.TrimSuffix(line, ":")))
	if sectionHeaders[name] {
		return name, true
	}
	if strings.HasSuffix(line, ":") && !strings.ContainsAny(name, "0123456789") {
		return name, true
	}
	return "", false
}

func cutPrefixFold(s, prefix string) (string, bool) {
	if len(s) >= len(prefix) && strings.EqualFold(s[:len(prefix)], prefix) {
		return s[len(prefix):], true
	}
	return s, false
}
