package card

import "strings"

// NormalizeSetCode trims and lower-cases a set code.
func NormalizeSetCode(set string) string {
	return strings.ToLower(strings.TrimSpace(set))
}

// NormalizeCollectorNumber trims, lower-cases and strips leading zeros from
// the numeric prefix, so "007", "7" and " 7 " compare equal. A number made
// only of zeros keeps a single "0".
func NormalizeCollectorNumber(number string) string {
	n := strings.ToLower(strings.TrimSpace(number))
	trimmed := strings.TrimLeft(n, "0")
	if trimmed == "" && n != "" {
		return "0"
	}
	if trimmed != "" && (trimmed[0] < '0' || trimmed[0] > '9') && trimmed != n {
		// "0a" style numbers: keep one zero in front of the suffix
		return "0" + trimmed
	}
	return trimmed
}

// HasPrinting reports whether the record identifies a specific printing.
func (r Record) HasPrinting() bool {
	return strings.TrimSpace(r.SetCode) != "" && strings.TrimSpace(r.CollectorNumber) != ""
}

// HasIdentity reports whether the record can be looked up at all.
func (r Record) HasIdentity() bool {
	return r.HasPrinting() || strings.TrimSpace(r.Name) != ""
}
