package collection

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/lepinkainen/deckhand/internal/cache"
	"github.com/lepinkainen/deckhand/internal/enrichment"
)

type summaryStyles struct {
	box   lipgloss.Style
	title lipgloss.Style
	label lipgloss.Style
	good  lipgloss.Style
	warn  lipgloss.Style
	bad   lipgloss.Style
	muted lipgloss.Style
}

func newSummaryStyles() summaryStyles {
	asciiBorder := lipgloss.Border{
		Top:         "-",
		Bottom:      "-",
		Left:        "|",
		Right:       "|",
		TopLeft:     "+",
		TopRight:    "+",
		BottomLeft:  "+",
		BottomRight: "+",
	}

	return summaryStyles{
		box: lipgloss.NewStyle().
			Border(asciiBorder).
			BorderForeground(lipgloss.Color("62")).
			Padding(0, 1),
		title: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("254")),
		label: lipgloss.NewStyle().
			Width(18).
			Foreground(lipgloss.Color("110")),
		good: lipgloss.NewStyle().Foreground(lipgloss.Color("78")),
		warn: lipgloss.NewStyle().Foreground(lipgloss.Color("178")),
		bad:  lipgloss.NewStyle().Foreground(lipgloss.Color("203")),
		muted: lipgloss.NewStyle().
			Foreground(lipgloss.Color("247")).
			Faint(true),
	}
}

// RenderSummary writes a boxed summary of an enrichment run.
func RenderSummary(w io.Writer, title string, report *enrichment.Report) error {
	s := newSummaryStyles()

	row := func(label string, style lipgloss.Style, value any) string {
		return s.label.Render(label) + style.Render(fmt.Sprint(value))
	}

	lines := []string{
		s.title.Render(title),
		"",
		row("Records", s.title, report.Total),
		row("Unique cards", s.title, report.Unique),
		row("Enriched", s.good, report.Enriched),
		row("Not found", s.warn, report.NotFound),
		row("Failed", s.bad, report.Failed),
		row("Malformed", s.warn, report.Malformed),
		"",
		row("Cache hits", s.muted, fmt.Sprintf("%d (run %d, session %d)",
			report.CacheHits, report.RunCacheHits, report.SessionCacheHits)),
		row("Lookups", s.muted, report.Lookups),
		row("Retries", s.muted, report.Retries),
		row("Elapsed", s.muted, report.Elapsed.Round(time.Millisecond)),
	}

	if report.Stopped {
		lines = append(lines, "", s.bad.Render("Stopped early; remaining records were not looked up"))
	}
	if len(report.NotFoundExamples) > 0 {
		lines = append(lines, "", s.warn.Render("Not found: "+strings.Join(report.NotFoundExamples, ", ")))
	}
	for _, f := range report.FailedExamples {
		lines = append(lines, s.bad.Render("Failed: "+f))
	}

	_, err := fmt.Fprintln(w, s.box.Render(strings.Join(lines, "\n")))
	return err
}

// RenderCacheStats writes the session cache contents.
func RenderCacheStats(w io.Writer, backend string, stats cache.StoreStats) error {
	s := newSummaryStyles()

	body := strings.Join([]string{
		s.title.Render("Card cache"),
		"",
		s.label.Render("Backend") + backend,
		s.label.Render("Entries") + fmt.Sprint(stats.Entries),
		s.label.Render("Approx. size") + formatBytes(stats.ApproxBytes),
	}, "\n")

	_, err := fmt.Fprintln(w, s.box.Render(body))
	return err
}

func formatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
