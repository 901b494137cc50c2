// Package render formats quota reports for the terminal.
package render

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/eliteGoblin/focusd/quota_mon/internal/domain"
	"github.com/eliteGoblin/focusd/quota_mon/internal/monitor"
	"github.com/eliteGoblin/focusd/quota_mon/internal/usecase"
)

// Palette.
var (
	colorGreen  = lipgloss.Color("#a6e3a1")
	colorYellow = lipgloss.Color("#f9e2af")
	colorRed    = lipgloss.Color("#f38ba8")
	colorMuted  = lipgloss.Color("#6c7086")
	colorText   = lipgloss.Color("#cdd6f4")
)

const nameWidth = 16

// Renderer writes reports as traffic-light lines.
type Renderer struct {
	loc   *time.Location
	plain bool
}

// New creates a renderer. Reset moments are shown in loc (Local when nil).
// plain disables styling.
func New(loc *time.Location, plain bool) *Renderer {
	if loc == nil {
		loc = time.Local
	}
	return &Renderer{loc: loc, plain: plain}
}

func (r *Renderer) style(c lipgloss.Color) lipgloss.Style {
	if r.plain {
		return lipgloss.NewStyle()
	}
	return lipgloss.NewStyle().Foreground(c)
}

// LightColor maps a traffic light to its color.
func LightColor(l domain.Light) lipgloss.Color {
	switch l {
	case domain.LightRed:
		return colorRed
	case domain.LightYellow:
		return colorYellow
	default:
		return colorGreen
	}
}

// Report writes one line per enabled group, then credits and unmatched models.
func (r *Renderer) Report(w io.Writer, report domain.Report) {
	header := fmt.Sprintf("Quota at %s", report.Snapshot.CapturedAt.In(r.loc).Format("2006-01-02 15:04:05"))
	if report.Snapshot.Plan != "" {
		header += fmt.Sprintf("  [%s]", report.Snapshot.Plan)
	}
	fmt.Fprintln(w, r.style(colorText).Bold(!r.plain).Render(header))

	for _, g := range report.Groups {
		if !g.Enabled {
			continue
		}
		fmt.Fprintln(w, r.groupLine(g))
	}

	if c := report.Snapshot.PromptCredits; c != nil {
		fmt.Fprintln(w, r.creditsLine("Prompt credits", c))
	}
	if c := report.Snapshot.FlowCredits; c != nil {
		fmt.Fprintln(w, r.creditsLine("Flow credits", c))
	}

	if len(report.Other) > 0 {
		labels := make([]string, 0, len(report.Other))
		for _, it := range report.Other {
			labels = append(labels, it.Label)
		}
		sort.Strings(labels)
		fmt.Fprintln(w, r.style(colorMuted).Render("  other: "+strings.Join(labels, ", ")))
	}
}

func (r *Renderer) groupLine(g domain.GroupStatus) string {
	dot := r.style(LightColor(g.Light)).Render("●")
	name := padRight(g.DisplayName, nameWidth)

	pct := "  n/a"
	if len(g.Members) > 0 {
		pct = fmt.Sprintf("%4.0f%%", g.WorstRemainingPct)
	}
	pct = r.style(LightColor(g.Light)).Render(pct)

	reset := ""
	switch {
	case len(g.Members) == 0:
	case !g.ResetKnown():
		reset = usecase.UnknownResetLabel
	default:
		reset = usecase.FormatResetTime(g.MaxResetIn, latestReset(g.Members), r.loc)
	}

	line := fmt.Sprintf("%s %s %s  %s", dot, name, pct, r.style(colorMuted).Render(reset))
	if g.IsLongReset {
		line += "  " + r.style(colorYellow).Render("⏳ long reset")
	}
	return line
}

func (r *Renderer) creditsLine(name string, c *domain.CreditBalance) string {
	return r.style(colorMuted).Render(fmt.Sprintf("  %s %4.0f%%  (%.0f / %.0f)",
		padRight(name, nameWidth), c.RemainingPercentage, c.Available, c.Monthly))
}

// Unavailable writes the line shown while the language server cannot be reached.
func (r *Renderer) Unavailable(w io.Writer, err error) {
	msg := "language server unavailable"
	if err != nil {
		msg += ": " + err.Error()
	}
	fmt.Fprintln(w, r.style(colorRed).Render("✗ "+msg))
}

// Status writes the polling client's connection status.
func (r *Renderer) Status(w io.Writer, s monitor.Status) {
	color := colorGreen
	switch s.State {
	case monitor.StateReconnecting:
		color = colorYellow
	case monitor.StateDisconnected, monitor.StateUninitialized:
		color = colorRed
	}
	line := fmt.Sprintf("connection: %s", s.State)
	if s.Port > 0 {
		line += fmt.Sprintf("  pid=%d port=%d", s.PID, s.Port)
	}
	if s.ConsecutiveFailures > 0 {
		line += fmt.Sprintf("  failures=%d", s.ConsecutiveFailures)
	}
	fmt.Fprintln(w, r.style(color).Render(line))
}

// Journal writes history entries, newest first.
func (r *Renderer) Journal(w io.Writer, entries []domain.JournalEntry) {
	if len(entries) == 0 {
		fmt.Fprintln(w, r.style(colorMuted).Render("no history"))
		return
	}
	for _, e := range entries {
		parts := make([]string, 0, len(e.Groups))
		for _, g := range e.Groups {
			cell := fmt.Sprintf("%s %3.0f%%", g.ID, g.WorstRemainingPct)
			if g.IsLongReset {
				cell += "⏳"
			}
			parts = append(parts, r.style(LightColor(g.Light)).Render(cell))
		}
		fmt.Fprintf(w, "%s  %s\n", e.CapturedAt.In(r.loc).Format("01/02 15:04"), strings.Join(parts, "  "))
	}
}

// latestReset is the reset moment matching the group's longest countdown.
func latestReset(items []domain.QuotaItem) time.Time {
	var latest time.Time
	var longest time.Duration
	for _, it := range items {
		if it.TimeUntilReset > longest {
			longest = it.TimeUntilReset
			latest = it.ResetAt
		}
	}
	return latest
}

func padRight(s string, width int) string {
	if n := lipgloss.Width(s); n < width {
		return s + strings.Repeat(" ", width-n)
	}
	return s
}
