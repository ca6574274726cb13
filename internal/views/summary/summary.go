// Package summary provides the per-target build results table for the
// boardsmith TUI.
package summary

import (
	"fmt"
	"strings"

	"github.com/boardsmith/tui/internal/client"
	"github.com/boardsmith/tui/internal/theme"
	"github.com/charmbracelet/lipgloss"
)

// Model holds the summary pane state.
type Model struct {
	Width   int
	Summary *client.BuildSummary
	Err     error
}

// New creates a summary model.
func New() Model {
	return Model{}
}

// SetSummary replaces the displayed summary.
func (m *Model) SetSummary(s *client.BuildSummary, err error) {
	if err != nil {
		m.Err = err
		return
	}
	m.Summary = s
	m.Err = nil
}

// View renders the totals row and the per-target table.
func (m Model) View() string {
	width := m.Width
	if width < 40 {
		width = 40
	}

	if m.Err != nil {
		return theme.StyleBorder.Width(width).Padding(0, 1).Render(
			lipgloss.NewStyle().Foreground(theme.ColorDanger).Render("summary unavailable: " + m.Err.Error()))
	}
	if m.Summary == nil {
		return theme.StyleBorder.Width(width).Padding(0, 1).Render(
			theme.StyleDimmed.Render("no summary yet"))
	}

	sections := []string{
		m.renderTotals(width),
		m.renderTable(width),
	}
	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

func (m Model) renderTotals(width int) string {
	t := m.Summary.Totals
	statStyle := lipgloss.NewStyle().Padding(0, 1)

	stats := []string{
		statStyle.Foreground(theme.ColorBright).Render(fmt.Sprintf("Targets: %d", t.Builds)),
		statStyle.Foreground(theme.ColorSuccess).Render(fmt.Sprintf("OK: %d", t.Successful)),
		statStyle.Foreground(theme.ColorFailed).Render(fmt.Sprintf("Failed: %d", t.Failed)),
		statStyle.Foreground(theme.ColorWarnings).Render(fmt.Sprintf("Warnings: %d", t.Warnings)),
		statStyle.Foreground(theme.ColorError).Render(fmt.Sprintf("Errors: %d", t.Errors)),
	}
	content := strings.Join(stats, lipgloss.NewStyle().Foreground(theme.ColorBorder).Render(" | "))

	return lipgloss.NewStyle().
		Width(width).
		Padding(0, 1).
		BorderStyle(lipgloss.RoundedBorder()).
		BorderForeground(theme.ColorBorder).
		Render(content)
}

func (m Model) renderTable(width int) string {
	var lines []string
	header := fmt.Sprintf("  %-2s %-20s %-10s %8s %8s %9s", "", "TARGET", "STATUS", "WARN", "ERR", "TIME")
	lines = append(lines, theme.StyleHeader.Render(header))

	for _, b := range m.Summary.Builds {
		glyph := lipgloss.NewStyle().Foreground(theme.StatusColor(b.Status)).Render(theme.StatusGlyph(b.Status))
		status := lipgloss.NewStyle().Foreground(theme.StatusColor(b.Status)).Render(fmt.Sprintf("%-10s", b.Status))
		line := fmt.Sprintf("  %s  %-20s %s %8d %8d %8.1fs",
			glyph, truncate(b.Name, 20), status, b.Warnings, b.Errors, b.DurationSec)
		lines = append(lines, line)
	}
	if len(m.Summary.Builds) == 0 {
		lines = append(lines, theme.StyleDimmed.Render("  no builds yet"))
	}

	return lipgloss.JoinVertical(lipgloss.Left, lines...)
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-1] + "…"
}
