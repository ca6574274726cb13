// Package detail renders the log entry flyout overlay, including the
// entry's markdown details block.
package detail

import (
	"strings"

	"github.com/boardsmith/tui/internal/client"
	"github.com/boardsmith/tui/internal/theme"
	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
)

const (
	panelWidth = 72
	labelWidth = 10
)

var (
	stylePanel = lipgloss.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(theme.ColorBorder).
			Padding(0, 1)

	styleLabel = lipgloss.NewStyle().
			Foreground(theme.ColorDimmed).
			Width(labelWidth)

	styleValue = lipgloss.NewStyle().
			Foreground(theme.ColorBright)

	styleTitle = lipgloss.NewStyle().
			Bold(true).
			Foreground(theme.ColorBright)

	styleFooter = lipgloss.NewStyle().
			Foreground(theme.ColorDimmed)
)

// Model holds the state for the detail overlay.
type Model struct {
	Entry *client.LogEntry

	renderer *glamour.TermRenderer
}

// New creates a detail model for the given log entry.
func New(e *client.LogEntry) Model {
	// Rendering failures fall back to plain text, so the error is ignored.
	r, _ := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(panelWidth-6),
	)
	return Model{Entry: e, renderer: r}
}

// View renders the detail panel. Returns an empty string if no entry is set.
func (m Model) View() string {
	if m.Entry == nil {
		return ""
	}
	return stylePanel.Width(panelWidth).Render(m.renderInner())
}

func (m Model) renderInner() string {
	e := m.Entry
	var b strings.Builder

	level := lipgloss.NewStyle().Foreground(theme.LevelColor(e.Level)).Render(e.Level)
	b.WriteString(styleTitle.Render("Log entry") + "  " + level + "\n")
	b.WriteString(strings.Repeat("─", panelWidth-4) + "\n")

	writeRow(&b, "Message", e.Message)
	writeRow(&b, "Stage", e.Stage)
	writeRow(&b, "Build", e.BuildID)
	writeRow(&b, "Time", e.Timestamp)
	if e.Audience != "" {
		writeRow(&b, "Audience", e.Audience)
	}

	if e.Details != "" {
		b.WriteString("\n")
		b.WriteString(m.renderDetails(e.Details))
	}

	b.WriteString("\n" + styleFooter.Render("esc: close"))
	return b.String()
}

// renderDetails formats the markdown details block, falling back to the raw
// text when the renderer is unavailable or errors.
func (m Model) renderDetails(details string) string {
	if m.renderer != nil {
		if out, err := m.renderer.Render(details); err == nil {
			return strings.TrimRight(out, "\n")
		}
	}
	return details
}

func writeRow(b *strings.Builder, label, value string) {
	b.WriteString(styleLabel.Render(label) + styleValue.Render(value) + "\n")
}
