package status

import (
	"fmt"
	"strings"

	"github.com/boardsmith/tui/internal/theme"
	"github.com/charmbracelet/lipgloss"
)

// Model holds the status bar state.
type Model struct {
	Connected   bool
	ProjectPath string
	Target      string
	BuildID     string
	Subscribed  bool
	Building    bool
	MinLevel    string
	Stage       string
	EntryCount  int
	// Notice is a transient one-shot message, e.g. an open-file request
	// from the server. Replaced by the next one; never stored elsewhere.
	Notice string
	Width  int
}

// New creates a status bar model.
func New() Model {
	return Model{MinLevel: "INFO"}
}

// View renders the status bar.
func (m Model) View() string {
	width := m.Width
	if width < 40 {
		width = 40
	}

	var connStr string
	if m.Connected {
		connStr = lipgloss.NewStyle().Foreground(theme.ColorHealthy).Render("● Connected")
	} else {
		connStr = lipgloss.NewStyle().Foreground(theme.ColorDanger).Render("○ Reconnecting...")
	}

	project := m.ProjectPath
	if project == "" {
		project = "(no project)"
	}
	if m.Target != "" {
		project += ":" + m.Target
	}

	var buildStr string
	switch {
	case m.Building:
		buildStr = lipgloss.NewStyle().Foreground(theme.ColorBuilding).Render("◎ building")
	case m.Subscribed:
		buildStr = lipgloss.NewStyle().Foreground(theme.ColorDimmed).Render(m.BuildID)
	default:
		buildStr = lipgloss.NewStyle().Foreground(theme.ColorDimmed).Render("no subscription")
	}

	logStr := fmt.Sprintf("%d lines ≥%s", m.EntryCount, m.MinLevel)
	if m.Stage != "" {
		logStr += " [" + m.Stage + "]"
	}

	parts := []string{connStr, project, buildStr, logStr}
	if m.Notice != "" {
		parts = append(parts, lipgloss.NewStyle().Foreground(theme.ColorAlert).Render(m.Notice))
	}

	sep := lipgloss.NewStyle().Foreground(theme.ColorBorder).Render(" | ")
	content := strings.Join(parts, sep)

	return lipgloss.NewStyle().
		Width(width).
		Padding(0, 1).
		BorderStyle(lipgloss.DoubleBorder()).
		BorderForeground(theme.ColorBorder).
		Render(content)
}
