// Package logs renders the scrolling build log pane.
package logs

import (
	"fmt"
	"strings"

	"github.com/boardsmith/tui/internal/client"
	"github.com/boardsmith/tui/internal/theme"
	"github.com/charmbracelet/lipgloss"
)

// Model holds the log pane state. Entries arrive in stream order and the
// viewport follows the tail unless the user has scrolled or selected a line.
type Model struct {
	Entries []client.LogEntry
	Width   int
	Height  int

	// selected indexes Entries; -1 means follow the tail.
	selected int
	offset   int
}

func New() Model {
	return Model{selected: -1}
}

// SetEntries replaces the buffer, e.g. after a resubscribe or filter change.
func (m *Model) SetEntries(entries []client.LogEntry) {
	m.Entries = entries
	m.selected = -1
	m.offset = 0
}

// Append adds a streamed batch while preserving the scroll position.
func (m *Model) Append(entries []client.LogEntry) {
	m.Entries = append(m.Entries, entries...)
}

// Selected returns the highlighted entry, or nil when following the tail.
func (m *Model) Selected() *client.LogEntry {
	if m.selected < 0 || m.selected >= len(m.Entries) {
		return nil
	}
	e := m.Entries[m.selected]
	return &e
}

// MoveUp shifts the selection toward older entries, leaving tail-follow mode.
func (m *Model) MoveUp() {
	if len(m.Entries) == 0 {
		return
	}
	if m.selected < 0 {
		m.selected = len(m.Entries) - 1
	} else if m.selected > 0 {
		m.selected--
	}
}

// MoveDown shifts the selection toward newer entries; moving past the last
// entry resumes tail-follow.
func (m *Model) MoveDown() {
	if m.selected < 0 {
		return
	}
	m.selected++
	if m.selected >= len(m.Entries) {
		m.selected = -1
	}
}

// Following reports whether the pane is tracking the newest entry.
func (m *Model) Following() bool {
	return m.selected < 0
}

// View renders the pane at its configured size.
func (m Model) View() string {
	height := m.Height
	if height < 3 {
		height = 3
	}
	rows := height

	if len(m.Entries) == 0 {
		empty := theme.StyleDimmed.Render("  waiting for logs...")
		return pad([]string{empty}, rows)
	}

	// Window the entries around the selection, or pin to the tail.
	end := len(m.Entries)
	anchor := end - 1
	if m.selected >= 0 {
		anchor = m.selected
	}
	start := anchor - rows + 1
	if start < 0 {
		start = 0
	}
	if start+rows < end {
		end = start + rows
	}

	lines := make([]string, 0, rows)
	for i := start; i < end; i++ {
		lines = append(lines, m.renderLine(i))
	}
	return pad(lines, rows)
}

func (m Model) renderLine(i int) string {
	e := m.Entries[i]
	prefix := "  "
	if i == m.selected {
		prefix = theme.StyleSelected.Render("> ")
	}

	ts := e.Timestamp
	if len(ts) >= 19 {
		ts = ts[11:19]
	}
	stage := lipgloss.NewStyle().Foreground(theme.StageColor(e.Stage)).Render(fmt.Sprintf("%-8s", e.Stage))

	msg := e.Message
	if e.Details != "" {
		msg += theme.StyleDimmed.Render(" ⊕")
	}
	line := prefix + theme.StyleDimmed.Render(ts) + " " + theme.LevelBadge(e.Level) + " " + stage + " " + msg
	if m.Width > 0 {
		line = lipgloss.NewStyle().MaxWidth(m.Width).Render(line)
	}
	return line
}

func pad(lines []string, rows int) string {
	for len(lines) < rows {
		lines = append(lines, "")
	}
	return strings.Join(lines, "\n")
}
