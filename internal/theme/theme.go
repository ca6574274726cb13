// Package theme provides the Lip Gloss color palette and reusable styles
// for the boardsmith TUI. It is a leaf package with no internal imports
// to avoid import cycles.
package theme

import "github.com/charmbracelet/lipgloss"

// Log level colors.
var (
	ColorDebug   = lipgloss.Color("#6b7280")
	ColorInfo    = lipgloss.Color("#3b82f6")
	ColorWarning = lipgloss.Color("#d97706")
	ColorError   = lipgloss.Color("#dc2626")
	ColorAlert   = lipgloss.Color("#a855f7")
)

// Build status colors.
var (
	ColorSuccess  = lipgloss.Color("#16a34a")
	ColorWarnings = lipgloss.Color("#d97706")
	ColorFailed   = lipgloss.Color("#dc2626")
	ColorBuilding = lipgloss.Color("#2563eb")
	ColorUnknown  = lipgloss.Color("#9ca3af")
)

// Stage accent colors.
var (
	ColorStageSolve  = lipgloss.Color("#06b6d4")
	ColorStageLayout = lipgloss.Color("#a855f7")
	ColorStageDRC    = lipgloss.Color("#f59e0b")
	ColorDefault     = lipgloss.Color("#9ca3af")
)

// UI chrome colors.
var (
	ColorBorder  = lipgloss.Color("#4b5563")
	ColorDimmed  = lipgloss.Color("#6b7280")
	ColorBright  = lipgloss.Color("#f9fafb")
	ColorHealthy = lipgloss.Color("#22c55e")
	ColorDanger  = lipgloss.Color("#dc2626")
)

// LevelColor returns the color for a log level name.
func LevelColor(level string) lipgloss.Color {
	switch level {
	case "DEBUG":
		return ColorDebug
	case "INFO":
		return ColorInfo
	case "WARNING":
		return ColorWarning
	case "ERROR":
		return ColorError
	case "ALERT":
		return ColorAlert
	default:
		return ColorDefault
	}
}

// StatusColor returns the color for a build status.
func StatusColor(status string) lipgloss.Color {
	switch status {
	case "success":
		return ColorSuccess
	case "warning":
		return ColorWarnings
	case "failed":
		return ColorFailed
	case "building":
		return ColorBuilding
	default:
		return ColorUnknown
	}
}

// StatusGlyph returns a glyph for a build status.
func StatusGlyph(status string) string {
	switch status {
	case "success":
		return "✓"
	case "warning":
		return "⚠"
	case "failed":
		return "✗"
	case "building":
		return "◎"
	default:
		return "·"
	}
}

// StageColor returns an accent color for a build stage name.
func StageColor(stage string) lipgloss.Color {
	switch stage {
	case "solve", "netlist":
		return ColorStageSolve
	case "layout", "export":
		return ColorStageLayout
	case "drc":
		return ColorStageDRC
	default:
		return ColorDefault
	}
}

// LevelBadge returns a fixed-width colored level tag for log lines.
func LevelBadge(level string) string {
	tag := level
	if len(tag) > 5 {
		tag = tag[:5]
	}
	for len(tag) < 5 {
		tag += " "
	}
	return lipgloss.NewStyle().Foreground(LevelColor(level)).Render(tag)
}

// Reusable styles.
var (
	StyleBorder = lipgloss.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(ColorBorder)

	StyleHeader = lipgloss.NewStyle().
			Bold(true).
			Foreground(ColorBright)

	StyleDimmed = lipgloss.NewStyle().
			Foreground(ColorDimmed)

	StyleSelected = lipgloss.NewStyle().
			Bold(true).
			Foreground(ColorBright)
)
