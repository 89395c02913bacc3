// Package tui provides a terminal status view for the session gateway.
package tui

import "github.com/charmbracelet/lipgloss"

// Color palette
var (
	colorPrimary = lipgloss.Color("#7C3AED") // violet
	colorSuccess = lipgloss.Color("#22C55E") // green
	colorWarning = lipgloss.Color("#EAB308") // yellow
	colorError   = lipgloss.Color("#EF4444") // red
	colorInfo    = lipgloss.Color("#3B82F6") // blue
	colorMuted   = lipgloss.Color("#6B7280") // gray
	colorText    = lipgloss.Color("#CDD6F4") // light text
	colorBorder  = lipgloss.Color("#45475A") // border
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(colorPrimary).
			MarginBottom(1)

	labelStyle = lipgloss.NewStyle().
			Foreground(colorInfo).
			Bold(true).
			Width(12)

	valueStyle = lipgloss.NewStyle().
			Foreground(colorText)

	sectionStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(colorBorder).
			Padding(1, 2)

	successStyle = lipgloss.NewStyle().
			Foreground(colorSuccess).
			Bold(true)

	warningStyle = lipgloss.NewStyle().
			Foreground(colorWarning).
			Bold(true)

	errorStyle = lipgloss.NewStyle().
			Foreground(colorError).
			Bold(true)

	checkingStyle = lipgloss.NewStyle().
			Foreground(colorInfo).
			Bold(true)

	helpStyle = lipgloss.NewStyle().
			Foreground(colorMuted)

	noticeStyle = lipgloss.NewStyle().
			Foreground(colorWarning)
)

func stateStyle(state string) lipgloss.Style {
	switch state {
	case "authenticated":
		return successStyle
	case "unauthenticated":
		return warningStyle
	case "degraded":
		return errorStyle
	default:
		return checkingStyle
	}
}
