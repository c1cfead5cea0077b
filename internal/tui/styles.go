package tui

import "github.com/charmbracelet/lipgloss"

// Color palette
var (
	primaryColor   = lipgloss.Color("#7C3AED") // Purple
	upColor        = lipgloss.Color("#10B981") // Green
	downColor      = lipgloss.Color("#EF4444") // Red
	accentColor    = lipgloss.Color("#F59E0B") // Amber
	borderColor    = lipgloss.Color("#374151")
	textColor      = lipgloss.Color("#F9FAFB")
	secondaryColor = lipgloss.Color("#9CA3AF")
	mutedColor     = lipgloss.Color("#6B7280")
)

var (
	tabStyle = lipgloss.NewStyle().
			Foreground(secondaryColor).
			Padding(0, 2)

	activeTabStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(primaryColor).
			Padding(0, 2).
			Underline(true)

	panelStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(borderColor).
			Padding(0, 1)

	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(primaryColor)

	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(secondaryColor)

	rowStyle = lipgloss.NewStyle().
			Foreground(textColor)

	selectedRowStyle = lipgloss.NewStyle().
				Foreground(textColor).
				Background(lipgloss.Color("#374151"))

	upStyle = lipgloss.NewStyle().
		Foreground(upColor)

	downStyle = lipgloss.NewStyle().
			Foreground(downColor)

	mutedStyle = lipgloss.NewStyle().
			Foreground(mutedColor)

	noticeStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(accentColor)

	statusBarStyle = lipgloss.NewStyle().
			Foreground(secondaryColor)

	liveStyle = lipgloss.NewStyle().
			Foreground(upColor)

	deadStyle = lipgloss.NewStyle().
			Foreground(downColor)
)
