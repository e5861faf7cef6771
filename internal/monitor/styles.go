package monitor

import (
	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/lipgloss"
)

var (
	PrimaryColor = lipgloss.Color("#7D56F4") // Purple
	SuccessColor = lipgloss.Color("#43BF6D") // Green
	WarningColor = lipgloss.Color("#FFA500") // Orange
	ErrorColor   = lipgloss.Color("#FF5555") // Red
	SubtleColor  = lipgloss.Color("#626262") // Gray
	TextColor    = lipgloss.Color("#FFFFFF") // White
)

var (
	TitleStyle = lipgloss.NewStyle().
			Foreground(PrimaryColor).
			Bold(true)

	StatusStyle = lipgloss.NewStyle().
			Foreground(SubtleColor)

	SectionStyle = lipgloss.NewStyle().
			Foreground(TextColor).
			Bold(true).
			MarginTop(1)

	EventTimeStyle = lipgloss.NewStyle().
			Foreground(SubtleColor)

	EventOKStyle = lipgloss.NewStyle().
			Foreground(SuccessColor)

	EventWarnStyle = lipgloss.NewStyle().
			Foreground(WarningColor)

	EventErrorStyle = lipgloss.NewStyle().
			Foreground(ErrorColor)

	BoxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(PrimaryColor)
)

func tableStyles() table.Styles {
	s := table.DefaultStyles()
	s.Header = s.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(SubtleColor).
		BorderBottom(true).
		Bold(true)
	s.Selected = s.Selected.
		Foreground(TextColor).
		Background(PrimaryColor).
		Bold(false)
	return s
}
