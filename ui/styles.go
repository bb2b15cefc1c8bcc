package ui

import "github.com/charmbracelet/lipgloss"

var (
	fuchsia = lipgloss.Color("#EE6FF8")
	green   = lipgloss.AdaptiveColor{Light: "#04B575", Dark: "#04B575"}
	gray    = lipgloss.AdaptiveColor{Light: "#909090", Dark: "#626262"}
	red     = lipgloss.AdaptiveColor{Light: "#FF4672", Dark: "#ED567A"}

	titleStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#FFFDF5")).Background(lipgloss.Color("#5A56E0")).Padding(0, 1)
	cursorStyle   = lipgloss.NewStyle().Foreground(fuchsia).Bold(true)
	itemStyle     = lipgloss.NewStyle().PaddingLeft(2)
	selectedStyle = lipgloss.NewStyle().Foreground(fuchsia).PaddingLeft(1)
	playingStyle  = lipgloss.NewStyle().Foreground(green)
	detailStyle   = lipgloss.NewStyle().Foreground(gray)
	errorStyle    = lipgloss.NewStyle().Foreground(red)
	footerStyle   = lipgloss.NewStyle().Foreground(gray).PaddingTop(1)
)
