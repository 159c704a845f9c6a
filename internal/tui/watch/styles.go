package watch

import "github.com/charmbracelet/lipgloss"

var (
	colorOnline  = lipgloss.Color("#22C55E")
	colorOffline = lipgloss.Color("#EF4444")
	colorPrimary = lipgloss.Color("#4A9EFF")
	colorDim     = lipgloss.Color("#9CA3AF")
	colorWhite   = lipgloss.Color("#F9FAFB")
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(colorPrimary)

	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(colorPrimary).
			BorderStyle(lipgloss.NormalBorder()).
			BorderBottom(true).
			BorderForeground(colorDim)

	sectionNameStyle = lipgloss.NewStyle().
				Bold(true).
				Foreground(colorWhite).
				MarginTop(1)

	sectionCountStyle = lipgloss.NewStyle().
				Foreground(colorDim)

	footerStyle = lipgloss.NewStyle().
			Foreground(colorDim).
			BorderStyle(lipgloss.NormalBorder()).
			BorderTop(true).
			BorderForeground(colorDim)

	summaryBoxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(colorDim).
			Padding(0, 1).
			MarginBottom(1)

	onlineStyle  = lipgloss.NewStyle().Bold(true).Foreground(colorOnline)
	offlineStyle = lipgloss.NewStyle().Bold(true).Foreground(colorOffline)
	dimStyle     = lipgloss.NewStyle().Foreground(colorDim)
)
