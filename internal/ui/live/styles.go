package live

import (
	"charm.land/lipgloss/v2"
)

// Color palette.
var (
	colorGreen  = lipgloss.Color("#04B575")
	colorRed    = lipgloss.Color("#FF4672")
	colorYellow = lipgloss.Color("#FDFF90")
	colorCyan   = lipgloss.Color("#00E5FF")
	colorSubtle = lipgloss.Color("#626262")
	colorWhite  = lipgloss.Color("#FFFFFF")
)

var (
	paneStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(colorSubtle)

	statusBarStyle = lipgloss.NewStyle().
			Foreground(colorWhite).
			Background(lipgloss.Color("#333333")).
			Padding(0, 1)

	hostNameStyle = lipgloss.NewStyle().Foreground(colorCyan)
	stderrStyle   = lipgloss.NewStyle().Foreground(colorYellow)
	runningStyle  = lipgloss.NewStyle().Foreground(colorSubtle)
	successStyle  = lipgloss.NewStyle().Foreground(colorGreen).Bold(true)
	failureStyle  = lipgloss.NewStyle().Foreground(colorRed).Bold(true)
	helpKeyStyle  = lipgloss.NewStyle().Foreground(colorCyan).Bold(true)
	helpDescStyle = lipgloss.NewStyle().Foreground(colorSubtle)
)
