package term

import "github.com/charmbracelet/lipgloss"

// Chamber palette: black screen, white keys, grey when inactive.
var (
	ColorScreen   = lipgloss.Color("#000000")
	ColorKey      = lipgloss.Color("#f5f5f5")
	ColorInactive = lipgloss.Color("#585b70")
	ColorText     = lipgloss.Color("#cdd6f4")
	ColorAccent   = lipgloss.Color("#f9e2af")
)

var (
	screenStyle   = lipgloss.NewStyle().Background(ColorScreen)
	keyStyle      = lipgloss.NewStyle().Background(ColorKey).Foreground(ColorScreen).Bold(true)
	inactiveStyle = lipgloss.NewStyle().Background(ColorInactive).Foreground(ColorText)
	textStyle     = lipgloss.NewStyle().Background(ColorScreen).Foreground(ColorText).Italic(true)
	helpStyle     = lipgloss.NewStyle().Foreground(ColorAccent)
)
