package tui

import "github.com/charmbracelet/lipgloss"

// Theme holds the watch screen styles.
type Theme struct {
	Good  lipgloss.Style
	Busy  lipgloss.Style
	Bad   lipgloss.Style
	Panel lipgloss.Style

	Heading lipgloss.Style
	Muted   lipgloss.Style
	Accent  lipgloss.Style
}

func NewDefaultTheme() Theme {
	fg := func(c string) lipgloss.Style { return lipgloss.NewStyle().Foreground(lipgloss.Color(c)) }

	return Theme{
		Good: fg("#5FD787"),
		Busy: fg("#FFD75F"),
		Bad:  fg("#FF5F5F"),
		Panel: lipgloss.NewStyle().
			Border(lipgloss.NormalBorder()).
			BorderForeground(lipgloss.Color("#5F87AF")),
		Heading: fg("#EEEEEE").Bold(true).PaddingLeft(1),
		Muted:   fg("#767676"),
		Accent:  fg("#87D7FF").Bold(true),
	}
}

// statusStyle colors a job status; anything not running or succeeded is a failure.
func (t Theme) statusStyle(status string) lipgloss.Style {
	switch status {
	case "succeeded":
		return t.Good
	case "running":
		return t.Busy
	default:
		return t.Bad
	}
}
