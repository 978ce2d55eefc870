// Package ui holds the lipgloss styles used by the artwork viewer.
package ui

import "github.com/charmbracelet/lipgloss"

// Theme is the set of styles the viewer renders with.
type Theme struct {
	Name    string
	Title   lipgloss.Style
	Artist  lipgloss.Style
	Text    lipgloss.Style
	Dim     lipgloss.Style
	Key     lipgloss.Style
	Error   lipgloss.Style
	Success lipgloss.Style
	Pending lipgloss.Style
	Frame   lipgloss.Style
}

// Status selects how a resolution status line is drawn.
type Status int

const (
	StatusIdle Status = iota
	StatusPending
	StatusFound
	StatusMissing
	StatusFailed
)

// Render draws s with the style for status.
func (t Theme) Render(status Status, s string) string {
	switch status {
	case StatusPending:
		return t.Pending.Render(s)
	case StatusFound:
		return t.Success.Render(s)
	case StatusMissing:
		return t.Dim.Render(s)
	case StatusFailed:
		return t.Error.Render(s)
	}
	return t.Text.Render(s)
}

var themeRegistry = map[string]func() Theme{
	"rainbow": Rainbow,
	"mono":    Monochrome,
	"nocolor": NoColor,
}

// ThemeNames returns the available theme names.
func ThemeNames() []string {
	return []string{"rainbow", "mono", "nocolor"}
}

// GetTheme returns a theme by name, Rainbow when the name is unknown.
// noColor (NO_COLOR set) always wins.
func GetTheme(name string, noColor bool) Theme {
	if noColor {
		return NoColor()
	}
	if fn, ok := themeRegistry[name]; ok {
		return fn()
	}
	return Rainbow()
}

func ValidTheme(name string) bool {
	_, ok := themeRegistry[name]
	return ok
}

// Rainbow is the default theme.
func Rainbow() Theme {
	return Theme{
		Name:    "rainbow",
		Title:   lipgloss.NewStyle().Foreground(lipgloss.Color("#8EEBFF")).Bold(true),
		Artist:  lipgloss.NewStyle().Foreground(lipgloss.Color("#FF6FF7")),
		Text:    lipgloss.NewStyle().Foreground(lipgloss.Color("#E6E6FA")),
		Dim:     lipgloss.NewStyle().Foreground(lipgloss.Color("#6C6F93")),
		Key:     lipgloss.NewStyle().Foreground(lipgloss.Color("#FFA7C4")).Italic(true),
		Error:   lipgloss.NewStyle().Foreground(lipgloss.Color("#FF5F56")).Bold(true),
		Success: lipgloss.NewStyle().Foreground(lipgloss.Color("#5CFF5C")),
		Pending: lipgloss.NewStyle().Foreground(lipgloss.Color("#FFD166")),
		Frame: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#7C7CFF")).
			Padding(0, 1),
	}
}

// Monochrome uses shades of gray only.
func Monochrome() Theme {
	return Theme{
		Name:    "mono",
		Title:   lipgloss.NewStyle().Foreground(lipgloss.Color("#FFFFFF")).Bold(true),
		Artist:  lipgloss.NewStyle().Foreground(lipgloss.Color("#CCCCCC")),
		Text:    lipgloss.NewStyle().Foreground(lipgloss.Color("#CCCCCC")),
		Dim:     lipgloss.NewStyle().Foreground(lipgloss.Color("#666666")),
		Key:     lipgloss.NewStyle().Foreground(lipgloss.Color("#AAAAAA")).Italic(true),
		Error:   lipgloss.NewStyle().Foreground(lipgloss.Color("#FFFFFF")).Bold(true).Underline(true),
		Success: lipgloss.NewStyle().Foreground(lipgloss.Color("#FFFFFF")),
		Pending: lipgloss.NewStyle().Foreground(lipgloss.Color("#AAAAAA")),
		Frame: lipgloss.NewStyle().
			Border(lipgloss.NormalBorder()).
			BorderForeground(lipgloss.Color("#888888")).
			Padding(0, 1),
	}
}

// NoColor relies on bold, underline and reverse instead of colors.
func NoColor() Theme {
	reset := lipgloss.NewStyle()
	return Theme{
		Name:    "nocolor",
		Title:   reset.Bold(true),
		Artist:  reset,
		Text:    reset,
		Dim:     reset,
		Key:     reset.Underline(true),
		Error:   reset.Bold(true).Reverse(true),
		Success: reset.Bold(true),
		Pending: reset,
		Frame:   reset.Border(lipgloss.NormalBorder()).Padding(0, 1),
	}
}
