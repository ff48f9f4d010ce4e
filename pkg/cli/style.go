package cli

import (
	"fmt"
	"os"

	"github.com/charmbracelet/lipgloss"
)

// Theme defines the status colors.
type Theme struct {
	Success lipgloss.Color
	Info    lipgloss.Color
	Warning lipgloss.Color
	Error   lipgloss.Color
	Dim     lipgloss.Color
}

// DefaultTheme is the default theme.
var DefaultTheme = Theme{
	Success: lipgloss.Color("#00ff9f"),
	Info:    lipgloss.Color("#58a6ff"),
	Warning: lipgloss.Color("#d29922"),
	Error:   lipgloss.Color("#f85149"),
	Dim:     lipgloss.Color("#6e7681"),
}

// Styles holds the styles derived from a theme.
type Styles struct {
	Success lipgloss.Style
	Info    lipgloss.Style
	Warning lipgloss.Style
	Error   lipgloss.Style
	Dim     lipgloss.Style
}

// NewStyles creates styles from a theme.
func NewStyles(t Theme) Styles {
	return Styles{
		Success: lipgloss.NewStyle().Bold(true).Foreground(t.Success),
		Info:    lipgloss.NewStyle().Foreground(t.Info),
		Warning: lipgloss.NewStyle().Bold(true).Foreground(t.Warning),
		Error:   lipgloss.NewStyle().Bold(true).Foreground(t.Error),
		Dim:     lipgloss.NewStyle().Foreground(t.Dim),
	}
}

var styles = NewStyles(DefaultTheme)

// PrintSuccess prints a success message with checkmark
func PrintSuccess(format string, args ...any) {
	fmt.Println(styles.Success.Render("✓") + " " + fmt.Sprintf(format, args...))
}

// PrintError prints an error message to stderr
func PrintError(format string, args ...any) {
	fmt.Fprintln(os.Stderr, styles.Error.Render("Error:")+" "+fmt.Sprintf(format, args...))
}

// PrintInfo prints an info message to stderr, keeping stdout for results.
func PrintInfo(format string, args ...any) {
	fmt.Fprintln(os.Stderr, styles.Info.Render("ℹ")+" "+fmt.Sprintf(format, args...))
}

// PrintWarning prints a warning message to stderr
func PrintWarning(format string, args ...any) {
	fmt.Fprintln(os.Stderr, styles.Warning.Render("⚠")+" "+fmt.Sprintf(format, args...))
}

// Dim renders secondary text.
func Dim(s string) string {
	return styles.Dim.Render(s)
}
