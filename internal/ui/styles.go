// Package ui renders command output for the terminal: styled tables and
// markdown reports.
package ui

import (
	"os"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// Theme holds the colors of one terminal background.
type Theme struct {
	Primary lipgloss.Color
	Muted   lipgloss.Color
	Danger  lipgloss.Color
	Success lipgloss.Color
	IsDark  bool
}

// LightTheme returns the colors for light terminals.
func LightTheme() Theme {
	return Theme{
		Primary: lipgloss.Color("#101F38"),
		Muted:   lipgloss.Color("#6b7280"),
		Danger:  lipgloss.Color("#e53935"),
		Success: lipgloss.Color("#2e7d32"),
	}
}

// DarkTheme returns the colors for dark terminals.
func DarkTheme() Theme {
	return Theme{
		Primary: lipgloss.Color("#8BC34A"),
		Muted:   lipgloss.Color("#9ca3af"),
		Danger:  lipgloss.Color("#ef5350"),
		Success: lipgloss.Color("#8BC34A"),
		IsDark:  true,
	}
}

// DetectTheme reads COLORFGBG ("fg;bg") and AUTOPN_DARK_MODE. Light is the
// default.
func DetectTheme() Theme {
	if parts := strings.Split(os.Getenv("COLORFGBG"), ";"); len(parts) == 2 {
		if bg, err := strconv.Atoi(parts[1]); err == nil && ((bg >= 0 && bg <= 6) || bg == 8) {
			return DarkTheme()
		}
	}
	if os.Getenv("AUTOPN_DARK_MODE") == "1" {
		return DarkTheme()
	}
	return LightTheme()
}

// Styles are the text styles built from a theme.
type Styles struct {
	Theme   Theme
	Title   lipgloss.Style
	Bold    lipgloss.Style
	Body    lipgloss.Style
	Muted   lipgloss.Style
	Error   lipgloss.Style
	Success lipgloss.Style
}

// NewStyles builds the styles of theme.
func NewStyles(theme Theme) Styles {
	return Styles{
		Theme:   theme,
		Title:   lipgloss.NewStyle().Foreground(theme.Primary).Bold(true),
		Bold:    lipgloss.NewStyle().Bold(true),
		Body:    lipgloss.NewStyle(),
		Muted:   lipgloss.NewStyle().Foreground(theme.Muted),
		Error:   lipgloss.NewStyle().Foreground(theme.Danger).Bold(true),
		Success: lipgloss.NewStyle().Foreground(theme.Success),
	}
}

// DefaultStyles returns the styles of the detected theme.
func DefaultStyles() Styles {
	return NewStyles(DetectTheme())
}
