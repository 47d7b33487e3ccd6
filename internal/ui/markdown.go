package ui

import (
	"github.com/charmbracelet/glamour"
)

// WrapWidth is the word wrap of rendered markdown.
const WrapWidth = 80

// RenderMarkdown renders md for the terminal. The raw text is returned if
// the renderer cannot be built or fails.
func RenderMarkdown(md string, theme Theme) string {
	opt := glamour.WithStylePath("light")
	if theme.IsDark {
		opt = glamour.WithStylePath("dark")
	}
	r, err := glamour.NewTermRenderer(opt, glamour.WithWordWrap(WrapWidth))
	if err != nil {
		return md
	}
	out, err := r.Render(md)
	if err != nil {
		return md
	}
	return out
}
