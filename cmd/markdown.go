package cmd

import (
	"strings"

	"github.com/charmbracelet/glamour"
)

// renderMarkdown converts Markdown to styled terminal output. Returns
// the text unchanged when the renderer is unavailable, so rendering
// problems never lose an answer.
func renderMarkdown(text string) string {
	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(), // detect light/dark terminal
		glamour.WithWordWrap(100),
	)
	if err != nil {
		return text
	}

	rendered, err := r.Render(text)
	if err != nil {
		return text
	}
	return strings.TrimSuffix(rendered, "\n")
}
