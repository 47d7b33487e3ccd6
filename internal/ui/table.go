package ui

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// Table is a static table with a title and a header row.
type Table struct {
	Title   string
	Headers []string
	Rows    [][]string
	Footer  string
}

// NewTable creates an empty table.
func NewTable(title string, headers ...string) *Table {
	return &Table{Title: title, Headers: headers}
}

// AddRow appends a row. Cells past the header count are dropped when
// rendering.
func (t *Table) AddRow(cells ...string) {
	t.Rows = append(t.Rows, cells)
}

// View renders the table with styles. An empty table renders its title
// and footer only.
func (t *Table) View(styles Styles) string {
	var sb strings.Builder
	if t.Title != "" {
		sb.WriteString(styles.Title.Render(t.Title))
		sb.WriteString("\n")
	}

	if len(t.Rows) > 0 {
		widths := make([]int, len(t.Headers))
		for i, h := range t.Headers {
			widths[i] = lipgloss.Width(h)
		}
		for _, row := range t.Rows {
			for i, cell := range row {
				if i < len(widths) {
					widths[i] = max(widths[i], lipgloss.Width(cell))
				}
			}
		}
		// lipgloss widths include padding
		for i := range widths {
			widths[i] += 2
		}

		header := styles.Bold.Padding(0, 1)
		body := styles.Body.Padding(0, 1)
		sep := styles.Muted.Render("|")

		t.line(&sb, t.Headers, widths, header, sep)
		total := len(widths) - 1
		for _, w := range widths {
			total += w
		}
		sb.WriteString(styles.Muted.Render(strings.Repeat("-", total)))
		sb.WriteString("\n")
		for _, row := range t.Rows {
			t.line(&sb, row, widths, body, sep)
		}
	}

	if t.Footer != "" {
		sb.WriteString(styles.Muted.Render(t.Footer))
		sb.WriteString("\n")
	}
	return sb.String()
}

func (t *Table) line(sb *strings.Builder, cells []string, widths []int, style lipgloss.Style, sep string) {
	for i := range widths {
		cell := ""
		if i < len(cells) {
			cell = cells[i]
		}
		sb.WriteString(style.Width(widths[i]).Render(cell))
		if i < len(widths)-1 {
			sb.WriteString(sep)
		}
	}
	sb.WriteString("\n")
}
