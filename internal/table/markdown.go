package table

import (
	"fmt"
	"strings"
)

// Markdown renders up to maxRows rows as a GitHub-flavoured table. A negative
// maxRows renders every row.
func (t *Table) Markdown(maxRows int) string {
	var b strings.Builder
	b.WriteString("|")
	for _, c := range t.Columns {
		b.WriteString(" " + escapeCell(c) + " |")
	}
	b.WriteString("\n|")
	for range t.Columns {
		b.WriteString(" --- |")
	}
	b.WriteString("\n")

	rows := t.Rows
	if maxRows >= 0 && len(rows) > maxRows {
		rows = rows[:maxRows]
	}
	for _, r := range rows {
		b.WriteString("|")
		for _, v := range r {
			b.WriteString(" " + escapeCell(FormatCell(v)) + " |")
		}
		b.WriteString("\n")
	}
	if omitted := len(t.Rows) - len(rows); omitted > 0 {
		fmt.Fprintf(&b, "\n... %d more rows\n", omitted)
	}
	return b.String()
}

func escapeCell(s string) string {
	s = strings.ReplaceAll(s, "|", "\\|")
	return strings.ReplaceAll(s, "\n", " ")
}
