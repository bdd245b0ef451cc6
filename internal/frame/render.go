package frame

import (
	"fmt"
	"io"
	"strings"
	"time"
	"unicode/utf8"
)

// renderRows draws rows as a bordered grid. Cell values are never truncated.
func renderRows(w io.Writer, rows Rows) error {
	cells := make([][]string, 0, len(rows.Values))
	widths := make([]int, len(rows.Columns))
	for i, name := range rows.Columns {
		widths[i] = utf8.RuneCountInString(name)
	}
	for _, values := range rows.Values {
		line := make([]string, len(rows.Columns))
		for i := range rows.Columns {
			if i < len(values) {
				line[i] = formatCell(values[i])
			}
			if n := utf8.RuneCountInString(line[i]); n > widths[i] {
				widths[i] = n
			}
		}
		cells = append(cells, line)
	}

	var b strings.Builder
	border := borderLine(widths)
	b.WriteString(border)
	writeLine(&b, widths, rows.Columns)
	b.WriteString(border)
	for _, line := range cells {
		writeLine(&b, widths, line)
	}
	b.WriteString(border)

	_, err := io.WriteString(w, b.String())
	return err
}

func borderLine(widths []int) string {
	var b strings.Builder
	b.WriteString("+")
	for _, width := range widths {
		b.WriteString(strings.Repeat("-", width))
		b.WriteString("+")
	}
	b.WriteString("\n")
	return b.String()
}

func writeLine(b *strings.Builder, widths []int, values []string) {
	b.WriteString("|")
	for i, width := range widths {
		value := values[i]
		b.WriteString(strings.Repeat(" ", width-utf8.RuneCountInString(value)))
		b.WriteString(value)
		b.WriteString("|")
	}
	b.WriteString("\n")
}

func formatCell(value any) string {
	switch typed := value.(type) {
	case nil:
		return "NULL"
	case []byte:
		return string(typed)
	case time.Time:
		return typed.UTC().Format("2006-01-02 15:04:05")
	default:
		return fmt.Sprint(typed)
	}
}
