package main

import (
	"fmt"
	"strings"

	"github.com/mattn/go-runewidth"
)

// table renders simple aligned columns, padding by display width rather
// than byte or rune count so keys/payloads containing wide characters
// still line up.
type table struct {
	headers []string
	rows    [][]string
}

func newTable(headers ...string) *table {
	return &table{headers: headers}
}

func (t *table) addRow(cols ...string) {
	t.rows = append(t.rows, cols)
}

func (t *table) render() string {
	widths := make([]int, len(t.headers))
	for i, h := range t.headers {
		widths[i] = runewidth.StringWidth(h)
	}
	for _, row := range t.rows {
		for i, c := range row {
			if i >= len(widths) {
				continue
			}
			if w := runewidth.StringWidth(c); w > widths[i] {
				widths[i] = w
			}
		}
	}

	var b strings.Builder
	writeRow(&b, t.headers, widths)

	var sep []string
	for _, w := range widths {
		sep = append(sep, strings.Repeat("-", w))
	}
	writeRow(&b, sep, widths)

	for _, row := range t.rows {
		writeRow(&b, row, widths)
	}
	return b.String()
}

func writeRow(b *strings.Builder, cols []string, widths []int) {
	for i, w := range widths {
		col := ""
		if i < len(cols) {
			col = cols[i]
		}
		fmt.Fprint(b, runewidth.FillRight(col, w))
		if i < len(widths)-1 {
			b.WriteString("  ")
		}
	}
	b.WriteString("\n")
}
