package q

import (
	"fmt"
	"sort"
)

// Names renders a parenthesized, dialect-quoted column-name list,
// e.g. ("id", "name") under double-quote rules.
func Names(columns ...string) *Query {
	b := newBuilder()
	b.addText("(")
	for i, col := range columns {
		if i > 0 {
			b.addText(", ")
		}
		b.addPart(part{kind: partIdent, ident: col})
	}
	b.addText(")")
	return b.query()
}

// Values renders a multi-row VALUES grid: (?, ?), (?, ?), ...
// Every row must have the same length. Panics on empty input or a row
// length mismatch (fail fast).
func Values(rows ...[]any) *Query {
	if len(rows) == 0 {
		panic("q: Values requires at least one row")
	}
	width := len(rows[0])
	b := newBuilder()
	for i, row := range rows {
		if len(row) != width {
			panic(fmt.Sprintf("q: Values row %d has %d values, expected %d", i, len(row), width))
		}
		if i > 0 {
			b.addText(", ")
		}
		b.addText("(")
		for j, v := range row {
			if j > 0 {
				b.addText(", ")
			}
			b.addPart(partFor(v))
		}
		b.addText(")")
	}
	return b.query()
}

// ValuesMap renders a VALUES grid from row maps, extracting values in
// column order. Missing columns yield nil values.
func ValuesMap(columns []string, rows ...map[string]any) *Query {
	grid := make([][]any, len(rows))
	for i, row := range rows {
		vals := make([]any, len(columns))
		for j, col := range columns {
			vals[j] = row[col]
		}
		grid[i] = vals
	}
	return Values(grid...)
}

// ColumnsOf returns the sorted column names of a row map. Sorting keeps
// generated SQL deterministic across runs (prevents cache misses).
func ColumnsOf(row map[string]any) []string {
	cols := make([]string, 0, len(row))
	for col := range row {
		cols = append(cols, col)
	}
	sort.Strings(cols)
	return cols
}
