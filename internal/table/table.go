// Package table holds the in-memory tabular data that the agent analyses.
//
// Cells are dynamically typed: nil for missing values, float64 for anything
// that parses as a number, string otherwise. This mirrors how spreadsheet and
// CSV data arrive and keeps the JavaScript bindings in sandbox simple.
package table

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
)

// Table is a named, rectangular set of rows. Every row has len(Columns) cells.
type Table struct {
	Name    string
	Columns []string
	Rows    [][]any
}

// New returns an empty table with the given columns.
func New(name string, columns []string) *Table {
	return &Table{Name: name, Columns: append([]string(nil), columns...)}
}

// Append adds a row, padding with nil or truncating to the column count.
func (t *Table) Append(row []any) {
	r := make([]any, len(t.Columns))
	copy(r, row)
	t.Rows = append(t.Rows, r)
}

// NumRows returns the number of rows.
func (t *Table) NumRows() int { return len(t.Rows) }

// ColumnIndex returns the position of the named column, or -1.
func (t *Table) ColumnIndex(name string) int {
	for i, c := range t.Columns {
		if c == name {
			return i
		}
	}
	return -1
}

// Column returns a copy of the named column's cells.
func (t *Table) Column(name string) ([]any, bool) {
	idx := t.ColumnIndex(name)
	if idx < 0 {
		return nil, false
	}
	out := make([]any, len(t.Rows))
	for i, r := range t.Rows {
		out[i] = r[idx]
	}
	return out, true
}

// Head returns a table holding at most the first n rows.
func (t *Table) Head(n int) *Table {
	if n > len(t.Rows) {
		n = len(t.Rows)
	}
	if n < 0 {
		n = 0
	}
	h := New(t.Name, t.Columns)
	for _, r := range t.Rows[:n] {
		h.Append(r)
	}
	return h
}

// Clone returns a deep copy so that callers can mutate rows freely.
func (t *Table) Clone() *Table {
	c := New(t.Name, t.Columns)
	c.Rows = make([][]any, len(t.Rows))
	for i, r := range t.Rows {
		c.Rows[i] = append([]any(nil), r...)
	}
	return c
}

// Concat stacks tables vertically. The result has the union of all columns in
// first-seen order; cells for columns a source table lacks are nil.
func Concat(name string, tables ...*Table) *Table {
	var cols []string
	seen := make(map[string]bool)
	for _, t := range tables {
		for _, c := range t.Columns {
			if !seen[c] {
				seen[c] = true
				cols = append(cols, c)
			}
		}
	}

	out := New(name, cols)
	for _, t := range tables {
		mapping := make([]int, len(t.Columns))
		for i, c := range t.Columns {
			mapping[i] = out.ColumnIndex(c)
		}
		for _, r := range t.Rows {
			row := make([]any, len(cols))
			for i, v := range r {
				row[mapping[i]] = v
			}
			out.Rows = append(out.Rows, row)
		}
	}
	return out
}

// SortedNames returns the map keys in lexical order.
func SortedNames(tables map[string]*Table) []string {
	names := make([]string, 0, len(tables))
	for n := range tables {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// ParseCell converts raw text to a cell value.
func ParseCell(raw string) any {
	s := strings.TrimSpace(raw)
	if s == "" {
		return nil
	}
	switch strings.ToLower(s) {
	case "nan", "null", "na", "n/a":
		return nil
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil && !math.IsInf(f, 0) {
		return f
	}
	return s
}

// AsFloat reports the numeric value of a cell.
func AsFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, !math.IsNaN(n)
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case bool:
		if n {
			return 1, true
		}
		return 0, true
	}
	return 0, false
}

// FormatCell renders a cell for display. Whole numbers print without a
// fractional part; missing cells print as NaN.
func FormatCell(v any) string {
	switch n := v.(type) {
	case nil:
		return "NaN"
	case float64:
		if math.IsNaN(n) {
			return "NaN"
		}
		if n == math.Trunc(n) && math.Abs(n) < 1e15 {
			return strconv.FormatFloat(n, 'f', 0, 64)
		}
		return strconv.FormatFloat(n, 'f', -1, 64)
	case string:
		return n
	default:
		return fmt.Sprint(n)
	}
}
