package table

import (
	"fmt"
	"math"
	"sort"
	"strings"
)

// DType reports the dtype of column idx: int64 or float64 when
// every non-null cell is numeric, object otherwise.
func (t *Table) DType(idx int) string {
	allInt := true
	numeric := true
	seen := false
	for _, r := range t.Rows {
		v := r[idx]
		if v == nil {
			continue
		}
		seen = true
		f, ok := v.(float64)
		if !ok {
			numeric = false
			break
		}
		if f != math.Trunc(f) {
			allInt = false
		}
	}
	switch {
	case !seen:
		return "object"
	case !numeric:
		return "object"
	case allInt:
		return "int64"
	default:
		return "float64"
	}
}

// IsNumeric reports whether column idx holds only numbers (nulls allowed).
func (t *Table) IsNumeric(idx int) bool {
	dt := t.DType(idx)
	return dt == "int64" || dt == "float64"
}

// NonNull counts non-missing cells in column idx.
func (t *Table) NonNull(idx int) int {
	n := 0
	for _, r := range t.Rows {
		if r[idx] != nil {
			n++
		}
	}
	return n
}

// Floats returns the numeric cells of a column, skipping nulls and text.
func Floats(cells []any) []float64 {
	out := make([]float64, 0, len(cells))
	for _, v := range cells {
		if f, ok := AsFloat(v); ok {
			out = append(out, f)
		}
	}
	return out
}

func Sum(xs []float64) float64 {
	var s float64
	for _, x := range xs {
		s += x
	}
	return s
}

// Mean returns NaN for an empty slice.
func Mean(xs []float64) float64 {
	if len(xs) == 0 {
		return math.NaN()
	}
	return Sum(xs) / float64(len(xs))
}

// Std is the sample standard deviation (ddof=1).
func Std(xs []float64) float64 {
	if len(xs) < 2 {
		return math.NaN()
	}
	m := Mean(xs)
	var ss float64
	for _, x := range xs {
		ss += (x - m) * (x - m)
	}
	return math.Sqrt(ss / float64(len(xs)-1))
}

func Min(xs []float64) float64 {
	if len(xs) == 0 {
		return math.NaN()
	}
	m := xs[0]
	for _, x := range xs[1:] {
		m = math.Min(m, x)
	}
	return m
}

func Max(xs []float64) float64 {
	if len(xs) == 0 {
		return math.NaN()
	}
	m := xs[0]
	for _, x := range xs[1:] {
		m = math.Max(m, x)
	}
	return m
}

// Quantile uses linear interpolation between closest ranks.
func Quantile(xs []float64, q float64) float64 {
	if len(xs) == 0 {
		return math.NaN()
	}
	s := append([]float64(nil), xs...)
	sort.Float64s(s)
	pos := q * float64(len(s)-1)
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	if lo == hi {
		return s[lo]
	}
	return s[lo] + (s[hi]-s[lo])*(pos-float64(lo))
}

// Info renders a column listing in the spirit of DataFrame.info().
func (t *Table) Info() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Table: %s\n", t.Name)
	if n := len(t.Rows); n > 0 {
		fmt.Fprintf(&b, "RangeIndex: %d entries, 0 to %d\n", n, n-1)
	} else {
		b.WriteString("RangeIndex: 0 entries\n")
	}
	fmt.Fprintf(&b, "Data columns (total %d columns):\n", len(t.Columns))

	width := len("Column")
	for _, c := range t.Columns {
		width = max(width, len(c))
	}
	fmt.Fprintf(&b, " %-3s %-*s  %-14s  %s\n", "#", width, "Column", "Non-Null Count", "Dtype")
	fmt.Fprintf(&b, " %-3s %-*s  %-14s  %s\n", "---", width, "------", "--------------", "-----")

	counts := make(map[string]int)
	var order []string
	for i, c := range t.Columns {
		dt := t.DType(i)
		if counts[dt] == 0 {
			order = append(order, dt)
		}
		counts[dt]++
		fmt.Fprintf(&b, " %-3d %-*s  %-14s  %s\n", i, width, c, fmt.Sprintf("%d non-null", t.NonNull(i)), dt)
	}
	sort.Strings(order)
	parts := make([]string, len(order))
	for i, dt := range order {
		parts[i] = fmt.Sprintf("%s(%d)", dt, counts[dt])
	}
	fmt.Fprintf(&b, "dtypes: %s\n", strings.Join(parts, ", "))
	return b.String()
}

// Describe summarises numeric columns with count, mean, std, min, quartiles
// and max. A table without numeric columns is summarised with count, unique,
// top and freq over its text columns instead.
func (t *Table) Describe() *Table {
	var numeric []int
	for i := range t.Columns {
		if t.IsNumeric(i) && t.NonNull(i) > 0 {
			numeric = append(numeric, i)
		}
	}
	if len(numeric) == 0 {
		return t.describeObjects()
	}

	cols := []string{""}
	for _, i := range numeric {
		cols = append(cols, t.Columns[i])
	}
	out := New(t.Name+" (describe)", cols)

	stats := []struct {
		name string
		fn   func([]float64) float64
	}{
		{"count", func(xs []float64) float64 { return float64(len(xs)) }},
		{"mean", Mean},
		{"std", Std},
		{"min", Min},
		{"25%", func(xs []float64) float64 { return Quantile(xs, 0.25) }},
		{"50%", func(xs []float64) float64 { return Quantile(xs, 0.5) }},
		{"75%", func(xs []float64) float64 { return Quantile(xs, 0.75) }},
		{"max", Max},
	}

	values := make([][]float64, len(numeric))
	for j, i := range numeric {
		cells, _ := t.Column(t.Columns[i])
		values[j] = Floats(cells)
	}
	for _, s := range stats {
		row := []any{s.name}
		for j := range numeric {
			v := s.fn(values[j])
			if math.IsNaN(v) {
				row = append(row, nil)
			} else {
				row = append(row, round(v, 6))
			}
		}
		out.Append(row)
	}
	return out
}

func (t *Table) describeObjects() *Table {
	cols := append([]string{""}, t.Columns...)
	out := New(t.Name+" (describe)", cols)
	count := []any{"count"}
	unique := []any{"unique"}
	top := []any{"top"}
	freq := []any{"freq"}
	for i := range t.Columns {
		freqs := make(map[string]int)
		n := 0
		for _, r := range t.Rows {
			if r[i] == nil {
				continue
			}
			n++
			freqs[FormatCell(r[i])]++
		}
		best, bestN := "", 0
		for k, c := range freqs {
			if c > bestN || (c == bestN && k < best) {
				best, bestN = k, c
			}
		}
		count = append(count, float64(n))
		unique = append(unique, float64(len(freqs)))
		if n == 0 {
			top = append(top, nil)
			freq = append(freq, nil)
		} else {
			top = append(top, best)
			freq = append(freq, float64(bestN))
		}
	}
	out.Append(count)
	out.Append(unique)
	out.Append(top)
	out.Append(freq)
	return out
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
