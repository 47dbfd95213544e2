package table

import (
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func orders() *Table {
	t := New("orders.csv", []string{"id", "region", "amount"})
	for i := 1; i <= 10; i++ {
		region := "north"
		if i%2 == 0 {
			region = "south"
		}
		t.Append([]any{float64(i), region, float64(i)})
	}
	return t
}

func TestAppendPadsAndTruncates(t *testing.T) {
	tb := New("t", []string{"a", "b"})
	tb.Append([]any{1.0})
	tb.Append([]any{1.0, 2.0, 3.0})
	assert.Equal(t, [][]any{{1.0, nil}, {1.0, 2.0}}, tb.Rows)
}

func TestColumnAndHead(t *testing.T) {
	tb := orders()
	col, ok := tb.Column("amount")
	require.True(t, ok)
	assert.Len(t, col, 10)
	_, ok = tb.Column("missing")
	assert.False(t, ok)

	h := tb.Head(2)
	assert.Equal(t, 2, h.NumRows())
	assert.Equal(t, 0, tb.Head(-1).NumRows())
	assert.Equal(t, 10, tb.Head(50).NumRows())
}

func TestCloneIsDeep(t *testing.T) {
	tb := orders()
	c := tb.Clone()
	c.Rows[0][2] = 999.0
	assert.Equal(t, 1.0, tb.Rows[0][2])
}

func TestConcatUnionsColumns(t *testing.T) {
	a := New("a.csv", []string{"id", "amount"})
	a.Append([]any{1.0, 10.0})
	b := New("b.csv", []string{"id", "customer"})
	b.Append([]any{2.0, "acme"})

	all := Concat("all", a, b)
	assert.Equal(t, []string{"id", "amount", "customer"}, all.Columns)
	assert.Equal(t, [][]any{{1.0, 10.0, nil}, {2.0, nil, "acme"}}, all.Rows)
}

func TestParseCell(t *testing.T) {
	assert.Nil(t, ParseCell("  "))
	assert.Nil(t, ParseCell("NaN"))
	assert.Equal(t, 3.5, ParseCell(" 3.5 "))
	assert.Equal(t, -2.0, ParseCell("-2"))
	assert.Equal(t, "Inf-ish", ParseCell("Inf-ish"))
	assert.Equal(t, "1e999", ParseCell("1e999"))
	assert.Equal(t, "north", ParseCell("north"))
}

func TestFormatCell(t *testing.T) {
	assert.Equal(t, "55", FormatCell(55.0))
	assert.Equal(t, "5.5", FormatCell(5.5))
	assert.Equal(t, "NaN", FormatCell(nil))
	assert.Equal(t, "NaN", FormatCell(math.NaN()))
	assert.Equal(t, "x", FormatCell("x"))
}

func TestDType(t *testing.T) {
	tb := New("t", []string{"i", "f", "s", "empty"})
	tb.Append([]any{1.0, 1.5, "a", nil})
	tb.Append([]any{nil, 2.0, 3.0, nil})
	assert.Equal(t, "int64", tb.DType(0))
	assert.Equal(t, "float64", tb.DType(1))
	assert.Equal(t, "object", tb.DType(2))
	assert.Equal(t, "object", tb.DType(3))
}

func TestStats(t *testing.T) {
	xs := []float64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}
	assert.Equal(t, 55.0, Sum(xs))
	assert.Equal(t, 5.5, Mean(xs))
	assert.InDelta(t, 3.0276503, Std(xs), 1e-6)
	assert.Equal(t, 1.0, Min(xs))
	assert.Equal(t, 10.0, Max(xs))
	assert.Equal(t, 3.25, Quantile(xs, 0.25))
	assert.Equal(t, 5.5, Quantile(xs, 0.5))
	assert.True(t, math.IsNaN(Mean(nil)))
	assert.True(t, math.IsNaN(Std([]float64{1})))
}

func TestInfo(t *testing.T) {
	info := orders().Info()
	assert.Contains(t, info, "RangeIndex: 10 entries, 0 to 9")
	assert.Contains(t, info, "Data columns (total 3 columns):")
	assert.Contains(t, info, "10 non-null")
	assert.Contains(t, info, "dtypes: int64(2), object(1)")
	lines := strings.Split(info, "\n")
	assert.True(t, strings.HasPrefix(lines[0], "Table: orders.csv"))
}

func TestDescribeNumeric(t *testing.T) {
	d := orders().Describe()
	assert.Equal(t, []string{"", "id", "amount"}, d.Columns)
	require.Equal(t, 8, d.NumRows())
	assert.Equal(t, []any{"count", 10.0, 10.0}, d.Rows[0])
	assert.Equal(t, []any{"mean", 5.5, 5.5}, d.Rows[1])
	assert.Equal(t, []any{"max", 10.0, 10.0}, d.Rows[7])
}

func TestDescribeObjectsOnly(t *testing.T) {
	tb := New("t", []string{"region"})
	for _, r := range []string{"north", "south", "north"} {
		tb.Append([]any{r})
	}
	d := tb.Describe()
	assert.Equal(t, []any{"count", 3.0}, d.Rows[0])
	assert.Equal(t, []any{"unique", 2.0}, d.Rows[1])
	assert.Equal(t, []any{"top", "north"}, d.Rows[2])
	assert.Equal(t, []any{"freq", 2.0}, d.Rows[3])
}

func TestMarkdown(t *testing.T) {
	tb := New("t", []string{"name", "value"})
	tb.Append([]any{"a|b", 1.0})
	tb.Append([]any{"c", nil})
	tb.Append([]any{"d", 2.5})

	md := tb.Markdown(2)
	assert.Equal(t, "| name | value |\n| --- | --- |\n| a\\|b | 1 |\n| c | NaN |\n\n... 1 more rows\n", md)
	assert.NotContains(t, tb.Markdown(-1), "more rows")
}

func TestSortedNames(t *testing.T) {
	assert.Equal(t, []string{"a", "b", "c"}, SortedNames(map[string]*Table{"c": nil, "a": nil, "b": nil}))
}
