package sandbox

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kalambet/datalens/internal/chart"
	"github.com/kalambet/datalens/internal/table"
)

func orders() *table.Table {
	t := table.New("orders.csv", []string{"id", "region", "amount"})
	t.Append([]any{1.0, "north", 10.0})
	t.Append([]any{2.0, "south", 20.0})
	t.Append([]any{3.0, "north", 25.0})
	return t
}

func runCode(t *testing.T, code string) Result {
	t.Helper()
	return NewJSExecutor(2*time.Second).Execute(context.Background(), code, orders())
}

func number(t *testing.T, v any) float64 {
	t.Helper()
	f, ok := table.AsFloat(v)
	require.True(t, ok, "value %v (%T) is not a number", v, v)
	return f
}

func TestExecute_Sum(t *testing.T) {
	res := runCode(t, `resultado = df['amount'].sum()`)
	require.NoError(t, res.Err)
	assert.Equal(t, 55.0, number(t, res.Value))
	assert.Equal(t, "55", res.Text)
	assert.Nil(t, res.Chart)
}

func TestExecute_ResultAlias(t *testing.T) {
	res := runCode(t, `result = df.amount.mean()`)
	require.NoError(t, res.Err)
	assert.InDelta(t, 18.333333, number(t, res.Value), 1e-6)
	assert.Equal(t, "18.333333", res.Text)
}

func TestExecute_NoResult(t *testing.T) {
	res := runCode(t, `const x = 1 + 1`)
	require.NoError(t, res.Err)
	assert.Nil(t, res.Value)
	assert.Equal(t, NoResultMessage, res.Text)
}

func TestExecute_OpenIsUndefined(t *testing.T) {
	res := runCode(t, `resultado = open('/etc/passwd')`)
	require.Error(t, res.Err)
	var execErr *ExecutionError
	require.ErrorAs(t, res.Err, &execErr)
	assert.Contains(t, execErr.Message, "ReferenceError: open is not defined")
	assert.Equal(t, "Error executing code: ReferenceError: open is not defined", res.Text)
}

func TestExecute_NoDynamicCode(t *testing.T) {
	res := runCode(t, `resultado = [typeof eval, typeof Function, typeof require, typeof process].join(",")`)
	require.NoError(t, res.Err)
	assert.Equal(t, "undefined,undefined,undefined,undefined", res.Value)
}

func TestExecute_Timeout(t *testing.T) {
	start := time.Now()
	res := NewJSExecutor(50*time.Millisecond).Execute(context.Background(), `while (true) {}`, orders())
	require.Error(t, res.Err)
	var execErr *ExecutionError
	require.ErrorAs(t, res.Err, &execErr)
	assert.True(t, execErr.Timeout)
	assert.Contains(t, res.Text, "timed out")
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestExecute_Canceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res := NewJSExecutor(time.Second).Execute(ctx, `while (true) {}`, orders())
	require.Error(t, res.Err)
	assert.Contains(t, res.Text, "canceled")
}

func TestExecute_BarChartFromGroupby(t *testing.T) {
	res := runCode(t, `resultado = plt.bar(df.groupby('region').sum('amount')).title('Sales by region')`)
	require.NoError(t, res.Err)
	require.NotNil(t, res.Chart)
	assert.Equal(t, chart.Bar, res.Chart.Kind)
	assert.Equal(t, "Sales by region", res.Chart.Title)
	assert.Equal(t, []string{"north", "south"}, res.Chart.Labels)
	require.Len(t, res.Chart.Series, 1)
	assert.Equal(t, []float64{35, 20}, res.Chart.Series[0].Y)
	assert.Equal(t, "bar chart: Sales by region", res.Text)
	assert.Nil(t, res.Value)
}

func TestExecute_ChartFromArrays(t *testing.T) {
	res := runCode(t, `resultado = plt.line(['a', 'b'], [1, 2], {title: 'T', ylabel: 'y'})`)
	require.NoError(t, res.Err)
	require.NotNil(t, res.Chart)
	assert.Equal(t, chart.Line, res.Chart.Kind)
	assert.Equal(t, "T", res.Chart.Title)
	assert.Equal(t, "y", res.Chart.YLabel)
	assert.Equal(t, []float64{1, 2}, res.Chart.Series[0].Y)
}

func TestExecute_HistAndScatter(t *testing.T) {
	res := runCode(t, `resultado = plt.hist(df.amount, 3)`)
	require.NoError(t, res.Err)
	require.NotNil(t, res.Chart)
	assert.Equal(t, 3, res.Chart.Bins)
	assert.Equal(t, "amount", res.Chart.XLabel)

	res = runCode(t, `resultado = plt.scatter(df.id, df.amount)`)
	require.NoError(t, res.Err)
	require.NotNil(t, res.Chart)
	assert.Equal(t, []float64{1, 2, 3}, res.Chart.Series[0].X)
	assert.Equal(t, "amount", res.Chart.YLabel)
}

func TestExecute_InvalidChart(t *testing.T) {
	res := runCode(t, `resultado = plt.pie([], [])`)
	require.Error(t, res.Err)
	assert.Contains(t, res.Text, "invalid chart")
}

func TestExecute_FrameOperations(t *testing.T) {
	res := runCode(t, `resultado = df.filter(r => r.amount > 10).sort('amount', true).select('region', 'amount')`)
	require.NoError(t, res.Err)
	tbl, ok := res.Value.(*table.Table)
	require.True(t, ok, "value = %T", res.Value)
	assert.Equal(t, []string{"region", "amount"}, tbl.Columns)
	assert.Equal(t, [][]any{{"north", 25.0}, {"south", 20.0}}, tbl.Rows)
	assert.Contains(t, res.Text, "| region | amount |")
}

func TestExecute_Len(t *testing.T) {
	res := runCode(t, `resultado = [len(df), df.len(), df.length, df.shape[1], len(df.columns)]`)
	require.NoError(t, res.Err)
	assert.Equal(t, "[3,3,3,3,3]", res.Text)
}

func TestExecute_ColumnsShadowFrameAttributes(t *testing.T) {
	tbl := table.New("people.csv", []string{"name", "count", "length"})
	tbl.Append([]any{"ana", 3.0, 1.5})
	tbl.Append([]any{"bo", 4.0, 2.5})
	tbl.Append([]any{"ana", 0.0, 1.0})
	exec := NewJSExecutor(2 * time.Second)

	res := exec.Execute(context.Background(), `resultado = df['name'].value_counts()`, tbl)
	require.NoError(t, res.Err)
	counts, ok := res.Value.(*table.Table)
	require.True(t, ok, "value = %T", res.Value)
	assert.Equal(t, [][]any{{"ana", 2.0}, {"bo", 1.0}}, counts.Rows)

	res = exec.Execute(context.Background(), `resultado = df.length.sum() + df['count'].sum()`, tbl)
	require.NoError(t, res.Err)
	assert.Equal(t, 12.0, number(t, res.Value))

	res = exec.Execute(context.Background(), `resultado = [len(df), df.shape[1], df.col('name').nunique()]`, tbl)
	require.NoError(t, res.Err)
	assert.Equal(t, "[3,3,2]", res.Text)
}

func TestExecute_ValueCounts(t *testing.T) {
	res := runCode(t, `resultado = df.region.value_counts()`)
	require.NoError(t, res.Err)
	assert.Equal(t, "north  2\nsouth  1\nName: region, Length: 2", res.Text)
	tbl, ok := res.Value.(*table.Table)
	require.True(t, ok)
	assert.Equal(t, [][]any{{"north", 2.0}, {"south", 1.0}}, tbl.Rows)
}

func TestExecute_SeriesMethods(t *testing.T) {
	res := runCode(t, `const a = df['amount'];
resultado = {min: a.min(), max: a.max(), median: a.median(), count: a.count(), first: a[0], n: df.region.nunique()}`)
	require.NoError(t, res.Err)
	m, ok := res.Value.(map[string]any)
	require.True(t, ok, "value = %T", res.Value)
	assert.Equal(t, 10.0, number(t, m["min"]))
	assert.Equal(t, 25.0, number(t, m["max"]))
	assert.Equal(t, 20.0, number(t, m["median"]))
	assert.Equal(t, 3.0, number(t, m["count"]))
	assert.Equal(t, 10.0, number(t, m["first"]))
	assert.Equal(t, 2.0, number(t, m["n"]))
}

func TestExecute_NonNumericColumn(t *testing.T) {
	res := runCode(t, `resultado = df.region.sum()`)
	require.Error(t, res.Err)
	assert.Contains(t, res.Text, "column 'region' is not numeric")
}

func TestExecute_MissingColumn(t *testing.T) {
	res := runCode(t, `resultado = df.col('price').sum()`)
	require.Error(t, res.Err)
	assert.Contains(t, res.Text, "column 'price' not found")
}

func TestExecute_ConsoleLog(t *testing.T) {
	res := runCode(t, `console.log('rows', len(df)); resultado = 1`)
	require.NoError(t, res.Err)
	assert.Equal(t, []string{"rows 3"}, res.Logs)
	assert.Equal(t, "Output:\nrows 3\n\n1", res.Text)
}

func TestExecute_DescribeAndInfo(t *testing.T) {
	res := runCode(t, `resultado = df.describe()`)
	require.NoError(t, res.Err)
	tbl, ok := res.Value.(*table.Table)
	require.True(t, ok)
	assert.Equal(t, []string{"", "id", "amount"}, tbl.Columns)

	res = runCode(t, `resultado = df.info()`)
	require.NoError(t, res.Err)
	assert.Contains(t, res.Text, "orders.csv")
}

func TestExecute_NilTable(t *testing.T) {
	res := NewJSExecutor(time.Second).Execute(context.Background(), `resultado = len(df)`, nil)
	require.NoError(t, res.Err)
	assert.Equal(t, "0", res.Text)
}

func TestExecute_FreshRuntimePerCall(t *testing.T) {
	e := NewJSExecutor(time.Second)
	res := e.Execute(context.Background(), `var leaked = 42; resultado = leaked`, orders())
	require.NoError(t, res.Err)
	res = e.Execute(context.Background(), `resultado = typeof leaked`, orders())
	require.NoError(t, res.Err)
	assert.Equal(t, "undefined", res.Value)
}
