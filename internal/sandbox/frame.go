package sandbox

import (
	"math"
	"sort"
	"strings"

	"github.com/dop251/goja"

	"github.com/kalambet/datalens/internal/table"
)

// frame exposes a table as a read-only dataframe. Methods shadow columns of
// the same name and columns shadow the data attributes (length, shape,
// columns, name); df.col(name) always reaches the column.
type frame struct {
	r       *run
	t       *table.Table
	methods map[string]goja.Value
	attrs   map[string]goja.Value
}

func (r *run) newFrame(t *table.Table) *goja.Object {
	f := &frame{r: r, t: t}
	vm := r.vm
	f.attrs = map[string]goja.Value{
		"length":  vm.ToValue(t.NumRows()),
		"shape":   vm.NewArray(t.NumRows(), len(t.Columns)),
		"columns": r.stringArray(t.Columns),
		"name":    vm.ToValue(t.Name),
	}
	f.methods = map[string]goja.Value{
		"len":      vm.ToValue(func(goja.FunctionCall) goja.Value { return vm.ToValue(t.NumRows()) }),
		"col":      vm.ToValue(f.col),
		"head":     vm.ToValue(f.head),
		"tail":     vm.ToValue(f.tail),
		"filter":   vm.ToValue(f.filter),
		"sort":     vm.ToValue(f.sort),
		"select":   vm.ToValue(f.selectColumns),
		"groupby":  vm.ToValue(f.groupby),
		"describe": vm.ToValue(func(goja.FunctionCall) goja.Value { return r.newFrame(t.Describe()) }),
		"info":     vm.ToValue(func(goja.FunctionCall) goja.Value { return vm.ToValue(t.Info()) }),
		"rows":     vm.ToValue(f.rows),
		"toString": vm.ToValue(func(goja.FunctionCall) goja.Value { return vm.ToValue(t.Markdown(20)) }),
	}
	obj := vm.NewDynamicObject(f)
	r.handles[obj] = f
	return obj
}

func (f *frame) Get(key string) goja.Value {
	if v, ok := f.methods[key]; ok {
		return v
	}
	if f.t.ColumnIndex(key) >= 0 {
		return f.column(key)
	}
	return f.attrs[key]
}

func (f *frame) Set(string, goja.Value) bool { return false }
func (f *frame) Delete(string) bool          { return false }

func (f *frame) Has(key string) bool {
	if _, ok := f.methods[key]; ok {
		return true
	}
	_, ok := f.attrs[key]
	return ok || f.t.ColumnIndex(key) >= 0
}

func (f *frame) Keys() []string {
	return append([]string(nil), f.t.Columns...)
}

func (f *frame) column(name string) goja.Value {
	cells, ok := f.t.Column(name)
	if !ok {
		f.r.missingColumn(f.t, name)
	}
	return f.r.newSeries(&series{name: name, values: cells})
}

func (f *frame) col(call goja.FunctionCall) goja.Value {
	return f.column(call.Argument(0).String())
}

func (f *frame) head(call goja.FunctionCall) goja.Value {
	return f.r.newFrame(f.t.Head(intArg(call, 0, 5)))
}

func (f *frame) tail(call goja.FunctionCall) goja.Value {
	n := intArg(call, 0, 5)
	if n > f.t.NumRows() {
		n = f.t.NumRows()
	}
	if n < 0 {
		n = 0
	}
	out := table.New(f.t.Name, f.t.Columns)
	out.Rows = f.t.Rows[f.t.NumRows()-n:]
	return f.r.newFrame(out)
}

func (f *frame) row(values []any) *goja.Object {
	obj := f.r.vm.NewObject()
	for i, c := range f.t.Columns {
		obj.Set(c, f.r.cell(values[i]))
	}
	return obj
}

func (f *frame) rows(goja.FunctionCall) goja.Value {
	items := make([]any, len(f.t.Rows))
	for i, row := range f.t.Rows {
		items[i] = f.row(row)
	}
	return f.r.vm.NewArray(items...)
}

// filter keeps the rows for which the predicate, called with a row object
// and its position, is truthy.
func (f *frame) filter(call goja.FunctionCall) goja.Value {
	pred, ok := goja.AssertFunction(call.Argument(0))
	if !ok {
		f.r.throw("filter expects a function, e.g. df.filter(r => r.amount > 10)")
	}
	out := table.New(f.t.Name, f.t.Columns)
	for i, row := range f.t.Rows {
		keep, err := pred(goja.Undefined(), f.row(row), f.r.vm.ToValue(i))
		if err != nil {
			panic(err)
		}
		if keep.ToBoolean() {
			out.Rows = append(out.Rows, row)
		}
	}
	return f.r.newFrame(out)
}

// sort orders rows by a column, ascending unless the second argument is
// true. Missing cells always sort last.
func (f *frame) sort(call goja.FunctionCall) goja.Value {
	name := call.Argument(0).String()
	idx := f.t.ColumnIndex(name)
	if idx < 0 {
		f.r.missingColumn(f.t, name)
	}
	desc := call.Argument(1).ToBoolean()

	out := table.New(f.t.Name, f.t.Columns)
	out.Rows = append([][]any(nil), f.t.Rows...)
	sort.SliceStable(out.Rows, func(i, j int) bool {
		a, b := out.Rows[i][idx], out.Rows[j][idx]
		if a == nil || b == nil {
			return a != nil && b == nil
		}
		if desc {
			return compareCells(b, a) < 0
		}
		return compareCells(a, b) < 0
	})
	return f.r.newFrame(out)
}

func (f *frame) selectColumns(call goja.FunctionCall) goja.Value {
	var names []string
	for _, a := range call.Arguments {
		if arr, ok := a.Export().([]any); ok {
			for _, v := range arr {
				names = append(names, table.FormatCell(v))
			}
			continue
		}
		names = append(names, a.String())
	}
	idx := make([]int, len(names))
	for i, n := range names {
		idx[i] = f.t.ColumnIndex(n)
		if idx[i] < 0 {
			f.r.missingColumn(f.t, n)
		}
	}
	out := table.New(f.t.Name, names)
	for _, row := range f.t.Rows {
		picked := make([]any, len(idx))
		for i, j := range idx {
			picked[i] = row[j]
		}
		out.Rows = append(out.Rows, picked)
	}
	return f.r.newFrame(out)
}

// groupby returns an object whose aggregations produce a series indexed by
// the group key, with keys in sorted order.
func (f *frame) groupby(call goja.FunctionCall) goja.Value {
	key := call.Argument(0).String()
	ki := f.t.ColumnIndex(key)
	if ki < 0 {
		f.r.missingColumn(f.t, key)
	}

	var order []any
	groups := make(map[string][][]any)
	for _, row := range f.t.Rows {
		k := row[ki]
		if k == nil {
			continue
		}
		label := table.FormatCell(k)
		if _, ok := groups[label]; !ok {
			order = append(order, k)
		}
		groups[label] = append(groups[label], row)
	}
	sort.SliceStable(order, func(i, j int) bool { return compareCells(order[i], order[j]) < 0 })
	labels := make([]string, len(order))
	for i, k := range order {
		labels[i] = table.FormatCell(k)
	}

	aggregate := func(name string, fn func([]float64) float64) func(goja.FunctionCall) goja.Value {
		return func(call goja.FunctionCall) goja.Value {
			arg := call.Argument(0)
			if isEmpty(arg) && (name == "count" || name == "size") {
				values := make([]any, len(labels))
				for i, l := range labels {
					values[i] = float64(len(groups[l]))
				}
				return f.r.newSeries(&series{name: name, values: values, index: labels})
			}
			col := arg.String()
			ci := f.t.ColumnIndex(col)
			if ci < 0 {
				f.r.missingColumn(f.t, col)
			}
			values := make([]any, len(labels))
			for i, l := range labels {
				cells := make([]any, len(groups[l]))
				for j, row := range groups[l] {
					cells[j] = row[ci]
				}
				s := &series{name: col, values: cells}
				var v float64
				if name == "count" || name == "size" {
					v = float64(s.count())
				} else {
					v = fn(f.r.numeric(s))
				}
				if math.IsNaN(v) {
					values[i] = nil
				} else {
					values[i] = v
				}
			}
			return f.r.newSeries(&series{name: col, values: values, index: labels})
		}
	}

	obj := f.r.vm.NewObject()
	obj.Set("sum", aggregate("sum", table.Sum))
	obj.Set("mean", aggregate("mean", table.Mean))
	obj.Set("min", aggregate("min", table.Min))
	obj.Set("max", aggregate("max", table.Max))
	obj.Set("std", aggregate("std", table.Std))
	obj.Set("median", aggregate("median", median))
	obj.Set("count", aggregate("count", nil))
	obj.Set("size", aggregate("size", nil))
	obj.Set("groups", f.r.stringArray(labels))
	return obj
}

// compareCells orders numbers numerically and everything else as text;
// numbers sort before text.
func compareCells(a, b any) int {
	fa, aok := table.AsFloat(a)
	fb, bok := table.AsFloat(b)
	switch {
	case aok && bok:
		switch {
		case fa < fb:
			return -1
		case fa > fb:
			return 1
		}
		return 0
	case aok:
		return -1
	case bok:
		return 1
	}
	return strings.Compare(table.FormatCell(a), table.FormatCell(b))
}

func median(xs []float64) float64 { return table.Quantile(xs, 0.5) }
