package sandbox

import (
	"sort"
	"strconv"

	"github.com/dop251/goja"

	"github.com/kalambet/datalens/internal/table"
)

// series is one column, optionally indexed by labels (groupby and
// value_counts results carry an index).
type series struct {
	name   string
	values []any
	index  []string
}

func (s *series) count() int {
	n := 0
	for _, v := range s.values {
		if v != nil {
			n++
		}
	}
	return n
}

// labels returns the index, or positions when the series has none.
func (s *series) labels() []string {
	if s.index != nil {
		return s.index
	}
	out := make([]string, len(s.values))
	for i := range s.values {
		out[i] = strconv.Itoa(i)
	}
	return out
}

// table converts the series to a table, with the index as the first column
// when there is one.
func (s *series) table() *table.Table {
	if s.index == nil {
		t := table.New(s.name, []string{s.name})
		for _, v := range s.values {
			t.Append([]any{v})
		}
		return t
	}
	t := table.New(s.name, []string{"", s.name})
	for i, v := range s.values {
		t.Append([]any{s.index[i], v})
	}
	return t
}

// numeric returns the non-null values, throwing when the series holds text.
func (r *run) numeric(s *series) []float64 {
	xs := make([]float64, 0, len(s.values))
	for _, v := range s.values {
		if v == nil {
			continue
		}
		f, ok := table.AsFloat(v)
		if !ok {
			r.throw("column '%s' is not numeric", s.name)
		}
		xs = append(xs, f)
	}
	return xs
}

type seriesObject struct {
	r     *run
	s     *series
	props map[string]goja.Value
}

func (r *run) newSeries(s *series) *goja.Object {
	so := &seriesObject{r: r, s: s}
	vm := r.vm
	stat := func(fn func([]float64) float64) goja.Value {
		return vm.ToValue(func(goja.FunctionCall) goja.Value { return vm.ToValue(fn(r.numeric(s))) })
	}
	so.props = map[string]goja.Value{
		"name":         vm.ToValue(s.name),
		"length":       vm.ToValue(len(s.values)),
		"sum":          stat(table.Sum),
		"mean":         stat(table.Mean),
		"min":          stat(table.Min),
		"max":          stat(table.Max),
		"std":          stat(table.Std),
		"median":       stat(median),
		"count":        vm.ToValue(func(goja.FunctionCall) goja.Value { return vm.ToValue(s.count()) }),
		"unique":       vm.ToValue(func(goja.FunctionCall) goja.Value { return r.array(unique(s.values)) }),
		"nunique":      vm.ToValue(func(goja.FunctionCall) goja.Value { return vm.ToValue(len(unique(s.values))) }),
		"value_counts": vm.ToValue(func(goja.FunctionCall) goja.Value { return r.newSeries(valueCounts(s)) }),
		"head":         vm.ToValue(so.head),
		"tolist":       vm.ToValue(func(goja.FunctionCall) goja.Value { return r.array(s.values) }),
		"toObject":     vm.ToValue(so.toObject),
		"toString":     vm.ToValue(func(goja.FunctionCall) goja.Value { return vm.ToValue(Format(s)) }),
	}
	obj := vm.NewDynamicObject(so)
	r.handles[obj] = s
	return obj
}

func (so *seriesObject) Get(key string) goja.Value {
	if v, ok := so.props[key]; ok {
		return v
	}
	switch key {
	case "values":
		return so.r.array(so.s.values)
	case "index":
		return so.r.stringArray(so.s.labels())
	}
	if i, err := strconv.Atoi(key); err == nil && i >= 0 && i < len(so.s.values) {
		return so.r.cell(so.s.values[i])
	}
	return nil
}

func (so *seriesObject) Set(string, goja.Value) bool { return false }
func (so *seriesObject) Delete(string) bool          { return false }

func (so *seriesObject) Has(key string) bool {
	return so.Get(key) != nil
}

func (so *seriesObject) Keys() []string {
	return so.s.labels()
}

func (so *seriesObject) head(call goja.FunctionCall) goja.Value {
	n := intArg(call, 0, 5)
	if n > len(so.s.values) {
		n = len(so.s.values)
	}
	if n < 0 {
		n = 0
	}
	out := &series{name: so.s.name, values: so.s.values[:n]}
	if so.s.index != nil {
		out.index = so.s.index[:n]
	}
	return so.r.newSeries(out)
}

func (so *seriesObject) toObject(goja.FunctionCall) goja.Value {
	obj := so.r.vm.NewObject()
	for i, l := range so.s.labels() {
		obj.Set(l, so.r.cell(so.s.values[i]))
	}
	return obj
}

// unique returns the distinct non-null values in first-seen order.
func unique(values []any) []any {
	seen := make(map[string]bool)
	var out []any
	for _, v := range values {
		if v == nil {
			continue
		}
		k := table.FormatCell(v)
		if !seen[k] {
			seen[k] = true
			out = append(out, v)
		}
	}
	return out
}

// valueCounts counts occurrences, most frequent first; ties keep first-seen order.
func valueCounts(s *series) *series {
	counts := make(map[string]int)
	var order []string
	for _, v := range s.values {
		if v == nil {
			continue
		}
		k := table.FormatCell(v)
		if counts[k] == 0 {
			order = append(order, k)
		}
		counts[k]++
	}
	sort.SliceStable(order, func(i, j int) bool { return counts[order[i]] > counts[order[j]] })
	values := make([]any, len(order))
	for i, k := range order {
		values[i] = float64(counts[k])
	}
	return &series{name: s.name, values: values, index: order}
}
