package sandbox

import (
	"github.com/dop251/goja"

	"github.com/kalambet/datalens/internal/chart"
	"github.com/kalambet/datalens/internal/table"
)

// newPlot builds the plt binding. Every constructor returns a figure handle;
// the figure becomes the chart result once assigned to resultado.
func (r *run) newPlot() *goja.Object {
	plt := r.vm.NewObject()
	plt.Set("bar", r.categorical(chart.Bar))
	plt.Set("line", r.categorical(chart.Line))
	plt.Set("pie", r.categorical(chart.Pie))
	plt.Set("scatter", r.scatter)
	plt.Set("hist", r.hist)
	return plt
}

// categorical accepts (series[, opts]) or (labels, values[, opts]).
func (r *run) categorical(kind chart.Kind) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		f := &chart.Figure{Kind: kind}
		first := call.Argument(0)
		if s, ok := r.seriesArg(first); ok && !r.isData(call.Argument(1)) {
			f.Labels = s.labels()
			f.Series = []chart.Series{{Name: s.name, Y: r.plotValues(s)}}
			r.applyOptions(f, call.Argument(1))
			return r.newFigure(f)
		}
		f.Labels = r.texts(first, "labels")
		f.Series = []chart.Series{{Y: r.floats(call.Argument(1), "values")}}
		r.applyOptions(f, call.Argument(2))
		return r.newFigure(f)
	}
}

func (r *run) scatter(call goja.FunctionCall) goja.Value {
	f := &chart.Figure{Kind: chart.Scatter}
	xs := r.floats(call.Argument(0), "x values")
	ys := r.floats(call.Argument(1), "y values")
	if len(xs) != len(ys) {
		r.throw("scatter needs as many x values as y values (%d != %d)", len(xs), len(ys))
	}
	f.Series = []chart.Series{{X: xs, Y: ys}}
	if s, ok := r.seriesArg(call.Argument(0)); ok {
		f.XLabel = s.name
	}
	if s, ok := r.seriesArg(call.Argument(1)); ok {
		f.YLabel = s.name
	}
	r.applyOptions(f, call.Argument(2))
	return r.newFigure(f)
}

// hist accepts (values[, bins][, opts]).
func (r *run) hist(call goja.FunctionCall) goja.Value {
	f := &chart.Figure{Kind: chart.Hist}
	var name string
	if s, ok := r.seriesArg(call.Argument(0)); ok {
		name = s.name
		f.XLabel = s.name
	}
	f.Series = []chart.Series{{Name: name, Y: r.floats(call.Argument(0), "values")}}
	opts := call.Argument(1)
	if b, ok := opts.Export().(int64); ok {
		f.Bins = int(b)
		opts = call.Argument(2)
	}
	r.applyOptions(f, opts)
	return r.newFigure(f)
}

func (r *run) newFigure(f *chart.Figure) *goja.Object {
	obj := r.vm.NewObject()
	setter := func(apply func(string)) func(goja.FunctionCall) goja.Value {
		return func(call goja.FunctionCall) goja.Value {
			apply(call.Argument(0).String())
			return obj
		}
	}
	obj.Set("kind", string(f.Kind))
	obj.Set("title", setter(func(s string) { f.Title = s }))
	obj.Set("xlabel", setter(func(s string) { f.XLabel = s }))
	obj.Set("ylabel", setter(func(s string) { f.YLabel = s }))
	obj.Set("add", func(call goja.FunctionCall) goja.Value {
		if f.Kind == chart.Pie || f.Kind == chart.Hist {
			r.throw("%s charts hold a single series", f.Kind)
		}
		s := chart.Series{Name: call.Argument(0).String(), Y: r.floats(call.Argument(1), "values")}
		if f.Kind == chart.Scatter {
			s.X = s.Y
			s.Y = r.floats(call.Argument(2), "y values")
		}
		f.Series = append(f.Series, s)
		return obj
	})
	r.handles[obj] = &figure{f: f}
	return obj
}

// applyOptions reads {title, xlabel, ylabel, name, bins} from an options object.
func (r *run) applyOptions(f *chart.Figure, v goja.Value) {
	if isEmpty(v) {
		return
	}
	opts, ok := v.Export().(map[string]any)
	if !ok {
		return
	}
	str := func(key string, dst *string) {
		if s, ok := opts[key].(string); ok {
			*dst = s
		}
	}
	str("title", &f.Title)
	str("xlabel", &f.XLabel)
	str("ylabel", &f.YLabel)
	if len(f.Series) > 0 {
		str("name", &f.Series[0].Name)
	}
	if b, ok := table.AsFloat(opts["bins"]); ok {
		f.Bins = int(b)
	}
}

func (r *run) seriesArg(v goja.Value) (*series, bool) {
	obj, ok := v.(*goja.Object)
	if !ok {
		return nil, false
	}
	s, ok := r.handles[obj].(*series)
	return s, ok
}

// isData reports whether v is an array or series rather than an options object.
func (r *run) isData(v goja.Value) bool {
	if _, ok := r.seriesArg(v); ok {
		return true
	}
	_, ok := v.Export().([]any)
	return ok
}

// plotValues maps missing cells to zero so values stay aligned with labels.
func (r *run) plotValues(s *series) []float64 {
	out := make([]float64, len(s.values))
	for i, v := range s.values {
		if v == nil {
			continue
		}
		f, ok := table.AsFloat(v)
		if !ok {
			r.throw("column '%s' is not numeric", s.name)
		}
		out[i] = f
	}
	return out
}

func (r *run) floats(v goja.Value, what string) []float64 {
	if s, ok := r.seriesArg(v); ok {
		return r.plotValues(s)
	}
	arr, ok := v.Export().([]any)
	if !ok {
		r.throw("%s must be an array of numbers", what)
	}
	out := make([]float64, len(arr))
	for i, x := range arr {
		if x == nil {
			continue
		}
		f, ok := table.AsFloat(x)
		if !ok {
			r.throw("%s must be an array of numbers", what)
		}
		out[i] = f
	}
	return out
}

func (r *run) texts(v goja.Value, what string) []string {
	if s, ok := r.seriesArg(v); ok {
		out := make([]string, len(s.values))
		for i, x := range s.values {
			out[i] = table.FormatCell(x)
		}
		return out
	}
	arr, ok := v.Export().([]any)
	if !ok {
		r.throw("%s must be an array", what)
	}
	out := make([]string, len(arr))
	for i, x := range arr {
		if s, ok := x.(string); ok {
			out[i] = s
			continue
		}
		out[i] = table.FormatCell(x)
	}
	return out
}
