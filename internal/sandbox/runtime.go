package sandbox

import (
	"fmt"
	"strings"

	"github.com/dop251/goja"

	"github.com/kalambet/datalens/internal/chart"
	"github.com/kalambet/datalens/internal/table"
)

// run is the state of a single execution.
type run struct {
	vm      *goja.Runtime
	handles map[*goja.Object]any
	logs    []string
}

func newRun() *run {
	return &run{vm: goja.New(), handles: make(map[*goja.Object]any)}
}

// install binds the namespace and strips dynamic code evaluation.
func (r *run) install(data *table.Table) error {
	global := r.vm.GlobalObject()
	global.Delete("eval")
	global.Delete("Function")

	console := r.vm.NewObject()
	if err := console.Set("log", r.log); err != nil {
		return err
	}

	bindings := map[string]any{
		"df":        r.newFrame(data),
		"plt":       r.newPlot(),
		"console":   console,
		"print":     r.log,
		"len":       r.length,
		"resultado": goja.Undefined(),
		"result":    goja.Undefined(),
	}
	for name, v := range bindings {
		if err := r.vm.Set(name, v); err != nil {
			return fmt.Errorf("binding %s: %w", name, err)
		}
	}
	return nil
}

// collect reads the output slot after a successful run.
func (r *run) collect() Result {
	v := r.vm.Get("resultado")
	if isEmpty(v) {
		v = r.vm.Get("result")
	}
	if isEmpty(v) {
		return Result{Text: withLogs(r.logs, NoResultMessage), Logs: r.logs}
	}

	if obj, ok := v.(*goja.Object); ok {
		if fig, ok := r.handles[obj].(*figure); ok {
			if err := fig.f.Validate(); err != nil {
				return failure(&ExecutionError{Message: "invalid chart: " + err.Error()}, r.logs)
			}
			return Result{Chart: fig.f, Text: withLogs(r.logs, fig.f.Describe()), Logs: r.logs}
		}
	}

	value := r.export(v)
	text := Format(value)
	if s, ok := value.(*series); ok {
		value = s.table()
	}
	return Result{Value: value, Text: withLogs(r.logs, text), Logs: r.logs}
}

// export converts a JS value to Go, unwrapping frames and series.
func (r *run) export(v goja.Value) any {
	if obj, ok := v.(*goja.Object); ok {
		switch h := r.handles[obj].(type) {
		case *frame:
			return h.t
		case *series:
			return h
		case *figure:
			return h.f
		}
	}
	return v.Export()
}

func isEmpty(v goja.Value) bool {
	return v == nil || goja.IsUndefined(v) || goja.IsNull(v)
}

func (r *run) log(call goja.FunctionCall) goja.Value {
	if len(r.logs) >= maxLogLines {
		return goja.Undefined()
	}
	parts := make([]string, len(call.Arguments))
	for i, a := range call.Arguments {
		parts[i] = Format(r.export(a))
	}
	r.logs = append(r.logs, strings.Join(parts, " "))
	return goja.Undefined()
}

// length is the len() builtin: rows for a frame, elements otherwise.
func (r *run) length(call goja.FunctionCall) goja.Value {
	arg := call.Argument(0)
	if obj, ok := arg.(*goja.Object); ok {
		switch h := r.handles[obj].(type) {
		case *frame:
			return r.vm.ToValue(h.t.NumRows())
		case *series:
			return r.vm.ToValue(len(h.values))
		}
		return obj.Get("length")
	}
	if s, ok := arg.Export().(string); ok {
		return r.vm.ToValue(len([]rune(s)))
	}
	panic(r.vm.NewTypeError("object of this type has no len()"))
}

// cell converts a table cell to a JS value.
func (r *run) cell(v any) goja.Value {
	if v == nil {
		return goja.Null()
	}
	return r.vm.ToValue(v)
}

func (r *run) array(values []any) *goja.Object {
	items := make([]any, len(values))
	for i, v := range values {
		items[i] = r.cell(v)
	}
	return r.vm.NewArray(items...)
}

func (r *run) stringArray(values []string) *goja.Object {
	items := make([]any, len(values))
	for i, v := range values {
		items[i] = v
	}
	return r.vm.NewArray(items...)
}

func (r *run) throw(format string, args ...any) {
	panic(r.vm.NewTypeError(fmt.Sprintf(format, args...)))
}

func (r *run) missingColumn(t *table.Table, name string) {
	r.throw("column '%s' not found; available columns: %s", name, strings.Join(t.Columns, ", "))
}

// intArg reads an optional integer argument.
func intArg(call goja.FunctionCall, i, def int) int {
	v := call.Argument(i)
	if isEmpty(v) {
		return def
	}
	return int(v.ToInteger())
}

// figure is the Go side of a plt handle.
type figure struct {
	f *chart.Figure
}
