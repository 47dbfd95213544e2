// Package sandbox runs analysis code generated by the planner against the
// active table.
//
// Code runs in an embedded JavaScript runtime (goja) that exposes no file
// system, process, module loader or network access. Each call gets a fresh
// runtime with three bindings: df (the table), plt (the chart builder) and
// console. The code reports back by assigning to resultado (or result).
package sandbox

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/dop251/goja"

	"github.com/kalambet/datalens/internal/chart"
	"github.com/kalambet/datalens/internal/table"
)

// NoResultMessage is the observation for code that ran without storing a result.
const NoResultMessage = "Code executed, but no explicit result was stored in 'resultado'."

// DefaultTimeout bounds a single execution when the executor is built with zero.
const DefaultTimeout = 10 * time.Second

const maxLogLines = 200

// Executor runs code against a table. Implementations never return a Go
// error: failures are reported through Result.Err so that they can be shown
// to the planner as an observation.
type Executor interface {
	Execute(ctx context.Context, code string, data *table.Table) Result
}

// ExecutionError is a runtime failure inside the analysis code.
type ExecutionError struct {
	Message string
	Timeout bool
}

func (e *ExecutionError) Error() string {
	return "Error executing code: " + e.Message
}

// Result is the outcome of one execution. Exactly one of Value and Chart is
// set on success; on failure Err holds an *ExecutionError. Text is always
// the observation to hand back to the planner.
type Result struct {
	Value any
	Chart *chart.Figure
	Text  string
	Logs  []string
	Err   error
}

// JSExecutor runs JavaScript with goja.
type JSExecutor struct {
	timeout time.Duration
	logger  *slog.Logger
}

// NewJSExecutor creates an executor that interrupts code running longer
// than timeout.
func NewJSExecutor(timeout time.Duration) *JSExecutor {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &JSExecutor{timeout: timeout, logger: slog.Default()}
}

// Execute runs code with df bound to data. A nil table binds an empty frame.
func (e *JSExecutor) Execute(ctx context.Context, code string, data *table.Table) (res Result) {
	if data == nil {
		data = table.New("empty", nil)
	}

	start := time.Now()
	r := newRun()
	defer func() {
		if p := recover(); p != nil {
			e.logger.Error("sandbox panic", "panic", p)
			res = failure(&ExecutionError{Message: fmt.Sprint(p)}, r.logs)
		}
	}()

	if err := r.install(data); err != nil {
		return failure(&ExecutionError{Message: err.Error()}, nil)
	}

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			r.vm.Interrupt(ctx.Err())
		case <-done:
		}
	}()

	_, err := r.vm.RunString(code)
	if err != nil {
		execErr := e.classify(ctx, err)
		e.logger.Debug("sandbox execution failed", "error", execErr.Message, "elapsed", time.Since(start))
		return failure(execErr, r.logs)
	}

	res = r.collect()
	e.logger.Debug("sandbox execution finished", "chart", res.Chart != nil, "elapsed", time.Since(start))
	return res
}

func (e *JSExecutor) classify(ctx context.Context, err error) *ExecutionError {
	var interrupted *goja.InterruptedError
	if errors.As(err, &interrupted) {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return &ExecutionError{Message: fmt.Sprintf("execution timed out after %s", e.timeout), Timeout: true}
		}
		return &ExecutionError{Message: "execution canceled"}
	}
	var ex *goja.Exception
	if errors.As(err, &ex) && ex.Value() != nil {
		return &ExecutionError{Message: ex.Value().String()}
	}
	return &ExecutionError{Message: err.Error()}
}

func failure(err *ExecutionError, logs []string) Result {
	return Result{Err: err, Text: withLogs(logs, err.Error()), Logs: logs}
}

func withLogs(logs []string, text string) string {
	if len(logs) == 0 {
		return text
	}
	return "Output:\n" + strings.Join(logs, "\n") + "\n\n" + text
}
