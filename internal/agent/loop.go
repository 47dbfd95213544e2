// Package agent implements the ReAct loop: a planner proposes one tool call
// per step, the loop validates and dispatches it, and the observation is fed
// back until the planner gives a final answer or the step budget runs out.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/kalambet/datalens/internal/chart"
	"github.com/kalambet/datalens/internal/engine"
	"github.com/kalambet/datalens/internal/sandbox"
)

// DefaultMaxSteps is the planning budget per question.
const DefaultMaxSteps = 7

// Fixed user-facing answers.
const (
	ExhaustedAnswer = "I could not complete the analysis within the step limit. Please try rephrasing your question."
	ChartAnswer     = "I generated a chart based on your request."
	CanceledAnswer  = "The analysis was canceled before it finished."
)

// ErrLoopExhausted marks an outcome that ran out of steps.
var ErrLoopExhausted = errors.New("step limit reached without a final answer")

// UnknownToolError is an action naming a tool that is not registered.
type UnknownToolError struct {
	Tool string
}

func (e *UnknownToolError) Error() string {
	return fmt.Sprintf("unknown tool %q", e.Tool)
}

// State is a loop state.
type State int

const (
	Planning State = iota
	Validating
	Executing
	Observing
	Done
	Exhausted
)

func (s State) String() string {
	switch s {
	case Planning:
		return "planning"
	case Validating:
		return "validating"
	case Executing:
		return "executing"
	case Observing:
		return "observing"
	case Done:
		return "done"
	case Exhausted:
		return "exhausted"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// EventKind says what an Event carries.
type EventKind string

const (
	EventThought     EventKind = "thought"
	EventObservation EventKind = "observation"
)

// Event is a thought or observation reported while the loop runs.
type Event struct {
	Kind EventKind
	Step int
	Text string
	Tool string
}

// Observer receives events in order. It runs on the loop goroutine.
type Observer func(Event)

// Request is one question to answer.
type Request struct {
	Query string
	// Scope is passed to scope-dependent tools; ScopeLabel is what the
	// planner is shown and defaults to Scope.
	Scope      string
	ScopeLabel string
	History    []engine.Message
	Data       Data
	Observer   Observer
}

// Outcome is the terminal result of a run. Answer is always set; Chart is
// set when a chart ended the loop. Err records the failure that ended the
// loop, if any, for logging.
type Outcome struct {
	State        State
	Answer       string
	Chart        *chart.Figure
	Steps        int
	Observations []string
	Thoughts     []string
	Err          error
}

// Loop runs requests against a planner and a tool registry.
type Loop struct {
	planner  Planner
	tools    *Registry
	maxSteps int
}

// LoopOption configures a Loop.
type LoopOption func(*Loop)

// WithMaxSteps sets the planning budget. Non-positive values are ignored.
func WithMaxSteps(n int) LoopOption {
	return func(l *Loop) {
		if n > 0 {
			l.maxSteps = n
		}
	}
}

func NewLoop(p Planner, tools *Registry, opts ...LoopOption) *Loop {
	l := &Loop{planner: p, tools: tools, maxSteps: DefaultMaxSteps}
	for _, o := range opts {
		o(l)
	}
	return l
}

// Tools returns the registry the loop dispatches to.
func (l *Loop) Tools() *Registry { return l.tools }

// Run drives the state machine until Done or Exhausted. It never returns a
// Go error: every failure resolves to an observation or a terminal answer.
func (l *Loop) Run(ctx context.Context, req Request) Outcome {
	start := time.Now()
	out := Outcome{State: Planning}
	label := req.ScopeLabel
	if label == "" {
		label = req.Scope
	}
	var files []string
	if req.Data != nil {
		files = req.Data.TableNames()
	}
	notify := func(e Event) {
		if req.Observer != nil {
			req.Observer(e)
		}
	}
	observe := func(tool, text string) {
		out.Observations = append(out.Observations, text)
		notify(Event{Kind: EventObservation, Step: out.Steps, Text: text, Tool: tool})
	}
	finish := func(state State, answer string, err error) Outcome {
		out.State = state
		out.Answer = answer
		out.Err = err
		slog.Info("agent loop finished",
			"state", state.String(),
			"steps", out.Steps,
			"chart", out.Chart != nil,
			"elapsed", time.Since(start),
			"error", err,
		)
		return out
	}

	for out.Steps < l.maxSteps {
		if err := ctx.Err(); err != nil {
			return finish(Done, CanceledAnswer, err)
		}

		out.State = Planning
		out.Steps++
		text, err := l.planner.Plan(ctx, PlanInput{
			Query:        req.Query,
			Scope:        label,
			Files:        files,
			History:      req.History,
			Tools:        l.tools.Describe(),
			Observations: out.Observations,
		})
		if err != nil {
			slog.Warn("planner failed", "step", out.Steps, "error", err)
			observe("", "Error calling the language model: "+err.Error())
			continue
		}
		if strings.TrimSpace(text) == "" {
			observe("", "The language model returned an empty response. Reply with a thought and a JSON action.")
			continue
		}
		out.Thoughts = append(out.Thoughts, text)
		notify(Event{Kind: EventThought, Step: out.Steps, Text: text})

		action, err := ParseAction(text)
		if errors.Is(err, ErrNoAction) {
			return finish(Done, strings.TrimSpace(text), nil)
		}
		var pe *ParseError
		if errors.As(err, &pe) {
			return finish(Done, "I could not interpret the agent's action: "+pe.Err.Error(), err)
		}
		if action.IsFinal() {
			return finish(Done, action.Input, nil)
		}

		tool, ok := l.tools.Lookup(action.Tool)
		if !ok {
			return finish(Done, fmt.Sprintf("Error: the agent tried to use an unknown tool: `%s`.", action.Tool), &UnknownToolError{Tool: action.Tool})
		}

		if tool.ID == ToolCode {
			out.State = Validating
			if ok, reason := sandbox.Validate(action.Input); !ok {
				slog.Info("code blocked by validator", "step", out.Steps, "reason", reason)
				observe(tool.Name, fmt.Sprintf("Action blocked by the code validator: %s. Rewrite the code using only the `df` variable.", reason))
				continue
			}
		}

		out.State = Executing
		res, err := tool.Invoke(ctx, Call{Input: action.Input, Scope: req.Scope, Data: req.Data})
		out.State = Observing
		if err != nil {
			observe(tool.Name, fmt.Sprintf("Error running the tool `%s`: %v", tool.Name, err))
			continue
		}
		if res.Chart != nil {
			out.Chart = res.Chart
			observe(tool.Name, res.Text)
			return finish(Done, ChartAnswer, nil)
		}
		observe(tool.Name, fmt.Sprintf("Result of tool `%s`:\n%s", tool.Name, res.Text))
	}

	return finish(Exhausted, ExhaustedAnswer, ErrLoopExhausted)
}
