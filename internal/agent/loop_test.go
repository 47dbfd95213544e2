package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kalambet/datalens/internal/engine"
	"github.com/kalambet/datalens/internal/sandbox"
	"github.com/kalambet/datalens/internal/session"
	"github.com/kalambet/datalens/internal/table"
)

// script replays planner outputs in order and records what it was shown.
type script struct {
	replies []string
	errs    []error
	inputs  []PlanInput
}

func (s *script) Plan(_ context.Context, in PlanInput) (string, error) {
	s.inputs = append(s.inputs, in)
	i := len(s.inputs) - 1
	if i < len(s.errs) && s.errs[i] != nil {
		return "", s.errs[i]
	}
	if i >= len(s.replies) {
		return s.replies[len(s.replies)-1], nil
	}
	return s.replies[i], nil
}

func action(tool, input string) string {
	return fmt.Sprintf("Thought: next step.\nAction:\n```json\n{\"tool\": %q, \"tool_input\": %q}\n```", tool, input)
}

// countingExecutor records executions and delegates to goja.
type countingExecutor struct {
	calls int
	inner sandbox.Executor
}

func (c *countingExecutor) Execute(ctx context.Context, code string, data *table.Table) sandbox.Result {
	c.calls++
	return c.inner.Execute(ctx, code, data)
}

func newLoop(p Planner, opts ...LoopOption) (*Loop, *countingExecutor) {
	exec := &countingExecutor{inner: sandbox.NewJSExecutor(0)}
	return NewLoop(p, NewRegistry(Deps{Executor: exec}), opts...), exec
}

func ordersRequest(query string) Request {
	return Request{
		Query: query,
		Scope: "orders.csv",
		Data:  session.New([]*table.Table{ordersTable()}),
	}
}

func TestRun_FinalAnswerFirstStep(t *testing.T) {
	p := &script{replies: []string{action(FinalAnswer, "Hello!")}}
	l, _ := newLoop(p)

	out := l.Run(context.Background(), ordersRequest("hi"))
	assert.Equal(t, Done, out.State)
	assert.Equal(t, "Hello!", out.Answer)
	assert.Equal(t, 1, out.Steps)
	assert.NoError(t, out.Err)
	assert.Empty(t, out.Observations)
	require.Len(t, p.inputs, 1)
	assert.Equal(t, "orders.csv", p.inputs[0].Scope)
	assert.Equal(t, []string{"orders.csv"}, p.inputs[0].Files)
	assert.Contains(t, p.inputs[0].Tools, "code_interpreter")
}

func TestRun_CodeThenAnswer(t *testing.T) {
	p := &script{replies: []string{
		action("code_interpreter", "resultado = df['amount'].sum()"),
		action(FinalAnswer, "The total is 55."),
	}}
	l, exec := newLoop(p)

	out := l.Run(context.Background(), ordersRequest("total amount?"))
	assert.Equal(t, Done, out.State)
	assert.Equal(t, "The total is 55.", out.Answer)
	assert.Equal(t, 2, out.Steps)
	assert.Equal(t, 1, exec.calls)
	assert.Equal(t, []string{"Result of tool `code_interpreter`:\n55"}, out.Observations)
	require.Len(t, p.inputs, 2)
	assert.Empty(t, p.inputs[0].Observations)
	assert.Equal(t, out.Observations, p.inputs[1].Observations)
}

func TestRun_UnknownTool(t *testing.T) {
	p := &script{replies: []string{action("unknown_tool", "x")}}
	l, exec := newLoop(p)

	out := l.Run(context.Background(), ordersRequest("q"))
	assert.Equal(t, Done, out.State)
	assert.Equal(t, "Error: the agent tried to use an unknown tool: `unknown_tool`.", out.Answer)
	var ute *UnknownToolError
	require.ErrorAs(t, out.Err, &ute)
	assert.Equal(t, "unknown_tool", ute.Tool)
	assert.Zero(t, exec.calls)
}

func TestRun_MalformedAction(t *testing.T) {
	p := &script{replies: []string{`Action: {"tool": "code_interpreter", "tool_input": }`}}
	l, _ := newLoop(p)

	out := l.Run(context.Background(), ordersRequest("q"))
	assert.Equal(t, Done, out.State)
	assert.True(t, strings.HasPrefix(out.Answer, "I could not interpret the agent's action: "), out.Answer)
	var pe *ParseError
	assert.ErrorAs(t, out.Err, &pe)
	assert.Equal(t, 1, out.Steps)
}

func TestRun_NoActionIsAnswer(t *testing.T) {
	text := "The dataset has ten orders and the total is 55."
	l, _ := newLoop(&script{replies: []string{text}})

	out := l.Run(context.Background(), ordersRequest("q"))
	assert.Equal(t, Done, out.State)
	assert.Equal(t, text, out.Answer)
	assert.NoError(t, out.Err)
}

func TestRun_ValidatorBlocksAndConsumesStep(t *testing.T) {
	p := &script{replies: []string{
		action("code_interpreter", "const d = read_csv('orders.csv'); resultado = len(d)"),
		action("code_interpreter", "resultado = len(df)"),
		action(FinalAnswer, "10 rows"),
	}}
	l, exec := newLoop(p)

	out := l.Run(context.Background(), ordersRequest("how many rows?"))
	assert.Equal(t, Done, out.State)
	assert.Equal(t, "10 rows", out.Answer)
	assert.Equal(t, 3, out.Steps)
	assert.Equal(t, 1, exec.calls)
	require.Len(t, out.Observations, 2)
	_, reason := sandbox.Validate("read_csv(")
	assert.Equal(t, "Action blocked by the code validator: "+reason+". Rewrite the code using only the `df` variable.", out.Observations[0])
	assert.Equal(t, "Result of tool `code_interpreter`:\n10", out.Observations[1])
}

func TestRun_ExecutionErrorIsObservation(t *testing.T) {
	p := &script{replies: []string{
		action("code_interpreter", "resultado = df['amount'].nope()"),
		action(FinalAnswer, "done"),
	}}
	l, _ := newLoop(p)

	out := l.Run(context.Background(), ordersRequest("q"))
	assert.Equal(t, Done, out.State)
	require.Len(t, out.Observations, 1)
	assert.Contains(t, out.Observations[0], "Error executing code: TypeError")
}

func TestRun_ChartTerminates(t *testing.T) {
	p := &script{replies: []string{
		action("code_interpreter", "resultado = plt.bar(['a', 'b'], [1, 2]).title('T')"),
		action(FinalAnswer, "never reached"),
	}}
	l, _ := newLoop(p)

	out := l.Run(context.Background(), ordersRequest("plot"))
	assert.Equal(t, Done, out.State)
	require.NotNil(t, out.Chart)
	assert.Equal(t, "T", out.Chart.Title)
	assert.Equal(t, ChartAnswer, out.Answer)
	assert.Equal(t, 1, out.Steps)
	assert.Len(t, p.inputs, 1)
}

func TestRun_Exhausted(t *testing.T) {
	p := &script{replies: []string{action("list_available_data", "")}}
	l, _ := newLoop(p)

	out := l.Run(context.Background(), ordersRequest("q"))
	assert.Equal(t, Exhausted, out.State)
	assert.Equal(t, ExhaustedAnswer, out.Answer)
	assert.ErrorIs(t, out.Err, ErrLoopExhausted)
	assert.Equal(t, DefaultMaxSteps, out.Steps)
	assert.Len(t, out.Observations, DefaultMaxSteps)
	assert.Equal(t, "Result of tool `list_available_data`:\nThe following files are available for analysis: orders.csv", out.Observations[0])
}

func TestRun_MaxStepsOption(t *testing.T) {
	p := &script{replies: []string{action("list_available_data", "")}}
	l, _ := newLoop(p, WithMaxSteps(2))

	out := l.Run(context.Background(), ordersRequest("q"))
	assert.Equal(t, Exhausted, out.State)
	assert.Equal(t, 2, out.Steps)
}

func TestRun_PlannerFailureIsObservation(t *testing.T) {
	p := &script{
		replies: []string{"", action(FinalAnswer, "recovered")},
		errs:    []error{errors.New("503 service unavailable")},
	}
	l, _ := newLoop(p)

	out := l.Run(context.Background(), ordersRequest("q"))
	assert.Equal(t, Done, out.State)
	assert.Equal(t, "recovered", out.Answer)
	assert.Equal(t, []string{"Error calling the language model: 503 service unavailable"}, out.Observations)
}

func TestRun_EmptyPlannerOutputRetries(t *testing.T) {
	p := &script{replies: []string{"   ", action(FinalAnswer, "ok")}}
	l, _ := newLoop(p)

	out := l.Run(context.Background(), ordersRequest("q"))
	assert.Equal(t, "ok", out.Answer)
	assert.Equal(t, 2, out.Steps)
	assert.Len(t, out.Observations, 1)
}

func TestRun_ScopeNotFoundIsObservation(t *testing.T) {
	p := &script{replies: []string{
		action("code_interpreter", "resultado = 1"),
		action(FinalAnswer, "x"),
	}}
	l, _ := newLoop(p)
	req := ordersRequest("q")
	req.Scope = "ghost.csv"

	out := l.Run(context.Background(), req)
	require.Len(t, out.Observations, 1)
	assert.Contains(t, out.Observations[0], "Error running the tool `code_interpreter`: no data found for scope \"ghost.csv\"")
}

func TestRun_ObserverAndHistory(t *testing.T) {
	p := &script{replies: []string{
		action("get_data_schema", "orders.csv"),
		action(FinalAnswer, "two columns"),
	}}
	l, _ := newLoop(p)

	var events []Event
	req := ordersRequest("columns?")
	req.ScopeLabel = "orders.csv (selected)"
	req.History = []engine.Message{{Role: engine.RoleUser, Content: "hello"}, {Role: engine.RoleAssistant, Content: "hi"}}
	req.Observer = func(e Event) { events = append(events, e) }

	out := l.Run(context.Background(), req)
	assert.Equal(t, "two columns", out.Answer)
	require.Len(t, events, 3)
	assert.Equal(t, EventThought, events[0].Kind)
	assert.Equal(t, EventObservation, events[1].Kind)
	assert.Equal(t, "get_data_schema", events[1].Tool)
	assert.Equal(t, 1, events[1].Step)
	assert.Equal(t, EventThought, events[2].Kind)
	assert.Equal(t, out.Thoughts, []string{events[0].Text, events[2].Text})

	assert.Equal(t, "orders.csv (selected)", p.inputs[0].Scope)
	assert.Equal(t, req.History, p.inputs[0].History)
}

func TestRun_Canceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	p := &script{replies: []string{action(FinalAnswer, "x")}}
	l, _ := newLoop(p)

	out := l.Run(ctx, ordersRequest("q"))
	assert.Equal(t, CanceledAnswer, out.Answer)
	assert.ErrorIs(t, out.Err, context.Canceled)
	assert.Empty(t, p.inputs)
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "planning", Planning.String())
	assert.Equal(t, "exhausted", Exhausted.String())
}
