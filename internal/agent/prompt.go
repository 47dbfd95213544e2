package agent

import (
	"fmt"
	"strings"

	"github.com/kalambet/datalens/internal/engine"
)

// NoObservations stands in for the observation list on the first step.
const NoObservations = "No observations yet. This is the first step."

// PlanInput is everything the planner sees for one step.
type PlanInput struct {
	Query        string
	Scope        string
	Files        []string
	History      []engine.Message
	Tools        string
	Observations []string
}

const promptTemplate = `You are a data analysis agent. Answer the user's question through a cycle of Thought, Action and Observation.

CRITICAL RULES:
1. Continuous cycle: keep going THOUGHT -> ACTION -> OBSERVATION until you have the final answer.
2. Use the observations: read the observations from previous steps before choosing the next action. Do not repeat an action whose result you have already observed.
3. Finish to answer: when, and only when, you have the complete answer to the user's question, use the ` + "`final_answer`" + ` tool.

CURRENT CONTEXT:
- Analysis scope: %s
- Available files: %s
- Conversation history:
%s

AVAILABLE TOOLS:
%s
- ` + "`final_answer`" + `: Ends the analysis. The input is the answer shown to the user.

RULES FOR ` + "`code_interpreter`" + `:
- The data for the current scope is already loaded in the variable ` + "`df`" + `. NEVER read files (no read_csv, readFile or open).
- Store the final result in the variable ` + "`resultado`" + `.
- WRONG: ` + "`const orders = read_csv('orders.csv'); resultado = len(orders)`" + `
- RIGHT: ` + "`resultado = len(df)`" + `
- ` + "`df`" + ` API: df['col'] or df.col(name) is a series (df.col(name) always reaches the column, even when it shares a name with a frame method) with sum(), mean(), min(), max(), count(), std(), median(), unique(), value_counts(), values, head(n). The frame has len(), shape, columns, head(n), tail(n), filter(row => ...), sort(col, desc), select(...cols), groupby(col).sum|mean|count|min|max(valueCol), describe(), info() and rows().
- Charts: ` + "`resultado = plt.bar(labels, values)`" + ` or ` + "`plt.bar(series)`" + `; also plt.line, plt.scatter(xs, ys), plt.pie and plt.hist(values, bins). Chain .title(), .xlabel() and .ylabel() on the figure.

---
OBSERVATIONS FROM PREVIOUS STEPS:
%s

START THE NEXT STEP.
Original user question: "%s"

1. Thought: (REQUIRED) Based on the question and the observations, what is the next logical step?
2. Action: (REQUIRED) Give a single JSON code block with the next tool to use.
` + "```json" + `
{"tool": "TOOL_NAME", "tool_input": "TOOL_INPUT_OR_CODE"}
` + "```" + `
`

// BuildPrompt assembles the single planner prompt. Only text turns of the
// history are included.
func BuildPrompt(in PlanInput) string {
	files := "none"
	if len(in.Files) > 0 {
		files = strings.Join(in.Files, ", ")
	}

	var history strings.Builder
	for _, m := range in.History {
		fmt.Fprintf(&history, "%s: %s\n", m.Role, m.Content)
	}
	if history.Len() == 0 {
		history.WriteString("(empty)\n")
	}

	observations := NoObservations
	if len(in.Observations) > 0 {
		observations = strings.Join(in.Observations, "\n")
	}

	return fmt.Sprintf(promptTemplate,
		in.Scope,
		files,
		strings.TrimRight(history.String(), "\n"),
		in.Tools,
		observations,
		in.Query,
	)
}
