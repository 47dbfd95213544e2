package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/kalambet/datalens/internal/chart"
	"github.com/kalambet/datalens/internal/sandbox"
	"github.com/kalambet/datalens/internal/table"
)

// FinalAnswer is the reserved tool name that ends the loop.
const FinalAnswer = "final_answer"

// ToolID identifies a registered tool.
type ToolID int

const (
	ToolCode ToolID = iota + 1
	ToolWebSearch
	ToolListData
	ToolSchema
)

var toolNames = map[ToolID]string{
	ToolCode:      "code_interpreter",
	ToolWebSearch: "web_search",
	ToolListData:  "list_available_data",
	ToolSchema:    "get_data_schema",
}

func (id ToolID) String() string {
	if n, ok := toolNames[id]; ok {
		return n
	}
	return fmt.Sprintf("tool(%d)", int(id))
}

// Convention is the calling convention of a tool: which parts of a Call it
// receives.
type Convention int

const (
	InputAndScope Convention = iota
	InputOnly
	NoInput
)

// Data is the session surface the tools read from.
type Data interface {
	TableNames() []string
	Table(name string) (*table.Table, bool)
	Resolve(scope string) (*table.Table, error)
}

// Searcher returns web snippets joined into one observation.
type Searcher interface {
	Text(ctx context.Context, query string, max int) (string, error)
}

type noData struct{}

func (noData) TableNames() []string                 { return nil }
func (noData) Table(string) (*table.Table, bool)    { return nil, false }
func (noData) Resolve(string) (*table.Table, error) { return nil, errors.New("no data files have been loaded") }

// Call carries the arguments of one tool invocation. Fields the tool's
// convention excludes are zeroed before the call.
type Call struct {
	Input string
	Scope string
	Data  Data
}

// ToolResult is what a tool hands back: observation text, or a chart.
type ToolResult struct {
	Text  string
	Chart *chart.Figure
}

// ToolFunc implements a tool. A returned error becomes an observation.
type ToolFunc func(ctx context.Context, call Call) (ToolResult, error)

// Tool is one registry entry.
type Tool struct {
	ID          ToolID
	Name        string
	Description string
	Convention  Convention
	Fn          ToolFunc
}

// Invoke applies the tool's calling convention and runs it.
func (t Tool) Invoke(ctx context.Context, call Call) (ToolResult, error) {
	if call.Data == nil {
		call.Data = noData{}
	}
	switch t.Convention {
	case InputOnly:
		call.Scope = ""
	case NoInput:
		call.Input, call.Scope = "", ""
	}
	return t.Fn(ctx, call)
}

// Deps are the collaborators the built-in tools need.
type Deps struct {
	Executor      sandbox.Executor
	Search        Searcher
	SearchResults int
}

// Registry is the fixed dispatch table of tools. It has no registration
// API; the set is decided when it is built.
type Registry struct {
	tools  []Tool
	byName map[string]Tool
}

// NewRegistry builds the registry. A nil Search leaves web_search out.
func NewRegistry(deps Deps) *Registry {
	tools := []Tool{
		{
			ID:          ToolCode,
			Description: "Runs JavaScript against the data in the current scope, bound to the variable `df`. Store the answer in `resultado`; assign a `plt` figure to `resultado` to draw a chart.",
			Convention:  InputAndScope,
			Fn:          codeTool(deps.Executor),
		},
		{
			ID:          ToolListData,
			Description: "Lists the names of the data files loaded in this session. Takes no input.",
			Convention:  NoInput,
			Fn:          listDataTool,
		},
		{
			ID:          ToolSchema,
			Description: "Shows the columns, types and non-null counts of one data file. The input is the file name.",
			Convention:  InputOnly,
			Fn:          schemaTool,
		},
	}
	if deps.Search != nil {
		tools = append(tools, Tool{
			ID:          ToolWebSearch,
			Description: "Searches the web and returns a few text snippets. Use it for context that is not in the data. The input is the search query.",
			Convention:  InputOnly,
			Fn:          webSearchTool(deps.Search, deps.SearchResults),
		})
	}

	r := &Registry{byName: make(map[string]Tool, len(tools))}
	for _, t := range tools {
		t.Name = t.ID.String()
		r.tools = append(r.tools, t)
		r.byName[t.Name] = t
	}
	return r
}

// Lookup finds a tool by the name the planner used.
func (r *Registry) Lookup(name string) (Tool, bool) {
	t, ok := r.byName[name]
	return t, ok
}

// Tools returns the entries in registration order.
func (r *Registry) Tools() []Tool {
	return append([]Tool(nil), r.tools...)
}

// Describe renders the catalog shown to the planner, one "- `name`:
// description" line per tool.
func (r *Registry) Describe() string {
	lines := make([]string, len(r.tools))
	for i, t := range r.tools {
		lines[i] = fmt.Sprintf("- `%s`: %s", t.Name, t.Description)
	}
	return strings.Join(lines, "\n")
}

func codeTool(exec sandbox.Executor) ToolFunc {
	return func(ctx context.Context, call Call) (ToolResult, error) {
		if exec == nil {
			return ToolResult{}, errors.New("code execution is not configured")
		}
		data, err := call.Data.Resolve(call.Scope)
		if err != nil {
			return ToolResult{}, err
		}
		res := exec.Execute(ctx, call.Input, data)
		if res.Chart != nil {
			return ToolResult{Text: res.Text, Chart: res.Chart}, nil
		}
		return ToolResult{Text: res.Text}, nil
	}
}

func listDataTool(_ context.Context, call Call) (ToolResult, error) {
	names := call.Data.TableNames()
	if len(names) == 0 {
		return ToolResult{Text: "No data files have been loaded yet."}, nil
	}
	return ToolResult{Text: "The following files are available for analysis: " + strings.Join(names, ", ")}, nil
}

func schemaTool(_ context.Context, call Call) (ToolResult, error) {
	name := strings.Trim(strings.TrimSpace(call.Input), `"'`)
	t, ok := call.Data.Table(name)
	if !ok {
		return ToolResult{Text: fmt.Sprintf("Error: file '%s' was not found. Use the 'list_available_data' tool to see the available files.", name)}, nil
	}
	return ToolResult{Text: t.Info()}, nil
}

func webSearchTool(s Searcher, max int) ToolFunc {
	return func(ctx context.Context, call Call) (ToolResult, error) {
		text, err := s.Text(ctx, call.Input, max)
		if err != nil {
			return ToolResult{}, err
		}
		return ToolResult{Text: text}, nil
	}
}
