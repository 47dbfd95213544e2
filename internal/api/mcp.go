package api

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/datalens/internal/agent"
	"github.com/kalambet/datalens/internal/assistant"
	"github.com/kalambet/datalens/internal/chart"
	"github.com/kalambet/datalens/internal/onboard"
	"github.com/kalambet/datalens/internal/sandbox"
	"github.com/kalambet/datalens/internal/session"
)

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Session      *session.Session
	Tools        *agent.Registry
	Assistant    *assistant.Assistant // optional; if nil, ask returns an error
	Interactions InteractionStore     // optional; if nil, the history resource is empty
	Version      string
}

// NewMCPServer creates an MCP server over one preloaded session.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	version := deps.Version
	if version == "" {
		version = "dev"
	}
	s := server.NewMCPServer(
		"datalens",
		version,
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("datalens: ask questions about the loaded data files, inspect schemas and run analysis code."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("list_available_data",
			mcp.WithDescription("List the names of the data files that are loaded."),
		),
		mcpAgentTool(deps, "list_available_data", func(mcp.CallToolRequest) (agent.Call, error) {
			return agent.Call{}, nil
		}),
	)

	s.AddTool(
		mcp.NewTool("get_data_schema",
			mcp.WithDescription("Show the columns, data types and non-null counts of one data file."),
			mcp.WithString("file_name", mcp.Description("Exact file name from list_available_data"), mcp.Required()),
		),
		mcpAgentTool(deps, "get_data_schema", func(req mcp.CallToolRequest) (agent.Call, error) {
			name, err := req.RequireString("file_name")
			if err != nil {
				return agent.Call{}, fmt.Errorf("file_name is required")
			}
			return agent.Call{Input: name}, nil
		}),
	)

	s.AddTool(
		mcp.NewTool("run_code",
			mcp.WithDescription("Run JavaScript against the data as `df`. Assign the answer to `resultado`; a plt figure returns a chart."),
			mcp.WithString("code", mcp.Description("JavaScript code"), mcp.Required()),
			mcp.WithString("scope", mcp.Description("File name to analyze, or \"all\" (default: the session scope)")),
		),
		mcpRunCode(deps),
	)

	s.AddTool(
		mcp.NewTool("ask",
			mcp.WithDescription("Answer a natural-language question about the data using the full analysis agent."),
			mcp.WithString("question", mcp.Description("The question to answer"), mcp.Required()),
		),
		mcpAsk(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"data://catalog",
			"Data Catalog",
			mcp.WithResourceDescription("Loaded files with row counts, columns, dtypes and null counts"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceCatalog(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"data://recent",
			"Recent Questions",
			mcp.WithResourceDescription("Last 10 answered questions in this session"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceRecent(deps),
	)

	return s
}

// mcpAgentTool exposes a registered agent tool, building its call from the
// request arguments.
func mcpAgentTool(deps MCPDeps, name string, build func(mcp.CallToolRequest) (agent.Call, error)) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		tool, ok := deps.Tools.Lookup(name)
		if !ok {
			return mcpError(fmt.Sprintf("tool %s is not available", name)), nil
		}
		call, err := build(req)
		if err != nil {
			return mcpError(err.Error()), nil
		}
		call.Data = deps.Session
		res, err := tool.Invoke(ctx, call)
		if err != nil {
			return mcpError(fmt.Sprintf("%s failed: %v", name, err)), nil
		}
		return mcpText(res.Text), nil
	}
}

func mcpRunCode(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		code, err := req.RequireString("code")
		if err != nil {
			return mcpError("code is required"), nil
		}
		if ok, reason := sandbox.Validate(code); !ok {
			return mcpError((&sandbox.ValidationError{Reason: reason}).Error()), nil
		}
		scope := req.GetString("scope", deps.Session.Scope())

		tool, ok := deps.Tools.Lookup(agent.ToolCode.String())
		if !ok {
			return mcpError("code execution is not available"), nil
		}
		res, err := tool.Invoke(ctx, agent.Call{Input: code, Scope: scope, Data: deps.Session})
		if err != nil {
			return mcpError(err.Error()), nil
		}
		return mcpResult(res.Text, res.Chart), nil
	}
}

func mcpAsk(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		if deps.Assistant == nil {
			return mcpError("ask not available: no language model configured"), nil
		}
		question, err := req.RequireString("question")
		if err != nil {
			return mcpError("question is required"), nil
		}
		reply := deps.Assistant.Ask(ctx, deps.Session, question)
		return mcpResult(reply.Answer, reply.Chart), nil
	}
}

// mcpResult is a text result with the chart attached as a PNG when present.
func mcpResult(text string, fig *chart.Figure) *mcp.CallToolResult {
	result := mcpText(text)
	if fig == nil {
		return result
	}
	var buf bytes.Buffer
	if err := fig.RenderPNG(&buf); err != nil {
		result.Content = append(result.Content, mcp.TextContent{Type: "text", Text: fmt.Sprintf("(chart could not be rendered: %v)", err)})
		return result
	}
	result.Content = append(result.Content, mcp.NewImageContent(base64.StdEncoding.EncodeToString(buf.Bytes()), "image/png"))
	return result
}

func mcpResourceCatalog(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		b, err := json.Marshal(onboard.Catalog(deps.Session.Tables()))
		if err != nil {
			return nil, fmt.Errorf("failed to marshal catalog: %w", err)
		}
		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     string(b),
			},
		}, nil
	}
}

func mcpResourceRecent(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		type interactionSummary struct {
			ID        string `json:"id"`
			CreatedAt string `json:"created_at"`
			Question  string `json:"question"`
			Answer    string `json:"answer"`
			Cached    bool   `json:"cached"`
		}
		summaries := []interactionSummary{}

		if deps.Interactions != nil {
			interactions, err := deps.Interactions.RecentInteractions(ctx, deps.Session.ID, 10)
			if err != nil {
				return nil, fmt.Errorf("failed to get recent interactions: %w", err)
			}
			for _, ix := range interactions {
				summaries = append(summaries, interactionSummary{
					ID:        ix.ID,
					CreatedAt: ix.CreatedAt.Format(time.RFC3339),
					Question:  ix.Question,
					Answer:    truncateRunes(ix.Answer, 200),
					Cached:    ix.Cached,
				})
			}
		}

		b, err := json.Marshal(summaries)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal interactions: %w", err)
		}
		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     string(b),
			},
		}, nil
	}
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n]) + "..."
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
