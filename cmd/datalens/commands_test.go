package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/kalambet/datalens/internal/assistant"
	"github.com/kalambet/datalens/internal/chart"
	"github.com/kalambet/datalens/internal/config"
	"github.com/kalambet/datalens/internal/session"
	"github.com/kalambet/datalens/internal/storage"
	"github.com/kalambet/datalens/internal/table"
)

type recordedRequest struct {
	Method string
	Path   string
	Body   string
	Auth   string
}

type testServer struct {
	server   *httptest.Server
	requests []recordedRequest
}

func newTestServer(t *testing.T, responses map[string]string) *testServer {
	t.Helper()
	ts := &testServer{}

	ts.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body bytes.Buffer
		body.ReadFrom(r.Body)

		ts.requests = append(ts.requests, recordedRequest{
			Method: r.Method,
			Path:   r.URL.RequestURI(),
			Body:   body.String(),
			Auth:   r.Header.Get("Authorization"),
		})

		key := r.Method + " " + r.URL.Path
		if resp, ok := responses[key]; ok {
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(resp))
			return
		}

		w.WriteHeader(404)
		w.Write([]byte(`{"error":{"message":"semantic cache is disabled","type":"not_found"}}`))
	}))

	t.Cleanup(ts.server.Close)
	return ts
}

func (ts *testServer) client() *apiClient {
	return &apiClient{
		baseURL:    ts.server.URL,
		token:      "test-token",
		httpClient: ts.server.Client(),
	}
}

var ctx = context.Background()

func testSession() *session.Session {
	orders := table.New("orders.csv", []string{"region", "amount"})
	orders.Append([]any{"north", 10.0})
	orders.Append([]any{"south", 5.0})
	returns := table.New("returns.csv", []string{"region", "count"})
	returns.Append([]any{"north", 1.0})
	return session.New([]*table.Table{orders, returns})
}

// fakeAsker records queries and replays the assistant's turn bookkeeping.
type fakeAsker struct {
	queries []string
	chart   *chart.Figure
}

func (f *fakeAsker) Ask(_ context.Context, sess *session.Session, query string) assistant.Reply {
	f.queries = append(f.queries, query)
	sess.Append(session.Turn{Role: session.RoleUser, Text: query})
	sess.Append(session.Turn{Role: session.RoleAssistant, Kind: session.KindThought, Text: "look at the data"})
	if f.chart != nil && strings.Contains(query, "plot") {
		idx := sess.Append(session.Turn{Role: session.RoleAssistant, Kind: session.KindChart, Chart: f.chart})
		return assistant.Reply{Answer: "Here is the chart.", Chart: f.chart, ChartIndex: idx, State: "done"}
	}
	sess.Append(session.Turn{Role: session.RoleAssistant, Text: "Total is 15."})
	return assistant.Reply{Answer: "Total is 15.", ChartIndex: -1, State: "done"}
}

func barChart() *chart.Figure {
	return &chart.Figure{
		Kind:   chart.Bar,
		Title:  "Amount by region",
		Labels: []string{"north", "south"},
		Series: []chart.Series{{Name: "amount", Y: []float64{10, 5}}},
	}
}

func TestRunAsk_Text(t *testing.T) {
	var out bytes.Buffer
	asst := &fakeAsker{}

	err := runAsk(ctx, asst, testSession(), "what is the total?", filepath.Join(t.TempDir(), "chart.png"), true, &out)
	if err != nil {
		t.Fatalf("runAsk: %v", err)
	}
	if got := strings.TrimSpace(out.String()); got != "Total is 15." {
		t.Errorf("output = %q, want %q", got, "Total is 15.")
	}
	if len(asst.queries) != 1 || asst.queries[0] != "what is the total?" {
		t.Errorf("queries = %v", asst.queries)
	}
}

func TestRunAsk_ChartWritesPNG(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.png")
	var out bytes.Buffer

	err := runAsk(ctx, &fakeAsker{chart: barChart()}, testSession(), "plot amount by region", path, false, &out)
	if err != nil {
		t.Fatalf("runAsk: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading chart: %v", err)
	}
	if !bytes.HasPrefix(data, []byte("\x89PNG")) {
		t.Errorf("chart file is not a PNG (first bytes %q)", data[:min(8, len(data))])
	}
	if !strings.Contains(out.String(), "Here is the chart.") {
		t.Errorf("output = %q, want the answer text", out.String())
	}
}

func TestPrintReply_Cached(t *testing.T) {
	noColor = true
	defer func() { noColor = false }()

	var out bytes.Buffer
	if err := printReply(&out, assistant.Reply{Answer: "42", Cached: true, ChartIndex: -1}, ""); err != nil {
		t.Fatalf("printReply: %v", err)
	}
	if out.String() != "(from cache)\n42\n" {
		t.Errorf("output = %q", out.String())
	}
}

func TestChatREPL(t *testing.T) {
	noColor = true
	defer func() { noColor = false }()

	dir := t.TempDir()
	asst := &fakeAsker{chart: barChart()}
	sess := testSession()
	sess.SetQuestions([]string{"Which region sells most?"})
	var out bytes.Buffer
	repl := &chatREPL{asst: asst, sess: sess, outDir: dir, out: &out}

	input := strings.Join([]string{
		"/files",
		"/scope returns.csv",
		"how many returns?",
		"/scope nope",
		"plot amount by region",
		"/reset",
		"/bogus",
		"",
		"/quit",
		"never asked",
	}, "\n")

	if err := repl.run(ctx, strings.NewReader(input)); err != nil {
		t.Fatalf("run: %v", err)
	}

	text := out.String()
	for _, want := range []string{
		"Loaded orders.csv, returns.csv.",
		"1. Which region sells most?",
		"  orders.csv\n  returns.csv\n",
		"Total is 15.",
		"Here is the chart.",
	} {
		if !strings.Contains(text, want) {
			t.Errorf("output missing %q:\n%s", want, text)
		}
	}

	if len(asst.queries) != 2 {
		t.Fatalf("queries = %v, want 2 before /quit", asst.queries)
	}
	if _, err := os.Stat(filepath.Join(dir, "chart-1.png")); err != nil {
		t.Errorf("chart-1.png not written: %v", err)
	}

	if repl.sess == sess {
		t.Error("/reset kept the old session")
	}
	if len(repl.sess.History()) != 0 {
		t.Errorf("reset session history = %d turns, want 0", len(repl.sess.History()))
	}
	if repl.sess.Scope() != session.ScopeAll {
		t.Errorf("reset scope = %q, want %q", repl.sess.Scope(), session.ScopeAll)
	}
	if qs, _ := repl.sess.Questions(); len(qs) != 1 {
		t.Errorf("reset dropped suggested questions: %v", qs)
	}
	if sess.Scope() != "returns.csv" {
		t.Errorf("scope before reset = %q, want returns.csv (bad scope must not change it)", sess.Scope())
	}
}

func TestChatREPL_EOF(t *testing.T) {
	var out bytes.Buffer
	repl := &chatREPL{asst: &fakeAsker{}, sess: testSession(), outDir: t.TempDir(), out: &out}
	if err := repl.run(ctx, strings.NewReader("hello")); err != nil {
		t.Fatalf("run: %v", err)
	}
}

func TestFetchCache(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"GET /cache": `{"stats":{"entries":2,"dims":[768],"threshold":0.9},"entries":[{"id":1,"question":"top region?","answer":"north","created_at":"2026-01-02T03:04:05Z"}]}`,
	})

	c, err := fetchCache(ctx, ts.client(), 1)
	if err != nil {
		t.Fatalf("fetchCache: %v", err)
	}
	if c.Stats.Entries != 2 || c.Stats.Threshold != 0.9 {
		t.Errorf("stats = %+v", c.Stats)
	}
	if len(c.Entries) != 1 || c.Entries[0].Question != "top region?" {
		t.Errorf("entries = %+v", c.Entries)
	}

	if len(ts.requests) != 1 {
		t.Fatalf("expected 1 request, got %d", len(ts.requests))
	}
	r := ts.requests[0]
	if r.Path != "/cache?limit=1" {
		t.Errorf("path = %q, want /cache?limit=1", r.Path)
	}
	if r.Auth != "Bearer test-token" {
		t.Errorf("auth = %q, want Bearer test-token", r.Auth)
	}
}

func TestFetchCache_Disabled(t *testing.T) {
	ts := newTestServer(t, nil)

	_, err := fetchCache(ctx, ts.client(), 20)
	if err == nil {
		t.Fatal("expected error when the cache is disabled")
	}
	if !strings.Contains(err.Error(), "404") || !strings.Contains(err.Error(), "semantic cache is disabled") {
		t.Errorf("error = %q, want status and server message", err.Error())
	}
}

func TestImportCache(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"POST /cache/import": `{"imported":2}`,
	})

	path := filepath.Join(t.TempDir(), "pairs.json")
	pairs := `[{"question":"how many rows?","answer":"5"},{"question":"top region?","answer":"north"}]`
	if err := os.WriteFile(path, []byte(pairs), 0o644); err != nil {
		t.Fatal(err)
	}

	n, err := importCache(ctx, ts.client(), path)
	if err != nil {
		t.Fatalf("importCache: %v", err)
	}
	if n != 2 {
		t.Errorf("imported = %d, want 2", n)
	}

	r := ts.requests[0]
	if r.Method != "POST" || r.Path != "/cache/import" {
		t.Errorf("request = %s %s, want POST /cache/import", r.Method, r.Path)
	}
	var body []map[string]string
	if err := json.Unmarshal([]byte(r.Body), &body); err != nil {
		t.Fatalf("body parse error: %v", err)
	}
	if len(body) != 2 || body[1]["answer"] != "north" {
		t.Errorf("body = %v", body)
	}
}

func TestImportCache_BadFiles(t *testing.T) {
	ts := newTestServer(t, nil)
	dir := t.TempDir()

	notJSON := filepath.Join(dir, "bad.json")
	os.WriteFile(notJSON, []byte("question,answer\n"), 0o644)
	empty := filepath.Join(dir, "empty.json")
	os.WriteFile(empty, []byte("[]"), 0o644)

	for _, path := range []string{notJSON, empty, filepath.Join(dir, "missing.json")} {
		if _, err := importCache(ctx, ts.client(), path); err == nil {
			t.Errorf("importCache(%s): expected error", filepath.Base(path))
		}
	}
	if len(ts.requests) != 0 {
		t.Errorf("bad files must not reach the server, got %d requests", len(ts.requests))
	}
}

func TestAPIClient_NoTokenNoHeader(t *testing.T) {
	ts := newTestServer(t, map[string]string{"GET /health": `{"status":"ok"}`})
	client := ts.client()
	client.token = ""

	resp, err := client.get(ctx, "/health")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	resp.Body.Close()
	if ts.requests[0].Auth != "" {
		t.Errorf("auth = %q, want none", ts.requests[0].Auth)
	}
}

func TestAPIClient_Unreachable(t *testing.T) {
	ts := newTestServer(t, nil)
	client := ts.client()
	ts.server.Close()

	_, err := client.get(ctx, "/cache")
	if err == nil || !strings.Contains(err.Error(), "datalens serve") {
		t.Errorf("error = %v, want a hint to start the server", err)
	}
}

func TestAskCommand_MissingQuestion(t *testing.T) {
	defer rootCmd.SetArgs(nil)

	rootCmd.SetArgs([]string{"ask", "--data", "orders.csv"})
	err := rootCmd.Execute()
	if err == nil {
		t.Fatal("expected error for missing question")
	}
	if !strings.Contains(err.Error(), "arg") {
		t.Errorf("error = %q, want it to mention the missing arg", err.Error())
	}
}

func TestServeCommand_MCPNeedsData(t *testing.T) {
	defer rootCmd.SetArgs(nil)

	rootCmd.SetArgs([]string{"serve", "--mcp"})
	err := rootCmd.Execute()
	if err == nil {
		t.Fatal("expected error for --mcp without --data")
	}
	if !strings.Contains(err.Error(), "--data") {
		t.Errorf("error = %q, want it to mention --data", err.Error())
	}
}

func TestColorize(t *testing.T) {
	noColor = false
	if got := colorize(colorRed, "x"); got != colorRed+"x"+colorReset {
		t.Errorf("colorize = %q", got)
	}
	noColor = true
	defer func() { noColor = false }()
	if got := colorize(colorRed, "x"); got != "x" {
		t.Errorf("colorize with noColor = %q, want plain text", got)
	}
}

func TestConfigShowAll(t *testing.T) {
	cfg := config.Config{}
	cfg.Server.Port = 4100
	cfg.LLM.Model = "llama3.1"

	found := map[string]string{}
	for _, k := range config.ShowAll(cfg) {
		found[k.Key] = k.Value
	}
	if found["server.port"] != "4100" {
		t.Errorf("server.port = %q, want 4100", found["server.port"])
	}
	if found["llm.model"] != "llama3.1" {
		t.Errorf("llm.model = %q, want llama3.1", found["llm.model"])
	}
	if _, ok := found["llm.api_key"]; ok {
		t.Error("secret llm.api_key must not be shown")
	}
}

func TestPIDFile(t *testing.T) {
	path := pidFilePath(filepath.Join(t.TempDir(), "data"))
	if err := writePIDFile(path); err != nil {
		t.Fatalf("writePIDFile: %v", err)
	}
	pid, err := readPIDFile(path)
	if err != nil {
		t.Fatalf("readPIDFile: %v", err)
	}
	if pid != os.Getpid() {
		t.Errorf("pid = %d, want %d", pid, os.Getpid())
	}
}

func TestSchemaStatus(t *testing.T) {
	store, err := storage.Open(t.TempDir())
	if err != nil {
		t.Fatalf("storage.Open: %v", err)
	}
	defer store.Close()

	if got, want := schemaStatus(store), "version 2 (2 migrations)"; got != want {
		t.Errorf("schemaStatus = %q, want %q", got, want)
	}
}
