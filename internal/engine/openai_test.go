package engine

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newOpenAIServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/chat/completions", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Model          string `json:"model"`
			Messages       []Message
			ResponseFormat *struct {
				Type string `json:"type"`
			} `json:"response_format"`
		}
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		content := "plain:" + req.Messages[len(req.Messages)-1].Content
		if req.ResponseFormat != nil {
			content = `{"format":"` + req.ResponseFormat.Type + `"}`
		}
		json.NewEncoder(w).Encode(map[string]any{
			"id":      "chatcmpl-1",
			"object":  "chat.completion",
			"model":   req.Model,
			"choices": []map[string]any{{"index": 0, "message": map[string]string{"role": "assistant", "content": content}}},
		})
	})
	mux.HandleFunc("/v1/embeddings", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Input []string `json:"input"`
		}
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		// Reverse order to check index alignment.
		var data []map[string]any
		for i := len(req.Input) - 1; i >= 0; i-- {
			data = append(data, map[string]any{"object": "embedding", "index": i, "embedding": []float32{float32(i), 1}})
		}
		json.NewEncoder(w).Encode(map[string]any{"object": "list", "data": data})
	})
	mux.HandleFunc("/v1/models", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"object": "list",
			"data":   []map[string]any{{"id": "gpt-4o-mini", "object": "model"}},
		})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestOpenAIEngine_Chat(t *testing.T) {
	srv := newOpenAIServer(t)
	e := NewOpenAIEngine("sk-test", srv.URL+"/v1", 0)

	out, err := e.Chat(context.Background(), "gpt-4o-mini", []Message{
		{Role: RoleSystem, Content: "rules"},
		{Role: RoleUser, Content: "how many rows?"},
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, "plain:how many rows?", out)

	out, err = e.Chat(context.Background(), "gpt-4o-mini", []Message{{Role: RoleUser, Content: "x"}}, &Schema{Type: "object"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"format":"json_object"}`, out)
}

func TestOpenAIEngine_EmbedBatchAlignsByIndex(t *testing.T) {
	srv := newOpenAIServer(t)
	e := NewOpenAIEngine("sk-test", srv.URL+"/v1", 0)

	vecs, err := e.EmbedBatch(context.Background(), "text-embedding-3-small", []string{"a", "b", "c"})
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{0, 1}, {1, 1}, {2, 1}}, vecs)

	vec, err := e.Embed(context.Background(), "text-embedding-3-small", "a")
	require.NoError(t, err)
	assert.Equal(t, []float32{0, 1}, vec)
}

func TestOpenAIEngine_Models(t *testing.T) {
	srv := newOpenAIServer(t)
	e := NewOpenAIEngine("sk-test", srv.URL+"/v1", 0)

	assert.True(t, e.IsRunning(context.Background()))
	assert.True(t, e.HasModel(context.Background(), "gpt-4o-mini"))
	assert.False(t, e.HasModel(context.Background(), "gpt-2"))
	assert.ErrorIs(t, e.PullModel(context.Background(), "x", nil), ErrUnsupported)
}
