package engine

import (
	"context"
	"fmt"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

// OpenAIEngine talks to the OpenAI API or any server speaking the same
// protocol (OpenRouter, vLLM, LM Studio, mlx-lm) when a base URL is given.
type OpenAIEngine struct {
	client  *openai.Client
	timeout time.Duration
}

// NewOpenAIEngine builds a client for apiKey. An empty baseURL targets api.openai.com.
func NewOpenAIEngine(apiKey, baseURL string, timeout time.Duration) *OpenAIEngine {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &OpenAIEngine{client: openai.NewClientWithConfig(cfg), timeout: timeout}
}

func (e *OpenAIEngine) Name() string { return "openai" }

func (e *OpenAIEngine) Chat(ctx context.Context, model string, messages []Message, jsonSchema *Schema) (string, error) {
	ctx, cancel := withTimeout(ctx, e.timeout)
	defer cancel()

	req := openai.ChatCompletionRequest{
		Model:       model,
		Messages:    make([]openai.ChatCompletionMessage, len(messages)),
		Temperature: 0,
	}
	for i, m := range messages {
		req.Messages[i] = openai.ChatCompletionMessage{Role: openaiRole(m.Role), Content: m.Content}
	}
	if jsonSchema != nil {
		req.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		}
	}

	resp, err := e.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", fmt.Errorf("chat request: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("chat: empty choices")
	}
	return resp.Choices[0].Message.Content, nil
}

func openaiRole(role string) string {
	switch role {
	case RoleSystem:
		return openai.ChatMessageRoleSystem
	case RoleAssistant:
		return openai.ChatMessageRoleAssistant
	default:
		return openai.ChatMessageRoleUser
	}
}

func (e *OpenAIEngine) Embed(ctx context.Context, model string, text string) ([]float32, error) {
	vecs, err := e.EmbedBatch(ctx, model, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch embeds texts in one request, index-aligned with the input.
func (e *OpenAIEngine) EmbedBatch(ctx context.Context, model string, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	ctx, cancel := withTimeout(ctx, e.timeout)
	defer cancel()

	resp, err := e.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Model: openai.EmbeddingModel(model),
		Input: texts,
	})
	if err != nil {
		return nil, fmt.Errorf("embed request: %w", err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("embed: got %d embeddings for %d inputs", len(resp.Data), len(texts))
	}
	out := make([][]float32, len(texts))
	for _, d := range resp.Data {
		if d.Index < 0 || d.Index >= len(out) {
			return nil, fmt.Errorf("embed: index %d out of range", d.Index)
		}
		out[d.Index] = d.Embedding
	}
	return out, nil
}

func (e *OpenAIEngine) IsRunning(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	_, err := e.client.ListModels(ctx)
	return err == nil
}

func (e *OpenAIEngine) ListModels(ctx context.Context) ([]string, error) {
	list, err := e.client.ListModels(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing models: %w", err)
	}
	names := make([]string, len(list.Models))
	for i, m := range list.Models {
		names[i] = m.ID
	}
	return names, nil
}

func (e *OpenAIEngine) HasModel(ctx context.Context, name string) bool {
	names, err := e.ListModels(ctx)
	if err != nil {
		return false
	}
	for _, n := range names {
		if n == name {
			return true
		}
	}
	return false
}

func (e *OpenAIEngine) PullModel(context.Context, string, func(PullProgress)) error {
	return ErrUnsupported
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
