package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

// GeminiEngine uses Google's Generative Language API for chat and embeddings.
type GeminiEngine struct {
	client  *genai.Client
	timeout time.Duration
}

// NewGeminiEngine dials the API with apiKey.
func NewGeminiEngine(ctx context.Context, apiKey string, timeout time.Duration) (*GeminiEngine, error) {
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("creating gemini client: %w", err)
	}
	return &GeminiEngine{client: client, timeout: timeout}, nil
}

// Close releases the underlying gRPC connection.
func (e *GeminiEngine) Close() error { return e.client.Close() }

func (e *GeminiEngine) Name() string { return "gemini" }

func (e *GeminiEngine) Chat(ctx context.Context, model string, messages []Message, jsonSchema *Schema) (string, error) {
	ctx, cancel := withTimeout(ctx, e.timeout)
	defer cancel()

	m := e.client.GenerativeModel(model)
	m.SetTemperature(0)
	system, convo := splitSystem(messages)
	if system != "" {
		m.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(system)}}
	}
	if jsonSchema != nil {
		m.ResponseMIMEType = "application/json"
	}
	if len(convo) == 0 {
		return "", fmt.Errorf("chat: no user message")
	}

	cs := m.StartChat()
	for _, msg := range convo[:len(convo)-1] {
		role := "user"
		if msg.Role == RoleAssistant {
			role = "model"
		}
		cs.History = append(cs.History, &genai.Content{Role: role, Parts: []genai.Part{genai.Text(msg.Content)}})
	}

	resp, err := cs.SendMessage(ctx, genai.Text(convo[len(convo)-1].Content))
	if err != nil {
		return "", fmt.Errorf("chat request: %w", err)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", fmt.Errorf("chat: empty response")
	}

	var b strings.Builder
	for _, p := range resp.Candidates[0].Content.Parts {
		if t, ok := p.(genai.Text); ok {
			b.WriteString(string(t))
		}
	}
	return b.String(), nil
}

func (e *GeminiEngine) Embed(ctx context.Context, model string, text string) ([]float32, error) {
	ctx, cancel := withTimeout(ctx, e.timeout)
	defer cancel()

	res, err := e.client.EmbeddingModel(model).EmbedContent(ctx, genai.Text(text))
	if err != nil {
		return nil, fmt.Errorf("embed request: %w", err)
	}
	if res.Embedding == nil || len(res.Embedding.Values) == 0 {
		return nil, fmt.Errorf("embed: empty embedding")
	}
	return res.Embedding.Values, nil
}

func (e *GeminiEngine) IsRunning(context.Context) bool { return true }

func (e *GeminiEngine) ListModels(ctx context.Context) ([]string, error) {
	var names []string
	it := e.client.ListModels(ctx)
	for {
		info, err := it.Next()
		if err != nil {
			if errors.Is(err, iterator.Done) {
				break
			}
			return nil, fmt.Errorf("listing models: %w", err)
		}
		names = append(names, strings.TrimPrefix(info.Name, "models/"))
	}
	return names, nil
}

func (e *GeminiEngine) HasModel(context.Context, string) bool { return true }

func (e *GeminiEngine) PullModel(context.Context, string, func(PullProgress)) error {
	return ErrUnsupported
}
