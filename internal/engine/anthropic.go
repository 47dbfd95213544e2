package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	anthropicopt "github.com/anthropics/anthropic-sdk-go/option"
)

const anthropicMaxTokens = 2048

// AnthropicEngine uses the Anthropic Messages API. It has no embeddings
// endpoint, so pair it with a separate embedding provider.
type AnthropicEngine struct {
	client  anthropic.Client
	timeout time.Duration
}

// NewAnthropicEngine builds a client for apiKey.
func NewAnthropicEngine(apiKey string, timeout time.Duration) *AnthropicEngine {
	return &AnthropicEngine{
		client:  anthropic.NewClient(anthropicopt.WithAPIKey(apiKey)),
		timeout: timeout,
	}
}

func (e *AnthropicEngine) Name() string { return "anthropic" }

func (e *AnthropicEngine) Chat(ctx context.Context, model string, messages []Message, jsonSchema *Schema) (string, error) {
	ctx, cancel := withTimeout(ctx, e.timeout)
	defer cancel()

	system, convo := splitSystem(messages)
	if jsonSchema != nil {
		system = strings.TrimSpace(system + "\n\nRespond with a single JSON object and nothing else.")
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: anthropicMaxTokens,
		Messages:  make([]anthropic.MessageParam, 0, len(convo)),
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}
	for _, m := range convo {
		block := anthropic.NewTextBlock(m.Content)
		if m.Role == RoleAssistant {
			params.Messages = append(params.Messages, anthropic.NewAssistantMessage(block))
		} else {
			params.Messages = append(params.Messages, anthropic.NewUserMessage(block))
		}
	}

	msg, err := e.client.Messages.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("chat request: %w", err)
	}

	var b strings.Builder
	for _, cb := range msg.Content {
		if tb, ok := cb.AsAny().(anthropic.TextBlock); ok {
			b.WriteString(tb.Text)
		}
	}
	return b.String(), nil
}

func (e *AnthropicEngine) Embed(context.Context, string, string) ([]float32, error) {
	return nil, ErrUnsupported
}

// IsRunning reports true once a key is configured; the API has no cheap probe.
func (e *AnthropicEngine) IsRunning(context.Context) bool { return true }

func (e *AnthropicEngine) ListModels(context.Context) ([]string, error) {
	return nil, ErrUnsupported
}

// HasModel assumes hosted models exist; a wrong name surfaces on the first Chat.
func (e *AnthropicEngine) HasModel(context.Context, string) bool { return true }

func (e *AnthropicEngine) PullModel(context.Context, string, func(PullProgress)) error {
	return ErrUnsupported
}
