package engine

import (
	"context"
	"errors"
)

// ErrUnsupported is returned by providers for operations they cannot perform,
// such as embeddings on a chat-only API or model pulls on a hosted service.
var ErrUnsupported = errors.New("operation not supported by provider")

// Chatter is the minimal language-model surface used by the planner and the
// onboarding suggester.
type Chatter interface {
	// Chat sends messages to the given model and returns the assistant's response.
	// When jsonSchema is non-nil, structured JSON output is requested.
	Chat(ctx context.Context, model string, messages []Message, jsonSchema *Schema) (string, error)
}

// Embedder turns text into a fixed-length vector.
type Embedder interface {
	// Embed returns the embedding vector for the given text using the specified model.
	Embed(ctx context.Context, model string, text string) ([]float32, error)
}

// Engine abstracts an inference backend (local Ollama or a hosted API).
type Engine interface {
	Chatter
	Embedder

	// Name identifies the provider in logs and status output.
	Name() string

	// IsRunning reports whether the inference backend is reachable.
	IsRunning(ctx context.Context) bool

	// ListModels returns the names of all available models.
	ListModels(ctx context.Context) ([]string, error)

	// HasModel reports whether the given model name is available.
	HasModel(ctx context.Context, name string) bool

	// PullModel downloads a model. The optional callback receives progress updates.
	PullModel(ctx context.Context, name string, onProgress func(PullProgress)) error
}
