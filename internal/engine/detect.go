package engine

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Provider names accepted by Open.
const (
	ProviderOllama    = "ollama"
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
	ProviderGemini    = "gemini"
)

// ProviderConfig selects and configures one inference backend.
type ProviderConfig struct {
	Provider      string
	APIKey        string
	BaseURL       string // OpenAI-compatible endpoint override
	OllamaBaseURL string
	Timeout       time.Duration
}

// Open returns the Engine for cfg.Provider. Hosted providers require an API key.
func Open(ctx context.Context, cfg ProviderConfig) (Engine, error) {
	switch strings.ToLower(cfg.Provider) {
	case "", ProviderOllama:
		return NewOllamaEngine(cfg.OllamaBaseURL, cfg.Timeout), nil
	case ProviderOpenAI:
		if cfg.APIKey == "" && cfg.BaseURL == "" {
			return nil, fmt.Errorf("provider openai: missing API key")
		}
		return NewOpenAIEngine(cfg.APIKey, cfg.BaseURL, cfg.Timeout), nil
	case ProviderAnthropic:
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("provider anthropic: missing API key")
		}
		return NewAnthropicEngine(cfg.APIKey, cfg.Timeout), nil
	case ProviderGemini:
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("provider gemini: missing API key")
		}
		return NewGeminiEngine(ctx, cfg.APIKey, cfg.Timeout)
	default:
		return nil, fmt.Errorf("unknown provider %q (want ollama, openai, anthropic or gemini)", cfg.Provider)
	}
}

// CanEmbed reports whether the named provider offers an embeddings endpoint.
func CanEmbed(provider string) bool {
	return strings.ToLower(provider) != ProviderAnthropic
}
