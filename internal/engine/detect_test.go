package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpen_SelectsProvider(t *testing.T) {
	ctx := context.Background()

	e, err := Open(ctx, ProviderConfig{OllamaBaseURL: "http://localhost:11434"})
	require.NoError(t, err)
	assert.IsType(t, &OllamaEngine{}, e)
	assert.Equal(t, "ollama", e.Name())

	e, err = Open(ctx, ProviderConfig{Provider: "openai", APIKey: "sk-test"})
	require.NoError(t, err)
	assert.IsType(t, &OpenAIEngine{}, e)

	e, err = Open(ctx, ProviderConfig{Provider: "OpenAI", BaseURL: "http://localhost:8080/v1"})
	require.NoError(t, err)
	assert.IsType(t, &OpenAIEngine{}, e)

	e, err = Open(ctx, ProviderConfig{Provider: "anthropic", APIKey: "sk-ant"})
	require.NoError(t, err)
	assert.IsType(t, &AnthropicEngine{}, e)
}

func TestOpen_Errors(t *testing.T) {
	ctx := context.Background()
	for _, p := range []string{"openai", "anthropic", "gemini"} {
		_, err := Open(ctx, ProviderConfig{Provider: p})
		assert.Error(t, err, p)
	}
	_, err := Open(ctx, ProviderConfig{Provider: "mystery", APIKey: "k"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown provider")
}

func TestCanEmbed(t *testing.T) {
	assert.True(t, CanEmbed("ollama"))
	assert.True(t, CanEmbed("gemini"))
	assert.False(t, CanEmbed("anthropic"))
}

func TestSplitSystem(t *testing.T) {
	sys, rest := splitSystem([]Message{
		{Role: RoleSystem, Content: "a"},
		{Role: RoleUser, Content: "q"},
		{Role: RoleSystem, Content: "b"},
	})
	assert.Equal(t, "a\n\nb", sys)
	assert.Equal(t, []Message{{Role: RoleUser, Content: "q"}}, rest)
}
