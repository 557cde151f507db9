package factory

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rework/pkg/config"
)

func TestNewRawRequiresKey(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	_, err := NewRaw(config.ModelConfig{Provider: ProviderOpenAI, Name: "gpt-4o"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "OPENAI_API_KEY")
}

func TestNewRawKeyFromEnv(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "sk-test")
	c, err := NewRaw(config.ModelConfig{Provider: "Anthropic", Name: "claude-sonnet-4-5"})
	require.NoError(t, err)
	assert.Equal(t, "claude-sonnet-4-5", c.ModelName())
}

func TestNewRawOllamaNeedsModel(t *testing.T) {
	_, err := NewRaw(config.ModelConfig{Provider: ProviderOllama})
	require.Error(t, err)

	c, err := NewRaw(config.ModelConfig{Provider: ProviderOllama, Name: "qwen2.5-coder"})
	require.NoError(t, err)
	assert.Equal(t, "qwen2.5-coder", c.ModelName())
}

func TestNewRawUnknownProvider(t *testing.T) {
	_, err := NewRaw(config.ModelConfig{Provider: "acme"})
	assert.Error(t, err)
}

func TestNewWrapsConfiguredClient(t *testing.T) {
	cfg := config.Default()
	cfg.Model.Provider = ProviderOllama
	cfg.Model.Name = "llama3"
	cfg.Model.MaxTokensPerMinute = 20000

	c, err := New(cfg, nil)
	require.NoError(t, err)
	assert.Equal(t, "llama3", c.ModelName())
}
