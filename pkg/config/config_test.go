package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 8, cfg.MaxToolIterations)
	assert.Equal(t, 3, cfg.MaxEditRetries)
	assert.Equal(t, 2, cfg.FuzzLines)
}

func TestLoadJSONWithEnvSubstitution(t *testing.T) {
	t.Setenv("TEST_REWORK_KEY", "sk-test")
	path := filepath.Join(t.TempDir(), "rework.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"edit_format": "udiff",
		"mode": "autonomous",
		"max_edit_retries": 0,
		"model": {"provider": "openai", "name": "gpt-4.1", "api_key": "${TEST_REWORK_KEY}"},
		"retry": {"initial_delay": "250ms"}
	}`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "udiff", cfg.EditFormat)
	assert.Equal(t, ModeAutonomous, cfg.Mode)
	assert.Equal(t, 0, cfg.MaxEditRetries)
	assert.Equal(t, "sk-test", cfg.Model.APIKey)
	assert.Equal(t, 250*time.Millisecond, cfg.Retry.InitialDelay.Duration)
	assert.Equal(t, 30*time.Second, cfg.Retry.MaxDelay.Duration)
	assert.True(t, cfg.AutoCommit, "omitted booleans keep their defaults")
}

func TestLoadYAMLAndOverrides(t *testing.T) {
	t.Setenv("REWORK_MAX_TOOL_ITERATIONS", "3")
	t.Setenv("REWORK_MODEL_NAME", "llama3")
	t.Setenv("REWORK_AUTO_COMMIT", "false")
	t.Setenv("REWORK_RETRY_MAX_DELAY", "5s")

	path := filepath.Join(t.TempDir(), "rework.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
edit_format: whole
model:
  provider: ollama
  temperature: 0.5
persistence:
  backend: jsonl
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "whole", cfg.EditFormat)
	assert.Equal(t, 3, cfg.MaxToolIterations)
	assert.Equal(t, "llama3", cfg.Model.Name)
	assert.InDelta(t, 0.5, cfg.Model.Temperature, 1e-9)
	assert.False(t, cfg.AutoCommit)
	assert.Equal(t, 5*time.Second, cfg.Retry.MaxDelay.Duration)
	assert.Equal(t, ".rework/sessions", cfg.Persistence.Path)
}

func TestValidateCollectsProblems(t *testing.T) {
	cfg := Default()
	cfg.EditFormat = "sed"
	cfg.EditorFormat = "ask"
	cfg.Mode = "yolo"
	cfg.MaxToolIterations = 0
	cfg.Model.Provider = "acme"
	cfg.Model.MaxTokensPerMinute = -1

	err := cfg.Validate()
	require.ErrorIs(t, err, ErrInvalid)
	for _, want := range []string{"edit_format", "editor_format", "mode", "max_tool_iterations", "model.provider", "max_tokens_per_minute"} {
		assert.Contains(t, err.Error(), want)
	}
}

func TestSaveRoundTrip(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"c.json", "c.yaml"} {
		path := filepath.Join(dir, "nested", name)
		cfg := Default()
		cfg.Model.Name = "claude"
		require.NoError(t, Save(cfg, path))

		back, err := Load(path)
		require.NoError(t, err)
		assert.Equal(t, cfg, back, name)
	}
}
