// Package config loads, defaults and validates the engine configuration.
//
// Files are JSON or YAML (chosen by extension). ${VAR} placeholders are
// substituted from the environment before parsing, and scalar fields can be
// overridden afterwards with REWORK_<SECTION>_<FIELD> variables, e.g.
// REWORK_MODEL_NAME or REWORK_MAX_TOOL_ITERATIONS.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"rework/pkg/codec"
)

// Control modes.
const (
	ModeDeterministic = "deterministic"
	ModeAutonomous    = "autonomous"
)

// Persistence backends.
const (
	BackendSQLite = "sqlite"
	BackendJSONL  = "jsonl"
	BackendNone   = "none"
)

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("invalid configuration")

// Duration is a time.Duration that reads "2s"-style strings or nanosecond
// integers from JSON and YAML.
type Duration struct {
	time.Duration
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

func (d *Duration) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	return d.set(raw)
}

func (d Duration) MarshalYAML() (any, error) {
	return d.String(), nil
}

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var raw any
	if err := node.Decode(&raw); err != nil {
		return err
	}
	return d.set(raw)
}

func (d *Duration) set(raw any) error {
	switch v := raw.(type) {
	case string:
		parsed, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("duration %q: %w", v, err)
		}
		d.Duration = parsed
	case float64:
		d.Duration = time.Duration(v)
	case int:
		d.Duration = time.Duration(v)
	case nil:
		d.Duration = 0
	default:
		return fmt.Errorf("duration: unsupported value %v", raw)
	}
	return nil
}

// ModelConfig selects and tunes the model backend.
type ModelConfig struct {
	Provider         string  `json:"provider" yaml:"provider"`
	Name             string  `json:"name" yaml:"name"`
	APIKey           string  `json:"api_key,omitempty" yaml:"api_key,omitempty"`
	BaseURL          string  `json:"base_url,omitempty" yaml:"base_url,omitempty"`
	MaxTokens        int     `json:"max_tokens" yaml:"max_tokens"`
	Temperature      float64 `json:"temperature" yaml:"temperature"`
	MaxContextTokens int     `json:"max_context_tokens" yaml:"max_context_tokens"`
	// MaxTokensPerMinute paces calls client-side; 0 disables pacing.
	MaxTokensPerMinute int `json:"max_tokens_per_minute,omitempty" yaml:"max_tokens_per_minute,omitempty"`
}

// RetryConfig is the transport-level retry policy for model calls.
type RetryConfig struct {
	MaxAttempts   int      `json:"max_attempts" yaml:"max_attempts"` // including the first
	InitialDelay  Duration `json:"initial_delay" yaml:"initial_delay"`
	MaxDelay      Duration `json:"max_delay" yaml:"max_delay"`
	BackoffFactor float64  `json:"backoff_factor" yaml:"backoff_factor"`
}

// PersistenceConfig selects where sessions are stored.
type PersistenceConfig struct {
	Backend string `json:"backend" yaml:"backend"`
	Path    string `json:"path" yaml:"path"`
}

// MetricsConfig toggles the Prometheus exporter.
type MetricsConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Listen  string `json:"listen,omitempty" yaml:"listen,omitempty"`
}

// LogConfig routes log output.
type LogConfig struct {
	Dir       string `json:"dir,omitempty" yaml:"dir,omitempty"`
	Level     string `json:"level" yaml:"level"`
	Tee       bool   `json:"tee" yaml:"tee"`
	MaxSizeMB int    `json:"max_size_mb" yaml:"max_size_mb"`
}

// Config is the full engine configuration.
//
//nolint:govet // grouped by concern
type Config struct {
	Workspace          string `json:"workspace" yaml:"workspace"`
	EditFormat         string `json:"edit_format" yaml:"edit_format"`
	EditorFormat       string `json:"editor_format" yaml:"editor_format"`
	Mode               string `json:"mode" yaml:"mode"`
	MaxToolIterations  int    `json:"max_tool_iterations" yaml:"max_tool_iterations"`
	MaxEditRetries     int    `json:"max_edit_retries" yaml:"max_edit_retries"`
	RequireSyntaxValid bool   `json:"require_syntax_valid" yaml:"require_syntax_valid"`
	FuzzLines          int    `json:"fuzz_lines" yaml:"fuzz_lines"`
	AutoCommit         bool   `json:"auto_commit" yaml:"auto_commit"`
	RespectIgnore      bool   `json:"respect_ignore" yaml:"respect_ignore"`
	RepoMapTokens      int    `json:"repo_map_tokens" yaml:"repo_map_tokens"`

	Model       ModelConfig       `json:"model" yaml:"model"`
	Retry       RetryConfig       `json:"retry" yaml:"retry"`
	Persistence PersistenceConfig `json:"persistence" yaml:"persistence"`
	Metrics     MetricsConfig     `json:"metrics" yaml:"metrics"`
	Log         LogConfig         `json:"log" yaml:"log"`
}

// Default returns a complete, valid configuration.
func Default() *Config {
	return &Config{
		Workspace:         ".",
		EditFormat:        string(codec.FormatBlock),
		EditorFormat:      string(codec.FormatBlock),
		Mode:              ModeDeterministic,
		MaxToolIterations: 8,
		MaxEditRetries:    3,
		FuzzLines:         2,
		AutoCommit:        true,
		RespectIgnore:     true,
		RepoMapTokens:     1024,
		Model: ModelConfig{
			Provider:         "anthropic",
			MaxTokens:        8192,
			Temperature:      0.2,
			MaxContextTokens: 100000,
		},
		Retry: RetryConfig{
			MaxAttempts:   4,
			InitialDelay:  Duration{500 * time.Millisecond},
			MaxDelay:      Duration{30 * time.Second},
			BackoffFactor: 2,
		},
		Persistence: PersistenceConfig{Backend: BackendSQLite, Path: ".rework/sessions.db"},
		Log:         LogConfig{Level: "info", MaxSizeMB: 10},
	}
}

// applyDefaults restores defaults for fields a file or override blanked out.
// Fields a file omits already hold their default because Load decodes over
// Default().
func applyDefaults(c *Config) {
	d := Default()
	setIfEmpty(&c.Workspace, d.Workspace)
	setIfEmpty(&c.EditFormat, d.EditFormat)
	setIfEmpty(&c.EditorFormat, d.EditorFormat)
	setIfEmpty(&c.Mode, d.Mode)
	setIfZero(&c.MaxToolIterations, d.MaxToolIterations)
	setIfZero(&c.RepoMapTokens, d.RepoMapTokens)
	setIfEmpty(&c.Model.Provider, d.Model.Provider)
	setIfZero(&c.Model.MaxTokens, d.Model.MaxTokens)
	setIfZero(&c.Model.MaxContextTokens, d.Model.MaxContextTokens)
	setIfZero(&c.Retry.MaxAttempts, d.Retry.MaxAttempts)
	if c.Retry.InitialDelay.Duration == 0 {
		c.Retry.InitialDelay = d.Retry.InitialDelay
	}
	if c.Retry.MaxDelay.Duration == 0 {
		c.Retry.MaxDelay = d.Retry.MaxDelay
	}
	if c.Retry.BackoffFactor == 0 {
		c.Retry.BackoffFactor = d.Retry.BackoffFactor
	}
	setIfEmpty(&c.Persistence.Backend, d.Persistence.Backend)
	switch c.Persistence.Backend {
	case BackendJSONL:
		if c.Persistence.Path == "" || c.Persistence.Path == d.Persistence.Path {
			c.Persistence.Path = ".rework/sessions"
		}
	case BackendSQLite:
		setIfEmpty(&c.Persistence.Path, d.Persistence.Path)
	}
	setIfEmpty(&c.Log.Level, d.Log.Level)
	setIfZero(&c.Log.MaxSizeMB, d.Log.MaxSizeMB)
}

func setIfEmpty(dst *string, v string) {
	if *dst == "" {
		*dst = v
	}
}

func setIfZero(dst *int, v int) {
	if *dst == 0 {
		*dst = v
	}
}

// Validate checks every field and joins all problems into one error.
func (c *Config) Validate() error {
	var errs []error
	bad := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	if _, err := codec.ParseFormat(c.EditFormat); err != nil {
		bad("edit_format: %v", err)
	}
	if f, err := codec.ParseFormat(c.EditorFormat); err != nil {
		bad("editor_format: %v", err)
	} else if !f.ProducesEdits() {
		bad("editor_format %q does not produce edits", f)
	}
	switch c.Mode {
	case ModeDeterministic, ModeAutonomous:
	default:
		bad("mode must be %q or %q, got %q", ModeDeterministic, ModeAutonomous, c.Mode)
	}
	if c.MaxToolIterations < 1 {
		bad("max_tool_iterations must be at least 1")
	}
	if c.MaxEditRetries < 0 {
		bad("max_edit_retries must not be negative")
	}
	if c.FuzzLines < 0 {
		bad("fuzz_lines must not be negative")
	}
	switch strings.ToLower(c.Model.Provider) {
	case "anthropic", "openai", "google", "ollama":
	default:
		bad("model.provider %q is not supported", c.Model.Provider)
	}
	if c.Model.Temperature < 0 || c.Model.Temperature > 2 {
		bad("model.temperature must be within [0, 2]")
	}
	if c.Model.MaxTokens < 1 {
		bad("model.max_tokens must be positive")
	}
	if c.Model.MaxTokensPerMinute < 0 {
		bad("model.max_tokens_per_minute must not be negative")
	}
	if c.Retry.MaxAttempts < 1 {
		bad("retry.max_attempts must be at least 1")
	}
	if c.Retry.BackoffFactor < 1 {
		bad("retry.backoff_factor must be at least 1")
	}
	switch c.Persistence.Backend {
	case BackendSQLite, BackendJSONL, BackendNone:
	default:
		bad("persistence.backend %q is not supported", c.Persistence.Backend)
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		bad("log.level %q is not supported", c.Log.Level)
	}

	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrInvalid, errors.Join(errs...))
}
