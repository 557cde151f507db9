// Package factory builds a model client, wrapped in the standard middleware
// chain, from configuration.
package factory

import (
	"fmt"
	"os"
	"strings"

	"rework/pkg/config"
	"rework/pkg/limiter"
	"rework/pkg/llm"
	"rework/pkg/llm/providers/anthropic"
	"rework/pkg/llm/providers/google"
	"rework/pkg/llm/providers/ollama"
	"rework/pkg/llm/providers/openai"
	"rework/pkg/logx"
)

// Provider names accepted in config.
const (
	ProviderAnthropic = "anthropic"
	ProviderOpenAI    = "openai"
	ProviderGoogle    = "google"
	ProviderOllama    = "ollama"
)

// apiKeyEnv names the environment variable consulted when no key is configured.
//
//nolint:gochecknoglobals // static lookup table
var apiKeyEnv = map[string]string{
	ProviderAnthropic: "ANTHROPIC_API_KEY",
	ProviderOpenAI:    "OPENAI_API_KEY",
	ProviderGoogle:    "GEMINI_API_KEY",
}

// NewRaw builds the provider client without middleware.
func NewRaw(m config.ModelConfig) (llm.Client, error) {
	provider := strings.ToLower(m.Provider)
	key := m.APIKey
	if key == "" {
		if env, ok := apiKeyEnv[provider]; ok {
			key = os.Getenv(env)
		}
	}
	if _, needsKey := apiKeyEnv[provider]; needsKey && key == "" {
		return nil, fmt.Errorf("no API key for provider %s: set model.api_key or %s", provider, apiKeyEnv[provider])
	}

	switch provider {
	case ProviderAnthropic:
		return anthropic.New(key, m.Name, m.BaseURL), nil
	case ProviderOpenAI:
		return openai.New(key, m.Name, m.BaseURL), nil
	case ProviderGoogle:
		return google.New(key, m.Name), nil
	case ProviderOllama:
		if m.Name == "" {
			return nil, fmt.Errorf("provider %s needs a model name", provider)
		}
		return ollama.New(m.BaseURL, m.Name), nil
	default:
		return nil, fmt.Errorf("unknown model provider %q", m.Provider)
	}
}

// Wrap applies the standard chain, outermost first: metrics, logging,
// validation, retry, empty-response detection.
func Wrap(base llm.Client, retry config.RetryConfig, obs llm.CallObserver) llm.Client {
	logger := logx.NewLogger("llm")
	mws := make([]llm.Middleware, 0, 5)
	if obs != nil {
		mws = append(mws, llm.WithObserver(obs))
	}
	mws = append(mws,
		llm.WithLogging(logger),
		llm.WithValidation(),
		llm.WithRetry(llm.RetryPolicy{
			MaxAttempts:   retry.MaxAttempts,
			InitialDelay:  retry.InitialDelay.Duration,
			MaxDelay:      retry.MaxDelay.Duration,
			BackoffFactor: retry.BackoffFactor,
		}, logger),
		llm.WithEmptyResponseCheck(),
	)
	return llm.Chain(base, mws...)
}

// New builds the configured client with middleware. Rate limiting, when
// configured, sits under retry so every attempt is paced.
func New(cfg *config.Config, obs llm.CallObserver) (llm.Client, error) {
	base, err := NewRaw(cfg.Model)
	if err != nil {
		return nil, err
	}
	if l := limiter.New(cfg.Model.MaxTokensPerMinute); l != nil {
		base = llm.Chain(base, llm.WithRateLimit(l, logx.NewLogger("llm")))
	}
	return Wrap(base, cfg.Retry, obs), nil
}
