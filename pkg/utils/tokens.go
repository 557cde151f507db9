// Package utils provides token counting and loose-typed argument helpers.
package utils

import (
	"fmt"

	"github.com/tiktoken-go/tokenizer"
)

// TokenCounter counts tokens for prompt budgeting.
type TokenCounter struct {
	codec tokenizer.Codec
}

// NewTokenCounter returns a counter for model. Every provider is approximated
// with the GPT-4 encoding.
func NewTokenCounter(model string) (*TokenCounter, error) {
	codec, err := tokenizer.ForModel(tokenizer.GPT4)
	if err != nil {
		return nil, fmt.Errorf("failed to create tokenizer codec for model %s: %w", model, err)
	}
	return &TokenCounter{codec: codec}, nil
}

// CountTokens returns the number of tokens in text.
func (tc *TokenCounter) CountTokens(text string) int {
	if tc == nil || tc.codec == nil {
		// 4 chars ≈ 1 token
		return len(text) / 4
	}
	count, err := tc.codec.Count(text)
	if err != nil {
		return len(text) / 4
	}
	return count
}

// TruncateToTokenLimit cuts text to at most limit tokens, marking the cut.
func (tc *TokenCounter) TruncateToTokenLimit(text string, limit int) string {
	if tc.CountTokens(text) <= limit {
		return text
	}
	if tc == nil || tc.codec == nil {
		if n := limit * 4; n < len(text) {
			return text[:n] + "..."
		}
		return text
	}
	ids, _, err := tc.codec.Encode(text)
	if err != nil || len(ids) <= limit {
		return text
	}
	out, err := tc.codec.Decode(ids[:limit])
	if err != nil {
		return text
	}
	return out + "..."
}

// CountTokensSimple counts with the GPT-4 encoding.
func CountTokensSimple(text string) int {
	counter, err := NewTokenCounter("gpt-4")
	if err != nil {
		return len(text) / 4
	}
	return counter.CountTokens(text)
}
