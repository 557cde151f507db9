package utils

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewTokenCounter(t *testing.T) {
	for _, model := range []string{"gpt-4", "gpt-4o-mini", "claude-sonnet-4", "gemini-2.5-pro", "unknown"} {
		t.Run(model, func(t *testing.T) {
			counter, err := NewTokenCounter(model)
			require.NoError(t, err)
			assert.Positive(t, counter.CountTokens("hello world"))
		})
	}
}

func TestTruncateToTokenLimit(t *testing.T) {
	counter, err := NewTokenCounter("gpt-4")
	require.NoError(t, err)

	short := "a short line"
	assert.Equal(t, short, counter.TruncateToTokenLimit(short, 100))

	long := strings.Repeat("word ", 500)
	cut := counter.TruncateToTokenLimit(long, 50)
	assert.True(t, strings.HasSuffix(cut, "..."))
	assert.LessOrEqual(t, counter.CountTokens(strings.TrimSuffix(cut, "...")), 50)
}

func TestNilCounterFallsBack(t *testing.T) {
	var counter *TokenCounter
	assert.Equal(t, 2, counter.CountTokens("12345678"))
	assert.Equal(t, "1234...", counter.TruncateToTokenLimit("12345678", 1))
}

func TestArgs(t *testing.T) {
	args := map[string]any{
		"f":    float64(3),
		"i":    7,
		"s":    "x",
		"list": []any{"a", 1, "b", ""},
	}
	assert.Equal(t, 3, IntArg(args, "f", 0))
	assert.Equal(t, 7, IntArg(args, "i", 0))
	assert.Equal(t, 9, IntArg(args, "missing", 9))
	assert.Equal(t, []string{"a", "b"}, StringSliceArg(args, "list"))
	assert.Equal(t, []string{"x"}, StringSliceArg(args, "s"))
	assert.Nil(t, StringSliceArg(args, "missing"))

	assert.Equal(t, "x", GetMapFieldOr(args, "s", "d"))
	assert.Equal(t, "d", GetMapFieldOr(args, "f", "d"))
	_, err := GetMapField[string](args, "nope")
	assert.Error(t, err)

	v, ok := SafeAssert[int](args["i"])
	assert.True(t, ok)
	assert.Equal(t, 7, v)
}
