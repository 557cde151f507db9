package llmerrors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		err  error
		want ErrorType
	}{
		{errors.New("POST /v1/messages: 429 Too Many Requests status code: 429"), ErrorTypeRateLimit},
		{errors.New("HTTP 503 service unavailable"), ErrorTypeTransient},
		{errors.New("status: 401"), ErrorTypeAuth},
		{errors.New("read tcp: connection reset by peer"), ErrorTypeTransient},
		{errors.New("prompt is too large for the context length"), ErrorTypeBadPrompt},
		{errors.New("something odd"), ErrorTypeUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			assert.Equal(t, tt.want, ClassifyMessage(tt.err).Type)
		})
	}
	assert.Equal(t, ErrorTypeBadPrompt, ClassifyStatus(400, nil).Type)
}

func TestStreamErrorMatchesSentinel(t *testing.T) {
	err := fmt.Errorf("turn: %w", NewStreamError(errors.New("eof")))
	assert.ErrorIs(t, err, ErrModelStream)
	assert.Equal(t, ErrorTypeStream, TypeOf(err))
	assert.False(t, NewStreamError(nil).IsRetryable())

	assert.NotErrorIs(t, NewError(ErrorTypeTransient, "x"), ErrModelStream)
	assert.True(t, NewError(ErrorTypeTransient, "x").IsRetryable())
	assert.Equal(t, ErrorTypeUnknown, TypeOf(errors.New("plain")))
}

func TestSanitizePrompt(t *testing.T) {
	assert.Equal(t, "short", SanitizePrompt("short", 10))
	long := make([]byte, 1000)
	for i := range long {
		long[i] = 'a'
	}
	out := SanitizePrompt(string(long), 200)
	assert.Contains(t, out, "[1000 chars, hash:")
	assert.Less(t, len(out), 300)
}
