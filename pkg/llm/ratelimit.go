package llm

import (
	"context"
	"fmt"
	"time"

	"rework/pkg/limiter"
	"rework/pkg/logx"
)

// charsPerToken is the rough ratio used to size a reservation before the
// provider reports real usage.
const charsPerToken = 4

// estimateTokens sizes req for rate limiting: prompt characters over
// charsPerToken plus the completion allowance.
func estimateTokens(req Request) int {
	chars := 0
	for i := range req.Messages {
		m := &req.Messages[i]
		chars += len(m.Content)
		for _, tc := range m.ToolCalls {
			chars += len(tc.Name)
			for k, v := range tc.Parameters {
				chars += len(k) + len(fmt.Sprint(v))
			}
		}
	}
	for _, t := range req.Tools {
		chars += len(t.Name) + len(t.Description)
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}
	return chars/charsPerToken + maxTokens
}

// WithRateLimit waits on l before each call. A cancelled wait returns the
// context error without calling next.
func WithRateLimit(l *limiter.Limiter, logger *logx.Logger) Middleware {
	return func(next Client) Client {
		if l == nil {
			return next
		}
		return WrapClient(next, func(ctx context.Context, req Request) (<-chan Event, error) {
			tokens := estimateTokens(req)
			if err := l.Reserve(tokens); err == nil {
				return next.Stream(ctx, req)
			}
			start := time.Now()
			logger.Info("model call %s paused: %d tokens requested, %d available this minute",
				next.ModelName(), tokens, l.Available())
			if err := l.Wait(ctx, tokens); err != nil {
				return nil, err
			}
			logger.Debug("model call %s resumed after %v", next.ModelName(), time.Since(start).Round(time.Second))
			return next.Stream(ctx, req)
		})
	}
}
