package llm

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"rework/pkg/llm/llmerrors"
	"rework/pkg/logx"
)

// RetryPolicy overrides the per-type defaults in llmerrors when MaxAttempts > 0.
type RetryPolicy struct {
	MaxAttempts   int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
}

func (p RetryPolicy) configFor(err *llmerrors.Error) llmerrors.RetryConfig {
	base := err.RetryConfig()
	if p.MaxAttempts <= 0 || !err.IsRetryable() {
		return base
	}
	factor := p.BackoffFactor
	if factor < 1 {
		factor = 2
	}
	return llmerrors.RetryConfig{
		MaxRetries:    p.MaxAttempts - 1,
		InitialDelay:  p.InitialDelay,
		MaxDelay:      p.MaxDelay,
		BackoffFactor: factor,
		Jitter:        base.Jitter,
	}
}

// classify converts plain errors into llmerrors.Error, leaving context errors alone.
func classify(err error) (*llmerrors.Error, bool) {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return nil, false
	}
	var llmErr *llmerrors.Error
	if errors.As(err, &llmErr) {
		return llmErr, true
	}
	return llmerrors.NewErrorWithCause(llmerrors.ErrorTypeUnknown, err, "unclassified error"), true
}

// WithRetry retries calls that fail before any content was delivered. Once a
// text delta or tool call has been forwarded, failures pass through as stream
// errors so the caller never sees duplicated output.
func WithRetry(policy RetryPolicy, logger *logx.Logger) Middleware {
	return func(next Client) Client {
		return WrapClient(next, func(ctx context.Context, req Request) (<-chan Event, error) {
			r := &retrier{next: next, policy: policy, logger: logger}
			first, in, err := r.open(ctx, req)
			if err != nil {
				return nil, err
			}
			out := make(chan Event)
			go func() {
				defer close(out)
				if !Send(ctx, out, first) {
					drain(in)
					return
				}
				if first.Kind == EventDone || first.Kind == EventErr {
					drain(in)
					return
				}
				for ev := range in {
					if ev.Kind == EventErr {
						ev = ErrEvent(llmerrors.NewStreamError(ev.Err))
					}
					if !Send(ctx, out, ev) {
						drain(in)
						return
					}
				}
			}()
			return out, nil
		})
	}
}

type retrier struct {
	next   Client
	logger *logx.Logger
	policy RetryPolicy
}

// open starts the stream and waits for its first event, retrying while the
// failure is retryable and nothing has been delivered.
func (r *retrier) open(ctx context.Context, req Request) (Event, <-chan Event, error) {
	for attempt := 1; ; attempt++ {
		in, err := r.next.Stream(ctx, req)
		var first Event
		if err == nil {
			var ok bool
			select {
			case <-ctx.Done():
				drain(in)
				return Event{}, nil, ctx.Err()
			case first, ok = <-in:
			}
			if !ok {
				first = ErrEvent(llmerrors.NewError(llmerrors.ErrorTypeTransient, errStreamClosed.Error()))
			}
			if first.Kind != EventErr {
				return first, in, nil
			}
			err = first.Err
		}

		llmErr, retryable := classify(err)
		if !retryable {
			return Event{}, nil, err
		}
		cfg := r.policy.configFor(llmErr)
		if !llmErr.IsRetryable() {
			return Event{}, nil, llmErr
		}
		if attempt > cfg.MaxRetries {
			if cfg.MaxRetries == 0 {
				return Event{}, nil, llmErr
			}
			return Event{}, nil, llmerrors.NewServiceUnavailableError(llmErr, attempt)
		}

		delay := backoff(cfg, attempt)
		if r.logger != nil {
			r.logger.Warn("model call %s attempt %d failed (%s), retrying in %v: %v",
				r.next.ModelName(), attempt, llmErr.Type, delay, err)
		}
		if delay > 0 {
			select {
			case <-ctx.Done():
				return Event{}, nil, fmt.Errorf("retry cancelled: %w", ctx.Err())
			case <-time.After(delay):
			}
		}
	}
}

// backoff is cfg.Delay with up to 25% jitter added.
func backoff(cfg llmerrors.RetryConfig, attempt int) time.Duration {
	d := cfg.Delay(attempt)
	if cfg.Jitter && d > 0 {
		d += time.Duration(rand.Int64N(int64(d)/4 + 1))
	}
	return d
}
