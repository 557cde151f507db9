package llm

import (
	"context"
	"errors"
	"time"

	"rework/pkg/llm/llmerrors"
	"rework/pkg/logx"
)

var errStreamClosed = errors.New("stream closed before completion")

// CallObserver receives one observation per finished model call.
type CallObserver interface {
	ObserveModelCall(model string, duration time.Duration, toolCalls int, err error)
}

// tap forwards events from in and reports the terminal event to onEnd.
// onEnd sees an Err event when in closes without one.
func tap(ctx context.Context, in <-chan Event, onEvent func(Event), onEnd func(Event)) <-chan Event {
	out := make(chan Event)
	go func() {
		defer close(out)
		for ev := range in {
			if onEvent != nil {
				onEvent(ev)
			}
			if ev.Kind == EventDone || ev.Kind == EventErr {
				onEnd(ev)
				Send(ctx, out, ev)
				drain(in)
				return
			}
			if !Send(ctx, out, ev) {
				onEnd(ErrEvent(ctx.Err()))
				drain(in)
				return
			}
		}
		onEnd(ErrEvent(errStreamClosed))
	}()
	return out
}

// drain consumes the rest of a stream so the producer can exit.
func drain(in <-chan Event) {
	go func() {
		for range in {
		}
	}()
}

// WithValidation rejects malformed requests before they reach the provider.
func WithValidation() Middleware {
	return func(next Client) Client {
		return WrapClient(next, func(ctx context.Context, req Request) (<-chan Event, error) {
			if err := req.Validate(); err != nil {
				return nil, err
			}
			return next.Stream(ctx, req)
		})
	}
}

// WithEmptyResponseCheck turns a stream that finishes with neither text nor
// tool calls into an empty_response error, which the retry middleware retries.
func WithEmptyResponseCheck() Middleware {
	return func(next Client) Client {
		return WrapClient(next, func(ctx context.Context, req Request) (<-chan Event, error) {
			in, err := next.Stream(ctx, req)
			if err != nil {
				return nil, err
			}
			out := make(chan Event)
			go func() {
				defer close(out)
				produced := false
				for ev := range in {
					switch ev.Kind {
					case EventTextDelta:
						produced = produced || ev.Text != ""
					case EventToolCall:
						produced = true
					case EventDone:
						if !produced {
							ev = ErrEvent(llmerrors.NewError(llmerrors.ErrorTypeEmptyResponse, "model returned no content"))
						}
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

// WithLogging logs each call's duration, size and outcome.
func WithLogging(logger *logx.Logger) Middleware {
	return func(next Client) Client {
		return WrapClient(next, func(ctx context.Context, req Request) (<-chan Event, error) {
			start := time.Now()
			logger.Debug("model call %s: %d messages, %d tools, tool_choice=%q",
				next.ModelName(), len(req.Messages), len(req.Tools), req.ToolChoice)
			if n := len(req.Messages); n > 0 {
				logx.Debug(ctx, "llm", "last message: %s", llmerrors.SanitizePrompt(req.Messages[n-1].Content, 400))
			}
			in, err := next.Stream(ctx, req)
			if err != nil {
				logger.Warn("model call %s failed to open after %v: %v", next.ModelName(), time.Since(start), err)
				return nil, err
			}
			var chars, calls int
			return tap(ctx, in, func(ev Event) {
				chars += len(ev.Text)
				if ev.Kind == EventToolCall {
					calls++
				}
			}, func(ev Event) {
				if ev.Kind == EventErr {
					logger.Warn("model call %s failed after %v: %v", next.ModelName(), time.Since(start), ev.Err)
					return
				}
				logger.Info("model call %s finished in %v: %d chars, %d tool calls, stop=%s",
					next.ModelName(), time.Since(start).Round(time.Millisecond), chars, calls, ev.StopReason)
			}), nil
		})
	}
}

// WithObserver reports every call to obs.
func WithObserver(obs CallObserver) Middleware {
	return func(next Client) Client {
		return WrapClient(next, func(ctx context.Context, req Request) (<-chan Event, error) {
			start := time.Now()
			in, err := next.Stream(ctx, req)
			if err != nil {
				obs.ObserveModelCall(next.ModelName(), time.Since(start), 0, err)
				return nil, err
			}
			calls := 0
			return tap(ctx, in, func(ev Event) {
				if ev.Kind == EventToolCall {
					calls++
				}
			}, func(ev Event) {
				obs.ObserveModelCall(next.ModelName(), time.Since(start), calls, ev.Err)
			}), nil
		})
	}
}
