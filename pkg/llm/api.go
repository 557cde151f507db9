// Package llm defines the streaming model-client contract the orchestrator
// drives, plus the middleware that wraps provider clients.
package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"rework/pkg/conversation"
	"rework/pkg/llm/llmerrors"
	"rework/pkg/tools"
)

// Role is the speaker of a message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Tool choice values. Any other non-empty value forces the named tool.
const (
	ToolChoiceAuto = "auto"
	ToolChoiceNone = "none"
)

// Sampling defaults.
const (
	TemperatureDefault       float32 = 0.3
	TemperatureDeterministic float32 = 0.2
	DefaultMaxTokens                 = 4096
)

// ToolCall is a tool invocation requested by the model.
type ToolCall struct {
	Parameters map[string]any
	ID         string
	Name       string
}

// Message is one provider-neutral chat message.
//
//nolint:govet // logical grouping preferred
type Message struct {
	Role       Role
	Content    string
	ToolCalls  []ToolCall // assistant messages only
	ToolCallID string     // tool messages only
	ToolName   string     // tool messages only
	IsError    bool       // tool messages only
}

// Request is one model invocation.
type Request struct {
	Messages    []Message
	Tools       []tools.ToolDefinition
	ToolChoice  string
	MaxTokens   int
	Temperature float32
}

// ForcedTool returns the tool name the request forces, if any.
func (r *Request) ForcedTool() (string, bool) {
	switch r.ToolChoice {
	case "", ToolChoiceAuto, ToolChoiceNone:
		return "", false
	default:
		return r.ToolChoice, true
	}
}

// Validate checks the request shape before it reaches a provider.
func (r *Request) Validate() error {
	if len(r.Messages) == 0 {
		return llmerrors.NewError(llmerrors.ErrorTypeBadPrompt, "request has no messages")
	}
	if name, ok := r.ForcedTool(); ok {
		for i := range r.Tools {
			if r.Tools[i].Name == name {
				return nil
			}
		}
		return llmerrors.NewError(llmerrors.ErrorTypeBadPrompt, fmt.Sprintf("forced tool %q is not in the tool list", name))
	}
	return nil
}

// EventKind tags a stream event.
type EventKind int

const (
	EventTextDelta EventKind = iota
	EventToolCall
	EventDone
	EventErr
)

func (k EventKind) String() string {
	switch k {
	case EventTextDelta:
		return "text_delta"
	case EventToolCall:
		return "tool_call"
	case EventDone:
		return "done"
	case EventErr:
		return "error"
	default:
		return "invalid"
	}
}

// Event is one element of a response stream. A stream ends with exactly one
// Done or Err event and is then closed.
type Event struct {
	Err        error
	ToolCall   *ToolCall
	Text       string
	StopReason string
	Kind       EventKind
}

func TextDelta(s string) Event          { return Event{Kind: EventTextDelta, Text: s} }
func ToolCallEvent(tc ToolCall) Event   { return Event{Kind: EventToolCall, ToolCall: &tc} }
func DoneEvent(stopReason string) Event { return Event{Kind: EventDone, StopReason: stopReason} }
func ErrEvent(err error) Event          { return Event{Kind: EventErr, Err: err} }

// Client streams model responses.
type Client interface {
	Stream(ctx context.Context, req Request) (<-chan Event, error)
	ModelName() string
}

// Response is an accumulated stream.
type Response struct {
	Content    string
	ToolCalls  []ToolCall
	StopReason string
}

// Empty reports whether the model produced neither text nor tool calls.
func (r *Response) Empty() bool {
	return strings.TrimSpace(r.Content) == "" && len(r.ToolCalls) == 0
}

// Collect drains events into a Response, forwarding text deltas to onDelta
// when it is non-nil. Errors seen after the stream opened are reported as
// stream errors; a closed channel without Done is one as well.
func Collect(ctx context.Context, events <-chan Event, onDelta func(string)) (Response, error) {
	var (
		resp Response
		text strings.Builder
	)
	for {
		select {
		case <-ctx.Done():
			return Response{}, ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return Response{}, llmerrors.NewStreamError(errStreamClosed)
			}
			switch ev.Kind {
			case EventTextDelta:
				text.WriteString(ev.Text)
				if onDelta != nil {
					onDelta(ev.Text)
				}
			case EventToolCall:
				if ev.ToolCall != nil {
					resp.ToolCalls = append(resp.ToolCalls, *ev.ToolCall)
				}
			case EventDone:
				resp.Content = text.String()
				resp.StopReason = ev.StopReason
				return resp, nil
			case EventErr:
				if errors.Is(ev.Err, context.Canceled) || errors.Is(ev.Err, context.DeadlineExceeded) {
					return Response{}, ev.Err
				}
				var llmErr *llmerrors.Error
				if errors.As(ev.Err, &llmErr) && llmErr.Type == llmerrors.ErrorTypeStream {
					return Response{}, ev.Err
				}
				return Response{}, llmerrors.NewStreamError(ev.Err)
			}
		}
	}
}

// StreamResponse replays a complete response as a stream. Providers without
// incremental output use it.
func StreamResponse(ctx context.Context, resp Response) <-chan Event {
	ch := make(chan Event, len(resp.ToolCalls)+2)
	go func() {
		defer close(ch)
		if resp.Content != "" {
			if !Send(ctx, ch, TextDelta(resp.Content)) {
				return
			}
		}
		for i := range resp.ToolCalls {
			if !Send(ctx, ch, ToolCallEvent(resp.ToolCalls[i])) {
				return
			}
		}
		Send(ctx, ch, DoneEvent(resp.StopReason))
	}()
	return ch
}

// Send delivers ev unless ctx is done first.
func Send(ctx context.Context, ch chan<- Event, ev Event) bool {
	select {
	case ch <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

// FromTurns converts a conversation log into request messages. Marker turns
// are relayed as their role.
func FromTurns(turns []conversation.Turn) []Message {
	out := make([]Message, 0, len(turns))
	for i := range turns {
		t := &turns[i]
		msg := Message{
			Role:       Role(t.Role),
			Content:    t.Content,
			ToolCallID: t.ToolCallID,
			ToolName:   t.ToolName,
			IsError:    t.Error,
		}
		for _, c := range t.ToolCalls {
			msg.ToolCalls = append(msg.ToolCalls, ToolCall{ID: c.ID, Name: c.Name, Parameters: c.Arguments})
		}
		out = append(out, msg)
	}
	return out
}

// SplitSystem separates system messages, joined with blank lines, from the rest.
func SplitSystem(messages []Message) (string, []Message) {
	var (
		system []string
		rest   = make([]Message, 0, len(messages))
	)
	for i := range messages {
		if messages[i].Role == RoleSystem {
			system = append(system, messages[i].Content)
			continue
		}
		rest = append(rest, messages[i])
	}
	return strings.Join(system, "\n\n"), rest
}
