package llm

import (
	"context"
	"fmt"
	"sync"
)

// Reply is one scripted model response. Err fails the call before the stream
// opens; StreamErr fails it after Text has been delivered.
type Reply struct {
	Err       error
	StreamErr error
	Text      string
	ToolCalls []ToolCall
}

// ScriptedClient replays canned replies in order and records every request.
// It backs offline replays and tests.
type ScriptedClient struct {
	// OnCall runs before reply n (0-based) is streamed.
	OnCall func(n int, req Request)

	mu       sync.Mutex
	model    string
	replies  []Reply
	requests []Request
	// Repeat replays the last reply once the script runs out.
	Repeat bool
}

func NewScriptedClient(model string, replies ...Reply) *ScriptedClient {
	return &ScriptedClient{model: model, replies: replies}
}

func (s *ScriptedClient) ModelName() string { return s.model }

// Requests returns a copy of the requests received so far.
func (s *ScriptedClient) Requests() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Request(nil), s.requests...)
}

// Calls returns how many times Stream was invoked.
func (s *ScriptedClient) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.requests)
}

func (s *ScriptedClient) Stream(ctx context.Context, req Request) (<-chan Event, error) {
	s.mu.Lock()
	n := len(s.requests)
	s.requests = append(s.requests, req)
	var reply Reply
	switch {
	case n < len(s.replies):
		reply = s.replies[n]
	case s.Repeat && len(s.replies) > 0:
		reply = s.replies[len(s.replies)-1]
	default:
		s.mu.Unlock()
		return nil, fmt.Errorf("scripted client: no reply for call %d", n+1)
	}
	onCall := s.OnCall
	s.mu.Unlock()

	if onCall != nil {
		onCall(n, req)
	}
	if reply.Err != nil {
		return nil, reply.Err
	}

	ch := make(chan Event, len(reply.ToolCalls)+2)
	go func() {
		defer close(ch)
		if reply.Text != "" && !Send(ctx, ch, TextDelta(reply.Text)) {
			return
		}
		if reply.StreamErr != nil {
			Send(ctx, ch, ErrEvent(reply.StreamErr))
			return
		}
		for i := range reply.ToolCalls {
			tc := reply.ToolCalls[i]
			if tc.ID == "" {
				tc.ID = fmt.Sprintf("call_%d_%d", n+1, i+1)
			}
			if !Send(ctx, ch, ToolCallEvent(tc)) {
				return
			}
		}
		stop := "end_turn"
		if len(reply.ToolCalls) > 0 {
			stop = "tool_use"
		}
		Send(ctx, ch, DoneEvent(stop))
	}()
	return ch, nil
}
