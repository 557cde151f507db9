// Package conversation holds the append-only turn log of a session.
package conversation

import (
	"maps"
	"time"
)

// Role identifies who produced a turn.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Marker tags turns the orchestrator synthesizes rather than relays.
type Marker string

const (
	MarkerNone       Marker = ""
	MarkerCancelled  Marker = "cancelled"
	MarkerSummary    Marker = "summary"
	MarkerDiagnostic Marker = "diagnostic"
)

// ToolCallRequest is a tool invocation emitted by the model. Each one is
// answered by exactly one tool turn.
type ToolCallRequest struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments,omitempty"`
}

// Turn is one entry of the log. Turns are immutable once appended.
//
//nolint:govet // fieldalignment: logical grouping preferred
type Turn struct {
	Role       Role
	Content    string
	ToolCalls  []ToolCallRequest // assistant turns only
	ToolCallID string            // tool turns only
	ToolName   string            // tool turns only
	Error      bool              // tool turn reports a failure
	Marker     Marker
	CreatedAt  time.Time
}

// Clone deep-copies t.
func (t Turn) Clone() Turn {
	if t.ToolCalls != nil {
		calls := make([]ToolCallRequest, len(t.ToolCalls))
		for i, c := range t.ToolCalls {
			c.Arguments = maps.Clone(c.Arguments)
			calls[i] = c
		}
		t.ToolCalls = calls
	}
	return t
}

// User builds a user turn.
func User(content string) Turn {
	return Turn{Role: RoleUser, Content: content}
}

// Assistant builds an assistant turn.
func Assistant(content string, calls ...ToolCallRequest) Turn {
	return Turn{Role: RoleAssistant, Content: content, ToolCalls: calls}
}

// ToolResult builds the tool turn answering call.
func ToolResult(call ToolCallRequest, content string, isError bool) Turn {
	return Turn{Role: RoleTool, Content: content, ToolCallID: call.ID, ToolName: call.Name, Error: isError}
}
