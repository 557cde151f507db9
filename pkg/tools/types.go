// Package tools provides the tools the model can call, a sealed process-wide
// registry of their factories, and session-scoped providers.
package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"rework/pkg/applier"
	"rework/pkg/codec"
	"rework/pkg/edit"
	"rework/pkg/repomap"
	"rework/pkg/vcs"
)

// Property describes one argument in a tool's input schema.
type Property struct {
	Type        string    `json:"type"`
	Description string    `json:"description,omitempty"`
	Enum        []string  `json:"enum,omitempty"`
	Items       *Property `json:"items,omitempty"`
}

// InputSchema is the JSON schema of a tool's arguments.
type InputSchema struct {
	Type       string              `json:"type"`
	Properties map[string]Property `json:"properties"`
	Required   []string            `json:"required,omitempty"`
}

// ToolDefinition is what the model sees of a tool.
type ToolDefinition struct {
	Name        string      `json:"name"`
	Description string      `json:"description"`
	InputSchema InputSchema `json:"input_schema"`
}

// Signal names a control-flow effect a tool requests from the loop.
type Signal string

// SignalDone ends an autonomous loop.
const SignalDone Signal = "DONE"

// ProcessEffect asks the orchestrator to change course after a tool runs.
type ProcessEffect struct {
	Signal Signal
	Data   map[string]any
}

// ExecResult is the outcome of one tool execution.
//
//nolint:govet // fieldalignment: logical grouping preferred
type ExecResult struct {
	// Content is returned to the model verbatim as the tool turn.
	Content string
	// IsError marks Content as a failure report.
	IsError bool
	// Outcomes holds per-file results for edit tools.
	Outcomes []edit.Outcome
	// Err carries the typed failure (MalformedEdit, PathEscapeError) behind
	// an error result so the orchestrator can apply its retry policy.
	Err error
	// ProcessEffect is set by tools that end the loop.
	ProcessEffect *ProcessEffect
}

// Tool is a single callable tool.
type Tool interface {
	Name() string
	Definition() ToolDefinition
	Exec(ctx context.Context, args map[string]any) (*ExecResult, error)
	PromptDocumentation() string
}

// SessionHooks is the part of session state tools may read or change.
type SessionHooks interface {
	// Snapshot returns the in-memory file view codecs parse against.
	Snapshot(ctx context.Context) (codec.Snapshot, error)
	// AddContext adds paths to the chat and returns those newly added.
	AddContext(paths ...string) ([]string, error)
	// ContextFiles lists the files currently in the chat.
	ContextFiles() []string
	// Uncommitted lists applied paths not yet committed.
	Uncommitted() []string
	// MarkCommitted records that the uncommitted paths went into commitID.
	MarkCommitted(commitID string)
}

// ToolContext carries the collaborators tool factories bind to. VCS and
// RepoMap may be nil; tools needing them then report an error result.
//
//nolint:govet // fieldalignment: logical grouping preferred
type ToolContext struct {
	Applier *applier.Applier
	VCS     vcs.VCS
	RepoMap *repomap.Mapper
	Session SessionHooks
	// RepoMapTokens is the default token budget of repo_map results.
	RepoMapTokens int
}

// errorResult creates a JSON error response for the model.
func errorResult(msg string) (*ExecResult, error) {
	return &ExecResult{Content: marshalResult(map[string]any{"success": false, "error": msg}), IsError: true}, nil
}

// ErrorResult reports err to the model as a failed tool call. Err is kept for
// errors.Is checks.
func ErrorResult(err error) *ExecResult {
	res, _ := errorResult(err.Error())
	res.Err = err
	return res
}

// successResult marshals fields with success set.
func successResult(fields map[string]any) (*ExecResult, error) {
	fields["success"] = true
	return &ExecResult{Content: marshalResult(fields)}, nil
}

func marshalResult(fields map[string]any) string {
	data, err := json.Marshal(fields)
	if err != nil {
		return fmt.Sprintf(`{"success":false,"error":%q}`, err.Error())
	}
	return string(data)
}
