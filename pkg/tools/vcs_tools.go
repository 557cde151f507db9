package tools

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"rework/pkg/utils"
	"rework/pkg/vcs"
)

// GitCommitTool commits the session's applied but uncommitted files.
type GitCommitTool struct {
	repo    vcs.VCS
	session SessionHooks
}

func NewGitCommitTool(repo vcs.VCS, session SessionHooks) *GitCommitTool {
	return &GitCommitTool{repo: repo, session: session}
}

// Name returns the tool name.
func (t *GitCommitTool) Name() string { return ToolGitCommit }

// PromptDocumentation returns formatted tool documentation for prompts.
func (t *GitCommitTool) PromptDocumentation() string {
	return `- **git_commit** - Commit the files changed in this session
  - Parameter: message (string, REQUIRED) becomes the commit message`
}

// Definition returns the tool definition for the model.
func (t *GitCommitTool) Definition() ToolDefinition {
	return ToolDefinition{
		Name:        ToolGitCommit,
		Description: "Commit every file changed by applied edits that is not yet committed.",
		InputSchema: InputSchema{
			Type: "object",
			Properties: map[string]Property{
				"message": {Type: "string", Description: "Commit message summarizing the change"},
			},
			Required: []string{"message"},
		},
	}
}

// Exec commits pending paths.
func (t *GitCommitTool) Exec(ctx context.Context, args map[string]any) (*ExecResult, error) {
	message, ok := utils.SafeAssert[string](args["message"])
	if !ok || strings.TrimSpace(message) == "" {
		return errorResult("message is required and must be a non-empty string")
	}
	if t.repo == nil {
		return errorResult("version control is disabled for this workspace")
	}
	var paths []string
	if t.session != nil {
		paths = t.session.Uncommitted()
	}
	if len(paths) == 0 {
		return successResult(map[string]any{"message": "nothing to commit"})
	}

	id, err := t.repo.StageAndCommit(ctx, paths, message)
	if errors.Is(err, vcs.ErrNothingToCommit) {
		t.session.MarkCommitted("")
		return successResult(map[string]any{"message": "nothing to commit"})
	}
	if err != nil {
		return errorResult(fmt.Sprintf("commit failed: %v", err))
	}
	t.session.MarkCommitted(id)
	return successResult(map[string]any{"commit": id, "files": paths})
}

// GitDiffTool shows changes since a commit.
type GitDiffTool struct {
	repo         vcs.VCS
	maxDiffLines int
}

func NewGitDiffTool(repo vcs.VCS, maxLines int) *GitDiffTool {
	if maxLines <= 0 {
		maxLines = maxDiffLines
	}
	return &GitDiffTool{repo: repo, maxDiffLines: maxLines}
}

// Name returns the tool name.
func (t *GitDiffTool) Name() string { return ToolGitDiff }

// PromptDocumentation returns formatted tool documentation for prompts.
func (t *GitDiffTool) PromptDocumentation() string {
	return `- **git_diff** - Show the diff of committed and uncommitted changes
  - Parameter: since (string, optional commit id; default shows only uncommitted changes)`
}

// Definition returns the tool definition for the model.
func (t *GitDiffTool) Definition() ToolDefinition {
	return ToolDefinition{
		Name:        ToolGitDiff,
		Description: "Show a unified diff of changes since a commit, including uncommitted changes.",
		InputSchema: InputSchema{
			Type: "object",
			Properties: map[string]Property{
				"since": {Type: "string", Description: "Commit id to diff from; omit for uncommitted changes only"},
			},
		},
	}
}

// Exec renders the diff, capped at maxDiffLines.
func (t *GitDiffTool) Exec(ctx context.Context, args map[string]any) (*ExecResult, error) {
	if t.repo == nil {
		return errorResult("version control is disabled for this workspace")
	}
	since := utils.GetMapFieldOr(args, "since", "")
	diff, err := t.repo.DiffSince(ctx, since)
	if err != nil {
		return errorResult(fmt.Sprintf("diff failed: %v", err))
	}
	lines := strings.SplitAfter(diff, "\n")
	truncated := len(lines) > t.maxDiffLines
	if truncated {
		diff = strings.Join(lines[:t.maxDiffLines], "")
	}
	return successResult(map[string]any{"diff": diff, "truncated": truncated})
}

// DoneTool ends an autonomous loop.
type DoneTool struct{}

func NewDoneTool() *DoneTool { return &DoneTool{} }

// Name returns the tool name.
func (d *DoneTool) Name() string { return ToolDone }

// PromptDocumentation returns formatted tool documentation for prompts.
func (d *DoneTool) PromptDocumentation() string {
	return `- **done** - Finish the task
  - Parameter: summary (string, REQUIRED) describing what was changed
  - Call once all edits are applied; no further tools run afterwards`
}

// Definition returns the tool definition for the model.
func (d *DoneTool) Definition() ToolDefinition {
	return ToolDefinition{
		Name:        ToolDone,
		Description: "Signal that the task is complete. Ends the tool loop.",
		InputSchema: InputSchema{
			Type: "object",
			Properties: map[string]Property{
				"summary": {Type: "string", Description: "What was accomplished"},
			},
			Required: []string{"summary"},
		},
	}
}

// Exec signals the loop to stop.
func (d *DoneTool) Exec(_ context.Context, args map[string]any) (*ExecResult, error) {
	summary, ok := utils.SafeAssert[string](args["summary"])
	if !ok || strings.TrimSpace(summary) == "" {
		return errorResult("summary is required and must be a non-empty string")
	}
	return &ExecResult{
		Content: marshalResult(map[string]any{"success": true, "summary": summary}),
		ProcessEffect: &ProcessEffect{
			Signal: SignalDone,
			Data:   map[string]any{"summary": summary},
		},
	}, nil
}
