package tools

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"rework/pkg/applier"
	"rework/pkg/codec"
	"rework/pkg/edit"
	"rework/pkg/utils"
)

// ApplyEditTool parses model text in one edit format and applies the result.
type ApplyEditTool struct {
	format  codec.Format
	codec   codec.Codec
	applier *applier.Applier
	session SessionHooks
}

// NewApplyEditTool creates the apply tool for an edit-producing format.
func NewApplyEditTool(f codec.Format, a *applier.Applier, session SessionHooks) (*ApplyEditTool, error) {
	if !f.ProducesEdits() {
		return nil, fmt.Errorf("format %s produces no edits", f)
	}
	c, err := codec.Lookup(f)
	if err != nil {
		return nil, err
	}
	return &ApplyEditTool{format: f, codec: c, applier: a, session: session}, nil
}

func applyDefinition(f codec.Format) ToolDefinition {
	var grammar string
	if c, err := codec.Lookup(f); err == nil {
		grammar = c.Instructions()
	}
	return ToolDefinition{
		Name:        ApplyToolName(f),
		Description: fmt.Sprintf("Apply file edits written in the %s edit format. %s", f, grammar),
		InputSchema: InputSchema{
			Type: "object",
			Properties: map[string]Property{
				"content": {
					Type:        "string",
					Description: fmt.Sprintf("The edits, written exactly in the %s format", f),
				},
			},
			Required: []string{"content"},
		},
	}
}

// Name returns the tool name.
func (t *ApplyEditTool) Name() string {
	return ApplyToolName(t.format)
}

// Definition returns the tool definition for the model.
func (t *ApplyEditTool) Definition() ToolDefinition {
	return applyDefinition(t.format)
}

// PromptDocumentation returns formatted tool documentation for prompts.
func (t *ApplyEditTool) PromptDocumentation() string {
	return fmt.Sprintf(`- **%s** - Apply edits in the %s format
  - Parameters: content (string, REQUIRED)
  - Each file is applied all-or-nothing; failures name the file and reason`, t.Name(), t.format)
}

// Format returns the edit format the tool parses.
func (t *ApplyEditTool) Format() codec.Format {
	return t.format
}

// Exec parses content against the session snapshot and applies the edits.
func (t *ApplyEditTool) Exec(ctx context.Context, args map[string]any) (*ExecResult, error) {
	content, _ := utils.SafeAssert[string](args["content"])
	return t.Apply(ctx, content)
}

// Apply runs the codec and the applier over text. Parse failures apply
// nothing and come back as error results carrying the MalformedEdit.
func (t *ApplyEditTool) Apply(ctx context.Context, text string) (*ExecResult, error) {
	if strings.TrimSpace(text) == "" {
		return MalformedResult(edit.Malformed(edit.ReasonEmptyResponse, "", "no edits were provided")), nil
	}
	snap, err := t.session.Snapshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("snapshot workspace: %w", err)
	}

	parsed, err := t.codec.Parse(text, snap)
	if err != nil {
		var me *edit.MalformedEdit
		if errors.As(err, &me) {
			return MalformedResult(me), nil
		}
		return nil, err
	}
	if len(parsed.Edits) == 0 {
		return MalformedResult(edit.Malformed(edit.ReasonEmptyResponse, "", "no file edits found in %s format", t.format)), nil
	}
	for i := range parsed.Edits {
		parsed.Edits[i].Source = string(t.format)
	}

	outcomes := t.applier.Apply(ctx, parsed.Edits)
	return OutcomeResult(outcomes, parsed.Warnings), nil
}

// MalformedResult reports a parse failure to the model, keeping the typed
// error for the retry policy.
func MalformedResult(me *edit.MalformedEdit) *ExecResult {
	fields := map[string]any{
		"success": false,
		"reason":  string(me.Reason),
		"error":   me.Error(),
	}
	if me.Path != "" {
		fields["path"] = me.Path
	}
	return &ExecResult{Content: marshalResult(fields), IsError: true, Err: me}
}

// OutcomeResult reports per-file outcomes. The first rejection's error is
// surfaced in Err so retry policy can inspect it.
func OutcomeResult(outcomes []edit.Outcome, parseWarnings []edit.Warning) *ExecResult {
	applied, rejected, skipped := edit.Summarize(outcomes)
	files := make([]map[string]any, 0, len(outcomes))
	var firstErr error
	for i := range outcomes {
		o := &outcomes[i]
		entry := map[string]any{
			"path":   o.Path,
			"kind":   o.Kind.String(),
			"status": o.Status.String(),
		}
		if o.Reason != "" {
			entry["reason"] = o.Reason
		}
		if o.Err != nil {
			entry["error"] = o.Err.Error()
			if firstErr == nil && o.Status == edit.StatusRejected {
				firstErr = o.Err
			}
		}
		if len(o.Warnings) > 0 {
			entry["warnings"] = warningStrings(o.Warnings)
		}
		files = append(files, entry)
	}

	fields := map[string]any{
		"success":  rejected == 0,
		"applied":  applied,
		"rejected": rejected,
		"skipped":  skipped,
		"files":    files,
	}
	if len(parseWarnings) > 0 {
		fields["warnings"] = warningStrings(parseWarnings)
	}
	return &ExecResult{
		Content:  marshalResult(fields),
		IsError:  rejected > 0,
		Outcomes: outcomes,
		Err:      firstErr,
	}
}

func warningStrings(ws []edit.Warning) []string {
	out := make([]string, 0, len(ws))
	for _, w := range ws {
		out = append(out, w.String())
	}
	return out
}
