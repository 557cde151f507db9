// Package applier is the sole writer of the working tree. It validates parsed
// edits against current file state and applies them file by file, each file
// all-or-nothing.
package applier

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/google/uuid"

	"rework/pkg/codec"
	"rework/pkg/edit"
	"rework/pkg/lint"
	"rework/pkg/logx"
)

// Outcome reasons that are not MalformedEdit reasons.
const (
	ReasonUnchanged = "unchanged"
	ReasonCancelled = "cancelled"
	ReasonIgnored   = "ignored"
	ReasonLint      = "lint"
	ReasonPathEsc   = "path_escape"
	ReasonIO        = "io_error"
)

// Options configures an Applier.
//
//nolint:govet // fieldalignment: readability over packing
type Options struct {
	// Checker runs on every written file. Nil disables linting.
	Checker lint.Checker
	// RequireSyntaxValid rolls back files the checker flags.
	RequireSyntaxValid bool
	// FuzzLines is the hunk position tolerance for line hints.
	FuzzLines int
	// OnChanged receives the paths applied by each batch.
	OnChanged func(ctx context.Context, paths []string)
	// JournalSize bounds how many batches can be reverted.
	JournalSize int
}

// Applier writes FileEdits into a Workspace.
type Applier struct {
	ws      *Workspace
	opts    Options
	journal *journal
	mu      sync.Mutex
	logger  *logx.Logger
}

func New(ws *Workspace, opts Options) *Applier {
	return &Applier{
		ws:      ws,
		opts:    opts,
		journal: newJournal(opts.JournalSize),
		logger:  logx.NewLogger("applier"),
	}
}

func (a *Applier) Workspace() *Workspace { return a.ws }

// Apply applies edits in order and returns one outcome per edit. Cancellation
// is checked before each file; once seen, the remaining files are Skipped.
func (a *Applier) Apply(ctx context.Context, edits []edit.FileEdit) []edit.Outcome {
	a.mu.Lock()
	defer a.mu.Unlock()

	batchID := uuid.NewString()
	outcomes := make([]edit.Outcome, 0, len(edits))
	var (
		states  []fileState
		changed []string
	)

	for i, e := range edits {
		if ctx.Err() != nil {
			for _, rest := range edits[i:] {
				outcomes = append(outcomes, edit.Outcome{Path: rest.Path, Kind: rest.Kind, Status: edit.StatusSkipped, Reason: ReasonCancelled})
			}
			a.logger.Info("Batch %s cancelled after %d of %d files", batchID[:8], i, len(edits))
			break
		}
		out, st := a.applyOne(e)
		if st != nil {
			states = append(states, *st)
			changed = append(changed, out.Path)
		}
		a.logger.Debug("%s %s: %s", e.Kind, e.Path, out)
		outcomes = append(outcomes, out)
	}

	a.journal.record(batchID, states)
	if len(changed) > 0 && a.opts.OnChanged != nil {
		a.opts.OnChanged(context.WithoutCancel(ctx), changed)
	}
	applied, rejected, skipped := edit.Summarize(outcomes)
	a.logger.Info("Batch %s: %d applied, %d rejected, %d skipped", batchID[:8], applied, rejected, skipped)
	return outcomes
}

func rejected(e edit.FileEdit, reason string, err error) edit.Outcome {
	return edit.Outcome{Path: e.Path, Kind: e.Kind, Status: edit.StatusRejected, Reason: reason, Err: err}
}

// applyOne returns the outcome and, when the file was written, its prior state.
func (a *Applier) applyOne(e edit.FileEdit) (edit.Outcome, *fileState) {
	abs, err := a.ws.Resolve(e.Path)
	if err != nil {
		if errors.Is(err, edit.ErrPathEscape) {
			return rejected(e, ReasonPathEsc, err), nil
		}
		return rejected(e, string(edit.ReasonOf(err)), err), nil
	}
	rel := a.ws.Rel(abs)
	if a.ws.Ignored(rel) {
		return edit.Outcome{Path: rel, Kind: e.Kind, Status: edit.StatusSkipped, Reason: ReasonIgnored}, nil
	}

	prior, err := captureState(abs, rel)
	if err != nil {
		return rejected(e, ReasonIO, err), nil
	}
	before := string(prior.content)

	after, warnings, err := a.compute(e, rel, prior.existed, before)
	if err != nil {
		out := rejected(e, string(edit.ReasonOf(err)), err)
		out.Path, out.Warnings = rel, warnings
		return out, nil
	}

	deleting := e.Kind == edit.KindDelete
	if (deleting && !prior.existed) || (!deleting && prior.existed && after == before) {
		return edit.Outcome{Path: rel, Kind: e.Kind, Status: edit.StatusApplied, Reason: ReasonUnchanged}, nil
	}

	if deleting {
		err = os.Remove(abs)
	} else {
		err = atomicWrite(abs, []byte(after), prior.mode)
	}
	if err != nil {
		_ = prior.restore()
		return rejected(e, ReasonIO, fmt.Errorf("write %s: %w", rel, err)), nil
	}

	out := edit.Outcome{Path: rel, Kind: e.Kind, Status: edit.StatusApplied, Warnings: warnings}
	if !deleting && a.opts.Checker != nil {
		if diags := a.opts.Checker.Check(rel, after); len(diags) > 0 {
			msgs := make([]string, 0, len(diags))
			for _, d := range diags {
				msgs = append(msgs, d.String())
			}
			if a.opts.RequireSyntaxValid {
				if rerr := prior.restore(); rerr != nil {
					a.logger.Error("Rollback of %s failed: %v", rel, rerr)
				}
				out = rejected(e, ReasonLint, fmt.Errorf("syntax check failed: %s", strings.Join(msgs, "; ")))
				out.Path = rel
				return out, nil
			}
			for _, m := range msgs {
				out.Warnings = append(out.Warnings, edit.Warning{Path: rel, Hunk: -1, Message: m})
			}
		}
	}
	out.Diff = codec.RenderDiff(rel, before, after)
	return out, &prior
}

// compute derives the new content of one file entirely in memory.
func (a *Applier) compute(e edit.FileEdit, rel string, exists bool, before string) (string, []edit.Warning, error) {
	switch e.Kind {
	case edit.KindReplace:
		return e.Content, nil, nil
	case edit.KindCreate:
		if exists && before != e.Content && !e.Overwrite {
			return "", nil, edit.Malformed(edit.ReasonFileExists, rel, "file already exists; edit it instead of creating it")
		}
		return e.Content, nil, nil
	case edit.KindDelete:
		return "", nil, nil
	case edit.KindHunk:
		if !exists {
			return "", nil, edit.Malformed(edit.ReasonMissingFile, rel, "file does not exist")
		}
		after, warnings, err := edit.ApplyHunks(rel, before, e.Hunks, a.opts.FuzzLines)
		return after, warnings, err
	default:
		return "", nil, fmt.Errorf("unsupported edit kind %s", e.Kind)
	}
}

// RevertLast restores every file the most recent batch changed.
func (a *Applier) RevertLast(ctx context.Context) ([]string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	b, ok := a.journal.pop()
	if !ok {
		return nil, ErrNothingToRevert
	}
	paths, err := b.revert()
	a.logger.Info("Reverted batch %s (%d files)", b.id[:8], len(paths))
	if len(paths) > 0 && a.opts.OnChanged != nil {
		a.opts.OnChanged(ctx, paths)
	}
	return paths, err
}

// Revertible reports how many batches RevertLast can undo.
func (a *Applier) Revertible() int {
	return a.journal.len()
}
