package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"rework/pkg/codec"
	"rework/pkg/config"
	"rework/pkg/conversation"
	"rework/pkg/edit"
	"rework/pkg/llm"
	"rework/pkg/persistence"
	"rework/pkg/tools"
	"rework/pkg/utils"
)

const (
	cancelledNotice    = "The previous request was cancelled by the user before it finished. Files already changed keep their changes."
	cancelledToolReply = `{"success":false,"error":"cancelled by the user"}`
	skippedToolReply   = `{"success":false,"error":"not executed: done was already called"}`
)

// TurnOptions override session settings for one turn. Zero values keep the
// session setting.
type TurnOptions struct {
	Format codec.Format
	Mode   string
}

// TurnReport describes how a turn ended.
//
//nolint:govet // grouped by concern
type TurnReport struct {
	State  State // Reporting or Cancelled
	Mode   string
	Format codec.Format

	Outcomes     []edit.Outcome
	ToolCalls    []conversation.ToolCallRequest // answered, in order
	ContextAdded []string
	Iterations   int // model invocations
	Retries      int

	Text     string // final assistant text or architect plan
	Summary  string // from the done tool
	CommitID string
	Warnings []string
	Err      error
}

// Applied counts outcomes by status.
func (r *TurnReport) Applied() (applied, rejected, skipped int) {
	return edit.Summarize(r.Outcomes)
}

// turn is the per-turn working state.
type turn struct {
	message string
	format  codec.Format
	mode    string
	repoMap string
	report  *TurnReport
	batches int      // applier batches that changed files
	dirty   []string // uncommitted paths when the turn started
}

// RunTurn runs one user message through the state machine. The returned
// report is always non-nil once the turn starts; its Err is also returned.
func (s *Session) RunTurn(ctx context.Context, message string, opts TurnOptions) (*TurnReport, error) {
	if strings.TrimSpace(message) == "" {
		return nil, errors.New("empty message")
	}
	s.runMu.Lock()
	defer s.runMu.Unlock()

	t, err := s.newTurn(message, opts)
	if err != nil {
		return nil, err
	}

	turnCtx, cancel := context.WithCancel(ctx)
	s.cancelled.Store(false)
	s.setCancel(cancel)
	defer func() {
		s.setCancel(nil)
		cancel()
	}()

	start := time.Now()
	s.logger.Info("Turn started (format %s, mode %s)", t.format, t.mode)
	err = s.run(turnCtx, t)
	s.finish(turnCtx, t, err)

	r := t.report
	if r.Err != nil {
		s.logger.Warn("Turn ended in %s after %.1fs: %v", r.State, time.Since(start).Seconds(), r.Err)
	} else {
		applied, rejected, skipped := r.Applied()
		s.logger.Info("Turn finished in %.1fs: %d invocations, %d applied, %d rejected, %d skipped",
			time.Since(start).Seconds(), r.Iterations, applied, rejected, skipped)
	}
	return r, r.Err
}

func (s *Session) newTurn(message string, opts TurnOptions) (*turn, error) {
	s.mu.Lock()
	format, mode := s.format, s.mode
	dirty := slices.Clone(s.uncommitted)
	s.mu.Unlock()

	if opts.Format != "" {
		f, err := codec.ParseFormat(string(opts.Format))
		if err != nil {
			return nil, err
		}
		format = f
	}
	if opts.Mode != "" {
		if opts.Mode != config.ModeDeterministic && opts.Mode != config.ModeAutonomous {
			return nil, fmt.Errorf("unknown mode %q", opts.Mode)
		}
		mode = opts.Mode
	}
	return &turn{
		message: message,
		format:  format,
		mode:    mode,
		dirty:   dirty,
		report:  &TurnReport{Mode: mode, Format: format},
	}, nil
}

func (s *Session) run(ctx context.Context, t *turn) error {
	if err := s.sm.transition(StateBuildingContext); err != nil {
		return err
	}
	if err := s.conv().Append(conversation.User(t.message)); err != nil {
		return fmt.Errorf("append user turn: %w", err)
	}
	s.compact(ctx)
	if s.cfg.RepoMapTokens > 0 {
		m, err := s.mapper.Render(ctx, s.ContextFiles(), mentionedWords(t.message), s.cfg.RepoMapTokens)
		if err != nil && !s.stopped(ctx) {
			s.logger.Warn("Repo map unavailable: %v", err)
		}
		t.repoMap = m
	}
	if s.stopped(ctx) {
		return ErrCancelled
	}

	switch {
	case t.format == codec.FormatAsk || t.format == codec.FormatHelp:
		_, err := s.runText(ctx, t, t.format)
		return err
	case t.format == codec.FormatArchitect:
		return s.runArchitect(ctx, t)
	case t.mode == config.ModeAutonomous:
		return s.runAutonomous(ctx, t, t.format)
	default:
		return s.runSingleEdit(ctx, t, t.format)
	}
}

// compact summarizes old exchanges once the log outgrows the context window
// left after the reply and the repo map.
func (s *Session) compact(ctx context.Context) {
	budget := s.cfg.Model.MaxContextTokens - s.cfg.Model.MaxTokens - s.cfg.RepoMapTokens
	if s.cfg.Model.MaxContextTokens <= 0 || budget <= 0 {
		return
	}
	compacted, err := s.conv().Compact(ctx, s.summarizer, s.counter, budget)
	if err != nil {
		if !s.stopped(ctx) {
			s.logger.Warn("Conversation compaction failed, continuing with the full log: %v", err)
		}
		return
	}
	if compacted {
		s.mu.Lock()
		s.rewritten = true
		s.mu.Unlock()
		s.logger.Info("Compacted conversation to fit %d tokens", budget)
	}
}

// callModel enters AwaitingModel and collects one streamed response. A
// failed stream leaves nothing in the log.
func (s *Session) callModel(ctx context.Context, t *turn, req llm.Request) (llm.Response, error) {
	if err := s.sm.transition(StateAwaitingModel); err != nil {
		return llm.Response{}, err
	}
	if s.stopped(ctx) {
		return llm.Response{}, ErrCancelled
	}
	t.report.Iterations++

	start := time.Now()
	events, err := s.client.Stream(ctx, req)
	var resp llm.Response
	if err == nil {
		resp, err = llm.Collect(ctx, events, s.onText)
	}
	if err != nil {
		if s.stopped(ctx) {
			return llm.Response{}, ErrCancelled
		}
		return llm.Response{}, fmt.Errorf("model call %d: %w", t.report.Iterations, err)
	}
	s.logger.Debug("Model replied in %.2fs: %d chars, %d tool calls",
		time.Since(start).Seconds(), len(resp.Content), len(resp.ToolCalls))
	if s.stopped(ctx) {
		return llm.Response{}, ErrCancelled
	}
	return resp, nil
}

func (s *Session) onText(delta string) {
	if s.observer != nil {
		s.observer.OnText(delta)
	}
}

// appendAssistant records resp and returns its tool calls with ids the log
// accepts. Missing or reused ids are replaced.
func (s *Session) appendAssistant(resp llm.Response) ([]conversation.ToolCallRequest, error) {
	calls := make([]conversation.ToolCallRequest, len(resp.ToolCalls))
	seen := make(map[string]bool, len(resp.ToolCalls))
	for i, tc := range resp.ToolCalls {
		id := tc.ID
		if id == "" || seen[id] {
			id = newCallID()
		}
		seen[id] = true
		name := tc.Name
		if name == "" {
			name = "unnamed"
		}
		calls[i] = conversation.ToolCallRequest{ID: id, Name: name, Arguments: tc.Parameters}
	}

	log := s.conv()
	err := log.Append(conversation.Assistant(resp.Content, calls...))
	if errors.Is(err, conversation.ErrDuplicateCallID) {
		for i := range calls {
			calls[i].ID = newCallID()
		}
		err = log.Append(conversation.Assistant(resp.Content, calls...))
	}
	if err != nil {
		return nil, fmt.Errorf("append assistant turn: %w", err)
	}
	return calls, nil
}

func newCallID() string {
	return "call_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:16]
}

// answer appends the tool turn for call.
func (s *Session) answer(t *turn, call conversation.ToolCallRequest, res *tools.ExecResult) error {
	if err := s.conv().Append(conversation.ToolResult(call, res.Content, res.IsError)); err != nil {
		return fmt.Errorf("append tool turn: %w", err)
	}
	t.report.ToolCalls = append(t.report.ToolCalls, call)
	if s.observer != nil {
		s.observer.OnToolResult(call, res)
	}
	return nil
}

func (s *Session) recordOutcomes(t *turn, outcomes []edit.Outcome) {
	t.report.Outcomes = append(t.report.Outcomes, outcomes...)
	s.rec.ObserveOutcomes(outcomes)
	if slices.ContainsFunc(outcomes, edit.Outcome.Succeeded) {
		t.batches++
	}
}

// attempt collects what one model response's edits amounted to.
type attempt struct {
	malformed *edit.MalformedEdit // last retryable failure
	fatal     error               // path escape or unusable call; never retried
	feedback  []string            // failure reports for a text-form retry
}

func (a *attempt) observe(res *tools.ExecResult) {
	for i := range res.Outcomes {
		if errors.Is(res.Outcomes[i].Err, edit.ErrPathEscape) {
			a.fatal = res.Outcomes[i].Err
			return
		}
	}
	if res.Err == nil {
		return
	}
	if errors.Is(res.Err, edit.ErrPathEscape) {
		a.fatal = res.Err
		return
	}
	var me *edit.MalformedEdit
	if errors.As(res.Err, &me) {
		a.malformed = me
		a.feedback = append(a.feedback, res.Content)
	}
}

// retry spends one edit retry or reports exhaustion.
func (s *Session) retry(t *turn, me *edit.MalformedEdit) error {
	if t.report.Retries >= s.cfg.MaxEditRetries {
		return &RetriesExhaustedError{Last: me, Attempts: t.report.Retries + 1}
	}
	t.report.Retries++
	s.rec.ObserveRetry(string(me.Reason))
	s.logger.Warn("Malformed edit (%s), retry %d of %d", me.Reason, t.report.Retries, s.cfg.MaxEditRetries)
	return nil
}

// runSingleEdit is the deterministic flow: one forced tool per invocation,
// parse, apply, and re-invoke on malformed output within the retry budget.
// A reply without tool calls is parsed as text in the same format.
func (s *Session) runSingleEdit(ctx context.Context, t *turn, format codec.Format) error {
	name := tools.ApplyToolName(format)
	if format == codec.FormatContext {
		name = tools.ToolSelectContext
	}
	if name == "" {
		return fmt.Errorf("format %s produces no edits", format)
	}
	provider := tools.NewProvider(s.toolContext(), []string{name})
	tool, err := provider.Get(name)
	if err != nil {
		return err
	}
	defs := []tools.ToolDefinition{tool.Definition()}
	in := promptInput{format: format, mode: config.ModeDeterministic, tool: name, repoMap: t.repoMap}

	for {
		resp, err := s.callModel(ctx, t, s.request(ctx, in, defs, name))
		if err != nil {
			return err
		}
		if err := s.sm.transition(StateParsingSingleEdit); err != nil {
			return err
		}

		var a attempt
		textForm := len(resp.ToolCalls) == 0
		if textForm {
			if err := s.conv().Append(conversation.Assistant(resp.Content)); err != nil {
				return fmt.Errorf("append assistant turn: %w", err)
			}
			res, err := s.applyFormatted(ctx, t, format, tool, map[string]any{"content": resp.Content})
			if err != nil {
				return err
			}
			a.observe(res)
		} else {
			calls, err := s.appendAssistant(resp)
			if err != nil {
				return err
			}
			for _, call := range calls {
				if s.stopped(ctx) {
					return ErrCancelled
				}
				var res *tools.ExecResult
				if call.Name != name {
					res = tools.ErrorResult(fmt.Errorf("%w: %s (only %s is available)", tools.ErrUnknownTool, call.Name, name))
					a.fatal = res.Err
				} else if res, err = s.applyFormatted(ctx, t, format, tool, call.Arguments); err != nil {
					return err
				}
				if err := s.answer(t, call, res); err != nil {
					return err
				}
				a.observe(res)
			}
		}

		if s.stopped(ctx) {
			return ErrCancelled
		}
		if a.fatal != nil {
			return a.fatal
		}
		if a.malformed == nil {
			return s.sm.transition(StateReporting)
		}
		if err := s.retry(t, a.malformed); err != nil {
			return err
		}
		if textForm {
			diag := conversation.User(fmt.Sprintf(retryPrompt, strings.Join(a.feedback, "\n"), format))
			diag.Marker = conversation.MarkerDiagnostic
			if err := s.conv().Append(diag); err != nil {
				return fmt.Errorf("append diagnostic turn: %w", err)
			}
		}
	}
}

// applyFormatted parses one edit payload and applies it through the
// Applying state. Context selections add files instead of editing them.
func (s *Session) applyFormatted(ctx context.Context, t *turn, format codec.Format, tool tools.Tool, args map[string]any) (*tools.ExecResult, error) {
	if format == codec.FormatContext {
		if err := s.sm.transition(StateApplying); err != nil {
			return nil, err
		}
		before := s.ContextFiles()
		res, err := tool.Exec(ctx, args)
		if err != nil {
			return nil, err
		}
		for _, p := range s.ContextFiles() {
			if !slices.Contains(before, p) {
				t.report.ContextAdded = append(t.report.ContextAdded, p)
			}
		}
		return res, nil
	}

	text, _ := utils.SafeAssert[string](args["content"])
	if strings.TrimSpace(text) == "" {
		return tools.MalformedResult(edit.Malformed(edit.ReasonEmptyResponse, "", "no edits were provided")), nil
	}
	snap, err := s.Snapshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("snapshot workspace: %w", err)
	}
	c, err := codec.Lookup(format)
	if err != nil {
		return nil, err
	}
	parsed, err := c.Parse(text, snap)
	if err != nil {
		var me *edit.MalformedEdit
		if errors.As(err, &me) {
			return tools.MalformedResult(me), nil
		}
		return nil, err
	}
	if len(parsed.Edits) == 0 {
		return tools.MalformedResult(edit.Malformed(edit.ReasonEmptyResponse, "", "no file edits found in %s format", format)), nil
	}
	for i := range parsed.Edits {
		parsed.Edits[i].Source = string(format)
	}

	if err := s.sm.transition(StateApplying); err != nil {
		return nil, err
	}
	outcomes := s.applier.Apply(ctx, parsed.Edits)
	s.recordOutcomes(t, outcomes)
	return tools.OutcomeResult(outcomes, parsed.Warnings), nil
}

// runText serves formats whose reply is shown rather than applied.
func (s *Session) runText(ctx context.Context, t *turn, format codec.Format) (*codec.Result, error) {
	in := promptInput{format: format, mode: t.mode, repoMap: t.repoMap}
	resp, err := s.callModel(ctx, t, s.request(ctx, in, nil, llm.ToolChoiceNone))
	if err != nil {
		return nil, err
	}
	if err := s.sm.transition(StateParsingSingleEdit); err != nil {
		return nil, err
	}

	calls, err := s.appendAssistant(resp)
	if err != nil {
		return nil, err
	}
	for _, call := range calls {
		res := tools.ErrorResult(fmt.Errorf("%w: %s (tools are disabled in %s format)", tools.ErrUnknownTool, call.Name, format))
		if err := s.answer(t, call, res); err != nil {
			return nil, err
		}
	}

	c, err := codec.Lookup(format)
	if err != nil {
		return nil, err
	}
	parsed, err := c.Parse(resp.Content, codec.Snapshot{})
	if err != nil {
		return nil, err
	}
	t.report.Text = parsed.Text
	return parsed, nil
}

// runArchitect asks for a plan, then has the editor format implement it in
// the session mode.
func (s *Session) runArchitect(ctx context.Context, t *turn) error {
	plan, err := s.runText(ctx, t, codec.FormatArchitect)
	if err != nil {
		return err
	}
	if s.stopped(ctx) {
		return ErrCancelled
	}
	editor, err := codec.ParseFormat(s.cfg.EditorFormat)
	if err != nil {
		return err
	}
	s.logger.Info("Architect plan ready (%d chars), implementing with %s", len(plan.Narrative), editor)

	if err := s.conv().Append(conversation.User(fmt.Sprintf(implementPrompt, editor))); err != nil {
		return fmt.Errorf("append implement turn: %w", err)
	}
	if t.mode == config.ModeAutonomous {
		return s.runAutonomous(ctx, t, editor)
	}
	return s.runSingleEdit(ctx, t, editor)
}

// autonomousToolNames drops version control tools when there is no VCS.
func (s *Session) autonomousToolNames(format codec.Format) []string {
	names := tools.AutonomousTools(format)
	if s.vcs != nil {
		return names
	}
	return slices.DeleteFunc(names, func(n string) bool {
		return n == tools.ToolGitCommit || n == tools.ToolGitDiff
	})
}

// runAutonomous loops model invocations and tool calls until the model
// stops calling tools, calls done, or MaxToolIterations invocations have
// all returned tool calls.
func (s *Session) runAutonomous(ctx context.Context, t *turn, format codec.Format) error {
	provider := tools.NewProvider(s.toolContext(), s.autonomousToolNames(format))
	defs := provider.Definitions()
	in := promptInput{
		format:  format,
		mode:    config.ModeAutonomous,
		repoMap: t.repoMap,
		docs:    provider.GenerateToolDocumentation(),
	}

	for n := 1; ; n++ {
		resp, err := s.callModel(ctx, t, s.request(ctx, in, defs, llm.ToolChoiceAuto))
		if err != nil {
			return err
		}
		if len(resp.ToolCalls) == 0 {
			if err := s.conv().Append(conversation.Assistant(resp.Content)); err != nil {
				return fmt.Errorf("append assistant turn: %w", err)
			}
			t.report.Text = strings.TrimSpace(resp.Content)
			return s.sm.transition(StateReporting)
		}

		if err := s.sm.transition(StateRoutingToolCalls); err != nil {
			return err
		}
		calls, err := s.appendAssistant(resp)
		if err != nil {
			return err
		}

		var (
			a    attempt
			done bool
		)
		for _, call := range calls {
			if s.stopped(ctx) {
				return ErrCancelled
			}
			if done {
				if err := s.answer(t, call, &tools.ExecResult{Content: skippedToolReply, IsError: true}); err != nil {
					return err
				}
				continue
			}
			res, err := s.route(ctx, t, provider, call)
			if err != nil {
				return err
			}
			if err := s.answer(t, call, res); err != nil {
				return err
			}
			a.observe(res)
			if res.ProcessEffect != nil && res.ProcessEffect.Signal == tools.SignalDone {
				done = true
				t.report.Summary, _ = utils.SafeAssert[string](res.ProcessEffect.Data["summary"])
			}
		}

		if s.stopped(ctx) {
			return ErrCancelled
		}
		if a.fatal != nil {
			return a.fatal
		}
		if done {
			return s.sm.transition(StateReporting)
		}
		if a.malformed != nil {
			if err := s.retry(t, a.malformed); err != nil {
				return err
			}
		}
		if n >= s.cfg.MaxToolIterations {
			return fmt.Errorf("%w: %d model invocations all requested tools", ErrLoopBudgetExceeded, n)
		}
	}
}

// route executes one tool call. Edit tools run in the Applying state.
func (s *Session) route(ctx context.Context, t *turn, provider *tools.Provider, call conversation.ToolCallRequest) (*tools.ExecResult, error) {
	tool, err := provider.Get(call.Name)
	if err != nil {
		s.logger.Warn("Model called unavailable tool %q", call.Name)
		s.rec.ObserveToolCall(call.Name, 0, true)
		return tools.ErrorResult(err), nil
	}

	_, isEdit := tool.(*tools.ApplyEditTool)
	if isEdit {
		if err := s.sm.transition(StateApplying); err != nil {
			return nil, err
		}
	}
	start := time.Now()
	res, err := tool.Exec(ctx, call.Arguments)
	if err != nil {
		res = tools.ErrorResult(fmt.Errorf("%s failed: %w", call.Name, err))
	}
	s.rec.ObserveToolCall(call.Name, time.Since(start), res.IsError)
	if isEdit {
		if err := s.sm.transition(StateRoutingToolCalls); err != nil {
			return nil, err
		}
	}
	if len(res.Outcomes) > 0 {
		s.recordOutcomes(t, res.Outcomes)
	}
	return res, nil
}

// finish moves the turn to Reporting or Cancelled, closes any unanswered
// tool calls, commits, records and saves, then returns to Idle.
func (s *Session) finish(ctx context.Context, t *turn, err error) {
	r := t.report
	cancelled := errors.Is(err, ErrCancelled) || (err != nil && s.stopped(ctx))

	if cancelled {
		s.closePending(cancelledToolReply)
		marker := conversation.User(cancelledNotice)
		marker.Marker = conversation.MarkerCancelled
		if appendErr := s.conv().Append(marker); appendErr != nil {
			s.logger.Error("Failed to record cancellation: %v", appendErr)
		}
		if terr := s.sm.transition(StateCancelled); terr != nil {
			s.logger.Error("%v", terr)
		}
		r.State = StateCancelled
		r.Err = ErrCancelled
	} else {
		if err != nil {
			s.closePending(fmt.Sprintf(`{"success":false,"error":%q}`, err.Error()))
		}
		if terr := s.sm.transition(StateReporting); terr != nil {
			s.logger.Error("%v", terr)
		}
		r.State = StateReporting
		r.Err = err
	}

	bg := context.WithoutCancel(ctx)
	var exhausted *RetriesExhaustedError
	if errors.As(err, &exhausted) {
		s.rollback(bg, t)
	}
	s.autoCommit(bg, t)
	s.rec.ObserveTurn(t.mode, resultLabel(r.Err), r.Iterations)
	if s.store != nil {
		if serr := s.sync(bg, persistence.SessionStatusActive); serr != nil {
			s.logger.Warn("Autosave failed: %v", serr)
			r.Warnings = append(r.Warnings, "autosave failed: "+serr.Error())
		}
	}
	s.sm.reset()
}

// rollback restores every file the turn changed. A turn whose retries ran
// out leaves the workspace as it found it.
func (s *Session) rollback(ctx context.Context, t *turn) {
	if t.batches == 0 {
		return
	}
	var reverted []string
	for i := 0; i < t.batches; i++ {
		paths, err := s.applier.RevertLast(ctx)
		for _, p := range paths {
			if !slices.Contains(reverted, p) {
				reverted = append(reverted, p)
			}
		}
		if err != nil {
			s.logger.Error("Rollback stopped after %d of %d batches: %v", i, t.batches, err)
			t.report.Warnings = append(t.report.Warnings, "rollback incomplete: "+err.Error())
			break
		}
	}
	s.mu.Lock()
	s.uncommitted = t.dirty
	s.mu.Unlock()

	s.logger.Warn("Edit retries ran out, reverted %d file(s)", len(reverted))
	t.report.Warnings = append(t.report.Warnings,
		fmt.Sprintf("edit retries ran out; reverted %s", strings.Join(reverted, ", ")))
}

// closePending answers tool calls the turn never reached.
func (s *Session) closePending(content string) {
	log := s.conv()
	for _, call := range log.Pending() {
		if err := log.Append(conversation.ToolResult(call, content, true)); err != nil {
			s.logger.Error("Failed to close tool call %s: %v", call.ID, err)
		}
	}
}

func (s *Session) autoCommit(ctx context.Context, t *turn) {
	if !s.cfg.AutoCommit || s.vcs == nil {
		return
	}
	paths := s.Uncommitted()
	if len(paths) == 0 {
		return
	}
	id, err := s.vcs.StageAndCommit(ctx, paths, commitMessage(t))
	s.rec.ObserveCommit(err)
	if err != nil {
		s.logger.Warn("Auto-commit failed, changes stay uncommitted: %v", err)
		t.report.Warnings = append(t.report.Warnings, "auto-commit failed: "+err.Error())
		return
	}
	s.MarkCommitted(id)
	t.report.CommitID = id
	s.logger.Info("Committed %d file(s) as %s", len(paths), shortID(id))
}

func commitMessage(t *turn) string {
	subject := strings.TrimSpace(strings.SplitN(t.message, "\n", 2)[0])
	if len(subject) > 60 {
		subject = strings.TrimSpace(subject[:57]) + "..."
	}
	msg := "rework: " + subject
	if t.report.Summary != "" {
		msg += "\n\n" + t.report.Summary
	}
	return msg
}

func resultLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrCancelled):
		return "cancelled"
	case errors.Is(err, ErrLoopBudgetExceeded):
		return "budget_exceeded"
	case errors.Is(err, ErrRetriesExhausted):
		return "retries_exhausted"
	case errors.Is(err, edit.ErrPathEscape):
		return "path_escape"
	default:
		return "error"
	}
}
