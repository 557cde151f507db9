// Package orchestrator drives one editing session: it builds model context,
// invokes the model, routes tool calls or parses single-shot edits, applies
// them, and reports, under a state machine with bounded loops and
// cooperative cancellation.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"path"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"rework/pkg/applier"
	"rework/pkg/codec"
	"rework/pkg/config"
	"rework/pkg/conversation"
	"rework/pkg/lint"
	"rework/pkg/llm"
	"rework/pkg/logx"
	"rework/pkg/metrics"
	"rework/pkg/persistence"
	"rework/pkg/repomap"
	"rework/pkg/tools"
	"rework/pkg/utils"
	"rework/pkg/vcs"
)

const (
	// maxSnapshotBytes caps the file contents loaded for one parse.
	maxSnapshotBytes = 8 << 20
	// journalBatches is how many applied batches Undo can revert without VCS.
	journalBatches = 20
)

// StreamObserver receives live output while a turn runs. Calls happen on the
// goroutine running the turn.
type StreamObserver interface {
	OnText(delta string)
	OnToolResult(call conversation.ToolCallRequest, res *tools.ExecResult)
}

// Options wires a Session to its collaborators. Config, Client and
// Workspace are required; everything else is optional.
//
//nolint:govet // grouped by concern
type Options struct {
	Config    *config.Config
	Client    llm.Client
	Workspace *applier.Workspace

	VCS        vcs.VCS
	Store      persistence.TurnStore
	Recorder   metrics.Recorder
	Checker    lint.Checker // nil uses lint.NewSyntax
	Counter    *utils.TokenCounter
	Summarizer conversation.Summarizer // nil summarizes with Client
	Observer   StreamObserver
	SessionID  string // empty generates one
}

// Session is one interactive editing session over a workspace. RunTurn and
// the commands are safe to call from multiple goroutines; turns run one at a
// time. Cancel may be called at any moment.
//
//nolint:govet // grouped by concern
type Session struct {
	cfg        config.Config
	client     llm.Client
	ws         *applier.Workspace
	applier    *applier.Applier
	vcs        vcs.VCS
	store      persistence.TurnStore
	rec        metrics.Recorder
	mapper     *repomap.Mapper
	counter    *utils.TokenCounter
	summarizer conversation.Summarizer
	observer   StreamObserver
	sm         *stateMachine
	logger     *logx.Logger

	runMu sync.Mutex // one turn or command at a time

	mu           sync.Mutex
	id           string
	log          *conversation.Log
	format       codec.Format
	mode         string
	contextFiles []string
	uncommitted  []string
	commits      []string // made by this session, oldest first
	startHead    string
	startedAt    time.Time
	persisted    int  // live turns already in the store
	rewritten    bool // live turns replaced since the last save

	cancelMu   sync.Mutex
	cancelTurn context.CancelFunc
	cancelled  atomic.Bool
}

// New creates a session. The VCS head at creation is the base for Diff.
func New(ctx context.Context, opts Options) (*Session, error) {
	if opts.Config == nil || opts.Client == nil || opts.Workspace == nil {
		return nil, errors.New("orchestrator: config, client and workspace are required")
	}
	cfg := *opts.Config
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	format, err := codec.ParseFormat(cfg.EditFormat)
	if err != nil {
		return nil, err
	}

	s := &Session{
		cfg:        cfg,
		client:     opts.Client,
		ws:         opts.Workspace,
		vcs:        opts.VCS,
		store:      opts.Store,
		rec:        opts.Recorder,
		counter:    opts.Counter,
		summarizer: opts.Summarizer,
		observer:   opts.Observer,
		logger:     logx.NewLogger("orchestrator"),
		id:         opts.SessionID,
		log:        conversation.NewLog(),
		format:     format,
		mode:       cfg.Mode,
		startedAt:  time.Now().UTC(),
	}
	if s.id == "" {
		s.id = uuid.NewString()
	}
	if s.rec == nil {
		s.rec = metrics.Nop()
	}
	if s.summarizer == nil {
		s.summarizer = NewModelSummarizer(opts.Client)
	}
	checker := opts.Checker
	if checker == nil {
		checker = lint.NewSyntax()
	}

	s.mapper = repomap.New(opts.Workspace, opts.Counter)
	s.applier = applier.New(opts.Workspace, applier.Options{
		Checker:            checker,
		RequireSyntaxValid: cfg.RequireSyntaxValid,
		FuzzLines:          cfg.FuzzLines,
		OnChanged:          s.onChanged,
		JournalSize:        journalBatches,
	})
	s.sm = newStateMachine(s.logger, s.rec)

	if s.vcs != nil {
		head, err := s.vcs.Head(ctx)
		if err != nil {
			s.logger.Warn("Could not read VCS head, diff will cover uncommitted changes only: %v", err)
		}
		s.startHead = head
	}
	s.logger.Info("Session %s ready in %s (format %s, mode %s)", s.id, s.ws.Root(), s.format, s.mode)
	return s, nil
}

// onChanged runs after every applied or reverted batch.
func (s *Session) onChanged(_ context.Context, paths []string) {
	s.mu.Lock()
	for _, p := range paths {
		if !slices.Contains(s.uncommitted, p) {
			s.uncommitted = append(s.uncommitted, p)
		}
	}
	s.mu.Unlock()
	s.mapper.Invalidate(paths...)
}

// ID returns the session id used for persistence.
func (s *Session) ID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.id
}

// State returns the current turn state.
func (s *Session) State() State { return s.sm.State() }

// Format returns the session edit format.
func (s *Session) Format() codec.Format {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.format
}

// Mode returns the session mode.
func (s *Session) Mode() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mode
}

// Turns returns a copy of the live conversation.
func (s *Session) Turns() []conversation.Turn {
	return s.conv().Turns()
}

func (s *Session) conv() *conversation.Log {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.log
}

// Applier exposes the session applier for hosts applying edits outside a turn.
func (s *Session) Applier() *applier.Applier { return s.applier }

// SetFormat changes the edit format for later turns.
func (s *Session) SetFormat(name string) error {
	f, err := codec.ParseFormat(name)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.format = f
	s.mu.Unlock()
	return nil
}

// SetMode switches between deterministic and autonomous turns.
func (s *Session) SetMode(mode string) error {
	if mode != config.ModeDeterministic && mode != config.ModeAutonomous {
		return fmt.Errorf("unknown mode %q (want %s or %s)", mode, config.ModeDeterministic, config.ModeAutonomous)
	}
	s.mu.Lock()
	s.mode = mode
	s.mu.Unlock()
	return nil
}

// Snapshot loads the context files first, then the rest of the workspace up
// to the byte cap.
func (s *Session) Snapshot(ctx context.Context) (codec.Snapshot, error) {
	snap, err := s.ws.Snapshot(ctx, s.ContextFiles(), maxSnapshotBytes)
	if err != nil {
		return codec.Snapshot{}, err
	}
	return snap.WithFuzz(s.cfg.FuzzLines), nil
}

// AddContext adds existing, non-ignored workspace files to the chat. Paths
// that cannot be added are reported in the error; the rest are still added.
func (s *Session) AddContext(paths ...string) ([]string, error) {
	var (
		added   []string
		missing []string
	)
	for _, p := range paths {
		rel := path.Clean(strings.ReplaceAll(strings.TrimSpace(p), "\\", "/"))
		if rel == "." || rel == "" {
			continue
		}
		if _, err := s.ws.Resolve(rel); err != nil {
			missing = append(missing, fmt.Sprintf("%s (%v)", rel, err))
			continue
		}
		if s.ws.Ignored(rel) {
			missing = append(missing, rel+" (ignored)")
			continue
		}
		if _, exists, err := s.ws.ReadFile(rel); err != nil || !exists {
			missing = append(missing, rel+" (not found)")
			continue
		}
		s.mu.Lock()
		if !slices.Contains(s.contextFiles, rel) {
			s.contextFiles = append(s.contextFiles, rel)
			added = append(added, rel)
		}
		s.mu.Unlock()
	}
	if len(missing) > 0 {
		return added, fmt.Errorf("cannot add %s", strings.Join(missing, ", "))
	}
	return added, nil
}

// DropContext removes paths from the chat; no paths clears it.
func (s *Session) DropContext(paths ...string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(paths) == 0 {
		dropped := s.contextFiles
		s.contextFiles = nil
		return dropped
	}
	var dropped []string
	s.contextFiles = slices.DeleteFunc(s.contextFiles, func(p string) bool {
		for _, q := range paths {
			if p == path.Clean(q) {
				dropped = append(dropped, p)
				return true
			}
		}
		return false
	})
	return dropped
}

// ContextFiles lists the files in the chat in insertion order.
func (s *Session) ContextFiles() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.contextFiles)
}

// Uncommitted lists applied paths not yet committed.
func (s *Session) Uncommitted() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.uncommitted)
}

// MarkCommitted records a commit made for the uncommitted paths.
func (s *Session) MarkCommitted(commitID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.uncommitted = nil
	s.commits = append(s.commits, commitID)
}

// Cancel stops the running turn at its next checkpoint and reports whether
// a turn was running.
func (s *Session) Cancel() bool {
	s.cancelMu.Lock()
	defer s.cancelMu.Unlock()
	if s.cancelTurn == nil {
		return false
	}
	s.cancelled.Store(true)
	s.cancelTurn()
	s.logger.Info("Cancellation requested")
	return true
}

func (s *Session) setCancel(cancel context.CancelFunc) {
	s.cancelMu.Lock()
	s.cancelTurn = cancel
	s.cancelMu.Unlock()
}

// stopped reports whether the turn should stop at the current checkpoint.
func (s *Session) stopped(ctx context.Context) bool {
	return s.cancelled.Load() || ctx.Err() != nil
}

// Undo reverts the last session commit, or the last applied batch when the
// session has no commit to revert.
func (s *Session) Undo(ctx context.Context) (string, error) {
	s.runMu.Lock()
	defer s.runMu.Unlock()

	s.mu.Lock()
	n := len(s.commits)
	var last string
	if n > 0 {
		last = s.commits[n-1]
	}
	s.mu.Unlock()

	if s.vcs != nil && last != "" {
		if err := s.vcs.Undo(ctx, last); err != nil {
			return "", fmt.Errorf("undo commit %s: %w", shortID(last), err)
		}
		s.mu.Lock()
		s.commits = s.commits[:n-1]
		s.mu.Unlock()
		s.mapper.Invalidate()
		s.logger.Info("Reverted commit %s", shortID(last))
		return "reverted commit " + shortID(last), nil
	}

	paths, err := s.applier.RevertLast(ctx)
	if err != nil {
		return "", err
	}
	s.logger.Info("Reverted last batch: %s", strings.Join(paths, ", "))
	return fmt.Sprintf("reverted %d file(s): %s", len(paths), strings.Join(paths, ", ")), nil
}

// Diff shows every change since the session started, committed or not.
func (s *Session) Diff(ctx context.Context) (string, error) {
	if s.vcs == nil {
		return "", ErrNoVCS
	}
	return s.vcs.DiffSince(ctx, s.startHead)
}

// Clear starts a fresh conversation. Stored turns are archived on the next
// save.
func (s *Session) Clear() {
	s.runMu.Lock()
	defer s.runMu.Unlock()
	s.mu.Lock()
	s.log = conversation.NewLog()
	s.rewritten = true
	s.mu.Unlock()
}

// Save writes the session header and any turns not yet stored.
func (s *Session) Save(ctx context.Context) error {
	s.runMu.Lock()
	defer s.runMu.Unlock()
	return s.sync(ctx, persistence.SessionStatusActive)
}

// Close marks the session closed in the store.
func (s *Session) Close(ctx context.Context) error {
	s.Cancel()
	s.runMu.Lock()
	defer s.runMu.Unlock()
	if s.store == nil {
		return nil
	}
	return s.sync(ctx, persistence.SessionStatusClosed)
}

func (s *Session) sync(ctx context.Context, status string) error {
	if s.store == nil {
		return ErrNoStore
	}
	s.mu.Lock()
	header := &persistence.Session{
		ID:         s.id,
		Workspace:  s.ws.Root(),
		EditFormat: string(s.format),
		Mode:       s.mode,
		Status:     status,
		StartedAt:  s.startedAt,
	}
	rewritten := s.rewritten
	s.mu.Unlock()

	if err := s.store.SaveSession(ctx, header); err != nil {
		return fmt.Errorf("save session %s: %w", header.ID, err)
	}
	if rewritten {
		if err := s.store.ArchiveTurns(ctx, header.ID); err != nil {
			return fmt.Errorf("archive turns of %s: %w", header.ID, err)
		}
		s.mu.Lock()
		s.persisted = 0
		s.rewritten = false
		s.mu.Unlock()
	}

	turns := s.conv().Turns()
	for i := s.persisted; i < len(turns); i++ {
		if err := s.store.AppendTurn(ctx, header.ID, &turns[i]); err != nil {
			return fmt.Errorf("append turn %d of %s: %w", i, header.ID, err)
		}
		s.persisted = i + 1
	}
	return nil
}

// Load replaces the live conversation with a stored session.
func (s *Session) Load(ctx context.Context, id string) error {
	if s.store == nil {
		return ErrNoStore
	}
	s.runMu.Lock()
	defer s.runMu.Unlock()

	header, err := s.store.GetSession(ctx, id)
	if err != nil {
		return err
	}
	log, err := persistence.LoadLog(ctx, s.store, id)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.id = header.ID
	s.log = log
	s.startedAt = header.StartedAt
	if f, err := codec.ParseFormat(header.EditFormat); err == nil {
		s.format = f
	}
	if header.Mode == config.ModeDeterministic || header.Mode == config.ModeAutonomous {
		s.mode = header.Mode
	}
	s.persisted = log.Len()
	s.rewritten = false
	s.logger.Info("Loaded session %s with %d turns", id, s.persisted)
	return nil
}

// toolContext binds the tools of one turn to this session.
func (s *Session) toolContext() tools.ToolContext {
	return tools.ToolContext{
		Applier:       s.applier,
		VCS:           s.vcs,
		RepoMap:       s.mapper,
		Session:       s,
		RepoMapTokens: s.cfg.RepoMapTokens,
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
