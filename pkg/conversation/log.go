package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"rework/pkg/utils"
)

var (
	// ErrUnpairedToolTurn is returned for a tool turn that answers no outstanding call.
	ErrUnpairedToolTurn = errors.New("tool turn does not answer an outstanding tool call")
	// ErrDuplicateCallID is returned when an assistant turn reuses a tool-call id.
	ErrDuplicateCallID = errors.New("duplicate tool call id")
	// ErrPendingToolCalls is returned when a non-tool turn is appended while
	// tool calls are still unanswered.
	ErrPendingToolCalls = errors.New("tool calls are still unanswered")
	// ErrInvalidTurn is returned for turns with an unknown role or missing fields.
	ErrInvalidTurn = errors.New("invalid turn")
)

// Log is an append-only sequence of turns with tool-call pairing enforced.
// It is safe for concurrent readers; the orchestrator is the only writer.
type Log struct {
	mu      sync.RWMutex
	turns   []Turn
	archive []Turn
	pending []string        // unanswered call ids in emission order
	seen    map[string]bool // every call id ever emitted
	now     func() time.Time
}

func NewLog() *Log {
	return &Log{seen: map[string]bool{}, now: time.Now}
}

// Append validates t against the pairing invariant and adds it.
func (l *Log) Append(t Turn) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.appendLocked(t.Clone())
}

func (l *Log) appendLocked(t Turn) error {
	switch t.Role {
	case RoleTool:
		idx := -1
		for i, id := range l.pending {
			if id == t.ToolCallID {
				idx = i
				break
			}
		}
		if idx < 0 {
			return fmt.Errorf("%w: %q", ErrUnpairedToolTurn, t.ToolCallID)
		}
		l.pending = append(l.pending[:idx:idx], l.pending[idx+1:]...)
	case RoleUser, RoleAssistant, RoleSystem:
		if len(l.pending) > 0 {
			return fmt.Errorf("%w: %s", ErrPendingToolCalls, strings.Join(l.pending, ", "))
		}
		if t.Role != RoleAssistant && len(t.ToolCalls) > 0 {
			return fmt.Errorf("%w: only assistant turns carry tool calls", ErrInvalidTurn)
		}
		for _, c := range t.ToolCalls {
			if c.ID == "" || c.Name == "" {
				return fmt.Errorf("%w: tool call needs an id and a name", ErrInvalidTurn)
			}
			if l.seen[c.ID] {
				return fmt.Errorf("%w: %q", ErrDuplicateCallID, c.ID)
			}
		}
		for _, c := range t.ToolCalls {
			l.seen[c.ID] = true
			l.pending = append(l.pending, c.ID)
		}
	default:
		return fmt.Errorf("%w: role %q", ErrInvalidTurn, t.Role)
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = l.now().UTC()
	}
	l.turns = append(l.turns, t)
	return nil
}

// Turns returns a copy of the live turns.
func (l *Log) Turns() []Turn {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return cloneTurns(l.turns)
}

// Archived returns the turns compaction replaced, oldest first.
func (l *Log) Archived() []Turn {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return cloneTurns(l.archive)
}

func cloneTurns(in []Turn) []Turn {
	out := make([]Turn, len(in))
	for i := range in {
		out[i] = in[i].Clone()
	}
	return out
}

func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.turns)
}

// Last returns the most recent turn.
func (l *Log) Last() (Turn, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if len(l.turns) == 0 {
		return Turn{}, false
	}
	return l.turns[len(l.turns)-1].Clone(), true
}

// Pending returns unanswered tool calls in the order the model emitted them.
func (l *Log) Pending() []ToolCallRequest {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if len(l.pending) == 0 {
		return nil
	}
	want := make(map[string]bool, len(l.pending))
	for _, id := range l.pending {
		want[id] = true
	}
	var out []ToolCallRequest
	for i := range l.turns {
		for _, c := range l.turns[i].ToolCalls {
			if want[c.ID] {
				out = append(out, c)
			}
		}
	}
	return out
}

// Summarizer condenses a run of turns into prose.
type Summarizer interface {
	Summarize(ctx context.Context, turns []Turn) (string, error)
}

// SummarizerFunc adapts a function to Summarizer.
type SummarizerFunc func(ctx context.Context, turns []Turn) (string, error)

func (f SummarizerFunc) Summarize(ctx context.Context, turns []Turn) (string, error) {
	return f(ctx, turns)
}

// Tokens estimates the prompt size of the live turns.
func (l *Log) Tokens(counter *utils.TokenCounter) int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return countTokens(counter, l.turns)
}

func countTokens(counter *utils.TokenCounter, turns []Turn) int {
	total := 0
	for i := range turns {
		total += counter.CountTokens(turns[i].Content)
		for _, c := range turns[i].ToolCalls {
			args, _ := json.Marshal(c.Arguments)
			total += counter.CountTokens(c.Name) + counter.CountTokens(string(args))
		}
	}
	return total
}

// Compact replaces the oldest complete exchanges with one summary turn when
// the log exceeds budget tokens. An exchange starts at a user turn; the most
// recent exchange is always kept. Replaced turns move to the archive.
func (l *Log) Compact(ctx context.Context, s Summarizer, counter *utils.TokenCounter, budget int) (bool, error) {
	l.mu.RLock()
	total := countTokens(counter, l.turns)
	var boundaries []int
	if len(l.pending) == 0 {
		for i := 1; i < len(l.turns); i++ {
			if l.turns[i].Role == RoleUser && l.turns[i].Marker != MarkerSummary {
				boundaries = append(boundaries, i)
			}
		}
	}
	l.mu.RUnlock()

	if total <= budget || len(boundaries) == 0 {
		return false, nil
	}

	l.mu.RLock()
	cut := boundaries[len(boundaries)-1]
	for _, b := range boundaries {
		if countTokens(counter, l.turns[b:]) <= budget/2 {
			cut = b
			break
		}
	}
	prefix := cloneTurns(l.turns[:cut])
	l.mu.RUnlock()

	summary, err := s.Summarize(ctx, prefix)
	if err != nil {
		return false, fmt.Errorf("summarize %d turns: %w", len(prefix), err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.turns) < cut || len(l.pending) > 0 {
		return false, nil
	}
	rest := l.turns[cut:]
	l.archive = append(l.archive, l.turns[:cut]...)
	l.turns = append([]Turn{{
		Role:      RoleUser,
		Content:   "Summary of the earlier conversation:\n" + summary,
		Marker:    MarkerSummary,
		CreatedAt: l.now().UTC(),
	}}, rest...)
	return true, nil
}
