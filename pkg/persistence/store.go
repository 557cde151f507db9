// Package persistence stores sessions and their conversation turns so an
// interactive session can be resumed later.
//
// Stores are append-only: turns are never updated or deleted in place.
// When the live log is rewritten (compaction, /clear) the current turns are
// archived and the new live turns appended after them.
package persistence

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"rework/pkg/config"
	"rework/pkg/conversation"
)

// ErrSessionNotFound is returned when a requested session does not exist.
var ErrSessionNotFound = errors.New("session not found")

// Session status constants.
const (
	SessionStatusActive = "active"
	SessionStatusClosed = "closed" // ended normally, resumable
)

// Session is the persisted header of one interactive session.
//
//nolint:govet // struct alignment optimization not critical for this type.
type Session struct {
	ID         string    `json:"session_id"`
	Workspace  string    `json:"workspace"`
	EditFormat string    `json:"edit_format"`
	Mode       string    `json:"mode"`
	Status     string    `json:"status"`
	StartedAt  time.Time `json:"started_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// TurnStore persists sessions and their turns.
type TurnStore interface {
	// SaveSession creates the session or updates its header.
	SaveSession(ctx context.Context, s *Session) error
	GetSession(ctx context.Context, id string) (*Session, error)
	// ListSessions returns sessions, most recently updated first. A limit of
	// zero or less returns all of them.
	ListSessions(ctx context.Context, limit int) ([]Session, error)
	// AppendTurn adds t after the session's existing turns.
	AppendTurn(ctx context.Context, sessionID string, t *conversation.Turn) error
	// ArchiveTurns moves every live turn of the session to the archive.
	ArchiveTurns(ctx context.Context, sessionID string) error
	// LoadTurns returns the live turns in append order.
	LoadTurns(ctx context.Context, sessionID string) ([]conversation.Turn, error)
	// LoadArchived returns archived turns in append order.
	LoadArchived(ctx context.Context, sessionID string) ([]conversation.Turn, error)
	Close() error
}

// Open builds the store selected by cfg. Relative paths are resolved
// against workspace. The "none" backend returns a nil store.
func Open(cfg config.PersistenceConfig, workspace string) (TurnStore, error) {
	path := cfg.Path
	if path != "" && !filepath.IsAbs(path) {
		path = filepath.Join(workspace, path)
	}
	switch cfg.Backend {
	case config.BackendNone, "":
		return nil, nil //nolint:nilnil // persistence disabled
	case config.BackendSQLite:
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
		return OpenSQLite(path)
	case config.BackendJSONL:
		return OpenJSONL(path)
	default:
		return nil, fmt.Errorf("unknown persistence backend %q", cfg.Backend)
	}
}

// LoadLog rebuilds a conversation log from the session's live turns.
// Pairing is re-validated while replaying.
func LoadLog(ctx context.Context, store TurnStore, sessionID string) (*conversation.Log, error) {
	turns, err := store.LoadTurns(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	log, err := conversation.Rebuild(turns)
	if err != nil {
		return nil, fmt.Errorf("session %s: %w", sessionID, err)
	}
	return log, nil
}

// timeLayout is fixed width so stored timestamps sort as strings.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
