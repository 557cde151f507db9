package persistence

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"rework/pkg/conversation"
)

const jsonlExt = ".jsonl"

// Record types of a session file.
const (
	recordSession = "session"
	recordTurn    = "turn"
	recordArchive = "archive"
)

// record is one line of a session file.
//
//nolint:govet // struct alignment not critical for serialization types.
type record struct {
	Type      string                       `json:"type"`
	Session   *Session                     `json:"session,omitempty"`
	Turn      *conversation.SerializedTurn `json:"turn,omitempty"`
	Timestamp time.Time                    `json:"ts"`
}

// JSONLStore keeps one append-only JSON-lines file per session in a directory.
// Header changes and archive markers are appended as records; the last
// header wins on load.
type JSONLStore struct {
	dir string
	mu  sync.Mutex
}

// OpenJSONL creates the directory if needed.
func OpenJSONL(dir string) (*JSONLStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create session directory: %w", err)
	}
	return &JSONLStore{dir: dir}, nil
}

func (j *JSONLStore) path(id string) (string, error) {
	if id == "" || strings.ContainsAny(id, `/\`) || strings.Contains(id, "..") {
		return "", fmt.Errorf("invalid session id %q", id)
	}
	return filepath.Join(j.dir, id+jsonlExt), nil
}

// write appends one record and syncs the file.
func (j *JSONLStore) write(id string, rec *record) error {
	p, err := j.path(id)
	if err != nil {
		return err
	}
	rec.Timestamp = time.Now().UTC()
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to serialize record: %w", err)
	}
	file, err := os.OpenFile(p, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open session file %s: %w", p, err)
	}
	if _, err := file.Write(append(data, '\n')); err != nil {
		_ = file.Close()
		return fmt.Errorf("failed to write record: %w", err)
	}
	if err := file.Sync(); err != nil {
		_ = file.Close()
		return fmt.Errorf("failed to sync file: %w", err)
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("failed to close session file: %w", err)
	}
	return nil
}

// replay reads a session file back into its header and turn lists.
type replayed struct {
	session  *Session
	live     []conversation.Turn
	archived []conversation.Turn
}

func (j *JSONLStore) replay(id string) (*replayed, error) {
	p, err := j.path(id)
	if err != nil {
		return nil, err
	}
	file, err := os.Open(p)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open session file %s: %w", p, err)
	}
	defer func() { _ = file.Close() }()

	out := &replayed{}
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 64*1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		raw := scanner.Bytes()
		if len(raw) == 0 {
			continue
		}
		var rec record
		if err := json.Unmarshal(raw, &rec); err != nil {
			return nil, fmt.Errorf("%s:%d: %w", p, line, err)
		}
		switch rec.Type {
		case recordSession:
			if rec.Session != nil {
				out.session = rec.Session
			}
		case recordTurn:
			if rec.Turn == nil {
				continue
			}
			t, err := conversation.SerializedToTurn(rec.Turn)
			if err != nil {
				return nil, fmt.Errorf("%s:%d: %w", p, line, err)
			}
			out.live = append(out.live, t)
		case recordArchive:
			out.archived = append(out.archived, out.live...)
			out.live = nil
		default:
			return nil, fmt.Errorf("%s:%d: unknown record type %q", p, line, rec.Type)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read session file %s: %w", p, err)
	}
	if out.session == nil {
		return nil, ErrSessionNotFound
	}
	return out, nil
}

// SaveSession appends a header record.
func (j *JSONLStore) SaveSession(_ context.Context, sess *Session) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	now := time.Now().UTC()
	if sess.StartedAt.IsZero() {
		sess.StartedAt = now
	}
	sess.UpdatedAt = now
	if sess.Status == "" {
		sess.Status = SessionStatusActive
	}
	header := *sess
	return j.write(sess.ID, &record{Type: recordSession, Session: &header})
}

// GetSession returns the latest header of the session.
func (j *JSONLStore) GetSession(_ context.Context, id string) (*Session, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	r, err := j.replay(id)
	if err != nil {
		return nil, err
	}
	return r.session, nil
}

// ListSessions scans the directory for session files.
func (j *JSONLStore) ListSessions(_ context.Context, limit int) ([]Session, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	entries, err := os.ReadDir(j.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read session directory: %w", err)
	}
	var sessions []Session
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), jsonlExt) {
			continue
		}
		r, err := j.replay(strings.TrimSuffix(e.Name(), jsonlExt))
		if err != nil {
			continue
		}
		sess := *r.session
		if n := len(r.live); n > 0 && r.live[n-1].CreatedAt.After(sess.UpdatedAt) {
			sess.UpdatedAt = r.live[n-1].CreatedAt
		}
		sessions = append(sessions, sess)
	}
	sort.SliceStable(sessions, func(a, b int) bool {
		return sessions[a].UpdatedAt.After(sessions[b].UpdatedAt)
	})
	if limit > 0 && len(sessions) > limit {
		sessions = sessions[:limit]
	}
	return sessions, nil
}

// AppendTurn appends a turn record. The session header must exist.
func (j *JSONLStore) AppendTurn(_ context.Context, sessionID string, t *conversation.Turn) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	p, err := j.path(sessionID)
	if err != nil {
		return err
	}
	if _, err := os.Stat(p); errors.Is(err, os.ErrNotExist) {
		return ErrSessionNotFound
	}
	st := conversation.TurnToSerialized(t)
	return j.write(sessionID, &record{Type: recordTurn, Turn: &st})
}

// ArchiveTurns appends an archive marker.
func (j *JSONLStore) ArchiveTurns(_ context.Context, sessionID string) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.write(sessionID, &record{Type: recordArchive})
}

// LoadTurns replays the session file and returns the live turns.
func (j *JSONLStore) LoadTurns(_ context.Context, sessionID string) ([]conversation.Turn, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	r, err := j.replay(sessionID)
	if err != nil {
		return nil, err
	}
	return r.live, nil
}

// LoadArchived replays the session file and returns the archived turns.
func (j *JSONLStore) LoadArchived(_ context.Context, sessionID string) ([]conversation.Turn, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	r, err := j.replay(sessionID)
	if err != nil {
		return nil, err
	}
	return r.archived, nil
}

// Close is a no-op; files are closed after every write.
func (j *JSONLStore) Close() error {
	return nil
}
