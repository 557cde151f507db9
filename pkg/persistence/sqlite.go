package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"rework/pkg/conversation"
	"rework/pkg/logx"
)

// CurrentSchemaVersion defines the current schema version for migration support.
const CurrentSchemaVersion = 1

// SQLiteStore implements TurnStore on a single SQLite database file.
type SQLiteStore struct {
	db     *sql.DB
	logger *logx.Logger
}

// OpenSQLite opens (creating if needed) the database at path. ":memory:"
// gives a private in-memory database.
func OpenSQLite(path string) (*SQLiteStore, error) {
	dsn := path
	if path != ":memory:" {
		dsn = fmt.Sprintf("file:%s?_foreign_keys=ON&_journal_mode=WAL&_busy_timeout=5000", path)
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite supports one writer; one connection also keeps :memory: shared.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if err := initializeSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	store := &SQLiteStore{db: db, logger: logx.NewLogger("persistence")}
	store.logger.Info("Database initialized: %s", path)
	return store, nil
}

// initializeSchema creates the tables on an empty database and records the
// schema version.
func initializeSchema(db *sql.DB) error {
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (version INTEGER NOT NULL)`); err != nil {
		return fmt.Errorf("failed to create schema_version table: %w", err)
	}
	var version int
	err := db.QueryRow(`SELECT version FROM schema_version LIMIT 1`).Scan(&version)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		version = 0
	case err != nil:
		return fmt.Errorf("failed to read schema version: %w", err)
	}
	if version == CurrentSchemaVersion {
		return nil
	}
	if version > CurrentSchemaVersion {
		return fmt.Errorf("database schema version %d is newer than supported version %d", version, CurrentSchemaVersion)
	}

	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin schema transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	statements := []string{
		`CREATE TABLE IF NOT EXISTS sessions (
			session_id TEXT PRIMARY KEY,
			workspace TEXT NOT NULL DEFAULT '',
			edit_format TEXT NOT NULL DEFAULT '',
			mode TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL DEFAULT 'active',
			started_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS turns (
			session_id TEXT NOT NULL,
			seq INTEGER NOT NULL,
			archived INTEGER NOT NULL DEFAULT 0,
			role TEXT NOT NULL,
			turn_json TEXT NOT NULL,
			created_at TEXT NOT NULL,
			PRIMARY KEY (session_id, seq),
			FOREIGN KEY (session_id) REFERENCES sessions(session_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_turns_live ON turns(session_id, archived, seq)`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_updated ON sessions(updated_at)`,
		`DELETE FROM schema_version`,
	}
	for _, stmt := range statements {
		if _, err := tx.Exec(stmt); err != nil {
			return fmt.Errorf("failed to execute schema statement: %w", err)
		}
	}
	if _, err := tx.Exec(`INSERT INTO schema_version (version) VALUES (?)`, CurrentSchemaVersion); err != nil {
		return fmt.Errorf("failed to set schema version: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit schema: %w", err)
	}
	return nil
}

// SaveSession inserts the session or updates its header fields.
func (s *SQLiteStore) SaveSession(ctx context.Context, sess *Session) error {
	now := time.Now().UTC()
	if sess.StartedAt.IsZero() {
		sess.StartedAt = now
	}
	sess.UpdatedAt = now
	if sess.Status == "" {
		sess.Status = SessionStatusActive
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (session_id, workspace, edit_format, mode, status, started_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(session_id) DO UPDATE SET
			workspace = excluded.workspace,
			edit_format = excluded.edit_format,
			mode = excluded.mode,
			status = excluded.status,
			updated_at = excluded.updated_at
	`, sess.ID, sess.Workspace, sess.EditFormat, sess.Mode, sess.Status, formatTime(sess.StartedAt), formatTime(sess.UpdatedAt))
	if err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*Session, error) {
	var (
		sess             Session
		started, updated string
	)
	err := row.Scan(&sess.ID, &sess.Workspace, &sess.EditFormat, &sess.Mode, &sess.Status, &started, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan session: %w", err)
	}
	sess.StartedAt = parseTime(started)
	sess.UpdatedAt = parseTime(updated)
	return &sess, nil
}

// GetSession retrieves a session by id.
func (s *SQLiteStore) GetSession(ctx context.Context, id string) (*Session, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT session_id, workspace, edit_format, mode, status, started_at, updated_at
		FROM sessions WHERE session_id = ?
	`, id)
	return scanSession(row)
}

// ListSessions returns sessions, most recently updated first.
func (s *SQLiteStore) ListSessions(ctx context.Context, limit int) ([]Session, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT session_id, workspace, edit_format, mode, status, started_at, updated_at
		FROM sessions ORDER BY updated_at DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var sessions []Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, *sess)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate sessions: %w", err)
	}
	return sessions, nil
}

// AppendTurn stores t under the next sequence number of the session.
func (s *SQLiteStore) AppendTurn(ctx context.Context, sessionID string, t *conversation.Turn) error {
	data, err := json.Marshal(conversation.TurnToSerialized(t))
	if err != nil {
		return fmt.Errorf("failed to marshal turn: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var exists int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM sessions WHERE session_id = ?`, sessionID).Scan(&exists); err != nil {
		return fmt.Errorf("failed to check session: %w", err)
	}
	if exists == 0 {
		return ErrSessionNotFound
	}

	var seq int64
	if err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(seq), -1) + 1 FROM turns WHERE session_id = ?`, sessionID).Scan(&seq); err != nil {
		return fmt.Errorf("failed to allocate turn sequence: %w", err)
	}
	createdAt := t.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO turns (session_id, seq, role, turn_json, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, sessionID, seq, string(t.Role), string(data), formatTime(createdAt)); err != nil {
		return fmt.Errorf("failed to insert turn: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `UPDATE sessions SET updated_at = ? WHERE session_id = ?`,
		formatTime(time.Now()), sessionID); err != nil {
		return fmt.Errorf("failed to touch session: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit turn: %w", err)
	}
	return nil
}

// ArchiveTurns marks every live turn of the session archived.
func (s *SQLiteStore) ArchiveTurns(ctx context.Context, sessionID string) error {
	if _, err := s.db.ExecContext(ctx, `UPDATE turns SET archived = 1 WHERE session_id = ? AND archived = 0`, sessionID); err != nil {
		return fmt.Errorf("failed to archive turns: %w", err)
	}
	return nil
}

// LoadTurns returns the live turns of the session in append order.
func (s *SQLiteStore) LoadTurns(ctx context.Context, sessionID string) ([]conversation.Turn, error) {
	if _, err := s.GetSession(ctx, sessionID); err != nil {
		return nil, err
	}
	return s.loadTurns(ctx, sessionID, 0)
}

// LoadArchived returns the archived turns of the session in append order.
func (s *SQLiteStore) LoadArchived(ctx context.Context, sessionID string) ([]conversation.Turn, error) {
	return s.loadTurns(ctx, sessionID, 1)
}

func (s *SQLiteStore) loadTurns(ctx context.Context, sessionID string, archived int) ([]conversation.Turn, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT turn_json FROM turns
		WHERE session_id = ? AND archived = ?
		ORDER BY seq
	`, sessionID, archived)
	if err != nil {
		return nil, fmt.Errorf("failed to query turns: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var turns []conversation.Turn
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("failed to scan turn: %w", err)
		}
		turn, err := decodeTurn([]byte(raw))
		if err != nil {
			return nil, err
		}
		turns = append(turns, turn)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate turns: %w", err)
	}
	return turns, nil
}

func decodeTurn(data []byte) (conversation.Turn, error) {
	var st conversation.SerializedTurn
	if err := json.Unmarshal(data, &st); err != nil {
		return conversation.Turn{}, fmt.Errorf("failed to unmarshal turn: %w", err)
	}
	return conversation.SerializedToTurn(&st)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	return nil
}
