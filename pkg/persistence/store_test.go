package persistence

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rework/pkg/config"
	"rework/pkg/conversation"
)

func backends(t *testing.T) map[string]TurnStore {
	t.Helper()
	sqlite, err := OpenSQLite(":memory:")
	require.NoError(t, err)
	jsonl, err := OpenJSONL(filepath.Join(t.TempDir(), "sessions"))
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = sqlite.Close()
		_ = jsonl.Close()
	})
	return map[string]TurnStore{"sqlite": sqlite, "jsonl": jsonl}
}

func sampleTurns() []conversation.Turn {
	call := conversation.ToolCallRequest{ID: "call_1", Name: "apply_block", Arguments: map[string]any{"content": "x"}}
	base := time.Date(2026, 1, 2, 3, 4, 5, 6, time.UTC)
	turns := []conversation.Turn{
		conversation.User("rename greet"),
		conversation.Assistant("on it", call),
		conversation.ToolResult(call, `{"success":true}`, false),
		conversation.Assistant("done"),
	}
	for i := range turns {
		turns[i].CreatedAt = base.Add(time.Duration(i) * time.Second)
	}
	return turns
}

func TestStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	for name, store := range backends(t) {
		t.Run(name, func(t *testing.T) {
			sess := &Session{ID: "s1", Workspace: "/work", EditFormat: "block", Mode: "deterministic"}
			require.NoError(t, store.SaveSession(ctx, sess))

			want := sampleTurns()
			for i := range want {
				require.NoError(t, store.AppendTurn(ctx, "s1", &want[i]))
			}

			got, err := store.LoadTurns(ctx, "s1")
			require.NoError(t, err)
			assert.Equal(t, want, got)

			log, err := LoadLog(ctx, store, "s1")
			require.NoError(t, err)
			assert.Equal(t, 4, log.Len())
			assert.Empty(t, log.Pending())

			loaded, err := store.GetSession(ctx, "s1")
			require.NoError(t, err)
			assert.Equal(t, "block", loaded.EditFormat)
			assert.Equal(t, SessionStatusActive, loaded.Status)
		})
	}
}

func TestStoreArchive(t *testing.T) {
	ctx := context.Background()
	for name, store := range backends(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, store.SaveSession(ctx, &Session{ID: "s1"}))
			turns := sampleTurns()
			for i := range turns {
				require.NoError(t, store.AppendTurn(ctx, "s1", &turns[i]))
			}

			require.NoError(t, store.ArchiveTurns(ctx, "s1"))
			summary := conversation.Turn{Role: conversation.RoleUser, Content: "summary", Marker: conversation.MarkerSummary, CreatedAt: time.Now().UTC()}
			require.NoError(t, store.AppendTurn(ctx, "s1", &summary))

			live, err := store.LoadTurns(ctx, "s1")
			require.NoError(t, err)
			require.Len(t, live, 1)
			assert.Equal(t, conversation.MarkerSummary, live[0].Marker)

			archived, err := store.LoadArchived(ctx, "s1")
			require.NoError(t, err)
			assert.Len(t, archived, 4)
		})
	}
}

func TestStoreMissingSession(t *testing.T) {
	ctx := context.Background()
	for name, store := range backends(t) {
		t.Run(name, func(t *testing.T) {
			_, err := store.GetSession(ctx, "nope")
			require.ErrorIs(t, err, ErrSessionNotFound)

			_, err = store.LoadTurns(ctx, "nope")
			require.ErrorIs(t, err, ErrSessionNotFound)

			turn := conversation.User("hi")
			require.ErrorIs(t, store.AppendTurn(ctx, "nope", &turn), ErrSessionNotFound)
		})
	}
}

func TestListSessionsNewestFirst(t *testing.T) {
	ctx := context.Background()
	for name, store := range backends(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, store.SaveSession(ctx, &Session{ID: "old"}))
			time.Sleep(5 * time.Millisecond)
			require.NoError(t, store.SaveSession(ctx, &Session{ID: "new"}))

			sessions, err := store.ListSessions(ctx, 0)
			require.NoError(t, err)
			require.Len(t, sessions, 2)
			assert.Equal(t, "new", sessions[0].ID)

			limited, err := store.ListSessions(ctx, 1)
			require.NoError(t, err)
			assert.Len(t, limited, 1)
		})
	}
}

func TestSaveSessionUpdatesHeader(t *testing.T) {
	ctx := context.Background()
	for name, store := range backends(t) {
		t.Run(name, func(t *testing.T) {
			sess := &Session{ID: "s1", EditFormat: "block"}
			require.NoError(t, store.SaveSession(ctx, sess))
			started := sess.StartedAt

			sess.EditFormat = "udiff"
			sess.Status = SessionStatusClosed
			require.NoError(t, store.SaveSession(ctx, sess))

			got, err := store.GetSession(ctx, "s1")
			require.NoError(t, err)
			assert.Equal(t, "udiff", got.EditFormat)
			assert.Equal(t, SessionStatusClosed, got.Status)
			assert.True(t, got.StartedAt.Equal(started))
		})
	}
}

func TestOpenSelectsBackend(t *testing.T) {
	dir := t.TempDir()

	none, err := Open(config.PersistenceConfig{Backend: config.BackendNone}, dir)
	require.NoError(t, err)
	assert.Nil(t, none)

	sqlite, err := Open(config.PersistenceConfig{Backend: config.BackendSQLite, Path: ".rework/sessions.db"}, dir)
	require.NoError(t, err)
	assert.IsType(t, &SQLiteStore{}, sqlite)
	require.NoError(t, sqlite.Close())
	assert.FileExists(t, filepath.Join(dir, ".rework", "sessions.db"))

	jsonl, err := Open(config.PersistenceConfig{Backend: config.BackendJSONL, Path: ".rework/sessions"}, dir)
	require.NoError(t, err)
	assert.IsType(t, &JSONLStore{}, jsonl)
	assert.DirExists(t, filepath.Join(dir, ".rework", "sessions"))

	_, err = Open(config.PersistenceConfig{Backend: "redis"}, dir)
	require.Error(t, err)
}

func TestJSONLRejectsPathLikeIDs(t *testing.T) {
	store, err := OpenJSONL(t.TempDir())
	require.NoError(t, err)
	require.Error(t, store.SaveSession(context.Background(), &Session{ID: "../escape"}))
}
