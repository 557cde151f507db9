package vcs

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, root, rel, content string) {
	t.Helper()
	abs := filepath.Join(root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(abs), 0o755))
	require.NoError(t, os.WriteFile(abs, []byte(content), 0o644))
}

func newRepo(t *testing.T) (*GitRepo, string) {
	t.Helper()
	root := t.TempDir()
	repo, err := Open(root, true, Author{Name: "tester", Email: "tester@example.com"})
	require.NoError(t, err)
	return repo, root
}

func TestOpenWithoutInit(t *testing.T) {
	_, err := Open(t.TempDir(), false, Author{})
	assert.ErrorIs(t, err, ErrNotRepository)
}

func TestCommitDiffUndo(t *testing.T) {
	ctx := context.Background()
	repo, root := newRepo(t)

	head, err := repo.Head(ctx)
	require.NoError(t, err)
	assert.Empty(t, head)

	writeFile(t, root, "a.txt", "one\n")
	first, err := repo.StageAndCommit(ctx, []string{"a.txt"}, "initial")
	require.NoError(t, err)
	require.NotEmpty(t, first)

	_, err = repo.StageAndCommit(ctx, []string{"a.txt"}, "again")
	assert.ErrorIs(t, err, ErrNothingToCommit)

	writeFile(t, root, "a.txt", "two\n")
	writeFile(t, root, "b.txt", "bee\n")
	pending, err := repo.DiffSince(ctx, "")
	require.NoError(t, err)
	assert.Contains(t, pending, "-one")
	assert.Contains(t, pending, "+two")
	assert.Contains(t, pending, "+bee")

	second, err := repo.StageAndCommit(ctx, []string{"a.txt", "b.txt"}, "edit")
	require.NoError(t, err)

	committed, err := repo.DiffSince(ctx, first)
	require.NoError(t, err)
	assert.Contains(t, committed, "+two")

	assert.ErrorIs(t, repo.Undo(ctx, first), ErrNotHead)
	require.NoError(t, repo.Undo(ctx, second))

	data, err := os.ReadFile(filepath.Join(root, "a.txt"))
	require.NoError(t, err)
	assert.Equal(t, "one\n", string(data))
	_, err = os.Stat(filepath.Join(root, "b.txt"))
	assert.True(t, os.IsNotExist(err))

	head, err = repo.Head(ctx)
	require.NoError(t, err)
	assert.Equal(t, first, head)
}

func TestCommitDeletion(t *testing.T) {
	ctx := context.Background()
	repo, root := newRepo(t)

	writeFile(t, root, "keep.txt", "k\n")
	writeFile(t, root, "gone.txt", "g\n")
	_, err := repo.StageAndCommit(ctx, []string{"keep.txt", "gone.txt"}, "initial")
	require.NoError(t, err)

	require.NoError(t, os.Remove(filepath.Join(root, "gone.txt")))
	_, err = repo.StageAndCommit(ctx, []string{"gone.txt"}, "remove")
	require.NoError(t, err)

	pending, err := repo.DiffSince(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestUndoRefusesDirtyFiles(t *testing.T) {
	ctx := context.Background()
	repo, root := newRepo(t)

	writeFile(t, root, "a.txt", "1\n")
	_, err := repo.StageAndCommit(ctx, []string{"a.txt"}, "initial")
	require.NoError(t, err)
	writeFile(t, root, "a.txt", "2\n")
	id, err := repo.StageAndCommit(ctx, []string{"a.txt"}, "change")
	require.NoError(t, err)

	writeFile(t, root, "a.txt", "3\n")
	assert.ErrorIs(t, repo.Undo(ctx, id), ErrDirty)
}

func TestWorkspaceSubdirectory(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	_, err := Open(root, true, Author{})
	require.NoError(t, err)

	sub := filepath.Join(root, "svc")
	require.NoError(t, os.MkdirAll(sub, 0o755))
	repo, err := Open(sub, false, Author{})
	require.NoError(t, err)
	assert.Equal(t, "svc", repo.prefix)

	writeFile(t, sub, "main.go", "package main\n")
	_, err = repo.StageAndCommit(ctx, []string{"main.go"}, "add main")
	require.NoError(t, err)

	writeFile(t, sub, "main.go", "package main\n\nfunc main() {}\n")
	diff, err := repo.DiffSince(ctx, "")
	require.NoError(t, err)
	assert.Contains(t, diff, "--- a/main.go")
}
