package applier

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rework/pkg/edit"
	"rework/pkg/lint"
)

func newTestApplier(t *testing.T, files map[string]string, opts Options) (*Applier, string) {
	t.Helper()
	root := t.TempDir()
	for rel, content := range files {
		abs := filepath.Join(root, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(abs), 0o755))
		require.NoError(t, os.WriteFile(abs, []byte(content), 0o644))
	}
	ws, err := NewWorkspace(root, true)
	require.NoError(t, err)
	return New(ws, opts), ws.Root()
}

func readFile(t *testing.T, root, rel string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(root, filepath.FromSlash(rel)))
	require.NoError(t, err)
	return string(data)
}

func TestApplyAllKinds(t *testing.T) {
	a, root := newTestApplier(t, map[string]string{
		"main.go":  "package main\n\nfunc main() {}\n",
		"old.txt":  "bye\n",
		"notes.md": "# notes\n",
	}, Options{})

	outcomes := a.Apply(context.Background(), []edit.FileEdit{
		{Path: "main.go", Kind: edit.KindHunk, Hunks: []edit.Hunk{{Search: "func main() {}\n", Replace: "func main() { run() }\n"}}},
		{Path: "notes.md", Kind: edit.KindReplace, Content: "# Notes\n"},
		{Path: "pkg/new.go", Kind: edit.KindCreate, Content: "package pkg\n"},
		{Path: "old.txt", Kind: edit.KindDelete},
	})

	require.Len(t, outcomes, 4)
	for _, o := range outcomes {
		assert.Equal(t, edit.StatusApplied, o.Status, o.String())
	}
	assert.Equal(t, "package main\n\nfunc main() { run() }\n", readFile(t, root, "main.go"))
	assert.Equal(t, "# Notes\n", readFile(t, root, "notes.md"))
	assert.Equal(t, "package pkg\n", readFile(t, root, "pkg/new.go"))
	_, err := os.Stat(filepath.Join(root, "old.txt"))
	assert.True(t, os.IsNotExist(err))
	assert.Contains(t, outcomes[0].Diff, "+func main() { run() }")
}

func TestReapplyIdempotence(t *testing.T) {
	a, root := newTestApplier(t, map[string]string{"a.txt": "one\ntwo\n"}, Options{})
	ctx := context.Background()

	replace := edit.FileEdit{Path: "a.txt", Kind: edit.KindReplace, Content: "uno\ntwo\n"}
	create := edit.FileEdit{Path: "b.txt", Kind: edit.KindCreate, Content: "new\n"}
	hunk := edit.FileEdit{Path: "a.txt", Kind: edit.KindHunk, Hunks: []edit.Hunk{{Search: "two\n", Replace: "dos\n"}}}

	first := a.Apply(ctx, []edit.FileEdit{replace, create, hunk})
	for _, o := range first {
		require.Equal(t, edit.StatusApplied, o.Status, o.String())
	}
	assert.Equal(t, "uno\ndos\n", readFile(t, root, "a.txt"))

	again := a.Apply(ctx, []edit.FileEdit{
		{Path: "a.txt", Kind: edit.KindReplace, Content: "uno\ndos\n"},
		create,
	})
	for _, o := range again {
		assert.Equal(t, edit.StatusApplied, o.Status)
		assert.Equal(t, ReasonUnchanged, o.Reason)
	}

	stale := a.Apply(ctx, []edit.FileEdit{hunk})
	require.Len(t, stale, 1)
	assert.Equal(t, edit.StatusRejected, stale[0].Status)
	assert.Equal(t, string(edit.ReasonAmbiguousMatch), stale[0].Reason)
	assert.Equal(t, "uno\ndos\n", readFile(t, root, "a.txt"))
}

func TestReapplyInsertionHunksRejected(t *testing.T) {
	a, root := newTestApplier(t, map[string]string{"a.txt": "a\nb\n"}, Options{})
	ctx := context.Background()

	edits := []edit.FileEdit{
		{Path: "a.txt", Kind: edit.KindHunk, Hunks: []edit.Hunk{{Replace: "tail\n"}}},
		{Path: "a.txt", Kind: edit.KindHunk, Hunks: []edit.Hunk{{Replace: "head\n", Line: 1}}},
	}
	for _, e := range edits {
		out := a.Apply(ctx, []edit.FileEdit{e})
		require.Equal(t, edit.StatusApplied, out[0].Status, out[0].String())
	}
	assert.Equal(t, "head\na\nb\ntail\n", readFile(t, root, "a.txt"))

	again := a.Apply(ctx, edits)
	require.Len(t, again, 2)
	for _, o := range again {
		assert.Equal(t, edit.StatusRejected, o.Status)
		assert.Equal(t, string(edit.ReasonAmbiguousMatch), o.Reason)
	}
	assert.Equal(t, "head\na\nb\ntail\n", readFile(t, root, "a.txt"))
}

func TestPathEscapeForEveryKind(t *testing.T) {
	a, _ := newTestApplier(t, map[string]string{"a.txt": "x\n"}, Options{})

	kinds := []edit.FileEdit{
		{Kind: edit.KindReplace, Content: "pwned\n"},
		{Kind: edit.KindCreate, Content: "pwned\n"},
		{Kind: edit.KindDelete},
		{Kind: edit.KindHunk, Hunks: []edit.Hunk{{Search: "root", Replace: "x"}}},
	}
	for _, e := range kinds {
		e.Path = "../../etc/passwd"
		outcomes := a.Apply(context.Background(), []edit.FileEdit{e})
		require.Len(t, outcomes, 1)
		assert.Equal(t, edit.StatusRejected, outcomes[0].Status)
		assert.True(t, errors.Is(outcomes[0].Err, edit.ErrPathEscape), e.Kind.String())
	}
}

func TestSymlinkEscape(t *testing.T) {
	outside := t.TempDir()
	a, root := newTestApplier(t, nil, Options{})
	require.NoError(t, os.Symlink(outside, filepath.Join(root, "link")))

	outcomes := a.Apply(context.Background(), []edit.FileEdit{{Path: "link/evil.txt", Kind: edit.KindCreate, Content: "x"}})
	assert.True(t, errors.Is(outcomes[0].Err, edit.ErrPathEscape))
	_, err := os.Stat(filepath.Join(outside, "evil.txt"))
	assert.True(t, os.IsNotExist(err))
}

func TestCreateExistingRequiresOverwrite(t *testing.T) {
	a, root := newTestApplier(t, map[string]string{"a.txt": "keep\n"}, Options{})

	out := a.Apply(context.Background(), []edit.FileEdit{{Path: "a.txt", Kind: edit.KindCreate, Content: "clobber\n"}})
	assert.Equal(t, string(edit.ReasonFileExists), out[0].Reason)
	assert.Equal(t, "keep\n", readFile(t, root, "a.txt"))

	out = a.Apply(context.Background(), []edit.FileEdit{{Path: "a.txt", Kind: edit.KindCreate, Content: "clobber\n", Overwrite: true}})
	assert.Equal(t, edit.StatusApplied, out[0].Status)
	assert.Equal(t, "clobber\n", readFile(t, root, "a.txt"))
}

func TestPartialHunksLeaveFileUntouched(t *testing.T) {
	a, root := newTestApplier(t, map[string]string{"a.txt": "a\nb\nc\n", "b.txt": "b\n"}, Options{})

	out := a.Apply(context.Background(), []edit.FileEdit{
		{Path: "a.txt", Kind: edit.KindHunk, Hunks: []edit.Hunk{{Search: "a\n", Replace: "A\n"}, {Search: "zz\n", Replace: "Z\n"}}},
		{Path: "b.txt", Kind: edit.KindReplace, Content: "B\n"},
	})
	assert.Equal(t, edit.StatusRejected, out[0].Status)
	assert.Equal(t, string(edit.ReasonPartialApply), out[0].Reason)
	assert.Len(t, out[0].Warnings, 1)
	assert.Equal(t, "a\nb\nc\n", readFile(t, root, "a.txt"))
	assert.Equal(t, edit.StatusApplied, out[1].Status)
}

func TestLintRollbackWhenRequired(t *testing.T) {
	original := "package main\n"
	broken := edit.FileEdit{Path: "main.go", Kind: edit.KindReplace, Content: "package main\nfunc {\n"}

	strict, root := newTestApplier(t, map[string]string{"main.go": original}, Options{Checker: lint.NewSyntax(), RequireSyntaxValid: true})
	out := strict.Apply(context.Background(), []edit.FileEdit{broken})
	assert.Equal(t, edit.StatusRejected, out[0].Status)
	assert.Equal(t, ReasonLint, out[0].Reason)
	assert.Equal(t, original, readFile(t, root, "main.go"))

	lenient, root := newTestApplier(t, map[string]string{"main.go": original}, Options{Checker: lint.NewSyntax()})
	out = lenient.Apply(context.Background(), []edit.FileEdit{broken})
	assert.Equal(t, edit.StatusApplied, out[0].Status)
	assert.NotEmpty(t, out[0].Warnings)
	assert.Equal(t, broken.Content, readFile(t, root, "main.go"))
}

func TestCancellationSkipsRemainingFiles(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var notified []string
	checker := lint.CheckFunc(func(string, string) []lint.Diagnostic {
		cancel()
		return nil
	})
	a, root := newTestApplier(t, map[string]string{"1.txt": "1\n", "2.txt": "2\n", "3.txt": "3\n"}, Options{
		Checker:   checker,
		OnChanged: func(_ context.Context, paths []string) { notified = paths },
	})

	out := a.Apply(ctx, []edit.FileEdit{
		{Path: "1.txt", Kind: edit.KindReplace, Content: "one\n"},
		{Path: "2.txt", Kind: edit.KindReplace, Content: "two\n"},
		{Path: "3.txt", Kind: edit.KindReplace, Content: "three\n"},
	})

	require.Len(t, out, 3)
	assert.Equal(t, edit.StatusApplied, out[0].Status)
	assert.Equal(t, edit.StatusSkipped, out[1].Status)
	assert.Equal(t, ReasonCancelled, out[2].Reason)
	assert.Equal(t, "one\n", readFile(t, root, "1.txt"))
	assert.Equal(t, "2\n", readFile(t, root, "2.txt"))
	assert.Equal(t, "3\n", readFile(t, root, "3.txt"))
	assert.Equal(t, []string{"1.txt"}, notified)
}

func TestIgnoredPathsSkipped(t *testing.T) {
	a, _ := newTestApplier(t, map[string]string{".gitignore": "build/\n*.log\n"}, Options{})

	out := a.Apply(context.Background(), []edit.FileEdit{
		{Path: "build/out.txt", Kind: edit.KindCreate, Content: "x"},
		{Path: "debug.log", Kind: edit.KindCreate, Content: "x"},
		{Path: ".git/config", Kind: edit.KindCreate, Content: "x"},
	})
	for _, o := range out {
		assert.Equal(t, edit.StatusSkipped, o.Status)
		assert.Equal(t, ReasonIgnored, o.Reason)
	}
}

func TestRevertLast(t *testing.T) {
	a, root := newTestApplier(t, map[string]string{"a.txt": "a\n"}, Options{})
	ctx := context.Background()

	a.Apply(ctx, []edit.FileEdit{
		{Path: "a.txt", Kind: edit.KindReplace, Content: "A\n"},
		{Path: "b.txt", Kind: edit.KindCreate, Content: "b\n"},
	})
	assert.Equal(t, 1, a.Revertible())

	paths, err := a.RevertLast(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a.txt", "b.txt"}, paths)
	assert.Equal(t, "a\n", readFile(t, root, "a.txt"))
	_, err = os.Stat(filepath.Join(root, "b.txt"))
	assert.True(t, os.IsNotExist(err))

	_, err = a.RevertLast(ctx)
	assert.ErrorIs(t, err, ErrNothingToRevert)
}

func TestWorkspaceFilesAndSnapshot(t *testing.T) {
	_, root := newTestApplier(t, map[string]string{
		".gitignore":   "vendor/\n",
		"main.go":      "package main\n",
		"vendor/x.go":  "package x\n",
		"docs/a.md":    "# a\n",
		"bin/tool.bin": "\x00\x01",
	}, Options{})
	ws, err := NewWorkspace(root, true)
	require.NoError(t, err)

	files, err := ws.Files(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{".gitignore", "bin/tool.bin", "docs/a.md", "main.go"}, files)

	snap, err := ws.Snapshot(context.Background(), []string{"main.go"}, 20)
	require.NoError(t, err)
	content, ok := snap.Content("main.go")
	assert.True(t, ok)
	assert.Equal(t, "package main\n", content)
	assert.True(t, snap.Has("bin/tool.bin"))
	_, ok = snap.Content("bin/tool.bin")
	assert.False(t, ok)
}
