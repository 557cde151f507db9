package tools

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rework/pkg/applier"
	"rework/pkg/codec"
	"rework/pkg/edit"
	"rework/pkg/repomap"
	"rework/pkg/vcs"
)

// fakeSession keeps chat context and uncommitted paths in memory.
type fakeSession struct {
	ws          *applier.Workspace
	context     []string
	uncommitted []string
	committed   []string
}

func (s *fakeSession) Snapshot(ctx context.Context) (codec.Snapshot, error) {
	return s.ws.Snapshot(ctx, s.context, 1<<20)
}

func (s *fakeSession) AddContext(paths ...string) ([]string, error) {
	var added []string
	for _, p := range paths {
		found := false
		for _, existing := range s.context {
			found = found || existing == p
		}
		if !found {
			s.context = append(s.context, p)
			added = append(added, p)
		}
	}
	return added, nil
}

func (s *fakeSession) ContextFiles() []string { return s.context }
func (s *fakeSession) Uncommitted() []string  { return s.uncommitted }
func (s *fakeSession) MarkCommitted(id string) {
	s.committed = append(s.committed, id)
	s.uncommitted = nil
}

func setup(t *testing.T, files map[string]string) (*Provider, *fakeSession, string) {
	t.Helper()
	root := t.TempDir()
	for rel, content := range files {
		abs := filepath.Join(root, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(abs), 0o755))
		require.NoError(t, os.WriteFile(abs, []byte(content), 0o644))
	}
	ws, err := applier.NewWorkspace(root, true)
	require.NoError(t, err)
	session := &fakeSession{ws: ws}
	a := applier.New(ws, applier.Options{
		OnChanged: func(_ context.Context, paths []string) { session.uncommitted = append(session.uncommitted, paths...) },
	})
	p := NewProvider(ToolContext{
		Applier: a,
		Session: session,
		RepoMap: repomap.New(ws, nil),
	}, AutonomousTools(codec.FormatBlock))
	return p, session, ws.Root()
}

func decode(t *testing.T, r *ExecResult) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal([]byte(r.Content), &out))
	return out
}

func run(t *testing.T, p *Provider, name string, args map[string]any) *ExecResult {
	t.Helper()
	tool, err := p.Get(name)
	require.NoError(t, err)
	res, err := tool.Exec(context.Background(), args)
	require.NoError(t, err)
	return res
}

func TestRegistryListsBuiltins(t *testing.T) {
	names := make([]string, 0)
	for _, m := range ListTools() {
		names = append(names, m.Name)
	}
	assert.True(t, sort.StringsAreSorted(names))
	for _, want := range []string{
		ToolApplyWhole, ToolApplyBlock, ToolApplyUdiff, ToolApplyPatch,
		ToolSelectContext, ToolReadFile, ToolListFiles, ToolSearch,
		ToolGitCommit, ToolGitDiff, ToolRepoMap, ToolDone,
	} {
		assert.Contains(t, names, want)
	}
}

func TestRegisterAfterSealPanics(t *testing.T) {
	Seal()
	assert.Panics(t, func() {
		Register("late", createDoneTool, &ToolMeta{Name: "late"})
	})
}

func TestProviderUnknownAndDisallowed(t *testing.T) {
	p, _, _ := setup(t, nil)

	_, err := p.Get("shell")
	assert.ErrorIs(t, err, ErrUnknownTool)
	_, err = p.Get(ToolApplyWhole)
	assert.ErrorIs(t, err, ErrUnknownTool)
	assert.False(t, p.Allowed(ToolApplyWhole))

	defs := p.Definitions()
	require.Len(t, defs, 9)
	assert.Equal(t, ToolApplyBlock, defs[0].Name)
	assert.Contains(t, p.GenerateToolDocumentation(), "**done**")
}

func TestApplyBlock(t *testing.T) {
	p, session, root := setup(t, map[string]string{"main.go": "package main\n\nfunc main() {}\n"})

	res := run(t, p, ToolApplyBlock, map[string]any{
		"content": "main.go\n<<<<<<< SEARCH\nfunc main() {}\n=======\nfunc main() { println(1) }\n>>>>>>> REPLACE\n",
	})
	assert.False(t, res.IsError, res.Content)
	require.Len(t, res.Outcomes, 1)
	assert.Equal(t, edit.StatusApplied, res.Outcomes[0].Status)
	assert.Equal(t, true, decode(t, res)["success"])

	data, err := os.ReadFile(filepath.Join(root, "main.go"))
	require.NoError(t, err)
	assert.Equal(t, "package main\n\nfunc main() { println(1) }\n", string(data))
	assert.Equal(t, []string{"main.go"}, session.uncommitted)
}

func TestApplyBlockMalformed(t *testing.T) {
	p, _, root := setup(t, map[string]string{"a.txt": "x\nx\n"})

	res := run(t, p, ToolApplyBlock, map[string]any{
		"content": "a.txt\n<<<<<<< SEARCH\nx\n=======\ny\n>>>>>>> REPLACE\n",
	})
	assert.True(t, res.IsError)
	assert.Equal(t, edit.ReasonAmbiguousMatch, edit.ReasonOf(res.Err))
	assert.Equal(t, "ambiguous_match", decode(t, res)["reason"])

	data, err := os.ReadFile(filepath.Join(root, "a.txt"))
	require.NoError(t, err)
	assert.Equal(t, "x\nx\n", string(data))

	empty := run(t, p, ToolApplyBlock, map[string]any{})
	assert.Equal(t, edit.ReasonEmptyResponse, edit.ReasonOf(empty.Err))
}

func TestApplyEditRejectedOutcomeCarriesError(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "a.txt"), []byte("a\nb\nc\n"), 0o644))
	ws, err := applier.NewWorkspace(root, true)
	require.NoError(t, err)
	tool, err := NewApplyEditTool(codec.FormatUDiff, applier.New(ws, applier.Options{}), &fakeSession{ws: ws})
	require.NoError(t, err)

	res, err := tool.Apply(context.Background(), "--- a/a.txt\n+++ b/a.txt\n@@ -1,2 +1,2 @@\n a\n-b\n+B\n@@ -5,1 +5,1 @@\n-zzz\n+ZZZ\n")
	require.NoError(t, err)
	assert.True(t, res.IsError)
	require.Len(t, res.Outcomes, 1)
	assert.Equal(t, edit.StatusRejected, res.Outcomes[0].Status)
	assert.Equal(t, edit.ReasonPartialApply, edit.ReasonOf(res.Err))

	_, err = NewApplyEditTool(codec.FormatAsk, nil, nil)
	assert.Error(t, err)
}

func TestSelectContextAndReadFile(t *testing.T) {
	p, session, _ := setup(t, map[string]string{
		"pkg/a.go": "package pkg\n\nfunc A() {}\n",
		"pkg/b.go": "package pkg\n",
		"README":   "readme\n",
	})

	res := run(t, p, ToolSelectContext, map[string]any{"paths": []any{"pkg/*.go"}})
	assert.False(t, res.IsError, res.Content)
	assert.Equal(t, []string{"pkg/a.go", "pkg/b.go"}, session.context)

	res = run(t, p, ToolSelectContext, map[string]any{"content": "- missing/file.go\n"})
	assert.True(t, res.IsError)

	res = run(t, p, ToolReadFile, map[string]any{"path": "pkg/a.go", "offset": float64(3), "limit": float64(1)})
	out := decode(t, res)
	assert.Equal(t, "     3\tfunc A() {}\n", out["content"])
	assert.Equal(t, float64(3), out["total_lines"])
	assert.Equal(t, false, out["truncated"])

	res = run(t, p, ToolReadFile, map[string]any{"path": "../outside"})
	assert.True(t, res.IsError)
	assert.ErrorIs(t, res.Err, edit.ErrPathEscape)
}

func TestListFilesAndSearch(t *testing.T) {
	p, _, _ := setup(t, map[string]string{
		".gitignore":  "gen/\n",
		"cmd/main.go": "package main\n// TODO wire flags\n",
		"pkg/x.go":    "package pkg\n// TODO tests\n",
		"gen/z.go":    "// TODO generated\n",
		"notes.md":    "TODO docs\n",
	})

	res := run(t, p, ToolListFiles, map[string]any{"pattern": "**/*.go"})
	assert.Equal(t, []any{"cmd/main.go", "pkg/x.go"}, decode(t, res)["files"])

	res = run(t, p, ToolSearch, map[string]any{"query": "TODO", "glob": "**/*.go"})
	assert.Equal(t, []any{"cmd/main.go:2: // TODO wire flags", "pkg/x.go:2: // TODO tests"}, decode(t, res)["matches"])

	res = run(t, p, ToolSearch, map[string]any{"query": "("})
	assert.True(t, res.IsError)
}

func TestRepoMapTool(t *testing.T) {
	p, _, _ := setup(t, map[string]string{"svc/server.go": "package svc\n\nfunc Serve() {}\n"})
	res := run(t, p, ToolRepoMap, map[string]any{"query": "Serve"})
	assert.Contains(t, decode(t, res)["map"], "svc/server.go:")
}

func TestDoneSignals(t *testing.T) {
	p, _, _ := setup(t, nil)
	res := run(t, p, ToolDone, map[string]any{"summary": "renamed handler"})
	require.NotNil(t, res.ProcessEffect)
	assert.Equal(t, SignalDone, res.ProcessEffect.Signal)

	res = run(t, p, ToolDone, map[string]any{})
	assert.True(t, res.IsError)
	assert.Nil(t, res.ProcessEffect)
}

func TestGitTools(t *testing.T) {
	p, _, _ := setup(t, nil)
	res := run(t, p, ToolGitCommit, map[string]any{"message": "x"})
	assert.True(t, res.IsError)

	root := t.TempDir()
	repo, err := vcs.Open(root, true, vcs.Author{})
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(root, "a.txt"), []byte("a\n"), 0o644))
	session := &fakeSession{uncommitted: []string{"a.txt"}}

	commit := NewGitCommitTool(repo, session)
	res, err = commit.Exec(context.Background(), map[string]any{"message": "add a"})
	require.NoError(t, err)
	assert.False(t, res.IsError, res.Content)
	require.Len(t, session.committed, 1)
	assert.Empty(t, session.uncommitted)

	require.NoError(t, os.WriteFile(filepath.Join(root, "a.txt"), []byte("b\n"), 0o644))
	diff := NewGitDiffTool(repo, 0)
	res, err = diff.Exec(context.Background(), map[string]any{})
	require.NoError(t, err)
	assert.Contains(t, decode(t, res)["diff"], "+b")
}
