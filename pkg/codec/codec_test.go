package codec

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rework/pkg/edit"
)

const mainGo = `package main

import "fmt"

func greet(name string) string {
	return "hello " + name
}

func main() {
	fmt.Println(greet("world"))
}
`

func snapshot() Snapshot {
	return NewSnapshot(map[string]string{"cmd/app/main.go": mainGo, "README.md": "# app\n"}, "go.mod")
}

func applyTo(t *testing.T, snap Snapshot, edits []edit.FileEdit) map[string]string {
	t.Helper()
	out := map[string]string{}
	for _, e := range edits {
		_, after, err := preview(e, snap)
		require.NoError(t, err)
		out[e.Path] = after
	}
	return out
}

func TestLookupAndParseFormat(t *testing.T) {
	for _, f := range Formats() {
		c, err := Lookup(f)
		require.NoError(t, err)
		assert.Equal(t, f, c.Format())
		assert.NotEmpty(t, c.Instructions())
	}

	_, err := ParseFormat("yaml-diff")
	assert.True(t, errors.Is(err, ErrUnknownFormat))

	f, err := ParseFormat(" UDiff ")
	require.NoError(t, err)
	assert.Equal(t, FormatUDiff, f)
	assert.True(t, f.ProducesEdits())
	assert.False(t, FormatAsk.ProducesEdits())
}

func TestEditBlockAndUnifiedDiffAgree(t *testing.T) {
	snap := snapshot()

	block := "cmd/app/main.go\n" +
		"```go\n" +
		"<<<<<<< SEARCH\n" +
		"\treturn \"hello \" + name\n" +
		"=======\n" +
		"\treturn \"hi \" + name\n" +
		">>>>>>> REPLACE\n" +
		"```\n"

	udiff := "```diff\n" +
		"--- a/cmd/app/main.go\n" +
		"+++ b/cmd/app/main.go\n" +
		"@@ -5,3 +5,3 @@\n" +
		" func greet(name string) string {\n" +
		"-\treturn \"hello \" + name\n" +
		"+\treturn \"hi \" + name\n" +
		" }\n" +
		"```\n"

	blockRes, err := editBlock{}.Parse(block, snap)
	require.NoError(t, err)
	diffRes, err := unifiedDiff{}.Parse(udiff, snap)
	require.NoError(t, err)
	assert.Empty(t, diffRes.Warnings)

	fromBlock := applyTo(t, snap, blockRes.Edits)
	fromDiff := applyTo(t, snap, diffRes.Edits)
	assert.Equal(t, fromBlock, fromDiff)
	assert.Contains(t, fromBlock["cmd/app/main.go"], `return "hi " + name`)
}

func TestWholeFileMissingFilename(t *testing.T) {
	resp := "Here is the new version:\n\n```go\npackage main\n```\n"

	_, err := wholeFile{}.Parse(resp, snapshot())
	require.Error(t, err)
	assert.Equal(t, edit.ReasonMissingFilename, edit.ReasonOf(err))
}

func TestWholeFileParse(t *testing.T) {
	resp := "Update the readme.\n\nREADME.md\n```markdown\n# app\n\nUsage notes.\n```\n\n" +
		"```go internal/new.go\npackage internal\n```\n"

	res, err := wholeFile{}.Parse(resp, snapshot())
	require.NoError(t, err)
	require.Len(t, res.Edits, 2)

	assert.Equal(t, "README.md", res.Edits[0].Path)
	assert.Equal(t, edit.KindReplace, res.Edits[0].Kind)
	assert.Equal(t, "# app\n\nUsage notes.\n", res.Edits[0].Content)

	assert.Equal(t, "internal/new.go", res.Edits[1].Path)
	assert.Equal(t, edit.KindCreate, res.Edits[1].Kind)
	assert.Equal(t, "Update the readme.", res.Text)
}

func TestWholeFileUnterminated(t *testing.T) {
	_, err := wholeFile{}.Parse("main.go\n```go\npackage main\n", snapshot())
	assert.Equal(t, edit.ReasonUnterminatedBlock, edit.ReasonOf(err))
}

func TestEditBlockAmbiguousFailsParse(t *testing.T) {
	snap := NewSnapshot(map[string]string{"a.txt": "x\ny\nx\n"})
	resp := "a.txt\n<<<<<<< SEARCH\nx\n=======\nz\n>>>>>>> REPLACE\n"

	_, err := editBlock{}.Parse(resp, snap)
	assert.Equal(t, edit.ReasonAmbiguousMatch, edit.ReasonOf(err))
}

func TestEditBlockCreateAndResolve(t *testing.T) {
	resp := "docs/NOTES.md\n<<<<<<< SEARCH\n=======\nnotes\n>>>>>>> REPLACE\n\n" +
		"main.go\n<<<<<<< SEARCH\nfunc main() {\n=======\nfunc main() { // entry\n>>>>>>> REPLACE\n"

	res, err := editBlock{}.Parse(resp, snapshot())
	require.NoError(t, err)
	require.Len(t, res.Edits, 2)
	assert.Equal(t, edit.KindCreate, res.Edits[0].Kind)
	assert.Equal(t, "notes\n", res.Edits[0].Content)
	assert.Equal(t, "cmd/app/main.go", res.Edits[1].Path)
	require.Len(t, res.Warnings, 1)
	assert.Contains(t, res.Warnings[0].Message, "resolved to existing file")
}

func TestEditBlockMissingFile(t *testing.T) {
	resp := "nope/missing.go\n<<<<<<< SEARCH\nfoo\n=======\nbar\n>>>>>>> REPLACE\n"
	_, err := editBlock{}.Parse(resp, snapshot())
	assert.Equal(t, edit.ReasonMissingFile, edit.ReasonOf(err))
}

func TestEditBlockNoFilename(t *testing.T) {
	resp := "<<<<<<< SEARCH\nfoo\n=======\nbar\n>>>>>>> REPLACE\n"
	_, err := editBlock{}.Parse(resp, snapshot())
	assert.Equal(t, edit.ReasonMissingFilename, edit.ReasonOf(err))
}

func TestUnifiedDiffPartialHunkWarns(t *testing.T) {
	resp := "--- a/README.md\n+++ b/README.md\n@@ -1,1 +1,1 @@\n-# app\n+# App\n@@ -9,1 +9,1 @@\n-missing line\n+other\n"

	res, err := unifiedDiff{}.Parse(resp, snapshot())
	require.NoError(t, err)
	require.Len(t, res.Edits, 1)
	assert.Len(t, res.Edits[0].Hunks, 2)
	require.Len(t, res.Warnings, 1)
	assert.Equal(t, 1, res.Warnings[0].Hunk)
}

func TestUnifiedDiffCreateDeleteAndBadHeader(t *testing.T) {
	resp := "--- /dev/null\n+++ b/new.txt\n@@ -0,0 +1,2 @@\n+one\n+two\n" +
		"--- a/README.md\n+++ /dev/null\n@@ -1 +0,0 @@\n-# app\n"

	res, err := unifiedDiff{}.Parse(resp, snapshot())
	require.NoError(t, err)
	require.Len(t, res.Edits, 2)
	assert.Equal(t, edit.FileEdit{Path: "new.txt", Kind: edit.KindCreate, Content: "one\ntwo\n", Source: "udiff"}, res.Edits[0])
	assert.Equal(t, edit.KindDelete, res.Edits[1].Kind)

	_, err = unifiedDiff{}.Parse("--- a/x.go\n+++ b/x.go\n@@ -a +b @@\n", snapshot())
	assert.Equal(t, edit.ReasonBadHunkHeader, edit.ReasonOf(err))
}

func TestUnifiedDiffPureInsertion(t *testing.T) {
	snap := NewSnapshot(map[string]string{"f.txt": "a\nb\nc\n"})
	resp := "--- a/f.txt\n+++ b/f.txt\n@@ -0,0 +1,1 @@\n+top\n@@ -2,0 +4,1 @@\n+mid\n"

	res, err := unifiedDiff{}.Parse(resp, snap)
	require.NoError(t, err)
	assert.Empty(t, res.Warnings)
	require.Len(t, res.Edits, 1)
	assert.Equal(t, []edit.Hunk{
		{Replace: "top\n", Line: 1},
		{Replace: "mid\n", Line: 3},
	}, res.Edits[0].Hunks)
	assert.Equal(t, "top\na\nb\nmid\nc\n", applyTo(t, snap, res.Edits)["f.txt"])

	applied := NewSnapshot(map[string]string{"f.txt": "top\na\nb\nmid\nc\n"})
	res, err = unifiedDiff{}.Parse(resp, applied)
	require.NoError(t, err)
	require.NotEmpty(t, res.Warnings)
	assert.Equal(t, 0, res.Warnings[0].Hunk)
}

func TestUnifiedDiffNoNewlineAtEOF(t *testing.T) {
	snap := NewSnapshot(map[string]string{"f.txt": "a\nb"})
	edits := []edit.FileEdit{{Path: "f.txt", Kind: edit.KindReplace, Content: "a\nc"}}

	rendered := unifiedDiff{}.Render(edits, snap)
	assert.Contains(t, rendered, "\\ No newline at end of file")

	res, err := unifiedDiff{}.Parse(rendered, snap)
	require.NoError(t, err)
	assert.Empty(t, res.Warnings)
	assert.Equal(t, "a\nc", applyTo(t, snap, res.Edits)["f.txt"])

	res, err = unifiedDiff{}.Parse("--- /dev/null\n+++ b/n.txt\n@@ -0,0 +1 @@\n+x\n\\ No newline at end of file\n", snap)
	require.NoError(t, err)
	require.Len(t, res.Edits, 1)
	assert.Equal(t, "x", res.Edits[0].Content)
}

func TestUnifiedDiffStopsAtHeaderCounts(t *testing.T) {
	resp := "--- a/README.md\n+++ b/README.md\n@@ -1 +1 @@\n-# app\n+# App\n- note: only the heading changed\n"

	res, err := unifiedDiff{}.Parse(resp, snapshot())
	require.NoError(t, err)
	assert.Empty(t, res.Warnings)
	require.Len(t, res.Edits, 1)
	assert.Equal(t, []edit.Hunk{{Search: "# app\n", Replace: "# App\n", Line: 1}}, res.Edits[0].Hunks)
	assert.Equal(t, "- note: only the heading changed", res.Text)
}

func TestEditBlockEmptySearchReapplyFails(t *testing.T) {
	snap := NewSnapshot(map[string]string{"notes.md": "# notes\ntail\n"})
	resp := "notes.md\n<<<<<<< SEARCH\n=======\ntail\n>>>>>>> REPLACE\n"

	_, err := editBlock{}.Parse(resp, snap)
	assert.Equal(t, edit.ReasonAmbiguousMatch, edit.ReasonOf(err))
}

func TestPatchEnvelope(t *testing.T) {
	resp := "*** Begin Patch\n" +
		"*** Update File: cmd/app/main.go\n" +
		"@@ func greet(name string) string {\n" +
		"-\treturn \"hello \" + name\n" +
		"+\treturn \"hey \" + name\n" +
		"*** Add File: docs/usage.md\n" +
		"+# Usage\n" +
		"*** Delete File: README.md\n" +
		"*** End Patch\n"

	res, err := patchEnvelope{}.Parse(resp, snapshot())
	require.NoError(t, err)
	require.Len(t, res.Edits, 3)
	assert.Equal(t, edit.KindHunk, res.Edits[0].Kind)
	assert.Equal(t, edit.KindCreate, res.Edits[1].Kind)
	assert.Equal(t, "# Usage\n", res.Edits[1].Content)
	assert.Equal(t, edit.KindDelete, res.Edits[2].Kind)

	out := applyTo(t, snapshot(), res.Edits[:1])
	assert.Contains(t, out["cmd/app/main.go"], `return "hey " + name`)

	_, err = patchEnvelope{}.Parse("*** Begin Patch\n*** Delete File: README.md\n", snapshot())
	assert.Equal(t, edit.ReasonUnterminatedBlock, edit.ReasonOf(err))
}

func TestContextSelect(t *testing.T) {
	resp := "I need these:\n- `cmd/**/*.go`\n- README.md\n- missing/file.go\n"

	res, err := contextSelect{}.Parse(resp, snapshot())
	require.NoError(t, err)
	assert.Equal(t, []string{"cmd/app/main.go", "README.md"}, res.ContextPaths)
	assert.Empty(t, res.Edits)
	require.Len(t, res.Warnings, 1)
	assert.Equal(t, "missing/file.go", res.Warnings[0].Path)
}

func TestArchitectAndPassThrough(t *testing.T) {
	res, err := architect{}.Parse("  Change greet to say hi.  ", snapshot())
	require.NoError(t, err)
	assert.Equal(t, "Change greet to say hi.", res.Narrative)
	assert.Empty(t, res.Edits)

	_, err = architect{}.Parse("   ", snapshot())
	assert.Equal(t, edit.ReasonEmptyResponse, edit.ReasonOf(err))

	c, err := Lookup(FormatAsk)
	require.NoError(t, err)
	res, err = c.Parse("It prints a greeting.", snapshot())
	require.NoError(t, err)
	assert.Equal(t, "It prints a greeting.", res.Text)
	assert.Empty(t, res.Edits)
}

func TestRenderRoundTrip(t *testing.T) {
	snap := snapshot()
	edits := []edit.FileEdit{{
		Path:  "cmd/app/main.go",
		Kind:  edit.KindHunk,
		Hunks: []edit.Hunk{{Search: "\treturn \"hello \" + name\n", Replace: "\treturn \"yo \" + name\n"}},
	}}
	want := applyTo(t, snap, edits)

	for _, f := range []Format{FormatBlock, FormatUDiff, FormatPatch, FormatWhole} {
		c, err := Lookup(f)
		require.NoError(t, err)
		rendered := c.Render(edits, snap)
		require.NotEmpty(t, rendered, f)

		res, err := c.Parse(rendered, snap)
		require.NoError(t, err, f)
		assert.Equal(t, want, applyTo(t, snap, res.Edits), f)
	}
}

func TestRenderDiffAndStat(t *testing.T) {
	before := "a\nb\nc\n"
	after := "a\nB\nc\nd\n"

	diff := RenderDiff("f.txt", before, after)
	assert.Equal(t, "--- a/f.txt\n+++ b/f.txt\n@@ -1,3 +1,4 @@\n a\n-b\n+B\n c\n+d\n", diff)
	assert.Empty(t, RenderDiff("f.txt", before, before))

	added, removed := DiffStat(before, after)
	assert.Equal(t, 2, added)
	assert.Equal(t, 1, removed)
}
