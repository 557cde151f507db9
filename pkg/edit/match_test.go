package edit

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApplyHunkExact(t *testing.T) {
	content := "package main\n\nfunc a() int {\n\treturn 1\n}\n"
	got, err := ApplyHunk("main.go", content, Hunk{Search: "\treturn 1\n", Replace: "\treturn 2\n"}, 0)
	require.NoError(t, err)
	assert.Equal(t, "package main\n\nfunc a() int {\n\treturn 2\n}\n", got)
}

func TestApplyHunkNormalizedWhitespace(t *testing.T) {
	content := "func a() {\n\t\tif x {   \n\t\t\treturn\n\t\t}\n}\n"
	search := "if x {\n\treturn\n}\n"
	replace := "if y {\n\treturn\n}\n"

	got, err := ApplyHunk("a.go", content, Hunk{Search: search, Replace: replace}, 0)
	require.NoError(t, err)
	assert.Equal(t, "func a() {\n\t\tif y {\n\t\t\treturn\n\t\t}\n}\n", got)
}

func TestApplyHunkAmbiguous(t *testing.T) {
	content := "x := 1\ny := 2\nx := 1\n"

	_, err := ApplyHunk("f.go", content, Hunk{Search: "x := 1\n", Replace: "x := 3\n"}, 0)
	require.Error(t, err)
	var me *MalformedEdit
	require.True(t, errors.As(err, &me))
	assert.Equal(t, ReasonAmbiguousMatch, me.Reason)
	assert.Contains(t, me.Detail, "lines: 1, 3")
}

func TestApplyHunkLineHintDisambiguates(t *testing.T) {
	content := "x := 1\ny := 2\nx := 1\n"

	got, err := ApplyHunk("f.go", content, Hunk{Search: "x := 1\n", Replace: "x := 3\n", Line: 3}, 1)
	require.NoError(t, err)
	assert.Equal(t, "x := 1\ny := 2\nx := 3\n", got)
}

func TestApplyHunkNotFound(t *testing.T) {
	_, err := ApplyHunk("f.go", "a\n", Hunk{Search: "b\n", Replace: "c\n"}, 0)
	assert.Equal(t, ReasonAmbiguousMatch, ReasonOf(err))
}

func TestApplyHunkEmptySearchAppends(t *testing.T) {
	got, err := ApplyHunk("f.txt", "one", Hunk{Replace: "two\n"}, 0)
	require.NoError(t, err)
	assert.Equal(t, "one\ntwo\n", got)
}

func TestApplyHunkInsertAtLine(t *testing.T) {
	top := Hunk{Replace: "top\n", Line: 1}
	got, err := ApplyHunk("f.txt", "a\nb\nc\n", top, 2)
	require.NoError(t, err)
	assert.Equal(t, "top\na\nb\nc\n", got)

	_, err = ApplyHunk("f.txt", got, top, 2)
	assert.Equal(t, ReasonAmbiguousMatch, ReasonOf(err))

	got, err = ApplyHunk("f.txt", "a\nb\nc\n", Hunk{Replace: "mid\n", Line: 3}, 0)
	require.NoError(t, err)
	assert.Equal(t, "a\nb\nmid\nc\n", got)

	got, err = ApplyHunk("f.txt", "a\nb", Hunk{Replace: "end\n", Line: 9}, 0)
	require.NoError(t, err)
	assert.Equal(t, "a\nb\nend\n", got)
}

func TestApplyHunksShiftsLaterInsertions(t *testing.T) {
	hunks := []Hunk{
		{Replace: "top\n", Line: 1},
		{Replace: "after-b\n", Line: 3},
	}
	got, warnings, err := ApplyHunks("f.txt", "a\nb\nc\n", hunks, 0)
	require.NoError(t, err)
	assert.Empty(t, warnings)
	assert.Equal(t, "top\na\nb\nafter-b\nc\n", got)
}

func TestApplyHunksEmptySearchTwiceFails(t *testing.T) {
	hunks := []Hunk{{Replace: "tail\n"}}
	once, _, err := ApplyHunks("f.txt", "a\n", hunks, 0)
	require.NoError(t, err)
	assert.Equal(t, "a\ntail\n", once)

	got, warnings, err := ApplyHunks("f.txt", once, hunks, 0)
	assert.Equal(t, once, got)
	assert.Equal(t, ReasonAmbiguousMatch, ReasonOf(err))
	assert.Len(t, warnings, 1)
}

func TestApplyHunksPartial(t *testing.T) {
	content := "a\nb\nc\n"
	hunks := []Hunk{
		{Search: "a\n", Replace: "A\n"},
		{Search: "zzz\n", Replace: "Z\n"},
	}

	got, warnings, err := ApplyHunks("f.txt", content, hunks, 0)
	assert.Equal(t, content, got)
	assert.Equal(t, ReasonPartialApply, ReasonOf(err))
	require.Len(t, warnings, 1)
	assert.Equal(t, 1, warnings[0].Hunk)
}

func TestApplyHunksAllFailReportsFirstReason(t *testing.T) {
	_, warnings, err := ApplyHunks("f.txt", "a\n", []Hunk{{Search: "q\n"}, {Search: "r\n"}}, 0)
	assert.Equal(t, ReasonAmbiguousMatch, ReasonOf(err))
	assert.Len(t, warnings, 2)
}

func TestApplyHunksSequential(t *testing.T) {
	hunks := []Hunk{
		{Search: "a\n", Replace: "b\n"},
		{Search: "b\nb\n", Replace: "c\n"},
	}
	got, warnings, err := ApplyHunks("f.txt", "a\nb\n", hunks, 0)
	require.NoError(t, err)
	assert.Empty(t, warnings)
	assert.Equal(t, "c\n", got)
}

func TestPathEscapeErrorIs(t *testing.T) {
	err := error(&PathEscapeError{Path: "../../etc/passwd"})
	assert.True(t, errors.Is(err, ErrPathEscape))
	assert.Contains(t, err.Error(), "../../etc/passwd")
}
