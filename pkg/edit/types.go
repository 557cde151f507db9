// Package edit defines the file mutations produced by the codecs and consumed by
// the applier, plus the span matching both sides agree on.
package edit

import (
	"fmt"
	"strings"
)

// Kind classifies a FileEdit.
type Kind int

const (
	KindReplace Kind = iota
	KindHunk
	KindDelete
	KindCreate
)

func (k Kind) String() string {
	switch k {
	case KindReplace:
		return "replace"
	case KindHunk:
		return "hunk"
	case KindDelete:
		return "delete"
	case KindCreate:
		return "create"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Hunk is one search/replace pair. Line is a 1-based position hint from diff
// headers; zero means none. An empty Search inserts Replace before line Line,
// or appends it to the file when Line is zero.
type Hunk struct {
	Search  string
	Replace string
	Line    int
}

// FileEdit is a single validated mutation request for one path.
//
//nolint:govet // fieldalignment: readability over packing
type FileEdit struct {
	Path      string
	Kind      Kind
	Content   string // Replace and Create payload
	Hunks     []Hunk // Hunk payload, applied in order
	Overwrite bool   // Create may replace an existing file
	Source    string // edit format that produced the edit
}

func (e FileEdit) String() string {
	switch e.Kind {
	case KindHunk:
		return fmt.Sprintf("%s %s (%d hunks)", e.Kind, e.Path, len(e.Hunks))
	default:
		return fmt.Sprintf("%s %s", e.Kind, e.Path)
	}
}

// Status is the terminal result of applying one FileEdit.
type Status int

const (
	StatusApplied Status = iota
	StatusRejected
	StatusSkipped
)

func (s Status) String() string {
	switch s {
	case StatusApplied:
		return "applied"
	case StatusRejected:
		return "rejected"
	case StatusSkipped:
		return "skipped"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// Warning is a non-fatal note attached to a parse or apply. Hunk is the
// zero-based hunk index, or -1 when the warning concerns the whole file.
type Warning struct {
	Path    string
	Hunk    int
	Message string
}

func (w Warning) String() string {
	if w.Hunk >= 0 {
		return fmt.Sprintf("%s hunk %d: %s", w.Path, w.Hunk+1, w.Message)
	}
	return fmt.Sprintf("%s: %s", w.Path, w.Message)
}

// Outcome reports what happened to one FileEdit.
//
//nolint:govet // fieldalignment: readability over packing
type Outcome struct {
	Path     string
	Kind     Kind
	Status   Status
	Reason   string
	Err      error
	Warnings []Warning
	Diff     string // rendered change for applied edits
}

// Succeeded is true for applied edits.
func (o Outcome) Succeeded() bool {
	return o.Status == StatusApplied
}

func (o Outcome) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s", o.Status, o.Path)
	if o.Reason != "" {
		fmt.Fprintf(&b, " (%s)", o.Reason)
	}
	return b.String()
}

// Summarize counts outcomes per status.
func Summarize(outcomes []Outcome) (applied, rejected, skipped int) {
	for i := range outcomes {
		switch outcomes[i].Status {
		case StatusApplied:
			applied++
		case StatusRejected:
			rejected++
		case StatusSkipped:
			skipped++
		}
	}
	return applied, rejected, skipped
}
