// Package codec turns model responses into structured file edits, one codec per
// edit format, and renders edits back into each format's prompt-visible form.
//
// Parsing is pure: a codec sees only the response text and an in-memory
// Snapshot of the workspace, never the file system or the network.
package codec

import (
	"errors"
	"fmt"
	"path"
	"sort"
	"strings"

	"rework/pkg/edit"
)

// Format names an edit grammar. The set is closed.
type Format string

const (
	FormatWhole     Format = "whole"
	FormatBlock     Format = "block"
	FormatUDiff     Format = "udiff"
	FormatPatch     Format = "patch"
	FormatContext   Format = "context"
	FormatArchitect Format = "architect"
	FormatAsk       Format = "ask"
	FormatHelp      Format = "help"
)

// ErrUnknownFormat is returned for names outside the closed format set.
var ErrUnknownFormat = errors.New("unknown edit format")

// ProducesEdits reports whether responses in this format carry file edits.
func (f Format) ProducesEdits() bool {
	switch f {
	case FormatWhole, FormatBlock, FormatUDiff, FormatPatch:
		return true
	default:
		return false
	}
}

// ParseFormat validates a format name.
func ParseFormat(s string) (Format, error) {
	f := Format(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := registry[f]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownFormat, s)
	}
	return f, nil
}

// Result is everything a codec extracts from one response.
//
//nolint:govet // fieldalignment: readability over packing
type Result struct {
	Edits        []edit.FileEdit
	Warnings     []edit.Warning
	ContextPaths []string
	Narrative    string
	Text         string
}

// Codec parses and renders one edit format.
type Codec interface {
	Format() Format
	Parse(response string, snap Snapshot) (*Result, error)
	Render(edits []edit.FileEdit, snap Snapshot) string
	Instructions() string
}

var registry = map[Format]Codec{
	FormatWhole:     wholeFile{},
	FormatBlock:     editBlock{},
	FormatUDiff:     unifiedDiff{},
	FormatPatch:     patchEnvelope{},
	FormatContext:   contextSelect{},
	FormatArchitect: architect{},
	FormatAsk:       passThrough{format: FormatAsk},
	FormatHelp:      passThrough{format: FormatHelp},
}

// Lookup returns the codec for f.
func Lookup(f Format) (Codec, error) {
	c, ok := registry[f]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownFormat, f)
	}
	return c, nil
}

// Formats lists every supported format in stable order.
func Formats() []Format {
	out := make([]Format, 0, len(registry))
	for f := range registry {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Snapshot is a read-only view of workspace files handed to Parse. Known paths
// may exist without loaded content when the caller chose not to read them.
type Snapshot struct {
	files map[string]string
	known map[string]bool
	fuzz  int
}

// NewSnapshot copies files into a snapshot. Extra paths are recorded as
// existing without content.
func NewSnapshot(files map[string]string, paths ...string) Snapshot {
	s := Snapshot{
		files: make(map[string]string, len(files)),
		known: make(map[string]bool, len(files)+len(paths)),
		fuzz:  DefaultFuzzLines,
	}
	for p, c := range files {
		p = cleanPath(p)
		s.files[p] = c
		s.known[p] = true
	}
	for _, p := range paths {
		s.known[cleanPath(p)] = true
	}
	return s
}

// DefaultFuzzLines is how far a diff hunk may drift from its header position.
const DefaultFuzzLines = 2

// WithFuzz returns a copy of s using n lines of hunk position tolerance.
func (s Snapshot) WithFuzz(n int) Snapshot {
	if n < 0 {
		n = 0
	}
	s.fuzz = n
	return s
}

func (s Snapshot) Fuzz() int { return s.fuzz }

// Has reports whether path exists in the workspace.
func (s Snapshot) Has(p string) bool {
	return s.known[cleanPath(p)]
}

// Content returns the loaded content of path.
func (s Snapshot) Content(p string) (string, bool) {
	c, ok := s.files[cleanPath(p)]
	return c, ok
}

// Paths returns every known path, sorted.
func (s Snapshot) Paths() []string {
	out := make([]string, 0, len(s.known))
	for p := range s.known {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

func cleanPath(p string) string {
	p = strings.TrimSpace(strings.ReplaceAll(p, "\\", "/"))
	if p == "" {
		return ""
	}
	c := path.Clean(p)
	return strings.TrimPrefix(c, "./")
}

// resolve maps a model-supplied path onto a snapshot path. Unknown paths whose
// base name is unique in the snapshot are redirected with a warning.
func resolve(p string, snap Snapshot) (string, *edit.Warning) {
	p = cleanPath(p)
	if p == "" || snap.Has(p) || strings.Contains(p, "..") {
		return p, nil
	}
	base := path.Base(p)
	var match string
	for _, candidate := range snap.Paths() {
		if path.Base(candidate) != base {
			continue
		}
		if match != "" {
			return p, nil
		}
		match = candidate
	}
	if match == "" {
		return p, nil
	}
	return match, &edit.Warning{Path: p, Hunk: -1, Message: "resolved to existing file " + match}
}

// preview computes the before and after content of e against snap.
func preview(e edit.FileEdit, snap Snapshot) (before, after string, err error) {
	before, _ = snap.Content(e.Path)
	switch e.Kind {
	case edit.KindReplace, edit.KindCreate:
		return before, e.Content, nil
	case edit.KindDelete:
		return before, "", nil
	default:
		after, _, err = edit.ApplyHunks(e.Path, before, e.Hunks, snap.fuzz)
		return before, after, err
	}
}
