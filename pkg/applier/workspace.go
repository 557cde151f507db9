package applier

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	ignore "github.com/sabhiram/go-gitignore"

	"rework/pkg/codec"
	"rework/pkg/edit"
)

// IgnoreFile holds workspace-specific ignore rules on top of .gitignore.
const IgnoreFile = ".reworkignore"

// Workspace is the directory tree edits are confined to.
type Workspace struct {
	root   string
	ignore *ignore.GitIgnore
}

// NewWorkspace opens root. When respectIgnore is set, .gitignore and
// .reworkignore rules hide files from listing and from edits.
func NewWorkspace(root string, respectIgnore bool) (*Workspace, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve workspace %s: %w", root, err)
	}
	if real, err := filepath.EvalSymlinks(abs); err == nil {
		abs = real
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("open workspace: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("workspace %s is not a directory", abs)
	}

	w := &Workspace{root: abs}
	if respectIgnore {
		w.ignore = loadIgnoreRules(abs)
	}
	return w, nil
}

func loadIgnoreRules(root string) *ignore.GitIgnore {
	var rules []string
	for _, name := range []string{".gitignore", IgnoreFile} {
		f, err := os.Open(filepath.Join(root, name))
		if err != nil {
			continue
		}
		scanner := bufio.NewScanner(f)
		for scanner.Scan() {
			rules = append(rules, scanner.Text())
		}
		_ = f.Close()
	}
	if len(rules) == 0 {
		return nil
	}
	return ignore.CompileIgnoreLines(rules...)
}

func (w *Workspace) Root() string { return w.root }

// Resolve maps a workspace-relative path to an absolute one. Paths that leave
// the root, lexically or through a symlinked ancestor, fail with ErrPathEscape.
func (w *Workspace) Resolve(rel string) (string, error) {
	if strings.TrimSpace(rel) == "" {
		return "", edit.Malformed(edit.ReasonMissingFilename, "", "empty path")
	}
	var abs string
	if filepath.IsAbs(rel) {
		abs = filepath.Clean(rel)
	} else {
		abs = filepath.Join(w.root, filepath.FromSlash(rel))
	}
	if !w.contains(abs) {
		return "", &edit.PathEscapeError{Path: rel}
	}

	// The deepest existing ancestor must also stay inside after symlink evaluation.
	existing := abs
	for {
		if _, err := os.Lstat(existing); err == nil {
			break
		}
		parent := filepath.Dir(existing)
		if parent == existing {
			break
		}
		existing = parent
	}
	real, err := filepath.EvalSymlinks(existing)
	if err == nil && !w.contains(real) {
		return "", &edit.PathEscapeError{Path: rel}
	}
	return abs, nil
}

func (w *Workspace) contains(abs string) bool {
	return abs == w.root || strings.HasPrefix(abs, w.root+string(filepath.Separator))
}

// Rel converts an absolute path under the root to slash form.
func (w *Workspace) Rel(abs string) string {
	rel, err := filepath.Rel(w.root, abs)
	if err != nil {
		return filepath.ToSlash(abs)
	}
	return filepath.ToSlash(rel)
}

// Ignored reports whether rel is hidden by ignore rules or lives in .git.
func (w *Workspace) Ignored(rel string) bool {
	rel = filepath.ToSlash(filepath.Clean(rel))
	if rel == ".git" || strings.HasPrefix(rel, ".git/") {
		return true
	}
	return w.ignore != nil && w.ignore.MatchesPath(rel)
}

// ReadFile returns the content of rel and whether it exists.
func (w *Workspace) ReadFile(rel string) (string, bool, error) {
	abs, err := w.Resolve(rel)
	if err != nil {
		return "", false, err
	}
	data, err := os.ReadFile(abs)
	if errors.Is(err, fs.ErrNotExist) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("read %s: %w", rel, err)
	}
	return string(data), true, nil
}

// Files lists every non-ignored regular file, sorted, as slash paths.
func (w *Workspace) Files(ctx context.Context) ([]string, error) {
	var out []string
	err := filepath.WalkDir(w.root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil //nolint:nilerr // unreadable entries are skipped
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if p == w.root {
			return nil
		}
		rel := w.Rel(p)
		if d.IsDir() {
			if w.Ignored(rel) || w.Ignored(rel+"/") {
				return filepath.SkipDir
			}
			return nil
		}
		if d.Type().IsRegular() && !w.Ignored(rel) {
			out = append(out, rel)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(out)
	return out, nil
}

const sniffLen = 8000

func isBinary(data []byte) bool {
	return bytes.IndexByte(data[:min(len(data), sniffLen)], 0) >= 0
}

// Snapshot reads the workspace into memory for parsing. Files named in
// priority are loaded first; others are loaded until maxBytes is spent and are
// recorded as existing beyond that. Binary files are never loaded.
func (w *Workspace) Snapshot(ctx context.Context, priority []string, maxBytes int64) (codec.Snapshot, error) {
	files, err := w.Files(ctx)
	if err != nil {
		return codec.Snapshot{}, err
	}
	loaded := make(map[string]string)
	var spent int64
	load := func(rel string, force bool) {
		if _, done := loaded[rel]; done {
			return
		}
		abs, err := w.Resolve(rel)
		if err != nil {
			return
		}
		info, err := os.Stat(abs)
		if err != nil || !info.Mode().IsRegular() {
			return
		}
		if !force && spent+info.Size() > maxBytes {
			return
		}
		data, err := os.ReadFile(abs)
		if err != nil || isBinary(data) {
			return
		}
		spent += int64(len(data))
		loaded[rel] = string(data)
	}
	for _, rel := range priority {
		load(filepath.ToSlash(rel), true)
	}
	for _, rel := range files {
		load(rel, false)
	}
	return codec.NewSnapshot(loaded, files...), nil
}
