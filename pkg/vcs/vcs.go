// Package vcs records applied edits in git: commit, diff and undo.
package vcs

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/format/index"
	"github.com/go-git/go-git/v5/plumbing/object"

	"rework/pkg/codec"
	"rework/pkg/logx"
)

var (
	// ErrNotRepository is returned when the workspace is not inside a git repository.
	ErrNotRepository = errors.New("not a git repository")
	// ErrNothingToCommit is returned when the given paths carry no changes.
	ErrNothingToCommit = errors.New("nothing to commit")
	// ErrNotHead is returned when undoing a commit other than HEAD.
	ErrNotHead = errors.New("only the most recent commit can be undone")
	// ErrDirty is returned when undo would overwrite uncommitted changes.
	ErrDirty = errors.New("files have uncommitted changes")
)

// VCS is the version-control surface the orchestrator needs.
type VCS interface {
	StageAndCommit(ctx context.Context, paths []string, message string) (string, error)
	DiffSince(ctx context.Context, commitID string) (string, error)
	Undo(ctx context.Context, commitID string) error
	Head(ctx context.Context) (string, error)
}

// Author identifies commits made on the user's behalf.
type Author struct {
	Name  string
	Email string
}

// GitRepo implements VCS with go-git. Paths are relative to the workspace,
// which may be a subdirectory of the repository.
type GitRepo struct {
	repo   *git.Repository
	prefix string // workspace path relative to the repository root, slash form
	author Author
	logger *logx.Logger
}

// Open finds the repository containing workspace. With initialize set, a new
// repository is created at workspace when none exists.
func Open(workspace string, initialize bool, author Author) (*GitRepo, error) {
	abs, err := filepath.Abs(workspace)
	if err != nil {
		return nil, err
	}
	repo, err := git.PlainOpenWithOptions(abs, &git.PlainOpenOptions{DetectDotGit: true})
	if errors.Is(err, git.ErrRepositoryNotExists) {
		if !initialize {
			return nil, fmt.Errorf("%w: %s", ErrNotRepository, abs)
		}
		repo, err = git.PlainInit(abs, false)
	}
	if err != nil {
		return nil, fmt.Errorf("open repository at %s: %w", abs, err)
	}

	wt, err := repo.Worktree()
	if err != nil {
		return nil, fmt.Errorf("open worktree: %w", err)
	}
	root := wt.Filesystem.Root()
	if resolved, err := filepath.EvalSymlinks(root); err == nil {
		root = resolved
	}
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		abs = resolved
	}
	prefix, err := filepath.Rel(root, abs)
	if err != nil {
		return nil, err
	}
	prefix = filepath.ToSlash(prefix)
	if prefix == "." {
		prefix = ""
	}

	if author.Name == "" {
		author.Name = "rework"
	}
	if author.Email == "" {
		author.Email = "rework@localhost"
	}
	return &GitRepo{repo: repo, prefix: prefix, author: author, logger: logx.NewLogger("vcs")}, nil
}

func (g *GitRepo) repoPath(rel string) string {
	rel = filepath.ToSlash(filepath.Clean(rel))
	if g.prefix == "" {
		return rel
	}
	return g.prefix + "/" + rel
}

func (g *GitRepo) workspacePath(repoPath string) string {
	if g.prefix == "" {
		return repoPath
	}
	return strings.TrimPrefix(repoPath, g.prefix+"/")
}

// StageAndCommit stages paths (additions, modifications and deletions) and
// commits them, returning the new commit hash.
func (g *GitRepo) StageAndCommit(ctx context.Context, paths []string, message string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	wt, err := g.repo.Worktree()
	if err != nil {
		return "", err
	}
	root := wt.Filesystem.Root()

	for _, p := range paths {
		rp := g.repoPath(p)
		if _, statErr := os.Stat(filepath.Join(root, filepath.FromSlash(rp))); errors.Is(statErr, os.ErrNotExist) {
			if _, err := wt.Remove(rp); err != nil && !errors.Is(err, index.ErrEntryNotFound) {
				return "", fmt.Errorf("stage removal of %s: %w", p, err)
			}
			continue
		}
		if _, err := wt.Add(rp); err != nil {
			return "", fmt.Errorf("stage %s: %w", p, err)
		}
	}

	hash, err := wt.Commit(message, &git.CommitOptions{
		Author: &object.Signature{Name: g.author.Name, Email: g.author.Email, When: time.Now()},
	})
	if errors.Is(err, git.ErrEmptyCommit) {
		return "", ErrNothingToCommit
	}
	if err != nil {
		return "", fmt.Errorf("commit: %w", err)
	}
	g.logger.Info("Committed %d paths as %s", len(paths), hash.String()[:8])
	return hash.String(), nil
}

// Head returns the current commit hash, or "" for a repository without commits.
func (g *GitRepo) Head(_ context.Context) (string, error) {
	ref, err := g.repo.Head()
	if errors.Is(err, plumbing.ErrReferenceNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return ref.Hash().String(), nil
}

func (g *GitRepo) headCommit() (*object.Commit, error) {
	ref, err := g.repo.Head()
	if errors.Is(err, plumbing.ErrReferenceNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return g.repo.CommitObject(ref.Hash())
}

// DiffSince renders committed changes from commitID to HEAD followed by
// uncommitted workspace changes. An empty commitID diffs only uncommitted work.
func (g *GitRepo) DiffSince(ctx context.Context, commitID string) (string, error) {
	head, err := g.headCommit()
	if err != nil {
		return "", err
	}

	var b strings.Builder
	if commitID != "" && head != nil && commitID != head.Hash.String() {
		from, err := g.repo.CommitObject(plumbing.NewHash(commitID))
		if err != nil {
			return "", fmt.Errorf("find commit %s: %w", commitID, err)
		}
		fromTree, err := from.Tree()
		if err != nil {
			return "", err
		}
		headTree, err := head.Tree()
		if err != nil {
			return "", err
		}
		patch, err := fromTree.PatchContext(ctx, headTree)
		if err != nil {
			return "", err
		}
		b.WriteString(patch.String())
	}

	pending, err := g.uncommitted(ctx, head)
	if err != nil {
		return "", err
	}
	b.WriteString(pending)
	return b.String(), nil
}

func (g *GitRepo) uncommitted(ctx context.Context, head *object.Commit) (string, error) {
	wt, err := g.repo.Worktree()
	if err != nil {
		return "", err
	}
	status, err := wt.Status()
	if err != nil {
		return "", err
	}
	var headTree *object.Tree
	if head != nil {
		if headTree, err = head.Tree(); err != nil {
			return "", err
		}
	}

	paths := make([]string, 0, len(status))
	for p, st := range status {
		if st.Worktree == git.Unmodified && st.Staging == git.Unmodified {
			continue
		}
		if g.prefix != "" && !strings.HasPrefix(p, g.prefix+"/") {
			continue
		}
		paths = append(paths, p)
	}
	sort.Strings(paths)

	var b strings.Builder
	root := wt.Filesystem.Root()
	for _, p := range paths {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		var before string
		if headTree != nil {
			if f, err := headTree.File(p); err == nil {
				before, _ = f.Contents()
			}
		}
		data, err := os.ReadFile(filepath.Join(root, filepath.FromSlash(p)))
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return "", err
		}
		b.WriteString(codec.RenderDiff(g.workspacePath(p), before, string(data)))
	}
	return b.String(), nil
}

// Undo reverts commitID, which must be HEAD. Files it touched are restored to
// the parent's content and HEAD moves back one commit.
func (g *GitRepo) Undo(ctx context.Context, commitID string) error {
	head, err := g.headCommit()
	if err != nil {
		return err
	}
	if head == nil || head.Hash.String() != commitID {
		return ErrNotHead
	}
	if head.NumParents() == 0 {
		return errors.New("cannot undo the initial commit")
	}
	parent, err := head.Parent(0)
	if err != nil {
		return err
	}
	parentTree, err := parent.Tree()
	if err != nil {
		return err
	}
	headTree, err := head.Tree()
	if err != nil {
		return err
	}
	changes, err := object.DiffTreeWithOptions(ctx, parentTree, headTree, object.DefaultDiffTreeOptions)
	if err != nil {
		return err
	}

	wt, err := g.repo.Worktree()
	if err != nil {
		return err
	}
	status, err := wt.Status()
	if err != nil {
		return err
	}
	touched := map[string]bool{}
	for _, c := range changes {
		for _, name := range []string{c.From.Name, c.To.Name} {
			if name == "" {
				continue
			}
			if st := status.File(name); st.Worktree != git.Unmodified && st.Worktree != git.Untracked {
				return fmt.Errorf("%w: %s", ErrDirty, g.workspacePath(name))
			}
			touched[name] = true
		}
	}

	root := wt.Filesystem.Root()
	for name := range touched {
		abs := filepath.Join(root, filepath.FromSlash(name))
		f, err := parentTree.File(name)
		if errors.Is(err, object.ErrFileNotFound) {
			if err := os.Remove(abs); err != nil && !errors.Is(err, os.ErrNotExist) {
				return err
			}
			continue
		}
		if err != nil {
			return err
		}
		content, err := f.Contents()
		if err != nil {
			return err
		}
		if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
			return err
		}
		if err := os.WriteFile(abs, []byte(content), 0o644); err != nil {
			return err
		}
	}

	if err := wt.Reset(&git.ResetOptions{Commit: parent.Hash, Mode: git.MixedReset}); err != nil {
		return fmt.Errorf("reset to %s: %w", parent.Hash.String()[:8], err)
	}
	g.logger.Info("Undid commit %s (%d files)", commitID[:8], len(touched))
	return nil
}
