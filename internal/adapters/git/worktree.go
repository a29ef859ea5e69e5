package git

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/hugo-lorenzo-mato/foreman/internal/core"
)

// WorktreeStatus reports a worktree's commit and dirtiness.
type WorktreeStatus struct {
	Path   string
	Commit string
	Dirty  bool
}

// WorktreeManager creates sibling worktrees so N workers can operate on
// one repository without write conflicts. Worktrees live next to the
// project (`<project>-worker-<suffix>`), never inside it.
type WorktreeManager struct {
	client *Client

	mu      sync.Mutex
	tracked map[string]struct{}
}

// NewWorktreeManager creates a worktree manager. The project must be a
// git repository.
func NewWorktreeManager(ctx context.Context, client *Client) (*WorktreeManager, error) {
	if !client.IsRepository(ctx) {
		return nil, core.ErrValidation("NOT_A_REPOSITORY",
			fmt.Sprintf("%s is not a git repository", client.RepoDir()))
	}
	return &WorktreeManager{
		client:  client,
		tracked: make(map[string]struct{}),
	}, nil
}

// Create makes a new worktree at the repository HEAD and tracks it. An
// empty suffix gets a generated one.
func (m *WorktreeManager) Create(ctx context.Context, suffix string) (string, error) {
	if suffix == "" {
		suffix = uuid.NewString()[:8]
	}
	repo := m.client.RepoDir()
	path := filepath.Join(filepath.Dir(repo), filepath.Base(repo)+"-worker-"+suffix)

	head, err := m.client.Head(ctx)
	if err != nil {
		return "", err
	}
	if _, err := m.client.Run(ctx, "worktree", "add", "--detach", path, head); err != nil {
		return "", err
	}

	m.mu.Lock()
	m.tracked[path] = struct{}{}
	m.mu.Unlock()
	return path, nil
}

// Remove deletes a worktree and untracks it.
func (m *WorktreeManager) Remove(ctx context.Context, path string, force bool) error {
	args := []string{"worktree", "remove"}
	if force {
		args = append(args, "--force")
	}
	args = append(args, path)
	if _, err := m.client.Run(ctx, args...); err != nil {
		return err
	}
	m.mu.Lock()
	delete(m.tracked, path)
	m.mu.Unlock()
	return nil
}

// CleanupAll force-removes every tracked worktree and prunes stale
// entries. Individual failures are collected, not fatal.
func (m *WorktreeManager) CleanupAll(ctx context.Context) error {
	m.mu.Lock()
	paths := make([]string, 0, len(m.tracked))
	for p := range m.tracked {
		paths = append(paths, p)
	}
	m.mu.Unlock()

	var errs []string
	for _, p := range paths {
		if err := m.Remove(ctx, p, true); err != nil {
			errs = append(errs, err.Error())
		}
	}
	if _, err := m.client.Run(ctx, "worktree", "prune"); err != nil {
		errs = append(errs, err.Error())
	}
	if len(errs) > 0 {
		return core.ErrExecution("WORKTREE_CLEANUP", strings.Join(errs, "; "))
	}
	return nil
}

// Merge folds a worktree's changes into the main repository: stage all,
// commit (empty-tolerant), cherry-pick into main. An empty cherry-pick is
// recovered by aborting and returning the source commit, so no-op merges
// succeed. Any other cherry-pick failure is an error.
func (m *WorktreeManager) Merge(ctx context.Context, worktreePath, message string) (string, error) {
	if err := m.client.StageAll(ctx, worktreePath); err != nil {
		return "", err
	}
	commit, err := m.client.Commit(ctx, worktreePath, message, true)
	if err != nil {
		return "", err
	}

	if _, err := m.client.Run(ctx, "cherry-pick", commit); err != nil {
		if isEmptyCherryPick(err) {
			if _, abortErr := m.client.Run(ctx, "cherry-pick", "--abort"); abortErr != nil {
				// Nothing to abort when the pick never started.
				_ = abortErr
			}
			return commit, nil
		}
		if strings.Contains(err.Error(), "conflict") {
			return "", core.ErrExecution(core.CodeMergeConflict,
				fmt.Sprintf("cherry-pick of %s conflicts", commit)).WithCause(err)
		}
		return "", err
	}
	return commit, nil
}

// Status reports a worktree's commit id and dirtiness.
func (m *WorktreeManager) Status(ctx context.Context, path string) (*WorktreeStatus, error) {
	commit, err := m.client.HeadIn(ctx, path)
	if err != nil {
		return nil, err
	}
	dirty, err := m.client.IsDirty(ctx, path)
	if err != nil {
		return nil, err
	}
	return &WorktreeStatus{Path: path, Commit: commit, Dirty: dirty}, nil
}

// Tracked returns the currently tracked worktree paths.
func (m *WorktreeManager) Tracked() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.tracked))
	for p := range m.tracked {
		out = append(out, p)
	}
	return out
}

// WithWorktree runs fn inside a fresh worktree and guarantees cleanup,
// succeed or fail.
func (m *WorktreeManager) WithWorktree(ctx context.Context, suffix string, fn func(path string) error) error {
	path, err := m.Create(ctx, suffix)
	if err != nil {
		return err
	}
	defer func() {
		_ = m.Remove(context.WithoutCancel(ctx), path, true)
	}()
	return fn(path)
}

// isEmptyCherryPick detects git's empty-commit refusal messages.
func isEmptyCherryPick(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "empty") ||
		strings.Contains(msg, "nothing to commit")
}
