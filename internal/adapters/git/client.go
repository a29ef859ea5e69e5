// Package git wraps the git CLI for repository queries, commits, and
// worktree management.
package git

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/hugo-lorenzo-mato/foreman/internal/core"
	"github.com/hugo-lorenzo-mato/foreman/internal/logging"
)

const commandTimeout = 2 * time.Minute

// Client executes git commands rooted at one repository.
type Client struct {
	repoDir string
	logger  *logging.Logger
}

// NewClient creates a git client for the repository.
func NewClient(repoDir string, logger *logging.Logger) *Client {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Client{repoDir: repoDir, logger: logger}
}

// RepoDir returns the repository root the client operates on.
func (c *Client) RepoDir() string { return c.repoDir }

// run executes git with args in dir, returning trimmed stdout.
func (c *Client) run(ctx context.Context, dir string, args ...string) (string, error) {
	runCtx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, "git", args...)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(), "TERM=dumb")

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", core.ErrExecution("GIT_COMMAND",
			fmt.Sprintf("git %s: %s", strings.Join(args, " "), strings.TrimSpace(stderr.String()))).
			WithCause(err)
	}
	return strings.TrimSpace(stdout.String()), nil
}

// Run executes git in the repository root.
func (c *Client) Run(ctx context.Context, args ...string) (string, error) {
	return c.run(ctx, c.repoDir, args...)
}

// RunIn executes git in an arbitrary directory (a worktree).
func (c *Client) RunIn(ctx context.Context, dir string, args ...string) (string, error) {
	return c.run(ctx, dir, args...)
}

// IsRepository reports whether the client's directory is version controlled.
func (c *Client) IsRepository(ctx context.Context) bool {
	out, err := c.Run(ctx, "rev-parse", "--is-inside-work-tree")
	return err == nil && out == "true"
}

// Head returns the current commit id.
func (c *Client) Head(ctx context.Context) (string, error) {
	return c.Run(ctx, "rev-parse", "HEAD")
}

// HeadIn returns the commit id checked out in a worktree.
func (c *Client) HeadIn(ctx context.Context, dir string) (string, error) {
	return c.RunIn(ctx, dir, "rev-parse", "HEAD")
}

// IsDirty reports whether a directory has uncommitted changes.
func (c *Client) IsDirty(ctx context.Context, dir string) (bool, error) {
	out, err := c.RunIn(ctx, dir, "status", "--porcelain")
	if err != nil {
		return false, err
	}
	return out != "", nil
}

// StageAll stages every change in a directory.
func (c *Client) StageAll(ctx context.Context, dir string) error {
	_, err := c.RunIn(ctx, dir, "add", "-A")
	return err
}

// Commit records staged changes. With allowEmpty, an empty commit succeeds.
func (c *Client) Commit(ctx context.Context, dir, message string, allowEmpty bool) (string, error) {
	args := []string{"commit", "-m", message}
	if allowEmpty {
		args = append(args, "--allow-empty")
	}
	if _, err := c.RunIn(ctx, dir, args...); err != nil {
		return "", err
	}
	return c.HeadIn(ctx, dir)
}

// ResetHard resets the repository to a commit, discarding local changes.
func (c *Client) ResetHard(ctx context.Context, commit string) error {
	_, err := c.Run(ctx, "reset", "--hard", commit)
	return err
}
