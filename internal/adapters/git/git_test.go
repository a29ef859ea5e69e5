package git

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hugo-lorenzo-mato/foreman/internal/core"
)

// initRepo creates a git repository with one commit. Tests that exercise
// real git are skipped when the binary is missing.
func initRepo(t *testing.T) string {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}
	dir := t.TempDir()
	run := func(args ...string) {
		cmd := exec.Command("git", args...)
		cmd.Dir = dir
		out, err := cmd.CombinedOutput()
		require.NoError(t, err, "git %v: %s", args, out)
	}
	run("init")
	run("config", "user.email", "ci@example.com")
	run("config", "user.name", "ci")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.md"), []byte("# demo\n"), 0o644))
	run("add", "-A")
	run("commit", "-m", "initial")
	return dir
}

func TestIsRepository(t *testing.T) {
	ctx := context.Background()
	repo := initRepo(t)

	assert.True(t, NewClient(repo, nil).IsRepository(ctx))
	assert.False(t, NewClient(t.TempDir(), nil).IsRepository(ctx))
}

func TestCommitAndDirty(t *testing.T) {
	ctx := context.Background()
	repo := initRepo(t)
	c := NewClient(repo, nil)

	dirty, err := c.IsDirty(ctx, repo)
	require.NoError(t, err)
	assert.False(t, dirty)

	require.NoError(t, os.WriteFile(filepath.Join(repo, "api.go"), []byte("package api\n"), 0o644))
	dirty, err = c.IsDirty(ctx, repo)
	require.NoError(t, err)
	assert.True(t, dirty)

	require.NoError(t, c.StageAll(ctx, repo))
	commit, err := c.Commit(ctx, repo, "add api", false)
	require.NoError(t, err)
	assert.Len(t, commit, 40)

	head, err := c.Head(ctx)
	require.NoError(t, err)
	assert.Equal(t, commit, head)
}

func TestWorktreeLifecycle(t *testing.T) {
	ctx := context.Background()
	repo := initRepo(t)
	c := NewClient(repo, nil)

	m, err := NewWorktreeManager(ctx, c)
	require.NoError(t, err)

	path, err := m.Create(ctx, "w1")
	require.NoError(t, err)
	assert.Contains(t, path, filepath.Base(repo)+"-worker-w1")
	assert.NotContains(t, path, repo+string(os.PathSeparator), "worktree is a sibling, not nested")
	assert.Equal(t, []string{path}, m.Tracked())

	st, err := m.Status(ctx, path)
	require.NoError(t, err)
	assert.False(t, st.Dirty)

	require.NoError(t, m.Remove(ctx, path, true))
	assert.Empty(t, m.Tracked())
}

func TestWorktreeManagerRequiresRepository(t *testing.T) {
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}
	_, err := NewWorktreeManager(context.Background(), NewClient(t.TempDir(), nil))
	assert.True(t, core.IsCategory(err, core.ErrCatValidation))
}

func TestMergeFoldsWorktreeChanges(t *testing.T) {
	ctx := context.Background()
	repo := initRepo(t)
	c := NewClient(repo, nil)
	m, err := NewWorktreeManager(ctx, c)
	require.NoError(t, err)

	path, err := m.Create(ctx, "merge")
	require.NoError(t, err)
	defer func() { _ = m.Remove(ctx, path, true) }()

	require.NoError(t, os.WriteFile(filepath.Join(path, "feature.go"), []byte("package feature\n"), 0o644))
	commit, err := m.Merge(ctx, path, "worker result")
	require.NoError(t, err)
	assert.Len(t, commit, 40)

	// The change is now visible in the main repository.
	_, err = os.Stat(filepath.Join(repo, "feature.go"))
	assert.NoError(t, err)
}

func TestMergeToleratesNoChanges(t *testing.T) {
	ctx := context.Background()
	repo := initRepo(t)
	c := NewClient(repo, nil)
	m, err := NewWorktreeManager(ctx, c)
	require.NoError(t, err)

	path, err := m.Create(ctx, "noop")
	require.NoError(t, err)
	defer func() { _ = m.Remove(ctx, path, true) }()

	commit, err := m.Merge(ctx, path, "nothing changed")
	require.NoError(t, err, "empty merges succeed")
	assert.NotEmpty(t, commit)
}

func TestWithWorktreeAlwaysCleansUp(t *testing.T) {
	ctx := context.Background()
	repo := initRepo(t)
	m, err := NewWorktreeManager(ctx, NewClient(repo, nil))
	require.NoError(t, err)

	boom := errors.New("worker failed")
	var seen string
	err = m.WithWorktree(ctx, "scratch", func(path string) error {
		seen = path
		return boom
	})
	assert.ErrorIs(t, err, boom)
	_, statErr := os.Stat(seen)
	assert.True(t, os.IsNotExist(statErr), "worktree removed despite failure")
	assert.Empty(t, m.Tracked())
}

func TestIsEmptyCherryPick(t *testing.T) {
	tests := []struct {
		msg  string
		want bool
	}{
		{"The previous cherry-pick is now empty", true},
		{"nothing to commit, working tree clean", true},
		{"error: could not apply abc123... conflict in main.go", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, isEmptyCherryPick(errors.New(tt.msg)), tt.msg)
	}
}

func TestRunReturnsTypedError(t *testing.T) {
	repo := initRepo(t)
	_, err := NewClient(repo, nil).Run(context.Background(), "not-a-subcommand")
	require.Error(t, err)
	assert.True(t, core.IsCategory(err, core.ErrCatExecution))
	assert.True(t, strings.Contains(err.Error(), "git not-a-subcommand"))
}
