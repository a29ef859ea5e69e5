package graph

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hugo-lorenzo-mato/foreman/internal/adapters/git"
	"github.com/hugo-lorenzo-mato/foreman/internal/core"
	"github.com/hugo-lorenzo-mato/foreman/internal/recovery"
)

type taskAttempt struct {
	ok     bool
	reason string
	err    error
}

// scriptedTaskRunner replays attempts in order, recording the work
// directory of each call. An optional file is written into the work
// directory on success.
type scriptedTaskRunner struct {
	attempts  []taskAttempt
	writeFile string
	calls     int
	dirs      []string
}

func (s *scriptedTaskRunner) RunTask(_ context.Context, _ *core.Task, workDir string) (bool, string, error) {
	i := s.calls
	if i >= len(s.attempts) {
		i = len(s.attempts) - 1
	}
	s.calls++
	s.dirs = append(s.dirs, workDir)

	a := s.attempts[i]
	if a.ok && s.writeFile != "" {
		_ = os.WriteFile(filepath.Join(workDir, s.writeFile), []byte("done\n"), 0o644)
	}
	return a.ok, a.reason, a.err
}

func plannedState() *core.WorkflowState {
	st := newState()
	st.Plan = &core.Plan{Tasks: []core.Task{
		{ID: "t1", Title: "Build the feature", AssignedAgentID: "builder"},
	}}
	return st
}

func TestImplementationRetriesAfterTimeoutRecovery(t *testing.T) {
	dir := t.TempDir()
	tr := &scriptedTaskRunner{attempts: []taskAttempt{
		{err: core.ErrTimeout("agent run timed out")},
		{ok: true},
	}}
	s := &Services{
		ProjectDir: dir,
		TaskRunner: tr,
		Recovery:   recovery.NewHandler(dir, nil),
	}

	d, err := implementationNode(s)(context.Background(), plannedState())
	require.NoError(t, err)
	assert.Equal(t, 2, tr.calls, "the first timeout earns one more attempt")
	assert.Equal(t, []string{"t1"}, d.CompletedTaskIDs)
	assert.Empty(t, d.BlockedTaskIDs)
}

func TestImplementationEscalatesSecurityFailure(t *testing.T) {
	dir := t.TempDir()
	tr := &scriptedTaskRunner{attempts: []taskAttempt{
		{err: core.ErrBlockingSecurity("hardcoded credential in diff")},
	}}
	s := &Services{
		ProjectDir: dir,
		TaskRunner: tr,
		Recovery:   recovery.NewHandler(dir, nil),
	}

	d, err := implementationNode(s)(context.Background(), plannedState())
	require.NoError(t, err)
	assert.Equal(t, 1, tr.calls, "security failures are never retried")
	assert.Equal(t, []string{"t1"}, d.BlockedTaskIDs)
	require.NotNil(t, d.NextDecision)
	assert.Equal(t, core.DecisionEscalate, *d.NextDecision)

	entries, rerr := os.ReadDir(core.EscalationsDir(dir))
	require.NoError(t, rerr)
	assert.Len(t, entries, 1, "the escalation is persisted for responders")
}

func TestImplementationMarksValidationSkipped(t *testing.T) {
	tr := &scriptedTaskRunner{attempts: []taskAttempt{{ok: true}}}
	s := &Services{ProjectDir: t.TempDir(), TaskRunner: tr}

	st := plannedState()
	st.Config.SkipValidation = true
	d, err := implementationNode(s)(context.Background(), st)
	require.NoError(t, err)
	require.Contains(t, d.PhaseStatus, core.PhaseValidation)
	assert.Equal(t, core.PhaseSkipped, d.PhaseStatus[core.PhaseValidation].Status)
}

func TestEscalationNodePersistsRequest(t *testing.T) {
	dir := t.TempDir()
	s := &Services{ProjectDir: dir, Recovery: recovery.NewHandler(dir, nil)}

	st := newState()
	st.Errors = []string{"quality gates failed: 2 tests failing"}
	d, err := escalationNode(s)(context.Background(), st)
	require.NoError(t, err)
	require.NotNil(t, d.PendingInterrupt)
	assert.Equal(t, core.InterruptEscalation, d.PendingInterrupt.Type)
	assert.Equal(t, "quality gates failed: 2 tests failing", d.PendingInterrupt.Issue)
	assert.Equal(t, []string{"retry", "skip", "abort"}, d.PendingInterrupt.SuggestedActions)

	entries, rerr := os.ReadDir(core.EscalationsDir(dir))
	require.NoError(t, rerr)
	assert.Len(t, entries, 1)
}

func gitCmd(t *testing.T, dir string, args ...string) {
	t.Helper()
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	require.NoError(t, err, "git %v: %s", args, out)
}

func initTestRepo(t *testing.T) (string, *git.Client) {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}
	dir := t.TempDir()
	gitCmd(t, dir, "init")
	gitCmd(t, dir, "config", "user.email", "dev@example.com")
	gitCmd(t, dir, "config", "user.name", "dev")
	gitCmd(t, dir, "commit", "--allow-empty", "-m", "init")
	return dir, git.NewClient(dir, nil)
}

func TestImplementationIsolatesTasksInWorktrees(t *testing.T) {
	ctx := context.Background()
	repo, client := initTestRepo(t)
	wm, err := git.NewWorktreeManager(ctx, client)
	require.NoError(t, err)

	tr := &scriptedTaskRunner{attempts: []taskAttempt{{ok: true}}, writeFile: "feature.txt"}
	s := &Services{
		ProjectDir: repo,
		TaskRunner: tr,
		Git:        client,
		Worktrees:  wm,
	}

	d, err := implementationNode(s)(ctx, plannedState())
	require.NoError(t, err)
	assert.Equal(t, []string{"t1"}, d.CompletedTaskIDs)

	require.Len(t, tr.dirs, 1)
	workDir := tr.dirs[0]
	assert.NotEqual(t, repo, workDir, "the task runs outside the project dir")
	assert.True(t, strings.Contains(filepath.Base(workDir), "-worker-t1"), workDir)

	_, statErr := os.Stat(filepath.Join(repo, "feature.txt"))
	assert.NoError(t, statErr, "the worktree result is merged back")
	_, statErr = os.Stat(workDir)
	assert.True(t, os.IsNotExist(statErr), "the worktree is removed after the task")
	assert.Empty(t, wm.Tracked())
}
