package cleanup

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hugo-lorenzo-mato/foreman/internal/core"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestOnAgentComplete(t *testing.T) {
	dir := t.TempDir()
	scratch := core.TempDir(dir, "t1", "builder")
	writeFile(t, filepath.Join(scratch, "notes.txt"), "scratch")
	writeFile(t, filepath.Join(scratch, "sub", "more.txt"), "deep")

	res := NewManager(dir, nil).OnAgentComplete("builder", "t1")

	assert.Len(t, res.FilesDeleted, 2)
	assert.Positive(t, res.BytesFreed)
	_, err := os.Stat(scratch)
	assert.True(t, os.IsNotExist(err))
}

func TestOnTaskDoneArchivesThenRemoves(t *testing.T) {
	dir := t.TempDir()
	sessionDir := core.SessionDir(dir, "t1")
	writeFile(t, filepath.Join(sessionDir, "state.json"), "{}")
	tempDir := filepath.Join(core.WorkflowDir(dir), core.TempDirName, "t1")
	writeFile(t, filepath.Join(tempDir, "builder", "scratch.txt"), "x")

	res := NewManager(dir, nil).OnTaskDone("t1", true)
	assert.Empty(t, res.Errors)

	// Archive summary lands in history/<task>.json.
	archive := filepath.Join(core.WorkflowDir(dir), core.HistoryDirName, "t1.json")
	data, err := os.ReadFile(archive)
	require.NoError(t, err)
	assert.Contains(t, string(data), "state.json")

	_, err = os.Stat(sessionDir)
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(tempDir)
	assert.True(t, os.IsNotExist(err))
}

func TestDryRunDeletesNothing(t *testing.T) {
	dir := t.TempDir()
	sessionDir := core.SessionDir(dir, "t1")
	writeFile(t, filepath.Join(sessionDir, "state.json"), "{}")

	res := NewManager(dir, nil, WithDryRun()).OnTaskDone("t1", false)

	assert.NotEmpty(t, res.FilesDeleted, "dry run still reports intent")
	_, err := os.Stat(filepath.Join(sessionDir, "state.json"))
	assert.NoError(t, err, "nothing actually removed")
}

func TestScheduledCleanupAgeThreshold(t *testing.T) {
	dir := t.TempDir()
	root := core.WorkflowDir(dir)

	old := filepath.Join(root, "history", "old-task.json")
	fresh := filepath.Join(root, "history", "fresh-task.json")
	writeFile(t, old, "{}")
	writeFile(t, fresh, "{}")

	// Age the first file past the 168h history limit.
	past := time.Now().Add(-200 * time.Hour)
	require.NoError(t, os.Chtimes(old, past, past))

	res := NewManager(dir, nil).ScheduledCleanup()

	assert.Equal(t, []string{old}, res.FilesDeleted)
	_, err := os.Stat(fresh)
	assert.NoError(t, err)
}

func TestScheduledCleanupNeverTouchesPermanent(t *testing.T) {
	dir := t.TempDir()
	root := core.WorkflowDir(dir)

	audit := filepath.Join(root, "audit", "events.log")
	phase := filepath.Join(root, "phases", "2.json")
	writeFile(t, audit, "log")
	writeFile(t, phase, "{}")
	past := time.Now().Add(-10000 * time.Hour)
	require.NoError(t, os.Chtimes(audit, past, past))
	require.NoError(t, os.Chtimes(phase, past, past))

	res := NewManager(dir, nil).ScheduledCleanup()

	assert.Empty(t, res.FilesDeleted)
	_, err := os.Stat(audit)
	assert.NoError(t, err)
	_, err = os.Stat(phase)
	assert.NoError(t, err)
}

func TestScheduledCleanupCustomRules(t *testing.T) {
	dir := t.TempDir()
	root := core.WorkflowDir(dir)
	target := filepath.Join(root, "cache", "blob.bin")
	writeFile(t, target, "bytes")
	past := time.Now().Add(-2 * time.Hour)
	require.NoError(t, os.Chtimes(target, past, past))

	m := NewManager(dir, nil, WithRules([]Rule{
		{Pattern: "cache/**", Lifetime: LifetimePersistent, MaxAgeHours: 1},
	}))
	res := m.ScheduledCleanup()

	assert.Equal(t, []string{target}, res.FilesDeleted)
	assert.Equal(t, int64(len("bytes")), res.BytesFreed)
}

func TestDefaultRulesTable(t *testing.T) {
	rules := DefaultRules()
	byPattern := make(map[string]Rule, len(rules))
	for _, r := range rules {
		byPattern[r.Pattern] = r
	}

	assert.Equal(t, LifetimeTransient, byPattern["temp/**"].Lifetime)
	assert.Equal(t, LifetimeSession, byPattern["sessions/**"].Lifetime)
	assert.Equal(t, 168.0, byPattern["history/**"].MaxAgeHours)
	assert.Equal(t, 720.0, byPattern["boards/archive/**"].MaxAgeHours)
	assert.Equal(t, LifetimePermanent, byPattern["audit/**"].Lifetime)
	assert.Equal(t, LifetimePermanent, byPattern["phases/**"].Lifetime)
}
