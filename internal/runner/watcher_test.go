package runner

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hugo-lorenzo-mato/foreman/internal/core"
)

type delivery struct {
	key  string
	resp *core.HumanResponse
}

func TestEscalationWatcherDeliversResponses(t *testing.T) {
	dir := t.TempDir()
	got := make(chan delivery, 4)

	w, err := NewEscalationWatcher(dir, func(key string, resp *core.HumanResponse) {
		got <- delivery{key: key, resp: resp}
	}, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = w.Run(ctx) }()

	escDir := core.EscalationsDir(dir)
	// Escalation requests themselves must not trigger the handler.
	require.NoError(t, os.WriteFile(filepath.Join(escDir, "task1_20260824.json"),
		[]byte(`{"task_id": "task1"}`), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(escDir, "task1.response.json"),
		[]byte(`{"action": "retry", "reason": "transient CI outage"}`), 0o644))

	select {
	case d := <-got:
		assert.Equal(t, "task1", d.key)
		assert.Equal(t, "retry", d.resp.Action)
		assert.Equal(t, "transient CI outage", d.resp.Reason)
	case <-time.After(5 * time.Second):
		t.Fatal("response file was not delivered")
	}

	// A create and a write may arrive as separate events; duplicates are
	// fine, but only ever for the response file.
	for {
		select {
		case d := <-got:
			assert.Equal(t, "task1", d.key)
		case <-time.After(200 * time.Millisecond):
			return
		}
	}
}

func TestEscalationWatcherSkipsMalformedFiles(t *testing.T) {
	dir := t.TempDir()
	got := make(chan delivery, 4)

	w, err := NewEscalationWatcher(dir, func(key string, resp *core.HumanResponse) {
		got <- delivery{key: key, resp: resp}
	}, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = w.Run(ctx) }()

	escDir := core.EscalationsDir(dir)
	require.NoError(t, os.WriteFile(filepath.Join(escDir, "bad.response.json"),
		[]byte(`{not json`), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(escDir, "good.response.json"),
		[]byte(`{"action": "skip"}`), 0o644))

	select {
	case d := <-got:
		assert.Equal(t, "good", d.key, "the malformed file is skipped, not fatal")
		assert.Equal(t, "skip", d.resp.Action)
	case <-time.After(5 * time.Second):
		t.Fatal("well-formed response was not delivered")
	}
}

func TestAwaitResponseResumesFromFile(t *testing.T) {
	ctx := context.Background()
	r, _, tasks := newTestRunner(t)
	st, err := r.Run(ctx, fullConfig())
	require.NoError(t, err)
	require.NotNil(t, st.PendingInterrupt)

	go func() {
		time.Sleep(300 * time.Millisecond) // let the watcher arm
		escDir := core.EscalationsDir(r.projectDir)
		_ = os.MkdirAll(escDir, 0o755)
		_ = os.WriteFile(filepath.Join(escDir, "gate.response.json"),
			[]byte(`{"action": "approve"}`), 0o644)
	}()

	wctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	st, err = r.AwaitResponse(wctx)
	require.NoError(t, err)
	require.NotNil(t, st.PendingInterrupt, "the run advances to the next gate")
	assert.Equal(t, core.PhaseVerification, st.PendingInterrupt.Phase)
	assert.Equal(t, 1, tasks.count(), "the approval unblocked implementation")
}
