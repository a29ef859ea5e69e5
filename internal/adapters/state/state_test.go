package state

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hugo-lorenzo-mato/foreman/internal/core"
)

func checkpoint(project, node string) *core.Checkpoint {
	return &core.Checkpoint{
		ProjectName: project,
		Node:        node,
		State:       core.NewWorkflowState(project, "/tmp/"+project, core.WorkflowConfig{}),
	}
}

// stores builds both backends over fresh temp dirs so every test runs
// against each implementation.
func stores(t *testing.T) map[string]core.Checkpointer {
	t.Helper()
	js, err := NewJSONCheckpointer(t.TempDir())
	require.NoError(t, err)
	sq, err := NewSQLiteStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = js.Close()
		_ = sq.Close()
	})
	return map[string]core.Checkpointer{"json": js, "sqlite": sq}
}

func TestSaveAssignsMonotonicSequences(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			for i, node := range []string{"planning", "validation", "implementation"} {
				cp := checkpoint("demo", node)
				require.NoError(t, store.Save(ctx, cp))
				assert.Equal(t, int64(i+1), cp.Sequence)
				assert.NotEmpty(t, cp.ID)
				assert.False(t, cp.HeartbeatAt.IsZero())
			}
		})
	}
}

func TestSequencesAreScopedPerProject(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			a := checkpoint("alpha", "planning")
			b := checkpoint("beta", "planning")
			require.NoError(t, store.Save(ctx, a))
			require.NoError(t, store.Save(ctx, b))
			assert.Equal(t, int64(1), a.Sequence)
			assert.Equal(t, int64(1), b.Sequence, "each project counts from 1")
		})
	}
}

func TestLatestAndListOrdering(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			for _, node := range []string{"planning", "validation", "implementation"} {
				require.NoError(t, store.Save(ctx, checkpoint("demo", node)))
			}

			latest, err := store.Latest(ctx, "demo")
			require.NoError(t, err)
			require.NotNil(t, latest)
			assert.Equal(t, "implementation", latest.Node)
			assert.Equal(t, int64(3), latest.Sequence)

			list, err := store.List(ctx, "demo", 0)
			require.NoError(t, err)
			require.Len(t, list, 3)
			assert.Equal(t, "implementation", list[0].Node, "most recent first")
			assert.Equal(t, "planning", list[2].Node)

			limited, err := store.List(ctx, "demo", 2)
			require.NoError(t, err)
			assert.Len(t, limited, 2)
		})
	}
}

func TestLatestEmptyProject(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			latest, err := store.Latest(context.Background(), "nothing-here")
			require.NoError(t, err)
			assert.Nil(t, latest)
		})
	}
}

func TestPruneRemovesFromSequenceOnward(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			for _, node := range []string{"planning", "validation", "implementation", "verification"} {
				require.NoError(t, store.Save(ctx, checkpoint("demo", node)))
			}

			require.NoError(t, store.Prune(ctx, "demo", 3))

			list, err := store.List(ctx, "demo", 0)
			require.NoError(t, err)
			require.Len(t, list, 2)
			assert.Equal(t, "validation", list[0].Node)

			// The next save continues after the pruned tail.
			cp := checkpoint("demo", "retry")
			require.NoError(t, store.Save(ctx, cp))
			assert.Equal(t, int64(3), cp.Sequence)
		})
	}
}

func TestHeartbeatBumpsLatest(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, store.Save(ctx, checkpoint("demo", "planning")))

			before, err := store.Latest(ctx, "demo")
			require.NoError(t, err)
			time.Sleep(10 * time.Millisecond)

			require.NoError(t, store.Heartbeat(ctx, "demo"))
			after, err := store.Latest(ctx, "demo")
			require.NoError(t, err)
			assert.True(t, after.HeartbeatAt.After(before.HeartbeatAt))
		})
	}
}

func TestHeartbeatWithoutCheckpointsIsHarmless(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			assert.NoError(t, store.Heartbeat(context.Background(), "nothing-here"))
		})
	}
}

func TestCheckpointStateRoundTrip(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			cp := checkpoint("demo", "validation")
			cp.State.CompletedTaskIDs = []string{"t1", "t2"}
			cp.State.CurrentPhase = core.PhaseValidation
			require.NoError(t, store.Save(ctx, cp))

			got, err := store.Latest(ctx, "demo")
			require.NoError(t, err)
			require.NotNil(t, got.State)
			assert.Equal(t, []string{"t1", "t2"}, got.State.CompletedTaskIDs)
			assert.Equal(t, core.PhaseValidation, got.State.CurrentPhase)
		})
	}
}

func TestSQLiteSpendStore(t *testing.T) {
	store, err := NewSQLiteStore(t.TempDir())
	require.NoError(t, err)
	defer store.Close()
	ctx := context.Background()

	recs := []*core.SpendRecord{
		{Timestamp: time.Now().Add(-2 * time.Minute), TaskID: "t1", Agent: "builder", CostUSD: 0.40},
		{Timestamp: time.Now().Add(-1 * time.Minute), TaskID: "t2", Agent: "fixer", CostUSD: 0.10},
		{Timestamp: time.Now(), TaskID: "t1", Agent: "builder", CostUSD: 0.25},
	}
	for _, r := range recs {
		require.NoError(t, store.AppendSpend(ctx, r))
		assert.NotEmpty(t, r.ID)
	}

	all, err := store.ListSpend(ctx)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, 0.40, all[0].CostUSD, "oldest first")

	require.NoError(t, store.DeleteTaskSpend(ctx, "t1"))
	all, err = store.ListSpend(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "t2", all[0].TaskID)
}

func TestFactorySelectsBackend(t *testing.T) {
	cp, err := NewCheckpointer(BackendJSON, t.TempDir())
	require.NoError(t, err)
	assert.IsType(t, &JSONCheckpointer{}, cp)
	_ = cp.Close()

	cp, err = NewCheckpointer("", t.TempDir())
	require.NoError(t, err)
	assert.IsType(t, &JSONCheckpointer{}, cp)
	_ = cp.Close()

	cp, err = NewCheckpointer(BackendSQLite, t.TempDir())
	require.NoError(t, err)
	assert.IsType(t, &SQLiteStore{}, cp)
	_ = cp.Close()

	_, err = NewCheckpointer("postgres", t.TempDir())
	assert.True(t, core.IsCategory(err, core.ErrCatValidation))
}
