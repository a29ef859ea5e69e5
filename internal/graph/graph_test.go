package graph

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hugo-lorenzo-mato/foreman/internal/core"
)

// recordingCheckpointer keeps checkpoints in memory, in save order.
type recordingCheckpointer struct {
	saved []*core.Checkpoint
}

func (r *recordingCheckpointer) Save(_ context.Context, cp *core.Checkpoint) error {
	cp.Sequence = int64(len(r.saved) + 1)
	r.saved = append(r.saved, cp)
	return nil
}

func (r *recordingCheckpointer) Latest(context.Context, string) (*core.Checkpoint, error) {
	if len(r.saved) == 0 {
		return nil, nil
	}
	return r.saved[len(r.saved)-1], nil
}

func (r *recordingCheckpointer) List(context.Context, string, int) ([]*core.Checkpoint, error) {
	return r.saved, nil
}

func (r *recordingCheckpointer) Heartbeat(context.Context, string) error { return nil }

func (r *recordingCheckpointer) Prune(context.Context, string, int64) error { return nil }

func (r *recordingCheckpointer) Close() error { return nil }

func noopNode(id string) *Node {
	return &Node{ID: id, Fn: func(context.Context, *core.WorkflowState) (*Delta, error) {
		return nil, nil
	}}
}

func trackingNode(id string, visited *[]string) *Node {
	return &Node{ID: id, Fn: func(context.Context, *core.WorkflowState) (*Delta, error) {
		*visited = append(*visited, id)
		return nil, nil
	}}
}

func TestBuilderValidation(t *testing.T) {
	t.Run("missing entry", func(t *testing.T) {
		_, err := NewBuilder().AddNode(noopNode("a")).Build()
		require.Error(t, err)
	})

	t.Run("duplicate node", func(t *testing.T) {
		_, err := NewBuilder().AddNode(noopNode("a")).AddNode(noopNode("a")).SetEntry("a").Build()
		require.Error(t, err)
	})

	t.Run("edge to unknown node", func(t *testing.T) {
		_, err := NewBuilder().AddNode(noopNode("a")).AddEdge("a", "ghost").SetEntry("a").Build()
		require.Error(t, err)
	})

	t.Run("valid linear graph", func(t *testing.T) {
		g, err := NewBuilder().
			AddNode(noopNode("a")).AddNode(noopNode("b")).
			AddEdge("a", "b").AddEdge("b", EndNode).
			SetEntry("a").Build()
		require.NoError(t, err)
		assert.Equal(t, "a", g.Entry())
	})
}

func TestExecutorWalksAndCheckpoints(t *testing.T) {
	var visited []string
	g, err := NewBuilder().
		AddNode(trackingNode("a", &visited)).
		AddNode(trackingNode("b", &visited)).
		AddNode(trackingNode("c", &visited)).
		AddEdge("a", "b").AddEdge("b", "c").AddEdge("c", EndNode).
		SetEntry("a").Build()
	require.NoError(t, err)

	cp := &recordingCheckpointer{}
	ex := NewExecutor(g, cp, nil, nil)
	_, err = ex.Run(context.Background(), newState(), "")
	require.NoError(t, err)

	assert.Equal(t, []string{"a", "b", "c"}, visited)
	require.Len(t, cp.saved, 3, "one checkpoint per node")
	assert.Equal(t, "a", cp.saved[0].Node)
	assert.Equal(t, "c", cp.saved[2].Node)
	for i, s := range cp.saved {
		assert.Equal(t, int64(i+1), s.Sequence, "sequences are monotonic")
	}
}

func TestExecutorConditionalRouting(t *testing.T) {
	var visited []string
	g, err := NewBuilder().
		AddNode(trackingNode("gate", &visited)).
		AddNode(trackingNode("retry", &visited)).
		AddNode(trackingNode("done", &visited)).
		AddConditional("gate", func(st *core.WorkflowState) string {
			if st.NextDecision == core.DecisionRetry {
				return "retry"
			}
			return "done"
		}, map[string]string{"retry": "retry", "done": "continue"}).
		AddEdge("retry", EndNode).AddEdge("done", EndNode).
		SetEntry("gate").Build()
	require.NoError(t, err)

	st := newState()
	st.NextDecision = core.DecisionRetry
	_, err = NewExecutor(g, nil, nil, nil).Run(context.Background(), st, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"gate", "retry"}, visited)
}

func TestExecutorStopsOnInterrupt(t *testing.T) {
	var visited []string
	suspend := &Node{ID: "suspend", Suspends: true, Fn: func(context.Context, *core.WorkflowState) (*Delta, error) {
		return &Delta{PendingInterrupt: &core.PendingInterrupt{Type: core.InterruptApprovalRequired}}, nil
	}}
	g, err := NewBuilder().
		AddNode(suspend).
		AddNode(trackingNode("after", &visited)).
		AddEdge("suspend", "after").AddEdge("after", EndNode).
		SetEntry("suspend").Build()
	require.NoError(t, err)

	cp := &recordingCheckpointer{}
	st, err := NewExecutor(g, cp, nil, nil).Run(context.Background(), newState(), "")
	require.NoError(t, err)

	require.NotNil(t, st.PendingInterrupt)
	assert.Empty(t, visited, "successor never runs while suspended")
	require.Len(t, cp.saved, 1, "interrupted node is still checkpointed")
	assert.Equal(t, "suspend", cp.saved[0].Node)
}

func TestExecutorResumeSkipsCheckpointedNode(t *testing.T) {
	var visited []string
	g, err := NewBuilder().
		AddNode(trackingNode("a", &visited)).
		AddNode(trackingNode("b", &visited)).
		AddEdge("a", "b").AddEdge("b", EndNode).
		SetEntry("a").Build()
	require.NoError(t, err)

	_, err = NewExecutor(g, nil, nil, nil).Resume(context.Background(), newState(), "a")
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, visited, "the checkpointed node is never re-run")
}

func TestExecutorNodeErrorStopsRun(t *testing.T) {
	boom := errors.New("node exploded")
	g, err := NewBuilder().
		AddNode(&Node{ID: "a", Fn: func(context.Context, *core.WorkflowState) (*Delta, error) {
			return nil, boom
		}}).
		AddEdge("a", EndNode).
		SetEntry("a").Build()
	require.NoError(t, err)

	_, err = NewExecutor(g, nil, nil, nil).Run(context.Background(), newState(), "")
	assert.ErrorIs(t, err, boom)
}

func TestExecutorCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	g, err := NewBuilder().AddNode(noopNode("a")).AddEdge("a", EndNode).SetEntry("a").Build()
	require.NoError(t, err)

	_, err = NewExecutor(g, nil, nil, nil).Run(ctx, newState(), "")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestBuildWorkflowShape(t *testing.T) {
	g, err := BuildWorkflow(&Services{ProjectDir: t.TempDir()})
	require.NoError(t, err)

	for _, id := range []string{
		NodePrerequisites, NodeResearch, NodeDiscuss, NodePlanning, NodeTaskBreakdown,
		NodeValidationFan, NodeValidationGate, NodeImplementation, NodeQualityGates,
		NodeVerifyFan, NodeVerifyGate, NodeCompletion,
		NodeEscalation, NodeErrorDispatch, NodeFixer,
	} {
		_, ok := g.Node(id)
		assert.True(t, ok, "missing node %s", id)
	}
	assert.Equal(t, NodePrerequisites, g.Entry())
}

func TestRouters(t *testing.T) {
	t.Run("gate approves on continue", func(t *testing.T) {
		st := newState()
		st.NextDecision = core.DecisionContinue
		assert.Equal(t, "go", gateRouter("go", "again")(st))
	})

	t.Run("gate retries under the limit", func(t *testing.T) {
		st := newState()
		st.NextDecision = core.DecisionRetry
		st.RetryCount = 1
		st.MaxRetries = 3
		assert.Equal(t, "again", gateRouter("go", "again")(st))
	})

	t.Run("gate escalates past the limit", func(t *testing.T) {
		st := newState()
		st.NextDecision = core.DecisionRetry
		st.RetryCount = 3
		st.MaxRetries = 3
		assert.Equal(t, NodeEscalation, gateRouter("go", "again")(st))
	})

	t.Run("gate ends on abort", func(t *testing.T) {
		st := newState()
		st.NextDecision = core.DecisionAbort
		assert.Equal(t, EndNode, gateRouter("go", "again")(st))
	})

	t.Run("gate honours a human rejection", func(t *testing.T) {
		st := newState()
		st.NextDecision = core.DecisionContinue
		st.HumanResponse = &core.HumanResponse{Action: "reject"}
		assert.Equal(t, EndNode, gateRouter("go", "again")(st))
	})

	t.Run("gate honours a human approval", func(t *testing.T) {
		st := newState()
		st.NextDecision = core.DecisionEscalate
		st.HumanResponse = &core.HumanResponse{Action: "approve"}
		assert.Equal(t, "go", gateRouter("go", "again")(st))
	})

	t.Run("gate re-runs reviews on request_changes", func(t *testing.T) {
		st := newState()
		st.NextDecision = core.DecisionContinue
		st.HumanResponse = &core.HumanResponse{Action: "request_changes"}
		assert.Equal(t, "again", gateRouter("go", "again")(st))
	})

	t.Run("gate escalates request_changes past the retry limit", func(t *testing.T) {
		st := newState()
		st.RetryCount = 3
		st.MaxRetries = 3
		st.HumanResponse = &core.HumanResponse{Action: "request_changes"}
		assert.Equal(t, NodeEscalation, gateRouter("go", "again")(st))
	})

	t.Run("response retry resumes error dispatch", func(t *testing.T) {
		st := newState()
		st.HumanResponse = &core.HumanResponse{Action: "retry"}
		assert.Equal(t, NodeErrorDispatch, responseRouter()(st))
	})

	t.Run("response skip ends the run", func(t *testing.T) {
		st := newState()
		st.HumanResponse = &core.HumanResponse{Action: "skip"}
		assert.Equal(t, EndNode, responseRouter()(st))
	})

	t.Run("no response ends the run", func(t *testing.T) {
		assert.Equal(t, EndNode, responseRouter()(newState()))
	})
}

func TestPlanningRouter(t *testing.T) {
	planned := func() *core.WorkflowState {
		st := newState()
		st.PhaseStatus[core.PhasePlanning] = &core.PhaseState{Status: core.PhaseCompleted}
		return st
	}

	t.Run("completed plan goes to validation", func(t *testing.T) {
		assert.Equal(t, NodeValidationFan, planningRouter()(planned()))
	})

	t.Run("skip_validation goes straight to implementation", func(t *testing.T) {
		st := planned()
		st.Config.SkipValidation = true
		assert.Equal(t, NodeImplementation, planningRouter()(st))
	})

	t.Run("planning end phase stops the run", func(t *testing.T) {
		st := planned()
		st.Config.EndPhase = core.PhasePlanning
		assert.Equal(t, EndNode, planningRouter()(st))
	})

	t.Run("failed plan dispatches the error", func(t *testing.T) {
		st := newState()
		st.PhaseStatus[core.PhasePlanning] = &core.PhaseState{Status: core.PhaseFailed}
		assert.Equal(t, NodeErrorDispatch, planningRouter()(st))
	})

	t.Run("abort ends the run", func(t *testing.T) {
		st := newState()
		st.NextDecision = core.DecisionAbort
		assert.Equal(t, EndNode, planningRouter()(st))
	})
}

func TestStopAtEndPhase(t *testing.T) {
	inner := gateRouter(NodeImplementation, NodeValidationFan)
	wrapped := stopAtEndPhase(core.PhaseValidation, NodeImplementation, inner)

	t.Run("stops instead of advancing past the end phase", func(t *testing.T) {
		st := newState()
		st.Config.EndPhase = core.PhaseValidation
		st.NextDecision = core.DecisionContinue
		assert.Equal(t, EndNode, wrapped(st))
	})

	t.Run("advances when the end phase is later", func(t *testing.T) {
		st := newState()
		st.NextDecision = core.DecisionContinue
		assert.Equal(t, NodeImplementation, wrapped(st))
	})

	t.Run("non-advancing routes are untouched", func(t *testing.T) {
		st := newState()
		st.Config.EndPhase = core.PhaseValidation
		st.NextDecision = core.DecisionRetry
		assert.Equal(t, NodeValidationFan, wrapped(st))
	})
}

func TestEntryForPhase(t *testing.T) {
	tests := []struct {
		phase core.Phase
		want  string
	}{
		{core.PhasePrerequisites, NodePrerequisites},
		{core.PhasePlanning, NodeResearch},
		{core.PhaseValidation, NodeValidationFan},
		{core.PhaseImplementation, NodeImplementation},
		{core.PhaseVerification, NodeVerifyFan},
		{core.PhaseCompletion, NodeCompletion},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, EntryForPhase(tt.phase), "phase %d", tt.phase)
	}
}

func TestExecutorResumeConsumesHumanResponse(t *testing.T) {
	var visited []string
	gate := &Node{ID: "gate", Suspends: true, Fn: func(context.Context, *core.WorkflowState) (*Delta, error) {
		return &Delta{
			NextDecision:     decision(core.DecisionContinue),
			PendingInterrupt: &core.PendingInterrupt{Type: core.InterruptApprovalRequired},
		}, nil
	}}
	g, err := NewBuilder().
		AddNode(gate).
		AddNode(trackingNode("impl", &visited)).
		AddConditional("gate", gateRouter("impl", "gate"), nil).
		AddEdge("impl", EndNode).
		SetEntry("gate").Build()
	require.NoError(t, err)

	t.Run("rejection ends the run without the successor", func(t *testing.T) {
		visited = nil
		st := newState()
		st.NextDecision = core.DecisionContinue
		st.HumanResponse = &core.HumanResponse{Action: "reject"}

		st, err := NewExecutor(g, nil, nil, nil).Resume(context.Background(), st, "gate")
		require.NoError(t, err)
		assert.Empty(t, visited, "implementation must not run after a rejection")
		assert.Equal(t, core.DecisionAbort, st.NextDecision)
		assert.Nil(t, st.HumanResponse, "the response is consumed on resume")
	})

	t.Run("approval runs the successor and consumes the response", func(t *testing.T) {
		visited = nil
		st := newState()
		st.NextDecision = core.DecisionContinue
		st.HumanResponse = &core.HumanResponse{Action: "approve"}

		st, err := NewExecutor(g, nil, nil, nil).Resume(context.Background(), st, "gate")
		require.NoError(t, err)
		assert.Equal(t, []string{"impl"}, visited)
		assert.Nil(t, st.HumanResponse)
	})
}
