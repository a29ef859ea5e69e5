package graph

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hugo-lorenzo-mato/foreman/internal/core"
)

func newState() *core.WorkflowState {
	return core.NewWorkflowState("demo", "/tmp/demo", core.WorkflowConfig{EndPhase: core.PhaseCompletion})
}

func TestMergeNilDelta(t *testing.T) {
	st := newState()
	before := st.UpdatedAt
	got := Merge(st, nil)
	assert.Same(t, st, got)
	assert.True(t, got.UpdatedAt.After(before) || got.UpdatedAt.Equal(before))
}

func TestMergeScalarsLastWriterWins(t *testing.T) {
	st := newState()

	Merge(st, &Delta{CurrentPhase: phasePtr(core.PhasePlanning), NextDecision: decision(core.DecisionRetry)})
	Merge(st, &Delta{CurrentPhase: phasePtr(core.PhaseValidation), NextDecision: decision(core.DecisionContinue)})

	assert.Equal(t, core.PhaseValidation, st.CurrentPhase)
	assert.Equal(t, core.DecisionContinue, st.NextDecision)
}

func TestMergeListsAppendUnique(t *testing.T) {
	st := newState()

	Merge(st, &Delta{CompletedTaskIDs: []string{"t1", "t2"}})
	Merge(st, &Delta{CompletedTaskIDs: []string{"t2", "t3"}})

	assert.Equal(t, []string{"t1", "t2", "t3"}, st.CompletedTaskIDs)
}

func TestMergeCompletedPhaseOnlyDemotedByFailed(t *testing.T) {
	st := newState()
	Merge(st, phaseDelta(core.PhasePlanning, core.PhaseCompleted))

	t.Run("running is refused", func(t *testing.T) {
		Merge(st, phaseDelta(core.PhasePlanning, core.PhaseRunning))
		assert.Equal(t, core.PhaseCompleted, st.PhaseFor(core.PhasePlanning).Status)
	})

	t.Run("pending is refused", func(t *testing.T) {
		Merge(st, phaseDelta(core.PhasePlanning, core.PhasePending))
		assert.Equal(t, core.PhaseCompleted, st.PhaseFor(core.PhasePlanning).Status)
	})

	t.Run("failed is accepted", func(t *testing.T) {
		Merge(st, phaseDelta(core.PhasePlanning, core.PhaseFailed))
		assert.Equal(t, core.PhaseFailed, st.PhaseFor(core.PhasePlanning).Status)
	})
}

func TestMergeErrorsAreBounded(t *testing.T) {
	st := newState()
	for i := 0; i < core.MaxStateErrors+30; i++ {
		Merge(st, &Delta{Errors: []string{fmt.Sprintf("e%d", i)}})
	}
	require.Len(t, st.Errors, core.MaxStateErrors)
	assert.Equal(t, fmt.Sprintf("e%d", core.MaxStateErrors+29), st.Errors[len(st.Errors)-1])
}

func TestMergeInterruptLifecycle(t *testing.T) {
	st := newState()

	Merge(st, &Delta{PendingInterrupt: &core.PendingInterrupt{Type: core.InterruptEscalation}})
	require.NotNil(t, st.PendingInterrupt)

	Merge(st, &Delta{ClearInterrupt: true, HumanResponse: &core.HumanResponse{Action: "retry"}})
	assert.Nil(t, st.PendingInterrupt)
	require.NotNil(t, st.HumanResponse)

	Merge(st, &Delta{ClearResponse: true})
	assert.Nil(t, st.HumanResponse)
}

func TestMergeFeedbackMaps(t *testing.T) {
	st := newState()

	Merge(st, &Delta{ValidationFeedback: map[string]core.ReviewFeedback{
		"reviewer-security": {ReviewerID: "reviewer-security", Score: 8},
	}})
	Merge(st, &Delta{ValidationFeedback: map[string]core.ReviewFeedback{
		"reviewer-quality": {ReviewerID: "reviewer-quality", Score: 7},
	}})

	assert.Len(t, st.ValidationFeedback, 2)
	assert.Equal(t, 8.0, st.ValidationFeedback["reviewer-security"].Score)
}

func TestMergePhaseCommits(t *testing.T) {
	st := newState()
	Merge(st, &Delta{PhaseCommits: map[core.Phase]string{core.PhaseImplementation: "abc123"}})
	assert.Equal(t, "abc123", st.PhaseCommits[core.PhaseImplementation])
}
