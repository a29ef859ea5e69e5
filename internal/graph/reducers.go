package graph

import (
	"time"

	"github.com/hugo-lorenzo-mato/foreman/internal/core"
)

// Delta is the partial state update a node returns. Lists append, scalars
// are last-writer-wins, and phase status merges refuse to demote a
// completed phase to anything but failed.
type Delta struct {
	CurrentPhase *core.Phase
	PhaseStatus  map[core.Phase]*core.PhaseState

	Plan             *core.Plan
	CompletedTaskIDs []string
	BlockedTaskIDs   []string
	CurrentTaskID    *string

	ValidationFeedback   map[string]core.ReviewFeedback
	VerificationFeedback map[string]core.ReviewFeedback

	NextDecision *core.Decision
	Errors       []string

	PendingInterrupt *core.PendingInterrupt
	ClearInterrupt   bool
	HumanResponse    *core.HumanResponse
	ClearResponse    bool

	RetryCount   *int
	PhaseCommits map[core.Phase]string
}

// Merge folds a delta into the state and returns the state. A nil delta
// only bumps the update timestamp.
func Merge(state *core.WorkflowState, d *Delta) *core.WorkflowState {
	state.UpdatedAt = time.Now()
	if d == nil {
		return state
	}

	if d.CurrentPhase != nil {
		state.CurrentPhase = *d.CurrentPhase
	}
	for phase, ps := range d.PhaseStatus {
		mergePhase(state, phase, ps)
	}

	if d.Plan != nil {
		state.Plan = d.Plan
	}
	state.CompletedTaskIDs = appendUnique(state.CompletedTaskIDs, d.CompletedTaskIDs)
	state.BlockedTaskIDs = appendUnique(state.BlockedTaskIDs, d.BlockedTaskIDs)
	if d.CurrentTaskID != nil {
		state.CurrentTaskID = *d.CurrentTaskID
	}

	if len(d.ValidationFeedback) > 0 {
		if state.ValidationFeedback == nil {
			state.ValidationFeedback = make(map[string]core.ReviewFeedback)
		}
		for k, v := range d.ValidationFeedback {
			state.ValidationFeedback[k] = v
		}
	}
	if len(d.VerificationFeedback) > 0 {
		if state.VerificationFeedback == nil {
			state.VerificationFeedback = make(map[string]core.ReviewFeedback)
		}
		for k, v := range d.VerificationFeedback {
			state.VerificationFeedback[k] = v
		}
	}

	if d.NextDecision != nil {
		state.NextDecision = *d.NextDecision
	}
	state.Errors = append(state.Errors, d.Errors...)
	if len(state.Errors) > core.MaxStateErrors {
		state.Errors = state.Errors[len(state.Errors)-core.MaxStateErrors:]
	}

	if d.ClearInterrupt {
		state.PendingInterrupt = nil
	}
	if d.PendingInterrupt != nil {
		state.PendingInterrupt = d.PendingInterrupt
	}
	if d.ClearResponse {
		state.HumanResponse = nil
	}
	if d.HumanResponse != nil {
		state.HumanResponse = d.HumanResponse
	}

	if d.RetryCount != nil {
		state.RetryCount = *d.RetryCount
	}
	for phase, commit := range d.PhaseCommits {
		if state.PhaseCommits == nil {
			state.PhaseCommits = make(map[core.Phase]string)
		}
		state.PhaseCommits[phase] = commit
	}
	return state
}

// mergePhase applies the phase-status rule: a completed phase can only be
// overwritten by failed.
func mergePhase(state *core.WorkflowState, phase core.Phase, incoming *core.PhaseState) {
	current := state.PhaseFor(phase)
	if current.Status == core.PhaseCompleted && incoming.Status != core.PhaseFailed {
		return
	}
	*current = *incoming
}

func appendUnique(existing, incoming []string) []string {
	if len(incoming) == 0 {
		return existing
	}
	seen := make(map[string]struct{}, len(existing))
	for _, v := range existing {
		seen[v] = struct{}{}
	}
	for _, v := range incoming {
		if _, ok := seen[v]; !ok {
			seen[v] = struct{}{}
			existing = append(existing, v)
		}
	}
	return existing
}

// Helper constructors keep node code terse.

func phaseDelta(phase core.Phase, status core.PhaseStatus) *Delta {
	now := time.Now()
	ps := &core.PhaseState{Status: status}
	switch status {
	case core.PhaseRunning:
		ps.StartedAt = &now
	case core.PhaseCompleted, core.PhaseFailed, core.PhaseSkipped:
		ps.EndedAt = &now
	}
	return &Delta{
		CurrentPhase: phasePtr(phase),
		PhaseStatus:  map[core.Phase]*core.PhaseState{phase: ps},
	}
}

func decision(d core.Decision) *core.Decision { return &d }

func phasePtr(p core.Phase) *core.Phase { return &p }
