package runner

import (
	"context"

	"github.com/hugo-lorenzo-mato/foreman/internal/core"
	"github.com/hugo-lorenzo-mato/foreman/internal/graph"
)

// RunResult is the flattened outcome returned to external callers.
type RunResult struct {
	Success bool                   `json:"success"`
	Paused  bool                   `json:"paused"`
	Message string                 `json:"message,omitempty"`
	Phase   core.Phase             `json:"phase"`
	Errors  []string               `json:"errors,omitempty"`
	Pending *core.PendingInterrupt `json:"pending_interrupt,omitempty"`
	Error   string                 `json:"error,omitempty"`
}

// RunWorkflow starts (or continues) a project workflow. An autonomous
// run does not stop on escalation interrupts: it waits for response
// files dropped into the escalations directory and resumes itself.
func RunWorkflow(ctx context.Context, projectDir string, wfcfg core.WorkflowConfig, autonomous bool, progress core.ProgressCallback) (*RunResult, error) {
	r, err := New(projectDir, Options{Autonomous: autonomous, Progress: progress})
	if err != nil {
		return nil, err
	}
	defer func() { _ = r.Close() }()

	st, err := r.Run(ctx, wfcfg)
	for err == nil && autonomous && st != nil && st.PendingInterrupt != nil {
		st, err = r.AwaitResponse(ctx)
	}
	return resultFrom(st, err), nil
}

// ResumeWorkflow satisfies a pending interrupt and continues.
func ResumeWorkflow(ctx context.Context, projectDir string, response *core.HumanResponse, autonomous bool, progress core.ProgressCallback) (*RunResult, error) {
	r, err := New(projectDir, Options{Autonomous: autonomous, Progress: progress})
	if err != nil {
		return nil, err
	}
	defer func() { _ = r.Close() }()

	st, err := r.Resume(ctx, response)
	return resultFrom(st, err), nil
}

// Status describes a project workflow for dashboards.
type Status struct {
	Status       string                          `json:"status"`
	Project      string                          `json:"project"`
	CurrentPhase core.Phase                      `json:"current_phase"`
	PhaseStatus  map[core.Phase]core.PhaseStatus `json:"phase_status"`
	Pending      *core.PendingInterrupt          `json:"pending_interrupt,omitempty"`
}

// WorkflowStatus reports a project's workflow progress.
func WorkflowStatus(ctx context.Context, projectDir string) (*Status, error) {
	r, err := New(projectDir, Options{})
	if err != nil {
		return nil, err
	}
	defer func() { _ = r.Close() }()

	st, err := r.State(ctx)
	if err != nil {
		return nil, err
	}
	if st == nil {
		return &Status{Status: "not_started", Project: r.projectName()}, nil
	}

	phases := make(map[core.Phase]core.PhaseStatus, len(st.PhaseStatus))
	for p, ps := range st.PhaseStatus {
		phases[p] = ps.Status
	}
	return &Status{
		Status:       statusLabel(st),
		Project:      st.ProjectName,
		CurrentPhase: st.CurrentPhase,
		PhaseStatus:  phases,
		Pending:      st.PendingInterrupt,
	}, nil
}

// WorkflowDefinition exports the graph representation for UIs.
func WorkflowDefinition(ctx context.Context, projectDir string) (*graph.Definition, error) {
	r, err := New(projectDir, Options{})
	if err != nil {
		return nil, err
	}
	defer func() { _ = r.Close() }()
	return r.Definition(ctx)
}

// RollbackToPhase resets the repository and workflow state to before the
// given phase.
func RollbackToPhase(ctx context.Context, projectDir string, phase core.Phase) error {
	r, err := New(projectDir, Options{})
	if err != nil {
		return err
	}
	defer func() { _ = r.Close() }()
	return r.RollbackToPhase(ctx, phase)
}

// Reset clears workflow progress from a phase on, or everything.
func Reset(ctx context.Context, projectDir string, phase *core.Phase) error {
	r, err := New(projectDir, Options{})
	if err != nil {
		return err
	}
	defer func() { _ = r.Close() }()
	return r.Reset(ctx, phase)
}

func resultFrom(st *core.WorkflowState, err error) *RunResult {
	res := &RunResult{}
	if err != nil {
		res.Error = err.Error()
	}
	if st == nil {
		return res
	}
	res.Phase = st.CurrentPhase
	res.Errors = st.Errors
	res.Pending = st.PendingInterrupt
	if st.PendingInterrupt != nil {
		res.Paused = true
		res.Message = "workflow paused awaiting a human response"
		return res
	}
	res.Success = st.Succeeded() && err == nil
	return res
}

func statusLabel(st *core.WorkflowState) string {
	switch {
	case st.PendingInterrupt != nil:
		return "paused"
	case st.Succeeded():
		return "completed"
	case st.NextDecision == core.DecisionAbort:
		return "failed"
	default:
		return "running"
	}
}
