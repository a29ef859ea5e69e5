package graph

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hugo-lorenzo-mato/foreman/internal/adapters/git"
	"github.com/hugo-lorenzo-mato/foreman/internal/cleanup"
	"github.com/hugo-lorenzo-mato/foreman/internal/core"
	"github.com/hugo-lorenzo-mato/foreman/internal/logging"
	"github.com/hugo-lorenzo-mato/foreman/internal/recovery"
	"github.com/hugo-lorenzo-mato/foreman/internal/registry"
	"github.com/hugo-lorenzo-mato/foreman/internal/review"
	"github.com/hugo-lorenzo-mato/foreman/internal/verify"
)

// Dispatcher is the one-shot invocation surface nodes depend on.
type Dispatcher interface {
	Dispatch(ctx context.Context, task *core.Task) (*core.DispatchResult, error)
	DispatchParallel(ctx context.Context, tasks []*core.Task) []*core.DispatchResult
}

// TaskRunner executes one non-gated task to completion (the unified
// loop). workDir is the directory the agent operates in, normally the
// project or an isolating worktree.
type TaskRunner interface {
	RunTask(ctx context.Context, task *core.Task, workDir string) (success bool, reason string, err error)
}

// AvailabilityProbe checks that a CLI family's binary is reachable.
type AvailabilityProbe func(ctx context.Context, family core.CLIFamily) error

// Services bundles everything the phase nodes call into.
type Services struct {
	ProjectDir   string
	SpecPath     string // product spec the prerequisites node requires
	Registry     *registry.Registry
	Dispatcher   Dispatcher
	TaskRunner   TaskRunner
	Cycle        *review.Cycle
	Resolver     *review.Resolver
	Recovery     *recovery.Handler
	Git          *git.Client
	Worktrees    *git.WorktreeManager
	Cleanup      *cleanup.Manager
	Verifier     verify.Verifier
	Availability AvailabilityProbe
	Progress     core.ProgressCallback
	Logger       *logging.Logger
}

func (s *Services) log() *logging.Logger {
	if s.Logger == nil {
		return logging.NewNop()
	}
	return s.Logger
}

func (s *Services) progress() core.ProgressCallback {
	if s.Progress == nil {
		return core.NopProgress{}
	}
	return s.Progress
}

// --- Phase 0: prerequisites ---

// prerequisitesNode validates the product spec, the workflow directory,
// and agent availability. Failure aborts the workflow.
func prerequisitesNode(s *Services) NodeFunc {
	return func(ctx context.Context, state *core.WorkflowState) (*Delta, error) {
		d := phaseDelta(core.PhasePrerequisites, core.PhaseRunning)

		var failures []string
		specPath := s.SpecPath
		if specPath == "" {
			specPath = filepath.Join(s.ProjectDir, "PRODUCT_SPEC.md")
		}
		if _, err := os.Stat(specPath); err != nil {
			failures = append(failures, fmt.Sprintf("product spec missing at %s", specPath))
		}
		if err := os.MkdirAll(core.WorkflowDir(s.ProjectDir), 0o755); err != nil {
			failures = append(failures, fmt.Sprintf("cannot create workflow directory: %v", err))
		}
		if s.Availability != nil {
			for _, family := range registryFamilies(s.Registry) {
				if err := s.Availability(ctx, family); err != nil {
					failures = append(failures, fmt.Sprintf("%s CLI unavailable: %v", family, err))
				}
			}
		}

		if len(failures) > 0 {
			d = phaseDelta(core.PhasePrerequisites, core.PhaseFailed)
			d.Errors = failures
			d.NextDecision = decision(core.DecisionAbort)
			return d, nil
		}

		d = phaseDelta(core.PhasePrerequisites, core.PhaseCompleted)
		d.NextDecision = decision(core.DecisionContinue)
		return d, nil
	}
}

// registryFamilies returns the distinct primary CLI families in use.
func registryFamilies(reg *registry.Registry) []core.CLIFamily {
	seen := make(map[core.CLIFamily]struct{})
	var out []core.CLIFamily
	for _, spec := range reg.All() {
		if _, ok := seen[spec.PrimaryCLI]; !ok {
			seen[spec.PrimaryCLI] = struct{}{}
			out = append(out, spec.PrimaryCLI)
		}
	}
	return out
}

// --- Phase 1: planning ---

// planningStepNode dispatches the planner once with a step-specific brief.
func planningStepNode(s *Services, step, brief string) NodeFunc {
	return func(ctx context.Context, state *core.WorkflowState) (*Delta, error) {
		task := &core.Task{
			ID:              "plan-" + step,
			Title:           fmt.Sprintf("Planning: %s", step),
			Description:     brief,
			AssignedAgentID: "planner",
		}
		res, err := s.Dispatcher.Dispatch(ctx, task)
		if err != nil {
			return failPhase(core.PhasePlanning, fmt.Sprintf("%s step failed: %v", step, err)), nil
		}
		if res.Status == core.TaskStatusFailed {
			return failPhase(core.PhasePlanning, fmt.Sprintf("%s step failed: %s", step, res.Error)), nil
		}
		return phaseDelta(core.PhasePlanning, core.PhaseRunning), nil
	}
}

// taskBreakdownNode runs the final planning step and parses the plan.
func taskBreakdownNode(s *Services) NodeFunc {
	return func(ctx context.Context, state *core.WorkflowState) (*Delta, error) {
		task := &core.Task{
			ID:              "plan-breakdown",
			Title:           "Planning: task breakdown",
			Description:     "Break the plan into tasks with ids, titles, acceptance criteria, file lists, dependencies, and an assigned agent id. Respond with JSON: {\"tasks\": [...], \"summary\": \"...\"}.",
			AssignedAgentID: "planner",
		}
		res, err := s.Dispatcher.Dispatch(ctx, task)
		if err != nil {
			return failPhase(core.PhasePlanning, fmt.Sprintf("task breakdown failed: %v", err)), nil
		}

		plan, perr := parsePlan(res.Output)
		if perr != nil {
			return failPhase(core.PhasePlanning, fmt.Sprintf("unusable plan: %v", perr)), nil
		}

		d := phaseDelta(core.PhasePlanning, core.PhaseCompleted)
		d.Plan = plan
		d.NextDecision = decision(core.DecisionContinue)
		return d, nil
	}
}

// parsePlan extracts a Plan from the planner's JSON output.
func parsePlan(output map[string]interface{}) (*core.Plan, error) {
	raw, ok := output["tasks"]
	if !ok {
		return nil, fmt.Errorf("planner output has no tasks field")
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return nil, err
	}
	var tasks []core.Task
	if err := json.Unmarshal(data, &tasks); err != nil {
		return nil, fmt.Errorf("tasks field is not a task list: %w", err)
	}
	if len(tasks) == 0 {
		return nil, fmt.Errorf("planner produced zero tasks")
	}
	summary, _ := output["summary"].(string)
	return &core.Plan{Tasks: tasks, Summary: summary, CreatedAt: time.Now()}, nil
}

// --- Phases 2 and 4: reviewer fan-out ---

// reviewFanOutNode runs two independent reviewers concurrently and
// stores their feedback under the given state key set.
func reviewFanOutNode(s *Services, phase core.Phase, reviewerIDs []string, subject string) NodeFunc {
	return func(ctx context.Context, state *core.WorkflowState) (*Delta, error) {
		if len(reviewerIDs) < 2 {
			return failPhase(phase, "fewer than two reviewers configured"), nil
		}

		feedback := make([]core.ReviewFeedback, len(reviewerIDs))
		g, gctx := errgroup.WithContext(ctx)
		for i, rid := range reviewerIDs {
			g.Go(func() error {
				task := &core.Task{
					ID:              fmt.Sprintf("phase%d-review-%s", phase, rid),
					Title:           subject,
					Description:     reviewBrief(state, subject),
					AssignedAgentID: rid,
				}
				res, err := s.Dispatcher.Dispatch(gctx, task)
				if err != nil {
					feedback[i] = core.ReviewFeedback{
						ReviewerID:     rid,
						BlockingIssues: []string{fmt.Sprintf("reviewer failed: %v", err)},
					}
					return nil
				}
				feedback[i] = feedbackFromOutput(rid, res)
				return nil
			})
		}
		_ = g.Wait()

		d := phaseDelta(phase, core.PhaseRunning)
		fbMap := make(map[string]core.ReviewFeedback, len(feedback))
		for _, fb := range feedback {
			fbMap[fb.ReviewerID] = fb
		}
		if phase == core.PhaseValidation {
			d.ValidationFeedback = fbMap
		} else {
			d.VerificationFeedback = fbMap
		}
		return d, nil
	}
}

func reviewBrief(state *core.WorkflowState, subject string) string {
	brief := subject
	if state.Plan != nil {
		brief += fmt.Sprintf("\n\nPlan summary: %s (%d tasks)", state.Plan.Summary, len(state.Plan.Tasks))
	}
	if len(state.CompletedTaskIDs) > 0 {
		brief += fmt.Sprintf("\nCompleted tasks: %v", state.CompletedTaskIDs)
	}
	brief += "\n\nRespond with JSON including score (0-10), approved, blocking_issues, suggestions, security_findings."
	return brief
}

func feedbackFromOutput(reviewerID string, res *core.DispatchResult) core.ReviewFeedback {
	fb := core.ReviewFeedback{ReviewerID: reviewerID, CLI: res.CLIUsed}
	if res.Output == nil {
		fb.BlockingIssues = []string{"reviewer produced no output"}
		return fb
	}
	if v, ok := res.Output["approved"].(bool); ok {
		fb.Approved = v
	}
	if v, ok := res.Output["score"].(float64); ok {
		fb.Score = v
	}
	fb.BlockingIssues = anyStrings(res.Output["blocking_issues"])
	fb.Suggestions = anyStrings(res.Output["suggestions"])
	fb.SecurityFindings = anyStrings(res.Output["security_findings"])
	return fb
}

func anyStrings(v interface{}) []string {
	items, ok := v.([]interface{})
	if !ok {
		return nil
	}
	var out []string
	for _, it := range items {
		if s, ok := it.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// approvalGateNode resolves the fan-out feedback into continue, retry,
// or an approval interrupt for HITL mode.
func approvalGateNode(s *Services, phase core.Phase) NodeFunc {
	return func(ctx context.Context, state *core.WorkflowState) (*Delta, error) {
		fbMap := state.ValidationFeedback
		if phase == core.PhaseVerification {
			fbMap = state.VerificationFeedback
		}
		reviews := make([]core.ReviewFeedback, 0, len(fbMap))
		for _, fb := range fbMap {
			reviews = append(reviews, fb)
		}
		if len(reviews) < 2 {
			return failPhase(phase, "approval gate needs two reviews"), nil
		}

		res := s.Resolver.Resolve(reviews[0], reviews[1])
		switch res.Action {
		case core.ActionApprove:
			d := phaseDelta(phase, core.PhaseCompleted)
			d.NextDecision = decision(core.DecisionContinue)
			if state.ExecutionMode == core.ModeHITL {
				d.PendingInterrupt = approvalInterrupt(phase, reviews, res)
			}
			return d, nil
		case core.ActionEscalate:
			d := phaseDelta(phase, core.PhaseRunning)
			d.NextDecision = decision(core.DecisionEscalate)
			d.Errors = []string{res.DecisionReason}
			return d, nil
		default:
			d := phaseDelta(phase, core.PhaseRunning)
			d.NextDecision = decision(core.DecisionRetry)
			d.Errors = []string{res.DecisionReason}
			retries := state.RetryCount + 1
			d.RetryCount = &retries
			return d, nil
		}
	}
}

func approvalInterrupt(phase core.Phase, reviews []core.ReviewFeedback, res *core.ResolutionResult) *core.PendingInterrupt {
	scores := make(map[string]float64, len(reviews))
	for _, fb := range reviews {
		scores[fb.ReviewerID] = fb.Score
	}
	return &core.PendingInterrupt{
		Type:         core.InterruptApprovalRequired,
		Phase:        phase,
		ApprovalType: fmt.Sprintf("phase_%d_gate", phase),
		Summary:      res.DecisionReason,
		Scores:       scores,
	}
}

// --- Phase 3: implementation ---

// implementationNode executes the plan's tasks in dependency order.
// Gated tasks go through the review cycle; the rest through the loop
// runner. Each task's spend of effort ends with cleanup.
func implementationNode(s *Services) NodeFunc {
	return func(ctx context.Context, state *core.WorkflowState) (*Delta, error) {
		if state.Plan == nil || len(state.Plan.Tasks) == 0 {
			return failPhase(core.PhaseImplementation, "no plan to implement"), nil
		}

		d := phaseDelta(core.PhaseImplementation, core.PhaseRunning)
		if state.Config.SkipValidation {
			d.PhaseStatus[core.PhaseValidation] = &core.PhaseState{Status: core.PhaseSkipped}
		}
		if s.Git != nil && s.Git.IsRepository(ctx) {
			if head, err := s.Git.Head(ctx); err == nil {
				d.PhaseCommits = map[core.Phase]string{core.PhaseImplementation: head}
			}
		}

		log := s.log().WithPhase(int(core.PhaseImplementation))
		var blocked, completed []string

		for _, id := range state.Plan.TopologicalOrder() {
			if err := ctx.Err(); err != nil {
				return d, err
			}
			task := state.Plan.TaskByID(id)
			if task == nil || state.IsTaskCompleted(id) {
				continue
			}
			if depsBlocked(task, blocked) {
				blocked = append(blocked, id)
				continue
			}

			s.progress().OnTaskStart(id)
			ok, reason := s.runTask(ctx, task)
			if ok {
				completed = append(completed, id)
				s.progress().OnTaskComplete(id)
				if s.Cleanup != nil {
					s.Cleanup.OnTaskDone(id, true)
				}
			} else {
				blocked = append(blocked, id)
				d.Errors = append(d.Errors, fmt.Sprintf("task %s: %s", id, reason))
				log.Warn("task did not complete", "task_id", id, "reason", reason)
			}
		}

		d.CompletedTaskIDs = completed
		d.BlockedTaskIDs = blocked
		if len(blocked) > 0 {
			d.NextDecision = decision(core.DecisionEscalate)
			return d, nil
		}

		d.PhaseStatus[core.PhaseImplementation] = &core.PhaseState{Status: core.PhaseCompleted}
		d.NextDecision = decision(core.DecisionContinue)
		return d, nil
	}
}

// runTask executes one task, isolating non-gated work in a git worktree
// when a worktree manager is available. Successful worktree runs are
// folded back into the main repository before the worktree is removed.
func (s *Services) runTask(ctx context.Context, task *core.Task) (bool, string) {
	if s.Worktrees == nil || task.ReviewGated {
		return s.runOne(ctx, task, s.ProjectDir)
	}

	path, err := s.Worktrees.Create(ctx, task.ID)
	if err != nil {
		s.log().Warn("worktree create failed, running in place",
			"task_id", task.ID, "error", err)
		return s.runOne(ctx, task, s.ProjectDir)
	}
	defer func() {
		_ = s.Worktrees.Remove(context.WithoutCancel(ctx), path, true)
	}()

	ok, reason := s.runOne(ctx, task, path)
	if !ok {
		return false, reason
	}
	if _, err := s.Worktrees.Merge(ctx, path, fmt.Sprintf("task %s: %s", task.ID, task.Title)); err != nil {
		return false, fmt.Sprintf("worktree merge failed: %v", err)
	}
	return true, ""
}

// runOne executes a single task through the right engine, consulting the
// recovery handler before giving up on a typed failure. A policy that
// grants continuation buys the task exactly one more attempt.
func (s *Services) runOne(ctx context.Context, task *core.Task, workDir string) (bool, string) {
	ok, reason, err := s.execOnce(ctx, task, workDir)
	if ok || err == nil {
		return ok, reason
	}
	if s.Recovery == nil {
		return false, err.Error()
	}

	out, herr := s.Recovery.Handle(ctx, task.ID, err, true, nil)
	if herr != nil || out == nil {
		return false, err.Error()
	}
	if out.ShouldContinue {
		ok, reason, err = s.execOnce(ctx, task, workDir)
		if ok {
			return true, ""
		}
		if err != nil {
			return false, err.Error()
		}
		return false, reason
	}
	if out.Escalation != nil {
		return false, out.Escalation.Reason
	}
	return false, err.Error()
}

// execOnce makes a single attempt at a task.
func (s *Services) execOnce(ctx context.Context, task *core.Task, workDir string) (bool, string, error) {
	if task.ReviewGated && s.Cycle != nil {
		res, err := s.Cycle.Run(ctx, task)
		if err != nil {
			return false, "", err
		}
		if res.Status == review.CycleApproved {
			return true, "", nil
		}
		return false, res.Reason, nil
	}
	if s.TaskRunner == nil {
		return false, "no task runner configured", nil
	}
	return s.TaskRunner.RunTask(ctx, task, workDir)
}

func depsBlocked(task *core.Task, blocked []string) bool {
	for _, dep := range task.Dependencies {
		for _, b := range blocked {
			if dep == b {
				return true
			}
		}
	}
	return false
}

// qualityGatesNode runs the project-level verification composite after
// implementation: build, tests, security scan.
func qualityGatesNode(s *Services) NodeFunc {
	return func(ctx context.Context, state *core.WorkflowState) (*Delta, error) {
		if s.Verifier == nil {
			return phaseDelta(core.PhaseImplementation, core.PhaseCompleted), nil
		}
		vr, err := s.Verifier.Verify(ctx, verify.Context{
			ProjectDir: s.ProjectDir,
			Timeout:    5 * time.Minute,
		})
		if err != nil {
			return nil, err
		}
		if !vr.Passed {
			d := phaseDelta(core.PhaseImplementation, core.PhaseRunning)
			d.NextDecision = decision(core.DecisionRetry)
			d.Errors = append([]string{"quality gates failed: " + vr.Summary}, vr.Failures...)
			return d, nil
		}
		d := phaseDelta(core.PhaseImplementation, core.PhaseCompleted)
		d.NextDecision = decision(core.DecisionContinue)
		return d, nil
	}
}

// --- Phase 5: completion ---

// completionNode finalises the workflow and records the phase file.
func completionNode(s *Services) NodeFunc {
	return func(ctx context.Context, state *core.WorkflowState) (*Delta, error) {
		summary := map[string]interface{}{
			"project":         state.ProjectName,
			"completed_tasks": state.CompletedTaskIDs,
			"blocked_tasks":   state.BlockedTaskIDs,
			"errors":          len(state.Errors),
			"finished_at":     time.Now().UTC(),
		}
		writePhaseRecord(s.ProjectDir, core.PhaseCompletion, summary)

		d := phaseDelta(core.PhaseCompletion, core.PhaseCompleted)
		d.CurrentPhase = phasePtr(core.PhaseCompletion)
		d.NextDecision = decision(core.DecisionContinue)
		return d, nil
	}
}

// writePhaseRecord persists a PERMANENT per-phase completion record.
func writePhaseRecord(projectDir string, phase core.Phase, payload map[string]interface{}) {
	dir := filepath.Join(core.WorkflowDir(projectDir), core.PhasesDirName)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return
	}
	data, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return
	}
	_ = os.WriteFile(filepath.Join(dir, fmt.Sprintf("%d.json", phase)), data, 0o644)
}

// --- Cross-phase: escalation and fixer ---

// escalationNode suspends the workflow with an escalation interrupt
// built from the accumulated errors. The interrupt is also persisted
// through the recovery handler so out-of-band responders (and the
// escalation watcher) can pick it up from disk.
func escalationNode(s *Services) NodeFunc {
	return func(ctx context.Context, state *core.WorkflowState) (*Delta, error) {
		issue := "workflow requires a human decision"
		if len(state.Errors) > 0 {
			issue = state.Errors[len(state.Errors)-1]
		}
		actions := []string{"retry", "skip", "abort"}

		if s.Recovery != nil {
			key := state.CurrentTaskID
			if key == "" {
				key = fmt.Sprintf("phase-%d", state.CurrentPhase)
			}
			out, err := s.Recovery.Handle(ctx, key,
				core.ErrState("WORKFLOW_ESCALATION", issue), true, nil)
			if err == nil && out != nil && out.Escalation != nil && len(out.Escalation.Options) > 0 {
				actions = out.Escalation.Options
			}
		}

		return &Delta{
			PendingInterrupt: &core.PendingInterrupt{
				Type:             core.InterruptEscalation,
				Phase:            state.CurrentPhase,
				Issue:            issue,
				SuggestedActions: actions,
				RetryCount:       state.RetryCount,
				MaxRetries:       state.MaxRetries,
			},
		}, nil
	}
}

// errorDispatchNode decides whether a failure is worth auto-healing.
// A spent retry budget means a human decides.
func errorDispatchNode(_ *Services) NodeFunc {
	return func(ctx context.Context, state *core.WorkflowState) (*Delta, error) {
		if state.RetryCount >= state.MaxRetries {
			return &Delta{NextDecision: decision(core.DecisionEscalate)}, nil
		}
		return &Delta{NextDecision: decision(core.DecisionRetry)}, nil
	}
}

// fixerNode routes auto-healable failures through the fixer agent:
// triage, apply, verify in one dispatch plus a verification pass.
func fixerNode(s *Services) NodeFunc {
	return func(ctx context.Context, state *core.WorkflowState) (*Delta, error) {
		issue := "unknown failure"
		if len(state.Errors) > 0 {
			issue = state.Errors[len(state.Errors)-1]
		}
		task := &core.Task{
			ID:              fmt.Sprintf("fix-phase%d-r%d", state.CurrentPhase, state.RetryCount),
			Title:           "Diagnose and repair workflow failure",
			Description:     "Failure to repair:\n" + issue + "\n\nTriage the failure, identify the root cause, apply the minimal fix, and re-run the affected checks.",
			AssignedAgentID: "fixer",
		}
		res, err := s.Dispatcher.Dispatch(ctx, task)
		if err != nil || res.Status != core.TaskStatusCompleted {
			d := &Delta{NextDecision: decision(core.DecisionEscalate)}
			if err != nil {
				d.Errors = []string{fmt.Sprintf("fixer failed: %v", err)}
			}
			return d, nil
		}

		if s.Verifier != nil {
			vr, verr := s.Verifier.Verify(ctx, verify.Context{ProjectDir: s.ProjectDir})
			if verr != nil {
				return nil, verr
			}
			if !vr.Passed {
				return &Delta{
					NextDecision: decision(core.DecisionEscalate),
					Errors:       []string{"fix did not hold: " + vr.Summary},
				}, nil
			}
		}
		return &Delta{NextDecision: decision(core.DecisionRetry)}, nil
	}
}

// failPhase marks a phase failed and records the reason.
func failPhase(phase core.Phase, reason string) *Delta {
	d := phaseDelta(phase, core.PhaseFailed)
	d.Errors = []string{reason}
	d.NextDecision = decision(core.DecisionAbort)
	return d
}
