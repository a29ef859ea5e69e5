package dispatch

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hugo-lorenzo-mato/foreman/internal/core"
	"github.com/hugo-lorenzo-mato/foreman/internal/registry"
)

// scriptedAdapter returns canned iteration results keyed by family.
type scriptedAdapter struct {
	family core.CLIFamily
	result *core.IterationResult
	err    error
}

func (a *scriptedAdapter) Family() core.CLIFamily          { return a.family }
func (a *scriptedAdapter) Capabilities() core.Capabilities { return core.Capabilities{} }

func (a *scriptedAdapter) RunIteration(context.Context, core.InvokeOptions) (*core.IterationResult, error) {
	return a.result, a.err
}

func (a *scriptedAdapter) CheckAvailability(context.Context) error { return nil }

// fixedFactory builds scripted adapters per family.
func fixedFactory(byFamily map[core.CLIFamily]*scriptedAdapter) AdapterFactory {
	return func(family core.CLIFamily, _ string, _ time.Duration) (core.Adapter, error) {
		a, ok := byFamily[family]
		if !ok {
			return nil, errors.New("no adapter for family")
		}
		a.family = family
		return a, nil
	}
}

func builderSpec() core.AgentSpec {
	return core.AgentSpec{
		ID:               "builder",
		Name:             "Builder",
		PrimaryCLI:       core.FamilyClaude,
		BackupCLI:        core.FamilyCursor,
		CanWriteFiles:    true,
		AllowedPathGlobs: []string{"src/**", "internal/**"},
		Timeout:          time.Minute,
	}
}

func okResult() *core.IterationResult {
	return &core.IterationResult{
		Success: true,
		ParsedOutput: map[string]interface{}{
			"status":         "completed",
			"files_created":  []interface{}{"src/api.go"},
			"files_modified": []interface{}{"src/main.go"},
		},
	}
}

func newTask() *core.Task {
	return &core.Task{
		ID:              "t1",
		Title:           "Add API handler",
		AssignedAgentID: "builder",
		FilesToCreate:   []string{"src/api.go"},
		Iteration:       1,
	}
}

func TestDispatchSuccess(t *testing.T) {
	reg := registry.New(builderSpec())
	factory := fixedFactory(map[core.CLIFamily]*scriptedAdapter{
		core.FamilyClaude: {result: okResult()},
	})
	d := New(t.TempDir(), reg, factory, nil)

	res, err := d.Dispatch(context.Background(), newTask())
	require.NoError(t, err)
	assert.Equal(t, core.TaskStatusCompleted, res.Status)
	assert.Equal(t, core.FamilyClaude, res.CLIUsed)
	assert.Equal(t, []string{"src/api.go"}, res.FilesCreated)
	assert.Equal(t, []string{"src/main.go"}, res.FilesModified)
	assert.True(t, res.NeedsReview, "working agents need review")
}

func TestDispatchFallsBackToBackupCLI(t *testing.T) {
	reg := registry.New(builderSpec())
	factory := fixedFactory(map[core.CLIFamily]*scriptedAdapter{
		core.FamilyClaude: {result: &core.IterationResult{Success: false, ExitCode: 1, Error: "crashed"}},
		core.FamilyCursor: {result: okResult()},
	})
	d := New(t.TempDir(), reg, factory, nil)

	res, err := d.Dispatch(context.Background(), newTask())
	require.NoError(t, err)
	assert.Equal(t, core.TaskStatusCompleted, res.Status)
	assert.Equal(t, core.FamilyCursor, res.CLIUsed, "backup CLI produced the result")
}

func TestDispatchBackupFailureStaysFailed(t *testing.T) {
	reg := registry.New(builderSpec())
	factory := fixedFactory(map[core.CLIFamily]*scriptedAdapter{
		core.FamilyClaude: {result: &core.IterationResult{Success: false, ExitCode: 1}},
		core.FamilyCursor: {result: &core.IterationResult{Success: false, ExitCode: 2, Error: "also crashed"}},
	})
	d := New(t.TempDir(), reg, factory, nil)

	res, err := d.Dispatch(context.Background(), newTask())
	require.NoError(t, err)
	assert.Equal(t, core.TaskStatusFailed, res.Status)
	assert.Equal(t, core.FamilyCursor, res.CLIUsed)
	assert.Equal(t, "also crashed", res.Error)
}

func TestDispatchRejectsForbiddenPaths(t *testing.T) {
	reg := registry.New(builderSpec())
	d := New(t.TempDir(), reg, fixedFactory(nil), nil)

	task := newTask()
	task.FilesToModify = []string{".git/config"}

	_, err := d.Dispatch(context.Background(), task)
	var invalid *core.InvalidTaskAssignment
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, "t1", invalid.TaskID)
	assert.Equal(t, "builder", invalid.AgentID)
}

func TestDispatchUnknownAgent(t *testing.T) {
	d := New(t.TempDir(), registry.New(builderSpec()), fixedFactory(nil), nil)

	task := newTask()
	task.AssignedAgentID = "ghost"

	_, err := d.Dispatch(context.Background(), task)
	assert.True(t, core.IsCategory(err, core.ErrCatNotFound))
}

func TestDispatchRawOutputFallback(t *testing.T) {
	reg := registry.New(builderSpec())
	factory := fixedFactory(map[core.CLIFamily]*scriptedAdapter{
		core.FamilyClaude: {result: &core.IterationResult{Success: true, RawOutput: "free text, no JSON"}},
	})
	d := New(t.TempDir(), reg, factory, nil)

	res, err := d.Dispatch(context.Background(), newTask())
	require.NoError(t, err)
	assert.Equal(t, "free text, no JSON", res.Output["raw_output"])
	assert.Equal(t, core.TaskStatusCompleted, res.Status)
}

func TestDispatchParallelConvertsErrorsToFailedResults(t *testing.T) {
	reg := registry.New(builderSpec())
	factory := fixedFactory(map[core.CLIFamily]*scriptedAdapter{
		core.FamilyClaude: {result: okResult()},
	})
	d := New(t.TempDir(), reg, factory, nil, WithMaxParallel(2))

	bad := newTask()
	bad.ID = "t2"
	bad.AssignedAgentID = "ghost"

	results := d.DispatchParallel(context.Background(), []*core.Task{newTask(), bad})
	require.Len(t, results, 2)
	assert.Equal(t, core.TaskStatusCompleted, results[0].Status)
	assert.Equal(t, core.TaskStatusFailed, results[1].Status)
	assert.Equal(t, "t2", results[1].TaskID)
	assert.NotEmpty(t, results[1].Error)
}

func TestStatusOfHonoursExplicitStatus(t *testing.T) {
	tests := []struct {
		name   string
		ir     *core.IterationResult
		output map[string]interface{}
		want   core.TaskStatus
	}{
		{"explicit blocked wins over success", &core.IterationResult{Success: true},
			map[string]interface{}{"status": "blocked"}, core.TaskStatusBlocked},
		{"explicit uppercase normalised", &core.IterationResult{Success: false},
			map[string]interface{}{"status": "COMPLETED"}, core.TaskStatusCompleted},
		{"unknown status falls back to exit", &core.IterationResult{Success: true},
			map[string]interface{}{"status": "sideways"}, core.TaskStatusCompleted},
		{"no status failure", &core.IterationResult{Success: false},
			map[string]interface{}{}, core.TaskStatusFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, statusOf(tt.ir, tt.output))
		})
	}
}

func TestBuildPromptShape(t *testing.T) {
	spec := builderSpec()
	spec.CompletionPatterns = []string{"WORK_DONE"}
	task := newTask()
	task.Description = "Wire the new endpoint."
	task.AcceptanceCriteria = []string{"returns 200"}
	task.Iteration = 2
	task.PreviousFeedback = []core.ReviewFeedback{{
		ReviewerID:     "reviewer-security",
		Score:          4.5,
		BlockingIssues: []string{"SQL injection in handler"},
	}}

	p := buildPrompt(spec, task, "You are the builder.", "No shell access.")

	assert.Contains(t, p, "You are the builder.")
	assert.Contains(t, p, "## Tool Policy\nNo shell access.")
	assert.Contains(t, p, "# Task t1: Add API handler")
	assert.Contains(t, p, "- returns 200")
	assert.Contains(t, p, "## Previous Review Feedback")
	assert.Contains(t, p, "BLOCKING: SQL injection in handler")
	assert.Contains(t, p, "completion sentinel: WORK_DONE")
}

func TestBuildPromptReviewerAsksForScore(t *testing.T) {
	spec := builderSpec()
	spec.IsReviewer = true

	p := buildPrompt(spec, newTask(), "", "")
	assert.Contains(t, p, "`score` (0-10)")
	assert.NotContains(t, p, "completion sentinel")
}
