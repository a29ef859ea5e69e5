// Package dispatch performs one-shot agent invocations for single-pass
// work: planning, reviewing, and fix-ups that need no retry loop.
package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"golang.org/x/sync/errgroup"

	"github.com/hugo-lorenzo-mato/foreman/internal/core"
	"github.com/hugo-lorenzo-mato/foreman/internal/logging"
	"github.com/hugo-lorenzo-mato/foreman/internal/registry"
)

// AdapterFactory builds an adapter for a CLI family. Injected so tests
// can substitute fakes without touching real binaries.
type AdapterFactory func(family core.CLIFamily, model string, timeout time.Duration) (core.Adapter, error)

// Dispatcher runs one agent once and shapes its output.
type Dispatcher struct {
	projectDir  string
	registry    *registry.Registry
	newAdapter  AdapterFactory
	schemaPath  string
	maxParallel int
	logger      *logging.Logger
}

// Option customises a Dispatcher.
type Option func(*Dispatcher)

// WithOutputSchema validates agent output against a JSON schema file.
func WithOutputSchema(path string) Option {
	return func(d *Dispatcher) { d.schemaPath = path }
}

// WithMaxParallel bounds concurrent dispatches in DispatchParallel.
func WithMaxParallel(n int) Option {
	return func(d *Dispatcher) { d.maxParallel = n }
}

// New creates a dispatcher.
func New(projectDir string, reg *registry.Registry, factory AdapterFactory, logger *logging.Logger, opts ...Option) *Dispatcher {
	if logger == nil {
		logger = logging.NewNop()
	}
	d := &Dispatcher{
		projectDir:  projectDir,
		registry:    reg,
		newAdapter:  factory,
		maxParallel: 4,
		logger:      logger,
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Dispatch runs the task's assigned agent once. Subprocess timeouts are
// failed results; permission and schema violations are typed errors.
func (d *Dispatcher) Dispatch(ctx context.Context, task *core.Task) (*core.DispatchResult, error) {
	return d.dispatch(ctx, task, false)
}

func (d *Dispatcher) dispatch(ctx context.Context, task *core.Task, useBackup bool) (*core.DispatchResult, error) {
	spec, err := d.registry.Get(task.AssignedAgentID)
	if err != nil {
		return nil, err
	}

	if err := d.validateAssignment(spec, task); err != nil {
		return nil, err
	}

	agentContext := d.readOptional(spec.ContextFilePath)
	toolPolicy := d.readOptional(filepath.Join(core.WorkflowDirName, "policies", spec.ID+".md"))
	prompt := buildPrompt(spec, task, agentContext, toolPolicy)

	family := spec.PrimaryCLI
	if useBackup {
		family = spec.BackupCLI
	}
	adapter, err := d.newAdapter(family, spec.DefaultModel, spec.Timeout)
	if err != nil {
		return nil, err
	}

	log := d.logger.WithTask(task.ID).WithAgent(spec.ID)
	start := time.Now()
	ir, err := adapter.RunIteration(ctx, core.InvokeOptions{
		Prompt:  prompt,
		Model:   spec.DefaultModel,
		Timeout: spec.Timeout,
	})
	if err != nil {
		return nil, err
	}

	// Non-zero exit gets one shot at the backup CLI.
	if !ir.Success && !useBackup && spec.BackupCLI != "" {
		log.Warn("primary CLI failed, retrying with backup",
			"primary", string(spec.PrimaryCLI), "backup", string(spec.BackupCLI))
		return d.dispatch(ctx, task, true)
	}

	output := ir.ParsedOutput
	if output == nil {
		output = map[string]interface{}{"raw_output": ir.RawOutput}
	}

	if d.schemaPath != "" {
		if err := d.validateOutput(spec.ID, output); err != nil {
			return nil, err
		}
	}

	res := &core.DispatchResult{
		TaskID:        task.ID,
		AgentID:       spec.ID,
		Status:        statusOf(ir, output),
		Output:        output,
		FilesCreated:  stringSlice(output["files_created"]),
		FilesModified: filesModified(ir, output),
		ExecutionTime: time.Since(start),
		CLIUsed:       family,
		Iteration:     task.Iteration,
		Error:         ir.Error,
		NeedsReview:   !spec.IsReviewer,
	}
	log.Info("dispatch finished",
		"status", string(res.Status), "cli", string(family), "duration", res.ExecutionTime)
	return res, nil
}

// DispatchParallel fans out tasks concurrently. Failures become failed
// results; nothing propagates.
func (d *Dispatcher) DispatchParallel(ctx context.Context, tasks []*core.Task) []*core.DispatchResult {
	results := make([]*core.DispatchResult, len(tasks))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.maxParallel)
	for i, task := range tasks {
		g.Go(func() error {
			res, err := d.Dispatch(gctx, task)
			if err != nil {
				res = &core.DispatchResult{
					TaskID:  task.ID,
					AgentID: task.AssignedAgentID,
					Status:  core.TaskStatusFailed,
					Error:   err.Error(),
				}
			}
			results[i] = res
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// validateAssignment enforces the registry's write-permission predicate
// over every expected output file.
func (d *Dispatcher) validateAssignment(spec core.AgentSpec, task *core.Task) error {
	expected := append(append([]string{}, task.FilesToCreate...), task.FilesToModify...)
	for _, f := range expected {
		ok, err := d.registry.IsWritablePath(spec.ID, f)
		if err != nil {
			return err
		}
		if !ok {
			return &core.InvalidTaskAssignment{
				TaskID:  task.ID,
				AgentID: spec.ID,
				Reason:  fmt.Sprintf("agent may not write %s", f),
			}
		}
	}
	return nil
}

// validateOutput checks agent output against the configured JSON schema.
// A missing or unloadable schema is logged and skipped; validation errors
// are typed.
func (d *Dispatcher) validateOutput(agentID string, output map[string]interface{}) error {
	compiler := jsonschema.NewCompiler()
	schema, err := compiler.Compile(d.schemaPath)
	if err != nil {
		d.logger.Warn("output schema unavailable, skipping validation",
			"path", d.schemaPath, "error", err)
		return nil
	}
	if err := schema.Validate(normalise(output)); err != nil {
		return &core.InvalidAgentOutput{
			AgentID: agentID,
			Errors:  []string{err.Error()},
		}
	}
	return nil
}

// normalise round-trips through JSON so the validator sees plain types.
func normalise(v map[string]interface{}) interface{} {
	data, err := json.Marshal(v)
	if err != nil {
		return v
	}
	var out interface{}
	if err := json.Unmarshal(data, &out); err != nil {
		return v
	}
	return out
}

func (d *Dispatcher) readOptional(rel string) string {
	if rel == "" {
		return ""
	}
	path := rel
	if !filepath.IsAbs(path) {
		path = filepath.Join(d.projectDir, rel)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	return string(data)
}

// statusOf maps an iteration result to a task status, honouring an
// explicit status field in the agent's JSON when present.
func statusOf(ir *core.IterationResult, output map[string]interface{}) core.TaskStatus {
	if s, ok := output["status"].(string); ok {
		switch core.TaskStatus(strings.ToLower(s)) {
		case core.TaskStatusCompleted, core.TaskStatusPartial, core.TaskStatusFailed,
			core.TaskStatusBlocked, core.TaskStatusNeedsClarification:
			return core.TaskStatus(strings.ToLower(s))
		}
	}
	if ir.Success {
		return core.TaskStatusCompleted
	}
	return core.TaskStatusFailed
}

func filesModified(ir *core.IterationResult, output map[string]interface{}) []string {
	if fm := stringSlice(output["files_modified"]); len(fm) > 0 {
		return fm
	}
	return ir.FilesChanged
}

func stringSlice(v interface{}) []string {
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
