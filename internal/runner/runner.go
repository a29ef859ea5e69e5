// Package runner is the public facade over the workflow graph: it wires
// the managers together, drives runs and resumptions, and exposes
// status, rollback, and reset operations.
package runner

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/hugo-lorenzo-mato/foreman/internal/adapters/cli"
	"github.com/hugo-lorenzo-mato/foreman/internal/adapters/git"
	"github.com/hugo-lorenzo-mato/foreman/internal/adapters/state"
	"github.com/hugo-lorenzo-mato/foreman/internal/budget"
	"github.com/hugo-lorenzo-mato/foreman/internal/cleanup"
	"github.com/hugo-lorenzo-mato/foreman/internal/config"
	"github.com/hugo-lorenzo-mato/foreman/internal/core"
	"github.com/hugo-lorenzo-mato/foreman/internal/diagnostics"
	"github.com/hugo-lorenzo-mato/foreman/internal/dispatch"
	"github.com/hugo-lorenzo-mato/foreman/internal/errctx"
	"github.com/hugo-lorenzo-mato/foreman/internal/graph"
	"github.com/hugo-lorenzo-mato/foreman/internal/logging"
	"github.com/hugo-lorenzo-mato/foreman/internal/recovery"
	"github.com/hugo-lorenzo-mato/foreman/internal/registry"
	"github.com/hugo-lorenzo-mato/foreman/internal/review"
	"github.com/hugo-lorenzo-mato/foreman/internal/session"
	"github.com/hugo-lorenzo-mato/foreman/internal/verify"
)

// Options configures a Runner beyond the config file.
type Options struct {
	Config     *config.Config // nil loads from the project dir
	Autonomous bool           // AFK mode: no approval interrupts
	Progress   core.ProgressCallback
	Events     EventSink
	Logger     *logging.Logger
}

// Runner owns one project's workflow lifecycle.
type Runner struct {
	projectDir   string
	cfg          *config.Config
	logger       *logging.Logger
	registry     *registry.Registry
	checkpointer core.Checkpointer
	store        *state.SQLiteStore // spend persistence, nil with json backend
	budgets      *budget.Manager
	graph        *graph.Graph
	executor     *graph.Executor
	services     *graph.Services
	autonomous   bool

	lastState *core.WorkflowState
}

// New assembles a runner for a project directory.
func New(projectDir string, opts Options) (*Runner, error) {
	cfg := opts.Config
	if cfg == nil {
		var err error
		cfg, err = config.Load(projectDir)
		if err != nil {
			return nil, err
		}
	}

	logger := opts.Logger
	if logger == nil {
		logger = logging.New(logging.Config{Level: cfg.Log.Level, Format: cfg.Log.Format})
	}

	reg := registry.New()

	checkpointer, err := state.NewCheckpointer(state.Backend(cfg.State.Backend), projectDir)
	if err != nil {
		return nil, err
	}
	var sqlStore *state.SQLiteStore
	var spendStore core.SpendStore
	if s, ok := checkpointer.(*state.SQLiteStore); ok {
		sqlStore = s
		spendStore = s
	}

	sessionStore, err := session.NewFileStore(projectDir)
	if err != nil {
		return nil, err
	}
	sessions := session.NewManager(sessionStore, logger)

	errors, err := errctx.NewManager(projectDir, logger)
	if err != nil {
		return nil, err
	}

	budgets, err := budget.NewManager(context.Background(), core.BudgetLimits{
		ProjectUSD:    cfg.Budget.ProjectUSD,
		TaskUSD:       cfg.Budget.TaskUSD,
		InvocationUSD: cfg.Budget.InvocationUSD,
	}, spendStore, logger)
	if err != nil {
		return nil, err
	}

	var preflight cli.Preflight
	if cfg.Preflight.Enabled {
		preflight = diagnostics.New(projectDir, logger,
			diagnostics.WithMemoryFloor(cfg.Preflight.MinFreeMemoryMB),
			diagnostics.WithDiskFloor(cfg.Preflight.MinFreeDiskMB))
	}

	dispatcher := dispatch.New(projectDir, reg, func(family core.CLIFamily, model string, timeout time.Duration) (core.Adapter, error) {
		return cli.NewAdapter(family, projectDir, cli.Options{
			Exe:       exeFor(cfg, family),
			Model:     model,
			Timeout:   timeout,
			Logger:    logger,
			Preflight: preflight,
		})
	}, logger)

	resolver := review.NewResolver(review.DefaultWeights(), logger)
	cycle := review.NewCycle(dispatcher, reg, resolver, logger,
		review.WithMaxIterations(cfg.Review.MaxIterations),
		review.WithApprovalScore(cfg.Review.ApprovalScore))

	gitClient := git.NewClient(projectDir, logger)
	var worktrees *git.WorktreeManager
	if gitClient.IsRepository(context.Background()) {
		worktrees, err = git.NewWorktreeManager(context.Background(), gitClient)
		if err != nil {
			return nil, err
		}
	}

	taskRunner := &loopTaskRunner{
		projectDir: projectDir,
		cfg:        cfg,
		registry:   reg,
		sessions:   sessions,
		errors:     errors,
		budgets:    budgets,
		preflight:  preflight,
		logger:     logger,
	}

	progress := newEmitter(opts.Events, opts.Progress)

	services := &graph.Services{
		ProjectDir: projectDir,
		SpecPath:   specPath(projectDir, cfg),
		Registry:   reg,
		Dispatcher: dispatcher,
		TaskRunner: taskRunner,
		Cycle:      cycle,
		Resolver:   resolver,
		Recovery:   recovery.NewHandler(projectDir, logger),
		Git:        gitClient,
		Worktrees:  worktrees,
		Cleanup:    cleanup.NewManager(projectDir, logger),
		Verifier: verify.NewDefaultComposite(projectDir, verify.CompositeOptions{
			IncludeTests:    true,
			IncludeLint:     true,
			IncludeSecurity: true,
			RequireAll:      true,
			Timeout:         cfg.Loop.VerifyTimeout,
		}),
		Availability: func(ctx context.Context, family core.CLIFamily) error {
			adapter, err := cli.NewAdapter(family, projectDir, cli.Options{
				Exe: exeFor(cfg, family), Logger: logger,
			})
			if err != nil {
				return err
			}
			return adapter.CheckAvailability(ctx)
		},
		Progress: progress,
		Logger:   logger,
	}

	g, err := graph.BuildWorkflow(services)
	if err != nil {
		return nil, err
	}

	return &Runner{
		projectDir:   projectDir,
		cfg:          cfg,
		logger:       logger,
		registry:     reg,
		checkpointer: checkpointer,
		store:        sqlStore,
		budgets:      budgets,
		graph:        g,
		executor:     graph.NewExecutor(g, checkpointer, progress, logger),
		services:     services,
		autonomous:   opts.Autonomous,
	}, nil
}

// Run starts or resumes the workflow and drives it to a terminal node or
// an interrupt. The returned state is final for this invocation.
func (r *Runner) Run(ctx context.Context, wfcfg core.WorkflowConfig) (*core.WorkflowState, error) {
	cp, err := r.checkpointer.Latest(ctx, r.projectName())
	if err != nil {
		return nil, err
	}

	var st *core.WorkflowState
	if cp != nil && cp.State != nil && !cp.State.Succeeded() {
		st = cp.State
		if st.PendingInterrupt != nil {
			// An unanswered interrupt needs Resume, not Run.
			r.lastState = st
			return st, nil
		}
		r.applyBudgetOverrides(st.Config)
		st, err = r.executor.Resume(ctx, st, cp.Node)
	} else {
		st = core.NewWorkflowState(r.projectName(), r.projectDir, wfcfg)
		if r.autonomous {
			st.ExecutionMode = core.ModeAFK
		}
		r.applyBudgetOverrides(st.Config)
		st, err = r.executor.Run(ctx, st, graph.EntryForPhase(wfcfg.StartPhase))
	}
	r.lastState = st
	return st, err
}

// applyBudgetOverrides narrows the budget manager's caps to the run's
// per-invocation overrides.
func (r *Runner) applyBudgetOverrides(cfg core.WorkflowConfig) {
	if r.budgets == nil {
		return
	}
	r.budgets.ApplyOverrides(cfg.ProjectBudgetUSD, cfg.TaskBudgetUSD)
}

// Resume satisfies a pending interrupt with a human response and
// continues the workflow.
func (r *Runner) Resume(ctx context.Context, response *core.HumanResponse) (*core.WorkflowState, error) {
	cp, err := r.checkpointer.Latest(ctx, r.projectName())
	if err != nil {
		return nil, err
	}
	if cp == nil || cp.State == nil {
		return nil, core.ErrState(core.CodeInvalidState, "nothing to resume: no checkpoint")
	}
	st := cp.State
	if st.PendingInterrupt == nil {
		return nil, core.ErrState(core.CodeInvalidState, "nothing to resume: no pending interrupt")
	}

	st.HumanResponse = response
	st.PendingInterrupt = nil
	r.applyBudgetOverrides(st.Config)
	st, err = r.executor.Resume(ctx, st, cp.Node)
	r.lastState = st
	return st, err
}

// AwaitResponse blocks until a response file for the pending interrupt
// lands in the escalations directory, then resumes with it. This is how
// an AFK run continues without an attached terminal.
func (r *Runner) AwaitResponse(ctx context.Context) (*core.WorkflowState, error) {
	respCh := make(chan *core.HumanResponse, 1)
	w, err := NewEscalationWatcher(r.projectDir, func(_ string, resp *core.HumanResponse) {
		select {
		case respCh <- resp:
		default:
		}
	}, r.logger)
	if err != nil {
		return nil, err
	}

	wctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() { _ = w.Run(wctx) }()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case resp := <-respCh:
		return r.Resume(ctx, resp)
	}
}

// State returns the most recent workflow state, reading the latest
// checkpoint when this runner has not executed yet.
func (r *Runner) State(ctx context.Context) (*core.WorkflowState, error) {
	if r.lastState != nil {
		return r.lastState, nil
	}
	cp, err := r.checkpointer.Latest(ctx, r.projectName())
	if err != nil {
		return nil, err
	}
	if cp == nil {
		return nil, nil
	}
	return cp.State, nil
}

// PendingInterrupt returns the pending interrupt, or nil.
func (r *Runner) PendingInterrupt(ctx context.Context) (*core.PendingInterrupt, error) {
	st, err := r.State(ctx)
	if err != nil || st == nil {
		return nil, err
	}
	return st.PendingInterrupt, nil
}

// Definition exports the graph for UIs, coloured by current state.
func (r *Runner) Definition(ctx context.Context) (*graph.Definition, error) {
	st, err := r.State(ctx)
	if err != nil {
		return nil, err
	}
	return r.graph.Describe(st), nil
}

// RollbackToPhase resets the repository to the commit recorded before
// the phase and prunes checkpoints taken during or after it.
func (r *Runner) RollbackToPhase(ctx context.Context, phase core.Phase) error {
	st, err := r.State(ctx)
	if err != nil {
		return err
	}
	if st == nil {
		return core.ErrState(core.CodeInvalidState, "no workflow state to roll back")
	}
	commit, ok := st.PhaseCommits[phase]
	if !ok {
		return core.ErrNotFound("phase commit", fmt.Sprintf("phase %d", phase))
	}

	if err := r.services.Git.ResetHard(ctx, commit); err != nil {
		return err
	}

	// Drop checkpoints from the first one that reached the phase.
	cps, err := r.checkpointer.List(ctx, r.projectName(), 0)
	if err != nil {
		return err
	}
	var fromSeq int64 = -1
	for i := len(cps) - 1; i >= 0; i-- { // oldest first
		if cps[i].State != nil && cps[i].State.CurrentPhase >= phase {
			fromSeq = cps[i].Sequence
			break
		}
	}
	if fromSeq >= 0 {
		if err := r.checkpointer.Prune(ctx, r.projectName(), fromSeq); err != nil {
			return err
		}
	}
	r.lastState = nil
	return nil
}

// Reset clears workflow progress from the given phase on; a nil phase
// clears everything.
func (r *Runner) Reset(ctx context.Context, phase *core.Phase) error {
	if phase == nil {
		if err := r.checkpointer.Prune(ctx, r.projectName(), 0); err != nil {
			return err
		}
		r.lastState = nil
		return nil
	}
	return r.RollbackToPhase(ctx, *phase)
}

// Heartbeat bumps the liveness marker on the latest checkpoint.
func (r *Runner) Heartbeat(ctx context.Context) error {
	return r.checkpointer.Heartbeat(ctx, r.projectName())
}

// Close releases the checkpoint store.
func (r *Runner) Close() error {
	return r.checkpointer.Close()
}

func (r *Runner) projectName() string {
	if r.cfg.Project.Name != "" {
		return r.cfg.Project.Name
	}
	return filepath.Base(r.projectDir)
}

func specPath(projectDir string, cfg *config.Config) string {
	p := cfg.Project.SpecPath
	if p == "" {
		p = "PRODUCT_SPEC.md"
	}
	if !filepath.IsAbs(p) {
		p = filepath.Join(projectDir, p)
	}
	return p
}
