package runner

import (
	"context"

	"github.com/hugo-lorenzo-mato/foreman/internal/adapters/cli"
	"github.com/hugo-lorenzo-mato/foreman/internal/budget"
	"github.com/hugo-lorenzo-mato/foreman/internal/config"
	"github.com/hugo-lorenzo-mato/foreman/internal/core"
	"github.com/hugo-lorenzo-mato/foreman/internal/errctx"
	"github.com/hugo-lorenzo-mato/foreman/internal/loop"
	"github.com/hugo-lorenzo-mato/foreman/internal/logging"
	"github.com/hugo-lorenzo-mato/foreman/internal/registry"
	"github.com/hugo-lorenzo-mato/foreman/internal/session"
	"github.com/hugo-lorenzo-mato/foreman/internal/verify"
)

// loopTaskRunner executes non-gated tasks through the unified loop,
// building a fresh adapter per task from the assigned agent's spec.
type loopTaskRunner struct {
	projectDir string
	cfg        *config.Config
	registry   *registry.Registry
	sessions   *session.Manager
	errors     *errctx.Manager
	budgets    *budget.Manager
	preflight  cli.Preflight
	logger     *logging.Logger
}

// RunTask drives one task to completion or exhaustion. An empty workDir
// falls back to the project directory; a worktree path scopes the agent,
// the verifier, and the loop to that tree.
func (r *loopTaskRunner) RunTask(ctx context.Context, task *core.Task, workDir string) (bool, string, error) {
	if workDir == "" {
		workDir = r.projectDir
	}
	spec, err := r.registry.Get(task.AssignedAgentID)
	if err != nil {
		return false, "", err
	}

	adapter, err := cli.NewAdapter(spec.PrimaryCLI, workDir, cli.Options{
		Exe:       exeFor(r.cfg, spec.PrimaryCLI),
		Model:     spec.DefaultModel,
		Timeout:   spec.Timeout,
		Logger:    r.logger,
		Preflight: r.preflight,
	})
	if err != nil {
		return false, "", err
	}

	verifier := verify.NewDefaultComposite(workDir, verify.CompositeOptions{
		IncludeTests: true,
		RequireAll:   true,
		Timeout:      r.cfg.Loop.VerifyTimeout,
	})

	lcfg := loop.DefaultConfig()
	lcfg.MaxIterations = r.cfg.Loop.MaxIterations
	if spec.MaxIterations > 0 {
		lcfg.MaxIterations = spec.MaxIterations
	}
	lcfg.IterTimeout = r.cfg.Loop.IterTimeout
	lcfg.VerifyTimeout = r.cfg.Loop.VerifyTimeout
	lcfg.Model = spec.DefaultModel
	lcfg.MaxBudgetUSD = r.cfg.Budget.TaskUSD

	lr := loop.NewRunner(workDir, adapter, verifier, lcfg, r.logger).
		WithSessions(r.sessions).
		WithErrorContext(r.errors).
		WithBudget(r.budgets)

	res, err := lr.Run(ctx, task, "", nil)
	if err != nil {
		return false, "", err
	}
	return res.Success, res.Reason, nil
}

// exeFor resolves the configured executable override for a family.
func exeFor(cfg *config.Config, family core.CLIFamily) string {
	switch family {
	case core.FamilyClaude:
		return cfg.Agents.ClaudeExe
	case core.FamilyCursor:
		return cfg.Agents.CursorExe
	case core.FamilyGemini:
		return cfg.Agents.GeminiExe
	default:
		return ""
	}
}
