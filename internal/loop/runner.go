// Package loop drives one agent plus one verifier through a bounded retry
// loop with session continuity, error-context retry prompts, and budget
// enforcement.
package loop

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/renameio/v2"

	"github.com/hugo-lorenzo-mato/foreman/internal/budget"
	"github.com/hugo-lorenzo-mato/foreman/internal/core"
	"github.com/hugo-lorenzo-mato/foreman/internal/errctx"
	"github.com/hugo-lorenzo-mato/foreman/internal/logging"
	"github.com/hugo-lorenzo-mato/foreman/internal/session"
	"github.com/hugo-lorenzo-mato/foreman/internal/verify"
)

// Stop reasons reported in Result.Reason.
const (
	ReasonCompletionSignal    = "completion_signal_detected"
	ReasonVerificationPassed  = "verification_passed"
	ReasonBudgetExceeded      = "budget_exceeded"
	ReasonMaxBudgetReached    = "max_budget_reached"
	ReasonMaxIterations       = "max_iterations_reached"
	ReasonHumanPaused         = "human_paused"
)

// HITLDecision is a human-in-the-loop callback verdict.
type HITLDecision string

const (
	HITLContinue HITLDecision = "continue"
	HITLStop     HITLDecision = "stop"
)

// HITLCallback is consulted after each failed iteration.
type HITLCallback func(iteration int, vr *core.VerificationResult, filesChanged []string) HITLDecision

// Config tunes one runner instance.
type Config struct {
	MaxIterations  int
	PerIterBudget  float64       // estimated cost checked before each iteration
	MaxBudgetUSD   float64       // cumulative cap for this loop, 0 = unbounded
	IterTimeout    time.Duration // per adapter invocation
	VerifyTimeout  time.Duration
	Model          string
	MaxTurns       int
	AllowedTools   []string
	UsePlanMode    bool
	FallbackModel  string
	RetryBudget    int // character budget for error-context prompt prefix
}

// DefaultConfig returns the standard loop tuning.
func DefaultConfig() Config {
	return Config{
		MaxIterations: 5,
		PerIterBudget: 0.50,
		IterTimeout:   30 * time.Minute,
		VerifyTimeout: 60 * time.Second,
		RetryBudget:   4000,
	}
}

// Result is the loop's terminal outcome.
type Result struct {
	Success      bool                     `json:"success"`
	Reason       string                   `json:"reason"`
	Iterations   int                      `json:"iterations"`
	TotalCostUSD float64                  `json:"total_cost_usd"`
	FilesChanged []string                 `json:"files_changed,omitempty"`
	LastResult   *core.IterationResult    `json:"last_result,omitempty"`
	Verification *core.VerificationResult `json:"verification,omitempty"`
	Error        string                   `json:"error,omitempty"`
}

// Runner couples an adapter with a verifier and the optional managers.
// Nil managers disable their concern.
type Runner struct {
	projectDir string
	adapter    core.Adapter
	verifier   verify.Verifier
	sessions   *session.Manager
	errors     *errctx.Manager
	budgets    *budget.Manager
	cfg        Config
	logger     *logging.Logger
}

// NewRunner builds a loop runner. The config is taken as given: a
// MaxIterations of zero means the loop runs no iterations and returns
// non-success immediately.
func NewRunner(projectDir string, adapter core.Adapter, verifier verify.Verifier, cfg Config, logger *logging.Logger) *Runner {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Runner{
		projectDir: projectDir,
		adapter:    adapter,
		verifier:   verifier,
		cfg:        cfg,
		logger:     logger,
	}
}

// WithSessions enables session continuity.
func (r *Runner) WithSessions(m *session.Manager) *Runner { r.sessions = m; return r }

// WithErrorContext enables error-context retry prompts.
func (r *Runner) WithErrorContext(m *errctx.Manager) *Runner { r.errors = m; return r }

// WithBudget enables budget enforcement.
func (r *Runner) WithBudget(m *budget.Manager) *Runner { r.budgets = m; return r }

// Run drives the loop for one task until completion, exhaustion, budget
// stop, or human pause. A non-nil prompt overrides the task template.
func (r *Runner) Run(ctx context.Context, task *core.Task, prompt string, hitl HITLCallback) (*Result, error) {
	log := r.logger.WithTask(task.ID)
	caps := r.adapter.Capabilities()
	sentinel := ""
	if len(caps.CompletionPatterns) > 0 {
		sentinel = caps.CompletionPatterns[0]
	}

	res := &Result{}
	seen := make(map[string]struct{})
	prevContext := ""

	for iter := 1; iter <= r.cfg.MaxIterations; iter++ {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		if r.budgets != nil {
			if !r.budgets.CanSpend(task.ID, r.cfg.PerIterBudget) {
				res.Reason = ReasonBudgetExceeded
				return res, nil
			}
			if r.cfg.MaxBudgetUSD > 0 && res.TotalCostUSD >= r.cfg.MaxBudgetUSD {
				res.Reason = ReasonMaxBudgetReached
				return res, nil
			}
		}

		iterPrompt := prompt
		if iterPrompt == "" {
			iterPrompt = buildPrompt(task, prevContext, iter, r.cfg.MaxIterations, sentinel)
		}
		if r.errors != nil {
			iterPrompt = r.errors.BuildRetryPrompt(task.ID, iterPrompt, r.cfg.RetryBudget)
		}

		opts := core.InvokeOptions{
			Prompt:        iterPrompt,
			Model:         r.cfg.Model,
			MaxTurns:      r.cfg.MaxTurns,
			AllowedTools:  r.cfg.AllowedTools,
			UsePlanMode:   r.cfg.UsePlanMode,
			FallbackModel: r.cfg.FallbackModel,
			BudgetUSD:     r.cfg.PerIterBudget,
			Timeout:       r.cfg.IterTimeout,
		}
		if r.sessions != nil {
			if err := r.sessions.InvokeArgs(ctx, task.ID, caps, &opts); err != nil {
				log.Warn("session acquisition failed", "error", err)
			}
		}

		ir, err := r.adapter.RunIteration(ctx, opts)
		res.Iterations = iter
		if err != nil {
			// Cancellation propagates; anything else is recorded and the
			// loop moves on.
			if ctx.Err() != nil {
				return res, err
			}
			log.Warn("iteration error", "iteration", iter, "error", err)
			if r.errors != nil {
				r.errors.Record(task.ID, errctx.Record{
					Message: err.Error(), Attempt: iter, ExitCode: -1,
				})
			}
			continue
		}
		res.LastResult = ir

		if ir.CostUSD > 0 {
			res.TotalCostUSD += ir.CostUSD
			if r.budgets != nil {
				if berr := r.budgets.RecordSpend(ctx, task.ID, task.AssignedAgentID, ir.CostUSD, ir.Model); berr != nil {
					log.Warn("spend record failed", "error", berr)
				}
			}
		}
		if r.sessions != nil && ir.SessionID != "" {
			if _, serr := r.sessions.CaptureSessionID(ctx, task.ID, "session_id: "+ir.SessionID); serr != nil {
				log.Warn("session id capture failed", "error", serr)
			}
			_ = r.sessions.Touch(ctx, task.ID)
		}
		for _, f := range ir.FilesChanged {
			if _, ok := seen[f]; !ok {
				seen[f] = struct{}{}
				res.FilesChanged = append(res.FilesChanged, f)
			}
		}

		r.writeIterationLog(task.ID, iter, ir)

		if ir.CompletionDetected {
			r.succeed(ctx, task.ID)
			res.Success = true
			res.Reason = ReasonCompletionSignal
			return res, nil
		}

		vr, verr := r.verify(ctx, task, ir, iter)
		if verr != nil {
			if ctx.Err() != nil {
				return res, verr
			}
			log.Warn("verification error", "iteration", iter, "error", verr)
		}
		res.Verification = vr

		if vr != nil && vr.Passed {
			r.succeed(ctx, task.ID)
			res.Success = true
			res.Reason = ReasonVerificationPassed
			return res, nil
		}

		if r.errors != nil {
			r.errors.Record(task.ID, errctx.Record{
				Message:       failureMessage(ir, vr),
				Attempt:       iter,
				ExitCode:      ir.ExitCode,
				StderrExcerpt: topFailures(vr, 3),
			})
		}
		prevContext = iterationContext(ir.FilesChanged, vr)

		if hitl != nil {
			if hitl(iter, vr, ir.FilesChanged) == HITLStop {
				res.Reason = ReasonHumanPaused
				return res, nil
			}
		}
	}

	res.Reason = ReasonMaxIterations
	return res, nil
}

func (r *Runner) verify(ctx context.Context, task *core.Task, ir *core.IterationResult, iter int) (*core.VerificationResult, error) {
	if r.verifier == nil {
		return nil, nil
	}
	return r.verifier.Verify(ctx, verify.Context{
		ProjectDir:  r.projectDir,
		TestFiles:   task.TestFiles,
		SourceFiles: ir.FilesChanged,
		TaskID:      task.ID,
		Iteration:   iter,
		Timeout:     r.cfg.VerifyTimeout,
	})
}

// succeed clears error state and closes the session on task success.
func (r *Runner) succeed(ctx context.Context, taskID string) {
	if r.errors != nil {
		r.errors.ClearTaskErrors(taskID)
	}
	if r.sessions != nil {
		_ = r.sessions.Close(ctx, taskID)
	}
}

// writeIterationLog persists one iteration's outcome under unified_logs/.
func (r *Runner) writeIterationLog(taskID string, iter int, ir *core.IterationResult) {
	dir := core.UnifiedLogsDir(r.projectDir, taskID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return
	}
	data, err := json.MarshalIndent(ir, "", "  ")
	if err != nil {
		return
	}
	path := filepath.Join(dir, fmt.Sprintf("iteration_%03d.json", iter))
	if err := renameio.WriteFile(path, data, 0o644); err != nil {
		r.logger.WithTask(taskID).Warn("iteration log write failed", "error", err)
	}
}

func failureMessage(ir *core.IterationResult, vr *core.VerificationResult) string {
	if vr != nil {
		return "verification failed: " + vr.Summary
	}
	if ir.Error != "" {
		return ir.Error
	}
	return "iteration did not complete"
}

func topFailures(vr *core.VerificationResult, n int) string {
	if vr == nil {
		return ""
	}
	out := ""
	for i, f := range vr.Failures {
		if i == n {
			break
		}
		out += f + "\n"
	}
	return out
}
