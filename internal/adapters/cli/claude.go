package cli

import (
	"context"
	"strconv"
	"time"

	"github.com/hugo-lorenzo-mato/foreman/internal/core"
	"github.com/hugo-lorenzo-mato/foreman/internal/logging"
)

// ClaudeAdapter drives the claude-family CLI: flag-form prompt, JSON
// output, session resumption, plan mode, and a budget flag.
type ClaudeAdapter struct {
	BaseAdapter
	capabilities core.Capabilities
}

// NewClaudeAdapter creates a claude-family adapter.
func NewClaudeAdapter(exe, projectDir, model string, timeout time.Duration, logger *logging.Logger) *ClaudeAdapter {
	if exe == "" {
		exe = "claude"
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	caps := core.Capabilities{
		SupportsJSONOutput:     true,
		SupportsSessions:       true,
		SupportsModelSelection: true,
		SupportsPlanMode:       true,
		SupportsBudgetFlag:     true,
		CompletionPatterns:     []string{"TASK_COMPLETE", "PLAN_COMPLETE", "TESTS_COMPLETE", "FIX_COMPLETE"},
		AvailableModels:        []string{"sonnet", "opus", "haiku"},
		DefaultModel:           "sonnet",
	}
	if model == "" {
		model = caps.DefaultModel
	}
	return &ClaudeAdapter{
		BaseAdapter:  newBase(exe, projectDir, model, timeout, logger.WithAgent("claude")),
		capabilities: caps,
	}
}

// Family returns the CLI family.
func (c *ClaudeAdapter) Family() core.CLIFamily { return core.FamilyClaude }

// Capabilities returns what this family supports.
func (c *ClaudeAdapter) Capabilities() core.Capabilities { return c.capabilities }

// CheckAvailability verifies the CLI is installed.
func (c *ClaudeAdapter) CheckAvailability(_ context.Context) error {
	return c.checkAvailability()
}

// RunIteration invokes the CLI once.
func (c *ClaudeAdapter) RunIteration(ctx context.Context, opts core.InvokeOptions) (*core.IterationResult, error) {
	timeout := opts.Timeout
	if timeout == 0 {
		timeout = c.timeout
	}

	res, err := c.execute(ctx, c.buildArgs(opts), timeout)
	if err != nil {
		return nil, err
	}
	return c.assemble(res, c.capabilities, timeout), nil
}

// buildArgs constructs the argv: prompt first via -p, JSON output always,
// then optional flags in a stable order.
func (c *ClaudeAdapter) buildArgs(opts core.InvokeOptions) []string {
	args := []string{"-p", opts.Prompt, "--output-format", "json"}

	model := opts.Model
	if model == "" {
		model = c.model
	}
	if model != "" {
		args = append(args, "--model", model)
	}
	if opts.FallbackModel != "" {
		args = append(args, "--fallback-model", opts.FallbackModel)
	}
	if opts.MaxTurns > 0 {
		args = append(args, "--max-turns", strconv.Itoa(opts.MaxTurns))
	}
	for _, tool := range opts.AllowedTools {
		args = append(args, "--allowed-tools", tool)
	}
	if opts.SessionID != "" {
		if opts.ResumeSession {
			args = append(args, "--resume", opts.SessionID)
		} else {
			args = append(args, "--session-id", opts.SessionID)
		}
	}
	if opts.UsePlanMode {
		args = append(args, "--permission-mode", "plan")
	}
	if opts.BudgetUSD > 0 {
		args = append(args, "--max-budget-usd", strconv.FormatFloat(opts.BudgetUSD, 'f', -1, 64))
	}
	return args
}

var _ core.Adapter = (*ClaudeAdapter)(nil)
