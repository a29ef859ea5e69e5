package cli

import (
	"context"
	"time"

	"github.com/hugo-lorenzo-mato/foreman/internal/core"
	"github.com/hugo-lorenzo-mato/foreman/internal/logging"
)

// CursorAdapter drives the cursor-family CLI: JSON output with the prompt
// as a trailing positional. No sessions, plan mode, or budget flag.
type CursorAdapter struct {
	BaseAdapter
	capabilities core.Capabilities
}

// NewCursorAdapter creates a cursor-family adapter.
func NewCursorAdapter(exe, projectDir, model string, timeout time.Duration, logger *logging.Logger) *CursorAdapter {
	if exe == "" {
		exe = "cursor-agent"
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	caps := core.Capabilities{
		SupportsJSONOutput:     true,
		SupportsModelSelection: true,
		CompletionPatterns:     nil, // JSON status only
		AvailableModels:        []string{"default", "fast"},
		DefaultModel:           "default",
	}
	if model == "" {
		model = caps.DefaultModel
	}
	return &CursorAdapter{
		BaseAdapter:  newBase(exe, projectDir, model, timeout, logger.WithAgent("cursor")),
		capabilities: caps,
	}
}

// Family returns the CLI family.
func (c *CursorAdapter) Family() core.CLIFamily { return core.FamilyCursor }

// Capabilities returns what this family supports.
func (c *CursorAdapter) Capabilities() core.Capabilities { return c.capabilities }

// CheckAvailability verifies the CLI is installed.
func (c *CursorAdapter) CheckAvailability(_ context.Context) error {
	return c.checkAvailability()
}

// RunIteration invokes the CLI once.
func (c *CursorAdapter) RunIteration(ctx context.Context, opts core.InvokeOptions) (*core.IterationResult, error) {
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

// buildArgs constructs the argv with the prompt last.
func (c *CursorAdapter) buildArgs(opts core.InvokeOptions) []string {
	args := []string{"--print", "--output-format", "json", "--force"}

	model := opts.Model
	if model == "" {
		model = c.model
	}
	if model != "" {
		args = append(args, "--model", model)
	}
	return append(args, opts.Prompt)
}

var _ core.Adapter = (*CursorAdapter)(nil)
