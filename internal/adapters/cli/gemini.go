package cli

import (
	"context"
	"time"

	"github.com/hugo-lorenzo-mato/foreman/internal/core"
	"github.com/hugo-lorenzo-mato/foreman/internal/logging"
)

// GeminiAdapter drives the gemini-family CLI: plain text output, prompt as
// a trailing positional, completion signalled by text tokens.
type GeminiAdapter struct {
	BaseAdapter
	capabilities core.Capabilities
}

// NewGeminiAdapter creates a gemini-family adapter.
func NewGeminiAdapter(exe, projectDir, model string, timeout time.Duration, logger *logging.Logger) *GeminiAdapter {
	if exe == "" {
		exe = "gemini"
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	caps := core.Capabilities{
		SupportsModelSelection: true,
		CompletionPatterns:     []string{"DONE", "COMPLETE", "FINISHED"},
		AvailableModels:        []string{"gemini-2.5-pro", "gemini-2.5-flash"},
		DefaultModel:           "gemini-2.5-pro",
	}
	if model == "" {
		model = caps.DefaultModel
	}
	return &GeminiAdapter{
		BaseAdapter:  newBase(exe, projectDir, model, timeout, logger.WithAgent("gemini")),
		capabilities: caps,
	}
}

// Family returns the CLI family.
func (g *GeminiAdapter) Family() core.CLIFamily { return core.FamilyGemini }

// Capabilities returns what this family supports.
func (g *GeminiAdapter) Capabilities() core.Capabilities { return g.capabilities }

// CheckAvailability verifies the CLI is installed.
func (g *GeminiAdapter) CheckAvailability(_ context.Context) error {
	return g.checkAvailability()
}

// RunIteration invokes the CLI once.
func (g *GeminiAdapter) RunIteration(ctx context.Context, opts core.InvokeOptions) (*core.IterationResult, error) {
	timeout := opts.Timeout
	if timeout == 0 {
		timeout = g.timeout
	}

	res, err := g.execute(ctx, g.buildArgs(opts), timeout)
	if err != nil {
		return nil, err
	}
	return g.assemble(res, g.capabilities, timeout), nil
}

// buildArgs constructs the argv: model flag, auto-approve, prompt last.
func (g *GeminiAdapter) buildArgs(opts core.InvokeOptions) []string {
	model := opts.Model
	if model == "" {
		model = g.model
	}
	args := []string{"--model", model, "--yolo"}
	return append(args, opts.Prompt)
}

var _ core.Adapter = (*GeminiAdapter)(nil)
