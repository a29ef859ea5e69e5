package cli

import (
	"fmt"
	"time"

	"github.com/hugo-lorenzo-mato/foreman/internal/core"
	"github.com/hugo-lorenzo-mato/foreman/internal/logging"
)

// Options configures adapter construction.
type Options struct {
	// Exe overrides the family's default executable name.
	Exe string
	// Model overrides the family's default model.
	Model string
	// Timeout is the per-invocation hard limit.
	Timeout time.Duration
	// Logger receives execution logs; nil means no-op.
	Logger *logging.Logger
	// Preflight runs resource checks before each spawn; nil disables.
	Preflight Preflight
}

// NewAdapter constructs the adapter for a CLI family. Unknown families
// return a typed error listing the available ones.
func NewAdapter(family core.CLIFamily, projectDir string, opts Options) (core.Adapter, error) {
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewNop()
	}

	switch family {
	case core.FamilyClaude:
		a := NewClaudeAdapter(opts.Exe, projectDir, opts.Model, opts.Timeout, logger)
		a.WithPreflight(opts.Preflight)
		return a, nil
	case core.FamilyCursor:
		a := NewCursorAdapter(opts.Exe, projectDir, opts.Model, opts.Timeout, logger)
		a.WithPreflight(opts.Preflight)
		return a, nil
	case core.FamilyGemini:
		a := NewGeminiAdapter(opts.Exe, projectDir, opts.Model, opts.Timeout, logger)
		a.WithPreflight(opts.Preflight)
		return a, nil
	default:
		return nil, core.ErrValidation(core.CodeUnknownFamily,
			fmt.Sprintf("unknown CLI family %q, available: %v", family, core.Families()))
	}
}
