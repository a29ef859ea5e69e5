// Package cli implements the uniform invocation contract over the three
// external coding-agent CLI families.
package cli

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/hugo-lorenzo-mato/foreman/internal/core"
	"github.com/hugo-lorenzo-mato/foreman/internal/logging"
)

// terminationGrace is how long a signalled subprocess gets before SIGKILL.
const terminationGrace = 5 * time.Second

// Preflight is consulted before spawning an agent subprocess. Implemented
// by the diagnostics package; nil disables checks.
type Preflight interface {
	Check() error
}

// BaseAdapter provides subprocess execution shared by all families.
type BaseAdapter struct {
	exe        string
	projectDir string
	model      string
	timeout    time.Duration
	logger     *logging.Logger
	preflight  Preflight
}

// execResult holds the raw outcome of one subprocess run.
type execResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
	Duration time.Duration
	TimedOut bool
}

func newBase(exe, projectDir, model string, timeout time.Duration, logger *logging.Logger) BaseAdapter {
	if logger == nil {
		logger = logging.NewNop()
	}
	if timeout == 0 {
		timeout = 30 * time.Minute
	}
	return BaseAdapter{
		exe:        exe,
		projectDir: projectDir,
		model:      model,
		timeout:    timeout,
		logger:     logger,
	}
}

// WithPreflight configures resource checks before each spawn.
func (b *BaseAdapter) WithPreflight(p Preflight) {
	b.preflight = p
}

// execute runs the CLI with the given argv. The subprocess always receives
// TERM=dumb and runs with the project directory as its working directory.
// On timeout the result carries TimedOut and ExitCode -1; on caller
// cancellation the context error is returned so callers can re-raise it.
func (b *BaseAdapter) execute(ctx context.Context, argv []string, timeout time.Duration) (*execResult, error) {
	if timeout == 0 {
		timeout = b.timeout
	}

	if b.preflight != nil {
		if err := b.preflight.Check(); err != nil {
			return nil, core.ErrResourceUnavailable(core.CodePreflightFailed, err.Error()).WithCause(err)
		}
	}

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	// #nosec G204 -- executable and argv come from the adapter's own builders
	cmd := exec.CommandContext(runCtx, b.exe, argv...)
	cmd.Dir = b.projectDir
	cmd.Env = append(os.Environ(), "TERM=dumb")
	configureProcAttr(cmd)
	cmd.Cancel = func() error { return terminate(cmd) }
	cmd.WaitDelay = terminationGrace

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	b.logger.Info("cli: executing command",
		"exe", b.exe,
		"args", redactPrompt(argv),
		"work_dir", b.projectDir,
		"timeout", timeout,
	)

	start := time.Now()
	err := cmd.Run()
	duration := time.Since(start)

	result := &execResult{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: duration,
	}

	// Caller cancellation wins over everything else.
	if ctx.Err() != nil {
		b.logger.Info("cli: command cancelled", "exe", b.exe, "duration", duration)
		return result, ctx.Err()
	}

	if runCtx.Err() == context.DeadlineExceeded {
		result.TimedOut = true
		result.ExitCode = -1
		b.logger.Error("cli: command timeout",
			"exe", b.exe,
			"duration", duration,
			"timeout", timeout,
			"stderr_preview", truncate(result.Stderr, 1000),
		)
		return result, nil
	}

	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			result.ExitCode = exitErr.ExitCode()
			b.logger.Error("cli: command failed",
				"exe", b.exe,
				"exit_code", result.ExitCode,
				"duration", duration,
				"stderr", truncate(result.Stderr, 2000),
			)
			return result, nil
		}
		return result, fmt.Errorf("executing %s: %w", b.exe, err)
	}

	b.logger.Info("cli: command completed",
		"exe", b.exe,
		"exit_code", 0,
		"duration", duration,
		"stdout_length", len(result.Stdout),
	)
	result.ExitCode = 0
	return result, nil
}

// checkAvailability verifies the CLI binary is on PATH.
func (b *BaseAdapter) checkAvailability() error {
	if b.exe == "" {
		return core.ErrValidation("NO_PATH", "adapter executable not configured")
	}
	if _, err := exec.LookPath(b.exe); err != nil {
		return core.ErrResourceUnavailable(core.CodeAgentUnavailable,
			fmt.Sprintf("CLI not found on PATH: %s", b.exe))
	}
	return nil
}

// assemble converts a raw subprocess result into an IterationResult using
// the family's capabilities for completion detection.
func (b *BaseAdapter) assemble(res *execResult, caps core.Capabilities, timeout time.Duration) *core.IterationResult {
	it := &core.IterationResult{
		RawOutput: res.Stdout,
		ExitCode:  res.ExitCode,
		Duration:  res.Duration,
		Model:     b.model,
	}

	if res.TimedOut {
		it.Success = false
		it.Error = fmt.Sprintf("Timeout after %d seconds", int(timeout.Seconds()))
		return it
	}

	it.Success = res.ExitCode == 0
	if !it.Success && res.Stderr != "" {
		it.Error = truncate(strings.TrimSpace(res.Stderr), 2000)
	}

	it.ParsedOutput = parseJSONOutput(res.Stdout)
	it.CompletionDetected = detectCompletion(res.Stdout, it.ParsedOutput, caps.CompletionPatterns)
	it.FilesChanged = extractFilesChanged(it.ParsedOutput)
	it.CostUSD = extractCost(it.ParsedOutput)
	it.SessionID = extractSessionID(res.Stdout, it.ParsedOutput)
	return it
}

// redactPrompt replaces long argv entries (prompts) with a length marker so
// logs stay readable and prompt content stays out of the log stream.
func redactPrompt(argv []string) []string {
	out := make([]string, len(argv))
	for i, a := range argv {
		if len(a) > 120 {
			out[i] = fmt.Sprintf("<prompt %d chars>", len(a))
		} else {
			out[i] = a
		}
	}
	return out
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "...[truncated]"
}
