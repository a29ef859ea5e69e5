// Package verify inspects a project after an agent iteration: tests, lint,
// security scanning, or a composite of those.
package verify

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/hugo-lorenzo-mato/foreman/internal/core"
)

// Context carries what a verifier needs for one run.
type Context struct {
	ProjectDir  string
	TestFiles   []string
	SourceFiles []string
	TaskID      string
	Iteration   int
	Timeout     time.Duration
}

// Verifier validates a project and reports a VerificationResult. Command
// failures are results, not errors; errors are reserved for cancellation.
type Verifier interface {
	Kind() core.VerifierKind
	Verify(ctx context.Context, vctx Context) (*core.VerificationResult, error)
}

// runResult is the raw outcome of one verification subprocess.
type runResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
	Duration time.Duration
	TimedOut bool
}

// runCommand executes a verification command in the project directory with
// an enforced timeout.
func runCommand(ctx context.Context, projectDir string, timeout time.Duration, name string, args ...string) (*runResult, error) {
	if timeout == 0 {
		timeout = 60 * time.Second
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	// #nosec G204 -- commands come from the framework detection tables
	cmd := exec.CommandContext(runCtx, name, args...)
	cmd.Dir = projectDir
	cmd.Env = append(os.Environ(), "TERM=dumb")

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	res := &runResult{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(start),
	}

	if ctx.Err() != nil {
		return res, ctx.Err()
	}
	if runCtx.Err() == context.DeadlineExceeded {
		res.TimedOut = true
		res.ExitCode = -1
		return res, nil
	}
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			res.ExitCode = exitErr.ExitCode()
			return res, nil
		}
		return res, err
	}
	return res, nil
}

// fileExists reports whether a path exists under the project directory.
func fileExists(projectDir string, rel string) bool {
	_, err := os.Stat(filepath.Join(projectDir, rel))
	return err == nil
}

// onPath reports whether a binary is resolvable.
func onPath(name string) bool {
	_, err := exec.LookPath(name)
	return err == nil
}

// timedOutResult builds the standard timed-out verification result.
func timedOutResult(kind core.VerifierKind, d time.Duration) *core.VerificationResult {
	return &core.VerificationResult{
		Passed:   false,
		Kind:     kind,
		Summary:  "timed out",
		Duration: d,
	}
}
