package verify

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/hugo-lorenzo-mato/foreman/internal/core"
)

// linter describes one detectable lint tool.
type linter struct {
	name        string
	command     []string
	configFiles []string
	errPattern  *regexp.Regexp
	warnPattern *regexp.Regexp
}

var linters = []linter{
	{
		name:        "golangci-lint",
		command:     []string{"golangci-lint", "run"},
		configFiles: []string{".golangci.yml", ".golangci.yaml"},
		errPattern:  regexp.MustCompile(`(?m)^\S+\.go:\d+:\d+: .+$`),
	},
	{
		name:        "go vet",
		command:     []string{"go", "vet", "./..."},
		configFiles: []string{"go.mod"},
		errPattern:  regexp.MustCompile(`(?m)^\S+\.go:\d+:\d+: .+$`),
	},
	{
		name:        "ruff",
		command:     []string{"ruff", "check", "."},
		configFiles: []string{"ruff.toml", ".ruff.toml"},
		errPattern:  regexp.MustCompile(`(?m)^\S+\.py:\d+:\d+: .+$`),
	},
	{
		name:        "eslint",
		command:     []string{"npx", "eslint", "."},
		configFiles: []string{".eslintrc", ".eslintrc.json", ".eslintrc.js", "eslint.config.js"},
		errPattern:  regexp.MustCompile(`(?m)^\s+\d+:\d+\s+error\s+.+$`),
		warnPattern: regexp.MustCompile(`(?m)^\s+\d+:\d+\s+warning\s+.+$`),
	},
}

// LintVerifier auto-detects a linter and extracts error and warning lines.
type LintVerifier struct {
	projectDir string
	timeout    time.Duration
}

// NewLintVerifier creates a lint verifier.
func NewLintVerifier(projectDir string, timeout time.Duration) *LintVerifier {
	return &LintVerifier{projectDir: projectDir, timeout: timeout}
}

// Kind returns the verifier kind.
func (v *LintVerifier) Kind() core.VerifierKind { return core.VerifierLint }

// detect picks the first linter whose config file exists or whose binary
// is on PATH alongside its ecosystem marker.
func (v *LintVerifier) detect() *linter {
	for i := range linters {
		l := &linters[i]
		for _, cf := range l.configFiles {
			if fileExists(v.projectDir, cf) {
				if l.name == "go vet" || onPath(l.command[0]) {
					return l
				}
			}
		}
	}
	return nil
}

// Verify runs the detected linter.
func (v *LintVerifier) Verify(ctx context.Context, vctx Context) (*core.VerificationResult, error) {
	l := v.detect()
	if l == nil {
		return &core.VerificationResult{
			Passed:  false,
			Kind:    core.VerifierLint,
			Summary: "No linter detected",
		}, nil
	}

	timeout := vctx.Timeout
	if timeout == 0 {
		timeout = v.timeout
	}
	res, err := runCommand(ctx, v.projectDir, timeout, l.command[0], l.command[1:]...)
	if err != nil {
		return nil, err
	}
	if res.TimedOut {
		return timedOutResult(core.VerifierLint, res.Duration), nil
	}

	combined := res.Stdout + "\n" + res.Stderr
	failures := l.errPattern.FindAllString(combined, -1)
	var warnings []string
	if l.warnPattern != nil {
		warnings = l.warnPattern.FindAllString(combined, -1)
	}

	return &core.VerificationResult{
		Passed:    res.ExitCode == 0,
		Kind:      core.VerifierLint,
		Summary:   fmt.Sprintf("%s: %d errors, %d warnings", l.name, len(failures), len(warnings)),
		Failures:  failures,
		Warnings:  warnings,
		Duration:  res.Duration,
		RawOutput: truncateOutput(combined),
	}, nil
}
