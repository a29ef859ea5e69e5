package verify

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/hugo-lorenzo-mato/foreman/internal/core"
)

// scanner describes one detectable security scanner.
type scanner struct {
	name       string
	command    []string
	marker     string // ecosystem marker file
	sevPattern *regexp.Regexp
}

var scanners = []scanner{
	{
		name:       "gosec",
		command:    []string{"gosec", "./..."},
		marker:     "go.mod",
		sevPattern: regexp.MustCompile(`(?i)Severity:\s*(\w+)`),
	},
	{
		name:       "bandit",
		command:    []string{"bandit", "-r", "."},
		marker:     "pyproject.toml",
		sevPattern: regexp.MustCompile(`(?i)Severity:\s*(\w+)`),
	},
	{
		name:       "npm audit",
		command:    []string{"npm", "audit", "--audit-level=high"},
		marker:     "package.json",
		sevPattern: regexp.MustCompile(`(?i)\b(critical|high|moderate|low)\b`),
	},
}

// SecurityVerifier runs an ecosystem security scanner and classifies
// findings by severity. A missing scanner passes by design: security
// scanning is advisory until a tool is installed.
type SecurityVerifier struct {
	projectDir string
	timeout    time.Duration
}

// NewSecurityVerifier creates a security verifier.
func NewSecurityVerifier(projectDir string, timeout time.Duration) *SecurityVerifier {
	return &SecurityVerifier{projectDir: projectDir, timeout: timeout}
}

// Kind returns the verifier kind.
func (v *SecurityVerifier) Kind() core.VerifierKind { return core.VerifierSecurity }

func (v *SecurityVerifier) detect() *scanner {
	for i := range scanners {
		s := &scanners[i]
		if fileExists(v.projectDir, s.marker) && onPath(s.command[0]) {
			return s
		}
	}
	return nil
}

// Verify runs the detected scanner. Passed requires a zero exit code and
// no HIGH or CRITICAL findings.
func (v *SecurityVerifier) Verify(ctx context.Context, vctx Context) (*core.VerificationResult, error) {
	s := v.detect()
	if s == nil {
		return &core.VerificationResult{
			Passed:  true,
			Kind:    core.VerifierSecurity,
			Summary: "No security scanner configured",
		}, nil
	}

	timeout := vctx.Timeout
	if timeout == 0 {
		timeout = v.timeout
	}
	res, err := runCommand(ctx, v.projectDir, timeout, s.command[0], s.command[1:]...)
	if err != nil {
		return nil, err
	}
	if res.TimedOut {
		return timedOutResult(core.VerifierSecurity, res.Duration), nil
	}

	combined := res.Stdout + "\n" + res.Stderr
	high, total := classifyFindings(s, combined)

	var failures []string
	if high > 0 {
		failures = append(failures, fmt.Sprintf("%d high/critical findings", high))
	}

	return &core.VerificationResult{
		Passed:    res.ExitCode == 0 && high == 0,
		Kind:      core.VerifierSecurity,
		Summary:   fmt.Sprintf("%s: %d findings (%d high/critical)", s.name, total, high),
		Failures:  failures,
		Duration:  res.Duration,
		RawOutput: truncateOutput(combined),
	}, nil
}

// classifyFindings counts findings and how many are high or critical.
func classifyFindings(s *scanner, output string) (high, total int) {
	for _, m := range s.sevPattern.FindAllStringSubmatch(output, -1) {
		if len(m) < 2 {
			continue
		}
		total++
		switch strings.ToLower(m[1]) {
		case "high", "critical":
			high++
		}
	}
	return high, total
}
