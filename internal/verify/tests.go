package verify

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/hugo-lorenzo-mato/foreman/internal/core"
)

// testFramework describes one detectable test runner.
type testFramework struct {
	name        string
	command     []string
	appendFiles bool // whether test files are appended to the command
	passPattern *regexp.Regexp
	failPattern *regexp.Regexp
	failedTests *regexp.Regexp
}

var goTestFramework = testFramework{
	name:        "go test",
	command:     []string{"go", "test", "./..."},
	appendFiles: false,
	passPattern: regexp.MustCompile(`(?m)^ok\s+\S+`),
	failPattern: regexp.MustCompile(`(?m)^FAIL\s+\S+`),
	failedTests: regexp.MustCompile(`(?m)^\s*--- FAIL: (\S+)`),
}

var pytestFramework = testFramework{
	name:        "pytest",
	command:     []string{"pytest", "-x", "-q"},
	appendFiles: true,
	passPattern: regexp.MustCompile(`(\d+) passed`),
	failPattern: regexp.MustCompile(`(\d+) failed`),
	failedTests: regexp.MustCompile(`(?m)^FAILED (\S+)`),
}

var jestFramework = testFramework{
	name:        "jest",
	command:     []string{"npx", "jest", "--ci"},
	appendFiles: true,
	passPattern: regexp.MustCompile(`Tests:.*?(\d+) passed`),
	failPattern: regexp.MustCompile(`Tests:.*?(\d+) failed`),
	failedTests: regexp.MustCompile(`(?m)^\s*[✕x] (.+)$`),
}

// TestVerifier auto-detects the project's test framework and runs it.
type TestVerifier struct {
	projectDir string
	timeout    time.Duration
}

// NewTestVerifier creates a test verifier.
func NewTestVerifier(projectDir string, timeout time.Duration) *TestVerifier {
	return &TestVerifier{projectDir: projectDir, timeout: timeout}
}

// Kind returns the verifier kind.
func (v *TestVerifier) Kind() core.VerifierKind { return core.VerifierTests }

// detectFramework probes well-known marker files.
func (v *TestVerifier) detectFramework() *testFramework {
	if fileExists(v.projectDir, "go.mod") {
		return &goTestFramework
	}
	if fileExists(v.projectDir, "pytest.ini") ||
		fileExists(v.projectDir, "setup.cfg") ||
		pyprojectDeclares(v.projectDir, "pytest") {
		return &pytestFramework
	}
	if packageJSONDeclares(v.projectDir, "jest") {
		return &jestFramework
	}
	return nil
}

// Verify runs the detected framework's test command.
func (v *TestVerifier) Verify(ctx context.Context, vctx Context) (*core.VerificationResult, error) {
	fw := v.detectFramework()
	if fw == nil {
		return &core.VerificationResult{
			Passed:  false,
			Kind:    core.VerifierTests,
			Summary: "No test framework detected",
		}, nil
	}

	args := fw.command[1:]
	if fw.appendFiles && len(vctx.TestFiles) > 0 {
		args = append(append([]string{}, args...), vctx.TestFiles...)
	}

	timeout := vctx.Timeout
	if timeout == 0 {
		timeout = v.timeout
	}
	res, err := runCommand(ctx, v.projectDir, timeout, fw.command[0], args...)
	if err != nil {
		return nil, err
	}
	if res.TimedOut {
		return timedOutResult(core.VerifierTests, res.Duration), nil
	}

	combined := res.Stdout + "\n" + res.Stderr
	passed, failed := fw.counts(combined)
	failures := fw.failingTests(combined)

	result := &core.VerificationResult{
		Passed:    res.ExitCode == 0,
		Kind:      core.VerifierTests,
		Summary:   fmt.Sprintf("%s: %d passed, %d failed", fw.name, passed, failed),
		Failures:  failures,
		Duration:  res.Duration,
		RawOutput: truncateOutput(combined),
	}
	return result, nil
}

// counts extracts pass/fail totals from runner output.
func (f *testFramework) counts(output string) (passed, failed int) {
	if f.name == "go test" {
		return len(f.passPattern.FindAllString(output, -1)),
			len(f.failPattern.FindAllString(output, -1))
	}
	if m := f.passPattern.FindStringSubmatch(output); len(m) == 2 {
		passed, _ = strconv.Atoi(m[1])
	}
	if m := f.failPattern.FindStringSubmatch(output); len(m) == 2 {
		failed, _ = strconv.Atoi(m[1])
	}
	return passed, failed
}

// failingTests extracts failing test names.
func (f *testFramework) failingTests(output string) []string {
	var names []string
	for _, m := range f.failedTests.FindAllStringSubmatch(output, -1) {
		if len(m) == 2 {
			names = append(names, strings.TrimSpace(m[1]))
		}
	}
	return names
}

// pyprojectDeclares checks pyproject.toml for a dependency mention.
func pyprojectDeclares(projectDir, dep string) bool {
	data, err := os.ReadFile(filepath.Join(projectDir, "pyproject.toml"))
	if err != nil {
		return false
	}
	return strings.Contains(string(data), dep)
}

// packageJSONDeclares checks package.json devDependencies/dependencies.
func packageJSONDeclares(projectDir, dep string) bool {
	data, err := os.ReadFile(filepath.Join(projectDir, "package.json"))
	if err != nil {
		return false
	}
	var pkg struct {
		Dependencies    map[string]string `json:"dependencies"`
		DevDependencies map[string]string `json:"devDependencies"`
	}
	if err := json.Unmarshal(data, &pkg); err != nil {
		return false
	}
	if _, ok := pkg.DevDependencies[dep]; ok {
		return true
	}
	_, ok := pkg.Dependencies[dep]
	return ok
}

// truncateOutput bounds raw output stored in results.
func truncateOutput(s string) string {
	const maxRaw = 8000
	if len(s) <= maxRaw {
		return s
	}
	return s[:maxRaw] + "\n...[truncated]"
}
