package verify

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hugo-lorenzo-mato/foreman/internal/core"
)

// cannedVerifier returns a fixed result.
type cannedVerifier struct {
	kind   core.VerifierKind
	result *core.VerificationResult
	err    error
}

func (c cannedVerifier) Kind() core.VerifierKind { return c.kind }

func (c cannedVerifier) Verify(context.Context, Context) (*core.VerificationResult, error) {
	return c.result, c.err
}

func passing(kind core.VerifierKind) cannedVerifier {
	return cannedVerifier{kind: kind, result: &core.VerificationResult{Passed: true, Kind: kind, Summary: "ok"}}
}

func failing(kind core.VerifierKind, failures ...string) cannedVerifier {
	return cannedVerifier{kind: kind, result: &core.VerificationResult{
		Passed: false, Kind: kind, Summary: "broken", Failures: failures,
	}}
}

func TestTestFrameworkDetection(t *testing.T) {
	t.Run("go module", func(t *testing.T) {
		dir := t.TempDir()
		require.NoError(t, os.WriteFile(filepath.Join(dir, "go.mod"), []byte("module demo\n"), 0o644))
		fw := NewTestVerifier(dir, 0).detectFramework()
		require.NotNil(t, fw)
		assert.Equal(t, "go test", fw.name)
	})

	t.Run("pytest via pyproject", func(t *testing.T) {
		dir := t.TempDir()
		require.NoError(t, os.WriteFile(filepath.Join(dir, "pyproject.toml"),
			[]byte("[tool.pytest.ini_options]\n"), 0o644))
		fw := NewTestVerifier(dir, 0).detectFramework()
		require.NotNil(t, fw)
		assert.Equal(t, "pytest", fw.name)
	})

	t.Run("jest via package.json devDependencies", func(t *testing.T) {
		dir := t.TempDir()
		require.NoError(t, os.WriteFile(filepath.Join(dir, "package.json"),
			[]byte(`{"devDependencies":{"jest":"^29.0.0"}}`), 0o644))
		fw := NewTestVerifier(dir, 0).detectFramework()
		require.NotNil(t, fw)
		assert.Equal(t, "jest", fw.name)
	})

	t.Run("nothing detected", func(t *testing.T) {
		assert.Nil(t, NewTestVerifier(t.TempDir(), 0).detectFramework())
	})
}

func TestVerifyWithoutFrameworkFails(t *testing.T) {
	v := NewTestVerifier(t.TempDir(), time.Minute)
	res, err := v.Verify(context.Background(), Context{})
	require.NoError(t, err)
	assert.False(t, res.Passed)
	assert.Equal(t, "No test framework detected", res.Summary)
}

func TestFrameworkCounts(t *testing.T) {
	t.Run("go test counts package lines", func(t *testing.T) {
		out := "ok  \tdemo/a\t0.1s\nok  \tdemo/b\t0.2s\nFAIL\tdemo/c\t0.3s\n--- FAIL: TestThing\n"
		passed, failed := goTestFramework.counts(out)
		assert.Equal(t, 2, passed)
		assert.Equal(t, 1, failed)
		assert.Equal(t, []string{"TestThing"}, goTestFramework.failingTests(out))
	})

	t.Run("pytest counts summary totals", func(t *testing.T) {
		out := "FAILED tests/test_api.py::test_create\n1 failed, 7 passed in 0.42s\n"
		passed, failed := pytestFramework.counts(out)
		assert.Equal(t, 7, passed)
		assert.Equal(t, 1, failed)
		assert.Equal(t, []string{"tests/test_api.py::test_create"}, pytestFramework.failingTests(out))
	})

	t.Run("jest counts summary totals", func(t *testing.T) {
		out := "Tests:       2 failed, 10 passed, 12 total\n  ✕ renders header (23 ms)\n"
		passed, failed := jestFramework.counts(out)
		assert.Equal(t, 10, passed)
		assert.Equal(t, 2, failed)
		assert.Equal(t, []string{"renders header (23 ms)"}, jestFramework.failingTests(out))
	})
}

func TestLintDetectPrefersConfiguredTool(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "go.mod"), []byte("module demo\n"), 0o644))

	l := NewLintVerifier(dir, 0).detect()
	require.NotNil(t, l)
	// golangci-lint needs its own config plus the binary; the bare module
	// falls through to go vet.
	assert.Equal(t, "go vet", l.name)
}

func TestLintDetectNothing(t *testing.T) {
	assert.Nil(t, NewLintVerifier(t.TempDir(), 0).detect())
}

func TestLintVerifyWithoutLinterFails(t *testing.T) {
	res, err := NewLintVerifier(t.TempDir(), time.Minute).Verify(context.Background(), Context{})
	require.NoError(t, err)
	assert.False(t, res.Passed)
	assert.Equal(t, "No linter detected", res.Summary)
}

func TestSecurityVerifyWithoutScannerPasses(t *testing.T) {
	res, err := NewSecurityVerifier(t.TempDir(), time.Minute).Verify(context.Background(), Context{})
	require.NoError(t, err)
	assert.True(t, res.Passed, "missing scanner is advisory")
	assert.Equal(t, "No security scanner configured", res.Summary)
}

func TestClassifyFindings(t *testing.T) {
	out := "Severity: HIGH Confidence: HIGH\nSeverity: MEDIUM\nSeverity: critical\nSeverity: low\n"
	high, total := classifyFindings(&scanners[0], out)
	assert.Equal(t, 2, high)
	assert.Equal(t, 4, total)
}

func TestCompositeRequireAll(t *testing.T) {
	ctx := context.Background()

	t.Run("all pass", func(t *testing.T) {
		v := NewCompositeVerifier([]Verifier{passing(core.VerifierTests), passing(core.VerifierLint)}, true)
		res, err := v.Verify(ctx, Context{})
		require.NoError(t, err)
		assert.True(t, res.Passed)
		assert.Contains(t, res.Summary, "tests: ok")
	})

	t.Run("one failure fails the composite", func(t *testing.T) {
		v := NewCompositeVerifier([]Verifier{
			passing(core.VerifierTests),
			failing(core.VerifierLint, "main.go:3:1: unused import"),
		}, true)
		res, err := v.Verify(ctx, Context{})
		require.NoError(t, err)
		assert.False(t, res.Passed)
		assert.Equal(t, []string{"main.go:3:1: unused import"}, res.Failures)
	})

	t.Run("any-pass policy", func(t *testing.T) {
		v := NewCompositeVerifier([]Verifier{
			failing(core.VerifierTests, "TestX"),
			passing(core.VerifierLint),
		}, false)
		res, err := v.Verify(ctx, Context{})
		require.NoError(t, err)
		assert.True(t, res.Passed)
	})

	t.Run("child error propagates", func(t *testing.T) {
		boom := errors.New("verifier broke")
		v := NewCompositeVerifier([]Verifier{cannedVerifier{kind: core.VerifierTests, err: boom}}, true)
		_, err := v.Verify(ctx, Context{})
		assert.ErrorIs(t, err, boom)
	})

	t.Run("empty composite passes", func(t *testing.T) {
		res, err := NewCompositeVerifier(nil, true).Verify(ctx, Context{})
		require.NoError(t, err)
		assert.True(t, res.Passed)
	})
}

func TestNoneVerifierAlwaysPasses(t *testing.T) {
	res, err := NoneVerifier{}.Verify(context.Background(), Context{})
	require.NoError(t, err)
	assert.True(t, res.Passed)
}

func TestFactory(t *testing.T) {
	dir := t.TempDir()

	kinds := map[core.VerifierKind]core.VerifierKind{
		core.VerifierTests:     core.VerifierTests,
		core.VerifierLint:      core.VerifierLint,
		core.VerifierSecurity:  core.VerifierSecurity,
		core.VerifierNone:      core.VerifierNone,
		core.VerifierComposite: core.VerifierComposite,
	}
	for kind, want := range kinds {
		v, err := NewVerifier(kind, dir, time.Minute)
		require.NoError(t, err)
		assert.Equal(t, want, v.Kind())
	}

	_, err := NewVerifier("fuzzing", dir, time.Minute)
	assert.True(t, core.IsCategory(err, core.ErrCatValidation))
}

func TestTruncateOutput(t *testing.T) {
	short := "small output"
	assert.Equal(t, short, truncateOutput(short))

	long := strings.Repeat("x", 9000)
	got := truncateOutput(long)
	assert.Less(t, len(got), 9000)
	assert.True(t, strings.HasSuffix(got, "...[truncated]"))
}

func TestTimedOutResult(t *testing.T) {
	res := timedOutResult(core.VerifierTests, 3*time.Second)
	assert.False(t, res.Passed)
	assert.Equal(t, "timed out", res.Summary)
	assert.Equal(t, 3*time.Second, res.Duration)
}
