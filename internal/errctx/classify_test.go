package errctx

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/hugo-lorenzo-mato/foreman/internal/core"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name     string
		message  string
		stderr   string
		exitCode int
		want     core.ErrorKind
	}{
		{"timeout word", "operation timeout after 30m", "", 1, core.ErrorKindTimeout},
		{"timeout exit code", "killed", "", -1, core.ErrorKindTimeout},
		{"python syntax", "", "SyntaxError: invalid syntax", 1, core.ErrorKindSyntax},
		{"go syntax", "syntax error: unexpected }", "", 2, core.ErrorKindSyntax},
		{"python import", "", "ModuleNotFoundError: No module named 'requests'", 1, core.ErrorKindImport},
		{"node import", "", "Error: Cannot find module 'express'", 1, core.ErrorKindImport},
		{"python type", "", "TypeError: unsupported operand", 1, core.ErrorKindType},
		{"go type", `cannot use x (variable of type int) as type string`, "", 2, core.ErrorKindType},
		{"go test failure", "--- FAIL: TestParse", "", 1, core.ErrorKindTestFailure},
		{"pytest failure", "", "pytest: assert 1 == 2", 1, core.ErrorKindTestFailure},
		{"plain assertion is not a test failure", "assertion failed in handler", "", 1, core.ErrorKindRuntime},
		{"build failure", "", "build failed: undefined: helper", 1, core.ErrorKindBuildFailure},
		{"lint", "golangci-lint found 3 issues", "", 1, core.ErrorKindLint},
		{"security", "", "found vulnerability CVE-2024-1234", 1, core.ErrorKindSecurity},
		{"clarification", "the requirement is ambiguous", "", 0, core.ErrorKindClarificationNeeded},
		{"runtime fallback", "panic: nil pointer dereference", "", 2, core.ErrorKindRuntime},
		{"unknown on clean exit", "something odd", "", 0, core.ErrorKindUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.message, tt.stderr, tt.exitCode))
		})
	}
}

func TestClassifyOrderTimeoutWins(t *testing.T) {
	// Cascade order: timeout beats everything, even a syntax error text.
	got := Classify("timeout while compiling", "SyntaxError: bad", 1)
	assert.Equal(t, core.ErrorKindTimeout, got)
}

func TestExtractFiles(t *testing.T) {
	t.Run("python traceback", func(t *testing.T) {
		text := `Traceback (most recent call last):
  File "src/app/main.py", line 10, in <module>
  File "src/app/util.py", line 4, in helper`
		assert.Equal(t, []string{"src/app/main.py", "src/app/util.py"}, ExtractFiles(text))
	})

	t.Run("js stack frame", func(t *testing.T) {
		text := "    at handler (src/server/index.ts:42:13)"
		files := ExtractFiles(text)
		assert.Contains(t, files, "src/server/index.ts")
	})

	t.Run("generic path line", func(t *testing.T) {
		files := ExtractFiles("internal/loop/runner.go:88: undefined: foo")
		assert.Contains(t, files, "internal/loop/runner.go")
	})

	t.Run("deduplicates preserving order", func(t *testing.T) {
		text := `File "a.py", line 1
File "a.py", line 2
File "b.py", line 3`
		assert.Equal(t, []string{"a.py", "b.py"}, ExtractFiles(text))
	})

	t.Run("no references", func(t *testing.T) {
		assert.Empty(t, ExtractFiles("nothing to see here"))
	})
}

func TestSuggestionsFor(t *testing.T) {
	for _, kind := range []core.ErrorKind{
		core.ErrorKindTimeout, core.ErrorKindSyntax, core.ErrorKindImport,
		core.ErrorKindType, core.ErrorKindTestFailure, core.ErrorKindBuildFailure,
		core.ErrorKindLint, core.ErrorKindSecurity, core.ErrorKindClarificationNeeded,
		core.ErrorKindRuntime, core.ErrorKindUnknown,
	} {
		assert.NotEmpty(t, SuggestionsFor(kind), "kind %s", kind)
	}
}
