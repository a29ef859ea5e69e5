package errctx

import (
	"regexp"
	"strings"

	"github.com/hugo-lorenzo-mato/foreman/internal/core"
)

// Classify maps a failure to an ErrorKind. The cascade order matters:
// earlier, more specific kinds win over later generic ones.
func Classify(message, stderr string, exitCode int) core.ErrorKind {
	text := strings.ToLower(message + " " + stderr)

	switch {
	case strings.Contains(text, "timeout") || exitCode == -1:
		return core.ErrorKindTimeout
	case strings.Contains(text, "syntaxerror") || strings.Contains(text, "syntax error"):
		return core.ErrorKindSyntax
	case strings.Contains(text, "importerror") || strings.Contains(text, "modulenotfounderror") ||
		strings.Contains(text, "cannot find module") || strings.Contains(text, "no required module"):
		return core.ErrorKindImport
	case strings.Contains(text, "typeerror") || strings.Contains(text, "type error") ||
		strings.Contains(text, "cannot use") && strings.Contains(text, "as type"):
		return core.ErrorKindType
	case isTestFailure(text):
		return core.ErrorKindTestFailure
	case strings.Contains(text, "build failed") || strings.Contains(text, "compilation error") ||
		strings.Contains(text, "compile error") || strings.Contains(text, "undefined:"):
		return core.ErrorKindBuildFailure
	case strings.Contains(text, "lint") || strings.Contains(text, "eslint") ||
		strings.Contains(text, "golangci"):
		return core.ErrorKindLint
	case strings.Contains(text, "vulnerability") || strings.Contains(text, "security") ||
		strings.Contains(text, "cve-"):
		return core.ErrorKindSecurity
	case strings.Contains(text, "clarification") || strings.Contains(text, "ambiguous") ||
		strings.Contains(text, "need more information"):
		return core.ErrorKindClarificationNeeded
	case exitCode != 0:
		return core.ErrorKindRuntime
	default:
		return core.ErrorKindUnknown
	}
}

// isTestFailure requires both an assertion signal and a test-framework
// token, so plain assertions in application code do not misclassify.
func isTestFailure(text string) bool {
	assertion := strings.Contains(text, "assert") ||
		strings.Contains(text, "expected") ||
		strings.Contains(text, "--- fail")
	framework := strings.Contains(text, "test") ||
		strings.Contains(text, "pytest") ||
		strings.Contains(text, "jest")
	return assertion && framework
}

// File-reference extraction patterns, most specific first.
var filePatterns = []*regexp.Regexp{
	// Python traceback frames
	regexp.MustCompile(`File "([^"]+)", line \d+`),
	// JS/TS stack frames
	regexp.MustCompile(`at .*?\(([^():]+):\d+:\d+\)`),
	// generic path:line
	regexp.MustCompile(`([\w./\\-]+\.\w{1,4}):\d+`),
	// "in <file>" clause
	regexp.MustCompile(`\bin ([\w./\\-]+\.\w{1,4})\b`),
}

// ExtractFiles returns the ordered, deduplicated union of file references
// found in the text.
func ExtractFiles(text string) []string {
	seen := make(map[string]struct{})
	var files []string
	for _, pat := range filePatterns {
		for _, m := range pat.FindAllStringSubmatch(text, -1) {
			if len(m) < 2 {
				continue
			}
			f := m[1]
			if _, ok := seen[f]; ok {
				continue
			}
			seen[f] = struct{}{}
			files = append(files, f)
		}
	}
	return files
}

// suggestionTable maps each kind to fixed remediation hints.
var suggestionTable = map[core.ErrorKind][]string{
	core.ErrorKindTimeout: {
		"Break the task into smaller steps",
		"Reduce the scope of changes per iteration",
		"Check for infinite loops or blocking calls",
	},
	core.ErrorKindSyntax: {
		"Re-read the reported line and fix the syntax error",
		"Check for unbalanced brackets, quotes, or indentation",
	},
	core.ErrorKindImport: {
		"Verify the module is declared in the project's dependency file",
		"Check the import path for typos",
		"Run the dependency install step before importing",
	},
	core.ErrorKindType: {
		"Check the types of the values involved",
		"Verify function signatures match their call sites",
	},
	core.ErrorKindTestFailure: {
		"Read the failing assertion and align the implementation",
		"Do not modify the test unless it contradicts the requirements",
		"Run the failing test in isolation first",
	},
	core.ErrorKindBuildFailure: {
		"Fix compilation errors before anything else",
		"Check for missing or renamed identifiers",
	},
	core.ErrorKindLint: {
		"Apply the linter's suggested fixes",
		"Keep the existing code style",
	},
	core.ErrorKindSecurity: {
		"Address the reported vulnerability directly",
		"Do not suppress the finding without a fix",
	},
	core.ErrorKindClarificationNeeded: {
		"State the ambiguity explicitly and pick the most conservative reading",
	},
	core.ErrorKindRuntime: {
		"Reproduce the failure and read the full error output",
		"Add guards for nil or missing values on the failing path",
	},
	core.ErrorKindUnknown: {
		"Inspect the raw output for the underlying failure",
	},
}

// SuggestionsFor returns the remediation hints for a kind.
func SuggestionsFor(kind core.ErrorKind) []string {
	return suggestionTable[kind]
}
