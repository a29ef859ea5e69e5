package core

import "time"

// ErrorKind classifies a recorded failure for retry-prompt shaping.
type ErrorKind string

const (
	ErrorKindTimeout            ErrorKind = "timeout"
	ErrorKindSyntax             ErrorKind = "syntax_error"
	ErrorKindImport             ErrorKind = "import_error"
	ErrorKindType               ErrorKind = "type_error"
	ErrorKindTestFailure        ErrorKind = "test_failure"
	ErrorKindBuildFailure       ErrorKind = "build_failure"
	ErrorKindLint               ErrorKind = "lint_error"
	ErrorKindSecurity           ErrorKind = "security_issue"
	ErrorKindClarificationNeeded ErrorKind = "clarification_needed"
	ErrorKindRuntime            ErrorKind = "runtime_error"
	ErrorKindUnknown            ErrorKind = "unknown"
)

// Field truncation limits for recorded error contexts.
const (
	MaxErrorMessageLen = 500
	MaxExcerptLen      = 1000
	MaxStackTraceLen   = 2000
)

// ErrorContext is a classified failure record used to enhance retry prompts.
type ErrorContext struct {
	ID             string    `json:"id"`
	TaskID         string    `json:"task_id"`
	Timestamp      time.Time `json:"timestamp"`
	Attempt        int       `json:"attempt"`
	Classification ErrorKind `json:"classification"`
	Message        string    `json:"message"`
	StdoutExcerpt  string    `json:"stdout_excerpt,omitempty"`
	StderrExcerpt  string    `json:"stderr_excerpt,omitempty"`
	FilesInvolved  []string  `json:"files_involved,omitempty"`
	StackTrace     string    `json:"stack_trace,omitempty"`
	Suggestions    []string  `json:"suggestions,omitempty"`
}
