package core

import (
	"errors"
	"fmt"
)

// ErrorCategory classifies errors for recovery routing.
type ErrorCategory string

const (
	ErrCatValidation ErrorCategory = "validation"           // Invalid input or schema failure
	ErrCatExecution  ErrorCategory = "execution"            // Runtime failure
	ErrCatTransient  ErrorCategory = "transient"            // Network, rate limit, ephemeral resource
	ErrCatAgent      ErrorCategory = "agent_failure"        // CLI non-zero exit, invalid output
	ErrCatConflict   ErrorCategory = "review_conflict"      // Diverging reviewer verdicts
	ErrCatSpec       ErrorCategory = "spec_mismatch"        // Tests disagree with spec
	ErrCatSecurity   ErrorCategory = "blocking_security"    // Authoritative security finding
	ErrCatResource   ErrorCategory = "resource_unavailable" // Missing CLI, exhausted disk, etc.
	ErrCatTimeout    ErrorCategory = "timeout"              // Operation timed out
	ErrCatState      ErrorCategory = "state"                // State corruption/conflict
	ErrCatBudget     ErrorCategory = "budget"               // Cost budget exceeded
	ErrCatNotFound   ErrorCategory = "not_found"            // Resource not found
	ErrCatInternal   ErrorCategory = "internal"             // Unexpected internal error
)

// DomainError represents a structured error from the domain layer.
type DomainError struct {
	Category  ErrorCategory
	Code      string
	Message   string
	Retryable bool
	Cause     error
	Details   map[string]interface{}
}

// Error implements the error interface.
func (e *DomainError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %s (%v)", e.Category, e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Category, e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *DomainError) Unwrap() error {
	return e.Cause
}

// Is checks if this error matches a target.
func (e *DomainError) Is(target error) bool {
	t, ok := target.(*DomainError)
	if !ok {
		return false
	}
	return e.Category == t.Category && e.Code == t.Code
}

// WithCause wraps an underlying error.
func (e *DomainError) WithCause(cause error) *DomainError {
	e.Cause = cause
	return e
}

// WithDetail adds contextual information.
func (e *DomainError) WithDetail(key string, value interface{}) *DomainError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// ErrValidation creates a validation error.
func ErrValidation(code, message string) *DomainError {
	return &DomainError{Category: ErrCatValidation, Code: code, Message: message}
}

// ErrExecution creates an execution error.
func ErrExecution(code, message string) *DomainError {
	return &DomainError{Category: ErrCatExecution, Code: code, Message: message, Retryable: true}
}

// ErrTransient creates a transient error eligible for backoff retry.
func ErrTransient(code, message string) *DomainError {
	return &DomainError{Category: ErrCatTransient, Code: code, Message: message, Retryable: true}
}

// ErrAgentFailure creates an agent failure error.
func ErrAgentFailure(code, message string) *DomainError {
	return &DomainError{Category: ErrCatAgent, Code: code, Message: message, Retryable: true}
}

// ErrReviewConflict creates a review conflict error.
func ErrReviewConflict(message string) *DomainError {
	return &DomainError{Category: ErrCatConflict, Code: "REVIEW_CONFLICT", Message: message}
}

// ErrSpecMismatch creates a spec mismatch error. Never retryable: resolving
// a disagreement between tests and spec is always a human decision.
func ErrSpecMismatch(message string) *DomainError {
	return &DomainError{Category: ErrCatSpec, Code: "SPEC_MISMATCH", Message: message}
}

// ErrBlockingSecurity creates a blocking security error.
func ErrBlockingSecurity(message string) *DomainError {
	return &DomainError{Category: ErrCatSecurity, Code: "BLOCKING_SECURITY", Message: message}
}

// ErrResourceUnavailable creates a resource unavailable error.
func ErrResourceUnavailable(code, message string) *DomainError {
	return &DomainError{Category: ErrCatResource, Code: code, Message: message}
}

// ErrTimeout creates a timeout error.
func ErrTimeout(message string) *DomainError {
	return &DomainError{Category: ErrCatTimeout, Code: "TIMEOUT", Message: message, Retryable: true}
}

// ErrState creates a state error.
func ErrState(code, message string) *DomainError {
	return &DomainError{Category: ErrCatState, Code: code, Message: message}
}

// ErrNotFound creates a not found error.
func ErrNotFound(resource, id string) *DomainError {
	return &DomainError{
		Category: ErrCatNotFound,
		Code:     "NOT_FOUND",
		Message:  fmt.Sprintf("%s not found: %s", resource, id),
	}
}

// ErrBudgetExceeded creates an error when a spend would exceed a budget scope.
func ErrBudgetExceeded(scope string, requested, limit float64) *DomainError {
	return &DomainError{
		Category: ErrCatBudget,
		Code:     "BUDGET_EXCEEDED",
		Message:  fmt.Sprintf("%s budget: spend $%.4f exceeds limit $%.2f", scope, requested, limit),
		Details: map[string]interface{}{
			"scope":     scope,
			"requested": requested,
			"limit":     limit,
		},
	}
}

// InvalidTaskAssignment indicates a task expects output files the assigned
// agent is not permitted to write.
type InvalidTaskAssignment struct {
	TaskID  string
	AgentID string
	Reason  string
}

func (e *InvalidTaskAssignment) Error() string {
	return fmt.Sprintf("invalid assignment of task %s to agent %s: %s", e.TaskID, e.AgentID, e.Reason)
}

// InvalidAgentOutput indicates agent output failed schema validation.
type InvalidAgentOutput struct {
	AgentID string
	Errors  []string
}

func (e *InvalidAgentOutput) Error() string {
	return fmt.Sprintf("invalid output from agent %s: %v", e.AgentID, e.Errors)
}

// IsRetryable checks if an error is retryable.
func IsRetryable(err error) bool {
	var domErr *DomainError
	if errors.As(err, &domErr) {
		return domErr.Retryable
	}
	return false
}

// GetCategory extracts the error category.
func GetCategory(err error) ErrorCategory {
	var domErr *DomainError
	if errors.As(err, &domErr) {
		return domErr.Category
	}
	return ErrCatInternal
}

// IsCategory checks if an error belongs to a category.
func IsCategory(err error, cat ErrorCategory) bool {
	return GetCategory(err) == cat
}

// Predefined error codes.
const (
	CodeTaskNotFound     = "TASK_NOT_FOUND"
	CodeAgentUnavailable = "AGENT_UNAVAILABLE"
	CodeUnknownFamily    = "UNKNOWN_CLI_FAMILY"
	CodeInvalidState     = "INVALID_STATE"
	CodeStateCorrupted   = "STATE_CORRUPTED"
	CodeCancelled        = "CANCELLED"
	CodeParseFailed      = "PARSE_FAILED"
	CodeMergeConflict    = "MERGE_CONFLICT"
	CodeNoReviewers      = "NO_REVIEWERS"
	CodePreflightFailed  = "PREFLIGHT_FAILED"
)
