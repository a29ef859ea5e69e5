package core

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDomainErrorFormatting(t *testing.T) {
	err := ErrValidation("CONFIG_INVALID", "bad yaml")
	assert.Equal(t, "[validation] CONFIG_INVALID: bad yaml", err.Error())

	wrapped := err.WithCause(errors.New("line 3"))
	assert.Equal(t, "[validation] CONFIG_INVALID: bad yaml (line 3)", wrapped.Error())
	assert.Equal(t, "line 3", errors.Unwrap(wrapped).Error())
}

func TestDomainErrorIsMatchesCategoryAndCode(t *testing.T) {
	err := ErrState(CodeInvalidState, "phase out of range")
	assert.ErrorIs(t, err, ErrState(CodeInvalidState, "different message"))
	assert.NotErrorIs(t, err, ErrState(CodeStateCorrupted, "phase out of range"))
	assert.NotErrorIs(t, err, errors.New("phase out of range"))
}

func TestCategoryExtraction(t *testing.T) {
	tests := []struct {
		name string
		err  error
		cat  ErrorCategory
	}{
		{"transient", ErrTransient("RATE_LIMIT", "429"), ErrCatTransient},
		{"agent", ErrAgentFailure("EXIT_1", "crashed"), ErrCatAgent},
		{"conflict", ErrReviewConflict("9 vs 3"), ErrCatConflict},
		{"spec", ErrSpecMismatch("test disagrees"), ErrCatSpec},
		{"security", ErrBlockingSecurity("hardcoded key"), ErrCatSecurity},
		{"timeout", ErrTimeout("30m exceeded"), ErrCatTimeout},
		{"budget", ErrBudgetExceeded("task", 1.2, 1.0), ErrCatBudget},
		{"not found", ErrNotFound("agent", "ghost"), ErrCatNotFound},
		{"wrapped keeps category", fmt.Errorf("outer: %w", ErrTimeout("x")), ErrCatTimeout},
		{"plain error is internal", errors.New("boom"), ErrCatInternal},
		{"nil is internal", nil, ErrCatInternal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.cat, GetCategory(tt.err))
			assert.True(t, IsCategory(tt.err, tt.cat))
		})
	}
}

func TestRetryability(t *testing.T) {
	assert.True(t, IsRetryable(ErrTransient("RATE_LIMIT", "429")))
	assert.True(t, IsRetryable(ErrAgentFailure("EXIT_1", "crashed")))
	assert.True(t, IsRetryable(ErrTimeout("late")))
	assert.False(t, IsRetryable(ErrSpecMismatch("human decision")))
	assert.False(t, IsRetryable(ErrBlockingSecurity("human decision")))
	assert.False(t, IsRetryable(ErrValidation("X", "no")))
	assert.False(t, IsRetryable(errors.New("untyped")))
}

func TestBudgetExceededDetails(t *testing.T) {
	err := ErrBudgetExceeded("invocation", 0.5123, 0.25)
	assert.Contains(t, err.Error(), "invocation budget")
	assert.Contains(t, err.Error(), "$0.5123")
	assert.Contains(t, err.Error(), "$0.25")
	assert.Equal(t, "invocation", err.Details["scope"])
}

func TestWithDetail(t *testing.T) {
	err := ErrValidation("X", "y").WithDetail("file", "main.go").WithDetail("line", 3)
	assert.Equal(t, "main.go", err.Details["file"])
	assert.Equal(t, 3, err.Details["line"])
}

func TestSentinelStructErrors(t *testing.T) {
	var assign error = &InvalidTaskAssignment{TaskID: "t1", AgentID: "reviewer-security", Reason: "read-only"}
	assert.Contains(t, assign.Error(), "task t1")
	assert.Contains(t, assign.Error(), "reviewer-security")

	var output error = &InvalidAgentOutput{AgentID: "builder", Errors: []string{"missing status"}}
	assert.Contains(t, output.Error(), "builder")
	assert.Contains(t, output.Error(), "missing status")
}
