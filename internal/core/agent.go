package core

import (
	"context"
	"time"
)

// CLIFamily identifies an external coding-agent CLI dialect.
type CLIFamily string

const (
	FamilyClaude CLIFamily = "claude" // flag-form prompt, JSON output, sessions, plan mode, budget flag
	FamilyCursor CLIFamily = "cursor" // trailing positional prompt, JSON output
	FamilyGemini CLIFamily = "gemini" // trailing positional prompt, plain text output
)

// Families lists all supported CLI families.
func Families() []CLIFamily {
	return []CLIFamily{FamilyClaude, FamilyCursor, FamilyGemini}
}

// Capabilities describes what a CLI family supports.
type Capabilities struct {
	SupportsJSONOutput     bool
	SupportsSessions       bool
	SupportsModelSelection bool
	SupportsPlanMode       bool
	SupportsBudgetFlag     bool
	CompletionPatterns     []string
	AvailableModels        []string
	DefaultModel           string
}

// AgentSpec is an immutable registry entry describing one agent.
type AgentSpec struct {
	ID                   string
	Name                 string
	PrimaryCLI           CLIFamily
	BackupCLI            CLIFamily
	ContextFilePath      string
	Reviewers            []string
	FallbackReviewer     string
	CanWriteFiles        bool
	AllowedPathGlobs     []string
	ForbiddenPathGlobs   []string
	MaxIterations        int
	Timeout              time.Duration
	IsReviewer           bool
	ReviewSpecialization string
	ConflictWeight       float64
	SupportsLoop         bool
	CompletionPatterns   []string
	AvailableModels      []string
	DefaultModel         string
}

// InvokeOptions configures a single adapter invocation.
type InvokeOptions struct {
	Prompt         string
	Model          string
	MaxTurns       int
	AllowedTools   []string
	SessionID      string
	ResumeSession  bool
	BudgetUSD      float64
	UsePlanMode    bool
	FallbackModel  string
	JSONSchemaPath string
	Timeout        time.Duration
}

// IterationResult is the outcome of one agent invocation.
type IterationResult struct {
	Success            bool                   `json:"success"`
	RawOutput          string                 `json:"raw_output"`
	ParsedOutput       map[string]interface{} `json:"parsed_output,omitempty"`
	CompletionDetected bool                   `json:"completion_detected"`
	ExitCode           int                    `json:"exit_code"`
	Duration           time.Duration          `json:"duration"`
	Error              string                 `json:"error,omitempty"`
	FilesChanged       []string               `json:"files_changed,omitempty"`
	SessionID          string                 `json:"session_id,omitempty"`
	CostUSD            float64                `json:"cost_usd,omitempty"`
	Model              string                 `json:"model,omitempty"`
}

// Adapter is the uniform invocation contract over one external CLI family.
type Adapter interface {
	// Family returns the CLI family this adapter drives.
	Family() CLIFamily

	// Capabilities returns what the underlying CLI supports.
	Capabilities() Capabilities

	// RunIteration invokes the CLI once and returns the parsed outcome.
	// Subprocess failures surface as IterationResult{Success: false}, not
	// errors; errors are reserved for cancellation and invocation faults.
	RunIteration(ctx context.Context, opts InvokeOptions) (*IterationResult, error)

	// CheckAvailability verifies the CLI binary is installed and reachable.
	CheckAvailability(ctx context.Context) error
}
