package core

import "time"

// VerifierKind identifies a verification strategy.
type VerifierKind string

const (
	VerifierTests     VerifierKind = "tests"
	VerifierLint      VerifierKind = "lint"
	VerifierSecurity  VerifierKind = "security"
	VerifierComposite VerifierKind = "composite"
	VerifierNone      VerifierKind = "none"
)

// VerificationResult is the outcome of validating a project after an
// agent iteration.
type VerificationResult struct {
	Passed    bool          `json:"passed"`
	Kind      VerifierKind  `json:"kind"`
	Summary   string        `json:"summary"`
	Failures  []string      `json:"failures,omitempty"`
	Warnings  []string      `json:"warnings,omitempty"`
	Duration  time.Duration `json:"duration"`
	RawOutput string        `json:"raw_output,omitempty"`
}
