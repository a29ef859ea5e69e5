package core

// ReviewFeedback is one reviewer's verdict on a working agent's output.
type ReviewFeedback struct {
	ReviewerID       string    `json:"reviewer_id"`
	CLI              CLIFamily `json:"cli"`
	Approved         bool      `json:"approved"`
	Score            float64   `json:"score"` // 0-10
	BlockingIssues   []string  `json:"blocking_issues,omitempty"`
	Suggestions      []string  `json:"suggestions,omitempty"`
	SecurityFindings []string  `json:"security_findings,omitempty"`
}

// ResolutionAction is the resolver's final disposition.
type ResolutionAction string

const (
	ActionApprove  ResolutionAction = "approve"
	ActionReject   ResolutionAction = "reject"
	ActionEscalate ResolutionAction = "escalate"
)

// ResolutionResult reduces two reviewer verdicts to a single decision.
type ResolutionResult struct {
	Approved       bool             `json:"approved"`
	FinalScore     float64          `json:"final_score"`
	DecisionReason string           `json:"decision_reason"`
	BlockingIssues []string         `json:"blocking_issues,omitempty"`
	Action         ResolutionAction `json:"action"`
}
