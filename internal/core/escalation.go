package core

import "time"

// Severity grades an escalation request.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// EscalationRequest is a persisted request for a human decision. One JSON
// file is written per event under <project>/.workflow/escalations/.
type EscalationRequest struct {
	TaskID         string    `json:"task_id"`
	Reason         string    `json:"reason"`
	Context        string    `json:"context,omitempty"`
	AttemptsMade   int       `json:"attempts_made"`
	Options        []string  `json:"options,omitempty"`
	Recommendation string    `json:"recommendation,omitempty"`
	Severity       Severity  `json:"severity"`
	Timestamp      time.Time `json:"timestamp"`
}
