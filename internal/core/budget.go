package core

import "time"

// SpendRecord is one agent invocation's cost, accumulated into task- and
// project-scoped totals.
type SpendRecord struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	TaskID    string    `json:"task_id"`
	Agent     string    `json:"agent"`
	CostUSD   float64   `json:"cost_usd"`
	Model     string    `json:"model,omitempty"`
	Tokens    int       `json:"tokens,omitempty"`
}

// BudgetLimits configures the three nested spending scopes.
type BudgetLimits struct {
	ProjectUSD    float64            `json:"project_usd"`
	TaskUSD       float64            `json:"task_usd"`
	InvocationUSD float64            `json:"invocation_usd"`
	TaskOverrides map[string]float64 `json:"task_overrides,omitempty"`
}

// BudgetSummary aggregates recorded spending.
type BudgetSummary struct {
	TotalUSD float64            `json:"total_usd"`
	ByTask   map[string]float64 `json:"by_task"`
	ByAgent  map[string]float64 `json:"by_agent"`
}
