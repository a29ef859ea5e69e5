package core

import "time"

// TaskStatus represents the lifecycle state of a task.
type TaskStatus string

const (
	TaskStatusPending            TaskStatus = "pending"
	TaskStatusRunning            TaskStatus = "running"
	TaskStatusCompleted          TaskStatus = "completed"
	TaskStatusPartial            TaskStatus = "partial"
	TaskStatusFailed             TaskStatus = "failed"
	TaskStatusBlocked            TaskStatus = "blocked"
	TaskStatusNeedsClarification TaskStatus = "needs_clarification"
)

// Task is one unit of work produced by the planner.
type Task struct {
	ID                 string           `json:"id"`
	Title              string           `json:"title"`
	Description        string           `json:"description"`
	AcceptanceCriteria []string         `json:"acceptance_criteria,omitempty"`
	FilesToCreate      []string         `json:"files_to_create,omitempty"`
	FilesToModify      []string         `json:"files_to_modify,omitempty"`
	TestFiles          []string         `json:"test_files,omitempty"`
	InputFiles         []string         `json:"input_files,omitempty"`
	AssignedAgentID    string           `json:"assigned_agent_id"`
	Dependencies       []string         `json:"dependencies,omitempty"`
	Status             TaskStatus       `json:"status,omitempty"`
	Iteration          int              `json:"iteration,omitempty"`
	PreviousFeedback   []ReviewFeedback `json:"previous_feedback,omitempty"`
	ReviewGated        bool             `json:"review_gated,omitempty"`
}

// Plan is the ordered task list produced by the planning phase.
type Plan struct {
	Tasks     []Task    `json:"tasks"`
	Summary   string    `json:"summary,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// TaskByID returns the task with the given id, or nil.
func (p *Plan) TaskByID(id string) *Task {
	for i := range p.Tasks {
		if p.Tasks[i].ID == id {
			return &p.Tasks[i]
		}
	}
	return nil
}

// TopologicalOrder returns task ids respecting declared dependencies.
// Tasks whose dependencies are unsatisfiable are returned last, in
// declaration order, so a cyclic plan still terminates.
func (p *Plan) TopologicalOrder() []string {
	done := make(map[string]bool, len(p.Tasks))
	order := make([]string, 0, len(p.Tasks))

	for len(order) < len(p.Tasks) {
		progressed := false
		for _, t := range p.Tasks {
			if done[t.ID] {
				continue
			}
			ready := true
			for _, dep := range t.Dependencies {
				if !done[dep] {
					ready = false
					break
				}
			}
			if ready {
				done[t.ID] = true
				order = append(order, t.ID)
				progressed = true
			}
		}
		if !progressed {
			for _, t := range p.Tasks {
				if !done[t.ID] {
					done[t.ID] = true
					order = append(order, t.ID)
				}
			}
		}
	}
	return order
}

// DispatchResult is the outcome of a one-shot agent dispatch.
type DispatchResult struct {
	TaskID        string                 `json:"task_id"`
	AgentID       string                 `json:"agent_id"`
	Status        TaskStatus             `json:"status"`
	Output        map[string]interface{} `json:"output,omitempty"`
	FilesCreated  []string               `json:"files_created,omitempty"`
	FilesModified []string               `json:"files_modified,omitempty"`
	ExecutionTime time.Duration          `json:"execution_time"`
	CLIUsed       CLIFamily              `json:"cli_used"`
	Iteration     int                    `json:"iteration"`
	Error         string                 `json:"error,omitempty"`
	NeedsReview   bool                   `json:"needs_review"`
}
