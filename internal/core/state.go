package core

import "time"

// Phase numbers the pipeline stages.
type Phase int

const (
	PhasePrerequisites  Phase = 0
	PhasePlanning       Phase = 1
	PhaseValidation     Phase = 2
	PhaseImplementation Phase = 3
	PhaseVerification   Phase = 4
	PhaseCompletion     Phase = 5
)

// PhaseState tracks one phase's progress.
type PhaseState struct {
	Status         PhaseStatus `json:"status"`
	StartedAt      *time.Time  `json:"started_at,omitempty"`
	EndedAt        *time.Time  `json:"ended_at,omitempty"`
	IterationCount int         `json:"iteration_count,omitempty"`
	Error          string      `json:"error,omitempty"`
}

// PhaseStatus is the lifecycle state of a phase.
type PhaseStatus string

const (
	PhasePending   PhaseStatus = "pending"
	PhaseRunning   PhaseStatus = "running"
	PhaseCompleted PhaseStatus = "completed"
	PhaseFailed    PhaseStatus = "failed"
	PhaseSkipped   PhaseStatus = "skipped"
)

// Decision drives conditional routing between graph nodes.
type Decision string

const (
	DecisionContinue Decision = "continue"
	DecisionRetry    Decision = "retry"
	DecisionEscalate Decision = "escalate"
	DecisionAbort    Decision = "abort"
)

// ExecutionMode selects human-in-the-loop or away-from-keyboard operation.
type ExecutionMode string

const (
	ModeHITL ExecutionMode = "hitl"
	ModeAFK  ExecutionMode = "afk"
)

// WorkflowConfig carries caller-supplied run options inside the state.
type WorkflowConfig struct {
	StartPhase       Phase   `json:"start_phase"`
	EndPhase         Phase   `json:"end_phase"`
	SkipValidation   bool    `json:"skip_validation"`
	ProjectBudgetUSD float64 `json:"project_budget_usd,omitempty"`
	TaskBudgetUSD    float64 `json:"task_budget_usd,omitempty"`
}

// InterruptType distinguishes the two suspension reasons.
type InterruptType string

const (
	InterruptEscalation       InterruptType = "escalation"
	InterruptApprovalRequired InterruptType = "approval_required"
)

// PendingInterrupt marks the runner as suspended awaiting a human response.
type PendingInterrupt struct {
	Type  InterruptType `json:"type"`
	Phase Phase         `json:"phase"`
	// Escalation fields
	Issue            string   `json:"issue,omitempty"`
	ErrorType        string   `json:"error_type,omitempty"`
	SuggestedActions []string `json:"suggested_actions,omitempty"`
	Clarifications   []string `json:"clarifications,omitempty"`
	Context          string   `json:"context,omitempty"`
	RetryCount       int      `json:"retry_count,omitempty"`
	MaxRetries       int      `json:"max_retries,omitempty"`
	// Approval fields
	ApprovalType string             `json:"approval_type,omitempty"`
	Summary      string             `json:"summary,omitempty"`
	Details      string             `json:"details,omitempty"`
	Scores       map[string]float64 `json:"scores,omitempty"`
	FilesChanged []string           `json:"files_changed,omitempty"`
}

// HumanResponse satisfies a pending interrupt on resume.
type HumanResponse struct {
	Action   string            `json:"action"` // retry, skip, continue, answer_clarification, abort, approve, reject, request_changes
	Answers  map[string]string `json:"answers,omitempty"`
	Feedback string            `json:"feedback,omitempty"`
	Reason   string            `json:"reason,omitempty"`
}

// MaxStateErrors bounds the append-only error log in the shared state.
const MaxStateErrors = 200

// WorkflowState is the shared, reducer-merged state that every graph node
// reads and updates.
type WorkflowState struct {
	ProjectName string `json:"project_name"`
	ProjectDir  string `json:"project_dir"`

	CurrentPhase Phase                 `json:"current_phase"`
	PhaseStatus  map[Phase]*PhaseState `json:"phase_status"`

	Plan             *Plan    `json:"plan,omitempty"`
	CompletedTaskIDs []string `json:"completed_task_ids,omitempty"`
	BlockedTaskIDs   []string `json:"blocked_task_ids,omitempty"`
	CurrentTaskID    string   `json:"current_task_id,omitempty"`

	ValidationFeedback   map[string]ReviewFeedback `json:"validation_feedback,omitempty"`
	VerificationFeedback map[string]ReviewFeedback `json:"verification_feedback,omitempty"`

	NextDecision Decision `json:"next_decision"`
	Errors       []string `json:"errors,omitempty"`

	ExecutionMode    ExecutionMode     `json:"execution_mode"`
	PendingInterrupt *PendingInterrupt `json:"pending_interrupt,omitempty"`
	HumanResponse    *HumanResponse    `json:"human_response,omitempty"`

	RetryCount int `json:"retry_count"`
	MaxRetries int `json:"max_retries"`

	Config WorkflowConfig `json:"config"`

	// PhaseCommits maps a phase to the repository commit recorded before the
	// phase started, enabling rollback_to_phase.
	PhaseCommits map[Phase]string `json:"phase_commits,omitempty"`

	UpdatedAt time.Time `json:"updated_at"`
}

// NewWorkflowState builds an initial state for a project.
func NewWorkflowState(projectName, projectDir string, cfg WorkflowConfig) *WorkflowState {
	st := &WorkflowState{
		ProjectName:   projectName,
		ProjectDir:    projectDir,
		CurrentPhase:  cfg.StartPhase,
		PhaseStatus:   make(map[Phase]*PhaseState),
		NextDecision:  DecisionContinue,
		ExecutionMode: ModeHITL,
		MaxRetries:    3,
		Config:        cfg,
		PhaseCommits:  make(map[Phase]string),
		UpdatedAt:     time.Now(),
	}
	for p := PhasePrerequisites; p <= PhaseCompletion; p++ {
		st.PhaseStatus[p] = &PhaseState{Status: PhasePending}
	}
	return st
}

// PhaseFor returns the tracked state for a phase, creating it if absent.
func (s *WorkflowState) PhaseFor(p Phase) *PhaseState {
	if s.PhaseStatus == nil {
		s.PhaseStatus = make(map[Phase]*PhaseState)
	}
	ps, ok := s.PhaseStatus[p]
	if !ok {
		ps = &PhaseState{Status: PhasePending}
		s.PhaseStatus[p] = ps
	}
	return ps
}

// IsTaskCompleted reports whether the task id is in the completed set.
func (s *WorkflowState) IsTaskCompleted(id string) bool {
	for _, c := range s.CompletedTaskIDs {
		if c == id {
			return true
		}
	}
	return false
}

// Succeeded is the success predicate for external callers.
func (s *WorkflowState) Succeeded() bool {
	ps, ok := s.PhaseStatus[s.Config.EndPhase]
	return s.CurrentPhase == s.Config.EndPhase &&
		ok && ps.Status == PhaseCompleted &&
		s.NextDecision == DecisionContinue
}

// Checkpoint is the serialised (node, state) snapshot written after every
// node boundary.
type Checkpoint struct {
	ID          string         `json:"id"`
	ProjectName string         `json:"project_name"`
	Node        string         `json:"node"`
	Sequence    int64          `json:"sequence"`
	State       *WorkflowState `json:"state"`
	HeartbeatAt time.Time      `json:"heartbeat_at"`
	CreatedAt   time.Time      `json:"created_at"`
}
