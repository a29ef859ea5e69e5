package core

import "path/filepath"

// WorkflowDirName is the per-project orchestrator directory.
const WorkflowDirName = ".workflow"

// Well-known subdirectories under <project>/.workflow/.
const (
	TempDirName        = "temp"
	SessionsDirName    = "sessions"
	ErrorCtxDirName    = "error_contexts"
	HistoryDirName     = "history"
	AuditDirName       = "audit"
	EscalationsDirName = "escalations"
	UnifiedLogsDirName = "unified_logs"
	PhasesDirName      = "phases"
	MessagesDirName    = "messages"
)

// WorkflowDir returns <project>/.workflow.
func WorkflowDir(projectDir string) string {
	return filepath.Join(projectDir, WorkflowDirName)
}

// EscalationsDir returns the per-event escalation record directory.
func EscalationsDir(projectDir string) string {
	return filepath.Join(WorkflowDir(projectDir), EscalationsDirName)
}

// UnifiedLogsDir returns the loop runner's per-iteration log directory.
func UnifiedLogsDir(projectDir, taskID string) string {
	return filepath.Join(WorkflowDir(projectDir), UnifiedLogsDirName, taskID)
}

// TempDir returns the TRANSIENT scratch directory for a task/agent pair.
func TempDir(projectDir, taskID, agentID string) string {
	return filepath.Join(WorkflowDir(projectDir), TempDirName, taskID, agentID)
}

// SessionDir returns the SESSION artifact directory for a task.
func SessionDir(projectDir, taskID string) string {
	return filepath.Join(WorkflowDir(projectDir), SessionsDirName, taskID)
}
