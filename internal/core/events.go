package core

// ProgressEventType enumerates the stable event stream consumed by UIs.
type ProgressEventType string

const (
	EventNodeStart ProgressEventType = "node_start"
	EventNodeEnd   ProgressEventType = "node_end"
	EventAction    ProgressEventType = "action"
	EventInterrupt ProgressEventType = "interrupt"
	EventRollback  ProgressEventType = "rollback"
	EventReset     ProgressEventType = "reset"
	EventError     ProgressEventType = "error"
)

// ProgressEvent is a JSON-serialisable event emitted at node boundaries.
type ProgressEvent struct {
	Type ProgressEventType      `json:"type"`
	Data map[string]interface{} `json:"data,omitempty"`
}

// ProgressCallback receives workflow progress synchronously from node
// boundaries. Handlers must not block.
type ProgressCallback interface {
	OnNodeStart(name string, state *WorkflowState)
	OnNodeEnd(name string, state *WorkflowState)
	OnTaskStart(taskID string)
	OnTaskComplete(taskID string)
	OnInterrupt(pending *PendingInterrupt)
	OnMetricsUpdate(tokens int, costUSD float64, filesCreated, filesModified int)
}

// NopProgress is a ProgressCallback that ignores every event.
type NopProgress struct{}

func (NopProgress) OnNodeStart(string, *WorkflowState)     {}
func (NopProgress) OnNodeEnd(string, *WorkflowState)       {}
func (NopProgress) OnTaskStart(string)                     {}
func (NopProgress) OnTaskComplete(string)                  {}
func (NopProgress) OnInterrupt(*PendingInterrupt)          {}
func (NopProgress) OnMetricsUpdate(int, float64, int, int) {}
