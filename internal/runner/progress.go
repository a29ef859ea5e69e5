package runner

import (
	"github.com/hugo-lorenzo-mato/foreman/internal/core"
)

// EventSink receives the serialisable progress event stream.
type EventSink func(ev core.ProgressEvent)

// eventEmitter adapts the callback contract onto a flat event stream for
// UIs. Nil-safe: a nil sink drops everything.
type eventEmitter struct {
	sink EventSink
	next core.ProgressCallback // optional chained callback
}

func newEmitter(sink EventSink, next core.ProgressCallback) *eventEmitter {
	if next == nil {
		next = core.NopProgress{}
	}
	return &eventEmitter{sink: sink, next: next}
}

func (e *eventEmitter) emit(ev core.ProgressEvent) {
	if e.sink != nil {
		e.sink(ev)
	}
}

func (e *eventEmitter) OnNodeStart(name string, state *core.WorkflowState) {
	e.emit(core.ProgressEvent{Type: core.EventNodeStart, Data: map[string]interface{}{
		"node": name, "phase": int(state.CurrentPhase),
	}})
	e.next.OnNodeStart(name, state)
}

func (e *eventEmitter) OnNodeEnd(name string, state *core.WorkflowState) {
	e.emit(core.ProgressEvent{Type: core.EventNodeEnd, Data: map[string]interface{}{
		"node": name, "phase": int(state.CurrentPhase), "decision": string(state.NextDecision),
	}})
	e.next.OnNodeEnd(name, state)
}

func (e *eventEmitter) OnTaskStart(taskID string) {
	e.emit(core.ProgressEvent{Type: core.EventAction, Data: map[string]interface{}{
		"action": "task_start", "task_id": taskID,
	}})
	e.next.OnTaskStart(taskID)
}

func (e *eventEmitter) OnTaskComplete(taskID string) {
	e.emit(core.ProgressEvent{Type: core.EventAction, Data: map[string]interface{}{
		"action": "task_complete", "task_id": taskID,
	}})
	e.next.OnTaskComplete(taskID)
}

func (e *eventEmitter) OnInterrupt(pending *core.PendingInterrupt) {
	e.emit(core.ProgressEvent{Type: core.EventInterrupt, Data: map[string]interface{}{
		"interrupt_type": string(pending.Type), "phase": int(pending.Phase),
	}})
	e.next.OnInterrupt(pending)
}

func (e *eventEmitter) OnMetricsUpdate(tokens int, costUSD float64, filesCreated, filesModified int) {
	e.emit(core.ProgressEvent{Type: core.EventAction, Data: map[string]interface{}{
		"action": "metrics", "tokens": tokens, "cost_usd": costUSD,
		"files_created": filesCreated, "files_modified": filesModified,
	}})
	e.next.OnMetricsUpdate(tokens, costUSD, filesCreated, filesModified)
}
