package core

import "context"

// Checkpointer persists (node, state) snapshots after every node boundary.
// Implementations must serialise writes internally.
type Checkpointer interface {
	// Save persists a checkpoint. The store assigns Sequence monotonically
	// per project.
	Save(ctx context.Context, cp *Checkpoint) error

	// Latest returns the most recent checkpoint for a project, or nil.
	Latest(ctx context.Context, projectName string) (*Checkpoint, error)

	// List returns checkpoints for a project, most recent first.
	List(ctx context.Context, projectName string, limit int) ([]*Checkpoint, error)

	// Heartbeat bumps the liveness timestamp on the latest checkpoint.
	Heartbeat(ctx context.Context, projectName string) error

	// Prune removes all checkpoints at or after the given sequence.
	Prune(ctx context.Context, projectName string, fromSequence int64) error

	// Close releases store resources.
	Close() error
}

// SessionStore persists SessionInfo records for the session manager.
type SessionStore interface {
	SaveSession(ctx context.Context, info *SessionInfo) error
	LoadSession(ctx context.Context, taskID string) (*SessionInfo, error)
	DeleteSession(ctx context.Context, taskID string) error
}

// SpendStore persists SpendRecord entries for the budget manager.
type SpendStore interface {
	AppendSpend(ctx context.Context, rec *SpendRecord) error
	ListSpend(ctx context.Context) ([]*SpendRecord, error)
	DeleteTaskSpend(ctx context.Context, taskID string) error
}
