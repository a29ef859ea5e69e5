package state

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/hugo-lorenzo-mato/foreman/internal/core"
)

const schema = `
CREATE TABLE IF NOT EXISTS checkpoints (
	id           TEXT PRIMARY KEY,
	project_name TEXT NOT NULL,
	node         TEXT NOT NULL,
	sequence     INTEGER NOT NULL,
	state        TEXT NOT NULL,
	heartbeat_at TEXT NOT NULL,
	created_at   TEXT NOT NULL,
	UNIQUE (project_name, sequence)
);
CREATE INDEX IF NOT EXISTS idx_checkpoints_project
	ON checkpoints (project_name, sequence DESC);

CREATE TABLE IF NOT EXISTS spend_records (
	id        TEXT PRIMARY KEY,
	timestamp TEXT NOT NULL,
	task_id   TEXT NOT NULL,
	agent     TEXT NOT NULL,
	cost_usd  REAL NOT NULL,
	model     TEXT,
	tokens    INTEGER
);
CREATE INDEX IF NOT EXISTS idx_spend_task ON spend_records (task_id);
`

// SQLiteStore implements Checkpointer and SpendStore over one database
// file at <project>/.workflow/state.db. The driver serialises writes.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (and migrates) the project state database.
func NewSQLiteStore(projectDir string) (*SQLiteStore, error) {
	dir := core.WorkflowDir(projectDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, core.ErrState("SQLITE_INIT", "create workflow directory").WithCause(err)
	}
	dsn := filepath.Join(dir, "state.db") + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, core.ErrState("SQLITE_INIT", "open state database").WithCause(err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, core.ErrState("SQLITE_INIT", "apply schema").WithCause(err)
	}
	return &SQLiteStore{db: db}, nil
}

// Save persists a checkpoint with the next per-project sequence.
func (s *SQLiteStore) Save(ctx context.Context, cp *core.Checkpoint) error {
	stateJSON, err := json.Marshal(cp.State)
	if err != nil {
		return core.ErrState("CHECKPOINT_ENCODE", "marshal state").WithCause(err)
	}
	if cp.ID == "" {
		cp.ID = uuid.NewString()
	}
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now().UTC()
	}
	cp.HeartbeatAt = time.Now().UTC()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return core.ErrState("CHECKPOINT_WRITE", "begin transaction").WithCause(err)
	}
	defer func() { _ = tx.Rollback() }()

	var maxSeq sql.NullInt64
	if err := tx.QueryRowContext(ctx,
		`SELECT MAX(sequence) FROM checkpoints WHERE project_name = ?`,
		cp.ProjectName).Scan(&maxSeq); err != nil {
		return core.ErrState("CHECKPOINT_WRITE", "read max sequence").WithCause(err)
	}
	cp.Sequence = maxSeq.Int64 + 1

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO checkpoints (id, project_name, node, sequence, state, heartbeat_at, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		cp.ID, cp.ProjectName, cp.Node, cp.Sequence, string(stateJSON),
		cp.HeartbeatAt.Format(time.RFC3339Nano), cp.CreatedAt.Format(time.RFC3339Nano)); err != nil {
		return core.ErrState("CHECKPOINT_WRITE", "insert checkpoint").WithCause(err)
	}
	if err := tx.Commit(); err != nil {
		return core.ErrState("CHECKPOINT_WRITE", "commit").WithCause(err)
	}
	return nil
}

// Latest returns the most recent checkpoint, or nil.
func (s *SQLiteStore) Latest(ctx context.Context, projectName string) (*core.Checkpoint, error) {
	list, err := s.List(ctx, projectName, 1)
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, nil
	}
	return list[0], nil
}

// List returns checkpoints most recent first, up to limit (0 = all).
func (s *SQLiteStore) List(ctx context.Context, projectName string, limit int) ([]*core.Checkpoint, error) {
	q := `SELECT id, project_name, node, sequence, state, heartbeat_at, created_at
	      FROM checkpoints WHERE project_name = ? ORDER BY sequence DESC`
	args := []interface{}{projectName}
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, core.ErrState("CHECKPOINT_READ", "query checkpoints").WithCause(err)
	}
	defer rows.Close()

	var out []*core.Checkpoint
	for rows.Next() {
		cp, err := scanCheckpoint(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, cp)
	}
	return out, rows.Err()
}

// Heartbeat bumps the liveness timestamp on the latest checkpoint.
func (s *SQLiteStore) Heartbeat(ctx context.Context, projectName string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE checkpoints SET heartbeat_at = ?
		 WHERE project_name = ?
		   AND sequence = (SELECT MAX(sequence) FROM checkpoints WHERE project_name = ?)`,
		time.Now().UTC().Format(time.RFC3339Nano), projectName, projectName)
	if err != nil {
		return core.ErrState("CHECKPOINT_WRITE", "heartbeat").WithCause(err)
	}
	return nil
}

// Prune removes checkpoints at or after fromSequence.
func (s *SQLiteStore) Prune(ctx context.Context, projectName string, fromSequence int64) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM checkpoints WHERE project_name = ? AND sequence >= ?`,
		projectName, fromSequence)
	if err != nil {
		return core.ErrState("CHECKPOINT_PRUNE", "delete checkpoints").WithCause(err)
	}
	return nil
}

// Close releases the database handle.
func (s *SQLiteStore) Close() error { return s.db.Close() }

// AppendSpend inserts one spend record.
func (s *SQLiteStore) AppendSpend(ctx context.Context, rec *core.SpendRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO spend_records (id, timestamp, task_id, agent, cost_usd, model, tokens)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.Timestamp.Format(time.RFC3339Nano), rec.TaskID, rec.Agent,
		rec.CostUSD, rec.Model, rec.Tokens)
	if err != nil {
		return core.ErrState("SPEND_WRITE", "insert spend record").WithCause(err)
	}
	return nil
}

// ListSpend returns all spend records, oldest first.
func (s *SQLiteStore) ListSpend(ctx context.Context) ([]*core.SpendRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, timestamp, task_id, agent, cost_usd, model, tokens
		 FROM spend_records ORDER BY timestamp ASC`)
	if err != nil {
		return nil, core.ErrState("SPEND_READ", "query spend records").WithCause(err)
	}
	defer rows.Close()

	var out []*core.SpendRecord
	for rows.Next() {
		var rec core.SpendRecord
		var ts string
		if err := rows.Scan(&rec.ID, &ts, &rec.TaskID, &rec.Agent,
			&rec.CostUSD, &rec.Model, &rec.Tokens); err != nil {
			return nil, core.ErrState("SPEND_READ", "scan spend record").WithCause(err)
		}
		rec.Timestamp, _ = time.Parse(time.RFC3339Nano, ts)
		out = append(out, &rec)
	}
	return out, rows.Err()
}

// DeleteTaskSpend removes all records for a task.
func (s *SQLiteStore) DeleteTaskSpend(ctx context.Context, taskID string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM spend_records WHERE task_id = ?`, taskID)
	if err != nil {
		return core.ErrState("SPEND_DELETE", "delete task spend").WithCause(err)
	}
	return nil
}

func scanCheckpoint(rows *sql.Rows) (*core.Checkpoint, error) {
	var cp core.Checkpoint
	var stateJSON, heartbeat, created string
	if err := rows.Scan(&cp.ID, &cp.ProjectName, &cp.Node, &cp.Sequence,
		&stateJSON, &heartbeat, &created); err != nil {
		return nil, core.ErrState("CHECKPOINT_READ", "scan checkpoint").WithCause(err)
	}
	if err := json.Unmarshal([]byte(stateJSON), &cp.State); err != nil {
		return nil, core.ErrState(core.CodeStateCorrupted,
			fmt.Sprintf("decode checkpoint %s", cp.ID)).WithCause(err)
	}
	cp.HeartbeatAt, _ = time.Parse(time.RFC3339Nano, heartbeat)
	cp.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
	return &cp, nil
}

var (
	_ core.Checkpointer = (*SQLiteStore)(nil)
	_ core.SpendStore   = (*SQLiteStore)(nil)
)
