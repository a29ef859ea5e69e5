// Package state provides checkpoint and spend persistence: a file-backed
// JSON store and a SQLite store, selected by configuration.
package state

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/renameio/v2"
	"github.com/google/uuid"

	"github.com/hugo-lorenzo-mato/foreman/internal/core"
)

const checkpointsDirName = "checkpoints"

// JSONCheckpointer persists checkpoints as numbered JSON files under
// <project>/.workflow/checkpoints/<project-name>/. Writes are atomic and
// serialised by an internal mutex.
type JSONCheckpointer struct {
	mu  sync.Mutex
	dir string
}

// NewJSONCheckpointer creates a file-backed checkpointer.
func NewJSONCheckpointer(projectDir string) (*JSONCheckpointer, error) {
	dir := filepath.Join(core.WorkflowDir(projectDir), checkpointsDirName)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, core.ErrState("CHECKPOINT_INIT",
			fmt.Sprintf("create checkpoint directory: %v", err)).WithCause(err)
	}
	return &JSONCheckpointer{dir: dir}, nil
}

func (c *JSONCheckpointer) projectDirFor(projectName string) string {
	return filepath.Join(c.dir, projectName)
}

// Save assigns the next sequence number and writes the checkpoint.
func (c *JSONCheckpointer) Save(_ context.Context, cp *core.Checkpoint) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	dir := c.projectDirFor(cp.ProjectName)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return core.ErrState("CHECKPOINT_WRITE", "create project checkpoint dir").WithCause(err)
	}

	seqs, err := c.sequences(cp.ProjectName)
	if err != nil {
		return err
	}
	cp.Sequence = 1
	if len(seqs) > 0 {
		cp.Sequence = seqs[len(seqs)-1] + 1
	}
	if cp.ID == "" {
		cp.ID = uuid.NewString()
	}
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now().UTC()
	}
	cp.HeartbeatAt = time.Now().UTC()

	data, err := json.MarshalIndent(cp, "", "  ")
	if err != nil {
		return core.ErrState("CHECKPOINT_ENCODE", "marshal checkpoint").WithCause(err)
	}
	path := filepath.Join(dir, fmt.Sprintf("%012d.json", cp.Sequence))
	if err := renameio.WriteFile(path, data, 0o644); err != nil {
		return core.ErrState("CHECKPOINT_WRITE",
			fmt.Sprintf("write checkpoint %d", cp.Sequence)).WithCause(err)
	}
	return nil
}

// Latest returns the highest-sequence checkpoint, or nil when none exist.
func (c *JSONCheckpointer) Latest(ctx context.Context, projectName string) (*core.Checkpoint, error) {
	list, err := c.List(ctx, projectName, 1)
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, nil
	}
	return list[0], nil
}

// List returns checkpoints most recent first, up to limit (0 = all).
func (c *JSONCheckpointer) List(_ context.Context, projectName string, limit int) ([]*core.Checkpoint, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	seqs, err := c.sequences(projectName)
	if err != nil {
		return nil, err
	}
	var out []*core.Checkpoint
	for i := len(seqs) - 1; i >= 0; i-- {
		if limit > 0 && len(out) == limit {
			break
		}
		cp, err := c.read(projectName, seqs[i])
		if err != nil {
			return nil, err
		}
		out = append(out, cp)
	}
	return out, nil
}

// Heartbeat bumps the liveness timestamp on the latest checkpoint.
func (c *JSONCheckpointer) Heartbeat(_ context.Context, projectName string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	seqs, err := c.sequences(projectName)
	if err != nil || len(seqs) == 0 {
		return err
	}
	seq := seqs[len(seqs)-1]
	cp, err := c.read(projectName, seq)
	if err != nil {
		return err
	}
	cp.HeartbeatAt = time.Now().UTC()
	data, err := json.MarshalIndent(cp, "", "  ")
	if err != nil {
		return core.ErrState("CHECKPOINT_ENCODE", "marshal checkpoint").WithCause(err)
	}
	path := filepath.Join(c.projectDirFor(projectName), fmt.Sprintf("%012d.json", seq))
	return renameio.WriteFile(path, data, 0o644)
}

// Prune removes all checkpoints at or after fromSequence.
func (c *JSONCheckpointer) Prune(_ context.Context, projectName string, fromSequence int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	seqs, err := c.sequences(projectName)
	if err != nil {
		return err
	}
	for _, seq := range seqs {
		if seq < fromSequence {
			continue
		}
		path := filepath.Join(c.projectDirFor(projectName), fmt.Sprintf("%012d.json", seq))
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return core.ErrState("CHECKPOINT_PRUNE",
				fmt.Sprintf("remove checkpoint %d", seq)).WithCause(err)
		}
	}
	return nil
}

// Close is a no-op for the file store.
func (c *JSONCheckpointer) Close() error { return nil }

// sequences lists the stored sequence numbers, ascending. Caller holds
// the lock.
func (c *JSONCheckpointer) sequences(projectName string) ([]int64, error) {
	entries, err := os.ReadDir(c.projectDirFor(projectName))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, core.ErrState("CHECKPOINT_READ", "list checkpoints").WithCause(err)
	}
	var seqs []int64
	for _, e := range entries {
		name := strings.TrimSuffix(e.Name(), ".json")
		var seq int64
		if _, err := fmt.Sscanf(name, "%d", &seq); err == nil {
			seqs = append(seqs, seq)
		}
	}
	sort.Slice(seqs, func(i, j int) bool { return seqs[i] < seqs[j] })
	return seqs, nil
}

func (c *JSONCheckpointer) read(projectName string, seq int64) (*core.Checkpoint, error) {
	path := filepath.Join(c.projectDirFor(projectName), fmt.Sprintf("%012d.json", seq))
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, core.ErrState("CHECKPOINT_READ",
			fmt.Sprintf("read checkpoint %d", seq)).WithCause(err)
	}
	var cp core.Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, core.ErrState(core.CodeStateCorrupted,
			fmt.Sprintf("decode checkpoint %d", seq)).WithCause(err)
	}
	return &cp, nil
}

var _ core.Checkpointer = (*JSONCheckpointer)(nil)
