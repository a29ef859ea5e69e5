package session

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/renameio/v2"

	"github.com/hugo-lorenzo-mato/foreman/internal/core"
)

// FileStore persists sessions as one JSON file per task under
// <project>/.workflow/sessions/.
type FileStore struct {
	dir string
}

// NewFileStore creates a file-backed session store rooted at the
// project's workflow directory.
func NewFileStore(projectDir string) (*FileStore, error) {
	dir := filepath.Join(core.WorkflowDir(projectDir), core.SessionsDirName)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, core.ErrState("SESSION_STORE_INIT",
			fmt.Sprintf("create session directory: %v", err)).WithCause(err)
	}
	return &FileStore{dir: dir}, nil
}

func (s *FileStore) path(taskID string) string {
	return filepath.Join(s.dir, taskID+".json")
}

// SaveSession writes the session record atomically.
func (s *FileStore) SaveSession(_ context.Context, info *core.SessionInfo) error {
	data, err := json.MarshalIndent(info, "", "  ")
	if err != nil {
		return core.ErrState("SESSION_ENCODE", "marshal session").WithCause(err)
	}
	if err := renameio.WriteFile(s.path(info.TaskID), data, 0o644); err != nil {
		return core.ErrState("SESSION_WRITE",
			fmt.Sprintf("write session for task %s", info.TaskID)).WithCause(err)
	}
	return nil
}

// LoadSession reads a session record. A missing file returns a not_found
// error so callers can distinguish absence from corruption.
func (s *FileStore) LoadSession(_ context.Context, taskID string) (*core.SessionInfo, error) {
	data, err := os.ReadFile(s.path(taskID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, core.ErrNotFound("session", taskID)
		}
		return nil, core.ErrState("SESSION_READ",
			fmt.Sprintf("read session for task %s", taskID)).WithCause(err)
	}
	var info core.SessionInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, core.ErrState("SESSION_DECODE",
			fmt.Sprintf("decode session for task %s", taskID)).WithCause(err)
	}
	return &info, nil
}

// DeleteSession removes a session record. Deleting a missing session is
// not an error.
func (s *FileStore) DeleteSession(_ context.Context, taskID string) error {
	if err := os.Remove(s.path(taskID)); err != nil && !os.IsNotExist(err) {
		return core.ErrState("SESSION_DELETE",
			fmt.Sprintf("delete session for task %s", taskID)).WithCause(err)
	}
	return nil
}

var _ core.SessionStore = (*FileStore)(nil)
