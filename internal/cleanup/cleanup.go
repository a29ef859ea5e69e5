// Package cleanup deletes workflow artifacts according to per-rule
// lifetimes: transient scratch, session artifacts, aged persistent files.
package cleanup

import (
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/google/renameio/v2"

	"github.com/hugo-lorenzo-mato/foreman/internal/core"
	"github.com/hugo-lorenzo-mato/foreman/internal/logging"
)

// Lifetime classifies how long an artifact may live.
type Lifetime string

const (
	LifetimeTransient  Lifetime = "TRANSIENT"  // deleted when the owning agent finishes
	LifetimeSession    Lifetime = "SESSION"    // deleted when the owning task finishes
	LifetimePersistent Lifetime = "PERSISTENT" // deleted after MaxAgeHours
	LifetimePermanent  Lifetime = "PERMANENT"  // never deleted
)

// Rule binds a glob of workflow-relative paths to a lifetime.
type Rule struct {
	Pattern     string
	Lifetime    Lifetime
	MaxAgeHours float64 // required for PERSISTENT
	Description string
}

// DefaultRules is the authoritative artifact-lifetime table.
func DefaultRules() []Rule {
	return []Rule{
		{Pattern: "temp/**", Lifetime: LifetimeTransient, Description: "agent scratch space"},
		{Pattern: "sessions/**", Lifetime: LifetimeSession, Description: "per-task session artifacts"},
		{Pattern: "messages/archive/**", Lifetime: LifetimePersistent, MaxAgeHours: 168, Description: "message archives"},
		{Pattern: "history/**", Lifetime: LifetimePersistent, MaxAgeHours: 168, Description: "archived task summaries"},
		{Pattern: "boards/archive/**", Lifetime: LifetimePersistent, MaxAgeHours: 720, Description: "board archives"},
		{Pattern: "audit/**", Lifetime: LifetimePermanent, Description: "audit trail"},
		{Pattern: "phases/**", Lifetime: LifetimePermanent, Description: "phase completion records"},
	}
}

// Result reports what one cleanup operation removed.
type Result struct {
	FilesDeleted       []string  `json:"files_deleted"`
	DirectoriesDeleted []string  `json:"directories_deleted"`
	BytesFreed         int64     `json:"bytes_freed"`
	Errors             []string  `json:"errors,omitempty"`
	Timestamp          time.Time `json:"timestamp"`
}

// Manager applies lifetime rules to the project's workflow directory.
type Manager struct {
	projectDir string
	rules      []Rule
	dryRun     bool
	logger     *logging.Logger
}

// Option customises a Manager.
type Option func(*Manager)

// WithRules replaces the default rule table.
func WithRules(rules []Rule) Option {
	return func(m *Manager) { m.rules = rules }
}

// WithDryRun reports intended deletions without performing them.
func WithDryRun() Option {
	return func(m *Manager) { m.dryRun = true }
}

// NewManager creates a cleanup manager.
func NewManager(projectDir string, logger *logging.Logger, opts ...Option) *Manager {
	if logger == nil {
		logger = logging.NewNop()
	}
	m := &Manager{
		projectDir: projectDir,
		rules:      DefaultRules(),
		logger:     logger,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// OnAgentComplete removes one agent's transient scratch directory.
func (m *Manager) OnAgentComplete(agentID, taskID string) *Result {
	res := newResult()
	m.removeDir(core.TempDir(m.projectDir, taskID, agentID), res)
	m.logger.WithTask(taskID).WithAgent(agentID).Debug("transient cleanup",
		"bytes_freed", res.BytesFreed, "dry_run", m.dryRun)
	return res
}

// OnTaskDone archives a summary of the task's session artifacts and
// removes its temp and session directories.
func (m *Manager) OnTaskDone(taskID string, archive bool) *Result {
	res := newResult()

	if archive {
		if err := m.archiveTask(taskID); err != nil {
			res.Errors = append(res.Errors, err.Error())
		}
	}
	m.removeDir(filepath.Join(core.WorkflowDir(m.projectDir), core.TempDirName, taskID), res)
	m.removeDir(core.SessionDir(m.projectDir, taskID), res)

	m.logger.WithTask(taskID).Info("task cleanup",
		"files_deleted", len(res.FilesDeleted),
		"dirs_deleted", len(res.DirectoriesDeleted),
		"bytes_freed", res.BytesFreed, "dry_run", m.dryRun)
	return res
}

// ScheduledCleanup deletes files under PERSISTENT rules whose age
// exceeds the rule's limit.
func (m *Manager) ScheduledCleanup() *Result {
	res := newResult()
	root := core.WorkflowDir(m.projectDir)
	now := time.Now()

	for _, rule := range m.rules {
		if rule.Lifetime != LifetimePersistent {
			continue
		}
		maxAge := time.Duration(rule.MaxAgeHours * float64(time.Hour))
		matches, err := doublestar.Glob(os.DirFS(root), rule.Pattern)
		if err != nil {
			res.Errors = append(res.Errors, fmt.Sprintf("%s: %v", rule.Pattern, err))
			continue
		}
		for _, rel := range matches {
			path := filepath.Join(root, rel)
			info, err := os.Stat(path)
			if err != nil || info.IsDir() {
				continue
			}
			if now.Sub(info.ModTime()) > maxAge {
				m.removeFile(path, info.Size(), res)
			}
		}
	}
	return res
}

// archiveTask writes a JSON summary of the task's session artifacts to
// the history directory.
func (m *Manager) archiveTask(taskID string) error {
	sessionDir := core.SessionDir(m.projectDir, taskID)
	summary := map[string]interface{}{
		"task_id":     taskID,
		"archived_at": time.Now().UTC(),
		"artifacts":   listFiles(sessionDir),
	}
	data, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		return err
	}
	if m.dryRun {
		return nil
	}
	histDir := filepath.Join(core.WorkflowDir(m.projectDir), core.HistoryDirName)
	if err := os.MkdirAll(histDir, 0o755); err != nil {
		return err
	}
	return renameio.WriteFile(filepath.Join(histDir, taskID+".json"), data, 0o644)
}

func (m *Manager) removeDir(dir string, res *Result) {
	size, files := dirContents(dir)
	if len(files) == 0 {
		if _, err := os.Stat(dir); err != nil {
			return
		}
	}
	if !m.dryRun {
		if err := os.RemoveAll(dir); err != nil {
			res.Errors = append(res.Errors, err.Error())
			return
		}
	}
	res.FilesDeleted = append(res.FilesDeleted, files...)
	res.DirectoriesDeleted = append(res.DirectoriesDeleted, dir)
	res.BytesFreed += size
}

func (m *Manager) removeFile(path string, size int64, res *Result) {
	if !m.dryRun {
		if err := os.Remove(path); err != nil {
			res.Errors = append(res.Errors, err.Error())
			return
		}
	}
	res.FilesDeleted = append(res.FilesDeleted, path)
	res.BytesFreed += size
}

func newResult() *Result {
	return &Result{Timestamp: time.Now().UTC()}
}

func dirContents(dir string) (int64, []string) {
	var size int64
	var files []string
	_ = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		if info, err := d.Info(); err == nil {
			size += info.Size()
		}
		files = append(files, path)
		return nil
	})
	return size, files
}

func listFiles(dir string) []string {
	_, files := dirContents(dir)
	rel := make([]string, 0, len(files))
	for _, f := range files {
		if r, err := filepath.Rel(dir, f); err == nil {
			rel = append(rel, r)
		} else {
			rel = append(rel, f)
		}
	}
	return rel
}
