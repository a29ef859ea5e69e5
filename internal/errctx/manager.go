package errctx

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/renameio/v2"

	"github.com/hugo-lorenzo-mato/foreman/internal/core"
	"github.com/hugo-lorenzo-mato/foreman/internal/logging"
)

// DefaultMaxPerTask bounds how many error records a task retains.
const DefaultMaxPerTask = 5

// Record captures the optional fields of a failure; omitted fields are
// derived automatically.
type Record struct {
	Message       string
	Attempt       int
	ExitCode      int
	StdoutExcerpt string
	StderrExcerpt string
	StackTrace    string
	FilesInvolved []string
	Kind          core.ErrorKind
}

// Manager records classified failures per task and shapes them into
// retry-prompt guidance. Records persist under
// <project>/.workflow/error_contexts/ so retries survive restarts.
type Manager struct {
	mu         sync.Mutex
	dir        string
	maxPerTask int
	errors     map[string][]*core.ErrorContext
	counter    int
	now        func() time.Time
	logger     *logging.Logger
}

// NewManager creates an error-context manager rooted at the project dir.
func NewManager(projectDir string, logger *logging.Logger) (*Manager, error) {
	dir := filepath.Join(core.WorkflowDir(projectDir), core.ErrorCtxDirName)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, core.ErrState("ERRCTX_INIT",
			fmt.Sprintf("create error context directory: %v", err)).WithCause(err)
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Manager{
		dir:        dir,
		maxPerTask: DefaultMaxPerTask,
		errors:     make(map[string][]*core.ErrorContext),
		now:        time.Now,
		logger:     logger,
	}, nil
}

// Record stores a failure for a task, truncating oversized fields and
// deriving classification, files, and suggestions when omitted.
func (m *Manager) Record(taskID string, rec Record) *core.ErrorContext {
	m.mu.Lock()
	defer m.mu.Unlock()

	kind := rec.Kind
	if kind == "" {
		kind = Classify(rec.Message, rec.StderrExcerpt, rec.ExitCode)
	}
	files := rec.FilesInvolved
	if len(files) == 0 {
		files = ExtractFiles(rec.Message + "\n" + rec.StderrExcerpt + "\n" + rec.StackTrace)
	}

	m.counter++
	ec := &core.ErrorContext{
		ID:             fmt.Sprintf("err-%s-%d-%d", taskID, m.now().Unix(), m.counter),
		TaskID:         taskID,
		Timestamp:      m.now(),
		Attempt:        rec.Attempt,
		Classification: kind,
		Message:        truncate(rec.Message, core.MaxErrorMessageLen),
		StdoutExcerpt:  truncate(rec.StdoutExcerpt, core.MaxExcerptLen),
		StderrExcerpt:  truncate(rec.StderrExcerpt, core.MaxExcerptLen),
		FilesInvolved:  files,
		StackTrace:     truncate(rec.StackTrace, core.MaxStackTraceLen),
		Suggestions:    SuggestionsFor(kind),
	}

	list := append(m.errors[taskID], ec)
	if len(list) > m.maxPerTask {
		list = list[len(list)-m.maxPerTask:]
	}
	m.errors[taskID] = list
	m.persist(taskID, list)

	m.logger.WithTask(taskID).Debug("error recorded",
		"kind", string(kind), "attempt", rec.Attempt, "id", ec.ID)
	return ec
}

// TaskErrors returns the retained records for a task, oldest first.
func (m *Manager) TaskErrors(taskID string) []*core.ErrorContext {
	m.mu.Lock()
	defer m.mu.Unlock()
	if list, ok := m.errors[taskID]; ok {
		out := make([]*core.ErrorContext, len(list))
		copy(out, list)
		return out
	}
	return m.load(taskID)
}

// ClearTaskErrors drops all records for a task, reporting whether any
// existed in memory or on disk. Called on task success.
func (m *Manager) ClearTaskErrors(taskID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, had := m.errors[taskID]
	delete(m.errors, taskID)
	if err := os.Remove(m.file(taskID)); err == nil {
		had = true
	}
	return had
}

// BuildRetryPrompt prepends "Previous Attempt Failed" blocks and retry
// instructions to the original prompt, bounded by a character budget for
// the error section. Returns the original unchanged when no errors exist.
func (m *Manager) BuildRetryPrompt(taskID, originalPrompt string, budget int) string {
	errs := m.TaskErrors(taskID)
	if len(errs) == 0 {
		return originalPrompt
	}
	if budget <= 0 {
		budget = 4000
	}

	var b strings.Builder
	for i := len(errs) - 1; i >= 0; i-- {
		block := formatErrorBlock(errs[i])
		if b.Len()+len(block) > budget {
			break
		}
		b.WriteString(block)
	}
	if b.Len() == 0 {
		return originalPrompt
	}

	b.WriteString("## Retry Instructions\n")
	b.WriteString("1. Address the errors above before adding new functionality.\n")
	b.WriteString("2. Re-run the verification locally if possible.\n")
	b.WriteString("3. Keep unrelated code unchanged.\n\n")
	b.WriteString("---\n\n")
	b.WriteString(originalPrompt)
	return b.String()
}

func formatErrorBlock(ec *core.ErrorContext) string {
	var b strings.Builder
	fmt.Fprintf(&b, "## Previous Attempt %d Failed\n", ec.Attempt)
	fmt.Fprintf(&b, "Error type: %s\n", ec.Classification)
	fmt.Fprintf(&b, "Message: %s\n", ec.Message)
	if ec.StackTrace != "" {
		fmt.Fprintf(&b, "Trace:\n%s\n", truncate(ec.StackTrace, 600))
	}
	if ec.StderrExcerpt != "" {
		fmt.Fprintf(&b, "Stderr:\n%s\n", truncate(ec.StderrExcerpt, 400))
	}
	if len(ec.Suggestions) > 0 {
		b.WriteString("Suggestions:\n")
		for i, s := range ec.Suggestions {
			if i == 3 {
				break
			}
			fmt.Fprintf(&b, "- %s\n", s)
		}
	}
	b.WriteString("\n")
	return b.String()
}

func (m *Manager) file(taskID string) string {
	return filepath.Join(m.dir, taskID+"_errors.json")
}

func (m *Manager) persist(taskID string, list []*core.ErrorContext) {
	data, err := json.MarshalIndent(list, "", "  ")
	if err != nil {
		return
	}
	if err := renameio.WriteFile(m.file(taskID), data, 0o644); err != nil {
		m.logger.WithTask(taskID).Warn("persist error contexts failed", "error", err)
	}
}

// load reads persisted records; caller holds the lock.
func (m *Manager) load(taskID string) []*core.ErrorContext {
	data, err := os.ReadFile(m.file(taskID))
	if err != nil {
		return nil
	}
	var list []*core.ErrorContext
	if err := json.Unmarshal(data, &list); err != nil {
		return nil
	}
	m.errors[taskID] = list
	out := make([]*core.ErrorContext, len(list))
	copy(out, list)
	return out
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
