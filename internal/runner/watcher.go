package runner

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"

	"github.com/hugo-lorenzo-mato/foreman/internal/core"
	"github.com/hugo-lorenzo-mato/foreman/internal/logging"
)

// responseSuffix marks a human's answer file next to an escalation.
const responseSuffix = ".response.json"

// ResponseHandler is invoked for each parsed human response.
type ResponseHandler func(taskKey string, response *core.HumanResponse)

// EscalationWatcher watches the escalations directory for response files
// so an out-of-band UI (or a human with an editor) can answer interrupts
// while the orchestrator waits.
type EscalationWatcher struct {
	dir     string
	watcher *fsnotify.Watcher
	handler ResponseHandler
	logger  *logging.Logger
}

// NewEscalationWatcher creates a watcher over the project's escalations
// directory, creating the directory if needed.
func NewEscalationWatcher(projectDir string, handler ResponseHandler, logger *logging.Logger) (*EscalationWatcher, error) {
	if logger == nil {
		logger = logging.NewNop()
	}
	dir := core.EscalationsDir(projectDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, core.ErrState("WATCHER_INIT", "create escalations directory").WithCause(err)
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, core.ErrState("WATCHER_INIT", "create fsnotify watcher").WithCause(err)
	}
	if err := w.Add(dir); err != nil {
		_ = w.Close()
		return nil, core.ErrState("WATCHER_INIT", "watch escalations directory").WithCause(err)
	}

	return &EscalationWatcher{dir: dir, watcher: w, handler: handler, logger: logger}, nil
}

// Run consumes events until the context is cancelled. Malformed response
// files are logged and skipped.
func (ew *EscalationWatcher) Run(ctx context.Context) error {
	defer func() { _ = ew.watcher.Close() }()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-ew.watcher.Events:
			if !ok {
				return nil
			}
			if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) {
				continue
			}
			if !strings.HasSuffix(ev.Name, responseSuffix) {
				continue
			}
			ew.handle(ev.Name)
		case err, ok := <-ew.watcher.Errors:
			if !ok {
				return nil
			}
			ew.logger.Warn("escalation watcher error", "error", err)
		}
	}
}

func (ew *EscalationWatcher) handle(path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		ew.logger.Warn("unreadable response file", "path", path, "error", err)
		return
	}
	var resp core.HumanResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		ew.logger.Warn("malformed response file", "path", path, "error", err)
		return
	}
	key := strings.TrimSuffix(filepath.Base(path), responseSuffix)
	ew.logger.Info("escalation response received", "key", key, "action", resp.Action)
	if ew.handler != nil {
		ew.handler(key, &resp)
	}
}
