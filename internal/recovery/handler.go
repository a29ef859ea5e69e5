// Package recovery routes failures to category-specific policies:
// backoff retry, backup-CLI switch, resolver delegation, or escalation.
package recovery

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/renameio/v2"

	"github.com/hugo-lorenzo-mato/foreman/internal/core"
	"github.com/hugo-lorenzo-mato/foreman/internal/logging"
)

// Action is what the caller should do next.
type Action string

const (
	ActionRetried   Action = "retried"    // retry callable succeeded
	ActionUseBackup Action = "use_backup" // caller retries with backup CLI
	ActionEscalated Action = "escalated"
	ActionResolved  Action = "resolved"
)

// Backoff parameters.
const (
	defaultBaseDelay  = time.Second
	defaultMaxDelay   = 30 * time.Second
	defaultMaxRetries = 3
	maxErrorLog       = 1000
)

// Outcome is the handler's verdict on one failure.
type Outcome struct {
	Action         Action
	ShouldContinue bool
	Value          interface{} // retry callable's result, when retried
	Escalation     *core.EscalationRequest
}

// RetryFunc is the operation re-attempted under the transient policy.
type RetryFunc func(ctx context.Context) (interface{}, error)

// EscalationCallback is notified of every escalation. Callback panics and
// errors are caught and logged.
type EscalationCallback func(req *core.EscalationRequest)

// Handler routes failures by error category.
type Handler struct {
	projectDir string
	baseDelay  time.Duration
	maxDelay   time.Duration
	maxRetries int
	sleep      func(ctx context.Context, d time.Duration) error
	callback   EscalationCallback

	mu       sync.Mutex
	errorLog []string
	timeouts map[string]int // task id -> timeout occurrences

	logger *logging.Logger
}

// Option customises a Handler.
type Option func(*Handler)

// WithCallback registers an escalation notification callback.
func WithCallback(cb EscalationCallback) Option {
	return func(h *Handler) { h.callback = cb }
}

// WithBackoff overrides the retry timing.
func WithBackoff(base, max time.Duration, retries int) Option {
	return func(h *Handler) {
		h.baseDelay, h.maxDelay, h.maxRetries = base, max, retries
	}
}

// NewHandler creates a recovery handler rooted at the project dir.
func NewHandler(projectDir string, logger *logging.Logger, opts ...Option) *Handler {
	if logger == nil {
		logger = logging.NewNop()
	}
	h := &Handler{
		projectDir: projectDir,
		baseDelay:  defaultBaseDelay,
		maxDelay:   defaultMaxDelay,
		maxRetries: defaultMaxRetries,
		sleep:      sleepCtx,
		timeouts:   make(map[string]int),
		logger:     logger,
	}
	for _, o := range opts {
		o(h)
	}
	return h
}

// Handle routes one failure. triedBackup tells the agent-failure policy
// whether the backup CLI has already been attempted; retry is consulted
// only by the transient policy and may be nil.
func (h *Handler) Handle(ctx context.Context, taskID string, err error, triedBackup bool, retry RetryFunc) (*Outcome, error) {
	h.logError(taskID, err)

	switch core.GetCategory(err) {
	case core.ErrCatTransient:
		return h.handleTransient(ctx, taskID, err, retry)
	case core.ErrCatAgent, core.ErrCatValidation:
		return h.handleAgentFailure(ctx, taskID, err, triedBackup)
	case core.ErrCatConflict:
		return h.escalate(ctx, taskID, err, core.SeverityMedium,
			[]string{"Accept first reviewer", "Accept second reviewer", "Request third opinion"},
			"Review both verdicts and pick the stricter one")
	case core.ErrCatSpec:
		// Never auto-modify: a test/spec disagreement is a human decision.
		return h.escalate(ctx, taskID, err, core.SeverityHigh,
			[]string{"Update spec to match tests", "Rewrite tests to match spec", "Clarify requirements"},
			"")
	case core.ErrCatSecurity:
		return h.escalate(ctx, taskID, err, core.SeverityCritical, nil, "")
	case core.ErrCatTimeout:
		return h.handleTimeout(ctx, taskID, err)
	default:
		return h.escalate(ctx, taskID, err, core.SeverityMedium, nil, "")
	}
}

// handleTransient retries with bounded exponential backoff plus jitter.
func (h *Handler) handleTransient(ctx context.Context, taskID string, cause error, retry RetryFunc) (*Outcome, error) {
	if retry == nil {
		return h.escalate(ctx, taskID, cause, core.SeverityMedium, nil, "")
	}

	var lastErr error = cause
	for attempt := 0; attempt < h.maxRetries; attempt++ {
		delay := h.backoffDelay(attempt)
		if err := h.sleep(ctx, delay); err != nil {
			return nil, err
		}
		value, err := retry(ctx)
		if err == nil {
			return &Outcome{Action: ActionRetried, ShouldContinue: true, Value: value}, nil
		}
		lastErr = err
		h.logger.WithTask(taskID).Warn("transient retry failed",
			"attempt", attempt+1, "error", err)
	}
	return h.escalate(ctx, taskID,
		core.ErrTransient("MAX_RETRIES", "max_iterations_exceeded").WithCause(lastErr),
		core.SeverityMedium, nil, "")
}

// handleAgentFailure grants one backup-CLI attempt, then escalates.
func (h *Handler) handleAgentFailure(ctx context.Context, taskID string, cause error, triedBackup bool) (*Outcome, error) {
	if !triedBackup {
		return &Outcome{Action: ActionUseBackup, ShouldContinue: true}, nil
	}
	return h.escalate(ctx, taskID, cause, core.SeverityMedium,
		[]string{"Retry with different agent", "Provide manual fix", "Skip"}, "")
}

// handleTimeout grants one retry signal per task, then escalates.
func (h *Handler) handleTimeout(ctx context.Context, taskID string, cause error) (*Outcome, error) {
	h.mu.Lock()
	h.timeouts[taskID]++
	occurrences := h.timeouts[taskID]
	h.mu.Unlock()

	if occurrences == 1 {
		return &Outcome{Action: ActionRetried, ShouldContinue: true}, nil
	}
	return h.escalate(ctx, taskID, cause, core.SeverityMedium,
		[]string{"Extend timeout", "Break task into smaller steps", "Skip"}, "")
}

// escalate persists an EscalationRequest and notifies the callback.
func (h *Handler) escalate(_ context.Context, taskID string, cause error, severity core.Severity, options []string, recommendation string) (*Outcome, error) {
	req := &core.EscalationRequest{
		TaskID:         taskID,
		Reason:         cause.Error(),
		AttemptsMade:   h.maxRetries,
		Options:        options,
		Recommendation: recommendation,
		Severity:       severity,
		Timestamp:      time.Now().UTC(),
	}
	if err := h.persist(req); err != nil {
		h.logger.WithTask(taskID).Error("escalation persist failed", "error", err)
	}
	h.notify(req)
	return &Outcome{Action: ActionEscalated, Escalation: req}, nil
}

func (h *Handler) persist(req *core.EscalationRequest) error {
	dir := core.EscalationsDir(h.projectDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(req, "", "  ")
	if err != nil {
		return err
	}
	name := fmt.Sprintf("%s_%s.json", req.TaskID, req.Timestamp.Format("20060102_150405"))
	return renameio.WriteFile(filepath.Join(dir, name), data, 0o644)
}

func (h *Handler) notify(req *core.EscalationRequest) {
	if h.callback == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			h.logger.Error("escalation callback panicked", "panic", r)
		}
	}()
	h.callback(req)
}

// backoffDelay computes min(base * 2^attempt, cap) plus up to 1s jitter.
func (h *Handler) backoffDelay(attempt int) time.Duration {
	d := time.Duration(float64(h.baseDelay) * math.Pow(2, float64(attempt)))
	if d > h.maxDelay {
		d = h.maxDelay
	}
	return d + time.Duration(rand.Int63n(int64(time.Second)))
}

// logError appends to the bounded error log.
func (h *Handler) logError(taskID string, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.errorLog = append(h.errorLog, fmt.Sprintf("%s %s: %v",
		time.Now().UTC().Format(time.RFC3339), taskID, err))
	if len(h.errorLog) > maxErrorLog {
		h.errorLog = h.errorLog[len(h.errorLog)-maxErrorLog:]
	}
}

// ErrorLog returns a copy of the bounded error log.
func (h *Handler) ErrorLog() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]string, len(h.errorLog))
	copy(out, h.errorLog)
	return out
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
