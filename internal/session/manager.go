package session

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"sync"
	"time"

	"github.com/hugo-lorenzo-mato/foreman/internal/core"
	"github.com/hugo-lorenzo-mato/foreman/internal/logging"
)

// DefaultTTLHours is how long an idle session stays resumable.
const DefaultTTLHours = 24.0

var sessionIDPattern = regexp.MustCompile(`(?i)session[_ -]?id["':\s]+"?([a-zA-Z0-9-]{8,})"?`)

// Manager owns per-task session lifecycle: creation, resumption args,
// expiry, and capture of CLI-assigned session identifiers. All session
// reads and writes go through the manager; nothing else touches the store.
type Manager struct {
	mu       sync.Mutex
	store    core.SessionStore
	sessions map[string]*core.SessionInfo
	ttlHours float64
	now      func() time.Time
	logger   *logging.Logger
}

// NewManager creates a session manager backed by the given store.
func NewManager(store core.SessionStore, logger *logging.Logger) *Manager {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Manager{
		store:    store,
		sessions: make(map[string]*core.SessionInfo),
		ttlHours: DefaultTTLHours,
		now:      time.Now,
		logger:   logger,
	}
}

// GetOrCreate returns the active session for a task, creating one when
// none exists or the existing one has expired.
func (m *Manager) GetOrCreate(ctx context.Context, taskID string) (*core.SessionInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if info, ok := m.sessions[taskID]; ok {
		if info.IsActive && !info.Expired(m.now()) {
			return info, nil
		}
		delete(m.sessions, taskID)
	}

	// Fall back to the store: a restarted orchestrator resumes from disk.
	if info, err := m.store.LoadSession(ctx, taskID); err == nil {
		if info.IsActive && !info.Expired(m.now()) {
			m.sessions[taskID] = info
			return info, nil
		}
	}

	info := &core.SessionInfo{
		SessionID:  newSessionID(taskID, m.now()),
		TaskID:     taskID,
		CreatedAt:  m.now(),
		LastUsedAt: m.now(),
		IsActive:   true,
		TTLHours:   m.ttlHours,
	}
	if err := m.store.SaveSession(ctx, info); err != nil {
		return nil, err
	}
	m.sessions[taskID] = info
	m.logger.WithTask(taskID).Debug("session created", "session_id", info.SessionID)
	return info, nil
}

// Touch marks the session used and bumps its iteration counter.
func (m *Manager) Touch(ctx context.Context, taskID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	info, ok := m.sessions[taskID]
	if !ok {
		return core.ErrNotFound("session", taskID)
	}
	info.LastUsedAt = m.now()
	info.Iteration++
	return m.store.SaveSession(ctx, info)
}

// Close deactivates a task's session. Closing an absent session is a no-op.
func (m *Manager) Close(ctx context.Context, taskID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	info, ok := m.sessions[taskID]
	if !ok {
		var err error
		info, err = m.store.LoadSession(ctx, taskID)
		if err != nil {
			return nil
		}
	}
	if !info.IsActive {
		return nil
	}
	info.IsActive = false
	delete(m.sessions, taskID)
	return m.store.SaveSession(ctx, info)
}

// Delete removes a task's session entirely. Idempotent.
func (m *Manager) Delete(ctx context.Context, taskID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, taskID)
	return m.store.DeleteSession(ctx, taskID)
}

// CaptureSessionID extracts a CLI-assigned session identifier from raw
// agent output and records it, replacing the locally generated one. The
// CLI's identifier wins because only it is honoured by --resume.
func (m *Manager) CaptureSessionID(ctx context.Context, taskID, output string) (string, error) {
	match := sessionIDPattern.FindStringSubmatch(output)
	if len(match) < 2 {
		return "", nil
	}
	captured := match[1]

	m.mu.Lock()
	defer m.mu.Unlock()

	info, ok := m.sessions[taskID]
	if !ok {
		return captured, nil
	}
	if info.SessionID == captured {
		return captured, nil
	}
	info.SessionID = captured
	info.LastUsedAt = m.now()
	if err := m.store.SaveSession(ctx, info); err != nil {
		return "", err
	}
	m.logger.WithTask(taskID).Debug("session id captured", "session_id", captured)
	return captured, nil
}

// InvokeArgs fills session fields on invoke options for a capable agent.
// First iteration passes the session id; later iterations resume it.
func (m *Manager) InvokeArgs(ctx context.Context, taskID string, caps core.Capabilities, opts *core.InvokeOptions) error {
	if !caps.SupportsSessions {
		return nil
	}
	info, err := m.GetOrCreate(ctx, taskID)
	if err != nil {
		return err
	}
	opts.SessionID = info.SessionID
	opts.ResumeSession = info.Iteration > 0
	return nil
}

// ResumeArgs returns the CLI flags that resume an existing session, or
// nil when the task has no active one.
func (m *Manager) ResumeArgs(taskID string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	info, ok := m.sessions[taskID]
	if !ok || !info.IsActive || info.Expired(m.now()) {
		return nil
	}
	return []string{"--resume", info.SessionID}
}

// SessionIDArgs returns the CLI flags that pin the first invocation to a
// session id, or nil when the task has no active one.
func (m *Manager) SessionIDArgs(taskID string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	info, ok := m.sessions[taskID]
	if !ok || !info.IsActive || info.Expired(m.now()) {
		return nil
	}
	return []string{"--session-id", info.SessionID}
}

// newSessionID derives a stable-format local session identifier:
// "<task_id>-<12 hex chars>".
func newSessionID(taskID string, now time.Time) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s-%d", taskID, now.UnixNano())))
	return taskID + "-" + hex.EncodeToString(sum[:])[:12]
}
