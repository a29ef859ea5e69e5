package budget

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hugo-lorenzo-mato/foreman/internal/core"
	"github.com/hugo-lorenzo-mato/foreman/internal/logging"
)

// Manager enforces three nested spending scopes: project, per-task, and
// per-invocation. A zero limit means that scope is unbounded.
type Manager struct {
	mu     sync.Mutex
	limits core.BudgetLimits
	store  core.SpendStore

	projectSpent float64
	taskSpent    map[string]float64
	agentSpent   map[string]float64

	logger *logging.Logger
}

// NewManager creates a budget manager and rehydrates totals from the
// store so restarts do not reset spending.
func NewManager(ctx context.Context, limits core.BudgetLimits, store core.SpendStore, logger *logging.Logger) (*Manager, error) {
	if logger == nil {
		logger = logging.NewNop()
	}
	m := &Manager{
		limits:     limits,
		store:      store,
		taskSpent:  make(map[string]float64),
		agentSpent: make(map[string]float64),
		logger:     logger,
	}
	if store != nil {
		records, err := store.ListSpend(ctx)
		if err != nil {
			return nil, err
		}
		for _, rec := range records {
			m.apply(rec)
		}
	}
	return m, nil
}

func (m *Manager) apply(rec *core.SpendRecord) {
	m.projectSpent += rec.CostUSD
	m.taskSpent[rec.TaskID] += rec.CostUSD
	m.agentSpent[rec.Agent] += rec.CostUSD
}

// ApplyOverrides tightens the project and per-task caps for one run.
// Zero values keep the configured limits.
func (m *Manager) ApplyOverrides(projectUSD, taskUSD float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if projectUSD > 0 {
		m.limits.ProjectUSD = projectUSD
	}
	if taskUSD > 0 {
		m.limits.TaskUSD = taskUSD
	}
}

// taskLimit resolves the per-task budget, honouring overrides.
func (m *Manager) taskLimit(taskID string) float64 {
	if v, ok := m.limits.TaskOverrides[taskID]; ok {
		return v
	}
	return m.limits.TaskUSD
}

// CanSpend reports whether spending amount on the task stays inside all
// three scopes.
func (m *Manager) CanSpend(taskID string, amount float64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.limits.ProjectUSD > 0 && m.projectSpent+amount > m.limits.ProjectUSD {
		return false
	}
	if limit := m.taskLimit(taskID); limit > 0 && m.taskSpent[taskID]+amount > limit {
		return false
	}
	if m.limits.InvocationUSD > 0 && amount > m.limits.InvocationUSD {
		return false
	}
	return true
}

// CheckSpend is CanSpend returning a typed budget error naming the
// violated scope.
func (m *Manager) CheckSpend(taskID string, amount float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.limits.ProjectUSD > 0 && m.projectSpent+amount > m.limits.ProjectUSD {
		return core.ErrBudgetExceeded("project", m.projectSpent+amount, m.limits.ProjectUSD)
	}
	if limit := m.taskLimit(taskID); limit > 0 && m.taskSpent[taskID]+amount > limit {
		return core.ErrBudgetExceeded("task", m.taskSpent[taskID]+amount, limit).
			WithDetail("task_id", taskID)
	}
	if m.limits.InvocationUSD > 0 && amount > m.limits.InvocationUSD {
		return core.ErrBudgetExceeded("invocation", amount, m.limits.InvocationUSD)
	}
	return nil
}

// RecordSpend appends one invocation's cost and updates totals.
func (m *Manager) RecordSpend(ctx context.Context, taskID, agent string, costUSD float64, model string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec := &core.SpendRecord{
		ID:        uuid.NewString(),
		Timestamp: time.Now().UTC(),
		TaskID:    taskID,
		Agent:     agent,
		CostUSD:   costUSD,
		Model:     model,
	}
	if m.store != nil {
		if err := m.store.AppendSpend(ctx, rec); err != nil {
			return err
		}
	}
	m.apply(rec)
	m.logger.WithTask(taskID).Debug("spend recorded",
		"agent", agent, "cost_usd", costUSD, "project_total", m.projectSpent)
	return nil
}

// TaskSpent returns the accumulated spend for one task.
func (m *Manager) TaskSpent(taskID string) float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.taskSpent[taskID]
}

// GetSummary returns totals grouped by task and by agent.
func (m *Manager) GetSummary() *core.BudgetSummary {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := &core.BudgetSummary{
		TotalUSD: m.projectSpent,
		ByTask:   make(map[string]float64, len(m.taskSpent)),
		ByAgent:  make(map[string]float64, len(m.agentSpent)),
	}
	for k, v := range m.taskSpent {
		s.ByTask[k] = v
	}
	for k, v := range m.agentSpent {
		s.ByAgent[k] = v
	}
	return s
}

// ResetTaskSpending removes a task's records and subtracts its total
// from the project scope.
func (m *Manager) ResetTaskSpending(ctx context.Context, taskID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.store != nil {
		if err := m.store.DeleteTaskSpend(ctx, taskID); err != nil {
			return err
		}
	}
	m.projectSpent -= m.taskSpent[taskID]
	delete(m.taskSpent, taskID)
	return nil
}
