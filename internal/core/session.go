package core

import "time"

// SessionInfo is a per-task conversation-continuity token for agents that
// support resumption. Owned exclusively by the session manager.
type SessionInfo struct {
	SessionID  string            `json:"session_id"`
	TaskID     string            `json:"task_id"`
	CreatedAt  time.Time         `json:"created_at"`
	LastUsedAt time.Time         `json:"last_used_at"`
	Iteration  int               `json:"iteration"`
	IsActive   bool              `json:"is_active"`
	TTLHours   float64           `json:"ttl_hours"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// Expired reports whether the session has outlived its TTL.
func (s *SessionInfo) Expired(now time.Time) bool {
	return now.After(s.LastUsedAt.Add(time.Duration(s.TTLHours * float64(time.Hour))))
}
