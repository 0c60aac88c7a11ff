// Package activity records the append-only feed of fleet events shown on
// the dashboard. Entries are never mutated or deleted; the log is a fixed
// capacity ring that evicts the oldest entry on overflow.
package activity

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Type classifies an activity entry.
type Type string

const (
	TypeTaskCreated   Type = "task_created"
	TypeTaskMoved     Type = "task_moved"
	TypeTaskDeleted   Type = "task_deleted"
	TypeAgentStatus   Type = "agent_status"
	TypeAgentRegister Type = "agent_registered"
)

// Activity is a single append-only log entry.
type Activity struct {
	ID          string    `json:"id"`
	Type        Type      `json:"activity_type"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	AgentID     string    `json:"agent_id,omitempty"`
	TaskID      string    `json:"task_id,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// EntityID returns the activity's identifier for the synchronizer contract.
func (a *Activity) EntityID() string { return a.ID }

// DefaultCapacity bounds the log when no explicit capacity is configured.
const DefaultCapacity = 200

// Log is a thread-safe bounded activity log. Capacity is fixed at
// construction; once full, appending evicts the oldest entry.
type Log struct {
	mu      sync.RWMutex
	entries []*Activity // newest first
	cap     int
}

// NewLog creates a Log with the given capacity. Non-positive capacities
// fall back to DefaultCapacity.
func NewLog(capacity int) *Log {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Log{cap: capacity}
}

// Append records a new entry, assigning its ID and CreatedAt, and returns
// the stored snapshot.
func (l *Log) Append(a Activity) *Activity {
	a.ID = uuid.NewString()
	a.CreatedAt = time.Now().UTC()

	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append([]*Activity{&a}, l.entries...)
	if len(l.entries) > l.cap {
		l.entries = l.entries[:l.cap]
	}
	copy := a
	return &copy
}

// Recent returns up to limit entries, newest first. A non-positive limit
// returns everything retained.
func (l *Log) Recent(limit int) []*Activity {
	l.mu.RLock()
	defer l.mu.RUnlock()
	n := len(l.entries)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]*Activity, n)
	for i := 0; i < n; i++ {
		copy := *l.entries[i]
		out[i] = &copy
	}
	return out
}

// Len returns the number of retained entries.
func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}
