// Package agent defines the fleet agent model and the in-memory registry
// the server exposes to the board. The board's client-side cache is a
// read-only mirror of this registry, kept current by a collection
// synchronizer.
package agent

import "time"

// Status represents the operational state of an agent.
type Status string

const (
	StatusOnline  Status = "online"
	StatusBusy    Status = "busy"
	StatusError   Status = "error"
	StatusOffline Status = "offline"
)

// Agent is the read model for a single fleet member.
type Agent struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	Role       string    `json:"role,omitempty"`
	Status     Status    `json:"status"`
	LastSeenAt time.Time `json:"last_seen_at"`
}

// EntityID returns the agent's identifier for the synchronizer contract.
func (a *Agent) EntityID() string { return a.ID }
