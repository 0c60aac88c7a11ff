package agent

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

// Registry is a thread-safe in-memory collection of fleet agents. The
// server owns one instance; agents report status through it and the API
// reads snapshots from it.
type Registry struct {
	mu     sync.RWMutex
	agents map[string]*Agent
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{agents: make(map[string]*Agent)}
}

// Register adds an agent. The agent starts offline until its first
// heartbeat.
func (r *Registry) Register(a Agent) error {
	if a.ID == "" {
		return fmt.Errorf("agent ID is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.agents[a.ID]; exists {
		return fmt.Errorf("agent %s already registered", a.ID)
	}
	if a.Status == "" {
		a.Status = StatusOffline
	}
	copy := a
	r.agents[a.ID] = &copy
	return nil
}

// Heartbeat records a status report from an agent and stamps LastSeenAt.
// It returns the updated snapshot.
func (r *Registry) Heartbeat(id string, status Status) (*Agent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.agents[id]
	if !ok {
		return nil, fmt.Errorf("agent %s not found", id)
	}
	a.Status = status
	a.LastSeenAt = time.Now().UTC()
	copy := *a
	return &copy, nil
}

// Get returns a snapshot of the agent with the given ID.
func (r *Registry) Get(id string) (*Agent, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.agents[id]
	if !ok {
		return nil, false
	}
	copy := *a
	return &copy, true
}

// List returns a snapshot of all agents sorted by name.
func (r *Registry) List() []*Agent {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Agent, 0, len(r.agents))
	for _, a := range r.agents {
		copy := *a
		out = append(out, &copy)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// MarkStale flips agents whose last heartbeat is older than maxAge to
// offline and returns the agents it changed.
func (r *Registry) MarkStale(maxAge time.Duration) []*Agent {
	cutoff := time.Now().UTC().Add(-maxAge)
	r.mu.Lock()
	defer r.mu.Unlock()
	var changed []*Agent
	for _, a := range r.agents {
		if a.Status != StatusOffline && a.LastSeenAt.Before(cutoff) {
			a.Status = StatusOffline
			copy := *a
			changed = append(changed, &copy)
		}
	}
	return changed
}
