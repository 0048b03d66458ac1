package lifecycle

import (
	"sort"
	"sync"

	"github.com/fkorte/agentpod/internal/domain"
)

// Registry tracks every live unit manager in the pod.
type Registry struct {
	mu    sync.RWMutex
	units map[string]*Manager
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{units: make(map[string]*Manager)}
}

// Register adds a manager. Re-registering an ID replaces the old entry;
// callers terminate the old unit first.
func (r *Registry) Register(m *Manager) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.units[m.UnitID()] = m
}

// Deregister removes a unit by ID.
func (r *Registry) Deregister(unitID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.units, unitID)
}

// Get returns the manager for a unit.
func (r *Registry) Get(unitID string) (*Manager, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.units[unitID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return m, nil
}

// All returns every registered manager, ordered by unit ID.
func (r *Registry) All() []*Manager {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Manager, 0, len(r.units))
	for _, m := range r.units {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UnitID() < out[j].UnitID() })
	return out
}

// Snapshots returns a health snapshot per unit, ordered by unit ID.
func (r *Registry) Snapshots() []Snapshot {
	managers := r.All()
	out := make([]Snapshot, 0, len(managers))
	for _, m := range managers {
		out = append(out, m.Health())
	}
	return out
}
