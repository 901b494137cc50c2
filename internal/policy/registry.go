package policy

import (
	"github.com/eliteGoblin/focusd/quota_mon/internal/domain"
)

// Registry holds the group definitions in priority order.
type Registry struct {
	groups []domain.GroupDefinition
	index  map[string]int
}

// NewRegistry creates a registry with the built-in groups.
func NewRegistry() *Registry {
	return NewRegistryWithGroups(DefaultGroups()...)
}

// NewRegistryWithGroups creates a registry with custom groups (config overrides, tests).
func NewRegistryWithGroups(groups ...domain.GroupDefinition) *Registry {
	r := &Registry{index: make(map[string]int)}
	for _, g := range groups {
		r.Register(g)
	}
	return r
}

// Register appends a group, or replaces an existing one in place
// (keeping its priority).
func (r *Registry) Register(g domain.GroupDefinition) {
	g = Normalize(g)
	if i, ok := r.index[g.ID]; ok {
		r.groups[i] = g
		return
	}
	r.index[g.ID] = len(r.groups)
	r.groups = append(r.groups, g)
}

// Get returns a group by ID.
func (r *Registry) Get(id string) (domain.GroupDefinition, bool) {
	i, ok := r.index[id]
	if !ok {
		return domain.GroupDefinition{}, false
	}
	return r.groups[i], true
}

// GetAll returns all groups in priority order.
func (r *Registry) GetAll() []domain.GroupDefinition {
	out := make([]domain.GroupDefinition, len(r.groups))
	copy(out, r.groups)
	return out
}

// List returns all group IDs in priority order.
func (r *Registry) List() []string {
	ids := make([]string, len(r.groups))
	for i, g := range r.groups {
		ids[i] = g.ID
	}
	return ids
}
