// Package transition implements the state-transition validator: per-entity-type
// transition tables and the pure predicate deciding whether a status change is
// legal. The validator is generic over the registered tables; entity types own
// their tables and register them explicitly rather than inheriting behavior.
//
// The predicate is deliberately reject-by-default: an unrecognized or
// malformed current status is never treated as permissive, so injected status
// strings cannot bypass the state machine.
package transition

import (
	"sort"
	"sync"
)

// Table maps a current status to the set of statuses it may legally move to
// next. Statuses that appear only as targets are terminal unless they are also
// declared as keys.
type Table map[string][]string

// Registry holds the transition tables for all known entity types together
// with each type's allowed initial statuses. It is safe for concurrent use;
// registration normally happens once at startup.
type Registry struct {
	mu       sync.RWMutex
	tables   map[string]map[string]map[string]struct{}
	initials map[string]map[string]struct{}
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		tables:   make(map[string]map[string]map[string]struct{}),
		initials: make(map[string]map[string]struct{}),
	}
}

// Register installs (or replaces) the transition table for an entity type.
// initials lists the statuses an entity of this type may be created with.
func (r *Registry) Register(entityType string, initials []string, table Table) {
	compiled := make(map[string]map[string]struct{}, len(table))
	for from, tos := range table {
		set := make(map[string]struct{}, len(tos))
		for _, to := range tos {
			set[to] = struct{}{}
		}
		compiled[from] = set
	}
	init := make(map[string]struct{}, len(initials))
	for _, s := range initials {
		init[s] = struct{}{}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.tables[entityType] = compiled
	r.initials[entityType] = init
}

// IsTransitionAllowed reports whether an entity of the given type may move
// from current to next.
//
// Rules, in order:
//   - unknown entity type: false
//   - current == next: true (idempotent no-op transition)
//   - current is not a key of the type's table: false (reject-by-default)
//   - otherwise: true iff next is in the allowed set for current
//
// Inputs are not assumed to be valid enum members; callers normalize and log
// rejected pairs with their correlation id.
func (r *Registry) IsTransitionAllowed(entityType, current, next string) bool {
	r.mu.RLock()
	table, ok := r.tables[entityType]
	r.mu.RUnlock()
	if !ok {
		return false
	}
	if current == next {
		return true
	}
	allowed, ok := table[current]
	if !ok {
		return false
	}
	_, ok = allowed[next]
	return ok
}

// KnownEntityType reports whether a table is registered for entityType.
func (r *Registry) KnownEntityType(entityType string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.tables[entityType]
	return ok
}

// ValidInitialStatus reports whether status is an allowed creation status for
// the entity type.
func (r *Registry) ValidInitialStatus(entityType, status string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	set, ok := r.initials[entityType]
	if !ok {
		return false
	}
	_, ok = set[status]
	return ok
}

// AllowedNext returns the sorted set of statuses the entity type may move to
// from current. Used to build structured rejection errors; empty for unknown
// types or statuses.
func (r *Registry) AllowedNext(entityType, current string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	table, ok := r.tables[entityType]
	if !ok {
		return nil
	}
	set, ok := table[current]
	if !ok {
		return nil
	}
	out := make([]string, 0, len(set))
	for s := range set {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}
