package saga

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
)

// ErrUnknownSaga indicates a request named a saga no builder is registered for.
var ErrUnknownSaga = errors.New("unknown saga")

// Builder constructs the ordered steps of a named saga from the caller's
// parameters. Builders validate their parameters and return the fully wired
// step list; they run on every execution request.
type Builder func(tenantID string, params json.RawMessage) ([]Step, error)

// Registry maps saga names to builders. Definitions register once at startup;
// the HTTP layer resolves names from requests.
type Registry struct {
	mu sync.RWMutex
	m  map[string]Builder
}

// NewRegistry returns an empty saga registry.
func NewRegistry() *Registry {
	return &Registry{m: make(map[string]Builder)}
}

// Register installs a builder under name, replacing any previous one.
func (r *Registry) Register(name string, b Builder) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.m[name] = b
}

// Build resolves name and constructs its steps.
func (r *Registry) Build(name, tenantID string, params json.RawMessage) ([]Step, error) {
	r.mu.RLock()
	b, ok := r.m[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w %q", ErrUnknownSaga, name)
	}
	return b(tenantID, params)
}

// Names returns the registered saga names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.m))
	for n := range r.m {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}
