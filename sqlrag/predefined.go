package sqlrag

import (
	"sync"
)

// PredefinedQuery is a vetted, parameter-free SELECT the planner may pick
// by id instead of drafting SQL. Its text still passes the validator before
// execution.
type PredefinedQuery struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Description  string `json:"description,omitempty"`
	SQL          string `json:"sql"`
	ConnectionID *int64 `json:"connection_id,omitempty"`
}

// PredefinedRegistry holds the predefined query catalog. Registration
// happens at startup; lookups run per orchestration.
type PredefinedRegistry struct {
	mu    sync.RWMutex
	byID  map[string]PredefinedQuery
	order []string
}

// NewPredefinedRegistry creates an empty registry.
func NewPredefinedRegistry() *PredefinedRegistry {
	return &PredefinedRegistry{byID: make(map[string]PredefinedQuery)}
}

// Register adds or replaces a query by id.
func (r *PredefinedRegistry) Register(q PredefinedQuery) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.byID[q.ID]; !exists {
		r.order = append(r.order, q.ID)
	}
	r.byID[q.ID] = q
}

// Resolve looks a query up by id.
func (r *PredefinedRegistry) Resolve(id string) (PredefinedQuery, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	q, ok := r.byID[id]
	return q, ok
}

// Catalog returns the queries in registration order, for the planner
// payload.
func (r *PredefinedRegistry) Catalog() []PredefinedQuery {
	r.mu.RLock()
	defer r.mu.RUnlock()
	catalog := make([]PredefinedQuery, 0, len(r.order))
	for _, id := range r.order {
		catalog = append(catalog, r.byID[id])
	}
	return catalog
}
