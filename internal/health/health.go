// Package health aggregates readiness checks for the serving process.
// The server registers one check per dependency (storage, realtime) and the
// /health endpoints report the combined verdict.
package health

import (
	"context"
	"sync"
)

// Status is the outcome of probing one dependency.
type Status struct {
	Name    string `json:"name"`
	Healthy bool   `json:"healthy"`
	Detail  string `json:"detail,omitempty"`
}

// Checker probes a single dependency. It must respect ctx: readiness probes
// run with a deadline and a hung check counts as unhealthy.
type Checker func(ctx context.Context) Status

// Registry holds checks and runs them in registration order.
type Registry struct {
	mu     sync.RWMutex
	checks []check
}

type check struct {
	name string
	run  Checker
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Register adds a check under a name. Registration order is report order.
func (r *Registry) Register(name string, run Checker) {
	r.mu.Lock()
	r.checks = append(r.checks, check{name: name, run: run})
	r.mu.Unlock()
}

// CheckAll probes every dependency and reports whether all are healthy,
// along with the individual results.
func (r *Registry) CheckAll(ctx context.Context) (bool, []Status) {
	r.mu.RLock()
	checks := make([]check, len(r.checks))
	copy(checks, r.checks)
	r.mu.RUnlock()

	healthy := true
	statuses := make([]Status, 0, len(checks))
	for _, c := range checks {
		s := c.run(ctx)
		if s.Name == "" {
			s.Name = c.name
		}
		if !s.Healthy {
			healthy = false
		}
		statuses = append(statuses, s)
	}
	return healthy, statuses
}
