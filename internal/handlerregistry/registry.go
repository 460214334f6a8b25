// Package handlerregistry maps a job's func_name to an executable handler.
//
// The registry is the unit of polymorphism: adding a job type is a
// registration call at wiring time, not a runtime lookup into a module or
// plug-in path. This replaces the dynamic attribute-resolution the original
// implementation relied on with an explicit, process-wide table populated by
// the application's own main package.
package handlerregistry

import (
	"context"
	"sync"

	"github.com/rezkam/dbqueue/internal/errkind"
)

// Handler executes one job attempt given its materialized positional and
// keyword arguments. A returned error (including a panic recovered by the
// caller) is recorded as a failing JobResult and is subject to the retry
// policy; a nil error with a returned value is recorded as a success.
type Handler func(ctx context.Context, args []any, kwargs map[string]any) (any, error)

// Registry is a concurrency-safe string-to-Handler table.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

// Register adds (or replaces) the handler for funcName. Intended to be
// called during application wiring, before the supervisor starts.
func (r *Registry) Register(funcName string, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[funcName] = h
}

// Resolve returns the handler registered for funcName. It is pure with
// respect to funcName: the same identifier always maps to the same callable
// within a process run. Returns errkind.UnresolvedHandler when funcName was
// never registered.
func (r *Registry) Resolve(funcName string) (Handler, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	h, ok := r.handlers[funcName]
	if !ok {
		return nil, errkind.UnresolvedHandler{FuncName: funcName}
	}
	return h, nil
}
