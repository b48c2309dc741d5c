// Package registry maps operation types to the executors that perform them.
// Adding a new operation kind is a registration, not an edit to the retry
// manager.
package registry

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"frame-fulfillment/model"
)

// ErrNotRegistered is returned by Resolve for an unknown operation type.
var ErrNotRegistered = errors.New("registry: no executor registered for type")

// Executor performs the side-effecting work for one operation kind. It
// receives the subject id and the opaque payload and returns an opaque
// result. Executors run at least once per attempt and must be idempotent
// themselves; the retry manager only guarantees at-least-once execution.
type Executor func(ctx context.Context, subjectID string, payload json.RawMessage) (json.RawMessage, error)

// Registry is a concurrent-safe map from operation type to Executor.
type Registry struct {
	mu        sync.RWMutex
	executors map[model.Type]Executor
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{executors: make(map[model.Type]Executor)}
}

// Register binds an executor to an operation type, replacing any previous
// binding.
func (r *Registry) Register(typ model.Type, exec Executor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.executors[typ] = exec
}

// Resolve returns the executor for the given type.
func (r *Registry) Resolve(typ model.Type) (Executor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	exec, ok := r.executors[typ]
	if !ok {
		return nil, ErrNotRegistered
	}
	return exec, nil
}

// Types returns all registered operation types.
func (r *Registry) Types() []model.Type {
	r.mu.RLock()
	defer r.mu.RUnlock()
	types := make([]model.Type, 0, len(r.executors))
	for typ := range r.executors {
		types = append(types, typ)
	}
	return types
}
