package queue

import (
	"context"
	"fmt"
	"sync"
)

// Handler executes one job type. Domain packages implement this and
// register with the worker pool's registry; the queue infrastructure never
// inspects payloads.
type Handler interface {
	// Execute runs the job. Handlers decode their own payload from
	// job.Payload and must respect ctx cancellation on blocking work.
	Execute(ctx context.Context, job *Job) error

	// Name returns the handler name used for registration and routing.
	Name() string
}

// HandlerRegistry routes jobs to handlers by name.
// Thread-safe for concurrent registration and lookup.
type HandlerRegistry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

// NewHandlerRegistry creates an empty handler registry.
func NewHandlerRegistry() *HandlerRegistry {
	return &HandlerRegistry{handlers: make(map[string]Handler)}
}

// Register adds a handler under its name.
// Panics if a handler is already registered with that name.
func (r *HandlerRegistry) Register(handler Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := handler.Name()
	if _, exists := r.handlers[name]; exists {
		panic(fmt.Sprintf("handler already registered for name: %s", name))
	}
	r.handlers[name] = handler
}

// Get retrieves the handler for a name, or nil if none is registered.
func (r *HandlerRegistry) Get(name string) Handler {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.handlers[name]
}

// Has checks if a handler is registered for a name.
func (r *HandlerRegistry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, exists := r.handlers[name]
	return exists
}

// Names returns all registered handler names.
func (r *HandlerRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		names = append(names, name)
	}
	return names
}
