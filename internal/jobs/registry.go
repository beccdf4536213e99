package jobs

import (
	"fmt"
	"sync"
)

// Handler executes one job type. Run receives the per-job runtime Context and
// must finish by calling Succeed or returning an error (which the worker
// routes through Fail).
type Handler struct {
	Type string
	Run  func(rc *Context) error
}

// Registry maps job types to handlers. Registration happens at startup,
// lookups happen from worker goroutines.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

func (r *Registry) Register(h Handler) error {
	if h.Type == "" {
		return fmt.Errorf("handler type required")
	}
	if h.Run == nil {
		return fmt.Errorf("handler %q has no run function", h.Type)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.handlers[h.Type]; exists {
		return fmt.Errorf("handler %q already registered", h.Type)
	}
	r.handlers[h.Type] = h
	return nil
}

func (r *Registry) Get(jobType string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[jobType]
	return h, ok
}
