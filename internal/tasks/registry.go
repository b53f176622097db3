package tasks

import (
	"context"
	"sort"
	"sync"

	"legalup_payments/internal/models"
)

// TaskHandler runs one scheduled task and returns a result stored in the
// task history
type TaskHandler func(ctx context.Context, task models.ScheduledTask) (map[string]interface{}, error)

// Task is a named handler
type Task interface {
	TaskID() string
	HandleExecution(ctx context.Context, task models.ScheduledTask) (map[string]interface{}, error)
}

// Registry stores the mapping of task names to handlers
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]TaskHandler
}

func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]TaskHandler)}
}

// Register adds a handler for a task name
func (r *Registry) Register(name string, handler TaskHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[name] = handler
}

func (r *Registry) RegisterTask(t Task) {
	r.Register(t.TaskID(), t.HandleExecution)
}

// Get retrieves a handler for a task name
func (r *Registry) Get(name string) (TaskHandler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	handler, ok := r.handlers[name]
	return handler, ok
}

// Names lists the registered task names in order
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
