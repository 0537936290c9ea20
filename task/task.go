// Package task implements the declarative task registry that lets processes
// dispatch schema validated, agent-backed work orders. A task couples a unique
// name with a builder producing the step Descriptor; the registry guarantees
// name uniqueness so every persisted step is attributable to exactly one
// definition.
package task

import (
	"sort"
	"sync"

	"github.com/hupe1980/taskmesh/core"
)

// Builder assembles the Descriptor for one step from caller arguments and the
// allocated step identity. Builders must be pure: derive paths and prompt
// content, perform no side effects.
type Builder func(args map[string]any, tc core.TaskContext) (*core.Descriptor, error)

// Registry holds the task definitions available to a process. Registering two
// definitions under the same name is a configuration error and fails fast;
// silently replacing a definition would make persisted steps unattributable.
type Registry struct {
	mu    sync.RWMutex
	tasks map[string]*Definition
}

// NewRegistry creates an empty task registry.
func NewRegistry() *Registry {
	return &Registry{tasks: map[string]*Definition{}}
}

// Define registers a new task under a unique name.
//
// Errors are configuration errors: empty name, nil builder or a duplicate
// name. They are never retried; fix the wiring instead.
func (r *Registry) Define(name string, builder Builder, opts ...Option) (*Definition, error) {
	if name == "" {
		return nil, core.NewConfigError("registry", "task name must not be empty")
	}

	if builder == nil {
		return nil, core.NewConfigError("registry", "task %q has no builder", name)
	}

	def := newDefinition(name, builder, opts...)

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tasks[name]; exists {
		return nil, core.NewConfigError("registry", "task %q already defined", name)
	}

	r.tasks[name] = def

	return def, nil
}

// MustDefine is Define that panics on error. Task definitions happen at
// process load time where a bad registration should halt the program.
func (r *Registry) MustDefine(name string, builder Builder, opts ...Option) *Definition {
	def, err := r.Define(name, builder, opts...)
	if err != nil {
		panic(err)
	}

	return def
}

// Get returns the definition registered under name.
func (r *Registry) Get(name string) (*Definition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	def, ok := r.tasks[name]

	return def, ok
}

// Names returns the registered task names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.tasks))
	for name := range r.tasks {
		names = append(names, name)
	}

	sort.Strings(names)

	return names
}

// Tasks returns all definitions as core.Task values, convenient for wiring a
// registry into a process.
func (r *Registry) Tasks() []core.Task {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tasks := make([]core.Task, 0, len(r.tasks))
	for _, name := range r.names() {
		tasks = append(tasks, r.tasks[name])
	}

	return tasks
}

// names returns sorted task names; callers must hold at least a read lock.
func (r *Registry) names() []string {
	names := make([]string, 0, len(r.tasks))
	for name := range r.tasks {
		names = append(names, name)
	}

	sort.Strings(names)

	return names
}
