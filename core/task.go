package core

// TaskContext carries the per-step identifiers available to a task builder.
// Builders are pure: they may derive IO paths and embed the identifiers into
// prompts, but must not perform side effects.
type TaskContext struct {
	EffectID string
	RunID    string
}

// Task produces the Descriptor for one unit of agent-backed work. Concrete
// tasks are created through the task package's Registry, which guarantees
// name uniqueness within a process.
//
// Build receives the caller-supplied arguments plus the allocated step
// identity. Returning an error aborts the step before anything is persisted.
type Task interface {
	Name() string
	Build(args map[string]any, tc TaskContext) (*Descriptor, error)
}
