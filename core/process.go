package core

// Process defines the executable unit the engine runs.
//
// A process couples a named entry function with the set of tasks it may
// dispatch. The function body drives the run: it calls RunContext.Task for
// each step, awaits results, raises breakpoints and finally returns the
// domain output merged into the run's final envelope.
//
// Implementations must:
//   - Respect context cancellation for graceful shutdown
//   - Dispatch work exclusively through the provided RunContext
//   - Treat every Task call as a full suspension point (no concurrent fan-out)
//   - Return either a domain output map or an error, never both
type Process interface {
	Name() string
	Description() string
	Tasks() []Task
	Run(rc *RunContext) (map[string]any, error)
}
