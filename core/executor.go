package core

// StepExecutor runs a single task step end to end: effect id allocation,
// descriptor build, input persistence, backend dispatch, output validation
// and result persistence. The concrete implementation lives in the step
// package; the interface is defined here so RunContext can dispatch without
// an import cycle.
//
// Implementations MUST:
//   - Persist the step input before dispatching to the backend
//   - Validate the backend response against the task's output schema and
//     return OutputInvalidError without persisting a result on mismatch
//   - Emit step lifecycle events through the RunContext
//   - Perform no automatic retries
type StepExecutor interface {
	Execute(rc *RunContext, task Task, args map[string]any) (*Result, error)
}
