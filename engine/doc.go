// Package engine implements the orchestration layer for TaskMesh.
//
// The Engine is the coordination hub that manages the complete lifecycle of
// process runs. It bridges the gap between the high-level facade and the
// per-step machinery, owning everything that happens between "start this
// process" and the terminal envelope.
//
// # Core Responsibilities
//
// Process Management:
//   - Thread-safe process registry with name-based lookup
//   - Duplicate registration rejected at wiring time
//
// Run Orchestration:
//   - Asynchronous (Start) and synchronous (StartSync) execution patterns
//   - Bounded concurrency and per-run task budgets
//   - Context-aware cancellation with persisted terminal state
//   - Graceful resource cleanup and error propagation
//
// Event Processing:
//   - Ordered event streaming with configurable buffering
//   - Event actions folded into the run record before persistence
//   - Resume signalling that keeps the process goroutine in lockstep
//
// # Architecture
//
// Each run occupies exactly two goroutines:
//
//	┌──────────────────────┐   emit    ┌──────────────────────┐
//	│  process goroutine   │ ────────▶ │   pump goroutine     │
//	│  (process function,  │           │  (apply actions,     │
//	│   step dispatch,     │ ◀──────── │   persist, forward,  │
//	│   breakpoints)       │  resume   │   signal resume)     │
//	└──────────────────────┘           └──────────────────────┘
//
// The process goroutine runs the process function on a single logical
// thread: every task dispatch and breakpoint blocks until the pump has
// persisted and forwarded the corresponding events. The pump is the only
// writer of the run record, which keeps the persisted snapshot consistent
// with the event order clients observe.
//
// # Error Handling
//
//   - Immediate errors: returned directly from Start for wiring problems
//   - Terminal errors: delivered via the error channel and recorded in the
//     final envelope with their taxonomy code
//   - Cancellation: Cancel (or parent context) flips the run to Cancelled
//     with the envelope persisted before channels close
//
// # Extensibility
//
// Hooks observe and guard the lifecycle (before run, per event, after run)
// without touching engine code. Stores, the step executor and the approver
// are interfaces wired via functional options.
package engine
