// Package core provides the foundational domain types, interfaces and execution
// contexts used by TaskMesh. It defines the core abstractions for:
//
//   - Tasks (declarative builders of agent-backed work orders)
//   - Descriptors (persisted work orders with prompts and output schemas)
//   - Runs (durable records of one process execution with event history)
//   - Events (immutable communication + orchestration records)
//   - RunContext (scoped execution: dispatch, breakpoints, logging, clock)
//   - Pluggable stores for runs, per-step task documents and artifacts
//
// The package intentionally keeps implementation concerns (persistence, engine
// orchestration, concrete backends) out of scope, exposing small interfaces to
// enable custom backends and extensions. All exported identifiers include
// concise documentation to aid discoverability and external consumption.
package core
