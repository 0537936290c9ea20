// Package process contains the concrete core.Process implementation and
// composition helpers for writing process bodies. The package focuses on two
// concerns:
//
//  1. Declaring a process: a named entry function plus the set of tasks it
//     may dispatch, validated at construction (Definition)
//  2. Flow helpers for common body shapes, currently the bounded Iterate loop
//
// Design principles:
//   - No hidden global state, all wiring is explicit via the engine
//   - A process body is plain Go driving one logical thread of execution
//   - Every repeated dispatch is bounded, loops carry a hard iteration cap
//
// Persistence, backends and approval stay in their own packages; a process
// only sees them through the core.RunContext it is handed.
package process
