// Package taskstore houses concrete implementations of the core.TaskStore.
// A task store keeps the per-step paper trail: for every dispatched step it
// records the input document that described the work and, on success, the
// validated result document. Both are keyed by run and effect id so a run can
// be audited or replayed step by step.
//
// All implementations enforce the same write discipline. The first write
// under an effect id wins, an identical rewrite is a no-op and a differing
// rewrite fails with core.ErrEffectIDCollision.
package taskstore
