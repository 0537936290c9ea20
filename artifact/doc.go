// Package artifact contains concrete implementations of the core.ArtifactStore.
//
// The canonical ArtifactStore interface lives in the core package to avoid
// dependency cycles and keep domain contracts central. Implementation packages
// like this one (in-memory, filesystem, object stores) provide storage
// backends that can be swapped without touching calling code.
//
// Artifacts are scoped by run and addressed by workspace-relative path, so a
// breakpoint or final envelope can reference "reports/scan.csv" and any
// implementation resolves it the same way.
package artifact
