// Package runstore houses concrete implementations of the core.RunStore.
// The interface itself (and the Run struct) live in the core package to
// centralize domain contracts. Keeping only implementations here prevents
// higher level packages (engine, processes) from depending on concrete
// storage.
//
// Add additional backends (Redis, Postgres, etc.) in sub-packages without
// changing any calling code, only the wiring layer decides which
// implementation to instantiate.
package runstore
