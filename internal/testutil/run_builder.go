package testutil

import (
	"github.com/hupe1980/taskmesh/core"
)

// RunBuilder provides a fluent helper for constructing run records in tests.
// Example:
//
//	run := NewRunBuilder("run-1", "emc_scan").Meta("standard", "CISPR 32").Status(core.RunStatusCompleted).Build()
//
// Chain only the parts you need; the run starts pending with empty state.
type RunBuilder struct {
	id        string
	process   string
	inputs    map[string]any
	status    core.RunStatus
	meta      map[string]any
	artifacts []core.Artifact
	result    *core.RunResult
}

// NewRunBuilder creates a builder for a run with the given id and process name.
func NewRunBuilder(id, process string) *RunBuilder {
	return &RunBuilder{id: id, process: process, meta: map[string]any{}}
}

// Input sets a caller input key/value pair (chainable).
func (b *RunBuilder) Input(key string, val any) *RunBuilder {
	if b.inputs == nil {
		b.inputs = map[string]any{}
	}
	b.inputs[key] = val
	return b
}

// Status sets the final status; Build walks there through valid transitions (chainable).
func (b *RunBuilder) Status(s core.RunStatus) *RunBuilder { b.status = s; return b }

// Meta sets a metadata key/value pair on the resulting run (chainable).
func (b *RunBuilder) Meta(key string, val any) *RunBuilder { b.meta[key] = val; return b }

// Artifact appends an artifact reference to the run record (chainable).
func (b *RunBuilder) Artifact(path, format string) *RunBuilder {
	b.artifacts = append(b.artifacts, core.Artifact{Path: path, Format: format})
	return b
}

// Result sets the final envelope (chainable).
func (b *RunBuilder) Result(r *core.RunResult) *RunBuilder { b.result = r; return b }

// Build constructs the *core.Run. The status walk only takes legal
// transitions, so the record looks like one the engine produced.
func (b *RunBuilder) Build() *core.Run {
	run := core.NewRun(b.id, b.process, b.inputs)

	for k, v := range b.meta {
		run.SetMetadata(k, v)
	}

	if len(b.artifacts) > 0 {
		run.AddArtifacts(b.artifacts...)
	}

	if b.result != nil {
		run.SetResult(b.result)
	}

	switch b.status {
	case "", core.RunStatusPending:
	case core.RunStatusRunning, core.RunStatusCancelled:
		_ = run.SetStatus(b.status)
	case core.RunStatusAwaitingApproval, core.RunStatusCompleted, core.RunStatusFailed:
		_ = run.SetStatus(core.RunStatusRunning)
		_ = run.SetStatus(b.status)
	}

	return run
}
