// Package taskmesh provides a high-level façade over the core Engine and its
// services (run store, task store, artifacts, approval & logging) enabling
// rapid construction of agent-backed workflow systems. Most applications
// interact with this package by:
//  1. Creating a TaskMesh via New() (optionally overriding default in‑memory services)
//  2. Registering one or more processes built with process.New
//  3. Starting runs asynchronously (Start) or synchronously (StartSync)
//
// The façade delegates orchestration to engine.Engine while keeping setup and
// usage ergonomics concise. All defaults are safe for local development and
// testing; production deployments typically supply durable store
// implementations, a real agent backend and a structured logger.
package taskmesh

import (
	"context"

	"github.com/hupe1980/taskmesh/artifact"
	"github.com/hupe1980/taskmesh/backend"
	"github.com/hupe1980/taskmesh/core"
	"github.com/hupe1980/taskmesh/engine"
	"github.com/hupe1980/taskmesh/logging"
	"github.com/hupe1980/taskmesh/runstore"
	"github.com/hupe1980/taskmesh/step"
	"github.com/hupe1980/taskmesh/taskstore"
)

// Options configures the TaskMesh instance.
type Options struct {
	// Engine configuration (concurrency, task budget, buffers)
	EngineConfig engine.Config

	// Stores (default to in-memory implementations if not provided)
	RunStore      core.RunStore
	TaskStore     core.TaskStore
	ArtifactStore core.ArtifactStore

	// Backend executes agent steps. When set, a step.Executor wired to it
	// becomes the engine's step executor. Leave nil for processes that never
	// call tasks.
	Backend backend.Backend

	// Executor overrides the step executor entirely. Takes precedence over
	// Backend; useful for custom effect id policies or processor chains.
	Executor core.StepExecutor

	// Approver resolves breakpoints. Nil auto-approves with a note.
	Approver core.Approver

	// Logger (defaults to NoOp logger if nil)
	Logger logging.Logger

	// Hooks observe and guard the run lifecycle.
	Hooks []engine.Hook
}

// TaskMesh is the high-level façade aggregating the underlying engine and services.
type TaskMesh struct {
	opts   Options
	engine *engine.Engine
}

// New creates a new TaskMesh instance with optional overrides. Any unset
// service is initialized with an in-memory implementation.
func New(optFns ...func(o *Options)) *TaskMesh {
	opts := Options{
		EngineConfig:  engine.DefaultConfig,
		RunStore:      runstore.NewInMemoryStore(),
		TaskStore:     taskstore.NewInMemoryStore(),
		ArtifactStore: artifact.NewInMemoryStore(),
		Logger:        logging.NoOpLogger{},
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	executor := opts.Executor
	if executor == nil && opts.Backend != nil {
		executor = step.New(opts.Backend)
	}

	e := engine.New(func(o *engine.Options) {
		o.Config = opts.EngineConfig
		o.RunStore = opts.RunStore
		o.TaskStore = opts.TaskStore
		o.ArtifactStore = opts.ArtifactStore
		o.Approver = opts.Approver
		o.Executor = executor
		o.Logger = opts.Logger
		o.Hooks = opts.Hooks
	})

	return &TaskMesh{opts: opts, engine: e}
}

// RegisterProcess adds a process to the underlying engine.
func (m *TaskMesh) RegisterProcess(p core.Process) error { return m.engine.Register(p) }

// Processes returns the names of all registered processes, sorted.
func (m *TaskMesh) Processes() []string { return m.engine.Processes() }

// Start begins an asynchronous run returning the run id plus event & error
// channels.
func (m *TaskMesh) Start(
	ctx context.Context,
	processName string,
	inputs map[string]any,
) (string, <-chan core.Event, <-chan error, error) {
	return m.engine.Start(ctx, processName, inputs)
}

// StartSync is a synchronous helper that drains the event stream and returns
// the finished run record together with every event it produced.
func (m *TaskMesh) StartSync(
	ctx context.Context,
	processName string,
	inputs map[string]any,
) (*core.Run, []core.Event, error) {
	return m.engine.StartSync(ctx, processName, inputs)
}

// Cancel aborts an active run.
func (m *TaskMesh) Cancel(runID string) error { return m.engine.Cancel(runID) }

// breakpointResolver is the optional capability of approvers that park
// breakpoints for outside decisions, such as gate.Manual.
type breakpointResolver interface {
	Pending() []*core.BreakpointRequest
	Decide(id string, res core.Resolution) error
}

// PendingBreakpoints lists breakpoints parked by the configured approver,
// oldest first. It returns nil when the approver resolves inline.
func (m *TaskMesh) PendingBreakpoints() []*core.BreakpointRequest {
	if r, ok := m.opts.Approver.(breakpointResolver); ok {
		return r.Pending()
	}

	return nil
}

// ResolveBreakpoint delivers a decision for a parked breakpoint by id. The
// configured approver must support external decisions.
func (m *TaskMesh) ResolveBreakpoint(id string, res core.Resolution) error {
	r, ok := m.opts.Approver.(breakpointResolver)
	if !ok {
		return core.NewConfigError("taskmesh", "approver does not accept external decisions")
	}

	return r.Decide(id, res)
}

// GetRun fetches a run snapshot from the run store.
func (m *TaskMesh) GetRun(runID string) (*core.Run, error) { return m.engine.GetRun(runID) }

// ListRuns returns stored runs matching the filter, newest first.
func (m *TaskMesh) ListRuns(filter core.RunFilter) ([]*core.Run, error) {
	return m.engine.ListRuns(filter)
}
