package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/hupe1980/taskmesh/artifact"
	"github.com/hupe1980/taskmesh/core"
	"github.com/hupe1980/taskmesh/logging"
	"github.com/hupe1980/taskmesh/runstore"
	"github.com/hupe1980/taskmesh/taskstore"
)

// Config defines tuning parameters for the Engine's operational behavior.
//
// The configuration focuses on safety limits and buffering:
//   - Concurrency: how many runs may execute simultaneously
//   - Budget: how many task calls a single run may dispatch
//   - Buffering: channel buffer sizes for event processing
//
// Additional concerns (stores, approver, executor, logging) are wired via
// functional options rather than expanding this struct.
type Config struct {
	// MaxConcurrentRuns limits the number of runs executing simultaneously.
	// Starting a run beyond the limit fails immediately. Set to 0 for
	// unlimited.
	MaxConcurrentRuns int

	// MaxTaskCalls caps the number of task dispatches per run. Exceeding the
	// budget fails the offending dispatch with core.ErrTaskLimit. Set to 0
	// for unlimited.
	MaxTaskCalls int

	// EventBufferSize sets the channel buffer size for event processing.
	// Larger buffers reduce blocking but increase memory usage.
	EventBufferSize int
}

// DefaultConfig provides production-ready default configuration values.
//
// Configuration values:
//   - MaxConcurrentRuns: 10 (safe for most environments)
//   - MaxTaskCalls: 100 (generous budget, still bounded)
//   - EventBufferSize: 100 (balances memory usage and throughput)
var DefaultConfig = Config{
	MaxConcurrentRuns: 10,
	MaxTaskCalls:      100,
	EventBufferSize:   100,
}

// Options configures an Engine instance using the functional options pattern.
// All services have in-memory defaults so an engine is usable for development
// and tests without any external wiring.
type Options struct {
	// Config contains operational parameters for the engine behavior.
	// Defaults to DefaultConfig if not specified.
	Config Config

	// RunStore persists run records. Defaults to an in-memory store.
	RunStore core.RunStore

	// TaskStore persists per-step input and result documents. Defaults to an
	// in-memory store.
	TaskStore core.TaskStore

	// ArtifactStore holds run artifacts. Defaults to an in-memory store.
	ArtifactStore core.ArtifactStore

	// Approver resolves breakpoints. Defaults to nil, in which case
	// breakpoints are auto-approved with an explanatory note.
	Approver core.Approver

	// Executor dispatches steps to an agent backend. No default: starting a
	// run without one makes every task call fail with
	// core.ErrExecutorNotConfigured.
	Executor core.StepExecutor

	// Logger provides structured logging. Defaults to NoOp.
	Logger logging.Logger

	// Hooks observe and guard the run lifecycle, executed in order.
	Hooks []Hook
}

// Engine orchestrates process execution: it owns the process registry, starts
// runs, pumps their event streams into the run record and hands out
// cancellation. One engine serves many concurrent runs; within a run all
// steps execute on a single logical thread.
//
// Event flow per run:
//  1. The process goroutine executes the process function, emitting events
//  2. The pump goroutine applies event actions to the run record, persists
//     the snapshot, forwards the event to the client and signals resume
//  3. On return the process goroutine assembles the final envelope and emits
//     the terminal event, which the pump persists like any other
//
// Using the pump as the single writer keeps the persisted record consistent
// with the event order the client observes.
type Engine struct {
	runStore      core.RunStore
	taskStore     core.TaskStore
	artifactStore core.ArtifactStore
	approver      core.Approver
	executor      core.StepExecutor
	logger        logging.Logger
	hooks         *HookManager

	config Config

	processes map[string]core.Process
	mu        sync.RWMutex

	activeRuns map[string]context.CancelFunc
	runsMu     sync.RWMutex
}

// New creates an Engine with sensible defaults and optional configuration.
// The returned engine is immediately ready for use and safe for concurrent
// access. The engine does not take ownership of provided services; callers
// remain responsible for their lifecycle.
func New(optFns ...func(o *Options)) *Engine {
	opts := Options{
		Config:        DefaultConfig,
		RunStore:      runstore.NewInMemoryStore(),
		TaskStore:     taskstore.NewInMemoryStore(),
		ArtifactStore: artifact.NewInMemoryStore(),
		Logger:        logging.NoOpLogger{},
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.Config.EventBufferSize <= 0 {
		opts.Config.EventBufferSize = DefaultConfig.EventBufferSize
	}

	hooks := NewHookManager()
	for _, h := range opts.Hooks {
		hooks.Register(h)
	}

	return &Engine{
		runStore:      opts.RunStore,
		taskStore:     opts.TaskStore,
		artifactStore: opts.ArtifactStore,
		approver:      opts.Approver,
		executor:      opts.Executor,
		logger:        opts.Logger,
		hooks:         hooks,
		config:        opts.Config,
		processes:     make(map[string]core.Process),
		activeRuns:    make(map[string]context.CancelFunc),
	}
}

// Register adds a process to the engine's registry, making it startable by
// name. Registering a second process under an existing name is a
// configuration error: silently replacing a process mid-operation would make
// run records ambiguous.
func (e *Engine) Register(p core.Process) error {
	if p == nil {
		return core.NewConfigError("engine", "process must not be nil")
	}
	if p.Name() == "" {
		return core.NewConfigError("engine", "process name must not be empty")
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if _, exists := e.processes[p.Name()]; exists {
		return core.NewConfigError("engine", "process %q already registered", p.Name())
	}

	e.processes[p.Name()] = p

	return nil
}

// GetProcess retrieves a registered process by name.
func (e *Engine) GetProcess(name string) (core.Process, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	p, ok := e.processes[name]

	return p, ok
}

// Processes returns the registered process names, sorted.
func (e *Engine) Processes() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()

	names := make([]string, 0, len(e.processes))
	for name := range e.processes {
		names = append(names, name)
	}

	sort.Strings(names)

	return names
}

// Start launches a run of the named process asynchronously.
//
// It returns the run id, a channel streaming the run's events in emission
// order and a channel carrying the terminal error, if any. Both channels are
// closed when the run reaches a terminal state. Callers should drain the
// events channel; an abandoned channel stalls the run once the buffer fills.
//
// Errors returned directly mean the run never started: unknown process,
// saturated engine, store failure or a BeforeRun hook veto.
func (e *Engine) Start(
	ctx context.Context,
	processName string,
	inputs map[string]any,
) (string, <-chan core.Event, <-chan error, error) {
	p, ok := e.GetProcess(processName)
	if !ok {
		return "", nil, nil, fmt.Errorf("%w: %s", core.ErrProcessNotFound, processName)
	}

	if e.config.MaxConcurrentRuns > 0 {
		e.runsMu.RLock()
		active := len(e.activeRuns)
		e.runsMu.RUnlock()

		if active >= e.config.MaxConcurrentRuns {
			return "", nil, nil, fmt.Errorf("max concurrent runs reached (%d)", e.config.MaxConcurrentRuns)
		}
	}

	run := core.NewRun(core.NewID(), processName, inputs)

	if err := e.hooks.BeforeRun(ctx, run); err != nil {
		return "", nil, nil, fmt.Errorf("before run hook: %w", err)
	}

	if err := e.runStore.Create(run); err != nil {
		return "", nil, nil, fmt.Errorf("create run: %w", err)
	}

	eventsCh := make(chan core.Event, e.config.EventBufferSize)
	errorsCh := make(chan error, 1)
	procEmit := make(chan core.Event, e.config.EventBufferSize)
	resumeCh := make(chan struct{}, 1)

	runCtx, cancel := context.WithCancel(ctx)

	e.runsMu.Lock()
	e.activeRuns[run.ID] = cancel
	e.runsMu.Unlock()

	rc := core.NewRunContext(
		runCtx,
		run,
		e.config.MaxTaskCalls,
		procEmit,
		resumeCh,
		e.runStore,
		e.taskStore,
		e.artifactStore,
		e.approver,
		e.executor,
		e.logger,
	)

	go func() {
		// Release the active slot before closing the emit channel so the run
		// no longer counts against the cap once its channels wind down.
		defer func() {
			e.runsMu.Lock()
			delete(e.activeRuns, run.ID)
			e.runsMu.Unlock()
			close(procEmit)
			cancel()
		}()

		if err := e.runProcess(rc, p); err != nil {
			select {
			case <-runCtx.Done():
				return
			case errorsCh <- fmt.Errorf("process execution failed: %w", err):
			}
		}
	}()

	go func() {
		defer func() { close(eventsCh); close(errorsCh) }()

		e.pumpEvents(runCtx, run, cancel, procEmit, resumeCh, eventsCh)
	}()

	e.logger.Info("run started", "run_id", run.ID, "process", processName)

	return run.ID, eventsCh, errorsCh, nil
}

// StartSync launches a run and blocks until it reaches a terminal state,
// returning the final run record and all events in emission order. Convenient
// for request-response callers that do not need streaming.
func (e *Engine) StartSync(
	ctx context.Context,
	processName string,
	inputs map[string]any,
) (*core.Run, []core.Event, error) {
	runID, eventsCh, errorsCh, err := e.Start(ctx, processName, inputs)
	if err != nil {
		return nil, nil, err
	}

	var events []core.Event
	for ev := range eventsCh {
		events = append(events, ev)
	}

	var runErr error
	select {
	case err, ok := <-errorsCh:
		if ok {
			runErr = err
		}
	default:
	}

	run, getErr := e.runStore.Get(runID)
	if getErr != nil {
		return nil, events, errors.Join(runErr, getErr)
	}

	return run, events, runErr
}

// Cancel stops an active run. The run terminates with status Cancelled once
// its goroutines observe the cancellation. Cancelling an unknown or already
// finished run is an error.
func (e *Engine) Cancel(runID string) error {
	e.runsMu.Lock()
	cancel, exists := e.activeRuns[runID]
	e.runsMu.Unlock()

	if !exists {
		return fmt.Errorf("no active run %q", runID)
	}

	cancel()

	return nil
}

// GetRun loads a run record by id from the configured store.
func (e *Engine) GetRun(runID string) (*core.Run, error) {
	return e.runStore.Get(runID)
}

// ListRuns returns run records matching the filter, newest first.
func (e *Engine) ListRuns(filter core.RunFilter) ([]*core.Run, error) {
	return e.runStore.List(filter)
}

// runProcess drives one run on the process goroutine: flips the status to
// running, executes the process function and assembles the terminal envelope.
// The terminal event is sent directly on the emit channel so it reaches the
// pump even after cancellation.
func (e *Engine) runProcess(rc *core.RunContext, p core.Process) error {
	run := rc.Run

	var output map[string]any

	runErr := run.SetStatus(core.RunStatusRunning)
	if runErr == nil {
		runErr = rc.EmitEvent(core.NewRunStartedEvent(run.ID, run.Process))
		if runErr == nil {
			runErr = rc.WaitForResume()
		}
	}

	if runErr == nil {
		output, runErr = p.Run(rc)
	}

	// Fold deltas staged after the last emitted event into the record.
	if len(rc.MetaDelta) > 0 {
		run.ApplyMetaDelta(rc.MetaDelta)
		rc.MetaDelta = map[string]any{}
	}

	if len(rc.ArtifactDelta) > 0 {
		run.AddArtifacts(rc.ArtifactDelta...)
		rc.ArtifactDelta = []core.Artifact{}
	}

	result := &core.RunResult{
		Duration: rc.Elapsed(),
		Finished: rc.Now(),
	}

	var (
		terminal core.Event
		status   core.RunStatus
	)

	switch {
	case runErr == nil:
		result.Success = true
		result.Output = output
		terminal = core.NewRunCompletedEvent(run.ID, result)
		status = core.RunStatusCompleted
	case errors.Is(runErr, context.Canceled) || errors.Is(runErr, context.DeadlineExceeded):
		result.Error = runErr.Error()
		result.ErrorCode = core.ErrCodeCancelled
		terminal = core.NewRunCancelledEvent(run.ID, result)
		status = core.RunStatusCancelled
	default:
		result.Error = runErr.Error()
		result.ErrorCode = core.CodeForError(runErr)
		result.FailedTask = failedTask(runErr)
		terminal = core.NewRunFailedEvent(run.ID, result, runErr)
		status = core.RunStatusFailed
	}

	snapshot := run.Clone()
	result.Artifacts = snapshot.Artifacts
	result.Metadata = snapshot.Metadata

	e.verifyArtifacts(run.ID, result.Artifacts)

	run.SetResult(result)

	if err := run.SetStatus(status); err != nil {
		e.logger.Warn("terminal status transition rejected", "run_id", run.ID, "status", string(status), "error", err)
	}

	e.hooks.AfterRun(rc.Context, run, runErr)

	// Direct send: the pump drains until this channel closes, so the
	// terminal event is delivered even when the run context is cancelled.
	rc.Emit <- terminal

	e.logger.Info("run finished",
		"run_id", run.ID,
		"process", run.Process,
		"status", string(status),
		"duration_ms", result.Duration.Milliseconds(),
	)

	return runErr
}

// verifyArtifacts warns about run-level artifact references that do not
// resolve in the artifact store when the final envelope is assembled. A
// reference an agent reported but nothing persisted stays in the record, the
// warning makes it visible for diagnosis.
func (e *Engine) verifyArtifacts(runID string, artifacts []core.Artifact) {
	if e.artifactStore == nil {
		return
	}

	for _, a := range artifacts {
		if _, err := e.artifactStore.Stat(runID, a.Path); err != nil {
			e.logger.Warn("artifact reference does not resolve", "run_id", runID, "path", a.Path, "error", err)
		}
	}
}

// pumpEvents is the single writer of the run record. It applies each event's
// actions, persists the updated snapshot, forwards the event to the client
// and signals the process goroutine to resume.
func (e *Engine) pumpEvents(
	ctx context.Context,
	run *core.Run,
	cancel context.CancelFunc,
	procEmit <-chan core.Event,
	resumeCh chan<- struct{},
	eventsCh chan<- core.Event,
) {
	for ev := range procEmit {
		if err := e.hooks.OnEvent(ctx, run, ev); err != nil {
			e.logger.Warn("event hook rejected event, cancelling run", "run_id", run.ID, "kind", string(ev.Kind), "error", err)
			cancel()
		}

		e.applyEventActions(run, ev)
		run.AddEvent(ev)

		if err := e.runStore.Update(run); err != nil {
			e.logger.Error("persist run failed, cancelling run", "run_id", run.ID, "error", err)
			cancel()
		}

		select {
		case eventsCh <- ev:
			e.logger.Debug("engine delivered event", "event_id", ev.ID, "run_id", run.ID, "kind", string(ev.Kind))
		case <-ctx.Done():
			// Client delivery is best effort after cancellation; the record
			// already holds the event.
			select {
			case eventsCh <- ev:
			default:
			}
		}

		select {
		case resumeCh <- struct{}{}:
		default:
		}
	}
}

// applyEventActions folds an event's side effects into the run record before
// it is persisted.
func (e *Engine) applyEventActions(run *core.Run, ev core.Event) {
	if len(ev.Actions.MetaDelta) > 0 {
		run.ApplyMetaDelta(ev.Actions.MetaDelta)
	}

	if len(ev.Actions.ArtifactDelta) > 0 {
		run.AddArtifacts(ev.Actions.ArtifactDelta...)
	}

	if ev.IsStep() && ev.Step != nil {
		run.UpsertStep(*ev.Step)
	}

	switch ev.Kind {
	case core.EventBreakpointRaised:
		if ev.Breakpoint != nil {
			run.RecordBreakpoint(*ev.Breakpoint)
		}
		if err := run.SetStatus(core.RunStatusAwaitingApproval); err != nil {
			e.logger.Warn("suspend transition rejected", "run_id", run.ID, "error", err)
		}
	case core.EventBreakpointResolved:
		if ev.Breakpoint != nil && ev.Breakpoint.Resolution != nil {
			if err := run.ResolveBreakpoint(ev.Breakpoint.ID, *ev.Breakpoint.Resolution); err != nil {
				e.logger.Warn("resolve breakpoint failed", "run_id", run.ID, "breakpoint_id", ev.Breakpoint.ID, "error", err)
			}
		}
		if err := run.SetStatus(core.RunStatusRunning); err != nil {
			e.logger.Warn("resume transition rejected", "run_id", run.ID, "error", err)
		}
	}
}

// failedTask extracts the task name from taxonomy errors for the final
// envelope.
func failedTask(err error) string {
	var ee *core.ExecutionError
	if errors.As(err, &ee) {
		return ee.Task
	}

	var oe *core.OutputInvalidError
	if errors.As(err, &oe) {
		return oe.Task
	}

	return ""
}
