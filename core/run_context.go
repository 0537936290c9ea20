package core

import (
	"context"
	"fmt"
	"time"

	"maps"

	"github.com/hupe1980/taskmesh/logging"
)

// RunContext carries execution state & helpers for a process run.
// It encapsulates the mutable, per-run execution scope passed to a
// Process's Run method. It aggregates:
//   - The ambient cancellation Context
//   - Identifiers (RunID, Process) and caller inputs
//   - Emission / resumption coordination channels
//   - Backing services (run store, task store, artifacts, approver, executor)
//   - The live Run record and pending MetaDelta / ArtifactDelta to commit
//   - An injectable clock so process code never reads wall time directly
//
// Metadata mutations performed via SetMeta accumulate in MetaDelta until
// CommitMetaDelta or EmitEvent applies them. Every Task call and Breakpoint
// is a full suspension point: the process goroutine blocks until the step
// result or resolution is available.
type RunContext struct {
	Context       context.Context
	RunID         string
	Process       string
	Inputs        map[string]any
	MaxTaskCalls  int
	Emit          chan<- Event
	Resume        <-chan struct{}
	RunStore      RunStore
	TaskStore     TaskStore
	ArtifactStore ArtifactStore
	Approver      Approver
	Executor      StepExecutor
	Limiter       *TaskLimiter
	Run           *Run
	MetaDelta     map[string]any
	ArtifactDelta []Artifact
	Clock         func() time.Time
	Started       time.Time

	*loggerAdapter
}

// NewRunContext constructs a RunContext with empty metadata and
// artifact deltas.
func NewRunContext(
	ctx context.Context,
	run *Run,
	maxTaskCalls int,
	emit chan<- Event,
	resume <-chan struct{},
	runStore RunStore,
	taskStore TaskStore,
	artifactStore ArtifactStore,
	approver Approver,
	executor StepExecutor,
	logger logging.Logger,
) *RunContext {
	return &RunContext{
		Context:       ctx,
		RunID:         run.ID,
		Process:       run.Process,
		Inputs:        run.Inputs,
		MaxTaskCalls:  maxTaskCalls,
		Emit:          emit,
		Resume:        resume,
		RunStore:      runStore,
		TaskStore:     taskStore,
		ArtifactStore: artifactStore,
		Approver:      approver,
		Executor:      executor,
		Limiter:       NewTaskLimiter(maxTaskCalls),
		Run:           run,
		MetaDelta:     map[string]any{},
		ArtifactDelta: []Artifact{},
		Clock:         func() time.Time { return time.Now().UTC() },
		Started:       time.Now().UTC(),
		loggerAdapter: newLoggerAdapter(logger),
	}
}

// Done returns a channel closed when the underlying context is cancelled.
func (rc *RunContext) Done() <-chan struct{} { return rc.Context.Done() }

// Err returns the cancellation error (if any) from the underlying context.
func (rc *RunContext) Err() error { return rc.Context.Err() }

// Now returns the current time from the injected clock. Process code should
// use this instead of time.Now so runs stay testable.
func (rc *RunContext) Now() time.Time {
	if rc.Clock != nil {
		return rc.Clock()
	}

	return time.Now().UTC()
}

// Elapsed returns the wall time since the run started.
func (rc *RunContext) Elapsed() time.Duration { return rc.Now().Sub(rc.Started) }

// Input returns a caller-supplied input value and its existence flag.
func (rc *RunContext) Input(key string) (any, bool) {
	v, ok := rc.Inputs[key]
	return v, ok
}

// GetMeta returns a staged (delta) value if present, else the persisted run value.
func (rc *RunContext) GetMeta(k string) (any, bool) {
	if v, ok := rc.MetaDelta[k]; ok {
		return v, true
	}

	if rc.Run != nil {
		return rc.Run.GetMetadata(k)
	}

	return nil, false
}

// SetMeta stages a metadata mutation in the in-memory delta buffer.
func (rc *RunContext) SetMeta(k string, v any) { rc.MetaDelta[k] = v }

// ApplyMetaDelta merges all pairs from d into the staged MetaDelta.
func (rc *RunContext) ApplyMetaDelta(d map[string]any) {
	maps.Copy(rc.MetaDelta, d)
}

// AddArtifact stages an artifact reference to be attached to the next emitted event.
func (rc *RunContext) AddArtifact(a Artifact) {
	rc.ArtifactDelta = append(rc.ArtifactDelta, a)
}

// SaveArtifact stores bytes in the ArtifactStore and stages the reference for
// the next emitted event.
func (rc *RunContext) SaveArtifact(a Artifact, data []byte) error {
	if rc.ArtifactStore == nil {
		return fmt.Errorf("artifact store not configured")
	}

	if err := rc.ArtifactStore.Save(rc.RunID, a, data); err != nil {
		return err
	}

	rc.AddArtifact(a)

	return nil
}

// GetArtifact retrieves previously saved artifact bytes.
func (rc *RunContext) GetArtifact(path string) ([]byte, error) {
	if rc.ArtifactStore == nil {
		return nil, fmt.Errorf("artifact store not configured")
	}

	return rc.ArtifactStore.Get(rc.RunID, path)
}

// ListArtifacts returns artifact references stored for the run.
func (rc *RunContext) ListArtifacts() ([]Artifact, error) {
	if rc.ArtifactStore == nil {
		return []Artifact{}, nil
	}

	return rc.ArtifactStore.List(rc.RunID)
}

// CommitMetaDelta persists the accumulated MetaDelta then clears the buffer.
func (rc *RunContext) CommitMetaDelta() error {
	if len(rc.MetaDelta) == 0 {
		return nil
	}

	if rc.RunStore == nil {
		return fmt.Errorf("run store not configured")
	}

	rc.Run.ApplyMetaDelta(rc.MetaDelta)

	if err := rc.RunStore.Update(rc.Run); err != nil {
		return err
	}

	rc.MetaDelta = map[string]any{}

	return nil
}

// Task dispatches one step through the configured executor and blocks until
// its validated result is available. No automatic retries are performed; the
// returned error carries the taxonomy classification for the caller to act on.
func (rc *RunContext) Task(task Task, args map[string]any) (*Result, error) {
	if task == nil {
		return nil, NewConfigError("run", "task must not be nil")
	}

	if rc.Executor == nil {
		return nil, ErrExecutorNotConfigured
	}

	return rc.Executor.Execute(rc, task, args)
}

// Log records a progress message on the run's event stream and the logger.
func (rc *RunContext) Log(format string, args ...any) {
	msg := format
	if len(args) > 0 {
		msg = fmt.Sprintf(format, args...)
	}

	rc.LogInfo(msg, "run_id", rc.RunID, "process", rc.Process)

	if err := rc.EmitEvent(NewLogEvent(rc.RunID, "info", msg)); err != nil {
		return
	}

	_ = rc.WaitForResume()
}

// Breakpoint suspends the run for human review and blocks until a resolution
// arrives or the context is cancelled. The gate is advisory: a rejection is
// returned in Resolution.Approved, not as an error.
func (rc *RunContext) Breakpoint(spec BreakpointSpec) (*Resolution, error) {
	if spec.Title == "" {
		return nil, NewConfigError("breakpoint", "title must not be empty")
	}

	// Referenced files must resolve before the reviewer sees them.
	if rc.ArtifactStore != nil {
		for _, f := range spec.Files {
			if _, err := rc.ArtifactStore.Stat(rc.RunID, f.Path); err != nil {
				return nil, fmt.Errorf("breakpoint file %q not resolvable: %w", f.Path, err)
			}
		}
	}

	bp := BreakpointRecord{
		ID:       NewID(),
		Title:    spec.Title,
		Question: spec.Question,
		Summary:  spec.Summary,
		Files:    spec.Files,
		Raised:   rc.Now(),
	}

	if err := rc.EmitEvent(NewBreakpointRaisedEvent(rc.RunID, bp)); err != nil {
		return nil, err
	}

	if err := rc.WaitForResume(); err != nil {
		return nil, err
	}

	rc.LogInfo("run suspended at breakpoint", "run_id", rc.RunID, "breakpoint_id", bp.ID, "title", bp.Title)

	var (
		res *Resolution
		err error
	)

	if rc.Approver == nil {
		res = &Resolution{Approved: true, Note: "no approver configured", ResolvedAt: rc.Now()}
	} else {
		req := &BreakpointRequest{
			ID:       bp.ID,
			RunID:    rc.RunID,
			Process:  rc.Process,
			Title:    bp.Title,
			Question: bp.Question,
			Summary:  bp.Summary,
			Files:    bp.Files,
			Raised:   bp.Raised,
		}

		res, err = rc.Approver.Resolve(rc.Context, req)
		if err != nil {
			return nil, fmt.Errorf("breakpoint %q: %w", bp.Title, err)
		}

		if res == nil {
			return nil, fmt.Errorf("approver returned no resolution for breakpoint %q", bp.Title)
		}
	}

	if res.ResolvedAt.IsZero() {
		res.ResolvedAt = rc.Now()
	}

	resolved := bp
	resolved.Resolution = res

	if err := rc.EmitEvent(NewBreakpointResolvedEvent(rc.RunID, resolved)); err != nil {
		return nil, err
	}

	if err := rc.WaitForResume(); err != nil {
		return nil, err
	}

	rc.LogInfo("breakpoint resolved", "run_id", rc.RunID, "breakpoint_id", bp.ID, "approved", res.Approved)

	return res, nil
}

// EmitEvent merges pending MetaDelta / ArtifactDelta into the event and emits it.
func (rc *RunContext) EmitEvent(ev Event) error {
	if len(rc.MetaDelta) > 0 {
		if ev.Actions.MetaDelta == nil {
			ev.Actions.MetaDelta = map[string]any{}
		}

		maps.Copy(ev.Actions.MetaDelta, rc.MetaDelta)
	}

	if len(rc.ArtifactDelta) > 0 {
		ev.Actions.ArtifactDelta = append(ev.Actions.ArtifactDelta, rc.ArtifactDelta...)
	}

	if ev.Process == "" {
		ev.Process = rc.Process
	}

	select {
	case <-rc.Context.Done():
		return rc.Context.Err()
	case rc.Emit <- ev:
	}

	rc.MetaDelta = map[string]any{}
	rc.ArtifactDelta = []Artifact{}

	return nil
}

// WaitForResume blocks until the engine acknowledges the last emitted event
// or the context is cancelled.
func (rc *RunContext) WaitForResume() error {
	if rc.Resume == nil {
		return nil
	}

	select {
	case <-rc.Resume:
		return nil
	case <-rc.Context.Done():
		return rc.Context.Err()
	}
}
