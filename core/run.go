package core

import (
	"fmt"
	"sync"
	"time"
)

// RunStatus models the run lifecycle state machine.
type RunStatus string

const (
	// RunStatusPending marks a run created but not yet started.
	RunStatusPending RunStatus = "pending"
	// RunStatusRunning marks a run actively executing process code.
	RunStatusRunning RunStatus = "running"
	// RunStatusAwaitingApproval marks a run suspended at a breakpoint. This is
	// a valid resting state, not an error.
	RunStatusAwaitingApproval RunStatus = "awaiting_approval"
	// RunStatusCompleted marks a run that finished successfully.
	RunStatusCompleted RunStatus = "completed"
	// RunStatusFailed marks a run terminated by an unhandled error.
	RunStatusFailed RunStatus = "failed"
	// RunStatusCancelled marks a run stopped by explicit cancellation.
	RunStatusCancelled RunStatus = "cancelled"
)

// Terminal reports whether the status admits no further transitions.
func (s RunStatus) Terminal() bool {
	return s == RunStatusCompleted || s == RunStatusFailed || s == RunStatusCancelled
}

var statusTransitions = map[RunStatus][]RunStatus{
	RunStatusPending:          {RunStatusRunning, RunStatusCancelled},
	RunStatusRunning:          {RunStatusAwaitingApproval, RunStatusCompleted, RunStatusFailed, RunStatusCancelled},
	RunStatusAwaitingApproval: {RunStatusRunning, RunStatusFailed, RunStatusCancelled},
}

// CanTransition reports whether the lifecycle permits moving to the target
// status.
func (s RunStatus) CanTransition(to RunStatus) bool {
	for _, allowed := range statusTransitions[s] {
		if allowed == to {
			return true
		}
	}

	return false
}

// StepStatus tracks the state of a single dispatched step.
type StepStatus string

const (
	// StepStatusRunning marks a step dispatched to the backend.
	StepStatusRunning StepStatus = "running"
	// StepStatusCompleted marks a step with a validated, persisted result.
	StepStatusCompleted StepStatus = "completed"
	// StepStatusFailed marks a step that errored before a final result.
	StepStatusFailed StepStatus = "failed"
)

// StepRecord is the per-step bookkeeping entry kept on the run.
type StepRecord struct {
	EffectID  string     `json:"effect_id"`
	Task      string     `json:"task"`
	Title     string     `json:"title,omitempty"`
	Status    StepStatus `json:"status"`
	ErrorCode string     `json:"error_code,omitempty"`
	Error     string     `json:"error,omitempty"`
	Started   time.Time  `json:"started"`
	Finished  *time.Time `json:"finished,omitempty"`
}

// BreakpointRecord captures a raised breakpoint and, once decided, its
// resolution. A record with a nil Resolution is pending.
type BreakpointRecord struct {
	ID         string      `json:"id"`
	Title      string      `json:"title"`
	Question   string      `json:"question,omitempty"`
	Summary    string      `json:"summary,omitempty"`
	Files      []Artifact  `json:"files,omitempty"`
	Raised     time.Time   `json:"raised"`
	Resolution *Resolution `json:"resolution,omitempty"`
}

// Run is the durable record of one process execution: lifecycle status, step
// history, raised breakpoints, collected artifacts, run metadata and the
// ordered event log. It is safe for concurrent access.
//
// Contract:
//   - Mutations update the Updated timestamp
//   - GetEvents and Clone return copies detached from internal state
//   - SetStatus enforces the lifecycle state machine
type Run struct {
	ID          string             `json:"id"`
	Process     string             `json:"process"`
	Status      RunStatus          `json:"status"`
	Inputs      map[string]any     `json:"inputs,omitempty"`
	Steps       []StepRecord       `json:"steps"`
	Breakpoints []BreakpointRecord `json:"breakpoints,omitempty"`
	Artifacts   []Artifact         `json:"artifacts,omitempty"`
	Metadata    map[string]any     `json:"metadata"`
	Events      []Event            `json:"events"`
	Result      *RunResult         `json:"result,omitempty"`
	Created     time.Time          `json:"created"`
	Updated     time.Time          `json:"updated"`
	mu          sync.RWMutex
}

// NewRun creates a pending run for the named process.
func NewRun(id, process string, inputs map[string]any) *Run {
	now := time.Now()
	return &Run{
		ID:       id,
		Process:  process,
		Status:   RunStatusPending,
		Inputs:   inputs,
		Steps:    []StepRecord{},
		Metadata: map[string]any{},
		Events:   []Event{},
		Created:  now,
		Updated:  now,
	}
}

// GetStatus returns the current lifecycle status.
func (r *Run) GetStatus() RunStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.Status
}

// SetStatus transitions the run, enforcing the lifecycle state machine.
func (r *Run) SetStatus(to RunStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.Status == to {
		return nil
	}

	if !r.Status.CanTransition(to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, r.Status, to)
	}

	r.Status = to
	r.Updated = time.Now()

	return nil
}

// GetMetadata returns the value and existence flag for a metadata key.
func (r *Run) GetMetadata(key string) (any, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.Metadata[key]
	return v, ok
}

// SetMetadata sets a run metadata key updating the Updated timestamp.
func (r *Run) SetMetadata(key string, value any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Metadata[key] = value
	r.Updated = time.Now()
}

// ApplyMetaDelta merges the provided key/value pairs into run metadata.
func (r *Run) ApplyMetaDelta(delta map[string]any) {
	if len(delta) == 0 {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for k, v := range delta {
		r.Metadata[k] = v
	}
	r.Updated = time.Now()
}

// AddEvent appends an event to the run's ordered log.
func (r *Run) AddEvent(ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Events = append(r.Events, ev)
	r.Updated = time.Now()
}

// GetEvents returns a copy of the full event log.
func (r *Run) GetEvents() []Event {
	r.mu.RLock()
	defer r.mu.RUnlock()
	events := make([]Event, len(r.Events))
	copy(events, r.Events)
	return events
}

// UpsertStep inserts or replaces the step record with the same effect id.
func (r *Run) UpsertStep(step StepRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i := range r.Steps {
		if r.Steps[i].EffectID == step.EffectID {
			r.Steps[i] = step
			r.Updated = time.Now()
			return
		}
	}

	r.Steps = append(r.Steps, step)
	r.Updated = time.Now()
}

// Step returns the record for an effect id.
func (r *Run) Step(effectID string) (StepRecord, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, s := range r.Steps {
		if s.EffectID == effectID {
			return s, true
		}
	}

	return StepRecord{}, false
}

// StepCount returns the number of dispatched steps.
func (r *Run) StepCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.Steps)
}

// AddArtifacts appends artifact references, replacing earlier entries with
// the same path so re-saved artifacts do not duplicate.
func (r *Run) AddArtifacts(artifacts ...Artifact) {
	if len(artifacts) == 0 {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

outer:
	for _, a := range artifacts {
		for i := range r.Artifacts {
			if r.Artifacts[i].Path == a.Path {
				r.Artifacts[i] = a
				continue outer
			}
		}

		r.Artifacts = append(r.Artifacts, a)
	}

	r.Updated = time.Now()
}

// GetArtifacts returns a copy of the collected artifact references.
func (r *Run) GetArtifacts() []Artifact {
	r.mu.RLock()
	defer r.mu.RUnlock()
	artifacts := make([]Artifact, len(r.Artifacts))
	copy(artifacts, r.Artifacts)
	return artifacts
}

// RecordBreakpoint appends a raised breakpoint.
func (r *Run) RecordBreakpoint(bp BreakpointRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Breakpoints = append(r.Breakpoints, bp)
	r.Updated = time.Now()
}

// ResolveBreakpoint attaches a resolution to the identified breakpoint.
func (r *Run) ResolveBreakpoint(id string, res Resolution) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i := range r.Breakpoints {
		if r.Breakpoints[i].ID == id {
			r.Breakpoints[i].Resolution = &res
			r.Updated = time.Now()
			return nil
		}
	}

	return fmt.Errorf("breakpoint %q not found in run %q", id, r.ID)
}

// PendingBreakpoint returns the oldest unresolved breakpoint, if any.
func (r *Run) PendingBreakpoint() (BreakpointRecord, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, bp := range r.Breakpoints {
		if bp.Resolution == nil {
			return bp, true
		}
	}

	return BreakpointRecord{}, false
}

// SetResult records the final envelope.
func (r *Run) SetResult(result *RunResult) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Result = result
	r.Updated = time.Now()
}

// GetResult returns the final envelope, nil while the run is in flight.
func (r *Run) GetResult() *RunResult {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.Result
}

// Clone returns a deep copy of the run safe for independent mutation.
func (r *Run) Clone() *Run {
	r.mu.RLock()
	defer r.mu.RUnlock()

	clone := &Run{
		ID:          r.ID,
		Process:     r.Process,
		Status:      r.Status,
		Steps:       make([]StepRecord, len(r.Steps)),
		Breakpoints: make([]BreakpointRecord, len(r.Breakpoints)),
		Artifacts:   make([]Artifact, len(r.Artifacts)),
		Metadata:    make(map[string]any, len(r.Metadata)),
		Events:      make([]Event, len(r.Events)),
		Result:      r.Result,
		Created:     r.Created,
		Updated:     r.Updated,
	}

	if r.Inputs != nil {
		clone.Inputs = make(map[string]any, len(r.Inputs))
		for k, v := range r.Inputs {
			clone.Inputs[k] = v
		}
	}

	copy(clone.Steps, r.Steps)
	copy(clone.Breakpoints, r.Breakpoints)
	copy(clone.Artifacts, r.Artifacts)
	copy(clone.Events, r.Events)

	for k, v := range r.Metadata {
		clone.Metadata[k] = v
	}

	return clone
}

// RunFilter narrows RunStore.List results. Zero values match everything.
type RunFilter struct {
	Process string
	Status  RunStatus
	Limit   int
}

// Matches reports whether a run satisfies the filter.
func (f RunFilter) Matches(r *Run) bool {
	if f.Process != "" && r.Process != f.Process {
		return false
	}

	if f.Status != "" && r.GetStatus() != f.Status {
		return false
	}

	return true
}

// RunStore persists runs and their evolving step history, breakpoints and
// event log. Implementations must be safe for concurrent use and must not
// alias stored state into returned values.
type RunStore interface {
	Create(run *Run) error
	Get(runID string) (*Run, error)
	Update(run *Run) error
	List(filter RunFilter) ([]*Run, error)
}
