package core

import (
	"time"

	"github.com/google/uuid"
)

// EventKind classifies run lifecycle events.
type EventKind string

const (
	// EventRunStarted is emitted once when process execution begins.
	EventRunStarted EventKind = "run.started"
	// EventStepStarted is emitted when a step is dispatched to the backend.
	EventStepStarted EventKind = "step.started"
	// EventStepCompleted is emitted after a step's result is validated and persisted.
	EventStepCompleted EventKind = "step.completed"
	// EventStepFailed is emitted when a step errors before a final result.
	EventStepFailed EventKind = "step.failed"
	// EventBreakpointRaised is emitted when the run suspends for human review.
	EventBreakpointRaised EventKind = "breakpoint.raised"
	// EventBreakpointResolved is emitted when a reviewer decides a breakpoint.
	EventBreakpointResolved EventKind = "breakpoint.resolved"
	// EventRunLog carries a progress message from process code.
	EventRunLog EventKind = "run.log"
	// EventRunCompleted is the terminal event of a successful run.
	EventRunCompleted EventKind = "run.completed"
	// EventRunFailed is the terminal event of a failed run.
	EventRunFailed EventKind = "run.failed"
	// EventRunCancelled is the terminal event of a cancelled run.
	EventRunCancelled EventKind = "run.cancelled"
)

// EventActions encodes side-effects attached to an Event. Deltas staged on
// the RunContext (metadata writes, artifact references) ride along on the
// next emitted event; the engine applies them to the run record after
// persistence (see engine.applyEventActions).
type EventActions struct {
	MetaDelta     map[string]any `json:"meta_delta,omitempty"`
	ArtifactDelta []Artifact     `json:"artifact_delta,omitempty"`
}

// Event is the primary unit of communication between a running process, the
// engine and external clients. After emission it should be treated as
// immutable. It captures:
//   - Correlation (RunID, ID, Process)
//   - Lifecycle classification (Kind)
//   - Step / breakpoint payloads for the corresponding kinds
//   - Orchestration directives (Actions)
//   - Error metadata for failure kinds
//   - High precision UTC timestamp
type Event struct {
	ID           string            `json:"id"`
	RunID        string            `json:"run_id"`
	Process      string            `json:"process,omitempty"`
	Kind         EventKind         `json:"kind"`
	Actions      EventActions      `json:"actions"`
	Step         *StepRecord       `json:"step,omitempty"`
	Breakpoint   *BreakpointRecord `json:"breakpoint,omitempty"`
	Level        string            `json:"level,omitempty"`
	Message      string            `json:"message,omitempty"`
	Result       *RunResult        `json:"result,omitempty"`
	ErrorCode    *string           `json:"error_code,omitempty"`
	ErrorMessage *string           `json:"error_message,omitempty"`
	Timestamp    time.Time         `json:"timestamp"`
}

// NewEvent creates a bare event of the given kind bound to a run. Prefer the
// kind-specific constructors below.
func NewEvent(runID string, kind EventKind) Event {
	return Event{
		ID:        NewID(),
		RunID:     runID,
		Kind:      kind,
		Timestamp: time.Now().UTC(),
		Actions:   EventActions{},
	}
}

// NewRunStartedEvent marks the beginning of process execution.
func NewRunStartedEvent(runID, process string) Event {
	e := NewEvent(runID, EventRunStarted)
	e.Process = process
	return e
}

// NewStepStartedEvent records a step dispatched to the backend.
func NewStepStartedEvent(runID string, step StepRecord) Event {
	e := NewEvent(runID, EventStepStarted)
	e.Step = &step
	return e
}

// NewStepCompletedEvent records a step whose result was validated and persisted.
func NewStepCompletedEvent(runID string, step StepRecord) Event {
	e := NewEvent(runID, EventStepCompleted)
	e.Step = &step
	return e
}

// NewStepFailedEvent records a step failure along with its taxonomy code.
func NewStepFailedEvent(runID string, step StepRecord, err error) Event {
	e := NewEvent(runID, EventStepFailed)
	e.Step = &step

	if err != nil {
		code := CodeForError(err)
		msg := err.Error()
		e.ErrorCode = &code
		e.ErrorMessage = &msg
	}

	return e
}

// NewBreakpointRaisedEvent records a run suspending for human review.
func NewBreakpointRaisedEvent(runID string, bp BreakpointRecord) Event {
	e := NewEvent(runID, EventBreakpointRaised)
	e.Breakpoint = &bp
	return e
}

// NewBreakpointResolvedEvent records the decision for a breakpoint. The
// breakpoint carries its Resolution.
func NewBreakpointResolvedEvent(runID string, bp BreakpointRecord) Event {
	e := NewEvent(runID, EventBreakpointResolved)
	e.Breakpoint = &bp
	return e
}

// NewLogEvent carries a progress message from process code.
func NewLogEvent(runID, level, message string) Event {
	e := NewEvent(runID, EventRunLog)
	e.Level = level
	e.Message = message
	return e
}

// NewRunCompletedEvent is the terminal event of a successful run.
func NewRunCompletedEvent(runID string, result *RunResult) Event {
	e := NewEvent(runID, EventRunCompleted)
	e.Result = result
	return e
}

// NewRunFailedEvent is the terminal event of a failed run. The result
// envelope carries the error and the failing task.
func NewRunFailedEvent(runID string, result *RunResult, err error) Event {
	e := NewEvent(runID, EventRunFailed)
	e.Result = result

	if err != nil {
		code := CodeForError(err)
		msg := err.Error()
		e.ErrorCode = &code
		e.ErrorMessage = &msg
	}

	return e
}

// NewRunCancelledEvent is the terminal event of a cancelled run.
func NewRunCancelledEvent(runID string, result *RunResult) Event {
	e := NewEvent(runID, EventRunCancelled)
	e.Result = result
	return e
}

// NewID generates a new unique identifier for runs, steps and events.
//
// This function creates a UUID-based unique identifier that can be used
// for tracking and correlation throughout the framework.
//
// Returns a string representation of a new UUID.
func NewID() string { return uuid.NewString() }

// Terminal reports whether the event ends its run's event stream.
func (e Event) Terminal() bool {
	return e.Kind == EventRunCompleted || e.Kind == EventRunFailed || e.Kind == EventRunCancelled
}

// IsStep reports whether the event describes a step transition.
func (e Event) IsStep() bool {
	return e.Kind == EventStepStarted || e.Kind == EventStepCompleted || e.Kind == EventStepFailed
}

// IsBreakpoint reports whether the event describes a breakpoint transition.
func (e Event) IsBreakpoint() bool {
	return e.Kind == EventBreakpointRaised || e.Kind == EventBreakpointResolved
}

// UnixSeconds returns the timestamp as fractional seconds since Unix epoch.
// Useful for metrics & numeric serialization paths.
func (e Event) UnixSeconds() float64 { return float64(e.Timestamp.UnixNano()) / 1e9 }
