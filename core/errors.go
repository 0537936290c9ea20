package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Error codes attached to step and run failure events. They mirror the error
// taxonomy: configuration problems fail fast, execution failures surface to
// the process for explicit handling, invalid outputs are never persisted.
const (
	ErrCodeConfiguration = "CONFIGURATION_ERROR"
	ErrCodeExecution     = "TASK_EXECUTION_FAILED"
	ErrCodeOutputInvalid = "TASK_OUTPUT_INVALID"
	ErrCodeCancelled     = "RUN_CANCELLED"
	ErrCodeInternal      = "INTERNAL_ERROR"
)

// Sentinel errors shared across packages.
var (
	// ErrEffectIDCollision indicates two different payloads were written under
	// the same effect identifier. Effect IDs are unique per run; a collision
	// means a broken invariant, not a retryable condition.
	ErrEffectIDCollision = errors.New("effect id already recorded with different payload")

	// ErrTaskLimit is returned when a run exceeds its configured maximum
	// number of task calls.
	ErrTaskLimit = errors.New("max task calls exceeded")

	// ErrBackendNotConfigured is returned when a step is dispatched without an
	// agent backend.
	ErrBackendNotConfigured = errors.New("backend not configured")

	// ErrExecutorNotConfigured is returned when RunContext.Task is called
	// without a step executor wired in.
	ErrExecutorNotConfigured = errors.New("step executor not configured")

	// ErrRunNotFound is returned by run stores for unknown run identifiers.
	ErrRunNotFound = errors.New("run not found")

	// ErrStepNotFound is returned by task stores when no document exists for
	// the requested run and effect id.
	ErrStepNotFound = errors.New("step not found")

	// ErrProcessNotFound is returned by the engine for unregistered processes.
	ErrProcessNotFound = errors.New("process not found")

	// ErrInvalidTransition is returned when a run status change violates the
	// lifecycle state machine.
	ErrInvalidTransition = errors.New("invalid run status transition")
)

// ConfigError reports an invalid registration, descriptor or option detected
// while a process is wired up. Configuration problems are programming
// mistakes: they fail fast and are never retried.
type ConfigError struct {
	Component string // registry, process, descriptor, engine, ...
	Message   string
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	if e.Component == "" {
		return "configuration error: " + e.Message
	}

	return fmt.Sprintf("configuration error in %s: %s", e.Component, e.Message)
}

// NewConfigError builds a ConfigError for the given component.
func NewConfigError(component, format string, args ...any) *ConfigError {
	return &ConfigError{Component: component, Message: fmt.Sprintf(format, args...)}
}

// ExecutionError wraps a backend or dispatch failure for a single step. The
// orchestrator performs no automatic retries; the process decides whether to
// re-dispatch, continue degraded or abort.
type ExecutionError struct {
	Task     string
	EffectID string
	Err      error
}

// Error implements the error interface.
func (e *ExecutionError) Error() string {
	return fmt.Sprintf("task %q (effect %s) execution failed: %v", e.Task, e.EffectID, e.Err)
}

// Unwrap exposes the underlying cause for errors.Is / errors.As.
func (e *ExecutionError) Unwrap() error { return e.Err }

// Violation pinpoints a single schema mismatch within a task output document.
type Violation struct {
	Path    string `json:"path"`
	Message string `json:"message"`
}

// OutputInvalidError reports that a backend response did not conform to the
// task's output schema. The offending payload is never persisted as a result
// and never silently coerced.
type OutputInvalidError struct {
	Task       string
	EffectID   string
	Violations []Violation
}

// Error implements the error interface.
func (e *OutputInvalidError) Error() string {
	msgs := make([]string, len(e.Violations))
	for i, v := range e.Violations {
		msgs[i] = v.Path + ": " + v.Message
	}

	return fmt.Sprintf("task %q (effect %s) output invalid: %s", e.Task, e.EffectID, strings.Join(msgs, "; "))
}

// IsConfig reports whether err is (or wraps) a ConfigError.
func IsConfig(err error) bool {
	var ce *ConfigError
	return errors.As(err, &ce)
}

// IsExecutionFailed reports whether err is (or wraps) an ExecutionError.
func IsExecutionFailed(err error) bool {
	var ee *ExecutionError
	return errors.As(err, &ee)
}

// IsOutputInvalid reports whether err is (or wraps) an OutputInvalidError.
func IsOutputInvalid(err error) bool {
	var oe *OutputInvalidError
	return errors.As(err, &oe)
}

// CodeForError maps an error to its taxonomy code for event metadata.
func CodeForError(err error) string {
	switch {
	case err == nil:
		return ""
	case IsConfig(err):
		return ErrCodeConfiguration
	case IsOutputInvalid(err):
		return ErrCodeOutputInvalid
	case IsExecutionFailed(err):
		return ErrCodeExecution
	case errors.Is(err, ErrBackendNotConfigured), errors.Is(err, ErrExecutorNotConfigured), errors.Is(err, ErrTaskLimit):
		return ErrCodeConfiguration
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return ErrCodeCancelled
	default:
		return ErrCodeInternal
	}
}
