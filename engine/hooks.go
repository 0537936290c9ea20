package engine

import (
	"context"
	"fmt"

	"github.com/hupe1980/taskmesh/core"
)

// HookType defines the lifecycle points where hooks execute.
//
// Hooks provide a mechanism for observing and guarding the run pipeline
// without modifying engine logic. They are executed synchronously, so
// implementations should be fast and must not panic.
type HookType string

const (
	// HookBeforeRun is triggered before a run record is created. Returning an
	// error vetoes the start: nothing is persisted and Start fails.
	HookBeforeRun HookType = "before_run"

	// HookOnEvent is triggered for every event the pump processes, before the
	// event's actions are applied. Returning an error cancels the run.
	HookOnEvent HookType = "on_event"

	// HookAfterRun is triggered once the terminal envelope is assembled.
	// Errors are logged, the outcome is already decided.
	HookAfterRun HookType = "after_run"
)

// HookContext carries the information available at a hook's lifecycle point.
// Run is the live record; hooks must treat it as read-only.
type HookContext struct {
	Type HookType

	// Run is the record of the affected run.
	Run *core.Run

	// Event is set for HookOnEvent, nil otherwise.
	Event *core.Event

	// Err is set for HookAfterRun when the run failed.
	Err error
}

// Hook is an execution lifecycle extension point. Implementations should be
// stateless; a hook registered once may serve many concurrent runs.
type Hook interface {
	// Type returns the lifecycle point this hook handles.
	Type() HookType

	// Execute performs the hook logic. The consequences of returning an
	// error depend on the hook type, see the HookType constants.
	Execute(ctx context.Context, hc *HookContext) error
}

// FuncHook wraps a plain function as a Hook.
type FuncHook struct {
	hookType HookType
	fn       func(ctx context.Context, hc *HookContext) error
}

// NewFuncHook creates a function-backed hook for the given lifecycle point.
func NewFuncHook(hookType HookType, fn func(ctx context.Context, hc *HookContext) error) *FuncHook {
	return &FuncHook{hookType: hookType, fn: fn}
}

// Type returns the lifecycle point this hook handles.
func (h *FuncHook) Type() HookType { return h.hookType }

// Execute calls the wrapped function.
func (h *FuncHook) Execute(ctx context.Context, hc *HookContext) error {
	return h.fn(ctx, hc)
}

// MetaValidationHook guards metadata writes. The validator receives the
// staged metadata delta of each event that carries one and can reject it,
// which cancels the run. Useful for enforcing record invariants such as
// required key shapes or forbidden overwrites.
type MetaValidationHook struct {
	validator func(delta map[string]any) error
}

// NewMetaValidationHook creates a metadata guard from a validator function.
func NewMetaValidationHook(validator func(delta map[string]any) error) *MetaValidationHook {
	return &MetaValidationHook{validator: validator}
}

// Type returns HookOnEvent.
func (h *MetaValidationHook) Type() HookType { return HookOnEvent }

// Execute validates the event's metadata delta, if any.
func (h *MetaValidationHook) Execute(_ context.Context, hc *HookContext) error {
	if h.validator == nil || hc.Event == nil || len(hc.Event.Actions.MetaDelta) == 0 {
		return nil
	}

	if err := h.validator(hc.Event.Actions.MetaDelta); err != nil {
		return fmt.Errorf("metadata delta rejected: %w", err)
	}

	return nil
}

// HookManager routes hook execution to the registered hooks of each type.
// Registration is not synchronized; register all hooks before starting runs.
// Execution is safe for concurrent use once registration is complete.
type HookManager struct {
	hooks map[HookType][]Hook
}

// NewHookManager creates an empty manager.
func NewHookManager() *HookManager {
	return &HookManager{hooks: make(map[HookType][]Hook)}
}

// Register adds a hook. Multiple hooks of the same type run in registration
// order; the first error stops the chain.
func (m *HookManager) Register(h Hook) {
	m.hooks[h.Type()] = append(m.hooks[h.Type()], h)
}

// BeforeRun executes the before_run chain.
func (m *HookManager) BeforeRun(ctx context.Context, run *core.Run) error {
	return m.execute(ctx, &HookContext{Type: HookBeforeRun, Run: run})
}

// OnEvent executes the on_event chain.
func (m *HookManager) OnEvent(ctx context.Context, run *core.Run, ev core.Event) error {
	return m.execute(ctx, &HookContext{Type: HookOnEvent, Run: run, Event: &ev})
}

// AfterRun executes the after_run chain, collecting nothing: outcomes are
// already final at this point.
func (m *HookManager) AfterRun(ctx context.Context, run *core.Run, runErr error) {
	_ = m.execute(ctx, &HookContext{Type: HookAfterRun, Run: run, Err: runErr})
}

func (m *HookManager) execute(ctx context.Context, hc *HookContext) error {
	for _, h := range m.hooks[hc.Type] {
		if err := h.Execute(ctx, hc); err != nil {
			return err
		}
	}

	return nil
}
