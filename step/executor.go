package step

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/hupe1980/taskmesh/backend"
	"github.com/hupe1980/taskmesh/core"
	"github.com/hupe1980/taskmesh/internal/util"
)

// inputDocument is the canonical record persisted as input.json before the
// backend sees a step. It is deterministic for a given dispatch so replaying
// the same effect id produces identical bytes.
type inputDocument struct {
	EffectID   string           `json:"effectId"`
	RunID      string           `json:"runId"`
	Process    string           `json:"process,omitempty"`
	Task       string           `json:"task"`
	Args       map[string]any   `json:"args,omitempty"`
	Descriptor *core.Descriptor `json:"descriptor"`
}

// Options configures the executor.
type Options struct {
	// EffectIDs allocates step identities. Override for deterministic tests.
	EffectIDs func() string
}

// Executor implements core.StepExecutor against a backend with pluggable
// pre/post processors.
//
// Pipeline per dispatch: enforce the task budget, allocate the effect id,
// build the descriptor, persist input.json, run the backend, normalize and
// validate the response, persist result.json. A response that fails schema
// validation is never persisted. The executor performs no automatic retries.
type Executor struct {
	backend            backend.Backend
	requestProcessors  []RequestProcessor
	responseProcessors []ResponseProcessor
	effectIDs          func() string
}

// New creates an executor with the default processors wired: provenance
// stamping on requests and JSON repair on responses.
func New(b backend.Backend, optFns ...func(o *Options)) *Executor {
	opts := Options{
		EffectIDs: core.NewID,
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	e := &Executor{
		backend:            b,
		requestProcessors:  []RequestProcessor{},
		responseProcessors: []ResponseProcessor{},
		effectIDs:          opts.EffectIDs,
	}

	e.AddRequestProcessor(NewProvenanceProcessor())
	e.AddResponseProcessor(NewRepairProcessor())

	return e
}

// AddRequestProcessor appends a request processor; order of registration
// defines execution order.
func (e *Executor) AddRequestProcessor(processor RequestProcessor) {
	e.requestProcessors = append(e.requestProcessors, processor)
}

// AddResponseProcessor appends a response processor executed on the raw
// backend response before decoding.
func (e *Executor) AddResponseProcessor(processor ResponseProcessor) {
	e.responseProcessors = append(e.responseProcessors, processor)
}

// Execute implements core.StepExecutor.
func (e *Executor) Execute(rc *core.RunContext, task core.Task, args map[string]any) (*core.Result, error) {
	if e.backend == nil {
		return nil, core.ErrBackendNotConfigured
	}

	if rc.Limiter != nil {
		if err := rc.Limiter.Increment(); err != nil {
			return nil, fmt.Errorf("task %q: %w", task.Name(), err)
		}
	}

	effectID := e.effectIDs()

	tc := core.TaskContext{EffectID: effectID, RunID: rc.RunID}

	desc, err := task.Build(args, tc)
	if err != nil {
		return nil, err
	}

	record := core.StepRecord{
		EffectID: effectID,
		Task:     task.Name(),
		Title:    desc.Title,
		Status:   core.StepStatusRunning,
		Started:  rc.Now(),
	}

	// Persist the input document before the backend sees anything. A crash
	// after this point leaves an attributable record on disk.
	input := inputDocument{
		EffectID:   effectID,
		RunID:      rc.RunID,
		Process:    rc.Process,
		Task:       task.Name(),
		Args:       args,
		Descriptor: desc,
	}

	inputJSON, err := json.MarshalIndent(input, "", "  ")
	if err != nil {
		return nil, &core.ExecutionError{Task: task.Name(), EffectID: effectID, Err: fmt.Errorf("encode input: %w", err)}
	}

	if rc.TaskStore == nil {
		return nil, core.NewConfigError("executor", "task store not configured")
	}

	if err := rc.TaskStore.WriteInput(rc.RunID, effectID, inputJSON); err != nil {
		return nil, &core.ExecutionError{Task: task.Name(), EffectID: effectID, Err: fmt.Errorf("persist input: %w", err)}
	}

	if err := rc.EmitEvent(core.NewStepStartedEvent(rc.RunID, record)); err != nil {
		return nil, err
	}

	if err := rc.WaitForResume(); err != nil {
		return nil, err
	}

	req := backend.NewRequest(task.Name(), effectID, desc)

	for _, processor := range e.requestProcessors {
		if err := processor.ProcessRequest(rc, &req); err != nil {
			execErr := &core.ExecutionError{Task: task.Name(), EffectID: effectID, Err: fmt.Errorf("request processor %s: %w", processor.Name(), err)}
			return nil, e.failStep(rc, record, execErr)
		}
	}

	start := time.Now()
	raw, err := e.backend.Execute(rc.Context, req)
	dur := time.Since(start)

	rc.LogDebug("step.backend.executed",
		"backend", e.backend.Info().Name,
		"task", task.Name(),
		"effect_id", effectID,
		"duration_ms", dur.Milliseconds(),
		"error", err != nil,
	)

	if err != nil {
		execErr := &core.ExecutionError{Task: task.Name(), EffectID: effectID, Err: err}
		return nil, e.failStep(rc, record, execErr)
	}

	for _, processor := range e.responseProcessors {
		if err := processor.ProcessResponse(rc, req, &raw); err != nil {
			execErr := &core.ExecutionError{Task: task.Name(), EffectID: effectID, Err: fmt.Errorf("response processor %s: %w", processor.Name(), err)}
			return nil, e.failStep(rc, record, execErr)
		}
	}

	output, invalidErr := decodeOutput(task.Name(), effectID, raw, desc.Agent.OutputSchema)
	if invalidErr != nil {
		// Invalid output is never persisted as a result.
		return nil, e.failStep(rc, record, invalidErr)
	}

	canonical, err := json.MarshalIndent(output, "", "  ")
	if err != nil {
		execErr := &core.ExecutionError{Task: task.Name(), EffectID: effectID, Err: fmt.Errorf("encode result: %w", err)}
		return nil, e.failStep(rc, record, execErr)
	}

	if err := rc.TaskStore.WriteResult(rc.RunID, effectID, canonical); err != nil {
		execErr := &core.ExecutionError{Task: task.Name(), EffectID: effectID, Err: fmt.Errorf("persist result: %w", err)}
		return nil, e.failStep(rc, record, execErr)
	}

	now := rc.Now()
	record.Status = core.StepStatusCompleted
	record.Finished = &now

	if err := rc.EmitEvent(core.NewStepCompletedEvent(rc.RunID, record)); err != nil {
		return nil, err
	}

	if err := rc.WaitForResume(); err != nil {
		return nil, err
	}

	rc.LogInfo("step.completed",
		"task", task.Name(),
		"effect_id", effectID,
		"duration_ms", dur.Milliseconds(),
	)

	return core.NewResult(task.Name(), effectID, canonical)
}

// failStep finalizes the step record, emits the failure event and returns err
// unchanged so callers see the original classification.
func (e *Executor) failStep(rc *core.RunContext, record core.StepRecord, err error) error {
	now := rc.Now()
	record.Status = core.StepStatusFailed
	record.Finished = &now
	record.ErrorCode = core.CodeForError(err)
	record.Error = err.Error()

	rc.LogWarn("step.failed",
		"task", record.Task,
		"effect_id", record.EffectID,
		"error_code", record.ErrorCode,
		"error", err.Error(),
	)

	if emitErr := rc.EmitEvent(core.NewStepFailedEvent(rc.RunID, record, err)); emitErr != nil {
		return err
	}

	_ = rc.WaitForResume()

	return err
}

// decodeOutput parses the normalized response and checks it against the
// task's output schema. Both failure modes classify as invalid output.
func decodeOutput(task, effectID string, raw json.RawMessage, schema map[string]any) (map[string]any, error) {
	var output map[string]any
	if err := json.Unmarshal(raw, &output); err != nil {
		return nil, &core.OutputInvalidError{
			Task:     task,
			EffectID: effectID,
			Violations: []core.Violation{
				{Path: "$", Message: fmt.Sprintf("response is not a JSON object: %v", err)},
			},
		}
	}

	if schema == nil {
		return output, nil
	}

	violations := util.CheckValue(output, schema, "")
	if len(violations) == 0 {
		return output, nil
	}

	converted := make([]core.Violation, len(violations))
	for i, v := range violations {
		converted[i] = core.Violation{Path: v.Field, Message: v.Message}
	}

	return nil, &core.OutputInvalidError{Task: task, EffectID: effectID, Violations: converted}
}
