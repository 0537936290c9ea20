package step

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/hupe1980/taskmesh/backend"
	"github.com/hupe1980/taskmesh/core"
	"github.com/hupe1980/taskmesh/task"
	"github.com/stretchr/testify/assert"
)

// memTaskStore is an in-memory TaskStore with the same first-write-wins
// semantics as the file-backed implementation.
type memTaskStore struct {
	mu         sync.Mutex
	inputs     map[string][]byte
	results    map[string][]byte
	failResult error
}

func newMemTaskStore() *memTaskStore {
	return &memTaskStore{inputs: map[string][]byte{}, results: map[string][]byte{}}
}

func (s *memTaskStore) write(docs map[string][]byte, key string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := docs[key]; ok {
		if bytes.Equal(existing, data) {
			return nil
		}
		return core.ErrEffectIDCollision
	}

	cp := make([]byte, len(data))
	copy(cp, data)
	docs[key] = cp

	return nil
}

func (s *memTaskStore) WriteInput(runID, effectID string, data []byte) error {
	return s.write(s.inputs, runID+"/"+effectID, data)
}

func (s *memTaskStore) WriteResult(runID, effectID string, data []byte) error {
	if s.failResult != nil {
		return s.failResult
	}
	return s.write(s.results, runID+"/"+effectID, data)
}

func (s *memTaskStore) ReadInput(runID, effectID string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, ok := s.inputs[runID+"/"+effectID]
	if !ok {
		return nil, errors.New("input not found")
	}
	return data, nil
}

func (s *memTaskStore) ReadResult(runID, effectID string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, ok := s.results[runID+"/"+effectID]
	if !ok {
		return nil, errors.New("result not found")
	}
	return data, nil
}

func (s *memTaskStore) List(runID string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	seen := map[string]bool{}
	for key := range s.inputs {
		if strings.HasPrefix(key, runID+"/") {
			seen[strings.TrimPrefix(key, runID+"/")] = true
		}
	}

	ids := make([]string, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	return ids, nil
}

func seqEffectIDs() func() string {
	n := 0
	return func() string {
		n++
		return fmt.Sprintf("ef-%d", n)
	}
}

// newStepContext wires a RunContext whose emitted events are pumped into a
// slice with an immediate resume signal, mirroring the engine's event loop.
func newStepContext(maxCalls int, store *memTaskStore) (*core.RunContext, func() []core.Event) {
	run := core.NewRun("run-1", "emc_qualification", map[string]any{"dut": "DUT-7"})
	emit := make(chan core.Event, 64)
	resume := make(chan struct{}, 1)

	rc := core.NewRunContext(context.Background(), run, maxCalls, emit, resume, nil, store, nil, nil, nil, nil)

	done := make(chan struct{})
	var events []core.Event

	go func() {
		defer close(done)
		for ev := range emit {
			events = append(events, ev)
			select {
			case resume <- struct{}{}:
			default:
			}
		}
	}()

	return rc, func() []core.Event {
		close(emit)
		<-done
		return events
	}
}

var scanSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"pass": map[string]any{"type": "boolean"},
		"peaks": map[string]any{
			"type": "array",
			"items": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"frequency_mhz": map[string]any{"type": "number"},
					"level_dbuv":    map[string]any{"type": "number"},
				},
				"required": []any{"frequency_mhz", "level_dbuv"},
			},
		},
	},
	"required": []any{"pass"},
}

func newScanTask(t *testing.T, schema map[string]any) core.Task {
	t.Helper()

	reg := task.NewRegistry()
	def, err := reg.Define("emc_scan", func(_ map[string]any, _ core.TaskContext) (*core.Descriptor, error) {
		return &core.Descriptor{
			Agent: core.AgentSpec{
				Name:         "emc-analyzer",
				Prompt:       core.Prompt{Task: "Scan DUT-7 from 30 to 1000 MHz."},
				OutputSchema: schema,
			},
		}, nil
	})
	if err != nil {
		t.Fatalf("define task: %v", err)
	}

	return def
}

// -------------------- Happy Path Tests --------------------

func TestExecutor_SuccessfulStep(t *testing.T) {
	mock := backend.NewMock()
	mock.AddResponse("emc_scan", `{"pass": true, "peaks": [{"frequency_mhz": 144.2, "level_dbuv": 38.5}]}`)

	store := newMemTaskStore()
	rc, drain := newStepContext(0, store)

	exec := New(mock, func(o *Options) { o.EffectIDs = seqEffectIDs() })

	result, err := exec.Execute(rc, newScanTask(t, scanSchema), map[string]any{"band": "VHF"})
	events := drain()

	assert.NoError(t, err)
	assert.Equal(t, "emc_scan", result.Task())
	assert.Equal(t, "ef-1", result.EffectID())
	assert.True(t, result.Bool("pass"))
	assert.Equal(t, 144.2, result.Float("peaks.0.frequency_mhz"))

	// Both documents persisted under the effect id
	input, err := store.ReadInput("run-1", "ef-1")
	assert.NoError(t, err)
	assert.Contains(t, string(input), `"task": "emc_scan"`)
	assert.Contains(t, string(input), `"effectId": "ef-1"`)
	assert.Contains(t, string(input), `"band": "VHF"`)
	assert.Contains(t, string(input), "Scan DUT-7 from 30 to 1000 MHz.")

	persisted, err := store.ReadResult("run-1", "ef-1")
	assert.NoError(t, err)
	assert.Equal(t, string(persisted), string(result.Raw()))

	// Lifecycle events in order
	assert.Len(t, events, 2)
	assert.Equal(t, core.EventStepStarted, events[0].Kind)
	assert.Equal(t, core.StepStatusRunning, events[0].Step.Status)
	assert.Equal(t, core.EventStepCompleted, events[1].Kind)
	assert.Equal(t, core.StepStatusCompleted, events[1].Step.Status)
	assert.NotNil(t, events[1].Step.Finished)
}

func TestExecutor_CanonicalResultBytes(t *testing.T) {
	mock := backend.NewMock()
	mock.AddResponse("emc_scan", `{"zulu": 1, "alpha": 2, "mike": 3}`)

	store := newMemTaskStore()
	rc, drain := newStepContext(0, store)
	exec := New(mock, func(o *Options) { o.EffectIDs = seqEffectIDs() })

	_, err := exec.Execute(rc, newScanTask(t, nil), nil)
	drain()
	assert.NoError(t, err)

	persisted, _ := store.ReadResult("run-1", "ef-1")
	text := string(persisted)

	// Keys are sorted in the persisted document
	assert.Less(t, strings.Index(text, `"alpha"`), strings.Index(text, `"mike"`))
	assert.Less(t, strings.Index(text, `"mike"`), strings.Index(text, `"zulu"`))
}

// -------------------- Failure Path Tests --------------------

func TestExecutor_BackendFailure(t *testing.T) {
	mock := backend.NewMock()
	boom := errors.New("backend offline")
	mock.FailWith("emc_scan", boom)

	store := newMemTaskStore()
	rc, drain := newStepContext(0, store)
	exec := New(mock, func(o *Options) { o.EffectIDs = seqEffectIDs() })

	_, err := exec.Execute(rc, newScanTask(t, nil), nil)
	events := drain()

	assert.Error(t, err)
	assert.True(t, core.IsExecutionFailed(err))
	assert.ErrorIs(t, err, boom)

	// Input was persisted before dispatch, no result exists
	_, inputErr := store.ReadInput("run-1", "ef-1")
	assert.NoError(t, inputErr)
	_, resultErr := store.ReadResult("run-1", "ef-1")
	assert.Error(t, resultErr)

	assert.Len(t, events, 2)
	assert.Equal(t, core.EventStepFailed, events[1].Kind)
	assert.Equal(t, core.ErrCodeExecution, *events[1].ErrorCode)
	assert.Equal(t, core.StepStatusFailed, events[1].Step.Status)
}

func TestExecutor_InvalidOutputNeverPersisted(t *testing.T) {
	mock := backend.NewMock()
	// Missing required "pass", malformed peak entry
	mock.AddResponse("emc_scan", `{"peaks": [{"frequency_mhz": "not-a-number"}]}`)

	store := newMemTaskStore()
	rc, drain := newStepContext(0, store)
	exec := New(mock, func(o *Options) { o.EffectIDs = seqEffectIDs() })

	_, err := exec.Execute(rc, newScanTask(t, scanSchema), nil)
	events := drain()

	assert.Error(t, err)
	assert.True(t, core.IsOutputInvalid(err))

	var invalid *core.OutputInvalidError
	assert.True(t, errors.As(err, &invalid))
	assert.NotEmpty(t, invalid.Violations)
	assert.Contains(t, err.Error(), "pass")

	_, resultErr := store.ReadResult("run-1", "ef-1")
	assert.Error(t, resultErr, "invalid output must never be persisted")

	assert.Equal(t, core.EventStepFailed, events[len(events)-1].Kind)
	assert.Equal(t, core.ErrCodeOutputInvalid, *events[len(events)-1].ErrorCode)
}

func TestExecutor_NonObjectOutput(t *testing.T) {
	mock := backend.NewMock()
	mock.AddResponse("emc_scan", `[38.5, 41.2]`)

	store := newMemTaskStore()
	rc, drain := newStepContext(0, store)
	exec := New(mock, func(o *Options) { o.EffectIDs = seqEffectIDs() })

	_, err := exec.Execute(rc, newScanTask(t, nil), nil)
	drain()

	assert.Error(t, err)
	assert.True(t, core.IsOutputInvalid(err))
	assert.Contains(t, err.Error(), "$")
}

func TestExecutor_ResultWriteFailure(t *testing.T) {
	mock := backend.NewMock()
	mock.AddResponse("emc_scan", `{"pass": true}`)

	store := newMemTaskStore()
	store.failResult = errors.New("disk full")

	rc, drain := newStepContext(0, store)
	exec := New(mock, func(o *Options) { o.EffectIDs = seqEffectIDs() })

	_, err := exec.Execute(rc, newScanTask(t, nil), nil)
	drain()

	assert.Error(t, err)
	assert.True(t, core.IsExecutionFailed(err))
	assert.Contains(t, err.Error(), "persist result")
}

func TestExecutor_TaskBudget(t *testing.T) {
	mock := backend.NewMock()
	mock.AddResponse("emc_scan", `{"pass": true}`)

	store := newMemTaskStore()
	rc, drain := newStepContext(2, store)
	exec := New(mock, func(o *Options) { o.EffectIDs = seqEffectIDs() })

	scan := newScanTask(t, nil)

	_, err := exec.Execute(rc, scan, nil)
	assert.NoError(t, err)
	_, err = exec.Execute(rc, scan, nil)
	assert.NoError(t, err)

	_, err = exec.Execute(rc, scan, nil)
	events := drain()

	assert.ErrorIs(t, err, core.ErrTaskLimit)

	// The rejected dispatch never allocated an effect id or emitted events
	assert.Len(t, events, 4)
	ids, _ := store.List("run-1")
	assert.Equal(t, []string{"ef-1", "ef-2"}, ids)
}

func TestExecutor_BuilderConfigError(t *testing.T) {
	mock := backend.NewMock()
	store := newMemTaskStore()
	rc, drain := newStepContext(0, store)
	exec := New(mock, func(o *Options) { o.EffectIDs = seqEffectIDs() })

	reg := task.NewRegistry()
	broken := reg.MustDefine("broken", func(_ map[string]any, _ core.TaskContext) (*core.Descriptor, error) {
		return &core.Descriptor{}, nil // missing agent name and prompt
	})

	_, err := exec.Execute(rc, broken, nil)
	events := drain()

	assert.Error(t, err)
	assert.True(t, core.IsConfig(err))
	assert.Empty(t, events, "nothing dispatched for a descriptor that fails validation")

	ids, _ := store.List("run-1")
	assert.Empty(t, ids)
}

// -------------------- Response Normalization Tests --------------------

func TestExecutor_RepairsFencedResponse(t *testing.T) {
	mock := backend.NewMock()
	mock.AddResponse("emc_scan", "```json\n{\"pass\": true}\n```")

	store := newMemTaskStore()
	rc, drain := newStepContext(0, store)
	exec := New(mock, func(o *Options) { o.EffectIDs = seqEffectIDs() })

	result, err := exec.Execute(rc, newScanTask(t, scanSchema), nil)
	drain()

	assert.NoError(t, err)
	assert.True(t, result.Bool("pass"))
}

func TestExecutor_RepairsAlmostJSON(t *testing.T) {
	mock := backend.NewMock()
	mock.AddResponse("emc_scan", `{"pass": true, "peaks": [],}`)

	store := newMemTaskStore()
	rc, drain := newStepContext(0, store)
	exec := New(mock, func(o *Options) { o.EffectIDs = seqEffectIDs() })

	result, err := exec.Execute(rc, newScanTask(t, scanSchema), nil)
	drain()

	assert.NoError(t, err)
	assert.True(t, result.Bool("pass"))
}

func TestExecutor_ProvenanceReachesBackend(t *testing.T) {
	mock := backend.NewMock()
	mock.AddResponse("emc_scan", `{"pass": true}`)

	store := newMemTaskStore()
	rc, drain := newStepContext(0, store)
	exec := New(mock, func(o *Options) { o.EffectIDs = seqEffectIDs() })

	_, err := exec.Execute(rc, newScanTask(t, nil), nil)
	drain()
	assert.NoError(t, err)

	reqs := mock.Requests()
	assert.Len(t, reqs, 1)
	assert.Equal(t, "run-1", reqs[0].Prompt.Context["run_id"])
	assert.Equal(t, "emc_qualification", reqs[0].Prompt.Context["process"])
}
