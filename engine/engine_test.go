package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/hupe1980/taskmesh/backend"
	"github.com/hupe1980/taskmesh/core"
	"github.com/hupe1980/taskmesh/gate"
	"github.com/hupe1980/taskmesh/internal/testutil"
	"github.com/hupe1980/taskmesh/process"
	"github.com/hupe1980/taskmesh/step"
	"github.com/hupe1980/taskmesh/task"
	"github.com/stretchr/testify/assert"
)

func seqEffectIDs() func() string {
	var n int
	return func() string {
		n++
		return fmt.Sprintf("ef-%d", n)
	}
}

type harness struct {
	engine *Engine
	mock   *backend.Mock
	tasks  *task.Registry
}

func newHarness(t *testing.T, optFns ...func(o *Options)) *harness {
	t.Helper()

	mock := backend.NewMock()
	exec := step.New(mock, func(o *step.Options) { o.EffectIDs = seqEffectIDs() })

	all := append([]func(o *Options){func(o *Options) {
		o.Executor = exec
	}}, optFns...)

	return &harness{
		engine: New(all...),
		mock:   mock,
		tasks:  task.NewRegistry(),
	}
}

func (h *harness) scanTask(t *testing.T) core.Task {
	t.Helper()

	def, err := h.tasks.Define("emc_scan", func(args map[string]any, tc core.TaskContext) (*core.Descriptor, error) {
		return &core.Descriptor{
			Agent: core.AgentSpec{
				Name: "emc-analyzer",
				Prompt: core.Prompt{
					Task: "Scan the DUT for radiated emissions.",
				},
				OutputSchema: map[string]any{
					"type": "object",
					"properties": map[string]any{
						"pass":      map[string]any{"type": "boolean"},
						"margin_db": map[string]any{"type": "number"},
					},
					"required": []string{"pass"},
				},
			},
		}, nil
	})
	if err != nil {
		t.Fatalf("define emc_scan: %v", err)
	}

	return def
}

func (h *harness) reportTask(t *testing.T) core.Task {
	t.Helper()

	def, err := h.tasks.Define("emc_report", func(args map[string]any, tc core.TaskContext) (*core.Descriptor, error) {
		return &core.Descriptor{
			Agent: core.AgentSpec{
				Name:   "report-writer",
				Prompt: core.Prompt{Task: "Summarize the scan."},
			},
		}, nil
	})
	if err != nil {
		t.Fatalf("define emc_report: %v", err)
	}

	return def
}

// collectEvents drains an event channel in the background.
func collectEvents(eventsCh <-chan core.Event) (func() []core.Event, <-chan struct{}) {
	var (
		mu     sync.Mutex
		events []core.Event
	)
	done := make(chan struct{})

	go func() {
		defer close(done)
		for ev := range eventsCh {
			mu.Lock()
			events = append(events, ev)
			mu.Unlock()
		}
	}()

	return func() []core.Event {
		mu.Lock()
		defer mu.Unlock()
		out := make([]core.Event, len(events))
		copy(out, events)
		return out
	}, done
}

func eventKinds(events []core.Event) []core.EventKind {
	kinds := make([]core.EventKind, len(events))
	for i, ev := range events {
		kinds[i] = ev.Kind
	}
	return kinds
}

// -------------------- Registry Tests --------------------

func TestEngine_Register(t *testing.T) {
	h := newHarness(t)

	p := process.MustNew("emc_qualification", func(rc *core.RunContext) (map[string]any, error) {
		return nil, nil
	})

	assert.NoError(t, h.engine.Register(p))
	assert.Equal(t, []string{"emc_qualification"}, h.engine.Processes())

	err := h.engine.Register(p)
	assert.True(t, core.IsConfig(err))
	assert.Contains(t, err.Error(), "already registered")

	assert.True(t, core.IsConfig(h.engine.Register(nil)))
}

func TestEngine_StartUnknownProcess(t *testing.T) {
	h := newHarness(t)

	_, _, _, err := h.engine.Start(context.Background(), "missing", nil)
	assert.ErrorIs(t, err, core.ErrProcessNotFound)
}

// -------------------- Run Lifecycle Tests --------------------

func TestEngine_SuccessfulRun(t *testing.T) {
	h := newHarness(t)
	scan := h.scanTask(t)
	h.mock.AddResponse("emc_scan", `{"pass": true, "margin_db": 4.5}`)

	p := process.MustNew("emc_qualification", func(rc *core.RunContext) (map[string]any, error) {
		res, err := rc.Task(scan, map[string]any{"band": "VHF"})
		if err != nil {
			return nil, err
		}
		return map[string]any{"verdict": "pass", "margin_db": res.Float("margin_db")}, nil
	}, process.WithTasks(scan))
	assert.NoError(t, h.engine.Register(p))

	run, events, err := h.engine.StartSync(context.Background(), "emc_qualification", map[string]any{"dut": "DUT-7"})
	assert.NoError(t, err)

	assert.Equal(t, core.RunStatusCompleted, run.GetStatus())
	assert.Equal(t, []core.EventKind{
		core.EventRunStarted,
		core.EventStepStarted,
		core.EventStepCompleted,
		core.EventRunCompleted,
	}, eventKinds(events))

	result := run.GetResult()
	assert.NotNil(t, result)
	assert.True(t, result.Success)
	assert.Equal(t, "pass", result.Output["verdict"])
	assert.Equal(t, 4.5, result.Output["margin_db"])
	assert.Greater(t, result.DurationSeconds(), float64(0))

	// Step record persisted with terminal state
	stepRec, ok := run.Step("ef-1")
	assert.True(t, ok)
	assert.Equal(t, core.StepStatusCompleted, stepRec.Status)
	assert.Equal(t, "emc_scan", stepRec.Task)
}

func TestEngine_SequentialStepOrdering(t *testing.T) {
	h := newHarness(t)
	scan := h.scanTask(t)
	report := h.reportTask(t)
	h.mock.AddResponse("emc_scan", `{"pass": true}`)
	h.mock.AddResponse("emc_report", `{"summary": "clean"}`)

	p := process.MustNew("emc_qualification", func(rc *core.RunContext) (map[string]any, error) {
		if _, err := rc.Task(scan, nil); err != nil {
			return nil, err
		}
		if _, err := rc.Task(report, nil); err != nil {
			return nil, err
		}
		return map[string]any{"done": true}, nil
	}, process.WithTasks(scan, report))
	assert.NoError(t, h.engine.Register(p))

	run, events, err := h.engine.StartSync(context.Background(), "emc_qualification", nil)
	assert.NoError(t, err)
	assert.Equal(t, core.RunStatusCompleted, run.GetStatus())

	assert.Equal(t, []core.EventKind{
		core.EventRunStarted,
		core.EventStepStarted,
		core.EventStepCompleted,
		core.EventStepStarted,
		core.EventStepCompleted,
		core.EventRunCompleted,
	}, eventKinds(events))

	// Second step was not dispatched before the first finished
	assert.Equal(t, "emc_scan", events[1].Step.Task)
	assert.Equal(t, "emc_report", events[3].Step.Task)
	assert.Equal(t, 2, run.StepCount())
}

func TestEngine_RunFailure(t *testing.T) {
	h := newHarness(t)
	scan := h.scanTask(t)
	h.mock.FailWith("emc_scan", errors.New("analyzer unreachable"))

	p := process.MustNew("emc_qualification", func(rc *core.RunContext) (map[string]any, error) {
		if _, err := rc.Task(scan, nil); err != nil {
			return nil, err
		}
		return map[string]any{}, nil
	}, process.WithTasks(scan))
	assert.NoError(t, h.engine.Register(p))

	run, events, err := h.engine.StartSync(context.Background(), "emc_qualification", nil)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "analyzer unreachable")

	assert.Equal(t, core.RunStatusFailed, run.GetStatus())

	result := run.GetResult()
	assert.NotNil(t, result)
	assert.False(t, result.Success)
	assert.Equal(t, core.ErrCodeExecution, result.ErrorCode)
	assert.Equal(t, "emc_scan", result.FailedTask)

	kinds := eventKinds(events)
	assert.Equal(t, core.EventStepFailed, kinds[len(kinds)-2])
	assert.Equal(t, core.EventRunFailed, kinds[len(kinds)-1])
}

func TestEngine_TaskBudget(t *testing.T) {
	h := newHarness(t, func(o *Options) {
		o.Config = Config{MaxTaskCalls: 1, EventBufferSize: 16}
	})
	scan := h.scanTask(t)
	h.mock.AddResponse("emc_scan", `{"pass": true}`)

	p := process.MustNew("emc_qualification", func(rc *core.RunContext) (map[string]any, error) {
		if _, err := rc.Task(scan, nil); err != nil {
			return nil, err
		}
		if _, err := rc.Task(scan, nil); err != nil {
			return nil, err
		}
		return map[string]any{}, nil
	}, process.WithTasks(scan))
	assert.NoError(t, h.engine.Register(p))

	run, _, err := h.engine.StartSync(context.Background(), "emc_qualification", nil)
	assert.ErrorIs(t, err, core.ErrTaskLimit)
	assert.Equal(t, core.RunStatusFailed, run.GetStatus())
	assert.Equal(t, core.ErrCodeConfiguration, run.GetResult().ErrorCode)
	// The budgeted dispatch never allocated a step
	assert.Equal(t, 1, run.StepCount())
}

func TestEngine_MetadataAndArtifacts(t *testing.T) {
	h := newHarness(t)
	scan := h.scanTask(t)
	h.mock.AddResponse("emc_scan", testutil.NewPayload().
		Set("pass", true).
		Set("emissions.worst.margin_db", 2.1).
		Artifact("sweeps/peaks.json", "json", "per-peak emission levels").
		Build(t))

	p := process.MustNew("emc_qualification", func(rc *core.RunContext) (map[string]any, error) {
		rc.SetMeta("standard", "CISPR 32")

		res, err := rc.Task(scan, nil)
		if err != nil {
			return nil, err
		}

		for _, a := range res.Artifacts() {
			rc.AddArtifact(a)
		}

		if err := rc.SaveArtifact(core.Artifact{Path: "scan.csv", Format: "csv"}, []byte("freq,level\n")); err != nil {
			return nil, err
		}

		// Staged after the last emitted event, folded into the envelope
		rc.SetMeta("worst_margin_db", res.Float("emissions.worst.margin_db"))

		return map[string]any{"pass": true}, nil
	}, process.WithTasks(scan))
	assert.NoError(t, h.engine.Register(p))

	run, _, err := h.engine.StartSync(context.Background(), "emc_qualification", nil)
	assert.NoError(t, err)

	standard, ok := run.GetMetadata("standard")
	assert.True(t, ok)
	assert.Equal(t, "CISPR 32", standard)

	result := run.GetResult()
	assert.Equal(t, 2.1, result.Metadata["worst_margin_db"])
	assert.Len(t, result.Artifacts, 2)
	assert.Equal(t, "sweeps/peaks.json", result.Artifacts[0].Path)
	assert.Equal(t, "scan.csv", result.Artifacts[1].Path)
}

// -------------------- Breakpoint Tests --------------------

func TestEngine_BreakpointSuspendsRun(t *testing.T) {
	manual := gate.NewManual()
	h := newHarness(t, func(o *Options) { o.Approver = manual })

	p := process.MustNew("emc_qualification", func(rc *core.RunContext) (map[string]any, error) {
		res, err := rc.Breakpoint(core.BreakpointSpec{
			Title:    "Review scan results",
			Question: "Accept margins per CISPR 32?",
		})
		if err != nil {
			return nil, err
		}
		return map[string]any{"approved": res.Approved, "reviewer": res.ResolvedBy}, nil
	})
	assert.NoError(t, h.engine.Register(p))

	runID, eventsCh, _, err := h.engine.Start(context.Background(), "emc_qualification", nil)
	assert.NoError(t, err)

	getEvents, done := collectEvents(eventsCh)

	// Run suspends with the pending breakpoint persisted
	assert.Eventually(t, func() bool {
		return len(manual.Pending()) == 1
	}, time.Second, 5*time.Millisecond)

	run, err := h.engine.GetRun(runID)
	assert.NoError(t, err)
	assert.Equal(t, core.RunStatusAwaitingApproval, run.GetStatus())
	pending, ok := run.PendingBreakpoint()
	assert.True(t, ok)
	assert.Equal(t, "Review scan results", pending.Title)

	assert.NoError(t, manual.Approve(manual.Pending()[0].ID, "j.doe", "margins acceptable"))

	<-done

	run, err = h.engine.GetRun(runID)
	assert.NoError(t, err)
	assert.Equal(t, core.RunStatusCompleted, run.GetStatus())
	assert.Equal(t, true, run.GetResult().Output["approved"])
	assert.Equal(t, "j.doe", run.GetResult().Output["reviewer"])

	// The breakpoint record carries its resolution
	_, stillPending := run.PendingBreakpoint()
	assert.False(t, stillPending)

	kinds := eventKinds(getEvents())
	assert.Contains(t, kinds, core.EventBreakpointRaised)
	assert.Contains(t, kinds, core.EventBreakpointResolved)
}

func TestEngine_BreakpointRejectionIsAdvisory(t *testing.T) {
	reject := gate.Func(func(ctx context.Context, req *core.BreakpointRequest) (*core.Resolution, error) {
		return &core.Resolution{Approved: false, Note: "margins too tight", ResolvedBy: "j.doe"}, nil
	})
	h := newHarness(t, func(o *Options) { o.Approver = reject })

	p := process.MustNew("emc_qualification", func(rc *core.RunContext) (map[string]any, error) {
		res, err := rc.Breakpoint(core.BreakpointSpec{Title: "Review scan results"})
		if err != nil {
			return nil, err
		}
		if !res.Approved {
			// Advisory gate: the process decides what rejection means
			return map[string]any{"verdict": "needs_rework", "note": res.Note}, nil
		}
		return map[string]any{"verdict": "pass"}, nil
	})
	assert.NoError(t, h.engine.Register(p))

	run, _, err := h.engine.StartSync(context.Background(), "emc_qualification", nil)
	assert.NoError(t, err)
	assert.Equal(t, core.RunStatusCompleted, run.GetStatus())
	assert.Equal(t, "needs_rework", run.GetResult().Output["verdict"])
	assert.Equal(t, "margins too tight", run.GetResult().Output["note"])
}

// -------------------- Cancellation Tests --------------------

func TestEngine_Cancel(t *testing.T) {
	manual := gate.NewManual()
	h := newHarness(t, func(o *Options) { o.Approver = manual })

	p := process.MustNew("emc_qualification", func(rc *core.RunContext) (map[string]any, error) {
		if _, err := rc.Breakpoint(core.BreakpointSpec{Title: "Review scan results"}); err != nil {
			return nil, err
		}
		return map[string]any{}, nil
	})
	assert.NoError(t, h.engine.Register(p))

	runID, eventsCh, _, err := h.engine.Start(context.Background(), "emc_qualification", nil)
	assert.NoError(t, err)

	_, done := collectEvents(eventsCh)

	assert.Eventually(t, func() bool {
		return len(manual.Pending()) == 1
	}, time.Second, 5*time.Millisecond)

	assert.NoError(t, h.engine.Cancel(runID))

	<-done

	run, err := h.engine.GetRun(runID)
	assert.NoError(t, err)
	assert.Equal(t, core.RunStatusCancelled, run.GetStatus())
	assert.Equal(t, core.ErrCodeCancelled, run.GetResult().ErrorCode)

	// Finished runs are no longer cancellable
	assert.Error(t, h.engine.Cancel(runID))
}

func TestEngine_MaxConcurrentRuns(t *testing.T) {
	manual := gate.NewManual()
	h := newHarness(t, func(o *Options) {
		o.Approver = manual
		o.Config = Config{MaxConcurrentRuns: 1, EventBufferSize: 16}
	})

	p := process.MustNew("emc_qualification", func(rc *core.RunContext) (map[string]any, error) {
		if _, err := rc.Breakpoint(core.BreakpointSpec{Title: "Hold"}); err != nil {
			return nil, err
		}
		return map[string]any{}, nil
	})
	assert.NoError(t, h.engine.Register(p))

	runID, eventsCh, _, err := h.engine.Start(context.Background(), "emc_qualification", nil)
	assert.NoError(t, err)
	_, done := collectEvents(eventsCh)

	assert.Eventually(t, func() bool {
		return len(manual.Pending()) == 1
	}, time.Second, 5*time.Millisecond)

	_, _, _, err = h.engine.Start(context.Background(), "emc_qualification", nil)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "max concurrent runs")

	assert.NoError(t, h.engine.Cancel(runID))
	<-done

	// Capacity is released once the first run finished
	var thirdRun string
	assert.Eventually(t, func() bool {
		id, _, _, err := h.engine.Start(context.Background(), "emc_qualification", nil)
		if err != nil {
			return false
		}
		thirdRun = id
		return true
	}, time.Second, 5*time.Millisecond)

	assert.NoError(t, h.engine.Cancel(thirdRun))
}

// -------------------- Hook Tests --------------------

func TestEngine_BeforeRunHookVeto(t *testing.T) {
	h := newHarness(t, func(o *Options) {
		o.Hooks = []Hook{
			NewFuncHook(HookBeforeRun, func(ctx context.Context, hc *HookContext) error {
				return errors.New("maintenance window")
			}),
		}
	})

	p := process.MustNew("emc_qualification", func(rc *core.RunContext) (map[string]any, error) {
		return map[string]any{}, nil
	})
	assert.NoError(t, h.engine.Register(p))

	_, _, _, err := h.engine.Start(context.Background(), "emc_qualification", nil)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "maintenance window")

	// A vetoed run leaves no record behind
	runs, err := h.engine.ListRuns(core.RunFilter{})
	assert.NoError(t, err)
	assert.Empty(t, runs)
}

func TestEngine_MetaValidationHookCancelsRun(t *testing.T) {
	h := newHarness(t, func(o *Options) {
		o.Hooks = []Hook{
			NewMetaValidationHook(func(delta map[string]any) error {
				if _, ok := delta["classified"]; ok {
					return errors.New("classified keys are not allowed")
				}
				return nil
			}),
		}
	})

	p := process.MustNew("emc_qualification", func(rc *core.RunContext) (map[string]any, error) {
		rc.SetMeta("classified", true)
		rc.Log("recording restricted metadata")
		// Cancellation lands on the next suspension point
		if err := rc.Err(); err != nil {
			return nil, err
		}
		return map[string]any{}, nil
	})
	assert.NoError(t, h.engine.Register(p))

	run, _, err := h.engine.StartSync(context.Background(), "emc_qualification", nil)
	assert.NoError(t, err)
	assert.Equal(t, core.RunStatusCancelled, run.GetStatus())
}

// -------------------- Query Tests --------------------

func TestEngine_ListRuns(t *testing.T) {
	h := newHarness(t)
	scan := h.scanTask(t)
	h.mock.AddResponse("emc_scan", `{"pass": true}`)

	p := process.MustNew("emc_qualification", func(rc *core.RunContext) (map[string]any, error) {
		if _, err := rc.Task(scan, nil); err != nil {
			return nil, err
		}
		return map[string]any{}, nil
	}, process.WithTasks(scan))
	assert.NoError(t, h.engine.Register(p))

	for i := 0; i < 3; i++ {
		_, _, err := h.engine.StartSync(context.Background(), "emc_qualification", nil)
		assert.NoError(t, err)
	}

	runs, err := h.engine.ListRuns(core.RunFilter{Process: "emc_qualification"})
	assert.NoError(t, err)
	assert.Len(t, runs, 3)

	limited, err := h.engine.ListRuns(core.RunFilter{Limit: 2})
	assert.NoError(t, err)
	assert.Len(t, limited, 2)
}
