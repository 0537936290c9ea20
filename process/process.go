package process

import (
	"fmt"

	"github.com/hupe1980/taskmesh/core"
)

// Func is the entry function of a process. It drives the run on a single
// logical thread: dispatching tasks, raising breakpoints and finally
// returning the domain output that the engine merges into the run's final
// envelope. Returning an error fails the run.
type Func func(rc *core.RunContext) (map[string]any, error)

// Definition couples a process name with its entry function and the tasks
// the function may dispatch. It implements core.Process. Construct via New,
// which validates the task set once at wiring time.
type Definition struct {
	name        string
	description string
	fn          Func
	tasks       []core.Task
}

// Option customizes a Definition during construction.
type Option func(*Definition)

// WithDescription sets a human-readable description of the process purpose.
func WithDescription(desc string) Option {
	return func(d *Definition) { d.description = desc }
}

// WithTasks declares the tasks the process body may dispatch. Task names
// must be unique within one process.
func WithTasks(tasks ...core.Task) Option {
	return func(d *Definition) { d.tasks = append(d.tasks, tasks...) }
}

// New constructs a validated process definition. Empty names, missing entry
// functions and duplicate task names are configuration errors and fail fast.
func New(name string, fn Func, optFns ...Option) (*Definition, error) {
	if name == "" {
		return nil, core.NewConfigError("process", "name must not be empty")
	}
	if fn == nil {
		return nil, core.NewConfigError("process", "process %q: run function must not be nil", name)
	}

	d := &Definition{
		name:        name,
		description: fmt.Sprintf("Process %s", name),
		fn:          fn,
	}

	for _, fn := range optFns {
		fn(d)
	}

	seen := make(map[string]struct{}, len(d.tasks))
	for i, task := range d.tasks {
		if task == nil {
			return nil, core.NewConfigError("process", "process %q: task %d is nil", name, i)
		}
		if _, dup := seen[task.Name()]; dup {
			return nil, core.NewConfigError("process", "process %q: task %q declared twice", name, task.Name())
		}
		seen[task.Name()] = struct{}{}
	}

	return d, nil
}

// MustNew is like New but panics on error. Intended for wiring at program
// start where a broken definition should abort immediately.
func MustNew(name string, fn Func, optFns ...Option) *Definition {
	d, err := New(name, fn, optFns...)
	if err != nil {
		panic(err)
	}

	return d
}

// Name returns the process name.
func (d *Definition) Name() string { return d.name }

// Description returns the human-readable process description.
func (d *Definition) Description() string { return d.description }

// Tasks returns the declared task set.
func (d *Definition) Tasks() []core.Task {
	out := make([]core.Task, len(d.tasks))
	copy(out, d.tasks)

	return out
}

// Run executes the entry function.
func (d *Definition) Run(rc *core.RunContext) (map[string]any, error) {
	return d.fn(rc)
}
