package task

import (
	"fmt"

	"github.com/hupe1980/taskmesh/core"
	"github.com/hupe1980/taskmesh/internal/util"
)

// Definition is a registered task: a named, reusable builder of step
// descriptors.
//
// Responsibilities:
//   - Optionally validates caller arguments against a JSON-Schema-like map
//     before the builder runs
//   - Applies descriptor defaults (kind, title, conventional IO paths) so
//     builders only state what is specific to the task
//   - Renders Go template placeholders ({{.param}}) in prompt text against
//     the call arguments
//   - Validates the final descriptor, surfacing violations as ConfigError
//
// Concurrency:
//
//	A Definition has no mutable state after construction and is safe for
//	concurrent use by multiple goroutines.
type Definition struct {
	// Task identifier (snake_case recommended)
	name string
	// Human-readable description of the work the task performs
	description string
	// Labels merged into every descriptor the task builds
	labels []string
	// Optional JSON schema validated against the call arguments
	argsSchema map[string]any
	// User supplied descriptor builder
	builder Builder
}

func newDefinition(name string, builder Builder, opts ...Option) *Definition {
	def := &Definition{name: name, builder: builder}

	for _, opt := range opts {
		opt(def)
	}

	return def
}

// Option customizes a Definition at registration time.
type Option func(*Definition)

// WithDescription sets the human-readable task description.
func WithDescription(description string) Option {
	return func(d *Definition) { d.description = description }
}

// WithLabels appends labels merged into every built descriptor.
func WithLabels(labels ...string) Option {
	return func(d *Definition) { d.labels = append(d.labels, labels...) }
}

// WithArgsSchema declares a JSON schema the call arguments must satisfy
// before the builder runs.
func WithArgsSchema(schema map[string]any) Option {
	return func(d *Definition) { d.argsSchema = schema }
}

// WithArgsStruct derives the argument schema from a struct using reflection.
// It produces a schema equivalent to SchemaFromStruct(structType).
func WithArgsStruct(structType any) Option {
	return func(d *Definition) { d.argsSchema = util.CreateSchema(structType) }
}

// SchemaFromStruct derives a JSON schema from a Go struct using reflection.
// Convenient for declaring descriptor output schemas from typed results:
//
//	type ScanOutput struct {
//		Results []ScanRow `json:"results" description:"Detected emission peaks"`
//		Pass    bool      `json:"pass"`
//	}
//
//	OutputSchema: task.SchemaFromStruct(ScanOutput{})
func SchemaFromStruct(structType any) map[string]any {
	return util.CreateSchema(structType)
}

// Name returns the unique task name used in step records and persistence paths.
func (d *Definition) Name() string { return d.name }

// Description returns the short natural language description of the task.
func (d *Definition) Description() string { return d.description }

// ArgsSchema returns the declared argument schema, nil when unset.
func (d *Definition) ArgsSchema() map[string]any { return d.argsSchema }

// Build materializes the step descriptor for one dispatch. Arguments are
// validated first, then the builder runs, then defaults and template
// rendering are applied before final validation.
func (d *Definition) Build(args map[string]any, tc core.TaskContext) (*core.Descriptor, error) {
	if d.argsSchema != nil {
		if err := util.ValidateParameters(args, d.argsSchema); err != nil {
			return nil, fmt.Errorf("task %q: invalid arguments: %w", d.name, err)
		}
	}

	desc, err := d.builder(args, tc)
	if err != nil {
		return nil, fmt.Errorf("task %q: build: %w", d.name, err)
	}

	if desc == nil {
		return nil, core.NewConfigError("task", "builder for %q returned no descriptor", d.name)
	}

	d.applyDefaults(desc, tc)

	if err := renderPrompt(&desc.Agent.Prompt, args); err != nil {
		return nil, fmt.Errorf("task %q: render prompt: %w", d.name, err)
	}

	if err := desc.Validate(); err != nil {
		return nil, fmt.Errorf("task %q: %w", d.name, err)
	}

	return desc, nil
}

func (d *Definition) applyDefaults(desc *core.Descriptor, tc core.TaskContext) {
	if desc.Kind == "" {
		desc.Kind = core.KindAgent
	}

	if desc.Title == "" {
		desc.Title = d.name
	}

	if desc.IO.InputPath == "" {
		desc.IO.InputPath = core.DefaultInputPath(tc.EffectID)
	}

	if desc.IO.OutputPath == "" {
		desc.IO.OutputPath = core.DefaultOutputPath(tc.EffectID)
	}

	if len(d.labels) > 0 {
		desc.Labels = mergeLabels(desc.Labels, d.labels)
	}
}

// renderPrompt expands {{.param}} placeholders in all prompt text fields.
func renderPrompt(p *core.Prompt, args map[string]any) error {
	var err error

	if p.Task, err = util.RenderTemplate(p.Task, args); err != nil {
		return err
	}

	if p.Role, err = util.RenderTemplate(p.Role, args); err != nil {
		return err
	}

	if p.OutputFormat, err = util.RenderTemplate(p.OutputFormat, args); err != nil {
		return err
	}

	for i, instr := range p.Instructions {
		if p.Instructions[i], err = util.RenderTemplate(instr, args); err != nil {
			return err
		}
	}

	return nil
}

func mergeLabels(existing, extra []string) []string {
	seen := make(map[string]bool, len(existing)+len(extra))
	merged := make([]string, 0, len(existing)+len(extra))

	for _, l := range append(existing, extra...) {
		if seen[l] {
			continue
		}

		seen[l] = true
		merged = append(merged, l)
	}

	return merged
}
