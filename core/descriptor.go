package core

import "path"

// KindAgent is the only descriptor kind currently produced: a prompted call
// into an agent backend. The Kind field exists so future variants (human-only
// checklists, pure computations) can share the persistence pipeline.
const KindAgent = "agent"

// Prompt is the structured instruction block handed to the agent backend.
// Builders assemble it from task arguments; the backend adapter flattens it
// into whatever wire format the provider expects.
type Prompt struct {
	Role         string         `json:"role,omitempty"`
	Task         string         `json:"task"`
	Context      map[string]any `json:"context,omitempty"`
	Instructions []string       `json:"instructions,omitempty"`
	OutputFormat string         `json:"outputFormat,omitempty"`
}

// AgentSpec names the agent persona and carries its prompt plus the JSON
// schema the response must conform to.
type AgentSpec struct {
	Name         string         `json:"name"`
	Prompt       Prompt         `json:"prompt"`
	OutputSchema map[string]any `json:"outputSchema,omitempty"`
}

// IOSpec declares where the step's input and result documents are persisted,
// relative to the run workspace.
type IOSpec struct {
	InputPath  string `json:"inputJsonPath"`
	OutputPath string `json:"outputJsonPath"`
}

// Descriptor is the declarative work order for one step. It is produced by a
// task builder, persisted alongside the step input and interpreted by the
// step executor. After construction it should be treated as immutable.
type Descriptor struct {
	Kind   string    `json:"kind"`
	Title  string    `json:"title"`
	Agent  AgentSpec `json:"agent"`
	IO     IOSpec    `json:"io"`
	Labels []string  `json:"labels,omitempty"`
}

// Validate checks structural completeness. Violations are configuration
// errors: a builder that emits a malformed descriptor is broken code, not a
// runtime condition to retry.
func (d *Descriptor) Validate() error {
	if d.Kind != KindAgent {
		return NewConfigError("descriptor", "unsupported kind %q", d.Kind)
	}

	if d.Title == "" {
		return NewConfigError("descriptor", "title must not be empty")
	}

	if d.Agent.Name == "" {
		return NewConfigError("descriptor", "agent name must not be empty")
	}

	if d.Agent.Prompt.Task == "" {
		return NewConfigError("descriptor", "prompt task must not be empty")
	}

	if d.IO.InputPath == "" || d.IO.OutputPath == "" {
		return NewConfigError("descriptor", "io paths must not be empty")
	}

	return nil
}

// DefaultInputPath returns the conventional input location for an effect id.
func DefaultInputPath(effectID string) string {
	return path.Join("tasks", effectID, "input.json")
}

// DefaultOutputPath returns the conventional result location for an effect id.
func DefaultOutputPath(effectID string) string {
	return path.Join("tasks", effectID, "result.json")
}
