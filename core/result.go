package core

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/tidwall/gjson"
)

// Result is the schema-validated output of a single task step. The raw bytes
// are exactly what was persisted as the step's result document, so path
// lookups and typed decoding both operate on the canonical representation.
type Result struct {
	task     string
	effectID string
	raw      []byte
	data     map[string]any
}

// NewResult wraps validated result bytes. It fails if the payload is not a
// JSON object, which the schema validation upstream should already guarantee.
func NewResult(task, effectID string, raw []byte) (*Result, error) {
	var data map[string]any
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("result for task %q is not a JSON object: %w", task, err)
	}

	return &Result{task: task, effectID: effectID, raw: raw, data: data}, nil
}

// Task returns the name of the task that produced this result.
func (r *Result) Task() string { return r.task }

// EffectID returns the step identity the result was persisted under.
func (r *Result) EffectID() string { return r.effectID }

// Raw returns the canonical result bytes.
func (r *Result) Raw() []byte { return r.raw }

// Map returns a shallow copy of the decoded result object.
func (r *Result) Map() map[string]any {
	out := make(map[string]any, len(r.data))
	for k, v := range r.data {
		out[k] = v
	}

	return out
}

// Get returns the value at a gjson path (e.g. "scan.results.0.frequency").
func (r *Result) Get(path string) gjson.Result { return gjson.GetBytes(r.raw, path) }

// Exists reports whether a value is present at the given path.
func (r *Result) Exists(path string) bool { return r.Get(path).Exists() }

// String returns the string value at path, or "" when absent.
func (r *Result) String(path string) string { return r.Get(path).String() }

// Float returns the numeric value at path, or 0 when absent.
func (r *Result) Float(path string) float64 { return r.Get(path).Float() }

// Int returns the integer value at path, or 0 when absent.
func (r *Result) Int(path string) int64 { return r.Get(path).Int() }

// Bool returns the boolean value at path, or false when absent.
func (r *Result) Bool(path string) bool { return r.Get(path).Bool() }

// Success reports the conventional "success" field. Results without the field
// are treated as successful; tasks that model failure must say so explicitly.
func (r *Result) Success() bool {
	v := r.Get("success")
	if !v.Exists() {
		return true
	}

	return v.Bool()
}

// Artifacts decodes the conventional "artifacts" field when present.
func (r *Result) Artifacts() []Artifact {
	v := r.Get("artifacts")
	if !v.Exists() {
		return nil
	}

	var artifacts []Artifact
	if err := json.Unmarshal([]byte(v.Raw), &artifacts); err != nil {
		return nil
	}

	return artifacts
}

// Decode unmarshals the result into a typed value.
func (r *Result) Decode(v any) error { return json.Unmarshal(r.raw, v) }

// RunResult is the final envelope of a completed run: overall success, domain
// output returned by the process function, the collected artifact references
// and run-level metadata.
type RunResult struct {
	Success    bool           `json:"success"`
	Output     map[string]any `json:"output,omitempty"`
	Error      string         `json:"error,omitempty"`
	ErrorCode  string         `json:"error_code,omitempty"`
	FailedTask string         `json:"failed_task,omitempty"`
	Artifacts  []Artifact     `json:"artifacts,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Duration   time.Duration  `json:"duration"`
	Finished   time.Time      `json:"finished"`
}

// DurationSeconds returns the run duration as fractional seconds, convenient
// for metrics and serialization to clients without Go duration semantics.
func (r *RunResult) DurationSeconds() float64 { return r.Duration.Seconds() }
