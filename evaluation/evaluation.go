// Package evaluation provides post-run checks over completed run records.
// Tests and CI pipelines use it to assert that a process run behaved as
// expected without poking through the record by hand.
package evaluation

import (
	"fmt"
	"time"

	"github.com/hupe1980/taskmesh/core"
)

// Expectation declares what a finished run must look like. Zero values mean
// the corresponding check is skipped.
type Expectation struct {
	// RequireSuccess demands a successful final envelope.
	RequireSuccess bool

	// RequireArtifacts lists artifact paths the run record must reference.
	RequireArtifacts []string

	// RequireMetadataKeys lists metadata keys the run must carry.
	RequireMetadataKeys []string

	// MaxDuration bounds the run duration. Zero disables the check.
	MaxDuration time.Duration
}

// Result reports the outcome of an evaluation. Failures holds one message per
// violated expectation, in check order.
type Result struct {
	Passed   bool
	Failures []string
}

// Evaluator judges a completed run record.
type Evaluator interface {
	Evaluate(run *core.Run) (*Result, error)
}

// ExpectationEvaluator checks a run against a declarative Expectation.
type ExpectationEvaluator struct {
	expectation Expectation
}

// NewExpectationEvaluator creates an evaluator for the given expectation.
func NewExpectationEvaluator(expectation Expectation) *ExpectationEvaluator {
	return &ExpectationEvaluator{expectation: expectation}
}

// Evaluate runs every configured check against the run record. A run that is
// still in flight (no final envelope) cannot be evaluated and yields an
// error; violated expectations yield a Result with Passed=false instead.
func (e *ExpectationEvaluator) Evaluate(run *core.Run) (*Result, error) {
	if run == nil {
		return nil, fmt.Errorf("evaluate: run is nil")
	}

	result := run.GetResult()
	if result == nil {
		return nil, fmt.Errorf("evaluate: run %s has no final result", run.ID)
	}

	var failures []string

	if e.expectation.RequireSuccess && !result.Success {
		failures = append(failures, fmt.Sprintf("expected success, run failed (%s: %s)", result.ErrorCode, result.Error))
	}

	if len(e.expectation.RequireArtifacts) > 0 {
		present := make(map[string]bool)
		for _, a := range run.GetArtifacts() {
			present[a.Path] = true
		}

		for _, path := range e.expectation.RequireArtifacts {
			if !present[path] {
				failures = append(failures, fmt.Sprintf("missing artifact %q", path))
			}
		}
	}

	for _, key := range e.expectation.RequireMetadataKeys {
		if _, ok := run.GetMetadata(key); !ok {
			failures = append(failures, fmt.Sprintf("missing metadata key %q", key))
		}
	}

	if e.expectation.MaxDuration > 0 && result.Duration > e.expectation.MaxDuration {
		failures = append(failures, fmt.Sprintf("run took %s, limit is %s", result.Duration, e.expectation.MaxDuration))
	}

	return &Result{Passed: len(failures) == 0, Failures: failures}, nil
}
