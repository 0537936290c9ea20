package process

import (
	"fmt"
	"time"

	"github.com/hupe1980/taskmesh/core"
)

// IterateSpec bounds a repeated dispatch. MaxIterations is the hard cap and
// must be positive, there is no unbounded mode. Until, when set, is evaluated
// after each iteration and ends the loop early once it returns true. Interval
// inserts a delay between iterations, useful when each pass polls external
// equipment or rate-limited backends.
type IterateSpec struct {
	MaxIterations int
	Until         func(i int, last *core.Result) bool
	Interval      time.Duration
}

// Iterate runs body up to spec.MaxIterations times on the caller's logical
// thread. It returns the last produced result and the number of completed
// iterations.
//
// Reaching the cap without satisfying Until is not an error, the caller gets
// the last state and decides what it means. A body error stops the loop
// immediately and is returned wrapped with the failing iteration. Context
// cancellation is honored between iterations and during interval waits.
func Iterate(rc *core.RunContext, spec IterateSpec, body func(i int) (*core.Result, error)) (*core.Result, int, error) {
	if spec.MaxIterations <= 0 {
		return nil, 0, core.NewConfigError("iterate", "max iterations must be positive")
	}

	var last *core.Result

	for i := 0; i < spec.MaxIterations; i++ {
		select {
		case <-rc.Done():
			return last, i, rc.Err()
		default:
		}

		result, err := body(i)
		if err != nil {
			return last, i, fmt.Errorf("iteration %d: %w", i+1, err)
		}

		last = result

		if spec.Until != nil && spec.Until(i, last) {
			return last, i + 1, nil
		}

		if spec.Interval > 0 && i < spec.MaxIterations-1 {
			select {
			case <-rc.Done():
				return last, i + 1, rc.Err()
			case <-time.After(spec.Interval):
			}
		}
	}

	return last, spec.MaxIterations, nil
}
