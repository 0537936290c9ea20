// Package gate provides Approver implementations that resolve run
// breakpoints: automatic approval for unattended runs, plain function
// adapters for programmatic policies, a parked queue for external review
// surfaces and an interactive terminal prompt.
//
// Gates are advisory. They produce a Resolution; acting on a rejection is
// the process's decision, not the gate's.
package gate

import (
	"context"
	"time"

	"github.com/hupe1980/taskmesh/core"
)

// AutoOptions configures the automatic approver.
type AutoOptions struct {
	// Note recorded on every resolution.
	Note string
	// ResolvedBy identifies the deciding principal in run records.
	ResolvedBy string
	// Delay before resolving, useful to simulate review latency in demos.
	Delay time.Duration
}

// Auto approves every breakpoint immediately. Intended for unattended runs
// and tests where the human gate is out of scope.
type Auto struct {
	opts AutoOptions
}

// NewAuto creates an automatic approver.
func NewAuto(optFns ...func(o *AutoOptions)) *Auto {
	opts := AutoOptions{
		Note:       "auto-approved",
		ResolvedBy: "auto",
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	return &Auto{opts: opts}
}

// Resolve implements core.Approver.
func (a *Auto) Resolve(ctx context.Context, req *core.BreakpointRequest) (*core.Resolution, error) {
	if a.opts.Delay > 0 {
		timer := time.NewTimer(a.opts.Delay)
		defer timer.Stop()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
		}
	}

	return &core.Resolution{
		Approved:   true,
		Note:       a.opts.Note,
		ResolvedBy: a.opts.ResolvedBy,
		ResolvedAt: time.Now().UTC(),
	}, nil
}

// Func adapts a plain function into an Approver.
type Func func(ctx context.Context, req *core.BreakpointRequest) (*core.Resolution, error)

// Resolve implements core.Approver.
func (f Func) Resolve(ctx context.Context, req *core.BreakpointRequest) (*core.Resolution, error) {
	return f(ctx, req)
}
