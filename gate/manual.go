package gate

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/hupe1980/taskmesh/core"
)

type pendingGate struct {
	req  *core.BreakpointRequest
	done chan *core.Resolution
}

// Manual parks breakpoints until an operator decides. Resolve blocks the
// calling run; an external surface (CLI, HTTP handler, test) lists Pending
// and calls Decide, Approve or Reject with the breakpoint id.
//
// Each breakpoint is independent: decisions are keyed by id, so several runs
// can wait concurrently and one run can gate multiple times in sequence.
type Manual struct {
	mu      sync.Mutex
	pending map[string]*pendingGate
}

// NewManual creates a manual approver with no pending breakpoints.
func NewManual() *Manual {
	return &Manual{pending: map[string]*pendingGate{}}
}

// Resolve implements core.Approver. It blocks until Decide is called for the
// request's id or the context is cancelled.
func (m *Manual) Resolve(ctx context.Context, req *core.BreakpointRequest) (*core.Resolution, error) {
	done := make(chan *core.Resolution, 1)

	m.mu.Lock()
	m.pending[req.ID] = &pendingGate{req: req, done: done}
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		delete(m.pending, req.ID)
		m.mu.Unlock()
	}()

	select {
	case res := <-done:
		return res, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Pending returns the breakpoints currently awaiting a decision, oldest first.
func (m *Manual) Pending() []*core.BreakpointRequest {
	m.mu.Lock()
	defer m.mu.Unlock()

	reqs := make([]*core.BreakpointRequest, 0, len(m.pending))
	for _, p := range m.pending {
		reqs = append(reqs, p.req)
	}

	sort.Slice(reqs, func(i, j int) bool { return reqs[i].Raised.Before(reqs[j].Raised) })

	return reqs
}

// Decide delivers a resolution for a pending breakpoint.
func (m *Manual) Decide(id string, res core.Resolution) error {
	m.mu.Lock()
	p, ok := m.pending[id]
	m.mu.Unlock()

	if !ok {
		return fmt.Errorf("no pending breakpoint %q", id)
	}

	if res.ResolvedAt.IsZero() {
		res.ResolvedAt = time.Now().UTC()
	}

	p.done <- &res

	return nil
}

// Approve resolves a pending breakpoint with approval.
func (m *Manual) Approve(id, resolvedBy, note string) error {
	return m.Decide(id, core.Resolution{Approved: true, ResolvedBy: resolvedBy, Note: note})
}

// Reject resolves a pending breakpoint with a rejection.
func (m *Manual) Reject(id, resolvedBy, note string) error {
	return m.Decide(id, core.Resolution{Approved: false, ResolvedBy: resolvedBy, Note: note})
}
