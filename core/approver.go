package core

import (
	"context"
	"time"
)

// BreakpointSpec describes a human checkpoint raised from process code. The
// summary and files give the reviewer everything needed to decide; referenced
// files must already be resolvable when the breakpoint is rendered.
type BreakpointSpec struct {
	Title    string
	Question string
	Summary  string
	Files    []Artifact
}

// BreakpointRequest is the fully-identified form of a raised breakpoint as
// handed to an Approver.
type BreakpointRequest struct {
	ID       string
	RunID    string
	Process  string
	Title    string
	Question string
	Summary  string
	Files    []Artifact
	Raised   time.Time
}

// Resolution records the human (or policy) decision for a breakpoint. The
// gate is advisory: a rejection is reported back to the process, which
// decides how to proceed. Sequential breakpoints resolve independently.
type Resolution struct {
	Approved   bool      `json:"approved"`
	Note       string    `json:"note,omitempty"`
	ResolvedBy string    `json:"resolved_by,omitempty"`
	ResolvedAt time.Time `json:"resolved_at"`
}

// Approver resolves raised breakpoints. Resolve blocks until a decision is
// available or ctx is cancelled; there is no implicit timeout. Concrete
// approvers live in the gate package (auto, func, manual).
type Approver interface {
	Resolve(ctx context.Context, req *BreakpointRequest) (*Resolution, error)
}
