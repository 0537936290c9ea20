// Package step turns a single task dispatch into a persisted, schema
// validated step.
//
// The executor owns the step lifecycle: it allocates the effect id, builds
// the descriptor, persists the input document, drives the backend and
// validates the response before anything is recorded as a result. Pluggable
// request/response processors keep transport decoration and response
// normalization out of the core pipeline.
package step

import (
	"encoding/json"

	"github.com/hupe1980/taskmesh/backend"
	"github.com/hupe1980/taskmesh/core"
)

// RequestProcessor mutates the backend request before dispatch. Processors
// must not mutate descriptor-owned maps in place; the persisted input
// document reflects the descriptor, not transport decoration.
type RequestProcessor interface {
	// Name returns the processor's identifier.
	Name() string
	// ProcessRequest modifies the backend request before execution.
	ProcessRequest(rc *core.RunContext, req *backend.Request) error
}

// ResponseProcessor normalizes the raw backend response before the executor
// decodes and validates it.
type ResponseProcessor interface {
	// Name returns the processor's identifier.
	Name() string
	// ProcessResponse may rewrite the raw response in place.
	ProcessResponse(rc *core.RunContext, req backend.Request, raw *json.RawMessage) error
}
