package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/hupe1980/taskmesh/core"
)

// Request captures the normalized backend input produced by the step
// executor: the agent persona, the structured prompt and the schema the
// response must conform to. Task and EffectID identify the step for logging
// and for deterministic mock routing.
type Request struct {
	Task         string         `json:"task"`
	EffectID     string         `json:"effectId"`
	Agent        string         `json:"agent"`
	Prompt       core.Prompt    `json:"prompt"`
	OutputSchema map[string]any `json:"outputSchema,omitempty"`
}

// NewRequest assembles a backend request from a built descriptor.
func NewRequest(task, effectID string, desc *core.Descriptor) Request {
	return Request{
		Task:         task,
		EffectID:     effectID,
		Agent:        desc.Agent.Name,
		Prompt:       desc.Agent.Prompt,
		OutputSchema: desc.Agent.OutputSchema,
	}
}

// Info contains metadata about a backend implementation.
type Info struct {
	Name     string `json:"name"`
	Provider string `json:"provider"` // "anthropic", "openai", "gemini", "mock", etc.
}

// Backend is the minimal interface the step executor needs to run one
// agent-backed step. Execute returns the raw response document, expected to
// be a single JSON object; interpretation and validation happen upstream.
//
// Implementations must be safe for concurrent use: one engine instance
// dispatches steps from multiple runs against the same backend.
type Backend interface {
	Execute(ctx context.Context, req Request) (json.RawMessage, error)

	// Info returns information about the backend implementation.
	Info() Info
}

// SystemText renders the persona line for providers with a dedicated system
// prompt slot. The descriptor role wins; otherwise a generic line naming the
// agent is produced.
func SystemText(req Request) string {
	if req.Prompt.Role != "" {
		return req.Prompt.Role
	}

	if req.Agent != "" {
		return fmt.Sprintf("You are %s.", req.Agent)
	}

	return ""
}

// UserText flattens the structured prompt into the single user message sent
// to the provider. Sections appear in a fixed order so prompts are
// byte-for-byte reproducible across runs.
func UserText(req Request) string {
	var b strings.Builder

	b.WriteString(req.Prompt.Task)

	if len(req.Prompt.Context) > 0 {
		if ctxJSON, err := json.MarshalIndent(req.Prompt.Context, "", "  "); err == nil {
			b.WriteString("\n\nContext:\n")
			b.Write(ctxJSON)
			b.WriteString("\n")
		}
	}

	if len(req.Prompt.Instructions) > 0 {
		b.WriteString("\nInstructions:\n")
		for _, instr := range req.Prompt.Instructions {
			b.WriteString("- ")
			b.WriteString(instr)
			b.WriteString("\n")
		}
	}

	if req.Prompt.OutputFormat != "" {
		b.WriteString("\nOutput format: ")
		b.WriteString(req.Prompt.OutputFormat)
		b.WriteString("\n")
	}

	if req.OutputSchema != nil {
		if schemaJSON, err := json.MarshalIndent(req.OutputSchema, "", "  "); err == nil {
			b.WriteString("\nRespond with a single JSON object matching this schema and nothing else:\n")
			b.Write(schemaJSON)
			b.WriteString("\n")
		}
	}

	return b.String()
}

// Mock is a lightweight in-memory Backend useful for tests & examples.
//
// Responses are registered per task name and consumed in order; the last
// registered response is sticky so repeated dispatches of the same task stay
// deterministic. Tasks without a canned response get a minimal echo object.
type Mock struct {
	mu        sync.Mutex
	info      Info
	responses map[string][]string
	errors    map[string]error
	requests  []Request
}

// NewMock constructs a Mock backend.
func NewMock() *Mock {
	return &Mock{
		info:      Info{Name: "mock", Provider: "mock"},
		responses: make(map[string][]string),
		errors:    make(map[string]error),
	}
}

// AddResponse registers a canned response document for a task. Calling it
// multiple times queues responses consumed one per dispatch.
func (m *Mock) AddResponse(task, response string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.responses[task] = append(m.responses[task], response)
}

// FailWith makes every dispatch of task return err until cleared with a nil err.
func (m *Mock) FailWith(task string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err == nil {
		delete(m.errors, task)
		return
	}

	m.errors[task] = err
}

// Requests returns a copy of every request seen, in dispatch order.
func (m *Mock) Requests() []Request {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Request, len(m.requests))
	copy(out, m.requests)

	return out
}

// Execute implements Backend.
func (m *Mock) Execute(ctx context.Context, req Request) (json.RawMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.requests = append(m.requests, req)

	if err, ok := m.errors[req.Task]; ok {
		return nil, err
	}

	queue := m.responses[req.Task]
	if len(queue) == 0 {
		echo := fmt.Sprintf("{\n  \"mock\": true,\n  \"task\": %q\n}", req.Task)
		return json.RawMessage(echo), nil
	}

	response := queue[0]
	if len(queue) > 1 {
		m.responses[req.Task] = queue[1:]
	}

	return json.RawMessage(response), nil
}

// Info implements Backend.
func (m *Mock) Info() Info { return m.info }
