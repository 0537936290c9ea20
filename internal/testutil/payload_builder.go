package testutil

import (
	"testing"

	"github.com/tidwall/sjson"
)

// PayloadBuilder provides a fluent helper for fabricating backend response
// documents in tests. Example:
//
//	doc := NewPayload().Set("pass", true).Set("emissions.worst.margin_db", 2.1).Build(t)
//
// Paths use sjson syntax, so nested objects and arrays grow as needed.
type PayloadBuilder struct {
	json string
	err  error
}

// NewPayload creates a builder holding an empty JSON object.
func NewPayload() *PayloadBuilder { return &PayloadBuilder{json: "{}"} }

// Set assigns a value at the given path (chainable).
func (b *PayloadBuilder) Set(path string, value any) *PayloadBuilder {
	if b.err != nil {
		return b
	}
	b.json, b.err = sjson.Set(b.json, path, value)
	return b
}

// SetRaw splices a pre-encoded JSON fragment at the given path (chainable).
func (b *PayloadBuilder) SetRaw(path, raw string) *PayloadBuilder {
	if b.err != nil {
		return b
	}
	b.json, b.err = sjson.SetRaw(b.json, path, raw)
	return b
}

// Artifact appends a reference to the conventional artifacts array (chainable).
func (b *PayloadBuilder) Artifact(path, format, description string) *PayloadBuilder {
	ref := map[string]any{"path": path}
	if format != "" {
		ref["format"] = format
	}
	if description != "" {
		ref["description"] = description
	}
	return b.Set("artifacts.-1", ref)
}

// Build returns the assembled document, failing the test if any path
// assignment went wrong.
func (b *PayloadBuilder) Build(tb testing.TB) string {
	tb.Helper()

	if b.err != nil {
		tb.Fatalf("build payload: %v", b.err)
	}

	return b.json
}
