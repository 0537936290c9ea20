package backend

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/hupe1980/taskmesh/core"
	"github.com/stretchr/testify/assert"
)

func scanRequest() Request {
	return Request{
		Task:     "emc_scan",
		EffectID: "ef-1",
		Agent:    "emc-analyzer",
		Prompt: core.Prompt{
			Task:         "Scan DUT-7 from 30 to 1000 MHz.",
			Context:      map[string]any{"standard": "CISPR 32"},
			Instructions: []string{"Use the quasi-peak detector."},
			OutputFormat: "JSON rows with frequency_mhz and level_dbuv.",
		},
		OutputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"pass": map[string]any{"type": "boolean"},
			},
		},
	}
}

// -------------------- Prompt Flattening Tests --------------------

func TestSystemText(t *testing.T) {
	req := scanRequest()
	assert.Equal(t, "You are emc-analyzer.", SystemText(req))

	req.Prompt.Role = "You are an EMC compliance engineer."
	assert.Equal(t, "You are an EMC compliance engineer.", SystemText(req))

	assert.Equal(t, "", SystemText(Request{}))
}

func TestUserText(t *testing.T) {
	text := UserText(scanRequest())

	assert.Contains(t, text, "Scan DUT-7 from 30 to 1000 MHz.")
	assert.Contains(t, text, "Context:")
	assert.Contains(t, text, `"standard": "CISPR 32"`)
	assert.Contains(t, text, "- Use the quasi-peak detector.")
	assert.Contains(t, text, "Output format: JSON rows with frequency_mhz and level_dbuv.")
	assert.Contains(t, text, "matching this schema")
	assert.Contains(t, text, `"pass"`)
}

func TestUserTextDeterministic(t *testing.T) {
	req := scanRequest()
	req.Prompt.Context = map[string]any{
		"standard": "CISPR 32",
		"site":     "chamber-3",
		"distance": "3m",
	}

	// Map iteration order must not leak into the rendered prompt
	first := UserText(req)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, UserText(req))
	}
}

// -------------------- Mock Backend Tests --------------------

func TestMock_CannedResponses(t *testing.T) {
	mock := NewMock()
	mock.AddResponse("emc_scan", `{"pass": true}`)

	raw, err := mock.Execute(context.Background(), scanRequest())
	assert.NoError(t, err)
	assert.JSONEq(t, `{"pass": true}`, string(raw))

	// Last response is sticky
	raw, err = mock.Execute(context.Background(), scanRequest())
	assert.NoError(t, err)
	assert.JSONEq(t, `{"pass": true}`, string(raw))
}

func TestMock_ResponseQueue(t *testing.T) {
	mock := NewMock()
	mock.AddResponse("emc_scan", `{"attempt": 1}`)
	mock.AddResponse("emc_scan", `{"attempt": 2}`)

	raw, _ := mock.Execute(context.Background(), scanRequest())
	assert.JSONEq(t, `{"attempt": 1}`, string(raw))

	raw, _ = mock.Execute(context.Background(), scanRequest())
	assert.JSONEq(t, `{"attempt": 2}`, string(raw))

	// Queue exhausted, last response repeats
	raw, _ = mock.Execute(context.Background(), scanRequest())
	assert.JSONEq(t, `{"attempt": 2}`, string(raw))
}

func TestMock_EchoDefault(t *testing.T) {
	mock := NewMock()

	raw, err := mock.Execute(context.Background(), scanRequest())
	assert.NoError(t, err)

	var decoded map[string]any
	assert.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, true, decoded["mock"])
	assert.Equal(t, "emc_scan", decoded["task"])
}

func TestMock_FailWith(t *testing.T) {
	mock := NewMock()
	boom := errors.New("backend offline")
	mock.FailWith("emc_scan", boom)

	_, err := mock.Execute(context.Background(), scanRequest())
	assert.ErrorIs(t, err, boom)

	mock.FailWith("emc_scan", nil)
	_, err = mock.Execute(context.Background(), scanRequest())
	assert.NoError(t, err)
}

func TestMock_RecordsRequests(t *testing.T) {
	mock := NewMock()

	_, _ = mock.Execute(context.Background(), scanRequest())

	second := scanRequest()
	second.Task = "materials_qualification"
	second.EffectID = "ef-2"
	_, _ = mock.Execute(context.Background(), second)

	reqs := mock.Requests()
	assert.Len(t, reqs, 2)
	assert.Equal(t, "emc_scan", reqs[0].Task)
	assert.Equal(t, "materials_qualification", reqs[1].Task)
	assert.Equal(t, "ef-2", reqs[1].EffectID)
}

func TestMock_HonorsContextCancellation(t *testing.T) {
	mock := NewMock()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := mock.Execute(ctx, scanRequest())
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, mock.Requests())
}

func TestNewRequest(t *testing.T) {
	desc := &core.Descriptor{
		Kind:  core.KindAgent,
		Title: "Radiated scan",
		Agent: core.AgentSpec{
			Name:         "emc-analyzer",
			Prompt:       core.Prompt{Task: "Scan."},
			OutputSchema: map[string]any{"type": "object"},
		},
	}

	req := NewRequest("emc_scan", "ef-7", desc)
	assert.Equal(t, "emc_scan", req.Task)
	assert.Equal(t, "ef-7", req.EffectID)
	assert.Equal(t, "emc-analyzer", req.Agent)
	assert.Equal(t, "Scan.", req.Prompt.Task)
	assert.Equal(t, desc.Agent.OutputSchema, req.OutputSchema)
}
