package step

import (
	"encoding/json"
	"maps"
	"strings"

	"github.com/kaptinlin/jsonrepair"

	"github.com/hupe1980/taskmesh/backend"
	"github.com/hupe1980/taskmesh/core"
)

// ProvenanceProcessor stamps run identity into the prompt context so agent
// transcripts stay attributable to their originating run. It copies the
// context map first; the descriptor already persisted in input.json must not
// change underneath.
type ProvenanceProcessor struct{}

// NewProvenanceProcessor creates a new provenance processor.
func NewProvenanceProcessor() *ProvenanceProcessor { return &ProvenanceProcessor{} }

// Name returns the processor's identifier.
func (p *ProvenanceProcessor) Name() string { return "provenance" }

// ProcessRequest adds run_id and process to the prompt context unless the
// builder already set them.
func (p *ProvenanceProcessor) ProcessRequest(rc *core.RunContext, req *backend.Request) error {
	ctx := make(map[string]any, len(req.Prompt.Context)+2)
	maps.Copy(ctx, req.Prompt.Context)

	if _, ok := ctx["run_id"]; !ok {
		ctx["run_id"] = rc.RunID
	}

	if _, ok := ctx["process"]; !ok && rc.Process != "" {
		ctx["process"] = rc.Process
	}

	req.Prompt.Context = ctx

	return nil
}

// RepairProcessor normalizes almost-JSON backend responses. Agent backends
// occasionally wrap documents in markdown fences or emit trailing commas;
// this processor strips fences and runs a repair pass when the payload still
// does not parse. Output that resists repair is left untouched for the
// executor to classify as invalid.
type RepairProcessor struct{}

// NewRepairProcessor creates a new repair processor.
func NewRepairProcessor() *RepairProcessor { return &RepairProcessor{} }

// Name returns the processor's identifier.
func (p *RepairProcessor) Name() string { return "repair" }

// ProcessResponse rewrites raw in place when a normalization succeeds.
func (p *RepairProcessor) ProcessResponse(rc *core.RunContext, req backend.Request, raw *json.RawMessage) error {
	text := strings.TrimSpace(string(*raw))
	if json.Valid([]byte(text)) {
		*raw = json.RawMessage(text)
		return nil
	}

	stripped := stripFences(text)
	if json.Valid([]byte(stripped)) {
		rc.LogDebug("step.response.fences_stripped", "task", req.Task, "effect_id", req.EffectID)

		*raw = json.RawMessage(stripped)

		return nil
	}

	repaired, err := jsonrepair.JSONRepair(stripped)
	if err != nil {
		rc.LogDebug("step.response.repair_failed", "task", req.Task, "effect_id", req.EffectID, "error", err.Error())
		return nil
	}

	rc.LogDebug("step.response.repaired", "task", req.Task, "effect_id", req.EffectID)

	*raw = json.RawMessage(repaired)

	return nil
}

// stripFences removes a surrounding markdown code fence, including a
// language hint such as "json" on the opening line.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}

	s = strings.TrimPrefix(s, "```")

	if idx := strings.IndexByte(s, '\n'); idx >= 0 {
		s = s[idx+1:]
	}

	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, "```")

	return strings.TrimSpace(s)
}
