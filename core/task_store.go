package core

// TaskStore persists per-step input and result documents keyed by run and
// effect id (conventionally tasks/<effectId>/input.json and result.json).
//
// Write semantics enforce the effect id invariant: the first write under an
// effect id wins; writing identical bytes again is an idempotent no-op so
// deterministic re-execution holds, while writing different bytes fails with
// ErrEffectIDCollision.
type TaskStore interface {
	WriteInput(runID, effectID string, data []byte) error
	WriteResult(runID, effectID string, data []byte) error
	ReadInput(runID, effectID string) ([]byte, error)
	ReadResult(runID, effectID string) ([]byte, error)
	List(runID string) ([]string, error)
}
