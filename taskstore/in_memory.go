package taskstore

import (
	"bytes"
	"fmt"
	"sort"
	"sync"

	"github.com/hupe1980/taskmesh/core"
)

type stepDocs struct {
	input  []byte
	result []byte
}

// InMemoryStore keeps step documents in process memory. Useful for tests and
// short-lived runs where the per-step paper trail does not need to outlive
// the process.
type InMemoryStore struct {
	mu   sync.RWMutex
	runs map[string]map[string]*stepDocs
}

// NewInMemoryStore creates an empty InMemoryStore.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{runs: make(map[string]map[string]*stepDocs)}
}

// WriteInput persists the input document for a step.
func (s *InMemoryStore) WriteInput(runID, effectID string, data []byte) error {
	return s.write(runID, effectID, data, false)
}

// WriteResult persists the validated result document for a step.
func (s *InMemoryStore) WriteResult(runID, effectID string, data []byte) error {
	return s.write(runID, effectID, data, true)
}

func (s *InMemoryStore) write(runID, effectID string, data []byte, result bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	steps, ok := s.runs[runID]
	if !ok {
		steps = make(map[string]*stepDocs)
		s.runs[runID] = steps
	}

	docs, ok := steps[effectID]
	if !ok {
		docs = &stepDocs{}
		steps[effectID] = docs
	}

	slot := &docs.input
	name := "input.json"
	if result {
		slot = &docs.result
		name = "result.json"
	}

	if *slot != nil {
		if bytes.Equal(*slot, data) {
			return nil
		}
		return fmt.Errorf("%w: %s/%s %s", core.ErrEffectIDCollision, runID, effectID, name)
	}

	*slot = append([]byte(nil), data...)

	return nil
}

// ReadInput loads the input document for a step.
func (s *InMemoryStore) ReadInput(runID, effectID string) ([]byte, error) {
	return s.read(runID, effectID, false)
}

// ReadResult loads the result document for a step.
func (s *InMemoryStore) ReadResult(runID, effectID string) ([]byte, error) {
	return s.read(runID, effectID, true)
}

func (s *InMemoryStore) read(runID, effectID string, result bool) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	name := "input.json"
	if result {
		name = "result.json"
	}

	docs, ok := s.runs[runID][effectID]
	if ok {
		data := docs.input
		if result {
			data = docs.result
		}
		if data != nil {
			return append([]byte(nil), data...), nil
		}
	}

	return nil, fmt.Errorf("%w: %s/%s %s", core.ErrStepNotFound, runID, effectID, name)
}

// List returns the effect ids recorded for a run, sorted ascending.
func (s *InMemoryStore) List(runID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	steps := s.runs[runID]

	effectIDs := make([]string, 0, len(steps))
	for effectID := range steps {
		effectIDs = append(effectIDs, effectID)
	}

	sort.Strings(effectIDs)

	return effectIDs, nil
}
