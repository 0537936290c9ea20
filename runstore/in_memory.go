package runstore

import (
	"fmt"
	"sort"
	"sync"

	"github.com/hupe1980/taskmesh/core"
)

// InMemoryStore is a volatile RunStore implementation storing runs in a
// process local map. It is safe for concurrent access and best suited for
// tests or ephemeral demo setups. Each stored and returned run is cloned to
// prevent external mutation of internal state.
type InMemoryStore struct {
	mu   sync.RWMutex
	runs map[string]*core.Run
}

// NewInMemoryStore constructs an empty in-memory run store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{runs: make(map[string]*core.Run)}
}

// Create stores a new run. Reusing a run id is an error; run identity is the
// anchor for step attribution.
func (s *InMemoryStore) Create(run *core.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.runs[run.ID]; exists {
		return fmt.Errorf("run %q already exists", run.ID)
	}

	s.runs[run.ID] = run.Clone()

	return nil
}

// Get returns a clone of the stored run.
func (s *InMemoryStore) Get(runID string) (*core.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	run, ok := s.runs[runID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", core.ErrRunNotFound, runID)
	}

	return run.Clone(), nil
}

// Update replaces the stored snapshot of an existing run.
func (s *InMemoryStore) Update(run *core.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.runs[run.ID]; !exists {
		return fmt.Errorf("%w: %s", core.ErrRunNotFound, run.ID)
	}

	s.runs[run.ID] = run.Clone()

	return nil
}

// List returns clones of runs matching the filter, newest first.
func (s *InMemoryStore) List(filter core.RunFilter) ([]*core.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	matched := make([]*core.Run, 0, len(s.runs))
	for _, run := range s.runs {
		if filter.Matches(run) {
			matched = append(matched, run.Clone())
		}
	}

	sort.Slice(matched, func(i, j int) bool { return matched[i].Created.After(matched[j].Created) })

	if filter.Limit > 0 && len(matched) > filter.Limit {
		matched = matched[:filter.Limit]
	}

	return matched, nil
}
