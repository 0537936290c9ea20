package artifact

import (
	"sort"
	"sync"

	"github.com/hupe1980/taskmesh/core"
)

type stored struct {
	meta core.Artifact
	data []byte
}

// InMemoryStore is a trivial in-process ArtifactStore implementation useful
// for tests, examples and single-process prototypes. It keeps all artifacts in
// a nested map guarded by an RWMutex. Data is copied on save / retrieval to
// avoid accidental external mutation of internal buffers.
//
// Layout: runID -> workspace-relative path -> reference + raw bytes
//
// This implementation is intentionally minimal; it does not enforce retention
// limits, size quotas, or eviction. For runs whose files must survive process
// restarts, prefer the FileStore in this package.
type InMemoryStore struct {
	mu   sync.RWMutex
	runs map[string]map[string]stored
}

// NewInMemoryStore returns an empty in-memory artifact store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{runs: make(map[string]map[string]stored)}
}

// Save stores (or overwrites) the artifact bytes and reference for the given
// run. The input slice is copied before storage.
func (a *InMemoryStore) Save(runID string, artifact core.Artifact, data []byte) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if _, exists := a.runs[runID]; !exists {
		a.runs[runID] = make(map[string]stored)
	}

	cp := make([]byte, len(data))
	copy(cp, data)
	a.runs[runID][artifact.Path] = stored{meta: artifact, data: cp}

	return nil
}

// Get returns a copy of the stored artifact bytes or ErrNotFound.
func (a *InMemoryStore) Get(runID, path string) ([]byte, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	st, ok := a.runs[runID][path]
	if !ok {
		return nil, ErrNotFound
	}

	cp := make([]byte, len(st.data))
	copy(cp, st.data)

	return cp, nil
}

// Stat returns the stored artifact reference or ErrNotFound.
func (a *InMemoryStore) Stat(runID, path string) (core.Artifact, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	st, ok := a.runs[runID][path]
	if !ok {
		return core.Artifact{}, ErrNotFound
	}

	return st.meta, nil
}

// List returns the artifact references stored for the run, sorted by path.
// The slice is a snapshot and safe for caller mutation.
func (a *InMemoryStore) List(runID string) ([]core.Artifact, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	m := a.runs[runID]

	refs := make([]core.Artifact, 0, len(m))
	for _, st := range m {
		refs = append(refs, st.meta)
	}

	sort.Slice(refs, func(i, j int) bool { return refs[i].Path < refs[j].Path })

	return refs, nil
}

// Delete removes the artifact if present or returns ErrNotFound.
func (a *InMemoryStore) Delete(runID, path string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	m, ok := a.runs[runID]
	if !ok {
		return ErrNotFound
	}
	if _, ok := m[path]; !ok {
		return ErrNotFound
	}

	delete(m, path)

	return nil
}
