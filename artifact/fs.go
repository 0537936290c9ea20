package artifact

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/hupe1980/taskmesh/core"
)

// FileStore persists run artifacts on disk under
//
//	<dir>/<runID>/artifacts/<path>
//
// preserving the workspace-relative path, so reviewers can open the files a
// breakpoint references without going through the API. A per-run index
// document (<dir>/<runID>/artifacts.json) carries the references with their
// format and description.
type FileStore struct {
	dir string
	mu  sync.RWMutex
}

// NewFileStore creates a FileStore rooted at the given directory.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create artifact store dir: %w", err)
	}

	return &FileStore{dir: dir}, nil
}

func (a *FileStore) filePath(runID, path string) string {
	return filepath.Join(a.dir, runID, "artifacts", filepath.FromSlash(path))
}

func (a *FileStore) indexPath(runID string) string {
	return filepath.Join(a.dir, runID, "artifacts.json")
}

func checkPath(path string) error {
	if path == "" || !filepath.IsLocal(filepath.FromSlash(path)) {
		return fmt.Errorf("artifact path %q must be workspace-relative", path)
	}

	return nil
}

// Save stores (or overwrites) the artifact bytes and records the reference in
// the run's index.
func (a *FileStore) Save(runID string, artifact core.Artifact, data []byte) error {
	if err := checkPath(artifact.Path); err != nil {
		return err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	path := a.filePath(runID, artifact.Path)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create artifact dir: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write artifact: %w", err)
	}

	index, err := a.loadIndex(runID)
	if err != nil {
		return err
	}

	replaced := false
	for i, ref := range index {
		if ref.Path == artifact.Path {
			index[i] = artifact
			replaced = true
			break
		}
	}
	if !replaced {
		index = append(index, artifact)
	}

	return a.writeIndex(runID, index)
}

// Get returns the stored artifact bytes or ErrNotFound.
func (a *FileStore) Get(runID, path string) ([]byte, error) {
	if err := checkPath(path); err != nil {
		return nil, err
	}

	a.mu.RLock()
	defer a.mu.RUnlock()

	data, err := os.ReadFile(a.filePath(runID, path))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("read artifact: %w", err)
	}

	return data, nil
}

// Stat returns the indexed artifact reference or ErrNotFound.
func (a *FileStore) Stat(runID, path string) (core.Artifact, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	index, err := a.loadIndex(runID)
	if err != nil {
		return core.Artifact{}, err
	}

	for _, ref := range index {
		if ref.Path == path {
			return ref, nil
		}
	}

	return core.Artifact{}, ErrNotFound
}

// List returns the artifact references recorded for the run, sorted by path.
func (a *FileStore) List(runID string) ([]core.Artifact, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	index, err := a.loadIndex(runID)
	if err != nil {
		return nil, err
	}

	sort.Slice(index, func(i, j int) bool { return index[i].Path < index[j].Path })

	return index, nil
}

// Delete removes the artifact bytes and its index entry or returns
// ErrNotFound.
func (a *FileStore) Delete(runID, path string) error {
	if err := checkPath(path); err != nil {
		return err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if err := os.Remove(a.filePath(runID, path)); err != nil {
		if os.IsNotExist(err) {
			return ErrNotFound
		}
		return fmt.Errorf("remove artifact: %w", err)
	}

	index, err := a.loadIndex(runID)
	if err != nil {
		return err
	}

	kept := index[:0]
	for _, ref := range index {
		if ref.Path != path {
			kept = append(kept, ref)
		}
	}

	return a.writeIndex(runID, kept)
}

func (a *FileStore) loadIndex(runID string) ([]core.Artifact, error) {
	data, err := os.ReadFile(a.indexPath(runID))
	if err != nil {
		if os.IsNotExist(err) {
			return []core.Artifact{}, nil
		}
		return nil, fmt.Errorf("read artifact index: %w", err)
	}

	var index []core.Artifact
	if err := json.Unmarshal(data, &index); err != nil {
		return nil, fmt.Errorf("decode artifact index: %w", err)
	}

	return index, nil
}

func (a *FileStore) writeIndex(runID string, index []core.Artifact) error {
	data, err := json.MarshalIndent(index, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal artifact index: %w", err)
	}

	return os.WriteFile(a.indexPath(runID), data, 0o644)
}
