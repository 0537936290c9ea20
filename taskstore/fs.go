package taskstore

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/hupe1980/taskmesh/core"
)

// FileStore lays step documents out on disk as
//
//	<dir>/<runID>/tasks/<effectID>/input.json
//	<dir>/<runID>/tasks/<effectID>/result.json
//
// which keeps every step of a run inspectable with nothing but a shell.
type FileStore struct {
	dir string
	mu  sync.RWMutex
}

// NewFileStore creates a FileStore rooted at the given directory.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create task store dir: %w", err)
	}

	return &FileStore{dir: dir}, nil
}

func (s *FileStore) stepDir(runID, effectID string) string {
	return filepath.Join(s.dir, runID, "tasks", effectID)
}

// WriteInput persists the input document for a step.
func (s *FileStore) WriteInput(runID, effectID string, data []byte) error {
	return s.write(runID, effectID, "input.json", data)
}

// WriteResult persists the validated result document for a step.
func (s *FileStore) WriteResult(runID, effectID string, data []byte) error {
	return s.write(runID, effectID, "result.json", data)
}

func (s *FileStore) write(runID, effectID, name string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	dir := s.stepDir(runID, effectID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create step dir: %w", err)
	}

	path := filepath.Join(dir, name)

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if !os.IsExist(err) {
			return fmt.Errorf("create %s: %w", name, err)
		}

		// First write wins. An identical rewrite is the idempotent replay
		// case, a differing one breaks the effect id invariant.
		existing, rerr := os.ReadFile(path)
		if rerr != nil {
			return fmt.Errorf("read existing %s: %w", name, rerr)
		}
		if bytes.Equal(existing, data) {
			return nil
		}

		return fmt.Errorf("%w: %s/%s %s", core.ErrEffectIDCollision, runID, effectID, name)
	}
	defer f.Close()

	if _, err := f.Write(data); err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}

	return nil
}

// ReadInput loads the input document for a step.
func (s *FileStore) ReadInput(runID, effectID string) ([]byte, error) {
	return s.read(runID, effectID, "input.json")
}

// ReadResult loads the result document for a step.
func (s *FileStore) ReadResult(runID, effectID string) ([]byte, error) {
	return s.read(runID, effectID, "result.json")
}

func (s *FileStore) read(runID, effectID, name string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	data, err := os.ReadFile(filepath.Join(s.stepDir(runID, effectID), name))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s/%s %s", core.ErrStepNotFound, runID, effectID, name)
		}
		return nil, fmt.Errorf("read %s: %w", name, err)
	}

	return data, nil
}

// List returns the effect ids recorded for a run, sorted ascending. A run
// with no recorded steps yields an empty slice.
func (s *FileStore) List(runID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries, err := os.ReadDir(filepath.Join(s.dir, runID, "tasks"))
	if err != nil {
		if os.IsNotExist(err) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("read tasks dir: %w", err)
	}

	effectIDs := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			effectIDs = append(effectIDs, entry.Name())
		}
	}

	sort.Strings(effectIDs)

	return effectIDs, nil
}
