package runstore

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/hupe1980/taskmesh/core"
)

// FileStore persists runs as pretty-printed JSON documents, one file per run
// under <dir>/runs. Suited for single-process deployments where run history
// must survive restarts and stay inspectable with standard tooling.
type FileStore struct {
	dir string
	mu  sync.RWMutex
}

// NewFileStore creates a FileStore rooted at the given directory.
func NewFileStore(dir string) (*FileStore, error) {
	runsDir := filepath.Join(dir, "runs")
	if err := os.MkdirAll(runsDir, 0o755); err != nil {
		return nil, fmt.Errorf("create runs dir: %w", err)
	}

	return &FileStore{dir: dir}, nil
}

func (s *FileStore) runPath(runID string) string {
	return filepath.Join(s.dir, "runs", runID+".json")
}

// Create persists a new run. An existing file for the id is an error.
func (s *FileStore) Create(run *core.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.MarshalIndent(run.Clone(), "", "  ")
	if err != nil {
		return fmt.Errorf("marshal run: %w", err)
	}

	f, err := os.OpenFile(s.runPath(run.ID), os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if os.IsExist(err) {
			return fmt.Errorf("run %q already exists", run.ID)
		}
		return fmt.Errorf("create run file: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(data); err != nil {
		return fmt.Errorf("write run file: %w", err)
	}

	return nil
}

// Get loads a run by id.
func (s *FileStore) Get(runID string) (*core.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	data, err := os.ReadFile(s.runPath(runID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", core.ErrRunNotFound, runID)
		}
		return nil, fmt.Errorf("read run file: %w", err)
	}

	var run core.Run
	if err := json.Unmarshal(data, &run); err != nil {
		return nil, fmt.Errorf("decode run %s: %w", runID, err)
	}

	return &run, nil
}

// Update rewrites the snapshot of an existing run.
func (s *FileStore) Update(run *core.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	path := s.runPath(run.ID)
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", core.ErrRunNotFound, run.ID)
		}
		return fmt.Errorf("stat run file: %w", err)
	}

	data, err := json.MarshalIndent(run.Clone(), "", "  ")
	if err != nil {
		return fmt.Errorf("marshal run: %w", err)
	}

	return os.WriteFile(path, data, 0o644)
}

// List loads all runs matching the filter, newest first. Undecodable files
// are skipped so one corrupt snapshot does not hide the rest of the history.
func (s *FileStore) List(filter core.RunFilter) ([]*core.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries, err := os.ReadDir(filepath.Join(s.dir, "runs"))
	if err != nil {
		return nil, fmt.Errorf("read runs dir: %w", err)
	}

	matched := make([]*core.Run, 0, len(entries))

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}

		data, err := os.ReadFile(filepath.Join(s.dir, "runs", entry.Name()))
		if err != nil {
			continue
		}

		var run core.Run
		if err := json.Unmarshal(data, &run); err != nil {
			continue
		}

		if filter.Matches(&run) {
			matched = append(matched, &run)
		}
	}

	sort.Slice(matched, func(i, j int) bool { return matched[i].Created.After(matched[j].Created) })

	if filter.Limit > 0 && len(matched) > filter.Limit {
		matched = matched[:filter.Limit]
	}

	return matched, nil
}
