package history

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
)

// DiskStore persists run history to a directory, one JSON file per run.
// The most recent runs are also held in memory.
type DiskStore struct {
	dir      string
	logger   *slog.Logger
	maxCount int
	runs     []Run // protected by mu
	mu       sync.Mutex
}

// NewDiskStore creates a disk-backed store. The directory is created if it
// doesn't exist and existing runs are loaded.
func NewDiskStore(dir string, maxCount int, logger *slog.Logger) (*DiskStore, error) {
	if maxCount <= 0 {
		maxCount = DefaultMaxRuns
	}
	s := &DiskStore{
		dir:      dir,
		logger:   logger.With("component", "history"),
		maxCount: maxCount,
		runs:     make([]Run, 0),
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create history directory: %w", err)
	}

	runs, err := s.load()
	if err != nil {
		s.logger.Warn("failed to load existing runs", "error", err)
	} else {
		s.runs = runs
	}
	return s, nil
}

// History returns all loaded runs, most recent first.
func (s *DiskStore) History() []Run {
	s.mu.Lock()
	defer s.mu.Unlock()

	result := make([]Run, len(s.runs))
	copy(result, s.runs)
	return result
}

// Get returns the run with the given ID.
func (s *DiskStore) Get(id string) (Run, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, run := range s.runs {
		if run.ID == id {
			return run, true
		}
	}
	return Run{}, false
}

// Save writes the run to disk and removes the files of runs beyond the
// limit.
func (s *DiskStore) Save(run Run) error {
	if run.ID == "" {
		return errors.New("cannot save run without an id")
	}
	if run.StartedAt.IsZero() {
		return errors.New("cannot save run without start time")
	}

	data, err := json.MarshalIndent(run, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal run: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	path := filepath.Join(s.dir, fileName(run))
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write run file: %w", err)
	}

	s.runs = append([]Run{run}, s.runs...)
	for len(s.runs) > s.maxCount {
		oldest := s.runs[len(s.runs)-1]
		if err := os.Remove(filepath.Join(s.dir, fileName(oldest))); err != nil && !errors.Is(err, os.ErrNotExist) {
			s.logger.Warn("failed to remove old run", "id", oldest.ID, "error", err)
		}
		s.runs = s.runs[:len(s.runs)-1]
	}

	s.logger.Debug("saved run to disk", "path", path)
	return nil
}

// fileName sorts by start time: 2006-01-02T15-04-05.000-<id>.json
func fileName(run Run) string {
	return run.StartedAt.UTC().Format("2006-01-02T15-04-05.000") + "-" + run.ID + ".json"
}

func (s *DiskStore) load() ([]Run, error) {
	files, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read history directory: %w", err)
	}

	runs := make([]Run, 0, min(len(files), s.maxCount))
	for _, file := range files {
		if file.IsDir() || filepath.Ext(file.Name()) != ".json" {
			continue
		}

		path := filepath.Join(s.dir, file.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			s.logger.Warn("failed to read run file", "file", path, "error", err)
			continue
		}

		var run Run
		if err := json.Unmarshal(data, &run); err != nil {
			s.logger.Warn("failed to parse run file", "file", path, "error", err)
			continue
		}
		if run.ID == "" {
			s.logger.Warn("skipping run file without id", "file", path)
			continue
		}
		runs = append(runs, run)
	}

	sort.SliceStable(runs, func(i, j int) bool {
		return runs[i].StartedAt.After(runs[j].StartedAt)
	})
	if len(runs) > s.maxCount {
		runs = runs[:s.maxCount]
	}

	s.logger.Info("loaded run history from disk", "count", len(runs))
	return runs, nil
}
