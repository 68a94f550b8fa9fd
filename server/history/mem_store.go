package history

import (
	"errors"
	"sync"
)

// DefaultMaxRuns is the number of runs kept when no limit is given.
const DefaultMaxRuns = 100

// MemoryStore keeps run history in memory only.
type MemoryStore struct {
	maxCount int
	runs     []Run // protected by mu
	mu       sync.Mutex
}

// NewMemoryStore creates an in-memory store holding at most maxCount runs.
func NewMemoryStore(maxCount int) *MemoryStore {
	if maxCount <= 0 {
		maxCount = DefaultMaxRuns
	}
	return &MemoryStore{
		maxCount: maxCount,
		runs:     make([]Run, 0),
	}
}

// History returns all runs, most recent first.
func (s *MemoryStore) History() []Run {
	s.mu.Lock()
	defer s.mu.Unlock()

	result := make([]Run, len(s.runs))
	copy(result, s.runs)
	return result
}

// Get returns the run with the given ID.
func (s *MemoryStore) Get(id string) (Run, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, run := range s.runs {
		if run.ID == id {
			return run, true
		}
	}
	return Run{}, false
}

// Save stores a run in memory, dropping the oldest run beyond the limit.
func (s *MemoryStore) Save(run Run) error {
	if run.ID == "" {
		return errors.New("cannot save run without an id")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.runs = append([]Run{run}, s.runs...)
	if len(s.runs) > s.maxCount {
		s.runs = s.runs[:s.maxCount]
	}
	return nil
}
