package storage

import (
	"context"
	"sort"
	"sync"

	"github.com/GoSim-25-26J-441/evolution-core/pkg/models"
)

// MemoryStore keeps everything in process memory
type MemoryStore struct {
	mu          sync.RWMutex
	initialized bool
	runs        map[string]*models.Run
	progress    map[string][]models.ProgressPoint
	weights     map[string][]byte
	trades      map[string][]byte
}

// NewMemoryStore creates an empty store; call Init before use
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Init(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.initialized {
		return nil
	}
	s.initialized = true
	s.runs = make(map[string]*models.Run)
	s.progress = make(map[string][]models.ProgressPoint)
	s.weights = make(map[string][]byte)
	s.trades = make(map[string][]byte)
	return nil
}

func (s *MemoryStore) SaveRun(_ context.Context, run *models.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.initialized {
		return ErrNotInitialized
	}

	s.runs[run.ID] = cloneRun(run)
	return nil
}

func (s *MemoryStore) GetRun(_ context.Context, id string) (*models.Run, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.initialized {
		return nil, false, ErrNotInitialized
	}

	run, ok := s.runs[id]
	if !ok {
		return nil, false, nil
	}
	return cloneRun(run), true, nil
}

func (s *MemoryStore) ListRuns(_ context.Context) ([]*models.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.initialized {
		return nil, ErrNotInitialized
	}

	runs := make([]*models.Run, 0, len(s.runs))
	for _, run := range s.runs {
		runs = append(runs, cloneRun(run))
	}
	sort.Slice(runs, func(i, j int) bool {
		if runs[i].CreatedAt.Equal(runs[j].CreatedAt) {
			return runs[i].ID < runs[j].ID
		}
		return runs[i].CreatedAt.Before(runs[j].CreatedAt)
	})
	return runs, nil
}

func (s *MemoryStore) AppendProgress(_ context.Context, runID string, point models.ProgressPoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.initialized {
		return ErrNotInitialized
	}

	s.progress[runID] = append(s.progress[runID], point)
	return nil
}

func (s *MemoryStore) GetProgress(_ context.Context, runID string) ([]models.ProgressPoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.initialized {
		return nil, ErrNotInitialized
	}

	points := s.progress[runID]
	out := make([]models.ProgressPoint, len(points))
	copy(out, points)
	return out, nil
}

func (s *MemoryStore) SaveWeights(_ context.Context, runID string, archive []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.initialized {
		return ErrNotInitialized
	}

	s.weights[runID] = append([]byte(nil), archive...)
	return nil
}

func (s *MemoryStore) GetWeights(_ context.Context, runID string) ([]byte, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.initialized {
		return nil, false, ErrNotInitialized
	}

	archive, ok := s.weights[runID]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), archive...), true, nil
}

func (s *MemoryStore) SaveTrades(_ context.Context, runID string, report []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.initialized {
		return ErrNotInitialized
	}

	s.trades[runID] = append([]byte(nil), report...)
	return nil
}

func (s *MemoryStore) GetTrades(_ context.Context, runID string) ([]byte, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.initialized {
		return nil, false, ErrNotInitialized
	}

	report, ok := s.trades[runID]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), report...), true, nil
}

func (s *MemoryStore) Close() error {
	return nil
}
