package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/atmx/backtest-engine/internal/model"
)

// MemoryStore implements Store with in-memory maps. Used for testing
// and development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu      sync.RWMutex
	runs    map[string]*model.Run
	results map[string]*model.Result
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		runs:    make(map[string]*model.Run),
		results: make(map[string]*model.Result),
	}
}

func (s *MemoryStore) CreateRun(_ context.Context, run *model.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.runs[run.ID]; ok {
		return fmt.Errorf("run %s already exists", run.ID)
	}

	// Store a copy to avoid external mutation.
	copy := *run
	s.runs[run.ID] = &copy
	return nil
}

func (s *MemoryStore) GetRun(_ context.Context, id string) (*model.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.runs[id]
	if !ok {
		return nil, fmt.Errorf("run %s: %w", id, ErrNotFound)
	}
	copy := *r
	return &copy, nil
}

func (s *MemoryStore) ListRuns(_ context.Context) ([]model.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	runs := make([]model.Run, 0, len(s.runs))
	for _, r := range s.runs {
		runs = append(runs, *r)
	}
	sort.Slice(runs, func(i, j int) bool {
		return runs[i].CreatedAt.After(runs[j].CreatedAt)
	})
	return runs, nil
}

func (s *MemoryStore) UpdateRunStatus(_ context.Context, id string, status model.RunStatus, runErr string, completedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.runs[id]
	if !ok {
		return fmt.Errorf("run %s: %w", id, ErrNotFound)
	}
	r.Status = status
	if runErr != "" {
		r.Error = runErr
	}
	if !completedAt.IsZero() {
		r.CompletedAt = completedAt
	}
	return nil
}

func (s *MemoryStore) SaveResult(_ context.Context, result *model.Result) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.runs[result.RunID]; !ok {
		return fmt.Errorf("run %s: %w", result.RunID, ErrNotFound)
	}
	copy := *result
	s.results[result.RunID] = &copy
	return nil
}

func (s *MemoryStore) GetEquityCurve(_ context.Context, runID string) ([]model.EquityPoint, error) {
	res, err := s.result(runID)
	if err != nil {
		return nil, err
	}
	return append([]model.EquityPoint(nil), res.EquityCurve...), nil
}

func (s *MemoryStore) GetOrders(_ context.Context, runID string) ([]model.Order, error) {
	res, err := s.result(runID)
	if err != nil {
		return nil, err
	}
	return append([]model.Order(nil), res.Orders...), nil
}

func (s *MemoryStore) GetFills(_ context.Context, runID string) ([]model.Fill, error) {
	res, err := s.result(runID)
	if err != nil {
		return nil, err
	}
	return append([]model.Fill(nil), res.Fills...), nil
}

func (s *MemoryStore) GetSummary(_ context.Context, runID string) (*model.Summary, error) {
	res, err := s.result(runID)
	if err != nil {
		return nil, err
	}
	summary := res.Summary
	return &summary, nil
}

func (s *MemoryStore) result(runID string) (*model.Result, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	res, ok := s.results[runID]
	if !ok {
		return nil, fmt.Errorf("result for run %s: %w", runID, ErrNotFound)
	}
	return res, nil
}
