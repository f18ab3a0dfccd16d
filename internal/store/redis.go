package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/atmx/backtest-engine/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache. Writes go to the primary store and invalidate the cache; reads
// check Redis first then fall back to the primary. Completed results are
// immutable, so their reads cache particularly well.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

// --- Write-through (write to primary, invalidate cache) ---

func (s *CachedStore) CreateRun(ctx context.Context, run *model.Run) error {
	if err := s.primary.CreateRun(ctx, run); err != nil {
		return err
	}
	s.cacheRun(ctx, run)
	return nil
}

func (s *CachedStore) UpdateRunStatus(ctx context.Context, id string, status model.RunStatus, runErr string, completedAt time.Time) error {
	if err := s.primary.UpdateRunStatus(ctx, id, status, runErr, completedAt); err != nil {
		return err
	}
	// Invalidate cache; next read will re-populate.
	s.rdb.Del(ctx, runKey(id))
	return nil
}

func (s *CachedStore) SaveResult(ctx context.Context, result *model.Result) error {
	if err := s.primary.SaveResult(ctx, result); err != nil {
		return err
	}
	if data, err := json.Marshal(result.Summary); err == nil {
		s.rdb.Set(ctx, summaryKey(result.RunID), data, s.ttl)
	}
	return nil
}

// --- Read-through (check cache first) ---

func (s *CachedStore) GetRun(ctx context.Context, id string) (*model.Run, error) {
	// Try cache.
	data, err := s.rdb.Get(ctx, runKey(id)).Bytes()
	if err == nil {
		var run model.Run
		if json.Unmarshal(data, &run) == nil {
			return &run, nil
		}
	}

	// Cache miss: read from primary.
	run, err := s.primary.GetRun(ctx, id)
	if err != nil {
		return nil, err
	}

	s.cacheRun(ctx, run)
	return run, nil
}

func (s *CachedStore) GetSummary(ctx context.Context, runID string) (*model.Summary, error) {
	// Try cache.
	data, err := s.rdb.Get(ctx, summaryKey(runID)).Bytes()
	if err == nil {
		var summary model.Summary
		if json.Unmarshal(data, &summary) == nil {
			return &summary, nil
		}
	}

	// Cache miss.
	summary, err := s.primary.GetSummary(ctx, runID)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(summary); err == nil {
		s.rdb.Set(ctx, summaryKey(runID), data, s.ttl)
	}
	return summary, nil
}

func (s *CachedStore) GetEquityCurve(ctx context.Context, runID string) ([]model.EquityPoint, error) {
	// Try cache.
	data, err := s.rdb.Get(ctx, equityKey(runID)).Bytes()
	if err == nil {
		var curve []model.EquityPoint
		if json.Unmarshal(data, &curve) == nil {
			return curve, nil
		}
	}

	// Cache miss.
	curve, err := s.primary.GetEquityCurve(ctx, runID)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(curve); err == nil {
		s.rdb.Set(ctx, equityKey(runID), data, s.ttl)
	}
	return curve, nil
}

// --- Passthrough (not cached) ---

func (s *CachedStore) ListRuns(ctx context.Context) ([]model.Run, error) {
	return s.primary.ListRuns(ctx)
}

func (s *CachedStore) GetOrders(ctx context.Context, runID string) ([]model.Order, error) {
	return s.primary.GetOrders(ctx, runID)
}

func (s *CachedStore) GetFills(ctx context.Context, runID string) ([]model.Fill, error) {
	return s.primary.GetFills(ctx, runID)
}

// --- Cache helpers ---

func (s *CachedStore) cacheRun(ctx context.Context, run *model.Run) {
	if data, err := json.Marshal(run); err == nil {
		s.rdb.Set(ctx, runKey(run.ID), data, s.ttl)
	}
}

func runKey(id string) string      { return fmt.Sprintf("run:%s", id) }
func equityKey(id string) string   { return fmt.Sprintf("equity:%s", id) }
func summaryKey(id string) string  { return fmt.Sprintf("summary:%s", id) }
