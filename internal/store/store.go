// Package store defines the persistence interface for backtest runs and
// their results. Implementations include PostgreSQL (source of truth),
// Redis (read-through cache), and in-memory (for testing).
package store

import (
	"context"
	"errors"
	"time"

	"github.com/atmx/backtest-engine/internal/model"
)

// ErrNotFound is returned when a run or result does not exist.
var ErrNotFound = errors.New("not found")

// Store is the persistence interface. PostgreSQL is the source of truth;
// Redis provides a read-through cache layer.
type Store interface {
	// --- Run lifecycle ---

	// CreateRun persists a new run record.
	CreateRun(ctx context.Context, run *model.Run) error

	// GetRun retrieves a run by its ID.
	GetRun(ctx context.Context, id string) (*model.Run, error)

	// ListRuns returns all runs, newest first.
	ListRuns(ctx context.Context) ([]model.Run, error)

	// UpdateRunStatus transitions a run's lifecycle state. runErr and
	// completedAt are recorded only when non-zero.
	UpdateRunStatus(ctx context.Context, id string, status model.RunStatus, runErr string, completedAt time.Time) error

	// --- Results ---

	// SaveResult persists the full output of a finished run.
	SaveResult(ctx context.Context, result *model.Result) error

	// GetEquityCurve returns the equity curve of a run, oldest first.
	GetEquityCurve(ctx context.Context, runID string) ([]model.EquityPoint, error)

	// GetOrders returns the order history of a run.
	GetOrders(ctx context.Context, runID string) ([]model.Order, error)

	// GetFills returns the fill log of a run, oldest first.
	GetFills(ctx context.Context, runID string) ([]model.Fill, error)

	// GetSummary returns the summary statistics of a run.
	GetSummary(ctx context.Context, runID string) (*model.Summary, error)
}
