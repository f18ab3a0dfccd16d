package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/atmx/backtest-engine/internal/model"
)

func testRun(id string, createdAt time.Time) *model.Run {
	return &model.Run{
		ID:             id,
		Strategy:       "buy_and_hold",
		Symbols:        []string{"AAPL"},
		InitialCapital: decimal.NewFromInt(100000),
		Status:         model.RunPending,
		CreatedAt:      createdAt,
	}
}

func TestMemoryStore_RunLifecycle(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	created := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	if err := s.CreateRun(ctx, testRun("r1", created)); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := s.CreateRun(ctx, testRun("r1", created)); err == nil {
		t.Error("expected duplicate create to fail")
	}

	done := created.Add(time.Minute)
	if err := s.UpdateRunStatus(ctx, "r1", model.RunDone, "", done); err != nil {
		t.Fatalf("update status: %v", err)
	}

	run, err := s.GetRun(ctx, "r1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if run.Status != model.RunDone {
		t.Errorf("expected done, got %s", run.Status)
	}
	if !run.CompletedAt.Equal(done) {
		t.Errorf("expected completed at %v, got %v", done, run.CompletedAt)
	}
}

func TestMemoryStore_GetRunNotFound(t *testing.T) {
	s := NewMemoryStore()
	if _, err := s.GetRun(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestMemoryStore_ListRunsNewestFirst(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	s.CreateRun(ctx, testRun("old", t0))
	s.CreateRun(ctx, testRun("new", t0.Add(time.Hour)))

	runs, err := s.ListRuns(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(runs) != 2 || runs[0].ID != "new" {
		t.Errorf("expected newest first, got %v", runs)
	}
}

func TestMemoryStore_ResultRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	s.CreateRun(ctx, testRun("r1", t0))

	result := &model.Result{
		RunID: "r1",
		EquityCurve: []model.EquityPoint{
			{Time: t0, Total: decimal.NewFromInt(100000), CumulativeReturn: decimal.NewFromInt(1)},
		},
		Orders: []model.Order{{ID: "o1", Symbol: "AAPL", Status: model.OrderClosed}},
		Fills:  []model.Fill{{OrderID: "o1", Symbol: "AAPL"}},
		Summary: model.Summary{
			TradeCount: 1,
		},
	}
	if err := s.SaveResult(ctx, result); err != nil {
		t.Fatalf("save: %v", err)
	}

	curve, err := s.GetEquityCurve(ctx, "r1")
	if err != nil || len(curve) != 1 {
		t.Fatalf("equity curve: %v len=%d", err, len(curve))
	}
	orders, _ := s.GetOrders(ctx, "r1")
	if len(orders) != 1 || orders[0].ID != "o1" {
		t.Errorf("unexpected orders %v", orders)
	}
	fills, _ := s.GetFills(ctx, "r1")
	if len(fills) != 1 {
		t.Errorf("unexpected fills %v", fills)
	}
	summary, err := s.GetSummary(ctx, "r1")
	if err != nil || summary.TradeCount != 1 {
		t.Errorf("unexpected summary %+v err=%v", summary, err)
	}
}

func TestMemoryStore_SaveResultUnknownRun(t *testing.T) {
	s := NewMemoryStore()
	err := s.SaveResult(context.Background(), &model.Result{RunID: "missing"})
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestMemoryStore_ResultNotFound(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	s.CreateRun(ctx, testRun("r1", time.Now()))

	if _, err := s.GetSummary(ctx, "r1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound before a result is saved, got %v", err)
	}
}
