package data

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/atmx/backtest-engine/internal/event"
	"github.com/atmx/backtest-engine/internal/model"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

func writeCSV(t *testing.T, dir, symbol, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, symbol+".csv"), []byte(content), 0o644); err != nil {
		t.Fatalf("write csv: %v", err)
	}
}

const header = "Date,Open,High,Low,Close,Adj Close,Volume\n"

func TestHistoricCSV_Load(t *testing.T) {
	dir := t.TempDir()
	writeCSV(t, dir, "AAPL", header+
		"2024-01-02,100,105,99,104,104,1000\n"+
		"2024-01-03,104,108,103,107,107,1200\n")

	bus := event.NewBus()
	h, err := NewHistoricCSV(bus, dir, []string{"AAPL"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !h.HasMore() {
		t.Fatal("expected bars available")
	}
	if err := h.Advance(); err != nil {
		t.Fatalf("advance: %v", err)
	}

	bar, err := h.LatestBar("AAPL")
	if err != nil {
		t.Fatalf("latest bar: %v", err)
	}
	if !bar.Close.Equal(d(104)) {
		t.Errorf("expected close 104, got %s", bar.Close)
	}
	if bar.Volume != 1000 {
		t.Errorf("expected volume 1000, got %d", bar.Volume)
	}
	want := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	if !bar.Time.Equal(want) {
		t.Errorf("expected time %v, got %v", want, bar.Time)
	}
}

func TestHistoricCSV_AdvanceEnqueuesMarketEvent(t *testing.T) {
	dir := t.TempDir()
	writeCSV(t, dir, "AAPL", header+"2024-01-02,100,105,99,104,104,1000\n")

	bus := event.NewBus()
	h, _ := NewHistoricCSV(bus, dir, []string{"AAPL"})
	if err := h.Advance(); err != nil {
		t.Fatalf("advance: %v", err)
	}

	e, ok := bus.Dequeue()
	if !ok || e.Kind() != event.KindMarket {
		t.Fatalf("expected MARKET event after advance, got %v ok=%v", e, ok)
	}
}

func TestHistoricCSV_MissingFile(t *testing.T) {
	bus := event.NewBus()
	if _, err := NewHistoricCSV(bus, t.TempDir(), []string{"MISSING"}); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestHistoricCSV_NonAscendingDates(t *testing.T) {
	dir := t.TempDir()
	writeCSV(t, dir, "BAD", header+
		"2024-01-03,100,105,99,104,104,1000\n"+
		"2024-01-02,104,108,103,107,107,1200\n")

	bus := event.NewBus()
	if _, err := NewHistoricCSV(bus, dir, []string{"BAD"}); err == nil {
		t.Fatal("expected error for out-of-order rows")
	}
}

func TestStaticHandler_LockstepAdvance(t *testing.T) {
	bus := event.NewBus()
	h, err := NewStaticHandler(bus, map[string][]model.Bar{
		"A": testBars("A", 3),
		"B": testBars("B", 2),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// The run ends at the shortest series.
	var ticks int
	for h.HasMore() {
		if err := h.Advance(); err != nil {
			t.Fatalf("advance: %v", err)
		}
		ticks++
	}
	if ticks != 2 {
		t.Errorf("expected 2 ticks (shortest series), got %d", ticks)
	}
	if err := h.Advance(); !errors.Is(err, ErrExhausted) {
		t.Errorf("expected ErrExhausted, got %v", err)
	}
}

func TestStaticHandler_SymbolsSorted(t *testing.T) {
	bus := event.NewBus()
	h, _ := NewStaticHandler(bus, map[string][]model.Bar{
		"ZZZ": testBars("ZZZ", 1),
		"AAA": testBars("AAA", 1),
	})
	syms := h.Symbols()
	if len(syms) != 2 || syms[0] != "AAA" || syms[1] != "ZZZ" {
		t.Errorf("expected sorted symbols [AAA ZZZ], got %v", syms)
	}
}

func TestStaticHandler_NoBarBeforeAdvance(t *testing.T) {
	bus := event.NewBus()
	h, _ := NewStaticHandler(bus, map[string][]model.Bar{"A": testBars("A", 1)})
	if _, err := h.LatestBar("A"); !errors.Is(err, ErrNoBar) {
		t.Errorf("expected ErrNoBar before first advance, got %v", err)
	}
}

func TestStaticHandler_LatestBarValuesWindow(t *testing.T) {
	bus := event.NewBus()
	h, _ := NewStaticHandler(bus, map[string][]model.Bar{"A": testBars("A", 5)})

	h.Advance()
	h.Advance()

	if _, err := h.LatestBarValues("A", model.FieldClose, 3); !errors.Is(err, ErrShortWindow) {
		t.Errorf("expected ErrShortWindow with 2 bars seen, got %v", err)
	}

	h.Advance()
	values, err := h.LatestBarValues("A", model.FieldClose, 3)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(values) != 3 {
		t.Fatalf("expected 3 values, got %d", len(values))
	}
	// Oldest first.
	if !values[0].LessThan(values[2]) {
		t.Errorf("expected oldest-first window, got %v", values)
	}
}

// testBars builds n bars with close = 100+i on consecutive days.
func testBars(symbol string, n int) []model.Bar {
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	bars := make([]model.Bar, n)
	for i := range bars {
		c := d(float64(100 + i))
		bars[i] = model.Bar{
			Symbol:   symbol,
			Time:     t0.AddDate(0, 0, i),
			Open:     c,
			High:     c.Add(d(1)),
			Low:      c.Sub(d(1)),
			Close:    c,
			AdjClose: c,
			Volume:   1000,
		}
	}
	return bars
}
