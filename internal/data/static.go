package data

import (
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/atmx/backtest-engine/internal/event"
	"github.com/atmx/backtest-engine/internal/model"
)

// StaticHandler serves bars from in-memory series, advancing all symbols in
// lockstep by row index. Used by tests and synthetic scenarios.
type StaticHandler struct {
	bus     *event.Bus
	symbols []string
	series  map[string][]model.Bar
	cursor  int // bars seen so far; current bar is cursor-1
	length  int // shortest series length
}

// NewStaticHandler creates a handler over pre-built bar series. All series
// are advanced in lockstep; the run ends at the shortest series.
func NewStaticHandler(bus *event.Bus, series map[string][]model.Bar) (*StaticHandler, error) {
	if len(series) == 0 {
		return nil, fmt.Errorf("data: no symbols provided")
	}
	h := &StaticHandler{bus: bus, series: series, length: -1}
	for sym, bars := range series {
		if len(bars) == 0 {
			return nil, fmt.Errorf("data: empty series for %s", sym)
		}
		h.symbols = append(h.symbols, sym)
		if h.length < 0 || len(bars) < h.length {
			h.length = len(bars)
		}
	}
	// Map iteration order is random; sort so ticks and snapshots are
	// reproducible across runs.
	sort.Strings(h.symbols)
	return h, nil
}

// StartTime returns the timestamp of the first bar, before any Advance.
func (h *StaticHandler) StartTime() time.Time {
	return h.series[h.symbols[0]][0].Time
}

func (h *StaticHandler) HasMore() bool {
	return h.cursor < h.length
}

func (h *StaticHandler) Advance() error {
	if !h.HasMore() {
		return ErrExhausted
	}
	h.cursor++
	first := h.series[h.symbols[0]]
	h.bus.Enqueue(event.Market{At: first[h.cursor-1].Time})
	return nil
}

func (h *StaticHandler) Symbols() []string {
	return h.symbols
}

func (h *StaticHandler) LatestBar(symbol string) (model.Bar, error) {
	bars, ok := h.series[symbol]
	if !ok || h.cursor == 0 {
		return model.Bar{}, fmt.Errorf("%w: %s", ErrNoBar, symbol)
	}
	return bars[h.cursor-1], nil
}

func (h *StaticHandler) LatestBarTime(symbol string) (time.Time, error) {
	bar, err := h.LatestBar(symbol)
	if err != nil {
		return time.Time{}, err
	}
	return bar.Time, nil
}

func (h *StaticHandler) LatestBarValue(symbol string, field model.Field) (decimal.Decimal, error) {
	bar, err := h.LatestBar(symbol)
	if err != nil {
		return decimal.Zero, err
	}
	return bar.Value(field), nil
}

func (h *StaticHandler) LatestBarValues(symbol string, field model.Field, n int) ([]decimal.Decimal, error) {
	bars, ok := h.series[symbol]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoBar, symbol)
	}
	if n <= 0 || n > h.cursor {
		return nil, fmt.Errorf("%w: have %d, want %d", ErrShortWindow, h.cursor, n)
	}
	values := make([]decimal.Decimal, 0, n)
	for _, bar := range bars[h.cursor-n : h.cursor] {
		values = append(values, bar.Value(field))
	}
	return values, nil
}
