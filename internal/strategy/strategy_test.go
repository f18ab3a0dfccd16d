package strategy

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/atmx/backtest-engine/internal/data"
	"github.com/atmx/backtest-engine/internal/event"
	"github.com/atmx/backtest-engine/internal/model"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

var day0 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func testBars(symbol string, closes ...float64) []model.Bar {
	bars := make([]model.Bar, len(closes))
	for i, c := range closes {
		bars[i] = model.Bar{
			Symbol:   symbol,
			Time:     day0.AddDate(0, 0, i),
			Open:     d(c),
			High:     d(c + 1),
			Low:      d(c - 1),
			Close:    d(c),
			AdjClose: d(c),
			Volume:   1000,
		}
	}
	return bars
}

// drainSignals dequeues all queued Signal events.
func drainSignals(bus *event.Bus) []event.Signal {
	var signals []event.Signal
	for {
		e, ok := bus.Dequeue()
		if !ok {
			return signals
		}
		if s, ok := e.(event.Signal); ok {
			signals = append(signals, s)
		}
	}
}

// --- BuyAndHold ---

func TestBuyAndHold_SignalsOncePerSymbol(t *testing.T) {
	bus := event.NewBus()
	h, _ := data.NewStaticHandler(bus, map[string][]model.Bar{
		"AAPL": testBars("AAPL", 100, 101, 102),
	})
	s := NewBuyAndHold(h, bus)

	h.Advance()
	drainSignals(bus) // discard the Market event

	s.CalculateSignals(event.Market{At: day0})
	signals := drainSignals(bus)
	if len(signals) != 1 {
		t.Fatalf("expected 1 signal on first bar, got %d", len(signals))
	}
	in := signals[0].Intent
	if in.Direction != model.SignalLong || in.Strength != 1 {
		t.Errorf("expected full-strength LONG, got %+v", in)
	}

	h.Advance()
	drainSignals(bus)
	s.CalculateSignals(event.Market{At: day0.AddDate(0, 0, 1)})
	if extra := drainSignals(bus); len(extra) != 0 {
		t.Errorf("expected no further signals, got %d", len(extra))
	}
}

// --- SMACross ---

func TestNewSMACross_InvalidWindows(t *testing.T) {
	bus := event.NewBus()
	h, _ := data.NewStaticHandler(bus, map[string][]model.Bar{"AAPL": testBars("AAPL", 100)})

	if _, err := NewSMACross(h, bus, 0, 5); err == nil {
		t.Error("expected error for short=0")
	}
	if _, err := NewSMACross(h, bus, 5, 5); err == nil {
		t.Error("expected error for long == short")
	}
	if _, err := NewSMACross(h, bus, 5, 3); err == nil {
		t.Error("expected error for long < short")
	}
}

func TestSMACross_NoSignalBeforeWindow(t *testing.T) {
	bus := event.NewBus()
	h, _ := data.NewStaticHandler(bus, map[string][]model.Bar{
		"AAPL": testBars("AAPL", 100, 101, 102, 103, 104),
	})
	s, err := NewSMACross(h, bus, 2, 4)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Only 2 bars seen: window of 4 not available yet.
	h.Advance()
	h.Advance()
	drainSignals(bus)
	if err := s.CalculateSignals(event.Market{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if signals := drainSignals(bus); len(signals) != 0 {
		t.Errorf("expected no signals before the long window fills, got %d", len(signals))
	}
}

func TestSMACross_LongOnUptrend(t *testing.T) {
	bus := event.NewBus()
	// Steadily rising closes: the short SMA sits above the long SMA.
	h, _ := data.NewStaticHandler(bus, map[string][]model.Bar{
		"AAPL": testBars("AAPL", 100, 102, 104, 106, 108),
	})
	s, _ := NewSMACross(h, bus, 2, 4)

	for i := 0; i < 4; i++ {
		h.Advance()
	}
	drainSignals(bus)

	s.CalculateSignals(event.Market{})
	signals := drainSignals(bus)
	if len(signals) != 1 {
		t.Fatalf("expected 1 signal, got %d", len(signals))
	}
	if signals[0].Intent.Direction != model.SignalLong {
		t.Errorf("expected LONG on uptrend, got %s", signals[0].Intent.Direction)
	}

	// Still trending up: no duplicate entry while invested.
	h.Advance()
	drainSignals(bus)
	s.CalculateSignals(event.Market{})
	if extra := drainSignals(bus); len(extra) != 0 {
		t.Errorf("expected no duplicate entry, got %d", len(extra))
	}
}

func TestSMACross_ExitOnDowncross(t *testing.T) {
	bus := event.NewBus()
	// Rise then collapse: the short SMA crosses back under the long SMA.
	h, _ := data.NewStaticHandler(bus, map[string][]model.Bar{
		"AAPL": testBars("AAPL", 100, 102, 104, 106, 90, 80),
	})
	s, _ := NewSMACross(h, bus, 2, 4)

	for i := 0; i < 4; i++ {
		h.Advance()
	}
	drainSignals(bus)
	s.CalculateSignals(event.Market{}) // enters long
	drainSignals(bus)

	h.Advance()
	h.Advance()
	drainSignals(bus)
	s.CalculateSignals(event.Market{})
	signals := drainSignals(bus)
	if len(signals) != 1 {
		t.Fatalf("expected exit signal, got %d", len(signals))
	}
	if signals[0].Intent.Direction != model.SignalExit {
		t.Errorf("expected EXIT on downcross, got %s", signals[0].Intent.Direction)
	}
}
