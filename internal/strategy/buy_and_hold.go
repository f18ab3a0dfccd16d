package strategy

import (
	"github.com/atmx/backtest-engine/internal/data"
	"github.com/atmx/backtest-engine/internal/event"
	"github.com/atmx/backtest-engine/internal/model"
)

// BuyAndHold goes long each symbol on its first bar and never exits. The
// simplest possible baseline for sanity-checking the engine.
type BuyAndHold struct {
	bars   data.Handler
	bus    *event.Bus
	bought map[string]bool
}

// NewBuyAndHold creates the strategy over the given data handler and bus.
func NewBuyAndHold(bars data.Handler, bus *event.Bus) *BuyAndHold {
	return &BuyAndHold{
		bars:   bars,
		bus:    bus,
		bought: make(map[string]bool),
	}
}

func (s *BuyAndHold) Name() string { return "buy_and_hold" }

func (s *BuyAndHold) CalculateSignals(event.Market) error {
	for _, sym := range s.bars.Symbols() {
		if s.bought[sym] {
			continue
		}
		t, err := s.bars.LatestBarTime(sym)
		if err != nil {
			continue // symbol has no bar yet
		}
		s.bus.Enqueue(event.Signal{Intent: model.SignalIntent{
			Symbol:    sym,
			Time:      t,
			Direction: model.SignalLong,
			Kind:      model.OrderMarket,
			Strength:  1,
		}})
		s.bought[sym] = true
	}
	return nil
}
