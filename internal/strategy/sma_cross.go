package strategy

import (
	"fmt"

	"github.com/markcheno/go-talib"

	"github.com/atmx/backtest-engine/internal/data"
	"github.com/atmx/backtest-engine/internal/event"
	"github.com/atmx/backtest-engine/internal/model"
)

// SMACross goes long when the short moving average crosses above the long
// one and exits when it crosses back below. Indicator math runs on float64
// via go-talib; signals carry no prices, so decimal exactness is unaffected.
type SMACross struct {
	bars     data.Handler
	bus      *event.Bus
	short    int
	long     int
	invested map[string]bool
}

// NewSMACross creates the crossover strategy with the given window lengths.
func NewSMACross(bars data.Handler, bus *event.Bus, short, long int) (*SMACross, error) {
	if short <= 0 || long <= short {
		return nil, fmt.Errorf("strategy: invalid windows short=%d long=%d", short, long)
	}
	return &SMACross{
		bars:     bars,
		bus:      bus,
		short:    short,
		long:     long,
		invested: make(map[string]bool),
	}, nil
}

func (s *SMACross) Name() string { return fmt.Sprintf("sma_cross_%d_%d", s.short, s.long) }

func (s *SMACross) CalculateSignals(event.Market) error {
	for _, sym := range s.bars.Symbols() {
		values, err := s.bars.LatestBarValues(sym, model.FieldAdjClose, s.long)
		if err != nil {
			continue // not enough bars seen yet
		}
		closes := make([]float64, len(values))
		for i, v := range values {
			closes[i] = v.InexactFloat64()
		}

		shortSMA := talib.Sma(closes, s.short)
		longSMA := talib.Sma(closes, s.long)
		fast := shortSMA[len(shortSMA)-1]
		slow := longSMA[len(longSMA)-1]

		t, err := s.bars.LatestBarTime(sym)
		if err != nil {
			continue
		}

		switch {
		case fast > slow && !s.invested[sym]:
			s.bus.Enqueue(event.Signal{Intent: model.SignalIntent{
				Symbol:    sym,
				Time:      t,
				Direction: model.SignalLong,
				Kind:      model.OrderMarket,
				Strength:  1,
			}})
			s.invested[sym] = true
		case fast < slow && s.invested[sym]:
			s.bus.Enqueue(event.Signal{Intent: model.SignalIntent{
				Symbol:    sym,
				Time:      t,
				Direction: model.SignalExit,
				Kind:      model.OrderMarket,
				Strength:  1,
			}})
			s.invested[sym] = false
		}
	}
	return nil
}
