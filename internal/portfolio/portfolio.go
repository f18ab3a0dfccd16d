// Package portfolio tracks positions, holdings, and order history, converts
// signals into sized orders, and folds fills into cash and exposure. It owns
// all position/holdings state; the matching engine owns the order book. The
// two exchange state only through events.
package portfolio

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/atmx/backtest-engine/internal/data"
	"github.com/atmx/backtest-engine/internal/event"
	"github.com/atmx/backtest-engine/internal/metrics"
	"github.com/atmx/backtest-engine/internal/model"
	"github.com/atmx/backtest-engine/internal/performance"
)

var (
	// ErrMarkToMarket is returned when bar data required to value a held
	// position is missing. This is fatal: the run cannot continue with an
	// inconsistent equity series.
	ErrMarkToMarket = errors.New("portfolio: missing bar data for mark-to-market")

	// ErrFillAfterClose is returned when a third fill arrives for an order
	// whose entry and exit have both been stamped.
	ErrFillAfterClose = errors.New("portfolio: fill against closed order")
)

// Portfolio is the capability set the driver requires. Variants (naive,
// risk-managed) are selected at construction, not by subclassing.
type Portfolio interface {
	// UpdateTimeIndex appends one position row and one holdings row for the
	// current bar, marking open positions to the adjusted close. Called
	// exactly once per Market event.
	UpdateTimeIndex(event.Market) error

	// UpdateSignal converts a signal intent into at most one sized order.
	UpdateSignal(event.Signal) (*event.Order, error)

	// UpdateFill applies an execution to positions, cash, and order history.
	UpdateFill(event.Fill) error

	// Finalize computes the equity curve and summary statistics. Safe to call
	// after a fatal stop: it returns the last consistent snapshot.
	Finalize(periodsPerYear int) *model.Result
}

// Config parameterizes a Ledger.
type Config struct {
	InitialCapital decimal.Decimal
	StartDate      time.Time

	// UnitSize is the base order quantity; order size is
	// floor(signal strength × UnitSize). Defaults to 100.
	UnitSize int64
}

// Ledger is the naive fixed-size portfolio: every entry signal is sized to
// floor(strength × unit), one position per symbol, no risk management.
type Ledger struct {
	bars    data.Handler
	symbols []string
	cfg     Config

	cash       decimal.Decimal
	commission decimal.Decimal
	positions  map[string]int64

	allPositions []model.PositionSnapshot
	allHoldings  []model.HoldingsSnapshot

	orders     []*model.Order
	orderIndex map[string]*model.Order
	fills      []model.Fill
}

// NewLedger creates a naive ledger seeded with the initial capital at the
// configured start date.
func NewLedger(bars data.Handler, cfg Config) *Ledger {
	if cfg.UnitSize <= 0 {
		cfg.UnitSize = 100
	}
	l := &Ledger{
		bars:       bars,
		symbols:    bars.Symbols(),
		cfg:        cfg,
		cash:       cfg.InitialCapital,
		positions:  make(map[string]int64),
		orderIndex: make(map[string]*model.Order),
	}
	for _, s := range l.symbols {
		l.positions[s] = 0
	}

	// Seed row so the equity curve starts at the initial capital.
	l.allPositions = append(l.allPositions, model.PositionSnapshot{
		Time:      cfg.StartDate,
		Positions: copyPositions(l.positions),
	})
	seed := model.HoldingsSnapshot{
		Time:         cfg.StartDate,
		Cash:         cfg.InitialCapital,
		Commission:   decimal.Zero,
		MarketValues: make(map[string]decimal.Decimal, len(l.symbols)),
		Total:        cfg.InitialCapital,
	}
	for _, s := range l.symbols {
		seed.MarketValues[s] = decimal.Zero
	}
	l.allHoldings = append(l.allHoldings, seed)
	return l
}

// UpdateTimeIndex appends the per-bar position and holdings rows, valuing
// open positions at the bar's adjusted close.
func (l *Ledger) UpdateTimeIndex(event.Market) error {
	t, err := l.bars.LatestBarTime(l.symbols[0])
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMarkToMarket, err)
	}

	l.allPositions = append(l.allPositions, model.PositionSnapshot{
		Time:      t,
		Positions: copyPositions(l.positions),
	})

	h := model.HoldingsSnapshot{
		Time:         t,
		Cash:         l.cash,
		Commission:   l.commission,
		MarketValues: make(map[string]decimal.Decimal, len(l.symbols)),
		Total:        l.cash,
	}
	for _, s := range l.symbols {
		pos := l.positions[s]
		if pos == 0 {
			h.MarketValues[s] = decimal.Zero
			continue
		}
		price, err := l.bars.LatestBarValue(s, model.FieldAdjClose)
		if err != nil {
			return fmt.Errorf("%w: symbol %s held %d: %v", ErrMarkToMarket, s, pos, err)
		}
		mv := price.Mul(decimal.NewFromInt(pos))
		h.MarketValues[s] = mv
		h.Total = h.Total.Add(mv)
	}
	l.allHoldings = append(l.allHoldings, h)
	return nil
}

// UpdateSignal applies the naive fixed-size policy.
func (l *Ledger) UpdateSignal(se event.Signal) (*event.Order, error) {
	o := l.buildOrder(se.Intent)
	if o == nil {
		return nil, nil
	}
	if _, tracked := l.orderIndex[o.ID]; !tracked {
		l.record(o)
	}
	return &event.Order{At: se.Intent.Time, Order: *o}, nil
}

// buildOrder sizes an intent into an order, or returns nil when policy
// ignores the signal. It does not record the order in history.
func (l *Ledger) buildOrder(in model.SignalIntent) *model.Order {
	switch in.Direction {
	case model.SignalLong, model.SignalShort:
		if l.positions[in.Symbol] != 0 {
			// Single position per symbol: further entries are ignored, not
			// errors.
			metrics.SignalsIgnored.WithLabelValues("single_position").Inc()
			slog.Debug("signal ignored, position already open", "symbol", in.Symbol)
			return nil
		}
		qty := int64(math.Floor(in.Strength * float64(l.cfg.UnitSize)))
		if qty <= 0 {
			metrics.SignalsIgnored.WithLabelValues("zero_quantity").Inc()
			return nil
		}
		dir := model.Buy
		if in.Direction == model.SignalShort {
			dir = model.Sell
		}
		kind := in.Kind
		if kind == "" {
			kind = model.OrderMarket
		}
		return &model.Order{
			ID:           uuid.New().String(),
			Symbol:       in.Symbol,
			Direction:    dir,
			Quantity:     qty,
			Kind:         kind,
			LimitPrice:   in.LimitPrice,
			StopLoss:     in.StopLoss,
			ProfitTarget: in.ProfitTarget,
			Status:       model.OrderPending,
		}

	case model.SignalExit:
		pos := l.positions[in.Symbol]
		if pos == 0 {
			return nil
		}
		open := l.findOpenOrder(in.Symbol)
		if open == nil {
			return nil
		}
		dir := model.Sell
		if pos < 0 {
			dir = model.Buy
		}
		// Reuse the entry order's ID so both fills resolve against the same
		// history record.
		return &model.Order{
			ID:        open.ID,
			Symbol:    in.Symbol,
			Direction: dir,
			Quantity:  absInt64(pos),
			Kind:      model.OrderMarket,
			Status:    open.Status,
		}

	default:
		return nil
	}
}

// findOpenOrder locates the order with a stamped entry and no exit for the
// symbol.
func (l *Ledger) findOpenOrder(symbol string) *model.Order {
	for _, o := range l.orders {
		if o.Symbol == symbol && !o.EntryTime.IsZero() && o.ExitTime.IsZero() {
			return o
		}
	}
	return nil
}

// UpdateFill applies an execution: signed position update, cash deduction of
// signed notional plus commission, and order-history resolution. The first
// fill for an order stamps its entry, the second stamps its exit and realized
// PnL, a third is rejected.
func (l *Ledger) UpdateFill(fe event.Fill) error {
	f := fe.Fill
	l.fills = append(l.fills, f)

	sign := f.Direction.Sign()
	l.positions[f.Symbol] += sign * f.Quantity

	notional := f.Price.Mul(decimal.NewFromInt(sign * f.Quantity))
	l.cash = l.cash.Sub(notional).Sub(f.Commission)
	l.commission = l.commission.Add(f.Commission)

	o, ok := l.orderIndex[f.OrderID]
	if !ok {
		// Fill for an order the ledger never issued. Track it anyway so the
		// history stays complete.
		slog.Warn("fill for untracked order", "order_id", f.OrderID, "symbol", f.Symbol)
		o = &model.Order{
			ID:        f.OrderID,
			Symbol:    f.Symbol,
			Direction: f.Direction,
			Quantity:  f.Quantity,
			Kind:      model.OrderMarket,
			Status:    model.OrderPending,
		}
		l.record(o)
	}

	switch {
	case o.EntryTime.IsZero():
		o.EntryTime = f.Time
		o.EntryPrice = f.Price
		o.Commission = o.Commission.Add(f.Commission)
		o.Status = model.OrderOpen
	case o.ExitTime.IsZero():
		o.ExitTime = f.Time
		o.ExitPrice = f.Price
		o.Commission = o.Commission.Add(f.Commission)
		o.Status = model.OrderClosed
		signedQty := decimal.NewFromInt(o.Direction.Sign() * o.Quantity)
		o.RealizedPnL = o.ExitPrice.Sub(o.EntryPrice).Mul(signedQty).Sub(o.Commission)
	default:
		return fmt.Errorf("%w: order %s", ErrFillAfterClose, f.OrderID)
	}
	return nil
}

// Finalize derives the equity curve and summary statistics from the recorded
// holdings and closed trades.
func (l *Ledger) Finalize(periodsPerYear int) *model.Result {
	curve := performance.EquityCurve(l.allHoldings)
	orders := make([]model.Order, len(l.orders))
	for i, o := range l.orders {
		orders[i] = *o
	}
	return &model.Result{
		EquityCurve: curve,
		Holdings:    l.allHoldings,
		Positions:   l.allPositions,
		Orders:      orders,
		Fills:       l.fills,
		Summary:     performance.Summarize(curve, orders, periodsPerYear),
	}
}

// Positions returns a copy of the current signed positions.
func (l *Ledger) Positions() map[string]int64 {
	return copyPositions(l.positions)
}

// Cash returns the current cash balance.
func (l *Ledger) Cash() decimal.Decimal {
	return l.cash
}

func (l *Ledger) record(o *model.Order) {
	l.orders = append(l.orders, o)
	l.orderIndex[o.ID] = o
}

func copyPositions(src map[string]int64) map[string]int64 {
	dst := make(map[string]int64, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}

func absInt64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
