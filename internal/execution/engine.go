// Package execution simulates order matching against historical bars. The
// engine owns the book of outstanding orders; the ledger owns positions and
// history. The two exchange state only through events.
package execution

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/atmx/backtest-engine/internal/data"
	"github.com/atmx/backtest-engine/internal/event"
	"github.com/atmx/backtest-engine/internal/metrics"
	"github.com/atmx/backtest-engine/internal/model"
)

var (
	// ErrInvalidQuantity is returned for orders with quantity <= 0.
	ErrInvalidQuantity = errors.New("execution: order quantity must be positive")

	// ErrNoCurrentBar is returned when an order references a symbol with no
	// bar at the current cursor. The order cannot be matched; the run
	// continues without it.
	ErrNoCurrentBar = errors.New("execution: no current bar for order symbol")

	// ErrOrderClosed is returned when an order event targets a book entry
	// that has already been closed.
	ErrOrderClosed = errors.New("execution: order already closed")
)

// TiebreakPolicy decides which trigger fires when a bar's range crosses both
// the stop loss and the profit target. Intrabar path order is unobservable
// from OHLC alone, so this is policy, not inference.
type TiebreakPolicy string

const (
	// TiebreakStopFirst assumes the stop fires first — the conservative
	// default.
	TiebreakStopFirst TiebreakPolicy = "stop_first"

	// TiebreakTargetFirst assumes the target fires first — the optimistic
	// alternative, useful for bounding strategy results.
	TiebreakTargetFirst TiebreakPolicy = "target_first"
)

// Config parameterizes the matching engine.
type Config struct {
	Commission CommissionFunc
	Tiebreak   TiebreakPolicy
	Exchange   string // exchange tag stamped on fills

	// ActionHook receives Action events forwarded by the driver. The engine
	// does not interpret them.
	ActionHook func(event.Action)
}

// Engine matches orders against the current bar and re-scans the open-order
// book on every market tick for stop/limit/target triggers.
type Engine struct {
	cfg  Config
	bars data.Handler

	// Insertion-ordered book so scans are deterministic and reproducible.
	book  []*model.Order
	index map[string]*model.Order
}

// NewEngine creates a matching engine over the given data handler.
func NewEngine(bars data.Handler, cfg Config) *Engine {
	if cfg.Commission == nil {
		cfg.Commission = ZeroCommission
	}
	if cfg.Tiebreak == "" {
		cfg.Tiebreak = TiebreakStopFirst
	}
	if cfg.Exchange == "" {
		cfg.Exchange = "SIMULATED"
	}
	return &Engine{
		cfg:   cfg,
		bars:  bars,
		index: make(map[string]*model.Order),
	}
}

// OpenOrders returns the number of orders currently in the book.
func (e *Engine) OpenOrders() int {
	return len(e.book)
}

// ExecuteOrder matches an Order event against the current bar. Market orders
// fill immediately at the bar close; limit orders are registered PENDING and
// fill only when a later scan detects the bar range crossing the limit price.
// An order whose ID is already OPEN in the book is an exit: it closes the
// book entry at the current close.
func (e *Engine) ExecuteOrder(oe event.Order) (*event.Fill, error) {
	o := oe.Order
	if o.Quantity <= 0 {
		metrics.OrdersRejected.Inc()
		return nil, fmt.Errorf("%w: %d", ErrInvalidQuantity, o.Quantity)
	}

	if existing, ok := e.index[o.ID]; ok {
		return e.executeExit(existing, o)
	}
	return e.executeEntry(o)
}

func (e *Engine) executeEntry(o model.Order) (*event.Fill, error) {
	switch o.Kind {
	case model.OrderLimit:
		// No fill until the bar range touches the limit price.
		o.Status = model.OrderPending
		e.add(&o)
		slog.Debug("limit order registered",
			"order_id", o.ID, "symbol", o.Symbol, "limit", o.LimitPrice.String())
		return nil, nil

	default: // market order
		bar, err := e.bars.LatestBar(o.Symbol)
		if err != nil {
			metrics.OrdersRejected.Inc()
			return nil, fmt.Errorf("%w: %s", ErrNoCurrentBar, o.Symbol)
		}
		o.Status = model.OrderOpen
		e.add(&o)
		return e.fill(&o, bar.Time, bar.Close, o.Direction), nil
	}
}

func (e *Engine) executeExit(book *model.Order, o model.Order) (*event.Fill, error) {
	if book.Status == model.OrderClosed {
		metrics.OrdersRejected.Inc()
		return nil, fmt.Errorf("%w: %s", ErrOrderClosed, o.ID)
	}
	bar, err := e.bars.LatestBar(book.Symbol)
	if err != nil {
		metrics.OrdersRejected.Inc()
		return nil, fmt.Errorf("%w: %s", ErrNoCurrentBar, book.Symbol)
	}
	book.Status = model.OrderClosed
	e.remove(book.ID)
	return e.fill(book, bar.Time, bar.Close, o.Direction), nil
}

// ScanOpenOrders inspects every booked order against the new bar's high/low
// range. Pending limit entries fill at the limit price when touched; open
// orders exit at the stop or target trigger price. An entry filled in this
// scan is not eligible for a stop/target exit until the next bar.
func (e *Engine) ScanOpenOrders(me event.Market) ([]*event.Fill, error) {
	var fills []*event.Fill
	var scanErr error

	// Snapshot: triggered exits remove entries from the book mid-loop.
	snapshot := make([]*model.Order, len(e.book))
	copy(snapshot, e.book)

	for _, o := range snapshot {
		bar, err := e.bars.LatestBar(o.Symbol)
		if err != nil {
			// The order cannot be matched against this instant. Record and
			// keep scanning; the run continues.
			slog.Error("order symbol missing from current bar set",
				"order_id", o.ID, "symbol", o.Symbol)
			scanErr = errors.Join(scanErr, fmt.Errorf("%w: order %s symbol %s", ErrNoCurrentBar, o.ID, o.Symbol))
			continue
		}

		switch o.Status {
		case model.OrderPending:
			if f := e.tryLimitEntry(o, bar); f != nil {
				fills = append(fills, f)
			}
		case model.OrderOpen:
			if f := e.tryTriggeredExit(o, bar); f != nil {
				fills = append(fills, f)
			}
		}
	}
	return fills, scanErr
}

// tryLimitEntry fills a pending limit entry at the limit price when the bar
// range touches it: a buy when low <= limit, a sell when high >= limit.
func (e *Engine) tryLimitEntry(o *model.Order, bar model.Bar) *event.Fill {
	touched := false
	switch o.Direction {
	case model.Buy:
		touched = bar.Low.LessThanOrEqual(o.LimitPrice)
	case model.Sell:
		touched = bar.High.GreaterThanOrEqual(o.LimitPrice)
	}
	if !touched {
		return nil
	}
	o.Status = model.OrderOpen
	return e.fill(o, bar.Time, o.LimitPrice, o.Direction)
}

// tryTriggeredExit closes an open order when the bar range crosses its stop
// loss or profit target, filling at the trigger price, never the close.
func (e *Engine) tryTriggeredExit(o *model.Order, bar model.Bar) *event.Fill {
	var stopHit, targetHit bool
	switch o.Direction {
	case model.Buy: // long position: stop below, target above
		stopHit = !o.StopLoss.IsZero() && bar.Low.LessThanOrEqual(o.StopLoss)
		targetHit = !o.ProfitTarget.IsZero() && bar.High.GreaterThanOrEqual(o.ProfitTarget)
	case model.Sell: // short position: stop above, target below
		stopHit = !o.StopLoss.IsZero() && bar.High.GreaterThanOrEqual(o.StopLoss)
		targetHit = !o.ProfitTarget.IsZero() && bar.Low.LessThanOrEqual(o.ProfitTarget)
	}

	var price decimal.Decimal
	switch {
	case stopHit && targetHit:
		if e.cfg.Tiebreak == TiebreakTargetFirst {
			price = o.ProfitTarget
		} else {
			price = o.StopLoss
		}
	case stopHit:
		price = o.StopLoss
	case targetHit:
		price = o.ProfitTarget
	default:
		return nil
	}

	o.Status = model.OrderClosed
	e.remove(o.ID)
	return e.fill(o, bar.Time, price, o.Direction.Opposite())
}

func (e *Engine) fill(o *model.Order, at time.Time, price decimal.Decimal, dir model.Direction) *event.Fill {
	commission := e.cfg.Commission(price, o.Quantity)
	if commission.IsNegative() {
		commission = decimal.Zero
	}
	metrics.FillsTotal.WithLabelValues(string(dir)).Inc()
	slog.Debug("fill",
		"order_id", o.ID, "symbol", o.Symbol,
		"direction", string(dir), "qty", o.Quantity,
		"price", price.String(), "commission", commission.String())
	return &event.Fill{Fill: model.Fill{
		OrderID:    o.ID,
		Time:       at,
		Symbol:     o.Symbol,
		Price:      price,
		Quantity:   o.Quantity,
		Direction:  dir,
		Commission: commission,
		Exchange:   e.cfg.Exchange,
	}}
}

// HandleAction forwards an Action event to the configured hook verbatim.
func (e *Engine) HandleAction(a event.Action) {
	if e.cfg.ActionHook != nil {
		e.cfg.ActionHook(a)
		return
	}
	slog.Debug("action ignored", "command", a.Command)
}

func (e *Engine) add(o *model.Order) {
	e.book = append(e.book, o)
	e.index[o.ID] = o
}

func (e *Engine) remove(id string) {
	delete(e.index, id)
	for i, o := range e.book {
		if o.ID == id {
			e.book = append(e.book[:i], e.book[i+1:]...)
			return
		}
	}
}
