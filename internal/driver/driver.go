// Package driver runs the event-driven simulation loop: advance one bar,
// drain the bus to a fixed point, repeat until the data is exhausted, then
// finalize analytics.
//
// The fixpoint drain is the anti-look-ahead guarantee: every event causally
// produced within one simulated instant is fully resolved before the next
// Market event is admitted, so a strategy can never observe a later bar's
// effects within the same instant.
package driver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/atmx/backtest-engine/internal/data"
	"github.com/atmx/backtest-engine/internal/event"
	"github.com/atmx/backtest-engine/internal/execution"
	"github.com/atmx/backtest-engine/internal/metrics"
	"github.com/atmx/backtest-engine/internal/model"
	"github.com/atmx/backtest-engine/internal/portfolio"
	"github.com/atmx/backtest-engine/internal/strategy"
)

// DefaultPeriodsPerYear annualizes daily bars.
const DefaultPeriodsPerYear = 252

// Hooks are observability callbacks invoked at defined lifecycle points.
// Nil hooks are skipped.
type Hooks struct {
	OnTick     func(t time.Time)
	OnFill     func(f model.Fill)
	OnFinalize func(r *model.Result)
}

// Options configures a Backtest. One driver serves all variants; reporting
// and parameter sweeps attach through Hooks and Tags rather than parallel
// driver implementations.
type Options struct {
	// RunID identifies the run in logs and in the result. A fresh UUID is
	// generated when empty.
	RunID string

	// Heartbeat is an optional pacing delay per tick. Cosmetic: it never
	// affects ordering or results.
	Heartbeat time.Duration

	// PeriodsPerYear annualizes the Sharpe ratio for the bar frequency in
	// use. Defaults to DefaultPeriodsPerYear.
	PeriodsPerYear int

	// Tags label the run's result, e.g. parameter-sweep coordinates.
	Tags map[string]string

	Hooks Hooks
}

// Backtest wires the components of one run around a shared event bus.
type Backtest struct {
	bus       *event.Bus
	bars      data.Handler
	strategy  strategy.Strategy
	portfolio portfolio.Portfolio
	engine    *execution.Engine
	opts      Options

	counters model.Counters
}

// New assembles a backtest. All components must share the same bus.
func New(bus *event.Bus, bars data.Handler, strat strategy.Strategy, port portfolio.Portfolio, eng *execution.Engine, opts Options) *Backtest {
	if opts.PeriodsPerYear <= 0 {
		opts.PeriodsPerYear = DefaultPeriodsPerYear
	}
	return &Backtest{
		bus:       bus,
		bars:      bars,
		strategy:  strat,
		portfolio: port,
		engine:    eng,
		opts:      opts,
	}
}

// Run executes the simulation until the data handler is exhausted, then
// finalizes analytics. On a fatal error the loop stops immediately and the
// returned Result still carries the last consistent ledger snapshot alongside
// the non-nil error.
func (b *Backtest) Run(ctx context.Context) (*model.Result, error) {
	runID := b.opts.RunID
	if runID == "" {
		runID = uuid.New().String()
	}
	start := time.Now()
	slog.Info("backtest starting",
		"run_id", runID, "strategy", b.strategy.Name(), "symbols", b.bars.Symbols())

	var fatal error
loop:
	for b.bars.HasMore() {
		// Cancellation is checked once per tick boundary only; a cascade is
		// never interrupted mid-flight.
		select {
		case <-ctx.Done():
			fatal = ctx.Err()
			break loop
		default:
		}

		if err := b.bars.Advance(); err != nil {
			if errors.Is(err, data.ErrExhausted) {
				break
			}
			fatal = fmt.Errorf("advance: %w", err)
			break
		}
		b.counters.Ticks++

		if err := b.drain(); err != nil {
			fatal = err
			break
		}

		if b.opts.Heartbeat > 0 {
			time.Sleep(b.opts.Heartbeat)
		}
	}

	result := b.portfolio.Finalize(b.opts.PeriodsPerYear)
	result.RunID = runID
	result.Tags = b.opts.Tags
	result.Counters = b.counters

	status := "done"
	if fatal != nil {
		status = "failed"
	}
	metrics.RunsTotal.WithLabelValues(status).Inc()
	metrics.RunDuration.Observe(time.Since(start).Seconds())

	if hook := b.opts.Hooks.OnFinalize; hook != nil {
		hook(result)
	}
	slog.Info("backtest finished",
		"run_id", runID, "status", status,
		"ticks", b.counters.Ticks, "signals", b.counters.Signals,
		"orders", b.counters.Orders, "fills", b.counters.Fills,
		"duration", time.Since(start))

	if fatal != nil {
		return result, fmt.Errorf("run %s: %w", runID, fatal)
	}
	return result, nil
}

// drain dispatches queued events until the bus reaches a fixed point.
func (b *Backtest) drain() error {
	for {
		e, ok := b.bus.Dequeue()
		if !ok {
			return nil
		}
		if err := b.dispatch(e); err != nil {
			return err
		}
	}
}

func (b *Backtest) dispatch(e event.Event) error {
	metrics.EventsDispatched.WithLabelValues(string(e.Kind())).Inc()

	switch ev := e.(type) {
	case event.Market:
		if hook := b.opts.Hooks.OnTick; hook != nil {
			hook(ev.At)
		}
		fills, err := b.engine.ScanOpenOrders(ev)
		for _, f := range fills {
			b.bus.Enqueue(*f)
		}
		if err != nil {
			// Orders that cannot be matched are recorded and dropped; the
			// run continues.
			slog.Warn("scan errors", "err", err)
		}
		if err := b.strategy.CalculateSignals(ev); err != nil {
			return fmt.Errorf("strategy: %w", err)
		}
		if err := b.portfolio.UpdateTimeIndex(ev); err != nil {
			return fmt.Errorf("time index: %w", err)
		}

	case event.Signal:
		b.counters.Signals++
		oe, err := b.portfolio.UpdateSignal(ev)
		if err != nil {
			return fmt.Errorf("signal: %w", err)
		}
		if oe != nil {
			b.bus.Enqueue(*oe)
		}

	case event.Order:
		b.counters.Orders++
		fe, err := b.engine.ExecuteOrder(ev)
		if err != nil {
			// Rejected order: recorded, not fatal.
			slog.Error("order rejected", "order_id", ev.Order.ID, "err", err)
			return nil
		}
		if fe != nil {
			b.bus.Enqueue(*fe)
		}

	case event.Fill:
		b.counters.Fills++
		if hook := b.opts.Hooks.OnFill; hook != nil {
			hook(ev.Fill)
		}
		if err := b.portfolio.UpdateFill(ev); err != nil {
			if errors.Is(err, portfolio.ErrFillAfterClose) {
				slog.Error("fill rejected", "order_id", ev.Fill.OrderID, "err", err)
				return nil
			}
			return fmt.Errorf("fill: %w", err)
		}

	case event.Action:
		// Forwarded verbatim; the core does not interpret commands.
		b.engine.HandleAction(ev)

	default:
		b.counters.Dropped++
		metrics.EventsDropped.Inc()
		slog.Warn("dropping event of unknown kind", "kind", e.Kind())
	}
	return nil
}
