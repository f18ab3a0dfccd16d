package portfolio

import (
	"log/slog"

	"github.com/atmx/backtest-engine/internal/event"
	"github.com/atmx/backtest-engine/internal/metrics"
	"github.com/atmx/backtest-engine/internal/model"
	"github.com/atmx/backtest-engine/internal/risk"
)

// RiskManaged wraps the naive ledger with position limits: entry orders that
// would breach the per-symbol or gross caps are dropped before they reach the
// matching engine. Exits always pass, since they reduce exposure.
type RiskManaged struct {
	*Ledger
	limiter *risk.Limiter
}

// NewRiskManaged creates the risk-managed variant around a naive ledger.
func NewRiskManaged(ledger *Ledger, limiter *risk.Limiter) *RiskManaged {
	return &RiskManaged{Ledger: ledger, limiter: limiter}
}

// UpdateSignal sizes the intent naively and then applies position limits.
func (r *RiskManaged) UpdateSignal(se event.Signal) (*event.Order, error) {
	in := se.Intent
	o := r.buildOrder(in)
	if o == nil {
		return nil, nil
	}

	if in.Direction != model.SignalExit {
		delta := o.Direction.Sign() * o.Quantity
		if err := r.limiter.Check(o.Symbol, delta, r.positions); err != nil {
			metrics.SignalsIgnored.WithLabelValues("risk_limit").Inc()
			slog.Info("entry blocked by position limit",
				"symbol", o.Symbol, "quantity", o.Quantity, "reason", err)
			return nil, nil
		}
	}

	if _, tracked := r.orderIndex[o.ID]; !tracked {
		r.record(o)
	}
	return &event.Order{At: in.Time, Order: *o}, nil
}
