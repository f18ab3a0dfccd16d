// Package performance derives the equity curve and summary statistics from a
// completed run.
//
// All monetary values use shopspring/decimal — never float64 for money.
// Transcendental math (Sharpe annualization, standard deviation) uses float64
// internally, with results reported as float64 ratios.
package performance

import (
	"math"

	"github.com/shopspring/decimal"

	"github.com/atmx/backtest-engine/internal/model"
)

var one = decimal.NewFromInt(1)

// EquityCurve derives per-bar returns from consecutive holdings snapshots:
//
//	period_return[t] = total[t]/total[t-1] - 1
//	cumulative[t]    = cumulative[t-1] × (1 + period_return[t])
//
// The first point carries a zero period return and a cumulative return of 1.
func EquityCurve(holdings []model.HoldingsSnapshot) []model.EquityPoint {
	if len(holdings) == 0 {
		return nil
	}
	curve := make([]model.EquityPoint, len(holdings))
	curve[0] = model.EquityPoint{
		Time:             holdings[0].Time,
		Total:            holdings[0].Total,
		PeriodReturn:     decimal.Zero,
		CumulativeReturn: one,
	}
	for t := 1; t < len(holdings); t++ {
		var ret decimal.Decimal
		if !holdings[t-1].Total.IsZero() {
			ret = holdings[t].Total.Div(holdings[t-1].Total).Sub(one)
		}
		curve[t] = model.EquityPoint{
			Time:             holdings[t].Time,
			Total:            holdings[t].Total,
			PeriodReturn:     ret,
			CumulativeReturn: curve[t-1].CumulativeReturn.Mul(one.Add(ret)),
		}
	}
	return curve
}

// SharpeRatio computes mean/stdev of period returns annualized by
// sqrt(periodsPerYear). Zero-variance series yield 0, not NaN. The seed
// point's zero return is excluded.
func SharpeRatio(curve []model.EquityPoint, periodsPerYear int) float64 {
	if len(curve) < 2 {
		return 0
	}
	returns := make([]float64, 0, len(curve)-1)
	for _, p := range curve[1:] {
		returns = append(returns, p.PeriodReturn.InexactFloat64())
	}

	var sum float64
	for _, r := range returns {
		sum += r
	}
	mean := sum / float64(len(returns))

	var variance float64
	for _, r := range returns {
		d := r - mean
		variance += d * d
	}
	variance /= float64(len(returns))

	std := math.Sqrt(variance)
	if std == 0 {
		return 0
	}
	return math.Sqrt(float64(periodsPerYear)) * mean / std
}

// Drawdowns computes the per-bar drawdown series from the cumulative curve,
// its maximum, and the duration in bars of the longest contiguous stretch
// under water.
func Drawdowns(curve []model.EquityPoint) (series []decimal.Decimal, maxDD decimal.Decimal, duration int) {
	series = make([]decimal.Decimal, len(curve))
	if len(curve) == 0 {
		return series, decimal.Zero, 0
	}

	runMax := curve[0].CumulativeReturn
	var current int
	for t, p := range curve {
		if p.CumulativeReturn.GreaterThan(runMax) {
			runMax = p.CumulativeReturn
		}
		var dd decimal.Decimal
		if !runMax.IsZero() {
			dd = runMax.Sub(p.CumulativeReturn).Div(runMax)
		}
		series[t] = dd
		if dd.GreaterThan(maxDD) {
			maxDD = dd
		}
		if dd.IsPositive() {
			current++
			if current > duration {
				duration = current
			}
		} else {
			current = 0
		}
	}
	return series, maxDD, duration
}

// TradeStats aggregates closed trades: count, win rate, gross profit and
// loss, profit factor. With no losing trades the profit factor is +Inf; with
// no winning trades it is 0.
func TradeStats(orders []model.Order) (count int, winRate float64, profit, loss decimal.Decimal, factor float64) {
	var wins int
	for _, o := range orders {
		if o.Status != model.OrderClosed {
			continue
		}
		count++
		if o.RealizedPnL.IsPositive() {
			wins++
			profit = profit.Add(o.RealizedPnL)
		} else {
			loss = loss.Add(o.RealizedPnL.Abs())
		}
	}
	if count > 0 {
		winRate = float64(wins) / float64(count)
	}
	switch {
	case loss.IsPositive():
		factor = profit.InexactFloat64() / loss.InexactFloat64()
	case profit.IsPositive():
		factor = math.Inf(1)
	default:
		factor = 0
	}
	return count, winRate, profit, loss, factor
}

// Summarize assembles the summary-statistics record for a run.
func Summarize(curve []model.EquityPoint, orders []model.Order, periodsPerYear int) model.Summary {
	var totalReturn float64
	if len(curve) > 0 {
		last := curve[len(curve)-1].CumulativeReturn
		totalReturn = last.Sub(one).InexactFloat64() * 100
	}
	_, maxDD, duration := Drawdowns(curve)
	count, winRate, profit, loss, factor := TradeStats(orders)

	return model.Summary{
		TotalReturnPct:   totalReturn,
		SharpeRatio:      SharpeRatio(curve, periodsPerYear),
		MaxDrawdownPct:   maxDD.InexactFloat64() * 100,
		DrawdownDuration: duration,
		WinRate:          winRate,
		TradeCount:       count,
		TotalProfit:      profit,
		TotalLoss:        loss,
		ProfitFactor:     factor,
	}
}
