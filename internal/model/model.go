// Package model defines the core domain types shared across the backtest engine.
// All monetary values use shopspring/decimal — never float64 for money.
// Ratios and statistics (Sharpe, win rate) are float64.
package model

import (
	"encoding/json"
	"math"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

// Direction is the side of an order or fill.
type Direction string

const (
	Buy  Direction = "BUY"
	Sell Direction = "SELL"
)

// Sign returns +1 for BUY, -1 for SELL, 0 otherwise.
func (d Direction) Sign() int64 {
	switch d {
	case Buy:
		return 1
	case Sell:
		return -1
	default:
		return 0
	}
}

// Opposite returns the closing side for an entry side.
func (d Direction) Opposite() Direction {
	if d == Buy {
		return Sell
	}
	return Buy
}

// SignalDirection is the intent of a strategy signal.
type SignalDirection string

const (
	SignalLong  SignalDirection = "LONG"
	SignalShort SignalDirection = "SHORT"
	SignalExit  SignalDirection = "EXIT"
)

// OrderKind selects the execution style of an order.
type OrderKind string

const (
	OrderMarket OrderKind = "MKT"
	OrderLimit  OrderKind = "LMT"
)

// OrderStatus tracks the order lifecycle: PENDING → OPEN → CLOSED.
type OrderStatus string

const (
	OrderPending OrderStatus = "PENDING"
	OrderOpen    OrderStatus = "OPEN"
	OrderClosed  OrderStatus = "CLOSED"
)

// Field names a column of a bar, for DataHandler value lookups.
type Field string

const (
	FieldOpen     Field = "open"
	FieldHigh     Field = "high"
	FieldLow      Field = "low"
	FieldClose    Field = "close"
	FieldAdjClose Field = "adj_close"
	FieldVolume   Field = "volume"
)

// Bar is one OHLCV (+adjusted close) observation for a symbol at a timestamp.
// Bars are owned by the data handler and read-only to the engine.
type Bar struct {
	Symbol   string          `json:"symbol"`
	Time     time.Time       `json:"time"`
	Open     decimal.Decimal `json:"open"`
	High     decimal.Decimal `json:"high"`
	Low      decimal.Decimal `json:"low"`
	Close    decimal.Decimal `json:"close"`
	AdjClose decimal.Decimal `json:"adj_close"`
	Volume   int64           `json:"volume"`
}

// Value returns the named field of the bar.
func (b Bar) Value(f Field) decimal.Decimal {
	switch f {
	case FieldOpen:
		return b.Open
	case FieldHigh:
		return b.High
	case FieldLow:
		return b.Low
	case FieldClose:
		return b.Close
	case FieldAdjClose:
		return b.AdjClose
	case FieldVolume:
		return decimal.NewFromInt(b.Volume)
	default:
		return decimal.Zero
	}
}

// SignalIntent is a strategy's trading intent before position sizing.
type SignalIntent struct {
	Symbol       string          `json:"symbol"`
	Time         time.Time       `json:"time"`
	Direction    SignalDirection `json:"direction"`
	Kind         OrderKind       `json:"kind"`
	Strength     float64         `json:"strength"`      // sizing multiplier, typically (0, 1]
	LimitPrice   decimal.Decimal `json:"limit_price"`   // zero = unset
	StopLoss     decimal.Decimal `json:"stop_loss"`     // zero = unset
	ProfitTarget decimal.Decimal `json:"profit_target"` // zero = unset
}

// Order is a sized instruction produced by the ledger and matched by the
// execution engine. The ID is assigned once and never reused; an EXIT order
// carries the ID of the entry order it closes, so both fills resolve against
// the same history record.
type Order struct {
	ID           string          `json:"id" db:"id"`
	Symbol       string          `json:"symbol" db:"symbol"`
	Direction    Direction       `json:"direction" db:"direction"`
	Quantity     int64           `json:"quantity" db:"quantity"`
	Kind         OrderKind       `json:"kind" db:"kind"`
	LimitPrice   decimal.Decimal `json:"limit_price" db:"limit_price"`
	StopLoss     decimal.Decimal `json:"stop_loss" db:"stop_loss"`
	ProfitTarget decimal.Decimal `json:"profit_target" db:"profit_target"`
	Status       OrderStatus     `json:"status" db:"status"`
	EntryTime    time.Time       `json:"entry_time" db:"entry_time"` // zero until first fill
	EntryPrice   decimal.Decimal `json:"entry_price" db:"entry_price"`
	ExitTime     time.Time       `json:"exit_time" db:"exit_time"` // zero until exit fill
	ExitPrice    decimal.Decimal `json:"exit_price" db:"exit_price"`
	Commission   decimal.Decimal `json:"commission" db:"commission"` // accumulated over fills
	RealizedPnL  decimal.Decimal `json:"realized_pnl" db:"realized_pnl"`
}

// Fill is an immutable execution record. Produced only by the matching engine.
type Fill struct {
	OrderID    string          `json:"order_id" db:"order_id"`
	Time       time.Time       `json:"time" db:"time"`
	Symbol     string          `json:"symbol" db:"symbol"`
	Price      decimal.Decimal `json:"price" db:"price"`
	Quantity   int64           `json:"quantity" db:"quantity"`
	Direction  Direction       `json:"direction" db:"direction"`
	Commission decimal.Decimal `json:"commission" db:"commission"`
	Exchange   string          `json:"exchange" db:"exchange"`
}

// PositionSnapshot records signed positions per symbol at one bar.
type PositionSnapshot struct {
	Time      time.Time        `json:"time"`
	Positions map[string]int64 `json:"positions"`
}

// HoldingsSnapshot records cash and mark-to-market values at one bar.
// Invariant: Total == Cash + Σ MarketValues.
type HoldingsSnapshot struct {
	Time         time.Time                  `json:"time"`
	Cash         decimal.Decimal            `json:"cash"`
	Commission   decimal.Decimal            `json:"commission"` // cumulative
	MarketValues map[string]decimal.Decimal `json:"market_values"`
	Total        decimal.Decimal            `json:"total"`
}

// EquityPoint is one point of the derived equity curve.
type EquityPoint struct {
	Time             time.Time       `json:"time"`
	Total            decimal.Decimal `json:"total"`
	PeriodReturn     decimal.Decimal `json:"period_return"`
	CumulativeReturn decimal.Decimal `json:"cumulative_return"`
}

// Summary is the summary-statistics record produced at finalization.
type Summary struct {
	TotalReturnPct   float64         `json:"total_return_pct"`
	SharpeRatio      float64         `json:"sharpe_ratio"`
	MaxDrawdownPct   float64         `json:"max_drawdown_pct"`
	DrawdownDuration int             `json:"drawdown_duration"` // bars
	WinRate          float64         `json:"win_rate"`
	TradeCount       int             `json:"trade_count"` // closed trades
	TotalProfit      decimal.Decimal `json:"total_profit"`
	TotalLoss        decimal.Decimal `json:"total_loss"`
	ProfitFactor     float64         `json:"profit_factor"` // +Inf when no losing trades
}

// MarshalJSON encodes ProfitFactor as a string because JSON has no Inf.
func (s Summary) MarshalJSON() ([]byte, error) {
	type alias Summary
	return json.Marshal(struct {
		alias
		ProfitFactor string `json:"profit_factor"`
	}{
		alias:        alias(s),
		ProfitFactor: formatRatio(s.ProfitFactor),
	})
}

// UnmarshalJSON is the inverse of MarshalJSON.
func (s *Summary) UnmarshalJSON(data []byte) error {
	type alias Summary
	var aux struct {
		alias
		ProfitFactor string `json:"profit_factor"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	*s = Summary(aux.alias)
	if aux.ProfitFactor == "inf" {
		s.ProfitFactor = math.Inf(1)
	} else if aux.ProfitFactor != "" {
		f, err := strconv.ParseFloat(aux.ProfitFactor, 64)
		if err != nil {
			return err
		}
		s.ProfitFactor = f
	}
	return nil
}

func formatRatio(f float64) string {
	if math.IsInf(f, 1) {
		return "inf"
	}
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// RunStatus tracks the lifecycle of a backtest run.
type RunStatus string

const (
	RunPending RunStatus = "pending"
	RunRunning RunStatus = "running"
	RunDone    RunStatus = "done"
	RunFailed  RunStatus = "failed"
)

// Run is the persisted record of one backtest execution.
type Run struct {
	ID             string            `json:"id" db:"id"`
	Strategy       string            `json:"strategy" db:"strategy"`
	Symbols        []string          `json:"symbols" db:"symbols"`
	InitialCapital decimal.Decimal   `json:"initial_capital" db:"initial_capital"`
	Status         RunStatus         `json:"status" db:"status"`
	Tags           map[string]string `json:"tags,omitempty" db:"tags"`
	Error          string            `json:"error,omitempty" db:"error"`
	CreatedAt      time.Time         `json:"created_at" db:"created_at"`
	CompletedAt    time.Time         `json:"completed_at,omitempty" db:"completed_at"`
}

// Counters tallies events processed during a run.
type Counters struct {
	Ticks   int `json:"ticks"`
	Signals int `json:"signals"`
	Orders  int `json:"orders"`
	Fills   int `json:"fills"`
	Dropped int `json:"dropped"` // unknown event kinds
}

// Result is the structured output of a completed (or fatally stopped) run.
// Rendering and export are external concerns.
type Result struct {
	RunID       string             `json:"run_id"`
	Tags        map[string]string  `json:"tags,omitempty"`
	EquityCurve []EquityPoint      `json:"equity_curve"`
	Holdings    []HoldingsSnapshot `json:"holdings"`
	Positions   []PositionSnapshot `json:"positions"`
	Orders      []Order            `json:"orders"`
	Fills       []Fill             `json:"fills"`
	Summary     Summary            `json:"summary"`
	Counters    Counters           `json:"counters"`
}
