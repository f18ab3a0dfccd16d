// Package data supplies historical bars to the simulation. Implementations
// own their bars exclusively; the engine and ledger read them through this
// interface and never mutate them.
package data

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/atmx/backtest-engine/internal/model"
)

var (
	// ErrNoBar is returned when a symbol has no bar at the current cursor.
	ErrNoBar = errors.New("data: no current bar for symbol")

	// ErrShortWindow is returned by LatestBarValues when fewer than n bars
	// have been seen so far. Callers must check before using the window.
	ErrShortWindow = errors.New("data: not enough bars seen for requested window")

	// ErrExhausted is returned by Advance after the dataset has run out.
	ErrExhausted = errors.New("data: no more bars")
)

// Handler is the market-data contract consumed by the driver and read by the
// engine, ledger, and strategies. Advance enqueues at most one Market event
// per call; lookups expose only bars up to and including the current cursor.
type Handler interface {
	// HasMore reports whether another bar remains.
	HasMore() bool

	// Advance moves the bar cursor forward for all tracked symbols and
	// enqueues zero or one Market event on the shared bus.
	Advance() error

	// Symbols returns the tracked symbol list.
	Symbols() []string

	// LatestBar returns the current bar for a symbol.
	LatestBar(symbol string) (model.Bar, error)

	// LatestBarTime returns the timestamp of the current bar for a symbol.
	LatestBarTime(symbol string) (time.Time, error)

	// LatestBarValue returns one field of the current bar for a symbol.
	LatestBarValue(symbol string, field model.Field) (decimal.Decimal, error)

	// LatestBarValues returns the last n values of a field, oldest first.
	// Fails with ErrShortWindow when fewer than n bars have been seen.
	LatestBarValues(symbol string, field model.Field, n int) ([]decimal.Decimal, error)
}
