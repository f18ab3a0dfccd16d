// Package strategy defines the signal-generation contract and two reference
// implementations. Strategies read only data visible up to and including the
// current bar.
package strategy

import (
	"github.com/atmx/backtest-engine/internal/event"
)

// Strategy consumes Market events and enqueues zero or more Signal events.
type Strategy interface {
	// Name identifies the strategy in run records and logs.
	Name() string

	// CalculateSignals reacts to a new bar. Implementations must not access
	// bars beyond the current cursor.
	CalculateSignals(event.Market) error
}
