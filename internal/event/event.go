// Package event defines the typed messages routed through the simulation and
// the FIFO bus that carries them. Events are immutable once enqueued: each
// carries value copies of its payload, never shared mutable references.
package event

import (
	"time"

	"github.com/atmx/backtest-engine/internal/model"
)

// Kind discriminates event variants for dispatch.
type Kind string

const (
	KindMarket Kind = "MARKET"
	KindSignal Kind = "SIGNAL"
	KindOrder  Kind = "ORDER"
	KindFill   Kind = "FILL"
	KindAction Kind = "ACTION"
)

// Event is a tagged message flowing through the bus.
type Event interface {
	Kind() Kind
	Time() time.Time
}

// Market announces that a new bar has been admitted for all tracked symbols.
// An empty Symbol means the tick covers every symbol in the run.
type Market struct {
	Symbol string
	At     time.Time
}

func (Market) Kind() Kind        { return KindMarket }
func (m Market) Time() time.Time { return m.At }

// Signal carries a strategy's trading intent to the ledger.
type Signal struct {
	Intent model.SignalIntent
}

func (Signal) Kind() Kind        { return KindSignal }
func (s Signal) Time() time.Time { return s.Intent.Time }

// Order carries a sized order from the ledger to the matching engine.
type Order struct {
	At    time.Time
	Order model.Order
}

func (Order) Kind() Kind        { return KindOrder }
func (o Order) Time() time.Time { return o.At }

// Fill reports an execution from the matching engine to the ledger.
type Fill struct {
	Fill model.Fill
}

func (Fill) Kind() Kind        { return KindFill }
func (f Fill) Time() time.Time { return f.Fill.Time }

// Action is an operational command forwarded verbatim to the execution
// collaborator. The core does not interpret it.
type Action struct {
	At      time.Time
	Command string
	Payload any
}

func (Action) Kind() Kind        { return KindAction }
func (a Action) Time() time.Time { return a.At }
