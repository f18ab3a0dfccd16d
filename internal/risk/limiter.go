// Package risk implements position limits for the risk-managed portfolio
// variant: a per-symbol cap on absolute position size and an aggregate cap on
// gross exposure across all symbols.
package risk

import "errors"

var (
	// ErrPerSymbolLimitExceeded is returned when an order would push a single
	// symbol's position beyond the per-symbol maximum.
	ErrPerSymbolLimitExceeded = errors.New("risk: per-symbol position limit exceeded")

	// ErrGrossLimitExceeded is returned when an order would push the summed
	// absolute position across all symbols beyond the gross maximum.
	ErrGrossLimitExceeded = errors.New("risk: gross exposure limit exceeded")
)

// Limiter enforces position limits. Zero-valued limits disable the check.
type Limiter struct {
	// MaxPerSymbol is the maximum absolute position in any single symbol.
	MaxPerSymbol int64

	// MaxGross is the maximum Σ |position| across all symbols.
	MaxGross int64
}

// NewLimiter creates a limiter with the given per-symbol and gross caps.
func NewLimiter(maxPerSymbol, maxGross int64) *Limiter {
	return &Limiter{MaxPerSymbol: maxPerSymbol, MaxGross: maxGross}
}

// Check validates whether a signed position change respects the limits.
//
// Parameters:
//   - symbol: the symbol being traded
//   - delta: signed position change (+buy / -sell)
//   - positions: current signed position per symbol
//
// Returns nil when the change is within limits.
func (l *Limiter) Check(symbol string, delta int64, positions map[string]int64) error {
	next := positions[symbol] + delta

	if l.MaxPerSymbol > 0 && abs(next) > l.MaxPerSymbol {
		return ErrPerSymbolLimitExceeded
	}

	if l.MaxGross > 0 {
		gross := abs(next)
		for sym, pos := range positions {
			if sym == symbol {
				continue // already counted via next
			}
			gross += abs(pos)
		}
		if gross > l.MaxGross {
			return ErrGrossLimitExceeded
		}
	}

	return nil
}

func abs(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
