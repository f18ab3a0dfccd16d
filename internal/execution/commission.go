package execution

import "github.com/shopspring/decimal"

// CommissionFunc computes the commission for a fill. It must return a
// non-negative amount; commission is always a cash deduction regardless of
// fill direction.
type CommissionFunc func(price decimal.Decimal, quantity int64) decimal.Decimal

// ZeroCommission charges nothing.
func ZeroCommission(decimal.Decimal, int64) decimal.Decimal {
	return decimal.Zero
}

// PerShareCommission charges rate per share with a floor, the usual
// retail-broker schedule.
func PerShareCommission(rate, minimum decimal.Decimal) CommissionFunc {
	return func(_ decimal.Decimal, quantity int64) decimal.Decimal {
		c := rate.Mul(decimal.NewFromInt(quantity))
		if c.LessThan(minimum) {
			return minimum
		}
		return c
	}
}

// BasisPointsCommission charges a fraction of notional, bps/10000.
func BasisPointsCommission(bps decimal.Decimal) CommissionFunc {
	scale := decimal.NewFromInt(10000)
	return func(price decimal.Decimal, quantity int64) decimal.Decimal {
		return price.Mul(decimal.NewFromInt(quantity)).Mul(bps).Div(scale)
	}
}
