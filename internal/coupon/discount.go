package coupon

import (
	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

var (
	hundred = decimal.NewFromInt(100)
	zero    = decimal.Zero
)

// ComputeDiscount calculates the discount a coupon grants against the given
// order amount. The result never exceeds the order amount, never exceeds the
// coupon's maximum discount when one is set, is never negative, and is
// rounded to 2 decimal places.
//
// Pure and deterministic: no clock, no repository, no side effects.
func ComputeDiscount(c *Coupon, orderAmount decimal.Decimal) (decimal.Decimal, error) {
	var amount decimal.Decimal

	switch c.Type {
	case DiscountPercentage:
		amount = orderAmount.Mul(c.DiscountValue).Div(hundred)
	case DiscountFixed:
		amount = c.DiscountValue
	default:
		return zero, errors.Errorf("unsupported discount type: %q", c.Type)
	}

	// A discount can never exceed the amount being discounted.
	amount = decimal.Min(amount, orderAmount)

	if c.MaximumDiscount.IsPositive() {
		amount = decimal.Min(amount, c.MaximumDiscount)
	}

	return floorAtZero(amount).Round(2), nil
}

// floorAtZero clamps negative values to zero.
func floorAtZero(d decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return zero
	}
	return d
}
