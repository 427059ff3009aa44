// Package pricing computes what members pay for discounted item options.
package pricing

import "github.com/shopspring/decimal"

var hundred = decimal.NewFromInt(100)

// EffectivePrice applies a percentage discount to an integer credit price,
// rounding half-up to the nearest credit.
func EffectivePrice(price, discountPercentage int) int {
	if discountPercentage <= 0 {
		return price
	}
	if discountPercentage >= 100 {
		return 0
	}
	value := decimal.NewFromInt(int64(price)).
		Mul(decimal.NewFromInt(int64(100 - discountPercentage))).
		Div(hundred).
		Round(0)
	return int(value.IntPart())
}

// LineTotal returns the cost of quantity units at the discounted price.
func LineTotal(price, discountPercentage, quantity int) int {
	return EffectivePrice(price, discountPercentage) * quantity
}
