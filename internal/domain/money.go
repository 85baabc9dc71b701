package domain

import "math"

// RoundToCent rounds a dollar amount to two decimal places.
func RoundToCent(v float64) float64 {
	return math.Round(v*100) / 100
}

// MinorUnits converts a dollar amount to integer cents for payment APIs.
func MinorUnits(v float64) int64 {
	return int64(math.Round(v * 100))
}

// Totals is the money breakdown of a cart.
type Totals struct {
	Subtotal float64
	Tax      float64
	Shipping float64
	Total    float64
}

// CalculateTotals derives cart totals from the current item snapshot. Tax is
// rounded per line for display, but the grand total is rounded from the
// unrounded sum so the displayed total matches what is charged.
func CalculateTotals(prices []float64, shipping, taxRate float64) Totals {
	var subtotal float64
	for _, p := range prices {
		subtotal += p
	}
	subtotal = RoundToCent(subtotal)

	tax := (subtotal + shipping) * taxRate
	return Totals{
		Subtotal: subtotal,
		Tax:      RoundToCent(tax),
		Shipping: shipping,
		Total:    RoundToCent(subtotal + shipping + tax),
	}
}
