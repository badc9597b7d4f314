package rest

import (
	"github.com/shopspring/decimal"
)

// formatWithStep floors value to a multiple of step and prints it with the
// step's precision. A zero step falls back to 8 decimals.
func formatWithStep(value, step float64) string {
	v := decimal.NewFromFloat(value)
	if step <= 0 {
		return v.Truncate(8).String()
	}

	s := decimal.NewFromFloat(step)
	quantized := v.Div(s).Floor().Mul(s)
	places := -s.Exponent()
	if places < 0 {
		places = 0
	}
	return quantized.StringFixed(places)
}

// formatFunds prints a quote amount, two decimals unless the product says otherwise.
func formatFunds(value, quoteIncrement float64) string {
	if quoteIncrement <= 0 {
		quoteIncrement = 0.01
	}
	return formatWithStep(value, quoteIncrement)
}
