package signals

import (
	"math"

	"atlasbot/internal/models"
)

// BarSource is anything that serves closed minute bars oldest first.
type BarSource interface {
	Bars(symbol string, n int) []models.Bar
}

// ATR is the mean true range over period bars. It needs period+1 bars and
// returns NaN otherwise.
func ATR(bars []models.Bar, period int) float64 {
	if period <= 0 || len(bars) < period+1 {
		return math.NaN()
	}
	bars = bars[len(bars)-period-1:]
	var sum float64
	for i := 1; i < len(bars); i++ {
		prev := bars[i-1].Close
		sum += math.Max(bars[i].High, prev) - math.Min(bars[i].Low, prev)
	}
	return sum / float64(period)
}

// Volatility is the mean absolute deviation of the last period closes, NaN
// with fewer bars.
func Volatility(bars []models.Bar, period int) float64 {
	if period <= 0 || len(bars) < period {
		return math.NaN()
	}
	closes := Closes(bars[len(bars)-period:])
	mean := mean(closes)
	var dev float64
	for _, c := range closes {
		dev += math.Abs(c - mean)
	}
	return dev / float64(len(closes))
}

// StdDev is the population standard deviation, 0 for fewer than two values.
func StdDev(xs []float64) float64 {
	if len(xs) < 2 {
		return 0
	}
	m := mean(xs)
	var ss float64
	for _, x := range xs {
		ss += (x - m) * (x - m)
	}
	return math.Sqrt(ss / float64(len(xs)))
}

func Closes(bars []models.Bar) []float64 {
	out := make([]float64, len(bars))
	for i, b := range bars {
		out[i] = b.Close
	}
	return out
}

func mean(xs []float64) float64 {
	var s float64
	for _, x := range xs {
		s += x
	}
	return s / float64(len(xs))
}

func clamp(x, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, x))
}
