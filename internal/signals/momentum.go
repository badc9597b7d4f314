package signals

import "atlasbot/internal/models"

const (
	MomentumWindow = 15
	BreakoutWindow = 20
)

// Momentum is the slope of the typical price across the last 15 bars,
// normalised by that window's range into [-1, 1].
func Momentum(bars []models.Bar) float64 {
	if len(bars) < MomentumWindow {
		return 0
	}
	recent := bars[len(bars)-MomentumWindow:]
	lo, hi := typical(recent[0]), typical(recent[0])
	for _, b := range recent[1:] {
		p := typical(b)
		if p < lo {
			lo = p
		}
		if p > hi {
			hi = p
		}
	}
	if hi == lo {
		return 0
	}
	slope := typical(recent[len(recent)-1]) - typical(recent[0])
	return clamp(slope/(hi-lo), -1, 1)
}

// Breakout is +1 when the latest close clears the prior 20 closes, -1 when
// it falls under all of them and 0 otherwise.
func Breakout(bars []models.Bar) float64 {
	if len(bars) <= BreakoutWindow {
		return 0
	}
	recent := bars[len(bars)-BreakoutWindow-1:]
	last := recent[len(recent)-1].Close
	lo, hi := recent[0].Close, recent[0].Close
	for _, b := range recent[1 : len(recent)-1] {
		if b.Close < lo {
			lo = b.Close
		}
		if b.Close > hi {
			hi = b.Close
		}
	}
	switch {
	case last > hi:
		return 1
	case last < lo:
		return -1
	}
	return 0
}

func typical(b models.Bar) float64 {
	return (b.Open + b.High + b.Low + b.Close) / 4
}
