package decision

import (
	"math"
	"sort"

	"atlasbot/internal/models"
)

// Reweight derives a new weight vector from realised trades. Each signal's
// Pearson correlation with trade return goes through a softmax at the given
// temperature. ok is false when the sample has fewer than two distinct
// returns. Signals whose recorded values are constant keep correlation 0 and
// are listed in flagged.
func Reweight(names []string, trades []models.Trade, temperature float64) (weights map[string]float64, flagged []string, ok bool) {
	var returns []float64
	values := make(map[string][]float64, len(names))
	for _, tr := range trades {
		if tr.Return == nil || tr.Signals == nil {
			continue
		}
		returns = append(returns, *tr.Return)
		for _, n := range names {
			values[n] = append(values[n], tr.Signals[n])
		}
	}
	if distinct(returns) < 2 {
		return nil, nil, false
	}

	corr := make(map[string]float64, len(names))
	for _, n := range names {
		c, constant := pearson(values[n], returns)
		if constant {
			flagged = append(flagged, n)
		}
		corr[n] = c
	}
	sort.Strings(flagged)
	return softmax(corr, temperature), flagged, true
}

// pearson returns 0 and constant=true when xs has no variance.
func pearson(xs, ys []float64) (float64, bool) {
	n := float64(len(xs))
	if len(xs) < 2 || len(xs) != len(ys) {
		return 0, true
	}
	var mx, my float64
	for i := range xs {
		mx += xs[i]
		my += ys[i]
	}
	mx /= n
	my /= n

	var sxy, sxx, syy float64
	for i := range xs {
		dx, dy := xs[i]-mx, ys[i]-my
		sxy += dx * dy
		sxx += dx * dx
		syy += dy * dy
	}
	if sxx == 0 {
		return 0, true
	}
	if syy == 0 {
		return 0, false
	}
	return sxy / math.Sqrt(sxx*syy), false
}

func softmax(xs map[string]float64, temperature float64) map[string]float64 {
	if temperature <= 0 {
		temperature = 1
	}
	peak := math.Inf(-1)
	for _, x := range xs {
		peak = math.Max(peak, x/temperature)
	}
	out := make(map[string]float64, len(xs))
	var sum float64
	for k, x := range xs {
		e := math.Exp(x/temperature - peak)
		out[k] = e
		sum += e
	}
	for k := range out {
		out[k] /= sum
	}
	return out
}

func distinct(xs []float64) int {
	seen := make(map[float64]struct{}, len(xs))
	for _, x := range xs {
		seen[x] = struct{}{}
	}
	return len(seen)
}
