package feed

import (
	"time"

	"atlasbot/internal/models"
)

type bucket struct {
	open, high, low, close float64
	ticks                  int
}

// barBuilder folds ticks into per-symbol minute buckets.
type barBuilder struct {
	minute  time.Time
	buckets map[string]*bucket
}

func newBarBuilder(now time.Time) *barBuilder {
	return &barBuilder{
		minute:  now.UTC().Truncate(time.Minute),
		buckets: map[string]*bucket{},
	}
}

func (b *barBuilder) add(symbol string, price float64) {
	bk, ok := b.buckets[symbol]
	if !ok {
		b.buckets[symbol] = &bucket{open: price, high: price, low: price, close: price, ticks: 1}
		return
	}
	if price > bk.high {
		bk.high = price
	}
	if price < bk.low {
		bk.low = price
	}
	bk.close = price
	bk.ticks++
}

// roll closes the current minute once now has crossed into a later one.
// Only symbols that saw at least one tick get a bar.
func (b *barBuilder) roll(now time.Time) map[string]models.Bar {
	current := now.UTC().Truncate(time.Minute)
	if !current.After(b.minute) {
		return nil
	}

	out := make(map[string]models.Bar, len(b.buckets))
	for symbol, bk := range b.buckets {
		if bk.ticks == 0 {
			continue
		}
		out[symbol] = models.Bar{Time: b.minute, Open: bk.open, High: bk.high, Low: bk.low, Close: bk.close}
	}
	b.buckets = map[string]*bucket{}
	b.minute = current
	return out
}
