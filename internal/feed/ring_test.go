package feed

import (
	"testing"
	"time"

	"atlasbot/internal/models"

	"github.com/stretchr/testify/assert"
)

func TestRingEvictsOldest(t *testing.T) {
	r := NewRing(3)
	for i := 1; i <= 5; i++ {
		r.Push(models.Bar{Close: float64(i)})
	}

	assert.Equal(t, 3, r.Len())
	last := r.Last(0)
	assert.Equal(t, []float64{3, 4, 5}, closes(last))
	assert.Equal(t, []float64{4, 5}, closes(r.Last(2)))
	assert.Equal(t, []float64{3, 4, 5}, closes(r.Last(10)))
}

func TestRingPartial(t *testing.T) {
	r := NewRing(5000)
	r.Push(models.Bar{Close: 1})
	r.Push(models.Bar{Close: 2})
	assert.Equal(t, 2, r.Len())
	assert.Equal(t, 5000, r.Cap())
	assert.Equal(t, []float64{1, 2}, closes(r.Last(0)))
}

func TestBarBuilderMinuteBoundary(t *testing.T) {
	start := time.Date(2024, 3, 1, 12, 0, 5, 0, time.UTC)
	b := newBarBuilder(start)

	for _, px := range []float64{100, 103, 99, 101} {
		b.add("BTC-USD", px)
	}
	b.add("ETH-USD", 50)

	assert.Nil(t, b.roll(start.Add(30*time.Second)))

	bars := b.roll(start.Add(56 * time.Second))
	assert.Len(t, bars, 2)
	assert.Equal(t, models.Bar{
		Time: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
		Open: 100, High: 103, Low: 99, Close: 101,
	}, bars["BTC-USD"])
	assert.Equal(t, 50.0, bars["ETH-USD"].Close)

	b.add("ETH-USD", 51)
	bars = b.roll(start.Add(2 * time.Minute))
	assert.Len(t, bars, 1)
	_, hasBTC := bars["BTC-USD"]
	assert.False(t, hasBTC, "no ticks means no bar")
}

func closes(bars []models.Bar) []float64 {
	out := make([]float64, len(bars))
	for i, b := range bars {
		out[i] = b.Close
	}
	return out
}
