package decision

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"atlasbot/internal/logger"
	"atlasbot/internal/models"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSignals struct {
	values map[string]float64
	spread float64
}

func (f fakeSignals) Values(ctx context.Context, symbol string) map[string]float64 {
	out := make(map[string]float64, len(f.values))
	for k, v := range f.values {
		out[k] = v
	}
	return out
}

func (f fakeSignals) SpreadBps(string) float64 { return f.spread }

type fakeMarket struct {
	price float64
	bars  []models.Bar
	err   error
}

func (f fakeMarket) LatestPrice(string) (float64, error) { return f.price, f.err }

func (f fakeMarket) Bars(_ string, n int) []models.Bar {
	if n > 0 && n < len(f.bars) {
		return f.bars[len(f.bars)-n:]
	}
	return f.bars
}

type fakeTrades []models.Trade

func (f fakeTrades) LastFills(n int) []models.Trade {
	if n < len(f) {
		return f[len(f)-n:]
	}
	return f
}

// alternating closes 99/101 have a population std of exactly 1.
func swingBars(n int) []models.Bar {
	out := make([]models.Bar, n)
	for i := range out {
		c := 99.0
		if i%2 == 1 {
			c = 101
		}
		out[i] = models.Bar{Close: c}
	}
	return out
}

func defaultWeights() *Weights {
	return NewWeights(map[string]float64{"orderflow": 0.5, "momentum": 0.3, "macro": 0.2})
}

func newEngine(sig fakeSignals, mkt fakeMarket, audit *logger.Logger) *Engine {
	return New(Config{MinEdgeBps: 0, SpreadWeight: 0.2, SlippageBps: 1, VolWindow: 30},
		defaultWeights(), Deps{Signals: sig, Market: mkt, Audit: audit}, logger.Nop())
}

func TestZeroScoreIsFlat(t *testing.T) {
	e := newEngine(
		fakeSignals{values: map[string]float64{"orderflow": 0.3, "momentum": -0.5, "macro": 0}, spread: 5},
		fakeMarket{price: 100, bars: swingBars(30)}, nil)

	adv := e.NextAdvice(context.Background(), "BTC-USD")
	assert.InDelta(t, 0, adv.Score, 1e-12)
	assert.Equal(t, models.BiasFlat, adv.Bias)
}

func TestAdviceEdge(t *testing.T) {
	e := newEngine(
		fakeSignals{values: map[string]float64{"orderflow": 1, "momentum": 1, "macro": 1}, spread: 5},
		fakeMarket{price: 100, bars: swingBars(30)}, nil)

	adv := e.NextAdvice(context.Background(), "BTC-USD")
	require.Equal(t, models.BiasLong, adv.Bias)
	assert.InDelta(t, 1.0, adv.Confidence, 1e-9)
	// 1e4 * 1 * 1 / 100 - (0 + 1 + 0.2*5)
	assert.InDelta(t, 98.0, adv.EdgeBps, 1e-9)
	assert.InDelta(t, 0.0098, adv.Edge, 1e-12)
	assert.Equal(t, 100.0, adv.Price)
}

func TestEdgeBelowMinimumForcesFlat(t *testing.T) {
	e := New(Config{MinEdgeBps: 200, SpreadWeight: 0.2, VolWindow: 30}, defaultWeights(),
		Deps{
			Signals: fakeSignals{values: map[string]float64{"orderflow": -1, "momentum": -1, "macro": -1}, spread: 5},
			Market:  fakeMarket{price: 100, bars: swingBars(30)},
		}, logger.Nop())

	adv := e.NextAdvice(context.Background(), "BTC-USD")
	assert.Less(t, adv.Score, 0.0)
	assert.Equal(t, models.BiasFlat, adv.Bias)
}

func TestNoHistoryIsFlat(t *testing.T) {
	e := newEngine(
		fakeSignals{values: map[string]float64{"orderflow": 1, "momentum": 1, "macro": 1}, spread: 5},
		fakeMarket{price: 100}, nil)
	assert.Equal(t, models.BiasFlat, e.NextAdvice(context.Background(), "BTC-USD").Bias)

	e = newEngine(
		fakeSignals{values: map[string]float64{"orderflow": 1}, spread: 5},
		fakeMarket{err: errors.New("no price")}, nil)
	assert.Equal(t, models.BiasFlat, e.NextAdvice(context.Background(), "BTC-USD").Bias)
}

func TestEveryDecisionIsAudited(t *testing.T) {
	var buf bytes.Buffer
	audit := logger.NewAudit(filepath.Join(t.TempDir(), "decisions.jsonl"), 1)
	audit.SetOutput(&buf)

	e := newEngine(
		fakeSignals{values: map[string]float64{"orderflow": 0.1}, spread: 4},
		fakeMarket{price: 100, bars: swingBars(30)}, audit)
	e.NextAdvice(context.Background(), "BTC-USD")
	e.NextAdvice(context.Background(), "ETH-USD")

	sc := bufio.NewScanner(&buf)
	var rows []map[string]any
	for sc.Scan() {
		var row map[string]any
		require.NoError(t, json.Unmarshal(sc.Bytes(), &row))
		rows = append(rows, row)
	}
	require.Len(t, rows, 2)
	for _, key := range []string{"symbol", "price", "bias", "edge", "score", "latency_ms", "spread", "ts"} {
		assert.Contains(t, rows[0], key)
	}
	assert.Equal(t, "ETH-USD", rows[1]["symbol"])
}

func ret(v float64) *float64 { return &v }

func TestReweightSimplex(t *testing.T) {
	var trades []models.Trade
	for i := 0; i < 40; i++ {
		r := float64(i%5) - 2
		trades = append(trades, models.Trade{
			Signals: map[string]float64{"orderflow": r / 2, "momentum": -r / 3, "macro": 0.2},
			Return:  ret(r / 100),
		})
	}

	w, flagged, ok := Reweight([]string{"macro", "momentum", "orderflow"}, trades, 0.5)
	require.True(t, ok)
	assert.Equal(t, []string{"macro"}, flagged)

	var sum float64
	for _, v := range w {
		assert.GreaterOrEqual(t, v, 0.0)
		sum += v
	}
	assert.InDelta(t, 1.0, sum, 1e-9)
	assert.Greater(t, w["orderflow"], w["macro"])
	assert.Greater(t, w["macro"], w["momentum"])
	// correlations +1, 0, -1 through softmax at T=0.5
	z := math.Exp(2) + 1 + math.Exp(-2)
	assert.InDelta(t, math.Exp(2)/z, w["orderflow"], 1e-9)
}

func TestReweightNeedsDistinctReturns(t *testing.T) {
	trades := []models.Trade{
		{Signals: map[string]float64{"orderflow": 1}, Return: ret(0.01)},
		{Signals: map[string]float64{"orderflow": -1}, Return: ret(0.01)},
		{Signals: map[string]float64{"orderflow": 1}},
	}
	_, _, ok := Reweight([]string{"orderflow"}, trades, 0.5)
	assert.False(t, ok)
}

func TestMaybeReweightInterval(t *testing.T) {
	mock := clock.NewMock()
	var trades fakeTrades
	for i := 0; i < 10; i++ {
		r := float64(i%2)*2 - 1
		trades = append(trades, models.Trade{Signals: map[string]float64{"orderflow": r, "momentum": -r, "macro": 0}, Return: ret(r)})
	}
	store := NewWeightStore(filepath.Join(t.TempDir(), "weights.jsonl"))
	e := New(Config{ReweightInterval: time.Hour, Temperature: 0.5}, defaultWeights(),
		Deps{Trades: trades, Store: store, Clock: mock}, logger.Nop())

	assert.False(t, e.MaybeReweight(), "first pass waits a full interval")
	mock.Add(time.Hour)
	assert.True(t, e.MaybeReweight())
	assert.False(t, e.MaybeReweight())

	snap, err := store.Last()
	require.NoError(t, err)
	require.NotNil(t, snap)
	assert.Equal(t, []string{"macro"}, snap.Flagged)
	assert.InDelta(t, e.Weights()["orderflow"], snap.Weights["orderflow"], 1e-12)
	assert.Greater(t, snap.Weights["orderflow"], snap.Weights["momentum"])
}

func TestRestoreLastSnapshot(t *testing.T) {
	path := filepath.Join(t.TempDir(), "weights.jsonl")
	store := NewWeightStore(path)
	require.NoError(t, store.Append(Snapshot{Timestamp: time.Unix(1, 0), Weights: map[string]float64{"orderflow": 1, "momentum": 0, "macro": 0}}))
	require.NoError(t, store.Append(Snapshot{Timestamp: time.Unix(2, 0), Weights: map[string]float64{"orderflow": 0.2, "momentum": 0.2, "macro": 0.6}}))

	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, _ = f.WriteString("{broken\n")
	require.NoError(t, f.Close())

	e := New(Config{}, defaultWeights(), Deps{Store: store}, logger.Nop())
	require.NoError(t, e.Restore())
	assert.InDelta(t, 0.6, e.Weights()["macro"], 1e-12)
}

func TestRestoreMissingFile(t *testing.T) {
	e := New(Config{}, defaultWeights(), Deps{Store: NewWeightStore(filepath.Join(t.TempDir(), "none.jsonl"))}, logger.Nop())
	require.NoError(t, e.Restore())
	assert.InDelta(t, 0.5, e.Weights()["orderflow"], 1e-12)
}

func TestNormalise(t *testing.T) {
	w := NewWeights(map[string]float64{"a": -1, "b": 0})
	assert.Equal(t, map[string]float64{"a": 0.5, "b": 0.5}, w.Snapshot())
}
