package decision

import (
	"context"
	"math"
	"sync"
	"time"

	"atlasbot/internal/logger"
	"atlasbot/internal/models"
	"atlasbot/internal/signals"

	"github.com/benbjohnson/clock"
	"github.com/sirupsen/logrus"
)

type SignalSource interface {
	Values(ctx context.Context, symbol string) map[string]float64
	SpreadBps(symbol string) float64
}

type Market interface {
	LatestPrice(symbol string) (float64, error)
	Bars(symbol string, n int) []models.Bar
}

// FeeSource reports the current maker fee in bps.
type FeeSource interface {
	MakerBps() float64
}

// TradeSource serves the newest n ledger records, oldest first.
type TradeSource interface {
	LastFills(n int) []models.Trade
}

type Config struct {
	MinEdgeBps       float64
	SpreadWeight     float64
	SlippageBps      float64
	VolWindow        int
	ReweightInterval time.Duration
	ReweightTrades   int
	Temperature      float64
}

type Deps struct {
	Signals SignalSource
	Market  Market
	Fees    FeeSource
	Trades  TradeSource
	Store   *WeightStore
	Audit   *logger.Logger
	Clock   clock.Clock
}

// Engine turns signal values into Advice and periodically refits the
// weights from realised trades.
type Engine struct {
	cfg     Config
	deps    Deps
	weights *Weights
	log     *logger.Logger
	clock   clock.Clock

	mu           sync.Mutex
	lastReweight time.Time
}

func New(cfg Config, weights *Weights, deps Deps, log *logger.Logger) *Engine {
	if cfg.VolWindow <= 0 {
		cfg.VolWindow = 30
	}
	if cfg.ReweightInterval <= 0 {
		cfg.ReweightInterval = time.Hour
	}
	if cfg.ReweightTrades <= 0 {
		cfg.ReweightTrades = 200
	}
	if cfg.Temperature <= 0 {
		cfg.Temperature = 0.5
	}
	clk := deps.Clock
	if clk == nil {
		clk = clock.New()
	}
	return &Engine{
		cfg:          cfg,
		deps:         deps,
		weights:      weights,
		log:          log,
		clock:        clk,
		lastReweight: clk.Now(),
	}
}

func (e *Engine) logEntry() *logrus.Entry {
	return e.log.WithComponent("decision")
}

func (e *Engine) Weights() map[string]float64 {
	return e.weights.Snapshot()
}

// NextAdvice scores one symbol. The advice is always audited, traded or not.
func (e *Engine) NextAdvice(ctx context.Context, symbol string) models.Advice {
	start := e.clock.Now()

	values := e.deps.Signals.Values(ctx, symbol)
	weights := e.weights.Snapshot()

	var score float64
	for name, w := range weights {
		score += w * values[name]
	}

	adv := models.Advice{
		Symbol:     symbol,
		Bias:       models.BiasFromScore(score),
		Confidence: math.Abs(score),
		Score:      score,
		SpreadBps:  e.deps.Signals.SpreadBps(symbol),
		Rationale:  values,
	}

	price, err := e.deps.Market.LatestPrice(symbol)
	if err != nil || price <= 0 {
		adv.Bias = models.BiasFlat
		e.audit(adv, start, "no_price")
		return adv
	}
	adv.Price = price

	closes := signals.Closes(e.deps.Market.Bars(symbol, e.cfg.VolWindow))
	adv.EdgeBps = ExpectedEdgeBps(adv.Confidence, signals.StdDev(closes), price,
		e.makerBps()+e.cfg.SlippageBps+e.cfg.SpreadWeight*adv.SpreadBps)
	adv.Edge = adv.EdgeBps / 10_000

	if adv.EdgeBps <= e.cfg.MinEdgeBps {
		adv.Bias = models.BiasFlat
	}
	e.audit(adv, start, "")
	return adv
}

// ExpectedEdgeBps is the confidence scaled volatility move in bps, net of
// costBps.
func ExpectedEdgeBps(confidence, volStd, price, costBps float64) float64 {
	if price <= 0 {
		return -costBps
	}
	return 10_000*confidence*volStd/price - costBps
}

func (e *Engine) makerBps() float64 {
	if e.deps.Fees == nil {
		return 0
	}
	return e.deps.Fees.MakerBps()
}

func (e *Engine) audit(adv models.Advice, start time.Time, reason string) {
	if e.deps.Audit == nil {
		return
	}
	fields := logrus.Fields{
		"symbol":     adv.Symbol,
		"price":      adv.Price,
		"bias":       adv.Bias,
		"edge":       adv.EdgeBps,
		"score":      adv.Score,
		"confidence": adv.Confidence,
		"spread":     adv.SpreadBps,
		"latency_ms": float64(e.clock.Since(start).Microseconds()) / 1000,
		"rationale":  adv.Rationale,
	}
	if reason != "" {
		fields["reason"] = reason
	}
	e.deps.Audit.WithFields(fields).Info("decision")
}

// Restore loads the newest persisted weights. Signals unknown to the current
// vector are ignored; an incompatible snapshot leaves the weights alone.
func (e *Engine) Restore() error {
	if e.deps.Store == nil {
		return nil
	}
	snap, err := e.deps.Store.Last()
	if err != nil || snap == nil {
		return err
	}
	current := e.weights.Snapshot()
	next := make(map[string]float64, len(current))
	for name := range current {
		if v, ok := snap.Weights[name]; ok {
			next[name] = v
		}
	}
	if len(next) != len(current) {
		e.logEntry().WithField("saved_at", snap.Timestamp).Warn("saved weights do not match signal set, keeping defaults")
		return nil
	}
	e.weights.Set(next)
	e.logEntry().WithFields(logrus.Fields{"saved_at": snap.Timestamp, "weights": next}).Info("weights restored")
	return nil
}

// MaybeReweight refits the weights at most once per interval. It reports
// whether a new vector was installed.
func (e *Engine) MaybeReweight() bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.clock.Now()
	if now.Sub(e.lastReweight) < e.cfg.ReweightInterval {
		return false
	}
	e.lastReweight = now

	trades := e.deps.Trades.LastFills(e.cfg.ReweightTrades)
	next, flagged, ok := Reweight(e.weights.Names(), trades, e.cfg.Temperature)
	if !ok {
		e.logEntry().WithField("trades", len(trades)).Debug("not enough distinct returns to reweight")
		return false
	}
	if len(flagged) > 0 {
		e.logEntry().WithField("signals", flagged).Warn("constant signal sample, correlation held at zero")
	}

	e.weights.Set(next)
	installed := e.weights.Snapshot()
	e.logEntry().WithField("weights", installed).Info("weights updated")

	if e.deps.Store != nil {
		snap := Snapshot{Timestamp: now.UTC(), Weights: installed, Samples: len(trades), Flagged: flagged}
		if err := e.deps.Store.Append(snap); err != nil {
			e.logEntry().WithError(err).Warn("persist weights failed")
		}
	}
	return true
}

// Run drives MaybeReweight until ctx is cancelled.
func (e *Engine) Run(ctx context.Context) {
	t := e.clock.Ticker(time.Minute)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			e.MaybeReweight()
		}
	}
}
