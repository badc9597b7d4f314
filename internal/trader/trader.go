package trader

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"atlasbot/internal/execution"
	"atlasbot/internal/feed"
	"atlasbot/internal/logger"
	"atlasbot/internal/models"
	"atlasbot/internal/signals"

	"github.com/benbjohnson/clock"
	"github.com/sirupsen/logrus"
	"github.com/sourcegraph/conc"
)

var ErrNotReady = errors.New("market data not ready")

type Advisor interface {
	NextAdvice(ctx context.Context, symbol string) models.Advice
}

type Market interface {
	LatestPrice(symbol string) (float64, error)
	Bars(symbol string, n int) []models.Bar
	BarCount(symbol string) int
	WaitReady(ctx context.Context, timeout time.Duration) bool
	Mode() feed.Mode
}

type Ledger interface {
	Equity() float64
	TradeCountDay() int
	CheckRisk(symbol string, side models.Side, sizeUSD float64) error
	CheckCircuitBreaker() bool
	KillSwitchTriggered() bool
	AnnotateTrade(id string, fn func(*models.Trade)) bool
	RecordMacroHit(hit bool)
}

type Router interface {
	Execute(ctx context.Context, o execution.Order) (*models.Fill, execution.Outcome, error)
	Close(ctx context.Context, side models.Side, qty float64, symbol string) (*models.Fill, error)
	SetSimOnly(on bool)
}

type FeeSource interface {
	MakerBps() float64
	TakerBps() float64
}

// Metrics receives the loop's counters. Nil means no metrics.
type Metrics interface {
	ObserveEdge(bps float64)
	IncReject(filter string)
	IncExit(reason string)
	IncFill(outcome string)
	SetTradeCountDay(n int)
}

type Config struct {
	Symbols          []string
	Cycle            time.Duration
	ConflictThres    float64
	AllowConflict    bool
	MinEdgeBps       float64
	SlippageBps      float64
	MakerMode        bool
	RiskPerTrade     float64
	ATRPeriod        int
	KTP              float64
	KSL              float64
	MaxHold          time.Duration
	ExitPoll         time.Duration
	MaxDayTrades     int
	DayTradeDampener float64
	ReadyTimeout     time.Duration
	ReadyRetries     int
	SkipReadiness    bool
	RunFor           time.Duration
}

type Deps struct {
	Advisor Advisor
	Market  Market
	Ledger  Ledger
	Router  Router
	Fees    FeeSource
	Rejects *Rejects
	Metrics Metrics
	Clock   clock.Clock
}

// Trader runs the per-cycle decision to order loop and one exit watcher
// per open position.
type Trader struct {
	cfg  Config
	deps Deps
	log  *logger.Logger

	mu        sync.Mutex
	conflicts map[string]int
	waiting   map[string]bool
	open      map[string]int

	exits conc.WaitGroup
}

func New(cfg Config, deps Deps, log *logger.Logger) *Trader {
	if deps.Clock == nil {
		deps.Clock = clock.New()
	}
	if deps.Rejects == nil {
		deps.Rejects = NewRejects()
	}
	if deps.Metrics == nil {
		deps.Metrics = nopMetrics{}
	}
	if cfg.ATRPeriod <= 0 {
		cfg.ATRPeriod = 10
	}
	if cfg.ExitPoll <= 0 {
		cfg.ExitPoll = time.Second
	}
	if cfg.ReadyRetries <= 0 {
		cfg.ReadyRetries = 3
	}
	if cfg.DayTradeDampener <= 0 {
		cfg.DayTradeDampener = 1
	}
	return &Trader{
		cfg:       cfg,
		deps:      deps,
		log:       log,
		conflicts: map[string]int{},
		waiting:   map[string]bool{},
		open:      map[string]int{},
	}
}

func (t *Trader) logEntry() *logrus.Entry {
	return t.log.WithComponent("trader")
}

func (t *Trader) Rejects() *Rejects {
	return t.deps.Rejects
}

// ConflictCount is the number of consecutive cycles symbol's signals
// disagreed.
func (t *Trader) ConflictCount(symbol string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.conflicts[symbol]
}

// OpenPositions counts running exit watchers per symbol.
func (t *Trader) OpenPositions() map[string]int {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[string]int, len(t.open))
	for s, n := range t.open {
		if n > 0 {
			out[s] = n
		}
	}
	return out
}

// Ready waits for the feed up to ReadyRetries times. The returned error
// names the feed mode so operators can tell a dead stream from a dead
// REST endpoint.
func (t *Trader) Ready(ctx context.Context) error {
	if t.cfg.SkipReadiness {
		t.logEntry().Info("readiness gate skipped")
		return nil
	}
	for i := 1; i <= t.cfg.ReadyRetries; i++ {
		if t.deps.Market.WaitReady(ctx, t.cfg.ReadyTimeout) {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		t.logEntry().WithFields(logrus.Fields{
			"attempt": i,
			"mode":    t.deps.Market.Mode().String(),
		}).Warn("market data not ready")
	}
	err := fmt.Errorf("%w: feed mode %s after %d attempts", ErrNotReady, t.deps.Market.Mode(), t.cfg.ReadyRetries)
	t.logEntry().WithError(err).Error("readiness gate failed")
	return err
}

// Run cycles until ctx ends or RunFor elapses, then waits for exit
// watchers to observe the cancellation.
func (t *Trader) Run(ctx context.Context) {
	if t.cfg.RunFor > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.cfg.RunFor)
		defer cancel()
	}
	defer t.exits.Wait()

	ticker := t.deps.Clock.Ticker(t.cfg.Cycle)
	defer ticker.Stop()
	for {
		t.RunCycle(ctx)
		select {
		case <-ctx.Done():
			t.logEntry().Info("trading loop stopped")
			return
		case <-ticker.C:
		}
	}
}

// RunCycle evaluates every symbol once.
func (t *Trader) RunCycle(ctx context.Context) {
	t.deps.Router.SetSimOnly(t.deps.Ledger.CheckCircuitBreaker())
	defer func() { t.deps.Metrics.SetTradeCountDay(t.deps.Ledger.TradeCountDay()) }()
	if t.deps.Ledger.KillSwitchTriggered() {
		t.logEntry().Debug("kill switch engaged, no new entries")
		return
	}
	for _, symbol := range t.cfg.Symbols {
		if ctx.Err() != nil {
			return
		}
		t.evaluate(ctx, symbol)
	}
}

func (t *Trader) evaluate(ctx context.Context, symbol string) {
	adv := t.deps.Advisor.NextAdvice(ctx, symbol)
	side, ok := adv.Bias.Side()
	if !ok {
		return
	}

	conflict := t.conflict(symbol, adv.Rationale)
	if conflict && !t.cfg.AllowConflict {
		t.reject(FilterConflict, symbol, "orderflow and momentum disagree", adv.EdgeBps, map[string]any{
			"orderflow": adv.Rationale[signals.NameOrderFlow],
			"momentum":  adv.Rationale[signals.NameMomentum],
			"streak":    t.ConflictCount(symbol),
		})
		return
	}

	edgeBps := math.Abs(adv.EdgeBps)
	t.deps.Metrics.ObserveEdge(edgeBps)
	if hurdle := t.feeBps() + t.cfg.SlippageBps + t.cfg.MinEdgeBps; edgeBps <= hurdle {
		t.reject(FilterEdge, symbol, "edge below cost hurdle", edgeBps, map[string]any{"hurdle_bps": hurdle})
		return
	}

	atr := signals.ATR(t.deps.Market.Bars(symbol, t.cfg.ATRPeriod+1), t.cfg.ATRPeriod)
	if !t.dataReady(symbol, atr) {
		return
	}

	price, err := t.deps.Market.LatestPrice(symbol)
	if err != nil || price <= 0 {
		t.reject(FilterData, symbol, "no price", edgeBps, nil)
		return
	}

	size := t.size(adv.Confidence, atr, price)
	if size <= 0 || math.IsNaN(size) || math.IsInf(size, 0) {
		t.reject(FilterSize, symbol, "non-positive size", edgeBps, map[string]any{"size_usd": size})
		return
	}

	if err := t.deps.Ledger.CheckRisk(symbol, side, size); err != nil {
		t.reject(FilterRisk, symbol, err.Error(), edgeBps, map[string]any{"size_usd": size, "side": side})
		return
	}

	fill, outcome, err := t.deps.Router.Execute(ctx, execution.Order{
		Symbol:  symbol,
		Side:    side,
		SizeUSD: size,
		EdgeBps: edgeBps,
		Spread:  adv.SpreadBps,
	})
	if err != nil {
		t.logEntry().WithError(err).WithField("symbol", symbol).Warn("order failed")
		t.reject(FilterExec, symbol, err.Error(), edgeBps, nil)
		return
	}
	if fill == nil {
		t.reject(FilterExec, symbol, string(outcome), edgeBps, nil)
		return
	}
	t.deps.Metrics.IncFill(string(outcome))

	tradeID := fill.TradeID
	rationale := make(map[string]float64, len(adv.Rationale))
	for k, v := range adv.Rationale {
		rationale[k] = v
	}
	t.deps.Ledger.AnnotateTrade(tradeID, func(tr *models.Trade) {
		tr.Signals = rationale
		tr.Conflict = conflict
	})

	entry := fill.Price
	if entry <= 0 {
		entry = price
	}
	qty := fill.Qty
	if qty <= 0 {
		qty = size / entry
	}
	t.logEntry().WithFields(logrus.Fields{
		"symbol":   symbol,
		"side":     side,
		"size_usd": size,
		"entry":    entry,
		"atr":      atr,
		"outcome":  outcome,
	}).Info("position opened")

	pos := position{
		tradeID: tradeID,
		symbol:  symbol,
		side:    side,
		qty:     qty,
		entry:   entry,
		atr:     atr,
		macro:   adv.Rationale[signals.NameMacro],
	}
	t.track(symbol, 1)
	t.exits.Go(func() {
		defer t.track(symbol, -1)
		t.watchExit(ctx, pos)
	})
}

// conflict updates the streak counter and reports whether orderflow and
// momentum disagree beyond the threshold.
func (t *Trader) conflict(symbol string, rationale map[string]float64) bool {
	im := rationale[signals.NameOrderFlow]
	mo := rationale[signals.NameMomentum]
	hit := im*mo < 0 && math.Abs(im) > t.cfg.ConflictThres

	t.mu.Lock()
	defer t.mu.Unlock()
	if hit {
		t.conflicts[symbol]++
	} else {
		t.conflicts[symbol] = 0
	}
	return hit
}

// dataReady logs the missing-bars skip once per symbol until data arrives.
func (t *Trader) dataReady(symbol string, atr float64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if math.IsNaN(atr) || atr <= 0 {
		if !t.waiting[symbol] {
			t.waiting[symbol] = true
			t.logEntry().WithFields(logrus.Fields{
				"symbol": symbol,
				"bars":   t.deps.Market.BarCount(symbol),
			}).Debug("waiting for bars")
			t.deps.Rejects.Record(FilterData, Reject{Symbol: symbol, Reason: "insufficient bars"})
			t.deps.Metrics.IncReject(FilterData)
		}
		return false
	}
	delete(t.waiting, symbol)
	return true
}

// size is equity x risk fraction x confidence over the ATR as a fraction
// of price, damped after a busy day.
func (t *Trader) size(confidence, atr, price float64) float64 {
	conf := math.Max(confidence, 0)
	size := t.deps.Ledger.Equity() * t.cfg.RiskPerTrade * conf / (atr / price)
	if t.cfg.MaxDayTrades > 0 && t.deps.Ledger.TradeCountDay() > t.cfg.MaxDayTrades {
		size *= t.cfg.DayTradeDampener
	}
	return size
}

func (t *Trader) feeBps() float64 {
	if t.deps.Fees == nil {
		return 0
	}
	if t.cfg.MakerMode {
		return t.deps.Fees.MakerBps()
	}
	return t.deps.Fees.TakerBps()
}

func (t *Trader) reject(filter, symbol, reason string, edgeBps float64, extra map[string]any) {
	t.deps.Rejects.Record(filter, Reject{Symbol: symbol, Reason: reason, EdgeBps: edgeBps, Extra: extra})
	t.deps.Metrics.IncReject(filter)
	t.logEntry().WithFields(logrus.Fields{
		"symbol":   symbol,
		"filter":   filter,
		"edge_bps": edgeBps,
	}).Debug("skip: " + reason)
}

func (t *Trader) track(symbol string, delta int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.open[symbol] += delta
}

type nopMetrics struct{}

func (nopMetrics) ObserveEdge(float64)  {}
func (nopMetrics) IncReject(string)     {}
func (nopMetrics) IncExit(string)       {}
func (nopMetrics) IncFill(string)       {}
func (nopMetrics) SetTradeCountDay(int) {}
