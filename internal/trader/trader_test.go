package trader

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"atlasbot/internal/execution"
	"atlasbot/internal/feed"
	"atlasbot/internal/logger"
	"atlasbot/internal/models"
	"atlasbot/internal/signals"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAdvisor struct {
	mu     sync.Mutex
	advice map[string]models.Advice
}

func (a *fakeAdvisor) NextAdvice(ctx context.Context, symbol string) models.Advice {
	a.mu.Lock()
	defer a.mu.Unlock()
	adv, ok := a.advice[symbol]
	if !ok {
		return models.Advice{Symbol: symbol, Bias: models.BiasFlat}
	}
	return adv
}

type fakeMarket struct {
	mu         sync.Mutex
	prices     map[string]float64
	bars       map[string][]models.Bar
	ready      bool
	mode       feed.Mode
	readyCalls int
}

func newFakeMarket() *fakeMarket {
	return &fakeMarket{prices: map[string]float64{}, bars: map[string][]models.Bar{}, mode: feed.ModeStreaming}
}

func (m *fakeMarket) LatestPrice(symbol string) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.prices[symbol]
	if !ok {
		return 0, errors.New("no price")
	}
	return p, nil
}

func (m *fakeMarket) setPrice(symbol string, p float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prices[symbol] = p
}

func (m *fakeMarket) setBars(symbol string, bars []models.Bar) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bars[symbol] = bars
}

func (m *fakeMarket) Bars(symbol string, n int) []models.Bar {
	m.mu.Lock()
	defer m.mu.Unlock()
	bars := m.bars[symbol]
	if len(bars) > n {
		bars = bars[len(bars)-n:]
	}
	return append([]models.Bar(nil), bars...)
}

func (m *fakeMarket) BarCount(symbol string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.bars[symbol])
}

func (m *fakeMarket) WaitReady(ctx context.Context, timeout time.Duration) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.readyCalls++
	return m.ready
}

func (m *fakeMarket) Mode() feed.Mode { return m.mode }

type fakeLedger struct {
	mu         sync.Mutex
	equity     float64
	dayTrades  int
	riskErr    error
	breaker    bool
	trades     map[string]*models.Trade
	macroHits  []bool
	riskChecks int
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{equity: 10_000, trades: map[string]*models.Trade{}}
}

func (l *fakeLedger) Equity() float64 { return l.equity }
func (l *fakeLedger) TradeCountDay() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.dayTrades
}

func (l *fakeLedger) CheckRisk(symbol string, side models.Side, sizeUSD float64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.riskChecks++
	return l.riskErr
}

func (l *fakeLedger) CheckCircuitBreaker() bool { return l.breaker }
func (l *fakeLedger) KillSwitchTriggered() bool { return false }

func (l *fakeLedger) AnnotateTrade(id string, fn func(*models.Trade)) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	tr, ok := l.trades[id]
	if !ok {
		tr = &models.Trade{ID: id}
		l.trades[id] = tr
	}
	fn(tr)
	return true
}

func (l *fakeLedger) RecordMacroHit(hit bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.macroHits = append(l.macroHits, hit)
}

func (l *fakeLedger) trade(id string) models.Trade {
	l.mu.Lock()
	defer l.mu.Unlock()
	if tr, ok := l.trades[id]; ok {
		return *tr
	}
	return models.Trade{}
}

type closeOrder struct {
	side models.Side
	qty  float64
}

type fakeRouter struct {
	mu          sync.Mutex
	orders      []execution.Order
	closes      []closeOrder
	closeCalls  int
	closeErrs   int
	closeNoFill bool
	simOnly     bool
	fillPrice   float64
	tradeID     string
	noFill      bool
	onExecute   func()
}

func (r *fakeRouter) Execute(ctx context.Context, o execution.Order) (*models.Fill, execution.Outcome, error) {
	r.mu.Lock()
	r.orders = append(r.orders, o)
	hook := r.onExecute
	r.mu.Unlock()
	if r.noFill {
		return nil, execution.OutcomeAbandoned, nil
	}
	if hook != nil {
		hook()
	}
	return &models.Fill{TradeID: r.tradeID, Symbol: o.Symbol, Side: o.Side, Price: r.fillPrice, Qty: o.SizeUSD / r.fillPrice, Notional: o.SizeUSD}, execution.OutcomeTaker, nil
}

func (r *fakeRouter) Close(ctx context.Context, side models.Side, qty float64, symbol string) (*models.Fill, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closeCalls++
	if r.closeErrs > 0 {
		r.closeErrs--
		return nil, errors.New("venue unavailable")
	}
	if r.closeNoFill {
		return nil, nil
	}
	r.closes = append(r.closes, closeOrder{side, qty})
	return &models.Fill{Symbol: symbol, Side: side, Qty: qty}, nil
}

func (r *fakeRouter) closeAttempts() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closeCalls
}

func (r *fakeRouter) SetSimOnly(on bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.simOnly = on
}

func (r *fakeRouter) orderCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.orders)
}

type fakeFees struct{ maker, taker float64 }

func (f fakeFees) MakerBps() float64 { return f.maker }
func (f fakeFees) TakerBps() float64 { return f.taker }

type fakeMetrics struct {
	mu      sync.Mutex
	exits   map[string]int
	rejects map[string]int
}

func newFakeMetrics() *fakeMetrics {
	return &fakeMetrics{exits: map[string]int{}, rejects: map[string]int{}}
}

func (m *fakeMetrics) ObserveEdge(float64)  {}
func (m *fakeMetrics) IncFill(string)       {}
func (m *fakeMetrics) SetTradeCountDay(int) {}

func (m *fakeMetrics) IncReject(filter string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rejects[filter]++
}

func (m *fakeMetrics) IncExit(reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.exits[reason]++
}

func (m *fakeMetrics) exitCount(reason string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.exits[reason]
}

// flatBars have a true range of 2 so the ATR is 2.
func flatBars(n int, price float64) []models.Bar {
	start := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	bars := make([]models.Bar, n)
	for i := range bars {
		bars[i] = models.Bar{Time: start.Add(time.Duration(i) * time.Minute), Open: price, High: price + 1, Low: price - 1, Close: price}
	}
	return bars
}

type harness struct {
	trader  *Trader
	advisor *fakeAdvisor
	market  *fakeMarket
	ledger  *fakeLedger
	router  *fakeRouter
	metrics *fakeMetrics
}

func testConfig() Config {
	return Config{
		Symbols:          []string{"BTC-USD"},
		Cycle:            5 * time.Millisecond,
		ConflictThres:    0.3,
		MinEdgeBps:       2,
		SlippageBps:      4,
		RiskPerTrade:     0.001,
		ATRPeriod:        10,
		KTP:              1.5,
		KSL:              1.0,
		MaxHold:          time.Hour,
		ExitPoll:         time.Millisecond,
		MaxDayTrades:     100,
		DayTradeDampener: 0.75,
		ReadyTimeout:     time.Millisecond,
		ReadyRetries:     3,
	}
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()
	h := &harness{
		advisor: &fakeAdvisor{advice: map[string]models.Advice{}},
		market:  newFakeMarket(),
		ledger:  newFakeLedger(),
		router:  &fakeRouter{fillPrice: 100, tradeID: "trade-1"},
		metrics: newFakeMetrics(),
	}
	h.market.setPrice("BTC-USD", 100)
	h.market.setBars("BTC-USD", flatBars(30, 100))
	h.trader = New(cfg, Deps{
		Advisor: h.advisor,
		Market:  h.market,
		Ledger:  h.ledger,
		Router:  h.router,
		Fees:    fakeFees{maker: 0, taker: 6},
		Metrics: h.metrics,
	}, logger.Nop())
	return h
}

func longAdvice(edgeBps float64) models.Advice {
	return models.Advice{
		Symbol:     "BTC-USD",
		Bias:       models.BiasLong,
		Confidence: 0.5,
		EdgeBps:    edgeBps,
		SpreadBps:  5,
		Rationale: map[string]float64{
			signals.NameOrderFlow: 0.6,
			signals.NameMomentum:  0.4,
			signals.NameMacro:     0.3,
		},
	}
}

func (h *harness) cycle(ctx context.Context) {
	h.trader.RunCycle(ctx)
}

func TestFlatAdviceSkipped(t *testing.T) {
	h := newHarness(t, testConfig())
	h.cycle(context.Background())
	assert.Equal(t, 0, h.router.orderCount())
	assert.Equal(t, 0, h.ledger.riskChecks)
}

func TestConflictFilterRejectsAndCounts(t *testing.T) {
	h := newHarness(t, testConfig())
	adv := longAdvice(20)
	adv.Rationale[signals.NameMomentum] = -0.4
	h.advisor.advice["BTC-USD"] = adv

	h.cycle(context.Background())
	h.cycle(context.Background())
	assert.Equal(t, 0, h.router.orderCount())
	assert.Equal(t, 2, h.trader.ConflictCount("BTC-USD"))
	rejects := h.trader.Rejects().Last(FilterConflict, 10)
	require.Len(t, rejects, 2)
	assert.Equal(t, 2, rejects[0].Extra["streak"])

	ctx, cancel := context.WithCancel(context.Background())
	adv.Rationale[signals.NameMomentum] = 0.4
	h.cycle(ctx)
	cancel()
	h.trader.Wait()
	assert.Equal(t, 0, h.trader.ConflictCount("BTC-USD"))
}

func TestAllowConflictAnnotatesTrade(t *testing.T) {
	cfg := testConfig()
	cfg.AllowConflict = true
	h := newHarness(t, cfg)
	adv := longAdvice(20)
	adv.Rationale[signals.NameMomentum] = -0.4
	h.advisor.advice["BTC-USD"] = adv

	ctx, cancel := context.WithCancel(context.Background())
	h.cycle(ctx)
	cancel()
	h.trader.Wait()

	require.Equal(t, 1, h.router.orderCount())
	tr := h.ledger.trade("trade-1")
	assert.True(t, tr.Conflict)
	assert.Equal(t, 0.6, tr.Signals[signals.NameOrderFlow])
}

func TestEdgeFilter(t *testing.T) {
	h := newHarness(t, testConfig())
	h.advisor.advice["BTC-USD"] = longAdvice(11.5)

	h.cycle(context.Background())
	assert.Equal(t, 0, h.router.orderCount())
	rejects := h.trader.Rejects().Last(FilterEdge, 1)
	require.Len(t, rejects, 1)
	assert.Equal(t, 12.0, rejects[0].Extra["hurdle_bps"])
}

func TestDataReadinessSkipLoggedOnce(t *testing.T) {
	h := newHarness(t, testConfig())
	h.advisor.advice["BTC-USD"] = longAdvice(20)
	h.market.setBars("BTC-USD", flatBars(5, 100))

	h.cycle(context.Background())
	h.cycle(context.Background())
	assert.Equal(t, 0, h.router.orderCount())
	assert.Len(t, h.trader.Rejects().Last(FilterData, 0), 1)

	ctx, cancel := context.WithCancel(context.Background())
	h.market.setBars("BTC-USD", flatBars(30, 100))
	h.cycle(ctx)
	cancel()
	h.trader.Wait()
	assert.Equal(t, 1, h.router.orderCount())

	h.market.setBars("BTC-USD", flatBars(5, 100))
	h.cycle(context.Background())
	assert.Len(t, h.trader.Rejects().Last(FilterData, 0), 2)
}

func TestSizingFromEquityConfidenceAndATR(t *testing.T) {
	h := newHarness(t, testConfig())
	h.advisor.advice["BTC-USD"] = longAdvice(20)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.cycle(ctx)
	h.ledger.dayTrades = 101
	h.cycle(ctx)
	cancel()
	h.trader.Wait()

	require.Equal(t, 2, h.router.orderCount())
	assert.InDelta(t, 250, h.router.orders[0].SizeUSD, 1e-9)
	assert.InDelta(t, 187.5, h.router.orders[1].SizeUSD, 1e-9)
	assert.Equal(t, models.SideBuy, h.router.orders[0].Side)
	assert.Equal(t, 20.0, h.router.orders[0].EdgeBps)
}

func TestRiskRejectionSkipsOrder(t *testing.T) {
	h := newHarness(t, testConfig())
	h.advisor.advice["BTC-USD"] = longAdvice(20)
	h.ledger.riskErr = errors.New("gross cap")

	h.cycle(context.Background())
	assert.Equal(t, 0, h.router.orderCount())
	rejects := h.trader.Rejects().Last(FilterRisk, 1)
	require.Len(t, rejects, 1)
	assert.Equal(t, "gross cap", rejects[0].Reason)
}

func TestUnfilledOrderStartsNoExit(t *testing.T) {
	h := newHarness(t, testConfig())
	h.advisor.advice["BTC-USD"] = longAdvice(20)
	h.router.noFill = true

	h.cycle(context.Background())
	h.trader.Wait()
	assert.Empty(t, h.trader.OpenPositions())
	assert.Empty(t, h.router.closes)
	assert.Len(t, h.trader.Rejects().Last(FilterExec, 0), 1)
}

func TestTakeProfitExitAnnotatesReturn(t *testing.T) {
	h := newHarness(t, testConfig())
	h.advisor.advice["BTC-USD"] = longAdvice(20)
	h.router.onExecute = func() { h.market.setPrice("BTC-USD", 104) }

	h.cycle(context.Background())
	h.trader.Wait()

	assert.Equal(t, 1, h.metrics.exitCount(ExitTakeProfit))
	require.Len(t, h.router.closes, 1)
	assert.Equal(t, models.SideSell, h.router.closes[0].side)
	assert.InDelta(t, 2.5, h.router.closes[0].qty, 1e-12)

	tr := h.ledger.trade("trade-1")
	require.NotNil(t, tr.Return)
	assert.InDelta(t, 0.04, *tr.Return, 1e-12)
	require.NotNil(t, tr.MacroHit)
	assert.True(t, *tr.MacroHit)
	assert.Equal(t, []bool{true}, h.ledger.macroHits)
}

func TestStopLossExitOnShort(t *testing.T) {
	h := newHarness(t, testConfig())
	adv := longAdvice(20)
	adv.Bias = models.BiasShort
	h.advisor.advice["BTC-USD"] = adv
	h.router.onExecute = func() { h.market.setPrice("BTC-USD", 103) }

	h.cycle(context.Background())
	h.trader.Wait()

	assert.Equal(t, 1, h.metrics.exitCount(ExitStopLoss))
	require.Len(t, h.router.closes, 1)
	assert.Equal(t, models.SideBuy, h.router.closes[0].side)
	assert.InDelta(t, 2.5, h.router.closes[0].qty, 1e-12)
	tr := h.ledger.trade("trade-1")
	require.NotNil(t, tr.Return)
	assert.InDelta(t, -0.03, *tr.Return, 1e-12)
	assert.False(t, *tr.MacroHit)
}

func TestTimeoutExit(t *testing.T) {
	cfg := testConfig()
	cfg.MaxHold = 10 * time.Millisecond
	h := newHarness(t, cfg)
	h.advisor.advice["BTC-USD"] = longAdvice(20)

	h.cycle(context.Background())
	h.trader.Wait()

	assert.Equal(t, 1, h.metrics.exitCount(ExitTimeout))
	require.Len(t, h.router.closes, 1)
	assert.Empty(t, h.trader.OpenPositions())
}

func TestFailedExitRetriedUntilFilled(t *testing.T) {
	h := newHarness(t, testConfig())
	h.advisor.advice["BTC-USD"] = longAdvice(20)
	h.router.closeErrs = 1
	h.router.onExecute = func() { h.market.setPrice("BTC-USD", 104) }

	h.cycle(context.Background())
	h.trader.Wait()

	assert.Equal(t, 2, h.router.closeAttempts())
	require.Len(t, h.router.closes, 1)
	assert.Equal(t, 1, h.metrics.exitCount(ExitTakeProfit))
	tr := h.ledger.trade("trade-1")
	require.NotNil(t, tr.Return)
	assert.InDelta(t, 0.04, *tr.Return, 1e-12)
	assert.Equal(t, []bool{true}, h.ledger.macroHits)
	assert.Empty(t, h.trader.OpenPositions())
}

func TestUnfilledExitLeavesTradeUnannotated(t *testing.T) {
	h := newHarness(t, testConfig())
	h.advisor.advice["BTC-USD"] = longAdvice(20)
	h.router.closeNoFill = true
	h.router.onExecute = func() { h.market.setPrice("BTC-USD", 104) }

	ctx, cancel := context.WithCancel(context.Background())
	h.cycle(ctx)
	require.Eventually(t, func() bool { return h.router.closeAttempts() >= 2 }, 2*time.Second, time.Millisecond)
	assert.Len(t, h.trader.OpenPositions(), 1)
	cancel()
	h.trader.Wait()

	assert.Empty(t, h.router.closes)
	assert.Equal(t, 0, h.metrics.exitCount(ExitTakeProfit))
	tr := h.ledger.trade("trade-1")
	assert.Nil(t, tr.Return)
	assert.Nil(t, tr.MacroHit)
	assert.Empty(t, h.ledger.macroHits)
}

func TestAnnotationsUseFillTradeID(t *testing.T) {
	cfg := testConfig()
	cfg.AllowConflict = true
	h := newHarness(t, cfg)
	adv := longAdvice(20)
	adv.Rationale[signals.NameMomentum] = -0.4
	h.advisor.advice["BTC-USD"] = adv
	h.router.tradeID = "entry-7"
	h.router.onExecute = func() {
		h.ledger.AnnotateTrade("exit-of-other-position", func(*models.Trade) {})
		h.market.setPrice("BTC-USD", 104)
	}

	h.cycle(context.Background())
	h.trader.Wait()

	tr := h.ledger.trade("entry-7")
	assert.True(t, tr.Conflict)
	require.NotNil(t, tr.Return)
	other := h.ledger.trade("exit-of-other-position")
	assert.False(t, other.Conflict)
	assert.Nil(t, other.Return)
	assert.Empty(t, other.Signals)
}

func TestRetryWaitDoublesToCap(t *testing.T) {
	assert.Equal(t, time.Second, retryWait(time.Second, 1))
	assert.Equal(t, 2*time.Second, retryWait(time.Second, 2))
	assert.Equal(t, 8*time.Second, retryWait(time.Second, 4))
	assert.Equal(t, exitRetryCap, retryWait(time.Second, 20))
	assert.Equal(t, 2*time.Minute, retryWait(2*time.Minute, 3))
}

func TestExitLevels(t *testing.T) {
	long := position{side: models.SideBuy, entry: 100, atr: 2}
	tp, sl := long.levels(1.5, 1)
	assert.Equal(t, 103.0, tp)
	assert.Equal(t, 98.0, sl)
	assert.Equal(t, "", long.exitReason(100, tp, sl, false))
	assert.Equal(t, ExitTakeProfit, long.exitReason(103, tp, sl, true))
	assert.Equal(t, ExitStopLoss, long.exitReason(97.5, tp, sl, false))
	assert.Equal(t, ExitTimeout, long.exitReason(100, tp, sl, true))

	short := position{side: models.SideSell, entry: 100, atr: 2}
	tp, sl = short.levels(1.5, 1)
	assert.Equal(t, 97.0, tp)
	assert.Equal(t, 102.0, sl)
	assert.Equal(t, ExitTakeProfit, short.exitReason(96, tp, sl, false))
	assert.Equal(t, ExitStopLoss, short.exitReason(102, tp, sl, false))
}

func TestCircuitBreakerRoutesToSim(t *testing.T) {
	h := newHarness(t, testConfig())
	h.ledger.breaker = true
	h.cycle(context.Background())
	assert.True(t, h.router.simOnly)

	h.ledger.breaker = false
	h.cycle(context.Background())
	assert.False(t, h.router.simOnly)
}

func TestReadinessGate(t *testing.T) {
	h := newHarness(t, testConfig())
	h.market.mode = feed.ModePolling

	err := h.trader.Ready(context.Background())
	require.ErrorIs(t, err, ErrNotReady)
	assert.Contains(t, err.Error(), "polling")
	assert.Equal(t, 3, h.market.readyCalls)

	h.market.ready = true
	require.NoError(t, h.trader.Ready(context.Background()))

	cfg := testConfig()
	cfg.SkipReadiness = true
	skipped := newHarness(t, cfg)
	require.NoError(t, skipped.trader.Ready(context.Background()))
	assert.Equal(t, 0, skipped.market.readyCalls)
}

func TestRunStopsAfterRunFor(t *testing.T) {
	cfg := testConfig()
	cfg.RunFor = 30 * time.Millisecond
	h := newHarness(t, cfg)

	done := make(chan struct{})
	go func() {
		h.trader.Run(context.Background())
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("run did not stop")
	}
}

func TestRejectsNewestFirstAndBounded(t *testing.T) {
	r := NewRejects()
	for i := 0; i < 150; i++ {
		r.Record(FilterEdge, Reject{Symbol: "ETH-USD", Reason: fmt.Sprintf("r%d", i)})
	}
	all := r.Last(FilterEdge, 0)
	require.Len(t, all, rejectDepth)
	assert.Equal(t, "r149", all[0].Reason)
	assert.Equal(t, "r50", all[len(all)-1].Reason)
	assert.Len(t, r.Last(FilterEdge, 3), 3)
	assert.Empty(t, r.Last(FilterRisk, 5))
	assert.Equal(t, map[string]int{FilterEdge: 100}, r.Counts())
	assert.Equal(t, []string{FilterEdge}, r.Filters())
}
