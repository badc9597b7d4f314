// Package metrics exports the bot's gauges and counters to prometheus.
// The core only pushes values; nothing here feeds back into trading.
package metrics

import (
	"context"
	"time"

	"atlasbot/internal/feed"
	"atlasbot/internal/risk"

	"github.com/prometheus/client_golang/prometheus"
)

type FeedSource interface {
	Latency() time.Duration
	PollLatency() time.Duration
	Reconnects() int64
	Mode() feed.Mode
}

type LedgerSource interface {
	TotalMTM() float64
	Realised() float64
	TotalGross() float64
	Cash() float64
	Equity() float64
	Gating() risk.GatingStatus
	MakerFillRatio() float64
	MacroHitRate() float64
}

type WeightSource interface {
	Weights() map[string]float64
}

type Sources struct {
	Feed    FeedSource
	Ledger  LedgerSource
	Weights WeightSource
}

var feedModes = []feed.Mode{feed.ModeConnecting, feed.ModeStreaming, feed.ModePolling}

// Metrics holds every collector. The trading loop calls the Inc/Observe
// hooks; Update copies component state into the gauges.
type Metrics struct {
	wsLatency      prometheus.Gauge
	restLatency    prometheus.Gauge
	reconnects     prometheus.Gauge
	feedMode       *prometheus.GaugeVec
	pnlMTM         prometheus.Gauge
	pnlRealised    prometheus.Gauge
	gross          prometheus.Gauge
	cash           prometheus.Gauge
	equity         prometheus.Gauge
	heartbeat      prometheus.Gauge
	breaker        prometheus.Gauge
	killSwitch     prometheus.Gauge
	makerRatio     prometheus.Gauge
	macroHitRate   prometheus.Gauge
	edge           prometheus.Gauge
	edgeHist       prometheus.Histogram
	tradeCountDay  prometheus.Gauge
	exits          *prometheus.CounterVec
	rejects        *prometheus.CounterVec
	fills          *prometheus.CounterVec
	weights        *prometheus.GaugeVec
	cycleCompleted prometheus.Counter

	src Sources
	now func() time.Time
}

// New registers the collectors on reg. A nil reg uses the default registry.
func New(reg prometheus.Registerer, src Sources) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gauge := func(name, help string) prometheus.Gauge {
		return prometheus.NewGauge(prometheus.GaugeOpts{Namespace: "atlas", Name: name, Help: help})
	}
	m := &Metrics{
		wsLatency:     gauge("ws_latency_ms", "Milliseconds since the last live price update."),
		restLatency:   gauge("rest_latency_ms", "Duration of the last REST polling round in milliseconds."),
		reconnects:    gauge("ws_reconnects", "Stream reconnect attempts since start."),
		pnlMTM:        gauge("pnl_mtm_usd", "Unrealised mark-to-market PnL."),
		pnlRealised:   gauge("pnl_realised_usd", "Realised PnL."),
		gross:         gauge("gross_usd", "Total gross notional across symbols."),
		cash:          gauge("cash_usd", "Cash balance."),
		equity:        gauge("equity_usd", "Cash plus inventory at market."),
		heartbeat:     gauge("heartbeat_timestamp_seconds", "Unix time of the last metrics update."),
		breaker:       gauge("circuit_breaker", "1 while the circuit breaker is engaged."),
		killSwitch:    gauge("kill_switch", "1 once the kill switch has tripped."),
		makerRatio:    gauge("maker_fill_ratio", "Share of fills that rested as maker."),
		macroHitRate:  gauge("macro_hit_rate", "Share of closed trades where the macro bias matched the outcome."),
		edge:          gauge("edge_bps", "Edge of the latest evaluated advice."),
		tradeCountDay: gauge("trade_count_day", "Fills since the UTC day started."),
		feedMode: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "atlas",
			Name:      "feed_mode",
			Help:      "1 for the active feed mode.",
		}, []string{"mode"}),
		edgeHist: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "atlas",
			Name:      "edge_bps_hist",
			Help:      "Distribution of advice edge in bps.",
			Buckets:   []float64{0, 1, 2, 5, 10, 20, 50, 100},
		}),
		exits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "atlas",
			Name:      "exits_total",
			Help:      "Closed positions by exit reason.",
		}, []string{"reason"}),
		rejects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "atlas",
			Name:      "rejects_total",
			Help:      "Skipped opportunities by filter.",
		}, []string{"filter"}),
		fills: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "atlas",
			Name:      "fills_total",
			Help:      "Entry fills by routing outcome.",
		}, []string{"outcome"}),
		weights: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "atlas",
			Name:      "signal_weight",
			Help:      "Current decision weight per signal.",
		}, []string{"signal"}),
		cycleCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "atlas",
			Name:      "metric_updates_total",
			Help:      "Metric refreshes performed.",
		}),
		src: src,
		now: time.Now,
	}

	reg.MustRegister(
		m.wsLatency, m.restLatency, m.reconnects, m.feedMode,
		m.pnlMTM, m.pnlRealised, m.gross, m.cash, m.equity,
		m.heartbeat, m.breaker, m.killSwitch, m.makerRatio, m.macroHitRate,
		m.edge, m.edgeHist, m.tradeCountDay,
		m.exits, m.rejects, m.fills, m.weights, m.cycleCompleted,
	)
	return m
}

func (m *Metrics) ObserveEdge(bps float64) {
	m.edge.Set(bps)
	m.edgeHist.Observe(bps)
}

func (m *Metrics) IncReject(filter string) { m.rejects.WithLabelValues(filter).Inc() }
func (m *Metrics) IncExit(reason string)   { m.exits.WithLabelValues(reason).Inc() }
func (m *Metrics) IncFill(outcome string)  { m.fills.WithLabelValues(outcome).Inc() }
func (m *Metrics) SetTradeCountDay(n int)  { m.tradeCountDay.Set(float64(n)) }

// Update copies the current component state into the gauges.
func (m *Metrics) Update() {
	if f := m.src.Feed; f != nil {
		m.wsLatency.Set(float64(f.Latency().Milliseconds()))
		m.restLatency.Set(float64(f.PollLatency().Milliseconds()))
		m.reconnects.Set(float64(f.Reconnects()))
		mode := f.Mode()
		for _, candidate := range feedModes {
			v := 0.0
			if candidate == mode {
				v = 1
			}
			m.feedMode.WithLabelValues(candidate.String()).Set(v)
		}
	}
	if l := m.src.Ledger; l != nil {
		m.pnlMTM.Set(l.TotalMTM())
		m.pnlRealised.Set(l.Realised())
		m.gross.Set(l.TotalGross())
		m.cash.Set(l.Cash())
		m.equity.Set(l.Equity())
		g := l.Gating()
		m.breaker.Set(boolGauge(g.CircuitBreaker))
		m.killSwitch.Set(boolGauge(g.KillSwitch))
		m.makerRatio.Set(l.MakerFillRatio())
		m.macroHitRate.Set(l.MacroHitRate())
	}
	if w := m.src.Weights; w != nil {
		for name, v := range w.Weights() {
			m.weights.WithLabelValues(name).Set(v)
		}
	}
	m.heartbeat.Set(float64(m.now().Unix()))
	m.cycleCompleted.Inc()
}

// Run refreshes the gauges every interval until ctx ends.
func (m *Metrics) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		m.Update()
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
	}
}

func boolGauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
