package feed

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"atlasbot/internal/exchange"
	"atlasbot/internal/logger"
	"atlasbot/internal/models"

	"github.com/sirupsen/logrus"
	"github.com/sourcegraph/conc"
)

var ErrNoPrice = errors.New("feed: no live price yet")

// Stream is a streaming ticker transport. Run must close Events when it returns.
type Stream interface {
	Run(ctx context.Context)
	Events() <-chan exchange.Event
	URL() string
}

type StreamFactory func(url string) Stream

// streamRef identifies one dialed stream; only the active one may write.
type streamRef struct {
	stream Stream
}

type Config struct {
	Symbols      []string
	PrimaryURL   string
	SecondaryURL string
	SeedTimeout  time.Duration
	PollInterval time.Duration
	StaleAfter   time.Duration
	BarHistory   int
	WarmBars     int
}

// Manager owns the latest price and minute bar history for every symbol.
type Manager struct {
	cfg  Config
	rest exchange.MarketData
	dial StreamFactory
	log  *logger.Logger
	now  func() time.Time

	store   *store
	started time.Time

	mode          atomic.Int32
	active        atomic.Pointer[streamRef]
	connectedOnce atomic.Bool
	reconnects    atomic.Int64
	watchdogTrips atomic.Int64
	lastStream    atomic.Int64
	pollLatency   atomic.Int64

	wg conc.WaitGroup
}

func New(cfg Config, rest exchange.MarketData, dial StreamFactory, log *logger.Logger) *Manager {
	if cfg.SeedTimeout <= 0 {
		cfg.SeedTimeout = 3 * time.Second
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	if cfg.BarHistory <= 0 {
		cfg.BarHistory = 5000
	}
	now := time.Now
	m := &Manager{
		cfg:     cfg,
		rest:    rest,
		dial:    dial,
		log:     log,
		now:     now,
		store:   newStore(cfg.Symbols, cfg.BarHistory, now()),
		started: now(),
	}
	return m
}

func (m *Manager) logEntry() *logrus.Entry {
	return m.log.WithComponent("feed").WithField("mode", m.Mode().String())
}

// Start runs the warm start synchronously and then launches the stream
// supervisor, REST poller and bar builder. Workers stop with ctx.
func (m *Manager) Start(ctx context.Context) {
	m.warmStart(ctx)

	m.wg.Go(func() { m.barWorker(ctx) })
	m.wg.Go(func() { m.pollWorker(ctx) })
	m.wg.Go(func() { m.supervise(ctx) })
}

// Wait blocks until every worker has returned.
func (m *Manager) Wait() {
	m.wg.Wait()
}

func (m *Manager) Symbols() []string {
	return append([]string(nil), m.cfg.Symbols...)
}

func (m *Manager) Mode() Mode {
	return Mode(m.mode.Load())
}

func (m *Manager) LatestPrice(symbol string) (float64, error) {
	p, _, ok := m.store.price(symbol)
	if !ok {
		return 0, fmt.Errorf("%w for %s", ErrNoPrice, symbol)
	}
	return p, nil
}

// Bars returns the newest n closed bars, oldest first.
func (m *Manager) Bars(symbol string, n int) []models.Bar {
	return m.store.lastBars(symbol, n)
}

func (m *Manager) BarCount(symbol string) int {
	return m.store.barCount(symbol)
}

// Latency is the time since the last live price update from any source.
func (m *Manager) Latency() time.Duration {
	last := m.store.lastUpdate()
	if last.IsZero() {
		return m.now().Sub(m.started)
	}
	return m.now().Sub(last)
}

// PollLatency is how long the last REST polling round took.
func (m *Manager) PollLatency() time.Duration {
	return time.Duration(m.pollLatency.Load())
}

func (m *Manager) Reconnects() int64 {
	return m.reconnects.Load()
}

// WatchdogTrips counts how often a silent stream was demoted to polling.
func (m *Manager) WatchdogTrips() int64 {
	return m.watchdogTrips.Load()
}

// WaitReady blocks until every symbol has a price or timeout elapses.
func (m *Manager) WaitReady(ctx context.Context, timeout time.Duration) bool {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	tick := time.NewTicker(100 * time.Millisecond)
	defer tick.Stop()

	for {
		if m.store.ready() {
			return true
		}
		select {
		case <-ctx.Done():
			return false
		case <-deadline.C:
			return m.store.ready()
		case <-tick.C:
		}
	}
}

// supervise tries the primary then the secondary stream. Without a tick by
// the seed timeout on either, it seeds from REST, enters polling and keeps a
// reconnecting stream on the primary URL in the background.
func (m *Manager) supervise(ctx context.Context) {
	for _, url := range m.urls() {
		ref := &streamRef{stream: m.dial(url)}
		seeded := make(chan struct{})
		sctx, cancel := context.WithCancel(ctx)
		m.active.Store(ref)

		m.wg.Go(func() { ref.stream.Run(sctx) })
		m.wg.Go(func() { m.consume(ref, seeded) })

		timer := time.NewTimer(m.cfg.SeedTimeout)
		select {
		case <-seeded:
			timer.Stop()
			m.logEntry().WithField("url", url).Info("feed streaming")
			<-ctx.Done()
			cancel()
			return
		case <-timer.C:
			m.logEntry().WithField("url", url).Warn("no tick before seed timeout, trying next transport")
			cancel()
		case <-ctx.Done():
			timer.Stop()
			cancel()
			return
		}
	}

	m.seedPrices(ctx)
	m.setMode(ModePolling)
	m.logEntry().Warn("all streams silent, polling REST")

	if m.cfg.PrimaryURL == "" {
		return
	}
	ref := &streamRef{stream: m.dial(m.cfg.PrimaryURL)}
	m.active.Store(ref)
	m.wg.Go(func() { ref.stream.Run(ctx) })
	m.consume(ref, nil)
}

func (m *Manager) urls() []string {
	var out []string
	for _, u := range []string{m.cfg.PrimaryURL, m.cfg.SecondaryURL} {
		if u != "" {
			out = append(out, u)
		}
	}
	return out
}

func (m *Manager) consume(ref *streamRef, seeded chan struct{}) {
	var once sync.Once
	for ev := range ref.stream.Events() {
		if m.active.Load() != ref {
			continue
		}

		switch ev.Type {
		case exchange.EventTypeTicker:
			if ev.Ticker == nil || ev.Ticker.Price <= 0 || !m.acceptStreamTick() {
				continue
			}
			now := m.now()
			if !m.store.tick(ev.Ticker.Symbol, ev.Ticker.Price, now) {
				continue
			}
			m.lastStream.Store(now.UnixNano())
			if seeded != nil {
				once.Do(func() { close(seeded) })
			}
		case exchange.EventTypeConnected:
			if m.connectedOnce.Swap(true) {
				m.reconnects.Add(1)
			}
			if m.mode.CompareAndSwap(int32(ModePolling), int32(ModeStreaming)) {
				m.lastStream.Store(m.now().UnixNano())
				m.logEntry().WithField("url", ev.URL).Info("stream reconnected, leaving polling")
			}
		case exchange.EventTypeDisconnected:
			if m.mode.CompareAndSwap(int32(ModeStreaming), int32(ModePolling)) {
				m.logEntry().WithError(ev.Err).Warn("stream lost, falling back to polling")
			}
		}
	}
}

// acceptStreamTick enforces the single-writer rule through the mode flag.
// A live stream tick always wins: it promotes connecting or polling to
// streaming, which parks the poller.
func (m *Manager) acceptStreamTick() bool {
	if m.mode.CompareAndSwap(int32(ModeConnecting), int32(ModeStreaming)) {
		return true
	}
	if m.mode.CompareAndSwap(int32(ModePolling), int32(ModeStreaming)) {
		m.logEntry().Info("stream ticking again, leaving polling")
		return true
	}
	return m.Mode() == ModeStreaming
}

func (m *Manager) setMode(mode Mode) {
	m.mode.Store(int32(mode))
}

func (m *Manager) barWorker(ctx context.Context) {
	t := time.NewTicker(time.Second)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			now := m.now()
			if bars := m.store.roll(now); len(bars) > 0 {
				m.logEntry().WithField("symbols", len(bars)).Debug("minute bars closed")
			}
			m.checkStale(now)
		}
	}
}

// checkStale demotes a connected but silent stream to polling.
func (m *Manager) checkStale(now time.Time) {
	if m.cfg.StaleAfter <= 0 || m.Mode() != ModeStreaming {
		return
	}
	last := time.Unix(0, m.lastStream.Load())
	if now.Sub(last) < m.cfg.StaleAfter {
		return
	}
	if m.mode.CompareAndSwap(int32(ModeStreaming), int32(ModePolling)) {
		m.watchdogTrips.Add(1)
		m.logEntry().WithField("silent_for", now.Sub(last).String()).Warn("stream stale, falling back to polling")
	}
}

// ActiveURL is the stream transport currently allowed to write prices.
func (m *Manager) ActiveURL() string {
	if ref := m.active.Load(); ref != nil {
		return ref.stream.URL()
	}
	return ""
}
