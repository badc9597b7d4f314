package signals

import (
	"context"
	"sync"
	"time"

	"atlasbot/internal/exchange"
	"atlasbot/internal/logger"

	"github.com/sirupsen/logrus"
)

const (
	DefaultSpreadBps = 5.0
	minSpreadBps     = 1.0
	maxSpreadBps     = 15.0
)

type bookState struct {
	imbalance float64
	spreadBps float64
	hasSpread bool
}

// OrderFlow polls level 2 books and keeps the size imbalance and spread for
// each symbol.
type OrderFlow struct {
	src      exchange.BookSource
	symbols  []string
	interval time.Duration
	log      *logger.Logger

	mu       sync.RWMutex
	books    map[string]bookState
	lastPoll time.Time
}

func NewOrderFlow(src exchange.BookSource, symbols []string, interval time.Duration, log *logger.Logger) *OrderFlow {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	return &OrderFlow{
		src:      src,
		symbols:  symbols,
		interval: interval,
		log:      log,
		books:    make(map[string]bookState, len(symbols)),
		lastPoll: time.Now(),
	}
}

func (o *OrderFlow) logEntry() *logrus.Entry {
	return o.log.WithComponent("orderflow")
}

// Run polls until ctx is cancelled.
func (o *OrderFlow) Run(ctx context.Context) {
	t := time.NewTicker(o.interval)
	defer t.Stop()
	for {
		o.PollOnce(ctx)
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
	}
}

// PollOnce refreshes every symbol once. Per-symbol failures keep the
// previous reading.
func (o *OrderFlow) PollOnce(ctx context.Context) {
	for _, symbol := range o.symbols {
		rctx, cancel := context.WithTimeout(ctx, 2*time.Second)
		book, err := o.src.GetBook(rctx, symbol)
		cancel()
		if err != nil {
			o.logEntry().WithError(err).WithField("symbol", symbol).Debug("book poll failed")
			continue
		}
		o.update(symbol, book)
	}
	o.mu.Lock()
	o.lastPoll = time.Now()
	o.mu.Unlock()
}

func (o *OrderFlow) update(symbol string, book exchange.Book) {
	var bids, asks float64
	for _, l := range book.Bids {
		bids += l.Size
	}
	for _, l := range book.Asks {
		asks += l.Size
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	st := o.books[symbol]
	if bids+asks > 0 {
		st.imbalance = (bids - asks) / (bids + asks)
	}
	if len(book.Bids) > 0 && len(book.Asks) > 0 {
		bid, ask := book.Bids[0].Price, book.Asks[0].Price
		if mid := (bid + ask) / 2; mid > 0 && ask >= bid {
			st.spreadBps = (ask - bid) / mid * 10_000
			st.hasSpread = true
		}
	}
	o.books[symbol] = st
}

// Imbalance is (bids-asks)/(bids+asks) from the last book, 0 if unknown.
func (o *OrderFlow) Imbalance(symbol string) float64 {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.books[symbol].imbalance
}

// SpreadBps is the top of book spread clamped to [1, 15] bps, 5 if unknown.
func (o *OrderFlow) SpreadBps(symbol string) float64 {
	o.mu.RLock()
	st, ok := o.books[symbol]
	o.mu.RUnlock()
	if !ok || !st.hasSpread {
		return DefaultSpreadBps
	}
	return clamp(st.spreadBps, minSpreadBps, maxSpreadBps)
}

// PollLatency is the time since the last completed polling round.
func (o *OrderFlow) PollLatency() time.Duration {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return time.Since(o.lastPoll)
}
