package execution

import (
	"context"
	"math"
	"sync"
	"time"

	"atlasbot/internal/exchange"
	"atlasbot/internal/logger"

	"github.com/sirupsen/logrus"
)

// FeeBook holds the current fee tier in bps.
type FeeBook struct {
	mu       sync.RWMutex
	makerBps float64
	takerBps float64
	minUSD   float64
}

func NewFeeBook(makerBps, takerBps, minUSD float64) *FeeBook {
	return &FeeBook{makerBps: makerBps, takerBps: takerBps, minUSD: minUSD}
}

func (f *FeeBook) MakerBps() float64 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.makerBps
}

func (f *FeeBook) TakerBps() float64 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.takerBps
}

// Fee charges notional at the maker or taker rate with the minimum fee as
// a floor.
func (f *FeeBook) Fee(notional float64, maker bool) float64 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	bps := f.takerBps
	if maker {
		bps = f.makerBps
	}
	return math.Max(notional*bps/10_000, f.minUSD)
}

func (f *FeeBook) Set(rates exchange.FeeRates) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.makerBps = rates.MakerRate * 10_000
	f.takerBps = rates.TakerRate * 10_000
}

// FeeRefresher keeps a FeeBook in line with the account's fee tier.
type FeeRefresher struct {
	book     *FeeBook
	client   exchange.OrderClient
	interval time.Duration
	log      *logger.Logger
}

func NewFeeRefresher(book *FeeBook, client exchange.OrderClient, interval time.Duration, log *logger.Logger) *FeeRefresher {
	if interval <= 0 {
		interval = time.Hour
	}
	return &FeeRefresher{book: book, client: client, interval: interval, log: log}
}

func (r *FeeRefresher) logEntry() *logrus.Entry {
	return r.log.WithComponent("fees")
}

// Refresh pulls the tier once. Failures keep the previous rates.
func (r *FeeRefresher) Refresh(ctx context.Context) error {
	rctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	rates, err := r.client.GetFees(rctx)
	if err != nil {
		return err
	}
	r.book.Set(rates)
	r.logEntry().WithFields(logrus.Fields{
		"maker_bps":  r.book.MakerBps(),
		"taker_bps":  r.book.TakerBps(),
		"usd_volume": rates.USDVolume,
	}).Info("fee tier refreshed")
	return nil
}

func (r *FeeRefresher) Run(ctx context.Context) {
	t := time.NewTicker(r.interval)
	defer t.Stop()
	for {
		if err := r.Refresh(ctx); err != nil && ctx.Err() == nil {
			r.logEntry().WithError(err).Warn("fee refresh failed, keeping current tier")
		}
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
	}
}
