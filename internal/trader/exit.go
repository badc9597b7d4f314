package trader

import (
	"context"
	"time"

	"atlasbot/internal/models"

	"github.com/sirupsen/logrus"
)

const (
	ExitTakeProfit = "tp"
	ExitStopLoss   = "sl"
	ExitTimeout    = "timeout"
)

type position struct {
	tradeID string
	symbol  string
	side    models.Side
	qty     float64
	entry   float64
	atr     float64
	macro   float64
}

// levels are the ATR multiple take-profit and stop-loss prices.
func (p position) levels(kTP, kSL float64) (tp, sl float64) {
	sign := p.side.Sign()
	return p.entry + sign*kTP*p.atr, p.entry - sign*kSL*p.atr
}

// exitReason says which exit fired at px, if any.
func (p position) exitReason(px, tp, sl float64, expired bool) string {
	long := p.side == models.SideBuy
	switch {
	case long && px >= tp, !long && px <= tp:
		return ExitTakeProfit
	case long && px <= sl, !long && px >= sl:
		return ExitStopLoss
	case expired:
		return ExitTimeout
	}
	return ""
}

// exitRetryCap bounds the wait between failed exit orders.
const exitRetryCap = time.Minute

// watchExit polls the price until an exit fires, closes the position with
// the opposite side and annotates the entry trade with its return. Once an
// exit has fired the close is retried with a doubling wait until it fills or
// ctx ends.
func (t *Trader) watchExit(ctx context.Context, p position) {
	tp, sl := p.levels(t.cfg.KTP, t.cfg.KSL)
	deadline := t.deps.Clock.Now().Add(t.cfg.MaxHold)
	entry := t.logEntry().WithFields(logrus.Fields{
		"symbol":   p.symbol,
		"trade_id": p.tradeID,
		"tp":       tp,
		"sl":       sl,
	})

	ticker := t.deps.Clock.Ticker(t.cfg.ExitPoll)
	defer ticker.Stop()

	var (
		reason   string
		attempts int
		retryAt  time.Time
	)
	for {
		px, err := t.deps.Market.LatestPrice(p.symbol)
		if err == nil && px > 0 {
			now := t.deps.Clock.Now()
			if reason == "" {
				expired := t.cfg.MaxHold > 0 && !now.Before(deadline)
				reason = p.exitReason(px, tp, sl, expired)
			}
			if reason != "" && !now.Before(retryAt) {
				attempts++
				if t.close(ctx, p, px, reason, attempts, entry) {
					return
				}
				retryAt = now.Add(retryWait(t.cfg.ExitPoll, attempts))
			}
		}
		select {
		case <-ctx.Done():
			entry.WithField("pending_exit", reason).Debug("exit watcher stopped with position open")
			return
		case <-ticker.C:
		}
	}
}

// retryWait doubles poll per failed attempt up to exitRetryCap.
func retryWait(poll time.Duration, attempts int) time.Duration {
	wait := poll
	for i := 1; i < attempts && wait < exitRetryCap; i++ {
		wait *= 2
	}
	if wait > exitRetryCap && poll < exitRetryCap {
		wait = exitRetryCap
	}
	return wait
}

// close sells or buys back the held quantity. It reports false when nothing
// executed so the caller keeps the position open and retries.
func (t *Trader) close(ctx context.Context, p position, px float64, reason string, attempt int, entry *logrus.Entry) bool {
	entry = entry.WithFields(logrus.Fields{"reason": reason, "exit": px, "attempt": attempt})

	fill, err := t.deps.Router.Close(ctx, p.side.Opposite(), p.qty, p.symbol)
	if err != nil {
		entry.WithError(err).Warn("exit order failed, will retry")
		return false
	}
	if fill == nil {
		entry.Warn("exit order not filled, will retry")
		return false
	}
	t.deps.Metrics.IncExit(reason)

	exit := fill.Price
	if exit <= 0 {
		exit = px
	}
	ret := (exit - p.entry) / p.entry * p.side.Sign()
	t.deps.Ledger.AnnotateTrade(p.tradeID, func(tr *models.Trade) {
		tr.Return = &ret
		if p.macro != 0 {
			hit := p.macro*ret > 0
			tr.MacroHit = &hit
		}
	})
	if p.macro != 0 {
		t.deps.Ledger.RecordMacroHit(p.macro*ret > 0)
	}
	entry.WithFields(logrus.Fields{"return": ret, "fill": exit}).Info("position closed")
	return true
}

// Wait blocks until every exit watcher has returned.
func (t *Trader) Wait() {
	t.exits.Wait()
}
