package feed

import (
	"context"
	"time"

	"atlasbot/internal/models"
)

// warmStart pre-populates bars and prices from REST candles. The candle for
// the still-open minute is dropped so the builder does not duplicate it.
func (m *Manager) warmStart(ctx context.Context) {
	if m.cfg.WarmBars <= 0 {
		return
	}
	current := m.now().UTC().Truncate(time.Minute)

	for _, symbol := range m.cfg.Symbols {
		rctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		bars, err := m.rest.GetCandles(rctx, symbol, m.cfg.WarmBars)
		cancel()
		if err != nil {
			m.logEntry().WithError(err).WithField("symbol", symbol).Warn("warm start failed")
			continue
		}

		closed := make([]models.Bar, 0, len(bars))
		for _, b := range bars {
			if b.Time.Before(current) {
				closed = append(closed, b)
			}
		}
		m.store.warm(symbol, closed, m.now())
		m.logEntry().WithField("symbol", symbol).WithField("bars", len(closed)).Debug("warm start loaded")
	}
}
