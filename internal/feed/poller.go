package feed

import (
	"context"
	"time"
)

func (m *Manager) pollWorker(ctx context.Context) {
	t := time.NewTicker(m.cfg.PollInterval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if m.Mode() != ModePolling {
				continue
			}
			m.pollOnce(ctx)
		}
	}
}

// pollOnce pulls one ticker per symbol. Failures are logged and retried on
// the next interval. Results are dropped if the mode flipped mid-round.
func (m *Manager) pollOnce(ctx context.Context) {
	start := time.Now()
	for _, symbol := range m.cfg.Symbols {
		price, err := m.fetchTicker(ctx, symbol)
		if err != nil {
			m.logEntry().WithError(err).WithField("symbol", symbol).Warn("ticker poll failed")
			continue
		}
		if m.Mode() != ModePolling {
			return
		}
		m.store.tick(symbol, price, m.now())
	}
	m.pollLatency.Store(int64(time.Since(start)))
}

// seedPrices is the one-shot best-effort REST seed before polling starts.
func (m *Manager) seedPrices(ctx context.Context) {
	for _, symbol := range m.cfg.Symbols {
		price, err := m.fetchTicker(ctx, symbol)
		if err != nil {
			m.logEntry().WithError(err).WithField("symbol", symbol).Debug("seed price failed")
			continue
		}
		m.store.tick(symbol, price, m.now())
	}
}

func (m *Manager) fetchTicker(ctx context.Context, symbol string) (float64, error) {
	rctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return m.rest.GetTicker(rctx, symbol)
}
