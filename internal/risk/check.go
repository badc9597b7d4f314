package risk

import (
	"errors"
	"fmt"
	"math"

	"atlasbot/internal/models"
)

var (
	ErrGrossCap  = errors.New("risk: gross notional cap")
	ErrDailyLoss = errors.New("risk: max daily loss reached")
	ErrMargin    = errors.New("risk: insufficient free margin")
	ErrKilled    = errors.New("risk: kill switch triggered")
)

// CheckRisk reports whether an order of sizeUSD may be sent. It never
// mutates the ledger. A nil error means the order passes.
func (l *Ledger) CheckRisk(symbol string, side models.Side, sizeUSD float64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.killed {
		return ErrKilled
	}

	projected := math.Abs(signedCost(l.lots[symbol]) + side.Sign()*sizeUSD)
	if l.cfg.MaxGrossUSD > 0 && projected > l.cfg.MaxGrossUSD {
		return fmt.Errorf("%w: %s projected %.2f > %.2f", ErrGrossCap, symbol, projected, l.cfg.MaxGrossUSD)
	}
	if l.cfg.MaxDailyLoss > 0 && l.dailyPnL <= -l.cfg.MaxDailyLoss {
		return fmt.Errorf("%w: %.2f", ErrDailyLoss, l.dailyPnL)
	}
	if side == models.SideBuy {
		estFee := math.Max(sizeUSD*l.cfg.TakerRate, l.cfg.MinFeeUSD)
		if sizeUSD+estFee > l.freeMargin {
			return fmt.Errorf("%w: need %.2f have %.2f", ErrMargin, sizeUSD+estFee, l.freeMargin)
		}
	}
	return nil
}
