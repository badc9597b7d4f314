package execution

import (
	"context"
	"errors"
	"fmt"

	"atlasbot/internal/config"
	"atlasbot/internal/exchange"
	"atlasbot/internal/logger"
	"atlasbot/internal/models"
)

var (
	ErrRetriesExhausted = errors.New("execution: retries exhausted")
	ErrNoPrice          = errors.New("execution: no reference price")
)

// PaperErrorID tags orders the brokerage never acknowledged.
const PaperErrorID = "paper-error"

const (
	BackendSim   = "sim"
	BackendPaper = "paper"
)

// Backend is one execution venue. SubmitOrder sizes by quote notional,
// SubmitQty by base quantity. A nil fill with a nil error means nothing
// executed, which is not an error.
type Backend interface {
	Name() string
	SubmitOrder(ctx context.Context, side models.Side, sizeUSD float64, symbol string) (*models.Fill, error)
	SubmitQty(ctx context.Context, side models.Side, qty float64, symbol string) (*models.Fill, error)
	SubmitMakerOrder(ctx context.Context, side models.Side, sizeUSD float64, symbol string) (*models.Fill, error)
}

type PriceSource interface {
	LatestPrice(symbol string) (float64, error)
}

// NewBackend selects the venue once at startup. The paper backend needs
// credentials; without them the simulated venue is used instead.
func NewBackend(cfg config.ExecutionConfig, creds config.Credentials, client exchange.OrderClient, prices PriceSource, fills *FillLogger, log *logger.Logger) (Backend, error) {
	sim := NewSim(prices, fills, cfg.SlippageBps, cfg.MakerFillProb, nil)
	switch cfg.Backend {
	case BackendSim, "":
		return sim, nil
	case BackendPaper:
		if !creds.Present() || client == nil {
			log.WithComponent("execution").Warn("no brokerage credentials, using simulated execution")
			return sim, nil
		}
		return NewBroker(client, prices, fills, cfg.Retries, cfg.RetryBackoff, log), nil
	}
	return nil, fmt.Errorf("unknown execution backend %q", cfg.Backend)
}
