package execution

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync"

	"atlasbot/internal/models"

	"github.com/google/uuid"
)

// Sim fills immediately at the live price plus gaussian slippage. Maker
// orders fill with a fixed probability at the live price.
type Sim struct {
	prices      PriceSource
	fills       *FillLogger
	slippageBps float64
	makerProb   float64

	mu  sync.Mutex
	rng *rand.Rand
}

// NewSim builds the simulated venue. A nil rng draws from a random seed.
func NewSim(prices PriceSource, fills *FillLogger, slippageBps, makerProb float64, rng *rand.Rand) *Sim {
	if rng == nil {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return &Sim{prices: prices, fills: fills, slippageBps: slippageBps, makerProb: makerProb, rng: rng}
}

func (s *Sim) Name() string { return BackendSim }

func (s *Sim) SubmitOrder(ctx context.Context, side models.Side, sizeUSD float64, symbol string) (*models.Fill, error) {
	return s.market(side, symbol, func(float64) float64 { return sizeUSD })
}

// SubmitQty fills qty base units; the notional follows the slipped price.
func (s *Sim) SubmitQty(ctx context.Context, side models.Side, qty float64, symbol string) (*models.Fill, error) {
	return s.market(side, symbol, func(fillPrice float64) float64 { return qty * fillPrice })
}

func (s *Sim) market(side models.Side, symbol string, notional func(fillPrice float64) float64) (*models.Fill, error) {
	price, err := s.price(symbol)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	slipPct := s.rng.NormFloat64() * s.slippageBps / 10_000
	s.mu.Unlock()

	fillPrice := price * (1 + slipPct)
	size := notional(fillPrice)
	id := "sim-" + uuid.NewString()
	row, err := s.fills.LogFill(FillEvent{
		OrderID:  id,
		Symbol:   symbol,
		Side:     side,
		Notional: size,
		Price:    fillPrice,
		Slip:     size * slipPct,
	})
	if err != nil {
		return nil, err
	}
	return &models.Fill{OrderID: id, TradeID: row.TradeID, Symbol: symbol, Side: side, Qty: size / fillPrice, Price: fillPrice, Notional: size}, nil
}

func (s *Sim) SubmitMakerOrder(ctx context.Context, side models.Side, sizeUSD float64, symbol string) (*models.Fill, error) {
	s.mu.Lock()
	hit := s.rng.Float64() < s.makerProb
	s.mu.Unlock()
	if !hit {
		return nil, nil
	}

	price, err := s.price(symbol)
	if err != nil {
		return nil, err
	}
	id := "maker-" + uuid.NewString()
	row, err := s.fills.LogFill(FillEvent{
		OrderID:  id,
		Symbol:   symbol,
		Side:     side,
		Notional: sizeUSD,
		Price:    price,
		Maker:    true,
	})
	if err != nil {
		return nil, err
	}
	return &models.Fill{OrderID: id, TradeID: row.TradeID, Symbol: symbol, Side: side, Qty: sizeUSD / price, Price: price, Notional: sizeUSD, Maker: true}, nil
}

func (s *Sim) price(symbol string) (float64, error) {
	price, err := s.prices.LatestPrice(symbol)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrNoPrice, err)
	}
	if price <= 0 {
		return 0, fmt.Errorf("%w: %s at %.8f", ErrNoPrice, symbol, price)
	}
	return price, nil
}
