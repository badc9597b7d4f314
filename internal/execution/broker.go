package execution

import (
	"context"
	"time"

	"atlasbot/internal/exchange"
	"atlasbot/internal/logger"
	"atlasbot/internal/models"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Broker routes orders to the brokerage REST API.
type Broker struct {
	client   exchange.OrderClient
	prices   PriceSource
	fills    *FillLogger
	retries  int
	backoff  time.Duration
	settle   time.Duration
	log      *logger.Logger
	sleepCtx func(ctx context.Context, d time.Duration) error
}

func NewBroker(client exchange.OrderClient, prices PriceSource, fills *FillLogger, retries int, backoff time.Duration, log *logger.Logger) *Broker {
	if retries < 3 {
		retries = 3
	}
	if backoff <= 0 {
		backoff = time.Second
	}
	return &Broker{
		client:   client,
		prices:   prices,
		fills:    fills,
		retries:  retries,
		backoff:  backoff,
		settle:   500 * time.Millisecond,
		log:      log,
		sleepCtx: sleepCtx,
	}
}

func (b *Broker) Name() string { return BackendPaper }

func (b *Broker) logEntry() *logrus.Entry {
	return b.log.WithComponent("broker")
}

// SubmitOrder sends a market order for sizeUSD of funds and books what
// executed. Exhausted retries surface as ErrRetriesExhausted.
func (b *Broker) SubmitOrder(ctx context.Context, side models.Side, sizeUSD float64, symbol string) (*models.Fill, error) {
	return b.market(ctx, models.Order{
		ClientID: uuid.NewString(),
		Symbol:   symbol,
		Side:     side,
		SizeUSD:  sizeUSD,
		Type:     models.OrderTypeMarket,
	})
}

// SubmitQty sends a market order for qty base units.
func (b *Broker) SubmitQty(ctx context.Context, side models.Side, qty float64, symbol string) (*models.Fill, error) {
	return b.market(ctx, models.Order{
		ClientID: uuid.NewString(),
		Symbol:   symbol,
		Side:     side,
		Size:     qty,
		Type:     models.OrderTypeMarket,
	})
}

func (b *Broker) market(ctx context.Context, order models.Order) (*models.Fill, error) {
	symbol, side := order.Symbol, order.Side
	ref, err := b.prices.LatestPrice(symbol)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	res, err := b.place(ctx, order)
	if err != nil {
		b.logEntry().WithError(err).WithFields(logrus.Fields{"order_id": PaperErrorID, "symbol": symbol}).Error("order not placed")
		return nil, err
	}

	res = b.awaitSettle(ctx, res)
	if !res.Filled() {
		b.logEntry().WithFields(logrus.Fields{"order_id": res.ID, "status": res.Status}).Warn("market order reported no fill")
		return nil, nil
	}

	price := res.AvgPrice()
	slip := (price - ref) / ref * res.ExecutedValue * side.Sign()
	return b.book(res, symbol, side, price, slip, false, start)
}

// SubmitMakerOrder rests a post-only limit at the live price, checks it
// once and cancels whatever did not fill.
func (b *Broker) SubmitMakerOrder(ctx context.Context, side models.Side, sizeUSD float64, symbol string) (*models.Fill, error) {
	price, err := b.prices.LatestPrice(symbol)
	if err != nil {
		return nil, err
	}
	order := models.Order{
		ClientID: uuid.NewString(),
		Symbol:   symbol,
		Side:     side,
		SizeUSD:  sizeUSD,
		Type:     models.OrderTypeLimit,
		Price:    price,
		PostOnly: true,
	}

	start := time.Now()
	res, err := b.place(ctx, order)
	if err != nil {
		return nil, err
	}
	if res.Status == models.OrderStatusRejected {
		return nil, nil
	}

	if err := b.sleepCtx(ctx, b.settle); err != nil {
		return nil, err
	}
	status, err := withRetry(ctx, b.retries, b.backoff, b.logEntry(), func() (exchange.OrderResult, error) {
		return b.client.GetOrder(ctx, res.ID)
	})
	if err != nil {
		return nil, err
	}
	if !status.Filled() {
		if err := b.client.CancelOrder(ctx, res.ID); err != nil {
			b.logEntry().WithError(err).WithField("order_id", res.ID).Warn("cancel resting order failed")
		}
		return nil, nil
	}
	return b.book(status, symbol, side, status.AvgPrice(), 0, true, start)
}

func (b *Broker) place(ctx context.Context, order models.Order) (exchange.OrderResult, error) {
	product, err := withRetry(ctx, b.retries, b.backoff, b.logEntry(), func() (exchange.Product, error) {
		return b.client.GetProduct(ctx, order.Symbol)
	})
	if err != nil {
		return exchange.OrderResult{}, err
	}
	return withRetry(ctx, b.retries, b.backoff, b.logEntry(), func() (exchange.OrderResult, error) {
		return b.client.PlaceOrder(ctx, order, product)
	})
}

// awaitSettle polls a fresh market order until it is done or a few polls
// pass.
func (b *Broker) awaitSettle(ctx context.Context, res exchange.OrderResult) exchange.OrderResult {
	for i := 0; i < 5 && !res.Settled && res.Status != models.OrderStatusDone; i++ {
		if err := b.sleepCtx(ctx, b.settle); err != nil {
			return res
		}
		next, err := b.client.GetOrder(ctx, res.ID)
		if err != nil {
			b.logEntry().WithError(err).WithField("order_id", res.ID).Debug("order status poll failed")
			continue
		}
		res = next
	}
	return res
}

func (b *Broker) book(res exchange.OrderResult, symbol string, side models.Side, price, slip float64, maker bool, start time.Time) (*models.Fill, error) {
	row, err := b.fills.LogFill(FillEvent{
		OrderID:   res.ID,
		Symbol:    symbol,
		Side:      side,
		Notional:  res.ExecutedValue,
		Price:     price,
		Slip:      slip,
		Maker:     maker,
		LatencyMs: float64(time.Since(start).Microseconds()) / 1000,
		Response:  res,
	})
	if err != nil {
		return nil, err
	}
	return &models.Fill{
		OrderID:  res.ID,
		TradeID:  row.TradeID,
		Symbol:   symbol,
		Side:     side,
		Qty:      res.FilledSize,
		Price:    price,
		Notional: res.ExecutedValue,
		Maker:    maker,
	}, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
