package exchange

import (
	"context"
	"time"

	"atlasbot/internal/models"
)

type EventType string

const (
	EventTypeTicker       EventType = "Ticker"
	EventTypeConnected    EventType = "Connected"
	EventTypeDisconnected EventType = "Disconnected"
)

// Event is emitted by streaming transports. Connected fires on every
// successful (re)subscribe, Disconnected on every read/dial failure.
type Event struct {
	Type   EventType
	URL    string
	Ticker *models.Tick
	Err    error
}

type Level struct {
	Price float64
	Size  float64
}

type Book struct {
	Bids []Level
	Asks []Level
	Time time.Time
}

// Product carries the increments orders must respect.
type Product struct {
	ID             string
	QuoteIncrement float64
	BaseIncrement  float64
	MinFunds       float64
}

type OrderResult struct {
	ID            string
	Status        models.OrderStatus
	DoneReason    string
	FilledSize    float64
	ExecutedValue float64
	Settled       bool
}

// Filled reports whether any quantity executed.
func (r OrderResult) Filled() bool {
	return r.FilledSize > 0
}

// AvgPrice is the volume weighted execution price, 0 when nothing filled.
func (r OrderResult) AvgPrice() float64 {
	if r.FilledSize <= 0 {
		return 0
	}
	return r.ExecutedValue / r.FilledSize
}

type FeeRates struct {
	MakerRate float64
	TakerRate float64
	USDVolume float64
}

// MarketData is the REST surface used for warm start, polling and seeding.
type MarketData interface {
	GetTicker(ctx context.Context, symbol string) (float64, error)
	GetCandles(ctx context.Context, symbol string, limit int) ([]models.Bar, error)
}

type BookSource interface {
	GetBook(ctx context.Context, symbol string) (Book, error)
}

// OrderClient is the brokerage REST surface used by the paper backend.
type OrderClient interface {
	GetProduct(ctx context.Context, symbol string) (Product, error)
	PlaceOrder(ctx context.Context, order models.Order, product Product) (OrderResult, error)
	GetOrder(ctx context.Context, orderID string) (OrderResult, error)
	CancelOrder(ctx context.Context, orderID string) error
	GetFees(ctx context.Context) (FeeRates, error)
}
