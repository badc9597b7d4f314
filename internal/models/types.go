package models

import (
	"strings"
	"time"
)

type Side string
type Bias string
type OrderType string
type OrderStatus string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"

	BiasLong  Bias = "long"
	BiasShort Bias = "short"
	BiasFlat  Bias = "flat"

	OrderTypeMarket OrderType = "market"
	OrderTypeLimit  OrderType = "limit"

	OrderStatusOpen     OrderStatus = "open"
	OrderStatusPending  OrderStatus = "pending"
	OrderStatusDone     OrderStatus = "done"
	OrderStatusRejected OrderStatus = "rejected"
)

// ParseSide accepts buy/sell in any case.
func ParseSide(s string) (Side, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "buy":
		return SideBuy, true
	case "sell":
		return SideSell, true
	}
	return "", false
}

func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// Sign is +1 for buys and -1 for sells.
func (s Side) Sign() float64 {
	if s == SideBuy {
		return 1
	}
	return -1
}

// BiasFromScore maps a weighted score to a direction. Exactly zero is flat.
func BiasFromScore(score float64) Bias {
	switch {
	case score > 0:
		return BiasLong
	case score < 0:
		return BiasShort
	default:
		return BiasFlat
	}
}

// Side returns the entry side for a directional bias.
func (b Bias) Side() (Side, bool) {
	switch b {
	case BiasLong:
		return SideBuy, true
	case BiasShort:
		return SideSell, true
	}
	return "", false
}

// Bar is one closed minute.
type Bar struct {
	Time  time.Time `json:"time"`
	Open  float64   `json:"open"`
	High  float64   `json:"high"`
	Low   float64   `json:"low"`
	Close float64   `json:"close"`
}

type Tick struct {
	Symbol    string    `json:"symbol"`
	Price     float64   `json:"price"`
	Timestamp time.Time `json:"timestamp"`
}

type Advice struct {
	Symbol     string             `json:"symbol"`
	Bias       Bias               `json:"bias"`
	Confidence float64            `json:"confidence"`
	Score      float64            `json:"score"`
	Edge       float64            `json:"edge"`
	EdgeBps    float64            `json:"edge_bps"`
	SpreadBps  float64            `json:"spread_bps"`
	Price      float64            `json:"price"`
	Rationale  map[string]float64 `json:"rationale"`
}

// Order is a request handed to an execution backend. A market order is
// sized by Size (base units) when set, otherwise by SizeUSD.
type Order struct {
	ClientID string    `json:"client_id"`
	Symbol   string    `json:"symbol"`
	Side     Side      `json:"side"`
	SizeUSD  float64   `json:"size_usd"`
	Size     float64   `json:"size,omitempty"`
	Type     OrderType `json:"type"`
	Price    float64   `json:"price,omitempty"`
	PostOnly bool      `json:"post_only,omitempty"`
}

// Fill is the result of an executed order.
type Fill struct {
	OrderID  string  `json:"order_id"`
	TradeID  string  `json:"trade_id"`
	Symbol   string  `json:"symbol"`
	Side     Side    `json:"side"`
	Qty      float64 `json:"qty"`
	Price    float64 `json:"price"`
	Notional float64 `json:"notional"`
	Maker    bool    `json:"maker"`
}

// Trade is an immutable ledger record. Only the annotation fields
// (Signals, Return, Conflict, MacroHit) are filled in after the fact.
type Trade struct {
	ID        string             `json:"id"`
	Timestamp time.Time          `json:"timestamp"`
	Symbol    string             `json:"symbol"`
	Side      Side               `json:"side"`
	Notional  float64            `json:"notional"`
	Price     float64            `json:"price"`
	Fee       float64            `json:"fee"`
	Slip      float64            `json:"slip"`
	Realised  float64            `json:"realised"`
	MTM       float64            `json:"mtm"`
	Maker     bool               `json:"maker"`
	Signals   map[string]float64 `json:"signals,omitempty"`
	Return    *float64           `json:"return,omitempty"`
	Conflict  bool               `json:"conflict,omitempty"`
	MacroHit  *bool              `json:"macro_hit,omitempty"`
}
