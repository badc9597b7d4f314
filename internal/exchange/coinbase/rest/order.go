package rest

import (
	"context"
	"fmt"
	"net/http"

	"atlasbot/internal/exchange"
	"atlasbot/internal/models"
)

// PlaceOrder posts a market order sized in base currency (size) or quote
// currency (funds), or a post-only limit order sized in base currency.
func (c *Client) PlaceOrder(ctx context.Context, order models.Order, product exchange.Product) (exchange.OrderResult, error) {
	body := map[string]any{
		"product_id": order.Symbol,
		"side":       string(order.Side),
		"type":       string(order.Type),
	}
	if order.ClientID != "" {
		body["client_oid"] = order.ClientID
	}

	switch order.Type {
	case models.OrderTypeMarket:
		if order.Size > 0 {
			body["size"] = formatWithStep(order.Size, product.BaseIncrement)
		} else {
			body["funds"] = formatFunds(order.SizeUSD, product.QuoteIncrement)
		}
	case models.OrderTypeLimit:
		if order.Price <= 0 {
			return exchange.OrderResult{}, fmt.Errorf("limit order for %s without price", order.Symbol)
		}
		body["price"] = formatWithStep(order.Price, product.QuoteIncrement)
		body["size"] = formatWithStep(order.SizeUSD/order.Price, product.BaseIncrement)
		body["post_only"] = order.PostOnly
		body["time_in_force"] = "GTC"
	default:
		return exchange.OrderResult{}, fmt.Errorf("unsupported order type %q", order.Type)
	}

	var resp orderResponse
	if err := c.doRequest(ctx, http.MethodPost, "/orders", nil, body, true, &resp); err != nil {
		return exchange.OrderResult{}, err
	}
	return toResult(resp)
}

func (c *Client) GetOrder(ctx context.Context, orderID string) (exchange.OrderResult, error) {
	var resp orderResponse
	if err := c.doRequest(ctx, http.MethodGet, "/orders/"+orderID, nil, nil, true, &resp); err != nil {
		return exchange.OrderResult{}, err
	}
	return toResult(resp)
}

func (c *Client) CancelOrder(ctx context.Context, orderID string) error {
	return c.doRequest(ctx, http.MethodDelete, "/orders/"+orderID, nil, nil, true, nil)
}

func (c *Client) GetFees(ctx context.Context) (exchange.FeeRates, error) {
	var resp feesResponse
	if err := c.doRequest(ctx, http.MethodGet, "/fees", nil, nil, true, &resp); err != nil {
		return exchange.FeeRates{}, err
	}

	maker, err := parseFloatOrZero(resp.MakerFeeRate)
	if err != nil {
		return exchange.FeeRates{}, fmt.Errorf("bad maker_fee_rate=%q: %w", resp.MakerFeeRate, err)
	}
	taker, err := parseFloatOrZero(resp.TakerFeeRate)
	if err != nil {
		return exchange.FeeRates{}, fmt.Errorf("bad taker_fee_rate=%q: %w", resp.TakerFeeRate, err)
	}
	volume, _ := parseFloatOrZero(resp.USDVolume)
	return exchange.FeeRates{MakerRate: maker, TakerRate: taker, USDVolume: volume}, nil
}

func toResult(resp orderResponse) (exchange.OrderResult, error) {
	filled, err := parseFloatOrZero(resp.FilledSize)
	if err != nil {
		return exchange.OrderResult{}, fmt.Errorf("bad filled_size=%q: %w", resp.FilledSize, err)
	}
	value, err := parseFloatOrZero(resp.ExecutedValue)
	if err != nil {
		return exchange.OrderResult{}, fmt.Errorf("bad executed_value=%q: %w", resp.ExecutedValue, err)
	}
	return exchange.OrderResult{
		ID:            resp.ID,
		Status:        models.OrderStatus(resp.Status),
		DoneReason:    resp.DoneReason,
		FilledSize:    filled,
		ExecutedValue: value,
		Settled:       resp.Settled,
	}, nil
}
