package rest

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"time"

	"atlasbot/internal/exchange"
	"atlasbot/internal/models"
)

func (c *Client) GetTicker(ctx context.Context, symbol string) (float64, error) {
	var resp tickerResponse
	if err := c.doRequest(ctx, http.MethodGet, "/products/"+symbol+"/ticker", nil, nil, false, &resp); err != nil {
		return 0, err
	}

	price, err := strconv.ParseFloat(resp.Price, 64)
	if err != nil {
		return 0, fmt.Errorf("bad ticker price %q for %s: %w", resp.Price, symbol, err)
	}
	if price <= 0 {
		return 0, fmt.Errorf("non-positive ticker price for %s", symbol)
	}
	return price, nil
}

// GetCandles returns up to limit one-minute bars, oldest first. Rows arrive
// newest first as [time, low, high, open, close, volume].
func (c *Client) GetCandles(ctx context.Context, symbol string, limit int) ([]models.Bar, error) {
	params := url.Values{}
	params.Set("granularity", "60")

	var rows [][]float64
	if err := c.doRequest(ctx, http.MethodGet, "/products/"+symbol+"/candles", params, nil, false, &rows); err != nil {
		return nil, err
	}

	bars := make([]models.Bar, 0, len(rows))
	for _, row := range rows {
		if len(row) < 5 {
			continue
		}
		bars = append(bars, models.Bar{
			Time:  time.Unix(int64(row[0]), 0).UTC(),
			Low:   row[1],
			High:  row[2],
			Open:  row[3],
			Close: row[4],
		})
	}
	sort.Slice(bars, func(i, j int) bool { return bars[i].Time.Before(bars[j].Time) })

	if limit > 0 && len(bars) > limit {
		bars = bars[len(bars)-limit:]
	}
	return bars, nil
}

func (c *Client) GetBook(ctx context.Context, symbol string) (exchange.Book, error) {
	params := url.Values{}
	params.Set("level", "2")

	var resp bookResponse
	if err := c.doRequest(ctx, http.MethodGet, "/products/"+symbol+"/book", params, nil, false, &resp); err != nil {
		return exchange.Book{}, err
	}

	bids, err := parseLevels(resp.Bids)
	if err != nil {
		return exchange.Book{}, fmt.Errorf("bids for %s: %w", symbol, err)
	}
	asks, err := parseLevels(resp.Asks)
	if err != nil {
		return exchange.Book{}, fmt.Errorf("asks for %s: %w", symbol, err)
	}
	return exchange.Book{Bids: bids, Asks: asks, Time: time.Now()}, nil
}

func (c *Client) GetProduct(ctx context.Context, symbol string) (exchange.Product, error) {
	c.mu.Lock()
	if p, ok := c.products[symbol]; ok {
		c.mu.Unlock()
		return p, nil
	}
	c.mu.Unlock()

	var resp productResponse
	if err := c.doRequest(ctx, http.MethodGet, "/products/"+symbol, nil, nil, false, &resp); err != nil {
		return exchange.Product{}, err
	}

	quote, err := parseFloatOrZero(resp.QuoteIncrement)
	if err != nil {
		return exchange.Product{}, fmt.Errorf("bad quote_increment=%q: %w", resp.QuoteIncrement, err)
	}
	base, err := parseFloatOrZero(resp.BaseIncrement)
	if err != nil {
		return exchange.Product{}, fmt.Errorf("bad base_increment=%q: %w", resp.BaseIncrement, err)
	}
	minFunds, _ := parseFloatOrZero(resp.MinMarketFunds)

	p := exchange.Product{ID: resp.ID, QuoteIncrement: quote, BaseIncrement: base, MinFunds: minFunds}
	c.mu.Lock()
	c.products[symbol] = p
	c.mu.Unlock()
	return p, nil
}

func parseLevels(rows [][]json.RawMessage) ([]exchange.Level, error) {
	levels := make([]exchange.Level, 0, len(rows))
	for _, row := range rows {
		if len(row) < 2 {
			continue
		}
		price, err := parseNumber(row[0])
		if err != nil {
			return nil, err
		}
		size, err := parseNumber(row[1])
		if err != nil {
			return nil, err
		}
		levels = append(levels, exchange.Level{Price: price, Size: size})
	}
	return levels, nil
}
