package rest

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
)

var ErrNoCredentials = errors.New("coinbase: no api credentials configured")

type tickerResponse struct {
	Price string `json:"price"`
	Time  string `json:"time"`
}

type bookResponse struct {
	Bids [][]json.RawMessage `json:"bids"`
	Asks [][]json.RawMessage `json:"asks"`
}

type productResponse struct {
	ID             string `json:"id"`
	QuoteIncrement string `json:"quote_increment"`
	BaseIncrement  string `json:"base_increment"`
	MinMarketFunds string `json:"min_market_funds"`
}

type orderResponse struct {
	ID            string `json:"id"`
	Status        string `json:"status"`
	DoneReason    string `json:"done_reason"`
	FilledSize    string `json:"filled_size"`
	ExecutedValue string `json:"executed_value"`
	Settled       bool   `json:"settled"`
}

type feesResponse struct {
	MakerFeeRate string `json:"maker_fee_rate"`
	TakerFeeRate string `json:"taker_fee_rate"`
	USDVolume    string `json:"usd_volume"`
}

func parseFloatOrZero(s string) (float64, error) {
	if s == "" {
		return 0, nil
	}
	return strconv.ParseFloat(s, 64)
}

// parseNumber accepts both JSON strings ("1.5") and bare numbers (1.5).
func parseNumber(raw json.RawMessage) (float64, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strconv.ParseFloat(s, 64)
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err != nil {
		return 0, fmt.Errorf("not a number: %s", string(raw))
	}
	return f, nil
}
