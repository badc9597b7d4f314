package ws

import "encoding/json"

// Message is the union of the legacy exchange feed and advanced-trade envelopes.
type Message struct {
	Type      string          `json:"type"`
	Channel   string          `json:"channel"`
	ProductID string          `json:"product_id"`
	Price     string          `json:"price"`
	Time      string          `json:"time"`
	Message   string          `json:"message"`
	Reason    string          `json:"reason"`
	Events    json.RawMessage `json:"events"`
}

type advancedEvent struct {
	Type    string `json:"type"`
	Tickers []struct {
		ProductID string `json:"product_id"`
		Price     string `json:"price"`
	} `json:"tickers"`
}

type SubscribeMessage struct {
	Type       string   `json:"type"`
	ProductIDs []string `json:"product_ids"`
	Channels   []string `json:"channels,omitempty"`
	Channel    string   `json:"channel,omitempty"`
}
