package ws

import (
	"encoding/json"
	"strconv"
	"time"

	"atlasbot/internal/models"
)

// parse turns one frame into zero or more ticks. Anything malformed is
// logged at debug and dropped.
func (w *Client) parse(data []byte) []models.Tick {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		w.logEntry().WithError(err).WithField("raw", truncate(data, 120)).Debug("malformed ws message")
		return nil
	}

	switch {
	case msg.Type == "ticker":
		return w.handleTicker(msg)
	case msg.Channel == "ticker" && len(msg.Events) > 0:
		return w.handleAdvancedTicker(msg)
	case msg.Type == "error":
		w.logEntry().WithField("reason", msg.Reason).Warn("ws error: " + msg.Message)
	case msg.Type == "subscriptions":
		w.logEntry().Debug("ws subscriptions acknowledged")
	}
	return nil
}

func (w *Client) handleTicker(msg Message) []models.Tick {
	price, err := strconv.ParseFloat(msg.Price, 64)
	if err != nil || price <= 0 || msg.ProductID == "" {
		w.logEntry().WithField("product_id", msg.ProductID).WithField("price", msg.Price).Debug("malformed ticker")
		return nil
	}

	ts := time.Now().UTC()
	if msg.Time != "" {
		if parsed, err := time.Parse(time.RFC3339Nano, msg.Time); err == nil {
			ts = parsed
		}
	}
	return []models.Tick{{Symbol: msg.ProductID, Price: price, Timestamp: ts}}
}

func (w *Client) handleAdvancedTicker(msg Message) []models.Tick {
	var events []advancedEvent
	if err := json.Unmarshal(msg.Events, &events); err != nil {
		w.logEntry().WithError(err).Debug("malformed advanced ticker")
		return nil
	}

	now := time.Now().UTC()
	var ticks []models.Tick
	for _, ev := range events {
		for _, t := range ev.Tickers {
			price, err := strconv.ParseFloat(t.Price, 64)
			if err != nil || price <= 0 || t.ProductID == "" {
				continue
			}
			ticks = append(ticks, models.Tick{Symbol: t.ProductID, Price: price, Timestamp: now})
		}
	}
	return ticks
}

func truncate(b []byte, n int) string {
	if len(b) > n {
		return string(b[:n])
	}
	return string(b)
}
