package ws

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"atlasbot/internal/exchange"
	"atlasbot/internal/logger"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLegacyTicker(t *testing.T) {
	c := New("wss://ws-feed.exchange.coinbase.com", []string{"BTC-USD"}, logger.Nop(), time.Second, time.Minute)
	ticks := c.parse([]byte(`{"type":"ticker","product_id":"BTC-USD","price":"42000.5","time":"2024-05-01T10:00:00.123Z"}`))
	require.Len(t, ticks, 1)
	assert.Equal(t, "BTC-USD", ticks[0].Symbol)
	assert.Equal(t, 42000.5, ticks[0].Price)
	assert.Equal(t, 2024, ticks[0].Timestamp.Year())
}

func TestParseAdvancedTicker(t *testing.T) {
	c := New("wss://advanced-trade-ws.coinbase.com", []string{"ETH-USD"}, logger.Nop(), time.Second, time.Minute)
	require.True(t, c.advanced)
	ticks := c.parse([]byte(`{"channel":"ticker","events":[{"type":"update","tickers":[{"product_id":"ETH-USD","price":"3100"},{"product_id":"SOL-USD","price":"bad"}]}]}`))
	require.Len(t, ticks, 1)
	assert.Equal(t, "ETH-USD", ticks[0].Symbol)
	assert.Equal(t, 3100.0, ticks[0].Price)
}

func TestParseDropsMalformed(t *testing.T) {
	c := New("wss://ws-feed.exchange.coinbase.com", nil, logger.Nop(), time.Second, time.Minute)
	assert.Empty(t, c.parse([]byte(`{not json`)))
	assert.Empty(t, c.parse([]byte(`{"type":"ticker","product_id":"BTC-USD","price":"x"}`)))
	assert.Empty(t, c.parse([]byte(`{"type":"heartbeat","product_id":"BTC-USD"}`)))
	assert.Empty(t, c.parse([]byte(`{"type":"error","message":"bad channel"}`)))
}

func TestNextBackoffCapped(t *testing.T) {
	c := New("wss://x", nil, logger.Nop(), time.Second, 60*time.Second)
	b := time.Second
	var seen []time.Duration
	for i := 0; i < 8; i++ {
		seen = append(seen, b)
		b = c.nextBackoff(b)
	}
	assert.Equal(t, []time.Duration{
		1 * time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second,
		16 * time.Second, 32 * time.Second, 60 * time.Second, 60 * time.Second,
	}, seen)
}

func TestRunReconnectsAfterDrop(t *testing.T) {
	var conns atomic.Int32
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		n := conns.Add(1)

		var sub SubscribeMessage
		if err := conn.ReadJSON(&sub); err != nil {
			return
		}
		if sub.Type != "subscribe" || len(sub.ProductIDs) != 1 {
			return
		}
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"ticker","product_id":"BTC-USD","price":"100"}`))
		if n > 1 {
			time.Sleep(time.Second)
		}
	}))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	c := New(url, []string{"BTC-USD"}, logger.Nop(), 10*time.Millisecond, 20*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	go c.Run(ctx)

	var types []exchange.EventType
	for ev := range c.Events() {
		types = append(types, ev.Type)
		if ev.Type == exchange.EventTypeTicker {
			assert.Equal(t, 100.0, ev.Ticker.Price)
		}
		if countType(types, exchange.EventTypeConnected) == 2 && countType(types, exchange.EventTypeTicker) == 2 {
			cancel()
		}
	}

	assert.Equal(t, exchange.EventTypeConnected, types[0])
	assert.Contains(t, types, exchange.EventTypeDisconnected)
	assert.GreaterOrEqual(t, countType(types, exchange.EventTypeConnected), 2)
}

func countType(types []exchange.EventType, want exchange.EventType) int {
	n := 0
	for _, t := range types {
		if t == want {
			n++
		}
	}
	return n
}
