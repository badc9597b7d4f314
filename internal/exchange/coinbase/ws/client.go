package ws

import (
	"strings"
	"time"

	"atlasbot/internal/exchange"
	"atlasbot/internal/logger"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

type Client struct {
	url          string
	products     []string
	advanced     bool
	log          *logger.Logger
	dialer       *websocket.Dialer
	events       chan exchange.Event
	reconnectMin time.Duration
	reconnectMax time.Duration
	readTimeout  time.Duration
}

// New builds a ticker client for url. The advanced-trade endpoint speaks a
// different envelope, detected from the host name.
func New(url string, products []string, log *logger.Logger, reconnectMin, reconnectMax time.Duration) *Client {
	if reconnectMin <= 0 {
		reconnectMin = time.Second
	}
	if reconnectMax < reconnectMin {
		reconnectMax = reconnectMin
	}
	return &Client{
		url:          url,
		products:     append([]string(nil), products...),
		advanced:     strings.Contains(url, "advanced-trade"),
		log:          log,
		dialer:       &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		events:       make(chan exchange.Event, 256),
		reconnectMin: reconnectMin,
		reconnectMax: reconnectMax,
		readTimeout:  30 * time.Second,
	}
}

func (w *Client) logEntry() *logrus.Entry {
	return w.log.WithComponent("coinbase_ws").WithField("url", w.url)
}

func (w *Client) Events() <-chan exchange.Event {
	return w.events
}

func (w *Client) URL() string {
	return w.url
}
