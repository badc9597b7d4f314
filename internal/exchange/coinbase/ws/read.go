package ws

import (
	"context"
	"fmt"
	"time"

	"atlasbot/internal/exchange"

	"github.com/gorilla/websocket"
)

// Run dials, subscribes and reads until ctx is done. Failures are retried
// forever with exponential backoff between reconnectMin and reconnectMax.
// Every successful subscribe emits Connected; every failure Disconnected.
func (w *Client) Run(ctx context.Context) {
	defer close(w.events)

	backoff := w.reconnectMin
	connectedOnce := false

	for {
		if ctx.Err() != nil {
			return
		}

		conn, err := w.connect(ctx)
		if err != nil {
			w.logEntry().WithError(err).WithField("backoff", backoff.String()).Warn("ws dial failed")
			w.emit(ctx, exchange.Event{Type: exchange.EventTypeDisconnected, URL: w.url, Err: err})
			if !sleepCtx(ctx, backoff) {
				return
			}
			backoff = w.nextBackoff(backoff)
			continue
		}

		backoff = w.reconnectMin
		w.logEntry().WithField("reconnect", connectedOnce).Info("ws subscribed")
		connectedOnce = true
		w.emit(ctx, exchange.Event{Type: exchange.EventTypeConnected, URL: w.url})

		err = w.readLoop(ctx, conn)
		if ctx.Err() != nil {
			return
		}
		w.logEntry().WithError(err).Warn("ws read failed")
		w.emit(ctx, exchange.Event{Type: exchange.EventTypeDisconnected, URL: w.url, Err: err})
		if !sleepCtx(ctx, backoff) {
			return
		}
		backoff = w.nextBackoff(backoff)
	}
}

func (w *Client) connect(ctx context.Context) (*websocket.Conn, error) {
	conn, _, err := w.dialer.DialContext(ctx, w.url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", w.url, err)
	}
	conn.SetReadLimit(2 << 20)

	if err := w.subscribe(conn); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return conn, nil
}

func (w *Client) readLoop(ctx context.Context, conn *websocket.Conn) error {
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
		case <-done:
		}
		_ = conn.Close()
	}()

	for {
		_ = conn.SetReadDeadline(time.Now().Add(w.readTimeout))
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		for _, tick := range w.parse(data) {
			tick := tick
			w.emit(ctx, exchange.Event{Type: exchange.EventTypeTicker, URL: w.url, Ticker: &tick})
		}
	}
}

func (w *Client) emit(ctx context.Context, ev exchange.Event) {
	select {
	case w.events <- ev:
	case <-ctx.Done():
	}
}

func (w *Client) nextBackoff(current time.Duration) time.Duration {
	next := current * 2
	if next > w.reconnectMax {
		return w.reconnectMax
	}
	return next
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}
