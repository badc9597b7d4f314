package ws

import (
	"fmt"

	"github.com/gorilla/websocket"
)

func (w *Client) subscribe(conn *websocket.Conn) error {
	if w.advanced {
		for _, channel := range []string{"ticker", "heartbeats"} {
			msg := SubscribeMessage{Type: "subscribe", ProductIDs: w.products, Channel: channel}
			if err := conn.WriteJSON(msg); err != nil {
				return fmt.Errorf("subscribe %s: %w", channel, err)
			}
		}
		return nil
	}

	msg := SubscribeMessage{
		Type:       "subscribe",
		ProductIDs: w.products,
		Channels:   []string{"ticker", "heartbeat"},
	}
	if err := conn.WriteJSON(msg); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	return nil
}
