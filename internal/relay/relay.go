// Package relay forwards events to the upstream control plane over a
// persistent websocket connection. It drains the bus in emission order and
// owns its own reconnect/backoff behaviour; delivery is at-most-once, the
// bus keeps no durable history.
package relay

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/polarsystems/polarmanager/internal/event"
)

const (
	reconnectDelay = 2 * time.Second
	pingInterval   = 20 * time.Second
	writeTimeout   = 10 * time.Second
)

type Client struct {
	url      string
	token    string
	clientID string
	log      *slog.Logger
}

func New(url, token, clientID string, log *slog.Logger) *Client {
	return &Client{url: url, token: token, clientID: clientID, log: log}
}

// Loop connects, runs a session, and reconnects after a fixed delay until
// ctx is cancelled.
func (c *Client) Loop(ctx context.Context, bus *event.Bus) {
	for ctx.Err() == nil {
		if err := c.runSession(ctx, bus); err != nil && ctx.Err() == nil {
			c.log.Warn("relay disconnected, retrying", "error", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(reconnectDelay):
		}
	}
}

func (c *Client) runSession(ctx context.Context, bus *event.Bus) error {
	header := http.Header{}
	if c.token != "" {
		header.Set("Authorization", "Bearer "+c.token)
	}
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, c.url, header)
	if err != nil {
		return err
	}
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	defer func() { _ = conn.Close() }()
	c.log.Info("relay connected", "url", c.url)

	hello := map[string]string{"type": "hello", "client_id": c.clientID}
	if err := conn.WriteJSON(hello); err != nil {
		return err
	}

	sctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Inbound messages are read to drive disconnect detection and then
	// discarded; the command path is reserved.
	readErr := make(chan error, 1)
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				readErr <- err
				return
			}
		}
	}()

	events := make(chan event.Event)
	go func() {
		defer close(events)
		for {
			e, err := bus.Next(sctx)
			if err != nil {
				return
			}
			select {
			case events <- e:
			case <-sctx.Done():
				return
			}
		}
	}()

	ping := time.NewTicker(pingInterval)
	defer ping.Stop()

	for {
		select {
		case <-sctx.Done():
			return sctx.Err()
		case err := <-readErr:
			return err
		case <-ping.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return err
			}
		case e, ok := <-events:
			if !ok {
				return sctx.Err()
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteJSON(e); err != nil {
				return err
			}
		}
	}
}
