package feed

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10

	reconnectDelay    = 2 * time.Second
	maxReconnectDelay = 60 * time.Second
)

type subscribeCommand struct {
	Type   string           `json:"type"`
	Assets []common.Address `json:"assets"`
}

// WSClient streams ticks from a websocket endpoint into a Static feed,
// reconnecting with exponential backoff until its context ends.
type WSClient struct {
	url    string
	assets []common.Address
	sink   *Static
	logger *slog.Logger
	dialer websocket.Dialer

	baseDelay time.Duration
	maxDelay  time.Duration
}

// NewWSClient creates a client subscribing to assets at url.
func NewWSClient(url string, assets []common.Address, sink *Static, logger *slog.Logger) *WSClient {
	return &WSClient{
		url:       url,
		assets:    assets,
		sink:      sink,
		logger:    logger.With(slog.String("component", "feed_ws")),
		dialer:    websocket.Dialer{HandshakeTimeout: 15 * time.Second},
		baseDelay: reconnectDelay,
		maxDelay:  maxReconnectDelay,
	}
}

// Run blocks until ctx is cancelled.
func (c *WSClient) Run(ctx context.Context) error {
	delay := c.baseDelay
	for {
		received, err := c.runConnection(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if received {
			delay = c.baseDelay
		}
		c.logger.Warn("feed disconnected, reconnecting",
			slog.String("error", fmt.Sprint(err)),
			slog.Duration("delay", delay),
		)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
		if delay > c.maxDelay {
			delay = c.maxDelay
		}
	}
}

// runConnection serves one connection and reports whether any message was
// applied before it ended.
func (c *WSClient) runConnection(ctx context.Context) (bool, error) {
	conn, _, err := c.dialer.DialContext(ctx, c.url, nil)
	if err != nil {
		return false, fmt.Errorf("feed: dial: %w", err)
	}
	defer conn.Close()

	conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(subscribeCommand{Type: "subscribe", Assets: c.assets}); err != nil {
		return false, fmt.Errorf("feed: subscribe: %w", err)
	}
	c.logger.Info("feed subscribed", slog.String("url", c.url), slog.Int("assets", len(c.assets)))

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	done := make(chan struct{})
	defer close(done)
	go func() {
		ticker := time.NewTicker(pingPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
				conn.Close()
				return
			case <-done:
				return
			case <-ticker.C:
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
					return
				}
			}
		}
	}()

	received := false
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return received, fmt.Errorf("feed: read: %w", err)
		}
		t, err := DecodeTick(data)
		if err == nil {
			err = t.Apply(c.sink)
		}
		if err != nil {
			c.logger.Debug("feed message dropped", slog.String("error", err.Error()))
			continue
		}
		received = true
	}
}
