package polymarket

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/polyterm/internal/domain"
)

// TradeDialer opens connections to the Polymarket real-time data socket
// (trade activity). It implements domain.StreamDialer.
type TradeDialer struct {
	wsURL string
}

// NewTradeDialer creates a dialer for the trade activity stream.
//
// wsURL is the RTDS endpoint, e.g. "wss://ws-live-data.polymarket.com".
func NewTradeDialer(wsURL string) *TradeDialer {
	return &TradeDialer{wsURL: wsURL}
}

// Source identifies the trade activity channel.
func (d *TradeDialer) Source() domain.StreamSource { return domain.SourceTrades }

// Dial opens one connection and subscribes to the activity topic. Per-market
// filtering happens client-side against the subscription key set, since the
// activity topic is a firehose.
func (d *TradeDialer) Dial(ctx context.Context) (domain.StreamConn, error) {
	dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, d.wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("polymarket/tradews: connect: %w", err)
	}

	c := &tradeConn{
		conn:   conn,
		filter: make(map[string]struct{}),
		events: make(chan domain.StreamEvent, 64),
		done:   make(chan struct{}),
	}
	if err := c.subscribeActivity(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("polymarket/tradews: subscribe: %w", err)
	}
	go c.readLoop()
	go c.pingLoop()
	return c, nil
}

// tradeConn is one live trade activity connection.
type tradeConn struct {
	mu     sync.Mutex
	conn   *websocket.Conn
	filter map[string]struct{}

	events chan domain.StreamEvent
	done   chan struct{}
	once   sync.Once
}

// SetSubscriptions replaces the market id filter set. No wire round trip:
// the topic subscription is fixed at dial time and filtering is local.
func (c *tradeConn) SetSubscriptions(_ context.Context, keys []string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.filter = make(map[string]struct{}, len(keys))
	for _, k := range keys {
		c.filter[k] = struct{}{}
	}
	return nil
}

// Events yields decoded stream events until the connection dies.
func (c *tradeConn) Events() <-chan domain.StreamEvent { return c.events }

// Close shuts the connection down.
func (c *tradeConn) Close() error {
	var err error
	c.once.Do(func() {
		close(c.done)
		_ = c.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(writeWait),
		)
		err = c.conn.Close()
	})
	return err
}

// subscribeActivity sends the one-time topic subscription.
func (c *tradeConn) subscribeActivity() error {
	cmd := map[string]any{
		"action": "subscribe",
		"subscriptions": []map[string]string{
			{"topic": "activity", "type": "trades"},
		},
	}
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	data, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("marshal command: %w", err)
	}
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

func (c *tradeConn) readLoop() {
	defer close(c.events)

	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		ev, ok := c.decodeFrame(message)
		if !ok {
			continue
		}
		select {
		case c.events <- ev:
		case <-c.done:
			return
		}
	}
}

func (c *tradeConn) pingLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// decodeFrame turns one raw frame into a trade event. Trades for markets
// outside the filter set are dropped without being counted malformed; only
// undecodable frames are.
func (c *tradeConn) decodeFrame(raw []byte) (domain.StreamEvent, bool) {
	var msg RTDSMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return domain.StreamEvent{
			Source: domain.SourceTrades,
			Kind:   domain.KindMalformed,
			Err:    domain.ErrMalformed,
		}, true
	}
	if msg.Topic != "activity" || msg.Type != "trades" {
		return domain.StreamEvent{}, false
	}

	var rt RTDSTrade
	if err := json.Unmarshal(msg.Payload, &rt); err != nil || rt.TransactionHash == "" {
		return domain.StreamEvent{
			Source: domain.SourceTrades,
			Kind:   domain.KindMalformed,
			Err:    domain.ErrMalformed,
		}, true
	}

	c.mu.Lock()
	_, wanted := c.filter[rt.ConditionID]
	empty := len(c.filter) == 0
	c.mu.Unlock()
	if !wanted && !empty {
		return domain.StreamEvent{}, false
	}

	trade := rt.ToDomain()
	return domain.StreamEvent{
		Source: domain.SourceTrades,
		Kind:   domain.KindTradeArrived,
		Trade:  &trade,
	}, true
}
