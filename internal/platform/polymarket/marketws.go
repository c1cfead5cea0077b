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

const (
	// writeWait is the time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// pongWait is the time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// pingPeriod sends pings to the peer at this interval. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	handshakeTimeout = 15 * time.Second
)

// MarketDialer opens connections to the Polymarket CLOB market channel
// (price updates). It implements domain.StreamDialer; reconnect policy
// lives in the stream multiplexer, not here.
type MarketDialer struct {
	wsURL string
}

// NewMarketDialer creates a dialer for the market channel.
//
// wsURL is the CLOB WebSocket endpoint, e.g.
// "wss://ws-subscriptions-clob.polymarket.com/ws/market".
func NewMarketDialer(wsURL string) *MarketDialer {
	return &MarketDialer{wsURL: wsURL}
}

// Source identifies the market channel.
func (d *MarketDialer) Source() domain.StreamSource { return domain.SourceMarket }

// Dial opens one connection. The returned conn reports its death by closing
// its Events channel.
func (d *MarketDialer) Dial(ctx context.Context) (domain.StreamConn, error) {
	dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, d.wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("polymarket/marketws: connect: %w", err)
	}

	c := &marketConn{
		conn:   conn,
		events: make(chan domain.StreamEvent, 64),
		done:   make(chan struct{}),
	}
	go c.readLoop()
	go c.pingLoop()
	return c, nil
}

// marketConn is one live market-channel connection.
type marketConn struct {
	mu     sync.Mutex
	conn   *websocket.Conn
	subbed []string

	events chan domain.StreamEvent
	done   chan struct{}
	once   sync.Once
}

// SetSubscriptions replaces the wire subscription set with keys. Keys that
// are already subscribed are left alone; removed keys are unsubscribed.
func (c *marketConn) SetSubscriptions(ctx context.Context, keys []string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	added, removed := diffKeys(c.subbed, keys)
	if len(removed) > 0 {
		if err := c.sendCommand(WSCommand{Type: "unsubscribe", Assets: removed}); err != nil {
			return fmt.Errorf("polymarket/marketws: unsubscribe: %w", err)
		}
	}
	if len(added) > 0 {
		if err := c.sendCommand(WSCommand{Type: "subscribe", Assets: added}); err != nil {
			return fmt.Errorf("polymarket/marketws: subscribe: %w", err)
		}
	}
	c.subbed = append([]string(nil), keys...)
	return nil
}

// Events yields decoded stream events until the connection dies.
func (c *marketConn) Events() <-chan domain.StreamEvent { return c.events }

// Close shuts the connection down. The read loop closes the events channel
// on its way out.
func (c *marketConn) Close() error {
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

// sendCommand sends a JSON command to the WebSocket. Caller must hold c.mu.
func (c *marketConn) sendCommand(cmd WSCommand) error {
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	data, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("marshal command: %w", err)
	}
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

func (c *marketConn) readLoop() {
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
		for _, ev := range decodeMarketFrame(message) {
			select {
			case c.events <- ev:
			case <-c.done:
				return
			}
		}
	}
}

func (c *marketConn) pingLoop() {
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

// decodeMarketFrame turns one raw frame into stream events. The channel
// delivers either a single message object or an array of them; frames that
// decode as neither yield one malformed event. Message types other than
// price changes are dropped silently.
func decodeMarketFrame(raw []byte) []domain.StreamEvent {
	malformed := []domain.StreamEvent{{
		Source: domain.SourceMarket,
		Kind:   domain.KindMalformed,
		Err:    domain.ErrMalformed,
	}}

	var frames []json.RawMessage
	if len(raw) > 0 && raw[0] == '[' {
		if err := json.Unmarshal(raw, &frames); err != nil {
			return malformed
		}
	} else {
		frames = []json.RawMessage{raw}
	}

	var out []domain.StreamEvent
	for _, frame := range frames {
		var envelope struct {
			EventType string `json:"event_type"`
		}
		if err := json.Unmarshal(frame, &envelope); err != nil {
			return malformed
		}
		if envelope.EventType != "price_change" {
			continue
		}
		var pc PriceChangeMessage
		if err := json.Unmarshal(frame, &pc); err != nil || pc.Market == "" {
			return malformed
		}
		out = append(out, domain.StreamEvent{
			Source: domain.SourceMarket,
			Kind:   domain.KindPriceTick,
			Tick:   pc.ToTick(),
		})
	}
	return out
}

// diffKeys splits the transition from old to new into additions and
// removals. Both inputs are treated as sets.
func diffKeys(old, new []string) (added, removed []string) {
	have := make(map[string]struct{}, len(old))
	for _, k := range old {
		have[k] = struct{}{}
	}
	want := make(map[string]struct{}, len(new))
	for _, k := range new {
		want[k] = struct{}{}
		if _, ok := have[k]; !ok {
			added = append(added, k)
		}
	}
	for _, k := range old {
		if _, ok := want[k]; !ok {
			removed = append(removed, k)
		}
	}
	return added, removed
}
