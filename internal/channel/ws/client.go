package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"stagelink/engine/internal/channel"
	"stagelink/engine/internal/state"
	"stagelink/engine/internal/telemetry"
)

var (
	_ channel.Channel = (*Client)(nil)
	_ channel.Pumper  = (*Client)(nil)
	_ channel.Channel = (*Host)(nil)
	_ channel.Pumper  = (*Host)(nil)
)

const defaultHeartbeatInterval = 2 * time.Second

// ClientConfig tunes an observer endpoint.
type ClientConfig struct {
	HeartbeatInterval time.Duration
	WriteWait         time.Duration
	Logger            telemetry.Logger
}

// Client is a read-only channel endpoint fed by a host over WebSocket.
// Snapshots arrive on the read goroutine and are parked latest-wins;
// subscribers only ever run on the goroutine that calls Pump.
type Client struct {
	cfg     ClientConfig
	conn    *websocket.Conn
	writeMu sync.Mutex

	mu      sync.Mutex
	latest  *state.Document
	pending bool
	rtt     int64
	closed  bool

	subs         []*clientSub
	warnedMutate bool
	done         chan struct{}
}

type clientSub struct {
	fn func(*state.Document)
}

// Dial connects to a host endpoint and starts the read and heartbeat
// goroutines.
func Dial(ctx context.Context, url string, cfg ClientConfig) (*Client, error) {
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = defaultHeartbeatInterval
	}
	if cfg.WriteWait <= 0 {
		cfg.WriteWait = defaultWriteWait
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	c := &Client{
		cfg:  cfg,
		conn: conn,
		done: make(chan struct{}),
	}
	go c.readLoop()
	go c.heartbeatLoop()
	return c, nil
}

// IsAuthoritative implements channel.Channel.
func (c *Client) IsAuthoritative() bool { return false }

// Snapshot implements channel.Channel. Before the first delivery it
// returns an empty document.
func (c *Client) Snapshot() *state.Document {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.latest == nil {
		return state.New()
	}
	return c.latest
}

// Subscribe implements channel.Channel. Must be called from the loop
// goroutine, like Pump.
func (c *Client) Subscribe(fn func(*state.Document)) func() {
	sub := &clientSub{fn: fn}
	c.subs = append(c.subs, sub)
	return func() { sub.fn = nil }
}

// Mutate implements channel.Channel as a warned no-op: observers never
// write authoritative state.
func (c *Client) Mutate(fn func(*state.Document)) {
	if c.warnedMutate {
		return
	}
	c.warnedMutate = true
	if c.cfg.Logger != nil {
		c.cfg.Logger.Printf("[ws] mutate ignored on observer endpoint")
	}
}

// Pump implements channel.Pumper: it delivers the most recent parked
// snapshot to subscribers on the caller's goroutine.
func (c *Client) Pump() bool {
	c.mu.Lock()
	doc := c.latest
	dispatched := c.pending
	c.pending = false
	c.mu.Unlock()
	if !dispatched || doc == nil {
		return false
	}
	live := c.subs[:0]
	for _, sub := range c.subs {
		if sub.fn != nil {
			live = append(live, sub)
		}
	}
	c.subs = live
	for _, sub := range append([]*clientSub(nil), live...) {
		if sub.fn != nil {
			sub.fn(doc)
		}
	}
	return true
}

// SendInput ships the current input flags to the host.
func (c *Client) SendInput(input map[string]bool) error {
	data, err := json.Marshal(clientMessage{
		Ver:   ProtocolVersion,
		Type:  typeInput,
		Input: input,
	})
	if err != nil {
		return fmt.Errorf("marshal input: %w", err)
	}
	return c.write(data)
}

// RTT reports the last measured round trip in milliseconds, zero until
// the first heartbeat ack.
func (c *Client) RTT() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rtt
}

// Close tears down the connection and stops the heartbeat.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()
	close(c.done)
	return c.conn.Close()
}

func (c *Client) write(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

func (c *Client) readLoop() {
	for {
		_, payload, err := c.conn.ReadMessage()
		if err != nil {
			c.mu.Lock()
			closed := c.closed
			c.mu.Unlock()
			if !closed && c.cfg.Logger != nil {
				c.cfg.Logger.Printf("[ws] connection lost: %v", err)
			}
			return
		}
		var envelope struct {
			Type       string          `json:"type"`
			Doc        json.RawMessage `json:"doc"`
			ServerTime int64           `json:"serverTime"`
			ClientTime int64           `json:"clientTime"`
		}
		if err := json.Unmarshal(payload, &envelope); err != nil {
			if c.cfg.Logger != nil {
				c.cfg.Logger.Printf("[ws] discarding malformed message: %v", err)
			}
			continue
		}
		switch envelope.Type {
		case typeState:
			doc := state.New()
			if err := doc.UnmarshalJSON(envelope.Doc); err != nil {
				if c.cfg.Logger != nil {
					c.cfg.Logger.Printf("[ws] discarding unparseable snapshot: %v", err)
				}
				continue
			}
			c.mu.Lock()
			c.latest = doc
			c.pending = true
			c.mu.Unlock()
		case typeHeartbeat:
			if envelope.ClientTime > 0 {
				rtt := time.Now().UnixMilli() - envelope.ClientTime
				if rtt >= 0 {
					c.mu.Lock()
					c.rtt = rtt
					c.mu.Unlock()
				}
			}
		}
	}
}

func (c *Client) heartbeatLoop() {
	ticker := time.NewTicker(c.cfg.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			data, err := json.Marshal(clientMessage{
				Ver:    ProtocolVersion,
				Type:   typeHeartbeat,
				SentAt: time.Now().UnixMilli(),
			})
			if err != nil {
				continue
			}
			if err := c.write(data); err != nil {
				c.mu.Lock()
				closed := c.closed
				c.mu.Unlock()
				if !closed && c.cfg.Logger != nil {
					c.cfg.Logger.Printf("[ws] heartbeat failed: %v", err)
				}
				return
			}
		}
	}
}
