package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/rs/zerolog/log"
)

// ErrNotConnected is returned by Send when the client is disconnected and no
// reconnection is scheduled. The caller decides whether to retry or drop.
var ErrNotConnected = errors.New("transport: not connected")

type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateReconnecting
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "CONNECTING"
	case StateConnected:
		return "CONNECTED"
	case StateReconnecting:
		return "RECONNECTING"
	default:
		return "DISCONNECTED"
	}
}

// Envelope frames every message on the gateway connection.
type Envelope struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
}

// Handler receives the payload of one inbound event.
type Handler func(payload json.RawMessage)

type Options struct {
	ReconnectBase time.Duration
	ReconnectMax  time.Duration
	MaxPending    int
}

// Client owns the single persistent connection to the ingest gateway.
// Reconnection replaces the handle, never duplicates it.
type Client struct {
	url  string
	opts Options

	mu      sync.Mutex
	state   State
	conn    *websocket.Conn
	queue   []Envelope
	subs    map[string]map[string]Handler // event -> listener id -> handler
	closed  bool
	ctx     context.Context
	cancel  context.CancelFunc
	writeMu sync.Mutex
}

func NewClient(url string, opts Options) *Client {
	if opts.ReconnectBase <= 0 {
		opts.ReconnectBase = 500 * time.Millisecond
	}
	if opts.ReconnectMax <= 0 {
		opts.ReconnectMax = 15 * time.Second
	}
	if opts.MaxPending <= 0 {
		opts.MaxPending = 64
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Client{
		url:    url,
		opts:   opts,
		subs:   make(map[string]map[string]Handler),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Connect dials the gateway. On failure the client stays DISCONNECTED; the
// caller may try again.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrNotConnected
	}
	if c.state == StateConnected || c.state == StateConnecting {
		c.mu.Unlock()
		return nil
	}
	c.state = StateConnecting
	c.mu.Unlock()

	conn, _, err := websocket.Dial(ctx, c.url, nil)
	if err != nil {
		c.mu.Lock()
		c.state = StateDisconnected
		c.mu.Unlock()
		return fmt.Errorf("dial gateway: %w", err)
	}

	c.adopt(conn)
	return nil
}

// adopt installs a freshly dialed connection, flushes the pending queue and
// starts the read pump.
func (c *Client) adopt(conn *websocket.Conn) {
	c.mu.Lock()
	c.conn = conn
	c.state = StateConnected
	pending := c.queue
	c.queue = nil
	c.mu.Unlock()

	log.Info().Str("url", c.url).Int("queued", len(pending)).Msg("gateway connected")

	for _, env := range pending {
		if err := c.write(env); err != nil {
			log.Warn().Err(err).Str("event", env.Event).Msg("flush of queued event failed")
		}
	}

	go c.readPump(conn)
}

// Send delivers an event to the gateway. While CONNECTING or RECONNECTING the
// event is queued for the next open connection.
func (c *Client) Send(event string, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", event, err)
	}
	env := Envelope{Event: event, Payload: raw}

	c.mu.Lock()
	switch c.state {
	case StateConnected:
		c.mu.Unlock()
		return c.write(env)
	case StateConnecting, StateReconnecting:
		if len(c.queue) >= c.opts.MaxPending {
			// drop oldest, keep the freshest telemetry
			c.queue = c.queue[1:]
			log.Warn().Str("event", event).Msg("pending queue full, oldest dropped")
		}
		c.queue = append(c.queue, env)
		c.mu.Unlock()
		return nil
	default:
		c.mu.Unlock()
		return ErrNotConnected
	}
}

func (c *Client) write(env Envelope) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	ctx, cancel := context.WithTimeout(c.ctx, 10*time.Second)
	defer cancel()
	if err := wsjson.Write(ctx, conn, env); err != nil {
		return fmt.Errorf("send %s: %w", env.Event, err)
	}
	return nil
}

// State reports the current connection state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Close ends the connection gracefully. No reconnection is scheduled.
func (c *Client) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	conn := c.conn
	c.conn = nil
	c.state = StateDisconnected
	c.mu.Unlock()

	c.cancel()
	if conn != nil {
		_ = conn.Close(websocket.StatusNormalClosure, "session ended")
	}
}

func (c *Client) readPump(conn *websocket.Conn) {
	for {
		_, data, err := conn.Read(c.ctx)
		if err != nil {
			c.handleReadError(conn, err)
			return
		}
		// decode by hand: a garbled frame is discarded, the connection stays up
		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			log.Warn().Err(err).Msg("malformed gateway message discarded")
			continue
		}
		c.dispatch(env)
	}
}

func (c *Client) dispatch(env Envelope) {
	c.mu.Lock()
	handlers := make([]Handler, 0, len(c.subs[env.Event]))
	for _, h := range c.subs[env.Event] {
		handlers = append(handlers, h)
	}
	c.mu.Unlock()

	// handlers run off the read pump so a slow consumer cannot stall inbound
	// traffic
	for _, h := range handlers {
		h := h
		go h(env.Payload)
	}
}

func (c *Client) handleReadError(conn *websocket.Conn, err error) {
	c.mu.Lock()
	if c.closed || c.conn != conn {
		// stale pump from a replaced connection
		c.mu.Unlock()
		return
	}
	c.conn = nil

	status := websocket.CloseStatus(err)
	graceful := status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway
	if graceful {
		c.state = StateDisconnected
		c.mu.Unlock()
		log.Info().Msg("gateway closed the connection")
		return
	}

	c.state = StateReconnecting
	c.mu.Unlock()
	log.Warn().Err(err).Msg("gateway connection lost, reconnecting")
	go c.reconnectLoop()
}

func (c *Client) reconnectLoop() {
	attempt := 0
	for {
		c.mu.Lock()
		if c.closed || c.state != StateReconnecting {
			c.mu.Unlock()
			return
		}
		c.mu.Unlock()

		attempt++
		backoff := time.Duration(math.Pow(2, float64(attempt-1))) * c.opts.ReconnectBase
		if backoff > c.opts.ReconnectMax {
			backoff = c.opts.ReconnectMax
		}
		jitter := time.Duration(rand.Int63n(int64(c.opts.ReconnectBase)))

		select {
		case <-time.After(backoff + jitter):
		case <-c.ctx.Done():
			return
		}

		dialCtx, cancel := context.WithTimeout(c.ctx, 10*time.Second)
		conn, _, err := websocket.Dial(dialCtx, c.url, nil)
		cancel()
		if err != nil {
			log.Warn().Err(err).Int("attempt", attempt).Msg("reconnect failed")
			continue
		}

		c.adopt(conn)
		return
	}
}
