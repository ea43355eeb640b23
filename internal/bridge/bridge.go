package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/rs/zerolog/log"
)

var (
	// ErrClosed means the bridge was shut down and will not accept calls.
	ErrClosed = errors.New("bridge: closed")
	// ErrTransport wraps connection-level failures. Retryable by the caller.
	ErrTransport = errors.New("bridge: transport failure")
	// ErrOracle wraps an explicit error payload from the scoring oracle.
	// Passed through verbatim, never retried automatically.
	ErrOracle = errors.New("oracle error")
	// ErrMalformedReply means the oracle answered with something that is not
	// a recognizable reply. Surfaced to the caller, connection kept.
	ErrMalformedReply = errors.New("bridge: malformed oracle reply")
)

type State int32

const (
	StateClosed State = iota
	StateConnecting
	StateOpen
	StateClosing
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "CONNECTING"
	case StateOpen:
		return "OPEN"
	case StateClosing:
		return "CLOSING"
	default:
		return "CLOSED"
	}
}

// Request is the gateway -> oracle wire message.
type Request struct {
	UserID string  `json:"user_id"`
	Data   Payload `json:"data"`
}

type Payload struct {
	Swiping map[string][]float64 `json:"swiping,omitempty"`
	Typing  map[string][]float64 `json:"typing,omitempty"`
}

type reply struct {
	Result json.RawMessage `json:"result"`
	Error  string          `json:"error"`
}

type call struct {
	req  Request
	done chan callResult
}

type callResult struct {
	verdict json.RawMessage
	err     error
}

// Bridge owns the single shared outbound connection to the scoring oracle.
// All inbound gateway requests funnel through it; concurrent callers while
// the connection is still opening are queued individually and delivered in
// order once it opens.
type Bridge struct {
	url            string
	reconnectDelay time.Duration

	mu         sync.Mutex
	state      State
	conn       *websocket.Conn
	pending    []*call // queued, not yet written
	inflight   []*call // written, awaiting reply (FIFO)
	hasUser    bool
	closed     bool
	retryArmed bool

	flushMu sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
}

func New(url string, reconnectDelay time.Duration) *Bridge {
	if reconnectDelay <= 0 {
		reconnectDelay = 3 * time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Bridge{
		url:            url,
		reconnectDelay: reconnectDelay,
		ctx:            ctx,
		cancel:         cancel,
	}
}

// State reports the connection state.
func (b *Bridge) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Forward sends one feature payload to the oracle and waits for its verdict.
// If the connection is CLOSED it is opened; while CONNECTING (or during a
// scheduled reconnect backoff) the call queues. The context bounds the whole
// wait; there is no mid-flight cancellation, a late reply is simply ignored.
func (b *Bridge) Forward(ctx context.Context, req Request) (json.RawMessage, error) {
	c := &call{req: req, done: make(chan callResult, 1)}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, ErrClosed
	}
	if req.UserID != "" {
		b.hasUser = true
	}
	b.pending = append(b.pending, c)

	switch b.state {
	case StateOpen:
		b.mu.Unlock()
		go b.flush()
	case StateClosed:
		if b.retryArmed {
			// reconnect already scheduled, ride along with it
			b.mu.Unlock()
		} else {
			b.state = StateConnecting
			b.mu.Unlock()
			go b.connect()
		}
	default:
		// CONNECTING or CLOSING; the queue drains on the open transition
		b.mu.Unlock()
	}

	select {
	case res := <-c.done:
		return res.verdict, res.err
	case <-ctx.Done():
		return nil, fmt.Errorf("oracle call: %w", ctx.Err())
	}
}

// ClearUserContext tells the bridge no user session remains. An abnormal
// close after this point is not reconnected automatically.
func (b *Bridge) ClearUserContext() {
	b.mu.Lock()
	b.hasUser = false
	b.mu.Unlock()
}

// Close shuts the connection down gracefully. Pending and in-flight calls
// fail with ErrClosed.
func (b *Bridge) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	b.state = StateClosing
	conn := b.conn
	b.conn = nil
	failed := append(b.pending, b.inflight...)
	b.pending = nil
	b.inflight = nil
	b.mu.Unlock()

	for _, c := range failed {
		c.done <- callResult{err: ErrClosed}
	}
	if conn != nil {
		_ = conn.Close(websocket.StatusNormalClosure, "bridge shutdown")
	}
	b.cancel()

	b.mu.Lock()
	b.state = StateClosed
	b.mu.Unlock()
}

func (b *Bridge) connect() {
	dialCtx, cancel := context.WithTimeout(b.ctx, 10*time.Second)
	conn, _, err := websocket.Dial(dialCtx, b.url, nil)
	cancel()

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		if conn != nil {
			_ = conn.Close(websocket.StatusNormalClosure, "bridge shutdown")
		}
		return
	}
	if err != nil {
		b.state = StateClosed
		failed := b.pending
		b.pending = nil
		b.mu.Unlock()
		log.Error().Err(err).Str("url", b.url).Msg("oracle dial failed")
		for _, c := range failed {
			c.done <- callResult{err: fmt.Errorf("%w: %v", ErrTransport, err)}
		}
		return
	}

	b.conn = conn
	b.state = StateOpen
	b.mu.Unlock()

	log.Info().Str("url", b.url).Msg("oracle connection open")
	go b.readPump(conn)
	b.flush()
}

// flush writes queued calls in order. flushMu keeps the wire order identical
// to the inflight order so FIFO reply matching stays correct.
func (b *Bridge) flush() {
	b.flushMu.Lock()
	defer b.flushMu.Unlock()

	for {
		b.mu.Lock()
		if b.state != StateOpen || len(b.pending) == 0 {
			b.mu.Unlock()
			return
		}
		c := b.pending[0]
		b.pending = b.pending[1:]
		b.inflight = append(b.inflight, c)
		conn := b.conn
		b.mu.Unlock()

		data, err := json.Marshal(c.req)
		if err == nil {
			writeCtx, cancel := context.WithTimeout(b.ctx, 10*time.Second)
			err = conn.Write(writeCtx, websocket.MessageText, data)
			cancel()
		}
		if err != nil {
			b.dropInflight(c)
			c.done <- callResult{err: fmt.Errorf("%w: %v", ErrTransport, err)}
		}
	}
}

func (b *Bridge) dropInflight(target *call) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, c := range b.inflight {
		if c == target {
			b.inflight = append(b.inflight[:i], b.inflight[i+1:]...)
			return
		}
	}
}

func (b *Bridge) popInflight() *call {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.inflight) == 0 {
		return nil
	}
	c := b.inflight[0]
	b.inflight = b.inflight[1:]
	return c
}

func (b *Bridge) readPump(conn *websocket.Conn) {
	for {
		_, data, err := conn.Read(b.ctx)
		if err != nil {
			b.handleDisconnect(conn, err)
			return
		}

		var rep reply
		if jsonErr := json.Unmarshal(data, &rep); jsonErr != nil {
			log.Warn().Err(jsonErr).Msg("oracle reply is not valid JSON")
			if c := b.popInflight(); c != nil {
				c.done <- callResult{err: fmt.Errorf("%w: %v", ErrMalformedReply, jsonErr)}
			}
			continue
		}

		c := b.popInflight()
		if c == nil {
			log.Warn().Msg("unmatched oracle reply discarded")
			continue
		}

		switch {
		case rep.Error != "":
			c.done <- callResult{err: fmt.Errorf("%w: %s", ErrOracle, rep.Error)}
		case len(rep.Result) > 0:
			c.done <- callResult{verdict: rep.Result}
		default:
			c.done <- callResult{err: ErrMalformedReply}
		}
	}
}

func (b *Bridge) handleDisconnect(conn *websocket.Conn, err error) {
	b.mu.Lock()
	if b.conn != conn {
		// pump of a replaced connection
		b.mu.Unlock()
		return
	}
	b.conn = nil

	// in-flight replies are gone with the connection
	inflight := b.inflight
	b.inflight = nil

	status := websocket.CloseStatus(err)
	graceful := b.closed || status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway

	if graceful {
		b.state = StateClosed
		pending := b.pending
		b.pending = nil
		b.mu.Unlock()
		log.Info().Msg("oracle connection closed")
		failAll(inflight, fmt.Errorf("%w: connection closed", ErrTransport))
		failAll(pending, fmt.Errorf("%w: connection closed", ErrTransport))
		return
	}

	b.state = StateClosed
	if !b.hasUser {
		pending := b.pending
		b.pending = nil
		b.mu.Unlock()
		log.Warn().Err(err).Msg("oracle connection lost, no user context, not reconnecting")
		failAll(inflight, fmt.Errorf("%w: %v", ErrTransport, err))
		failAll(pending, fmt.Errorf("%w: %v", ErrTransport, err))
		return
	}

	// keep queued calls; one reconnect attempt after a fixed backoff
	if !b.retryArmed {
		b.retryArmed = true
		time.AfterFunc(b.reconnectDelay, b.retryConnect)
	}
	b.mu.Unlock()
	log.Warn().Err(err).Dur("backoff", b.reconnectDelay).Msg("oracle connection lost, reconnect scheduled")
	failAll(inflight, fmt.Errorf("%w: %v", ErrTransport, err))
}

func (b *Bridge) retryConnect() {
	b.mu.Lock()
	b.retryArmed = false
	if b.closed || b.state != StateClosed {
		b.mu.Unlock()
		return
	}
	b.state = StateConnecting
	b.mu.Unlock()
	b.connect()
}

func failAll(calls []*call, err error) {
	for _, c := range calls {
		c.done <- callResult{err: err}
	}
}
