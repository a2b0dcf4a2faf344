package app

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/coder/websocket"
)

// ConnState is the connection lifecycle state. Transitions happen only
// inside ConnectionController.
type ConnState int

const (
	StateDisconnected ConnState = iota
	StateConnecting
	StateConnected
	StateReconnecting
)

func (s ConnState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	}
	return "unknown"
}

const (
	reconnectBase   = time.Second
	reconnectCap    = 30 * time.Second
	maxBackoffShift = 5

	dialTimeout  = 15 * time.Second
	writeTimeout = 10 * time.Second
)

// reconnectDelay is the capped exponential backoff for reconnect
// attempts: min(1s * 2^min(attempt,5), 30s).
func reconnectDelay(attempt int) time.Duration {
	shift := attempt
	if shift > maxBackoffShift {
		shift = maxBackoffShift
	}
	d := reconnectBase << shift
	if d > reconnectCap {
		d = reconnectCap
	}
	return d
}

// wsConn abstracts the WebSocket connection so the controller can be
// tested without a real server. *websocket.Conn satisfies this.
type wsConn interface {
	Read(ctx context.Context) (websocket.MessageType, []byte, error)
	Write(ctx context.Context, typ websocket.MessageType, p []byte) error
	Close(code websocket.StatusCode, reason string) error
}

// Dialer opens one connection attempt to the given URL.
type Dialer func(ctx context.Context, rawURL string) (wsConn, error)

func defaultDialer(ctx context.Context, rawURL string) (wsConn, error) {
	conn, _, err := websocket.Dial(ctx, rawURL, nil) //nolint:bodyclose // websocket.Dial closes the response body internally
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// ConnectionController owns the lifetime of the logical connection:
// the {disconnected, connecting, connected, reconnecting} state
// machine, reconnect backoff timing, and the per-connection reader
// goroutine. Transport errors never propagate as fatal; they only
// drive the reconnecting state. The only terminal state is
// disconnected, reached by Disconnect or a clean server close.
//
// Each transition into connected bumps the epoch; sequence numbers are
// only comparable within one epoch's delivery stream.
type ConnectionController struct {
	logger  *Logger
	dial    Dialer
	onState func(state ConnState, epoch uint64)
	onFrame func(data []byte)
	lastSeq func() int64

	mu         sync.Mutex
	state      ConnState
	epoch      uint64
	attempt    int
	endpoint   string
	conn       wsConn
	connCancel context.CancelFunc
	retry      *time.Timer
	gen        uint64
}

// ConnectionOptions configures a ConnectionController. OnState and
// OnFrame are invoked from controller goroutines; the consumer is
// responsible for marshaling onto its own writer context.
type ConnectionOptions struct {
	Logger  *Logger
	Dial    Dialer
	OnState func(state ConnState, epoch uint64)
	OnFrame func(data []byte)

	// LastSeq reports the highest delivered sequence number, used to
	// resume the stream on reconnect.
	LastSeq func() int64
}

func NewConnectionController(opts ConnectionOptions) *ConnectionController {
	c := &ConnectionController{
		logger:  opts.Logger,
		dial:    opts.Dial,
		onState: opts.OnState,
		onFrame: opts.OnFrame,
		lastSeq: opts.LastSeq,
		state:   StateDisconnected,
	}
	if c.dial == nil {
		c.dial = defaultDialer
	}
	if c.onState == nil {
		c.onState = func(ConnState, uint64) {}
	}
	if c.onFrame == nil {
		c.onFrame = func([]byte) {}
	}
	if c.lastSeq == nil {
		c.lastSeq = func() int64 { return 0 }
	}
	return c
}

// State returns the current connection state.
func (c *ConnectionController) State() ConnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Epoch returns the current epoch counter.
func (c *ConnectionController) Epoch() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.epoch
}

// Connect starts connecting to endpoint. No-op unless disconnected.
func (c *ConnectionController) Connect(endpoint string) {
	c.mu.Lock()
	if c.state != StateDisconnected {
		c.mu.Unlock()
		return
	}
	c.endpoint = endpoint
	c.attempt = 0
	c.state = StateConnecting
	gen := c.gen
	c.mu.Unlock()

	c.onState(StateConnecting, 0)
	go c.attemptConnect(gen)
}

// Disconnect tears the connection down and stops all recovery: the
// pending reconnect timer is cancelled and no further attempts run
// until Connect is called again. Idempotent.
func (c *ConnectionController) Disconnect() {
	c.mu.Lock()
	if c.state == StateDisconnected {
		c.mu.Unlock()
		return
	}
	c.teardownLocked()
	c.state = StateDisconnected
	c.mu.Unlock()

	c.onState(StateDisconnected, 0)
}

// Send writes a payload (e.g. a resend request) to the live
// connection.
func (c *ConnectionController) Send(payload []byte) error {
	c.mu.Lock()
	conn := c.conn
	connected := c.state == StateConnected
	c.mu.Unlock()

	if !connected || conn == nil {
		return fmt.Errorf("not connected")
	}
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	return conn.Write(ctx, websocket.MessageText, payload)
}

// teardownLocked cancels the retry timer and reader and closes the
// transport. Caller holds c.mu.
func (c *ConnectionController) teardownLocked() {
	c.gen++
	if c.retry != nil {
		c.retry.Stop()
		c.retry = nil
	}
	if c.connCancel != nil {
		c.connCancel()
		c.connCancel = nil
	}
	if c.conn != nil {
		_ = c.conn.Close(websocket.StatusNormalClosure, "client disconnect")
		c.conn = nil
	}
}

func (c *ConnectionController) attemptConnect(gen uint64) {
	c.mu.Lock()
	if c.gen != gen || (c.state != StateConnecting && c.state != StateReconnecting) {
		c.mu.Unlock()
		return
	}
	target := resumeURL(c.endpoint, c.lastSeq())
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
	conn, err := c.dial(ctx, target)
	cancel()
	if err != nil {
		if c.logger != nil {
			c.logger.Error("dial failed", map[string]interface{}{"url": target, "error": err.Error()})
		}
		c.handleFailure(gen)
		return
	}

	c.mu.Lock()
	if c.gen != gen {
		// Disconnected while dialing.
		c.mu.Unlock()
		_ = conn.Close(websocket.StatusNormalClosure, "stale connection")
		return
	}
	c.conn = conn
	c.state = StateConnected
	c.attempt = 0
	c.epoch++
	epoch := c.epoch
	connCtx, connCancel := context.WithCancel(context.Background())
	c.connCancel = connCancel
	c.mu.Unlock()

	if c.logger != nil {
		c.logger.Info("connected", map[string]interface{}{"epoch": epoch})
	}
	c.onState(StateConnected, epoch)
	go c.readLoop(connCtx, conn, gen)
}

// readLoop pumps inbound frames until the connection dies. The gen
// guard keeps a stale reader from feeding frames or failure handling
// into a newer connection.
func (c *ConnectionController) readLoop(ctx context.Context, conn wsConn, gen uint64) {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			c.mu.Lock()
			stale := c.gen != gen
			c.mu.Unlock()
			if stale {
				return
			}
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
				// Clean server-initiated close is terminal, like an
				// explicit disconnect.
				if c.logger != nil {
					c.logger.Info("server closed connection", nil)
				}
				c.Disconnect()
				return
			}
			c.handleFailure(gen)
			return
		}
		c.mu.Lock()
		stale := c.gen != gen
		c.mu.Unlock()
		if stale {
			return
		}
		c.onFrame(data)
	}
}

// handleFailure routes a transport failure into reconnecting and
// schedules exactly one delayed retry.
func (c *ConnectionController) handleFailure(gen uint64) {
	c.mu.Lock()
	if c.gen != gen || c.state == StateDisconnected {
		c.mu.Unlock()
		return
	}
	if c.connCancel != nil {
		c.connCancel()
		c.connCancel = nil
	}
	c.conn = nil
	notify := c.state != StateReconnecting
	c.state = StateReconnecting
	delay := reconnectDelay(c.attempt)
	c.attempt++
	c.retry = time.AfterFunc(delay, func() { c.attemptConnect(gen) })
	attempt := c.attempt
	c.mu.Unlock()

	if c.logger != nil {
		c.logger.Info("reconnect scheduled", map[string]interface{}{
			"attempt": attempt,
			"delay":   delay.String(),
		})
	}
	if notify {
		c.onState(StateReconnecting, 0)
	}
}

// resumeURL appends last_seq to the endpoint when there is a stream
// position to resume from; a fresh session omits the parameter.
func resumeURL(endpoint string, lastSeq int64) string {
	if lastSeq <= 0 {
		return endpoint
	}
	u, err := url.Parse(endpoint)
	if err != nil {
		return endpoint
	}
	q := u.Query()
	q.Set("last_seq", strconv.FormatInt(lastSeq, 10))
	u.RawQuery = q.Encode()
	return u.String()
}
