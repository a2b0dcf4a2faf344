package app

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"sync/atomic"
)

// Client wires the connection controller, sequence reconciler,
// identity mapper, and dispatcher around one writer goroutine that
// owns the message log and all reconciliation state. Inbound frames,
// connection state changes, and optimistic inserts are marshaled onto
// that goroutine; nothing mutates shared state anywhere else.
type Client struct {
	cfg    Config
	logger *Logger
	store  Store

	api  *APIClient
	disp *Dispatcher
	conn *ConnectionController

	log    *MessageLog
	rec    *SequenceReconciler
	mapper *IdentityMapper

	calls   chan func()
	updates chan struct{}
	persist chan persistOp
	closed  chan struct{}

	lastSeq   atomic.Int64
	connState atomic.Int32
}

// persistOp is one queued write-through mutation. Ops drain through a
// single persistence goroutine so an edit's update can never outrun
// the insert of the message it revises.
type persistOp struct {
	m       Message
	updated bool
}

const persistQueueSize = 128

func NewClient(cfg Config, logger *Logger, store Store) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = NewLogger(io.Discard, false)
	}

	c := &Client{
		cfg:     cfg,
		logger:  logger,
		store:   store,
		log:     NewMessageLog(),
		calls:   make(chan func(), 64),
		updates: make(chan struct{}, 1),
		persist: make(chan persistOp, persistQueueSize),
		closed:  make(chan struct{}),
	}

	c.api = NewAPIClient(cfg.HTTPBaseURL(), cfg.APISecret, cfg.ChatID)
	c.disp = NewDispatcher(c.api, logger)
	c.mapper = NewIdentityMapper(c.log, logger, c.writeThrough)
	c.rec = NewSequenceReconciler(c.deliver, c.requestResend)
	c.conn = NewConnectionController(ConnectionOptions{
		Logger:  logger,
		OnState: c.onConnState,
		OnFrame: c.onRawFrame,
		LastSeq: c.lastSeq.Load,
	})
	return c, nil
}

// Run drives the writer goroutine until ctx is cancelled. It hydrates
// the newest stored page first so the transcript is visible before the
// first frame arrives.
func (c *Client) Run(ctx context.Context) {
	defer close(c.closed)
	c.disp.Start(ctx)
	defer c.disp.Stop()
	defer c.conn.Disconnect()
	go c.persistLoop(ctx)

	c.hydrate()

	for {
		select {
		case <-ctx.Done():
			return
		case fn := <-c.calls:
			fn()
		}
	}
}

// Connect starts the connection to the configured server.
func (c *Client) Connect() { c.conn.Connect(c.cfg.WSEndpoint()) }

// Disconnect tears the connection down; no automatic recovery runs
// until Connect is called again.
func (c *Client) Disconnect() { c.conn.Disconnect() }

// SendText optimistically inserts the text as a speculative entry and
// queues it for ordered transmission. Slash commands skip the insert:
// the server responds to them with its own messages.
func (c *Client) SendText(text string) {
	if text == "" {
		return
	}
	if !isCommand(text) {
		c.marshal(func() {
			c.mapper.InsertSpeculative(text, "")
			c.notify()
		})
	}
	c.disp.Submit(Action{Kind: ActionText, Text: text})
}

// PressButton queues an inline-keyboard button press.
func (c *Client) PressButton(data string, messageID int64) {
	c.disp.Submit(Action{Kind: ActionCallback, Data: data, MessageID: messageID})
}

// ListSessions fetches the server's session listing.
func (c *Client) ListSessions(ctx context.Context) ([]SessionInfo, error) {
	return c.api.ListSessions(ctx)
}

// LoadOlder prepends the next older page from the store.
func (c *Client) LoadOlder() {
	c.marshal(func() {
		page, err := c.store.GetPage(c.cfg.PageSize, c.log.PersistedCount())
		if err != nil {
			c.logger.Error("loading older page", map[string]interface{}{"error": err.Error()})
			return
		}
		c.log.Prepend(reverseMessages(page))
		c.notify()
	})
}

// Search runs a substring search against the persisted history.
func (c *Client) Search(query string, limit, offset int) ([]Message, int, error) {
	msgs, err := c.store.Search(query, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	total, err := c.store.SearchCount(query)
	if err != nil {
		return nil, 0, err
	}
	return msgs, total, nil
}

// Clear wipes the transcript and the persisted history (session reset).
func (c *Client) Clear() {
	c.marshal(func() {
		c.log.Clear()
		c.notify()
		go func() {
			if err := c.store.DeleteAll(); err != nil {
				c.logger.Error("clearing store", map[string]interface{}{"error": err.Error()})
			}
		}()
	})
}

// Snapshot returns a copy of the transcript plus the task projection,
// fetched through the writer goroutine.
func (c *Client) Snapshot() ([]Message, TaskStatus) {
	var (
		msgs []Message
		task TaskStatus
	)
	done := make(chan struct{})
	ok := c.marshal(func() {
		msgs = c.log.Snapshot()
		task = c.mapper.Task()
		close(done)
	})
	if !ok {
		return nil, TaskStatus{}
	}
	select {
	case <-done:
	case <-c.closed:
		// Run can exit after accepting fn but before draining it.
		return nil, TaskStatus{}
	}
	return msgs, task
}

// ConnState returns the last observed connection state.
func (c *Client) ConnState() ConnState { return ConnState(c.connState.Load()) }

// Ready reports whether a session-mutating command may be issued.
func (c *Client) Ready() bool { return c.disp.Ready() }

// Updates signals (coalesced) whenever the transcript or projection
// changes.
func (c *Client) Updates() <-chan struct{} { return c.updates }

// marshal runs fn on the writer goroutine. Returns false if the client
// has shut down.
func (c *Client) marshal(fn func()) bool {
	select {
	case c.calls <- fn:
		return true
	case <-c.closed:
		return false
	}
}

func (c *Client) notify() {
	select {
	case c.updates <- struct{}{}:
	default:
	}
}

func (c *Client) hydrate() {
	page, err := c.store.GetPage(c.cfg.PageSize, 0)
	if err != nil {
		c.logger.Error("hydrating from store", map[string]interface{}{"error": err.Error()})
		return
	}
	for _, m := range reverseMessages(page) {
		c.log.Append(m)
	}
	if len(page) > 0 {
		c.notify()
	}
}

// onRawFrame runs on the controller's reader goroutine; the frame is
// decoded here and the mutation is marshaled onto the writer.
func (c *Client) onRawFrame(data []byte) {
	f, err := ParseFrame(data)
	if err != nil {
		// Malformed payloads are noise, not protocol violations.
		c.logger.Debug("dropping malformed frame", map[string]interface{}{"bytes": len(data)})
		return
	}
	c.marshal(func() { c.rec.OnFrame(f) })
}

func (c *Client) onConnState(state ConnState, epoch uint64) {
	c.connState.Store(int32(state))
	c.marshal(func() {
		switch state {
		case StateConnected:
			c.rec.EpochStart()
			c.logger.Info("epoch started", map[string]interface{}{
				"epoch":    epoch,
				"last_seq": c.rec.LastDelivered(),
			})
		case StateDisconnected:
			// Flush reconciliation state so a stale resend response
			// cannot fire into a future epoch.
			c.rec.EpochStart()
		}
		c.notify()
	})
}

// deliver hands one reconciled frame to the mapper. Runs on the writer
// goroutine via the reconciler.
func (c *Client) deliver(f Frame) {
	if f.Seq > 0 {
		c.lastSeq.Store(f.Seq)
	}
	c.mapper.Apply(f)
	c.notify()
}

func (c *Client) requestResend(fromSeq int64) {
	if err := c.conn.Send(encodeResend(fromSeq)); err != nil {
		c.logger.Error("resend request failed", map[string]interface{}{
			"from_seq": fromSeq,
			"error":    err.Error(),
		})
	}
}

// writeThrough queues an applied mutation for persistence without
// blocking the writer goroutine. Best effort: on a full queue the op
// is dropped and the in-memory log stays authoritative for the UI.
func (c *Client) writeThrough(m Message, updated bool) {
	select {
	case c.persist <- persistOp{m: m, updated: updated}:
	default:
		c.logger.Error("persist queue full, dropping write", map[string]interface{}{
			"message_id": m.ID,
		})
	}
}

// persistLoop drains write-through ops one at a time, in the order the
// writer goroutine applied them.
func (c *Client) persistLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case op := <-c.persist:
			var err error
			if op.updated && op.m.ID > 0 {
				err = c.store.UpdateByMessageID(op.m.ID, op.m.Text, op.m.Session, encodeButtons(op.m.Buttons))
			} else {
				err = c.store.Insert(op.m)
			}
			if err != nil {
				c.logger.Error("write-through failed", map[string]interface{}{
					"message_id": op.m.ID,
					"error":      err.Error(),
				})
			}
		}
	}
}

func isCommand(text string) bool {
	return len(text) > 0 && text[0] == '/'
}

func reverseMessages(msgs []Message) []Message {
	out := make([]Message, len(msgs))
	for i, m := range msgs {
		out[len(msgs)-1-i] = m
	}
	return out
}

// WSEndpoint and HTTPBaseURL live on Config; validateEndpoint is the
// shared scheme check.
func validateEndpoint(host string) error {
	if host == "" {
		return fmt.Errorf("server host not configured")
	}
	if _, err := url.Parse("//" + host); err != nil {
		return fmt.Errorf("invalid server host %q: %w", host, err)
	}
	return nil
}
