package app

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// Action kinds.
const (
	ActionText     = "text"
	ActionCallback = "callback"
)

// Action is one user-originated outbound request: a free-text command
// or a button press.
type Action struct {
	ID        string
	Kind      string
	Text      string
	Data      string
	MessageID int64

	// Done, when set, receives the transmission result. Errors are
	// otherwise swallowed: there is no automatic retry for a failed
	// send.
	Done func(err error)
}

// sessionCommands are the slash commands that mutate which session is
// active. While one is in flight the dispatcher holds Ready false so a
// second session mutation cannot race the first.
var sessionCommands = []string{
	"/new", "/switch", "/resume", "/end", "/delete", "/session",
}

func isSessionMutating(a Action) bool {
	if a.Kind != ActionText {
		return false
	}
	text := strings.TrimSpace(a.Text)
	for _, cmd := range sessionCommands {
		if text == cmd || strings.HasPrefix(text, cmd+" ") {
			return true
		}
	}
	return false
}

// Dispatcher serializes outbound actions onto a single worker so the
// server observes them in submission order even though each is an
// independent HTTP request. Submission from multiple goroutines is
// safe; execution is strictly FIFO, one in flight at a time.
type Dispatcher struct {
	api    *APIClient
	logger *Logger

	queue chan Action
	busy  atomic.Bool

	startOnce sync.Once
	stopOnce  sync.Once
	done      chan struct{}
	stopped   chan struct{}
}

const dispatchQueueSize = 64

func NewDispatcher(api *APIClient, logger *Logger) *Dispatcher {
	return &Dispatcher{
		api:     api,
		logger:  logger,
		queue:   make(chan Action, dispatchQueueSize),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
}

// Start launches the worker. Safe to call once.
func (d *Dispatcher) Start(ctx context.Context) {
	d.startOnce.Do(func() {
		go d.run(ctx)
	})
}

// Stop drains nothing and halts the worker after the in-flight action.
func (d *Dispatcher) Stop() {
	d.stopOnce.Do(func() { close(d.done) })
	<-d.stopped
}

// Ready reports whether a new session-mutating action may be issued.
// This is a liveness guard for the UI, not a log-correctness gate.
func (d *Dispatcher) Ready() bool { return !d.busy.Load() }

// Submit enqueues an action for ordered transmission. Returns false if
// the queue is full.
func (d *Dispatcher) Submit(a Action) bool {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	select {
	case d.queue <- a:
		return true
	default:
		if d.logger != nil {
			d.logger.Error("dispatch queue full, dropping action", map[string]interface{}{"kind": a.Kind})
		}
		return false
	}
}

func (d *Dispatcher) run(ctx context.Context) {
	defer close(d.stopped)
	for {
		select {
		case <-d.done:
			return
		case <-ctx.Done():
			return
		case a := <-d.queue:
			d.execute(ctx, a)
		}
	}
}

func (d *Dispatcher) execute(ctx context.Context, a Action) {
	guard := isSessionMutating(a)
	if guard {
		d.busy.Store(true)
		defer d.busy.Store(false)
	}

	var err error
	switch a.Kind {
	case ActionText:
		err = d.api.SendMessage(ctx, a.Text)
	case ActionCallback:
		err = d.api.SendCallback(ctx, a.Data, a.MessageID)
	}

	if err != nil && d.logger != nil {
		// Swallowed at this layer: the user re-issues on failure.
		d.logger.Error("send failed", map[string]interface{}{
			"id":    a.ID,
			"kind":  a.Kind,
			"error": err.Error(),
		})
	}
	if a.Done != nil {
		a.Done(err)
	}
}
