package app

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
)

func TestReconnectDelay_CappedExponential(t *testing.T) {
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 1000 * time.Millisecond},
		{1, 2000 * time.Millisecond},
		{2, 4000 * time.Millisecond},
		{3, 8000 * time.Millisecond},
		{4, 16000 * time.Millisecond},
		{5, 30000 * time.Millisecond},
		{6, 30000 * time.Millisecond},
		{20, 30000 * time.Millisecond},
	}
	for _, tc := range tests {
		if got := reconnectDelay(tc.attempt); got != tc.want {
			t.Fatalf("reconnectDelay(%d) = %v, want %v", tc.attempt, got, tc.want)
		}
	}
}

func TestResumeURL(t *testing.T) {
	tests := []struct {
		name     string
		endpoint string
		lastSeq  int64
		want     string
	}{
		{
			name:     "fresh session omits last_seq",
			endpoint: "ws://example:8080/ws",
			lastSeq:  0,
			want:     "ws://example:8080/ws",
		},
		{
			name:     "resume appends last_seq",
			endpoint: "ws://example:8080/ws",
			lastSeq:  17,
			want:     "ws://example:8080/ws?last_seq=17",
		},
		{
			name:     "token query preserved",
			endpoint: "ws://example:8080/ws?token=s3cret",
			lastSeq:  5,
			want:     "ws://example:8080/ws?last_seq=5&token=s3cret",
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := resumeURL(tc.endpoint, tc.lastSeq); got != tc.want {
				t.Fatalf("resumeURL(%q, %d) = %q, want %q", tc.endpoint, tc.lastSeq, got, tc.want)
			}
		})
	}
}

type fakeReadResult struct {
	data []byte
	err  error
}

// fakeConn satisfies wsConn for controller tests.
type fakeConn struct {
	reads  chan fakeReadResult
	mu     sync.Mutex
	writes [][]byte
	closed bool
}

func newFakeConn() *fakeConn {
	return &fakeConn{reads: make(chan fakeReadResult, 16)}
}

func (f *fakeConn) Read(ctx context.Context) (websocket.MessageType, []byte, error) {
	select {
	case <-ctx.Done():
		return 0, nil, ctx.Err()
	case r := <-f.reads:
		return websocket.MessageText, r.data, r.err
	}
}

func (f *fakeConn) Write(_ context.Context, _ websocket.MessageType, p []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writes = append(f.writes, append([]byte(nil), p...))
	return nil
}

func (f *fakeConn) Close(websocket.StatusCode, string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

type connRecorder struct {
	mu     sync.Mutex
	states []ConnState
	epochs []uint64
	frames [][]byte
}

func (r *connRecorder) onState(s ConnState, epoch uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, s)
	r.epochs = append(r.epochs, epoch)
}

func (r *connRecorder) onFrame(data []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frames = append(r.frames, append([]byte(nil), data...))
}

func (r *connRecorder) lastState() ConnState {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.states) == 0 {
		return StateDisconnected
	}
	return r.states[len(r.states)-1]
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestConnectionController_ConnectDeliversFramesAndBumpsEpoch(t *testing.T) {
	conn := newFakeConn()
	rec := &connRecorder{}
	c := NewConnectionController(ConnectionOptions{
		Dial:    func(context.Context, string) (wsConn, error) { return conn, nil },
		OnState: rec.onState,
		OnFrame: rec.onFrame,
	})

	c.Connect("ws://example/ws")
	waitFor(t, "connected", func() bool { return c.State() == StateConnected })

	if got := c.Epoch(); got != 1 {
		t.Fatalf("epoch = %d, want 1", got)
	}

	conn.reads <- fakeReadResult{data: []byte(`{"type":"message","seq":1}`)}
	waitFor(t, "frame delivery", func() bool {
		rec.mu.Lock()
		defer rec.mu.Unlock()
		return len(rec.frames) == 1
	})

	c.Disconnect()
	if got := c.State(); got != StateDisconnected {
		t.Fatalf("state after disconnect = %v, want disconnected", got)
	}
}

func TestConnectionController_DialFailureEntersReconnecting(t *testing.T) {
	var (
		mu    sync.Mutex
		calls int
	)
	rec := &connRecorder{}
	c := NewConnectionController(ConnectionOptions{
		Dial: func(context.Context, string) (wsConn, error) {
			mu.Lock()
			calls++
			mu.Unlock()
			return nil, errors.New("connection refused")
		},
		OnState: rec.onState,
	})

	c.Connect("ws://example/ws")
	waitFor(t, "reconnecting", func() bool { return c.State() == StateReconnecting })

	// Disconnect must cancel the pending retry: no further dial
	// attempts even after the first backoff delay elapses.
	c.Disconnect()
	time.Sleep(1200 * time.Millisecond)

	mu.Lock()
	got := calls
	mu.Unlock()
	if got != 1 {
		t.Fatalf("dial attempts after disconnect = %d, want 1", got)
	}
	if rec.lastState() != StateDisconnected {
		t.Fatalf("final state = %v, want disconnected", rec.lastState())
	}
}

func TestConnectionController_AbnormalCloseReconnects(t *testing.T) {
	conn := newFakeConn()
	rec := &connRecorder{}
	c := NewConnectionController(ConnectionOptions{
		Dial:    func(context.Context, string) (wsConn, error) { return conn, nil },
		OnState: rec.onState,
	})

	c.Connect("ws://example/ws")
	waitFor(t, "connected", func() bool { return c.State() == StateConnected })

	conn.reads <- fakeReadResult{err: io.ErrUnexpectedEOF}
	waitFor(t, "reconnecting", func() bool { return c.State() == StateReconnecting })

	c.Disconnect()
}

func TestConnectionController_CleanServerCloseIsTerminal(t *testing.T) {
	conn := newFakeConn()
	rec := &connRecorder{}
	c := NewConnectionController(ConnectionOptions{
		Dial:    func(context.Context, string) (wsConn, error) { return conn, nil },
		OnState: rec.onState,
	})

	c.Connect("ws://example/ws")
	waitFor(t, "connected", func() bool { return c.State() == StateConnected })

	conn.reads <- fakeReadResult{err: websocket.CloseError{Code: websocket.StatusNormalClosure}}
	waitFor(t, "disconnected", func() bool { return c.State() == StateDisconnected })
}

func TestConnectionController_ReconnectResumesWithLastSeq(t *testing.T) {
	var (
		mu   sync.Mutex
		urls []string
	)
	conns := make(chan *fakeConn, 4)
	c := NewConnectionController(ConnectionOptions{
		Dial: func(_ context.Context, rawURL string) (wsConn, error) {
			mu.Lock()
			urls = append(urls, rawURL)
			mu.Unlock()
			conn := newFakeConn()
			conns <- conn
			return conn, nil
		},
		LastSeq: func() int64 { return 42 },
	})

	c.Connect("ws://example/ws")
	waitFor(t, "connected", func() bool { return c.State() == StateConnected })

	mu.Lock()
	first := urls[0]
	mu.Unlock()
	if !strings.Contains(first, "last_seq=42") {
		t.Fatalf("dial URL %q missing last_seq", first)
	}
	c.Disconnect()
}

func TestConnectionController_SendWritesToLiveConn(t *testing.T) {
	conn := newFakeConn()
	c := NewConnectionController(ConnectionOptions{
		Dial: func(context.Context, string) (wsConn, error) { return conn, nil },
	})

	if err := c.Send([]byte("x")); err == nil {
		t.Fatal("Send before connect should fail")
	}

	c.Connect("ws://example/ws")
	waitFor(t, "connected", func() bool { return c.State() == StateConnected })

	if err := c.Send([]byte(`{"type":"resend","from_seq":2}`)); err != nil {
		t.Fatalf("Send() error: %v", err)
	}
	conn.mu.Lock()
	n := len(conn.writes)
	conn.mu.Unlock()
	if n != 1 {
		t.Fatalf("writes = %d, want 1", n)
	}
	c.Disconnect()
}
