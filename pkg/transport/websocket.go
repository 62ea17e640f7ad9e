package transport

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/rtvi-ai/rtvi-client-go/pkg/protocol"
)

const defaultConnectTimeout = 15 * time.Second

// WebSocketOption configures a WebSocket transport.
type WebSocketOption func(*WebSocket)

// WithHeader adds a header to the dial request (for example Authorization).
func WithHeader(key, value string) WebSocketOption {
	return func(t *WebSocket) {
		t.headers.Set(key, value)
	}
}

// WithDialer overrides the websocket dialer.
func WithDialer(d *websocket.Dialer) WebSocketOption {
	return func(t *WebSocket) {
		t.dialer = d
	}
}

// WebSocket is the reference Transport over a WebSocket link. Envelopes ride
// as JSON text frames.
type WebSocket struct {
	url     string
	headers http.Header
	dialer  *websocket.Dialer

	inbound chan protocol.Envelope
	states  chan State
	done    chan struct{}

	connMu sync.Mutex
	conn   *websocket.Conn

	writeMu      sync.Mutex
	closeOnce    sync.Once
	shutdownOnce sync.Once
	closed       atomic.Bool

	statesMu     sync.Mutex
	statesClosed bool

	errMu sync.Mutex
	err   error
}

// NewWebSocket builds a WebSocket transport for the given URL. http(s)
// schemes are rewritten to ws(s).
func NewWebSocket(rawURL string, opts ...WebSocketOption) (*WebSocket, error) {
	wsURL, err := websocketEndpoint(rawURL)
	if err != nil {
		return nil, err
	}
	t := &WebSocket{
		url:     wsURL,
		headers: make(http.Header),
		dialer:  websocket.DefaultDialer,
		inbound: make(chan protocol.Envelope, 256),
		states:  make(chan State, 8),
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.dialer == nil {
		t.dialer = &websocket.Dialer{}
	}
	return t, nil
}

func websocketEndpoint(rawURL string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return "", &Error{Op: "dial", URL: rawURL, Err: fmt.Errorf("invalid url: %w", err)}
	}
	switch strings.ToLower(strings.TrimSpace(u.Scheme)) {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
		// already websocket scheme.
	default:
		return "", &Error{Op: "dial", URL: rawURL, Err: fmt.Errorf("url must use http(s) or ws(s)")}
	}
	return u.String(), nil
}

// Connect dials the endpoint and starts the read loop. A transport that was
// closed, before or during the dial, never keeps the link: the freshly
// dialed connection is shut down and Connect reports failure.
func (t *WebSocket) Connect(ctx context.Context) error {
	t.connMu.Lock()
	if t.conn != nil {
		t.connMu.Unlock()
		return &Error{Op: "dial", URL: t.url, Err: fmt.Errorf("already connected")}
	}
	t.connMu.Unlock()
	if t.closed.Load() {
		return &Error{Op: "dial", URL: t.url, Err: fmt.Errorf("transport is closed")}
	}

	t.notifyState(StateConnecting)

	dialCtx := ctx
	var cancel context.CancelFunc
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		dialCtx, cancel = context.WithTimeout(ctx, defaultConnectTimeout)
		defer cancel()
	}

	conn, resp, err := t.dialer.DialContext(dialCtx, t.url, t.headers)
	if err != nil {
		t.shutdown()
		if resp != nil {
			return &Error{Op: "dial", URL: t.url, Err: fmt.Errorf("websocket dial failed (status %d): %w", resp.StatusCode, err)}
		}
		return &Error{Op: "dial", URL: t.url, Err: err}
	}

	t.connMu.Lock()
	if t.closed.Load() {
		// Close raced the dial; the link must not survive it.
		t.connMu.Unlock()
		_ = conn.Close()
		return &Error{Op: "dial", URL: t.url, Err: fmt.Errorf("transport is closed")}
	}
	t.conn = conn
	t.connMu.Unlock()

	t.notifyState(StateConnected)
	go t.readLoop(conn)
	return nil
}

// Send writes one envelope as a JSON text frame.
func (t *WebSocket) Send(env protocol.Envelope) error {
	if t.closed.Load() {
		return &Error{Op: "send", URL: t.url, Err: fmt.Errorf("transport is closed")}
	}
	t.connMu.Lock()
	conn := t.conn
	t.connMu.Unlock()
	if conn == nil {
		return &Error{Op: "send", URL: t.url, Err: fmt.Errorf("transport is not connected")}
	}
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	if err := conn.WriteJSON(env); err != nil {
		return &Error{Op: "send", URL: t.url, Err: err}
	}
	return nil
}

// Recv yields inbound envelopes. The channel closes when the link is gone.
func (t *WebSocket) Recv() <-chan protocol.Envelope {
	return t.inbound
}

// States yields link-state notifications.
func (t *WebSocket) States() <-chan State {
	return t.states
}

// Close closes the websocket link and blocks until the transport is fully
// down. Effective in any ordering relative to Connect; idempotent.
func (t *WebSocket) Close() error {
	t.closeOnce.Do(func() {
		t.closed.Store(true)
		t.connMu.Lock()
		conn := t.conn
		t.connMu.Unlock()
		if conn == nil {
			// Never connected (or a dial is in flight, which Connect will
			// abort against the closed flag).
			t.shutdown()
			return
		}
		t.writeMu.Lock()
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(2*time.Second))
		t.writeMu.Unlock()
		_ = conn.Close()
	})
	<-t.done
	return nil
}

// Err returns the terminal link error, if any, once the link is down.
func (t *WebSocket) Err() error {
	<-t.done
	t.errMu.Lock()
	defer t.errMu.Unlock()
	return t.err
}

func (t *WebSocket) setErr(err error) {
	if err == nil {
		return
	}
	t.errMu.Lock()
	defer t.errMu.Unlock()
	if t.err == nil {
		t.err = err
	}
}

// shutdown settles the channel trio exactly once.
func (t *WebSocket) shutdown() {
	t.shutdownOnce.Do(func() {
		t.notifyState(StateDisconnected)
		t.statesMu.Lock()
		t.statesClosed = true
		close(t.states)
		t.statesMu.Unlock()
		close(t.inbound)
		close(t.done)
	})
}

func (t *WebSocket) readLoop(conn *websocket.Conn) {
	defer t.shutdown()

	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) || t.closed.Load() {
				return
			}
			t.setErr(&Error{Op: "recv", URL: t.url, Err: err})
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}
		env, err := protocol.DecodeEnvelope(data)
		if err != nil {
			// Malformed frames do not kill the link; the remote side is
			// untrusted and may speak newer dialects.
			continue
		}
		t.inbound <- env
	}
}

func (t *WebSocket) notifyState(state State) {
	t.statesMu.Lock()
	defer t.statesMu.Unlock()
	if t.statesClosed {
		return
	}
	select {
	case t.states <- state:
	default:
		// State channel is a best-effort notification stream.
	}
}
