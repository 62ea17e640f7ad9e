package rtvi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/rtvi-ai/rtvi-client-go/pkg/protocol"
	"github.com/rtvi-ai/rtvi-client-go/pkg/transport"
)

// fakeTransport is an in-memory Transport for session engine tests. Inbound
// envelopes are injected with deliver; outbound envelopes are captured and
// mirrored onto sentCh for synchronization.
type fakeTransport struct {
	sentCh  chan protocol.Envelope
	inbound chan protocol.Envelope
	states  chan transport.State

	mu       sync.Mutex
	sent     []protocol.Envelope
	sendHook func(f *fakeTransport, env protocol.Envelope)
	sendErr  error
	linkErr  error

	connectErr error
	dialGate   chan struct{}
	closeOnce  sync.Once
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		sentCh:  make(chan protocol.Envelope, 64),
		inbound: make(chan protocol.Envelope, 64),
		states:  make(chan transport.State, 8),
	}
}

func (f *fakeTransport) Connect(ctx context.Context) error {
	if f.connectErr != nil {
		return f.connectErr
	}
	if f.dialGate != nil {
		// Dial stays in flight until the gate opens or Close aborts it.
		select {
		case <-f.dialGate:
			return errors.New("transport is closed")
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	f.states <- transport.StateConnecting
	f.states <- transport.StateConnected
	return nil
}

func (f *fakeTransport) Send(env protocol.Envelope) error {
	f.mu.Lock()
	err := f.sendErr
	hook := f.sendHook
	if err == nil {
		f.sent = append(f.sent, env)
	}
	f.mu.Unlock()
	if err != nil {
		return err
	}
	f.sentCh <- env
	if hook != nil {
		hook(f, env)
	}
	return nil
}

func (f *fakeTransport) Recv() <-chan protocol.Envelope { return f.inbound }

func (f *fakeTransport) States() <-chan transport.State { return f.states }

func (f *fakeTransport) Close() error {
	f.closeOnce.Do(func() {
		if f.dialGate != nil {
			close(f.dialGate)
		}
		close(f.inbound)
		close(f.states)
	})
	return nil
}

func (f *fakeTransport) Err() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.linkErr
}

func (f *fakeTransport) deliver(env protocol.Envelope) {
	f.inbound <- env
}

// failLink simulates the remote side dropping the connection.
func (f *fakeTransport) failLink(err error) {
	f.mu.Lock()
	f.linkErr = err
	f.mu.Unlock()
	f.Close()
}

func (f *fakeTransport) sentEnvelopes() []protocol.Envelope {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]protocol.Envelope(nil), f.sent...)
}

// autoBotReady answers the client-ready announcement with bot-ready so that
// Connect completes without a hand-rolled responder.
func autoBotReady(config []protocol.ServiceConfig) func(*fakeTransport, protocol.Envelope) {
	return func(f *fakeTransport, env protocol.Envelope) {
		if env.Type != protocol.TypeEvent {
			return
		}
		payload, err := protocol.DecodeEvent(env)
		if err != nil || payload.Kind != protocol.EventClientReady {
			return
		}
		ready, err := protocol.NewEventEnvelope(protocol.EventBotReady, protocol.BotReady{
			Version: protocol.ProtocolVersion1,
			Config:  config,
		})
		if err != nil {
			return
		}
		f.deliver(ready)
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestClient(opts ...ClientOption) (*Client, *fakeTransport) {
	ft := newFakeTransport()
	opts = append([]ClientOption{WithLogger(discardLogger())}, opts...)
	return NewClient(ft, opts...), ft
}

func newReadyClient(t *testing.T, opts ...ClientOption) (*Client, *fakeTransport) {
	t.Helper()
	c, ft := newTestClient(opts...)
	ft.sendHook = autoBotReady(nil)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := c.Connect(ctx); err != nil {
		t.Fatalf("Connect error: %v", err)
	}
	t.Cleanup(func() { _ = c.Disconnect() })
	return c, ft
}

// waitSent blocks until the transport captures an outbound envelope of the
// given type, skipping others.
func waitSent(t *testing.T, ft *fakeTransport, typ string) protocol.Envelope {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case env := <-ft.sentCh:
			if env.Type == typ {
				return env
			}
		case <-deadline:
			t.Fatalf("timed out waiting for outbound %s envelope", typ)
		}
	}
}

// eventRecorder captures dispatched event kinds in arrival order.
type eventRecorder struct {
	mu    sync.Mutex
	kinds []protocol.EventKind
}

func (r *eventRecorder) record(kind protocol.EventKind) EventHandler {
	return func(payload json.RawMessage) {
		r.mu.Lock()
		r.kinds = append(r.kinds, kind)
		r.mu.Unlock()
	}
}

func (r *eventRecorder) has(kind protocol.EventKind) bool {
	for _, k := range r.snapshot() {
		if k == kind {
			return true
		}
	}
	return false
}

func (r *eventRecorder) snapshot() []protocol.EventKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]protocol.EventKind(nil), r.kinds...)
}

func (r *eventRecorder) waitFor(t *testing.T, kind protocol.EventKind) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		for _, k := range r.snapshot() {
			if k == kind {
				return
			}
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s event, saw %v", kind, r.snapshot())
}

func (r *eventRecorder) count(kind protocol.EventKind) int {
	n := 0
	for _, k := range r.snapshot() {
		if k == kind {
			n++
		}
	}
	return n
}

func TestConnectHandshakeEventOrder(t *testing.T) {
	c, ft := newTestClient()

	rec := &eventRecorder{}
	c.On(protocol.EventConnected, rec.record(protocol.EventConnected))
	c.On(protocol.EventClientReady, rec.record(protocol.EventClientReady))
	c.On(protocol.EventBotReady, rec.record(protocol.EventBotReady))

	// Answer bot-ready only after the local client-ready event fired, so the
	// recorded order is deterministic.
	go func() {
		deadline := time.Now().Add(2 * time.Second)
		for !rec.has(protocol.EventClientReady) && time.Now().Before(deadline) {
			time.Sleep(2 * time.Millisecond)
		}
		ready, _ := protocol.NewEventEnvelope(protocol.EventBotReady, protocol.BotReady{Version: protocol.ProtocolVersion1})
		ft.deliver(ready)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := c.Connect(ctx); err != nil {
		t.Fatalf("Connect error: %v", err)
	}
	defer c.Disconnect()

	if c.State() != StateReady {
		t.Fatalf("state=%s, want ready", c.State())
	}
	if c.SessionID() == "" {
		t.Fatalf("session id is empty after connect")
	}

	want := []protocol.EventKind{protocol.EventConnected, protocol.EventClientReady, protocol.EventBotReady}
	got := rec.snapshot()
	if len(got) != len(want) {
		t.Fatalf("events=%v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("events=%v, want %v", got, want)
		}
	}

	env := waitSent(t, ft, protocol.TypeEvent)
	payload, err := protocol.DecodeEvent(env)
	if err != nil || payload.Kind != protocol.EventClientReady {
		t.Fatalf("first outbound envelope kind=%v err=%v, want client-ready", payload.Kind, err)
	}
}

func TestConnectTwiceAlreadyConnected(t *testing.T) {
	c, _ := newReadyClient(t)

	err := c.Connect(context.Background())
	if !IsErrorType(err, ErrAlreadyConnected) {
		t.Fatalf("second Connect err=%v, want %s", err, ErrAlreadyConnected)
	}
}

func TestOperationsBeforeReadyAreRejected(t *testing.T) {
	c, _ := newTestClient()

	if _, err := c.Invoke(context.Background(), "llm", "append", nil); !IsErrorType(err, ErrNotReady) {
		t.Fatalf("Invoke err=%v, want %s", err, ErrNotReady)
	}
	cfg := []protocol.ServiceConfig{{Service: "tts", Options: []protocol.Option{{Name: "voice"}}}}
	if err := c.UpdateConfig(context.Background(), cfg); !IsErrorType(err, ErrNotReady) {
		t.Fatalf("UpdateConfig err=%v, want %s", err, ErrNotReady)
	}
	if err := c.SetPipeline(context.Background(), []string{"stt"}, nil); !IsErrorType(err, ErrNotReady) {
		t.Fatalf("SetPipeline err=%v, want %s", err, ErrNotReady)
	}
}

func TestDisconnectIdempotentAndTerminalEventOnce(t *testing.T) {
	c, _ := newReadyClient(t)

	rec := &eventRecorder{}
	c.On(protocol.EventDisconnected, rec.record(protocol.EventDisconnected))
	c.On(protocol.EventError, rec.record(protocol.EventError))

	if err := c.Disconnect(); err != nil {
		t.Fatalf("Disconnect error: %v", err)
	}
	if err := c.Disconnect(); err != nil {
		t.Fatalf("second Disconnect error: %v", err)
	}

	select {
	case <-c.Done():
	default:
		t.Fatalf("Done is not closed after Disconnect")
	}
	if c.State() != StateDisconnected {
		t.Fatalf("state=%s, want disconnected", c.State())
	}
	if n := rec.count(protocol.EventDisconnected); n != 1 {
		t.Fatalf("disconnected fired %d times, want 1", n)
	}
	if n := rec.count(protocol.EventError); n != 0 {
		t.Fatalf("error fired %d times on a requested disconnect, want 0", n)
	}
}

func TestDuplicateBotReadyIgnored(t *testing.T) {
	c, ft := newReadyClient(t)

	rec := &eventRecorder{}
	c.On(protocol.EventBotReady, rec.record(protocol.EventBotReady))

	ready, _ := protocol.NewEventEnvelope(protocol.EventBotReady, protocol.BotReady{Version: protocol.ProtocolVersion1})
	ft.deliver(ready)
	time.Sleep(20 * time.Millisecond)

	if n := rec.count(protocol.EventBotReady); n != 0 {
		t.Fatalf("bot-ready republished %d times after the handshake, want 0", n)
	}
	if c.State() != StateReady {
		t.Fatalf("state=%s, want ready", c.State())
	}
}

func TestConnectFailureReachesFailedState(t *testing.T) {
	c, ft := newTestClient()
	ft.connectErr = errors.New("dial refused")

	err := c.Connect(context.Background())
	if err == nil {
		t.Fatalf("Connect succeeded with a failing transport")
	}
	if c.State() != StateFailed {
		t.Fatalf("state=%s, want failed", c.State())
	}
	select {
	case <-c.Done():
	default:
		t.Fatalf("Done is not closed after a failed connect")
	}
}

func TestDisconnectDuringDial(t *testing.T) {
	c, ft := newTestClient()
	ft.dialGate = make(chan struct{})

	connectErr := make(chan error, 1)
	go func() {
		connectErr <- c.Connect(context.Background())
	}()

	deadline := time.Now().Add(2 * time.Second)
	for c.State() != StateConnecting && time.Now().Before(deadline) {
		time.Sleep(2 * time.Millisecond)
	}
	if c.State() != StateConnecting {
		t.Fatalf("state=%s, never reached connecting", c.State())
	}

	done := make(chan struct{})
	go func() {
		_ = c.Disconnect()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("Disconnect hangs while the dial is in flight")
	}

	select {
	case err := <-connectErr:
		if err == nil {
			t.Fatalf("Connect succeeded after a disconnect request")
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("Connect did not return after the disconnect")
	}
	if c.State() != StateDisconnected {
		t.Fatalf("state=%s, want disconnected for a requested disconnect", c.State())
	}
}

func TestLinkLossFailsSession(t *testing.T) {
	c, ft := newReadyClient(t)

	rec := &eventRecorder{}
	c.On(protocol.EventError, rec.record(protocol.EventError))
	c.On(protocol.EventDisconnected, rec.record(protocol.EventDisconnected))

	linkErr := errors.New("connection reset")
	ft.failLink(linkErr)

	select {
	case <-c.Done():
	case <-time.After(2 * time.Second):
		t.Fatalf("session did not terminate on link loss")
	}
	if c.State() != StateFailed {
		t.Fatalf("state=%s, want failed", c.State())
	}
	if n := rec.count(protocol.EventError); n != 1 {
		t.Fatalf("error fired %d times, want 1", n)
	}
	if n := rec.count(protocol.EventDisconnected); n != 1 {
		t.Fatalf("disconnected fired %d times, want 1", n)
	}
}

func TestUnknownEnvelopeTypeSurfacesAsGenericMessage(t *testing.T) {
	c, ft := newReadyClient(t)

	rec := &eventRecorder{}
	c.On(protocol.EventGenericMessage, rec.record(protocol.EventGenericMessage))

	ft.deliver(protocol.Envelope{Type: "future-thing", Data: []byte(`{"x":1}`)})
	rec.waitFor(t, protocol.EventGenericMessage)
}

func TestUnknownEventKindSurfacesAsGenericMessage(t *testing.T) {
	c, ft := newReadyClient(t)

	rec := &eventRecorder{}
	c.On(protocol.EventGenericMessage, rec.record(protocol.EventGenericMessage))

	env, err := protocol.NewEventEnvelope(protocol.EventKind("future-kind"), map[string]int{"x": 1})
	if err != nil {
		t.Fatalf("NewEventEnvelope error: %v", err)
	}
	ft.deliver(env)
	rec.waitFor(t, protocol.EventGenericMessage)
}
