// Package rtvi provides the RTVI client SDK for Go.
//
// A Client owns one negotiated real-time session with a remote inference
// service: it drives the connection lifecycle, dispatches typed events,
// manages per-service configuration, correlates action calls with their
// responses, and runs the function-calling round trip. The transport medium
// is pluggable behind the transport.Transport interface.
package rtvi

import (
	"context"
	"encoding/json"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/rtvi-ai/rtvi-client-go/pkg/core"
	"github.com/rtvi-ai/rtvi-client-go/pkg/protocol"
	"github.com/rtvi-ai/rtvi-client-go/pkg/transport"
)

// Version is the RTVI protocol version this client announces.
const Version = protocol.ProtocolVersion1

// SessionState is the lifecycle state of a Client's session.
type SessionState string

const (
	StateIdle          SessionState = "idle"
	StateConnecting    SessionState = "connecting"
	StateConnected     SessionState = "connected"
	StateReady         SessionState = "ready"
	StateDisconnecting SessionState = "disconnecting"
	StateDisconnected  SessionState = "disconnected"
	StateFailed        SessionState = "failed"
)

// terminal reports whether s is a terminal state. A new Client must be
// constructed to retry after reaching one.
func (s SessionState) terminal() bool {
	return s == StateDisconnected || s == StateFailed
}

// Client is the session engine. One Client owns at most one session; it is
// the sole owner of its Transport handle and the sole writer of lifecycle
// state.
type Client struct {
	transport transport.Transport
	logger    *slog.Logger

	sessionID string

	stateMu sync.Mutex
	state   SessionState

	dispatcher *dispatcher

	actionTimeout time.Duration
	updateTimeout time.Duration
	toolTimeout   time.Duration

	toolDefs     []protocol.ToolDefinition
	toolHandlers map[string]ToolHandler
	onToolCall   func(name string, input json.RawMessage, output any, err error)

	initialPipeline *protocol.PipelineRequest

	corr atomic.Uint64

	pendingMu      sync.Mutex
	pendingActions map[uint64]*pendingCall
	pendingUpdates map[uint64]*pendingUpdate

	configMu sync.Mutex
	config   []protocol.ServiceConfig

	toolMu        sync.Mutex
	answeredTools map[string]struct{}
	activeTools   map[string]context.CancelFunc
	toolCtx       context.Context
	toolCancel    context.CancelFunc

	contextMu   sync.Mutex
	contextMsgs []Message

	readyOnce    sync.Once
	readyCh      chan struct{}
	terminalOnce sync.Once
	doneCh       chan struct{}
	terminalErr  error
}

// NewClient builds a session engine over the given transport. The transport
// handle passes into the Client's exclusive ownership.
func NewClient(t transport.Transport, opts ...ClientOption) *Client {
	c := &Client{
		transport:      t,
		logger:         slog.Default(),
		state:          StateIdle,
		dispatcher:     newDispatcher(),
		actionTimeout:  10 * time.Second,
		updateTimeout:  10 * time.Second,
		toolTimeout:    30 * time.Second,
		toolHandlers:   make(map[string]ToolHandler),
		pendingActions: make(map[uint64]*pendingCall),
		pendingUpdates: make(map[uint64]*pendingUpdate),
		answeredTools:  make(map[string]struct{}),
		activeTools:    make(map[string]context.CancelFunc),
		readyCh:        make(chan struct{}),
		doneCh:         make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.dispatcher.logError = func(kind protocol.EventKind, err error) {
		c.logger.Error("event handler error", "kind", kind, "error", err)
	}
	return c
}

// SessionID returns the client-assigned session identifier. Empty until
// Connect is called.
func (c *Client) SessionID() string {
	return c.sessionID
}

// State returns the current lifecycle state.
func (c *Client) State() SessionState {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	return c.state
}

// Done is closed once the session reaches a terminal state.
func (c *Client) Done() <-chan struct{} {
	return c.doneCh
}

// Ready is closed once the readiness handshake completes.
func (c *Client) Ready() <-chan struct{} {
	return c.readyCh
}

func (c *Client) setState(s SessionState) {
	c.stateMu.Lock()
	c.state = s
	c.stateMu.Unlock()
}

// transition moves from exactly `from` to `to`; it fails when the current
// state is anything else.
func (c *Client) transition(from, to SessionState) bool {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	if c.state != from {
		return false
	}
	c.state = to
	return true
}

func (c *Client) requireReady(op string) error {
	if c.State() != StateReady {
		return core.NewNotReadyError("session is not ready: cannot " + op)
	}
	return nil
}

// Connect establishes the session: it acquires the transport link, announces
// client readiness, and blocks until the remote side reports bot-ready, the
// context is done, or the session fails. Valid only from the idle state.
func (c *Client) Connect(ctx context.Context) error {
	if !c.transition(StateIdle, StateConnecting) {
		return core.NewAlreadyConnectedError("session is not idle")
	}
	c.sessionID = uuid.NewString()

	c.toolMu.Lock()
	c.toolCtx, c.toolCancel = context.WithCancel(context.Background())
	c.toolMu.Unlock()

	if err := c.transport.Connect(ctx); err != nil {
		// teardown picks the terminal state: failed here, disconnected when
		// a Disconnect raced the dial.
		c.fail(err)
		return err
	}

	go c.watchLinkStates()
	go c.routeLoop()

	if !c.transition(StateConnecting, StateConnected) {
		// Terminal state raced in while dialing.
		return c.waitTerminal()
	}
	c.publishValue(protocol.EventConnected, connectedPayload{SessionID: c.sessionID})

	ready := protocol.ClientReady{
		Version:  Version,
		Tools:    c.toolDefs,
		Pipeline: c.initialPipeline,
	}
	env, err := protocol.NewEventEnvelope(protocol.EventClientReady, ready)
	if err == nil {
		err = c.transport.Send(env)
	}
	if err != nil {
		c.logger.Error("client-ready announcement failed", "error", err)
		c.fail(err)
		return err
	}
	c.publishValue(protocol.EventClientReady, ready)

	select {
	case <-c.readyCh:
		return nil
	case <-c.doneCh:
		return c.terminalError()
	case <-ctx.Done():
		c.fail(ctx.Err())
		<-c.doneCh
		return ctx.Err()
	}
}

// Disconnect tears the session down. All outstanding invocations resolve
// with a session-closed error; the terminal disconnected event fires exactly
// once. Idempotent.
func (c *Client) Disconnect() error {
	c.stateMu.Lock()
	if c.state.terminal() || c.state == StateIdle {
		terminal := c.state.terminal()
		c.stateMu.Unlock()
		if terminal {
			<-c.doneCh
		}
		return nil
	}
	c.state = StateDisconnecting
	c.stateMu.Unlock()

	_ = c.transport.Close()
	<-c.doneCh
	return nil
}

// fail drives the session to a terminal state from an unrecoverable error.
func (c *Client) fail(err error) {
	_ = c.transport.Close()
	c.teardown(err)
}

// teardown settles the session exactly once: it resolves every pending
// operation, cancels in-flight tool handlers, and emits the terminal
// lifecycle event.
func (c *Client) teardown(err error) {
	c.terminalOnce.Do(func() {
		c.stateMu.Lock()
		requested := c.state == StateDisconnecting
		if err != nil && !requested {
			c.state = StateFailed
		} else {
			c.state = StateDisconnected
			err = nil
		}
		c.stateMu.Unlock()

		c.terminalErr = err

		c.toolMu.Lock()
		if c.toolCancel != nil {
			c.toolCancel()
		}
		c.activeTools = make(map[string]context.CancelFunc)
		c.toolMu.Unlock()

		c.rejectAllPending()

		if err != nil {
			c.publishValue(protocol.EventError, protocol.ErrorDetail{
				Code:    "session_failed",
				Message: err.Error(),
			})
		}
		c.publishValue(protocol.EventDisconnected, connectedPayload{SessionID: c.sessionID})
		close(c.doneCh)
	})
}

func (c *Client) terminalError() error {
	if c.terminalErr != nil {
		return c.terminalErr
	}
	return core.NewSessionClosedError("session is closed")
}

func (c *Client) waitTerminal() error {
	<-c.doneCh
	return c.terminalError()
}

func (c *Client) watchLinkStates() {
	for state := range c.transport.States() {
		c.publishValue(protocol.EventTransportStateChanged, transportStatePayload{State: string(state)})
	}
}

// routeLoop consumes inbound envelopes in transport arrival order and routes
// each by type tag. It owns event dispatch ordering; when the inbound stream
// closes the session is torn down.
func (c *Client) routeLoop() {
	for env := range c.transport.Recv() {
		c.route(env)
	}

	var linkErr error
	if reporter, ok := c.transport.(interface{ Err() error }); ok {
		linkErr = reporter.Err()
	}
	c.teardown(linkErr)
}

func (c *Client) route(env protocol.Envelope) {
	switch env.Type {
	case protocol.TypeEvent:
		c.routeEvent(env)
	case protocol.TypeActionResponse, protocol.TypeActionError:
		c.resolveAction(env)
	case protocol.TypeConfigAck, protocol.TypeConfigNack,
		protocol.TypePipelineAck, protocol.TypePipelineNack:
		c.resolveUpdate(env)
	case protocol.TypeToolCall:
		c.handleToolCall(env)
	case protocol.TypeGenericMessage:
		c.publishRaw(protocol.EventGenericMessage, env.Data)
	case protocol.TypeToolResult, protocol.TypeConfigRequest,
		protocol.TypeActionRequest, protocol.TypePipelineRequest:
		c.logger.Debug("discarding client-originated envelope type from remote", "type", env.Type)
	default:
		// Unknown envelope types surface as generic messages so newer
		// protocol dialects degrade gracefully.
		c.publishRaw(protocol.EventGenericMessage, env.Data)
	}
}

func (c *Client) routeEvent(env protocol.Envelope) {
	payload, err := protocol.DecodeEvent(env)
	if err != nil {
		c.logger.Debug("discarding malformed event envelope", "error", err)
		return
	}

	switch payload.Kind {
	case protocol.EventBotReady:
		c.handleBotReady(payload)
	case protocol.EventConfig:
		c.handleConfigEvent(payload)
	case protocol.EventBotDisconnected:
		c.publishRaw(protocol.EventBotDisconnected, payload.Data)
	default:
		if protocol.KnownEventKind(payload.Kind) {
			c.publishRaw(payload.Kind, payload.Data)
			return
		}
		c.publishRaw(protocol.EventGenericMessage, payload.Data)
	}
}

func (c *Client) handleBotReady(payload protocol.EventPayload) {
	var ready protocol.BotReady
	if len(payload.Data) > 0 {
		if err := json.Unmarshal(payload.Data, &ready); err != nil {
			c.logger.Debug("discarding malformed bot-ready payload", "error", err)
			return
		}
	}

	if !c.transition(StateConnected, StateReady) {
		c.logger.Debug("discarding bot-ready outside the handshake window", "state", c.State())
		return
	}
	if len(ready.Config) > 0 {
		c.applyConfig(ready.Config)
	}
	c.publishRaw(protocol.EventBotReady, payload.Data)
	c.readyOnce.Do(func() { close(c.readyCh) })
}

// nextCorrelationID allocates a fresh correlation id. Ids are monotonically
// increasing and unique for the session's lifetime.
func (c *Client) nextCorrelationID() (uint64, string) {
	id := c.corr.Add(1)
	return id, strconv.FormatUint(id, 10)
}

func parseCorrelationID(raw string) (uint64, bool) {
	id, err := strconv.ParseUint(strings.TrimSpace(raw), 10, 64)
	if err != nil || id == 0 {
		return 0, false
	}
	return id, true
}

type connectedPayload struct {
	SessionID string `json:"session_id"`
}

type transportStatePayload struct {
	State string `json:"state"`
}
