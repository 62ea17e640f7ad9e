// Package transport defines the adapter boundary the session engine depends
// on. The engine is agnostic to whether an adapter is WebSocket-, WebRTC-, or
// future-protocol-backed; it only consumes this capability set.
package transport

import (
	"context"
	"fmt"
	"net/url"

	"github.com/rtvi-ai/rtvi-client-go/pkg/protocol"
)

// State describes the link state reported by an adapter.
type State string

const (
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateDisconnected State = "disconnected"
)

// Transport sends and receives opaque envelopes over whatever medium a given
// service uses.
//
// Recv and States are closed when the link is gone; after that the adapter is
// finished and a new one must be constructed to reconnect. The session engine
// is the sole owner of a Transport handle.
type Transport interface {
	// Connect establishes the link. It blocks until the link is up, the
	// context is done, or the attempt fails.
	Connect(ctx context.Context) error

	// Send transmits one envelope. Safe for concurrent use.
	Send(env protocol.Envelope) error

	// Recv yields inbound envelopes in transport arrival order.
	Recv() <-chan protocol.Envelope

	// States yields link-state notifications.
	States() <-chan State

	// Close tears the link down. Idempotent.
	Close() error
}

// Error represents link-level failures (dial, send, link lost) while talking
// to the remote service.
//
// Use errors.As(err, &transportErr) to distinguish link failures from
// engine-level *core.Error values.
type Error struct {
	Op  string
	URL string
	Err error
}

func (e *Error) Error() string {
	switch {
	case e == nil:
		return ""
	case e.Op != "" && e.URL != "":
		return fmt.Sprintf("transport error during %s %s: %v", e.Op, redactURLUserInfo(e.URL), e.Err)
	case e.Op != "":
		return fmt.Sprintf("transport error during %s: %v", e.Op, e.Err)
	default:
		return fmt.Sprintf("transport error: %v", e.Err)
	}
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func redactURLUserInfo(raw string) string {
	if raw == "" {
		return raw
	}
	parsed, err := url.Parse(raw)
	if err != nil || parsed == nil {
		return raw
	}
	parsed.User = nil
	return parsed.String()
}
