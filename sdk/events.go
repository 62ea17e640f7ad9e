package rtvi

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/rtvi-ai/rtvi-client-go/pkg/protocol"
)

// EventHandler receives one event payload. Handlers run synchronously with
// respect to the session's dispatch loop and must not block indefinitely;
// long-running work belongs on a separate goroutine. Calling back into
// Invoke, UpdateConfig, SetPipeline, or Connect from inside a handler
// deadlocks the loop.
type EventHandler func(payload json.RawMessage)

// HandlerErrorFunc receives internal handler-error diagnostics: a panicking
// subscriber never prevents remaining subscribers from running, and the
// failure is surfaced here instead of being dropped.
type HandlerErrorFunc func(kind protocol.EventKind, err error)

// Subscription identifies one registered handler.
type Subscription struct {
	d    *dispatcher
	kind protocol.EventKind
	id   uint64
}

// Off removes the handler. Safe to call more than once.
func (s Subscription) Off() {
	if s.d == nil {
		return
	}
	s.d.unsubscribe(s.kind, s.id)
}

type subscriber struct {
	id uint64
	fn EventHandler
}

// dispatcher is a typed publish/subscribe hub over the fixed event catalog.
type dispatcher struct {
	mu     sync.Mutex
	nextID uint64
	subs   map[protocol.EventKind][]subscriber

	onHandlerError HandlerErrorFunc
	logError       func(kind protocol.EventKind, err error)
}

func newDispatcher() *dispatcher {
	return &dispatcher{
		subs: make(map[protocol.EventKind][]subscriber),
	}
}

func (d *dispatcher) subscribe(kind protocol.EventKind, fn EventHandler) Subscription {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextID++
	d.subs[kind] = append(d.subs[kind], subscriber{id: d.nextID, fn: fn})
	return Subscription{d: d, kind: kind, id: d.nextID}
}

func (d *dispatcher) unsubscribe(kind protocol.EventKind, id uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	subs := d.subs[kind]
	for i, sub := range subs {
		if sub.id == id {
			d.subs[kind] = append(subs[:i:i], subs[i+1:]...)
			return
		}
	}
}

// publish invokes every currently registered handler for kind in
// subscription order. Publishing to a kind with no subscribers is a no-op.
// A panicking handler is recovered and reported; the rest still run.
func (d *dispatcher) publish(kind protocol.EventKind, payload json.RawMessage) {
	d.mu.Lock()
	subs := append([]subscriber(nil), d.subs[kind]...)
	d.mu.Unlock()

	for _, sub := range subs {
		d.invoke(kind, sub.fn, payload)
	}
}

func (d *dispatcher) invoke(kind protocol.EventKind, fn EventHandler, payload json.RawMessage) {
	defer func() {
		if recovered := recover(); recovered != nil {
			err := fmt.Errorf("event handler panic: %v", recovered)
			if d.logError != nil {
				d.logError(kind, err)
			}
			if d.onHandlerError != nil {
				d.onHandlerError(kind, err)
			}
		}
	}()
	fn(payload)
}

// On registers a handler for one event kind from the standard catalog.
// Subscribers see only events published after registration; there is no
// replay.
func (c *Client) On(kind protocol.EventKind, fn EventHandler) Subscription {
	if fn == nil {
		return Subscription{}
	}
	return c.dispatcher.subscribe(kind, fn)
}

// EventKinds lists the catalog of standard events, sorted.
func EventKinds() []protocol.EventKind {
	kinds := protocol.EventKinds()
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}

func (c *Client) publishRaw(kind protocol.EventKind, payload json.RawMessage) {
	c.dispatcher.publish(kind, payload)
}

func (c *Client) publishValue(kind protocol.EventKind, payload any) {
	raw, err := json.Marshal(payload)
	if err != nil {
		c.logger.Error("marshal event payload", "kind", kind, "error", err)
		return
	}
	c.dispatcher.publish(kind, raw)
}
