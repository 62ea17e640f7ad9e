package rtvi

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/rtvi-ai/rtvi-client-go/pkg/core"
	"github.com/rtvi-ai/rtvi-client-go/pkg/protocol"
)

type actionResult struct {
	data json.RawMessage
	err  error
}

type pendingCall struct {
	id uint64
	ch chan actionResult
}

// Arg builds a named action argument from any JSON-encodable value.
func Arg(name string, value any) protocol.Argument {
	arg := protocol.Argument{Name: strings.TrimSpace(name)}
	if value == nil {
		return arg
	}
	raw, err := json.Marshal(value)
	if err != nil {
		// Non-encodable values degrade to null; the remote side reports
		// argument errors through the action-error path.
		return arg
	}
	arg.Value = raw
	return arg
}

// Invoke calls a named action on a named service and blocks until the
// correlated response arrives, the context or default action timeout
// elapses, or the session terminates. Valid only when the session is ready.
//
// Service and action legality is determined by the remote side; the client
// does not own the service catalog. Resolution order across concurrent
// invocations follows correlation ids, not submission order.
func (c *Client) Invoke(ctx context.Context, service, action string, args []protocol.Argument) (json.RawMessage, error) {
	service = strings.TrimSpace(service)
	action = strings.TrimSpace(action)
	if service == "" {
		return nil, core.NewInvalidRequestErrorWithParam("service must not be empty", "service")
	}
	if action == "" {
		return nil, core.NewInvalidRequestErrorWithParam("action must not be empty", "action")
	}
	if err := c.requireReady("invoke an action"); err != nil {
		return nil, err
	}

	id, wireID := c.nextCorrelationID()
	call := &pendingCall{id: id, ch: make(chan actionResult, 1)}
	c.pendingMu.Lock()
	c.pendingActions[id] = call
	c.pendingMu.Unlock()

	env, err := protocol.NewEnvelope(protocol.TypeActionRequest, wireID, protocol.ActionRequest{
		Service:   service,
		Action:    action,
		Arguments: args,
	})
	if err == nil {
		err = c.transport.Send(env)
	}
	if err != nil {
		c.abandonAction(id)
		return nil, err
	}

	if _, hasDeadline := ctx.Deadline(); !hasDeadline && c.actionTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.actionTimeout)
		defer cancel()
	}

	select {
	case res := <-call.ch:
		return res.data, res.err
	case <-ctx.Done():
		if c.abandonAction(id) {
			if errors.Is(ctx.Err(), context.Canceled) {
				return nil, ctx.Err()
			}
			return nil, core.NewActionTimeoutError("no response for " + service + ":" + action)
		}
		// The resolution raced the timeout; honor it.
		res := <-call.ch
		return res.data, res.err
	}
}

// abandonAction removes a pending entry so that a late-arriving response for
// its id becomes an idempotent no-op. It reports whether the entry was still
// pending.
func (c *Client) abandonAction(id uint64) bool {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()
	if _, ok := c.pendingActions[id]; !ok {
		return false
	}
	delete(c.pendingActions, id)
	return true
}

// resolveAction settles the pending invocation matching an inbound
// action-response or action-error envelope. Unmatched ids are discarded with
// a diagnostic; a pending entry resolves at most once.
func (c *Client) resolveAction(env protocol.Envelope) {
	id, ok := parseCorrelationID(env.ID)
	if !ok {
		c.logger.Debug("discarding action response with unparseable id", "id", env.ID)
		return
	}

	c.pendingMu.Lock()
	call, ok := c.pendingActions[id]
	if ok {
		delete(c.pendingActions, id)
	}
	c.pendingMu.Unlock()
	if !ok {
		c.logger.Debug("discarding late or unknown action response", "id", env.ID, "type", env.Type)
		return
	}

	switch env.Type {
	case protocol.TypeActionError:
		var payload protocol.ActionError
		if err := protocol.DecodeData(env, &payload); err != nil {
			call.ch <- actionResult{err: core.NewActionError("malformed_error", "remote sent an unreadable action error")}
			return
		}
		call.ch <- actionResult{err: core.NewActionError(payload.Error.Code, payload.Error.Message)}
	default:
		var payload protocol.ActionResponse
		if err := protocol.DecodeData(env, &payload); err != nil {
			call.ch <- actionResult{err: core.NewActionError("malformed_response", "remote sent an unreadable action response")}
			return
		}
		if !payload.Success {
			call.ch <- actionResult{err: core.NewActionError("action_failed", "action reported failure")}
			return
		}
		call.ch <- actionResult{data: payload.Result}
	}
}

// rejectAllPending resolves every outstanding invocation and update with a
// session-closed error, in ascending correlation-id order, exactly once each.
func (c *Client) rejectAllPending() {
	c.pendingMu.Lock()
	calls := make([]*pendingCall, 0, len(c.pendingActions))
	for _, call := range c.pendingActions {
		calls = append(calls, call)
	}
	c.pendingActions = make(map[uint64]*pendingCall)

	updates := make([]*pendingUpdate, 0, len(c.pendingUpdates))
	for _, upd := range c.pendingUpdates {
		updates = append(updates, upd)
	}
	c.pendingUpdates = make(map[uint64]*pendingUpdate)
	c.pendingMu.Unlock()

	sort.Slice(calls, func(i, j int) bool { return calls[i].id < calls[j].id })
	sort.Slice(updates, func(i, j int) bool { return updates[i].id < updates[j].id })

	closed := core.NewSessionClosedError("session terminated with the operation outstanding")
	for _, call := range calls {
		call.ch <- actionResult{err: closed}
	}
	for _, upd := range updates {
		upd.ch <- updateResult{err: closed}
	}
}

// InvokeWithTimeout is Invoke with an explicit per-call timeout.
func (c *Client) InvokeWithTimeout(ctx context.Context, service, action string, args []protocol.Argument, timeout time.Duration) (json.RawMessage, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	return c.Invoke(ctx, service, action, args)
}
