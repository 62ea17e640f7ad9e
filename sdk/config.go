package rtvi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/rtvi-ai/rtvi-client-go/pkg/core"
	"github.com/rtvi-ai/rtvi-client-go/pkg/protocol"
)

type updateResult struct {
	config []protocol.ServiceConfig
	err    error
}

type pendingUpdate struct {
	id       uint64
	pipeline bool
	ch       chan updateResult
}

// UpdateConfig sends a per-service configuration request and blocks until
// the remote side acks or nacks it, or the bounded wait elapses. The local
// configuration mirror is mutated only on a matching ack; a nack or timeout
// leaves prior state unchanged.
//
// Service names the session has not declared are not rejected locally;
// legality is determined by the remote side and surfaced via the nack path.
func (c *Client) UpdateConfig(ctx context.Context, config []protocol.ServiceConfig) error {
	if len(config) == 0 {
		return core.NewInvalidRequestErrorWithParam("config must not be empty", "config")
	}
	for i, svc := range config {
		if strings.TrimSpace(svc.Service) == "" {
			return core.NewInvalidRequestErrorWithParam("service names must be non-empty", fmt.Sprintf("config[%d].service", i))
		}
	}
	if err := c.requireReady("update configuration"); err != nil {
		return err
	}

	result, err := c.sendUpdate(ctx, protocol.TypeConfigRequest, protocol.ConfigRequest{Config: config}, false)
	if err != nil {
		return err
	}
	acked := result.config
	if len(acked) == 0 {
		// An ack without an echoed document confirms the request as sent.
		acked = config
	}
	c.applyConfig(acked)
	return nil
}

// Config returns a copy of the last acknowledged per-service configuration.
// The mirror is best effort: the remote side is the system of record.
func (c *Client) Config() []protocol.ServiceConfig {
	c.configMu.Lock()
	defer c.configMu.Unlock()
	return cloneConfig(c.config)
}

// applyConfig merges acknowledged configuration into the mirror: options are
// overwritten in place per service, new options appended, new services
// appended. Declared order is preserved.
func (c *Client) applyConfig(acked []protocol.ServiceConfig) {
	c.configMu.Lock()
	defer c.configMu.Unlock()

	for _, svc := range acked {
		name := strings.TrimSpace(svc.Service)
		if name == "" {
			continue
		}
		idx := -1
		for i := range c.config {
			if c.config[i].Service == name {
				idx = i
				break
			}
		}
		if idx < 0 {
			c.config = append(c.config, protocol.ServiceConfig{
				Service: name,
				Options: cloneOptions(svc.Options),
			})
			continue
		}
		for _, opt := range svc.Options {
			merged := false
			for i := range c.config[idx].Options {
				if c.config[idx].Options[i].Name == opt.Name {
					c.config[idx].Options[i].Value = cloneRaw(opt.Value)
					merged = true
					break
				}
			}
			if !merged {
				c.config[idx].Options = append(c.config[idx].Options, protocol.Option{
					Name:  opt.Name,
					Value: cloneRaw(opt.Value),
				})
			}
		}
	}
}

// handleConfigEvent refreshes the mirror from an unsolicited config event and
// republishes it to subscribers.
func (c *Client) handleConfigEvent(payload protocol.EventPayload) {
	var doc struct {
		Config []protocol.ServiceConfig `json:"config"`
	}
	if len(payload.Data) > 0 {
		if err := json.Unmarshal(payload.Data, &doc); err != nil {
			c.logger.Debug("discarding malformed config event", "error", err)
			return
		}
	}
	if len(doc.Config) > 0 {
		c.applyConfig(doc.Config)
	}
	c.publishRaw(protocol.EventConfig, payload.Data)
}

// sendUpdate issues a correlated config or pipeline request and waits for
// its ack/nack within the bounded update wait.
func (c *Client) sendUpdate(ctx context.Context, typ string, payload any, pipeline bool) (updateResult, error) {
	id, wireID := c.nextCorrelationID()
	upd := &pendingUpdate{id: id, pipeline: pipeline, ch: make(chan updateResult, 1)}
	c.pendingMu.Lock()
	c.pendingUpdates[id] = upd
	c.pendingMu.Unlock()

	env, err := protocol.NewEnvelope(typ, wireID, payload)
	if err == nil {
		err = c.transport.Send(env)
	}
	if err != nil {
		c.abandonUpdate(id)
		return updateResult{}, err
	}

	if _, hasDeadline := ctx.Deadline(); !hasDeadline && c.updateTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.updateTimeout)
		defer cancel()
	}

	select {
	case res := <-upd.ch:
		return res, res.err
	case <-ctx.Done():
		if c.abandonUpdate(id) {
			if errors.Is(ctx.Err(), context.Canceled) {
				return updateResult{}, ctx.Err()
			}
			return updateResult{}, core.NewConfigTimeoutError("no acknowledgment for " + typ)
		}
		// The acknowledgment raced the timeout; honor it.
		res := <-upd.ch
		return res, res.err
	}
}

func (c *Client) abandonUpdate(id uint64) bool {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()
	if _, ok := c.pendingUpdates[id]; !ok {
		return false
	}
	delete(c.pendingUpdates, id)
	return true
}

// resolveUpdate settles the pending update matching an inbound ack or nack.
// An acknowledgment of the wrong kind for its id (a config-ack answering a
// pipeline request, or vice versa) leaves the request pending.
func (c *Client) resolveUpdate(env protocol.Envelope) {
	id, ok := parseCorrelationID(env.ID)
	if !ok {
		c.logger.Debug("discarding acknowledgment with unparseable id", "id", env.ID)
		return
	}
	forPipeline := env.Type == protocol.TypePipelineAck || env.Type == protocol.TypePipelineNack

	c.pendingMu.Lock()
	upd, ok := c.pendingUpdates[id]
	if ok && upd.pipeline != forPipeline {
		c.pendingMu.Unlock()
		c.logger.Debug("discarding acknowledgment of mismatched kind", "id", env.ID, "type", env.Type)
		return
	}
	if ok {
		delete(c.pendingUpdates, id)
	}
	c.pendingMu.Unlock()
	if !ok {
		c.logger.Debug("discarding late or unknown acknowledgment", "id", env.ID, "type", env.Type)
		return
	}

	switch env.Type {
	case protocol.TypeConfigAck:
		var ack protocol.ConfigAck
		if len(env.Data) > 0 {
			if err := protocol.DecodeData(env, &ack); err != nil {
				upd.ch <- updateResult{err: core.NewConfigRejectedError("malformed_ack", "remote sent an unreadable config ack")}
				return
			}
		}
		upd.ch <- updateResult{config: ack.Config}
	case protocol.TypePipelineAck:
		upd.ch <- updateResult{}
	case protocol.TypeConfigNack, protocol.TypePipelineNack:
		var nack protocol.Nack
		if len(env.Data) > 0 {
			_ = json.Unmarshal(env.Data, &nack)
		}
		if env.Type == protocol.TypePipelineNack {
			upd.ch <- updateResult{err: core.NewPipelineRejectedError(nack.Error.Code, nack.Error.Message)}
			return
		}
		upd.ch <- updateResult{err: core.NewConfigRejectedError(nack.Error.Code, nack.Error.Message)}
	}
}

func cloneConfig(config []protocol.ServiceConfig) []protocol.ServiceConfig {
	if config == nil {
		return nil
	}
	out := make([]protocol.ServiceConfig, len(config))
	for i, svc := range config {
		out[i] = protocol.ServiceConfig{
			Service: svc.Service,
			Options: cloneOptions(svc.Options),
		}
	}
	return out
}

func cloneOptions(options []protocol.Option) []protocol.Option {
	if options == nil {
		return nil
	}
	out := make([]protocol.Option, len(options))
	for i, opt := range options {
		out[i] = protocol.Option{Name: opt.Name, Value: cloneRaw(opt.Value)}
	}
	return out
}

func cloneRaw(raw json.RawMessage) json.RawMessage {
	if raw == nil {
		return nil
	}
	return append(json.RawMessage(nil), raw...)
}
