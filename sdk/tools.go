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

// ToolHandler executes one tool call. Input is the raw arguments document
// from the inference side; the returned value is marshaled into the
// ToolResult content.
type ToolHandler func(ctx context.Context, input json.RawMessage) (any, error)

// ToolWithHandler pairs a tool definition with its handler. Tools are
// declared at session setup via WithTools and are immutable for the
// session's lifetime.
type ToolWithHandler struct {
	protocol.ToolDefinition
	Handler ToolHandler
}

// MakeTool creates a ToolWithHandler from a typed function, generating the
// input schema by reflection.
//
// Example:
//
//	tool := rtvi.MakeTool("get_weather", "Get weather for a location",
//	    func(ctx context.Context, input struct {
//	        Location string `json:"location" desc:"City name or coordinates"`
//	    }) (string, error) {
//	        return weatherAPI.Get(ctx, input.Location)
//	    },
//	)
func MakeTool[T any, R any](name, description string, fn func(context.Context, T) (R, error)) ToolWithHandler {
	schema := SchemaFromStruct[T]()

	handler := func(ctx context.Context, rawInput json.RawMessage) (any, error) {
		var input T
		if len(rawInput) > 0 {
			if err := json.Unmarshal(rawInput, &input); err != nil {
				return nil, core.NewToolHandlerError("tool_input_invalid", "tool input could not be decoded: "+err.Error())
			}
		}
		return fn(ctx, input)
	}

	return ToolWithHandler{
		ToolDefinition: protocol.ToolDefinition{
			Name:        name,
			Description: description,
			InputSchema: schema.Raw(),
		},
		Handler: handler,
	}
}

// Tools returns the tool definitions declared for this session.
func (c *Client) Tools() []protocol.ToolDefinition {
	return append([]protocol.ToolDefinition(nil), c.toolDefs...)
}

// handleToolCall runs the function-calling round trip for one inbound
// tool-call envelope. The inference side blocks awaiting a result, so every
// call is answered deterministically: unregistered names and handler
// failures yield an error ToolResult, and at most one ToolResult is ever
// sent per call id.
func (c *Client) handleToolCall(env protocol.Envelope) {
	var call protocol.ToolCall
	if err := protocol.DecodeData(env, &call); err != nil {
		c.logger.Debug("discarding malformed tool call", "error", err)
		return
	}
	call.ID = strings.TrimSpace(call.ID)
	call.Name = strings.TrimSpace(call.Name)
	if call.ID == "" {
		c.logger.Debug("discarding tool call without id", "name", call.Name)
		return
	}

	if c.alreadyAnswered(call.ID) {
		c.logger.Warn("discarding duplicate tool call", "id", call.ID, "name", call.Name)
		return
	}

	handler, ok := c.toolHandlers[call.Name]
	if !ok {
		c.sendToolResult(protocol.ToolResult{
			ToolUseID: call.ID,
			IsError:   true,
			Error: &protocol.ErrorDetail{
				Code:    "tool_not_registered",
				Message: fmt.Sprintf("tool %q was called but no handler is registered", call.Name),
			},
		})
		return
	}

	c.toolMu.Lock()
	base := c.toolCtx
	c.toolMu.Unlock()
	if base == nil {
		base = context.Background()
	}
	toolCtx := base
	cancel := context.CancelFunc(func() {})
	if c.toolTimeout > 0 {
		toolCtx, cancel = context.WithTimeout(base, c.toolTimeout)
	}
	c.toolMu.Lock()
	c.activeTools[call.ID] = cancel
	c.toolMu.Unlock()

	go func() {
		defer func() {
			cancel()
			c.toolMu.Lock()
			delete(c.activeTools, call.ID)
			c.toolMu.Unlock()
		}()
		c.runToolCall(toolCtx, handler, call)
	}()
}

func (c *Client) runToolCall(ctx context.Context, handler ToolHandler, call protocol.ToolCall) {
	output, execErr := handler(ctx, call.Arguments)
	if c.onToolCall != nil {
		c.onToolCall(call.Name, call.Arguments, output, execErr)
	}

	if errors.Is(execErr, context.Canceled) {
		// Session teardown cancelled the handler; the channel is gone and
		// the call resolves as discarded, not as a client-sent result.
		return
	}
	if errors.Is(execErr, context.DeadlineExceeded) {
		c.sendToolResult(protocol.ToolResult{
			ToolUseID: call.ID,
			IsError:   true,
			Error: &protocol.ErrorDetail{
				Code:    "tool_timeout",
				Message: "tool execution timed out",
			},
		})
		return
	}
	if execErr != nil {
		// A typed tool-handler error controls the wire error code; anything
		// else reports as a plain execution failure.
		detail := protocol.ErrorDetail{
			Code:    "tool_execution_failed",
			Message: strings.TrimSpace(execErr.Error()),
		}
		var handlerErr *core.Error
		if errors.As(execErr, &handlerErr) && handlerErr.Type == core.ErrToolHandler {
			detail = protocol.ErrorDetail{Code: handlerErr.Code, Message: handlerErr.Message}
		}
		c.sendToolResult(protocol.ToolResult{
			ToolUseID: call.ID,
			IsError:   true,
			Error:     &detail,
		})
		return
	}

	content, err := json.Marshal(output)
	if err != nil {
		c.sendToolResult(protocol.ToolResult{
			ToolUseID: call.ID,
			IsError:   true,
			Error: &protocol.ErrorDetail{
				Code:    "tool_output_invalid",
				Message: "tool output could not be encoded",
			},
		})
		return
	}

	c.sendToolResult(protocol.ToolResult{ToolUseID: call.ID, Content: content})
	c.appendContext(Message{Role: RoleTool, Content: content})
}

func (c *Client) alreadyAnswered(id string) bool {
	c.toolMu.Lock()
	defer c.toolMu.Unlock()
	_, ok := c.answeredTools[id]
	return ok
}

// markAnswered records the id and reports whether this caller is the first.
func (c *Client) markAnswered(id string) bool {
	c.toolMu.Lock()
	defer c.toolMu.Unlock()
	if _, ok := c.answeredTools[id]; ok {
		return false
	}
	c.answeredTools[id] = struct{}{}
	return true
}

func (c *Client) sendToolResult(result protocol.ToolResult) {
	if !c.markAnswered(result.ToolUseID) {
		c.logger.Warn("suppressing second tool result", "id", result.ToolUseID)
		return
	}
	env, err := protocol.NewEnvelope(protocol.TypeToolResult, result.ToolUseID, result)
	if err == nil {
		err = c.transport.Send(env)
	}
	if err != nil {
		c.logger.Error("tool result send failed", "id", result.ToolUseID, "error", err)
	}
}
