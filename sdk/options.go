package rtvi

import (
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/rtvi-ai/rtvi-client-go/pkg/protocol"
)

// ClientOption is a function that configures a Client.
type ClientOption func(*Client)

// WithLogger sets the logger for the client.
func WithLogger(l *slog.Logger) ClientOption {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithTools declares the client tools for the session, with their handlers.
// Tool definitions ride the client-ready handshake and are immutable for the
// session's lifetime. A later registration for an already-declared name
// overrides the earlier handler before connect.
func WithTools(tools ...ToolWithHandler) ClientOption {
	return func(c *Client) {
		for _, tool := range tools {
			name := strings.TrimSpace(tool.Name)
			if name == "" {
				continue
			}
			if _, exists := c.toolHandlers[name]; !exists {
				c.toolDefs = append(c.toolDefs, protocol.ToolDefinition{
					Name:        name,
					Description: tool.Description,
					InputSchema: tool.InputSchema,
				})
			}
			if tool.Handler != nil {
				c.toolHandlers[name] = tool.Handler
			}
		}
	}
}

// WithPipeline declares the initial pipeline sent with the client-ready
// handshake. Dynamic changes on a ready session go through SetPipeline.
func WithPipeline(stages []string, perStageConfig map[string][]protocol.Option) ClientOption {
	return func(c *Client) {
		c.initialPipeline = &protocol.PipelineRequest{
			Stages: stages,
			Config: perStageConfig,
		}
	}
}

// WithActionTimeout sets the default per-invocation timeout applied when the
// caller's context carries no deadline.
func WithActionTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		c.actionTimeout = d
	}
}

// WithUpdateTimeout sets the bounded wait for config and pipeline
// acknowledgments.
func WithUpdateTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		c.updateTimeout = d
	}
}

// WithToolTimeout sets the per-call timeout for tool handler execution.
// Zero disables the timeout.
func WithToolTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		c.toolTimeout = d
	}
}

// WithHandlerErrorFunc installs the handler-error diagnostic hook. Handler
// panics are always logged; the hook additionally surfaces them to the
// application.
func WithHandlerErrorFunc(fn HandlerErrorFunc) ClientOption {
	return func(c *Client) {
		c.dispatcher.onHandlerError = fn
	}
}

// WithToolCallObserver installs an observer invoked after every tool handler
// execution, successful or not.
func WithToolCallObserver(fn func(name string, input json.RawMessage, output any, err error)) ClientOption {
	return func(c *Client) {
		c.onToolCall = fn
	}
}
