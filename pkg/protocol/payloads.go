package protocol

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Option is a named opaque value. The value is an arbitrary structured
// document; the engine never interprets it.
type Option struct {
	Name  string          `json:"name"`
	Value json.RawMessage `json:"value,omitempty"`
}

// ServiceConfig is one service's ordered option list.
type ServiceConfig struct {
	Service string   `json:"service"`
	Options []Option `json:"options"`
}

// ConfigRequest asks the remote side to apply per-service configuration.
// Ordering of services and options is preserved on the wire.
type ConfigRequest struct {
	Config []ServiceConfig `json:"config"`
}

// ConfigAck echoes the configuration the remote side accepted.
type ConfigAck struct {
	Config []ServiceConfig `json:"config"`
}

// ErrorDetail is the machine-readable error payload used by nacks,
// action errors, and error events.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e ErrorDetail) String() string {
	if strings.TrimSpace(e.Code) == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Nack is the payload of config-nack and pipeline-nack envelopes.
type Nack struct {
	Error ErrorDetail `json:"error"`
}

// Argument is a named action argument.
type Argument struct {
	Name  string          `json:"name"`
	Value json.RawMessage `json:"value,omitempty"`
}

// ActionRequest invokes a named action on a named service.
type ActionRequest struct {
	Service   string     `json:"service"`
	Action    string     `json:"action"`
	Arguments []Argument `json:"arguments,omitempty"`
}

// ActionResponse carries an action's declared result.
type ActionResponse struct {
	Success bool            `json:"success"`
	Result  json.RawMessage `json:"result,omitempty"`
}

// ActionError reports a remote action failure. This is a reported failure,
// not a session-fatal one.
type ActionError struct {
	Error ErrorDetail `json:"error"`
}

// PipelineRequest declares the ordered processing stages a service should
// instantiate, plus per-stage configuration keyed by stage name.
type PipelineRequest struct {
	Stages []string            `json:"stages"`
	Config map[string][]Option `json:"config,omitempty"`
}

// Validate checks the only local pipeline invariant: stage names are
// non-empty. Stage legality is entirely server-defined.
func (p PipelineRequest) Validate() error {
	if len(p.Stages) == 0 {
		return badFrame("pipeline stages must not be empty", "stages")
	}
	for i, stage := range p.Stages {
		if strings.TrimSpace(stage) == "" {
			return badFrame("pipeline stage names must be non-empty", fmt.Sprintf("stages[%d]", i))
		}
	}
	return nil
}

// ToolDefinition describes a client tool declared at session setup.
type ToolDefinition struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"input_schema,omitempty"`
}

// ToolCall is an inference-originated request for a client tool invocation.
type ToolCall struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// ToolResult answers a ToolCall. Exactly one result is ever sent per call id.
type ToolResult struct {
	ToolUseID string          `json:"tool_use_id"`
	Content   json.RawMessage `json:"content,omitempty"`
	IsError   bool            `json:"is_error,omitempty"`
	Error     *ErrorDetail    `json:"error,omitempty"`
}

// ClientReady is the payload of the client-ready handshake event.
type ClientReady struct {
	Version  string           `json:"version"`
	Tools    []ToolDefinition `json:"tools,omitempty"`
	Pipeline *PipelineRequest `json:"pipeline,omitempty"`
}

// BotReady is the payload of the bot-ready handshake event. Config, when
// present, seeds the client's configuration mirror.
type BotReady struct {
	Version string          `json:"version,omitempty"`
	Config  []ServiceConfig `json:"config,omitempty"`
}

// DecodeData unmarshals an envelope payload into out.
func DecodeData(env Envelope, out any) error {
	if len(env.Data) == 0 {
		return badFrame("envelope missing data", env.Type+".data")
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return badFrame("invalid "+env.Type+" payload", env.Type+".data")
	}
	return nil
}
