// Package protocol defines the RTVI wire envelope and payload schema.
//
// Every frame on the wire is a JSON Envelope: a type tag, an optional
// correlation id, and an opaque payload. The concrete serialization is JSON;
// payloads stay json.RawMessage so the engine never assumes service shapes.
package protocol

import (
	"encoding/json"
	"fmt"
	"strings"
)

const ProtocolVersion1 = "1"

// Envelope type tags.
const (
	TypeEvent           = "event"
	TypeConfigRequest   = "config-request"
	TypeConfigAck       = "config-ack"
	TypeConfigNack      = "config-nack"
	TypeActionRequest   = "action-request"
	TypeActionResponse  = "action-response"
	TypeActionError     = "action-error"
	TypePipelineRequest = "pipeline-request"
	TypePipelineAck     = "pipeline-ack"
	TypePipelineNack    = "pipeline-nack"
	TypeToolCall        = "tool-call"
	TypeToolResult      = "tool-result"
	TypeGenericMessage  = "generic-message"
)

// Envelope is the atomic unit of wire communication. It is immutable once
// constructed and consumed exactly once by the session router.
type Envelope struct {
	Type string          `json:"type"`
	ID   string          `json:"id,omitempty"`
	Data json.RawMessage `json:"data,omitempty"`
}

// DecodeError describes a frame that failed validation.
type DecodeError struct {
	Code    string
	Message string
	Param   string
}

func (e *DecodeError) Error() string {
	if e == nil {
		return ""
	}
	if strings.TrimSpace(e.Param) == "" {
		return e.Message
	}
	return fmt.Sprintf("%s (%s)", e.Message, e.Param)
}

func badFrame(message, param string) *DecodeError {
	return &DecodeError{Code: "bad_frame", Message: message, Param: param}
}

// correlated reports whether the envelope type must carry a correlation id.
func correlated(typ string) bool {
	switch typ {
	case TypeConfigRequest, TypeConfigAck, TypeConfigNack,
		TypeActionRequest, TypeActionResponse, TypeActionError,
		TypePipelineRequest, TypePipelineAck, TypePipelineNack,
		TypeToolCall, TypeToolResult:
		return true
	default:
		return false
	}
}

// KnownType reports whether typ is part of the fixed envelope catalog.
func KnownType(typ string) bool {
	switch typ {
	case TypeEvent, TypeConfigRequest, TypeConfigAck, TypeConfigNack,
		TypeActionRequest, TypeActionResponse, TypeActionError,
		TypePipelineRequest, TypePipelineAck, TypePipelineNack,
		TypeToolCall, TypeToolResult, TypeGenericMessage:
		return true
	default:
		return false
	}
}

// DecodeEnvelope parses and validates a single wire frame.
//
// Unknown type tags are accepted: the remote side may speak a newer protocol
// dialect, and the session router surfaces unrecognized envelopes as
// generic-message events rather than dropping the link.
func DecodeEnvelope(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, badFrame("invalid json frame", "")
	}
	env.Type = strings.TrimSpace(env.Type)
	if env.Type == "" {
		return Envelope{}, badFrame("missing type", "type")
	}
	env.ID = strings.TrimSpace(env.ID)
	if correlated(env.Type) && env.ID == "" {
		return Envelope{}, badFrame("correlated envelope missing id", "id")
	}
	return env, nil
}

// NewEnvelope builds an outbound envelope, marshaling the payload.
func NewEnvelope(typ, id string, payload any) (Envelope, error) {
	env := Envelope{Type: strings.TrimSpace(typ), ID: strings.TrimSpace(id)}
	if env.Type == "" {
		return Envelope{}, badFrame("missing type", "type")
	}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return Envelope{}, fmt.Errorf("marshal %s payload: %w", env.Type, err)
		}
		env.Data = data
	}
	return env, nil
}
