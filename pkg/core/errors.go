package core

import (
	"fmt"
)

// Error is the canonical engine error.
type Error struct {
	Type    ErrorType `json:"type"`
	Message string    `json:"message"`
	Param   string    `json:"param,omitempty"`
	Code    string    `json:"code,omitempty"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s: %s (code: %s)", e.Type, e.Message, e.Code)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// ErrorType categorizes errors.
type ErrorType string

const (
	// ErrInvalidRequest signals a locally malformed call (bad argument,
	// empty name, nil request).
	ErrInvalidRequest ErrorType = "invalid_request_error"

	// ErrNotReady is returned when an operation requires a ready session.
	ErrNotReady ErrorType = "not_ready_error"

	// ErrAlreadyConnected is returned by Connect on a non-idle session.
	ErrAlreadyConnected ErrorType = "already_connected_error"

	// ErrAction carries a remote-reported action failure. Recoverable;
	// the caller decides whether to retry.
	ErrAction ErrorType = "action_error"

	// ErrActionTimeout means no response arrived in time. The outcome on
	// the remote side is unknown.
	ErrActionTimeout ErrorType = "action_timeout_error"

	// ErrConfigTimeout means a config or pipeline request was never
	// acknowledged within the bounded wait.
	ErrConfigTimeout ErrorType = "config_update_timeout_error"

	// ErrConfigRejected means the remote side explicitly nacked a config
	// update request.
	ErrConfigRejected ErrorType = "config_rejected_error"

	// ErrPipelineRejected means the remote side explicitly nacked a
	// pipeline request.
	ErrPipelineRejected ErrorType = "pipeline_rejected_error"

	// ErrSessionClosed is issued to every pending operation on teardown.
	ErrSessionClosed ErrorType = "session_closed_error"

	// ErrToolHandler wraps a local tool handler failure. It is converted
	// into a remote-visible error ToolResult, never surfaced to transport.
	ErrToolHandler ErrorType = "tool_handler_error"

	// ErrTransport covers link-level failures (dial, send, link lost).
	ErrTransport ErrorType = "transport_error"
)

// NewInvalidRequestError creates an invalid request error.
func NewInvalidRequestError(message string) *Error {
	return &Error{
		Type:    ErrInvalidRequest,
		Message: message,
	}
}

// NewInvalidRequestErrorWithParam creates an invalid request error with a parameter.
func NewInvalidRequestErrorWithParam(message, param string) *Error {
	return &Error{
		Type:    ErrInvalidRequest,
		Message: message,
		Param:   param,
	}
}

// NewNotReadyError creates a not ready error.
func NewNotReadyError(message string) *Error {
	return &Error{
		Type:    ErrNotReady,
		Message: message,
	}
}

// NewAlreadyConnectedError creates an already connected error.
func NewAlreadyConnectedError(message string) *Error {
	return &Error{
		Type:    ErrAlreadyConnected,
		Message: message,
	}
}

// NewActionError creates an action error from a remote-reported failure.
func NewActionError(code, message string) *Error {
	return &Error{
		Type:    ErrAction,
		Message: message,
		Code:    code,
	}
}

// NewActionTimeoutError creates an action timeout error.
func NewActionTimeoutError(message string) *Error {
	return &Error{
		Type:    ErrActionTimeout,
		Message: message,
	}
}

// NewConfigTimeoutError creates a config update timeout error.
func NewConfigTimeoutError(message string) *Error {
	return &Error{
		Type:    ErrConfigTimeout,
		Message: message,
	}
}

// NewConfigRejectedError creates a config rejection error from a nack.
func NewConfigRejectedError(code, message string) *Error {
	return &Error{
		Type:    ErrConfigRejected,
		Message: message,
		Code:    code,
	}
}

// NewPipelineRejectedError creates a pipeline rejection error from a nack.
func NewPipelineRejectedError(code, message string) *Error {
	return &Error{
		Type:    ErrPipelineRejected,
		Message: message,
		Code:    code,
	}
}

// NewSessionClosedError creates a session closed error.
func NewSessionClosedError(message string) *Error {
	return &Error{
		Type:    ErrSessionClosed,
		Message: message,
	}
}

// NewToolHandlerError creates a tool handler error.
func NewToolHandlerError(code, message string) *Error {
	return &Error{
		Type:    ErrToolHandler,
		Message: message,
		Code:    code,
	}
}

// NewTransportError creates a transport-level error.
func NewTransportError(message string) *Error {
	return &Error{
		Type:    ErrTransport,
		Message: message,
	}
}

// IsTerminal reports whether the error implies the session is unusable.
func (e *Error) IsTerminal() bool {
	switch e.Type {
	case ErrSessionClosed, ErrTransport:
		return true
	default:
		return false
	}
}

// IsRetryable reports whether retrying the same call may succeed.
func (e *Error) IsRetryable() bool {
	switch e.Type {
	case ErrAction, ErrActionTimeout, ErrConfigTimeout:
		return true
	default:
		return false
	}
}
