package rtvi

import (
	"errors"

	"github.com/rtvi-ai/rtvi-client-go/pkg/core"
)

// Error is the canonical engine error, re-exported from pkg/core.
type Error = core.Error

// Error types.
const (
	ErrInvalidRequest   = core.ErrInvalidRequest
	ErrNotReady         = core.ErrNotReady
	ErrAlreadyConnected = core.ErrAlreadyConnected
	ErrAction           = core.ErrAction
	ErrActionTimeout    = core.ErrActionTimeout
	ErrConfigTimeout    = core.ErrConfigTimeout
	ErrConfigRejected   = core.ErrConfigRejected
	ErrPipelineRejected = core.ErrPipelineRejected
	ErrSessionClosed    = core.ErrSessionClosed
	ErrToolHandler      = core.ErrToolHandler
	ErrTransport        = core.ErrTransport
)

// IsErrorType reports whether err is a *core.Error of the given type.
func IsErrorType(err error, typ core.ErrorType) bool {
	var engineErr *core.Error
	if !errors.As(err, &engineErr) {
		return false
	}
	return engineErr.Type == typ
}
