package core

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorString(t *testing.T) {
	err := NewActionError("unknown_action", "no such action")
	assert.Equal(t, "action_error: no such action (code: unknown_action)", err.Error())

	plain := NewNotReadyError("session is not ready")
	assert.Equal(t, "not_ready_error: session is not ready", plain.Error())
}

func TestErrorClassification(t *testing.T) {
	cases := []struct {
		err       *Error
		terminal  bool
		retryable bool
	}{
		{NewInvalidRequestError("bad"), false, false},
		{NewActionError("x", "y"), false, true},
		{NewActionTimeoutError("slow"), false, true},
		{NewConfigTimeoutError("slow"), false, true},
		{NewConfigRejectedError("x", "y"), false, false},
		{NewSessionClosedError("done"), true, false},
		{NewTransportError("link lost"), true, false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.terminal, tc.err.IsTerminal(), "IsTerminal for %s", tc.err.Type)
		assert.Equal(t, tc.retryable, tc.err.IsRetryable(), "IsRetryable for %s", tc.err.Type)
	}
}

func TestErrorUnwrapsThroughWrapping(t *testing.T) {
	inner := NewConfigRejectedError("unknown_service", "no such service")
	wrapped := fmt.Errorf("update failed: %w", inner)

	var engineErr *Error
	require.True(t, errors.As(wrapped, &engineErr))
	assert.Equal(t, ErrConfigRejected, engineErr.Type)
	assert.Equal(t, "unknown_service", engineErr.Code)
}
