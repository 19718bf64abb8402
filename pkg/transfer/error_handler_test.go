package transfer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/rescp17/ledBridge/pkg/ble"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultErrorHandler_CategorizeError(t *testing.T) {
	handler := NewDefaultErrorHandler(nil, nil)

	tests := []struct {
		name     string
		err      error
		expected ErrorCategory
	}{
		{
			name:     "transfer timeout",
			err:      fmt.Errorf("send: %w", ErrTimeout),
			expected: ErrorCategoryRecoverable,
		},
		{
			name:     "deadline exceeded",
			err:      context.DeadlineExceeded,
			expected: ErrorCategoryRecoverable,
		},
		{
			name:     "no data",
			err:      fmt.Errorf("receive: %w", ErrNoDataReceived),
			expected: ErrorCategoryRecoverable,
		},
		{
			name:     "protocol error",
			err:      &ProtocolError{Op: "send", Reason: "peer aborted transfer", PeerMessage: "busy"},
			expected: ErrorCategoryRecoverable,
		},
		{
			name:     "retryable pattern",
			err:      errors.New("hci: connection reset by peer"),
			expected: ErrorCategoryRecoverable,
		},
		{
			name:     "serialization",
			err:      &SerializationError{Op: "read_value", Err: errors.New("unexpected end of JSON input")},
			expected: ErrorCategoryNonRecoverable,
		},
		{
			name:     "payload too large",
			err:      fmt.Errorf("receive: %w", ErrPayloadTooLarge),
			expected: ErrorCategoryNonRecoverable,
		},
		{
			name:     "missing characteristic",
			err:      fmt.Errorf("scene: %w", ble.ErrCharacteristicNotFound),
			expected: ErrorCategoryNonRecoverable,
		},
		{
			name:     "not connected",
			err:      ble.ErrNotConnected,
			expected: ErrorCategoryNonRecoverable,
		},
		{
			name:     "cancelled",
			err:      context.Canceled,
			expected: ErrorCategoryNonRecoverable,
		},
		{
			name:     "adapter disabled",
			err:      fmt.Errorf("scan: %w", ble.ErrAdapterDisabled),
			expected: ErrorCategorySystem,
		},
		{
			name:     "bad configuration",
			err:      fmt.Errorf("%w: io_timeout cannot be negative", ErrInvalidConfiguration),
			expected: ErrorCategorySystem,
		},
		{
			name:     "unknown error",
			err:      errors.New("something odd"),
			expected: ErrorCategoryNonRecoverable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, handler.CategorizeError(tt.err))
		})
	}
}

func TestDefaultErrorHandler_HandleError(t *testing.T) {
	policy := DefaultRetryPolicy()
	policy.MaxRetries = 2
	handler := NewDefaultErrorHandler(policy, nil)

	timeout := fmt.Errorf("send: %w", ErrTimeout)

	assert.Equal(t, ErrorActionRetry, handler.HandleError("set_scene", timeout, 0))
	assert.Equal(t, ErrorActionRetry, handler.HandleError("set_scene", timeout, 1))
	assert.Equal(t, ErrorActionFail, handler.HandleError("set_scene", timeout, 2))

	assert.Equal(t, ErrorActionCancel, handler.HandleError("set_scene", context.Canceled, 0))
	assert.Equal(t, ErrorActionFail, handler.HandleError("set_scene", ErrPayloadTooLarge, 0))
	assert.Equal(t, ErrorActionFail, handler.HandleError("set_scene", nil, 0))
}

func TestDefaultErrorHandler_DefaultPolicyNeverRetries(t *testing.T) {
	handler := NewDefaultErrorHandler(nil, nil)
	assert.Equal(t, ErrorActionFail, handler.HandleError("get_scene", ErrTimeout, 0))
}

func TestDefaultErrorHandler_GetRetryDelay(t *testing.T) {
	policy := &RetryPolicy{
		MaxRetries:    3,
		InitialDelay:  50 * time.Millisecond,
		BackoffFactor: 3,
		MaxDelay:      time.Second,
	}
	handler := NewDefaultErrorHandler(policy, nil)

	assert.Equal(t, 50*time.Millisecond, handler.GetRetryDelay(0))
	assert.Equal(t, 150*time.Millisecond, handler.GetRetryDelay(1))
	assert.Equal(t, 450*time.Millisecond, handler.GetRetryDelay(2))
	assert.Equal(t, time.Second, handler.GetRetryDelay(3))
}

func TestDefaultErrorHandler_LogError(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	handler := NewDefaultErrorHandler(nil, logger)

	handler.LogError("set_scene", ErrTimeout, ErrorActionRetry, 1)
	out := buf.String()
	require.Contains(t, out, "will retry")
	assert.Contains(t, out, "operation=set_scene")
	assert.Contains(t, out, "retry_count=1")
	assert.Contains(t, out, "category=recoverable")

	buf.Reset()
	handler.LogError("get_state", context.Canceled, ErrorActionCancel, 0)
	assert.Contains(t, buf.String(), "cancelled")
}

func TestErrorCategoryAndActionStrings(t *testing.T) {
	assert.Equal(t, "recoverable", ErrorCategoryRecoverable.String())
	assert.Equal(t, "non_recoverable", ErrorCategoryNonRecoverable.String())
	assert.Equal(t, "system", ErrorCategorySystem.String())
	assert.Equal(t, "unknown", ErrorCategory(42).String())

	assert.Equal(t, "retry", ErrorActionRetry.String())
	assert.Equal(t, "fail", ErrorActionFail.String())
	assert.Equal(t, "cancel", ErrorActionCancel.String())
	assert.Equal(t, "unknown", ErrorAction(42).String())
}
