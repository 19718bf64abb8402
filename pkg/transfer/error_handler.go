package transfer

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/rescp17/ledBridge/pkg/ble"
)

// ErrorCategory groups transfer failures by how the caller should react.
type ErrorCategory int

const (
	// ErrorCategoryRecoverable failures clear up if the transfer is restarted
	ErrorCategoryRecoverable ErrorCategory = iota
	// ErrorCategoryNonRecoverable failures repeat on every attempt
	ErrorCategoryNonRecoverable
	// ErrorCategorySystem indicates the local stack is unusable
	ErrorCategorySystem
)

func (ec ErrorCategory) String() string {
	switch ec {
	case ErrorCategoryRecoverable:
		return "recoverable"
	case ErrorCategoryNonRecoverable:
		return "non_recoverable"
	case ErrorCategorySystem:
		return "system"
	default:
		return "unknown"
	}
}

// ErrorAction is the outcome of HandleError.
type ErrorAction int

const (
	// ErrorActionRetry indicates the whole operation should be run again
	ErrorActionRetry ErrorAction = iota
	// ErrorActionFail indicates the error goes back to the caller
	ErrorActionFail
	// ErrorActionCancel indicates the caller gave up
	ErrorActionCancel
)

func (ea ErrorAction) String() string {
	switch ea {
	case ErrorActionRetry:
		return "retry"
	case ErrorActionFail:
		return "fail"
	case ErrorActionCancel:
		return "cancel"
	default:
		return "unknown"
	}
}

// ErrorHandler decides what happens after a failed device operation
type ErrorHandler interface {
	// HandleError picks the next step after attempt retryCount failed.
	HandleError(operation string, err error, retryCount int) ErrorAction

	CategorizeError(err error) ErrorCategory

	// GetRetryDelay is the pause before attempt retryCount+1.
	GetRetryDelay(retryCount int) time.Duration

	LogError(operation string, err error, action ErrorAction, retryCount int)
}

// DefaultErrorHandler classifies by the transfer and ble sentinels and
// retries recoverable failures up to the policy limit.
type DefaultErrorHandler struct {
	retryPolicy *RetryPolicy
	log         *slog.Logger
}

// NewDefaultErrorHandler falls back to DefaultRetryPolicy and slog.Default
// for nil arguments.
func NewDefaultErrorHandler(retryPolicy *RetryPolicy, logger *slog.Logger) *DefaultErrorHandler {
	if retryPolicy == nil {
		retryPolicy = DefaultRetryPolicy()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &DefaultErrorHandler{
		retryPolicy: retryPolicy,
		log:         logger,
	}
}

func (h *DefaultErrorHandler) HandleError(operation string, err error, retryCount int) ErrorAction {
	if err == nil {
		return ErrorActionFail
	}
	if errors.Is(err, context.Canceled) {
		return ErrorActionCancel
	}

	switch h.CategorizeError(err) {
	case ErrorCategoryRecoverable:
		if retryCount < h.retryPolicy.MaxRetries {
			return ErrorActionRetry
		}
		return ErrorActionFail
	default:
		return ErrorActionFail
	}
}

func (h *DefaultErrorHandler) CategorizeError(err error) ErrorCategory {
	if err == nil {
		return ErrorCategoryRecoverable
	}

	var serr *SerializationError
	switch {
	case errors.As(err, &serr):
		return ErrorCategoryNonRecoverable
	case errors.Is(err, ErrPayloadTooLarge):
		return ErrorCategoryNonRecoverable
	case errors.Is(err, ErrInvalidConfiguration):
		return ErrorCategorySystem
	case errors.Is(err, ble.ErrAdapterDisabled):
		return ErrorCategorySystem
	case errors.Is(err, ble.ErrCharacteristicNotFound):
		return ErrorCategoryNonRecoverable
	case errors.Is(err, context.Canceled):
		return ErrorCategoryNonRecoverable
	case errors.Is(err, ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return ErrorCategoryRecoverable
	case errors.Is(err, ErrNoDataReceived):
		return ErrorCategoryRecoverable
	case errors.Is(err, ErrProtocol):
		// A peer abort or sequencing fault invalidates only this transfer.
		return ErrorCategoryRecoverable
	case errors.Is(err, ble.ErrNotConnected):
		return ErrorCategoryNonRecoverable
	}

	if h.retryPolicy.IsRetryable(err) {
		return ErrorCategoryRecoverable
	}
	return ErrorCategoryNonRecoverable
}

func (h *DefaultErrorHandler) GetRetryDelay(retryCount int) time.Duration {
	return h.retryPolicy.GetRetryDelay(retryCount)
}

// LogError reports at a level that follows action.
func (h *DefaultErrorHandler) LogError(operation string, err error, action ErrorAction, retryCount int) {
	attrs := []any{
		"operation", operation,
		"error", err,
		"action", action.String(),
		"retry_count", retryCount,
		"category", h.CategorizeError(err).String(),
	}

	switch action {
	case ErrorActionRetry:
		h.log.Warn("Device operation failed, will retry", attrs...)
	case ErrorActionCancel:
		h.log.Info("Device operation cancelled", attrs...)
	default:
		h.log.Error("Device operation failed", attrs...)
	}
}
