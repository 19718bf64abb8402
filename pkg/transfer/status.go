package transfer

import (
	"errors"
	"strconv"
	"strings"
	"time"
)

// TransferState represents the lifecycle stage of one chunked transfer
type TransferState int

const (
	// TransferStatePending indicates the start message was written but the
	// peer has not answered yet
	TransferStatePending TransferState = iota
	// TransferStateActive indicates chunks are moving
	TransferStateActive
	// TransferStateCompleted indicates the peer acknowledged the last chunk
	TransferStateCompleted
	// TransferStateFailed indicates the transfer aborted on an error
	TransferStateFailed
	// TransferStateCancelled indicates the caller's context ended the transfer
	TransferStateCancelled
)

// String returns a human-readable string representation of the transfer state
func (ts TransferState) String() string {
	switch ts {
	case TransferStatePending:
		return "pending"
	case TransferStateActive:
		return "active"
	case TransferStateCompleted:
		return "completed"
	case TransferStateFailed:
		return "failed"
	case TransferStateCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

func (ts TransferState) MarshalText() ([]byte, error) {
	return []byte(ts.String()), nil
}

func (ts *TransferState) UnmarshalText(text []byte) error {
	for s := TransferStatePending; s <= TransferStateCancelled; s++ {
		if s.String() == string(text) {
			*ts = s
			return nil
		}
	}
	return errors.New("unknown transfer state " + strconv.Quote(string(text)))
}

// IsTerminal returns true if the transfer state is final (completed, failed, or cancelled)
func (ts TransferState) IsTerminal() bool {
	return ts == TransferStateCompleted || ts == TransferStateFailed || ts == TransferStateCancelled
}

// CanTransitionTo checks if a state transition is valid
func (ts TransferState) CanTransitionTo(newState TransferState) bool {
	if ts.IsTerminal() {
		return false
	}

	switch ts {
	case TransferStatePending:
		return newState == TransferStateActive || newState == TransferStateFailed ||
			newState == TransferStateCancelled
	case TransferStateActive:
		return newState == TransferStateCompleted || newState == TransferStateFailed ||
			newState == TransferStateCancelled
	default:
		return false
	}
}

// Direction tells whether the controller is sending or receiving.
type Direction string

const (
	DirectionSend    Direction = "send"
	DirectionReceive Direction = "receive"
)

// TransferStatus is a snapshot of one transfer's progress
type TransferStatus struct {
	seq uint64

	ID        TransferID    `json:"id"`
	Device    string        `json:"device"`
	Endpoint  string        `json:"endpoint"`
	Direction Direction     `json:"direction"`
	State     TransferState `json:"state"`

	BytesDone  int64 `json:"bytes_done"`
	TotalBytes int64 `json:"total_bytes"`
	Chunks     int   `json:"chunks"`
	MTU        int   `json:"mtu,omitempty"`

	// bytes per second
	TransferRate float64 `json:"transfer_rate"`

	StartTime      time.Time  `json:"start_time"`
	LastUpdateTime time.Time  `json:"last_update_time"`
	CompletionTime *time.Time `json:"completion_time,omitempty"`

	LastError string `json:"last_error,omitempty"`
}

// GetProgressPercentage calculates the completion percentage (0-100)
func (ts *TransferStatus) GetProgressPercentage() float64 {
	if ts.TotalBytes == 0 {
		if ts.State == TransferStateCompleted {
			return 100.0
		}
		return 0.0
	}
	return float64(ts.BytesDone) / float64(ts.TotalBytes) * 100.0
}

// GetRemainingBytes returns the number of bytes left to transfer
func (ts *TransferStatus) GetRemainingBytes() int64 {
	remaining := ts.TotalBytes - ts.BytesDone
	if remaining < 0 {
		return 0
	}
	return remaining
}

// Elapsed returns the transfer duration so far, or in total once finished.
func (ts *TransferStatus) Elapsed() time.Duration {
	if ts.CompletionTime != nil {
		return ts.CompletionTime.Sub(ts.StartTime)
	}
	return time.Since(ts.StartTime)
}

func (ts *TransferStatus) updateProgress(bytesDone int64, chunks int) {
	ts.BytesDone = bytesDone
	ts.Chunks = chunks
	ts.LastUpdateTime = time.Now()

	if elapsed := time.Since(ts.StartTime).Seconds(); elapsed > 0 {
		ts.TransferRate = float64(ts.BytesDone) / elapsed
	}
}

// OverallProgress aggregates every tracked transfer
type OverallProgress struct {
	TotalTransfers     int `json:"total_transfers"`
	ActiveTransfers    int `json:"active_transfers"`
	CompletedTransfers int `json:"completed_transfers"`
	FailedTransfers    int `json:"failed_transfers"`
	CancelledTransfers int `json:"cancelled_transfers"`

	TotalBytes int64 `json:"total_bytes"`
	BytesDone  int64 `json:"bytes_done"`
}

// RetryPolicy defines how a whole device operation is retried after a failed
// transfer. The engine itself never retries.
type RetryPolicy struct {
	MaxRetries    int           `json:"max_retries" toml:"max_retries"`
	InitialDelay  time.Duration `json:"initial_delay" toml:"initial_delay"`
	BackoffFactor float64       `json:"backoff_factor" toml:"backoff_factor"`
	MaxDelay      time.Duration `json:"max_delay" toml:"max_delay"`
	// Error message patterns that are worth another attempt
	RetryableErrors []string `json:"retryable_errors" toml:"retryable_errors"`
}

// DefaultRetryPolicy returns a policy that never retries; a failed transfer
// surfaces to the caller as is.
func DefaultRetryPolicy() *RetryPolicy {
	return &RetryPolicy{
		MaxRetries:    0,
		InitialDelay:  500 * time.Millisecond,
		BackoffFactor: 2.0,
		MaxDelay:      10 * time.Second,
		RetryableErrors: []string{
			"timed out",
			"not connected",
			"connection reset",
		},
	}
}

func (rp *RetryPolicy) Validate() error {
	if rp.MaxRetries < 0 {
		return errors.New("max_retries cannot be negative")
	}
	if rp.InitialDelay < 0 {
		return errors.New("initial_delay cannot be negative")
	}
	if rp.BackoffFactor < 1 {
		return errors.New("backoff_factor must be at least 1")
	}
	if rp.MaxDelay < rp.InitialDelay {
		return errors.New("max_delay cannot be less than initial_delay")
	}
	return nil
}

// GetRetryDelay calculates the delay before the next retry attempt
func (rp *RetryPolicy) GetRetryDelay(retryCount int) time.Duration {
	if retryCount <= 0 {
		return rp.InitialDelay
	}

	delay := rp.InitialDelay
	for i := 0; i < retryCount; i++ {
		delay = time.Duration(float64(delay) * rp.BackoffFactor)
		if delay > rp.MaxDelay {
			return rp.MaxDelay
		}
	}
	return delay
}

// IsRetryable checks if an error matches one of the configured patterns
func (rp *RetryPolicy) IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	errMsg := strings.ToLower(err.Error())
	for _, pattern := range rp.RetryableErrors {
		if strings.Contains(errMsg, strings.ToLower(pattern)) {
			return true
		}
	}
	return false
}

// Error types for transfer status management
var (
	// ErrTransferNotFound is returned when a requested transfer doesn't exist
	ErrTransferNotFound = errors.New("transfer not found")

	// ErrInvalidStateTransition is returned when an invalid state transition is attempted
	ErrInvalidStateTransition = errors.New("invalid state transition")

	// ErrTransferAlreadyExists is returned when a transfer id is tracked twice
	ErrTransferAlreadyExists = errors.New("transfer already exists")

	// ErrMaxTransfersExceeded is returned when the maximum number of concurrent transfers is reached
	ErrMaxTransfersExceeded = errors.New("maximum concurrent transfers exceeded")

	// ErrInvalidConfiguration is returned when configuration validation fails
	ErrInvalidConfiguration = errors.New("invalid configuration")
)
