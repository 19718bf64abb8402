package transfer

import (
	"errors"
	"fmt"
)

var (
	// ErrShortFrame is returned when a frame ends before its declared fields.
	ErrShortFrame = errors.New("transfer: frame too short")

	// ErrProtocol matches every *ProtocolError via errors.Is.
	ErrProtocol = errors.New("transfer: protocol violation")

	// ErrNoDataReceived is returned when the notification stream ends before
	// the peer completed the handshake.
	ErrNoDataReceived = errors.New("no data received")

	// ErrTimeout is returned when a configured notification or IO deadline
	// expires.
	ErrTimeout = errors.New("transfer: timed out waiting for peer")

	// ErrPayloadTooLarge is returned when a payload exceeds the 32-bit size
	// field or the configured maximum.
	ErrPayloadTooLarge = errors.New("transfer: payload too large")

	// ErrMTUTooSmall is returned when the negotiated mtu leaves no room for
	// chunk data after the chunk header.
	ErrMTUTooSmall = errors.New("transfer: mtu too small")
)

// ProtocolError reports a peer that broke the transfer protocol, either by
// sending an Error notification (PeerMessage set) or by sending something
// out of sequence.
type ProtocolError struct {
	Op          string
	Reason      string
	PeerMessage string
	Err         error
}

func (e *ProtocolError) Error() string {
	msg := e.Op + ": " + e.Reason
	if e.PeerMessage != "" {
		msg += ": peer reported " + fmt.Sprintf("%q", e.PeerMessage)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ProtocolError) Is(target error) bool {
	return target == ErrProtocol
}

func (e *ProtocolError) Unwrap() error {
	return e.Err
}

func protocolErrorf(op, format string, args ...any) *ProtocolError {
	return &ProtocolError{Op: op, Reason: fmt.Sprintf(format, args...)}
}

// SerializationError wraps a failure to encode or decode a typed value.
type SerializationError struct {
	Op  string
	Err error
}

func (e *SerializationError) Error() string {
	return fmt.Sprintf("%s: serialization failed: %v", e.Op, e.Err)
}

func (e *SerializationError) Unwrap() error {
	return e.Err
}
