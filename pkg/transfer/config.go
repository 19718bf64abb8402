package transfer

import (
	"errors"
	"math"
	"time"
)

// Config holds the tunables of the transfer engine and its status tracking.
type Config struct {
	// ControlOverhead is subtracted from the peer mtu to size each chunk.
	// It must cover the chunk header.
	ControlOverhead int `json:"control_overhead" toml:"control_overhead"`

	// MaxPayloadSize bounds both outbound payloads and announced inbound sizes.
	MaxPayloadSize int `json:"max_payload_size" toml:"max_payload"`

	// Deadlines. Zero waits forever.
	NotifyTimeout time.Duration `json:"notify_timeout" toml:"notify_timeout"`
	IOTimeout     time.Duration `json:"io_timeout" toml:"io_timeout"`

	// ByteOrder names the integer layout on the wire: "little" or "big".
	ByteOrder string `json:"byte_order" toml:"byte_order"`

	// Status tracking
	MaxConcurrentTransfers int `json:"max_concurrent_transfers" toml:"-"`
	MaxHistoryRecords      int `json:"max_history_records" toml:"-"`

	DefaultRetryPolicy *RetryPolicy `json:"default_retry_policy" toml:"-"`
}

const (
	// DefaultMaxPayloadSize keeps a reassembly buffer well below what a
	// peripheral would ever produce while still fitting large scene lists.
	DefaultMaxPayloadSize = 1 << 20
	// DefaultMaxHistoryRecords is how many finished transfers stay visible.
	DefaultMaxHistoryRecords = 100
)

// DefaultConfig returns a configuration with sensible defaults. Deadlines are
// disabled so a slow peripheral is never cut off mid-transfer.
func DefaultConfig() *Config {
	return &Config{
		ControlOverhead:        ChunkMetaLen,
		MaxPayloadSize:         DefaultMaxPayloadSize,
		ByteOrder:              "little",
		MaxConcurrentTransfers: 16,
		MaxHistoryRecords:      DefaultMaxHistoryRecords,
		DefaultRetryPolicy:     DefaultRetryPolicy(),
	}
}

// Validate checks if the configuration values are valid
func (c *Config) Validate() error {
	if c.ControlOverhead < ChunkMetaLen {
		return errors.New("control_overhead cannot be less than the chunk header size")
	}
	if c.MaxPayloadSize <= 0 {
		return errors.New("max_payload_size must be positive")
	}
	if uint64(c.MaxPayloadSize) > math.MaxUint32 {
		return errors.New("max_payload_size cannot exceed 4 GiB")
	}
	if c.NotifyTimeout < 0 {
		return errors.New("notify_timeout cannot be negative")
	}
	if c.IOTimeout < 0 {
		return errors.New("io_timeout cannot be negative")
	}
	if _, err := ParseByteOrder(c.ByteOrder); err != nil {
		return err
	}
	if c.MaxConcurrentTransfers <= 0 {
		return errors.New("max_concurrent_transfers must be positive")
	}
	if c.MaxHistoryRecords < 0 {
		return errors.New("max_history_records cannot be negative")
	}
	if c.DefaultRetryPolicy == nil {
		return errors.New("default_retry_policy cannot be nil")
	}
	return c.DefaultRetryPolicy.Validate()
}

// Codec builds the wire codec for the configured byte order.
func (c *Config) Codec() (*Codec, error) {
	order, err := ParseByteOrder(c.ByteOrder)
	if err != nil {
		return nil, err
	}
	return NewCodec(order), nil
}
