package transfer

import (
	"encoding/binary"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig()

	assert.Equal(t, ChunkMetaLen, config.ControlOverhead)
	assert.Equal(t, DefaultMaxPayloadSize, config.MaxPayloadSize)
	assert.Zero(t, config.NotifyTimeout)
	assert.Zero(t, config.IOTimeout)
	assert.Equal(t, "little", config.ByteOrder)
	require.NotNil(t, config.DefaultRetryPolicy)
	assert.Zero(t, config.DefaultRetryPolicy.MaxRetries)

	assert.NoError(t, config.Validate())
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr string
	}{
		{
			name:    "overhead below chunk header",
			modify:  func(c *Config) { c.ControlOverhead = 4 },
			wantErr: "control_overhead cannot be less than the chunk header size",
		},
		{
			name:    "zero payload limit",
			modify:  func(c *Config) { c.MaxPayloadSize = 0 },
			wantErr: "max_payload_size must be positive",
		},
		{
			name:    "negative notify timeout",
			modify:  func(c *Config) { c.NotifyTimeout = -time.Second },
			wantErr: "notify_timeout cannot be negative",
		},
		{
			name:    "negative io timeout",
			modify:  func(c *Config) { c.IOTimeout = -time.Second },
			wantErr: "io_timeout cannot be negative",
		},
		{
			name:    "unknown byte order",
			modify:  func(c *Config) { c.ByteOrder = "pdp" },
			wantErr: `unknown byte order "pdp"`,
		},
		{
			name:    "no concurrent transfers",
			modify:  func(c *Config) { c.MaxConcurrentTransfers = 0 },
			wantErr: "max_concurrent_transfers must be positive",
		},
		{
			name:    "nil retry policy",
			modify:  func(c *Config) { c.DefaultRetryPolicy = nil },
			wantErr: "default_retry_policy cannot be nil",
		},
		{
			name:    "bad backoff",
			modify:  func(c *Config) { c.DefaultRetryPolicy.BackoffFactor = 0.5 },
			wantErr: "backoff_factor must be at least 1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := DefaultConfig()
			tt.modify(config)
			err := config.Validate()
			require.Error(t, err)
			assert.Equal(t, tt.wantErr, err.Error())
		})
	}
}

func TestChunkSize(t *testing.T) {
	overhead := DefaultConfig().ControlOverhead

	size, err := ChunkSize(200, overhead, 1000)
	require.NoError(t, err)
	assert.Equal(t, 188, size)

	size, err = ChunkSize(200, overhead, 60)
	require.NoError(t, err)
	assert.Equal(t, 60, size)

	size, err = ChunkSize(200, overhead, 0)
	require.NoError(t, err)
	assert.Zero(t, size)

	_, err = ChunkSize(12, overhead, 60)
	assert.ErrorIs(t, err, ErrMTUTooSmall)
}

func TestConfig_Codec(t *testing.T) {
	config := DefaultConfig()
	config.ByteOrder = "big"

	codec, err := config.Codec()
	require.NoError(t, err)
	assert.Equal(t, binary.BigEndian, codec.Order)
}
