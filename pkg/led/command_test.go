package led

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCommand(t *testing.T) {
	tests := []struct {
		in      string
		want    Command
		wantErr bool
	}{
		{"open", CommandOpen, false},
		{"close", CommandClose, false},
		{"reset", CommandReset, false},
		{" Open\n", CommandOpen, false},
		{"blink", 0, true},
		{"", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseCommand(tt.in)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrUnknownCommand)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCommand_Bytes(t *testing.T) {
	for cmd, want := range map[Command]string{
		CommandOpen:  "open",
		CommandClose: "close",
		CommandReset: "reset",
	} {
		b, err := cmd.Bytes()
		require.NoError(t, err)
		assert.Equal(t, want, string(b))
	}

	_, err := Command(42).Bytes()
	assert.ErrorIs(t, err, ErrUnknownCommand)
	assert.Equal(t, "Command(42)", Command(42).String())
}

func TestCommand_JSON(t *testing.T) {
	var req struct {
		Command Command `json:"command"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"command":"reset"}`), &req))
	assert.Equal(t, CommandReset, req.Command)

	err := json.Unmarshal([]byte(`{"command":"explode"}`), &req)
	assert.ErrorIs(t, err, ErrUnknownCommand)

	out, err := json.Marshal(req)
	require.NoError(t, err)
	assert.JSONEq(t, `{"command":"reset"}`, string(out))
}
