//go:build !linux && !darwin && !windows

package ble

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"tinygo.org/x/bluetooth"
)

type gattIO struct{}

func newGattIO(string) *gattIO { return &gattIO{} }

// Embedded stacks only offer write commands.
func (*gattIO) write(bluetooth.DeviceCharacteristic, uuid.UUID, []byte) error {
	return fmt.Errorf("write request: %w", errors.ErrUnsupported)
}

func (*gattIO) read(ch bluetooth.DeviceCharacteristic, buf []byte) (int, error) {
	return ch.Read(buf)
}
