//go:build darwin

package ble

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"tinygo.org/x/bluetooth"
)

type gattIO struct{}

func newGattIO(string) *gattIO { return &gattIO{} }

func (*gattIO) write(ch bluetooth.DeviceCharacteristic, _ uuid.UUID, data []byte) error {
	_, err := ch.Write(data)
	return err
}

// CoreBluetooth reads are not exposed by the bluetooth package.
func (*gattIO) read(bluetooth.DeviceCharacteristic, []byte) (int, error) {
	return 0, fmt.Errorf("characteristic read on darwin: %w", errors.ErrUnsupported)
}
