//go:build windows

package ble

import (
	"github.com/google/uuid"
	"tinygo.org/x/bluetooth"
)

type gattIO struct{}

func newGattIO(string) *gattIO { return &gattIO{} }

func (*gattIO) write(ch bluetooth.DeviceCharacteristic, _ uuid.UUID, data []byte) error {
	_, err := ch.Write(data)
	return err
}

func (*gattIO) read(ch bluetooth.DeviceCharacteristic, buf []byte) (int, error) {
	return ch.Read(buf)
}
