//go:build linux

package ble

import (
	"testing"

	"github.com/godbus/dbus/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func bluezObjects() managedObjects {
	device := func(addr string) map[string]map[string]dbus.Variant {
		return map[string]map[string]dbus.Variant{
			bluezDevice: {"Address": dbus.MakeVariant(addr)},
		}
	}
	char := func(id string) map[string]map[string]dbus.Variant {
		return map[string]map[string]dbus.Variant{
			bluezCharacteristic: {"UUID": dbus.MakeVariant(id)},
		}
	}
	return managedObjects{
		"/org/bluez/hci0": {"org.bluez.Adapter1": {}},
		"/org/bluez/hci0/dev_AA_00_00_00_00_01": device("AA:00:00:00:00:01"),
		"/org/bluez/hci0/dev_AA_00_00_00_00_01/service0010": {"org.bluez.GattService1": {}},
		"/org/bluez/hci0/dev_AA_00_00_00_00_01/service0010/char0011": char(testChar.String()),
		"/org/bluez/hci0/dev_AA_00_00_00_00_01/service0010/char0014": char(testChar.String()),
		"/org/bluez/hci0/dev_AA_00_00_00_00_02": device("AA:00:00:00:00:02"),
		"/org/bluez/hci0/dev_AA_00_00_00_00_02/service0010/char0011": char(testChar.String()),
	}
}

func TestCharacteristicPath(t *testing.T) {
	objects := bluezObjects()

	path, err := characteristicPath(objects, "aa:00:00:00:00:02", testChar)
	require.NoError(t, err)
	assert.Equal(t, dbus.ObjectPath("/org/bluez/hci0/dev_AA_00_00_00_00_02/service0010/char0011"), path)

	// Duplicate characteristics resolve to the lowest handle.
	path, err = characteristicPath(objects, "AA:00:00:00:00:01", testChar)
	require.NoError(t, err)
	assert.Equal(t, dbus.ObjectPath("/org/bluez/hci0/dev_AA_00_00_00_00_01/service0010/char0011"), path)

	_, err = characteristicPath(objects, "AA:00:00:00:00:01", uuid.New())
	assert.ErrorIs(t, err, ErrCharacteristicNotFound)

	_, err = characteristicPath(objects, "BB:00:00:00:00:01", testChar)
	assert.ErrorIs(t, err, ErrDeviceNotFound)
}

func TestGattIO_CachesResolvedPaths(t *testing.T) {
	g := newGattIO("AA:00:00:00:00:01")
	want := dbus.ObjectPath("/org/bluez/hci0/dev_AA_00_00_00_00_01/service0010/char0011")
	g.paths[testChar] = want

	// A cached path never touches the bus.
	got, err := g.path(nil, testChar)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}
