//go:build linux

package ble

import (
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"

	"github.com/godbus/dbus/v5"
	"github.com/google/uuid"
	"tinygo.org/x/bluetooth"
)

const (
	bluezBus            = "org.bluez"
	bluezDevice         = "org.bluez.Device1"
	bluezCharacteristic = "org.bluez.GattCharacteristic1"
)

type managedObjects = map[dbus.ObjectPath]map[string]map[string]dbus.Variant

// gattIO sends write requests straight to BlueZ. The bluetooth package only
// issues write commands on Linux, which the device never acknowledges.
type gattIO struct {
	address string

	mu    sync.Mutex
	paths map[uuid.UUID]dbus.ObjectPath
}

func newGattIO(address string) *gattIO {
	return &gattIO{address: address, paths: make(map[uuid.UUID]dbus.ObjectPath)}
}

func (g *gattIO) write(_ bluetooth.DeviceCharacteristic, char uuid.UUID, data []byte) error {
	conn, err := dbus.SystemBus()
	if err != nil {
		return fmt.Errorf("system bus: %w", err)
	}
	path, err := g.path(conn, char)
	if err != nil {
		return err
	}
	opts := map[string]dbus.Variant{"type": dbus.MakeVariant("request")}
	return conn.Object(bluezBus, path).Call(bluezCharacteristic+".WriteValue", 0, data, opts).Err
}

func (g *gattIO) read(ch bluetooth.DeviceCharacteristic, buf []byte) (int, error) {
	return ch.Read(buf)
}

func (g *gattIO) path(conn *dbus.Conn, char uuid.UUID) (dbus.ObjectPath, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if p, ok := g.paths[char]; ok {
		return p, nil
	}

	var objects managedObjects
	err := conn.Object(bluezBus, "/").Call("org.freedesktop.DBus.ObjectManager.GetManagedObjects", 0).Store(&objects)
	if err != nil {
		return "", fmt.Errorf("list bluez objects: %w", err)
	}
	p, err := characteristicPath(objects, g.address, char)
	if err != nil {
		return "", err
	}
	g.paths[char] = p
	return p, nil
}

// characteristicPath finds the object path of char on the device with
// address. The first match in path order wins.
func characteristicPath(objects managedObjects, address string, char uuid.UUID) (dbus.ObjectPath, error) {
	paths := slices.Sorted(maps.Keys(objects))

	var device string
	for _, path := range paths {
		props, ok := objects[path][bluezDevice]
		if !ok {
			continue
		}
		if a, ok := props["Address"].Value().(string); ok && strings.EqualFold(a, address) {
			device = string(path)
			break
		}
	}
	if device == "" {
		return "", fmt.Errorf("%w: %s", ErrDeviceNotFound, address)
	}

	for _, path := range paths {
		if !strings.HasPrefix(string(path), device+"/") {
			continue
		}
		props, ok := objects[path][bluezCharacteristic]
		if !ok {
			continue
		}
		if u, ok := props["UUID"].Value().(string); ok && strings.EqualFold(u, char.String()) {
			return path, nil
		}
	}
	return "", fmt.Errorf("%w: %s", ErrCharacteristicNotFound, char)
}
