package bletest

import (
	"context"
	"fmt"
	"sync"

	"github.com/rescp17/ledBridge/pkg/ble"
)

// Central is an in-memory ble.Central over a fixed set of advertised devices.
type Central struct {
	mu        sync.Mutex
	enabled   bool
	scanning  bool
	stop      chan struct{}
	devices   []device
	connected map[string]*Peripheral
}

type device struct {
	ad      ble.Advertisement
	connect func() *Peripheral
}

var _ ble.Central = (*Central)(nil)

func NewCentral() *Central {
	return &Central{connected: make(map[string]*Peripheral)}
}

// Advertise makes a device discoverable. connect builds a fresh peripheral
// for every new connection.
func (c *Central) Advertise(ad ble.Advertisement, connect func() *Peripheral) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.devices = append(c.devices, device{ad: ad, connect: connect})
}

func (c *Central) Enable(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.enabled = true
	return nil
}

func (c *Central) Info() ble.AdapterInfo {
	return ble.AdapterInfo{ID: "sim0", Address: "00:00:00:00:00:00", Backend: "simulated"}
}

// Scan reports every matching device once, then waits for ctx or StopScan.
func (c *Central) Scan(ctx context.Context, filter ble.ScanFilter, fn func(ble.Advertisement)) error {
	c.mu.Lock()
	if !c.enabled {
		c.mu.Unlock()
		return ble.ErrAdapterDisabled
	}
	if c.scanning {
		c.mu.Unlock()
		return ble.ErrScanInProgress
	}
	c.scanning = true
	stop := make(chan struct{})
	c.stop = stop
	devices := append([]device(nil), c.devices...)
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.scanning = false
		c.stop = nil
		c.mu.Unlock()
	}()

	for _, d := range devices {
		if filter.Match(d.ad) {
			fn(d.ad)
		}
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-stop:
		return nil
	}
}

func (c *Central) StopScan() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stop != nil {
		close(c.stop)
		c.stop = nil
	}
	return nil
}

func (c *Central) Connect(ctx context.Context, address string) (ble.Peripheral, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.enabled {
		return nil, ble.ErrAdapterDisabled
	}
	if p, ok := c.connected[address]; ok && p.IsConnected() {
		return p, nil
	}
	for _, d := range c.devices {
		if d.ad.Address == address {
			p := d.connect()
			c.connected[address] = p
			return p, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ble.ErrDeviceNotFound, address)
}
