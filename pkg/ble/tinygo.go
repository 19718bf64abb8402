package ble

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"tinygo.org/x/bluetooth"
)

// maxAttributeLen is the largest value a GATT read can return.
const maxAttributeLen = 512

var _ Central = (*TinyGoCentral)(nil)

// TinyGoCentral drives a local adapter through tinygo.org/x/bluetooth.
type TinyGoCentral struct {
	adapter *bluetooth.Adapter
	log     *slog.Logger

	mu          sync.Mutex
	enabled     bool
	scanning    bool
	peripherals map[string]*tinyGoPeripheral
}

// NewTinyGoCentral wraps adapter, bluetooth.DefaultAdapter when nil.
func NewTinyGoCentral(adapter *bluetooth.Adapter, logger *slog.Logger) *TinyGoCentral {
	if adapter == nil {
		adapter = bluetooth.DefaultAdapter
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &TinyGoCentral{
		adapter:     adapter,
		log:         logger.With("component", "ble"),
		peripherals: make(map[string]*tinyGoPeripheral),
	}
}

func (c *TinyGoCentral) Enable(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.enabled {
		return nil
	}

	if err := runCtx(ctx, c.adapter.Enable); err != nil {
		return fmt.Errorf("enable adapter: %w", err)
	}
	c.adapter.SetConnectHandler(c.onConnectionChange)
	c.enabled = true
	c.log.Info("Bluetooth adapter enabled")
	return nil
}

func (c *TinyGoCentral) Info() AdapterInfo {
	return AdapterInfo{ID: "default", Backend: "tinygo"}
}

func (c *TinyGoCentral) onConnectionChange(device bluetooth.Device, connected bool) {
	if connected {
		return
	}
	address := device.Address.String()

	c.mu.Lock()
	p, ok := c.peripherals[address]
	delete(c.peripherals, address)
	c.mu.Unlock()

	if ok {
		c.log.Info("Peripheral disconnected", "device", address)
		p.markDisconnected()
	}
}

func (c *TinyGoCentral) beginScan() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.enabled {
		return ErrAdapterDisabled
	}
	if c.scanning {
		return ErrScanInProgress
	}
	c.scanning = true
	return nil
}

func (c *TinyGoCentral) endScan() {
	c.mu.Lock()
	c.scanning = false
	c.mu.Unlock()
}

func (c *TinyGoCentral) Scan(ctx context.Context, filter ScanFilter, fn func(Advertisement)) error {
	if err := c.beginScan(); err != nil {
		return err
	}
	defer c.endScan()

	filterUUIDs, err := toTinyGoUUIDs(filter.Services)
	if err != nil {
		return err
	}

	finished := make(chan struct{})
	defer close(finished)
	go func() {
		select {
		case <-ctx.Done():
			_ = c.adapter.StopScan()
		case <-finished:
		}
	}()

	err = c.adapter.Scan(func(_ *bluetooth.Adapter, result bluetooth.ScanResult) {
		ad := Advertisement{
			Address:   result.Address.String(),
			LocalName: result.LocalName(),
			RSSI:      result.RSSI,
		}
		for i, u := range filterUUIDs {
			if result.HasServiceUUID(u) {
				ad.Services = append(ad.Services, filter.Services[i])
			}
		}
		if filter.Match(ad) {
			fn(ad)
		}
	})
	if err != nil {
		return fmt.Errorf("scan: %w", err)
	}
	return ctx.Err()
}

func (c *TinyGoCentral) StopScan() error {
	c.mu.Lock()
	scanning := c.scanning
	c.mu.Unlock()
	if !scanning {
		return nil
	}
	return c.adapter.StopScan()
}

// Connect finds address with a short scan, connects, and discovers every
// characteristic of the device.
func (c *TinyGoCentral) Connect(ctx context.Context, address string) (Peripheral, error) {
	c.mu.Lock()
	if p, ok := c.peripherals[address]; ok && p.IsConnected() {
		c.mu.Unlock()
		return p, nil
	}
	c.mu.Unlock()

	target, name, err := c.locate(ctx, address)
	if err != nil {
		return nil, err
	}

	var device bluetooth.Device
	err = runCtx(ctx, func() error {
		var err error
		device, err = c.adapter.Connect(target, bluetooth.ConnectionParams{})
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", address, err)
	}

	chars, err := discoverCharacteristics(ctx, device)
	if err != nil {
		_ = device.Disconnect()
		return nil, fmt.Errorf("discover %s: %w", address, err)
	}

	p := &tinyGoPeripheral{
		device:     device,
		address:    address,
		name:       name,
		chars:      chars,
		gatt:       newGattIO(address),
		hub:        NewHub(),
		subscribed: make(map[uuid.UUID]bool),
		log:        c.log.With("device", address),
	}
	p.connected.Store(true)

	c.mu.Lock()
	c.peripherals[address] = p
	c.mu.Unlock()

	c.log.Info("Peripheral connected", "device", address, "name", name, "characteristics", len(chars))
	return p, nil
}

func (c *TinyGoCentral) locate(ctx context.Context, address string) (bluetooth.Address, string, error) {
	scanCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		found bluetooth.Address
		name  string
		ok    bool
	)
	if err := c.beginScan(); err != nil {
		return found, "", err
	}
	defer c.endScan()

	go func() {
		<-scanCtx.Done()
		_ = c.adapter.StopScan()
	}()

	err := c.adapter.Scan(func(a *bluetooth.Adapter, result bluetooth.ScanResult) {
		if result.Address.String() != address {
			return
		}
		found, name, ok = result.Address, result.LocalName(), true
		cancel()
	})
	if err != nil {
		return found, "", fmt.Errorf("scan for %s: %w", address, err)
	}
	if !ok {
		if ctx.Err() != nil {
			return found, "", ctx.Err()
		}
		return found, "", fmt.Errorf("%w: %s", ErrDeviceNotFound, address)
	}
	return found, name, nil
}

func discoverCharacteristics(ctx context.Context, device bluetooth.Device) (map[uuid.UUID]bluetooth.DeviceCharacteristic, error) {
	chars := make(map[uuid.UUID]bluetooth.DeviceCharacteristic)
	err := runCtx(ctx, func() error {
		services, err := device.DiscoverServices(nil)
		if err != nil {
			return err
		}
		for _, svc := range services {
			found, err := svc.DiscoverCharacteristics(nil)
			if err != nil {
				return err
			}
			for _, ch := range found {
				id, err := uuid.Parse(ch.UUID().String())
				if err != nil {
					continue
				}
				chars[id] = ch
			}
		}
		return nil
	})
	return chars, err
}

type tinyGoPeripheral struct {
	device  bluetooth.Device
	address string
	name    string
	chars   map[uuid.UUID]bluetooth.DeviceCharacteristic
	gatt    *gattIO
	hub     *Hub
	log     *slog.Logger

	mu         sync.Mutex
	subscribed map[uuid.UUID]bool
	connected  atomic.Bool
}

func (p *tinyGoPeripheral) ID() string        { return p.address }
func (p *tinyGoPeripheral) Name() string      { return p.name }
func (p *tinyGoPeripheral) IsConnected() bool { return p.connected.Load() }

func (p *tinyGoPeripheral) characteristic(char uuid.UUID) (bluetooth.DeviceCharacteristic, error) {
	if !p.IsConnected() {
		return bluetooth.DeviceCharacteristic{}, ErrNotConnected
	}
	ch, ok := p.chars[char]
	if !ok {
		return bluetooth.DeviceCharacteristic{}, fmt.Errorf("%w: %s", ErrCharacteristicNotFound, char)
	}
	return ch, nil
}

func (p *tinyGoPeripheral) Subscribe(ctx context.Context, char uuid.UUID) error {
	ch, err := p.characteristic(char)
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.subscribed[char] {
		return nil
	}

	err = runCtx(ctx, func() error {
		return ch.EnableNotifications(func(buf []byte) {
			value := make([]byte, len(buf))
			copy(value, buf)
			p.hub.Publish(Notification{Characteristic: char, Value: value})
		})
	})
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", char, err)
	}
	p.subscribed[char] = true
	return nil
}

func (p *tinyGoPeripheral) Write(ctx context.Context, char uuid.UUID, data []byte, mode WriteMode) error {
	ch, err := p.characteristic(char)
	if err != nil {
		return err
	}
	return runCtx(ctx, func() error {
		var err error
		if mode == WithoutResponse {
			_, err = ch.WriteWithoutResponse(data)
		} else {
			err = p.gatt.write(ch, char, data)
		}
		if err != nil {
			return fmt.Errorf("write %s: %w", char, err)
		}
		return nil
	})
}

func (p *tinyGoPeripheral) Read(ctx context.Context, char uuid.UUID) ([]byte, error) {
	ch, err := p.characteristic(char)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, maxAttributeLen)
	var n int
	err = runCtx(ctx, func() error {
		var err error
		n, err = p.gatt.read(ch, buf)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", char, err)
	}
	return buf[:n], nil
}

func (p *tinyGoPeripheral) Notifications(ctx context.Context) (<-chan Notification, error) {
	if !p.IsConnected() {
		return nil, ErrNotConnected
	}
	return p.hub.Subscribe(ctx)
}

func (p *tinyGoPeripheral) Disconnect() error {
	if !p.connected.Load() {
		return nil
	}
	err := p.device.Disconnect()
	p.markDisconnected()
	return err
}

func (p *tinyGoPeripheral) markDisconnected() {
	if p.connected.Swap(false) {
		p.hub.Close()
	}
}

func toTinyGoUUIDs(ids []uuid.UUID) ([]bluetooth.UUID, error) {
	out := make([]bluetooth.UUID, 0, len(ids))
	for _, id := range ids {
		u, err := bluetooth.ParseUUID(id.String())
		if err != nil {
			return nil, fmt.Errorf("service uuid %s: %w", id, err)
		}
		out = append(out, u)
	}
	return out, nil
}

// runCtx runs a blocking platform call and returns early when ctx ends. The
// call itself keeps running until the stack returns.
func runCtx(ctx context.Context, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	errCh := make(chan error, 1)
	go func() { errCh <- fn() }()
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
