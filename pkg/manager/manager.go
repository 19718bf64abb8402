// Package manager keeps the registry of discovered and connected LED
// devices and runs every device command under that device's guard.
package manager

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rescp17/ledBridge/pkg/ble"
	"github.com/rescp17/ledBridge/pkg/concurrency"
	"github.com/rescp17/ledBridge/pkg/led"
	"github.com/rescp17/ledBridge/pkg/transfer"
)

var ErrDeviceNotFound = errors.New("led not found")

// Device is one entry of the device list.
type Device struct {
	ID        string    `json:"id"`
	Address   string    `json:"address"`
	LocalName string    `json:"local_name"`
	RSSI      int16     `json:"rssi"`
	Connected bool      `json:"connected"`
	State     string    `json:"state,omitempty"`
	LastSeen  time.Time `json:"last_seen"`

	// Latest documents reported by the device's watch. Each update
	// replaces the previous value.
	Scene     *led.Scene      `json:"scene,omitempty"`
	TimeTasks json.RawMessage `json:"time_tasks,omitempty"`
}

type Config struct {
	Profile  led.Profile
	Transfer *transfer.Config
	// Observers see every transfer of every device.
	Observers []transfer.Observer
	// OnEvent receives events from all watched devices.
	OnEvent led.EventHandler
	Logger  *slog.Logger
}

type Manager struct {
	central ble.Central
	config  Config
	log     *slog.Logger

	scan   *concurrency.Guard
	connMu sync.Mutex

	mu    sync.RWMutex
	seen  map[string]*Device
	leds  map[string]*session
	info  ble.AdapterInfo
	ready bool
}

type session struct {
	led    *led.Led
	cancel context.CancelFunc
	done   chan struct{}
}

func New(central ble.Central, config Config) *Manager {
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.Transfer == nil {
		config.Transfer = transfer.DefaultConfig()
	}
	if config.Profile == (led.Profile{}) {
		config.Profile = led.DefaultProfile()
	}
	return &Manager{
		central: central,
		config:  config,
		log:     config.Logger,
		scan:    concurrency.NewGuard(),
		seen:    make(map[string]*Device),
		leds:    make(map[string]*session),
	}
}

// Init enables the adapter and describes it.
func (m *Manager) Init(ctx context.Context) (ble.AdapterInfo, error) {
	if err := m.central.Enable(ctx); err != nil {
		return ble.AdapterInfo{}, fmt.Errorf("enable adapter: %w", err)
	}
	info := m.central.Info()

	m.mu.Lock()
	m.info, m.ready = info, true
	m.mu.Unlock()

	m.log.Info("Bluetooth adapter ready", "adapter", info.ID, "address", info.Address, "backend", info.Backend)
	return info, nil
}

func (m *Manager) Adapter() (ble.AdapterInfo, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.info, m.ready
}

func (m *Manager) filter() ble.ScanFilter {
	return ble.ScanFilter{Services: []uuid.UUID{m.config.Profile.Service}}
}

func (m *Manager) record(ad ble.Advertisement) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.seen[ad.Address]
	if !ok {
		d = &Device{ID: ad.Address, Address: ad.Address}
		m.seen[ad.Address] = d
		m.log.Info("Discovered device", "address", ad.Address, "name", ad.LocalName, "rssi", ad.RSSI)
	}
	if ad.LocalName != "" {
		d.LocalName = ad.LocalName
	}
	d.RSSI = ad.RSSI
	d.LastSeen = time.Now()
}

// StartScan scans in the background until StopScan or ctx ends. onUpdate,
// when set, gets the full device list after every advertisement. Only one
// scan runs at a time; a second call fails with concurrency.ErrBusy.
func (m *Manager) StartScan(ctx context.Context, onUpdate func([]Device)) error {
	release, err := m.scan.TryAcquire("scan")
	if err != nil {
		return fmt.Errorf("start scan: %w", err)
	}

	go func() {
		defer release()
		err := m.central.Scan(ctx, m.filter(), func(ad ble.Advertisement) {
			m.record(ad)
			if onUpdate != nil {
				onUpdate(m.Devices())
			}
		})
		if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
			m.log.Warn("Scan ended with error", "error", err)
			return
		}
		m.log.Info("Scan stopped")
	}()
	return nil
}

func (m *Manager) StopScan() error {
	return m.central.StopScan()
}

// Scan runs a scan for d and returns the device list.
func (m *Manager) Scan(ctx context.Context, d time.Duration) ([]Device, error) {
	ctx, cancel := context.WithTimeout(ctx, d)
	defer cancel()

	err := m.scan.TryDo(func() error {
		return m.central.Scan(ctx, m.filter(), m.record)
	})
	if err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return nil, fmt.Errorf("scan: %w", err)
	}
	return m.Devices(), nil
}

// Devices lists every device seen by a scan or connected, sorted by address.
func (m *Manager) Devices() []Device {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Device, 0, len(m.seen))
	for _, d := range m.seen {
		c := *d
		if s, ok := m.leds[d.ID]; ok {
			c.Connected = s.led.Peripheral().IsConnected()
		}
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Address < out[j].Address })
	return out
}

// Connect connects id, sets its clock and starts watching it. Connecting a
// device that is already connected returns it unchanged; a known device
// that dropped is reconnected.
func (m *Manager) Connect(ctx context.Context, id string) (Device, error) {
	m.connMu.Lock()
	defer m.connMu.Unlock()

	m.mu.RLock()
	s, ok := m.leds[id]
	m.mu.RUnlock()
	if ok {
		if s.led.CheckConnected() == nil {
			return m.device(id), nil
		}
		m.log.Info("Reconnecting dropped device", "device", id)
		m.stop(id, s)
	}

	p, err := m.central.Connect(ctx, id)
	if err != nil {
		return Device{}, fmt.Errorf("connect %s: %w", id, err)
	}

	opts := []led.Option{
		led.WithProfile(m.config.Profile),
		led.WithTransferConfig(m.config.Transfer),
		led.WithLogger(m.log),
	}
	for _, o := range m.config.Observers {
		opts = append(opts, led.WithObserver(o))
	}
	l, err := led.New(p, opts...)
	if err != nil {
		_ = p.Disconnect()
		return Device{}, err
	}
	if err := l.SetTime(ctx); err != nil {
		_ = p.Disconnect()
		return Device{}, fmt.Errorf("connect %s: %w", id, err)
	}

	// The watch is open before Connect returns so the first command's
	// notifications are not lost.
	watchCtx, cancel := context.WithCancel(context.Background())
	w, err := l.OpenWatch(watchCtx, m.handler(id))
	if err != nil {
		cancel()
		_ = p.Disconnect()
		return Device{}, fmt.Errorf("connect %s: %w", id, err)
	}
	s = &session{led: l, cancel: cancel, done: make(chan struct{})}

	m.mu.Lock()
	m.leds[id] = s
	if _, ok := m.seen[id]; !ok {
		m.seen[id] = &Device{ID: id, Address: id, LocalName: p.Name(), LastSeen: time.Now()}
	}
	m.mu.Unlock()

	go m.watch(id, s, w)

	m.log.Info("Device connected", "device", id, "name", p.Name())
	return m.device(id), nil
}

func (m *Manager) watch(id string, s *session, w *led.Watcher) {
	defer close(s.done)
	err := w.Run()
	if err != nil && !errors.Is(err, context.Canceled) {
		m.log.Warn("Stopped watching device", "device", id, "error", err)
	}
}

// handler records what a watched device reports on its Device entry and
// forwards the event.
func (m *Manager) handler(id string) led.EventHandler {
	return func(e led.Event) {
		m.mu.Lock()
		if d, ok := m.seen[id]; ok {
			switch e := e.(type) {
			case led.StateChanged:
				d.State = e.State
			case led.SceneChanged:
				scene := e.Scene
				d.Scene = &scene
			case led.TimeTasksChanged:
				d.TimeTasks = e.Tasks
			}
		}
		m.mu.Unlock()
		if de, ok := e.(led.DeviceError); ok {
			m.log.Warn("Device reported error", "device", id, "endpoint", de.Endpoint, "error", de.Error())
		}
		if m.config.OnEvent != nil {
			m.config.OnEvent(e)
		}
	}
}

func (m *Manager) stop(id string, s *session) {
	s.cancel()
	<-s.done
	m.mu.Lock()
	if m.leds[id] == s {
		delete(m.leds, id)
	}
	m.mu.Unlock()
}

func (m *Manager) device(id string) Device {
	for _, d := range m.Devices() {
		if d.ID == id {
			return d
		}
	}
	return Device{ID: id, Address: id}
}

// Disconnect stops watching id and drops its connection.
func (m *Manager) Disconnect(id string) error {
	m.connMu.Lock()
	defer m.connMu.Unlock()

	m.mu.RLock()
	s, ok := m.leds[id]
	m.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrDeviceNotFound, id)
	}

	m.stop(id, s)
	if err := s.led.Disconnect(); err != nil {
		return fmt.Errorf("disconnect %s: %w", id, err)
	}
	m.log.Info("Device disconnected", "device", id)
	return nil
}

// Led returns the session of a connected device.
func (m *Manager) Led(id string) (*led.Led, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.leds[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrDeviceNotFound, id)
	}
	return s.led, nil
}

// Close disconnects every device.
func (m *Manager) Close() error {
	m.mu.RLock()
	ids := make([]string, 0, len(m.leds))
	for id := range m.leds {
		ids = append(ids, id)
	}
	m.mu.RUnlock()

	var errs []error
	for _, id := range ids {
		if err := m.Disconnect(id); err != nil {
			errs = append(errs, err)
		}
	}
	_ = m.StopScan()
	return errors.Join(errs...)
}
