// Package bletest provides in-memory BLE centrals and peripherals whose
// characteristics are driven by Go handlers.
package bletest

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/rescp17/ledBridge/pkg/ble"
)

// NotifyFunc pushes a notification on the characteristic the handler serves.
type NotifyFunc func(value []byte)

// Handler implements the behaviour of one characteristic.
type Handler interface {
	OnWrite(data []byte, mode ble.WriteMode, notify NotifyFunc) error
	OnRead() ([]byte, error)
}

// HandlerFuncs adapts plain functions to Handler. A nil func accepts the
// write or returns an empty read.
type HandlerFuncs struct {
	Write func(data []byte, mode ble.WriteMode, notify NotifyFunc) error
	Read  func() ([]byte, error)
}

func (h HandlerFuncs) OnWrite(data []byte, mode ble.WriteMode, notify NotifyFunc) error {
	if h.Write == nil {
		return nil
	}
	return h.Write(data, mode, notify)
}

func (h HandlerFuncs) OnRead() ([]byte, error) {
	if h.Read == nil {
		return nil, nil
	}
	return h.Read()
}

// WriteRecord is one write observed by the peripheral.
type WriteRecord struct {
	Characteristic uuid.UUID
	Data           []byte
	Mode           ble.WriteMode
}

// Peripheral is an in-memory ble.Peripheral. Notifications raised by
// handlers are delivered asynchronously, in order, after the write that
// caused them returns.
type Peripheral struct {
	id   string
	name string
	hub  *ble.Hub

	outbox chan ble.Notification
	quit   chan struct{}
	wg     sync.WaitGroup

	mu         sync.Mutex
	handlers   map[uuid.UUID]Handler
	subscribed map[uuid.UUID]bool
	connected  bool
	writes     []WriteRecord
	reads      int
}

var _ ble.Peripheral = (*Peripheral)(nil)

func NewPeripheral(id, name string) *Peripheral {
	p := &Peripheral{
		id:         id,
		name:       name,
		hub:        ble.NewHub(),
		outbox:     make(chan ble.Notification, 64),
		quit:       make(chan struct{}),
		handlers:   make(map[uuid.UUID]Handler),
		subscribed: make(map[uuid.UUID]bool),
		connected:  true,
	}
	p.wg.Add(1)
	go p.deliver()
	return p
}

func (p *Peripheral) deliver() {
	defer p.wg.Done()
	for {
		select {
		case n := <-p.outbox:
			p.hub.Publish(n)
		case <-p.quit:
			return
		}
	}
}

// Handle registers the behaviour of char.
func (p *Peripheral) Handle(char uuid.UUID, h Handler) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.handlers[char] = h
}

func (p *Peripheral) ID() string   { return p.id }
func (p *Peripheral) Name() string { return p.name }

func (p *Peripheral) IsConnected() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.connected
}

func (p *Peripheral) handler(char uuid.UUID) (Handler, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.connected {
		return nil, ble.ErrNotConnected
	}
	h, ok := p.handlers[char]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ble.ErrCharacteristicNotFound, char)
	}
	return h, nil
}

func (p *Peripheral) Subscribe(ctx context.Context, char uuid.UUID) error {
	if _, err := p.handler(char); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.subscribed[char] = true
	return nil
}

// Subscribed reports whether notifications are enabled on char.
func (p *Peripheral) Subscribed(char uuid.UUID) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.subscribed[char]
}

func (p *Peripheral) Write(ctx context.Context, char uuid.UUID, data []byte, mode ble.WriteMode) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	h, err := p.handler(char)
	if err != nil {
		return err
	}

	frame := append([]byte(nil), data...)
	p.mu.Lock()
	p.writes = append(p.writes, WriteRecord{Characteristic: char, Data: frame, Mode: mode})
	p.mu.Unlock()

	return h.OnWrite(frame, mode, func(value []byte) {
		p.Notify(char, value)
	})
}

func (p *Peripheral) Read(ctx context.Context, char uuid.UUID) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	h, err := p.handler(char)
	if err != nil {
		return nil, err
	}
	p.mu.Lock()
	p.reads++
	p.mu.Unlock()
	return h.OnRead()
}

func (p *Peripheral) Notifications(ctx context.Context) (<-chan ble.Notification, error) {
	if !p.IsConnected() {
		return nil, ble.ErrNotConnected
	}
	return p.hub.Subscribe(ctx)
}

// Notify queues a notification on char. Notifications on characteristics
// nobody subscribed to are dropped, as a real stack would.
func (p *Peripheral) Notify(char uuid.UUID, value []byte) {
	if !p.Subscribed(char) {
		return
	}
	n := ble.Notification{Characteristic: char, Value: append([]byte(nil), value...)}
	select {
	case p.outbox <- n:
	case <-p.quit:
	}
}

// CloseNotifications ends every notification stream while the peripheral
// stays connected.
func (p *Peripheral) CloseNotifications() {
	p.hub.Close()
}

func (p *Peripheral) Disconnect() error {
	p.mu.Lock()
	if !p.connected {
		p.mu.Unlock()
		return nil
	}
	p.connected = false
	p.mu.Unlock()

	p.hub.Close()
	close(p.quit)
	p.wg.Wait()
	return nil
}

// Listeners returns the number of open notification streams.
func (p *Peripheral) Listeners() int {
	return p.hub.Len()
}

// Writes returns every write seen so far, oldest first.
func (p *Peripheral) Writes() []WriteRecord {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]WriteRecord(nil), p.writes...)
}

// WritesTo returns the frames written to char.
func (p *Peripheral) WritesTo(char uuid.UUID) [][]byte {
	var out [][]byte
	for _, w := range p.Writes() {
		if w.Characteristic == char {
			out = append(out, w.Data)
		}
	}
	return out
}

// Reads returns how many raw reads were served.
func (p *Peripheral) Reads() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.reads
}
