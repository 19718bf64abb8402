package led

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rescp17/ledBridge/pkg/ble"
	"github.com/rescp17/ledBridge/pkg/ble/bletest"
	"github.com/rescp17/ledBridge/pkg/transfer"
)

const (
	StateOpened = "opened"
	StateClosed = "closed"
)

// DefaultScene is what a simulated device holds after power-up or reset.
var DefaultScene = Scene{Name: "default", Type: SceneSolid, Color: "#ffffff"}

// Simulator is in-memory LED firmware. It answers the chunked transfer
// protocol on the scene and time-task characteristics, stores commands and
// time, and announces changes the way the device does.
type Simulator struct {
	address string
	name    string
	profile Profile
	codec   *transfer.Codec
	mtu     uint16

	mu     sync.Mutex
	state  string
	timeMS int64
	// failNext, when set, answers the next scene transfer with an Error.
	failNext string
	device *bletest.Peripheral
	scene  *bletest.TransferPeer
	tasks  *bletest.TransferPeer
}

// NewSimulator builds firmware that negotiates mtu bytes per frame.
func NewSimulator(address, name string, profile Profile, codec *transfer.Codec, mtu uint16) *Simulator {
	if codec == nil {
		codec = transfer.NewCodec(nil)
	}
	initial, _ := json.Marshal(DefaultScene)
	return &Simulator{
		address: address,
		name:    name,
		profile: profile,
		codec:   codec,
		mtu:     mtu,
		state:   StateClosed,
		scene:   bletest.NewTransferPeer(codec, mtu, initial),
		tasks:   bletest.NewTransferPeer(codec, mtu, []byte("[]")),
	}
}

func (s *Simulator) Advertisement() ble.Advertisement {
	return ble.Advertisement{
		Address:   s.address,
		LocalName: s.name,
		RSSI:      -50,
		Services:  []uuid.UUID{s.profile.Service},
	}
}

// Connect builds a fresh peripheral sharing this firmware's stored state.
func (s *Simulator) Connect() *bletest.Peripheral {
	p := bletest.NewPeripheral(s.address, s.name)
	notifier := func(char uuid.UUID) bletest.NotifyFunc {
		return func(v []byte) { p.Notify(char, v) }
	}

	s.scene.OnStore(func([]byte) { s.scene.Changed(notifier(s.profile.Scene)) })
	s.tasks.OnStore(func([]byte) { s.tasks.Changed(notifier(s.profile.TimeTasks)) })
	p.Handle(s.profile.Scene, bletest.HandlerFuncs{Write: s.writeScene, Read: s.scene.OnRead})
	p.Handle(s.profile.TimeTasks, s.tasks)
	p.Handle(s.profile.Control, bletest.HandlerFuncs{Write: s.control(notifier(s.profile.State))})
	p.Handle(s.profile.State, bletest.HandlerFuncs{Read: s.readState})
	p.Handle(s.profile.Time, bletest.HandlerFuncs{Write: s.writeTime})

	s.mu.Lock()
	s.device = p
	s.mu.Unlock()
	return p
}

func (s *Simulator) writeScene(data []byte, mode ble.WriteMode, notify bletest.NotifyFunc) error {
	s.mu.Lock()
	msg := s.failNext
	s.failNext = ""
	s.mu.Unlock()
	if msg == "" {
		return s.scene.OnWrite(data, mode, notify)
	}
	frame, err := s.codec.EncodeNotify(transfer.NotifyMessage{Kind: transfer.NotifyError, Message: msg})
	if err != nil {
		return err
	}
	notify(frame)
	return nil
}

func (s *Simulator) control(notifyState bletest.NotifyFunc) func([]byte, ble.WriteMode, bletest.NotifyFunc) error {
	return func(data []byte, _ ble.WriteMode, _ bletest.NotifyFunc) error {
		cmd, err := ParseCommand(string(data))
		if err != nil {
			return err
		}

		s.mu.Lock()
		switch cmd {
		case CommandOpen:
			s.state = StateOpened
		case CommandClose:
			s.state = StateClosed
		case CommandReset:
			s.state = StateClosed
		}
		state := s.state
		s.mu.Unlock()

		if cmd == CommandReset {
			initial, _ := json.Marshal(DefaultScene)
			s.scene.SetValue(initial)
			s.tasks.SetValue([]byte("[]"))
		}
		notifyState([]byte(state))
		return nil
	}
}

func (s *Simulator) readState() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return []byte(s.state), nil
}

func (s *Simulator) writeTime(data []byte, _ ble.WriteMode, _ bletest.NotifyFunc) error {
	if len(data) != 8 {
		return fmt.Errorf("time must be 8 bytes, got %d", len(data))
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.timeMS = int64(s.codec.Order.Uint64(data))
	return nil
}

// State is the firmware's open/closed state.
func (s *Simulator) State() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Time is the last clock value written by a controller.
func (s *Simulator) Time() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return time.UnixMilli(s.timeMS)
}

// SceneJSON is the stored scene document.
func (s *Simulator) SceneJSON() []byte {
	return s.scene.Value()
}

// TimeTasksJSON is the stored timer document.
func (s *Simulator) TimeTasksJSON() []byte {
	return s.tasks.Value()
}

// ChangeScene replaces the scene as if changed on the device itself and
// announces the update.
func (s *Simulator) ChangeScene(doc []byte) {
	s.scene.SetValue(doc)
	if p := s.peripheral(); p != nil {
		s.scene.Changed(func(v []byte) { p.Notify(s.profile.Scene, v) })
	}
}

// ChangeTimeTasks replaces the timer document and announces the update.
func (s *Simulator) ChangeTimeTasks(doc []byte) {
	s.tasks.SetValue(doc)
	if p := s.peripheral(); p != nil {
		s.tasks.Changed(func(v []byte) { p.Notify(s.profile.TimeTasks, v) })
	}
}

// Fail raises an Error notification on the scene characteristic.
func (s *Simulator) Fail(message string) {
	p := s.peripheral()
	if p == nil {
		return
	}
	frame, err := s.codec.EncodeNotify(transfer.NotifyMessage{Kind: transfer.NotifyError, Message: message})
	if err != nil {
		return
	}
	p.Notify(s.profile.Scene, frame)
}

// FailNextTransfer makes the next control write on the scene
// characteristic fail with an Error notification carrying message.
func (s *Simulator) FailNextTransfer(message string) {
	s.mu.Lock()
	s.failNext = message
	s.mu.Unlock()
}

// SetState flips the state as if toggled on the device and announces it.
func (s *Simulator) SetState(state string) {
	s.mu.Lock()
	s.state = state
	p := s.device
	s.mu.Unlock()
	if p != nil {
		p.Notify(s.profile.State, []byte(state))
	}
}

func (s *Simulator) peripheral() *bletest.Peripheral {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.device
}

// Register advertises the simulator on central.
func (s *Simulator) Register(central *bletest.Central) {
	central.Advertise(s.Advertisement(), s.Connect)
}
