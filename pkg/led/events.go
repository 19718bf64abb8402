package led

import "encoding/json"

// Event is something a watched device reported. Only types in this package
// implement it.
type Event interface {
	isEvent()
	DeviceID() string
}

type event struct {
	Device string `json:"device"`
}

func (event) isEvent() {}

func (e event) DeviceID() string { return e.Device }

// StateChanged carries the new value of the state characteristic, for
// example "opened" or "closed".
type StateChanged struct {
	event
	State string `json:"state"`
}

// SceneChanged carries the scene re-read after the device announced an
// update.
type SceneChanged struct {
	event
	Scene Scene `json:"scene"`
}

// TimeTasksChanged carries the timer task list re-read after the device
// announced an update.
type TimeTasksChanged struct {
	event
	Tasks json.RawMessage `json:"tasks"`
}

// DeviceError is either an Error notification from the firmware (Message)
// or a failed re-read (Err).
type DeviceError struct {
	event
	Endpoint string `json:"endpoint"`
	Message  string `json:"message,omitempty"`
	Err      error  `json:"-"`
}

func (e DeviceError) Error() string {
	if e.Err != nil {
		return e.Endpoint + ": " + e.Err.Error()
	}
	return e.Endpoint + ": device reported " + e.Message
}

// EventHandler receives events from Watch. Calls are serialised and should
// return quickly.
type EventHandler func(Event)

var (
	_ Event = StateChanged{}
	_ Event = SceneChanged{}
	_ Event = TimeTasksChanged{}
	_ Event = DeviceError{}
)
