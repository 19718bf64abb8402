package manager

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rescp17/ledBridge/pkg/ble"
	"github.com/rescp17/ledBridge/pkg/ble/bletest"
	"github.com/rescp17/ledBridge/pkg/concurrency"
	"github.com/rescp17/ledBridge/pkg/led"
	"github.com/rescp17/ledBridge/pkg/transfer"
)

const (
	kitchen = "AA:00:00:00:00:01"
	bedroom = "AA:00:00:00:00:02"
)

type fixture struct {
	manager *Manager
	central *bletest.Central
	sims    map[string]*led.Simulator

	mu     sync.Mutex
	events []led.Event
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{central: bletest.NewCentral(), sims: make(map[string]*led.Simulator)}
	for addr, name := range map[string]string{kitchen: "LED-kitchen", bedroom: "LED-bedroom"} {
		sim := led.NewSimulator(addr, name, led.DefaultProfile(), nil, 128)
		sim.Register(f.central)
		f.sims[addr] = sim
	}
	// A device without the LED service must not show up.
	f.central.Advertise(ble.Advertisement{Address: "CC:00:00:00:00:09", LocalName: "Speaker"}, nil)

	f.manager = New(f.central, Config{
		Observers: []transfer.Observer{transfer.NewStatusManager()},
		OnEvent: func(e led.Event) {
			f.mu.Lock()
			f.events = append(f.events, e)
			f.mu.Unlock()
		},
	})
	t.Cleanup(func() { _ = f.manager.Close() })
	return f
}

func (f *fixture) init(t *testing.T) {
	t.Helper()
	_, err := f.manager.Init(context.Background())
	require.NoError(t, err)
}

func TestManager_InitAndScan(t *testing.T) {
	f := newFixture(t)

	_, ok := f.manager.Adapter()
	assert.False(t, ok)

	_, err := f.manager.Scan(context.Background(), 10*time.Millisecond)
	assert.ErrorIs(t, err, ble.ErrAdapterDisabled)

	f.init(t)
	info, ok := f.manager.Adapter()
	require.True(t, ok)
	assert.Equal(t, "simulated", info.Backend)

	devices, err := f.manager.Scan(context.Background(), 20*time.Millisecond)
	require.NoError(t, err)
	require.Len(t, devices, 2)
	assert.Equal(t, kitchen, devices[0].Address)
	assert.Equal(t, "LED-kitchen", devices[0].LocalName)
	assert.Equal(t, bedroom, devices[1].Address)
	assert.False(t, devices[0].Connected)
}

func TestManager_BackgroundScan(t *testing.T) {
	f := newFixture(t)
	f.init(t)

	updates := make(chan []Device, 8)
	require.NoError(t, f.manager.StartScan(context.Background(), func(d []Device) { updates <- d }))
	assert.ErrorIs(t, f.manager.StartScan(context.Background(), nil), concurrency.ErrBusy)

	select {
	case d := <-updates:
		assert.NotEmpty(t, d)
	case <-time.After(time.Second):
		t.Fatal("no scan update")
	}

	require.NoError(t, f.manager.StopScan())

	// Once the first scan has wound down the guard is free again.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.Eventually(t, func() bool {
		return f.manager.StartScan(ctx, nil) == nil
	}, time.Second, 5*time.Millisecond)
	assert.Len(t, f.manager.Devices(), 2)
}

func TestManager_ConnectAndCommands(t *testing.T) {
	f := newFixture(t)
	f.init(t)
	ctx := context.Background()

	d, err := f.manager.Connect(ctx, kitchen)
	require.NoError(t, err)
	assert.True(t, d.Connected)
	assert.Equal(t, "LED-kitchen", d.LocalName)
	assert.False(t, f.sims[kitchen].Time().IsZero(), "connect should set the device clock")

	again, err := f.manager.Connect(ctx, kitchen)
	require.NoError(t, err)
	assert.Equal(t, d.ID, again.ID)

	require.NoError(t, f.manager.Control(ctx, kitchen, led.CommandOpen))
	state, err := f.manager.GetState(ctx, kitchen)
	require.NoError(t, err)
	assert.Equal(t, led.StateOpened, state)

	scene := led.Scene{Name: "warm", Type: led.SceneSolid, Color: "#ffaa00", AutoOn: true}
	require.NoError(t, f.manager.SetScene(ctx, kitchen, scene))
	got, err := f.manager.GetScene(ctx, kitchen)
	require.NoError(t, err)
	assert.Equal(t, scene, got)

	tasks := json.RawMessage(`[{"name":"wake"}]`)
	require.NoError(t, f.manager.SetTimer(ctx, kitchen, tasks))
	gotTasks, err := f.manager.GetTimeTasks(ctx, kitchen)
	require.NoError(t, err)
	assert.JSONEq(t, string(tasks), string(gotTasks))

	require.NoError(t, f.manager.WriteValue(ctx, kitchen, json.RawMessage(`{"raw":1}`)))
	raw, err := f.manager.ReadValue(ctx, kitchen)
	require.NoError(t, err)
	assert.JSONEq(t, `{"raw":1}`, string(raw))

	// The watcher records the state notification raised by the command.
	assert.Eventually(t, func() bool {
		for _, dev := range f.manager.Devices() {
			if dev.ID == kitchen {
				return dev.State == led.StateOpened
			}
		}
		return false
	}, time.Second, 5*time.Millisecond)
}

func (f *fixture) device(id string) (Device, bool) {
	for _, d := range f.manager.Devices() {
		if d.ID == id {
			return d, true
		}
	}
	return Device{}, false
}

func (f *fixture) sawState(id, state string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, e := range f.events {
		if sc, ok := e.(led.StateChanged); ok && sc.DeviceID() == id && sc.State == state {
			return true
		}
	}
	return false
}

func TestManager_FirstCommandAfterConnectIsWatched(t *testing.T) {
	f := newFixture(t)
	f.init(t)
	ctx := context.Background()

	_, err := f.manager.Connect(ctx, kitchen)
	require.NoError(t, err)
	require.NoError(t, f.manager.Control(ctx, kitchen, led.CommandOpen))

	assert.Eventually(t, func() bool { return f.sawState(kitchen, led.StateOpened) },
		time.Second, 5*time.Millisecond, "state notification of the first command was lost")
	d, ok := f.device(kitchen)
	require.True(t, ok)
	assert.Equal(t, led.StateOpened, d.State)
}

func TestManager_DevicesCarryLatestDocuments(t *testing.T) {
	f := newFixture(t)
	f.init(t)
	ctx := context.Background()

	d, err := f.manager.Connect(ctx, kitchen)
	require.NoError(t, err)
	assert.NotContains(t, mustJSON(t, d), `"scene"`)

	scene := led.Scene{Name: "night", Type: led.SceneSolid, Color: "#110022"}
	doc, err := json.Marshal(scene)
	require.NoError(t, err)
	f.sims[kitchen].ChangeScene(doc)
	f.sims[kitchen].ChangeTimeTasks([]byte(`[{"name":"sleep"}]`))

	require.Eventually(t, func() bool {
		d, ok := f.device(kitchen)
		return ok && d.Scene != nil && d.TimeTasks != nil
	}, 2*time.Second, 5*time.Millisecond)

	d, _ = f.device(kitchen)
	assert.Equal(t, scene, *d.Scene)
	assert.JSONEq(t, `[{"name":"sleep"}]`, string(d.TimeTasks))

	out := mustJSON(t, d)
	assert.Contains(t, out, `"scene":{"name":"night"`)
	assert.Contains(t, out, `"time_tasks":[{"name":"sleep"}]`)
}

func mustJSON(t *testing.T, v any) string {
	t.Helper()
	out, err := json.Marshal(v)
	require.NoError(t, err)
	return string(out)
}

func TestManager_UnknownDevice(t *testing.T) {
	f := newFixture(t)
	f.init(t)
	ctx := context.Background()

	assert.ErrorIs(t, f.manager.Control(ctx, kitchen, led.CommandOpen), ErrDeviceNotFound)
	_, err := f.manager.GetScene(ctx, kitchen)
	assert.ErrorIs(t, err, ErrDeviceNotFound)
	assert.ErrorIs(t, f.manager.Disconnect(kitchen), ErrDeviceNotFound)

	_, err = f.manager.Connect(ctx, "DD:00:00:00:00:00")
	assert.ErrorIs(t, err, ble.ErrDeviceNotFound)
}

func TestManager_Disconnect(t *testing.T) {
	f := newFixture(t)
	f.init(t)
	ctx := context.Background()

	_, err := f.manager.Connect(ctx, kitchen)
	require.NoError(t, err)
	require.NoError(t, f.manager.Disconnect(kitchen))

	_, err = f.manager.Led(kitchen)
	assert.ErrorIs(t, err, ErrDeviceNotFound)
	assert.ErrorIs(t, f.manager.Control(ctx, kitchen, led.CommandOpen), ErrDeviceNotFound)

	// Reconnecting builds a fresh session against the same firmware.
	_, err = f.manager.Connect(ctx, kitchen)
	require.NoError(t, err)
	require.NoError(t, f.manager.Control(ctx, kitchen, led.CommandOpen))
	assert.Equal(t, led.StateOpened, f.sims[kitchen].State())
}

func TestManager_ForwardsEvents(t *testing.T) {
	f := newFixture(t)
	f.init(t)

	_, err := f.manager.Connect(context.Background(), bedroom)
	require.NoError(t, err)

	// The watcher subscribes asynchronously; keep nudging until it hears.
	require.Eventually(t, func() bool {
		f.sims[bedroom].SetState(led.StateOpened)
		f.mu.Lock()
		defer f.mu.Unlock()
		for _, e := range f.events {
			if sc, ok := e.(led.StateChanged); ok && sc.DeviceID() == bedroom {
				return sc.State == led.StateOpened
			}
		}
		return false
	}, time.Second, 10*time.Millisecond)
}

func TestManager_Close(t *testing.T) {
	f := newFixture(t)
	f.init(t)
	ctx := context.Background()

	for _, id := range []string{kitchen, bedroom} {
		_, err := f.manager.Connect(ctx, id)
		require.NoError(t, err)
	}
	require.NoError(t, f.manager.Close())

	for _, d := range f.manager.Devices() {
		assert.False(t, d.Connected, d.ID)
	}
	_, err := f.manager.Led(bedroom)
	assert.ErrorIs(t, err, ErrDeviceNotFound)
}
