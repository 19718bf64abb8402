package led

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rescp17/ledBridge/pkg/ble"
	"github.com/rescp17/ledBridge/pkg/ble/bletest"
)

type watchRun struct {
	events chan Event
	done   chan error
	cancel context.CancelFunc
}

func startWatch(t *testing.T, l *Led, p *bletest.Peripheral) *watchRun {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	w := &watchRun{
		events: make(chan Event, 32),
		done:   make(chan error, 1),
		cancel: cancel,
	}
	go func() {
		w.done <- l.Watch(ctx, func(e Event) { w.events <- e })
	}()
	t.Cleanup(cancel)

	require.Eventually(t, func() bool {
		return p.Subscribed(DefaultProfile().TimeTasks) && p.Listeners() == 1
	}, time.Second, time.Millisecond, "watch did not start")
	return w
}

// nextOf waits for the next event of type T, skipping others.
func nextOf[T Event](t *testing.T, w *watchRun) T {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case e := <-w.events:
			if v, ok := e.(T); ok {
				return v
			}
		case <-deadline:
			var zero T
			t.Fatalf("no %T event", zero)
			return zero
		}
	}
}

func (w *watchRun) wait(t *testing.T) error {
	t.Helper()
	select {
	case err := <-w.done:
		return err
	case <-time.After(2 * time.Second):
		t.Fatal("watch did not return")
		return nil
	}
}

func TestWatch_StateChanges(t *testing.T) {
	l, sim, p := newSimulated(t)
	w := startWatch(t, l, p)

	sim.SetState(StateOpened)
	e := nextOf[StateChanged](t, w)
	assert.Equal(t, StateOpened, e.State)
	assert.Equal(t, testAddress, e.DeviceID())

	require.NoError(t, l.Control(context.Background(), CommandClose))
	assert.Equal(t, StateClosed, nextOf[StateChanged](t, w).State)
}

func TestWatch_DeviceSideSceneChange(t *testing.T) {
	l, sim, p := newSimulated(t)
	w := startWatch(t, l, p)

	doc, err := json.Marshal(Scene{Name: "night", Type: SceneSolid, Color: "#110022"})
	require.NoError(t, err)
	sim.ChangeScene(doc)

	e := nextOf[SceneChanged](t, w)
	assert.Equal(t, "night", e.Scene.Name)
	assert.Equal(t, "#110022", e.Scene.Color)
}

func TestWatch_OwnWriteIsReadBack(t *testing.T) {
	l, _, p := newSimulated(t)
	w := startWatch(t, l, p)

	scene := Scene{Name: "ocean", Type: SceneGradient, Colors: []ColorDuration{{"#001f3f", 2000}, {"#0074d9", 2000}}}
	require.NoError(t, l.SetScene(context.Background(), scene))
	assert.Equal(t, scene, nextOf[SceneChanged](t, w).Scene)

	tasks := json.RawMessage(`[{"name":"sleep","time":"23:00"}]`)
	require.NoError(t, l.SetTimer(context.Background(), tasks))
	assert.JSONEq(t, string(tasks), string(nextOf[TimeTasksChanged](t, w).Tasks))
}

func TestWatch_DeviceError(t *testing.T) {
	l, sim, p := newSimulated(t)
	w := startWatch(t, l, p)

	sim.Fail("overheated")
	e := nextOf[DeviceError](t, w)
	assert.Equal(t, "scene", e.Endpoint)
	assert.Equal(t, "overheated", e.Message)
	assert.Contains(t, e.Error(), "overheated")
}

func TestWatch_BurstOfUpdatesCoalesces(t *testing.T) {
	l, sim, p := newSimulated(t)
	w := startWatch(t, l, p)

	for i := 0; i < 10; i++ {
		sim.ChangeTimeTasks([]byte(`[]`))
	}
	sim.ChangeTimeTasks([]byte(`["last"]`))

	deadline := time.After(2 * time.Second)
	for {
		select {
		case e := <-w.events:
			if tc, ok := e.(TimeTasksChanged); ok && string(tc.Tasks) == `["last"]` {
				return
			}
		case <-deadline:
			t.Fatal("final document never observed")
		}
	}
}

func TestWatch_StopsOnCancel(t *testing.T) {
	l, _, p := newSimulated(t)
	w := startWatch(t, l, p)

	w.cancel()
	assert.ErrorIs(t, w.wait(t), context.Canceled)
	assert.Eventually(t, func() bool { return p.Listeners() == 0 }, time.Second, time.Millisecond)
}

func TestWatch_StopsOnDisconnect(t *testing.T) {
	l, _, p := newSimulated(t)
	w := startWatch(t, l, p)

	require.NoError(t, p.Disconnect())
	assert.ErrorIs(t, w.wait(t), ble.ErrNotConnected)
}

func TestWatch_RequiresConnection(t *testing.T) {
	l, _, p := newSimulated(t)
	require.NoError(t, p.Disconnect())

	err := l.Watch(context.Background(), nil)
	assert.ErrorIs(t, err, ble.ErrNotConnected)
}

func TestWatch_NotificationsBeforeRunAreDelivered(t *testing.T) {
	l, sim, p := newSimulated(t)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	events := make(chan Event, 8)
	w, err := l.OpenWatch(ctx, func(e Event) { events <- e })
	require.NoError(t, err)
	assert.True(t, p.Subscribed(DefaultProfile().State))

	// Raised before anything routes the stream.
	sim.SetState(StateOpened)

	done := make(chan error, 1)
	go func() { done <- w.Run() }()

	run := &watchRun{events: events, done: done, cancel: cancel}
	assert.Equal(t, StateOpened, nextOf[StateChanged](t, run).State)

	cancel()
	assert.ErrorIs(t, run.wait(t), context.Canceled)
}
