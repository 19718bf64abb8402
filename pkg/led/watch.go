package led

import (
	"context"
	"fmt"
	"sync"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/rescp17/ledBridge/pkg/ble"
	"github.com/rescp17/ledBridge/pkg/transfer"
)

// Watch subscribes the state, scene and time-task characteristics and turns
// their notifications into events until ctx is done or the peripheral
// disconnects. It is OpenWatch followed by Run.
func (l *Led) Watch(ctx context.Context, handle EventHandler) error {
	w, err := l.OpenWatch(ctx, handle)
	if err != nil {
		return err
	}
	return w.Run()
}

// OpenWatch subscribes the watched characteristics and opens the
// notification stream before returning, so nothing the device raises after
// it returns is lost. The caller must call Run, which delivers events until
// ctx is done or the peripheral disconnects.
//
// A DataUpdate notification triggers a re-read of the changed document. The
// re-read runs on a separate goroutine under the device guard, so the
// notification stream keeps draining while it waits; updates that arrive
// during a pending re-read are folded into it.
func (l *Led) OpenWatch(ctx context.Context, handle EventHandler) (*Watcher, error) {
	err := l.guard.DoNamed(ctx, "watch", func(ctx context.Context) error {
		if err := l.CheckConnected(); err != nil {
			return err
		}
		for _, char := range []uuid.UUID{l.profile.State, l.profile.Scene, l.profile.TimeTasks} {
			if err := l.peripheral.Subscribe(ctx, char); err != nil {
				return fmt.Errorf("subscribe %s: %w", l.profile.Endpoint(char), err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("watch: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	stream, err := l.peripheral.Notifications(ctx)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("watch: %w", err)
	}

	return &Watcher{
		led:      l,
		handle:   handle,
		ctx:      ctx,
		cancel:   cancel,
		stream:   stream,
		scene:    make(chan struct{}, 1),
		tasks:    make(chan struct{}, 1),
		endpoint: l.profile.Endpoint,
	}, nil
}

// Watcher routes the notifications of one device to an EventHandler.
type Watcher struct {
	led    *Led
	handle EventHandler
	mu     sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc
	stream <-chan ble.Notification

	// one pending re-read per document
	scene chan struct{}
	tasks chan struct{}

	endpoint func(uuid.UUID) string
}

// Run delivers events until the watch context is done or the stream
// closes. It returns the reason it stopped.
func (w *Watcher) Run() error {
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		w.refresh(w.ctx)
	}()

	w.led.log.Info("Watching device notifications")
	err := w.route(w.ctx, w.stream)
	w.cancel()
	wg.Wait()
	w.led.log.Info("Stopped watching device notifications", "reason", err)
	return err
}

func (w *Watcher) emit(e Event) {
	if w.handle == nil {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.handle(e)
}

func (w *Watcher) base() event {
	return event{Device: w.led.ID()}
}

func (w *Watcher) route(ctx context.Context, stream <-chan ble.Notification) error {
	p := w.led.profile
	for n := range stream {
		switch n.Characteristic {
		case p.State:
			if !utf8.Valid(n.Value) {
				w.emit(DeviceError{event: w.base(), Endpoint: "state", Err: fmt.Errorf("state is not valid utf-8: % x", n.Value)})
				continue
			}
			w.emit(StateChanged{event: w.base(), State: string(n.Value)})
		case p.Scene:
			w.document(n, w.scene)
		case p.TimeTasks:
			w.document(n, w.tasks)
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return fmt.Errorf("notification stream closed: %w", ble.ErrNotConnected)
}

// document handles a notification on a transfer characteristic. Transfer
// traffic of our own operations shows up here too and is ignored.
func (w *Watcher) document(n ble.Notification, pending chan struct{}) {
	msg, err := w.led.codec.DecodeNotify(n.Value)
	if err != nil {
		w.led.log.Debug("Ignoring malformed notification", "endpoint", w.endpoint(n.Characteristic), "error", err)
		return
	}
	switch msg.Kind {
	case transfer.NotifyDataUpdate:
		select {
		case pending <- struct{}{}:
		default:
		}
	case transfer.NotifyError:
		w.emit(DeviceError{event: w.base(), Endpoint: w.endpoint(n.Characteristic), Message: msg.Message})
	}
}

func (w *Watcher) refresh(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.scene:
			scene, err := w.led.GetScene(ctx)
			if ctx.Err() != nil {
				return
			}
			if err != nil {
				w.emit(DeviceError{event: w.base(), Endpoint: "scene", Err: err})
				continue
			}
			w.emit(SceneChanged{event: w.base(), Scene: scene})
		case <-w.tasks:
			tasks, err := w.led.GetTimeTasks(ctx)
			if ctx.Err() != nil {
				return
			}
			if err != nil {
				w.emit(DeviceError{event: w.base(), Endpoint: "time_tasks", Err: err})
				continue
			}
			w.emit(TimeTasksChanged{event: w.base(), Tasks: tasks})
		}
	}
}
