// Package led is the device session for one BLE LED controller: scene and
// timer documents over chunked transfers, plus the small control, state and
// time characteristics.
package led

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"
	"unicode/utf8"

	"github.com/rescp17/ledBridge/pkg/ble"
	"github.com/rescp17/ledBridge/pkg/concurrency"
	"github.com/rescp17/ledBridge/pkg/transfer"
)

// Led is a connected LED controller. Every operation holds the device guard
// for its whole duration, so at most one transfer touches the notification
// stream at a time.
type Led struct {
	peripheral ble.Peripheral
	profile    Profile
	codec      *transfer.Codec

	scene     *transfer.Transmission[Scene]
	value     *transfer.Transmission[json.RawMessage]
	timeTasks *transfer.Transmission[json.RawMessage]

	guard *concurrency.Guard
	errs  transfer.ErrorHandler
	now   func() time.Time
	log   *slog.Logger
}

type options struct {
	profile   Profile
	config    *transfer.Config
	observers []transfer.Observer
	guard     *concurrency.Guard
	errs      transfer.ErrorHandler
	now       func() time.Time
	log       *slog.Logger
}

type Option func(*options)

func WithProfile(p Profile) Option {
	return func(o *options) { o.profile = p }
}

func WithTransferConfig(c *transfer.Config) Option {
	return func(o *options) { o.config = c }
}

func WithObserver(obs transfer.Observer) Option {
	return func(o *options) {
		if obs != nil {
			o.observers = append(o.observers, obs)
		}
	}
}

// WithGuard shares a guard with other users of the same peripheral.
func WithGuard(g *concurrency.Guard) Option {
	return func(o *options) { o.guard = g }
}

// WithErrorHandler decides whether failed operations are retried. The
// default follows the transfer config's retry policy.
func WithErrorHandler(h transfer.ErrorHandler) Option {
	return func(o *options) { o.errs = h }
}

// WithClock replaces time.Now for SetTime.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.log = l }
}

func New(p ble.Peripheral, opts ...Option) (*Led, error) {
	o := options{
		profile: DefaultProfile(),
		config:  transfer.DefaultConfig(),
		now:     time.Now,
		log:     slog.Default(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	if err := o.profile.Validate(); err != nil {
		return nil, fmt.Errorf("led profile: %w", err)
	}
	if o.guard == nil {
		o.guard = concurrency.NewGuard()
	}
	if o.errs == nil {
		o.errs = transfer.NewDefaultErrorHandler(o.config.DefaultRetryPolicy, o.log)
	}

	engine := func(name string) []transfer.Option {
		opts := []transfer.Option{
			transfer.WithConfig(o.config),
			transfer.WithLogger(o.log),
			transfer.WithDevice(p.ID()),
			transfer.WithEndpointName(name),
		}
		for _, obs := range o.observers {
			opts = append(opts, transfer.WithObserver(obs))
		}
		return opts
	}
	sceneEngine, err := transfer.NewEngine(p, o.profile.Scene, engine("scene")...)
	if err != nil {
		return nil, err
	}
	taskEngine, err := transfer.NewEngine(p, o.profile.TimeTasks, engine("time_tasks")...)
	if err != nil {
		return nil, err
	}

	return &Led{
		peripheral: p,
		profile:    o.profile,
		codec:      sceneEngine.Codec(),
		scene:      transfer.NewTransmission[Scene](sceneEngine, nil),
		value:      transfer.NewTransmission[json.RawMessage](sceneEngine, nil),
		timeTasks:  transfer.NewTransmission[json.RawMessage](taskEngine, nil),
		guard:      o.guard,
		errs:       o.errs,
		now:        o.now,
		log:        o.log.With("device", p.ID()),
	}, nil
}

func (l *Led) ID() string                 { return l.peripheral.ID() }
func (l *Led) Name() string               { return l.peripheral.Name() }
func (l *Led) Profile() Profile           { return l.profile }
func (l *Led) Peripheral() ble.Peripheral { return l.peripheral }

// Busy reports whether an operation currently holds the device.
func (l *Led) Busy() bool { return l.guard.Busy() }

func (l *Led) CheckConnected() error {
	if !l.peripheral.IsConnected() {
		return fmt.Errorf("led device not connected: %w", ble.ErrNotConnected)
	}
	return nil
}

// do runs fn under the device guard and retries it as the error handler
// decides.
func (l *Led) do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	for attempt := 0; ; attempt++ {
		err := l.guard.DoNamed(ctx, op, func(ctx context.Context) error {
			if err := l.CheckConnected(); err != nil {
				return err
			}
			return fn(ctx)
		})
		if err == nil {
			return nil
		}

		action := l.errs.HandleError(op, err, attempt)
		l.errs.LogError(op, err, action, attempt)
		if action != transfer.ErrorActionRetry {
			return fmt.Errorf("%s: %w", op, err)
		}

		timer := time.NewTimer(l.errs.GetRetryDelay(attempt))
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("%s: %w", op, ctx.Err())
		}
	}
}

func (l *Led) Control(ctx context.Context, cmd Command) error {
	data, err := cmd.Bytes()
	if err != nil {
		return err
	}
	return l.do(ctx, "control", func(ctx context.Context) error {
		l.log.Debug("Writing control command", "command", cmd)
		return l.peripheral.Write(ctx, l.profile.Control, data, ble.WithResponse)
	})
}

// SetTime writes the current Unix time in milliseconds as a signed 64-bit
// integer in the transfer byte order.
func (l *Led) SetTime(ctx context.Context) error {
	return l.do(ctx, "set_time", func(ctx context.Context) error {
		ms := l.now().UnixMilli()
		l.log.Info("Setting device time", "unix_ms", ms)
		buf := l.codec.Order.AppendUint64(nil, uint64(ms))
		return l.peripheral.Write(ctx, l.profile.Time, buf, ble.WithResponse)
	})
}

func (l *Led) SetScene(ctx context.Context, scene Scene) error {
	if err := scene.Validate(); err != nil {
		return err
	}
	return l.do(ctx, "set_scene", func(ctx context.Context) error {
		return l.scene.WriteValue(ctx, scene)
	})
}

func (l *Led) GetScene(ctx context.Context) (Scene, error) {
	var scene Scene
	err := l.do(ctx, "get_scene", func(ctx context.Context) (err error) {
		scene, err = l.scene.ReadValue(ctx)
		return err
	})
	return scene, err
}

// WriteValue stores an arbitrary JSON document on the scene characteristic.
func (l *Led) WriteValue(ctx context.Context, value json.RawMessage) error {
	return l.do(ctx, "write_value", func(ctx context.Context) error {
		return l.value.WriteValue(ctx, value)
	})
}

// ReadValue reads the scene characteristic without interpreting it.
func (l *Led) ReadValue(ctx context.Context) (json.RawMessage, error) {
	var value json.RawMessage
	err := l.do(ctx, "read_value", func(ctx context.Context) (err error) {
		value, err = l.value.ReadValue(ctx)
		return err
	})
	return value, err
}

func (l *Led) SetTimer(ctx context.Context, tasks json.RawMessage) error {
	return l.do(ctx, "set_timer", func(ctx context.Context) error {
		return l.timeTasks.WriteValue(ctx, tasks)
	})
}

func (l *Led) GetTimeTasks(ctx context.Context) (json.RawMessage, error) {
	var tasks json.RawMessage
	err := l.do(ctx, "get_time_tasks", func(ctx context.Context) (err error) {
		tasks, err = l.timeTasks.ReadValue(ctx)
		return err
	})
	return tasks, err
}

// GetState reads the state characteristic as UTF-8 text.
func (l *Led) GetState(ctx context.Context) (string, error) {
	var state string
	err := l.do(ctx, "get_state", func(ctx context.Context) error {
		raw, err := l.peripheral.Read(ctx, l.profile.State)
		if err != nil {
			return err
		}
		if !utf8.Valid(raw) {
			return fmt.Errorf("state is not valid utf-8: % x", raw)
		}
		state = string(raw)
		return nil
	})
	return state, err
}

// Disconnect drops the BLE connection. Operations in flight fail.
func (l *Led) Disconnect() error {
	return l.peripheral.Disconnect()
}
