// Package concurrency provides the per-device guard that serialises BLE
// operations touching one peripheral's notification stream.
package concurrency

import (
	"context"
	"errors"
	"sync"
)

var ErrBusy = errors.New("device is busy")

// Guard admits one holder at a time. Acquire waits, TryDo does not.
type Guard struct {
	sem chan struct{}

	mu     sync.Mutex
	holder string
}

func NewGuard() *Guard {
	return &Guard{sem: make(chan struct{}, 1)}
}

// Acquire blocks until the guard is free or ctx is done. The returned
// release must be called exactly once; extra calls are ignored.
func (g *Guard) Acquire(ctx context.Context) (release func(), err error) {
	return g.acquire(ctx, "")
}

func (g *Guard) acquire(ctx context.Context, name string) (func(), error) {
	// Prefer a context error over a lucky acquisition.
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	select {
	case g.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	g.setHolder(name)
	return g.releaser(), nil
}

func (g *Guard) releaser() func() {
	var once sync.Once
	return func() {
		once.Do(func() {
			g.setHolder("")
			<-g.sem
		})
	}
}

func (g *Guard) setHolder(name string) {
	g.mu.Lock()
	g.holder = name
	g.mu.Unlock()
}

// Do runs task while holding the guard. The guard is released when task
// returns or panics.
func (g *Guard) Do(ctx context.Context, task func(ctx context.Context) error) error {
	return g.DoNamed(ctx, "", task)
}

// DoNamed is Do with an operation name reported by Holder while task runs.
func (g *Guard) DoNamed(ctx context.Context, name string, task func(ctx context.Context) error) error {
	release, err := g.acquire(ctx, name)
	if err != nil {
		return err
	}
	defer release()
	return task(ctx)
}

// TryAcquire takes the guard only if it is free right now.
func (g *Guard) TryAcquire(name string) (release func(), err error) {
	select {
	case g.sem <- struct{}{}:
	default:
		return nil, ErrBusy
	}
	g.setHolder(name)
	return g.releaser(), nil
}

// TryDo runs task only if the guard is free right now, else returns ErrBusy.
func (g *Guard) TryDo(task func() error) error {
	release, err := g.TryAcquire("")
	if err != nil {
		return err
	}
	defer release()
	return task()
}

// Busy reports whether someone holds the guard.
func (g *Guard) Busy() bool {
	return len(g.sem) > 0
}

// Holder names the operation holding the guard, if it was given one.
func (g *Guard) Holder() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.holder
}
