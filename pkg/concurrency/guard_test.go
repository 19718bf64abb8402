package concurrency

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGuard_SerialisesHolders(t *testing.T) {
	g := NewGuard()

	var inside, maxInside atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := g.Do(context.Background(), func(context.Context) error {
				n := inside.Add(1)
				for {
					m := maxInside.Load()
					if n <= m || maxInside.CompareAndSwap(m, n) {
						break
					}
				}
				time.Sleep(time.Millisecond)
				inside.Add(-1)
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), maxInside.Load())
	assert.False(t, g.Busy())
}

func TestGuard_ReleasedOnError(t *testing.T) {
	g := NewGuard()
	boom := errors.New("write failed")

	err := g.Do(context.Background(), func(context.Context) error { return boom })
	assert.ErrorIs(t, err, boom)
	assert.False(t, g.Busy())

	require.NoError(t, g.Do(context.Background(), func(context.Context) error { return nil }))
}

func TestGuard_ReleasedOnPanic(t *testing.T) {
	g := NewGuard()

	assert.Panics(t, func() {
		_ = g.Do(context.Background(), func(context.Context) error { panic("firmware exploded") })
	})
	assert.False(t, g.Busy())
}

func TestGuard_AcquireHonoursContext(t *testing.T) {
	g := NewGuard()
	release, err := g.Acquire(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = g.Acquire(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	release()
	release() // second call is a no-op

	cancelled, cancelNow := context.WithCancel(context.Background())
	cancelNow()
	_, err = g.Acquire(cancelled)
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, g.Busy())
}

func TestGuard_TryDo(t *testing.T) {
	g := NewGuard()

	started := make(chan struct{})
	finish := make(chan struct{})
	go func() {
		_ = g.DoNamed(context.Background(), "scan", func(context.Context) error {
			close(started)
			<-finish
			return nil
		})
	}()
	<-started

	assert.True(t, g.Busy())
	assert.Equal(t, "scan", g.Holder())
	assert.ErrorIs(t, g.TryDo(func() error { return nil }), ErrBusy)

	close(finish)
	require.Eventually(t, func() bool { return !g.Busy() }, time.Second, time.Millisecond)

	ran := false
	require.NoError(t, g.TryDo(func() error { ran = true; return nil }))
	assert.True(t, ran)
	assert.Empty(t, g.Holder())
}

func TestGuard_TryAcquire(t *testing.T) {
	g := NewGuard()

	release, err := g.TryAcquire("scan")
	require.NoError(t, err)
	assert.Equal(t, "scan", g.Holder())

	_, err = g.TryAcquire("scan")
	assert.ErrorIs(t, err, ErrBusy)

	release()
	release, err = g.TryAcquire("scan")
	require.NoError(t, err)
	release()
}
