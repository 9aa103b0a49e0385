package agent

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func waitForPending(t *testing.T, l *Lock, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return l.Pending() == n }, time.Second, time.Millisecond)
}

func TestLock_FIFOOrder(t *testing.T) {
	l := NewLock()
	require.NoError(t, l.Acquire(context.Background()))

	var (
		mu    sync.Mutex
		order []int
		wg    sync.WaitGroup
	)
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = l.Run(context.Background(), func(context.Context) error {
				mu.Lock()
				order = append(order, i)
				mu.Unlock()
				return nil
			})
		}(i)
		// enqueue one at a time so arrival order is deterministic
		waitForPending(t, l, i+1)
	}

	l.Release()
	wg.Wait()
	assert.Equal(t, []int{0, 1, 2, 3, 4}, order)
	assert.False(t, l.Busy())
}

func TestLock_NoOverlap(t *testing.T) {
	l := NewLock()
	var (
		active  int
		maxSeen int
		mu      sync.Mutex
		wg      sync.WaitGroup
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = l.Run(context.Background(), func(context.Context) error {
				mu.Lock()
				active++
				if active > maxSeen {
					maxSeen = active
				}
				mu.Unlock()
				time.Sleep(time.Millisecond)
				mu.Lock()
				active--
				mu.Unlock()
				return nil
			})
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, maxSeen)
}

func TestLock_PanicHandsOff(t *testing.T) {
	l := NewLock()
	err := l.Run(context.Background(), func(context.Context) error {
		panic("boom")
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
	assert.False(t, l.Busy())

	ran := false
	require.NoError(t, l.Run(context.Background(), func(context.Context) error {
		ran = true
		return nil
	}))
	assert.True(t, ran)
}

func TestLock_CancelWhileWaiting(t *testing.T) {
	l := NewLock()
	require.NoError(t, l.Acquire(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- l.Acquire(ctx) }()
	waitForPending(t, l, 1)

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
	assert.Equal(t, 0, l.Pending())

	l.Release()
	assert.False(t, l.Busy())
}

func TestLock_ReleaseUnlockedPanics(t *testing.T) {
	l := NewLock()
	assert.Panics(t, func() { l.Release() })
}
