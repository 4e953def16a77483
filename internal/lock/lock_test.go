package lock_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/msomdec/minddump/internal/lock"
)

// waitForQueue blocks until n callers are queued on l.
func waitForQueue[V any](t *testing.T, l *lock.Locker[V], n int) {
	t.Helper()
	require.Eventually(t, func() bool { return l.Waiting() == n }, time.Second, time.Millisecond)
}

func TestLocker_AcquireWhenUnlocked(t *testing.T) {
	l := lock.New("db")

	tok, err := l.Acquire(context.Background())
	require.NoError(t, err)
	require.Equal(t, "db", tok.Value)
	require.True(t, l.Locked())

	tok.Release()
	require.False(t, l.Locked())
}

func TestLocker_SecondAcquireWaitsForRelease(t *testing.T) {
	l := lock.New(1)
	ctx := context.Background()

	first, err := l.Acquire(ctx)
	require.NoError(t, err)

	got := make(chan *lock.Token[int])
	go func() {
		tok, err := l.Acquire(ctx)
		if err != nil {
			t.Errorf("Acquire: %v", err)
			close(got)
			return
		}
		got <- tok
	}()

	waitForQueue(t, l, 1)
	select {
	case <-got:
		require.FailNow(t, "second acquire resolved before release")
	case <-time.After(20 * time.Millisecond):
	}

	first.Release()
	second := <-got
	require.NotNil(t, second)
	require.True(t, l.Locked())
	second.Release()
	require.False(t, l.Locked())
}

func TestLocker_GrantsInFIFOOrder(t *testing.T) {
	l := lock.New(struct{}{})
	ctx := context.Background()

	holder, err := l.Acquire(ctx)
	require.NoError(t, err)

	const n = 10
	var (
		mu    sync.Mutex
		order []int
		wg    sync.WaitGroup
	)
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tok, err := l.Acquire(ctx)
			if err != nil {
				t.Errorf("Acquire %d: %v", i, err)
				return
			}
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			tok.Release()
		}()
		// Queue callers one at a time so request order is known.
		waitForQueue(t, l, i+1)
	}

	holder.Release()
	wg.Wait()

	want := make([]int, n)
	for i := range want {
		want[i] = i
	}
	require.Equal(t, want, order)
	require.False(t, l.Locked())
}

func TestLocker_MaxConcurrencyIsOne(t *testing.T) {
	l := lock.New(struct{}{})
	ctx := context.Background()

	var (
		active atomic.Int32
		peak   atomic.Int32
		wg     sync.WaitGroup
	)
	for range 32 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := l.With(ctx, func(struct{}) error {
				now := active.Add(1)
				for {
					old := peak.Load()
					if now <= old || peak.CompareAndSwap(old, now) {
						break
					}
				}
				time.Sleep(time.Millisecond)
				active.Add(-1)
				return nil
			})
			if err != nil {
				t.Errorf("With: %v", err)
			}
		}()
	}
	wg.Wait()

	require.Equal(t, int32(1), peak.Load())
}

func TestToken_ReleaseIsIdempotent(t *testing.T) {
	l := lock.New(0)
	ctx := context.Background()

	first, err := l.Acquire(ctx)
	require.NoError(t, err)

	got := make(chan struct{})
	go func() {
		tok, err := l.Acquire(ctx)
		if err == nil {
			defer tok.Release()
		}
		<-got
	}()
	waitForQueue(t, l, 1)

	first.Release()
	require.Eventually(t, func() bool { return l.Waiting() == 0 }, time.Second, time.Millisecond)

	// A second release must not unlock the slot now held by the waiter.
	first.Release()
	require.True(t, l.Locked())

	close(got)
	require.Eventually(t, func() bool { return !l.Locked() }, time.Second, time.Millisecond)
}

func TestLocker_AcquireCanceledLeavesQueue(t *testing.T) {
	l := lock.New(0)

	holder, err := l.Acquire(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() {
		_, err := l.Acquire(ctx)
		errc <- err
	}()
	waitForQueue(t, l, 1)

	cancel()
	require.ErrorIs(t, <-errc, context.Canceled)
	require.Equal(t, 0, l.Waiting())

	holder.Release()
	require.False(t, l.Locked())
}

func TestLocker_WithReleasesOnError(t *testing.T) {
	l := lock.New("v")
	boom := errors.New("boom")

	err := l.With(context.Background(), func(v string) error {
		require.Equal(t, "v", v)
		return boom
	})
	require.ErrorIs(t, err, boom)
	require.False(t, l.Locked())
}

func TestLocker_WithReleasesOnPanic(t *testing.T) {
	l := lock.New("v")

	require.Panics(t, func() {
		_ = l.With(context.Background(), func(string) error { panic("boom") })
	})
	require.False(t, l.Locked())
}
