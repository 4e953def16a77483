// Package lock provides an exclusive FIFO lock that hands out a guarded value.
//
// The lock is not reentrant: acquiring it again while holding a token
// blocks forever. Every Acquire must be matched by exactly one Release on
// every path, or all later callers wait indefinitely. Prefer Locker.With.
package lock

import (
	"container/list"
	"context"
	"sync"
)

// Token grants exclusive use of Value until Release is called.
type Token[V any] struct {
	Value V

	once    sync.Once
	release func()
}

// Release gives up the token. Calls after the first do nothing.
func (t *Token[V]) Release() {
	t.once.Do(t.release)
}

// Locker is a capacity-one lock over a value. Waiters are granted the lock
// in the order they called Acquire.
type Locker[V any] struct {
	value V

	mu      sync.Mutex
	locked  bool
	waiters list.List // of chan struct{}
}

// New returns an unlocked Locker guarding value.
func New[V any](value V) *Locker[V] {
	return &Locker[V]{value: value}
}

// Acquire waits until the lock is free and returns a token for it. If ctx
// ends first the caller leaves the queue and ctx.Err() is returned.
func (l *Locker[V]) Acquire(ctx context.Context) (*Token[V], error) {
	l.mu.Lock()
	if !l.locked {
		l.locked = true
		l.mu.Unlock()
		return l.token(), nil
	}

	ready := make(chan struct{})
	elem := l.waiters.PushBack(ready)
	l.mu.Unlock()

	select {
	case <-ready:
		return l.token(), nil
	case <-ctx.Done():
		l.mu.Lock()
		select {
		case <-ready:
			// Granted while giving up; pass it on.
			l.mu.Unlock()
			l.release()
		default:
			l.waiters.Remove(elem)
			l.mu.Unlock()
		}
		return nil, ctx.Err()
	}
}

// With runs fn while holding the lock and releases it however fn returns.
func (l *Locker[V]) With(ctx context.Context, fn func(V) error) error {
	tok, err := l.Acquire(ctx)
	if err != nil {
		return err
	}
	defer tok.Release()
	return fn(tok.Value)
}

// Waiting returns the number of callers queued behind the current holder.
func (l *Locker[V]) Waiting() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.waiters.Len()
}

// Locked reports whether the lock is held.
func (l *Locker[V]) Locked() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.locked
}

func (l *Locker[V]) token() *Token[V] {
	return &Token[V]{Value: l.value, release: l.release}
}

// release hands the lock to the head of the queue, or unlocks when nobody
// is waiting.
func (l *Locker[V]) release() {
	l.mu.Lock()
	defer l.mu.Unlock()

	front := l.waiters.Front()
	if front == nil {
		l.locked = false
		return
	}
	l.waiters.Remove(front)
	close(front.Value.(chan struct{}))
}
