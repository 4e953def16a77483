package service

import (
	"context"
	"sync"
	"time"
)

// TokenBucket is a per-key rate limiter used to throttle note writes per
// client address. It is safe for concurrent use.
type TokenBucket struct {
	mu       sync.Mutex
	buckets  map[string]*bucket
	rate     float64 // tokens added per second
	capacity float64 // maximum tokens
	idle     time.Duration
}

type bucket struct {
	tokens float64
	last   time.Time
}

// NewTokenBucket creates a limiter that allows bursts of capacity requests per
// key and refills at rate tokens per second. Buckets idle for ten minutes
// are dropped by a sweeper that runs until ctx ends.
func NewTokenBucket(ctx context.Context, rate, capacity float64) *TokenBucket {
	tb := &TokenBucket{
		buckets:  make(map[string]*bucket),
		rate:     rate,
		capacity: capacity,
		idle:     10 * time.Minute,
	}
	go tb.sweep(ctx, 5*time.Minute)
	return tb
}

// Allow reports whether key may proceed, consuming one token if so.
func (tb *TokenBucket) Allow(key string) bool {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	now := time.Now()
	b, ok := tb.buckets[key]
	if !ok {
		b = &bucket{tokens: tb.capacity, last: now}
		tb.buckets[key] = b
	}

	b.tokens = min(b.tokens+now.Sub(b.last).Seconds()*tb.rate, tb.capacity)
	b.last = now

	if b.tokens >= 1 {
		b.tokens--
		return true
	}
	return false
}

// Len returns the number of tracked keys.
func (tb *TokenBucket) Len() int {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	return len(tb.buckets)
}

func (tb *TokenBucket) sweep(ctx context.Context, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			tb.evict(now)
		}
	}
}

func (tb *TokenBucket) evict(now time.Time) {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	cutoff := now.Add(-tb.idle)
	for key, b := range tb.buckets {
		if b.last.Before(cutoff) {
			delete(tb.buckets, key)
		}
	}
}
