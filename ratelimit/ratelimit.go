// Package ratelimit throttles calls to shared upstream resources, such as a
// generation provider's API, with one token bucket per resource. A Shared
// limiter also tells its peers on the bus when a resource pushed back, so
// every node slows down together.
package ratelimit

import (
	"context"
	"errors"
	"sync"
	"time"
)

// Common errors.
var (
	ErrClosed          = errors.New("limiter closed")
	ErrResourceUnknown = errors.New("unknown resource")
	ErrInvalidConfig   = errors.New("invalid configuration")
)

// Capacity describes one resource's bucket.
type Capacity struct {
	Resource  string        `json:"resource"`
	Available int           `json:"available"`
	Total     int           `json:"total"`
	Original  int           `json:"original"`
	Window    time.Duration `json:"window"`
}

type bucket struct {
	capacity   int
	original   int
	available  int
	window     time.Duration
	lastRefill time.Time
}

// refill adds capacity/window tokens per elapsed unit of time.
func (b *bucket) refill(now time.Time) {
	elapsed := now.Sub(b.lastRefill)
	if elapsed <= 0 {
		return
	}
	add := int(float64(b.capacity) * float64(elapsed) / float64(b.window))
	if add <= 0 {
		return
	}
	b.available += add
	if b.available > b.capacity {
		b.available = b.capacity
	}
	b.lastRefill = now
}

// wait is how long until the next token.
func (b *bucket) wait() time.Duration {
	d := b.window / time.Duration(b.capacity)
	if d <= 0 {
		d = time.Millisecond
	}
	return d
}

// Limiter is an in-process token-bucket limiter.
type Limiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	closed  bool
	now     func() time.Time
}

// NewLimiter creates an empty limiter.
func NewLimiter() *Limiter {
	return &Limiter{buckets: make(map[string]*bucket), now: time.Now}
}

// SetCapacity allows capacity calls per window. Non-positive values remove
// the limit. The bucket starts full.
func (l *Limiter) SetCapacity(resource string, capacity int, window time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return
	}
	if capacity <= 0 || window <= 0 {
		delete(l.buckets, resource)
		return
	}
	if b, ok := l.buckets[resource]; ok {
		b.capacity, b.original, b.window = capacity, capacity, window
		if b.available > capacity {
			b.available = capacity
		}
		return
	}
	l.buckets[resource] = &bucket{
		capacity:   capacity,
		original:   capacity,
		available:  capacity,
		window:     window,
		lastRefill: l.now(),
	}
}

// TryAcquire takes a token without blocking.
func (l *Limiter) TryAcquire(resource string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	ok, _, _ := l.take(resource)
	return ok
}

// take must be called with l.mu held.
func (l *Limiter) take(resource string) (bool, time.Duration, error) {
	if l.closed {
		return false, 0, ErrClosed
	}
	b, ok := l.buckets[resource]
	if !ok {
		return false, 0, ErrResourceUnknown
	}
	b.refill(l.now())
	if b.available > 0 {
		b.available--
		return true, 0, nil
	}
	return false, b.wait(), nil
}

// Acquire blocks until a token is available or ctx ends.
func (l *Limiter) Acquire(ctx context.Context, resource string) error {
	for {
		l.mu.Lock()
		ok, wait, err := l.take(resource)
		l.mu.Unlock()
		if err != nil || ok {
			return err
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// scale multiplies a resource's capacity by factor, keeping it between 1
// and the original capacity. It returns the new capacity, or 0 when the
// resource is unknown.
func (l *Limiter) scale(resource string, factor float64) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	b, ok := l.buckets[resource]
	if !ok || l.closed {
		return 0
	}
	return b.setCapacity(int(float64(b.capacity) * factor))
}

// apply sets a resource's capacity directly, bounded the same way.
func (l *Limiter) apply(resource string, capacity int) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	b, ok := l.buckets[resource]
	if !ok || l.closed {
		return 0
	}
	return b.setCapacity(capacity)
}

func (b *bucket) setCapacity(n int) int {
	if n < 1 {
		n = 1
	}
	if n > b.original {
		n = b.original
	}
	b.capacity = n
	if b.available > n {
		b.available = n
	}
	return n
}

// Reduce halves a resource's capacity after it pushed back. The reason is
// informational.
func (l *Limiter) Reduce(resource, reason string) {
	l.scale(resource, 0.5)
}

// Capacity reports a resource's bucket, or nil if it has no limit.
func (l *Limiter) Capacity(resource string) *Capacity {
	l.mu.Lock()
	defer l.mu.Unlock()
	b, ok := l.buckets[resource]
	if !ok {
		return nil
	}
	b.refill(l.now())
	return &Capacity{
		Resource:  resource,
		Available: b.available,
		Total:     b.capacity,
		Original:  b.original,
		Window:    b.window,
	}
}

func (l *Limiter) resources() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, 0, len(l.buckets))
	for r := range l.buckets {
		out = append(out, r)
	}
	return out
}

// Close makes later calls fail with ErrClosed.
func (l *Limiter) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
	return nil
}
