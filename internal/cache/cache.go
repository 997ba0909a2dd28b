// Package cache provides a single-entry TTL snapshot holder. Values are
// replaced as a whole on refresh and never partially mutated, so readers
// only ever observe complete snapshots.
package cache

import (
	"sync"
	"time"
)

// Entry holds one value with an expiry. The zero value is empty.
type Entry[T any] struct {
	mu        sync.RWMutex
	value     T
	expiresAt time.Time
	populated bool
	clock     func() time.Time
}

// New returns an empty entry using the wall clock.
func New[T any]() *Entry[T] {
	return &Entry[T]{clock: time.Now}
}

// NewWithClock returns an empty entry with an injectable clock for tests.
func NewWithClock[T any](clock func() time.Time) *Entry[T] {
	if clock == nil {
		clock = time.Now
	}
	return &Entry[T]{clock: clock}
}

// Get returns the cached value and whether it is still fresh.
func (e *Entry[T]) Get() (T, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if !e.populated || e.now().After(e.expiresAt) {
		var zero T
		return zero, false
	}
	return e.value, true
}

// Set replaces the snapshot and arms the TTL.
func (e *Entry[T]) Set(value T, ttl time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.value = value
	e.expiresAt = e.now().Add(ttl)
	e.populated = true
}

// Invalidate discards the snapshot so the next Get reports a miss.
func (e *Entry[T]) Invalidate() {
	e.mu.Lock()
	defer e.mu.Unlock()
	var zero T
	e.value = zero
	e.populated = false
}

func (e *Entry[T]) now() time.Time {
	if e.clock == nil {
		return time.Now()
	}
	return e.clock()
}
