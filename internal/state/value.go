// Package state publishes whole-value snapshots from a single writer to
// many readers. Readers never observe a partially applied update.
package state

import "sync"

// Value holds the latest snapshot of T. Callers must treat the snapshots
// they set and get as immutable.
type Value[T any] struct {
	mu          sync.RWMutex
	current     T
	subscribers map[chan T]struct{}
}

// NewValue creates a Value holding initial.
func NewValue[T any](initial T) *Value[T] {
	return &Value[T]{
		current:     initial,
		subscribers: make(map[chan T]struct{}),
	}
}

// Get returns the current snapshot.
func (v *Value[T]) Get() T {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.current
}

// Set replaces the snapshot and notifies subscribers.
func (v *Value[T]) Set(next T) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.current = next
	for ch := range v.subscribers {
		offerLatest(ch, next)
	}
}

// Update replaces the snapshot with fn(current) under the writer lock.
func (v *Value[T]) Update(fn func(T) T) T {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.current = fn(v.current)
	for ch := range v.subscribers {
		offerLatest(ch, v.current)
	}
	return v.current
}

// Subscribe returns a channel that receives the current snapshot and every
// later one. Slow readers skip intermediate snapshots but always see the
// latest. The returned func unsubscribes and closes the channel.
func (v *Value[T]) Subscribe() (<-chan T, func()) {
	ch := make(chan T, 1)
	v.mu.Lock()
	v.subscribers[ch] = struct{}{}
	ch <- v.current
	v.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			v.mu.Lock()
			delete(v.subscribers, ch)
			close(ch)
			v.mu.Unlock()
		})
	}
}

// offerLatest delivers x to a one-slot channel, replacing a stale value.
// Caller holds the writer lock so there is no competing sender.
func offerLatest[T any](ch chan T, x T) {
	select {
	case ch <- x:
		return
	default:
	}
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- x:
	default:
	}
}
