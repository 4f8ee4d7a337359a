// Package syncx provides extended synchronization primitives
package syncx

import "sync/atomic"

// Value holds an immutable snapshot that readers load without locking.
// Writers replace the whole snapshot; a loaded value must never be mutated.
type Value[T any] struct {
	p atomic.Pointer[T]
}

// NewValue creates a Value holding initial.
func NewValue[T any](initial T) *Value[T] {
	v := &Value[T]{}
	v.p.Store(&initial)
	return v
}

// Load returns the current snapshot, or the zero value if none was stored.
func (v *Value[T]) Load() T {
	if p := v.p.Load(); p != nil {
		return *p
	}
	var zero T
	return zero
}

// Store replaces the snapshot.
func (v *Value[T]) Store(x T) {
	v.p.Store(&x)
}

// Swap replaces the snapshot and returns the previous one.
func (v *Value[T]) Swap(x T) T {
	if old := v.p.Swap(&x); old != nil {
		return *old
	}
	var zero T
	return zero
}

// Update derives a new snapshot from the current one, retrying on concurrent
// writers. fn may be called more than once and must not mutate its argument.
func (v *Value[T]) Update(fn func(T) T) T {
	for {
		old := v.p.Load()
		var cur T
		if old != nil {
			cur = *old
		}
		next := fn(cur)
		if v.p.CompareAndSwap(old, &next) {
			return next
		}
	}
}
