// Package xsync implements extra synchronization tools used by the collectives runtime.
package xsync

import "sync"

// Latch is a one-shot signal that goroutines can wait on until it is triggered.
// Once triggered it never changes state, it's forever triggered.
type Latch struct {
	once sync.Once
	done chan struct{}
}

// NewLatch returns an un-triggered latch.
func NewLatch() *Latch {
	return &Latch{done: make(chan struct{})}
}

// Trigger the latch, releasing all current and future waiters.
// Triggering more than once is a no-op.
func (l *Latch) Trigger() {
	l.once.Do(func() { close(l.done) })
}

// Wait blocks until the latch is triggered.
func (l *Latch) Wait() {
	<-l.done
}

// Test checks whether the latch has been triggered, without blocking.
func (l *Latch) Test() bool {
	select {
	case <-l.done:
		return true
	default:
		return false
	}
}

// WaitChan returns a channel that is closed when the latch triggers.
// It can be used in a `select` statement.
func (l *Latch) WaitChan() <-chan struct{} {
	return l.done
}

// LatchWithValue is a Latch that carries a value set at trigger time.
//
// The value set by the first Trigger call is the one every waiter observes;
// later calls are no-ops.
type LatchWithValue[T any] struct {
	latch Latch
	value T
}

// NewLatchWithValue returns an un-triggered latch.
func NewLatchWithValue[T any]() *LatchWithValue[T] {
	return &LatchWithValue[T]{latch: Latch{done: make(chan struct{})}}
}

// Trigger the latch with the given value.
func (l *LatchWithValue[T]) Trigger(value T) {
	l.latch.once.Do(func() {
		l.value = value
		close(l.latch.done)
	})
}

// Wait blocks until the latch is triggered and returns the associated value.
func (l *LatchWithValue[T]) Wait() T {
	l.latch.Wait()
	return l.value
}

// Test checks whether the latch has been triggered, without blocking.
func (l *LatchWithValue[T]) Test() bool {
	return l.latch.Test()
}
