// Package rendezvous implements a named barrier across a known-size set of
// host threads, optionally aggregating a per-participant value and handing the
// same aggregate back to every participant.
//
// It is the sole cross-thread synchronization authority of the collectives
// runtime: whenever independently scheduled host threads must establish a
// happens-before edge (event recorded before a peer waits on it, buffers
// published before a peer writes into them), they meet here.
//
// A rendezvous is identified by (name, scope): the name says which logical
// synchronization point this is, the scope (usually a clique key) says which
// participant set is meeting, so unrelated exchanges never contend. There is
// no deadline -- a participant that never arrives stalls the others forever.
package rendezvous

import (
	"sync"

	"github.com/gomlx/collectives/types/xsync"
	"github.com/gomlx/exceptions"
)

type registryKey struct {
	name  string
	scope string
}

// state tracks one in-flight rendezvous. It is removed from the registry the
// moment the last participant arrives, so the same (name, scope) can be
// reused immediately afterwards; stragglers keep their pointer and read the
// result from the latch.
type state struct {
	expected int
	values   []any
	latch    *xsync.LatchWithValue[any]
}

var (
	registryMu sync.Mutex
	registry   = map[registryKey]*state{}
)

// Rendezvous blocks until numParticipants goroutines have called it with the
// same (name, scope), then returns the same combined value slice to every
// caller.
//
// The combine function receives the values in arrival order and returns the
// canonical aggregate -- typically a rank-sorted copy, so that every
// participant observes its peers in an identical, reproducible order. A nil
// combine returns the arrival-ordered values as-is.
//
// All participants of one rendezvous must use the same V; mixing types on the
// same (name, scope) is a caller bug and panics.
func Rendezvous[V any](name, scope string, value V, numParticipants int, combine func([]V) []V) []V {
	if numParticipants <= 0 {
		exceptions.Panicf("rendezvous %q: numParticipants=%d, must be positive", name, numParticipants)
	}
	if numParticipants == 1 {
		values := []V{value}
		if combine != nil {
			values = combine(values)
		}
		return values
	}

	key := registryKey{name: name, scope: scope}
	registryMu.Lock()
	st := registry[key]
	if st == nil {
		st = &state{
			expected: numParticipants,
			values:   make([]any, 0, numParticipants),
			latch:    xsync.NewLatchWithValue[any](),
		}
		registry[key] = st
	}
	if st.expected != numParticipants {
		registryMu.Unlock()
		exceptions.Panicf("rendezvous %q (scope %s): called with %d participants, but an earlier caller expects %d",
			name, scope, numParticipants, st.expected)
	}
	st.values = append(st.values, value)
	last := len(st.values) == st.expected
	if last {
		// Everyone has arrived; free the key for reuse before combining.
		delete(registry, key)
	}
	registryMu.Unlock()

	if !last {
		return st.latch.Wait().([]V)
	}

	values := make([]V, st.expected)
	for i, v := range st.values {
		typed, ok := v.(V)
		if !ok {
			exceptions.Panicf("rendezvous %q (scope %s): participants disagree on the value type (%T vs %T)",
				name, scope, v, value)
		}
		values[i] = typed
	}
	if combine != nil {
		values = combine(values)
	}
	st.latch.Trigger(values)
	return values
}

// Barrier is a payload-free rendezvous: it blocks until numParticipants
// goroutines have arrived at the same (name, scope).
func Barrier(name, scope string, numParticipants int) {
	Rendezvous(name, scope, struct{}{}, numParticipants, nil)
}
