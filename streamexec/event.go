package streamexec

import (
	"sync"

	"github.com/gomlx/collectives/types/xsync"
)

// Event marks a point in a stream's queue. Other streams (or the host) can
// wait for the marked work to complete.
//
// Events are re-recordable: each Stream.RecordEvent call arms a fresh
// completion signal, and WaitFor calls issued afterwards observe that
// recording. The caller is responsible for ordering Record before Wait across
// goroutines -- in the exchange engine the rendezvous barrier provides exactly
// that guarantee.
type Event struct {
	mu    sync.Mutex
	latch *xsync.Latch
}

// arm installs a fresh latch for a new recording and returns it.
func (e *Event) arm() *xsync.Latch {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.latch = xsync.NewLatch()
	return e.latch
}

// current returns the latch of the most recent recording, or nil if the event
// was never recorded.
func (e *Event) current() *xsync.Latch {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.latch
}
