package streamexec

import (
	"sync"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// Stream is a FIFO queue of device operations, drained by one goroutine.
//
// Enqueue calls (Memcpy*, RecordEvent, WaitFor, DoHostCallback) return as soon
// as the operation is queued; BlockHostUntilDone blocks the calling goroutine
// until everything queued so far has executed.
//
// The first operation to fail latches the stream into an error state: later
// operations are skipped and BlockHostUntilDone reports the first error.
type Stream struct {
	id     uuid.UUID
	parent *Executor

	mu      sync.Mutex
	cond    *sync.Cond
	queue   []func() error
	pending int // queued but not yet finished operations
	err     error
	closed  bool
}

func newStream(parent *Executor) *Stream {
	s := &Stream{id: uuid.New(), parent: parent}
	s.cond = sync.NewCond(&s.mu)
	go s.loop()
	return s
}

// Parent returns the executor that owns this stream.
func (s *Stream) Parent() *Executor { return s.parent }

func (s *Stream) loop() {
	for {
		s.mu.Lock()
		for len(s.queue) == 0 && !s.closed {
			s.cond.Wait()
		}
		if len(s.queue) == 0 {
			s.mu.Unlock()
			return
		}
		op := s.queue[0]
		s.queue = s.queue[1:]
		failed := s.err != nil
		s.mu.Unlock()

		var err error
		if !failed {
			err = op()
		}

		s.mu.Lock()
		if err != nil && s.err == nil {
			s.err = err
		}
		s.pending--
		s.cond.Broadcast()
		s.mu.Unlock()
	}
}

func (s *Stream) enqueue(op func() error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.Errorf("stream %s on device %d was already finalized", s.id, s.parent.ordinal)
	}
	if s.err != nil {
		return errors.WithMessagef(s.err, "stream %s on device %d is in an error state", s.id, s.parent.ordinal)
	}
	s.queue = append(s.queue, op)
	s.pending++
	s.cond.Broadcast()
	return nil
}

// MemcpyD2H enqueues a copy of the whole src device region into the host
// destination, which must be at least src.Size() bytes long.
func (s *Stream) MemcpyD2H(dst []byte, src DeviceMemory) error {
	if len(dst) < src.Size() {
		return errors.Errorf("device-to-host copy of %d bytes into a %d bytes host buffer", src.Size(), len(dst))
	}
	return s.enqueue(func() error {
		copy(dst, src.Bytes())
		return nil
	})
}

// MemcpyD2D enqueues a device-to-device copy of numBytes from src into dst.
// dst may live on a different device: see the package documentation on
// cross-device addressability.
func (s *Stream) MemcpyD2D(dst, src DeviceMemory, numBytes int) error {
	if numBytes > src.Size() || numBytes > dst.Size() {
		return errors.Errorf("device-to-device copy of %d bytes between regions of %d (src) and %d (dst) bytes",
			numBytes, src.Size(), dst.Size())
	}
	return s.enqueue(func() error {
		copy(dst.Bytes()[:numBytes], src.Bytes()[:numBytes])
		return nil
	})
}

// RecordEvent enqueues the recording of the event: the event completes when
// all work queued on this stream before the call has executed.
//
// Recording re-arms the event: a WaitFor issued after this call (on any
// stream) waits for this recording, not an earlier one.
func (s *Stream) RecordEvent(e *Event) error {
	latch := e.arm()
	return s.enqueue(func() error {
		latch.Trigger()
		return nil
	})
}

// WaitFor enqueues a wait: work queued on this stream after the call does not
// execute before the event's current recording completes. Waiting on an event
// that was never recorded is a no-op.
func (s *Stream) WaitFor(e *Event) error {
	latch := e.current()
	if latch == nil {
		return nil
	}
	return s.enqueue(func() error {
		latch.Wait()
		return nil
	})
}

// DoHostCallback enqueues an arbitrary host function. An error returned by the
// callback latches the stream like any other failed operation.
func (s *Stream) DoHostCallback(fn func() error) error {
	return s.enqueue(fn)
}

// BlockHostUntilDone blocks until all queued operations have executed and
// returns the stream's latched error, if any.
func (s *Stream) BlockHostUntilDone() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for s.pending > 0 {
		s.cond.Wait()
	}
	if s.err != nil {
		return errors.WithMessagef(s.err, "failed to complete all operations enqueued on stream %s", s.id)
	}
	return nil
}

// close stops the drain goroutine once the queue empties. Called by
// Executor.Finalize.
func (s *Stream) close() {
	s.mu.Lock()
	s.closed = true
	s.cond.Broadcast()
	s.mu.Unlock()
}
