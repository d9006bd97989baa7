// Package streamexec models the device platform the collectives runtime runs on:
// executors (one per device), device memory regions, streams (asynchronous
// per-device operation queues) and events.
//
// Device memory is host-addressable here, which means every device can copy
// directly into any other device's buffers. That is the same property a
// tightly-coupled GPU clique (e.g. NVLink-connected boards) provides, and it
// is what the memcpy-based exchange transport relies on.
//
// Reads and writes of device memory are only defined once the stream work that
// produces them has completed; synchronize with Stream.BlockHostUntilDone or
// events before touching the raw bytes from the host.
package streamexec

import (
	"sync"

	"github.com/pkg/errors"
)

// Executor represents one device: it owns the device's memory, and creates the
// streams and events that operate on it.
type Executor struct {
	ordinal int

	mu      sync.Mutex
	streams []*Stream
}

// NewExecutor creates an executor for the device with the given ordinal.
func NewExecutor(ordinal int) *Executor {
	return &Executor{ordinal: ordinal}
}

// DeviceOrdinal returns the device number this executor drives.
func (e *Executor) DeviceOrdinal() int { return e.ordinal }

// Allocate reserves numBytes of device memory and returns the region.
// It returns a null region if numBytes is not positive.
func (e *Executor) Allocate(numBytes int64) DeviceMemory {
	if numBytes <= 0 {
		return DeviceMemory{}
	}
	return DeviceMemory{data: make([]byte, numBytes)}
}

// HostMemoryAllocate reserves numBytes of pinned host memory, suitable as the
// destination of device-to-host copies.
func (e *Executor) HostMemoryAllocate(numBytes int64) (*HostAllocation, error) {
	if numBytes <= 0 {
		return nil, errors.Errorf("host allocation of %d bytes requested on device %d", numBytes, e.ordinal)
	}
	return &HostAllocation{data: make([]byte, numBytes)}, nil
}

// CreateEvent returns a new event for this device.
// Events start un-recorded: waiting on one is a no-op until a stream records it.
func (e *Executor) CreateEvent() (*Event, error) {
	return &Event{}, nil
}

// NewStream creates a stream on this device.
// The stream is drained by its own goroutine until the executor is finalized.
func (e *Executor) NewStream() *Stream {
	s := newStream(e)
	e.mu.Lock()
	e.streams = append(e.streams, s)
	e.mu.Unlock()
	return s
}

// Finalize shuts down all streams created by this executor.
// Work already enqueued still runs; new enqueues fail.
func (e *Executor) Finalize() {
	e.mu.Lock()
	streams := e.streams
	e.streams = nil
	e.mu.Unlock()
	for _, s := range streams {
		s.close()
	}
}

// HostAllocation is pinned host memory returned by Executor.HostMemoryAllocate.
type HostAllocation struct {
	data []byte
}

// Bytes returns the allocation's backing bytes.
func (h *HostAllocation) Bytes() []byte { return h.data }
