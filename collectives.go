// Package collectives defines the abstractions shared by all collective
// operations of the runtime: communicators with grouped point-to-point
// primitives, clique keys identifying the participating devices, and the
// device buffer pairs an operation reads from and writes to.
//
// EXPERIMENTAL: the API covers what the ragged all-to-all engine needs; it
// will grow as more collective operations are ported.
package collectives

import (
	"github.com/gomlx/collectives/streamexec"
	"github.com/gomlx/gopjrt/dtypes"
)

// Communicator is one rank's endpoint into a clique of devices.
//
// Send and Recv enqueue work on the given stream and are only allowed inside
// a GroupStart/GroupEnd bracket. The bracket is the atomic unit of the
// exchange: no ordering is guaranteed between the individual point-to-point
// operations it contains.
type Communicator interface {
	// NumRanks returns the number of participants in the clique.
	NumRanks() (int, error)

	// GroupStart opens a grouped-operation bracket.
	GroupStart() error

	// GroupEnd closes the bracket, flushing all queued sends and receives as
	// one collective step on the bracket's stream. It does not block: use the
	// stream to synchronize.
	GroupEnd() error

	// Send transfers count elements of dtype from the start of buf to peer.
	Send(buf streamexec.DeviceMemory, dtype dtypes.DType, count int64, peer int, stream *streamexec.Stream) error

	// Recv receives count elements of dtype from peer into the start of buf.
	Recv(buf streamexec.DeviceMemory, dtype dtypes.DType, count int64, peer int, stream *streamexec.Stream) error
}

// DeviceBufferPair is the (source, destination) device memory of one operand
// and its element type. Pairs are resolved fresh from the current buffer
// assignment on every execution and are borrowed, never owned, by the
// operation using them.
type DeviceBufferPair struct {
	ElementType dtypes.DType
	Source      streamexec.DeviceMemory
	Destination streamexec.DeviceMemory
}
