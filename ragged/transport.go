package ragged

import (
	"slices"

	"github.com/gomlx/collectives"
	"github.com/gomlx/collectives/streamexec"
	"github.com/gomlx/gopjrt/dtypes"
	"k8s.io/klog/v2"
)

// runAllToAllOnIndexBuffer runs an all-to-all on a metadata array: one
// contiguous block of numUpdatesPerReplica elements to and from every peer,
// inside one grouped bracket, writing into dst.
//
// The output offsets of a ragged all-to-all are producer-frame: entry idx is
// an offset into peer idx's own output buffer. The send/recv transport needs
// them in the receiver's local frame, and this exchange performs exactly that
// conversion: afterwards dst's block for peer p holds, on every rank, the
// offsets at which p's updates land in the local output buffer.
//
// It blocks until the exchange completes, since the result feeds host-side
// index arithmetic.
func runAllToAllOnIndexBuffer(src, dst streamexec.DeviceMemory, dtype dtypes.DType,
	numUpdatesPerReplica int64, stream *streamexec.Stream, comm collectives.Communicator) error {
	numRanks, err := comm.NumRanks()
	if err != nil {
		return err
	}
	if err := comm.GroupStart(); err != nil {
		return err
	}
	for peer := 0; peer < numRanks; peer++ {
		offset := int64(peer) * numUpdatesPerReplica
		sendSlice := src.Slice(dtype, offset, numUpdatesPerReplica)
		recvSlice := dst.Slice(dtype, offset, numUpdatesPerReplica)
		if err := comm.Send(sendSlice, dtype, numUpdatesPerReplica, peer, stream); err != nil {
			return err
		}
		if err := comm.Recv(recvSlice, dtype, numUpdatesPerReplica, peer, stream); err != nil {
			return err
		}
	}
	if err := comm.GroupEnd(); err != nil {
		return err
	}
	return stream.BlockHostUntilDone()
}

// runRaggedAllToAll realizes the exchange with the communicator's grouped
// send/recv primitives: one send and one matching receive per
// (update row, peer) pair, all inside a single bracket.
func runRaggedAllToAll(config Config, originalBuffers []collectives.DeviceBufferPair,
	stream *streamexec.Stream, comm collectives.Communicator,
	hostAllocs []*streamexec.HostAllocation, outputOffsetsScratch streamexec.DeviceMemory) error {
	klog.V(3).Infof("performing ragged-all-to-all on device ordinal %d", stream.Parent().DeviceOrdinal())
	numRanks, err := comm.NumRanks()
	if err != nil {
		return err
	}
	numUpdatesPerReplica := config.NumTotalUpdates / int64(numRanks)

	buffers := slices.Clone(originalBuffers)
	offsetsPair := &buffers[operandOutputOffsets]
	if err := runAllToAllOnIndexBuffer(offsetsPair.Source, outputOffsetsScratch, offsetsPair.ElementType,
		numUpdatesPerReplica, stream, comm); err != nil {
		return err
	}
	offsetsPair.Source = outputOffsetsScratch

	metadata, err := loadRaggedTensorMetadata(stream, buffers, hostAllocs)
	if err != nil {
		return err
	}

	if err := comm.GroupStart(); err != nil {
		return err
	}
	elementType := buffers[operandInput].ElementType
	input := buffers[operandInput].Source
	output := buffers[operandOutput].Destination
	rowElems := config.RaggedRowElementSize
	for i := int64(0); i < numUpdatesPerReplica; i++ {
		for peer := 0; peer < numRanks; peer++ {
			idx := flatUpdateIndex(int64(peer), i, numUpdatesPerReplica)
			sendSlice := input.Slice(elementType, metadata.inputOffsets[idx]*rowElems, metadata.sendSizes[idx]*rowElems)
			recvSlice := output.Slice(elementType, metadata.outputOffsets[idx]*rowElems, metadata.recvSizes[idx]*rowElems)
			if err := comm.Send(sendSlice, elementType, metadata.sendSizes[idx]*rowElems, peer, stream); err != nil {
				return err
			}
			if err := comm.Recv(recvSlice, elementType, metadata.recvSizes[idx]*rowElems, peer, stream); err != nil {
				return err
			}
		}
	}
	return comm.GroupEnd()
}
