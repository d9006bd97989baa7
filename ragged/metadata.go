package ragged

import (
	"github.com/gomlx/collectives"
	"github.com/gomlx/collectives/streamexec"
	"github.com/pkg/errors"
)

// flatUpdateIndex flattens the (peer, update) space into the index used by all
// four metadata arrays. Both transports address their transfers through it.
func flatUpdateIndex(peer, update, numUpdatesPerReplica int64) int64 {
	return peer*numUpdatesPerReplica + update
}

// raggedMetadata are the four metadata arrays, materialized in host memory.
// Entry idx describes the update flatUpdateIndex maps to idx.
type raggedMetadata struct {
	inputOffsets  []int64
	sendSizes     []int64
	outputOffsets []int64
	recvSizes     []int64
}

// loadRaggedTensorMetadata copies the device-resident metadata operands into
// the preallocated pinned host buffers and blocks until the copies complete.
//
// This is a hard synchronization point: the offset/size arithmetic that
// follows runs on the host, so all four arrays must be fully materialized
// before this function returns.
func loadRaggedTensorMetadata(stream *streamexec.Stream, buffers []collectives.DeviceBufferPair,
	hostAllocs []*streamexec.HostAllocation) (raggedMetadata, error) {
	for i := 0; i < numRaggedMetadataOperands; i++ {
		if err := stream.MemcpyD2H(hostAllocs[i].Bytes(), buffers[operandInputOffsets+i].Source); err != nil {
			return raggedMetadata{}, err
		}
	}
	if err := stream.BlockHostUntilDone(); err != nil {
		return raggedMetadata{}, errors.WithMessage(err, "failed to load ragged tensor metadata")
	}
	return raggedMetadata{
		inputOffsets:  streamexec.View[int64](hostAllocs[0].Bytes()),
		sendSizes:     streamexec.View[int64](hostAllocs[1].Bytes()),
		outputOffsets: streamexec.View[int64](hostAllocs[2].Bytes()),
		recvSizes:     streamexec.View[int64](hostAllocs[3].Bytes()),
	}, nil
}
