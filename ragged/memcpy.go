package ragged

import (
	"sort"

	"github.com/gomlx/collectives"
	"github.com/gomlx/collectives/rendezvous"
	"github.com/gomlx/collectives/streamexec"
	"k8s.io/klog/v2"
)

// rendezvousValue is what each rank publishes to its peers before the copy
// phase of the memcpy transport.
type rendezvousValue struct {
	rank         int
	outputBuffer streamexec.DeviceMemory
	startEvent   *streamexec.Event
	endEvent     *streamexec.Event
}

// sortByRank puts the published values in the same order as the clique orders
// its devices, so every participant indexes its peers identically.
func sortByRank(values []rendezvousValue) []rendezvousValue {
	sort.Slice(values, func(i, j int) bool { return values[i].rank < values[j].rank })
	return values
}

// runMemcpyRaggedAllToAll realizes the exchange with direct device-to-device
// copies into the peers' output buffers, bypassing the communicator. It
// requires every participant's output buffer to be addressable from every
// other participant's device context -- a precondition of selecting this
// transport, not something checked here.
//
// The two-phase rendezvous protocol is what makes the event synchronization
// race-free across the independently scheduled host threads: an event is
// always recorded on this side of a barrier that every peer passes before
// issuing its wait.
func runMemcpyRaggedAllToAll(config Config, cliqueKey collectives.CliqueKey, rank int,
	buffers []collectives.DeviceBufferPair, stream *streamexec.Stream, comm collectives.Communicator,
	hostAllocs []*streamexec.HostAllocation, startEvent, endEvent *streamexec.Event) error {
	klog.V(3).Infof("performing memcpy ragged-all-to-all on device ordinal %d, rank %d of %s",
		stream.Parent().DeviceOrdinal(), rank, cliqueKey)
	numRanks, err := comm.NumRanks()
	if err != nil {
		return err
	}
	numUpdatesPerReplica := config.NumTotalUpdates / int64(numRanks)

	// This transport writes into the target rank's buffer, so the
	// producer-frame output offsets are already the right ones: no offset
	// resolution pass is needed.
	metadata, err := loadRaggedTensorMetadata(stream, buffers, hostAllocs)
	if err != nil {
		return err
	}

	elementType := buffers[operandInput].ElementType
	input := buffers[operandInput].Source
	output := buffers[operandOutput].Destination
	rowElems := config.RaggedRowElementSize

	// Record the start event before entering the rendezvous, so that a peer's
	// subsequent WaitFor is never issued before the recording.
	if err := stream.RecordEvent(startEvent); err != nil {
		return err
	}
	scope := cliqueKey.String()
	values := rendezvous.Rendezvous("start memcpy ragged-all-to-all", scope,
		rendezvousValue{rank: rank, outputBuffer: output, startEvent: startEvent, endEvent: endEvent},
		numRanks, sortByRank)

	// Once every start event completes, all output buffers are ready for
	// transfer.
	for _, value := range values {
		if err := stream.WaitFor(value.startEvent); err != nil {
			return err
		}
	}

	for i := int64(0); i < numUpdatesPerReplica; i++ {
		for peer := 0; peer < numRanks; peer++ {
			idx := flatUpdateIndex(int64(peer), i, numUpdatesPerReplica)
			sendSlice := input.Slice(elementType, metadata.inputOffsets[idx]*rowElems, metadata.sendSizes[idx]*rowElems)
			dstSlice := values[peer].outputBuffer.Slice(elementType, metadata.outputOffsets[idx]*rowElems,
				metadata.sendSizes[idx]*rowElems)
			if err := stream.MemcpyD2D(dstSlice, sendSlice, sendSlice.Size()); err != nil {
				return err
			}
		}
	}

	if err := stream.RecordEvent(endEvent); err != nil {
		return err
	}
	// Second rendezvous: guarantees every rank's end event is recorded before
	// any peer issues a wait on it.
	rendezvous.Barrier("finish memcpy ragged-all-to-all", scope, numRanks)

	// All updates have arrived once every end event completes.
	for _, value := range values {
		if err := stream.WaitFor(value.endEvent); err != nil {
			return err
		}
	}
	return nil
}
