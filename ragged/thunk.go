package ragged

import (
	"sync"
	"sync/atomic"

	"github.com/dustin/go-humanize"
	"github.com/gomlx/collectives"
	"github.com/gomlx/collectives/streamexec"
	"github.com/gomlx/exceptions"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Buffer names one operand's buffers by their slots in the execution's buffer
// assignment. Slots are resolved into device memory fresh on every Execute.
type Buffer struct {
	SourceSlot      int
	DestinationSlot int
}

// Thunk drives executions of one compiled ragged all-to-all operation.
//
// One Thunk serves all devices: Initialize populates the per-device resource
// caches lazily and idempotently, Execute runs one exchange on one device.
// Execute may run concurrently across different devices (one host thread
// drives one device), never concurrently on the same device.
type Thunk struct {
	name          string
	config        Config
	buffers       []Buffer
	memcpyEnabled bool

	// localDeviceCount is the number of devices on this host node, set by
	// Initialize; -1 until then.
	localDeviceCount atomic.Int64

	mu              sync.Mutex
	metadataBuffers map[*streamexec.Executor][]*streamexec.HostAllocation
	offsetsScratch  map[*streamexec.Executor]streamexec.DeviceMemory

	eventsMu    sync.Mutex
	startEvents map[*streamexec.Executor]*streamexec.Event
	endEvents   map[*streamexec.Executor]*streamexec.Event
}

// NewThunk builds the thunk for one operation. The buffer slots must match
// the operation's operands one to one.
//
// memcpyEnabled opts in to the direct device-to-device transport; it is only
// used when the replica groups are local to this host node (see
// ExecuteParams).
func NewThunk(name string, op *OpDescription, buffers []Buffer, memcpyEnabled bool) *Thunk {
	config := newConfig(op)
	if len(buffers) != config.OperandCount {
		exceptions.Panicf("ragged-all-to-all %q: %d buffer slots for %d operands", name, len(buffers), config.OperandCount)
	}
	t := &Thunk{
		name:            name,
		config:          config,
		buffers:         buffers,
		memcpyEnabled:   memcpyEnabled,
		metadataBuffers: make(map[*streamexec.Executor][]*streamexec.HostAllocation),
		offsetsScratch:  make(map[*streamexec.Executor]streamexec.DeviceMemory),
		startEvents:     make(map[*streamexec.Executor]*streamexec.Event),
		endEvents:       make(map[*streamexec.Executor]*streamexec.Event),
	}
	t.localDeviceCount.Store(-1)
	return t
}

// Config returns the thunk's immutable configuration.
func (t *Thunk) Config() Config { return t.config }

// InitializeParams describes the device being initialized.
type InitializeParams struct {
	Executor *streamexec.Executor

	// LocalDeviceCount is the number of devices attached to this host node,
	// used to decide device-group locality.
	LocalDeviceCount int
}

// Initialize lazily allocates the device's metadata scratch buffers, the
// offset-resolution scratch buffer and, if the memcpy transport is enabled,
// its start/end events. It is idempotent and safe to call multiple times for
// the same device.
func (t *Thunk) Initialize(params InitializeParams) error {
	t.localDeviceCount.Store(int64(params.LocalDeviceCount))
	executor := params.Executor
	metadataBytes := t.config.NumTotalUpdates * int64(dtypes.Int64.Size())

	t.mu.Lock()
	if _, ok := t.metadataBuffers[executor]; !ok {
		allocs := make([]*streamexec.HostAllocation, 0, numRaggedMetadataOperands)
		for i := 0; i < numRaggedMetadataOperands; i++ {
			alloc, err := executor.HostMemoryAllocate(metadataBytes)
			if err != nil {
				t.mu.Unlock()
				return errors.WithMessagef(err, "ragged-all-to-all %q: allocating metadata buffers for device %d",
					t.name, executor.DeviceOrdinal())
			}
			allocs = append(allocs, alloc)
		}
		t.metadataBuffers[executor] = allocs
		klog.V(1).Infof("ragged-all-to-all %q: allocated %s of pinned host memory for metadata on device %d",
			t.name, humanize.Bytes(uint64(numRaggedMetadataOperands*metadataBytes)), executor.DeviceOrdinal())
	}
	if _, ok := t.offsetsScratch[executor]; !ok {
		mem := executor.Allocate(metadataBytes)
		if mem.IsNull() {
			t.mu.Unlock()
			return errors.Errorf("ragged-all-to-all %q: failed to allocate the output offsets scratch buffer on device %d",
				t.name, executor.DeviceOrdinal())
		}
		t.offsetsScratch[executor] = mem
	}
	t.mu.Unlock()

	if t.shouldUseMemcpy() {
		t.eventsMu.Lock()
		defer t.eventsMu.Unlock()
		if _, ok := t.startEvents[executor]; !ok {
			event, err := executor.CreateEvent()
			if err != nil {
				return err
			}
			t.startEvents[executor] = event
		}
		if _, ok := t.endEvents[executor]; !ok {
			event, err := executor.CreateEvent()
			if err != nil {
				return err
			}
			t.endEvents[executor] = event
		}
	}
	return nil
}

// isLocal reports whether every replica group maps, by integer division
// against the local device count, to a single host node. A group spanning
// nodes makes the memcpy transport invalid.
func (t *Thunk) isLocal() bool {
	count := t.localDeviceCount.Load()
	if count <= 0 {
		exceptions.Panicf("ragged-all-to-all %q: locality queried before Initialize", t.name)
	}
	for _, group := range t.config.ReplicaGroups {
		if len(group) == 0 {
			continue
		}
		nodeID := group[0] / count
		for _, rank := range group {
			if rank/count != nodeID {
				return false
			}
		}
	}
	return true
}

func (t *Thunk) shouldUseMemcpy() bool {
	return t.memcpyEnabled && t.isLocal()
}

// ExecuteParams carries everything one execution on one device needs.
type ExecuteParams struct {
	// Stream of the executing device; its parent executor keys the caches.
	Stream *streamexec.Stream

	// Comm is the communicator bound to the participating device group.
	Comm collectives.Communicator

	// CliqueKey identifies the participant set, both for rendezvous scoping
	// and for rank discovery.
	CliqueKey      collectives.CliqueKey
	GlobalDeviceID int

	// Allocations is the execution's buffer assignment, indexed by the
	// thunk's buffer slots.
	Allocations []streamexec.DeviceMemory
}

func (t *Thunk) resolveBuffers(allocations []streamexec.DeviceMemory) ([]collectives.DeviceBufferPair, error) {
	pairs := make([]collectives.DeviceBufferPair, len(t.buffers))
	for i, buffer := range t.buffers {
		if buffer.SourceSlot < 0 || buffer.SourceSlot >= len(allocations) ||
			buffer.DestinationSlot < 0 || buffer.DestinationSlot >= len(allocations) {
			return nil, errors.Errorf("ragged-all-to-all %q: buffer slots (%d, %d) out of range, execution provided %d allocations",
				t.name, buffer.SourceSlot, buffer.DestinationSlot, len(allocations))
		}
		pairs[i] = collectives.DeviceBufferPair{
			ElementType: t.config.OperandElementTypes[i],
			Source:      allocations[buffer.SourceSlot],
			Destination: allocations[buffer.DestinationSlot],
		}
	}
	return pairs, nil
}

// Execute runs one exchange on the device owning params.Stream: it resolves
// the device buffers, then dispatches to the memcpy transport when enabled
// and the device group is local, and to the communicator transport otherwise.
// It stops at the first failure and propagates it unchanged.
func (t *Thunk) Execute(params ExecuteParams) error {
	buffers, err := t.resolveBuffers(params.Allocations)
	if err != nil {
		return err
	}
	executor := params.Stream.Parent()

	t.mu.Lock()
	hostAllocs, ok := t.metadataBuffers[executor]
	scratch, okScratch := t.offsetsScratch[executor]
	t.mu.Unlock()
	if !ok || !okScratch {
		return errors.Errorf("ragged-all-to-all %q executed on device %d before Initialize",
			t.name, executor.DeviceOrdinal())
	}

	if t.shouldUseMemcpy() {
		t.eventsMu.Lock()
		startEvent := t.startEvents[executor]
		endEvent := t.endEvents[executor]
		t.eventsMu.Unlock()
		rank, ok := params.CliqueKey.Rank(params.GlobalDeviceID)
		if !ok {
			return errors.Errorf("ragged-all-to-all %q: device %d is not a member of %s",
				t.name, params.GlobalDeviceID, params.CliqueKey)
		}
		return runMemcpyRaggedAllToAll(t.config, params.CliqueKey, rank, buffers, params.Stream,
			params.Comm, hostAllocs, startEvent, endEvent)
	}
	return runRaggedAllToAll(t.config, buffers, params.Stream, params.Comm, hostAllocs, scratch)
}
