package collectives

import (
	"fmt"
	"slices"
	"strings"

	"github.com/gomlx/exceptions"
)

// CliqueKey identifies the ordered set of global devices participating in one
// collective instance. It routes to the right communicator and scopes the
// rendezvous barriers, so concurrently active exchanges over disjoint device
// groups never block each other.
type CliqueKey struct {
	devices []int
}

// NewCliqueKey builds a key from the global device ids, ordered by rank.
// It panics on an empty device list.
func NewCliqueKey(globalDeviceIDs []int) CliqueKey {
	if len(globalDeviceIDs) == 0 {
		exceptions.Panicf("collectives: clique key needs at least one device")
	}
	return CliqueKey{devices: slices.Clone(globalDeviceIDs)}
}

// NumDevices returns the clique size.
func (k CliqueKey) NumDevices() int { return len(k.devices) }

// Devices returns a copy of the global device ids, ordered by rank.
func (k CliqueKey) Devices() []int { return slices.Clone(k.devices) }

// Rank returns the rank of the given global device within the clique, and
// whether the device participates at all.
func (k CliqueKey) Rank(globalDeviceID int) (rank int, ok bool) {
	rank = slices.Index(k.devices, globalDeviceID)
	return rank, rank >= 0
}

// String returns a stable textual form, usable as a rendezvous scope.
func (k CliqueKey) String() string {
	var sb strings.Builder
	sb.WriteString("clique{devices=[")
	for i, d := range k.devices {
		if i > 0 {
			sb.WriteString(",")
		}
		fmt.Fprintf(&sb, "%d", d)
	}
	sb.WriteString("]}")
	return sb.String()
}

// GroupMode describes how replica and partition ids combine to select the
// devices that form one clique. It mirrors the group modes of the surrounding
// compiler's collective operations.
type GroupMode int

const (
	// CrossReplica: replica groups list replica ids; all partitions of a
	// replica act together.
	CrossReplica GroupMode = iota
	// CrossPartition: groups list partition ids within one replica.
	CrossPartition
	// CrossReplicaAndPartition: groups list replica ids, applied across every
	// partition.
	CrossReplicaAndPartition
	// FlattenedID: groups list flattened (replica*partitionCount+partition) ids.
	FlattenedID
)

// String implements fmt.Stringer.
func (m GroupMode) String() string {
	switch m {
	case CrossReplica:
		return "CrossReplica"
	case CrossPartition:
		return "CrossPartition"
	case CrossReplicaAndPartition:
		return "CrossReplicaAndPartition"
	case FlattenedID:
		return "FlattenedID"
	}
	return fmt.Sprintf("GroupMode(%d)", int(m))
}
