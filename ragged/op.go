// Package ragged implements the ragged all-to-all exchange engine: the
// collective operation that moves variable-length row ranges of a tensor
// between the devices of a clique, driven by offset/size metadata that lives
// in device memory.
//
// The entry point is the Thunk: created once per compiled operation, it is
// initialized per device and then executed repeatedly, one host thread per
// participating device. Two transports realize the exchange: grouped
// communicator send/recv pairs, or direct device-to-device copies synchronized
// by a host-side rendezvous protocol.
package ragged

import (
	"slices"

	"github.com/gomlx/collectives"
	"github.com/gomlx/gopjrt/dtypes"
)

// Operand positions of a ragged all-to-all operation.
const (
	operandInput = iota
	operandOutput
	operandInputOffsets
	operandSendSizes
	operandOutputOffsets
	operandRecvSizes

	numOperands = 6
)

// numRaggedMetadataOperands counts the operands carrying ragged metadata:
// input offsets, send sizes, output offsets and receive sizes.
const numRaggedMetadataOperands = 4

// Shape describes one operand or result buffer: element type, dimensions and
// memory layout.
type Shape struct {
	DType      dtypes.DType
	Dimensions []int64

	// MinorToMajor is the layout: MinorToMajor[0] is the fastest-varying axis.
	// Empty means the default descending layout [rank-1, ..., 0].
	MinorToMajor []int
}

// MakeShape returns a Shape with the default layout.
func MakeShape(dtype dtypes.DType, dimensions ...int64) Shape {
	return Shape{DType: dtype, Dimensions: dimensions}
}

// Rank returns the number of axes.
func (s Shape) Rank() int { return len(s.Dimensions) }

// Elements returns the total number of elements.
func (s Shape) Elements() int64 {
	size := int64(1)
	for _, dim := range s.Dimensions {
		size *= dim
	}
	return size
}

// layout returns the minor-to-major axis order, materializing the default
// when none was set.
func (s Shape) layout() []int {
	if len(s.MinorToMajor) > 0 {
		return s.MinorToMajor
	}
	layout := make([]int, s.Rank())
	for i := range layout {
		layout[i] = s.Rank() - 1 - i
	}
	return layout
}

// isEffectivelyMostMajor reports whether axis occupies the most-major position
// of the layout, ignoring degenerate (size 1) axes.
func (s Shape) isEffectivelyMostMajor(axis int) bool {
	if axis < 0 || axis >= s.Rank() {
		return false
	}
	if s.Dimensions[axis] == 1 {
		return true
	}
	layout := s.layout()
	for i := len(layout) - 1; i >= 0; i-- {
		major := layout[i]
		if s.Dimensions[major] == 1 {
			continue
		}
		return major == axis
	}
	return false
}

// OpDescription is the resolved, compiler-produced description of one ragged
// all-to-all operation: operand and result shapes, replica grouping and group
// mode. The engine consumes it as given; deciding its legality beyond
// CheckLegality belongs to the surrounding compiler.
type OpDescription struct {
	Name string

	// Operands in the order input, output, inputOffsets, sendSizes,
	// outputOffsets, recvSizes.
	Operands []Shape
	Result   Shape

	ReplicaGroups [][]int64
	GroupMode     collectives.GroupMode
}

func cloneReplicaGroups(groups [][]int64) [][]int64 {
	cloned := make([][]int64, len(groups))
	for i, group := range groups {
		cloned[i] = slices.Clone(group)
	}
	return cloned
}
