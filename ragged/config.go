package ragged

import (
	"github.com/gomlx/collectives"
	"github.com/gomlx/gopjrt/dtypes"
)

// Config is the immutable per-operation configuration, derived once from the
// operation description at thunk-creation time.
type Config struct {
	// NumTotalUpdates is the total number of ragged row-updates across all
	// peers; each metadata array has this many entries.
	NumTotalUpdates int64

	// RaggedRowElementSize is the number of scalar elements in one ragged row.
	RaggedRowElementSize int64

	ReplicaGroups [][]int64
	GroupMode     collectives.GroupMode

	// OperandElementTypes holds the element type of every operand, in operand
	// order.
	OperandElementTypes []dtypes.DType
	OperandCount        int
}

func newConfig(op *OpDescription) Config {
	config := Config{
		NumTotalUpdates:      op.Operands[operandInputOffsets].Dimensions[0],
		RaggedRowElementSize: op.Result.Elements() / op.Result.Dimensions[0],
		ReplicaGroups:        cloneReplicaGroups(op.ReplicaGroups),
		GroupMode:            op.GroupMode,
		OperandCount:         len(op.Operands),
	}
	config.OperandElementTypes = make([]dtypes.DType, len(op.Operands))
	for i, operand := range op.Operands {
		config.OperandElementTypes[i] = operand.DType
	}
	return config
}
