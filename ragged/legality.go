package ragged

import (
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"
)

// supportedElementTypes are the element types the transports can move.
var supportedElementTypes = map[dtypes.DType]bool{
	dtypes.Int8:     true,
	dtypes.Int16:    true,
	dtypes.Int32:    true,
	dtypes.Int64:    true,
	dtypes.Uint8:    true,
	dtypes.Uint16:   true,
	dtypes.Uint32:   true,
	dtypes.Uint64:   true,
	dtypes.Float16:  true,
	dtypes.BFloat16: true,
	dtypes.Float32:  true,
	dtypes.Float64:  true,
}

// CheckLegality verifies that the operation can be executed by this engine:
// every operand has a supported element type and layout, the ragged dimension
// occupies the most-major position of the result layout, and the offset/size
// operands use 64-bit signed integers.
//
// It is a pre-execution gate, checked once when the operation is compiled;
// a failure is fatal to that operation and never retried.
func CheckLegality(op *OpDescription, replicaCount, partitionCount int) error {
	if err := checkLegality(op); err != nil {
		return errors.WithMessagef(err, "unsupported ragged-all-to-all %q (replicas=%d, partitions=%d)",
			op.Name, replicaCount, partitionCount)
	}
	return nil
}

func checkLegality(op *OpDescription) error {
	if len(op.Operands) != numOperands {
		return errors.Errorf("expected %d operands, got %d", numOperands, len(op.Operands))
	}
	for i, operand := range op.Operands {
		if err := checkOperand(operand); err != nil {
			return errors.WithMessagef(err, "operand %d", i)
		}
	}
	if err := checkOperand(op.Result); err != nil {
		return errors.WithMessage(err, "result")
	}
	if !op.Result.isEffectivelyMostMajor(0) {
		return errors.Errorf("the ragged dimension (0) must be in the most major position of the result layout %v",
			op.Result.layout())
	}
	if dtype := op.Operands[operandInputOffsets].DType; dtype != dtypes.Int64 {
		return errors.Errorf("unsupported element type %s for ragged offsets and sizes: only %s is supported",
			dtype, dtypes.Int64)
	}
	return nil
}

func checkOperand(shape Shape) error {
	if !supportedElementTypes[shape.DType] {
		return errors.Errorf("unsupported element type %s", shape.DType)
	}
	if len(shape.MinorToMajor) == 0 {
		return nil
	}
	if len(shape.MinorToMajor) != shape.Rank() {
		return errors.Errorf("layout %v does not match rank %d", shape.MinorToMajor, shape.Rank())
	}
	seen := make([]bool, shape.Rank())
	for _, axis := range shape.MinorToMajor {
		if axis < 0 || axis >= shape.Rank() || seen[axis] {
			return errors.Errorf("layout %v is not a permutation of the axes", shape.MinorToMajor)
		}
		seen[axis] = true
	}
	return nil
}
