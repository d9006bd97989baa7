package ragged

import (
	"testing"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/stretchr/testify/require"
)

func TestCheckLegalityAcceptsCanonicalOp(t *testing.T) {
	require.NoError(t, CheckLegality(testOp(), 2, 1))
}

func TestCheckLegalityRejectsNarrowOffsets(t *testing.T) {
	op := testOp()
	for i := operandInputOffsets; i <= operandRecvSizes; i++ {
		op.Operands[i] = MakeShape(dtypes.Int32, testNumTotalUpdates)
	}
	err := CheckLegality(op, 2, 1)
	require.ErrorContains(t, err, "unsupported element type")
	require.ErrorContains(t, err, "ragged-all-to-all.1")
}

func TestCheckLegalityRejectsMinorRaggedDimension(t *testing.T) {
	op := testOp()
	op.Result.MinorToMajor = []int{0, 1} // ragged dimension fastest-varying
	err := CheckLegality(op, 2, 1)
	require.ErrorContains(t, err, "most major")
}

func TestCheckLegalityRejectsBrokenLayout(t *testing.T) {
	op := testOp()
	op.Operands[operandInput].MinorToMajor = []int{1, 1}
	require.ErrorContains(t, CheckLegality(op, 2, 1), "not a permutation")

	op = testOp()
	op.Operands[operandInput].MinorToMajor = []int{1}
	require.ErrorContains(t, CheckLegality(op, 2, 1), "does not match rank")
}

func TestCheckLegalityRejectsUnsupportedDataType(t *testing.T) {
	op := testOp()
	op.Operands[operandInput].DType = dtypes.Complex64
	require.ErrorContains(t, CheckLegality(op, 2, 1), "unsupported element type")
}

func TestCheckLegalityRejectsWrongOperandCount(t *testing.T) {
	op := testOp()
	op.Operands = op.Operands[:4]
	require.ErrorContains(t, CheckLegality(op, 2, 1), "operands")
}

func TestIsEffectivelyMostMajor(t *testing.T) {
	s := MakeShape(dtypes.Float32, 4, 8)
	require.True(t, s.isEffectivelyMostMajor(0), "default layout is descending")
	require.False(t, s.isEffectivelyMostMajor(1))

	s.MinorToMajor = []int{0, 1}
	require.False(t, s.isEffectivelyMostMajor(0))
	require.True(t, s.isEffectivelyMostMajor(1))

	// Degenerate axes do not count: axis 0 is still effectively most major
	// when only size-1 axes are more major.
	s = Shape{DType: dtypes.Float32, Dimensions: []int64{4, 1, 8}, MinorToMajor: []int{2, 0, 1}}
	require.True(t, s.isEffectivelyMostMajor(0))

	// A size-1 axis is trivially most major.
	s = MakeShape(dtypes.Float32, 1, 8)
	require.True(t, s.isEffectivelyMostMajor(0))
}
