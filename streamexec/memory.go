package streamexec

import (
	"unsafe"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/gopjrt/dtypes"
	"golang.org/x/exp/constraints"
)

// DeviceMemory is a non-owning view of a region of one device's memory.
//
// The zero value is the null region. Regions are cheap values: slicing does
// not copy, it narrows the view.
type DeviceMemory struct {
	data []byte
}

// IsNull reports whether the region refers to no memory at all.
func (m DeviceMemory) IsNull() bool { return m.data == nil }

// Size returns the region's length in bytes.
func (m DeviceMemory) Size() int { return len(m.data) }

// Bytes returns the raw bytes backing the region.
//
// The bytes are only meaningful once the stream work writing them has
// completed; see the package documentation.
func (m DeviceMemory) Bytes() []byte { return m.data }

// Slice returns the sub-region holding count elements of the given dtype,
// starting offset elements into this region.
//
// It panics if the requested range falls outside the region.
func (m DeviceMemory) Slice(dtype dtypes.DType, offset, count int64) DeviceMemory {
	elemSize := int64(dtype.Size())
	low := offset * elemSize
	high := (offset + count) * elemSize
	if offset < 0 || count < 0 || high > int64(len(m.data)) {
		exceptions.Panicf("streamexec: slice of %d %s elements at offset %d out of range of a %d bytes region",
			count, dtype, offset, len(m.data))
	}
	return DeviceMemory{data: m.data[low:high:high]}
}

// View reinterprets raw bytes (device or pinned host memory) as a slice of T.
// The byte length must be a multiple of T's size; trailing bytes are dropped.
func View[T interface {
	constraints.Integer | constraints.Float
}](data []byte) []T {
	var t T
	n := len(data) / int(unsafe.Sizeof(t))
	if n == 0 {
		return nil
	}
	return unsafe.Slice((*T)(unsafe.Pointer(&data[0])), n)
}
