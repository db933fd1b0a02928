// Package layout synthesizes the physical encoding of a row — field
// ordering, byte offsets and nullability-bit placement — and caches the
// result per LayoutId. See synthesize.go for the packing algorithm and
// cache.go for the memoizing NativeLayoutCache.
package layout

import (
	"fmt"

	"github.com/arc-language/dataflow-jit/physical"
	"github.com/arc-language/dataflow-jit/rowalloc"
)

// nullBit locates a nullable column's flag: which physical bitset byte
// it lives in, and which of that byte's 8 bits it is.
type nullBit struct {
	physicalIndex uint32
	bit           uint8
}

// NativeLayout is the physical encoding of a RowLayout: total size and
// alignment, the ordered list of physical fields actually materialized
// (including bitset bytes), their offsets, and the logical-column ->
// physical-index / nullability-bit maps.
type NativeLayout struct {
	size  uint32
	align uint32

	types   []physical.Type
	offsets []uint32

	// columnToPhysical[c] is the index into types/offsets holding
	// column c. For a Unit column this is the index physical storage
	// *would* occupy next — Unit columns are phantom and this index
	// must never be used to load or store.
	columnToPhysical []uint32

	// nullFlags[c] is non-nil iff column c is nullable.
	nullFlags []*nullBit
}

// Size returns the total row size in bytes, including trailing padding.
func (l *NativeLayout) Size() uint32 { return l.size }

// Align returns the row's required alignment in bytes; always a power
// of two, at least 1.
func (l *NativeLayout) Align() uint32 { return l.align }

// IsZeroSized reports whether the row occupies no bytes at all (an
// empty RowLayout, or one containing only Unit columns).
func (l *NativeLayout) IsZeroSized() bool { return l.size == 0 }

// OffsetOf returns the byte offset of the given logical column from the
// row base. Must not be called for a Unit column.
func (l *NativeLayout) OffsetOf(column int) uint32 {
	return l.offsets[l.columnToPhysical[column]]
}

// TypeOf returns the physical type materialized for the given logical
// column. Must not be called for a Unit column.
func (l *NativeLayout) TypeOf(column int) physical.Type {
	return l.types[l.columnToPhysical[column]]
}

// IsNullable reports whether the given logical column carries a
// nullability flag.
func (l *NativeLayout) IsNullable(column int) bool {
	return l.nullFlags[column] != nil
}

// NullabilityOf returns the physical type of the bitset byte holding
// the given column's nullability flag, that byte's offset, and the bit
// position (0..7) within it. Panics if the column isn't nullable.
func (l *NativeLayout) NullabilityOf(column int) (physical.Type, uint32, uint8) {
	nb := l.nullFlags[column]
	if nb == nil {
		panic(fmt.Sprintf("layout: column %d is not nullable", column))
	}
	return l.types[nb.physicalIndex], l.offsets[nb.physicalIndex], nb.bit
}

// PhysicalColumn is one entry of NativeLayout.Columns(): a physical
// field's offset and type.
type PhysicalColumn struct {
	Offset uint32
	Type   physical.Type
}

// Columns returns every physical field materialized by the layout, in
// offset order, including bitset bytes.
func (l *NativeLayout) Columns() []PhysicalColumn {
	cols := make([]PhysicalColumn, len(l.types))
	for i := range l.types {
		cols[i] = PhysicalColumn{Offset: l.offsets[i], Type: l.types[i]}
	}
	return cols
}

// Alloc allocates a single row conforming to this layout. See
// rowalloc.Alloc.
func (l *NativeLayout) Alloc() (rowalloc.RowAddr, error) {
	return rowalloc.Alloc(l.size, l.align, l.IsZeroSized())
}

// Dealloc releases a row previously returned by Alloc.
func (l *NativeLayout) Dealloc(addr rowalloc.RowAddr) error {
	return rowalloc.Dealloc(addr, l.size, l.align, l.IsZeroSized())
}

// AllocArray allocates n contiguous rows conforming to this layout. See
// rowalloc.AllocArray.
func (l *NativeLayout) AllocArray(n uint64) (rowalloc.RowAddr, error) {
	return rowalloc.AllocArray(l.size, l.align, l.IsZeroSized(), n)
}

// DeallocArray releases an array previously returned by AllocArray.
func (l *NativeLayout) DeallocArray(addr rowalloc.RowAddr, n uint64) error {
	return rowalloc.DeallocArray(addr, l.size, l.align, l.IsZeroSized(), n)
}
