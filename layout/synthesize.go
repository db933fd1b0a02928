package layout

import (
	"fmt"

	"github.com/arc-language/dataflow-jit/ir"
	"github.com/arc-language/dataflow-jit/physical"
	"github.com/arc-language/dataflow-jit/target"
)

const maxSize = uint64(1)<<32 - 1

// OverflowError is panicked when a row's computed size would exceed
// what fits in a u32. Per spec.md §4.1/§7 this is always fatal: a
// RowLayout this large is a hard failure, not a recoverable error.
type OverflowError struct {
	Attempted uint64
}

func (e *OverflowError) Error() string {
	return fmt.Sprintf("layout: size overflowed u32::MAX (attempted %d)", e.Attempted)
}

func paddingNeededFor(size, align uint32) uint32 {
	if align == 0 {
		return 0
	}
	rem := size % align
	if rem == 0 {
		return 0
	}
	return align - rem
}

func checkedAdd(size uint64, delta uint32) uint64 {
	total := size + uint64(delta)
	if total > maxSize {
		panic(&OverflowError{Attempted: total})
	}
	return total
}

// Synthesize converts a source RowLayout into its NativeLayout for the
// given target, using the unoptimized, source-order packing algorithm.
// This is the production path; see synthesizeOptimized for the gated
// alternative.
//
// Algorithm (spec.md §4.1, steps 1-7):
//  1. Reserve ceil(nullable/8) one-byte bitset placeholders.
//  2. Walk columns in source order, tracking running size/align.
//  3. For each non-Unit column, compute padding to the field's
//     alignment; consume pooled bitset bytes into that padding before
//     falling back to real padding bytes.
//  4. Emit any leftover bitset bytes at the tail.
//  5. Pad the final size up to the row's alignment.
//  6. Walk nullable columns in source order, assigning (bitset byte,
//     bit) pairs bit-by-bit, rolling over to the next bitset byte when
//     one fills up.
//  7. Unit columns consume no physical slot but still get a
//     columnToPhysical entry, equal to the index the next physical
//     entry will occupy, so logical indexing stays contiguous.
func Synthesize(row ir.RowLayout, td target.Description) *NativeLayout {
	n := row.Len()
	requiredBitflags := row.NullableCount()
	bitflagPool := (requiredBitflags + 7) / 8

	types := make([]physical.Type, 0, n)
	offsets := make([]uint32, 0, n)
	columnToPhysical := make([]uint32, n)
	bitflagIndices := make([]uint32, 0, bitflagPool)

	var size uint64
	var align uint32 = 1
	var index uint32

	consumeBitflag := func() {
		bitflagIndices = append(bitflagIndices, index)
		offsets = append(offsets, uint32(size))
		types = append(types, physical.U8)
		size = checkedAdd(size, 1)
		if align < 1 {
			align = 1
		}
		index++
	}

	for c := 0; c < n; c++ {
		col := row.Column(c)
		pty, ok := physical.FromColumnType(col)
		if !ok {
			// Unit: phantom, maps to whatever physical index comes next.
			columnToPhysical[c] = index
			continue
		}

		fieldAlign := pty.Align(td)
		if fieldAlign > align {
			align = fieldAlign
		}

		requiredPadding := paddingNeededFor(uint32(size), fieldAlign)
		for requiredPadding > 0 && bitflagPool > 0 {
			consumeBitflag()
			bitflagPool--
			requiredPadding--
		}

		size = checkedAdd(size, requiredPadding)
		offsets = append(offsets, uint32(size))
		size = checkedAdd(size, pty.Size(td))

		columnToPhysical[c] = index
		types = append(types, pty)
		index++
	}

	for ; bitflagPool > 0; bitflagPool-- {
		consumeBitflag()
	}

	size = checkedAdd(size, paddingNeededFor(uint32(size), align))

	nullFlags := make([]*nullBit, n)
	flagIdx, bitIdx := 0, uint8(0)
	for c := 0; c < n; c++ {
		if !row.IsNullable(c) {
			continue
		}
		flagOffset := bitflagIndices[flagIdx]
		flagBits := types[flagOffset].Bits(td)

		if bitIdx < flagBits {
			nullFlags[c] = &nullBit{physicalIndex: bitflagIndices[flagIdx], bit: bitIdx}
			bitIdx++
		} else {
			flagIdx++
			nullFlags[c] = &nullBit{physicalIndex: bitflagIndices[flagIdx], bit: 0}
			bitIdx = 1
		}
	}

	return &NativeLayout{
		size:             uint32(size),
		align:            align,
		types:            types,
		offsets:          offsets,
		columnToPhysical: columnToPhysical,
		nullFlags:        nullFlags,
	}
}
