package layout

import (
	"testing"

	"github.com/arc-language/dataflow-jit/ir"
	"github.com/arc-language/dataflow-jit/physical"
	"github.com/arc-language/dataflow-jit/target"
)

func row(cols ...ir.ColumnType) ir.RowLayout {
	b := ir.NewRowLayoutBuilder()
	for _, c := range cols {
		b.WithColumn(c, false)
	}
	return b.Build()
}

func rowNullable(spec ...struct {
	ty       ir.ColumnType
	nullable bool
}) ir.RowLayout {
	b := ir.NewRowLayoutBuilder()
	for _, s := range spec {
		b.WithColumn(s.ty, s.nullable)
	}
	return b.Build()
}

func nullableCol(ty ir.ColumnType, nullable bool) struct {
	ty       ir.ColumnType
	nullable bool
} {
	return struct {
		ty       ir.ColumnType
		nullable bool
	}{ty, nullable}
}

// S1: an all-Unit row is zero-sized and every column is phantom.
func TestSynthesize_AllUnit(t *testing.T) {
	r := row(ir.Unit, ir.Unit, ir.Unit)
	l := Synthesize(r, target.Host())

	if !l.IsZeroSized() {
		t.Fatalf("expected zero-sized layout, got size %d", l.Size())
	}
	if l.Align() != 1 {
		t.Fatalf("expected align 1 for an all-Unit row, got %d", l.Align())
	}
}

// S2: a single non-nullable column occupies exactly its native size,
// padded to its own alignment (trivially satisfied already).
func TestSynthesize_SingleColumn(t *testing.T) {
	r := row(ir.I64)
	l := Synthesize(r, target.Host())

	if l.Size() != 8 {
		t.Fatalf("expected size 8, got %d", l.Size())
	}
	if l.Align() != 8 {
		t.Fatalf("expected align 8, got %d", l.Align())
	}
	if l.OffsetOf(0) != 0 {
		t.Fatalf("expected offset 0, got %d", l.OffsetOf(0))
	}
	if l.TypeOf(0) != physical.I64 {
		t.Fatalf("expected physical type I64, got %v", l.TypeOf(0))
	}
}

// S3: a single nullable column gets one trailing bitset byte.
func TestSynthesize_SingleNullableColumn(t *testing.T) {
	r := rowNullable(nullableCol(ir.I32, true))
	l := Synthesize(r, target.Host())

	if !l.IsNullable(0) {
		t.Fatalf("expected column 0 to be nullable")
	}
	bitTy, bitOff, bit := l.NullabilityOf(0)
	if bitTy != physical.U8 {
		t.Fatalf("expected nullability bitset type U8, got %v", bitTy)
	}
	if bit != 0 {
		t.Fatalf("expected bit index 0 for the first nullable column, got %d", bit)
	}
	// The I32 field itself occupies bytes [0,4); the bitset byte must not
	// overlap it.
	if bitOff < l.OffsetOf(0)+4 {
		t.Fatalf("nullability bitset byte at %d overlaps the I32 field at %d", bitOff, l.OffsetOf(0))
	}
}

// S4: padding ahead of a more strictly aligned field is consumed by
// pooled bitset bytes before falling back to real padding.
func TestSynthesize_BitflagsConsumePadding(t *testing.T) {
	r := rowNullable(
		nullableCol(ir.Bool, true), // 1 byte, needs a nullability bit
		nullableCol(ir.I64, true),  // 8-byte aligned: 7 bytes of gap after Bool
	)
	l := Synthesize(r, target.Host())

	// Bool at offset 0 (1 byte), then up to 7 bytes of padding before the
	// I64 at offset 8. Both columns are nullable but fit in a single
	// bitflag byte (ceil(2/8) == 1), which should land inside that
	// padding gap rather than at the tail, keeping the total row size at
	// exactly 16.
	if l.OffsetOf(1) != 8 {
		t.Fatalf("expected I64 at offset 8, got %d", l.OffsetOf(1))
	}
	if l.Size() != 16 {
		t.Fatalf("expected total size 16 (bitflags absorbed into padding), got %d", l.Size())
	}

	_, off0, bit0 := l.NullabilityOf(0)
	_, off1, bit1 := l.NullabilityOf(1)
	if off0 == l.OffsetOf(0) || off1 == l.OffsetOf(0) {
		t.Fatalf("nullability bitset byte must not alias the Bool field itself")
	}
	if off0 >= 8 || off1 >= 8 {
		t.Fatalf("expected both bitset bytes inside the [1,8) padding gap, got %d and %d", off0, off1)
	}
	if off0 == off1 && bit0 == bit1 {
		t.Fatalf("two distinct nullable columns must not share (byte, bit)")
	}
}

// S5 (bit wraparound): more than 8 nullable columns roll over into a
// second bitset byte.
func TestSynthesize_BitflagWraparound(t *testing.T) {
	spec := make([]struct {
		ty       ir.ColumnType
		nullable bool
	}, 9)
	for i := range spec {
		spec[i] = nullableCol(ir.U8, true)
	}
	r := rowNullable(spec...)
	l := Synthesize(r, target.Host())

	seen := make(map[[2]uint32]bool)
	for c := 0; c < 9; c++ {
		_, off, bit := l.NullabilityOf(c)
		key := [2]uint32{off, uint32(bit)}
		if seen[key] {
			t.Fatalf("column %d collides with an earlier column's (offset, bit) %v", c, key)
		}
		seen[key] = true
	}

	// 9 flags need ceil(9/8) = 2 bitset bytes; the 9th column must have
	// rolled over to bit 0 of the second byte.
	_, _, bit8 := l.NullabilityOf(8)
	if bit8 != 0 {
		t.Fatalf("expected the 9th nullable column to start a new bitset byte at bit 0, got bit %d", bit8)
	}
}

// S6: trailing size is padded up to the row's overall alignment.
func TestSynthesize_TrailingPadding(t *testing.T) {
	r := row(ir.U8, ir.I64) // 1 byte then an 8-byte-aligned field
	l := Synthesize(r, target.Host())

	if l.Size()%l.Align() != 0 {
		t.Fatalf("row size %d is not a multiple of its alignment %d", l.Size(), l.Align())
	}
}

// Invariant: Size is always a multiple of Align.
func TestSynthesize_SizeIsMultipleOfAlign(t *testing.T) {
	cases := [][]ir.ColumnType{
		{ir.Bool},
		{ir.Bool, ir.I64},
		{ir.F64, ir.Bool, ir.I32, ir.Bool},
		{ir.U8, ir.U8, ir.U8, ir.I64, ir.Bool},
		{ir.String, ir.Date, ir.Timestamp},
	}
	for _, cols := range cases {
		l := Synthesize(row(cols...), target.Host())
		if l.Size()%l.Align() != 0 {
			t.Fatalf("cols=%v: size %d not a multiple of align %d", cols, l.Size(), l.Align())
		}
	}
}

// Invariant: every physical field's offset is aligned to its own type's
// alignment, and no two fields overlap.
func TestSynthesize_FieldsAlignedAndNonOverlapping(t *testing.T) {
	l := Synthesize(row(ir.Bool, ir.I64, ir.U16, ir.F64, ir.I32), target.Host())

	cols := l.Columns()
	for i, col := range cols {
		if col.Offset%col.Type.Align(target.Host()) != 0 {
			t.Fatalf("field %d at offset %d is not aligned to %d", i, col.Offset, col.Type.Align(target.Host()))
		}
	}

	type interval struct{ start, end uint32 }
	var intervals []interval
	for _, col := range cols {
		intervals = append(intervals, interval{col.Offset, col.Offset + col.Type.Size(target.Host())})
	}
	for i := range intervals {
		for j := range intervals {
			if i == j {
				continue
			}
			a, b := intervals[i], intervals[j]
			if a.start < b.end && b.start < a.end {
				t.Fatalf("fields %d and %d overlap: %v vs %v", i, j, a, b)
			}
		}
	}
}

// Invariant: a Unit column never consumes a physical slot, but its
// columnToPhysical mapping still points at a valid "next" index so
// logical indexing stays contiguous.
func TestSynthesize_UnitColumnsArePhantom(t *testing.T) {
	r := row(ir.I32, ir.Unit, ir.I64)
	l := Synthesize(r, target.Host())

	if len(l.Columns()) != 2 {
		t.Fatalf("expected 2 physical fields for 2 non-Unit columns, got %d", len(l.Columns()))
	}
	if l.TypeOf(0) != physical.I32 {
		t.Fatalf("expected column 0 to be I32, got %v", l.TypeOf(0))
	}
	if l.TypeOf(2) != physical.I64 {
		t.Fatalf("expected column 2 to be I64, got %v", l.TypeOf(2))
	}
}

func TestSynthesizeOptimized_RemapsColumnsAndNullability(t *testing.T) {
	r := rowNullable(
		nullableCol(ir.Bool, true),
		nullableCol(ir.I64, true),
		nullableCol(ir.U16, false),
	)

	l := synthesizeOptimized(r, target.Host())

	// Regardless of physical reordering, the logical column count and
	// per-column nullability must still reflect the source row.
	if len(l.Columns()) == 0 {
		t.Fatalf("expected at least one physical field")
	}
	if !l.IsNullable(0) || !l.IsNullable(1) {
		t.Fatalf("expected logical columns 0 and 1 to remain nullable after reordering")
	}
	if l.IsNullable(2) {
		t.Fatalf("expected logical column 2 to remain non-nullable after reordering")
	}
	if l.TypeOf(1) != physical.I64 {
		t.Fatalf("expected logical column 1 to still resolve to I64, got %v", l.TypeOf(1))
	}
}
