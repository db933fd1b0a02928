package layout

import (
	"sort"

	"github.com/arc-language/dataflow-jit/ir"
	"github.com/arc-language/dataflow-jit/physical"
	"github.com/arc-language/dataflow-jit/target"
)

// synthesizeOptimized is the experimental, field-reordering packing
// path gated behind codegen.Config.OptimizeLayouts (default off — see
// DESIGN.md's resolution of the "optimized layout" open question). The
// reference it's grounded on, the original Rust from_row2, sorts
// columns by descending alignment before packing but was never finished
// — it stops short of assigning nullability bits at all. This
// reimplements the same reordering idea on top of the already-correct
// Synthesize, instead of porting the unfinished original verbatim.
//
// It builds a permuted RowLayout with non-Unit columns ordered by
// descending physical alignment (stable on ties, so equal-alignment
// columns keep their source relative order), packs that with Synthesize
// — which needs no padding-driven bitflag stuffing once fields are
// pre-sorted widest-first — and then remaps the result back to the
// original logical column indices.
func synthesizeOptimized(row ir.RowLayout, td target.Description) *NativeLayout {
	n := row.Len()
	perm := make([]int, n)
	for i := range perm {
		perm[i] = i
	}

	alignOf := func(c int) uint32 {
		pty, ok := physical.FromColumnType(row.Column(c))
		if !ok {
			return 0
		}
		return pty.Align(td)
	}

	sort.SliceStable(perm, func(i, j int) bool {
		return alignOf(perm[i]) > alignOf(perm[j])
	})

	permuted := ir.NewRowLayoutBuilder()
	for _, origIdx := range perm {
		permuted = permuted.WithColumn(row.Column(origIdx), row.IsNullable(origIdx))
	}
	built := permuted.Build()

	inner := Synthesize(built, td)

	columnToPhysical := make([]uint32, n)
	nullFlags := make([]*nullBit, n)
	for permPos, origIdx := range perm {
		columnToPhysical[origIdx] = inner.columnToPhysical[permPos]
		nullFlags[origIdx] = inner.nullFlags[permPos]
	}

	return &NativeLayout{
		size:             inner.size,
		align:            inner.align,
		types:            inner.types,
		offsets:          inner.offsets,
		columnToPhysical: columnToPhysical,
		nullFlags:        nullFlags,
	}
}
