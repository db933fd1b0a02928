package physical

import (
	"fmt"

	"github.com/arc-language/dataflow-jit/ir"
)

// FromColumnType maps a logical ir.ColumnType to the physical type used
// to materialize it, returning ok == false for ir.Unit (which never
// occupies physical storage).
//
// String lowers to a pointer to a length-prefixed heap string. Date
// lowers to a 32-bit day count; Timestamp lowers to a 64-bit value
// (milliseconds since epoch) — spec.md names both column types but
// leaves their physical width to the implementer, so these two mappings
// are this repository's own choice, recorded in DESIGN.md.
func FromColumnType(c ir.ColumnType) (Type, bool) {
	switch c {
	case ir.Unit:
		return 0, false
	case ir.Bool:
		return Bool, true
	case ir.U8:
		return U8, true
	case ir.I8:
		return I8, true
	case ir.U16:
		return U16, true
	case ir.I16:
		return I16, true
	case ir.U32:
		return U32, true
	case ir.I32:
		return I32, true
	case ir.U64:
		return U64, true
	case ir.I64:
		return I64, true
	case ir.F32:
		return F32, true
	case ir.F64:
		return F64, true
	case ir.String:
		return Ptr, true
	case ir.Date:
		return I32, true
	case ir.Timestamp:
		return I64, true
	default:
		panic(fmt.Sprintf("physical: unhandled column type %v", c))
	}
}
