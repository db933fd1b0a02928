// Package physical holds the closed set of physical scalar kinds the
// layout synthesizer and function lowerer operate on, along with their
// size, alignment and native machine width for a given target.
//
// This is the "Primitive Type Table" of the design: every logical
// ir.ColumnType materializes into exactly one of these (or, for Unit,
// into none at all).
package physical

import (
	"fmt"

	"github.com/arc-language/dataflow-jit/target"
)

// Type is a physical scalar kind: the closed set the code generator
// understands at the byte-layout level.
type Type uint8

const (
	U8 Type = iota
	I8
	U16
	I16
	U32
	I32
	U64
	I64
	F32
	F64
	Bool
	Ptr
	Usize
)

func (t Type) String() string {
	switch t {
	case U8:
		return "u8"
	case I8:
		return "i8"
	case U16:
		return "u16"
	case I16:
		return "i16"
	case U32:
		return "u32"
	case I32:
		return "i32"
	case U64:
		return "u64"
	case I64:
		return "i64"
	case F32:
		return "f32"
	case F64:
		return "f64"
	case Bool:
		return "bool"
	case Ptr:
		return "ptr"
	case Usize:
		return "usize"
	default:
		return fmt.Sprintf("physical.Type(%d)", uint8(t))
	}
}

// IsU8 reports whether t is the one-byte unsigned integer kind, the
// type the layout synthesizer gives every bitset placeholder.
func (t Type) IsU8() bool {
	return t == U8
}

// IsFloat reports whether t is F32 or F64.
func (t Type) IsFloat() bool {
	return t == F32 || t == F64
}

// Size returns the size in bytes of t on the given target.
func (t Type) Size(td target.Description) uint32 {
	switch t {
	case Ptr, Usize:
		return td.PointerBytes
	case U64, I64, F64:
		return 8
	case U32, I32, F32:
		return 4
	case U16, I16:
		return 2
	case U8, I8, Bool:
		return 1
	default:
		panic(fmt.Sprintf("physical: unhandled type in Size: %v", t))
	}
}

// Align returns the alignment in bytes of t on the given target. Every
// variant has natural alignment: align(t) == size(t).
func (t Type) Align(td target.Description) uint32 {
	return t.Size(td)
}

// Bits returns the width, in bits, of the native integer/float register
// this type occupies. Used when computing how many nullability flags
// fit in a single bitset byte (always 8, since bitset placeholders are
// always U8) and, more generally, by the builder to pick an immediate
// width.
func (t Type) Bits(td target.Description) uint8 {
	return uint8(t.Size(td) * 8)
}
