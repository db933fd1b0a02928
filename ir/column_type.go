// Package ir is the logical intermediate representation this codegen
// core consumes: row layouts, basic-block functions, and the
// expressions/terminators that make them up. Construction, parsing and
// serialization of this IR are out of scope here — we only read it.
package ir

import "fmt"

// ColumnType is the logical column domain the IR builds rows out of.
// Not every variant is materialized by the physical layer: Unit is
// always zero-sized and String lowers to a pointer to a length-prefixed
// heap string.
type ColumnType uint8

const (
	Unit ColumnType = iota
	Bool
	U8
	I8
	U16
	I16
	U32
	I32
	U64
	I64
	F32
	F64
	String
	Date
	Timestamp
)

func (c ColumnType) String() string {
	switch c {
	case Unit:
		return "unit"
	case Bool:
		return "bool"
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
	case String:
		return "string"
	case Date:
		return "date"
	case Timestamp:
		return "timestamp"
	default:
		return fmt.Sprintf("ir.ColumnType(%d)", uint8(c))
	}
}

// IsUnit reports whether c is Unit.
func (c ColumnType) IsUnit() bool { return c == Unit }

// IsString reports whether c is String.
func (c ColumnType) IsString() bool { return c == String }

// IsBool reports whether c is Bool.
func (c ColumnType) IsBool() bool { return c == Bool }

// IsFloat reports whether c is F32 or F64.
func (c ColumnType) IsFloat() bool { return c == F32 || c == F64 }

// IsDate reports whether c is Date.
func (c ColumnType) IsDate() bool { return c == Date }

// IsTimestamp reports whether c is Timestamp.
func (c ColumnType) IsTimestamp() bool { return c == Timestamp }

// IsUnsignedInt reports whether c is an unsigned integer kind.
func (c ColumnType) IsUnsignedInt() bool {
	switch c {
	case U8, U16, U32, U64:
		return true
	default:
		return false
	}
}

// IsSignedInt reports whether c is a signed integer kind.
func (c ColumnType) IsSignedInt() bool {
	switch c {
	case I8, I16, I32, I64:
		return true
	default:
		return false
	}
}

// IsInt reports whether c is any integer kind (signed or unsigned).
func (c ColumnType) IsInt() bool {
	return c.IsUnsignedInt() || c.IsSignedInt()
}
