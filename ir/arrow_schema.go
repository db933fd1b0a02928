package ir

import (
	"fmt"

	"github.com/apache/arrow/go/v9/arrow"
)

// arrowType maps a logical ColumnType to the Arrow DataType an embedder
// would use to describe the same column to Arrow-based tooling (a
// recordbatch reader feeding rows into this engine, or a sink reading
// them back out). Unit has no Arrow analogue other than the dedicated
// Null type, which exists for exactly this "always absent" case.
func arrowType(c ColumnType) arrow.DataType {
	switch c {
	case Unit:
		return arrow.Null
	case Bool:
		return arrow.FixedWidthTypes.Boolean
	case U8:
		return arrow.PrimitiveTypes.Uint8
	case I8:
		return arrow.PrimitiveTypes.Int8
	case U16:
		return arrow.PrimitiveTypes.Uint16
	case I16:
		return arrow.PrimitiveTypes.Int16
	case U32:
		return arrow.PrimitiveTypes.Uint32
	case I32:
		return arrow.PrimitiveTypes.Int32
	case U64:
		return arrow.PrimitiveTypes.Uint64
	case I64:
		return arrow.PrimitiveTypes.Int64
	case F32:
		return arrow.PrimitiveTypes.Float32
	case F64:
		return arrow.PrimitiveTypes.Float64
	case String:
		return arrow.BinaryTypes.String
	case Date:
		return arrow.FixedWidthTypes.Date32
	case Timestamp:
		return arrow.FixedWidthTypes.Timestamp_ms
	default:
		panic("ir: unhandled ColumnType in arrowType")
	}
}

// ArrowSchema describes r the way an Arrow-based producer or consumer
// sitting at this engine's boundary would: one arrow.Field per logical
// column, in source order, carrying the same nullability this layout
// carries. Column names aren't part of RowLayout, so fields are named
// positionally ("c0", "c1", ...) — callers that have real column names
// should build their own arrow.Schema from this one's types rather
// than relying on these placeholders.
func (r *RowLayout) ArrowSchema() *arrow.Schema {
	fields := make([]arrow.Field, r.Len())
	for i, col := range r.columns {
		fields[i] = arrow.Field{
			Name:     fmt.Sprintf("c%d", i),
			Type:     arrowType(col),
			Nullable: r.nullable[i],
		}
	}
	return arrow.NewSchema(fields, nil)
}
