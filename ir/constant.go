package ir

import "fmt"

// Constant is an immediate value. Exactly one of its fields is
// meaningful, selected by Kind — modeled as a tagged union rather than
// an interface so the function lowerer can flat-dispatch on Kind the
// way the teacher's opcode tables do, instead of paying for a type
// switch per constant use.
type Constant struct {
	Kind ColumnType // Unit, Bool, U8..I64, F32, F64 or String

	u64 uint64  // holds all integer and Bool kinds, zero/sign-extended
	f64 float64 // holds F32 (narrowed on read) and F64
	str string  // holds String
}

// ConstUnit returns the unit constant.
func ConstUnit() Constant { return Constant{Kind: Unit} }

// ConstBool returns a boolean constant.
func ConstBool(v bool) Constant {
	var u uint64
	if v {
		u = 1
	}
	return Constant{Kind: Bool, u64: u}
}

// ConstInt returns an integer constant of the given kind. kind must be
// one of the signed or unsigned integer ColumnTypes.
func ConstInt(kind ColumnType, v int64) Constant {
	if !kind.IsInt() {
		panic(fmt.Sprintf("ir: ConstInt called with non-integer kind %v", kind))
	}
	return Constant{Kind: kind, u64: uint64(v)}
}

// ConstUint returns an unsigned integer constant of the given kind.
func ConstUint(kind ColumnType, v uint64) Constant {
	if !kind.IsUnsignedInt() {
		panic(fmt.Sprintf("ir: ConstUint called with non-unsigned kind %v", kind))
	}
	return Constant{Kind: kind, u64: v}
}

// ConstF32 returns a 32-bit float constant.
func ConstF32(v float32) Constant {
	return Constant{Kind: F32, f64: float64(v)}
}

// ConstF64 returns a 64-bit float constant.
func ConstF64(v float64) Constant {
	return Constant{Kind: F64, f64: v}
}

// ConstString returns a string constant.
func ConstString(v string) Constant {
	return Constant{Kind: String, str: v}
}

// IsUnit reports whether the constant is Unit.
func (c Constant) IsUnit() bool { return c.Kind == Unit }

// IsString reports whether the constant is a String.
func (c Constant) IsString() bool { return c.Kind == String }

// IsBool reports whether the constant is a Bool.
func (c Constant) IsBool() bool { return c.Kind == Bool }

// IsFloat reports whether the constant is F32 or F64.
func (c Constant) IsFloat() bool { return c.Kind.IsFloat() }

// IsInt reports whether the constant is any integer kind.
func (c Constant) IsInt() bool { return c.Kind.IsInt() }

// Int returns the constant's value as a signed 64-bit integer. Valid
// only when IsInt or IsBool is true.
func (c Constant) Int() int64 { return int64(c.u64) }

// Uint returns the constant's value as an unsigned 64-bit integer.
func (c Constant) Uint() uint64 { return c.u64 }

// BoolValue returns the constant's boolean value. Valid only when IsBool.
func (c Constant) BoolValue() bool { return c.u64 != 0 }

// Float returns the constant's value as a float64 (widening F32).
// Valid only when IsFloat.
func (c Constant) Float() float64 { return c.f64 }

// StringValue returns the constant's string payload. Valid only when
// IsString.
func (c Constant) StringValue() string { return c.str }

func (c Constant) String() string {
	switch {
	case c.IsUnit():
		return "()"
	case c.IsBool():
		return fmt.Sprintf("%v", c.BoolValue())
	case c.IsString():
		return fmt.Sprintf("%q", c.str)
	case c.IsFloat():
		return fmt.Sprintf("%v%v", c.f64, c.Kind)
	default:
		return fmt.Sprintf("%v%v", c.Int(), c.Kind)
	}
}

// RValue is either a reference to another expression's SSA value or an
// immediate constant.
type RValue struct {
	expr   ExprId
	imm    Constant
	isExpr bool
}

// RVExpr builds an RValue referencing another expression.
func RVExpr(id ExprId) RValue { return RValue{expr: id, isExpr: true} }

// RVImm builds an RValue holding an immediate constant.
func RVImm(c Constant) RValue { return RValue{imm: c} }

// IsExpr reports whether the rvalue references an expression.
func (r RValue) IsExpr() bool { return r.isExpr }

// IsImmediate reports whether the rvalue holds an immediate constant.
func (r RValue) IsImmediate() bool { return !r.isExpr }

// AsExpr returns the referenced expression id and true, or the zero
// value and false if this rvalue is an immediate.
func (r RValue) AsExpr() (ExprId, bool) { return r.expr, r.isExpr }

// AsImmediate returns the immediate constant and true, or the zero
// value and false if this rvalue references an expression.
func (r RValue) AsImmediate() (Constant, bool) { return r.imm, !r.isExpr }
