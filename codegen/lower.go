package codegen

import (
	"fmt"

	"github.com/arc-language/dataflow-jit/emit"
	"github.com/arc-language/dataflow-jit/intrinsics"
	"github.com/arc-language/dataflow-jit/ir"
	"github.com/arc-language/dataflow-jit/physical"
)

// lowerer is the Function Lowerer: it walks one ir.Function's blocks
// and expressions in order and issues the equivalent emit.Builder
// instructions. One lowerer is used for exactly one function.
type lowerer struct {
	cg *Codegen
	b  emit.Builder
	fn *ir.Function

	// values holds the emit.Value produced for every scalar-valued
	// expression and every function parameter.
	values map[ir.ExprId]emit.Value
	// types holds the physical.Type of every entry in values, since the
	// Builder interface (unlike a real SSA graph) needs the operand
	// width/kind spelled out at each use rather than inferring it from
	// the Value handle itself.
	types map[ir.ExprId]physical.Type
	// stackSlots holds the StackSlot backing a NullRow/UninitRow
	// expression. A row-valued expression is in exactly one of values
	// or stackSlots, never both.
	stackSlots map[ir.ExprId]emit.StackSlot
	// readonly marks the function parameters flagged IsReadonly; only
	// parameters can be readonly; a NullRow/UninitRow stack slot never
	// is.
	readonly map[ir.ExprId]bool

	blocks map[ir.BlockId]emit.Block
}

func newLowerer(cg *Codegen, b emit.Builder, fn *ir.Function) *lowerer {
	return &lowerer{
		cg:         cg,
		b:          b,
		fn:         fn,
		values:     make(map[ir.ExprId]emit.Value),
		types:      make(map[ir.ExprId]physical.Type),
		stackSlots: make(map[ir.ExprId]emit.StackSlot),
		readonly:   make(map[ir.ExprId]bool),
		blocks:     make(map[ir.BlockId]emit.Block),
	}
}

func (l *lowerer) debugAssert(cond bool, msg string) {
	if l.cg.config.DebugAssertions && !cond {
		panic("codegen: debug assertion failed: " + msg)
	}
}

func (l *lowerer) isReadonly(id ir.ExprId) bool {
	return l.readonly[id]
}

// rowAddr returns the address of the row produced by id, whichever of
// values/stackSlots is actually holding it.
func (l *lowerer) rowAddr(id ir.ExprId) emit.Value {
	if slot, ok := l.stackSlots[id]; ok {
		return l.b.StackAddr(slot)
	}
	return l.values[id]
}

func (l *lowerer) addFunctionParams() {
	for i, param := range l.fn.Args {
		val := l.b.Param(i)
		l.values[param.Expr] = val
		l.types[param.Expr] = physical.Ptr
		if param.Flags.IsReadonly() {
			l.readonly[param.Expr] = true
		}
	}
}

// run lowers every block reachable from the function's entry block,
// then terminators. Blocks are discovered via a worklist rather than
// recursion so a jump or branch to a block not yet visited (including
// a back-edge to one already visited) is handled by the same loop.
// Every block is sealed only once the whole walk is done, so a loop
// header's predecessor set — including the back-edge from its own
// body — is complete before it's sealed.
func (l *lowerer) run() error {
	l.addFunctionParams()

	for blockID := range l.fn.Blocks() {
		l.blocks[blockID] = l.b.CreateBlock()
	}

	worklist := []ir.BlockId{l.fn.EntryBlockID()}
	visited := make(map[ir.BlockId]bool)

	for len(worklist) > 0 {
		id := worklist[len(worklist)-1]
		worklist = worklist[:len(worklist)-1]
		if visited[id] {
			continue
		}
		visited[id] = true

		l.b.SwitchToBlock(l.blocks[id])

		block := l.fn.Blocks()[id]
		for _, exprID := range block.Body() {
			if err := l.lowerExpr(exprID, l.fn.Exprs()[exprID]); err != nil {
				return err
			}
		}

		worklist = l.lowerTerminator(block.Terminator, worklist)
	}

	for _, b := range l.blocks {
		l.b.SealBlock(b)
	}

	return nil
}

func (l *lowerer) lowerTerminator(t ir.Terminator, worklist []ir.BlockId) []ir.BlockId {
	switch t.TKind {
	case ir.TermReturn:
		l.b.Return(l.rvalue(t.ReturnValue))

	case ir.TermJump:
		l.b.Jump(l.blocks[t.JumpTarget])
		worklist = append(worklist, t.JumpTarget)

	case ir.TermBranch:
		cond := l.rvalue(t.BranchCond)
		// Preserve the polarity exactly: branch to BranchTrue when
		// cond == 0, otherwise fall through to BranchFalse.
		l.b.Brz(cond, l.blocks[t.BranchTrue], l.blocks[t.BranchFalse])
		worklist = append(worklist, t.BranchTrue, t.BranchFalse)

	default:
		panic(fmt.Sprintf("codegen: unhandled terminator kind %v", t.TKind))
	}
	return worklist
}

func (l *lowerer) rvalue(rv ir.RValue) emit.Value {
	if exprID, ok := rv.AsExpr(); ok {
		return l.values[exprID]
	}
	imm, _ := rv.AsImmediate()
	return l.constant(imm)
}

func (l *lowerer) constant(c ir.Constant) emit.Value {
	switch {
	case c.IsUnit():
		return emit.Value{}
	case c.IsString():
		panic("codegen: string constants are not supported")
	case c.IsFloat():
		pty, _ := physical.FromColumnType(c.Kind)
		return l.b.FConst(pty, c.Float())
	case c.IsBool():
		return l.b.IConst(physical.Bool, c.Uint())
	default:
		pty, _ := physical.FromColumnType(c.Kind)
		return l.b.IConst(pty, c.Uint())
	}
}

func isSignedPhysical(t physical.Type) bool {
	switch t {
	case physical.I8, physical.I16, physical.I32, physical.I64:
		return true
	default:
		return false
	}
}

func (l *lowerer) lowerExpr(id ir.ExprId, e ir.Expr) error {
	switch e.Kind() {
	case ir.KindConstant:
		ce := e.(ir.ConstantExpr)
		l.values[id] = l.constant(ce.Value)
		pty, _ := physical.FromColumnType(ce.Value.Kind)
		l.types[id] = pty

	case ir.KindBinOp:
		l.lowerBinOp(id, e.(ir.BinOp))

	case ir.KindUnaryOp:
		l.lowerUnaryOp(id, e.(ir.UnaryOp))

	case ir.KindCast:
		l.lowerCast(id, e.(ir.Cast))

	case ir.KindSelect:
		l.lowerSelect(id, e.(ir.Select))

	case ir.KindLoad:
		l.lowerLoad(id, e.(ir.Load))

	case ir.KindStore:
		l.lowerStore(e.(ir.Store))

	case ir.KindIsNull:
		l.lowerIsNull(id, e.(ir.IsNull))

	case ir.KindSetNull:
		l.lowerSetNull(e.(ir.SetNull))

	case ir.KindCopyRowTo:
		l.lowerCopyRowTo(e.(ir.CopyRowTo))

	case ir.KindCopyVal:
		l.lowerCopyVal(id, e.(ir.CopyVal))

	case ir.KindNullRow:
		l.lowerNullRow(id, e.(ir.NullRow))

	case ir.KindUninitRow:
		l.lowerUninitRow(id, e.(ir.UninitRow))

	default:
		return fmt.Errorf("codegen: unhandled expression kind %v", e.Kind())
	}
	return nil
}

func (l *lowerer) lowerBinOp(id ir.ExprId, e ir.BinOp) {
	lhs := l.values[e.LHS]
	rhs := l.values[e.RHS]
	ty := l.types[e.LHS]

	var result emit.Value
	resultTy := ty

	if ty.IsFloat() {
		switch e.Op {
		case ir.Add:
			result = l.b.FAdd(ty, lhs, rhs)
		case ir.Sub:
			result = l.b.FSub(ty, lhs, rhs)
		case ir.Mul:
			result = l.b.FMul(ty, lhs, rhs)
		case ir.Eq:
			result, resultTy = l.b.FCmp(emit.FloatEqual, ty, lhs, rhs), physical.Bool
		case ir.Neq:
			result, resultTy = l.b.FCmp(emit.FloatNotEqual, ty, lhs, rhs), physical.Bool
		case ir.Lt:
			result, resultTy = l.b.FCmp(emit.FloatLessThan, ty, lhs, rhs), physical.Bool
		case ir.Le:
			result, resultTy = l.b.FCmp(emit.FloatLessThanOrEqual, ty, lhs, rhs), physical.Bool
		case ir.Gt:
			result, resultTy = l.b.FCmp(emit.FloatGreaterThan, ty, lhs, rhs), physical.Bool
		case ir.Ge:
			result, resultTy = l.b.FCmp(emit.FloatGreaterThanOrEqual, ty, lhs, rhs), physical.Bool
		default:
			panic(fmt.Sprintf("codegen: binop %v is not valid on float operands", e.Op))
		}
	} else {
		signed := isSignedPhysical(ty)
		switch e.Op {
		case ir.Add:
			result = l.b.IAdd(ty, lhs, rhs)
		case ir.Sub:
			result = l.b.ISub(ty, lhs, rhs)
		case ir.Mul:
			result = l.b.IMul(ty, lhs, rhs)
		case ir.And:
			result = l.b.BAnd(ty, lhs, rhs)
		case ir.Or:
			result = l.b.BOr(ty, lhs, rhs)
		case ir.Eq:
			result, resultTy = l.b.ICmp(emit.Equal, ty, lhs, rhs), physical.Bool
		case ir.Neq:
			result, resultTy = l.b.ICmp(emit.NotEqual, ty, lhs, rhs), physical.Bool
		case ir.Lt:
			cc := emit.UnsignedLessThan
			if signed {
				cc = emit.SignedLessThan
			}
			result, resultTy = l.b.ICmp(cc, ty, lhs, rhs), physical.Bool
		case ir.Le:
			cc := emit.UnsignedLessThanOrEqual
			if signed {
				cc = emit.SignedLessThanOrEqual
			}
			result, resultTy = l.b.ICmp(cc, ty, lhs, rhs), physical.Bool
		case ir.Gt:
			cc := emit.UnsignedGreaterThan
			if signed {
				cc = emit.SignedGreaterThan
			}
			result, resultTy = l.b.ICmp(cc, ty, lhs, rhs), physical.Bool
		case ir.Ge:
			cc := emit.UnsignedGreaterThanOrEqual
			if signed {
				cc = emit.SignedGreaterThanOrEqual
			}
			result, resultTy = l.b.ICmp(cc, ty, lhs, rhs), physical.Bool
		default:
			panic(fmt.Sprintf("codegen: unhandled binop %v", e.Op))
		}
	}

	l.values[id] = result
	l.types[id] = resultTy
}

func (l *lowerer) lowerUnaryOp(id ir.ExprId, e ir.UnaryOp) {
	val := l.values[e.Value]
	pty, ok := physical.FromColumnType(e.Ty)
	if !ok {
		panic(fmt.Sprintf("codegen: unary_op on zero-sized type %v", e.Ty))
	}

	var result emit.Value
	switch e.Op {
	case ir.Neg:
		if pty.IsFloat() {
			result = l.b.FNeg(pty, val)
		} else {
			result = l.b.INeg(pty, val)
		}
	case ir.Not:
		result = l.b.BNot(pty, val)
	default:
		panic(fmt.Sprintf("codegen: unhandled unary op %v", e.Op))
	}

	l.values[id] = result
	l.types[id] = pty
}

func (l *lowerer) lowerCast(id ir.ExprId, e ir.Cast) {
	if !e.IsValidCast() {
		panic(fmt.Sprintf("codegen: invalid cast from %v to %v", e.From, e.To))
	}

	val := l.values[e.Value]
	fromTy, _ := physical.FromColumnType(e.From)
	toTy, _ := physical.FromColumnType(e.To)

	l.values[id] = l.b.Cast(fromTy, toTy, val)
	l.types[id] = toTy
}

func (l *lowerer) lowerSelect(id ir.ExprId, e ir.Select) {
	cond := l.values[e.Cond]
	ifTrue := l.values[e.IfTrue]
	ifFalse := l.values[e.IfFalse]
	ty := l.types[e.IfTrue]

	l.values[id] = l.b.Select(ty, cond, ifTrue, ifFalse)
	l.types[id] = ty
}

func (l *lowerer) lowerLoad(id ir.ExprId, e ir.Load) {
	nl := l.cg.layoutOf(e.Row)
	offset := nl.OffsetOf(e.Column)
	ty := nl.TypeOf(e.Column)

	var val emit.Value
	if slot, ok := l.stackSlots[e.Source]; ok {
		val = l.b.StackLoad(slot, offset, ty)
	} else {
		flags := emit.Trusted()
		if l.isReadonly(e.Source) {
			flags = emit.TrustedReadonly()
		}
		val = l.b.Load(l.values[e.Source], offset, ty, flags)
	}

	l.values[id] = val
	l.types[id] = ty
}

func (l *lowerer) lowerStore(e ir.Store) {
	l.debugAssert(!l.isReadonly(e.Target), "store into a readonly row")

	nl := l.cg.layoutOf(e.Row)
	offset := nl.OffsetOf(e.Column)
	value := l.rvalue(e.Value)

	if slot, ok := l.stackSlots[e.Target]; ok {
		l.b.StackStore(slot, offset, value)
	} else {
		l.b.Store(l.values[e.Target], offset, value, emit.Trusted())
	}
}

func (l *lowerer) lowerIsNull(id ir.ExprId, e ir.IsNull) {
	nl := l.cg.layoutOf(e.Row)
	bty, boff, bit := nl.NullabilityOf(e.Column)

	var bitset emit.Value
	if slot, ok := l.stackSlots[e.Target]; ok {
		bitset = l.b.StackLoad(slot, boff, bty)
	} else {
		flags := emit.Trusted()
		if l.isReadonly(e.Target) {
			flags = emit.TrustedReadonly()
		}
		bitset = l.b.Load(l.values[e.Target], boff, bty, flags)
	}

	masked := l.b.BAndImm(bty, bitset, uint64(1)<<bit)
	cc := emit.Equal
	if l.cg.config.NullSigil.IsOne() {
		cc = emit.NotEqual
	}

	l.values[id] = l.b.ICmpImm(cc, bty, masked, 0)
	l.types[id] = physical.Bool
}

func (l *lowerer) lowerSetNull(e ir.SetNull) {
	l.debugAssert(!l.isReadonly(e.Target), "set_null on a readonly row")

	nl := l.cg.layoutOf(e.Row)
	bty, boff, bit := nl.NullabilityOf(e.Column)
	mask := uint64(1) << bit

	var bitset emit.Value
	if slot, ok := l.stackSlots[e.Target]; ok {
		bitset = l.b.StackLoad(slot, boff, bty)
	} else {
		bitset = l.b.Load(l.values[e.Target], boff, bty, emit.MemFlags{})
	}

	var masked emit.Value
	if exprID, ok := e.IsNullVal.AsExpr(); ok {
		isNullVal := l.values[exprID]
		setBit := l.b.BOrImm(bty, bitset, mask)
		unsetBit := l.b.BAndImm(bty, bitset, ^mask)
		if l.cg.config.NullSigil.IsOne() {
			masked = l.b.Select(bty, isNullVal, setBit, unsetBit)
		} else {
			masked = l.b.Select(bty, isNullVal, unsetBit, setBit)
		}
	} else {
		imm, _ := e.IsNullVal.AsImmediate()
		setNull := imm.BoolValue()
		if (l.cg.config.NullSigil.IsOne() && setNull) || (l.cg.config.NullSigil.IsZero() && !setNull) {
			masked = l.b.BOrImm(bty, bitset, mask)
		} else {
			masked = l.b.BAndImm(bty, bitset, ^mask)
		}
	}

	if slot, ok := l.stackSlots[e.Target]; ok {
		l.b.StackStore(slot, boff, masked)
	} else {
		l.b.Store(l.values[e.Target], boff, masked, emit.Trusted())
	}
}

func (l *lowerer) lowerCopyRowTo(e ir.CopyRowTo) {
	l.debugAssert(!l.isReadonly(e.Dest), "copy_row_to into a readonly row")

	if e.Src == e.Dest {
		return
	}

	src := l.rowAddr(e.Src)
	dest := l.rowAddr(e.Dest)
	nl := l.cg.layoutOf(e.Layout)

	l.b.EmitSmallMemoryCopy(dest, src, nl.Size(), nl.Align(), emit.Trusted())
}

func (l *lowerer) lowerCopyVal(id ir.ExprId, e ir.CopyVal) {
	val := l.values[e.Value]
	if e.Ty.IsString() {
		fn := l.cg.importIntrinsic(intrinsics.StringClone)
		val = l.b.Call(fn, []emit.Value{val})
	}

	l.values[id] = val
	l.types[id] = l.types[e.Value]
}

func (l *lowerer) lowerNullRow(id ir.ExprId, e ir.NullRow) {
	nl := l.cg.layoutOf(e.Layout)
	slot := l.b.CreateStackSlot(nl.Size(), nl.Align())
	l.stackSlots[id] = slot

	addr := l.b.StackAddr(slot)
	l.b.EmitSmallMemset(addr, nl.Size(), nl.Align(), l.cg.config.NullSigil.FillByte(), emit.Trusted())
}

func (l *lowerer) lowerUninitRow(id ir.ExprId, e ir.UninitRow) {
	nl := l.cg.layoutOf(e.Layout)
	l.stackSlots[id] = l.b.CreateStackSlot(nl.Size(), nl.Align())
}
