package codegen

import (
	"testing"

	"github.com/arc-language/dataflow-jit/emit"
	"github.com/arc-language/dataflow-jit/intrinsics"
	"github.com/arc-language/dataflow-jit/ir"
	"github.com/arc-language/dataflow-jit/physical"
	"github.com/arc-language/dataflow-jit/target"
)

// fakeBuilder is a recording, interpreting fake emit.Builder: it hands
// out fresh opaque handles and logs every call it receives, so tests
// can assert on the sequence and arguments of instructions the
// lowerer issued without needing a real machine-code backend.
type fakeBuilder struct {
	calls     []string
	nextValue uint32
	nextBlock uint32
	nextSlot  uint32

	brzCalls []struct {
		cond                emit.Value
		zeroTarget, nonzero emit.Block
	}
}

func newFakeBuilder() *fakeBuilder { return &fakeBuilder{} }

func (b *fakeBuilder) val() emit.Value {
	v := emit.NewValue(b.nextValue)
	b.nextValue++
	return v
}

func (b *fakeBuilder) CreateBlock() emit.Block {
	blk := emit.NewBlock(b.nextBlock)
	b.nextBlock++
	b.calls = append(b.calls, "CreateBlock")
	return blk
}
func (b *fakeBuilder) SwitchToBlock(emit.Block) { b.calls = append(b.calls, "SwitchToBlock") }
func (b *fakeBuilder) SealBlock(emit.Block)     { b.calls = append(b.calls, "SealBlock") }
func (b *fakeBuilder) Param(i int) emit.Value {
	b.calls = append(b.calls, "Param")
	return b.val()
}
func (b *fakeBuilder) CreateStackSlot(size, align uint32) emit.StackSlot {
	s := emit.NewStackSlot(b.nextSlot)
	b.nextSlot++
	b.calls = append(b.calls, "CreateStackSlot")
	return s
}
func (b *fakeBuilder) StackAddr(emit.StackSlot) emit.Value {
	b.calls = append(b.calls, "StackAddr")
	return b.val()
}
func (b *fakeBuilder) StackLoad(emit.StackSlot, uint32, physical.Type) emit.Value {
	b.calls = append(b.calls, "StackLoad")
	return b.val()
}
func (b *fakeBuilder) StackStore(emit.StackSlot, uint32, emit.Value) {
	b.calls = append(b.calls, "StackStore")
}
func (b *fakeBuilder) Load(emit.Value, uint32, physical.Type, emit.MemFlags) emit.Value {
	b.calls = append(b.calls, "Load")
	return b.val()
}
func (b *fakeBuilder) Store(emit.Value, uint32, emit.Value, emit.MemFlags) {
	b.calls = append(b.calls, "Store")
}
func (b *fakeBuilder) IConst(physical.Type, uint64) emit.Value {
	b.calls = append(b.calls, "IConst")
	return b.val()
}
func (b *fakeBuilder) FConst(physical.Type, float64) emit.Value {
	b.calls = append(b.calls, "FConst")
	return b.val()
}
func (b *fakeBuilder) IAdd(physical.Type, emit.Value, emit.Value) emit.Value {
	b.calls = append(b.calls, "IAdd")
	return b.val()
}
func (b *fakeBuilder) ISub(physical.Type, emit.Value, emit.Value) emit.Value {
	b.calls = append(b.calls, "ISub")
	return b.val()
}
func (b *fakeBuilder) IMul(physical.Type, emit.Value, emit.Value) emit.Value {
	b.calls = append(b.calls, "IMul")
	return b.val()
}
func (b *fakeBuilder) BAnd(physical.Type, emit.Value, emit.Value) emit.Value {
	b.calls = append(b.calls, "BAnd")
	return b.val()
}
func (b *fakeBuilder) BOr(physical.Type, emit.Value, emit.Value) emit.Value {
	b.calls = append(b.calls, "BOr")
	return b.val()
}
func (b *fakeBuilder) BAndImm(physical.Type, emit.Value, uint64) emit.Value {
	b.calls = append(b.calls, "BAndImm")
	return b.val()
}
func (b *fakeBuilder) BOrImm(physical.Type, emit.Value, uint64) emit.Value {
	b.calls = append(b.calls, "BOrImm")
	return b.val()
}
func (b *fakeBuilder) BNot(physical.Type, emit.Value) emit.Value {
	b.calls = append(b.calls, "BNot")
	return b.val()
}
func (b *fakeBuilder) INeg(physical.Type, emit.Value) emit.Value {
	b.calls = append(b.calls, "INeg")
	return b.val()
}
func (b *fakeBuilder) FNeg(physical.Type, emit.Value) emit.Value {
	b.calls = append(b.calls, "FNeg")
	return b.val()
}
func (b *fakeBuilder) FAdd(physical.Type, emit.Value, emit.Value) emit.Value {
	b.calls = append(b.calls, "FAdd")
	return b.val()
}
func (b *fakeBuilder) FSub(physical.Type, emit.Value, emit.Value) emit.Value {
	b.calls = append(b.calls, "FSub")
	return b.val()
}
func (b *fakeBuilder) FMul(physical.Type, emit.Value, emit.Value) emit.Value {
	b.calls = append(b.calls, "FMul")
	return b.val()
}
func (b *fakeBuilder) ICmp(emit.IntCC, physical.Type, emit.Value, emit.Value) emit.Value {
	b.calls = append(b.calls, "ICmp")
	return b.val()
}
func (b *fakeBuilder) ICmpImm(emit.IntCC, physical.Type, emit.Value, uint64) emit.Value {
	b.calls = append(b.calls, "ICmpImm")
	return b.val()
}
func (b *fakeBuilder) FCmp(emit.FloatCC, physical.Type, emit.Value, emit.Value) emit.Value {
	b.calls = append(b.calls, "FCmp")
	return b.val()
}
func (b *fakeBuilder) Cast(from, to physical.Type, val emit.Value) emit.Value {
	b.calls = append(b.calls, "Cast")
	return b.val()
}
func (b *fakeBuilder) Select(physical.Type, emit.Value, emit.Value, emit.Value) emit.Value {
	b.calls = append(b.calls, "Select")
	return b.val()
}
func (b *fakeBuilder) EmitSmallMemoryCopy(emit.Value, emit.Value, uint32, uint32, emit.MemFlags) {
	b.calls = append(b.calls, "EmitSmallMemoryCopy")
}
func (b *fakeBuilder) EmitSmallMemset(emit.Value, uint32, uint32, byte, emit.MemFlags) {
	b.calls = append(b.calls, "EmitSmallMemset")
}
func (b *fakeBuilder) Call(emit.FuncID, []emit.Value) emit.Value {
	b.calls = append(b.calls, "Call")
	return b.val()
}
func (b *fakeBuilder) Jump(emit.Block) { b.calls = append(b.calls, "Jump") }
func (b *fakeBuilder) Brz(cond emit.Value, zeroTarget, nonzeroTarget emit.Block) {
	b.calls = append(b.calls, "Brz")
	b.brzCalls = append(b.brzCalls, struct {
		cond                emit.Value
		zeroTarget, nonzero emit.Block
	}{cond, zeroTarget, nonzeroTarget})
}
func (b *fakeBuilder) Return(emit.Value) { b.calls = append(b.calls, "Return") }
func (b *fakeBuilder) Finalize() error   { b.calls = append(b.calls, "Finalize"); return nil }

// fakeModule is a minimal emit.Module wrapping fakeBuilder, just enough
// for Codegen.CodegenFunc to declare and finalize a function against.
type fakeModule struct {
	nextFunc uint32
	builders []*fakeBuilder
}

func (m *fakeModule) DeclareFunction(name string, sig emit.Signature, linkage emit.Linkage) (emit.FuncID, emit.Builder) {
	id := emit.NewFuncID(m.nextFunc)
	m.nextFunc++
	b := newFakeBuilder()
	m.builders = append(m.builders, b)
	return id, b
}
func (m *fakeModule) DeclareImport(name string, sig emit.Signature) emit.FuncID {
	id := emit.NewFuncID(m.nextFunc)
	m.nextFunc++
	return id
}
func (m *fakeModule) FinalizeDefinitions() error       { return nil }
func (m *fakeModule) Artifact() (emit.Artifact, error) { return emit.Artifact{}, nil }

func contains(calls []string, name string) bool {
	for _, c := range calls {
		if c == name {
			return true
		}
	}
	return false
}

func indexOf(calls []string, name string) int {
	for i, c := range calls {
		if c == name {
			return i
		}
	}
	return -1
}

// A function taking one non-nullable I32 row, loading its single
// column and returning it unchanged: exercises addFunctionParams,
// lowerLoad and the Return terminator end to end.
func buildLoadReturnFunction(rowLayout ir.LayoutId) *ir.Function {
	exprs := make(map[ir.ExprId]ir.Expr)
	const paramExpr ir.ExprId = 0
	const loadExpr ir.ExprId = 1

	exprs[loadExpr] = ir.Load{Source: paramExpr, Row: rowLayout, Column: 0, ColumnType: ir.I32}

	block := &ir.Block{
		BodyExprs: []ir.ExprId{loadExpr},
		Terminator: ir.Return(ir.RVExpr(loadExpr)),
	}

	args := []ir.Param{{Layout: rowLayout, Expr: paramExpr}}
	sig := ir.Signature{Args: []ir.LayoutId{rowLayout}, Ret: rowLayout}

	return ir.NewFunction(sig, args, 0, map[ir.BlockId]*ir.Block{0: block}, exprs)
}

func TestCodegenFunc_LoadAndReturn(t *testing.T) {
	rowLayout := ir.NewRowLayoutBuilder().WithColumn(ir.I32, false).Build()
	cache := ir.NewStaticLayoutCache(rowLayout)

	module := &fakeModule{}
	cg := New(cache, target.Host(), module, Default(), intrinsics.NewRegistry())

	fn := buildLoadReturnFunction(0)
	if _, err := cg.CodegenFunc("load_return", fn); err != nil {
		t.Fatalf("CodegenFunc: %v", err)
	}

	if len(module.builders) != 1 {
		t.Fatalf("expected exactly one function to be declared, got %d", len(module.builders))
	}
	calls := module.builders[0].calls

	if !contains(calls, "Load") {
		t.Fatalf("expected a Load call, got %v", calls)
	}
	if !contains(calls, "Return") {
		t.Fatalf("expected a Return call, got %v", calls)
	}
	if indexOf(calls, "Load") >= indexOf(calls, "Return") {
		t.Fatalf("expected Load before Return, got %v", calls)
	}
	if indexOf(calls, "Finalize") != len(calls)-1 {
		t.Fatalf("expected Finalize to be the last call, got %v", calls)
	}
}

// Directly drives a lowerer over a Branch terminator and asserts Brz's
// exact "branch if zero to the first target" polarity: BranchTrue must
// be passed as zeroTarget and BranchFalse as nonzeroTarget, matching
// the IR's documented "if cond == 0 go to truthy" contract bit-for-bit.
func TestLowerTerminator_BrzPolarity(t *testing.T) {
	rowLayout := ir.NewRowLayoutBuilder().WithColumn(ir.Bool, false).Build()
	cache := ir.NewStaticLayoutCache(rowLayout)

	exprs := make(map[ir.ExprId]ir.Expr)
	const paramExpr ir.ExprId = 0
	const condExpr ir.ExprId = 1
	exprs[condExpr] = ir.Load{Source: paramExpr, Row: 0, Column: 0, ColumnType: ir.Bool}

	trueBlock, falseBlock := ir.BlockId(1), ir.BlockId(2)
	entry := &ir.Block{
		BodyExprs:  []ir.ExprId{condExpr},
		Terminator: ir.Branch(ir.RVExpr(condExpr), trueBlock, falseBlock),
	}
	trueBlk := &ir.Block{Terminator: ir.Return(ir.RVImm(ir.ConstBool(true)))}
	falseBlk := &ir.Block{Terminator: ir.Return(ir.RVImm(ir.ConstBool(false)))}

	args := []ir.Param{{Layout: 0, Expr: paramExpr}}
	sig := ir.Signature{Args: []ir.LayoutId{0}, Ret: 0}
	fn := ir.NewFunction(sig, args, 0, map[ir.BlockId]*ir.Block{
		0: entry, trueBlock: trueBlk, falseBlock: falseBlk,
	}, exprs)

	module := &fakeModule{}
	cg := New(cache, target.Host(), module, Default(), intrinsics.NewRegistry())

	b := newFakeBuilder()
	l := newLowerer(cg, b, fn)
	if err := l.run(); err != nil {
		t.Fatalf("run: %v", err)
	}

	if len(b.brzCalls) != 1 {
		t.Fatalf("expected exactly one Brz call, got %d", len(b.brzCalls))
	}
	call := b.brzCalls[0]
	if call.zeroTarget != l.blocks[trueBlock] {
		t.Fatalf("expected zeroTarget to be the truthy block %v, got %v", l.blocks[trueBlock], call.zeroTarget)
	}
	if call.nonzero != l.blocks[falseBlock] {
		t.Fatalf("expected nonzeroTarget to be the falsy block %v, got %v", l.blocks[falseBlock], call.nonzero)
	}
}

// SetNull under the default NullSigilOne config ORs the mask in when
// told to set null and ANDs it out otherwise; this asserts the
// immediate-operand path picks the right one.
func TestLowerSetNull_ImmediatePath(t *testing.T) {
	rowLayout := ir.NewRowLayoutBuilder().WithColumn(ir.I32, true).Build()
	cache := ir.NewStaticLayoutCache(rowLayout)

	module := &fakeModule{}
	cg := New(cache, target.Host(), module, Default(), intrinsics.NewRegistry())

	b := newFakeBuilder()
	fn := ir.NewFunction(ir.Signature{Args: []ir.LayoutId{0}, Ret: 0}, []ir.Param{{Layout: 0, Expr: 0}}, 0,
		map[ir.BlockId]*ir.Block{0: {}}, map[ir.ExprId]ir.Expr{})
	l := newLowerer(cg, b, fn)
	l.addFunctionParams()

	l.lowerSetNull(ir.SetNull{Target: 0, Row: 0, Column: 0, IsNullVal: ir.RVImm(ir.ConstBool(true))})

	if !contains(b.calls, "BOrImm") {
		t.Fatalf("expected setting null under NullSigilOne to OR the mask in, got %v", b.calls)
	}
	if contains(b.calls, "Select") {
		t.Fatalf("immediate IsNullVal must not synthesize a runtime Select, got %v", b.calls)
	}
}
