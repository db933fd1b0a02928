// Package amd64 is the concrete AMD64 System V backend for emit.Module
// and emit.Builder: it turns the abstract instruction stream the
// Function Lowerer issues into raw machine code, using a fixed
// stack-slot per value rather than a real register allocator — every
// operand is reloaded from its slot, computed in a scratch register,
// and stored straight back. This mirrors the teacher's own compiler,
// which took the identical approach for its LLVM-shaped IR.
package amd64

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"

	"github.com/arc-language/dataflow-jit/emit"
	"github.com/arc-language/dataflow-jit/physical"
	"github.com/arc-language/dataflow-jit/target"
)

// General-purpose register encodings.
const (
	RAX = 0
	RCX = 1
	RDX = 2
	RBX = 3
	RSP = 4
	RBP = 5
	RSI = 6
	RDI = 7
	R8  = 8
	R9  = 9
)

// sysVIntArgRegs is the System V integer/pointer argument register
// order.
var sysVIntArgRegs = []int{RDI, RSI, RDX, RCX, R8, R9}

type slotInfo struct {
	offset int // negative, relative to RBP
	size   int
	ty     physical.Type
	isRow  bool // true for a CreateStackSlot allocation, not a scalar value
}

type blockFixup struct {
	patchAt int // offset within body where the rel32 placeholder starts
	block   uint32
}

// Builder lowers one function's body into machine code. It implements
// emit.Builder.
type Builder struct {
	module *Module
	target target.Description
	def    *funcDef

	body *bytes.Buffer

	frameSize int
	slots     map[uint32]*slotInfo
	nextValue uint32
	nextSlot  uint32

	blockOffsets map[uint32]int
	nextBlock    uint32
	curBlock     uint32

	fixups      []blockFixup
	relocations []emit.Relocation

	paramValues []emit.Value
	finalized   bool
}

func newBuilder(m *Module, td target.Description, sig emit.Signature) *Builder {
	b := &Builder{
		module:       m,
		target:       td,
		body:         new(bytes.Buffer),
		slots:        make(map[uint32]*slotInfo),
		blockOffsets: make(map[uint32]int),
	}

	b.paramValues = make([]emit.Value, len(sig.ParamTypes))
	for i := range sig.ParamTypes {
		b.paramValues[i] = b.newValueSlot(physical.Ptr)
	}
	return b
}

func physicalSize(ty physical.Type, td target.Description) int {
	sz := int(ty.Size(td))
	if sz < 8 {
		sz = 8 // minimum slot width, matches the teacher's allocator
	}
	return sz
}

func (b *Builder) allocSlot(size, align int) int {
	if align < 1 {
		align = 1
	}
	if rem := b.frameSize % align; rem != 0 {
		b.frameSize += align - rem
	}
	b.frameSize += size
	return -b.frameSize
}

func (b *Builder) newValueSlot(ty physical.Type) emit.Value {
	id := b.nextValue
	b.nextValue++

	size := physicalSize(ty, b.target)
	off := b.allocSlot(size, size)
	b.slots[id] = &slotInfo{offset: off, size: size, ty: ty}
	return emit.NewValue(id)
}

func (b *Builder) slotOf(v emit.Value) *slotInfo {
	return b.slots[v.ID()]
}

// --- emit.Builder: blocks ---

func (b *Builder) CreateBlock() emit.Block {
	id := b.nextBlock
	b.nextBlock++
	return emit.NewBlock(id)
}

func (b *Builder) SwitchToBlock(blk emit.Block) {
	b.curBlock = blk.ID()
	b.blockOffsets[blk.ID()] = b.body.Len()
}

func (b *Builder) SealBlock(emit.Block) {
	// No incremental SSA construction to finalize: every value already
	// lives in a fixed stack slot, so sealing is only meaningful to the
	// worklist traversal driving this Builder, not to the Builder
	// itself.
}

func (b *Builder) Param(i int) emit.Value {
	return b.paramValues[i]
}

// --- emit.Builder: stack slots ---

func (b *Builder) CreateStackSlot(size, align uint32) emit.StackSlot {
	id := b.nextSlot
	b.nextSlot++

	off := b.allocSlot(int(size), int(align))
	b.slots[rowSlotKey(id)] = &slotInfo{offset: off, size: int(size), isRow: true}
	return emit.NewStackSlot(id)
}

// rowSlotKey namespaces StackSlot ids away from Value ids within the
// shared slots map; StackSlot ids and Value ids are both assigned from
// zero independently, so without this a row slot and a scalar value
// could collide.
func rowSlotKey(id uint32) uint32 { return id | 0x8000_0000 }

// isSignedPhysical reports whether t needs sign extension, rather than
// zero extension, when reloaded at a narrower-than-slot width.
func isSignedPhysical(t physical.Type) bool {
	switch t {
	case physical.I8, physical.I16, physical.I32, physical.I64:
		return true
	default:
		return false
	}
}

func (b *Builder) rowSlot(s emit.StackSlot) *slotInfo {
	return b.slots[rowSlotKey(s.ID())]
}

func (b *Builder) StackAddr(slot emit.StackSlot) emit.Value {
	si := b.rowSlot(slot)
	dst := b.newValueSlot(physical.Ptr)
	b.emitLea(RAX, si.offset)
	b.storeReg(RAX, b.slotOf(dst), false)
	return dst
}

func (b *Builder) StackLoad(slot emit.StackSlot, offset uint32, ty physical.Type) emit.Value {
	si := b.rowSlot(slot)
	dst := b.newValueSlot(ty)
	if ty.IsFloat() {
		b.loadFpFromStack(0, si.offset+int(offset), ty == physical.F64)
		b.storeFpToStack(0, b.slotOf(dst).offset, ty == physical.F64)
	} else {
		b.loadFromStack(RAX, si.offset+int(offset), int(ty.Size(b.target)), isSignedPhysical(ty))
		b.storeReg(RAX, b.slotOf(dst), false)
	}
	return dst
}

func (b *Builder) StackStore(slot emit.StackSlot, offset uint32, val emit.Value) {
	si := b.rowSlot(slot)
	vi := b.slotOf(val)
	if vi.ty.IsFloat() {
		b.loadFpFromStack(0, vi.offset, vi.ty == physical.F64)
		b.storeFpToStack(0, si.offset+int(offset), vi.ty == physical.F64)
	} else {
		// vi is an already-widened (>=8-byte) value slot, so this reload
		// is never narrowing; signedness doesn't matter here.
		b.loadFromStack(RAX, vi.offset, vi.size, false)
		b.storeToStack(RAX, si.offset+int(offset), int(vi.ty.Size(b.target)))
	}
}

// --- emit.Builder: memory ---

func (b *Builder) Load(ptr emit.Value, offset uint32, ty physical.Type, _ emit.MemFlags) emit.Value {
	pi := b.slotOf(ptr)
	dst := b.newValueSlot(ty)

	b.loadFromStack(RAX, pi.offset, 8, false) // load the pointer itself
	if ty.IsFloat() {
		b.emitFpLoadIndirect(0, RAX, int32(offset), ty == physical.F64)
		b.storeFpToStack(0, b.slotOf(dst).offset, ty == physical.F64)
	} else {
		b.emitLoadIndirect(RCX, RAX, int32(offset), int(ty.Size(b.target)), isSignedPhysical(ty))
		b.storeReg(RCX, b.slotOf(dst), false)
	}
	return dst
}

func (b *Builder) Store(ptr emit.Value, offset uint32, val emit.Value, _ emit.MemFlags) {
	pi := b.slotOf(ptr)
	vi := b.slotOf(val)

	b.loadFromStack(RAX, pi.offset, 8, false)
	if vi.ty.IsFloat() {
		b.loadFpFromStack(0, vi.offset, vi.ty == physical.F64)
		b.emitFpStoreIndirect(0, RAX, int32(offset), vi.ty == physical.F64)
	} else {
		// Same already-widened slot as StackStore above.
		b.loadFromStack(RCX, vi.offset, vi.size, false)
		b.emitStoreIndirect(RCX, RAX, int32(offset), int(vi.ty.Size(b.target)))
	}
}

// --- emit.Builder: constants ---

func (b *Builder) IConst(ty physical.Type, value uint64) emit.Value {
	dst := b.newValueSlot(ty)
	b.loadImm64(RAX, value)
	b.storeReg(RAX, b.slotOf(dst), false)
	return dst
}

func (b *Builder) FConst(ty physical.Type, value float64) emit.Value {
	dst := b.newValueSlot(ty)
	if ty == physical.F32 {
		bits := math.Float32bits(float32(value))
		b.loadImm64(RAX, uint64(bits))
	} else {
		bits := math.Float64bits(value)
		b.loadImm64(RAX, bits)
	}
	b.storeReg(RAX, b.slotOf(dst), false)
	return dst
}

// --- emit.Builder: integer/bitwise arithmetic ---

func (b *Builder) binOpRAX(ty physical.Type, lhs, rhs emit.Value, op byte) emit.Value {
	dst := b.newValueSlot(ty)
	b.loadFromStack(RAX, b.slotOf(lhs).offset, 8, false)
	b.loadFromStack(RCX, b.slotOf(rhs).offset, 8, false)
	b.emitBytes(0x48, op, 0xC8)
	b.storeReg(RAX, b.slotOf(dst), false)
	return dst
}

func (b *Builder) IAdd(ty physical.Type, lhs, rhs emit.Value) emit.Value { return b.binOpRAX(ty, lhs, rhs, 0x01) }
func (b *Builder) ISub(ty physical.Type, lhs, rhs emit.Value) emit.Value { return b.binOpRAX(ty, lhs, rhs, 0x29) }
func (b *Builder) BAnd(ty physical.Type, lhs, rhs emit.Value) emit.Value { return b.binOpRAX(ty, lhs, rhs, 0x21) }
func (b *Builder) BOr(ty physical.Type, lhs, rhs emit.Value) emit.Value  { return b.binOpRAX(ty, lhs, rhs, 0x09) }

func (b *Builder) IMul(ty physical.Type, lhs, rhs emit.Value) emit.Value {
	dst := b.newValueSlot(ty)
	b.loadFromStack(RAX, b.slotOf(lhs).offset, 8, false)
	b.loadFromStack(RCX, b.slotOf(rhs).offset, 8, false)
	b.emitBytes(0x48, 0x0F, 0xAF, 0xC1) // imul rax, rcx
	b.storeReg(RAX, b.slotOf(dst), false)
	return dst
}

func (b *Builder) immOp(ty physical.Type, lhs emit.Value, imm uint64, op byte) emit.Value {
	dst := b.newValueSlot(ty)
	b.loadFromStack(RAX, b.slotOf(lhs).offset, 8, false)
	b.emitBytes(0x48, 0x81, op) // OP RAX, imm32
	binary.Write(b.body, binary.LittleEndian, uint32(imm))
	b.storeReg(RAX, b.slotOf(dst), false)
	return dst
}

func (b *Builder) BAndImm(ty physical.Type, lhs emit.Value, imm uint64) emit.Value {
	return b.immOp(ty, lhs, imm, 0xE0) // AND RAX, imm32
}

func (b *Builder) BOrImm(ty physical.Type, lhs emit.Value, imm uint64) emit.Value {
	return b.immOp(ty, lhs, imm, 0xC8) // OR RAX, imm32
}

func (b *Builder) BNot(ty physical.Type, val emit.Value) emit.Value {
	dst := b.newValueSlot(ty)
	b.loadFromStack(RAX, b.slotOf(val).offset, 8, false)
	b.emitBytes(0x48, 0xF7, 0xD0) // not rax
	b.storeReg(RAX, b.slotOf(dst), false)
	return dst
}

func (b *Builder) INeg(ty physical.Type, val emit.Value) emit.Value {
	dst := b.newValueSlot(ty)
	b.loadFromStack(RAX, b.slotOf(val).offset, 8, false)
	b.emitBytes(0x48, 0xF7, 0xD8) // neg rax
	b.storeReg(RAX, b.slotOf(dst), false)
	return dst
}

func (b *Builder) FNeg(ty physical.Type, val emit.Value) emit.Value {
	dst := b.newValueSlot(ty)
	isDouble := ty == physical.F64
	b.loadFpFromStack(0, b.slotOf(val).offset, isDouble)
	// xorps/xorpd xmm0, xmm1 after negating the sign bit via a mask
	// held in xmm1 would need a constant pool; flip the sign with an
	// integer xor on the raw bits instead, which needs no such pool.
	if isDouble {
		b.emitBytes(0xF2, 0x0F, 0x11, 0x85) // movsd [rbp+disp32], xmm0
		binary.Write(b.body, binary.LittleEndian, int32(b.slotOf(dst).offset))
		b.loadFromStack(RAX, b.slotOf(dst).offset, 8, false)
		b.loadImm64(RCX, 1<<63)
		b.emitBytes(0x48, 0x31, 0xC8) // xor rax, rcx
	} else {
		b.emitBytes(0xF3, 0x0F, 0x11, 0x85) // movss [rbp+disp32], xmm0
		binary.Write(b.body, binary.LittleEndian, int32(b.slotOf(dst).offset))
		b.loadFromStack(RAX, b.slotOf(dst).offset, 4, false)
		b.loadImm64(RCX, 1<<31)
		b.emitBytes(0x48, 0x31, 0xC8)
	}
	b.storeReg(RAX, b.slotOf(dst), false)
	return dst
}

// --- emit.Builder: floating point arithmetic ---

func (b *Builder) fOp(ty physical.Type, lhs, rhs emit.Value, opcode byte) emit.Value {
	dst := b.newValueSlot(ty)
	isDouble := ty == physical.F64
	b.loadFpFromStack(0, b.slotOf(lhs).offset, isDouble)
	b.loadFpFromStack(1, b.slotOf(rhs).offset, isDouble)
	prefix := byte(0xF3)
	if isDouble {
		prefix = 0xF2
	}
	b.emitBytes(prefix, 0x0F, opcode, 0xC1) // OPss/sd xmm0, xmm1
	b.storeFpToStack(0, b.slotOf(dst).offset, isDouble)
	return dst
}

func (b *Builder) FAdd(ty physical.Type, lhs, rhs emit.Value) emit.Value { return b.fOp(ty, lhs, rhs, 0x58) }
func (b *Builder) FSub(ty physical.Type, lhs, rhs emit.Value) emit.Value { return b.fOp(ty, lhs, rhs, 0x5C) }
func (b *Builder) FMul(ty physical.Type, lhs, rhs emit.Value) emit.Value { return b.fOp(ty, lhs, rhs, 0x59) }

// --- emit.Builder: comparisons ---

func setccOp(cc emit.IntCC) byte {
	switch cc {
	case emit.Equal:
		return 0x94
	case emit.NotEqual:
		return 0x95
	case emit.SignedLessThan:
		return 0x9C
	case emit.SignedLessThanOrEqual:
		return 0x9E
	case emit.SignedGreaterThan:
		return 0x9F
	case emit.SignedGreaterThanOrEqual:
		return 0x9D
	case emit.UnsignedLessThan:
		return 0x92
	case emit.UnsignedLessThanOrEqual:
		return 0x96
	case emit.UnsignedGreaterThan:
		return 0x97
	case emit.UnsignedGreaterThanOrEqual:
		return 0x93
	default:
		panic(fmt.Sprintf("amd64: unhandled IntCC %v", cc))
	}
}

func (b *Builder) ICmp(cc emit.IntCC, ty physical.Type, lhs, rhs emit.Value) emit.Value {
	dst := b.newValueSlot(physical.Bool)
	b.loadFromStack(RAX, b.slotOf(lhs).offset, 8, false)
	b.loadFromStack(RCX, b.slotOf(rhs).offset, 8, false)
	b.emitBytes(0x48, 0x39, 0xC8)                  // cmp rax, rcx
	b.emitBytes(0x0F, setccOp(cc), 0xC0)           // setcc al
	b.emitBytes(0x48, 0x0F, 0xB6, 0xC0)            // movzx rax, al
	b.storeReg(RAX, b.slotOf(dst), false)
	return dst
}

func (b *Builder) ICmpImm(cc emit.IntCC, ty physical.Type, lhs emit.Value, imm uint64) emit.Value {
	dst := b.newValueSlot(physical.Bool)
	b.loadFromStack(RAX, b.slotOf(lhs).offset, 8, false)
	b.emitBytes(0x48, 0x3D) // cmp rax, imm32
	binary.Write(b.body, binary.LittleEndian, uint32(imm))
	b.emitBytes(0x0F, setccOp(cc), 0xC0)
	b.emitBytes(0x48, 0x0F, 0xB6, 0xC0)
	b.storeReg(RAX, b.slotOf(dst), false)
	return dst
}

func (b *Builder) FCmp(cc emit.FloatCC, ty physical.Type, lhs, rhs emit.Value) emit.Value {
	dst := b.newValueSlot(physical.Bool)
	isDouble := ty == physical.F64
	b.loadFpFromStack(0, b.slotOf(lhs).offset, isDouble)
	b.loadFpFromStack(1, b.slotOf(rhs).offset, isDouble)

	prefix := byte(0x0F)
	if isDouble {
		b.emitBytes(0x66, prefix, 0x2E, 0xC1) // ucomisd xmm0, xmm1
	} else {
		b.emitBytes(prefix, 0x2E, 0xC1) // ucomiss xmm0, xmm1
	}

	var setccByte byte
	switch cc {
	case emit.FloatEqual:
		setccByte = 0x94
	case emit.FloatNotEqual:
		setccByte = 0x95
	case emit.FloatLessThan:
		setccByte = 0x92
	case emit.FloatLessThanOrEqual:
		setccByte = 0x96
	case emit.FloatGreaterThan:
		setccByte = 0x97
	case emit.FloatGreaterThanOrEqual:
		setccByte = 0x93
	default:
		panic(fmt.Sprintf("amd64: unhandled FloatCC %v", cc))
	}
	b.emitBytes(0x0F, setccByte, 0xC0)
	b.emitBytes(0x48, 0x0F, 0xB6, 0xC0)
	b.storeReg(RAX, b.slotOf(dst), false)
	return dst
}

// --- emit.Builder: cast/select ---

func (b *Builder) Cast(from, to physical.Type, val emit.Value) emit.Value {
	dst := b.newValueSlot(to)
	vi := b.slotOf(val)

	switch {
	case from.IsFloat() && to.IsFloat():
		fromDouble := from == physical.F64
		toDouble := to == physical.F64
		b.loadFpFromStack(0, vi.offset, fromDouble)
		if fromDouble && !toDouble {
			b.emitBytes(0xF2, 0x0F, 0x5A, 0xC0) // cvtsd2ss
		} else if !fromDouble && toDouble {
			b.emitBytes(0xF3, 0x0F, 0x5A, 0xC0) // cvtss2sd
		}
		b.storeFpToStack(0, b.slotOf(dst).offset, toDouble)

	case from.IsFloat() && !to.IsFloat():
		fromDouble := from == physical.F64
		b.loadFpFromStack(0, vi.offset, fromDouble)
		if fromDouble {
			b.emitBytes(0xF2, 0x48, 0x0F, 0x2C, 0xC0) // cvttsd2si rax, xmm0
		} else {
			b.emitBytes(0xF3, 0x48, 0x0F, 0x2C, 0xC0) // cvttss2si rax, xmm0
		}
		b.storeReg(RAX, b.slotOf(dst), false)

	case !from.IsFloat() && to.IsFloat():
		b.loadFromStack(RAX, vi.offset, 8, false)
		if to == physical.F64 {
			b.emitBytes(0xF2, 0x48, 0x0F, 0x2A, 0xC0) // cvtsi2sd xmm0, rax
		} else {
			b.emitBytes(0xF3, 0x48, 0x0F, 0x2A, 0xC0) // cvtsi2ss xmm0, rax
		}
		b.storeFpToStack(0, b.slotOf(dst).offset, to == physical.F64)

	default:
		// Integer/bool <-> integer/bool: reload at the source width
		// (sign/zero extending per source signedness), truncate to the
		// destination width through storeToStack's size-aware encoding,
		// and re-extend per destination signedness so the whole slot
		// holds the converted value.
		b.loadFromStack(RAX, vi.offset, int(from.Size(b.target)), isSignedPhysical(from))
		if toSize := int(to.Size(b.target)); toSize < 8 {
			b.storeToStack(RAX, b.slotOf(dst).offset, toSize)
			b.loadFromStack(RAX, b.slotOf(dst).offset, toSize, isSignedPhysical(to))
		}
		b.storeReg(RAX, b.slotOf(dst), false)
	}

	return dst
}

func (b *Builder) Select(ty physical.Type, cond, ifTrue, ifFalse emit.Value) emit.Value {
	dst := b.newValueSlot(ty)
	b.loadFromStack(RAX, b.slotOf(cond).offset, 8, false)
	b.loadFromStack(RCX, b.slotOf(ifTrue).offset, 8, false)
	b.loadFromStack(RDX, b.slotOf(ifFalse).offset, 8, false)
	b.emitBytes(0x48, 0x85, 0xC0)       // test rax, rax
	b.emitBytes(0x48, 0x0F, 0x44, 0xCA) // cmovz rcx, rdx
	b.storeReg(RCX, b.slotOf(dst), false)
	return dst
}

// --- emit.Builder: bulk memory ---

func (b *Builder) EmitSmallMemoryCopy(dest, src emit.Value, size, align uint32, _ emit.MemFlags) {
	b.loadFromStack(RDI, b.slotOf(dest).offset, 8, false)
	b.loadFromStack(RSI, b.slotOf(src).offset, 8, false)
	b.emitBytes(0xB9) // mov ecx, imm32
	binary.Write(b.body, binary.LittleEndian, size)
	b.emitBytes(0xF3, 0xA4) // rep movsb
}

func (b *Builder) EmitSmallMemset(dest emit.Value, size, align uint32, fillByte byte, _ emit.MemFlags) {
	b.loadFromStack(RDI, b.slotOf(dest).offset, 8, false)
	b.emitBytes(0xB0, fillByte) // mov al, imm8
	b.emitBytes(0xB9)          // mov ecx, imm32
	binary.Write(b.body, binary.LittleEndian, size)
	b.emitBytes(0xF3, 0xAA) // rep stosb
}

// --- emit.Builder: calls ---

func (b *Builder) Call(fn emit.FuncID, args []emit.Value) emit.Value {
	for i, arg := range args {
		if i >= len(sysVIntArgRegs) {
			break // stack-passed arguments beyond 6 aren't needed by this repository's call sites
		}
		b.loadFromStack(sysVIntArgRegs[i], b.slotOf(arg).offset, 8, false)
	}

	b.emitBytes(0xE8) // call rel32
	b.relocations = append(b.relocations, emit.Relocation{
		Offset:     uint64(b.body.Len()),
		SymbolName: b.module.symbolName(fn),
		Type:       emit.RelocPLT32,
		Addend:     -4,
	})
	binary.Write(b.body, binary.LittleEndian, uint32(0))

	sig := b.module.signatureOf(fn)
	if len(sig.Returns) == 0 {
		return emit.Value{}
	}
	dst := b.newValueSlot(sig.Returns[0])
	b.storeReg(RAX, b.slotOf(dst), false)
	return dst
}

// --- emit.Builder: control flow ---

func (b *Builder) Jump(target emit.Block) {
	b.emitBytes(0xE9) // jmp rel32
	b.fixups = append(b.fixups, blockFixup{patchAt: b.body.Len(), block: target.ID()})
	binary.Write(b.body, binary.LittleEndian, uint32(0))
}

func (b *Builder) Brz(cond emit.Value, zeroTarget, nonzeroTarget emit.Block) {
	b.loadFromStack(RAX, b.slotOf(cond).offset, 8, false)
	b.emitBytes(0x48, 0x85, 0xC0) // test rax, rax

	b.emitBytes(0x0F, 0x84) // jz rel32 (ZF set, i.e. cond == 0)
	b.fixups = append(b.fixups, blockFixup{patchAt: b.body.Len(), block: zeroTarget.ID()})
	binary.Write(b.body, binary.LittleEndian, uint32(0))

	b.emitBytes(0xE9) // jmp rel32
	b.fixups = append(b.fixups, blockFixup{patchAt: b.body.Len(), block: nonzeroTarget.ID()})
	binary.Write(b.body, binary.LittleEndian, uint32(0))
}

func (b *Builder) Return(val emit.Value) {
	if (val != emit.Value{}) {
		if vi := b.slotOf(val); vi != nil {
			if vi.ty.IsFloat() {
				b.loadFpFromStack(0, vi.offset, vi.ty == physical.F64)
			} else {
				b.loadFromStack(RAX, vi.offset, vi.size, false)
			}
		}
	}
	b.emitBytes(0xC9, 0xC3) // leave; ret
}

// Finalize computes the final frame size, rounded up to a multiple of
// 16, prepends the prologue and argument-register spill code, and
// resolves every jump fixup to its block's now-known offset. A second
// call on the same Builder returns an error.
func (b *Builder) Finalize() error {
	if b.finalized {
		return fmt.Errorf("amd64: function already finalized")
	}
	b.finalized = true

	frame := b.frameSize
	if rem := frame % 16; rem != 0 {
		frame += 16 - rem
	}

	prologue := new(bytes.Buffer)
	prologue.WriteByte(0x55)             // push rbp
	prologue.Write([]byte{0x48, 0x89, 0xE5}) // mov rbp, rsp
	if frame > 0 {
		if frame <= 127 {
			prologue.Write([]byte{0x48, 0x83, 0xEC, byte(frame)})
		} else {
			prologue.Write([]byte{0x48, 0x81, 0xEC})
			binary.Write(prologue, binary.LittleEndian, uint32(frame))
		}
	}
	for i, val := range b.paramValues {
		if i >= len(sysVIntArgRegs) {
			break
		}
		si := b.slotOf(val)
		reg := sysVIntArgRegs[i]
		rex := byte(0x48)
		r := reg
		if r >= 8 {
			rex |= 0x04
			r -= 8
		}
		prologue.Write([]byte{rex, 0x89, byte(0x85 | (r << 3))})
		binary.Write(prologue, binary.LittleEndian, int32(si.offset))
	}

	shift := prologue.Len()
	for i := range b.fixups {
		b.fixups[i].patchAt += shift
	}
	for i := range b.relocations {
		b.relocations[i].Offset += uint64(shift)
	}
	for id, off := range b.blockOffsets {
		b.blockOffsets[id] = off + shift
	}

	final := new(bytes.Buffer)
	final.Write(prologue.Bytes())
	final.Write(b.body.Bytes())
	text := final.Bytes()

	for _, fx := range b.fixups {
		targetOff, ok := b.blockOffsets[fx.block]
		if !ok {
			return fmt.Errorf("amd64: jump to undeclared block %d", fx.block)
		}
		rel := int32(targetOff - (fx.patchAt + 4))
		binary.LittleEndian.PutUint32(text[fx.patchAt:], uint32(rel))
	}

	b.module.attachBody(b, text, b.relocations)
	return nil
}

// --- raw encoding helpers, adapted from the teacher's helpers.go ---

func (b *Builder) emitBytes(bs ...byte) { b.body.Write(bs) }

func (b *Builder) loadImm64(reg int, value uint64) {
	if value == 0 {
		b.emitXorReg(reg, reg)
		return
	}
	rex := byte(0x48)
	r := reg
	if r >= 8 {
		rex |= 0x01
		r -= 8
	}
	b.emitBytes(rex, byte(0xB8+r))
	binary.Write(b.body, binary.LittleEndian, value)
}

func (b *Builder) emitXorReg(dst, src int) {
	rex := byte(0x48)
	if dst >= 8 {
		rex |= 0x04
		dst -= 8
	}
	if src >= 8 {
		rex |= 0x01
		src -= 8
	}
	b.emitBytes(rex, 0x31, byte(0xC0|(src<<3)|dst))
}

func (b *Builder) emitLea(reg int, offset int) {
	rex := byte(0x48)
	r := reg
	if r >= 8 {
		rex |= 0x04
		r -= 8
	}
	b.emitBytes(rex, 0x8D, byte(0x85|(r<<3)))
	binary.Write(b.body, binary.LittleEndian, int32(offset))
}

// loadFromStack reloads size bytes from [rbp+offset] into the 64-bit
// register reg, widening a narrower-than-64-bit load per signed: movsx
// for signed 1/2-byte sources, movsxd for a signed 4-byte source,
// movzx/a plain 32-bit mov (which the processor itself zero-extends to
// 64 bits) otherwise. Most callers pass size 8 for an already-widened
// value slot, where signed makes no difference.
func (b *Builder) loadFromStack(reg, offset, size int, signed bool) {
	rex := byte(0x48)
	r := reg
	if r >= 8 {
		rex |= 0x04
		r -= 8
	}
	switch size {
	case 1:
		if signed {
			b.emitBytes(rex, 0x0F, 0xBE, byte(0x85|(r<<3)))
		} else {
			b.emitBytes(rex, 0x0F, 0xB6, byte(0x85|(r<<3)))
		}
	case 2:
		if signed {
			b.emitBytes(rex, 0x0F, 0xBF, byte(0x85|(r<<3)))
		} else {
			b.emitBytes(rex, 0x0F, 0xB7, byte(0x85|(r<<3)))
		}
	case 4:
		if signed {
			b.emitBytes(rex, 0x63, byte(0x85|(r<<3))) // movsxd
		} else {
			b.emitBytes(0x8B, byte(0x85|(r<<3)))
		}
	default:
		b.emitBytes(rex, 0x8B, byte(0x85|(r<<3)))
	}
	binary.Write(b.body, binary.LittleEndian, int32(offset))
}

func (b *Builder) storeToStack(reg, offset, size int) {
	rex := byte(0x48)
	r := reg
	if r >= 8 {
		rex |= 0x04
		r -= 8
	}
	switch size {
	case 1:
		b.emitBytes(0x88, byte(0x85|(r<<3)))
	case 2:
		b.emitBytes(0x66, 0x89, byte(0x85|(r<<3)))
	case 4:
		b.emitBytes(0x89, byte(0x85|(r<<3)))
	default:
		b.emitBytes(rex, 0x89, byte(0x85|(r<<3)))
	}
	binary.Write(b.body, binary.LittleEndian, int32(offset))
}

// storeReg spills reg into si's slot at its natural (>=8-byte) slot
// width; asFloat is unused by scalar paths and kept only for call
// symmetry with the float store helpers.
func (b *Builder) storeReg(reg int, si *slotInfo, _ bool) {
	b.storeToStack(reg, si.offset, si.size)
}

func (b *Builder) loadFpFromStack(xmmReg, offset int, isDouble bool) {
	prefix := byte(0xF3)
	if isDouble {
		prefix = 0xF2
	}
	r := xmmReg
	if r >= 8 {
		b.emitBytes(prefix, 0x44, 0x0F, 0x10, byte(0x85|((r-8)<<3)))
	} else {
		b.emitBytes(prefix, 0x0F, 0x10, byte(0x85|(r<<3)))
	}
	binary.Write(b.body, binary.LittleEndian, int32(offset))
}

func (b *Builder) storeFpToStack(xmmReg, offset int, isDouble bool) {
	prefix := byte(0xF3)
	if isDouble {
		prefix = 0xF2
	}
	r := xmmReg
	if r >= 8 {
		b.emitBytes(prefix, 0x44, 0x0F, 0x11, byte(0x85|((r-8)<<3)))
	} else {
		b.emitBytes(prefix, 0x0F, 0x11, byte(0x85|(r<<3)))
	}
	binary.Write(b.body, binary.LittleEndian, int32(offset))
}

// emitLoadIndirect loads size bytes from [base+offset] into dst,
// widening per signed the same way loadFromStack does.
func (b *Builder) emitLoadIndirect(dst, base int, offset int32, size int, signed bool) {
	rex := byte(0x48)
	d := dst
	if d >= 8 {
		rex |= 0x04
		d -= 8
	}
	modrm := byte(0x80 | (d << 3) | base)
	switch size {
	case 1:
		if signed {
			b.emitBytes(rex, 0x0F, 0xBE, modrm)
		} else {
			b.emitBytes(rex, 0x0F, 0xB6, modrm)
		}
	case 2:
		if signed {
			b.emitBytes(rex, 0x0F, 0xBF, modrm)
		} else {
			b.emitBytes(rex, 0x0F, 0xB7, modrm)
		}
	case 4:
		if signed {
			b.emitBytes(rex, 0x63, modrm) // movsxd
		} else {
			b.emitBytes(0x8B, modrm)
		}
	default:
		b.emitBytes(rex, 0x8B, modrm)
	}
	binary.Write(b.body, binary.LittleEndian, offset)
}

func (b *Builder) emitStoreIndirect(src, base int, offset int32, size int) {
	rex := byte(0x48)
	s := src
	if s >= 8 {
		rex |= 0x04
		s -= 8
	}
	modrm := byte(0x80 | (s << 3) | base)
	switch size {
	case 1:
		b.emitBytes(0x88, modrm)
	case 2:
		b.emitBytes(0x66, 0x89, modrm)
	case 4:
		b.emitBytes(0x89, modrm)
	default:
		b.emitBytes(rex, 0x89, modrm)
	}
	binary.Write(b.body, binary.LittleEndian, offset)
}

func (b *Builder) emitFpLoadIndirect(xmmReg, base int, offset int32, isDouble bool) {
	prefix := byte(0xF3)
	if isDouble {
		prefix = 0xF2
	}
	b.emitBytes(prefix, 0x0F, 0x10, byte(0x80|(xmmReg<<3)|base))
	binary.Write(b.body, binary.LittleEndian, offset)
}

func (b *Builder) emitFpStoreIndirect(xmmReg, base int, offset int32, isDouble bool) {
	prefix := byte(0xF3)
	if isDouble {
		prefix = 0xF2
	}
	b.emitBytes(prefix, 0x0F, 0x11, byte(0x80|(xmmReg<<3)|base))
	binary.Write(b.body, binary.LittleEndian, offset)
}
