// Package emit declares the interface the Function Lowerer programs
// against: a single-function instruction Builder and the Module that
// owns finished functions, declares symbols and hands back a linkable
// Artifact. Turning those instructions into actual machine code —
// register allocation, instruction selection, relocation resolution —
// is the concern of a concrete backend (see arch/amd64) and is treated
// by the lowerer as an external collaborator behind this interface.
package emit

import "github.com/arc-language/dataflow-jit/physical"

// Value names a single SSA-like value produced by a Builder
// instruction. Opaque outside the backend that issued it.
type Value struct{ id uint32 }

// NewValue constructs a Value handle from a backend-assigned id. Only
// backends call this; the lowerer only ever holds Values handed back by
// a Builder method.
func NewValue(id uint32) Value { return Value{id: id} }

// ID returns the backend-assigned identifier, for backends that need to
// look a Value back up in their own tables.
func (v Value) ID() uint32 { return v.id }

// Block names a basic block within the function currently being built.
type Block struct{ id uint32 }

// NewBlock constructs a Block handle from a backend-assigned id.
func NewBlock(id uint32) Block { return Block{id: id} }

// ID returns the backend-assigned identifier.
func (b Block) ID() uint32 { return b.id }

// StackSlot names a fixed-size, fixed-alignment stack allocation within
// the function currently being built.
type StackSlot struct{ id uint32 }

// NewStackSlot constructs a StackSlot handle from a backend-assigned id.
func NewStackSlot(id uint32) StackSlot { return StackSlot{id: id} }

// ID returns the backend-assigned identifier.
func (s StackSlot) ID() uint32 { return s.id }

// IntCC is an integer comparison predicate for ICmp/ICmpImm.
type IntCC uint8

const (
	Equal IntCC = iota
	NotEqual
	SignedLessThan
	SignedLessThanOrEqual
	SignedGreaterThan
	SignedGreaterThanOrEqual
	UnsignedLessThan
	UnsignedLessThanOrEqual
	UnsignedGreaterThan
	UnsignedGreaterThanOrEqual
)

// FloatCC is a floating-point comparison predicate for FCmp.
type FloatCC uint8

const (
	FloatEqual FloatCC = iota
	FloatNotEqual
	FloatLessThan
	FloatLessThanOrEqual
	FloatGreaterThan
	FloatGreaterThanOrEqual
)

// MemFlags qualifies a Load/Store/memory-copy/memset with what the
// lowerer has already proven about the access, so the backend doesn't
// have to reprove it (bounds, alignment, aliasing).
type MemFlags struct {
	// Trusted marks an access the lowerer has statically proven is
	// in-bounds and correctly aligned: every row field access is
	// trusted, since its offset comes from a NativeLayout.
	Trusted bool
	// Readonly marks a load the backend may freely reorder or hoist
	// since nothing in the function can alias-write it.
	Readonly bool
}

// Trusted returns the MemFlags every row field access carries.
func Trusted() MemFlags { return MemFlags{Trusted: true} }

// TrustedReadonly returns the MemFlags for a load from a readonly row
// parameter.
func TrustedReadonly() MemFlags { return MemFlags{Trusted: true, Readonly: true} }

// Signature is a function's calling shape in terms of physical types:
// one pointer-width slot per logical argument (every row is passed by
// reference) and an optional pointer return slot for a non-zero-sized
// result.
type Signature struct {
	// ParamTypes is one entry per argument, always physical.Ptr for the
	// core lowerer (arguments are always row pointers) but left general
	// so a backend or an extended lowerer can build non-row signatures.
	ParamTypes []physical.Type
	// Returns is empty for a function returning a zero-sized row,
	// otherwise holds the single pointer-width return slot's type.
	Returns []physical.Type
}

// FuncID names a function declared in a Module.
type FuncID struct{ id uint32 }

// NewFuncID constructs a FuncID handle from a backend-assigned id.
func NewFuncID(id uint32) FuncID { return FuncID{id: id} }

// ID returns the backend-assigned identifier.
func (f FuncID) ID() uint32 { return f.id }

// Linkage controls whether a declared function/symbol is visible
// outside the emitted object.
type Linkage uint8

const (
	// Local is visible only within the emitted object.
	Local Linkage = iota
	// Export is visible to whatever links the emitted object in.
	Export
	// Import names a symbol defined elsewhere that this object merely
	// calls; used to resolve intrinsics.Registry entries to callable
	// FuncIDs.
	Import
)

// Builder issues the instructions of a single function body. The
// Codegen Driver obtains one per function from Module.DeclareFunction,
// drives it from the Function Lowerer, then finalizes it.
//
// Every method that returns a Value yields a handle usable anywhere
// later in the same function; nothing here is valid across functions.
type Builder interface {
	// CreateBlock declares a new basic block, not yet reachable from
	// anywhere until some other block jumps or branches to it.
	CreateBlock() Block
	// SwitchToBlock makes b the block subsequent instructions append
	// to.
	SwitchToBlock(b Block)
	// SealBlock declares that every predecessor b will ever have has
	// already been wired up (via Jump/Branch targeting it). Required
	// before the backend can safely finalize any SSA bookkeeping that
	// depends on b's predecessor set, such as a back-edge target reached
	// only after the loop body preceding it has itself been lowered.
	SealBlock(b Block)

	// Param returns the Value carrying the i-th function argument (a
	// row pointer, one per intrinsics.Signature/ir.Param).
	Param(i int) Value

	// CreateStackSlot reserves size bytes of align-aligned stack space
	// for the current function's frame and returns a handle to it.
	CreateStackSlot(size, align uint32) StackSlot
	// StackAddr returns the address of slot as a pointer-typed Value.
	StackAddr(slot StackSlot) Value
	// StackLoad reads a ty-typed value directly out of slot at the
	// given byte offset, without going through StackAddr.
	StackLoad(slot StackSlot, offset uint32, ty physical.Type) Value
	// StackStore writes val into slot at the given byte offset.
	StackStore(slot StackSlot, offset uint32, val Value)

	// Load reads a ty-typed value from the address ptr + offset.
	Load(ptr Value, offset uint32, ty physical.Type, flags MemFlags) Value
	// Store writes val to the address ptr + offset.
	Store(ptr Value, offset uint32, val Value, flags MemFlags)

	// IConst materializes a constant integer/bool of the given type.
	IConst(ty physical.Type, value uint64) Value
	// FConst materializes a constant F32/F64.
	FConst(ty physical.Type, value float64) Value

	// IAdd, ISub and IMul perform wrapping integer arithmetic; ty
	// selects the operand/result width.
	IAdd(ty physical.Type, lhs, rhs Value) Value
	ISub(ty physical.Type, lhs, rhs Value) Value
	IMul(ty physical.Type, lhs, rhs Value) Value
	// BAnd and BOr perform bitwise integer/bool operations.
	BAnd(ty physical.Type, lhs, rhs Value) Value
	BOr(ty physical.Type, lhs, rhs Value) Value
	// BAndImm and BOrImm are the immediate-operand forms, used for
	// nullability-bit manipulation where one operand is always a
	// compile-time mask.
	BAndImm(ty physical.Type, lhs Value, imm uint64) Value
	BOrImm(ty physical.Type, lhs Value, imm uint64) Value
	// BNot computes the bitwise complement of val.
	BNot(ty physical.Type, val Value) Value
	// INeg computes the two's-complement negation of val.
	INeg(ty physical.Type, val Value) Value
	// FNeg computes the floating-point negation of val.
	FNeg(ty physical.Type, val Value) Value

	// FAdd, FSub, FMul perform floating-point arithmetic; ty is F32 or
	// F64.
	FAdd(ty physical.Type, lhs, rhs Value) Value
	FSub(ty physical.Type, lhs, rhs Value) Value
	FMul(ty physical.Type, lhs, rhs Value) Value

	// ICmp compares two integer/bool/pointer values and yields a
	// single-bit Bool result.
	ICmp(cc IntCC, ty physical.Type, lhs, rhs Value) Value
	// ICmpImm is ICmp against a compile-time immediate right-hand side.
	ICmpImm(cc IntCC, ty physical.Type, lhs Value, imm uint64) Value
	// FCmp compares two floating-point values.
	FCmp(cc FloatCC, ty physical.Type, lhs, rhs Value) Value

	// Cast converts val from one physical representation to another
	// (e.g. sign/zero extension, truncation, int<->float, bool<->int).
	Cast(from, to physical.Type, val Value) Value

	// Select yields ifTrue when cond is nonzero, ifFalse otherwise.
	Select(ty physical.Type, cond, ifTrue, ifFalse Value) Value

	// EmitSmallMemoryCopy copies size bytes from src to dest, both
	// pointer Values; align is the common alignment of both ends.
	EmitSmallMemoryCopy(dest, src Value, size, align uint32, flags MemFlags)
	// EmitSmallMemset fills size bytes at dest with the repeated byte
	// fillByte.
	EmitSmallMemset(dest Value, size, align uint32, fillByte byte, flags MemFlags)

	// Call invokes fn with args, returning its result Value or the zero
	// Value if fn returns nothing.
	Call(fn FuncID, args []Value) Value

	// Jump ends the current block with an unconditional jump to
	// target.
	Jump(target Block)
	// Brz ends the current block by jumping to zeroTarget if cond == 0,
	// otherwise falling through to nonzeroTarget. This is the exact
	// "branch if zero" polarity the Function Lowerer's Branch
	// terminator depends on: callers must not swap the two targets.
	Brz(cond Value, zeroTarget, nonzeroTarget Block)
	// Return ends the current block by returning val (the zero Value
	// for a zero-sized return type).
	Return(val Value)

	// Finalize completes this function: runs backend-internal
	// finalization (e.g. SSA construction, peephole optimization) and
	// makes it eligible for Module.FinalizeDefinitions. Must be called
	// exactly once, after every block has been sealed.
	Finalize() error
}

// Module owns every function and data object declared against it and
// produces the final linkable Artifact.
type Module interface {
	// DeclareFunction reserves a FuncID for a function with the given
	// name, signature and linkage, and returns a Builder to fill in its
	// body. name must be unique within the Module.
	DeclareFunction(name string, sig Signature, linkage Linkage) (FuncID, Builder)
	// DeclareImport registers an externally-defined symbol (such as an
	// intrinsics.Registry entry) as a callable FuncID without a local
	// body.
	DeclareImport(name string, sig Signature) FuncID

	// FinalizeDefinitions runs whole-module finalization (e.g. layout
	// of the final object, optimization passes that need the full call
	// graph) after every declared function has been built and
	// Builder.Finalize'd.
	FinalizeDefinitions() error

	// Artifact returns the finished, linkable output. Must only be
	// called after FinalizeDefinitions.
	Artifact() (Artifact, error)
}

// Artifact is the finished output of a Module: machine code and data
// sections plus the symbol/relocation metadata format/elf needs to
// write them out as a relocatable object file.
type Artifact struct {
	Text        []byte
	Data        []byte
	Symbols     []SymbolDef
	Relocations []Relocation
}

// SymbolDef describes one symbol defined in Text or Data.
type SymbolDef struct {
	Name     string
	Offset   uint64
	Size     uint64
	IsFunc   bool
	IsGlobal bool
}

// RelocationType is the ELF relocation kind to apply.
type RelocationType int

const (
	RelocPC32  RelocationType = 2
	RelocPLT32 RelocationType = 4
)

// Relocation is one site in Text needing a relocation applied at link
// time, addressed by symbol name rather than FuncID so format/elf
// doesn't need to know about Modules.
type Relocation struct {
	Offset     uint64
	SymbolName string
	Type       RelocationType
	Addend     int64
}
