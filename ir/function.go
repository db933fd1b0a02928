package ir

// InputFlags carries per-parameter contract bits the lowerer must
// honor.
type InputFlags struct {
	// Readonly marks a row parameter the function promises never to
	// mutate: Store, SetNull and CopyRowTo targeting it are IR
	// invariant violations.
	Readonly bool
}

// IsReadonly reports whether the Readonly flag is set.
func (f InputFlags) IsReadonly() bool { return f.Readonly }

// Param is one function parameter: the layout of the row it carries,
// the expression id that names it inside the function body, and its
// input flags.
type Param struct {
	Layout LayoutId
	Expr   ExprId
	Flags  InputFlags
}

// Signature is a function's external shape: the layout of each
// argument row and the layout of its return row.
type Signature struct {
	Args []LayoutId
	Ret  LayoutId
}

// TerminatorKind tags the concrete type of a Terminator.
type TerminatorKind uint8

const (
	TermReturn TerminatorKind = iota
	TermJump
	TermBranch
)

// Terminator ends a basic block. Exactly one of the Return/Jump/Branch
// fields is meaningful, selected by TKind.
type Terminator struct {
	TKind TerminatorKind

	// TermReturn
	ReturnValue RValue

	// TermJump
	JumpTarget BlockId

	// TermBranch
	BranchCond  RValue
	BranchTrue  BlockId
	BranchFalse BlockId
}

// Return builds a Return terminator.
func Return(value RValue) Terminator {
	return Terminator{TKind: TermReturn, ReturnValue: value}
}

// Jump builds an unconditional Jump terminator.
func Jump(target BlockId) Terminator {
	return Terminator{TKind: TermJump, JumpTarget: target}
}

// Branch builds a conditional Branch terminator: per spec.md, this
// lowers to "if cond == 0 go to truthy, else go to falsy" — an
// inverted-looking but intentional polarity preserved bit-for-bit from
// the reference implementation.
func Branch(cond RValue, truthy, falsy BlockId) Terminator {
	return Terminator{TKind: TermBranch, BranchCond: cond, BranchTrue: truthy, BranchFalse: falsy}
}

// Block is a basic block: a straight-line sequence of expressions
// followed by exactly one terminator.
type Block struct {
	BodyExprs  []ExprId
	Terminator Terminator
}

// Body returns the block's expression ids in source order.
func (b *Block) Body() []ExprId { return b.BodyExprs }

// Function is the IR function the Codegen Driver lowers. Its blocks
// and expressions are addressed by small integer ids into the dense
// maps BlocksByID/ExprsByID.
type Function struct {
	Args        []Param
	EntryBlock  BlockId
	BlocksByID  map[BlockId]*Block
	ExprsByID   map[ExprId]Expr
	sig         Signature
}

// NewFunction builds a Function from its pieces.
func NewFunction(sig Signature, args []Param, entry BlockId, blocks map[BlockId]*Block, exprs map[ExprId]Expr) *Function {
	return &Function{
		Args:       args,
		EntryBlock: entry,
		BlocksByID: blocks,
		ExprsByID:  exprs,
		sig:        sig,
	}
}

// Signature returns the function's external shape.
func (f *Function) Signature() Signature { return f.sig }

// EntryBlockID returns the entry block's id.
func (f *Function) EntryBlockID() BlockId { return f.EntryBlock }

// Blocks returns the block map, keyed by BlockId.
func (f *Function) Blocks() map[BlockId]*Block { return f.BlocksByID }

// Exprs returns the expression map, keyed by ExprId.
func (f *Function) Exprs() map[ExprId]Expr { return f.ExprsByID }
