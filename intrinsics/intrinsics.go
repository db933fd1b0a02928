// Package intrinsics declares the runtime support routines the
// Function Lowerer calls out to rather than lowering inline — routines
// this repository doesn't implement itself, linked in by whatever
// embeds the generated object (the JIT linker or final executable).
// CopyVal's String clone is the one the core spec requires; embedders
// may register more for their own extended expression set.
package intrinsics

import (
	"fmt"

	"github.com/samber/lo"

	"github.com/arc-language/dataflow-jit/physical"
)

// Name identifies an intrinsic by its link-time symbol.
type Name string

// StringClone clones the heap string a String-typed value points to.
// CopyVal lowers to a call to it for String values only; for every
// other type the copy is a no-op.
const StringClone Name = "dataflow_jit_string_clone"

// Signature describes an intrinsic's calling shape in terms of
// physical.Type, exactly what Codegen.importIntrinsic needs to declare
// the import the lowerer's Call targets.
type Signature struct {
	Args []physical.Type
	// Ret is nil for an intrinsic with no return value.
	Ret *physical.Type
}

func ptr() *physical.Type {
	p := physical.Ptr
	return &p
}

// Registry resolves intrinsic names to signatures. The Codegen Driver
// takes one at construction and fails immediately if a required
// intrinsic is missing, rather than failing deep inside a function
// lowering the first time that expression is reached.
type Registry struct {
	symbols map[Name]Signature
}

// NewRegistry returns a Registry pre-populated with every intrinsic the
// core expression set needs.
func NewRegistry() *Registry {
	r := &Registry{symbols: make(map[Name]Signature)}
	r.Register(StringClone, Signature{Args: []physical.Type{physical.Ptr}, Ret: ptr()})
	return r
}

// Register adds or replaces the signature for name. Embedders extending
// the expression set with custom call-outs register them here before
// handing the Registry to Codegen.New.
func (r *Registry) Register(name Name, sig Signature) {
	r.symbols[name] = sig
}

// Lookup returns the signature registered for name.
func (r *Registry) Lookup(name Name) (Signature, bool) {
	sig, ok := r.symbols[name]
	return sig, ok
}

// MustLookup is Lookup but panics if name isn't registered. The
// Codegen Driver uses this for the intrinsics the core lowerer itself
// depends on, since a missing one there is a configuration error, not
// a data error.
func (r *Registry) MustLookup(name Name) Signature {
	sig, ok := r.Lookup(name)
	if !ok {
		panic(fmt.Sprintf("intrinsics: required intrinsic %q is not registered", name))
	}
	return sig
}

// Names returns every registered intrinsic name, for diagnostics (e.g.
// an embedder logging what it's about to link against).
func (r *Registry) Names() []Name {
	return lo.Keys(r.symbols)
}
