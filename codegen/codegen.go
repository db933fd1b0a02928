// Package codegen is the Codegen Driver: it turns an ir.Function into
// calls against an emit.Module/emit.Builder, by way of the Function
// Lowerer in lower.go. It owns the one layout.NativeLayoutCache shared
// across every function it lowers for a given target.
package codegen

import (
	"github.com/pkg/errors"

	"github.com/arc-language/dataflow-jit/emit"
	"github.com/arc-language/dataflow-jit/intrinsics"
	"github.com/arc-language/dataflow-jit/ir"
	"github.com/arc-language/dataflow-jit/layout"
	"github.com/arc-language/dataflow-jit/physical"
	"github.com/arc-language/dataflow-jit/target"
)

// Codegen is the driver that lowers IR functions into a single
// emit.Module. One Codegen lowers every function destined for the same
// compilation unit, so its NativeLayoutCache's memoization is shared
// across all of them.
type Codegen struct {
	layoutCache *layout.NativeLayoutCache
	module      emit.Module
	target      target.Description
	config      Config
	intrinsics  *intrinsics.Registry

	imported map[intrinsics.Name]emit.FuncID
}

// New builds a Codegen targeting td, lowering into module, reading row
// layouts from source and resolving runtime call-outs against reg. It
// panics if reg lacks StringClone, the intrinsic the lowerer imports
// for CopyVal.
func New(source ir.LayoutCache, td target.Description, module emit.Module, config Config, reg *intrinsics.Registry) *Codegen {
	reg.MustLookup(intrinsics.StringClone)
	return &Codegen{
		layoutCache: layout.NewNativeLayoutCache(source, td),
		module:      module,
		target:      td,
		config:      config,
		intrinsics:  reg,
		imported:    make(map[intrinsics.Name]emit.FuncID),
	}
}

// NativeLayoutCache returns the layout cache this Codegen shares across
// every function it lowers.
func (cg *Codegen) NativeLayoutCache() *layout.NativeLayoutCache {
	return cg.layoutCache
}

// FinalizeDefinitions completes the underlying Module, after every
// function this Codegen was asked to lower has been lowered.
func (cg *Codegen) FinalizeDefinitions() error {
	return cg.module.FinalizeDefinitions()
}

// layoutOf resolves id to its NativeLayout using this Codegen's
// configured packing algorithm.
func (cg *Codegen) layoutOf(id ir.LayoutId) *layout.NativeLayout {
	return cg.layoutCache.Get(id, cg.config.OptimizeLayouts)
}

// importIntrinsic declares (once, memoized) the emit.FuncID for a
// runtime intrinsic, failing fatally if it isn't in the registry. New
// has already checked StringClone, the one intrinsic the core lowerer
// imports, so a missing one surfaces at construction, not partway
// through lowering the first function that needs it.
func (cg *Codegen) importIntrinsic(name intrinsics.Name) emit.FuncID {
	if id, ok := cg.imported[name]; ok {
		return id
	}

	sig := cg.intrinsics.MustLookup(name)
	esig := emit.Signature{ParamTypes: sig.Args}
	if sig.Ret != nil {
		esig.Returns = []physical.Type{*sig.Ret}
	}

	id := cg.module.DeclareImport(string(name), esig)
	cg.imported[name] = id
	return id
}

// buildSignature converts an ir.Signature into the emit.Signature the
// Module needs to declare the function: one pointer-width argument slot
// per row parameter (rows are always passed by reference), and a
// pointer return slot iff the return row isn't zero-sized.
func (cg *Codegen) buildSignature(sig ir.Signature) emit.Signature {
	params := make([]physical.Type, len(sig.Args))
	for i := range params {
		params[i] = physical.Ptr
	}

	var returns []physical.Type
	if !cg.layoutOf(sig.Ret).IsZeroSized() {
		returns = []physical.Type{physical.Ptr}
	}

	return emit.Signature{ParamTypes: params, Returns: returns}
}

// CodegenFunc lowers fn into the Module under the given linker-visible
// name, following the Codegen Driver's six-step pipeline: build the
// signature, declare the function, create its builder, run the
// lowerer, finalize the builder, and return the declared FuncID for the
// Module to link against. Mirrors the original codegen_func, adapted
// from an anonymous-function model (the reference JIT backend
// generates synthetic names) to an explicit caller-supplied name, which
// is what a relocatable-object-emitting backend like this one's
// format/elf needs for external linkage.
func (cg *Codegen) CodegenFunc(name string, fn *ir.Function) (emit.FuncID, error) {
	sig := cg.buildSignature(fn.Signature())
	id, builder := cg.module.DeclareFunction(name, sig, emit.Export)

	l := newLowerer(cg, builder, fn)
	if err := l.run(); err != nil {
		return id, errors.Wrapf(err, "codegen: lowering function %q", name)
	}

	if err := builder.Finalize(); err != nil {
		return id, errors.Wrapf(err, "codegen: finalizing function %q", name)
	}

	return id, nil
}
