package amd64

import (
	"fmt"

	"github.com/arc-language/dataflow-jit/emit"
	"github.com/arc-language/dataflow-jit/target"
)

type funcDef struct {
	name     string
	sig      emit.Signature
	linkage  emit.Linkage
	imported bool

	code        []byte
	offset      int
	size        int
	relocations []emit.Relocation
}

// Module accumulates every function declared against it and, once every
// Builder has been finalized, concatenates their machine code into a
// single text section plus the symbol table and relocations format/elf
// needs to write a relocatable object.
type Module struct {
	target target.Description

	funcs     []*funcDef
	nextFunc  uint32
	finalized bool

	text []byte
}

// NewModule creates an empty Module targeting td.
func NewModule(td target.Description) *Module {
	return &Module{target: td}
}

func (m *Module) DeclareFunction(name string, sig emit.Signature, linkage emit.Linkage) (emit.FuncID, emit.Builder) {
	id := emit.NewFuncID(m.nextFunc)
	m.nextFunc++

	def := &funcDef{name: name, sig: sig, linkage: linkage}
	m.funcs = append(m.funcs, def)

	b := newBuilder(m, m.target, sig)
	b.def = def
	return id, b
}

func (m *Module) DeclareImport(name string, sig emit.Signature) emit.FuncID {
	id := emit.NewFuncID(m.nextFunc)
	m.nextFunc++

	m.funcs = append(m.funcs, &funcDef{name: name, sig: sig, linkage: emit.Import, imported: true})
	return id
}

func (m *Module) symbolName(id emit.FuncID) string {
	return m.funcs[id.ID()].name
}

func (m *Module) signatureOf(id emit.FuncID) emit.Signature {
	return m.funcs[id.ID()].sig
}

// attachBody records a finalized Builder's machine code against its
// declaring funcDef; the eventual text-section offset is assigned in
// FinalizeDefinitions once every function's size is known.
func (m *Module) attachBody(b *Builder, code []byte, relocs []emit.Relocation) {
	b.def.code = code
	b.def.relocations = relocs
	b.def.size = len(code)
}

// FinalizeDefinitions lays out every declared function's code one after
// another in the final text section, recording each function's offset
// in it; Artifact uses those offsets to rebase each function's
// relocations to their final, whole-module position.
func (m *Module) FinalizeDefinitions() error {
	if m.finalized {
		return fmt.Errorf("amd64: module already finalized")
	}
	m.finalized = true

	offset := 0
	for _, def := range m.funcs {
		if def.imported {
			continue
		}
		if def.code == nil {
			return fmt.Errorf("amd64: function %q declared but never finalized", def.name)
		}
		def.offset = offset
		offset += len(def.code)
	}

	text := make([]byte, offset)
	for _, def := range m.funcs {
		if def.imported {
			continue
		}
		copy(text[def.offset:], def.code)
	}
	m.text = text

	return nil
}

func (m *Module) Artifact() (emit.Artifact, error) {
	if !m.finalized {
		return emit.Artifact{}, fmt.Errorf("amd64: Artifact called before FinalizeDefinitions")
	}

	var symbols []emit.SymbolDef
	var relocations []emit.Relocation

	for _, def := range m.funcs {
		if def.imported {
			continue
		}
		symbols = append(symbols, emit.SymbolDef{
			Name:     def.name,
			Offset:   uint64(def.offset),
			Size:     uint64(def.size),
			IsFunc:   true,
			IsGlobal: def.linkage == emit.Export,
		})
		for _, r := range def.relocations {
			r.Offset += uint64(def.offset)
			relocations = append(relocations, r)
		}
	}

	return emit.Artifact{
		Text:        m.text,
		Symbols:     symbols,
		Relocations: relocations,
	}, nil
}
