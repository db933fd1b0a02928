package elf

import (
	"testing"

	"github.com/arc-language/dataflow-jit/emit"
)

func TestFromArtifact_DeclaresExportedFunctionSymbols(t *testing.T) {
	art := emit.Artifact{
		Text: []byte{0x55, 0xC9, 0xC3},
		Symbols: []emit.SymbolDef{
			{Name: "add_one", Offset: 0, Size: 3, IsFunc: true, IsGlobal: true},
		},
	}

	f := FromArtifact(art)

	var textSec *Section
	for _, s := range f.Sections {
		if s.Name == ".text" {
			textSec = s
		}
	}
	if textSec == nil {
		t.Fatalf("expected a .text section")
	}
	if len(textSec.Content) != 3 {
		t.Fatalf("expected .text content to be the artifact's code, got %d bytes", len(textSec.Content))
	}

	if len(f.Symbols) != 1 {
		t.Fatalf("expected exactly 1 declared symbol, got %d", len(f.Symbols))
	}
	sym := f.Symbols[0]
	if sym.Name != "add_one" || sym.Section != textSec {
		t.Fatalf("expected add_one to be a .text symbol, got %+v", sym)
	}
	binding := sym.Info >> 4
	typ := sym.Info & 0xf
	if binding != STB_GLOBAL || typ != STT_FUNC {
		t.Fatalf("expected a global FUNC symbol, got binding=%d type=%d", binding, typ)
	}
}

// A relocation referencing an intrinsic import that never made it into
// art.Symbols must still get a synthesized undefined symbol, not a
// nil-pointer dereference or a dropped relocation.
func TestFromArtifact_SynthesizesUndefinedSymbolForUnknownRelocationTarget(t *testing.T) {
	art := emit.Artifact{
		Text: []byte{0xE8, 0, 0, 0, 0},
		Relocations: []emit.Relocation{
			{Offset: 1, SymbolName: "dataflow_jit_string_clone", Type: emit.RelocPLT32, Addend: -4},
		},
	}

	f := FromArtifact(art)

	var textSec *Section
	for _, s := range f.Sections {
		if s.Name == ".text" {
			textSec = s
		}
	}
	if len(textSec.Relocations) != 1 {
		t.Fatalf("expected 1 relocation attached to .text, got %d", len(textSec.Relocations))
	}

	sym := textSec.Relocations[0].Symbol
	if sym == nil || sym.Name != "dataflow_jit_string_clone" {
		t.Fatalf("expected the relocation to reference a synthesized symbol, got %+v", sym)
	}
	if sym.Section != nil {
		t.Fatalf("expected the synthesized symbol to be undefined (no section), got %+v", sym.Section)
	}
}

func TestFromArtifact_OmitsDataSectionWhenEmpty(t *testing.T) {
	f := FromArtifact(emit.Artifact{Text: []byte{0xC3}})

	for _, s := range f.Sections {
		if s.Name == ".data" {
			t.Fatalf("expected no .data section when the artifact carries no data")
		}
	}
}
