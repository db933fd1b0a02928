package elf

import (
	"bytes"
	"encoding/binary"
	"testing"
)

// AddRelocation must actually record relocations against the section
// (it was previously a no-op stub), and WriteTo must emit a matching
// .rela<name> section for it once symbol indices are finalized.
func TestAddRelocation_RecordsAgainstSection(t *testing.T) {
	f := NewFile()
	text := f.AddSection(".text", SHT_PROGBITS, SHF_ALLOC|SHF_EXECINSTR, []byte{0xE8, 0, 0, 0, 0})
	sym := f.AddSymbol("callee", MakeSymbolInfo(STB_GLOBAL, STT_FUNC), nil, 0, 0)

	f.AddRelocation(text, 1, sym, R_X86_64_PLT32, -4)

	if len(text.Relocations) != 1 {
		t.Fatalf("expected 1 relocation recorded on .text, got %d", len(text.Relocations))
	}
	if text.Relocations[0].Symbol != sym || text.Relocations[0].Offset != 1 {
		t.Fatalf("relocation fields not recorded correctly: %+v", text.Relocations[0])
	}
}

// WriteTo must produce a .rela.text section when .text carries
// relocations, with a matching Elf64_Rela entry count.
func TestWriteTo_EmitsRelaSectionForRelocatedSection(t *testing.T) {
	f := NewFile()
	text := f.AddSection(".text", SHT_PROGBITS, SHF_ALLOC|SHF_EXECINSTR, []byte{0xE8, 0, 0, 0, 0})
	sym := f.AddSymbol("callee", MakeSymbolInfo(STB_GLOBAL, STT_FUNC), nil, 0, 0)
	f.AddRelocation(text, 1, sym, R_X86_64_PLT32, -4)

	var buf bytes.Buffer
	if err := f.WriteTo(&buf); err != nil {
		t.Fatalf("WriteTo: %v", err)
	}

	var relaSec *Section
	for _, s := range f.Sections {
		if s.Name == ".rela.text" {
			relaSec = s
		}
	}
	if relaSec == nil {
		t.Fatalf("expected a .rela.text section to be emitted")
	}
	if relaSec.Type != SHT_RELA {
		t.Fatalf("expected .rela.text to have type SHT_RELA, got %d", relaSec.Type)
	}
	if len(relaSec.Content) != 24 {
		t.Fatalf("expected exactly one 24-byte Elf64_Rela entry, got %d bytes", len(relaSec.Content))
	}

	// The entry's r_info low 32 bits must carry the relocation type we
	// asked for, and the high 32 bits the symbol's final table index.
	info := binary.LittleEndian.Uint64(relaSec.Content[8:16])
	if uint32(info) != R_X86_64_PLT32 {
		t.Fatalf("expected r_info low word to be R_X86_64_PLT32, got %d", uint32(info))
	}
	if uint32(info>>32) != uint32(sym.symIdx) {
		t.Fatalf("expected r_info high word to be the symbol's final index %d, got %d", sym.symIdx, uint32(info>>32))
	}
}

// A section with no relocations must not get a .rela section at all.
func TestWriteTo_NoRelaSectionWithoutRelocations(t *testing.T) {
	f := NewFile()
	f.AddSection(".text", SHT_PROGBITS, SHF_ALLOC|SHF_EXECINSTR, []byte{0x90})

	var buf bytes.Buffer
	if err := f.WriteTo(&buf); err != nil {
		t.Fatalf("WriteTo: %v", err)
	}

	for _, s := range f.Sections {
		if s.Name == ".rela.text" {
			t.Fatalf("expected no .rela.text section without any recorded relocations")
		}
	}
}
