package elf

import "github.com/arc-language/dataflow-jit/emit"

// FromArtifact builds a relocatable ELF64 object File from a finished
// emit.Artifact: one .text section holding every function's machine
// code, one .data section for any constant pool (empty for the amd64
// backend today, which hasn't reason to need one yet), one symbol per
// SymbolDef (STB_GLOBAL if IsGlobal, else STB_LOCAL; STT_FUNC if IsFunc,
// else STT_OBJECT), and the Artifact's call-site relocations recorded
// against .text, which WriteTo emits as .rela.text.
func FromArtifact(art emit.Artifact) *File {
	f := NewFile()

	textFlags := uint64(SHF_ALLOC | SHF_EXECINSTR)
	textSec := f.AddSection(".text", SHT_PROGBITS, textFlags, art.Text)
	textSec.Addralign = 16

	if len(art.Data) > 0 {
		dataSec := f.AddSection(".data", SHT_PROGBITS, SHF_ALLOC|SHF_WRITE, art.Data)
		dataSec.Addralign = 8
	}

	symbolsByName := make(map[string]*Symbol, len(art.Symbols))
	for _, s := range art.Symbols {
		binding := byte(STB_LOCAL)
		if s.IsGlobal {
			binding = STB_GLOBAL
		}
		typ := byte(STT_OBJECT)
		if s.IsFunc {
			typ = STT_FUNC
		}

		sym := f.AddSymbol(s.Name, MakeSymbolInfo(binding, typ), textSec, s.Offset, s.Size)
		symbolsByName[s.Name] = sym
	}

	for _, r := range art.Relocations {
		sym, ok := symbolsByName[r.SymbolName]
		if !ok {
			// art.Symbols lists only functions defined in this object
			// (Module.Artifact skips imports), so a call to an imported
			// intrinsic lands here and gets an undefined global symbol.
			sym = f.AddSymbol(r.SymbolName, MakeSymbolInfo(STB_GLOBAL, STT_NOTYPE), nil, 0, 0)
			symbolsByName[r.SymbolName] = sym
		}
		f.AddRelocation(textSec, r.Offset, sym, uint32(r.Type), r.Addend)
	}

	return f
}
