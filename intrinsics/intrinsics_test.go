package intrinsics

import (
	"testing"

	"github.com/arc-language/dataflow-jit/physical"
)

func TestNewRegistry_PrePopulatesStringClone(t *testing.T) {
	r := NewRegistry()

	sig, ok := r.Lookup(StringClone)
	if !ok {
		t.Fatalf("expected %q to be pre-registered", StringClone)
	}
	if len(sig.Args) != 1 || sig.Args[0] != physical.Ptr {
		t.Fatalf("expected string_clone to take a single Ptr argument, got %v", sig.Args)
	}
	if sig.Ret == nil || *sig.Ret != physical.Ptr {
		t.Fatalf("expected string_clone to return a Ptr, got %v", sig.Ret)
	}
}

func TestRegister_AddsAndOverwrites(t *testing.T) {
	r := NewRegistry()
	const custom Name = "dataflow_jit_custom_hash"

	r.Register(custom, Signature{Args: []physical.Type{physical.I64}, Ret: nil})
	sig, ok := r.Lookup(custom)
	if !ok {
		t.Fatalf("expected %q to be registered", custom)
	}
	if sig.Ret != nil {
		t.Fatalf("expected a nil return for a void intrinsic, got %v", sig.Ret)
	}

	r.Register(custom, Signature{Args: []physical.Type{physical.I64, physical.I64}})
	sig, _ = r.Lookup(custom)
	if len(sig.Args) != 2 {
		t.Fatalf("expected re-registering %q to overwrite its signature, got %v", custom, sig.Args)
	}
}

func TestLookup_UnknownNameMisses(t *testing.T) {
	r := NewRegistry()
	if _, ok := r.Lookup("dataflow_jit_does_not_exist"); ok {
		t.Fatalf("expected an unregistered name to miss")
	}
}

func TestMustLookup_PanicsOnUnknownName(t *testing.T) {
	r := NewRegistry()
	defer func() {
		if recover() == nil {
			t.Fatalf("expected MustLookup to panic on an unregistered name")
		}
	}()
	r.MustLookup("dataflow_jit_does_not_exist")
}

func TestNames_IncludesEveryRegisteredIntrinsic(t *testing.T) {
	r := NewRegistry()
	r.Register("dataflow_jit_custom_hash", Signature{Args: []physical.Type{physical.I64}})

	names := r.Names()
	seen := make(map[Name]bool, len(names))
	for _, n := range names {
		seen[n] = true
	}

	if !seen[StringClone] {
		t.Fatalf("expected Names to include %q, got %v", StringClone, names)
	}
	if !seen["dataflow_jit_custom_hash"] {
		t.Fatalf("expected Names to include the custom registration, got %v", names)
	}
	if len(names) != 2 {
		t.Fatalf("expected exactly 2 registered intrinsics, got %d: %v", len(names), names)
	}
}
