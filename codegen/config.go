package codegen

import (
	"strings"

	"github.com/xyproto/env/v2"
)

// NullSigil selects which bit value means "null" in a row's
// nullability bitset, and which byte value NullRow fills an entire row
// with.
type NullSigil uint8

const (
	// NullSigilZero means a 0 bit is null; IsNull inverts the usual
	// sense and NullRow fills rows with 0x00.
	NullSigilZero NullSigil = 0
	// NullSigilOne means a 1 bit is null; NullRow fills rows with
	// 0xFF so every bit of every bitset byte reads null, not just bit 0.
	// This is the default.
	NullSigilOne NullSigil = 1
)

// IsZero reports whether s is NullSigilZero.
func (s NullSigil) IsZero() bool { return s == NullSigilZero }

// IsOne reports whether s is NullSigilOne.
func (s NullSigil) IsOne() bool { return s == NullSigilOne }

// FillByte returns the byte NullRow fills a row's storage with: every
// bit must read null, including every nullable column packed into the
// same bitset byte, so this is 0x00 or 0xFF, never the sigil's own bit
// value.
func (s NullSigil) FillByte() byte {
	if s.IsOne() {
		return 0xFF
	}
	return 0x00
}

// Config controls the Codegen Driver's behavior. The zero value is not
// meaningful; use Default or ConfigFromEnv.
type Config struct {
	// NullSigil selects null-bit polarity; see NullSigil.
	NullSigil NullSigil
	// DebugAssertions enables the extra invariant checks the lowerer
	// can't afford in a release build: readonly-target enforcement on
	// Store/SetNull/CopyRowTo. Disabled by default; release callers pay
	// nothing for a contract violation they're confident can't occur.
	DebugAssertions bool
	// OptimizeLayouts opts into the experimental field-reordering
	// packing path (layout.synthesizeOptimized) instead of the
	// source-order one. Off by default — see DESIGN.md.
	OptimizeLayouts bool
}

// Default returns the release-mode Config: NullSigilOne, debug
// assertions off, layout optimization off.
func Default() Config {
	return Config{NullSigil: NullSigilOne, DebugAssertions: false, OptimizeLayouts: false}
}

// Debug returns a Config identical to Default but with DebugAssertions
// enabled, for use in tests and development builds.
func Debug() Config {
	c := Default()
	c.DebugAssertions = true
	return c
}

// ConfigFromEnv builds a Config from environment variables, falling
// back to Default for anything unset:
//
//	DATAFLOW_JIT_NULL_SIGIL=zero|one
//	DATAFLOW_JIT_DEBUG_ASSERTIONS=<bool>
//	DATAFLOW_JIT_OPTIMIZE_LAYOUTS=<bool>
func ConfigFromEnv() Config {
	cfg := Default()

	if sigil := env.StrOrDefault("DATAFLOW_JIT_NULL_SIGIL", "one"); strings.EqualFold(sigil, "zero") {
		cfg.NullSigil = NullSigilZero
	}
	cfg.DebugAssertions = env.Bool("DATAFLOW_JIT_DEBUG_ASSERTIONS")
	cfg.OptimizeLayouts = env.Bool("DATAFLOW_JIT_OPTIMIZE_LAYOUTS")

	return cfg
}
