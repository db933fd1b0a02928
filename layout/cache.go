package layout

import (
	"sync"

	"github.com/arc-language/dataflow-jit/ir"
	"github.com/arc-language/dataflow-jit/target"
)

// NativeLayoutCache memoizes the NativeLayout synthesized for each
// LayoutId, consulting the embedder's ir.LayoutCache at most once per
// id. Entries are never evicted: layouts are small, the set of distinct
// ids a single codegen run touches is bounded by the IR it's compiling,
// and a stale entry would be a correctness bug, not a memory one.
//
// Safe for concurrent use: spec.md's concurrency model allows multiple
// function lowerings to share one cache.
type NativeLayoutCache struct {
	target target.Description
	source ir.LayoutCache

	mu    sync.Mutex
	cache map[ir.LayoutId]*NativeLayout
}

// NewNativeLayoutCache builds a cache over source, synthesizing layouts
// for the given target on first request.
func NewNativeLayoutCache(source ir.LayoutCache, td target.Description) *NativeLayoutCache {
	return &NativeLayoutCache{
		target: td,
		source: source,
		cache:  make(map[ir.LayoutId]*NativeLayout),
	}
}

// Get returns the NativeLayout for id, synthesizing and memoizing it on
// first access. optimize selects the packing algorithm: false uses the
// source-order algorithm (Synthesize), true opts into the experimental
// field-reordering pass (synthesizeOptimized). Entries are keyed by id
// alone: the optimize value of the first Get for an id decides how its
// layout is built, and later calls for that id return the memoized
// layout whatever optimize they pass. Defaulting optimize to false is
// itself a decision recorded in DESIGN.md.
func (c *NativeLayoutCache) Get(id ir.LayoutId, optimize bool) *NativeLayout {
	c.mu.Lock()
	defer c.mu.Unlock()

	if nl, ok := c.cache[id]; ok {
		return nl
	}

	row := c.source.Get(id)
	var nl *NativeLayout
	if optimize {
		nl = synthesizeOptimized(row, c.target)
	} else {
		nl = Synthesize(row, c.target)
	}
	c.cache[id] = nl
	return nl
}

// RowLayoutOf returns the logical RowLayout behind id, straight from the
// underlying ir.LayoutCache.
func (c *NativeLayoutCache) RowLayoutOf(id ir.LayoutId) ir.RowLayout {
	return c.source.Get(id)
}

// Target returns the target.Description this cache synthesizes layouts
// for.
func (c *NativeLayoutCache) Target() target.Description {
	return c.target
}
