// Package rowalloc allocates and deallocates the byte buffers that back
// rows and dense row arrays conforming to a layout.NativeLayout.
//
// Row buffers are backed by anonymous, private mmap mappings rather
// than the Go heap: a Go-GC'd allocation cannot be freed on demand,
// which is exactly what spec.md's alloc/dealloc contract requires (the
// caller decides when a row dies, not the garbage collector). Page
// granularity also trivially satisfies every alignment this module ever
// asks for, since the largest alignment in play is a pointer width.
package rowalloc

import (
	"unsafe"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// RowAddr is the address of an allocated row or row array. The zero
// value is the "no address" sentinel returned on allocator failure; it
// is never returned as a successful zero-sized allocation (see
// Sentinel).
type RowAddr uintptr

// Sentinel is the well-aligned, non-dereferenceable address returned
// for zero-sized layouts and zero-length arrays. It mirrors Rust's
// NonNull::dangling(): distinguishable from "no address" (it's
// non-zero) but never meant to be read through.
const Sentinel RowAddr = RowAddr(^uintptr(0) &^ 0xfff)

// IsNoAddress reports whether addr is the "no address" sentinel
// returned on allocator failure.
func (a RowAddr) IsNoAddress() bool { return a == 0 }

// footprint computes the total byte size of length contiguous rows of
// the given per-row size/align, mirroring Rust's
// std::alloc::Layout::extend loop: each row is padded up to rowAlign
// before the next one starts. Returns an error on uint64 overflow.
func footprint(rowSize, rowAlign uint32, length uint64) (uint64, error) {
	if length == 0 {
		return 0, nil
	}
	single := uint64(rowSize)
	padded := single
	if rem := padded % uint64(rowAlign); rem != 0 {
		padded += uint64(rowAlign) - rem
	}
	total := padded * (length - 1)
	if length > 1 && total/(length-1) != padded {
		return 0, errors.New("rowalloc: array footprint overflowed uint64")
	}
	total += single
	if total < single {
		return 0, errors.New("rowalloc: array footprint overflowed uint64")
	}
	return total, nil
}

func mmapAnon(size int) (RowAddr, error) {
	data, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANON)
	if err != nil {
		return 0, errors.Wrap(err, "rowalloc: mmap failed")
	}
	return RowAddr(uintptr(unsafe.Pointer(&data[0]))), nil
}

func munmapAnon(addr RowAddr, size int) error {
	data := unsafe.Slice((*byte)(unsafe.Pointer(uintptr(addr))), size)
	if err := unix.Munmap(data); err != nil {
		return errors.Wrap(err, "rowalloc: munmap failed")
	}
	return nil
}

// Alloc allocates a single row. size/align come from
// layout.NativeLayout.Size()/Align(). When isZeroSized is true it
// always succeeds and returns Sentinel.
func Alloc(size, align uint32, isZeroSized bool) (RowAddr, error) {
	if isZeroSized {
		return Sentinel, nil
	}
	return mmapAnon(int(size))
}

// Dealloc releases a row previously returned by Alloc with the same
// size/align/isZeroSized. A no-op for zero-sized layouts.
func Dealloc(addr RowAddr, size, align uint32, isZeroSized bool) error {
	if isZeroSized {
		return nil
	}
	return munmapAnon(addr, int(size))
}

// AllocArray allocates length contiguous rows. Zero-length arrays (or
// arrays of a zero-sized row) always succeed and return Sentinel. An
// overflowing footprint is a fatal layout error the caller should not
// attempt to recover from.
func AllocArray(size, align uint32, isZeroSized bool, length uint64) (RowAddr, error) {
	if isZeroSized || length == 0 {
		return Sentinel, nil
	}
	total, err := footprint(size, align, length)
	if err != nil {
		return 0, err
	}
	return mmapAnon(int(total))
}

// DeallocArray releases an array previously returned by AllocArray with
// the same size/align/isZeroSized/length.
func DeallocArray(addr RowAddr, size, align uint32, isZeroSized bool, length uint64) error {
	if isZeroSized || length == 0 {
		return nil
	}
	total, err := footprint(size, align, length)
	if err != nil {
		return err
	}
	return munmapAnon(addr, int(total))
}
