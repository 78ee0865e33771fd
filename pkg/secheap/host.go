package secheap

import (
	"unsafe"

	"github.com/flier/secheap/internal/platform"
)

// allocator is the dispatch target for the façade's public operations: a
// request for a pointer this heap doesn't own (or a heap that was never
// initialized) falls through to [hostAllocator] instead of failing.
// Mirrors the teacher's Allocator pattern in pkg/arena, where both Arena
// and Recycled satisfy one interface; here the two implementations are
// *Heap itself and hostAllocator.
type allocator interface {
	malloc(size int) (unsafe.Pointer, error)
	free(p unsafe.Pointer)
	clearFree(p unsafe.Pointer, n int)
}

var (
	_ allocator = (*Heap)(nil)
	_ allocator = hostAllocator{}
)

// hostAllocator backs every façade operation performed on a pointer that
// isn't resident in any secure arena: an uninitialized heap, or a pointer
// this heap never handed out. It has no state of its own and tracks no
// block sizes, which is why clearFree can only cleanse the caller-supplied
// n bytes rather than a size recovered from bookkeeping.
type hostAllocator struct{}

func (hostAllocator) malloc(size int) (unsafe.Pointer, error) {
	if size <= 0 {
		return unsafe.Pointer(new(byte)), nil
	}
	return unsafe.Pointer(&make([]byte, size)[0]), nil
}

func (hostAllocator) free(p unsafe.Pointer) {
	// Nothing to release: the block is ordinary Go-runtime memory, reclaimed
	// by the garbage collector once the caller drops the last reference.
}

func (hostAllocator) clearFree(p unsafe.Pointer, n int) {
	if n > 0 {
		platform.Cleanse(p, n)
	}
}
