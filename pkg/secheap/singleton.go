package secheap

import (
	"sync"
	"sync/atomic"
	"unsafe"

	"github.com/flier/secheap/internal/platform"
)

// global is the process-wide heap the package-level functions operate on.
// Swapping it (Init, Done) is serialized by globalMu; reading it is a
// single atomic load, which is what lets Initialized and Used stay
// lock-free fast paths even across the package boundary.
var (
	globalMu sync.Mutex
	global   atomic.Pointer[Heap]
)

// Init constructs the process-wide secure heap. Calling it while the heap
// is already live is an error; call Done first.
func Init(size, minSize int) (Status, error) {
	globalMu.Lock()
	defer globalMu.Unlock()

	if h := global.Load(); h.Initialized() {
		return StatusFailed, errf("Init", KindAlreadyInitialized, nil)
	}

	h, status, err := New(size, minSize)
	if err != nil {
		return StatusFailed, err
	}

	global.Store(h)

	return status, nil
}

// Done tears down the process-wide heap. Refuses, returning false, while
// any allocation from it is still outstanding. Idempotent.
func Done() bool {
	globalMu.Lock()
	defer globalMu.Unlock()

	h := global.Load()
	if h == nil {
		return true
	}
	if !h.Done() {
		return false
	}

	global.Store(nil)

	return true
}

// Initialized reports whether the process-wide heap is currently live.
// Lock-free.
func Initialized() bool {
	return global.Load().Initialized()
}

// Used returns the number of bytes currently allocated from the
// process-wide heap. Lock-free.
func Used() int64 {
	h := global.Load()
	if h == nil {
		return 0
	}
	return h.Used()
}

// Malloc allocates size bytes from the process-wide heap, falling back to
// the host allocator if it isn't initialized; see [Heap.Malloc].
func Malloc(size int) (unsafe.Pointer, error) {
	h := global.Load()
	if h == nil {
		return hostAllocator{}.malloc(size)
	}
	return h.Malloc(size)
}

// Zalloc allocates size zeroed bytes from the process-wide heap.
func Zalloc(size int) (unsafe.Pointer, error) {
	p, err := Malloc(size)
	if err != nil {
		return nil, err
	}
	if size > 0 {
		platform.Cleanse(p, size)
	}
	return p, nil
}

// Free zeroises and releases p back to the process-wide heap. A nil p is a
// no-op; see [Heap.Free].
func Free(p unsafe.Pointer) error {
	if p == nil {
		return nil
	}
	h := global.Load()
	if h == nil {
		hostAllocator{}.free(p)
		return nil
	}
	return h.Free(p)
}

// ClearFree is Free, except the host-allocator path cleanses only n bytes;
// see [Heap.ClearFree].
func ClearFree(p unsafe.Pointer, n int) error {
	if p == nil {
		return nil
	}
	h := global.Load()
	if h == nil {
		hostAllocator{}.clearFree(p, n)
		return nil
	}
	return h.ClearFree(p, n)
}

// Allocated reports whether p is resident in the process-wide heap's
// arena; see [Heap.Allocated].
func Allocated(p unsafe.Pointer) bool {
	h := global.Load()
	if h == nil {
		return false
	}
	return h.Allocated(p)
}

// ActualSize returns the usable size of the block at p.
func ActualSize(p unsafe.Pointer) (int, error) {
	h := global.Load()
	if h == nil {
		return 0, errf("ActualSize", KindNotInitialized, nil)
	}
	return h.ActualSize(p)
}
