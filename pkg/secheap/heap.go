// Package secheap is the process-local secure heap façade: a single,
// guarded, zeroise-on-free region for holding cryptographic secrets. The
// ten package-level functions (Init, Done, Initialized, Malloc, Zalloc,
// Free, ClearFree, Allocated, Used, ActualSize) operate on one process-wide
// singleton, built the same way any other global-state-as-factory service
// in this codebase is: construct a private instance, stash it behind a
// lock, expose it through package functions.
//
// Heap itself is also exported so tests, or callers that want more than
// one independent secure region, can construct their own with [New]
// instead of going through the singleton.
package secheap

import (
	"errors"
	"sync"
	"sync/atomic"
	"unsafe"

	"github.com/flier/secheap/internal/debug"
	"github.com/flier/secheap/internal/platform"
	"github.com/flier/secheap/internal/xsync"
	"github.com/flier/secheap/pkg/arena"
	"github.com/flier/secheap/pkg/xunsafe"
)

// Status mirrors [arena.Status]: how far Init got hardening the heap.
type Status = arena.Status

const (
	StatusFailed  = arena.StatusFailed
	StatusOK      = arena.StatusOK
	StatusPartial = arena.StatusPartial
)

// Heap is one secure allocation arena plus the lock that serializes all
// access to it. The zero Heap is not usable; construct one with [New].
type Heap struct {
	mu    sync.RWMutex
	arena *arena.Arena
	live  atomic.Bool
}

// heaps tracks every Heap created by New, independent of the package
// singleton, purely as a diagnostic: a process that leaks a *Heap (never
// calls Done on it) can enumerate the survivors with [Heaps] at shutdown.
var heaps xsync.Set[*Heap]

// New maps and initializes an independent secure heap of size bytes with a
// leaf size class of minSize. Most programs want the package-level
// singleton (Init) instead; New exists for tests and for callers that
// genuinely need more than one isolated region.
func New(size, minSize int) (*Heap, Status, error) {
	a, status, err := arena.Init(size, minSize)
	if err != nil {
		return nil, StatusFailed, errf("New", classify(err), err)
	}

	h := &Heap{arena: a}
	h.live.Store(true)
	heaps.Store(h)

	debug.Log(nil, "New", "heap %p: size=%d minsize=%d status=%v", h, a.Size(), a.MinSize(), status)

	return h, status, nil
}

// Heaps iterates every live heap created via New.
func Heaps(yield func(*Heap) bool) {
	for h := range heaps.All() {
		if !yield(h) {
			return
		}
	}
}

// classify turns a low-level arena error into the façade's recoverable
// error taxonomy. arena.Init wraps every failure in one of its two sentinel
// errors, so this is a plain errors.Is dispatch.
func classify(err error) Kind {
	switch {
	case errors.Is(err, arena.ErrResourceExhausted):
		return KindResourceExhausted
	default:
		return KindConfiguration
	}
}

// Initialized reports whether the heap is currently live. Lock-free: a
// single atomic load, safe to call from any goroutine at any time.
func (h *Heap) Initialized() bool {
	return h != nil && h.live.Load()
}

// Used returns the number of bytes currently allocated from the heap.
// Lock-free, forwarding straight to the arena's own atomic counter.
func (h *Heap) Used() int64 {
	if !h.Initialized() {
		return 0
	}
	return h.arena.Used()
}

// Done tears the heap down, refusing while any allocation is outstanding.
// Idempotent: calling Done on an already-torn-down heap returns true.
func (h *Heap) Done() bool {
	if !h.live.Load() {
		return true
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.live.Load() {
		return true
	}
	if !h.arena.Done() {
		return false
	}

	h.live.Store(false)
	heaps.Delete(h)

	return true
}

// Malloc allocates size bytes from the heap. A heap that isn't live falls
// back to the host allocator rather than failing, matching the rest of the
// façade: Malloc only ever returns an error for a request the heap
// understood and couldn't serve.
func (h *Heap) Malloc(size int) (unsafe.Pointer, error) {
	if !h.live.Load() {
		return hostAllocator{}.malloc(size)
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	return h.malloc(size)
}

// malloc assumes h.mu is already held and h.arena is live.
func (h *Heap) malloc(size int) (unsafe.Pointer, error) {
	addr, ok := h.arena.Malloc(size)
	if !ok {
		if size > h.arena.Size() {
			return nil, errf("Malloc", KindInvalidSize, nil)
		}
		return nil, errf("Malloc", KindHeapFull, nil)
	}

	return unsafe.Pointer(addr.AssertValid()), nil
}

// Zalloc is Malloc followed by zeroing the first size bytes of the result.
func (h *Heap) Zalloc(size int) (unsafe.Pointer, error) {
	p, err := h.Malloc(size)
	if err != nil {
		return nil, err
	}
	if size > 0 {
		platform.Cleanse(p, size)
	}
	return p, nil
}

// Free zeroises the block at p and returns it to the heap. A nil p is a
// no-op. A pointer this heap didn't hand out — including any pointer at
// all when the heap isn't live — is routed to the host allocator instead
// of rejected: see [allocator]. Freeing a pointer this heap did hand out
// twice, or that was never allocated from it, is a fatal programming error
// and aborts the process rather than returning an error — see
// [arena.Arena.Free].
func (h *Heap) Free(p unsafe.Pointer) error {
	if p == nil {
		return nil
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	h.allocatorFor(p).free(p)

	return nil
}

// free assumes h.mu is already held and p is resident in h.arena.
func (h *Heap) free(p unsafe.Pointer) {
	addr := xunsafe.Addr[byte](uintptr(p))
	size := h.arena.ActualSize(addr)
	platform.Cleanse(p, size)
	h.arena.Free(addr)
}

// ClearFree is Free, except that on the host-allocator path — a pointer
// this heap didn't hand out, or an uninitialized heap — there is no
// bookkeeping to recover a block size from, so the caller must supply the
// number of bytes to cleanse before release. On the arena path n is
// ignored: the arena always knows the block's actual size and cleanses
// all of it, exactly like Free.
func (h *Heap) ClearFree(p unsafe.Pointer, n int) error {
	if p == nil {
		return nil
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	h.allocatorFor(p).clearFree(p, n)

	return nil
}

// clearFree assumes h.mu is already held and p is resident in h.arena.
func (h *Heap) clearFree(p unsafe.Pointer, n int) {
	h.free(p)
}

// allocatorFor returns the allocator that owns p: h itself if p is
// resident in the arena, or hostAllocator for anything else, including
// every pointer when the heap isn't live. Assumes h.mu is already held.
func (h *Heap) allocatorFor(p unsafe.Pointer) allocator {
	if !h.live.Load() {
		return hostAllocator{}
	}
	if !h.arena.Contains(xunsafe.Addr[byte](uintptr(p))) {
		return hostAllocator{}
	}
	return h
}

// Allocated reports whether p is resident in this heap's arena. This is a
// residency predicate, not an "is currently handed out" one: it stays true
// for a pointer after it's freed, since the pointer is still inside the
// arena, and only distinguishes arena addresses from host addresses so
// callers can tell which deallocator owns a pointer.
func (h *Heap) Allocated(p unsafe.Pointer) bool {
	if p == nil || !h.live.Load() {
		return false
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	return h.arena.Allocated(xunsafe.Addr[byte](uintptr(p)))
}

// ActualSize returns the usable size of the block at p. Returns a
// KindInvalidSize error for a pointer this heap doesn't own, rather than
// panicking: unlike Free, this is a read-only query callers may use to
// introspect a pointer of uncertain provenance.
func (h *Heap) ActualSize(p unsafe.Pointer) (int, error) {
	if !h.live.Load() {
		return 0, errf("ActualSize", KindNotInitialized, nil)
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	addr := xunsafe.Addr[byte](uintptr(p))
	if !h.arena.Contains(addr) {
		return 0, errf("ActualSize", KindInvalidSize, nil)
	}
	return h.arena.ActualSize(addr), nil
}
