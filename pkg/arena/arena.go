//go:build go1.22

// Package arena implements a binary buddy allocator over a single guarded,
// page-aligned anonymous mapping: it splits blocks down to serve an
// allocation request, and coalesces buddies back together on free, tracking
// ownership with two host-allocated bitmaps (present, allocated) and a set
// of intrusive free lists threaded through the free blocks themselves.
//
// Nothing in this package is safe for concurrent use. Callers that need a
// shared heap serialize access to it themselves; see pkg/secheap, which
// wraps an Arena in a single lock and exposes the process-wide allocator.
package arena

import (
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/flier/secheap/internal/debug"
	"github.com/flier/secheap/internal/platform"
	"github.com/flier/secheap/pkg/opt"
	"github.com/flier/secheap/pkg/xunsafe"
)

// Sentinel errors Init wraps its failures in, so callers can classify them
// with errors.Is without parsing messages.
var (
	// ErrConfiguration means the requested size or minSize was rejected
	// before any memory was touched.
	ErrConfiguration = errors.New("secheap: invalid arena configuration")
	// ErrResourceExhausted means the platform substrate could not provide
	// the underlying mapping.
	ErrResourceExhausted = errors.New("secheap: arena mapping failed")
)

// Status reports how far Init got.
type Status int

const (
	// StatusFailed means Init could not obtain usable memory at all; no
	// Arena was produced.
	StatusFailed Status = 0
	// StatusOK means the arena is fully hardened: mapped, guarded, locked
	// resident, and excluded from core dumps.
	StatusOK Status = 1
	// StatusPartial means the arena is usable but one or more advisory
	// hardening steps (guard pages, mlock, MADV_DONTDUMP) failed.
	StatusPartial Status = 2
)

func (s Status) String() string {
	switch s {
	case StatusFailed:
		return "failed"
	case StatusOK:
		return "ok"
	case StatusPartial:
		return "partial"
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}

// Arena is a single buddy-managed region of secure memory.
type Arena struct {
	_ xunsafe.NoCopy

	mapping *platform.Mapping
	base    xunsafe.Addr[byte]

	arenaSize int
	minSize   int
	lMax      int

	present   *bitTable
	allocated *bitTable
	freelist  []xunsafe.Addr[byte]

	used atomic.Int64
}

// Init maps and initializes a new arena of size bytes, with a leaf size
// class of at least minSize (raised as needed to hold a free-list link
// node). Both must be powers of two.
//
// On any hard failure Init returns (nil, StatusFailed, err) having made no
// lasting change. On success it returns StatusOK, or StatusPartial if the
// arena is usable but one of the advisory hardening steps failed; the
// caller decides whether StatusPartial is acceptable for its threat model.
func Init(size, minSize int) (*Arena, Status, error) {
	if size <= 0 || minSize <= 0 {
		return nil, StatusFailed, fmt.Errorf("%w: arena and minimum sizes must be positive", ErrConfiguration)
	}
	if nextPow2(size) != size {
		return nil, StatusFailed, fmt.Errorf("%w: arena size %d is not a power of two", ErrConfiguration, size)
	}
	if nextPow2(minSize) != minSize {
		return nil, StatusFailed, fmt.Errorf("%w: minimum size %d is not a power of two", ErrConfiguration, minSize)
	}

	for minSize < minFreeSize {
		minSize <<= 1
	}
	if minSize > size {
		return nil, StatusFailed, fmt.Errorf("%w: minimum size %d exceeds arena size %d", ErrConfiguration, minSize, size)
	}

	mapping, err := platform.MapArena(size)
	if err != nil {
		return nil, StatusFailed, fmt.Errorf("%w: %v", ErrResourceExhausted, err)
	}

	region := mapping.Arena()
	if len(region) < size {
		mapping.Close()
		return nil, StatusFailed, fmt.Errorf("%w: mapped arena is %d bytes, wanted %d", ErrResourceExhausted, len(region), size)
	}

	lMax := log2(size / minSize)
	bittableSize := 1 << uint(lMax+1)

	a := &Arena{
		mapping:   mapping,
		base:      xunsafe.AddrOf(&region[0]),
		arenaSize: size,
		minSize:   minSize,
		lMax:      lMax,
		present:   newBitTable(bittableSize),
		allocated: newBitTable(bittableSize),
		freelist:  make([]xunsafe.Addr[byte], lMax+1),
	}

	a.present.set(bitIndex(0, 0, a.arenaSize))
	a.pushFree(0, a.base)

	status := StatusOK
	if gerr := mapping.InstallGuards(); gerr != nil {
		status = StatusPartial
		debug.Log(nil, "init", "guard pages not installed: %v", gerr)
	}
	if lerr := mapping.Lock(); lerr != nil {
		status = StatusPartial
		debug.Log(nil, "init", "arena not locked resident: %v", lerr)
	}
	if derr := mapping.ExcludeFromDump(); derr != nil {
		status = StatusPartial
		debug.Log(nil, "init", "arena not excluded from core dumps: %v", derr)
	}

	return a, status, nil
}

// Done tears the arena down. It refuses (returning false) while any bytes
// are still allocated from it; the caller must free everything first. Done
// is idempotent: calling it again after a successful teardown is a no-op
// that returns true.
func (a *Arena) Done() bool {
	if a.mapping == nil {
		return true
	}
	if a.used.Load() != 0 {
		return false
	}

	a.mapping.Close()
	a.mapping = nil
	a.freelist = nil
	a.present = nil
	a.allocated = nil

	return true
}

// Malloc allocates size bytes, returning the block's address and true, or
// (0, false) if the request cannot be served (too large, or the heap is
// full at the required size class). size <= 0 is served from the smallest
// size class.
func (a *Arena) Malloc(size int) (xunsafe.Addr[byte], bool) {
	return a.allocate(size)
}

// TryMalloc is Malloc with an [opt.Option] result, for callers that prefer
// that idiom to the (value, ok) pair.
func (a *Arena) TryMalloc(size int) opt.Option[xunsafe.Addr[byte]] {
	p, ok := a.allocate(size)
	if !ok {
		return opt.None[xunsafe.Addr[byte]]()
	}
	return opt.Some(p)
}

// Free releases the block at p, which must have come from Malloc on this
// arena and still be allocated. Coalesces with the block's buddy chain as
// far as possible.
func (a *Arena) Free(p xunsafe.Addr[byte]) {
	a.free(p)
}

// Used returns the number of bytes currently allocated from the arena. Safe
// to call without external synchronization: it is a single atomic load.
func (a *Arena) Used() int64 {
	return a.used.Load()
}

// ActualSize returns the usable size of the size class backing p.
func (a *Arena) ActualSize(p xunsafe.Addr[byte]) int {
	return a.actualSizeOf(a.listOf(p.Sub(a.base)))
}

// Allocated reports whether p falls inside this arena. It is a residency
// predicate, not an "is currently handed out" one: it exists to let a
// caller distinguish an arena address from an ordinary heap address and
// route to the right deallocator, not to answer whether p is presently
// free or in use. An alias for [Arena.Contains].
func (a *Arena) Allocated(p xunsafe.Addr[byte]) bool {
	return a.contains(p)
}

// Contains reports whether p falls within this arena's mapped region.
func (a *Arena) Contains(p xunsafe.Addr[byte]) bool {
	return a.contains(p)
}

func (a *Arena) contains(p xunsafe.Addr[byte]) bool {
	if a.mapping == nil {
		return false
	}
	end := a.base.ByteAdd(a.arenaSize)
	return p >= a.base && p < end
}

// Size returns the total usable arena size.
func (a *Arena) Size() int { return a.arenaSize }

// MinSize returns the leaf size class width, after any rounding Init did to
// fit a free-list link node.
func (a *Arena) MinSize() int { return a.minSize }

// LMax returns the deepest (smallest-block) size-class list index.
func (a *Arena) LMax() int { return a.lMax }
