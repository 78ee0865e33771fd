package arena

import (
	"github.com/flier/secheap/internal/debug"
	"github.com/flier/secheap/pkg/xunsafe"
)

// checkInvariants walks the entire bit tree and free-list registry and
// verifies the properties that should hold after every mutation. It is
// O(bittable_size) and is only ever run in a debug build, from the tail of
// allocate and free; the O(1) structural checks that guard individual
// bitmap and free-list operations (see bitmap.go, freelist.go) run
// unconditionally in every build.
func (a *Arena) checkInvariants() {
	if !debug.Enabled {
		return
	}

	bittableSize := 1 << uint(a.lMax+1)
	inFreelist := make(map[int]bool, bittableSize)

	for list, head := range a.freelist {
		seen := map[xunsafe.Addr[byte]]bool{}
		for p := head; p != 0; p = nodeAt(p).next {
			debug.Assert(a.contains(p), "checkInvariants: free-list[%d] contains out-of-arena node %v", list, p)
			debug.Assert(!seen[p], "checkInvariants: free-list[%d] cycles back to %v", list, p)
			seen[p] = true

			bit := bitIndex(p.Sub(a.base), list, a.arenaSize)

			debug.Assert(a.present.test(bit), "checkInvariants: free-list[%d] node %v is not present", list, p)
			debug.Assert(!a.allocated.test(bit), "checkInvariants: free-list[%d] node %v is marked allocated", list, p)

			inFreelist[bit] = true
		}
	}

	var used int64

	for bit := 1; bit < bittableSize; bit++ {
		list := log2(bit)
		present := a.present.test(bit)
		allocated := a.allocated.test(bit)

		debug.Assert(!allocated || present, "checkInvariants: bit %d is allocated but not present", bit)
		debug.Assert(!present || allocated || inFreelist[bit], "checkInvariants: bit %d is free but missing from its free list", bit)

		if present && bit > 1 {
			parent := bit >> 1
			debug.Assert(!a.present.test(parent), "checkInvariants: bit %d and its parent %d are both present", bit, parent)
		}

		if present && !allocated && bit > 1 && bit < bittableSize/2 {
			sibling := bit ^ 1
			debug.Assert(!a.present.test(sibling) || a.allocated.test(sibling),
				"checkInvariants: free buddies %d and %d were not coalesced", bit, sibling)
		}

		if allocated {
			used += int64(a.arenaSize >> uint(list))
		}
	}

	debug.Assert(used == a.used.Load(), "checkInvariants: used accumulator is %d, bit scan computed %d", a.used.Load(), used)
}
