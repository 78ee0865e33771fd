package arena

import (
	"math/bits"

	"github.com/flier/secheap/internal/debug"
	"github.com/flier/secheap/pkg/xunsafe"
	"github.com/flier/secheap/pkg/zc"
)

// listOf recovers the size-class list that currently owns the block
// starting at offset, by computing the bit index offset would have at
// L_max (as if the arena were split all the way down to it) and walking
// that index up to its nearest present ancestor.
//
// Every address this package ever hands out is the left edge of its own
// block, so every intermediate bit visited before the present ancestor is
// found is a left-child index, hence even; a non-even intermediate bit
// means the offset passed in is not block-aligned, i.e. the caller handed
// us a corrupted or foreign pointer.
func (a *Arena) listOf(offset int) int {
	bit := (a.arenaSize + offset) / a.minSize

	for bit > 0 && !a.present.test(bit) {
		debug.Assert(bit&1 == 0, "listOf: odd bit %d while searching for the owner of offset %d", bit, offset)
		bit >>= 1
	}

	invariant(bit > 0, "listOf: no present ancestor found for offset %d", offset)

	return bits.Len(uint(bit)) - 1
}

// allocate implements the buddy engine's split-down path: find the smallest
// present block at or above the target list, then split it down one level
// at a time until a block of exactly the target width is free.
func (a *Arena) allocate(size int) (xunsafe.Addr[byte], bool) {
	target, ok := a.targetList(size)
	if !ok {
		return 0, false
	}

	source := -1
	for l := target; l >= 0; l-- {
		if a.freelist[l] != 0 {
			source = l
			break
		}
	}
	if source == -1 {
		return 0, false
	}

	level := source
	block := a.popFree(level)

	for level < target {
		offset := block.Sub(a.base)
		bit := bitIndex(offset, level, a.arenaSize)

		a.present.clear(bit)

		left := block
		right := block.ByteAdd(a.actualSizeOf(level + 1))

		a.present.set(bitIndex(offset, level+1, a.arenaSize))
		a.present.set(bitIndex(right.Sub(a.base), level+1, a.arenaSize))

		a.pushFree(level+1, right)

		level++
		block = left
	}

	bit := bitIndex(block.Sub(a.base), target, a.arenaSize)
	a.allocated.set(bit)
	a.used.Add(int64(a.actualSizeOf(target)))

	a.checkInvariants()

	return block, true
}

// free implements the buddy engine's coalesce-up path: release the block,
// then repeatedly try to merge it with its buddy for as long as the buddy
// is itself a whole, free block.
func (a *Arena) free(p xunsafe.Addr[byte]) {
	invariant(a.contains(p), "free: %v is outside the arena", p)

	offset := p.Sub(a.base)
	list := a.listOf(offset)
	bit := bitIndex(offset, list, a.arenaSize)

	invariant(a.present.test(bit), "free: block %v at list %d is not present", p, list)
	invariant(a.allocated.test(bit), "free: block %v at list %d was not allocated", p, list)

	debug.Log(nil, "free", "%v list=%d", zc.Raw(offset, a.actualSizeOf(list)), list)

	a.allocated.clear(bit)
	a.used.Add(-int64(a.actualSizeOf(list)))
	a.pushFree(list, p)

	for list > 0 {
		width := a.actualSizeOf(list)
		buddyOffset := offset ^ width
		buddyBit := bitIndex(buddyOffset, list, a.arenaSize)

		if !a.present.test(buddyBit) || a.allocated.test(buddyBit) {
			break
		}

		buddy := a.base.ByteAdd(buddyOffset)

		a.present.clear(bit)
		a.unlinkFree(p)
		a.present.clear(buddyBit)
		a.unlinkFree(buddy)

		list--
		if buddyOffset < offset {
			offset = buddyOffset
		}
		p = a.base.ByteAdd(offset)
		bit = bitIndex(offset, list, a.arenaSize)

		a.present.set(bit)
		a.pushFree(list, p)
	}

	a.checkInvariants()
}
