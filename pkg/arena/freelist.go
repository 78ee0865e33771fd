package arena

import (
	"unsafe"

	"github.com/flier/secheap/pkg/xunsafe"
)

// linkNode is threaded through the first bytes of every free block. next
// chains to the following free block of the same size class (0 if this is
// the last one); pPrev is the address of the slot that must be overwritten
// on unlink — either another node's next field, or the free-list head cell
// itself — which is what lets unlink run in O(1) without walking the list.
type linkNode struct {
	next  xunsafe.Addr[byte]
	pPrev uintptr
}

// minFreeSize is the smallest block minsize can be raised to: a free block
// must be large enough to hold its own link node.
var minFreeSize = int(unsafe.Sizeof(linkNode{}))

func nodeAt(p xunsafe.Addr[byte]) *linkNode {
	return (*linkNode)(unsafe.Pointer(p.AssertValid()))
}

func slotLoad(slot uintptr) xunsafe.Addr[byte] {
	return *(*xunsafe.Addr[byte])(unsafe.Pointer(slot))
}

func slotStore(slot uintptr, v xunsafe.Addr[byte]) {
	*(*xunsafe.Addr[byte])(unsafe.Pointer(slot)) = v
}

func headSlot(a *Arena, list int) uintptr {
	return uintptr(unsafe.Pointer(&a.freelist[list]))
}

// pushFree inserts p at the head of size class list.
func (a *Arena) pushFree(list int, p xunsafe.Addr[byte]) {
	old := a.freelist[list]

	n := nodeAt(p)
	n.next = old
	n.pPrev = headSlot(a, list)

	if old != 0 {
		invariant(a.contains(old), "pushFree: head %v of list %d is outside the arena", old, list)
		nodeAt(old).pPrev = uintptr(p)
	}

	a.freelist[list] = p
}

// unlinkFree removes p from whichever size class it currently heads or
// belongs to the middle of.
func (a *Arena) unlinkFree(p xunsafe.Addr[byte]) {
	n := nodeAt(p)

	invariant(n.pPrev != 0, "unlinkFree: node %v has a nil back-pointer", p)

	next := n.next
	slotStore(n.pPrev, next)

	if next != 0 {
		invariant(a.contains(next), "unlinkFree: successor %v of node %v is outside the arena", next, p)
		nodeAt(next).pPrev = n.pPrev
	}

	n.next = 0
	n.pPrev = 0
}

// popFree removes and returns the head of size class list, or 0 if empty.
func (a *Arena) popFree(list int) xunsafe.Addr[byte] {
	p := a.freelist[list]
	if p == 0 {
		return 0
	}
	a.unlinkFree(p)
	return p
}
