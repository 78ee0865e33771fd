//go:build go1.20

package xunsafe

import (
	"fmt"
	"unsafe"

	"github.com/flier/secheap/pkg/xunsafe/layout"
)

// Addr is a typed address: a uintptr tagged with the type of the value it
// points to, so that arithmetic on it can be scaled by sizeof(T) the way
// pointer arithmetic in C is.
//
// Unlike a real pointer, an Addr is not traced by the garbage collector and
// does not keep the memory it points to alive. It is meant for arithmetic
// over memory owned by something else (an arena, a mapped region) that
// already has its own lifetime.
type Addr[T any] uintptr

// AddrOf returns the address of p.
func AddrOf[T any](p *T) Addr[T] {
	return Addr[T](unsafe.Pointer(p))
}

// EndOf returns the address one past the end of s.
func EndOf[T any](s []T) Addr[T] {
	return AddrOf(unsafe.SliceData(s)).Add(len(s))
}

// AssertValid casts this address back to a pointer.
//
// Returns nil if the address is zero.
func (a Addr[T]) AssertValid() *T {
	if a == 0 {
		return nil
	}
	return (*T)(unsafe.Pointer(uintptr(a)))
}

// Add adds n elements of T to this address.
func (a Addr[T]) Add(n int) Addr[T] {
	return a.ByteAdd(n * layout.Size[T]())
}

// ByteAdd adds a raw byte offset to this address, bypassing the size of T.
func (a Addr[T]) ByteAdd(n int) Addr[T] {
	return Addr[T](int(a) + n)
}

// Sub computes the number of Ts between b and a (a - b, scaled by sizeof(T)).
func (a Addr[T]) Sub(b Addr[T]) int {
	return int(a-b) / layout.Size[T]()
}

// Padding returns the number of bytes that must be added to this address to
// reach the next multiple of align.
func (a Addr[T]) Padding(align int) int {
	return layout.Padding(int(a), align)
}

// RoundUpTo rounds this address up to the next multiple of align.
func (a Addr[T]) RoundUpTo(align int) Addr[T] {
	return Addr[T](layout.RoundUp(int(a), align))
}

// SignBit returns the value of the highest bit of this address.
func (a Addr[T]) SignBit() bool {
	return a>>(unsafe.Sizeof(a)*8-1) != 0
}

// SignBitMask returns an address that is all-zero or all-one depending on
// whether the sign bit is set, suitable for use as a mask.
func (a Addr[T]) SignBitMask() Addr[T] {
	if a.SignBit() {
		return ^Addr[T](0)
	}
	return 0
}

// ClearSignBit returns this address with its highest bit cleared.
func (a Addr[T]) ClearSignBit() Addr[T] {
	return a &^ (Addr[T](1) << (unsafe.Sizeof(a)*8 - 1))
}

// String implements [fmt.Stringer].
func (a Addr[T]) String() string {
	return fmt.Sprintf("%#x", uintptr(a))
}
