// Package platform is the substrate the secure heap is built on: page-size
// discovery, guarded anonymous mappings, residency locking, core-dump
// exclusion, and constant-zeroisation. Everything in this package is an
// advisory best-effort operation except MapArena itself; see the package
// doc on each function for which failures are fatal and which are not.
package platform

import (
	"runtime"
	"unsafe"
)

// Cleanse overwrites the n bytes at p with zero using a pattern the compiler
// cannot eliminate even though the write has no other observable effect:
// the loop is kept in its own noinline function, and the pointer is kept
// alive with [runtime.KeepAlive] past the last store so that the whole
// write can't be proven dead and folded away by the optimizer.
//
//go:noinline
func Cleanse(p unsafe.Pointer, n int) {
	if n == 0 {
		return
	}

	b := unsafe.Slice((*byte)(p), n)
	for i := range b {
		b[i] = 0
	}

	runtime.KeepAlive(p)
}
