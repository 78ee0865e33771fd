package arena

import (
	"fmt"

	"github.com/flier/secheap/internal/debug"
)

// invariant panics unconditionally, in both debug and release builds, when
// cond is false.
//
// This is distinct from [debug.Assert]: a failure here means a structural
// invariant of the bitmaps or free lists has already been violated by a
// caller (dangling pointer, double free, a write that crossed a guard page
// without trapping). There is no way to recover the bookkeeping from this
// state, so unlike heap-full (a normal nil return) this always aborts, even
// in a release build — see spec §7.6 and §4.3/§4.4's "structural invariants,
// not runtime-recoverable conditions."
func invariant(cond bool, format string, args ...any) {
	if !cond {
		panic(fmt.Sprintf("secheap: invariant violated: "+format, args...) + "\n" + debug.Stack(2))
	}
}
