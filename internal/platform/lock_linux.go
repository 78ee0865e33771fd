//go:build linux

package platform

import "golang.org/x/sys/unix"

// lockResident prefers mlock2(MLOCK_ONFAULT), which only wires the pages in
// as they're first touched, over the unconditional mlock(2): the arena is
// typically sparse early on, and ONFAULT avoids paying to fault in the
// whole region up front. Kernels too old to know MLOCK_ONFAULT reject it
// with ENOSYS or EINVAL; fall back to plain Mlock.
func lockResident(b []byte) error {
	if err := unix.Mlock2(b, unix.MLOCK_ONFAULT); err == nil {
		return nil
	}
	return unix.Mlock(b)
}
