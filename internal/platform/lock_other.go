//go:build unix && !linux

package platform

import "golang.org/x/sys/unix"

// lockResident has no portable first-fault-only equivalent outside Linux's
// mlock2(MLOCK_ONFAULT); every page is locked unconditionally.
func lockResident(b []byte) error {
	return unix.Mlock(b)
}
