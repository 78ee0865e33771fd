//go:build linux

package platform

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// ExcludeFromDump hints the kernel to omit the arena from core dumps via
// madvise(MADV_DONTDUMP). Failure is advisory.
func (m *Mapping) ExcludeFromDump() error {
	if err := unix.Madvise(m.Arena(), unix.MADV_DONTDUMP); err != nil {
		return fmt.Errorf("secheap: exclude arena from core dumps: %w", err)
	}
	return nil
}
