//go:build unix && !linux

package platform

import "github.com/flier/secheap/internal/debug"

// ExcludeFromDump has no portable equivalent outside Linux's
// madvise(MADV_DONTDUMP); treated as an advisory failure everywhere else.
func (m *Mapping) ExcludeFromDump() error {
	return debug.Unsupported()
}
