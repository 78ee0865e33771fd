//go:build !unix

package platform

import (
	"errors"

	"github.com/flier/secheap/internal/debug"
)

// PageSize falls back to the compile-time default on platforms without a
// page-size query wired up.
func PageSize() int { return defaultPageSize }

const defaultPageSize = 4096

// Mapping is unusable on non-unix platforms: there is no guarded anonymous
// mapping primitive wired up for them, so MapArena below is a hard failure
// and init() rewinds without changing any state, per the configuration/
// resource-exhaustion error kinds.
type Mapping struct{}

// MapArena always fails: no mmap/mprotect/mlock substrate is wired up for
// this platform.
func MapArena(int) (*Mapping, error) {
	return nil, errors.New("secheap: guarded memory mapping is not supported on this platform")
}

func (m *Mapping) Arena() []byte          { return nil }
func (m *Mapping) InstallGuards() error   { return debug.Unsupported() }
func (m *Mapping) Lock() error            { return debug.Unsupported() }
func (m *Mapping) ExcludeFromDump() error { return debug.Unsupported() }
func (m *Mapping) Close() error           { return nil }
