//go:build unix

package platform

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"

	"github.com/flier/secheap/pkg/xerrors"
)

// PageSize returns the platform page size, querying the kernel and falling
// back to a conservative compile-time default if the query fails.
func PageSize() int {
	if n := unix.Getpagesize(); n > 0 {
		return n
	}
	return defaultPageSize
}

const defaultPageSize = 4096

// Mapping is a guarded anonymous mapping: a page, followed by the usable
// arena, followed by a page, obtained from a single contiguous mmap call so
// that unmapping is a single operation.
type Mapping struct {
	region []byte // page | arena | page
	page   int
}

// MapArena maps size bytes of anonymous memory flanked by one page on each
// side. size must already be rounded to whatever alignment the caller needs;
// MapArena itself only rounds it up to a whole number of pages.
func MapArena(size int) (*Mapping, error) {
	page := PageSize()
	mapSize := page + roundUpToPage(size, page) + page

	region, err := mmapAnon(mapSize)
	if err != nil {
		return nil, fmt.Errorf("secheap: map arena: %w", err)
	}

	return &Mapping{region: region, page: page}, nil
}

func roundUpToPage(n, page int) int {
	return (n + page - 1) &^ (page - 1)
}

// mmapAnon requests an anonymous private mapping, falling back to mapping
// /dev/zero privately when MAP_ANON isn't usable on this kernel.
func mmapAnon(size int) ([]byte, error) {
	region, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANON)
	if err == nil {
		return region, nil
	}

	if errno, ok := xerrors.AsA[unix.Errno](err); !ok || (errno != unix.ENOSYS && errno != unix.ENODEV) {
		return nil, err
	}

	f, ferr := os.OpenFile("/dev/zero", os.O_RDWR, 0)
	if ferr != nil {
		return nil, fmt.Errorf("%w (anon mmap fallback: %w)", err, ferr)
	}
	defer f.Close()

	return unix.Mmap(int(f.Fd()), 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE)
}

// Arena returns the usable interior slice of the mapping, between the two
// guard pages.
func (m *Mapping) Arena() []byte {
	return m.region[m.page : len(m.region)-m.page]
}

// InstallGuards sets both flanking pages to PROT_NONE so that a linear
// overrun or underrun traps instead of scribbling over neighbouring memory.
// Failure here is advisory: the heap remains usable, just unguarded.
func (m *Mapping) InstallGuards() error {
	lead := m.region[:m.page]
	trail := m.region[len(m.region)-m.page:]

	if err := unix.Mprotect(lead, unix.PROT_NONE); err != nil {
		return fmt.Errorf("secheap: install leading guard page: %w", err)
	}
	if err := unix.Mprotect(trail, unix.PROT_NONE); err != nil {
		return fmt.Errorf("secheap: install trailing guard page: %w", err)
	}
	return nil
}

// Lock requests that the arena (not the guard pages, which may be safely
// paged out since they are never touched) stay resident. Failure is
// advisory.
func (m *Mapping) Lock() error {
	if err := lockResident(m.Arena()); err != nil {
		return fmt.Errorf("secheap: lock arena resident: %w", err)
	}
	return nil
}

// Close unmaps the entire mapping, guard pages included.
func (m *Mapping) Close() error {
	if m.region == nil {
		return nil
	}
	err := unix.Munmap(m.region)
	m.region = nil
	return err
}
