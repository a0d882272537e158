//go:build unix

package mem

import (
	"unsafe"

	"golang.org/x/sys/unix"
)

const pageSize = 4096

// osMap reserves length bytes of zeroed, page-aligned, read-write memory
// from the host. huge requests transparent huge pages where the platform
// offers them; the request is advisory and failure is ignored.
func osMap(length uint64, huge bool) (unsafe.Pointer, error) {
	b, err := unix.Mmap(-1, 0, int(length),
		unix.PROT_READ|unix.PROT_WRITE,
		unix.MAP_PRIVATE|unix.MAP_ANON)
	if err != nil {
		return nil, err
	}
	if huge {
		_ = madviseHuge(b)
	}
	return unsafe.Pointer(&b[0]), nil
}

// osUnmap releases a mapping previously obtained from osMap.
func osUnmap(ptr unsafe.Pointer, length uint64) error {
	return unix.Munmap(unsafe.Slice((*byte)(ptr), length))
}

// pageRound rounds n up to a whole number of pages.
func pageRound(n uint64) uint64 {
	return (n + pageSize - 1) &^ uint64(pageSize-1)
}
