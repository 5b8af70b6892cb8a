package verstore

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"
)

// Pager allocates and frees the page-aligned, zero-filled memory that
// blobs are built from. It is the Go equivalent of the C++
// Behavior::AllocateZeroedPages/FreePages pair.
type Pager interface {
	// AllocateZeroedPages returns a page-aligned, zero-filled slice of
	// exactly pagesCount*pageSize bytes, or an error if the allocation
	// could not be satisfied.
	AllocateZeroedPages(pagesCount int) ([]byte, error)

	// FreePages releases memory previously returned by
	// AllocateZeroedPages. mem must be exactly the slice that was
	// returned (not a sub-slice of it).
	FreePages(mem []byte) error
}

// unixPager allocates blobs as anonymous, private mmap regions. This keeps
// blobs out of the Go garbage collector's scanned heap (they are raw
// bytes interpreted through accessor types, never through pointers the GC
// would need to trace) and gives every blob natural page alignment, which
// the header/index/data layout relies on.
//
// verstore has no persistence non-goal to honor beyond "don't write a
// file": the mapping is MAP_ANON, never backed by a file descriptor.
type unixPager struct{}

// NewUnixPager returns the default production Pager, backed by anonymous
// mmap via golang.org/x/sys/unix.
func NewUnixPager() Pager {
	return unixPager{}
}

func (unixPager) AllocateZeroedPages(pagesCount int) ([]byte, error) {
	if pagesCount <= 0 {
		return nil, fmt.Errorf("verstore: pagesCount must be positive, got %d", pagesCount)
	}

	size := pagesCount * pageSize

	mem, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		return nil, fmt.Errorf("verstore: mmap %d bytes: %w", size, err)
	}

	// MAP_ANON pages are guaranteed zero-filled by the kernel, so no
	// explicit zeroing is required here.
	return mem, nil
}

func (unixPager) FreePages(mem []byte) error {
	if len(mem) == 0 {
		return nil
	}

	if err := unix.Munmap(mem); err != nil {
		return fmt.Errorf("verstore: munmap: %w", err)
	}

	return nil
}

// heapPager is a pure-Go fallback Pager for platforms or test builds where
// mmap is unavailable or undesirable (e.g. short-lived unit tests that
// would rather not touch the kernel's VM subsystem at all). Memory is
// plain Go-heap allocated and page-aligned by over-allocating and slicing.
type heapPager struct{}

// NewHeapPager returns a Pager that serves pages from the Go heap instead
// of mmap. Useful in tests and in environments where mmap is restricted.
func NewHeapPager() Pager {
	return heapPager{}
}

func (heapPager) AllocateZeroedPages(pagesCount int) ([]byte, error) {
	if pagesCount <= 0 {
		return nil, fmt.Errorf("verstore: pagesCount must be positive, got %d", pagesCount)
	}

	size := pagesCount * pageSize

	// Over-allocate by one page so we can carve out a page-aligned window
	// regardless of where the Go allocator placed the backing array.
	raw := make([]byte, size+pageSize)

	addr := uintptr(unsafe.Pointer(&raw[0]))
	offset := (pageSize - int(addr%pageSize)) % pageSize

	return raw[offset : offset+size : offset+size], nil
}

func (heapPager) FreePages(mem []byte) error {
	// The Go garbage collector reclaims heap-backed pages on its own;
	// there is nothing to release explicitly.
	_ = mem
	return nil
}
