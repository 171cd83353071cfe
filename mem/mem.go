// Package mem reserves page-granular memory for the managed heap directly
// from the operating system. The collector keeps all object storage in
// anonymous mappings so that managed addresses are stable and never observed
// by the Go runtime's own collector.
package mem

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"
)

// PageSize returns the operating system page size.
func PageSize() uintptr {
	return uintptr(unix.Getpagesize())
}

// RoundUp rounds n up to the next multiple of align. Align must be a power
// of two.
func RoundUp(n, align uintptr) uintptr {
	return (n + align - 1) &^ (align - 1)
}

// Block is a single contiguous anonymous mapping. The memory is readable,
// writable and zero-filled on creation.
type Block struct {
	buf  []byte
	base uintptr
}

// Reserve maps size bytes of anonymous memory. The size is rounded up to a
// whole number of pages.
func Reserve(size uintptr) (*Block, error) {
	if size == 0 {
		return nil, fmt.Errorf("mem: reserve of zero bytes")
	}
	size = RoundUp(size, PageSize())
	buf, err := unix.Mmap(-1, 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANON)
	if err != nil {
		return nil, fmt.Errorf("mem: mmap %d bytes: %w", size, err)
	}
	return &Block{
		buf:  buf,
		base: uintptr(unsafe.Pointer(&buf[0])),
	}, nil
}

// Base returns the address of the first byte of the mapping.
func (b *Block) Base() uintptr {
	return b.base
}

// Size returns the mapped size in bytes.
func (b *Block) Size() uintptr {
	return uintptr(len(b.buf))
}

// Release unmaps the block. The block must not be used afterwards.
func (b *Block) Release() error {
	if b.buf == nil {
		return nil
	}
	buf := b.buf
	b.buf = nil
	b.base = 0
	if err := unix.Munmap(buf); err != nil {
		return fmt.Errorf("mem: munmap: %w", err)
	}
	return nil
}
