//go:build unix

package softvm

import (
	"fmt"
	"math"

	"golang.org/x/sys/unix"
)

// allocRAM maps anonymous memory rounded up to the host page size and
// returns exactly size bytes of it.
func allocRAM(size uint64) ([]byte, error) {
	page := uint64(unix.Getpagesize())
	mapped := (size + page - 1) &^ (page - 1)
	if mapped < size || mapped > math.MaxInt {
		return nil, fmt.Errorf("size 0x%x is too large", size)
	}

	mem, err := unix.Mmap(-1, 0, int(mapped), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANON)
	if err != nil {
		return nil, fmt.Errorf("mmap: %w", err)
	}
	return mem[:size:mapped], nil
}

func freeRAM(mem []byte) error {
	if mem == nil {
		return nil
	}
	return unix.Munmap(mem[:cap(mem)])
}
