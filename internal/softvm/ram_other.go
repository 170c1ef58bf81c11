//go:build !unix

package softvm

import (
	"fmt"
	"math"
)

func allocRAM(size uint64) ([]byte, error) {
	if size > math.MaxInt {
		return nil, fmt.Errorf("size 0x%x is too large", size)
	}
	return make([]byte, size), nil
}

func freeRAM([]byte) error { return nil }
