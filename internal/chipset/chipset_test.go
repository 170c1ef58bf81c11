package chipset

import (
	"sync"
	"testing"
	"unsafe"

	"github.com/stretchr/testify/require"

	"github.com/tinyrange/rvvm/internal/abi"
)

// recorder is a descriptor whose entry points log calls.
type recorder struct {
	mu      sync.Mutex
	reads   []uintptr
	writes  []byte
	resets  int
	updates int
	fail    bool
}

func (r *recorder) device(begin uint64, size uintptr, minOp, maxOp uint8) *abi.MmioDev {
	return &abi.MmioDev{
		Begin: begin,
		Size:  size,
		Type: &abi.MmioType{
			Reset:  func(*abi.MmioDev) { r.mu.Lock(); r.resets++; r.mu.Unlock() },
			Update: func(*abi.MmioDev) { r.mu.Lock(); r.updates++; r.mu.Unlock() },
		},
		Read: func(_ *abi.MmioDev, dest unsafe.Pointer, offset uintptr, size uint8) bool {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.reads = append(r.reads, offset)
			buf := unsafe.Slice((*byte)(dest), size)
			for i := range buf {
				buf[i] = byte(offset) + byte(i)
			}
			return !r.fail
		},
		Write: func(_ *abi.MmioDev, dest unsafe.Pointer, offset uintptr, size uint8) bool {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.writes = append(r.writes, unsafe.Slice((*byte)(dest), size)...)
			return !r.fail
		},
		MinOpSize: minOp,
		MaxOpSize: maxOp,
	}
}

func TestRegisterRejectsOverlap(t *testing.T) {
	c := New()
	r := &recorder{}

	first, err := c.Register(r.device(0x1024, 1024, 1, 1))
	require.NoError(t, err)
	require.Equal(t, int32(0), first)

	_, err = c.Register(r.device(0x1024, 1, 1, 1))
	require.ErrorIs(t, err, ErrRegionOverlap)

	_, err = c.Register(r.device(0x1024+1023, 4, 1, 1))
	require.ErrorIs(t, err, ErrRegionOverlap)

	second, err := c.Register(r.device(0x1024+1024, 4, 1, 1))
	require.NoError(t, err)
	require.Equal(t, int32(1), second)

	require.NotNil(t, c.Lookup(first))
	require.Equal(t, 2, c.Len())
}

func TestRegisterRejectsInvalidRegion(t *testing.T) {
	c := New()
	r := &recorder{}

	_, err := c.Register(r.device(0x1000, 0, 1, 1))
	require.ErrorIs(t, err, ErrInvalidRegion)

	_, err = c.Register(r.device(^uint64(0), 2, 1, 1))
	require.ErrorIs(t, err, ErrInvalidRegion)
}

func TestHandlesAreNotReused(t *testing.T) {
	c := New()
	r := &recorder{}

	h0, err := c.Register(r.device(0x0, 0x10, 1, 8))
	require.NoError(t, err)
	require.NotNil(t, c.Unregister(h0))
	require.Nil(t, c.Unregister(h0))
	require.Nil(t, c.Lookup(h0))

	h1, err := c.Register(r.device(0x0, 0x10, 1, 8))
	require.NoError(t, err)
	require.NotEqual(t, h0, h1)
}

func TestHandleMMIO(t *testing.T) {
	c := New()
	r := &recorder{}
	_, err := c.Register(r.device(0x2000, 0x10, 1, 4))
	require.NoError(t, err)

	buf := make([]byte, 4)
	require.NoError(t, c.HandleMMIO(0x2004, buf, false))
	require.Equal(t, []byte{4, 5, 6, 7}, buf)
	require.Equal(t, []uintptr{4}, r.reads)

	require.NoError(t, c.HandleMMIO(0x2000, []byte{0xaa, 0xbb}, true))
	require.Equal(t, []byte{0xaa, 0xbb}, r.writes)

	require.ErrorIs(t, c.HandleMMIO(0x2000, make([]byte, 8), false), ErrAccessSize)
	require.ErrorIs(t, c.HandleMMIO(0x200e, make([]byte, 4), false), ErrAccessSize)
	require.ErrorIs(t, c.HandleMMIO(0x2000, nil, false), ErrAccessSize)
	require.ErrorIs(t, c.HandleMMIO(0x3000, buf, false), ErrNoDevice)

	r.fail = true
	require.ErrorIs(t, c.HandleMMIO(0x2000, buf, false), ErrDeviceFault)
	require.Equal(t, 1, c.Len())
}

func TestResetUpdateAndUnregisterAll(t *testing.T) {
	c := New()
	r := &recorder{}
	for i := uint64(0); i < 3; i++ {
		_, err := c.Register(r.device(i*0x100, 0x100, 1, 1))
		require.NoError(t, err)
	}

	c.Reset()
	c.Update()
	c.Update()
	require.Equal(t, 3, r.resets)
	require.Equal(t, 6, r.updates)

	devs := c.UnregisterAll()
	require.Len(t, devs, 3)
	require.Equal(t, uint64(0), devs[0].Begin)
	require.Equal(t, uint64(0x200), devs[2].Begin)
	require.Equal(t, 0, c.Len())
}
