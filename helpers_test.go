package rvvm

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

// reg32 is a single register device.
type reg32 int32

func (r *reg32) Name() string { return "REG32" }

func (r *reg32) Read(offset uint64, data []byte) error {
	data[0] = byte(int32(*r) >> (8 * (offset % 4)))
	return nil
}

func (r *reg32) Write(offset uint64, data []byte) error {
	*r = reg32(data[0])
	return nil
}

var errUARTFault = errors.New("uart fault")

// uart records the shape of every access it sees.
type uart struct {
	regs [16]byte

	lastOffset uint64
	lastLen    int
	lastCap    int
	accesses   int
	fail       bool
}

func (u *uart) Name() string { return "UART" }

func (u *uart) record(offset uint64, data []byte) error {
	u.lastOffset = offset
	u.lastLen = len(data)
	u.lastCap = cap(data)
	u.accesses++
	if u.fail {
		return errUARTFault
	}
	return nil
}

func (u *uart) Read(offset uint64, data []byte) error {
	if err := u.record(offset, data); err != nil {
		return err
	}
	copy(data, u.regs[offset:])
	return nil
}

func (u *uart) Write(offset uint64, data []byte) error {
	if err := u.record(offset, data); err != nil {
		return err
	}
	copy(u.regs[offset:], data)
	return nil
}

// marker counts lifecycle calls and snapshots its heap when removed.
type marker struct {
	heap     *Heap
	removes  *int
	updates  *int
	resets   *int
	atRemove *HeapStats
}

func newMarker(h *Heap) (marker, *int) {
	removes := new(int)
	return marker{
		heap:     h,
		removes:  removes,
		updates:  new(int),
		resets:   new(int),
		atRemove: new(HeapStats),
	}, removes
}

func (m *marker) Name() string               { return "MARK" }
func (m *marker) Read(uint64, []byte) error  { return nil }
func (m *marker) Write(uint64, []byte) error { return nil }
func (m *marker) Update()                    { *m.updates++ }
func (m *marker) Reset()                     { *m.resets++ }
func (m *marker) Remove() {
	*m.removes++
	*m.atRemove = m.heap.Stats()
}

// null is a zero-size device.
type null struct{}

var nullRemoves int

func (n *null) Name() string               { return "NULL" }
func (n *null) Read(uint64, []byte) error  { return nil }
func (n *null) Write(uint64, []byte) error { return nil }
func (n *null) Remove()                    { nullRemoves++ }

// newTestInstance returns a 4096-byte, single-hart in-process machine.
func newTestInstance(t *testing.T) *Instance {
	t.Helper()
	inst, err := Builder().Backend(BackendSoft).TryBuild()
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, inst.Close()) })
	return inst
}
