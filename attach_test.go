package rvvm

import (
	"errors"
	"testing"
	"unsafe"

	"github.com/stretchr/testify/require"

	"github.com/tinyrange/rvvm/internal/abi"
	"github.com/tinyrange/rvvm/internal/hv"
)

func TestAttachRejectsOverlap(t *testing.T) {
	inst := newTestInstance(t)

	reg, err := NewDevice[reg32](0x1024, 1024, OpSize(1, 1), reg32(1024))
	require.NoError(t, err)
	h, err := Attach(inst, reg)
	require.NoError(t, err)
	require.True(t, h.Valid())

	dup, err := NewDevice[reg32](0x1024, 1, OpSize(1, 1), reg32(1))
	require.NoError(t, err)
	_, err = Attach(inst, dup)
	require.ErrorIs(t, err, ErrRegionOverlap)

	var aerr *AttachError
	require.True(t, errors.As(err, &aerr))
	require.Equal(t, StateRejectedOverlap, aerr.State)
	require.Equal(t, "REG32", aerr.Name)
	require.Equal(t, uint64(0x1024), aerr.Address)
	require.Equal(t, uint64(1), aerr.Size)
	require.Equal(t, hv.StatusInvalidMMIO, aerr.Status)

	// The first device is untouched.
	got, err := DeviceOf(inst, h)
	require.NoError(t, err)
	require.Equal(t, reg32(1024), *got.Data())
	require.Equal(t, uint64(0x1024), got.Address())

	require.True(t, dup.Owned())
	require.NoError(t, dup.Close())
}

func TestAttachRejectsRunningMachine(t *testing.T) {
	inst := newTestInstance(t)
	require.True(t, inst.Start())

	dev, err := NewDevice[reg32](0x4000, 4, OpSize(1, 4), reg32(3))
	require.NoError(t, err)
	_, err = Attach(inst, dev)
	require.ErrorIs(t, err, ErrVMIsRunning)

	var aerr *AttachError
	require.ErrorAs(t, err, &aerr)
	require.Equal(t, StateRejectedRunning, aerr.State)

	// Still ours, and attachable once paused.
	require.True(t, dev.Owned())
	require.Equal(t, reg32(3), *dev.Data())

	require.True(t, inst.Pause())
	h, err := Attach(inst, dev)
	require.NoError(t, err)
	require.True(t, h.Valid())
}

func TestRejectedDeviceStaysOwned(t *testing.T) {
	inst := newTestInstance(t)
	heap := NewHeap()

	first, err := NewDevice[uart](0x2000, 16, OpSize(1, 1), uart{}, WithHeap(heap))
	require.NoError(t, err)
	_, err = Attach(inst, first)
	require.NoError(t, err)

	m, removes := newMarker(heap)
	second, err := NewDevice[marker](0x2008, 16, OpSize(1, 1), m, WithHeap(heap))
	require.NoError(t, err)
	_, err = Attach(inst, second)
	require.ErrorIs(t, err, ErrRegionOverlap)
	require.True(t, second.Owned())
	require.Equal(t, 4, heap.Stats().Live)

	require.NoError(t, second.Close())
	require.Equal(t, 0, *removes)
	require.Equal(t, 2, heap.Stats().Live)
}

func TestAttachMovesDevice(t *testing.T) {
	inst := newTestInstance(t)

	dev, err := NewDevice[reg32](0x1000, 4, OpSize(1, 4), reg32(7))
	require.NoError(t, err)
	_, err = Attach(inst, dev)
	require.NoError(t, err)

	require.False(t, dev.Owned())
	require.Panics(t, func() { dev.Data() })
	require.NoError(t, dev.Close(), "closing a moved device is a no-op")

	_, err = Attach(inst, dev)
	require.ErrorIs(t, err, ErrNotOwned)
}

func TestDetachRunsRemoveOnce(t *testing.T) {
	inst := newTestInstance(t)
	heap := NewHeap(WithHeapTrace())
	m, removes := newMarker(heap)

	dev, err := NewDevice[marker](0x1000, 8, OpSize(1, 8), m, WithHeap(heap))
	require.NoError(t, err)
	h, err := Attach(inst, dev)
	require.NoError(t, err)
	require.Equal(t, 2, heap.Stats().Live)

	require.NoError(t, Detach(inst, h))
	require.Equal(t, 1, *removes)
	require.Equal(t, 2, m.atRemove.Live)
	require.Equal(t, HeapStats{Allocs: 2, Frees: 2}, heap.Stats())

	require.ErrorIs(t, Detach(inst, h), ErrNoSuchDevice)
	_, err = DeviceOf(inst, h)
	require.ErrorIs(t, err, ErrNoSuchDevice)
	require.Equal(t, 1, *removes)
}

func TestCloseRemovesAttachedDevices(t *testing.T) {
	inst, err := Builder().Backend(BackendSoft).TryBuild()
	require.NoError(t, err)

	heap := NewHeap()
	m, removes := newMarker(heap)
	dev, err := NewDevice[marker](0x1000, 8, OpSize(1, 8), m, WithHeap(heap))
	require.NoError(t, err)
	h, err := Attach(inst, dev)
	require.NoError(t, err)

	z, err := NewDevice[null](0x2000, 8, OpSize(1, 8), null{}, WithHeap(heap))
	require.NoError(t, err)
	before := nullRemoves
	_, err = Attach(inst, z)
	require.NoError(t, err)

	require.NoError(t, inst.Close())
	require.NoError(t, inst.Close())
	require.Equal(t, 1, *removes)
	require.Equal(t, before+1, nullRemoves)
	require.Equal(t, 0, heap.Stats().Live)

	_, err = DeviceOf(inst, h)
	require.ErrorIs(t, err, ErrInstanceClosed)

	again, err := NewDevice[reg32](0x3000, 4, OpSize(1, 4), reg32(0), WithHeap(heap))
	require.NoError(t, err)
	_, err = Attach(inst, again)
	require.ErrorIs(t, err, ErrInstanceClosed)
	require.True(t, again.Owned())
	require.NoError(t, again.Close())
}

func TestDeviceOfIsMachineOwned(t *testing.T) {
	inst := newTestInstance(t)

	dev, err := NewDevice[reg32](0x1000, 4, OpSize(1, 4), reg32(9))
	require.NoError(t, err)
	h, err := Attach(inst, dev)
	require.NoError(t, err)

	got, err := DeviceOf(inst, h)
	require.NoError(t, err)
	require.False(t, got.Owned())
	require.ErrorIs(t, got.Close(), ErrNotOwned)

	// Mutations through the handle are visible to the guest.
	*got.Data() = 0x55
	b := make([]byte, 1)
	require.NoError(t, inst.Load(0x1000, b))
	require.Equal(t, byte(0x55), b[0])
}

func TestGuestAccessDispatch(t *testing.T) {
	inst := newTestInstance(t)

	dev, err := NewDevice[uart](0x1000, 16, OpSize(1, 4), uart{})
	require.NoError(t, err)
	h, err := Attach(inst, dev)
	require.NoError(t, err)

	require.NoError(t, inst.Store(0x1004, []byte{0xde, 0xad}))
	b := make([]byte, 2)
	require.NoError(t, inst.Load(0x1004, b))
	require.Equal(t, []byte{0xde, 0xad}, b)

	u, err := DeviceOf(inst, h)
	require.NoError(t, err)
	require.Equal(t, uint64(4), u.Data().lastOffset)
	require.Equal(t, 2, u.Data().lastLen)

	// Outside the declared op sizes, past the end, and into a hole.
	require.Error(t, inst.Load(0x1000, make([]byte, 8)))
	require.Error(t, inst.Load(0x100e, make([]byte, 4)))
	require.Error(t, inst.Load(0x5000, make([]byte, 1)))

	u.Data().fail = true
	require.Error(t, inst.Store(0x1000, []byte{1}))

	// Guest RAM is reached the same way.
	base := inst.MemBase()
	require.NoError(t, inst.Store(base+8, []byte{1, 2, 3}))
	require.NoError(t, inst.Load(base+8, b))
	require.Equal(t, []byte{1, 2}, b)
}

func TestZeroHandle(t *testing.T) {
	inst := newTestInstance(t)

	var h Handle[reg32]
	require.False(t, h.Valid())
	require.Equal(t, int32(-1), h.ID())
	require.Equal(t, "Handle(invalid)", h.String())

	_, err := DeviceOf(inst, h)
	require.ErrorIs(t, err, ErrNoSuchDevice)
	require.ErrorIs(t, Detach(inst, h), ErrNoSuchDevice)

	require.Equal(t, "Handle(3)", newHandle[reg32](3).String())
}

func TestAttachStateString(t *testing.T) {
	require.Equal(t, "unattached", StateUnattached.String())
	require.Equal(t, "rejected-overlap", StateRejectedOverlap.String())
	require.Equal(t, "rejected-running", StateRejectedRunning.String())
	require.Equal(t, "AttachState(3)", AttachState(3).String())
	require.Equal(t, "moved", Moved.String())
	require.Equal(t, "returned-unchanged", ReturnedUnchanged.String())
}

// statusMachine rejects every attachment with a fixed status.
type statusMachine struct {
	status int32
	seen   abi.MmioDev
}

func (m *statusMachine) Close() error                 { return nil }
func (m *statusMachine) Pointer() unsafe.Pointer      { return unsafe.Pointer(m) }
func (m *statusMachine) MemBase() uint64              { return DefaultMemBase }
func (m *statusMachine) MemSize() uint64              { return 4096 }
func (m *statusMachine) GetMMIO(int32) *abi.MmioDev   { return nil }
func (m *statusMachine) RemoveMMIO(int32)             {}
func (m *statusMachine) Start() bool                  { return false }
func (m *statusMachine) Pause() bool                  { return false }
func (m *statusMachine) Running() bool                { return false }
func (m *statusMachine) Reset()                       {}
func (m *statusMachine) ReadRAM([]byte, uint64) bool  { return false }
func (m *statusMachine) WriteRAM(uint64, []byte) bool { return false }

func (m *statusMachine) AttachMMIO(dev abi.MmioDev) int32 {
	m.seen = dev
	return m.status
}

type statusRuntime struct{}

func (statusRuntime) Close() error                                    { return nil }
func (statusRuntime) Name() string                                    { return "status" }
func (statusRuntime) NewMachine(hv.MachineConfig) (hv.Machine, error) { return nil, nil }

func TestAttachUnknownStatus(t *testing.T) {
	m := &statusMachine{status: -7}
	inst := &Instance{runtime: statusRuntime{}, machine: m, config: DefaultConfig()}
	defer inst.Close()

	dev, err := NewDevice[reg32](0x1000, 4, OpSize(1, 4), reg32(0), WithHeap(NewHeap()))
	require.NoError(t, err)

	_, err = Attach(inst, dev)
	require.ErrorIs(t, err, ErrUnknownStatus)
	require.NotErrorIs(t, err, ErrRegionOverlap)

	var aerr *AttachError
	require.ErrorAs(t, err, &aerr)
	require.Equal(t, StateUnattached, aerr.State)
	require.Equal(t, int32(-7), aerr.Status)

	// The machine saw the back-reference; the caller's copy has it cleared.
	require.Equal(t, m.Pointer(), m.seen.Machine)
	require.True(t, dev.Owned())
	require.NoError(t, dev.Close())

	_, err = inst.accessor()
	require.ErrorIs(t, err, ErrUnsupported)
}
