package hv

import (
	"errors"
	"fmt"
	"io"
	"time"
	"unsafe"

	"github.com/tinyrange/rvvm/internal/abi"
)

var (
	ErrRuntimeUnavailable = errors.New("rvvm runtime unavailable on this platform")
	ErrMachineClosed      = errors.New("machine closed")
)

// Attachment status codes. Non-negative values are device handles.
const (
	StatusInvalidMMIO int32 = -1
	StatusVMIsRunning int32 = -2
)

// DefaultMemBase is where RVVM maps guest RAM unless told otherwise.
const DefaultMemBase uint64 = 0x80000000

// DefaultUpdateInterval is how often running machines update their devices.
const DefaultUpdateInterval = 10 * time.Millisecond

type MMIORegion struct {
	Address uint64
	Size    uint64
}

// End returns the first address past the region.
func (r MMIORegion) End() uint64 { return r.Address + r.Size }

// Overlaps reports whether r and o share at least one address.
func (r MMIORegion) Overlaps(o MMIORegion) bool {
	return r.Address < o.End() && o.Address < r.End()
}

func (r MMIORegion) String() string {
	if r.Size == 0 {
		return fmt.Sprintf("0x%x-0x%x", r.Address, r.Address)
	}
	return fmt.Sprintf("0x%x-0x%x", r.Address, r.End()-1)
}

// MachineConfig describes a machine to create.
type MachineConfig struct {
	Harts   int
	MemBase uint64
	MemSize uint64
	RV64    bool

	// HotAttach allows AttachMMIO while the machine is running. RVVM
	// refuses this, so it is only honoured by runtimes that can.
	HotAttach bool

	UpdateInterval time.Duration
}

// Machine is a runtime instance that owns attached devices.
//
// AttachMMIO receives the descriptor by value. A non-negative result means
// the runtime now owns the descriptor's data and type and will call
// Type.Remove exactly once, on RemoveMMIO or Close. A negative result means
// nothing was taken.
type Machine interface {
	io.Closer

	// Pointer is the opaque back-reference stamped into descriptors.
	Pointer() unsafe.Pointer

	MemBase() uint64
	MemSize() uint64

	AttachMMIO(dev abi.MmioDev) int32
	GetMMIO(handle int32) *abi.MmioDev
	RemoveMMIO(handle int32)

	Start() bool
	Pause() bool
	Running() bool
	Reset()

	ReadRAM(dest []byte, addr uint64) bool
	WriteRAM(addr uint64, src []byte) bool
}

// Runtime creates machines.
type Runtime interface {
	io.Closer

	Name() string

	NewMachine(config MachineConfig) (Machine, error)
}
