// Package abi describes the device descriptor shape the RVVM runtime
// understands. Nothing here knows the concrete type behind Data; typed code
// lives in the root package.
//
// Layout mirrors RVVM's rvvm_mmio_dev_t and rvvm_mmio_type_t. The native
// backend copies these fields into C memory field by field, so field order
// here is documentation, not a contract with C.
package abi

import (
	"unsafe"

	"github.com/tinyrange/rvvm/internal/alloc"
)

// ReadWriteFunc is the entry point for load and store accesses. dest points
// at size bytes owned by the runtime. It reports success only.
type ReadWriteFunc func(dev *MmioDev, dest unsafe.Pointer, offset uintptr, size uint8) bool

// HandlerFunc is the entry point for remove, update and reset.
type HandlerFunc func(dev *MmioDev)

// MmioType is the per-type descriptor shared by the lifecycle entry points.
type MmioType struct {
	// Name is NUL-terminated storage allocated on Heap.
	Name *byte

	Remove HandlerFunc
	Update HandlerFunc
	Reset  HandlerFunc

	// Heap owns Name and the data pointer of every device using this
	// descriptor. It is bookkeeping for the Go side and is not passed to C.
	Heap *alloc.Heap
}

// MmioDev is the device descriptor handed to the runtime by value.
type MmioDev struct {
	Begin uint64
	Size  uintptr

	// Data is erased device state. Only entry points created for the same
	// concrete type may dereference it.
	Data unsafe.Pointer

	// Machine is the owning runtime. It is written before attachment and
	// never read by this layer.
	Machine unsafe.Pointer

	Type *MmioType

	Read  ReadWriteFunc
	Write ReadWriteFunc

	MinOpSize uint8
	MaxOpSize uint8
}

// End returns the first address past the device region.
func (d *MmioDev) End() uint64 { return d.Begin + uint64(d.Size) }

// Contains reports whether [addr, addr+size) lies inside the device region.
func (d *MmioDev) Contains(addr uint64, size uint64) bool {
	end := addr + size
	if end < addr {
		return false
	}
	return addr >= d.Begin && end <= d.End()
}

// Name returns the type name without its terminator, or "" when the
// descriptor has no type.
func (d *MmioDev) Name() string {
	if d.Type == nil || d.Type.Name == nil {
		return ""
	}
	return GoString(d.Type.Name)
}

// CStringBytes returns the bytes of a NUL-terminated string including the
// terminator.
func CStringBytes(p *byte) []byte {
	if p == nil {
		return nil
	}
	n := 0
	for *(*byte)(unsafe.Add(unsafe.Pointer(p), n)) != 0 {
		n++
	}
	return unsafe.Slice(p, n+1)
}

// GoString copies a NUL-terminated string into a Go string.
func GoString(p *byte) string {
	b := CStringBytes(p)
	if len(b) == 0 {
		return ""
	}
	return string(b[:len(b)-1])
}
