package rvvm

import (
	"unsafe"

	"github.com/tinyrange/rvvm/internal/abi"
)

// Entry points handed to the runtime. Each is instantiated per device type,
// so the erased data pointer is only ever cast back to the type it was
// boxed as.

func bindTrampolines[T any, P Capability[T]](dev *abi.MmioDev) {
	dev.Read = readTrampoline[T, P]
	dev.Write = writeTrampoline[T, P]
}

func typedDevice[T any](dev *abi.MmioDev) *Device[T] {
	return (*Device[T])(unsafe.Pointer(dev))
}

// accessView returns the runtime buffer as a slice of exactly size bytes,
// or false if the access does not fit inside the device region.
func accessView(dev *abi.MmioDev, dest unsafe.Pointer, offset uintptr, size uint8) ([]byte, bool) {
	if dest == nil || size == 0 {
		return nil, false
	}
	if uint64(offset)+uint64(size) > uint64(dev.Size) {
		return nil, false
	}
	return unsafe.Slice((*byte)(dest), size), true
}

func readTrampoline[T any, P Capability[T]](dev *abi.MmioDev, dest unsafe.Pointer, offset uintptr, size uint8) bool {
	view, ok := accessView(dev, dest, offset, size)
	if !ok {
		return false
	}
	return P(typedDevice[T](dev).data()).Read(uint64(offset), view) == nil
}

func writeTrampoline[T any, P Capability[T]](dev *abi.MmioDev, dest unsafe.Pointer, offset uintptr, size uint8) bool {
	view, ok := accessView(dev, dest, offset, size)
	if !ok {
		return false
	}
	return P(typedDevice[T](dev).data()).Write(uint64(offset), view) == nil
}

// removeTrampoline runs the Remover hook, then releases the name and the
// state. The runtime calls it once per attached device.
func removeTrampoline[T any, P Capability[T]](dev *abi.MmioDev) {
	if r, ok := any(P(typedDevice[T](dev).data())).(Remover); ok {
		r.Remove()
	}
	destroy[T](dev)
}

func updateTrampoline[T any, P Capability[T]](dev *abi.MmioDev) {
	if u, ok := any(P(typedDevice[T](dev).data())).(Updater); ok {
		u.Update()
	}
}

func resetTrampoline[T any, P Capability[T]](dev *abi.MmioDev) {
	if r, ok := any(P(typedDevice[T](dev).data())).(Resetter); ok {
		r.Reset()
	}
}
