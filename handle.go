package rvvm

import (
	"fmt"
	"unsafe"
)

// Handle identifies one attached device of type T. It carries no
// ownership and may be copied and compared freely. The zero Handle refers
// to no device.
type Handle[T any] struct {
	id    int32
	valid bool
}

func newHandle[T any](id int32) Handle[T] {
	return Handle[T]{id: id, valid: true}
}

// ID returns the runtime's device id, or -1 for the zero Handle.
func (h Handle[T]) ID() int32 {
	if !h.valid {
		return -1
	}
	return h.id
}

// Valid reports whether h was returned by a successful Attach.
func (h Handle[T]) Valid() bool { return h.valid }

func (h Handle[T]) String() string {
	if !h.valid {
		return "Handle(invalid)"
	}
	return fmt.Sprintf("Handle(%d)", h.id)
}

// DeviceOf returns the machine-owned device behind h. The returned Device
// must not be used after Detach or Instance.Close.
//
// T is taken from h; a handle forged with the wrong T is not detected.
func DeviceOf[T any](inst *Instance, h Handle[T]) (*Device[T], error) {
	m, err := inst.liveMachine()
	if err != nil {
		return nil, err
	}
	if !h.valid {
		return nil, fmt.Errorf("%w: %s", ErrNoSuchDevice, h)
	}
	raw := m.GetMMIO(h.id)
	if raw == nil {
		return nil, fmt.Errorf("%w: %s", ErrNoSuchDevice, h)
	}
	return (*Device[T])(unsafe.Pointer(raw)), nil
}
