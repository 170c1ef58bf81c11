package rvvm

import (
	"github.com/tinyrange/rvvm/internal/abi"
	"github.com/tinyrange/rvvm/internal/alloc"
)

// newDeviceType builds the type descriptor for T. The name is copied into
// NUL-terminated storage on heap. The default remove entry point is always
// installed so device state is reclaimed; update and reset are installed
// only when *T implements Updater or Resetter.
func newDeviceType[T any, P Capability[T]](heap *alloc.Heap, name string) (*abi.MmioType, error) {
	if err := validateName(name); err != nil {
		return nil, err
	}
	cname, err := heap.CString(name)
	if err != nil {
		return nil, err
	}

	typ := &abi.MmioType{
		Name:   cname,
		Remove: removeTrampoline[T, P],
		Heap:   heap,
	}

	var zero P
	if _, ok := any(zero).(Updater); ok {
		typ.Update = updateTrampoline[T, P]
	}
	if _, ok := any(zero).(Resetter); ok {
		typ.Reset = resetTrampoline[T, P]
	}
	return typ, nil
}
