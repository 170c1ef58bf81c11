package rvvm

import (
	"fmt"
	"strings"

	"github.com/tinyrange/rvvm/internal/abi"
	"github.com/tinyrange/rvvm/internal/alloc"
)

// Device is the typed view of a device descriptor. It has exactly one
// field, so a *abi.MmioDev created for T can be reinterpreted as a
// *Device[T]; entry points rely on this.
//
// A Device returned by NewDevice is owned by the caller until Attach
// succeeds. A Device returned by DeviceOf is owned by the machine.
type Device[T any] struct {
	raw abi.MmioDev
}

type deviceOptions struct {
	name string
	heap *alloc.Heap
}

// DeviceOption configures NewDevice.
type DeviceOption func(*deviceOptions)

// WithName overrides the name reported by the capability.
func WithName(name string) DeviceOption {
	return func(o *deviceOptions) { o.name = name }
}

// WithHeap places the device state and name on h instead of the
// process-wide heap.
func WithHeap(h *Heap) DeviceOption {
	return func(o *deviceOptions) { o.heap = h }
}

// NewDevice creates a caller-owned device at [address, address+size) with
// the given state. The name is validated before anything is allocated.
func NewDevice[T any, P Capability[T]](address uint64, size uint64, ops OpSizes, data T, opts ...DeviceOption) (*Device[T], error) {
	o := deviceOptions{heap: alloc.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	if o.name == "" {
		o.name = P(&data).Name()
	}

	typ, err := newDeviceType[T, P](o.heap, o.name)
	if err != nil {
		return nil, err
	}

	d := &Device[T]{raw: abi.MmioDev{
		Begin:     address,
		Size:      uintptr(size),
		Data:      alloc.Box(o.heap, data),
		Type:      typ,
		MinOpSize: ops.Min,
		MaxOpSize: ops.Max,
	}}
	bindTrampolines[T, P](&d.raw)
	return d, nil
}

func validateName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: empty", ErrInvalidName)
	}
	if strings.IndexByte(name, 0) >= 0 {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return nil
}

// Owned reports whether the caller owns d and must eventually Attach or
// Close it.
func (d *Device[T]) Owned() bool {
	return d.raw.Type != nil && d.raw.Machine == nil
}

// Data returns the device state. It panics if d was moved to a machine by
// Attach or already closed.
func (d *Device[T]) Data() *T {
	if d.raw.Type == nil {
		panic(fmt.Errorf("rvvm: Data on released device: %w", ErrNotOwned))
	}
	return d.data()
}

func (d *Device[T]) data() *T {
	return (*T)(d.raw.Data)
}

// Name returns the device type name, or "" for a released device.
func (d *Device[T]) Name() string { return d.raw.Name() }

// Address returns the base address.
func (d *Device[T]) Address() uint64 { return d.raw.Begin }

// Size returns the size of the device region in bytes.
func (d *Device[T]) Size() uint64 { return uint64(d.raw.Size) }

// OpSizes returns the declared access size range.
func (d *Device[T]) OpSizes() OpSizes {
	return OpSizes{Min: d.raw.MinOpSize, Max: d.raw.MaxOpSize}
}

// Close destroys a caller-owned device, releasing its name and state once.
// Closing a released device is a no-op. Closing a machine-owned device
// returns ErrNotOwned; use Detach instead.
func (d *Device[T]) Close() error {
	if d.raw.Type == nil {
		return nil
	}
	if d.raw.Machine != nil {
		return ErrNotOwned
	}
	destroy[T](&d.raw)
	d.raw = abi.MmioDev{}
	return nil
}

// destroy releases the name storage and then the state of dev.
func destroy[T any](dev *abi.MmioDev) {
	typ := dev.Type
	if typ.Name != nil {
		typ.Heap.FreeCString(typ.Name)
		typ.Name = nil
	}
	alloc.Drop[T](typ.Heap, dev.Data)
	dev.Data = nil
	dev.Type = nil
}
