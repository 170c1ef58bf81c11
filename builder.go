package rvvm

import (
	"errors"
	"fmt"
	"time"
)

// InstanceBuilder assembles a Config fluently.
type InstanceBuilder struct {
	cfg Config
}

// Builder starts from DefaultConfig: one hart, 4096 bytes of RAM at
// DefaultMemBase, RV32, automatic backend selection.
func Builder() *InstanceBuilder {
	return &InstanceBuilder{cfg: DefaultConfig()}
}

func (b *InstanceBuilder) Harts(n int) *InstanceBuilder         { b.cfg.Harts = n; return b }
func (b *InstanceBuilder) MemBase(base uint64) *InstanceBuilder { b.cfg.MemBase = base; return b }
func (b *InstanceBuilder) MemSize(size uint64) *InstanceBuilder { b.cfg.MemSize = size; return b }
func (b *InstanceBuilder) RV64() *InstanceBuilder               { b.cfg.RV64 = true; return b }
func (b *InstanceBuilder) Backend(name string) *InstanceBuilder { b.cfg.Backend = name; return b }
func (b *InstanceBuilder) Library(path string) *InstanceBuilder { b.cfg.Library = path; return b }
func (b *InstanceBuilder) HotAttach() *InstanceBuilder          { b.cfg.HotAttach = true; return b }

func (b *InstanceBuilder) UpdateInterval(d time.Duration) *InstanceBuilder {
	b.cfg.UpdateInterval = d
	return b
}

// Config returns the assembled configuration.
func (b *InstanceBuilder) Config() Config { return b.cfg }

// TryBuild creates the instance.
func (b *InstanceBuilder) TryBuild() (*Instance, error) {
	return NewInstance(b.cfg)
}

// Build creates the instance and panics on failure.
func (b *InstanceBuilder) Build() *Instance {
	inst, err := b.TryBuild()
	if err != nil {
		panic(err)
	}
	return inst
}

var errMissingField = errors.New("rvvm: device builder: missing field")

// DeviceBuilder assembles the arguments of NewDevice. Address, size, op
// sizes and data are required.
type DeviceBuilder[T any, P Capability[T]] struct {
	address *uint64
	size    *uint64
	ops     *OpSizes
	data    *T
	opts    []DeviceOption
}

// NewDeviceBuilder returns an empty builder for T.
func NewDeviceBuilder[T any, P Capability[T]]() *DeviceBuilder[T, P] {
	return &DeviceBuilder[T, P]{}
}

func (b *DeviceBuilder[T, P]) Address(addr uint64) *DeviceBuilder[T, P] { b.address = &addr; return b }
func (b *DeviceBuilder[T, P]) Size(size uint64) *DeviceBuilder[T, P]    { b.size = &size; return b }
func (b *DeviceBuilder[T, P]) Data(data T) *DeviceBuilder[T, P]         { b.data = &data; return b }

func (b *DeviceBuilder[T, P]) OpSize(min, max uint8) *DeviceBuilder[T, P] {
	ops := OpSize(min, max)
	b.ops = &ops
	return b
}

func (b *DeviceBuilder[T, P]) Name(name string) *DeviceBuilder[T, P] {
	b.opts = append(b.opts, WithName(name))
	return b
}

func (b *DeviceBuilder[T, P]) Heap(h *Heap) *DeviceBuilder[T, P] {
	b.opts = append(b.opts, WithHeap(h))
	return b
}

// Build creates the device.
func (b *DeviceBuilder[T, P]) Build() (*Device[T], error) {
	switch {
	case b.address == nil:
		return nil, fmt.Errorf("%w: address", errMissingField)
	case b.size == nil:
		return nil, fmt.Errorf("%w: size", errMissingField)
	case b.ops == nil:
		return nil, fmt.Errorf("%w: op sizes", errMissingField)
	case b.data == nil:
		return nil, fmt.Errorf("%w: data", errMissingField)
	}
	return NewDevice[T, P](*b.address, *b.size, *b.ops, *b.data, b.opts...)
}
