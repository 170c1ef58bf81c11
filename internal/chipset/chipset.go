// Package chipset is the MMIO dispatch table of a machine: it registers
// device descriptors by region, rejects overlaps and routes accesses to the
// descriptor's entry points.
package chipset

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"unsafe"

	"github.com/tinyrange/rvvm/internal/abi"
	"github.com/tinyrange/rvvm/internal/hv"
)

var (
	ErrRegionOverlap = errors.New("chipset: MMIO region overlaps an attached device")
	ErrInvalidRegion = errors.New("chipset: invalid MMIO region")
	ErrNoDevice      = errors.New("chipset: no device")
	ErrAccessSize    = errors.New("chipset: unsupported access size")
	ErrDeviceFault   = errors.New("chipset: device reported failure")
	ErrTableFull     = errors.New("chipset: handle space exhausted")
)

// Chipset holds attached descriptors. Handles are never reused, so a stale
// handle cannot alias a later device.
type Chipset struct {
	mu sync.RWMutex

	devices map[int32]*abi.MmioDev
	next    int32
}

// New returns an empty table.
func New() *Chipset {
	return &Chipset{devices: make(map[int32]*abi.MmioDev)}
}

func regionOf(dev *abi.MmioDev) hv.MMIORegion {
	return hv.MMIORegion{Address: dev.Begin, Size: uint64(dev.Size)}
}

// Register stores dev and returns its handle.
func (c *Chipset) Register(dev *abi.MmioDev) (int32, error) {
	region := regionOf(dev)
	if region.Size == 0 {
		return -1, fmt.Errorf("%w: region at 0x%x has zero size", ErrInvalidRegion, region.Address)
	}
	if region.End() < region.Address {
		return -1, fmt.Errorf("%w: region at 0x%x with size 0x%x overflows", ErrInvalidRegion, region.Address, region.Size)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	for _, existing := range c.devices {
		if region.Overlaps(regionOf(existing)) {
			return -1, fmt.Errorf("%w: %s overlaps %q at %s",
				ErrRegionOverlap, region, existing.Name(), regionOf(existing))
		}
	}

	if c.next == math.MaxInt32 {
		return -1, ErrTableFull
	}
	handle := c.next
	c.next++
	c.devices[handle] = dev
	return handle, nil
}

// Lookup returns the descriptor for handle, or nil.
func (c *Chipset) Lookup(handle int32) *abi.MmioDev {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.devices[handle]
}

// Unregister removes handle from the table and returns its descriptor. Once
// it returns no access to that device is in flight or can start.
func (c *Chipset) Unregister(handle int32) *abi.MmioDev {
	c.mu.Lock()
	defer c.mu.Unlock()
	dev, ok := c.devices[handle]
	if !ok {
		return nil
	}
	delete(c.devices, handle)
	return dev
}

// UnregisterAll empties the table, returning descriptors in handle order.
func (c *Chipset) UnregisterAll() []*abi.MmioDev {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]*abi.MmioDev, 0, len(c.devices))
	for _, handle := range c.handles() {
		out = append(out, c.devices[handle])
	}
	c.devices = make(map[int32]*abi.MmioDev)
	return out
}

// Len returns the number of attached devices.
func (c *Chipset) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.devices)
}

// HandleMMIO dispatches an access to the device covering it. The access
// must fall entirely inside one device and respect its op-size bounds.
func (c *Chipset) HandleMMIO(addr uint64, data []byte, isWrite bool) error {
	size := uint64(len(data))
	if size == 0 || size > math.MaxUint8 {
		return fmt.Errorf("%w: %d bytes at 0x%016x", ErrAccessSize, size, addr)
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	for _, dev := range c.devices {
		if !dev.Contains(addr, 1) {
			continue
		}
		if !dev.Contains(addr, size) {
			return fmt.Errorf("%w: %d bytes at 0x%016x crosses the end of %q",
				ErrAccessSize, size, addr, dev.Name())
		}
		if uint8(size) < dev.MinOpSize || uint8(size) > dev.MaxOpSize {
			return fmt.Errorf("%w: %d bytes at 0x%016x, %q accepts %d-%d",
				ErrAccessSize, size, addr, dev.Name(), dev.MinOpSize, dev.MaxOpSize)
		}

		handler := dev.Read
		if isWrite {
			handler = dev.Write
		}
		if handler == nil {
			return fmt.Errorf("%w: %q has no handler", ErrDeviceFault, dev.Name())
		}
		if !handler(dev, unsafe.Pointer(&data[0]), uintptr(addr-dev.Begin), uint8(size)) {
			return fmt.Errorf("%w: %q at offset 0x%x", ErrDeviceFault, dev.Name(), addr-dev.Begin)
		}
		return nil
	}

	return fmt.Errorf("%w at MMIO address 0x%016x", ErrNoDevice, addr)
}

// Reset calls every device's reset entry point in handle order.
func (c *Chipset) Reset() {
	c.each(func(dev *abi.MmioDev) {
		if dev.Type != nil && dev.Type.Reset != nil {
			dev.Type.Reset(dev)
		}
	})
}

// Update calls every device's update entry point in handle order.
func (c *Chipset) Update() {
	c.each(func(dev *abi.MmioDev) {
		if dev.Type != nil && dev.Type.Update != nil {
			dev.Type.Update(dev)
		}
	})
}

func (c *Chipset) each(fn func(dev *abi.MmioDev)) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, handle := range c.handles() {
		fn(c.devices[handle])
	}
}

func (c *Chipset) handles() []int32 {
	handles := make([]int32, 0, len(c.devices))
	for handle := range c.devices {
		handles = append(handles, handle)
	}
	sort.Slice(handles, func(i, j int) bool { return handles[i] < handles[j] })
	return handles
}
