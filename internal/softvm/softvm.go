// Package softvm is an in-process runtime with RVVM's device-attachment
// semantics. It has no CPU core: guest accesses are driven through Load and
// Store, which route to RAM or to attached devices exactly as RVVM's MMIO
// dispatcher would.
package softvm

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
	"unsafe"

	"github.com/tinyrange/rvvm/internal/abi"
	"github.com/tinyrange/rvvm/internal/chipset"
	"github.com/tinyrange/rvvm/internal/hv"
)

var ErrOutOfRange = errors.New("softvm: address out of range")

type runtime struct{}

// Open returns the in-process runtime. It is always available.
func Open() (hv.Runtime, error) {
	return &runtime{}, nil
}

func (r *runtime) Close() error { return nil }

func (r *runtime) Name() string { return "soft" }

func (r *runtime) NewMachine(config hv.MachineConfig) (hv.Machine, error) {
	return NewMachine(config)
}

// Machine is a runtime instance owning RAM and a device table.
type Machine struct {
	config  hv.MachineConfig
	chipset *chipset.Chipset

	// ramMu guards ram. Close takes it exclusively to unmap; accesses hold
	// it shared for the duration of the copy.
	ramMu sync.RWMutex
	ram   []byte

	mu      sync.Mutex
	running bool
	closed  bool
	stop    chan struct{}
	done    chan struct{}
}

var _ hv.Machine = (*Machine)(nil)

// NewMachine creates a paused machine.
func NewMachine(config hv.MachineConfig) (*Machine, error) {
	if config.Harts < 1 {
		return nil, fmt.Errorf("softvm: hart count must be at least 1 (got %d)", config.Harts)
	}
	if config.MemSize == 0 {
		return nil, fmt.Errorf("softvm: memory size is zero")
	}
	if config.MemBase+config.MemSize < config.MemBase {
		return nil, fmt.Errorf("softvm: memory 0x%x+0x%x overflows", config.MemBase, config.MemSize)
	}
	if config.UpdateInterval <= 0 {
		config.UpdateInterval = hv.DefaultUpdateInterval
	}

	ram, err := allocRAM(config.MemSize)
	if err != nil {
		return nil, fmt.Errorf("softvm: allocate %d bytes of RAM: %w", config.MemSize, err)
	}

	return &Machine{
		config:  config,
		ram:     ram,
		chipset: chipset.New(),
	}, nil
}

func (m *Machine) Pointer() unsafe.Pointer { return unsafe.Pointer(m) }
func (m *Machine) MemBase() uint64         { return m.config.MemBase }
func (m *Machine) MemSize() uint64         { return m.config.MemSize }
func (m *Machine) Harts() int              { return m.config.Harts }

func (m *Machine) ramRegion() hv.MMIORegion {
	return hv.MMIORegion{Address: m.config.MemBase, Size: m.config.MemSize}
}

// AttachMMIO implements hv.Machine.
func (m *Machine) AttachMMIO(dev abi.MmioDev) int32 {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		slog.Warn("softvm: attach on closed machine", "name", dev.Name())
		return hv.StatusInvalidMMIO
	}
	if m.running && !m.config.HotAttach {
		return hv.StatusVMIsRunning
	}

	region := hv.MMIORegion{Address: dev.Begin, Size: uint64(dev.Size)}
	if region.Overlaps(m.ramRegion()) {
		slog.Warn("softvm: device overlaps RAM", "name", dev.Name(), "region", region.String())
		return hv.StatusInvalidMMIO
	}

	owned := dev
	handle, err := m.chipset.Register(&owned)
	if err != nil {
		slog.Warn("softvm: attach rejected", "name", dev.Name(), "error", err)
		return hv.StatusInvalidMMIO
	}

	slog.Debug("softvm: attached device", "name", dev.Name(), "region", region.String(), "handle", handle)
	return handle
}

// GetMMIO implements hv.Machine.
func (m *Machine) GetMMIO(handle int32) *abi.MmioDev {
	if handle < 0 {
		return nil
	}
	return m.chipset.Lookup(handle)
}

// RemoveMMIO implements hv.Machine.
func (m *Machine) RemoveMMIO(handle int32) {
	if handle < 0 {
		return
	}
	dev := m.chipset.Unregister(handle)
	if dev == nil {
		return
	}
	slog.Debug("softvm: removing device", "name", dev.Name(), "handle", handle)
	removeDevice(dev)
}

func removeDevice(dev *abi.MmioDev) {
	if dev.Type != nil && dev.Type.Remove != nil {
		dev.Type.Remove(dev)
	}
}

// Devices returns the number of attached devices.
func (m *Machine) Devices() int { return m.chipset.Len() }

// Start implements hv.Machine. It reports false if the machine was already
// running or is closed.
func (m *Machine) Start() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running || m.closed {
		return false
	}

	m.running = true
	m.stop = make(chan struct{})
	m.done = make(chan struct{})
	go m.updateLoop(m.config.UpdateInterval, m.stop, m.done)
	return true
}

// Pause implements hv.Machine. It reports false if the machine was not
// running.
func (m *Machine) Pause() bool {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return false
	}
	m.running = false
	stop, done := m.stop, m.done
	m.stop, m.done = nil, nil
	m.mu.Unlock()

	close(stop)
	<-done
	return true
}

// Running implements hv.Machine.
func (m *Machine) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

// Reset implements hv.Machine.
func (m *Machine) Reset() {
	m.chipset.Reset()
}

// Update runs one device update pass.
func (m *Machine) Update() {
	m.chipset.Update()
}

func (m *Machine) updateLoop(interval time.Duration, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			m.chipset.Update()
		}
	}
}

// ReadRAM implements hv.Machine.
func (m *Machine) ReadRAM(dest []byte, addr uint64) bool {
	m.ramMu.RLock()
	defer m.ramMu.RUnlock()
	off, ok := m.ramOffset(addr, uint64(len(dest)))
	if !ok {
		return false
	}
	copy(dest, m.ram[off:])
	return true
}

// WriteRAM implements hv.Machine.
func (m *Machine) WriteRAM(addr uint64, src []byte) bool {
	m.ramMu.RLock()
	defer m.ramMu.RUnlock()
	off, ok := m.ramOffset(addr, uint64(len(src)))
	if !ok {
		return false
	}
	copy(m.ram[off:], src)
	return true
}

// ramOffset requires ramMu.
func (m *Machine) ramOffset(addr, size uint64) (uint64, bool) {
	if m.ram == nil {
		return 0, false
	}
	end := addr + size
	if end < addr || addr < m.config.MemBase || end > m.config.MemBase+m.config.MemSize {
		return 0, false
	}
	return addr - m.config.MemBase, true
}

// Load performs a guest load of len(data) bytes at addr.
func (m *Machine) Load(addr uint64, data []byte) error {
	return m.access(addr, data, false)
}

// Store performs a guest store of data at addr.
func (m *Machine) Store(addr uint64, data []byte) error {
	return m.access(addr, data, true)
}

func (m *Machine) access(addr uint64, data []byte, isWrite bool) error {
	m.ramMu.RLock()
	if off, ok := m.ramOffset(addr, uint64(len(data))); ok {
		if isWrite {
			copy(m.ram[off:], data)
		} else {
			copy(data, m.ram[off:])
		}
		m.ramMu.RUnlock()
		return nil
	}
	closed := m.ram == nil
	m.ramMu.RUnlock()
	if closed {
		return hv.ErrMachineClosed
	}

	if err := m.chipset.HandleMMIO(addr, data, isWrite); err != nil {
		if errors.Is(err, chipset.ErrNoDevice) {
			return fmt.Errorf("%w: %w", ErrOutOfRange, err)
		}
		slog.Debug("softvm: MMIO access failed", "addr", fmt.Sprintf("0x%x", addr), "write", isWrite, "error", err)
		return err
	}
	return nil
}

// Close pauses the machine, removes every attached device and releases RAM.
// Each device's remove entry point runs exactly once.
func (m *Machine) Close() error {
	m.Pause()

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	for _, dev := range m.chipset.UnregisterAll() {
		removeDevice(dev)
	}

	m.ramMu.Lock()
	defer m.ramMu.Unlock()
	ram := m.ram
	m.ram = nil
	if err := freeRAM(ram); err != nil {
		return fmt.Errorf("softvm: release RAM: %w", err)
	}
	return nil
}
