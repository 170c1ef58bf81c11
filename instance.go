package rvvm

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/tinyrange/rvvm/internal/hv"
	"github.com/tinyrange/rvvm/internal/hv/factory"
)

// Instance is a virtual machine that devices can be attached to.
type Instance struct {
	mu      sync.Mutex
	runtime hv.Runtime
	machine hv.Machine
	config  Config
	closed  bool
}

// NewInstance creates a paused machine. Failures wrap ErrInstanceCreate.
func NewInstance(cfg Config) (*Instance, error) {
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInstanceCreate, err)
	}
	if cfg.UpdateInterval == 0 {
		cfg.UpdateInterval = hv.DefaultUpdateInterval
	}

	rt, err := factory.Open(cfg.Backend, cfg.Library)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInstanceCreate, err)
	}

	m, err := rt.NewMachine(cfg.machineConfig())
	if err != nil {
		rt.Close()
		return nil, fmt.Errorf("%w: %w", ErrInstanceCreate, err)
	}

	slog.Debug("rvvm: created instance", "backend", rt.Name(), "harts", cfg.Harts,
		"mem_base", fmt.Sprintf("0x%x", cfg.MemBase), "mem_size", cfg.MemSize, "rv64", cfg.RV64)

	return &Instance{runtime: rt, machine: m, config: cfg}, nil
}

func (i *Instance) liveMachine() (hv.Machine, error) {
	if i == nil {
		return nil, ErrInstanceClosed
	}
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.closed {
		return nil, ErrInstanceClosed
	}
	return i.machine, nil
}

// Backend returns the name of the runtime backing the instance.
func (i *Instance) Backend() string { return i.runtime.Name() }

// Config returns the configuration the instance was created with.
func (i *Instance) Config() Config { return i.config }

func (i *Instance) MemBase() uint64 { return i.config.MemBase }
func (i *Instance) MemSize() uint64 { return i.config.MemSize }

// Start runs the machine. It reports false if it was already running.
func (i *Instance) Start() bool {
	m, err := i.liveMachine()
	return err == nil && m.Start()
}

// Pause stops the machine. It reports false if it was not running.
func (i *Instance) Pause() bool {
	m, err := i.liveMachine()
	return err == nil && m.Pause()
}

// Running reports whether the machine is executing.
func (i *Instance) Running() bool {
	m, err := i.liveMachine()
	return err == nil && m.Running()
}

// Reset resets the machine and every attached device implementing Resetter.
func (i *Instance) Reset() error {
	m, err := i.liveMachine()
	if err != nil {
		return err
	}
	m.Reset()
	return nil
}

func (i *Instance) checkRAM(addr uint64, n int) error {
	base, size := i.config.MemBase, i.config.MemSize
	if addr < base || addr >= base+size {
		return fmt.Errorf("%w: 0x%x", ErrInvalidMemoryRegion, addr)
	}
	if uint64(n) > base+size-addr {
		return fmt.Errorf("%w: %d bytes at 0x%x", ErrBufferTooLong, n, addr)
	}
	return nil
}

// ReadRAM copies guest RAM at addr into dest.
func (i *Instance) ReadRAM(dest []byte, addr uint64) error {
	m, err := i.liveMachine()
	if err != nil {
		return err
	}
	if err := i.checkRAM(addr, len(dest)); err != nil {
		return err
	}
	if !m.ReadRAM(dest, addr) {
		return fmt.Errorf("%w: read of %d bytes at 0x%x failed", ErrInvalidMemoryRegion, len(dest), addr)
	}
	return nil
}

// WriteRAM copies src into guest RAM at addr.
func (i *Instance) WriteRAM(addr uint64, src []byte) error {
	m, err := i.liveMachine()
	if err != nil {
		return err
	}
	if err := i.checkRAM(addr, len(src)); err != nil {
		return err
	}
	if !m.WriteRAM(addr, src) {
		return fmt.Errorf("%w: write of %d bytes at 0x%x failed", ErrInvalidMemoryRegion, len(src), addr)
	}
	return nil
}

// guestAccessor is implemented by runtimes that can perform guest accesses
// on behalf of the host.
type guestAccessor interface {
	Load(addr uint64, data []byte) error
	Store(addr uint64, data []byte) error
}

// Load performs a guest-visible load of len(data) bytes at addr, routed to
// RAM or to the attached device covering it. Only the in-process backend
// supports it.
func (i *Instance) Load(addr uint64, data []byte) error {
	a, err := i.accessor()
	if err != nil {
		return err
	}
	return a.Load(addr, data)
}

// Store performs a guest-visible store. See Load.
func (i *Instance) Store(addr uint64, data []byte) error {
	a, err := i.accessor()
	if err != nil {
		return err
	}
	return a.Store(addr, data)
}

func (i *Instance) accessor() (guestAccessor, error) {
	m, err := i.liveMachine()
	if err != nil {
		return nil, err
	}
	a, ok := m.(guestAccessor)
	if !ok {
		return nil, fmt.Errorf("%w: guest access on %s backend", ErrUnsupported, i.runtime.Name())
	}
	return a, nil
}

// Close frees the machine. Every attached device is removed through its
// remove entry point. Handles become invalid.
func (i *Instance) Close() error {
	i.mu.Lock()
	if i.closed {
		i.mu.Unlock()
		return nil
	}
	i.closed = true
	i.mu.Unlock()

	err := i.machine.Close()
	if cerr := i.runtime.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("rvvm: close instance: %w", err)
	}
	return nil
}
