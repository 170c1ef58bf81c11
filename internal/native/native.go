//go:build (linux || darwin) && (amd64 || arm64)

package native

import (
	"fmt"
	"log/slog"
	"sync"
	"unsafe"

	"github.com/tinyrange/rvvm/internal/abi"
	"github.com/tinyrange/rvvm/internal/hv"
)

type nativeRuntime struct {
	path string
}

// Open loads librvvm from path (or the default search path when empty).
func Open(path string) (hv.Runtime, error) {
	if err := load(path); err != nil {
		return nil, err
	}
	return &nativeRuntime{path: path}, nil
}

func (r *nativeRuntime) Close() error { return nil }

func (r *nativeRuntime) Name() string { return "native" }

func (r *nativeRuntime) NewMachine(config hv.MachineConfig) (hv.Machine, error) {
	if config.Harts < 1 {
		return nil, fmt.Errorf("native: hart count must be at least 1 (got %d)", config.Harts)
	}
	if config.HotAttach {
		slog.Warn("native: librvvm does not support hot attach; option ignored")
	}

	ptr := rvvm_create_machine(config.MemBase, uintptr(config.MemSize), uintptr(config.Harts), config.RV64)
	if ptr == 0 {
		return nil, fmt.Errorf("native: rvvm_create_machine returned NULL")
	}
	return &machine{ptr: ptr, config: config}, nil
}

type machine struct {
	mu     sync.Mutex
	ptr    uintptr
	config hv.MachineConfig
}

var _ hv.Machine = (*machine)(nil)

func (m *machine) handle() uintptr {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ptr
}

func (m *machine) Pointer() unsafe.Pointer { return unsafe.Pointer(m) }
func (m *machine) MemBase() uint64         { return m.config.MemBase }
func (m *machine) MemSize() uint64         { return m.config.MemSize }

func (m *machine) AttachMMIO(dev abi.MmioDev) int32 {
	ptr := m.handle()
	if ptr == 0 {
		return hv.StatusInvalidMMIO
	}

	owned := dev
	entry := &bridgeEntry{dev: &owned, pending: true}

	var name []byte
	if dev.Type != nil {
		name = abi.CStringBytes(dev.Type.Name)
	}
	if len(name) == 0 {
		name = []byte{0}
	}
	entry.cname = cString(name)

	entry.ctype = cAlloc(unsafe.Sizeof(cMmioType{}))
	*(*cMmioType)(unsafe.Pointer(entry.ctype)) = cMmioType{
		name:   entry.cname,
		remove: removeCallback,
		update: updateCallback,
		reset:  resetCallback,
	}

	id := bridge.add(entry)
	cdev := cMmioDev{
		addr:      dev.Begin,
		size:      dev.Size,
		data:      id,
		machine:   ptr,
		typ:       entry.ctype,
		read:      readCallback,
		write:     writeCallback,
		minOpSize: dev.MinOpSize,
		maxOpSize: dev.MaxOpSize,
	}

	handle := rvvm_attach_mmio(ptr, &cdev)
	if handle < 0 {
		bridge.reject(id)
		return handle
	}
	bridge.commit(id)
	return handle
}

func (m *machine) GetMMIO(handle int32) *abi.MmioDev {
	ptr := m.handle()
	if ptr == 0 || handle < 0 {
		return nil
	}
	cdev := rvvm_get_mmio(ptr, handle)
	if cdev == 0 {
		return nil
	}
	e := bridge.get(dataID(cdev))
	if e == nil {
		return nil
	}
	return e.dev
}

func (m *machine) RemoveMMIO(handle int32) {
	if ptr := m.handle(); ptr != 0 && handle >= 0 {
		rvvm_remove_mmio(ptr, handle)
	}
}

func (m *machine) Start() bool {
	ptr := m.handle()
	return ptr != 0 && rvvm_start_machine(ptr)
}

func (m *machine) Pause() bool {
	ptr := m.handle()
	return ptr != 0 && rvvm_pause_machine(ptr)
}

func (m *machine) Running() bool {
	ptr := m.handle()
	return ptr != 0 && rvvm_machine_running(ptr)
}

func (m *machine) Reset() {
	if ptr := m.handle(); ptr != 0 {
		rvvm_reset_machine(ptr, true)
	}
}

func (m *machine) ReadRAM(dest []byte, addr uint64) bool {
	ptr := m.handle()
	if ptr == 0 {
		return false
	}
	if len(dest) == 0 {
		return true
	}
	return rvvm_read_ram(ptr, unsafe.Pointer(&dest[0]), addr, uintptr(len(dest)))
}

func (m *machine) WriteRAM(addr uint64, src []byte) bool {
	ptr := m.handle()
	if ptr == 0 {
		return false
	}
	if len(src) == 0 {
		return true
	}
	return rvvm_write_ram(ptr, addr, unsafe.Pointer(&src[0]), uintptr(len(src)))
}

// Close frees the machine. librvvm calls the remove callback of every
// attached device while doing so.
func (m *machine) Close() error {
	m.mu.Lock()
	ptr := m.ptr
	m.ptr = 0
	m.mu.Unlock()

	if ptr != 0 {
		rvvm_free_machine(ptr)
	}
	return nil
}
