//go:build (linux || darwin) && (amd64 || arm64)

package native

import (
	"errors"
	"fmt"
	"os"
	"runtime"
	"sync"
	"unsafe"

	"github.com/ebitengine/purego"

	"github.com/tinyrange/rvvm/internal/hv"
)

// LibraryEnv overrides the librvvm path when no explicit path is given.
const LibraryEnv = "RVVM_LIBRARY"

var (
	loadOnce sync.Once
	loadErr  error

	rvvmLib uintptr
	libcLib uintptr
)

// cMmioType mirrors rvvm_mmio_type_t.
type cMmioType struct {
	name   uintptr
	remove uintptr
	update uintptr
	reset  uintptr
}

// cMmioDev mirrors rvvm_mmio_dev_t.
type cMmioDev struct {
	addr      uint64
	size      uintptr
	data      uintptr
	machine   uintptr
	typ       uintptr
	read      uintptr
	write     uintptr
	minOpSize uint8
	maxOpSize uint8
}

// ---- Function variables (populated by load) ----

var (
	rvvm_create_machine  func(memBase uint64, memSize uintptr, harts uintptr, rv64 bool) uintptr
	rvvm_free_machine    func(machine uintptr)
	rvvm_start_machine   func(machine uintptr) bool
	rvvm_pause_machine   func(machine uintptr) bool
	rvvm_reset_machine   func(machine uintptr, reset bool)
	rvvm_machine_running func(machine uintptr) bool
	rvvm_attach_mmio     func(machine uintptr, mmio *cMmioDev) int32
	rvvm_get_mmio        func(machine uintptr, handle int32) uintptr
	rvvm_remove_mmio     func(machine uintptr, handle int32)
	rvvm_read_ram        func(machine uintptr, dest unsafe.Pointer, src uint64, size uintptr) bool
	rvvm_write_ram       func(machine uintptr, dest uint64, src unsafe.Pointer, size uintptr) bool

	libc_malloc func(size uintptr) uintptr
	libc_free   func(ptr uintptr)
)

func defaultLibraryPath() string {
	if path := os.Getenv(LibraryEnv); path != "" {
		return path
	}
	if runtime.GOOS == "darwin" {
		return "librvvm.dylib"
	}
	return "librvvm.so"
}

func libcPath() string {
	if runtime.GOOS == "darwin" {
		return "/usr/lib/libSystem.B.dylib"
	}
	return "libc.so.6"
}

// load opens librvvm and libc and binds the functions used here. Only the
// first call's path is honoured.
func load(path string) error {
	loadOnce.Do(func() {
		if path == "" {
			path = defaultLibraryPath()
		}

		var err error
		rvvmLib, err = purego.Dlopen(path, purego.RTLD_NOW|purego.RTLD_GLOBAL)
		if err != nil {
			loadErr = fmt.Errorf("%w: purego dlopen %s: %w", hv.ErrRuntimeUnavailable, path, err)
			return
		}
		libcLib, err = purego.Dlopen(libcPath(), purego.RTLD_NOW|purego.RTLD_GLOBAL)
		if err != nil {
			loadErr = fmt.Errorf("%w: purego dlopen libc: %w", hv.ErrRuntimeUnavailable, err)
			return
		}

		// Check for the attach entry point first; RegisterLibFunc panics on
		// missing symbols.
		if _, err := purego.Dlsym(rvvmLib, "rvvm_attach_mmio"); err != nil {
			loadErr = fmt.Errorf("%w: %s is not librvvm: %w", hv.ErrRuntimeUnavailable, path, err)
			return
		}

		purego.RegisterLibFunc(&rvvm_create_machine, rvvmLib, "rvvm_create_machine")
		purego.RegisterLibFunc(&rvvm_free_machine, rvvmLib, "rvvm_free_machine")
		purego.RegisterLibFunc(&rvvm_start_machine, rvvmLib, "rvvm_start_machine")
		purego.RegisterLibFunc(&rvvm_pause_machine, rvvmLib, "rvvm_pause_machine")
		purego.RegisterLibFunc(&rvvm_reset_machine, rvvmLib, "rvvm_reset_machine")
		purego.RegisterLibFunc(&rvvm_machine_running, rvvmLib, "rvvm_machine_running")
		purego.RegisterLibFunc(&rvvm_attach_mmio, rvvmLib, "rvvm_attach_mmio")
		purego.RegisterLibFunc(&rvvm_get_mmio, rvvmLib, "rvvm_get_mmio")
		purego.RegisterLibFunc(&rvvm_remove_mmio, rvvmLib, "rvvm_remove_mmio")
		purego.RegisterLibFunc(&rvvm_read_ram, rvvmLib, "rvvm_read_ram")
		purego.RegisterLibFunc(&rvvm_write_ram, rvvmLib, "rvvm_write_ram")

		purego.RegisterLibFunc(&libc_malloc, libcLib, "malloc")
		purego.RegisterLibFunc(&libc_free, libcLib, "free")

		initCallbacks()
	})
	return loadErr
}

// cFree releases C memory. Tests replace it.
var cFree = func(p uintptr) { libc_free(p) }

var errOutOfMemory = errors.New("native: malloc returned NULL")

// cAlloc allocates size bytes of C memory. Exhaustion is fatal, matching
// the Go heap.
func cAlloc(size uintptr) uintptr {
	p := libc_malloc(size)
	if p == 0 {
		panic(fmt.Errorf("%w (%d bytes)", errOutOfMemory, size))
	}
	return p
}

// cString copies a NUL-terminated byte slice into C memory.
func cString(b []byte) uintptr {
	p := cAlloc(uintptr(len(b)))
	copy(unsafe.Slice((*byte)(unsafe.Pointer(p)), len(b)), b)
	return p
}
