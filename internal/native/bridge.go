//go:build (linux || darwin) && (amd64 || arm64)

package native

import (
	"sync"
	"unsafe"

	"github.com/ebitengine/purego"

	"github.com/tinyrange/rvvm/internal/abi"
)

// C may not retain Go pointers, so the descriptor given to librvvm carries
// a bridge id in its data field. Five process-wide C callbacks map that id
// back to the Go descriptor and call its entry points.

type bridgeEntry struct {
	dev *abi.MmioDev

	ctype uintptr
	cname uintptr

	// pending is set while rvvm_attach_mmio runs. A remove callback that
	// arrives for a pending entry belongs to a rejected attach: the Go
	// descriptor still belongs to the caller and must not be destroyed.
	pending bool
}

type bridgeTable struct {
	mu      sync.Mutex
	next    uintptr
	entries map[uintptr]*bridgeEntry
}

var bridge = newBridgeTable()

func newBridgeTable() *bridgeTable {
	return &bridgeTable{next: 1, entries: make(map[uintptr]*bridgeEntry)}
}

func (b *bridgeTable) add(e *bridgeEntry) uintptr {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.next
	b.next++
	b.entries[id] = e
	return id
}

func (b *bridgeTable) get(id uintptr) *bridgeEntry {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.entries[id]
}

func (b *bridgeTable) commit(id uintptr) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if e := b.entries[id]; e != nil {
		e.pending = false
	}
}

// take removes id unless it is pending.
func (b *bridgeTable) take(id uintptr) *bridgeEntry {
	b.mu.Lock()
	defer b.mu.Unlock()
	e := b.entries[id]
	if e == nil || e.pending {
		return nil
	}
	delete(b.entries, id)
	return e
}

// discard drops a pending entry after a rejected attach.
func (b *bridgeTable) discard(id uintptr) *bridgeEntry {
	b.mu.Lock()
	defer b.mu.Unlock()
	e := b.entries[id]
	delete(b.entries, id)
	return e
}

// remove destroys an attached entry: the Go remove entry point runs, then
// the C copies of the name and type are freed. It reports false for unknown
// or pending ids, so each entry is destroyed at most once and a rejected
// attach never destroys the caller's descriptor.
func (b *bridgeTable) remove(id uintptr) bool {
	e := b.take(id)
	if e == nil {
		return false
	}
	if e.dev.Type != nil && e.dev.Type.Remove != nil {
		e.dev.Type.Remove(e.dev)
	}
	e.freeC()
	return true
}

// reject drops a pending entry after librvvm refused it. Only the C memory
// is freed; the Go descriptor stays with the caller.
func (b *bridgeTable) reject(id uintptr) {
	if e := b.discard(id); e != nil {
		e.freeC()
	}
}

func (e *bridgeEntry) freeC() {
	if e.cname != 0 {
		cFree(e.cname)
		e.cname = 0
	}
	if e.ctype != 0 {
		cFree(e.ctype)
		e.ctype = 0
	}
}

var (
	readCallback   uintptr
	writeCallback  uintptr
	removeCallback uintptr
	updateCallback uintptr
	resetCallback  uintptr
)

func dataID(dev uintptr) uintptr {
	if dev == 0 {
		return 0
	}
	return (*cMmioDev)(unsafe.Pointer(dev)).data
}

func initCallbacks() {
	rw := func(write bool) uintptr {
		return purego.NewCallback(func(dev, dest, offset, size uintptr) uintptr {
			e := bridge.get(dataID(dev))
			if e == nil {
				return 0
			}
			handler := e.dev.Read
			if write {
				handler = e.dev.Write
			}
			if handler == nil || !handler(e.dev, unsafe.Pointer(dest), offset, uint8(size)) {
				return 0
			}
			return 1
		})
	}
	readCallback = rw(false)
	writeCallback = rw(true)

	removeCallback = purego.NewCallback(func(dev uintptr) uintptr {
		bridge.remove(dataID(dev))
		return 0
	})

	lifecycle := func(pick func(t *abi.MmioType) abi.HandlerFunc) uintptr {
		return purego.NewCallback(func(dev uintptr) uintptr {
			e := bridge.get(dataID(dev))
			if e == nil || e.dev.Type == nil {
				return 0
			}
			if fn := pick(e.dev.Type); fn != nil {
				fn(e.dev)
			}
			return 0
		})
	}
	updateCallback = lifecycle(func(t *abi.MmioType) abi.HandlerFunc { return t.Update })
	resetCallback = lifecycle(func(t *abi.MmioType) abi.HandlerFunc { return t.Reset })
}
