// Package alloc accounts for the host storage that backs device data and
// type-descriptor names while ownership moves between the caller and the
// runtime.
//
// Every allocation is recorded until it is released. Releasing storage that
// is not live (a double free, or a pointer this heap never handed out) is a
// programming error and panics.
package alloc

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"unsafe"
)

var (
	// ErrAllocationFailure is the panic value (wrapped) raised when a heap
	// cannot satisfy an allocation. It is never returned.
	ErrAllocationFailure = errors.New("alloc: allocation failure")

	// ErrInvalidName is returned when a string destined for C storage
	// contains a NUL byte.
	ErrInvalidName = errors.New("alloc: string contains NUL byte")
)

// ZeroSized is the data pointer handed out for zero-size types. It is a
// sentinel and must never be dereferenced.
var ZeroSized = unsafe.Pointer(&zeroSizedSentinel)

var zeroSizedSentinel byte

// Kind classifies an allocation.
type Kind uint8

const (
	KindData Kind = iota
	KindString
)

func (k Kind) String() string {
	switch k {
	case KindData:
		return "data"
	case KindString:
		return "string"
	default:
		return fmt.Sprintf("Kind(%d)", uint8(k))
	}
}

// Event is a traced allocation or release.
type Event struct {
	Kind  Kind
	Alloc bool
	Size  uintptr
	Label string
}

// Stats summarizes heap activity.
type Stats struct {
	Allocs    int
	Frees     int
	Live      int
	LiveBytes uint64
}

type allocation struct {
	kind  Kind
	size  uintptr
	label string
}

// Heap tracks live allocations. The zero value is not usable; use NewHeap.
type Heap struct {
	mu sync.Mutex

	limit  uint64
	trace  bool
	live   map[unsafe.Pointer]allocation
	stats  Stats
	events []Event
}

// Option configures a Heap.
type Option func(*Heap)

// WithLimit caps the number of live bytes. Exceeding it panics with
// ErrAllocationFailure.
func WithLimit(bytes uint64) Option {
	return func(h *Heap) { h.limit = bytes }
}

// WithTrace records every allocation and release in order.
func WithTrace() Option {
	return func(h *Heap) { h.trace = true }
}

// NewHeap returns an empty heap.
func NewHeap(opts ...Option) *Heap {
	h := &Heap{live: make(map[unsafe.Pointer]allocation)}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

var defaultHeap = NewHeap()

// Default returns the process-wide heap used when no heap is configured.
func Default() *Heap { return defaultHeap }

// Box moves v into heap storage and returns the erased pointer. Zero-size
// types are not allocated; ZeroSized is returned instead.
func Box[T any](h *Heap, v T) unsafe.Pointer {
	size := unsafe.Sizeof(v)
	if size == 0 {
		return ZeroSized
	}

	p := new(T)
	*p = v

	label := ""
	if h.trace {
		label = fmt.Sprintf("%T", v)
	}
	h.track(unsafe.Pointer(p), allocation{kind: KindData, size: size, label: label})
	return unsafe.Pointer(p)
}

// Drop releases storage returned by Box for the same T. The value is zeroed
// so nothing it references stays reachable through a stale pointer.
func Drop[T any](h *Heap, p unsafe.Pointer) {
	if p == ZeroSized {
		return
	}
	if p == nil {
		panic("alloc: drop of nil data pointer")
	}
	h.untrack(p, KindData)

	var zero T
	*(*T)(p) = zero
}

// CString copies s into NUL-terminated storage.
func (h *Heap) CString(s string) (*byte, error) {
	if strings.IndexByte(s, 0) >= 0 {
		return nil, fmt.Errorf("%w: %q", ErrInvalidName, s)
	}

	buf := make([]byte, len(s)+1)
	copy(buf, s)

	label := ""
	if h.trace {
		label = s
	}
	h.track(unsafe.Pointer(&buf[0]), allocation{kind: KindString, size: uintptr(len(buf)), label: label})
	return &buf[0], nil
}

// FreeCString releases storage returned by CString.
func (h *Heap) FreeCString(p *byte) {
	if p == nil {
		panic("alloc: free of nil string")
	}
	h.untrack(unsafe.Pointer(p), KindString)
}

// Owns reports whether p is a live allocation of this heap.
func (h *Heap) Owns(p unsafe.Pointer) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	_, ok := h.live[p]
	return ok
}

// Stats returns a snapshot of the heap counters.
func (h *Heap) Stats() Stats {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.stats
}

// Events returns the traced events. It is empty unless WithTrace was used.
func (h *Heap) Events() []Event {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]Event(nil), h.events...)
}

func (h *Heap) track(p unsafe.Pointer, a allocation) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.limit != 0 && h.stats.LiveBytes+uint64(a.size) > h.limit {
		panic(fmt.Errorf("%w: %d bytes requested with %d of %d live",
			ErrAllocationFailure, a.size, h.stats.LiveBytes, h.limit))
	}

	h.live[p] = a
	h.stats.Allocs++
	h.stats.Live++
	h.stats.LiveBytes += uint64(a.size)
	if h.trace {
		h.events = append(h.events, Event{Kind: a.kind, Alloc: true, Size: a.size, Label: a.label})
	}
}

func (h *Heap) untrack(p unsafe.Pointer, kind Kind) {
	h.mu.Lock()
	defer h.mu.Unlock()

	a, ok := h.live[p]
	if !ok {
		panic(fmt.Sprintf("alloc: release of %s storage %p that is not live", kind, p))
	}
	if a.kind != kind {
		panic(fmt.Sprintf("alloc: release of %s storage %p as %s", a.kind, p, kind))
	}

	delete(h.live, p)
	h.stats.Frees++
	h.stats.Live--
	h.stats.LiveBytes -= uint64(a.size)
	if h.trace {
		h.events = append(h.events, Event{Kind: a.kind, Alloc: false, Size: a.size, Label: a.label})
	}
}
