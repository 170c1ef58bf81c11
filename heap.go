package rvvm

import "github.com/tinyrange/rvvm/internal/alloc"

// Heap accounts for device state and type names. Devices use the
// process-wide heap unless WithHeap is given.
type Heap = alloc.Heap

// HeapStats summarizes heap activity.
type HeapStats = alloc.Stats

// HeapEvent is a traced allocation or release.
type HeapEvent = alloc.Event

// HeapOption configures a Heap.
type HeapOption = alloc.Option

// NewHeap returns an empty heap, typically for accounting in tests.
func NewHeap(opts ...HeapOption) *Heap { return alloc.NewHeap(opts...) }

// WithHeapLimit caps live bytes; exceeding the cap panics with
// ErrAllocationFailure.
func WithHeapLimit(bytes uint64) HeapOption { return alloc.WithLimit(bytes) }

// WithHeapTrace records every allocation and release in order.
func WithHeapTrace() HeapOption { return alloc.WithTrace() }
