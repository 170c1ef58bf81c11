// Package native binds librvvm with purego, without cgo.
//
// The library is opened lazily by Open. Descriptors are copied into C memory
// in RVVM's rvvm_mmio_dev_t and rvvm_mmio_type_t layouts; the Go descriptor
// stays on the Go side and is reached from C through a bridge id.
package native
