// Package rvvm attaches strongly-typed Go devices to the MMIO bus of an
// RVVM virtual machine.
//
// A device type is any T whose pointer implements Capability[T]. NewDevice
// boxes the device state, builds the type descriptor and binds entry points
// instantiated for T, so the runtime can call back into typed code through a
// descriptor that records nothing about T:
//
//	type uart struct{ lsr byte }
//
//	func (u *uart) Name() string                          { return "UART" }
//	func (u *uart) Read(offset uint64, data []byte) error  { ... }
//	func (u *uart) Write(offset uint64, data []byte) error { ... }
//
//	dev, err := rvvm.NewDevice[uart](0x10000000, 0x100, rvvm.OpSize(1, 1), uart{})
//	handle, err := rvvm.Attach(inst, dev)
//
// Attach moves ownership to the machine on success; dev is forgotten and the
// runtime destroys the state when the device is removed. On rejection the
// caller still owns dev and may retry or Close it.
//
// Optional behaviour is expressed with the Resetter, Updater and Remover
// interfaces; a type that does not implement them gets no-op defaults.
package rvvm
