package rvvm

// Capability is the behaviour of device type T, implemented on *T.
//
// Read and Write receive the offset into the device region and a buffer of
// exactly the requested operation size. The runtime guarantees the size is
// within the declared OpSizes and the offset is below the device size. An
// error is reported to the runtime as a failed access only; it never
// detaches the device.
//
// Name must be non-empty, contain no NUL byte and not depend on the value.
//
// The runtime may call Read and Write from its own threads concurrently with
// each other and with the caller, so T must synchronise any shared state.
type Capability[T any] interface {
	*T

	Name() string
	Read(offset uint64, data []byte) error
	Write(offset uint64, data []byte) error
}

// Resetter is implemented by devices that react to a machine reset.
type Resetter interface {
	Reset()
}

// Updater is implemented by devices that want periodic updates while the
// machine runs.
type Updater interface {
	Update()
}

// Remover is implemented by devices that need a hook when the runtime
// removes them. It runs before the device state is released.
type Remover interface {
	Remove()
}

// OpSizes bounds the size in bytes of a single access.
type OpSizes struct {
	Min uint8
	Max uint8
}

// OpSize returns the inclusive range [min, max]. min <= max is the caller's
// responsibility and is not checked.
func OpSize(min, max uint8) OpSizes {
	return OpSizes{Min: min, Max: max}
}

// Nop can be embedded in a device type to opt in to reset and update
// entry points that do nothing.
type Nop struct{}

func (Nop) Reset()  {}
func (Nop) Update() {}
