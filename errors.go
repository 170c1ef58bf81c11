package rvvm

import (
	"errors"
	"fmt"

	"github.com/tinyrange/rvvm/internal/alloc"
	"github.com/tinyrange/rvvm/internal/hv"
)

var (
	// ErrRegionOverlap rejects an attachment whose region intersects an
	// attached device (or guest RAM).
	ErrRegionOverlap = errors.New("rvvm: device region overlaps an attached device")

	// ErrVMIsRunning rejects an attachment made while the machine runs.
	ErrVMIsRunning = errors.New("rvvm: machine is running")

	// ErrUnknownStatus is returned when the runtime reports a negative
	// attachment status this package does not know.
	ErrUnknownStatus = errors.New("rvvm: unknown attachment status")

	// ErrInvalidName rejects empty device names and names containing NUL.
	ErrInvalidName = alloc.ErrInvalidName

	// ErrAllocationFailure is raised as a panic, never returned.
	ErrAllocationFailure = alloc.ErrAllocationFailure

	ErrInstanceCreate     = errors.New("rvvm: failed to create machine instance")
	ErrRuntimeUnavailable = hv.ErrRuntimeUnavailable
	ErrInstanceClosed     = errors.New("rvvm: instance closed")

	ErrInvalidMemoryRegion = errors.New("rvvm: invalid memory region specified")
	ErrBufferTooLong       = errors.New("rvvm: buffer will overflow specified region")

	ErrNoSuchDevice = errors.New("rvvm: no such device")
	ErrNotOwned     = errors.New("rvvm: device is not owned by the caller")
	ErrUnsupported  = errors.New("rvvm: operation not supported by this backend")
)

// AttachError describes a rejected attachment. The caller still owns the
// device.
type AttachError struct {
	State   AttachState
	Name    string
	Address uint64
	Size    uint64
	Status  int32
	Err     error
}

func (e *AttachError) Error() string {
	return fmt.Sprintf("rvvm: attach %q at 0x%x (size 0x%x): %v", e.Name, e.Address, e.Size, e.Err)
}

func (e *AttachError) Unwrap() error { return e.Err }
