package rvvm

import (
	"fmt"
	"log/slog"

	"github.com/tinyrange/rvvm/internal/abi"
	"github.com/tinyrange/rvvm/internal/hv"
)

// AttachState is the state a device is left in after the machine refused
// it. A device is pending only for the duration of the runtime call, and an
// accepted device is represented by its Handle.
type AttachState int

const (
	StateUnattached AttachState = iota
	StateRejectedOverlap
	StateRejectedRunning
)

func (s AttachState) String() string {
	switch s {
	case StateUnattached:
		return "unattached"
	case StateRejectedOverlap:
		return "rejected-overlap"
	case StateRejectedRunning:
		return "rejected-running"
	default:
		return fmt.Sprintf("AttachState(%d)", int(s))
	}
}

// Transfer is the ownership outcome of handing a descriptor to a machine.
type Transfer int

const (
	ReturnedUnchanged Transfer = iota
	Moved
)

func (t Transfer) String() string {
	if t == Moved {
		return "moved"
	}
	return "returned-unchanged"
}

// transfer hands raw to m by value. On Moved the machine owns everything
// raw points at and the caller must forget its copy without destroying it.
func transfer(m hv.Machine, raw abi.MmioDev) (int32, Transfer) {
	status := m.AttachMMIO(raw)
	if status >= 0 {
		return status, Moved
	}
	return status, ReturnedUnchanged
}

// rejection maps a negative attachment status to its state and error.
func rejection(status int32) (AttachState, error) {
	switch status {
	case hv.StatusInvalidMMIO:
		return StateRejectedOverlap, ErrRegionOverlap
	case hv.StatusVMIsRunning:
		return StateRejectedRunning, ErrVMIsRunning
	default:
		return StateUnattached, fmt.Errorf("%w: %d", ErrUnknownStatus, status)
	}
}

// Attach registers dev with the instance's machine.
//
// On success the machine owns the device: dev is released on the caller
// side (Owned reports false) and the returned handle is the only way back
// to it. On failure the error is an *AttachError wrapping ErrRegionOverlap
// or ErrVMIsRunning, and dev is unchanged and still owned by the caller.
func Attach[T any](inst *Instance, dev *Device[T]) (Handle[T], error) {
	if dev == nil || !dev.Owned() {
		return Handle[T]{}, ErrNotOwned
	}
	m, err := inst.liveMachine()
	if err != nil {
		return Handle[T]{}, err
	}

	name := dev.Name()

	// Pending until the runtime answers. The back-reference is bookkeeping
	// only.
	dev.raw.Machine = m.Pointer()
	status, outcome := transfer(m, dev.raw)

	if outcome == Moved {
		dev.raw = abi.MmioDev{}
		slog.Debug("rvvm: attached device", "name", name, "handle", status)
		return newHandle[T](status), nil
	}

	dev.raw.Machine = nil
	state, reason := rejection(status)
	slog.Warn("rvvm: attach rejected", "name", name, "state", state.String(),
		"address", fmt.Sprintf("0x%x", dev.raw.Begin), "size", dev.raw.Size)
	return Handle[T]{}, &AttachError{
		State:   state,
		Name:    name,
		Address: dev.raw.Begin,
		Size:    uint64(dev.raw.Size),
		Status:  status,
		Err:     reason,
	}
}

// Detach removes the device behind h. The machine calls its remove entry
// point, which runs the Remover hook and releases its state.
func Detach[T any](inst *Instance, h Handle[T]) error {
	m, err := inst.liveMachine()
	if err != nil {
		return err
	}
	if !h.valid || m.GetMMIO(h.id) == nil {
		return fmt.Errorf("%w: %s", ErrNoSuchDevice, h)
	}
	m.RemoveMMIO(h.id)
	slog.Debug("rvvm: detached device", "handle", h.id)
	return nil
}
