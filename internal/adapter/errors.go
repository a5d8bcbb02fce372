package adapter

import (
	"errors"
	"fmt"
)

// Adapter errors.
//
// Device failures are wrapped in *DeviceError and resolution failures in
// *ResolveError; both unwrap to these sentinels:
//
//	if errors.Is(err, adapter.ErrTimeout) {
//	    // device did not answer in time
//	}
var (
	// ErrConfiguration is returned when the caller passes an unusable controller.
	ErrConfiguration = errors.New("adapter: configuration error")

	// ErrUnsupportedProtocol is returned when no creator is registered for a code.
	ErrUnsupportedProtocol = errors.New("adapter: unsupported protocol")

	// ErrDeviceUnreachable is returned when the device cannot be contacted.
	ErrDeviceUnreachable = errors.New("adapter: device unreachable")

	// ErrTimeout is returned when the device does not answer before the deadline.
	ErrTimeout = errors.New("adapter: timeout")

	// ErrProtocol is returned for malformed or rejected device responses.
	ErrProtocol = errors.New("adapter: protocol error")

	// ErrUnknownLane is returned when the lane is not wired to the controller.
	ErrUnknownLane = errors.New("adapter: unknown lane")

	// ErrCapabilityUnsupported is returned for operations the device cannot perform.
	ErrCapabilityUnsupported = errors.New("adapter: capability unsupported")

	// ErrCheckAbandoned is returned by CheckHealthWithin when the adapter
	// did not return before the timeout. It is always paired with ErrTimeout.
	ErrCheckAbandoned = errors.New("adapter: health check abandoned")

	// ErrPanicked is returned when an adapter call panicked.
	ErrPanicked = errors.New("adapter: adapter panicked")
)

// DeviceError describes a failed device operation.
type DeviceError struct {
	Op           Capability
	ControllerID int64
	Lane         string
	Kind         error // one of the sentinels above
	Err          error // underlying cause, may be nil
}

// NewDeviceError builds a DeviceError of the given kind.
func NewDeviceError(op Capability, controllerID int64, lane string, kind, cause error) *DeviceError {
	return &DeviceError{Op: op, ControllerID: controllerID, Lane: lane, Kind: kind, Err: cause}
}

func (e *DeviceError) Error() string {
	msg := fmt.Sprintf("%s: controller %d", e.Op, e.ControllerID)
	if e.Lane != "" {
		msg += " lane " + e.Lane
	}
	msg += ": " + e.Kind.Error()
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap exposes both the kind and the cause to errors.Is and errors.As.
func (e *DeviceError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// ResolveError reports why the factory could not build an adapter.
type ResolveError struct {
	ControllerID int64
	Code         string
	Err          error
}

func (e *ResolveError) Error() string {
	return fmt.Sprintf("resolving adapter for controller %d (code %q): %v", e.ControllerID, e.Code, e.Err)
}

func (e *ResolveError) Unwrap() error {
	return e.Err
}
