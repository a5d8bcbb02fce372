package controller

import "errors"

// Domain errors for the controller package.
//
// These errors can be checked using errors.Is():
//
//	if errors.Is(err, controller.ErrNotFound) {
//	    // handle not found case
//	}
var (
	// ErrNotFound is returned when a controller ID does not exist.
	ErrNotFound = errors.New("controller: not found")

	// ErrInvalidController is returned when controller validation fails.
	ErrInvalidController = errors.New("controller: invalid")

	// ErrInvalidName is returned when a name is empty or too long.
	ErrInvalidName = errors.New("controller: invalid name")

	// ErrInvalidCode is returned when a protocol code is empty or malformed.
	ErrInvalidCode = errors.New("controller: invalid code")

	// ErrInvalidHost is returned when the host is empty.
	ErrInvalidHost = errors.New("controller: invalid host")

	// ErrInvalidPort is returned when the port is outside 0-65535.
	ErrInvalidPort = errors.New("controller: invalid port")

	// ErrInvalidStatus is returned when a status value is not recognised.
	ErrInvalidStatus = errors.New("controller: invalid status")

	// ErrInvalidConfig is returned when the per-controller config is malformed.
	ErrInvalidConfig = errors.New("controller: invalid config")

	// ErrInvalidSort is returned when a sort field is not one of the allowed columns.
	ErrInvalidSort = errors.New("controller: invalid sort field")
)
