package site

import "errors"

// Domain errors for the site package.
var (
	// ErrNotFound is returned when a site ID does not exist.
	ErrNotFound = errors.New("site: not found")

	// ErrInvalidSite is returned when site validation fails.
	ErrInvalidSite = errors.New("site: invalid")

	// ErrInvalidStatus is returned when a status value is not recognised.
	ErrInvalidStatus = errors.New("site: invalid status")
)
