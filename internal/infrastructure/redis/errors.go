package redis

import "errors"

// Sentinel errors for Redis operations.
var (
	// ErrDisabled indicates Redis integration is disabled in config.
	ErrDisabled = errors.New("redis: disabled in configuration")

	// ErrConnectionFailed indicates the initial ping failed.
	ErrConnectionFailed = errors.New("redis: connection failed")

	// ErrNotConnected is returned after Close.
	ErrNotConnected = errors.New("redis: not connected")

	// ErrLockNotHeld is returned when releasing a lock whose token no longer matches.
	ErrLockNotHeld = errors.New("redis: lock not held")
)
