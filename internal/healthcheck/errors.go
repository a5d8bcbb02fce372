package healthcheck

import "errors"

var (
	// ErrCycleInProgress is returned by RunCycle when another cycle holds
	// the local guard or the distributed lock.
	ErrCycleInProgress = errors.New("healthcheck: cycle already in progress")

	// ErrLockLost is the cause of a cycle cancelled because the distributed
	// lock could not be refreshed.
	ErrLockLost = errors.New("healthcheck: cycle lock lost")
)
