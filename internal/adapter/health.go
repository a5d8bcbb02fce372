package adapter

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// CheckHealthWithin runs a.CheckHealth bounded by timeout.
//
// An adapter that ignores its context is abandoned once the timeout passes
// and its eventual result is discarded. A panic inside the adapter is
// recovered and reported as ErrPanicked.
func CheckHealthWithin(ctx context.Context, a Adapter, timeout time.Duration) error {
	checkCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("%w: %v", ErrPanicked, r)
			}
		}()
		done <- a.CheckHealth(checkCtx)
	}()

	select {
	case err := <-done:
		return err
	case <-checkCtx.Done():
		if errors.Is(checkCtx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("%w after %v: %w", ErrCheckAbandoned, timeout, ErrTimeout)
		}
		return checkCtx.Err()
	}
}
