package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/semaphore"
)

// ErrLockTimeout is returned when a TimedMutex cannot be acquired in time. It aborts the run.
var ErrLockTimeout = errors.New("lock acquire timed out")

// TimedMutex is a mutual exclusion lock whose acquisition gives up after a timeout.
type TimedMutex struct {
	sem     *semaphore.Weighted
	timeout time.Duration
}

// NewTimedMutex builds a TimedMutex. A non-positive timeout waits as long as ctx allows.
func NewTimedMutex(timeout time.Duration) *TimedMutex {
	return &TimedMutex{sem: semaphore.NewWeighted(1), timeout: timeout}
}

// Lock acquires the mutex, failing with ErrLockTimeout or the context error.
func (m *TimedMutex) Lock(ctx context.Context) error {
	acquireCtx := ctx
	if m.timeout > 0 {
		var cancel context.CancelFunc
		acquireCtx, cancel = context.WithTimeout(ctx, m.timeout)
		defer cancel()
	}
	if err := m.sem.Acquire(acquireCtx, 1); err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("acquire lock: %w", ctx.Err())
		}
		return fmt.Errorf("%w after %s", ErrLockTimeout, m.timeout)
	}
	return nil
}

// Unlock releases the mutex.
func (m *TimedMutex) Unlock() {
	m.sem.Release(1)
}
