// Provides the per-instance writer lock.

package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"golang.org/x/sync/semaphore"
)

// ErrLockTimeout is returned when the writer lock could not be acquired in
// time.
var ErrLockTimeout = errors.New("lock timeout")

// pollInterval is how often a contended advisory lock is retried.
const pollInterval = 10 * time.Millisecond

// Lock serializes writers of one instance file.
//
// It combines an in-process semaphore with an advisory lock on a sibling
// ".lock" file, so writers in other processes are excluded too. Readers never
// take it.
type Lock struct {
	path string
	sem  *semaphore.Weighted
}

// NewLock returns the writer lock of the instance file at path.
func NewLock(path string) *Lock {
	return &Lock{path: path + ".lock", sem: semaphore.NewWeighted(1)}
}

// Path returns the advisory lock file name.
func (l *Lock) Path() string { return l.path }

// Acquire waits up to timeout for the lock. A timeout of 0 or less waits
// until ctx is done. The returned function releases the lock.
func (l *Lock) Acquire(ctx context.Context, timeout time.Duration) (func(), error) {
	waitCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	if err := l.sem.Acquire(waitCtx, 1); err != nil {
		return nil, l.waitErr(ctx, err)
	}
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		l.sem.Release(1)
		return nil, err
	}
	for {
		ok, err := tryLock(f)
		if err != nil {
			_ = f.Close()
			l.sem.Release(1)
			return nil, fmt.Errorf("lock %s: %w", l.path, err)
		}
		if ok {
			break
		}
		select {
		case <-waitCtx.Done():
			_ = f.Close()
			l.sem.Release(1)
			return nil, l.waitErr(ctx, waitCtx.Err())
		case <-time.After(pollInterval):
		}
	}
	return func() {
		_ = unlock(f)
		_ = f.Close()
		l.sem.Release(1)
	}, nil
}

// waitErr distinguishes our own deadline from the caller's cancellation.
func (l *Lock) waitErr(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return fmt.Errorf("%w: %s", ErrLockTimeout, l.path)
}
