package deeb

import (
	"context"
	"log/slog"
	"time"
)

// DefaultLockTimeout bounds the wait for an instance's writer lock.
const DefaultLockTimeout = 5 * time.Second

// HistoryRecorder records a persisted instance file, for example as a git
// commit. See the internal history package.
type HistoryRecorder interface {
	Record(ctx context.Context, path, msg string) error
}

// Options configures a [Deeb].
type Options struct {
	// Logger receives operation traces. Defaults to slog.Default().
	Logger *slog.Logger
	// LockTimeout bounds the wait for an instance's writer lock. Defaults to
	// DefaultLockTimeout. A negative value waits until the context is done.
	LockTimeout time.Duration
	// History, when set, is called after every successful persist. Failures
	// are logged and do not fail the commit.
	History HistoryRecorder
	// Indent writes instance files with one field per line so they diff
	// well.
	Indent bool
}

func (o *Options) logger() *slog.Logger {
	if o.Logger != nil {
		return o.Logger
	}
	return slog.Default()
}

func (o *Options) lockTimeout() time.Duration {
	switch {
	case o.LockTimeout < 0:
		return 0
	case o.LockTimeout == 0:
		return DefaultLockTimeout
	default:
		return o.LockTimeout
	}
}
