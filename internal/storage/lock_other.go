//go:build !(linux || darwin || freebsd || openbsd || netbsd || dragonfly || windows)

package storage

import "os"

// No advisory locking on this platform; only the in-process semaphore applies.
const flockSupported = false

func tryLock(*os.File) (bool, error) { return true, nil }

func unlock(*os.File) error { return nil }

func isSyncUnsupported(error) bool { return true }
