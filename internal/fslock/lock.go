// Package fslock provides advisory, timeout-bounded exclusive file locks.
//
// It guards scoped resources that must not be touched by two pipeline runs
// at once: the ESP mount point and the image-bundled GPT tool invocation.
package fslock

import (
	"errors"
	"fmt"
	"os"
	"time"

	"golang.org/x/sys/unix"
)

// DefaultTimeout is used by Acquire when the caller doesn't need a custom one.
const DefaultTimeout = 5 * time.Second

// Lock errors.
var (
	ErrTimeout = errors.New("fslock: timeout acquiring lock")
	ErrOpen    = errors.New("fslock: failed to open lock file")
)

// Lock represents a held advisory lock. Call Release exactly once.
type Lock struct {
	path string
	file *os.File
}

// AcquireWithTimeout tries to acquire an exclusive lock on path+".lock",
// retrying until timeout elapses.
func AcquireWithTimeout(path string, timeout time.Duration) (*Lock, error) {
	lockPath := path + ".lock"

	file, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrOpen, err)
	}

	deadline := time.Now().Add(timeout)

	const retryInterval = 10 * time.Millisecond

	for {
		if flockErr := unix.Flock(int(file.Fd()), unix.LOCK_EX|unix.LOCK_NB); flockErr == nil {
			return &Lock{path: lockPath, file: file}, nil
		}

		if time.Now().After(deadline) {
			_ = file.Close()

			return nil, fmt.Errorf("%w: %s", ErrTimeout, path)
		}

		time.Sleep(retryInterval)
	}
}

// Acquire acquires a lock using DefaultTimeout.
func Acquire(path string) (*Lock, error) {
	return AcquireWithTimeout(path, DefaultTimeout)
}

// Release unlocks and closes the lock file. Safe to call on a nil receiver.
func (l *Lock) Release() {
	if l == nil || l.file == nil {
		return
	}

	_ = unix.Flock(int(l.file.Fd()), unix.LOCK_UN)
	_ = l.file.Close()
}
