// Package filelock provides advisory file locks standing in for
// original_source's named OS mutexes (spec.md §4.G): Go has no portable
// named-mutex primitive, so internal/procgroup uses flock(2) on a file
// under the runtime directory instead. This is the second place (besides
// internal/wire's fixed framing) the core reaches past the retrieval
// pack's libraries: no example repo implements cross-process mutual
// exclusion, and flock via golang.org/x/sys/unix is the portable
// primitive Go programs use in its place.
package filelock

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// Lock is an open, flock'd file. The lock is released by Close.
type Lock struct {
	f *os.File
}

// TryAcquire attempts a non-blocking exclusive lock on path, creating it
// if necessary. ok is false (with a nil error) if another process already
// holds the lock.
func TryAcquire(path string) (lock *Lock, ok bool, err error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, false, fmt.Errorf("filelock: open %s: %w", path, err)
	}
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		f.Close()
		if err == unix.EWOULDBLOCK {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("filelock: flock %s: %w", path, err)
	}
	return &Lock{f: f}, true, nil
}

// Acquire blocks until path's lock can be taken exclusively.
func Acquire(path string) (*Lock, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("filelock: open %s: %w", path, err)
	}
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX); err != nil {
		f.Close()
		return nil, fmt.Errorf("filelock: flock %s: %w", path, err)
	}
	return &Lock{f: f}, nil
}

// Held reports whether path is currently locked by another holder. It
// tests this by briefly taking the lock and releasing it at once.
func Held(path string) (bool, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("filelock: open %s: %w", path, err)
	}
	defer f.Close()
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		if err == unix.EWOULDBLOCK {
			return true, nil
		}
		return false, fmt.Errorf("filelock: flock %s: %w", path, err)
	}
	// We took the lock ourselves just to test it; release immediately.
	_ = unix.Flock(int(f.Fd()), unix.LOCK_UN)
	return false, nil
}

// Close releases the lock and closes the underlying file.
func (l *Lock) Close() error {
	if l == nil || l.f == nil {
		return nil
	}
	_ = unix.Flock(int(l.f.Fd()), unix.LOCK_UN)
	return l.f.Close()
}
