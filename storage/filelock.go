//go:build !windows

package storage

import (
	"os"
	"time"

	"golang.org/x/sys/unix"
)

// FileLock provides advisory flock(2) locking so that two processes sharing
// a state file do not interleave read-modify-write cycles.
type FileLock struct {
	path string
	file *os.File
}

// NewFileLock creates a lock on path + ".lock". Nothing is acquired until Lock.
func NewFileLock(path string) *FileLock {
	return &FileLock{path: path + ".lock"}
}

// Lock acquires an exclusive lock, giving up with ErrLockTimeout.
func (l *FileLock) Lock(timeout time.Duration) error {
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return &StorageError{Op: "lock", Backend: BackendFile, Key: l.path, Err: err}
	}

	deadline := time.Now().Add(timeout)
	for {
		if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err == nil {
			l.file = f
			return nil
		}
		if time.Now().After(deadline) {
			f.Close()
			return ErrLockTimeout
		}
		time.Sleep(10 * time.Millisecond)
	}
}

// Unlock releases the lock. The lock file itself is left in place so that a
// concurrent waiter never locks an unlinked inode.
func (l *FileLock) Unlock() error {
	if l.file == nil {
		return nil
	}
	unix.Flock(int(l.file.Fd()), unix.LOCK_UN)
	err := l.file.Close()
	l.file = nil
	return err
}
