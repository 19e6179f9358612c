//go:build unix

package db

import (
	"errors"
	"os"

	"golang.org/x/sys/unix"
)

// tryLockFile attempts a non-blocking exclusive lock. It reports false
// without error when another process holds the lock.
func tryLockFile(f *os.File) (bool, error) {
	flock := unix.Flock_t{Type: unix.F_WRLCK, Whence: int16(0)}
	err := unix.FcntlFlock(f.Fd(), unix.F_SETLK, &flock)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EACCES) {
		return false, nil
	}
	return false, err
}

func unlockFile(f *os.File) error {
	flock := unix.Flock_t{Type: unix.F_UNLCK, Whence: int16(0)}
	return unix.FcntlFlock(f.Fd(), unix.F_SETLK, &flock)
}
