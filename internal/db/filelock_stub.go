//go:build !unix

package db

import "os"

// tryLockFile is a stub on non-Unix platforms; only the in-process
// semaphore serializes access there.
func tryLockFile(f *os.File) (bool, error) { return true, nil }

func unlockFile(f *os.File) error { return nil }
