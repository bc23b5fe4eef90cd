//go:build !windows

package hotkey

import (
	"fmt"
	"os"
	"syscall"
)

// acquireFileLock opens (creating if absent) path and takes a
// non-blocking exclusive flock, the same advisory-locking primitive
// the original spec names for POSIX single-instance enforcement.
func acquireFileLock(path string) (*os.File, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return nil, fmt.Errorf("hotkey: open lock file: %w", err)
	}
	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		f.Close()
		return nil, fmt.Errorf("hotkey: lock held: %w", err)
	}
	return f, nil
}

func releaseFileLock(f *os.File) {
	syscall.Flock(int(f.Fd()), syscall.LOCK_UN)
	f.Close()
}
