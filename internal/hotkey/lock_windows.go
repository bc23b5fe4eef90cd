//go:build windows

package hotkey

import (
	"fmt"
	"os"
	"syscall"
	"unsafe"
)

var (
	kernel32         = syscall.NewLazyDLL("kernel32.dll")
	procLockFileEx   = kernel32.NewProc("LockFileEx")
	procUnlockFileEx = kernel32.NewProc("UnlockFileEx")
)

const (
	lockfileFailImmediately = 0x00000001
	lockfileExclusiveLock   = 0x00000002
)

// acquireFileLock opens (creating if absent) path and takes a
// non-blocking exclusive LockFileEx range, the Windows advisory-locking
// primitive the original spec names for single-instance enforcement.
func acquireFileLock(path string) (*os.File, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return nil, fmt.Errorf("hotkey: open lock file: %w", err)
	}

	overlapped := new(struct {
		Internal     uintptr
		InternalHigh uintptr
		Offset       uint32
		OffsetHigh   uint32
		HEvent       uintptr
	})

	ret, _, _ := procLockFileEx.Call(
		f.Fd(),
		uintptr(lockfileFailImmediately|lockfileExclusiveLock),
		0,
		uintptr(^uint32(0)),
		uintptr(^uint32(0)),
		uintptr(unsafe.Pointer(overlapped)),
	)
	if ret == 0 {
		f.Close()
		return nil, fmt.Errorf("hotkey: lock held")
	}
	return f, nil
}

func releaseFileLock(f *os.File) {
	overlapped := new(struct {
		Internal     uintptr
		InternalHigh uintptr
		Offset       uint32
		OffsetHigh   uint32
		HEvent       uintptr
	})
	procUnlockFileEx.Call(
		f.Fd(),
		0,
		uintptr(^uint32(0)),
		uintptr(^uint32(0)),
		uintptr(unsafe.Pointer(overlapped)),
	)
	f.Close()
}
