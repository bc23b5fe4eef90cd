//go:build windows

package focus

import (
	"fmt"
	"strconv"
	"syscall"
)

var (
	user32                  = syscall.NewLazyDLL("user32.dll")
	procGetForegroundWindow = user32.NewProc("GetForegroundWindow")
	procSetForegroundWindow = user32.NewProc("SetForegroundWindow")
)

func windowsForegroundWindow() (WindowID, error) {
	hwnd, _, _ := procGetForegroundWindow.Call()
	if hwnd == 0 {
		return "", fmt.Errorf("focus: GetForegroundWindow returned null")
	}
	return WindowID(strconv.FormatUint(uint64(hwnd), 10)), nil
}

func windowsSetForegroundWindow(id WindowID) error {
	hwnd, err := strconv.ParseUint(string(id), 10, 64)
	if err != nil {
		return fmt.Errorf("focus: invalid window handle %q: %w", id, err)
	}
	ok, _, _ := procSetForegroundWindow.Call(uintptr(hwnd))
	if ok == 0 {
		return fmt.Errorf("focus: SetForegroundWindow failed for handle %s", id)
	}
	return nil
}
