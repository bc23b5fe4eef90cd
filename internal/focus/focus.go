// Package focus captures and restores the active window around a
// hotkey toggle, generalizing the teacher's injection/clipboard.go
// hyprctl-only focusWindow helper into a small per-compositor/per-OS
// interface (Hyprland, generic X11, macOS, Windows).
package focus

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"strings"
	"time"
)

// WindowID is an opaque, platform-specific window handle: a Hyprland
// window address, an X11 window id, a macOS application name, or a
// Windows HWND rendered as a string.
type WindowID string

// Capture returns the currently active window's id, best-effort. An
// empty WindowID with a nil error means "nothing to restore" rather
// than failure; callers should not treat that as fatal.
func Capture(ctx context.Context) (WindowID, error) {
	switch {
	case runtime.GOOS == "windows":
		return windowsForegroundWindow()
	case runtime.GOOS == "darwin":
		return captureDarwin(ctx)
	case os.Getenv("HYPRLAND_INSTANCE_SIGNATURE") != "":
		return captureHyprland(ctx)
	case os.Getenv("DISPLAY") != "":
		return captureX11(ctx)
	default:
		return "", nil
	}
}

// Restore focuses id again, best-effort. A restore failure is logged
// by the caller, never fatal: the typing backend's own window-id
// argument is the fallback focus mechanism.
func Restore(ctx context.Context, id WindowID) error {
	if id == "" {
		return nil
	}
	switch {
	case runtime.GOOS == "windows":
		return windowsSetForegroundWindow(id)
	case runtime.GOOS == "darwin":
		return restoreDarwin(ctx, id)
	case os.Getenv("HYPRLAND_INSTANCE_SIGNATURE") != "":
		return restoreHyprland(ctx, id)
	case os.Getenv("DISPLAY") != "":
		return restoreX11(ctx, id)
	default:
		return nil
	}
}

const lookupTimeout = 2 * time.Second

func captureHyprland(ctx context.Context) (WindowID, error) {
	ctx, cancel := context.WithTimeout(ctx, lookupTimeout)
	defer cancel()
	out, err := exec.CommandContext(ctx, "hyprctl", "activewindow", "-j").Output()
	if err != nil {
		return "", fmt.Errorf("focus: hyprctl activewindow: %w", err)
	}
	// Extract "address": "0x...." without a full JSON dependency for a
	// single scalar field; the triggers/stt packages already carry
	// encoding/json for real structured payloads.
	const key = `"address":`
	idx := strings.Index(string(out), key)
	if idx < 0 {
		return "", fmt.Errorf("focus: no address field in hyprctl output")
	}
	rest := strings.TrimLeft(string(out)[idx+len(key):], " \t")
	rest = strings.TrimPrefix(rest, `"`)
	end := strings.IndexByte(rest, '"')
	if end < 0 {
		return "", fmt.Errorf("focus: malformed hyprctl address field")
	}
	return WindowID(rest[:end]), nil
}

func restoreHyprland(ctx context.Context, id WindowID) error {
	ctx, cancel := context.WithTimeout(ctx, lookupTimeout)
	defer cancel()
	if err := exec.CommandContext(ctx, "hyprctl", "dispatch", "focuswindow", "address:"+string(id)).Run(); err != nil {
		return fmt.Errorf("focus: hyprctl focuswindow: %w", err)
	}
	return nil
}

func captureX11(ctx context.Context) (WindowID, error) {
	ctx, cancel := context.WithTimeout(ctx, lookupTimeout)
	defer cancel()
	out, err := exec.CommandContext(ctx, "xdotool", "getactivewindow").Output()
	if err != nil {
		return "", fmt.Errorf("focus: xdotool getactivewindow: %w", err)
	}
	return WindowID(strings.TrimSpace(string(out))), nil
}

func restoreX11(ctx context.Context, id WindowID) error {
	ctx, cancel := context.WithTimeout(ctx, lookupTimeout)
	defer cancel()
	if err := exec.CommandContext(ctx, "xdotool", "windowactivate", string(id)).Run(); err != nil {
		return fmt.Errorf("focus: xdotool windowactivate: %w", err)
	}
	return nil
}

func captureDarwin(ctx context.Context) (WindowID, error) {
	ctx, cancel := context.WithTimeout(ctx, lookupTimeout)
	defer cancel()
	script := `tell application "System Events" to get name of first application process whose frontmost is true`
	out, err := exec.CommandContext(ctx, "osascript", "-e", script).Output()
	if err != nil {
		return "", fmt.Errorf("focus: osascript frontmost app: %w", err)
	}
	return WindowID(strings.TrimSpace(string(out))), nil
}

func restoreDarwin(ctx context.Context, id WindowID) error {
	ctx, cancel := context.WithTimeout(ctx, lookupTimeout)
	defer cancel()
	script := fmt.Sprintf(`tell application %q to activate`, string(id))
	if err := exec.CommandContext(ctx, "osascript", "-e", script).Run(); err != nil {
		return fmt.Errorf("focus: osascript activate: %w", err)
	}
	return nil
}
