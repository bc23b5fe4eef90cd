// Package hotkey owns the single-instance lock and debounce window
// that guard the fast-toggle orchestrator from overlapping or
// rapid-fire hotkey presses, generalizing the teacher's pidManager
// lock-file pattern (internal/session) from "one process" to "one
// toggle in flight at a time, with a cooldown".
package hotkey

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/sigreer/voicepipe/internal/focus"
)

const debounceWindow = 500 * time.Millisecond

// Guard serializes and debounces toggle invocations using a runtime-dir
// lock file (flock on POSIX, LockFileEx on Windows)
// plus a millisecond-timestamp debounce file.
type Guard struct {
	lockPath     string
	debouncePath string
}

// NewGuard returns a Guard rooted at runtimeDir, using the canonical
// voicepipe-fast.lock filename.
func NewGuard(runtimeDir string) *Guard {
	return &Guard{
		lockPath:     filepath.Join(runtimeDir, "voicepipe-fast.lock"),
		debouncePath: filepath.Join(runtimeDir, "voicepipe-fast.debounce"),
	}
}

// ErrLockHeld means another toggle is already in flight; the caller
// must exit silently, per the original spec's single-instance
// semantics.
var ErrLockHeld = fmt.Errorf("hotkey: toggle already in progress")

// ErrDebounced means a toggle succeeded less than debounceWindow ago;
// the caller must exit silently.
var ErrDebounced = fmt.Errorf("hotkey: debounced")

// Acquire takes the single-instance lock and checks the debounce
// window, returning a release function that must be called (normally
// via defer) once the toggle body has run. Acquire itself never blocks
// — a held lock or an active debounce window fail fast.
func (g *Guard) Acquire() (release func(), err error) {
	if recent, err := g.withinDebounceWindow(); err != nil {
		return nil, err
	} else if recent {
		return nil, ErrDebounced
	}

	lockFile, err := acquireFileLock(g.lockPath)
	if err != nil {
		return nil, ErrLockHeld
	}

	return func() {
		releaseFileLock(lockFile)
		g.markDebounced()
	}, nil
}

func (g *Guard) withinDebounceWindow() (bool, error) {
	data, err := os.ReadFile(g.debouncePath)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, nil
	}
	ms, err := strconv.ParseInt(string(data), 10, 64)
	if err != nil {
		return false, nil
	}
	last := time.UnixMilli(ms)
	return time.Since(last) < debounceWindow, nil
}

func (g *Guard) markDebounced() {
	g.markDebouncedAt(time.Now())
}

// markDebouncedAt backdates the debounce file, used by tests to
// simulate the window having already elapsed.
func (g *Guard) markDebouncedAt(when time.Time) {
	nowMS := strconv.FormatInt(when.UnixMilli(), 10)
	tmp := g.debouncePath + ".tmp"
	if err := os.WriteFile(tmp, []byte(nowMS), 0o600); err != nil {
		return
	}
	os.Rename(tmp, g.debouncePath)
}

// Runner wires a Guard to an optional prewarm hook and the handler
// invoked on each successful (non-debounced, lock-acquired) hotkey
// press. cmd/voicepipe's toggle command constructs one per invocation.
type Runner struct {
	Guard   *Guard
	Handler func(windowID focus.WindowID)
}

// NewRunner constructs a Runner and immediately runs prewarm (device
// resolution warm-up is the caller's responsibility via prewarm;
// passing nil skips it).
func NewRunner(guard *Guard, handler func(windowID focus.WindowID), prewarm func()) *Runner {
	if prewarm != nil {
		prewarm()
	}
	return &Runner{Guard: guard, Handler: handler}
}

// HandlePress is invoked once per platform hotkey event. It captures
// the active window before any other side effect, then enforces the
// lock/debounce guard, then runs Handler. A held lock or an active
// debounce window causes a silent return — never an error surfaced to
// the user, matching the original spec's "exits silently" contract.
func (r *Runner) HandlePress() {
	windowID, _ := focus.Capture(context.Background())

	release, err := r.Guard.Acquire()
	if err != nil {
		return
	}
	defer release()

	r.Handler(windowID)
}
