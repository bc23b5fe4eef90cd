// Package typing delivers text into the focused window, generalizing
// the teacher's internal/injection package (wtype/ydotool/clipboard,
// Wayland-only) into the full cross-platform operation set the spec
// requires: text typing, single Return presses, key chords, and mixed
// text/key sequences, with per-OS backend detection and an env
// override.
package typing

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"strings"
	"sync"
)

// SessionType is the detected display/session environment.
type SessionType string

const (
	SessionWindows SessionType = "windows"
	SessionMacOS   SessionType = "macos"
	SessionWayland SessionType = "wayland"
	SessionX11     SessionType = "x11"
	SessionUnknown SessionType = "unknown"
)

var (
	detectOnce   sync.Once
	detectResult SessionType
)

// DetectSessionType resolves the session type once per process and
// caches the result, matching the original spec's "detect once" rule.
func DetectSessionType() SessionType {
	detectOnce.Do(func() {
		detectResult = detectSessionType()
	})
	return detectResult
}

func detectSessionType() SessionType {
	switch runtime.GOOS {
	case "windows":
		return SessionWindows
	case "darwin":
		return SessionMacOS
	}
	if os.Getenv("WAYLAND_DISPLAY") != "" {
		return SessionWayland
	}
	if os.Getenv("DISPLAY") != "" {
		return SessionX11
	}
	return SessionUnknown
}

// KeyChord is one key press with an optional modifier set.
type KeyChord struct {
	Key  string   // e.g. "Return", "Tab", "Escape", "F5", "Left"
	Mods []string // subset of {"ctrl", "shift", "alt", "meta"}
}

// SequenceStep is one element of a perform_type_sequence call: either
// a text run or a key chord.
type SequenceStep struct {
	Kind string // "text" or "key"
	Text string
	Key  KeyChord
}

// Backend is one OS/compositor-specific typing implementation.
type Backend interface {
	Name() string
	Available() error
	TypeText(ctx context.Context, text string, windowID string) error
	PressEnter(ctx context.Context, windowID string) error
	PressKeys(ctx context.Context, keys []KeyChord, windowID string) error
}

// Result mirrors the spec's (ok, error) failure contract for typing
// operations: callers print Error and never retry.
type Result struct {
	OK    bool
	Error string
}

func ok() Result          { return Result{OK: true} }
func failed(err error) Result {
	return Result{OK: false, Error: err.Error()}
}

// Typer resolves one Backend (by env override or session detection)
// and exposes the spec's typing operations over it.
type Typer struct {
	backend Backend
}

// New resolves a Typer. backendOverride is VOICEPIPE_TYPE_BACKEND's
// value ("" means auto-detect); "none"/"disable" yields a no-op
// backend that always succeeds without sending any input.
func New(backendOverride string) (*Typer, error) {
	backend, err := resolveBackend(backendOverride)
	if err != nil {
		return nil, err
	}
	return &Typer{backend: backend}, nil
}

func resolveBackend(override string) (Backend, error) {
	switch strings.ToLower(override) {
	case "none", "disable":
		return noneBackend{}, nil
	case "wtype":
		return newWtypeBackend(), nil
	case "xdotool":
		return newXdotoolBackend(), nil
	case "osascript":
		return newOSAScriptBackend(), nil
	case "sendinput":
		return newSendInputBackend(), nil
	case "", "auto":
		return backendForSession(DetectSessionType()), nil
	default:
		return nil, fmt.Errorf("typing: unknown VOICEPIPE_TYPE_BACKEND %q", override)
	}
}

func backendForSession(session SessionType) Backend {
	switch session {
	case SessionWindows:
		return newSendInputBackend()
	case SessionMacOS:
		return newOSAScriptBackend()
	case SessionWayland:
		return newWtypeBackend()
	case SessionX11:
		return newXdotoolBackend()
	default:
		return noneBackend{}
	}
}

// TypeText types text as Unicode, producing a Return keypress for
// every "\n" rather than a literal newline.
func (t *Typer) TypeText(ctx context.Context, text, windowID string) Result {
	if err := t.backend.Available(); err != nil {
		return failed(fmt.Errorf("typing: %s unavailable: %w", t.backend.Name(), err))
	}
	if err := t.backend.TypeText(ctx, text, windowID); err != nil {
		return failed(err)
	}
	return ok()
}

// PressEnter sends one backend-appropriate Return keypress.
func (t *Typer) PressEnter(ctx context.Context, windowID string) Result {
	if err := t.backend.Available(); err != nil {
		return failed(fmt.Errorf("typing: %s unavailable: %w", t.backend.Name(), err))
	}
	if err := t.backend.PressEnter(ctx, windowID); err != nil {
		return failed(err)
	}
	return ok()
}

// PressKeys sends a chord sequence.
func (t *Typer) PressKeys(ctx context.Context, keys []KeyChord, windowID string) Result {
	if err := t.backend.Available(); err != nil {
		return failed(fmt.Errorf("typing: %s unavailable: %w", t.backend.Name(), err))
	}
	if err := t.backend.PressKeys(ctx, keys, windowID); err != nil {
		return failed(err)
	}
	return ok()
}

// PerformTypeSequence runs a mixed stream of text/key steps in order,
// used for plugin/LLM outputs that embed control keys.
func (t *Typer) PerformTypeSequence(ctx context.Context, steps []SequenceStep, windowID string) Result {
	if err := t.backend.Available(); err != nil {
		return failed(fmt.Errorf("typing: %s unavailable: %w", t.backend.Name(), err))
	}
	for i, step := range steps {
		switch step.Kind {
		case "text":
			if err := t.backend.TypeText(ctx, step.Text, windowID); err != nil {
				return failed(fmt.Errorf("typing: sequence step %d (text): %w", i, err))
			}
		case "key":
			if err := t.backend.PressKeys(ctx, []KeyChord{step.Key}, windowID); err != nil {
				return failed(fmt.Errorf("typing: sequence step %d (key): %w", i, err))
			}
		default:
			return failed(fmt.Errorf("typing: sequence step %d has unknown kind %q", i, step.Kind))
		}
	}
	return ok()
}

// --- wtype (Wayland) ---

type wtypeBackend struct{}

func newWtypeBackend() Backend { return wtypeBackend{} }

func (wtypeBackend) Name() string { return "wtype" }

func (wtypeBackend) Available() error {
	if _, err := exec.LookPath("wtype"); err != nil {
		return fmt.Errorf("wtype not found: %w (install the wtype package)", err)
	}
	if os.Getenv("WAYLAND_DISPLAY") == "" {
		return fmt.Errorf("WAYLAND_DISPLAY not set - wtype requires a Wayland session")
	}
	return nil
}

func (w wtypeBackend) TypeText(ctx context.Context, text, windowID string) error {
	for i, line := range strings.Split(text, "\n") {
		if i > 0 {
			if err := w.PressEnter(ctx, windowID); err != nil {
				return err
			}
		}
		if line == "" {
			continue
		}
		if err := exec.CommandContext(ctx, "wtype", "--", line).Run(); err != nil {
			return fmt.Errorf("wtype: %w", err)
		}
	}
	return nil
}

func (wtypeBackend) PressEnter(ctx context.Context, windowID string) error {
	if err := exec.CommandContext(ctx, "wtype", "-k", "Return").Run(); err != nil {
		return fmt.Errorf("wtype -k Return: %w", err)
	}
	return nil
}

func (wtypeBackend) PressKeys(ctx context.Context, keys []KeyChord, windowID string) error {
	for _, chord := range keys {
		args := []string{}
		for _, mod := range chord.Mods {
			args = append(args, "-M", mod)
		}
		args = append(args, "-k", chord.Key)
		for _, mod := range chord.Mods {
			args = append(args, "-m", mod)
		}
		if err := exec.CommandContext(ctx, "wtype", args...).Run(); err != nil {
			return fmt.Errorf("wtype key chord %v: %w", chord, err)
		}
	}
	return nil
}

// --- xdotool (X11) ---

type xdotoolBackend struct{}

func newXdotoolBackend() Backend { return xdotoolBackend{} }

func (xdotoolBackend) Name() string { return "xdotool" }

func (xdotoolBackend) Available() error {
	if _, err := exec.LookPath("xdotool"); err != nil {
		return fmt.Errorf("xdotool not found: %w (install xdotool)", err)
	}
	if os.Getenv("DISPLAY") == "" {
		return fmt.Errorf("DISPLAY not set - xdotool requires an X11 session")
	}
	return nil
}

func (x xdotoolBackend) TypeText(ctx context.Context, text, windowID string) error {
	for i, line := range strings.Split(text, "\n") {
		if i > 0 {
			if err := x.PressEnter(ctx, windowID); err != nil {
				return err
			}
		}
		if line == "" {
			continue
		}
		args := x.windowArgs(windowID)
		args = append(args, "type", "--", line)
		if err := exec.CommandContext(ctx, "xdotool", args...).Run(); err != nil {
			return fmt.Errorf("xdotool type: %w", err)
		}
	}
	return nil
}

func (x xdotoolBackend) PressEnter(ctx context.Context, windowID string) error {
	args := x.windowArgs(windowID)
	args = append(args, "key", "Return")
	if err := exec.CommandContext(ctx, "xdotool", args...).Run(); err != nil {
		return fmt.Errorf("xdotool key Return: %w", err)
	}
	return nil
}

func (x xdotoolBackend) PressKeys(ctx context.Context, keys []KeyChord, windowID string) error {
	for _, chord := range keys {
		spec := strings.Join(append(append([]string{}, chord.Mods...), chord.Key), "+")
		args := x.windowArgs(windowID)
		args = append(args, "key", spec)
		if err := exec.CommandContext(ctx, "xdotool", args...).Run(); err != nil {
			return fmt.Errorf("xdotool key %s: %w", spec, err)
		}
	}
	return nil
}

func (xdotoolBackend) windowArgs(windowID string) []string {
	if windowID == "" {
		return nil
	}
	return []string{"--window", windowID}
}

// --- osascript (macOS) ---

type osaScriptBackend struct{}

func newOSAScriptBackend() Backend { return osaScriptBackend{} }

func (osaScriptBackend) Name() string { return "osascript" }

func (osaScriptBackend) Available() error {
	if _, err := exec.LookPath("osascript"); err != nil {
		return fmt.Errorf("osascript not found: %w", err)
	}
	return nil
}

func (o osaScriptBackend) TypeText(ctx context.Context, text, windowID string) error {
	for i, line := range strings.Split(text, "\n") {
		if i > 0 {
			if err := o.PressEnter(ctx, windowID); err != nil {
				return err
			}
		}
		if line == "" {
			continue
		}
		script := fmt.Sprintf(`tell application "System Events" to keystroke %s`, quoteAppleScript(line))
		if err := exec.CommandContext(ctx, "osascript", "-e", script).Run(); err != nil {
			return fmt.Errorf("osascript keystroke: %w", err)
		}
	}
	return nil
}

func (osaScriptBackend) PressEnter(ctx context.Context, windowID string) error {
	script := `tell application "System Events" to key code 36`
	if err := exec.CommandContext(ctx, "osascript", "-e", script).Run(); err != nil {
		return fmt.Errorf("osascript key code 36 (Return): %w", err)
	}
	return nil
}

var appleScriptKeyCodes = map[string]int{
	"Return": 36, "Tab": 48, "Escape": 53, "Left": 123, "Right": 124, "Down": 125, "Up": 126,
}

func (osaScriptBackend) PressKeys(ctx context.Context, keys []KeyChord, windowID string) error {
	for _, chord := range keys {
		code, ok := appleScriptKeyCodes[chord.Key]
		if !ok {
			return fmt.Errorf("osascript: unsupported key %q", chord.Key)
		}
		modifiers := make([]string, 0, len(chord.Mods))
		for _, mod := range chord.Mods {
			switch mod {
			case "ctrl":
				modifiers = append(modifiers, "control down")
			case "shift":
				modifiers = append(modifiers, "shift down")
			case "alt":
				modifiers = append(modifiers, "option down")
			case "meta", "cmd", "super":
				modifiers = append(modifiers, "command down")
			}
		}
		script := fmt.Sprintf(`tell application "System Events" to key code %d`, code)
		if len(modifiers) > 0 {
			script += fmt.Sprintf(" using {%s}", strings.Join(modifiers, ", "))
		}
		if err := exec.CommandContext(ctx, "osascript", "-e", script).Run(); err != nil {
			return fmt.Errorf("osascript key code %d: %w", code, err)
		}
	}
	return nil
}

func quoteAppleScript(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `"`, `\"`)
	return `"` + s + `"`
}

// --- none/disable ---

type noneBackend struct{}

func (noneBackend) Name() string                                                   { return "none" }
func (noneBackend) Available() error                                               { return nil }
func (noneBackend) TypeText(ctx context.Context, text, windowID string) error       { return nil }
func (noneBackend) PressEnter(ctx context.Context, windowID string) error           { return nil }
func (noneBackend) PressKeys(ctx context.Context, keys []KeyChord, windowID string) error {
	return nil
}
