//go:build windows

package typing

import (
	"context"
	"fmt"
	"syscall"
	"unsafe"
)

var (
	user32          = syscall.NewLazyDLL("user32.dll")
	procSendInput   = user32.NewProc("SendInput")
	procGetKeyState = user32.NewProc("GetAsyncKeyState")
)

const (
	inputKeyboard     = 1
	keyeventfKeyup    = 0x0002
	keyeventfUnicode  = 0x0004
	keyeventfScancode = 0x0008
	maxBatchSize      = 64 // bounded batches, per the spec's oversized-syscall avoidance rule
)

// keybdInput mirrors the Win32 KEYBDINPUT struct embedded in INPUT.
type keybdInput struct {
	wVk         uint16
	wScan       uint16
	dwFlags     uint32
	time        uint32
	dwExtraInfo uintptr
}

// input mirrors the Win32 INPUT struct for type=INPUT_KEYBOARD. The
// union is sized to the largest member (MOUSEINPUT, 32 bytes on
// amd64); padding keeps KEYBDINPUT's fields at the union's start,
// which is all SendInput reads for type=1.
type input struct {
	inputType uint32
	ki        keybdInput
	padding   [8]byte
}

var virtualKeyCodes = map[string]uint16{
	"Return": 0x0D, "Tab": 0x09, "Escape": 0x1B, "Left": 0x25, "Up": 0x26, "Right": 0x27, "Down": 0x28,
	"F1": 0x70, "F2": 0x71, "F3": 0x72, "F4": 0x73, "F5": 0x74, "F6": 0x75,
	"F7": 0x76, "F8": 0x77, "F9": 0x78, "F10": 0x79, "F11": 0x7A, "F12": 0x7B,
}

var modifierVKs = map[string]uint16{
	"ctrl": 0x11, "shift": 0x10, "alt": 0x12, "meta": 0x5B, "cmd": 0x5B, "super": 0x5B,
}

type sendInputBackend struct{}

func newSendInputBackend() Backend { return sendInputBackend{} }

func (sendInputBackend) Name() string { return "sendinput" }

func (sendInputBackend) Available() error { return nil }

// clearStuckModifiers releases Shift/Ctrl/Alt/Super if GetAsyncKeyState
// reports them down, per the spec's pre-type cleanup rule.
func clearStuckModifiers() {
	for _, vk := range []uint16{0x10, 0x11, 0x12, 0x5B} {
		state, _, _ := procGetKeyState.Call(uintptr(vk))
		if state&0x8000 != 0 {
			sendVK(vk, true)
		}
	}
}

func dismissActiveMenu(ctx context.Context) {
	sendVK(0x1B, false) // Esc
	sendVK(0x1B, false)
}

func sendUnicodeRune(r rune) error {
	in := input{inputType: inputKeyboard, ki: keybdInput{wScan: uint16(r), dwFlags: keyeventfUnicode}}
	if err := callSendInput(in); err != nil {
		return err
	}
	in.ki.dwFlags = keyeventfUnicode | keyeventfKeyup
	return callSendInput(in)
}

func sendVK(vk uint16, up bool) error {
	flags := uint32(0)
	if up {
		flags = keyeventfKeyup
	}
	in := input{inputType: inputKeyboard, ki: keybdInput{wVk: vk, dwFlags: flags}}
	return callSendInput(in)
}

func callSendInput(in input) error {
	ret, _, err := procSendInput.Call(1, uintptr(unsafe.Pointer(&in)), unsafe.Sizeof(in))
	if ret == 0 {
		return fmt.Errorf("sendinput: SendInput failed: %v", err)
	}
	return nil
}

func (s sendInputBackend) TypeText(ctx context.Context, text, windowID string) error {
	clearStuckModifiers()
	dismissActiveMenu(ctx)

	runes := []rune(text)
	for start := 0; start < len(runes); start += maxBatchSize {
		end := start + maxBatchSize
		if end > len(runes) {
			end = len(runes)
		}
		for _, r := range runes[start:end] {
			if r == '\n' {
				if err := s.PressEnter(ctx, windowID); err != nil {
					return err
				}
				continue
			}
			if err := sendUnicodeRune(r); err != nil {
				return err
			}
		}
	}
	return nil
}

func (sendInputBackend) PressEnter(ctx context.Context, windowID string) error {
	if err := sendVK(0x0D, false); err != nil {
		return err
	}
	return sendVK(0x0D, true)
}

func (sendInputBackend) PressKeys(ctx context.Context, keys []KeyChord, windowID string) error {
	for _, chord := range keys {
		vk, ok := virtualKeyCodes[chord.Key]
		if !ok {
			return fmt.Errorf("sendinput: unsupported key %q", chord.Key)
		}
		var mods []uint16
		for _, m := range chord.Mods {
			if modVK, ok := modifierVKs[m]; ok {
				mods = append(mods, modVK)
			}
		}
		for _, modVK := range mods {
			if err := sendVK(modVK, false); err != nil {
				return err
			}
		}
		if err := sendVK(vk, false); err != nil {
			return err
		}
		if err := sendVK(vk, true); err != nil {
			return err
		}
		for i := len(mods) - 1; i >= 0; i-- {
			if err := sendVK(mods[i], true); err != nil {
				return err
			}
		}
	}
	return nil
}
