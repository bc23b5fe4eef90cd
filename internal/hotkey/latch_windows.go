//go:build windows

package hotkey

import (
	"sync"
	"syscall"
)

var (
	user32               = syscall.NewLazyDLL("user32.dll")
	procGetAsyncKeyState = user32.NewProc("GetAsyncKeyState")
)

// KeyLatch compensates for environments where WM_HOTKEY is swallowed:
// a companion low-level keyboard hook can call Press on every key-down
// of the bound virtual key, and KeyLatch ensures a single physical
// press never fires twice — it latches on the first down event and
// only re-arms once GetAsyncKeyState reports the key released.
type KeyLatch struct {
	vk uint16

	mu      sync.Mutex
	latched bool
}

// NewKeyLatch returns a KeyLatch for the given virtual-key code.
func NewKeyLatch(vk uint16) *KeyLatch {
	return &KeyLatch{vk: vk}
}

// Press reports whether this key-down event should fire a toggle: true
// only on the transition from released to held. The hook should call
// Poll once the key goes back up; Poll can also be called periodically
// to self-heal if a key-up event is ever missed.
func (l *KeyLatch) Press() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.latched {
		return false
	}
	l.latched = true
	return true
}

// Poll clears the latch once GetAsyncKeyState reports the key is no
// longer physically down. Callers invoke this from the hook's key-up
// case, or periodically.
func (l *KeyLatch) Poll() {
	const keyDownMask = 0x8000
	state, _, _ := procGetAsyncKeyState.Call(uintptr(l.vk))
	if state&keyDownMask == 0 {
		l.mu.Lock()
		l.latched = false
		l.mu.Unlock()
	}
}
