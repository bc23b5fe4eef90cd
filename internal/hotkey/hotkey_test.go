package hotkey

import (
	"testing"
	"time"

	"github.com/sigreer/voicepipe/internal/focus"
)

func TestAcquireSucceedsWhenLockIsFree(t *testing.T) {
	g := NewGuard(t.TempDir())
	release, err := g.Acquire()
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	release()
}

func TestAcquireFailsWhileLockHeld(t *testing.T) {
	dir := t.TempDir()
	g := NewGuard(dir)

	release, err := g.Acquire()
	if err != nil {
		t.Fatalf("first Acquire() error = %v", err)
	}
	defer release()

	// A second Guard instance over the same lock path models a second
	// process racing the same hotkey.
	g2 := NewGuard(dir)
	if _, err := g2.Acquire(); err != ErrLockHeld {
		t.Errorf("second Acquire() error = %v, want ErrLockHeld", err)
	}
}

func TestAcquireDebouncesImmediatelyAfterRelease(t *testing.T) {
	g := NewGuard(t.TempDir())

	release, err := g.Acquire()
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	release()

	if _, err := g.Acquire(); err != ErrDebounced {
		t.Errorf("Acquire() immediately after release = %v, want ErrDebounced", err)
	}
}

func TestAcquireSucceedsAfterDebounceWindowElapses(t *testing.T) {
	g := NewGuard(t.TempDir())

	release, err := g.Acquire()
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	release()

	g.markDebouncedAt(time.Now().Add(-debounceWindow * 2))

	if _, err := g.Acquire(); err != nil {
		t.Errorf("Acquire() after debounce window = %v, want nil", err)
	}
}

func TestRunnerHandlePressInvokesHandlerOnce(t *testing.T) {
	g := NewGuard(t.TempDir())
	calls := 0
	prewarmed := false

	r := NewRunner(g, func(windowID focus.WindowID) {
		calls++
	}, func() { prewarmed = true })

	if !prewarmed {
		t.Error("expected prewarm to run during NewRunner")
	}

	r.HandlePress()
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}

	// A second press inside the debounce window must be a silent no-op.
	r.HandlePress()
	if calls != 1 {
		t.Errorf("calls after debounced second press = %d, want 1", calls)
	}
}
