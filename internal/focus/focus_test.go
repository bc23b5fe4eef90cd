package focus

import (
	"context"
	"runtime"
	"testing"
)

func TestCaptureReturnsEmptyWithoutAnyWindowingSystem(t *testing.T) {
	if runtime.GOOS == "windows" || runtime.GOOS == "darwin" {
		t.Skip("test targets the headless-Linux fallback path")
	}
	t.Setenv("HYPRLAND_INSTANCE_SIGNATURE", "")
	t.Setenv("DISPLAY", "")

	id, err := Capture(context.Background())
	if err != nil {
		t.Fatalf("Capture() error = %v", err)
	}
	if id != "" {
		t.Errorf("id = %q, want empty", id)
	}
}

func TestRestoreNoopOnEmptyWindowID(t *testing.T) {
	if err := Restore(context.Background(), ""); err != nil {
		t.Errorf("Restore(\"\") error = %v", err)
	}
}
