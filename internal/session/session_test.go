package session

import (
	"os"
	"path/filepath"
	"testing"
)

func TestCreateThenFindActiveSessions(t *testing.T) {
	stateDir := t.TempDir()
	runtimeDir := t.TempDir()
	reg := NewRegistry(stateDir, runtimeDir)

	sess, err := reg.Create()
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if sess.PID != os.Getpid() {
		t.Errorf("PID = %d, want %d", sess.PID, os.Getpid())
	}
	if len(sess.RecordingID) != 32 {
		t.Errorf("RecordingID = %q, want 32 hex chars", sess.RecordingID)
	}

	active, err := reg.FindActiveSessions()
	if err != nil {
		t.Fatalf("FindActiveSessions() error = %v", err)
	}
	if len(active) != 1 || active[0].RecordingID != sess.RecordingID {
		t.Errorf("active sessions = %+v, want one matching %+v", active, sess)
	}
}

func TestCreateFailsWhileSessionIsActive(t *testing.T) {
	stateDir := t.TempDir()
	runtimeDir := t.TempDir()
	reg := NewRegistry(stateDir, runtimeDir)

	if _, err := reg.Create(); err != nil {
		t.Fatalf("first Create() error = %v", err)
	}
	if _, err := reg.Create(); err != ErrSessionActive {
		t.Errorf("second Create() error = %v, want ErrSessionActive", err)
	}
}

func TestFindActiveSessionsGarbageCollectsDeadPID(t *testing.T) {
	stateDir := t.TempDir()
	runtimeDir := t.TempDir()
	reg := NewRegistry(stateDir, runtimeDir)

	dead := &Session{PID: 999999, RecordingID: "deadbeef", StartedAt: "2026-01-01T00:00:00Z"}
	if err := reg.write(dead); err != nil {
		t.Fatalf("write dead session: %v", err)
	}

	active, err := reg.FindActiveSessions()
	if err != nil {
		t.Fatalf("FindActiveSessions() error = %v", err)
	}
	if len(active) != 0 {
		t.Errorf("expected dead session to be GC'd, got %+v", active)
	}
	if _, err := os.Stat(filepath.Join(stateDir, "voicepipe-999999.json")); !os.IsNotExist(err) {
		t.Error("expected dead session state file to be removed")
	}
}

func TestRemoveDeletesStateFile(t *testing.T) {
	stateDir := t.TempDir()
	runtimeDir := t.TempDir()
	reg := NewRegistry(stateDir, runtimeDir)

	sess, err := reg.Create()
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if err := reg.Remove(sess); err != nil {
		t.Fatalf("Remove() error = %v", err)
	}

	active, err := reg.FindActiveSessions()
	if err != nil {
		t.Fatalf("FindActiveSessions() error = %v", err)
	}
	if len(active) != 0 {
		t.Errorf("expected no active sessions after Remove, got %+v", active)
	}
}
