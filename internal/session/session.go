// Package session tracks the single live recording session via a
// pid-stamped JSON file under the state dir, following the teacher's
// pidManager liveness-check pattern (bus.go) generalized from a single
// daemon lock file to a discoverable session registry.
package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
)

// ErrSessionActive is returned by Create when a live session already
// exists: the original spec requires at most one live session per
// host at any time.
var ErrSessionActive = errors.New("session: a recording session is already active")

// Session is the persisted record for one recording instance.
type Session struct {
	PID         int    `json:"pid"`
	AudioPath   string `json:"audio_path"`
	ControlPath string `json:"control_path"`
	RecordingID string `json:"recording_id"`
	StartedAt   string `json:"started_at"`
}

// Registry locates and manipulates session-state files under a single
// state directory.
type Registry struct {
	stateDir   string
	runtimeDir string
}

// NewRegistry returns a Registry rooted at stateDir (where the session
// JSON files live) and runtimeDir (where the placeholder audio/control
// files live).
func NewRegistry(stateDir, runtimeDir string) *Registry {
	return &Registry{stateDir: stateDir, runtimeDir: runtimeDir}
}

func (r *Registry) statePath(pid int) string {
	return filepath.Join(r.stateDir, fmt.Sprintf("voicepipe-%d.json", pid))
}

// Create fails with ErrSessionActive if any live session already
// exists (after garbage-collecting dead ones); otherwise it creates a
// new session for the current process, along with an empty
// placeholder audio file under the runtime dir, and writes the session
// state file with 0600 permissions.
func (r *Registry) Create() (*Session, error) {
	active, err := r.FindActiveSessions()
	if err != nil {
		return nil, err
	}
	if len(active) > 0 {
		return nil, ErrSessionActive
	}

	pid := os.Getpid()
	id := strings.ReplaceAll(uuid.New().String(), "-", "")
	sess := &Session{
		PID:         pid,
		RecordingID: id,
		AudioPath:   filepath.Join(r.runtimeDir, fmt.Sprintf("voicepipe-%s.wav", id)),
		ControlPath: filepath.Join(r.runtimeDir, fmt.Sprintf("voicepipe-%d.ctl", pid)),
		StartedAt:   time.Now().UTC().Format(time.RFC3339),
	}

	if f, err := os.OpenFile(sess.AudioPath, os.O_CREATE|os.O_WRONLY, 0o600); err == nil {
		f.Close()
	}

	if err := r.write(sess); err != nil {
		return nil, err
	}
	return sess, nil
}

// Remove deletes the session's state file, best-effort.
func (r *Registry) Remove(sess *Session) error {
	if err := os.Remove(r.statePath(sess.PID)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("session: remove state file: %w", err)
	}
	return nil
}

// FindActiveSessions scans the state dir for voicepipe-*.json files,
// garbage-collecting any whose pid is no longer alive, and returns the
// remaining (live) sessions.
func (r *Registry) FindActiveSessions() ([]*Session, error) {
	entries, err := os.ReadDir(r.stateDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("session: read state dir: %w", err)
	}

	var active []*Session
	for _, entry := range entries {
		name := entry.Name()
		if !strings.HasPrefix(name, "voicepipe-") || !strings.HasSuffix(name, ".json") {
			continue
		}
		path := filepath.Join(r.stateDir, name)
		sess, err := readSession(path)
		if err != nil {
			continue
		}
		if isProcessAlive(sess.PID) {
			active = append(active, sess)
			continue
		}
		os.Remove(path)
		if sess.ControlPath != "" {
			os.Remove(sess.ControlPath)
		}
	}
	return active, nil
}

func readSession(path string) (*Session, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var sess Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, err
	}
	return &sess, nil
}

func (r *Registry) write(sess *Session) error {
	if err := os.MkdirAll(r.stateDir, 0o700); err != nil {
		return fmt.Errorf("session: mkdir state dir: %w", err)
	}
	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("session: encode: %w", err)
	}

	path := r.statePath(sess.PID)
	tmp, err := os.CreateTemp(r.stateDir, ".voicepipe-session-*")
	if err != nil {
		return fmt.Errorf("session: create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("session: write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("session: close temp file: %w", err)
	}
	if err := os.Chmod(tmpPath, 0o600); err != nil {
		return fmt.Errorf("session: chmod temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("session: rename into place: %w", err)
	}
	return nil
}

// isProcessAlive mirrors the teacher's pidManager.isProcessAlive:
// kill(pid, 0) distinguishes "exists" from "gone" without sending a
// real signal.
func isProcessAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	err = proc.Signal(syscall.Signal(0))
	if err == nil {
		return true
	}
	if errors.Is(err, os.ErrProcessDone) {
		return false
	}
	// EPERM means the pid exists but is owned by another user; treat as
	// alive since it is clearly not garbage.
	return errors.Is(err, syscall.EPERM)
}
