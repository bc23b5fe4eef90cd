// Package paths resolves the per-user runtime, state, and config
// directories voicepipe uses, following XDG on Linux and the platform
// conventions on macOS/Windows.
package paths

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
)

const (
	appDirName    = "voicepipe"
	sockRecorder  = "voicepipe.sock"
	sockTranscrib = "voicepipe_transcriber.sock"
)

// RuntimeDir returns the per-user runtime directory, creating it
// (private, 0700) if it does not already exist.
func RuntimeDir() (string, error) {
	dir, err := runtimeBase()
	if err != nil {
		return "", err
	}
	dir = filepath.Join(dir, appDirName)
	return ensurePrivateDir(dir)
}

// StateDir returns the per-user state directory.
func StateDir() (string, error) {
	dir, err := stateBase()
	if err != nil {
		return "", err
	}
	return ensurePrivateDir(dir)
}

// ConfigDir returns the per-user config directory.
func ConfigDir() (string, error) {
	dir, err := configBase()
	if err != nil {
		return "", err
	}
	return ensurePrivateDir(dir)
}

// SessionStateDir returns the directory session-state JSON files live
// in: a subdirectory of StateDir.
func SessionStateDir() (string, error) {
	base, err := StateDir()
	if err != nil {
		return "", err
	}
	dir := filepath.Join(base, "sessions")
	return ensurePrivateDir(dir)
}

// PreservedAudioDir returns the directory failed/timed-out captures are
// moved into for later inspection or retry.
func PreservedAudioDir() (string, error) {
	base, err := StateDir()
	if err != nil {
		return "", err
	}
	dir := filepath.Join(base, "audio")
	return ensurePrivateDir(dir)
}

// DoctorDir returns the directory diagnostic artifacts are written to.
// The doctor command family itself is out of scope; only the path
// contract is needed by callers that might write into it.
func DoctorDir() (string, error) {
	base, err := StateDir()
	if err != nil {
		return "", err
	}
	dir := filepath.Join(base, "doctor")
	return ensurePrivateDir(dir)
}

// EnvFilePath returns the canonical env file location.
func EnvFilePath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "voicepipe.env"), nil
}

// TriggersFilePath returns the canonical triggers file location.
func TriggersFilePath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "triggers.json"), nil
}

// RecorderSocketPath returns the recorder daemon's socket path,
// honoring VOICEPIPE_DAEMON_SOCKET / VOICEPIPE_DAEMON_SOCKET_PATH.
func RecorderSocketPath() (string, error) {
	if v := firstEnv("VOICEPIPE_DAEMON_SOCKET", "VOICEPIPE_DAEMON_SOCKET_PATH"); v != "" {
		return v, nil
	}
	dir, err := RuntimeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, sockRecorder), nil
}

// TranscriberSocketPath returns the transcriber daemon's socket path,
// honoring VOICEPIPE_TRANSCRIBER_SOCKET / VOICEPIPE_TRANSCRIBER_SOCKET_PATH.
func TranscriberSocketPath() (string, error) {
	if v := firstEnv("VOICEPIPE_TRANSCRIBER_SOCKET", "VOICEPIPE_TRANSCRIBER_SOCKET_PATH"); v != "" {
		return v, nil
	}
	dir, err := RuntimeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, sockTranscrib), nil
}

// RecorderSocketCandidates returns the ordered candidate list a client
// should try: env override, canonical path, legacy paths.
func RecorderSocketCandidates() ([]string, error) {
	return socketCandidates(RecorderSocketPath, "VOICEPIPE_DAEMON_SOCKET", "VOICEPIPE_DAEMON_SOCKET_PATH", sockRecorder)
}

// TranscriberSocketCandidates returns the transcriber equivalent.
func TranscriberSocketCandidates() ([]string, error) {
	return socketCandidates(TranscriberSocketPath, "VOICEPIPE_TRANSCRIBER_SOCKET", "VOICEPIPE_TRANSCRIBER_SOCKET_PATH", sockTranscrib)
}

func socketCandidates(canonical func() (string, error), envA, envB, name string) ([]string, error) {
	var out []string
	if v := firstEnv(envA, envB); v != "" {
		out = append(out, v)
	}
	p, err := canonical()
	if err != nil {
		return nil, err
	}
	out = appendUnique(out, p)
	// Legacy location: directly under the runtime base without the
	// voicepipe/ subdirectory, for installs that predate this layout.
	base, err := runtimeBase()
	if err == nil {
		out = appendUnique(out, filepath.Join(base, name))
	}
	return out, nil
}

func appendUnique(list []string, v string) []string {
	for _, existing := range list {
		if existing == v {
			return list
		}
	}
	return append(list, v)
}

func firstEnv(names ...string) string {
	for _, n := range names {
		if v := os.Getenv(n); v != "" {
			return v
		}
	}
	return ""
}

func runtimeBase() (string, error) {
	if runtime.GOOS == "windows" {
		if v := os.Getenv("LOCALAPPDATA"); v != "" {
			return filepath.Join(v, "voicepipe", "run"), nil
		}
		if v := os.Getenv("TEMP"); v != "" {
			return filepath.Join(v, "voicepipe"), nil
		}
		return "", fmt.Errorf("paths: neither LOCALAPPDATA nor TEMP set")
	}

	if v := os.Getenv("XDG_RUNTIME_DIR"); v != "" && writable(v) {
		return v, nil
	}
	uid := strconv.Itoa(os.Getuid())
	if candidate := filepath.Join("/run/user", uid); dirExists(candidate) {
		return candidate, nil
	}
	return filepath.Join(os.TempDir(), "voicepipe-"+uid), nil
}

func stateBase() (string, error) {
	switch runtime.GOOS {
	case "windows":
		if v := os.Getenv("LOCALAPPDATA"); v != "" {
			return filepath.Join(v, "voicepipe", "state"), nil
		}
		return "", fmt.Errorf("paths: LOCALAPPDATA not set")
	case "darwin":
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(home, "Library", "Application Support", "voicepipe", "state"), nil
	default:
		if v := os.Getenv("XDG_STATE_HOME"); v != "" {
			return filepath.Join(v, "voicepipe"), nil
		}
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(home, ".local", "state", "voicepipe"), nil
	}
}

func configBase() (string, error) {
	switch runtime.GOOS {
	case "windows":
		if v := os.Getenv("LOCALAPPDATA"); v != "" {
			return filepath.Join(v, "voicepipe"), nil
		}
		return "", fmt.Errorf("paths: LOCALAPPDATA not set")
	case "darwin":
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(home, "Library", "Application Support", "voicepipe"), nil
	default:
		if v := os.Getenv("XDG_CONFIG_HOME"); v != "" {
			return filepath.Join(v, "voicepipe"), nil
		}
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(home, ".config", "voicepipe"), nil
	}
}

func writable(dir string) bool {
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return false
	}
	probe := filepath.Join(dir, ".voicepipe-write-probe")
	f, err := os.OpenFile(probe, os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return false
	}
	f.Close()
	os.Remove(probe)
	return true
}

func dirExists(dir string) bool {
	info, err := os.Stat(dir)
	return err == nil && info.IsDir()
}

// ensurePrivateDir creates dir (and parents) idempotently, ignoring
// EEXIST, and falls back to a temp-dir path if the preferred base
// cannot be created, returning whichever directory is actually in
// effect.
func ensurePrivateDir(dir string) (string, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		fallback := filepath.Join(os.TempDir(), "voicepipe-fallback", filepath.Base(dir))
		if fbErr := os.MkdirAll(fallback, 0o700); fbErr != nil {
			return "", fmt.Errorf("paths: create %s: %w (fallback also failed: %v)", dir, err, fbErr)
		}
		if chErr := os.Chmod(fallback, 0o700); chErr != nil {
			return "", fmt.Errorf("paths: chmod fallback %s: %w", fallback, chErr)
		}
		return fallback, nil
	}
	if err := os.Chmod(dir, 0o700); err != nil {
		return "", fmt.Errorf("paths: chmod %s: %w", dir, err)
	}
	return dir, nil
}
