package cfgstore

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadResolvesDefaultsWithoutFiles(t *testing.T) {
	dir := t.TempDir()
	cfg, err := Load(filepath.Join(dir, "voicepipe.env"), filepath.Join(dir, "triggers.json"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.TranscribeBackend != "openai" {
		t.Errorf("TranscribeBackend = %q, want openai", cfg.TranscribeBackend)
	}
	if cfg.Hotkey != "alt+f5" {
		t.Errorf("Hotkey = %q, want alt+f5", cfg.Hotkey)
	}
	if cfg.ShellTimeoutSeconds != 10 {
		t.Errorf("ShellTimeoutSeconds = %d, want 10", cfg.ShellTimeoutSeconds)
	}
}

func TestLoadEnvFileDoesNotOverrideProcessEnv(t *testing.T) {
	dir := t.TempDir()
	envPath := filepath.Join(dir, "voicepipe.env")
	if err := os.WriteFile(envPath, []byte("VOICEPIPE_HOTKEY=ctrl+space\n"), 0o600); err != nil {
		t.Fatalf("seed env file: %v", err)
	}
	t.Setenv("VOICEPIPE_HOTKEY", "super+v")

	cfg, err := Load(envPath, filepath.Join(dir, "triggers.json"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Hotkey != "super+v" {
		t.Errorf("Hotkey = %q, want super+v (process env wins)", cfg.Hotkey)
	}
}

func TestNormalizeBackendAlias(t *testing.T) {
	cases := map[string]string{
		"xi":          "elevenlabs",
		"eleven":      "elevenlabs",
		"eleven-labs": "elevenlabs",
		"OpenAI":      "openai",
	}
	for in, want := range cases {
		if got := NormalizeBackendAlias(in); got != want {
			t.Errorf("NormalizeBackendAlias(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestManagerStartWatchingReloadsOnChange(t *testing.T) {
	dir := t.TempDir()
	envPath := filepath.Join(dir, "voicepipe.env")
	triggersPath := filepath.Join(dir, "triggers.json")
	if err := os.WriteFile(envPath, []byte("VOICEPIPE_HOTKEY=alt+f5\n"), 0o600); err != nil {
		t.Fatalf("seed env file: %v", err)
	}

	mgr, err := NewManager(envPath, triggersPath)
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}

	reloaded := make(chan *Config, 1)
	mgr.SetOnConfigReload(func(cfg *Config) { reloaded <- cfg })

	done := make(chan struct{})
	go mgr.StartWatching(done, 10*time.Millisecond)
	defer close(done)

	time.Sleep(20 * time.Millisecond)
	future := time.Now().Add(time.Second)
	if err := os.WriteFile(envPath, []byte("VOICEPIPE_HOTKEY=ctrl+space\n"), 0o600); err != nil {
		t.Fatalf("rewrite env file: %v", err)
	}
	if err := os.Chtimes(envPath, future, future); err != nil {
		t.Fatalf("chtimes: %v", err)
	}

	select {
	case cfg := <-reloaded:
		if cfg.Hotkey != "ctrl+space" {
			t.Errorf("reloaded Hotkey = %q, want ctrl+space", cfg.Hotkey)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for reload callback")
	}
}
