package envstore

import (
	"os"
	"path/filepath"
	"testing"
)

func TestUpsertEnvVarAppendsWhenAbsent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "voicepipe.env")

	if err := UpsertEnvVar(path, "VOICEPIPE_STT_PROVIDER", "openai"); err != nil {
		t.Fatalf("UpsertEnvVar() error = %v", err)
	}

	vars, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if vars["VOICEPIPE_STT_PROVIDER"] != "openai" {
		t.Errorf("VOICEPIPE_STT_PROVIDER = %q, want openai", vars["VOICEPIPE_STT_PROVIDER"])
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Errorf("perm = %v, want 0600", info.Mode().Perm())
	}
}

func TestUpsertEnvVarReplacesExistingLinePreservingOthers(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "voicepipe.env")
	original := "# comment\nVOICEPIPE_STT_PROVIDER=elevenlabs\nVOICEPIPE_LLM_MODEL=gpt-4o-mini\n"
	if err := os.WriteFile(path, []byte(original), 0o600); err != nil {
		t.Fatalf("seed file: %v", err)
	}

	if err := UpsertEnvVar(path, "VOICEPIPE_STT_PROVIDER", "openai"); err != nil {
		t.Fatalf("UpsertEnvVar() error = %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	want := "# comment\nVOICEPIPE_STT_PROVIDER=openai\nVOICEPIPE_LLM_MODEL=gpt-4o-mini\n"
	if string(data) != want {
		t.Errorf("file = %q, want %q", data, want)
	}
}

func TestUpsertEnvVarRejectsNewline(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "voicepipe.env")

	if err := UpsertEnvVar(path, "VOICEPIPE_LLM_MODEL", "bad\nvalue"); err == nil {
		t.Fatal("expected error for newline in value, got nil")
	}
}

func TestLoadMissingFileReturnsEmptyMap(t *testing.T) {
	dir := t.TempDir()
	vars, err := Load(filepath.Join(dir, "nonexistent.env"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(vars) != 0 {
		t.Errorf("expected empty map, got %v", vars)
	}
}

func TestApplyToProcessDoesNotOverrideExistingEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "voicepipe.env")
	if err := os.WriteFile(path, []byte("VOICEPIPE_LLM_MODEL=from-file\n"), 0o600); err != nil {
		t.Fatalf("seed file: %v", err)
	}
	t.Setenv("VOICEPIPE_LLM_MODEL", "from-process")

	if err := ApplyToProcess(path); err != nil {
		t.Fatalf("ApplyToProcess() error = %v", err)
	}
	if got := os.Getenv("VOICEPIPE_LLM_MODEL"); got != "from-process" {
		t.Errorf("VOICEPIPE_LLM_MODEL = %q, want from-process", got)
	}
}
