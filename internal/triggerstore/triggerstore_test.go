package triggerstore

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadMissingFileReturnsDefault(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "triggers.json"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Dispatch.UnknownVerb != "strip" {
		t.Errorf("UnknownVerb = %q, want strip", cfg.Dispatch.UnknownVerb)
	}
	if len(cfg.Triggers) != 0 {
		t.Errorf("expected no triggers, got %v", cfg.Triggers)
	}
}

func TestLoadNormalizesKeysToLowercaseAndPreservesOrder(t *testing.T) {
	path := filepath.Join(t.TempDir(), "triggers.json")
	body := `{
		"version": 1,
		"triggers": {"Zwingli": "zwingli", "STRIP": {"action": "strip"}},
		"dispatch": {"unknown_verb": "strip"},
		"verbs": {"Strip": {"type": "builtin", "action": "strip", "enabled": true}},
		"llm_profiles": {}
	}`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("seed file: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Triggers["zwingli"] != "zwingli" {
		t.Errorf("triggers[zwingli] = %q, want zwingli", cfg.Triggers["zwingli"])
	}
	if cfg.Triggers["strip"] != "strip" {
		t.Errorf("triggers[strip] = %q, want strip", cfg.Triggers["strip"])
	}
	if _, ok := cfg.Verbs["strip"]; !ok {
		t.Error("expected verb \"strip\" to be present (lowercased)")
	}
	if len(cfg.TriggerOrder) != 2 || cfg.TriggerOrder[0] != "zwingli" || cfg.TriggerOrder[1] != "strip" {
		t.Errorf("TriggerOrder = %v, want [zwingli strip]", cfg.TriggerOrder)
	}
}

func TestLoadMalformedFileReturnsDefaultAndError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "triggers.json")
	if err := os.WriteFile(path, []byte("not json"), 0o600); err != nil {
		t.Fatalf("seed file: %v", err)
	}

	cfg, err := Load(path)
	if err == nil {
		t.Fatal("expected a parse error")
	}
	if cfg == nil || cfg.Dispatch.UnknownVerb != "strip" {
		t.Errorf("expected safe default config even on parse error, got %+v", cfg)
	}
}

func TestEnvOverrideParsesCommaSeparatedPairs(t *testing.T) {
	triggers, order, ok := EnvOverride("a=x,b=strip")
	if !ok {
		t.Fatal("expected ok=true for non-empty override")
	}
	if triggers["a"] != "x" || triggers["b"] != "strip" {
		t.Errorf("triggers = %v", triggers)
	}
	if len(order) != 2 || order[0] != "a" || order[1] != "b" {
		t.Errorf("order = %v", order)
	}
}

func TestEnvOverrideEmptyStringDisables(t *testing.T) {
	_, _, ok := EnvOverride("")
	if ok {
		t.Error("expected ok=false for empty override string")
	}
}

func TestSaveThenLoadRoundTrips(t *testing.T) {
	path := filepath.Join(t.TempDir(), "triggers.json")
	cfg := Default()
	cfg.Triggers["zwingli"] = "zwingli"
	cfg.Verbs["strip"] = VerbConfig{Type: "builtin", Action: "strip", Enabled: true}

	if err := Save(path, cfg); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	reloaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if reloaded.Triggers["zwingli"] != "zwingli" {
		t.Errorf("reloaded triggers = %v", reloaded.Triggers)
	}
}
