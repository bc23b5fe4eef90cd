// Package triggerstore reads and atomically writes the triggers.json
// configuration file: trigger prefixes, verb dispatch table, and LLM
// profiles used by the trigger engine.
package triggerstore

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// CurrentVersion is the schema version this package reads and writes.
const CurrentVersion = 1

// VerbConfig describes one dispatch-table entry.
type VerbConfig struct {
	Type           string        `json:"type"`
	Action         string        `json:"action,omitempty"`
	Enabled        bool          `json:"enabled"`
	Profile        string        `json:"profile,omitempty"`
	TimeoutSeconds int           `json:"timeout_seconds,omitempty"`
	Plugin         *PluginConfig `json:"plugin,omitempty"`
	Destination    string        `json:"destination,omitempty"`
}

// PluginConfig names exactly one of Module/Path plus the callable to
// invoke within it.
type PluginConfig struct {
	Module   string `json:"module,omitempty"`
	Path     string `json:"path,omitempty"`
	Callable string `json:"callable"`
}

// LLMProfile is a named model+prompt bundle referenced by llm-typed verbs.
type LLMProfile struct {
	Model              string  `json:"model"`
	Temperature        float64 `json:"temperature"`
	SystemPrompt       string  `json:"system_prompt"`
	UserPromptTemplate string  `json:"user_prompt_template,omitempty"`
}

// Dispatch holds the fallback action for an unrecognized verb.
type Dispatch struct {
	UnknownVerb string `json:"unknown_verb"`
}

// CommandsConfig is the fully-decoded, lowercase-normalized in-memory
// form of triggers.json.
type CommandsConfig struct {
	Triggers    map[string]string     `json:"triggers"`
	Dispatch    Dispatch              `json:"dispatch"`
	Verbs       map[string]VerbConfig `json:"verbs"`
	LLMProfiles map[string]LLMProfile `json:"llm_profiles"`

	// TriggerOrder preserves the insertion order of Triggers as decoded
	// from the file, since the trigger engine's matching order must be
	// the configured map's insertion order and Go map iteration is not
	// ordered.
	TriggerOrder []string `json:"-"`
}

// rawFile mirrors the on-disk schema, where a trigger's value may be
// either a bare action string or an object with an "action" field.
type rawFile struct {
	Version     int                        `json:"version"`
	Triggers    map[string]json.RawMessage `json:"triggers"`
	Dispatch    Dispatch                   `json:"dispatch"`
	Verbs       map[string]VerbConfig      `json:"verbs"`
	LLMProfiles map[string]LLMProfile      `json:"llm_profiles"`
}

// Default returns an empty-but-valid config: no triggers, unknown-verb
// fallback of "strip".
func Default() *CommandsConfig {
	return &CommandsConfig{
		Triggers:    map[string]string{},
		Dispatch:    Dispatch{UnknownVerb: "strip"},
		Verbs:       map[string]VerbConfig{},
		LLMProfiles: map[string]LLMProfile{},
	}
}

// Load reads and decodes the triggers file at path. A missing file
// yields Default(), never an error: triggers are optional. A malformed
// file also yields Default() per the original spec's "parsing errors
// produce an empty triggers map, never raise into the pipeline" rule;
// the parse error is returned alongside the safe default so callers
// may log it.
func Load(path string) (*CommandsConfig, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return Default(), nil
	}
	if err != nil {
		return Default(), fmt.Errorf("triggerstore: read %s: %w", path, err)
	}

	var raw rawFile
	if err := json.Unmarshal(data, &raw); err != nil {
		return Default(), fmt.Errorf("triggerstore: parse %s: %w", path, err)
	}

	cfg := &CommandsConfig{
		Triggers:    map[string]string{},
		Dispatch:    raw.Dispatch,
		Verbs:       map[string]VerbConfig{},
		LLMProfiles: map[string]LLMProfile{},
	}
	if cfg.Dispatch.UnknownVerb == "" {
		cfg.Dispatch.UnknownVerb = "strip"
	}

	for key, verb := range raw.Verbs {
		cfg.Verbs[strings.ToLower(key)] = verb
	}
	for key, profile := range raw.LLMProfiles {
		cfg.LLMProfiles[strings.ToLower(key)] = profile
	}

	var keyed struct {
		Triggers json.RawMessage `json:"triggers"`
	}
	var keys []string // file order; ranging over raw.Triggers would not keep it
	if json.Unmarshal(data, &keyed) == nil && len(keyed.Triggers) > 0 && keyed.Triggers[0] == '{' {
		dec := json.NewDecoder(bytes.NewReader(keyed.Triggers))
		dec.Token() // opening brace
		for dec.More() {
			tok, _ := dec.Token()
			keys = append(keys, tok.(string))
			dec.Decode(new(json.RawMessage))
		}
	}
	for _, key := range keys {
		rawVal := raw.Triggers[key]
		action, err := decodeTriggerAction(rawVal)
		if err != nil {
			return Default(), fmt.Errorf("triggerstore: parse %s: trigger %q: %w", path, key, err)
		}
		lower := strings.ToLower(key)
		if _, exists := cfg.Triggers[lower]; !exists {
			cfg.TriggerOrder = append(cfg.TriggerOrder, lower)
		}
		cfg.Triggers[lower] = action
	}

	return cfg, nil
}

func decodeTriggerAction(raw json.RawMessage) (string, error) {
	var asString string
	if err := json.Unmarshal(raw, &asString); err == nil {
		return asString, nil
	}
	var asObject struct {
		Action string `json:"action"`
	}
	if err := json.Unmarshal(raw, &asObject); err != nil {
		return "", fmt.Errorf("value is neither a string nor an {action} object: %w", err)
	}
	return asObject.Action, nil
}

// EnvOverride parses VOICEPIPE_TRANSCRIPT_TRIGGERS ("a=x,b=strip") into
// an ordered trigger map that replaces cfg.Triggers entirely. An empty
// string disables the override and returns nil, false.
func EnvOverride(value string) (triggers map[string]string, order []string, ok bool) {
	if value == "" {
		return nil, nil, false
	}
	triggers = map[string]string{}
	for _, pair := range strings.Split(value, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		k, v, found := strings.Cut(pair, "=")
		if !found {
			continue
		}
		k = strings.ToLower(strings.TrimSpace(k))
		v = strings.TrimSpace(v)
		if _, exists := triggers[k]; !exists {
			order = append(order, k)
		}
		triggers[k] = v
	}
	return triggers, order, true
}

// Save atomically writes cfg back to path as indented JSON.
func Save(path string, cfg *CommandsConfig) error {
	raw := rawFile{
		Version:     CurrentVersion,
		Triggers:    map[string]json.RawMessage{},
		Dispatch:    cfg.Dispatch,
		Verbs:       cfg.Verbs,
		LLMProfiles: cfg.LLMProfiles,
	}
	for k, v := range cfg.Triggers {
		encoded, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("triggerstore: encode trigger %q: %w", k, err)
		}
		raw.Triggers[k] = encoded
	}

	data, err := json.MarshalIndent(raw, "", "  ")
	if err != nil {
		return fmt.Errorf("triggerstore: encode %s: %w", path, err)
	}
	data = append(data, '\n')

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("triggerstore: mkdir %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, ".voicepipe-triggers-*")
	if err != nil {
		return fmt.Errorf("triggerstore: create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("triggerstore: write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("triggerstore: close temp file: %w", err)
	}
	if err := os.Chmod(tmpPath, 0o600); err != nil {
		return fmt.Errorf("triggerstore: chmod temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("triggerstore: rename into place: %w", err)
	}
	return nil
}
