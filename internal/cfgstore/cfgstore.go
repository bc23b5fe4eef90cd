// Package cfgstore resolves voicepipe's typed configuration from the
// env file, process environment, and triggers file, and watches both
// on disk for changes.
package cfgstore

import (
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sigreer/voicepipe/internal/envstore"
	"github.com/sigreer/voicepipe/internal/triggerstore"
)

// ProviderConfig holds a single STT/LLM provider's resolved API key.
type ProviderConfig struct {
	APIKey string
}

// Config is the fully-resolved, typed view of voicepipe's
// configuration: env file + process env + triggers file.
type Config struct {
	TranscribeBackend string
	TranscribeModel   string

	ZwingliBackend string
	ZwingliModel   string
	ZwingliBaseURL string
	ZwingliAPIKey  string

	Providers map[string]ProviderConfig

	Device            string
	PulseSource       string
	AudioSampleRateHz int
	AudioChannels     int

	// MaxRecordingSeconds bounds one capture's duration before the
	// recorder daemon auto-stops it; 0 disables the watchdog.
	MaxRecordingSeconds int

	TypeBackend string
	Hotkey      string

	// OutputMode selects how a finished transcript is delivered:
	// "type" (default), "clipboard", or "print".
	OutputMode string

	ShellAllow          bool
	PluginAllow         bool
	ShellTimeoutSeconds int

	// ProcessingMode is the default dictation post-processing mode
	// ("raw" delivers the transcript verbatim, "llm" always routes
	// dictation text through the Zwingli LLM pass even without an
	// explicit trigger prefix). internal/toggle's runtime override wins
	// over this default.
	ProcessingMode string

	Triggers *triggerstore.CommandsConfig
}

// Load reads the env file at envPath (applying it to the process
// environment without overriding anything already set) and the
// triggers file at triggersPath, then resolves a typed Config. Missing
// files are not an error — both stores tolerate absence by design.
func Load(envPath, triggersPath string) (*Config, error) {
	if err := envstore.ApplyToProcess(envPath); err != nil {
		return nil, err
	}

	triggers, err := triggerstore.Load(triggersPath)
	if err != nil {
		// Per the original spec, a malformed triggers file degrades to
		// an empty trigger map rather than failing config resolution.
		triggers = triggerstore.Default()
	}
	if override, order, ok := triggerstore.EnvOverride(os.Getenv("VOICEPIPE_TRANSCRIPT_TRIGGERS")); ok {
		triggers.Triggers = override
		triggers.TriggerOrder = order
	}

	cfg := &Config{
		TranscribeBackend: firstNonEmpty(os.Getenv("VOICEPIPE_TRANSCRIBE_BACKEND"), "openai"),
		TranscribeModel:   firstNonEmpty(os.Getenv("VOICEPIPE_TRANSCRIBE_MODEL"), os.Getenv("VOICEPIPE_MODEL")),

		ZwingliBackend: firstNonEmpty(os.Getenv("VOICEPIPE_ZWINGLI_BACKEND"), "openai"),
		ZwingliModel:   firstNonEmpty(os.Getenv("VOICEPIPE_ZWINGLI_MODEL"), "gpt-4o-mini"),
		ZwingliBaseURL: os.Getenv("VOICEPIPE_ZWINGLI_BASE_URL"),
		ZwingliAPIKey:  os.Getenv("VOICEPIPE_ZWINGLI_API_KEY"),

		Device:      os.Getenv("VOICEPIPE_DEVICE"),
		PulseSource: os.Getenv("VOICEPIPE_PULSE_SOURCE"),

		TypeBackend: firstNonEmpty(os.Getenv("VOICEPIPE_TYPE_BACKEND"), "auto"),
		Hotkey:      firstNonEmpty(os.Getenv("VOICEPIPE_HOTKEY"), "alt+f5"),
		OutputMode:  firstNonEmpty(os.Getenv("VOICEPIPE_OUTPUT_MODE"), "type"),

		ShellAllow:          os.Getenv("VOICEPIPE_SHELL_ALLOW") == "1",
		PluginAllow:         os.Getenv("VOICEPIPE_PLUGIN_ALLOW") == "1",
		ShellTimeoutSeconds: intEnv("VOICEPIPE_SHELL_TIMEOUT_SECONDS", 10),

		ProcessingMode: firstNonEmpty(os.Getenv("VOICEPIPE_PROCESSING_MODE"), "llm"),

		MaxRecordingSeconds: intEnv("VOICEPIPE_MAX_RECORDING_SECONDS", 300),

		Triggers: triggers,
	}

	cfg.AudioSampleRateHz = intEnv("VOICEPIPE_AUDIO_SAMPLE_RATE", 0)
	cfg.AudioChannels = intEnv("VOICEPIPE_AUDIO_CHANNELS", 0)

	cfg.Providers = resolveProviders()

	return cfg, nil
}

// resolveProviders builds the per-provider API key table: the
// per-provider env var wins, falling back to the legacy single-key
// env var for backends that have one. This generalizes the
// LeonardoTrapani fork's providers map to both named STT backends plus
// the LLM backends.
func resolveProviders() map[string]ProviderConfig {
	providers := map[string]ProviderConfig{
		"openai":     {APIKey: os.Getenv("OPENAI_API_KEY")},
		"elevenlabs": {APIKey: firstNonEmpty(os.Getenv("ELEVENLABS_API_KEY"), os.Getenv("XI_API_KEY"))},
		"groq":       {APIKey: os.Getenv("GROQ_API_KEY")},
	}
	return providers
}

// ResolveSTTAPIKey returns the API key for a normalized backend name
// ("openai", "elevenlabs"), applying the xi/eleven-labs alias
// resolution the transcriber daemon uses for model-string backends.
func (c *Config) ResolveSTTAPIKey(backend string) string {
	backend = NormalizeBackendAlias(backend)
	if p, ok := c.Providers[backend]; ok {
		return p.APIKey
	}
	return ""
}

// NormalizeBackendAlias maps "xi"/"eleven"/"eleven-labs" to
// "elevenlabs"; other names pass through unchanged.
func NormalizeBackendAlias(name string) string {
	switch strings.ToLower(name) {
	case "xi", "eleven", "eleven-labs":
		return "elevenlabs"
	default:
		return strings.ToLower(name)
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func intEnv(name string, fallback int) int {
	v := os.Getenv(name)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

// Manager holds a live Config plus a polling watch loop that reloads
// it when either backing file's mtime changes, mirroring the
// teacher's config.Manager/StartWatching pattern without introducing
// an fsnotify dependency (the pack never imports one).
type Manager struct {
	envPath      string
	triggersPath string

	mu       sync.RWMutex
	cfg      *Config
	onReload func(*Config)

	envModTime      time.Time
	triggersModTime time.Time
}

// NewManager loads the initial config and returns a ready Manager.
func NewManager(envPath, triggersPath string) (*Manager, error) {
	cfg, err := Load(envPath, triggersPath)
	if err != nil {
		return nil, err
	}
	m := &Manager{envPath: envPath, triggersPath: triggersPath, cfg: cfg}
	m.envModTime, _ = modTime(envPath)
	m.triggersModTime, _ = modTime(triggersPath)
	return m, nil
}

// Current returns the most recently loaded Config.
func (m *Manager) Current() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cfg
}

// SetOnConfigReload registers a callback invoked after a successful
// reload triggered by StartWatching.
func (m *Manager) SetOnConfigReload(fn func(*Config)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onReload = fn
}

// StartWatching polls both backing files every interval and reloads
// the config when either has a newer mtime than last observed. It
// blocks until done is closed.
func (m *Manager) StartWatching(done <-chan struct{}, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			m.pollOnce()
		}
	}
}

func (m *Manager) pollOnce() {
	envMT, _ := modTime(m.envPath)
	triggersMT, _ := modTime(m.triggersPath)

	m.mu.RLock()
	changed := !envMT.Equal(m.envModTime) || !triggersMT.Equal(m.triggersModTime)
	m.mu.RUnlock()
	if !changed {
		return
	}

	cfg, err := Load(m.envPath, m.triggersPath)
	if err != nil {
		return
	}

	m.mu.Lock()
	m.cfg = cfg
	m.envModTime = envMT
	m.triggersModTime = triggersMT
	callback := m.onReload
	m.mu.Unlock()

	if callback != nil {
		callback(cfg)
	}
}

func modTime(path string) (time.Time, error) {
	info, err := os.Stat(path)
	if err != nil {
		return time.Time{}, err
	}
	return info.ModTime(), nil
}
