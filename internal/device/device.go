// Package device resolves which audio input device and
// sample-rate/channel pair voicepipe should capture from, following
// the env-override -> config -> pulse-preference -> cache -> probe
// resolution order and persisting the winning choice.
//
// The probe itself is grounded on the teacher corpus's only malgo
// consumer (doismellburning-samoyed's src/audio.go): InitContext,
// DefaultDeviceConfig(Capture), and a DeviceCallbacks.Data callback
// feeding a bounded buffer, adapted here from a full audio pipeline
// down to a short amplitude-measuring probe window.
package device

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
	"unsafe"

	"github.com/gen2brain/malgo"
	"golang.org/x/sync/singleflight"
)

// SilenceThreshold is the minimum peak |int16| amplitude a probe
// window must observe for a device to be considered "has signal"
// rather than silent/disconnected.
const SilenceThreshold = 300

// preferredRates is the descending preference order tried during
// auto-probe, matching the data model's allowed sample_rate_hz set.
var preferredRates = []int{48000, 44100, 24000, 22050, 16000}

// AudioSelection identifies a validated device/format triple.
type AudioSelection struct {
	DeviceID     string `json:"device_id"`
	SampleRateHz int    `json:"sample_rate_hz"`
	ChannelCount int    `json:"channel_count"`
}

// CacheEntry is the persisted record of the last successful selection.
type CacheEntry struct {
	AudioSelection
	DeviceName string `json:"device_name"`
	Source     string `json:"source"`
	LastOK     string `json:"last_ok_iso8601"`
}

// Info describes one enumerated capture-capable device.
type Info struct {
	ID              string
	Name            string
	MaxInputChannels int
}

// Resolver resolves and caches audio device selections.
type Resolver struct {
	cachePath string
	group     singleflight.Group
}

// NewResolver returns a Resolver that persists its cache at cachePath.
func NewResolver(cachePath string) *Resolver {
	return &Resolver{cachePath: cachePath}
}

// Enumerate lists capture-capable devices via the default miniaudio
// backend, ordered with "default"/"pulse"/"pipewire" first, matching
// the original spec's auto-probe device ordering rule.
func Enumerate() ([]Info, error) {
	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, fmt.Errorf("device: init audio context: %w", err)
	}
	defer ctx.Uninit()
	defer ctx.Free()

	raw, err := ctx.Devices(malgo.Capture)
	if err != nil {
		return nil, fmt.Errorf("device: enumerate capture devices: %w", err)
	}

	infos := make([]Info, 0, len(raw))
	for _, d := range raw {
		infos = append(infos, Info{
			ID:               d.ID.String(),
			Name:             d.Name(),
			MaxInputChannels: int(d.MaxChannels),
		})
	}

	sort.SliceStable(infos, func(i, j int) bool {
		return namePriority(infos[i].Name) < namePriority(infos[j].Name)
	})
	return infos, nil
}

func namePriority(name string) int {
	lower := strings.ToLower(name)
	switch {
	case lower == "default":
		return 0
	case strings.Contains(lower, "pulse"):
		return 1
	case strings.Contains(lower, "pipewire"):
		return 2
	default:
		return 3
	}
}

// Resolve runs the full resolution order: env override, config
// device, pulse source preference, system default, cache, auto-probe.
// hintRate/hintChannels of 0 mean "no preference"; concurrent callers
// share one in-flight resolution via singleflight so a cold start
// under a hotkey burst only probes once.
func (r *Resolver) Resolve(envDevice, configDevice, pulseSource string, hintRate, hintChannels int) (*CacheEntry, error) {
	v, err, _ := r.group.Do("resolve", func() (interface{}, error) {
		return r.resolveLocked(envDevice, configDevice, pulseSource, hintRate, hintChannels)
	})
	if err != nil {
		return nil, err
	}
	return v.(*CacheEntry), nil
}

func (r *Resolver) resolveLocked(envDevice, configDevice, pulseSource string, hintRate, hintChannels int) (*CacheEntry, error) {
	if envDevice != "" {
		entry, err := r.resolveExplicit(envDevice, "auto", hintRate, hintChannels)
		if err != nil {
			// Explicit env override is strict mode: failure is fatal,
			// never falls through to config/cache/probe.
			return nil, fmt.Errorf("device: strict device override %q failed: %w", envDevice, err)
		}
		entry.Source = "auto"
		r.saveCache(entry)
		return entry, nil
	}

	if configDevice != "" {
		entry, err := r.resolveExplicit(configDevice, "config", hintRate, hintChannels)
		if err == nil {
			r.saveCache(entry)
			return entry, nil
		}
	}

	if pulseSource != "" {
		if entry, err := r.resolvePulseSource(pulseSource, "pulse", hintRate, hintChannels); err == nil {
			r.saveCache(entry)
			return entry, nil
		}
	}

	if entry, err := r.systemDefault(hintRate, hintChannels); err == nil {
		r.saveCache(entry)
		return entry, nil
	}

	if cached := r.loadCache(); cached != nil {
		if probeAmplitude(cached.DeviceID, cached.SampleRateHz, cached.ChannelCount) > SilenceThreshold {
			cached.Source = "cache"
			cached.LastOK = time.Now().UTC().Format(time.RFC3339)
			r.saveCache(cached)
			return cached, nil
		}
	}

	return r.autoProbe(hintRate, hintChannels)
}

// resolvePulseSource pins pulseSource via PULSE_SOURCE, the env var
// PulseAudio/PipeWire-pulse clients honor to select an input source
// when opening the virtual "pulse" device, then opens that device.
// The pin is left set for the session rather than reverted, since at
// most one capture session is ever in flight (session.Registry
// enforces this).
func (r *Resolver) resolvePulseSource(pulseSource, source string, hintRate, hintChannels int) (*CacheEntry, error) {
	infos, err := Enumerate()
	if err != nil {
		return nil, err
	}
	target := findPulseDevice(infos)
	if target == nil {
		return nil, fmt.Errorf("device: no pulse/pipewire virtual device found to pin source %q", pulseSource)
	}

	os.Setenv("PULSE_SOURCE", pulseSource)

	rate, channels := pickFormat(*target, hintRate, hintChannels)
	if probeAmplitude(target.ID, rate, channels) <= 0 {
		return nil, fmt.Errorf("device: could not open pulse device pinned to source %q", pulseSource)
	}

	return &CacheEntry{
		AudioSelection: AudioSelection{DeviceID: target.ID, SampleRateHz: rate, ChannelCount: channels},
		DeviceName:     target.Name,
		Source:         source,
		LastOK:         time.Now().UTC().Format(time.RFC3339),
	}, nil
}

// systemDefault opens the best pulse/pipewire (or literal "default")
// device without pinning any particular source.
func (r *Resolver) systemDefault(hintRate, hintChannels int) (*CacheEntry, error) {
	infos, err := Enumerate()
	if err != nil {
		return nil, err
	}
	target := findDefaultDevice(infos)
	if target == nil {
		return nil, fmt.Errorf("device: no default/pulse/pipewire device found")
	}

	rate, channels := pickFormat(*target, hintRate, hintChannels)
	if probeAmplitude(target.ID, rate, channels) <= 0 {
		return nil, fmt.Errorf("device: could not open default device %q", target.Name)
	}

	return &CacheEntry{
		AudioSelection: AudioSelection{DeviceID: target.ID, SampleRateHz: rate, ChannelCount: channels},
		DeviceName:     target.Name,
		Source:         "default",
		LastOK:         time.Now().UTC().Format(time.RFC3339),
	}, nil
}

func findPulseDevice(infos []Info) *Info {
	for i := range infos {
		if strings.Contains(strings.ToLower(infos[i].Name), "pulse") {
			return &infos[i]
		}
	}
	for i := range infos {
		if strings.Contains(strings.ToLower(infos[i].Name), "pipewire") {
			return &infos[i]
		}
	}
	return nil
}

func findDefaultDevice(infos []Info) *Info {
	for i := range infos {
		if strings.ToLower(infos[i].Name) == "default" {
			return &infos[i]
		}
	}
	return findPulseDevice(infos)
}

// resolveExplicit parses device as a `pulse:<source>` pin, an integer
// index (matched positionally against Enumerate's order), or a device
// name substring, then validates it opens at the hinted (or first
// preferred) format.
func (r *Resolver) resolveExplicit(device, source string, hintRate, hintChannels int) (*CacheEntry, error) {
	if pulseSrc, ok := strings.CutPrefix(device, "pulse:"); ok {
		return r.resolvePulseSource(pulseSrc, source, hintRate, hintChannels)
	}

	infos, err := Enumerate()
	if err != nil {
		return nil, err
	}

	var target *Info
	if idx, convErr := strconv.Atoi(device); convErr == nil {
		if idx < 0 || idx >= len(infos) {
			return nil, fmt.Errorf("device: no capture device at index %d", idx)
		}
		target = &infos[idx]
	} else {
		for i := range infos {
			if strings.EqualFold(infos[i].Name, device) || strings.Contains(strings.ToLower(infos[i].Name), strings.ToLower(device)) {
				target = &infos[i]
				break
			}
		}
		if target == nil {
			return nil, fmt.Errorf("device: no capture device named %q", device)
		}
	}

	rate, channels := pickFormat(*target, hintRate, hintChannels)
	if probeAmplitude(target.ID, rate, channels) <= 0 {
		// Zero means the probe could not even open the stream; a
		// quiet room still yields a small non-zero amplitude.
		return nil, fmt.Errorf("device: could not open %q at %dHz/%dch", target.Name, rate, channels)
	}

	return &CacheEntry{
		AudioSelection: AudioSelection{DeviceID: target.ID, SampleRateHz: rate, ChannelCount: channels},
		DeviceName:     target.Name,
		Source:         source,
		LastOK:         time.Now().UTC().Format(time.RFC3339),
	}, nil
}

func pickFormat(info Info, hintRate, hintChannels int) (rate, channels int) {
	channels = hintChannels
	if channels <= 0 || channels > info.MaxInputChannels {
		channels = 1
		if info.MaxInputChannels >= 2 {
			channels = 2
		}
	}
	rate = hintRate
	if rate <= 0 {
		rate = preferredRates[0]
	}
	return rate, channels
}

// autoProbe enumerates devices in priority order and opens each at
// every preferred sample rate in descending order (only the hinted rate
// when one is given), with the channel count pickFormat picks, keeping
// the first device/rate whose amplitude exceeds SilenceThreshold, or
// the loudest one otherwise.
func (r *Resolver) autoProbe(hintRate, hintChannels int) (*CacheEntry, error) {
	infos, err := Enumerate()
	if err != nil {
		return nil, err
	}
	if len(infos) == 0 {
		return nil, fmt.Errorf("device: no capture-capable devices found")
	}

	var best *CacheEntry
	var bestAmplitude int

	for _, info := range infos {
		rate, channels := pickFormat(info, hintRate, hintChannels)
		rates := []int{rate}
		if hintRate <= 0 {
			rates = preferredRates
		}
		for _, rate := range rates {
			amp := probeAmplitude(info.ID, rate, channels)
			if amp > bestAmplitude {
				bestAmplitude = amp
				best = &CacheEntry{
					AudioSelection: AudioSelection{DeviceID: info.ID, SampleRateHz: rate, ChannelCount: channels},
					DeviceName:     info.Name,
				}
			}
			if amp > SilenceThreshold {
				best.Source = "auto"
				best.LastOK = time.Now().UTC().Format(time.RFC3339)
				r.saveCache(best)
				return best, nil
			}
		}
	}

	if best == nil {
		return nil, fmt.Errorf("device: no usable capture device found")
	}
	best.Source = "fallback"
	best.LastOK = time.Now().UTC().Format(time.RFC3339)
	r.saveCache(best)
	return best, nil
}

// probeAmplitude opens deviceID briefly at rate/channels and returns
// the maximum absolute sample observed, or 0 if the device could not
// be opened at all.
func probeAmplitude(deviceID string, rate, channels int) int {
	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return 0
	}
	defer ctx.Uninit()
	defer ctx.Free()

	cfg := malgo.DefaultDeviceConfig(malgo.Capture)
	cfg.Capture.Format = malgo.FormatS16
	cfg.Capture.Channels = uint32(channels)
	cfg.SampleRate = uint32(rate)
	cfg.PeriodSizeInMilliseconds = 20

	var pinner runtime.Pinner
	defer pinner.Unpin()
	if id := parseDeviceID(deviceID); id != nil {
		pinner.Pin(id)
		cfg.Capture.DeviceID = unsafe.Pointer(id) //nolint:gosec // required by malgo's DeviceID binding
	}

	var mu sync.Mutex
	maxAbs := 0
	samples := 0
	const probeSampleTarget = 4800 // ~100ms at 48kHz mono

	callbacks := malgo.DeviceCallbacks{
		Data: func(_, input []byte, frameCount uint32) {
			mu.Lock()
			defer mu.Unlock()
			for i := 0; i+1 < len(input); i += 2 {
				v := int16(uint16(input[i]) | uint16(input[i+1])<<8)
				abs := int(v)
				if abs < 0 {
					abs = -abs
				}
				if abs > maxAbs {
					maxAbs = abs
				}
			}
			samples += int(frameCount)
		},
	}

	dev, err := malgo.InitDevice(ctx.Context, cfg, callbacks)
	if err != nil {
		return 0
	}
	defer dev.Uninit()

	if err := dev.Start(); err != nil {
		return 0
	}
	defer dev.Stop()

	deadline := time.Now().Add(250 * time.Millisecond)
	for time.Now().Before(deadline) {
		mu.Lock()
		done := samples >= probeSampleTarget
		mu.Unlock()
		if done {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	mu.Lock()
	defer mu.Unlock()
	if maxAbs == 0 {
		return 1 // opened fine but silent window; distinguish from "could not open"
	}
	return maxAbs
}

// parseDeviceID turns a stringified malgo.DeviceID (as returned by
// Info.ID) back into a *malgo.DeviceID, or nil for "" / "default",
// following the teacher's deviceIDFromName pattern.
func parseDeviceID(id string) *malgo.DeviceID {
	if id == "" || id == "default" {
		return nil
	}
	var deviceID malgo.DeviceID
	copy(deviceID[:], id)
	return &deviceID
}

func (r *Resolver) loadCache() *CacheEntry {
	if r.cachePath == "" {
		return nil
	}
	data, err := os.ReadFile(r.cachePath)
	if err != nil {
		return nil
	}
	var entry CacheEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil
	}
	return &entry
}

func (r *Resolver) saveCache(entry *CacheEntry) {
	if r.cachePath == "" {
		return
	}
	data, err := json.MarshalIndent(entry, "", "  ")
	if err != nil {
		return
	}
	dir := filepath.Dir(r.cachePath)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return
	}
	tmp, err := os.CreateTemp(dir, ".voicepipe-devicecache-*")
	if err != nil {
		return
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return
	}
	tmp.Close()
	os.Chmod(tmpPath, 0o600)
	os.Rename(tmpPath, r.cachePath)
}

// Reset removes the persisted device cache entry.
func (r *Resolver) Reset() error {
	if r.cachePath == "" {
		return nil
	}
	if err := os.Remove(r.cachePath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("device: reset cache: %w", err)
	}
	return nil
}
