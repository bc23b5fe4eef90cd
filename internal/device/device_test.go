package device

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func TestNamePriorityOrdersDefaultPulsePipewireThenRest(t *testing.T) {
	cases := []struct {
		name string
		want int
	}{
		{"default", 0},
		{"Built-in PulseAudio", 1},
		{"PipeWire Media Server", 2},
		{"USB Microphone", 3},
	}
	for _, c := range cases {
		if got := namePriority(c.name); got != c.want {
			t.Errorf("namePriority(%q) = %d, want %d", c.name, got, c.want)
		}
	}
}

func TestPickFormatClampsChannelsToDeviceMax(t *testing.T) {
	mono := Info{MaxInputChannels: 1}
	rate, channels := pickFormat(mono, 0, 2)
	if channels != 1 {
		t.Errorf("channels = %d, want 1 for a mono-only device", channels)
	}
	if rate != preferredRates[0] {
		t.Errorf("rate = %d, want default %d", rate, preferredRates[0])
	}
}

func TestPickFormatHonorsHints(t *testing.T) {
	stereo := Info{MaxInputChannels: 2}
	rate, channels := pickFormat(stereo, 16000, 2)
	if rate != 16000 || channels != 2 {
		t.Errorf("got rate=%d channels=%d, want 16000/2", rate, channels)
	}
}

func TestParseDeviceIDReturnsNilForEmptyAndDefault(t *testing.T) {
	if parseDeviceID("") != nil {
		t.Error("expected nil for empty device id")
	}
	if parseDeviceID("default") != nil {
		t.Error("expected nil for \"default\" device id")
	}
	if parseDeviceID("hw:1,0") == nil {
		t.Error("expected non-nil for a concrete device id")
	}
}

func TestResolverSaveAndLoadCacheRoundTrips(t *testing.T) {
	dir := t.TempDir()
	cachePath := filepath.Join(dir, "device-cache.json")
	r := NewResolver(cachePath)

	entry := &CacheEntry{
		AudioSelection: AudioSelection{DeviceID: "default", SampleRateHz: 48000, ChannelCount: 1},
		DeviceName:     "default",
		Source:         "auto",
		LastOK:         "2026-07-31T00:00:00Z",
	}
	r.saveCache(entry)

	loaded := r.loadCache()
	if loaded == nil {
		t.Fatal("loadCache() returned nil after saveCache")
	}
	if loaded.DeviceName != "default" || loaded.SampleRateHz != 48000 {
		t.Errorf("loaded = %+v, want matching entry", loaded)
	}

	data, err := os.ReadFile(cachePath)
	if err != nil {
		t.Fatalf("read cache file: %v", err)
	}
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("cache file is not valid JSON: %v", err)
	}
}

func TestResolverResetRemovesCacheFile(t *testing.T) {
	dir := t.TempDir()
	cachePath := filepath.Join(dir, "device-cache.json")
	r := NewResolver(cachePath)
	r.saveCache(&CacheEntry{AudioSelection: AudioSelection{DeviceID: "default"}})

	if err := r.Reset(); err != nil {
		t.Fatalf("Reset() error = %v", err)
	}
	if _, err := os.Stat(cachePath); !os.IsNotExist(err) {
		t.Error("expected cache file to be removed")
	}
}
