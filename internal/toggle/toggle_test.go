package toggle

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/sigreer/voicepipe/internal/cfgstore"
	"github.com/sigreer/voicepipe/internal/focus"
	"github.com/sigreer/voicepipe/internal/llmclient"
	"github.com/sigreer/voicepipe/internal/recbackend"
	"github.com/sigreer/voicepipe/internal/replay"
	"github.com/sigreer/voicepipe/internal/session"
	"github.com/sigreer/voicepipe/internal/stt"
	"github.com/sigreer/voicepipe/internal/triggerstore"
	"github.com/sigreer/voicepipe/internal/typing"
)

type fakeBackend struct {
	startStatus recbackend.Status
	stopStatus  recbackend.Status
	statusOf    recbackend.Status
	startErr    error
	stopErr     error
}

func (f *fakeBackend) Start(ctx context.Context, device string) (recbackend.Status, error) {
	return f.startStatus, f.startErr
}
func (f *fakeBackend) Stop(ctx context.Context) (recbackend.Status, error) {
	return f.stopStatus, f.stopErr
}
func (f *fakeBackend) Cancel(ctx context.Context) (recbackend.Status, error) { return recbackend.Status{}, nil }
func (f *fakeBackend) StatusOf(ctx context.Context) (recbackend.Status, error) {
	return f.statusOf, nil
}

type fakeLLM struct {
	text string
	err  error
}

func (f *fakeLLM) Complete(ctx context.Context, req llmclient.Request) (*llmclient.Result, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &llmclient.Result{Text: f.text}, nil
}

type fakeSTT struct{ text string }

func (f *fakeSTT) Transcribe(ctx context.Context, req stt.Request) (string, error) {
	return f.text, nil
}

func baseConfig() *cfgstore.Config {
	return &cfgstore.Config{
		TranscribeBackend: "openai",
		TranscribeModel:   "whisper-1",
		ProcessingMode:    "raw",
		OutputMode:        "type",
		Triggers:          triggerstore.Default(),
	}
}

func newTestDeps(t *testing.T, cfg *cfgstore.Config, backend recbackend.Backend, llm *fakeLLM) Dependencies {
	t.Helper()
	typer, err := typing.New("none")
	if err != nil {
		t.Fatalf("typing.New: %v", err)
	}
	return Dependencies{
		Backend:               backend,
		Sessions:              session.NewRegistry(t.TempDir(), t.TempDir()),
		Config:                func() *cfgstore.Config { return cfg },
		TranscriberSocketPath: filepath.Join(t.TempDir(), "missing-transcriber.sock"),
		SpeechClient:          func(backend string) (stt.Client, error) { return &fakeSTT{text: "hello world"}, nil },
		LLM:                   llm,
		ConfigDir:             t.TempDir(),
		Replay:                replay.New(t.TempDir()),
		Typer:                 typer,
		PreservedAudioDir:     t.TempDir(),
	}
}

func TestExecuteStartsWhenIdle(t *testing.T) {
	backend := &fakeBackend{
		statusOf:    recbackend.Status{Status: "idle"},
		startStatus: recbackend.Status{Status: "recording", AudioFile: "/tmp/a.wav"},
	}
	tg := New(newTestDeps(t, baseConfig(), backend, &fakeLLM{}))

	result, err := tg.Execute(context.Background(), "")
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if result.Action != "start" || result.AudioFile != "/tmp/a.wav" {
		t.Errorf("result = %+v", result)
	}
}

func TestExecuteStopTranscribesAndDeliversRawDictation(t *testing.T) {
	dir := t.TempDir()
	audioPath := filepath.Join(dir, "audio.wav")
	os.WriteFile(audioPath, []byte("fake"), 0o600)

	backend := &fakeBackend{
		statusOf:   recbackend.Status{Status: "recording"},
		stopStatus: recbackend.Status{Status: "stopped", AudioFile: audioPath},
	}
	tg := New(newTestDeps(t, baseConfig(), backend, &fakeLLM{}))

	result, err := tg.Execute(context.Background(), focus.WindowID(""))
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if result.Action != "stop" || result.Text != "hello world" {
		t.Errorf("result = %+v", result)
	}
	if _, err := os.Stat(audioPath); !os.IsNotExist(err) {
		t.Error("expected audio file to be deleted on success")
	}
}

func TestExecuteStopAppliesLLMModeToDictation(t *testing.T) {
	dir := t.TempDir()
	audioPath := filepath.Join(dir, "audio.wav")
	os.WriteFile(audioPath, []byte("fake"), 0o600)

	cfg := baseConfig()
	cfg.ProcessingMode = "llm"

	backend := &fakeBackend{
		statusOf:   recbackend.Status{Status: "recording"},
		stopStatus: recbackend.Status{Status: "stopped", AudioFile: audioPath},
	}
	tg := New(newTestDeps(t, cfg, backend, &fakeLLM{text: "cleaned up text"}))

	result, err := tg.Execute(context.Background(), "")
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if result.Text != "cleaned up text" {
		t.Errorf("result.Text = %q, want llm-processed text", result.Text)
	}
}

func TestSetModeOverrideRejectsInvalidMode(t *testing.T) {
	tg := New(newTestDeps(t, baseConfig(), &fakeBackend{}, &fakeLLM{}))
	if err := tg.SetModeOverride("bogus"); err == nil {
		t.Error("expected an error for an invalid mode override")
	}
}

func TestEffectiveModePrefersOverrideOverConfigDefault(t *testing.T) {
	cfg := baseConfig()
	cfg.ProcessingMode = "raw"
	tg := New(newTestDeps(t, cfg, &fakeBackend{}, &fakeLLM{}))

	if tg.EffectiveMode() != "raw" {
		t.Fatalf("EffectiveMode() = %q before override, want raw", tg.EffectiveMode())
	}
	tg.SetModeOverride("llm")
	if tg.EffectiveMode() != "llm" {
		t.Errorf("EffectiveMode() = %q after override, want llm", tg.EffectiveMode())
	}
	tg.SetModeOverride("")
	if tg.EffectiveMode() != "raw" {
		t.Errorf("EffectiveMode() = %q after clearing override, want raw", tg.EffectiveMode())
	}
}

func TestExecuteStopPreservesAudioOnTranscribeFailure(t *testing.T) {
	dir := t.TempDir()
	audioPath := filepath.Join(dir, "audio.wav")
	os.WriteFile(audioPath, []byte("fake"), 0o600)

	cfg := baseConfig()
	backend := &fakeBackend{
		statusOf:   recbackend.Status{Status: "recording"},
		stopStatus: recbackend.Status{Status: "stopped", AudioFile: audioPath},
	}
	deps := newTestDeps(t, cfg, backend, &fakeLLM{})
	deps.SpeechClient = func(backend string) (stt.Client, error) {
		return nil, os.ErrPermission
	}
	tg := New(deps)

	_, err := tg.Execute(context.Background(), "")
	if err == nil {
		t.Fatal("expected a transcription error")
	}
	if _, statErr := os.Stat(audioPath); !os.IsNotExist(statErr) {
		t.Error("expected original audio path to be moved, not left in place")
	}
	preserved := filepath.Join(deps.PreservedAudioDir, "audio.wav")
	if _, statErr := os.Stat(preserved); statErr != nil {
		t.Errorf("expected preserved audio at %s: %v", preserved, statErr)
	}
}
