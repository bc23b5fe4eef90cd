// Package toggle implements the fast-toggle orchestrator: one entry
// point that starts a recording or, if one is already in flight,
// stops it, transcribes it, runs the transcript through intent
// routing and the trigger engine, persists it to the replay buffer,
// and delivers it — generalizing the teacher's daemon.go toggle/mode
// bookkeeping (modeOverride, getEffectiveMode) onto the new
// recorder/transcriber-daemon split.
package toggle

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/sigreer/voicepipe/internal/cfgstore"
	"github.com/sigreer/voicepipe/internal/focus"
	"github.com/sigreer/voicepipe/internal/intent"
	"github.com/sigreer/voicepipe/internal/ipc"
	"github.com/sigreer/voicepipe/internal/llmclient"
	"github.com/sigreer/voicepipe/internal/recbackend"
	"github.com/sigreer/voicepipe/internal/replay"
	"github.com/sigreer/voicepipe/internal/session"
	"github.com/sigreer/voicepipe/internal/stt"
	"github.com/sigreer/voicepipe/internal/triggers"
	"github.com/sigreer/voicepipe/internal/typing"
)

// Dependencies wires everything the orchestrator needs. SpeechClient
// is used only when the transcriber daemon is unreachable.
type Dependencies struct {
	Backend               recbackend.Backend
	Sessions              *session.Registry // used to clean up subprocess-originated sessions
	Config                func() *cfgstore.Config
	TranscriberSocketPath string
	SpeechClient          func(backend string) (stt.Client, error)
	LLM                   triggers.LLMCompleter
	Plugins               triggers.PluginRegistry
	ConfigDir             string
	Replay                *replay.Buffer
	Typer                 *typing.Typer
	PreservedAudioDir     string
}

// Result summarizes one Execute call for the CLI/hotkey caller.
type Result struct {
	Action    string // "start" | "stop"
	Text      string
	AudioFile string
	Error     string
}

// Toggler holds the runtime mode override on top of Dependencies.
type Toggler struct {
	deps Dependencies

	modeMu sync.Mutex
	mode   string // "" | "raw" | "llm"
}

// New constructs a Toggler.
func New(deps Dependencies) *Toggler {
	return &Toggler{deps: deps}
}

// SetModeOverride sets the runtime dictation-processing override,
// validating against {"", "raw", "llm"}.
func (t *Toggler) SetModeOverride(mode string) error {
	if mode != "" && mode != "raw" && mode != "llm" {
		return fmt.Errorf("toggle: invalid mode %q (want raw, llm, or empty to clear)", mode)
	}
	t.modeMu.Lock()
	t.mode = mode
	t.modeMu.Unlock()
	return nil
}

// EffectiveMode returns the runtime override if set, else the
// config's default processing mode.
func (t *Toggler) EffectiveMode() string {
	t.modeMu.Lock()
	override := t.mode
	t.modeMu.Unlock()
	if override != "" {
		return override
	}
	return t.deps.Config().ProcessingMode
}

// Execute is the toggle's one entry point: start if idle, otherwise
// stop+transcribe+post-process+deliver. windowID, if non-empty, is the
// window captured by the caller (typically the hotkey runner) before
// any side effect ran; if empty, Execute captures it itself before
// stopping, per the original spec's "capture the active window ID
// first" ordering.
func (t *Toggler) Execute(ctx context.Context, windowID focus.WindowID) (Result, error) {
	status, err := t.deps.Backend.StatusOf(ctx)
	if err != nil {
		return Result{Error: err.Error()}, err
	}
	if status.Status == "recording" {
		return t.stop(ctx, windowID)
	}
	return t.start(ctx)
}

func (t *Toggler) start(ctx context.Context) (Result, error) {
	cfg := t.deps.Config()
	status, err := t.deps.Backend.Start(ctx, cfg.Device)
	if err != nil {
		return Result{Action: "start", Error: err.Error()}, err
	}
	return Result{Action: "start", AudioFile: status.AudioFile}, nil
}

func (t *Toggler) stop(ctx context.Context, windowID focus.WindowID) (Result, error) {
	if windowID == "" {
		windowID, _ = focus.Capture(ctx)
	}

	status, err := t.deps.Backend.Stop(ctx)
	if err != nil {
		return Result{Action: "stop", Error: err.Error()}, err
	}
	audioPath := status.AudioFile

	cfg := t.deps.Config()

	text, err := t.transcribe(ctx, audioPath, cfg)
	if err != nil {
		t.preserveAudio(audioPath, status.Session, err)
		return Result{Action: "stop", AudioFile: audioPath, Error: err.Error()}, err
	}

	outText, err := t.postProcess(ctx, text, cfg)
	if err != nil {
		t.preserveAudio(audioPath, status.Session, err)
		return Result{Action: "stop", AudioFile: audioPath, Error: err.Error()}, err
	}

	if outText != "" {
		if err := t.deps.Replay.Save(outText, nil, time.Now().UnixMilli()); err != nil {
			log.Printf("toggle: save replay buffer: %v", err)
		}
		if err := t.deliver(ctx, outText, windowID, cfg); err != nil {
			t.preserveAudio(audioPath, status.Session, err)
			return Result{Action: "stop", AudioFile: audioPath, Text: outText, Error: err.Error()}, err
		}
	}

	os.Remove(audioPath)
	if status.Session != nil && t.deps.Sessions != nil {
		t.deps.Sessions.Remove(status.Session)
	}

	return Result{Action: "stop", Text: outText, AudioFile: audioPath}, nil
}

// preserveAudio moves the recorded audio into the preserved-audio
// state directory (best-effort) rather than deleting it, per the
// original spec's "on any post-stop failure, the audio file is moved
// into the preserved-audio state directory" rule.
func (t *Toggler) preserveAudio(audioPath string, sess *session.Session, cause error) {
	log.Printf("toggle: post-stop failure, preserving audio: %v", cause)
	if sess != nil && t.deps.Sessions != nil {
		t.deps.Sessions.Remove(sess)
	}
	if audioPath == "" || t.deps.PreservedAudioDir == "" {
		return
	}
	if err := os.MkdirAll(t.deps.PreservedAudioDir, 0o700); err != nil {
		log.Printf("toggle: mkdir preserved-audio dir: %v", err)
		return
	}
	dest := filepath.Join(t.deps.PreservedAudioDir, filepath.Base(audioPath))
	if err := os.Rename(audioPath, dest); err != nil {
		log.Printf("toggle: preserve audio %s: %v", audioPath, err)
	}
}

// --- transcription ---

type transcribeRequest struct {
	AudioFile string `json:"audio_file"`
	Model     string `json:"model,omitempty"`
}

type transcribeLine struct {
	Type    string `json:"type"`
	Text    string `json:"text,omitempty"`
	Message string `json:"message,omitempty"`
}

func (t *Toggler) transcribe(ctx context.Context, audioPath string, cfg *cfgstore.Config) (string, error) {
	text, err := t.transcribeViaDaemon(ctx, audioPath, cfg)
	if err == nil {
		return text, nil
	}
	if !isBackendUnavailable(err) {
		return "", err
	}
	return t.transcribeInProcess(ctx, audioPath, cfg)
}

func (t *Toggler) transcribeViaDaemon(ctx context.Context, audioPath string, cfg *cfgstore.Config) (string, error) {
	conn, err := ipc.Dial(ctx, t.deps.TranscriberSocketPath, ipc.DefaultConnectTimeout)
	if err != nil {
		return "", err
	}
	defer conn.Close()

	model := cfg.TranscribeBackend + ":" + cfg.TranscribeModel
	if err := ipc.WriteRequest(conn, transcribeRequest{AudioFile: audioPath, Model: model}); err != nil {
		return "", err
	}

	reader := ipc.NewStreamReader(conn, ipc.DefaultTranscribeReadTimeout, ipc.MaxTranscriberLineBytes)
	var text strings.Builder
	for {
		var line transcribeLine
		if err := reader.Next(&line); err != nil {
			return "", err
		}
		switch line.Type {
		case "transcription":
			text.WriteString(line.Text)
		case "complete":
			return text.String(), nil
		case "error":
			return "", fmt.Errorf("transcriberd: %s", line.Message)
		default:
			return "", fmt.Errorf("transcriberd: unexpected response type %q", line.Type)
		}
	}
}

func (t *Toggler) transcribeInProcess(ctx context.Context, audioPath string, cfg *cfgstore.Config) (string, error) {
	if t.deps.SpeechClient == nil {
		return "", fmt.Errorf("toggle: transcriber daemon unavailable and no in-process speech client configured")
	}
	client, err := t.deps.SpeechClient(cfg.TranscribeBackend)
	if err != nil {
		return "", fmt.Errorf("toggle: construct in-process speech client: %w", err)
	}
	return client.Transcribe(ctx, stt.Request{Path: audioPath, Model: cfg.TranscribeModel})
}

func isBackendUnavailable(err error) bool {
	return errors.Is(err, ipc.ErrBackendUnavailable)
}

// --- post-processing ---

func (t *Toggler) postProcess(ctx context.Context, text string, cfg *cfgstore.Config) (string, error) {
	result := intent.Route(text, nil)

	switch result.Mode {
	case intent.ModeCommand:
		out, meta := triggers.Apply(ctx, result.CommandText, cfg.Triggers, triggers.Dependencies{
			LLM:                 t.deps.LLM,
			Plugins:             t.deps.Plugins,
			ConfigDir:           t.deps.ConfigDir,
			ShellAllow:          cfg.ShellAllow,
			ShellTimeoutSeconds: cfg.ShellTimeoutSeconds,
			PluginAllow:         cfg.PluginAllow,
		})
		if !meta.OK {
			log.Printf("toggle: trigger dispatch failed, delivering remainder verbatim: %s", meta.Error)
		}
		return out, nil

	case intent.ModeDictation:
		if t.EffectiveMode() != "llm" || t.deps.LLM == nil {
			return result.DictationText, nil
		}
		res, err := t.deps.LLM.Complete(ctx, llmclient.Request{
			SystemPrompt: llmclient.DefaultZwingliSystemPrompt,
			UserPrompt:   llmclient.DefaultZwingliUserPrompt,
			Text:         result.DictationText,
			Model:        cfg.ZwingliModel,
		})
		if err != nil {
			log.Printf("toggle: llm processing mode failed, delivering raw transcript: %v", err)
			return result.DictationText, nil
		}
		return res.Text, nil

	default: // ModeUnknown: empty transcript
		return "", nil
	}
}

// --- delivery ---

func (t *Toggler) deliver(ctx context.Context, text string, windowID focus.WindowID, cfg *cfgstore.Config) error {
	switch cfg.OutputMode {
	case "clipboard":
		return t.deps.Typer.CopyToClipboard(ctx, text)
	case "print":
		fmt.Println(text)
		return nil
	default: // "type"
		if windowID != "" {
			focus.Restore(ctx, windowID)
		}
		result := t.deps.Typer.PerformTypeSequence(ctx, []typing.SequenceStep{{Kind: "text", Text: text}}, string(windowID))
		if !result.OK {
			return fmt.Errorf("%s", result.Error)
		}
		return nil
	}
}
