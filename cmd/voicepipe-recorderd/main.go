// Command voicepipe-recorderd is the recorder daemon binary. Run with
// no flags it serves the long-lived daemon protocol on the canonical
// unix socket; run with --oneshot it behaves as the subprocess backend's
// standalone child, capturing exactly one session and exiting on
// SIGTERM/SIGINT, grounded on the original spec's "subprocess backend
// spawns an isolated child that owns its own capture engine".
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/sigreer/voicepipe/internal/capture"
	"github.com/sigreer/voicepipe/internal/cfgstore"
	"github.com/sigreer/voicepipe/internal/device"
	"github.com/sigreer/voicepipe/internal/ipc"
	"github.com/sigreer/voicepipe/internal/paths"
	"github.com/sigreer/voicepipe/internal/recorderd"
	"github.com/sigreer/voicepipe/internal/replay"
	"github.com/sigreer/voicepipe/internal/session"
	"github.com/sigreer/voicepipe/internal/stt"
	"github.com/spf13/cobra"
)

var version = "dev"

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatal(err)
	}
}

var oneshot bool

var rootCmd = &cobra.Command{
	Use:   "voicepipe-recorderd",
	Short: "Audio capture daemon for voicepipe",
	RunE: func(cmd *cobra.Command, args []string) error {
		if oneshot {
			return runOneshot()
		}
		return runDaemon()
	},
}

func init() {
	rootCmd.Flags().BoolVar(&oneshot, "oneshot", false, "capture exactly one session standalone, for the subprocess fallback backend")
	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the recorder daemon version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("voicepipe-recorderd %s\n", version)
		},
	})
}

func runDaemon() error {
	socketPath, err := paths.RecorderSocketPath()
	if err != nil {
		return fmt.Errorf("resolve recorder socket path: %w", err)
	}
	stateDir, err := paths.SessionStateDir()
	if err != nil {
		return fmt.Errorf("resolve session state dir: %w", err)
	}
	runtimeDir, err := paths.RuntimeDir()
	if err != nil {
		return fmt.Errorf("resolve runtime dir: %w", err)
	}
	preservedAudioDir, err := paths.PreservedAudioDir()
	if err != nil {
		return fmt.Errorf("resolve preserved-audio dir: %w", err)
	}
	transcriberSocket, err := paths.TranscriberSocketPath()
	if err != nil {
		return fmt.Errorf("resolve transcriber socket path: %w", err)
	}
	envPath, _ := paths.EnvFilePath()
	triggersPath, _ := paths.TriggersFilePath()

	manager, err := cfgstore.NewManager(envPath, triggersPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	cacheDir, err := paths.StateDir()
	if err != nil {
		return fmt.Errorf("resolve state dir: %w", err)
	}
	resolver := device.NewResolver(filepath.Join(cacheDir, "device-cache.json"))
	sessions := session.NewRegistry(stateDir, runtimeDir)
	replayBuffer := replay.New(runtimeDir)

	h := &timeoutHandler{
		replay:                replayBuffer,
		preservedAudioDir:     preservedAudioDir,
		transcriberSocketPath: transcriberSocket,
		config:                manager.Current,
	}

	cfg := manager.Current()
	srv := recorderd.NewServer(socketPath, sessions, resolver, recorderd.Options{
		HintRate:          cfg.AudioSampleRateHz,
		HintChannels:      cfg.AudioChannels,
		ConfigDevice:      cfg.Device,
		ConfigPulseSource: cfg.PulseSource,
		MaxDuration:       maxDuration(cfg.MaxRecordingSeconds),
		OnTimeout:         h.handle,
	})

	done := make(chan struct{})
	defer close(done)
	go manager.StartWatching(done, 5*time.Second)

	log.Printf("voicepipe-recorderd: listening on %s", socketPath)
	return srv.Serve(context.Background())
}

func maxDuration(seconds int) time.Duration {
	if seconds <= 0 {
		return 0
	}
	return time.Duration(seconds) * time.Second
}

// timeoutHandler transcribes a timed-out recording's audio and
// populates the replay buffer, per the original spec's narrower
// timeout contract: unlike an explicit stop, there is no captured
// window to deliver into and no trigger/LLM post-processing — only
// transcribe, save to replay, then delete-on-success or
// preserve-on-failure.
type timeoutHandler struct {
	replay                *replay.Buffer
	preservedAudioDir     string
	transcriberSocketPath string
	config                func() *cfgstore.Config
}

func (h *timeoutHandler) handle(sess *session.Session) {
	cfg := h.config()
	ctx, cancel := context.WithTimeout(context.Background(), ipc.DefaultTranscribeReadTimeout)
	defer cancel()

	text, err := h.transcribe(ctx, sess.AudioPath, cfg)
	if err != nil {
		log.Printf("voicepipe-recorderd: timeout transcription failed: %v", err)
		h.preserveAudio(sess.AudioPath)
		return
	}

	if err := h.replay.Save(text, nil, time.Now().UnixMilli()); err != nil {
		log.Printf("voicepipe-recorderd: save replay buffer: %v", err)
	}

	if err := os.Remove(sess.AudioPath); err != nil && !os.IsNotExist(err) {
		log.Printf("voicepipe-recorderd: remove transcribed audio %s: %v", sess.AudioPath, err)
	}
}

func (h *timeoutHandler) preserveAudio(audioPath string) {
	if audioPath == "" || h.preservedAudioDir == "" {
		return
	}
	if err := os.MkdirAll(h.preservedAudioDir, 0o700); err != nil {
		log.Printf("voicepipe-recorderd: mkdir preserved-audio dir: %v", err)
		return
	}
	dest := filepath.Join(h.preservedAudioDir, filepath.Base(audioPath))
	if err := os.Rename(audioPath, dest); err != nil {
		log.Printf("voicepipe-recorderd: preserve audio %s: %v", audioPath, err)
	}
}

type transcribeRequest struct {
	AudioFile string `json:"audio_file"`
	Model     string `json:"model,omitempty"`
}

type transcribeLine struct {
	Type    string `json:"type"`
	Text    string `json:"text,omitempty"`
	Message string `json:"message,omitempty"`
}

func (h *timeoutHandler) transcribe(ctx context.Context, audioPath string, cfg *cfgstore.Config) (string, error) {
	text, err := h.transcribeViaDaemon(ctx, audioPath, cfg)
	if err == nil {
		return text, nil
	}
	if !isBackendUnavailable(err) {
		return "", err
	}
	return h.transcribeInProcess(ctx, audioPath, cfg)
}

func (h *timeoutHandler) transcribeViaDaemon(ctx context.Context, audioPath string, cfg *cfgstore.Config) (string, error) {
	conn, err := ipc.Dial(ctx, h.transcriberSocketPath, ipc.DefaultConnectTimeout)
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

func (h *timeoutHandler) transcribeInProcess(ctx context.Context, audioPath string, cfg *cfgstore.Config) (string, error) {
	client, err := sttClientFor(cfg, cfg.TranscribeBackend)
	if err != nil {
		return "", fmt.Errorf("voicepipe-recorderd: construct in-process speech client: %w", err)
	}
	return client.Transcribe(ctx, stt.Request{Path: audioPath, Model: cfg.TranscribeModel})
}

func isBackendUnavailable(err error) bool {
	return errors.Is(err, ipc.ErrBackendUnavailable)
}

func sttClientFor(cfg *cfgstore.Config, backend string) (stt.Client, error) {
	backend = cfgstore.NormalizeBackendAlias(backend)
	apiKey := cfg.ResolveSTTAPIKey(backend)
	if apiKey == "" {
		return nil, fmt.Errorf("no API key configured for backend %q", backend)
	}
	switch backend {
	case "elevenlabs":
		return stt.NewElevenLabsClient(apiKey), nil
	default:
		return stt.NewOpenAIClient(apiKey), nil
	}
}

// runOneshot captures exactly one session without a daemon listener:
// start immediately, register the session so the chooser's subprocess
// backend can discover it by PID, then block until SIGTERM/SIGINT
// stops the capture, or the max-duration watchdog fires, and flushes
// the audio file. On an explicit signal the session state file is
// left in place for the caller (the toggle orchestrator, via the
// subprocess backend's Stop) to remove once it has transcribed the
// audio; on a watchdog timeout this process transcribes it directly
// and then exits, since there is no daemon around to hand it off to.
func runOneshot() error {
	stateDir, err := paths.SessionStateDir()
	if err != nil {
		return fmt.Errorf("resolve session state dir: %w", err)
	}
	runtimeDir, err := paths.RuntimeDir()
	if err != nil {
		return fmt.Errorf("resolve runtime dir: %w", err)
	}
	preservedAudioDir, err := paths.PreservedAudioDir()
	if err != nil {
		return fmt.Errorf("resolve preserved-audio dir: %w", err)
	}
	transcriberSocket, err := paths.TranscriberSocketPath()
	if err != nil {
		return fmt.Errorf("resolve transcriber socket path: %w", err)
	}
	envPath, _ := paths.EnvFilePath()
	triggersPath, _ := paths.TriggersFilePath()
	cfg, err := cfgstore.Load(envPath, triggersPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	cacheDir, err := paths.StateDir()
	if err != nil {
		return fmt.Errorf("resolve state dir: %w", err)
	}
	resolver := device.NewResolver(filepath.Join(cacheDir, "device-cache.json"))
	sessions := session.NewRegistry(stateDir, runtimeDir)
	replayBuffer := replay.New(runtimeDir)

	sess, err := sessions.Create()
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}

	selection, err := resolver.Resolve(os.Getenv("VOICEPIPE_DEVICE"), cfg.Device, cfg.PulseSource, cfg.AudioSampleRateHz, cfg.AudioChannels)
	if err != nil {
		sessions.Remove(sess)
		return fmt.Errorf("resolve audio device: %w", err)
	}

	engine := capture.New()
	if err := engine.Start(capture.Options{
		DeviceID:     selection.DeviceID,
		SampleRateHz: selection.SampleRateHz,
		ChannelCount: selection.ChannelCount,
		MaxDuration:  maxDuration(cfg.MaxRecordingSeconds),
	}, sess.AudioPath); err != nil {
		sessions.Remove(sess)
		return fmt.Errorf("start capture: %w", err)
	}

	fmt.Printf("recording\t%s\t%d\n", sess.AudioPath, sess.PID)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case <-sigCh:
		if _, err := engine.Stop(); err != nil {
			log.Printf("voicepipe-recorderd: stop capture: %v", err)
			return err
		}
		return nil

	case <-engine.TimedOut():
		if _, err := engine.Stop(); err != nil {
			log.Printf("voicepipe-recorderd: auto-stop flush failed: %v", err)
		}
		log.Printf("voicepipe-recorderd: max duration reached, auto-stopped recording %s", sess.RecordingID)

		h := &timeoutHandler{
			replay:                replayBuffer,
			preservedAudioDir:     preservedAudioDir,
			transcriberSocketPath: transcriberSocket,
			config:                func() *cfgstore.Config { return cfg },
		}
		h.handle(sess)
		sessions.Remove(sess)
		return nil
	}
}
