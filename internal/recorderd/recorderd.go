// Package recorderd implements the recorder daemon: a single-capture
// state machine (idle/recording) served over the IPC package's
// newline-JSON protocol, generalizing the teacher's
// internal/daemon.Daemon lifecycle (signal handling, single listener,
// command dispatch) onto the audio-capture domain.
package recorderd

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/sigreer/voicepipe/internal/capture"
	"github.com/sigreer/voicepipe/internal/device"
	"github.com/sigreer/voicepipe/internal/ipc"
	"github.com/sigreer/voicepipe/internal/session"
)

type request struct {
	Command string          `json:"command"`
	Device  json.RawMessage `json:"device,omitempty"`
}

type response struct {
	Status    string `json:"status,omitempty"`
	AudioFile string `json:"audio_file,omitempty"`
	PID       int    `json:"pid,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Options configures a Server.
type Options struct {
	MaxDuration       time.Duration // 0 disables the auto-stop watchdog
	EncoderCommand    []string      // nil selects raw-WAV mode
	HintRate          int
	HintChannels      int
	ConfigDevice      string
	ConfigPulseSource string
	// OnTimeout is invoked (in its own goroutine) when the max-duration
	// watchdog auto-stops a recording. It owns transcribing the audio
	// and deciding whether to delete or preserve it.
	OnTimeout func(sess *session.Session)
}

// Server owns the recorder's unix-socket listener and its single
// capture slot.
type Server struct {
	socketPath string
	sessions   *session.Registry
	resolver   *device.Resolver
	opts       Options

	mu     sync.Mutex
	state  string // "idle" | "recording"
	engine *capture.Engine
	sess   *session.Session
}

// NewServer constructs a Server listening at socketPath.
func NewServer(socketPath string, sessions *session.Registry, resolver *device.Resolver, opts Options) *Server {
	return &Server{
		socketPath: socketPath,
		sessions:   sessions,
		resolver:   resolver,
		opts:       opts,
		state:      "idle",
	}
}

// Serve listens on the unix socket and handles each connection in its
// own goroutine until ctx is cancelled or a
// terminating signal is received. Signal handling performs the same
// cleanup as an explicit cancel before returning.
func (s *Server) Serve(ctx context.Context) error {
	os.Remove(s.socketPath)
	listener, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("recorderd: listen on %s: %w", s.socketPath, err)
	}
	defer listener.Close()
	defer os.Remove(s.socketPath)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	defer signal.Stop(sigCh)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		select {
		case <-sigCh:
			log.Printf("recorderd: received shutdown signal, cleaning up")
			s.cleanupOnShutdown()
			cancel()
		case <-ctx.Done():
		}
	}()

	go func() {
		<-ctx.Done()
		listener.Close()
	}()

	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("recorderd: accept: %w", err)
		}
		go s.handleConn(conn)
	}
}

func (s *Server) cleanupOnShutdown() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != "recording" {
		return
	}
	if err := s.engine.Cancel(); err != nil {
		log.Printf("recorderd: cancel on shutdown: %v", err)
	}
	s.sessions.Remove(s.sess)
	s.engine = nil
	s.sess = nil
	s.state = "idle"
}

func (s *Server) handleConn(conn net.Conn) {
	defer conn.Close()

	var req request
	if err := ipc.ReadRequest(conn, ipc.DefaultCommandReadTimeout, ipc.MaxRecorderResponseBytes, &req); err != nil {
		log.Printf("recorderd: read request: %v", err)
		return
	}

	var resp response
	switch req.Command {
	case "start":
		resp = s.handleStart(req)
	case "stop":
		resp = s.handleStop()
	case "cancel":
		resp = s.handleCancel()
	case "status":
		resp = s.handleStatus()
	default:
		resp = response{Error: fmt.Sprintf("unknown command %q", req.Command)}
	}

	if err := ipc.WriteResponseLine(conn, resp); err != nil {
		log.Printf("recorderd: write response: %v", err)
	}
}

func decodeDevice(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var asString string
	if err := json.Unmarshal(raw, &asString); err == nil {
		return asString
	}
	var asInt int
	if err := json.Unmarshal(raw, &asInt); err == nil {
		return fmt.Sprintf("%d", asInt)
	}
	return ""
}

func (s *Server) handleStart(req request) response {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == "recording" {
		return response{Error: "Recording already in progress"}
	}

	sess, err := s.sessions.Create()
	if err != nil {
		return response{Error: err.Error()}
	}

	selection, err := s.resolver.Resolve(decodeDevice(req.Device), s.opts.ConfigDevice, s.opts.ConfigPulseSource, s.opts.HintRate, s.opts.HintChannels)
	if err != nil {
		s.sessions.Remove(sess)
		return response{Error: fmt.Sprintf("resolve audio device: %v", err)}
	}

	engine := capture.New()
	captureOpts := capture.Options{
		DeviceID:       selection.DeviceID,
		SampleRateHz:   selection.SampleRateHz,
		ChannelCount:   selection.ChannelCount,
		MaxDuration:    s.opts.MaxDuration,
		EncoderCommand: s.opts.EncoderCommand,
	}
	if err := engine.Start(captureOpts, sess.AudioPath); err != nil {
		s.sessions.Remove(sess)
		return response{Error: err.Error()}
	}

	s.engine = engine
	s.sess = sess
	s.state = "recording"
	go s.watchTimeout(sess, engine)

	return response{Status: "recording", AudioFile: sess.AudioPath, PID: sess.PID}
}

func (s *Server) handleStop() response {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != "recording" {
		return response{Error: "Recorder is idle"}
	}

	audioFile := s.sess.AudioPath
	if _, err := s.engine.Stop(); err != nil {
		s.sessions.Remove(s.sess)
		s.engine = nil
		s.sess = nil
		s.state = "idle"
		return response{Error: err.Error()}
	}

	s.sessions.Remove(s.sess)
	s.engine = nil
	s.sess = nil
	s.state = "idle"

	return response{Status: "stopped", AudioFile: audioFile}
}

func (s *Server) handleCancel() response {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != "recording" {
		return response{Error: "Recorder is idle"}
	}

	err := s.engine.Cancel()
	s.sessions.Remove(s.sess)
	s.engine = nil
	s.sess = nil
	s.state = "idle"
	if err != nil {
		return response{Error: err.Error()}
	}
	return response{Status: "cancelled"}
}

func (s *Server) handleStatus() response {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == "recording" {
		return response{Status: "recording", PID: s.sess.PID, AudioFile: s.sess.AudioPath}
	}
	return response{Status: "idle"}
}

func (s *Server) watchTimeout(sess *session.Session, engine *capture.Engine) {
	<-engine.TimedOut()

	s.mu.Lock()
	if s.engine != engine {
		// Already stopped/cancelled explicitly; nothing to do.
		s.mu.Unlock()
		return
	}
	if _, err := engine.Stop(); err != nil {
		log.Printf("recorderd: auto-stop flush failed: %v", err)
	}
	s.sessions.Remove(sess)
	s.engine = nil
	s.sess = nil
	s.state = "idle"
	s.mu.Unlock()

	log.Printf("recorderd: max duration reached, auto-stopped recording %s", sess.RecordingID)
	if s.opts.OnTimeout != nil {
		s.opts.OnTimeout(sess)
	}
}
