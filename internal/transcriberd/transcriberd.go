// Package transcriberd implements the transcriber daemon: a
// newline-JSON server that decodes one request per connection, resolves
// a per-connection backend override, transcribes via internal/stt, and
// streams back transcription/complete/error lines, generalizing the
// teacher's internal/llm adapter-construction pattern into a small
// lazily-cached client pool.
package transcriberd

import (
	"context"
	"encoding/hex"
	"fmt"
	"log"
	"net"
	"os"
	"strings"
	"sync"

	"github.com/sigreer/voicepipe/internal/cfgstore"
	"github.com/sigreer/voicepipe/internal/ipc"
	"github.com/sigreer/voicepipe/internal/stt"
)

type request struct {
	AudioFile   string  `json:"audio_file,omitempty"`
	Audio       string  `json:"audio,omitempty"` // hex-encoded
	Model       string  `json:"model,omitempty"`
	Language    string  `json:"language,omitempty"`
	Prompt      string  `json:"prompt,omitempty"`
	Temperature float64 `json:"temperature,omitempty"`
	Suffix      string  `json:"suffix,omitempty"`
}

type responseLine struct {
	Type    string `json:"type"`
	Text    string `json:"text,omitempty"`
	Message string `json:"message,omitempty"`
}

// ClientFactory constructs an stt.Client for one normalized backend
// name ("openai" or "elevenlabs"), resolving its API key however the
// caller sees fit (cfgstore.Config.ResolveSTTAPIKey, typically).
type ClientFactory func(backend string) (stt.Client, error)

// Server serves the transcriber protocol.
type Server struct {
	socketPath     string
	runtimeDir     string
	newClient      ClientFactory
	defaultBackend string
	defaultModel   string

	mu      sync.Mutex
	clients map[string]stt.Client
}

// NewServer constructs a Server. defaultBackend/defaultModel apply when
// a request's Model field carries no "<backend>:<model>" override.
func NewServer(socketPath, runtimeDir string, newClient ClientFactory, defaultBackend, defaultModel string) *Server {
	return &Server{
		socketPath:     socketPath,
		runtimeDir:     runtimeDir,
		newClient:      newClient,
		defaultBackend: defaultBackend,
		defaultModel:   defaultModel,
		clients:        map[string]stt.Client{},
	}
}

// Serve listens on the unix socket and handles each connection in its
// own goroutine until ctx is cancelled.
func (s *Server) Serve(ctx context.Context) error {
	os.Remove(s.socketPath)
	listener, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("transcriberd: listen on %s: %w", s.socketPath, err)
	}
	defer listener.Close()
	defer os.Remove(s.socketPath)

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
			return fmt.Errorf("transcriberd: accept: %w", err)
		}
		go s.handleConn(ctx, conn)
	}
}

func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	var req request
	if err := ipc.ReadRequest(conn, ipc.DefaultTranscribeReadTimeout, ipc.MaxTranscriberLineBytes, &req); err != nil {
		log.Printf("transcriberd: read request: %v", err)
		return
	}

	text, err := s.transcribe(ctx, req)
	if err != nil {
		ipc.WriteResponseLine(conn, responseLine{Type: "error", Message: err.Error()})
		return
	}

	if err := ipc.WriteResponseLine(conn, responseLine{Type: "transcription", Text: text}); err != nil {
		log.Printf("transcriberd: write transcription line: %v", err)
		return
	}
	if err := ipc.WriteResponseLine(conn, responseLine{Type: "complete"}); err != nil {
		log.Printf("transcriberd: write complete line: %v", err)
	}
}

// SetDefaults updates the backend/model used when a request carries no
// explicit override, and drops cached clients so a changed API key
// takes effect on the next transcription. Safe to call concurrently
// with in-flight requests, for wiring to cfgstore.Manager's reload
// callback.
func (s *Server) SetDefaults(backend, model string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.defaultBackend = backend
	s.defaultModel = model
	s.clients = map[string]stt.Client{}
}

func (s *Server) defaults() (backend, model string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.defaultBackend, s.defaultModel
}

func (s *Server) transcribe(ctx context.Context, req request) (string, error) {
	defaultBackend, defaultModel := s.defaults()
	backend, model := splitBackendModel(req.Model, defaultBackend, defaultModel)

	client, err := s.clientFor(backend)
	if err != nil {
		return "", err
	}

	path := req.AudioFile
	if path == "" && req.Audio != "" {
		tempPath, cleanup, err := s.writeHexTempFile(req.Audio, req.Suffix)
		if err != nil {
			return "", err
		}
		defer cleanup()
		path = tempPath
	}
	if path == "" {
		return "", fmt.Errorf("transcriberd: request has neither audio_file nor audio")
	}

	return client.Transcribe(ctx, stt.Request{
		Path:        path,
		Model:       model,
		Language:    req.Language,
		Prompt:      req.Prompt,
		Temperature: req.Temperature,
	})
}

// splitBackendModel parses a "<backend>:<model>" string into its parts,
// normalizing backend aliases (xi|eleven|eleven-labs -> elevenlabs);
// an unprefixed string is treated as a bare model name against the
// configured default backend.
func splitBackendModel(spec, defaultBackend, defaultModel string) (backend, model string) {
	if spec == "" {
		return cfgstore.NormalizeBackendAlias(defaultBackend), defaultModel
	}
	before, after, found := strings.Cut(spec, ":")
	if !found {
		return cfgstore.NormalizeBackendAlias(defaultBackend), spec
	}
	return cfgstore.NormalizeBackendAlias(before), after
}

func (s *Server) clientFor(backend string) (stt.Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if client, ok := s.clients[backend]; ok {
		return client, nil
	}
	client, err := s.newClient(backend)
	if err != nil {
		return nil, fmt.Errorf("transcriberd: construct %s client: %w", backend, err)
	}
	s.clients[backend] = client
	return client, nil
}

func (s *Server) writeHexTempFile(hexAudio, suffix string) (path string, cleanup func(), err error) {
	if suffix == "" {
		suffix = ".wav"
	}
	data, err := hex.DecodeString(hexAudio)
	if err != nil {
		return "", nil, fmt.Errorf("transcriberd: decode hex audio: %w", err)
	}

	f, err := os.CreateTemp(s.runtimeDir, "voicepipe-transcribe-*"+suffix)
	if err != nil {
		return "", nil, fmt.Errorf("transcriberd: create temp audio file: %w", err)
	}
	tempPath := f.Name()
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tempPath)
		return "", nil, fmt.Errorf("transcriberd: write temp audio file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tempPath)
		return "", nil, fmt.Errorf("transcriberd: close temp audio file: %w", err)
	}

	return tempPath, func() { os.Remove(tempPath) }, nil
}
