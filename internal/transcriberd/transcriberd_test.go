package transcriberd

import (
	"context"
	"encoding/hex"
	"net"
	"testing"
	"time"

	"github.com/sigreer/voicepipe/internal/ipc"
	"github.com/sigreer/voicepipe/internal/stt"
)

type fakeClient struct {
	text string
	err  error
}

func (f *fakeClient) Transcribe(ctx context.Context, req stt.Request) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return f.text, nil
}

func TestSplitBackendModelParsesPrefixAndNormalizesAlias(t *testing.T) {
	backend, model := splitBackendModel("xi:scribe_v1", "openai", "whisper-1")
	if backend != "elevenlabs" || model != "scribe_v1" {
		t.Errorf("backend=%q model=%q", backend, model)
	}
}

func TestSplitBackendModelFallsBackToDefaultsWhenEmpty(t *testing.T) {
	backend, model := splitBackendModel("", "openai", "whisper-1")
	if backend != "openai" || model != "whisper-1" {
		t.Errorf("backend=%q model=%q", backend, model)
	}
}

func TestSplitBackendModelUnprefixedIsBareModel(t *testing.T) {
	backend, model := splitBackendModel("gpt-4o-transcribe", "openai", "whisper-1")
	if backend != "openai" || model != "gpt-4o-transcribe" {
		t.Errorf("backend=%q model=%q", backend, model)
	}
}

func TestTranscribeWithHexAudioWritesAndCleansUpTempFile(t *testing.T) {
	dir := t.TempDir()
	s := NewServer("unused.sock", dir, func(backend string) (stt.Client, error) {
		return &fakeClient{text: "hello world"}, nil
	}, "openai", "whisper-1")

	req := request{Audio: hex.EncodeToString([]byte("RIFF....fake wav....")), Suffix: ".wav"}
	text, err := s.transcribe(context.Background(), req)
	if err != nil {
		t.Fatalf("transcribe() error = %v", err)
	}
	if text != "hello world" {
		t.Errorf("text = %q", text)
	}
}

func TestTranscribeRejectsRequestWithNoAudio(t *testing.T) {
	s := NewServer("unused.sock", t.TempDir(), func(backend string) (stt.Client, error) {
		return &fakeClient{}, nil
	}, "openai", "whisper-1")

	if _, err := s.transcribe(context.Background(), request{}); err == nil {
		t.Error("expected an error for a request with neither audio_file nor audio")
	}
}

func TestClientForCachesPerBackend(t *testing.T) {
	calls := 0
	s := NewServer("unused.sock", t.TempDir(), func(backend string) (stt.Client, error) {
		calls++
		return &fakeClient{text: "x"}, nil
	}, "openai", "whisper-1")

	if _, err := s.clientFor("openai"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.clientFor("openai"); err != nil {
		t.Fatal(err)
	}
	if calls != 1 {
		t.Errorf("newClient called %d times, want 1", calls)
	}
}

func TestServeEndToEndOverUnixSocket(t *testing.T) {
	dir := t.TempDir()
	socketPath := dir + "/transcriber.sock"

	s := NewServer(socketPath, dir, func(backend string) (stt.Client, error) {
		return &fakeClient{text: "it works"}, nil
	}, "openai", "whisper-1")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	serveErr := make(chan error, 1)
	go func() { serveErr <- s.Serve(ctx) }()

	var conn net.Conn
	var err error
	for i := 0; i < 50; i++ {
		conn, err = net.Dial("unix", socketPath)
		if err == nil {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	if err != nil {
		t.Fatalf("dial transcriber socket: %v", err)
	}
	defer conn.Close()

	if err := ipc.WriteRequest(conn, request{Audio: hex.EncodeToString([]byte("fake")), Suffix: ".wav"}); err != nil {
		t.Fatalf("WriteRequest: %v", err)
	}

	reader := ipc.NewStreamReader(conn, 2*time.Second, ipc.MaxTranscriberLineBytes)
	var line responseLine
	if err := reader.Next(&line); err != nil {
		t.Fatalf("read transcription line: %v", err)
	}
	if line.Type != "transcription" || line.Text != "it works" {
		t.Errorf("line = %+v", line)
	}
	if err := reader.Next(&line); err != nil {
		t.Fatalf("read terminator line: %v", err)
	}
	if line.Type != "complete" {
		t.Errorf("terminator = %+v", line)
	}

	cancel()
	select {
	case <-serveErr:
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return after ctx cancel")
	}
}
