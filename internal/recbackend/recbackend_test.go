package recbackend

import (
	"context"
	"fmt"
	"net"
	"os"
	"testing"
	"time"

	"github.com/sigreer/voicepipe/internal/ipc"
	"github.com/sigreer/voicepipe/internal/session"
)

func serveOneDaemonResponse(t *testing.T, socketPath string, resp daemonWireResponse) {
	t.Helper()
	listener, err := net.Listen("unix", socketPath)
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	go func() {
		conn, err := listener.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		defer listener.Close()

		var req daemonWireRequest
		ipc.ReadRequest(conn, 2*time.Second, ipc.MaxRecorderResponseBytes, &req)
		ipc.WriteResponseLine(conn, resp)
	}()
}

func TestDaemonBackendStartSendsCommandAndParsesResponse(t *testing.T) {
	socketPath := t.TempDir() + "/recorder.sock"
	serveOneDaemonResponse(t, socketPath, daemonWireResponse{Status: "recording", AudioFile: "/tmp/x.wav", PID: 123})

	d := &DaemonBackend{SocketPath: socketPath}
	status, err := d.Start(context.Background(), "pulse")
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if status.Status != "recording" || status.AudioFile != "/tmp/x.wav" || status.PID != 123 {
		t.Errorf("status = %+v", status)
	}
}

func TestDaemonBackendWrapsErrorField(t *testing.T) {
	socketPath := t.TempDir() + "/recorder.sock"
	serveOneDaemonResponse(t, socketPath, daemonWireResponse{Error: "Recording already in progress"})

	d := &DaemonBackend{SocketPath: socketPath}
	if _, err := d.Start(context.Background(), "pulse"); err == nil {
		t.Error("expected an error when the daemon reports one")
	}
}

func TestDaemonBackendUnavailableWhenSocketMissing(t *testing.T) {
	d := &DaemonBackend{SocketPath: t.TempDir() + "/does-not-exist.sock"}
	_, err := d.Start(context.Background(), "pulse")
	if !isBackendUnavailable(err) {
		t.Errorf("expected ErrBackendUnavailable, got %v", err)
	}
}

func TestChooserFallsBackToSubprocessWhenDaemonUnavailable(t *testing.T) {
	stateDir := t.TempDir()
	runtimeDir := t.TempDir()
	registry := session.NewRegistry(stateDir, runtimeDir)

	script := fmt.Sprintf(
		`echo '{"pid":'$$',"audio_path":"%s/audio.wav","control_path":"","recording_id":"r1","started_at":"now"}' > %s/voicepipe-$$.json; sleep 5`,
		runtimeDir, stateDir,
	)

	chooser := &Chooser{
		Daemon:     &DaemonBackend{SocketPath: t.TempDir() + "/missing.sock"},
		Subprocess: &SubprocessBackend{Command: []string{"/bin/sh", "-c", script}, Sessions: registry},
	}

	status, err := chooser.Start(context.Background(), "pulse")
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if status.Status != "recording" || status.PID == 0 {
		t.Fatalf("status = %+v", status)
	}

	stopStatus, err := chooser.Stop(context.Background())
	if err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if stopStatus.Status != "stopped" || stopStatus.Session == nil {
		t.Errorf("stopStatus = %+v", stopStatus)
	}
}

func TestChooserStatusOfIdleWithNoActiveBackend(t *testing.T) {
	chooser := &Chooser{
		Daemon:     &DaemonBackend{SocketPath: "/nonexistent"},
		Subprocess: &SubprocessBackend{},
	}
	status, err := chooser.StatusOf(context.Background())
	if err != nil {
		t.Fatalf("StatusOf() error = %v", err)
	}
	if status.Status != "idle" {
		t.Errorf("status = %+v", status)
	}
}

func TestChooserStopWithNoActiveBackendErrors(t *testing.T) {
	chooser := &Chooser{
		Daemon:     &DaemonBackend{SocketPath: "/nonexistent"},
		Subprocess: &SubprocessBackend{},
	}
	if _, err := chooser.Stop(context.Background()); err == nil {
		t.Error("expected an error stopping with nothing active")
	}
}

func TestSubprocessBackendStartFailsWhenProcessExitsImmediately(t *testing.T) {
	registry := session.NewRegistry(t.TempDir(), t.TempDir())
	s := &SubprocessBackend{Command: []string{"/bin/sh", "-c", "exit 1"}, Sessions: registry}

	if _, err := s.Start(context.Background(), "pulse"); err == nil {
		t.Error("expected an error when the subprocess exits immediately")
	}
}

func TestSubprocessBackendCancelRemovesSessionAndAudio(t *testing.T) {
	stateDir := t.TempDir()
	runtimeDir := t.TempDir()
	registry := session.NewRegistry(stateDir, runtimeDir)

	audioPath := runtimeDir + "/audio.wav"
	os.WriteFile(audioPath, []byte("fake"), 0o600)

	script := fmt.Sprintf(
		`echo '{"pid":'$$',"audio_path":"%s","control_path":"","recording_id":"r1","started_at":"now"}' > %s/voicepipe-$$.json; sleep 5`,
		audioPath, stateDir,
	)
	s := &SubprocessBackend{Command: []string{"/bin/sh", "-c", script}, Sessions: registry}

	if _, err := s.Start(context.Background(), "pulse"); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if _, err := s.Cancel(context.Background()); err != nil {
		t.Fatalf("Cancel() error = %v", err)
	}
	if _, err := os.Stat(audioPath); !os.IsNotExist(err) {
		t.Error("expected audio file to be removed on cancel")
	}
}
