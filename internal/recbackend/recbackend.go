// Package recbackend composes a daemon-backed recorder (talking to
// recorderd over internal/ipc) and a subprocess fallback behind one
// start/stop/cancel/status interface, per the original spec's §4.10
// chooser. Generalizes the teacher's daemon-or-bust assumption
// (internal/bus always expects a running daemon) into a
// daemon-first-else-spawn chooser.
package recbackend

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/sigreer/voicepipe/internal/ipc"
	"github.com/sigreer/voicepipe/internal/session"
)

// Status is the common result shape across both backends.
type Status struct {
	Status    string // "recording" | "idle" | "stopped" | "cancelled"
	AudioFile string
	PID       int
	Error     string
	// Session is set by the subprocess backend's Stop, the pre-recorded
	// snapshot the caller transcribes and then removes from the
	// registry itself.
	Session *session.Session
}

// Backend is satisfied by both DaemonBackend and SubprocessBackend.
type Backend interface {
	Start(ctx context.Context, device string) (Status, error)
	Stop(ctx context.Context) (Status, error)
	Cancel(ctx context.Context) (Status, error)
	StatusOf(ctx context.Context) (Status, error)
}

// --- daemon backend ---

type daemonWireRequest struct {
	Command string `json:"command"`
	Device  string `json:"device,omitempty"`
}

type daemonWireResponse struct {
	Status    string `json:"status,omitempty"`
	AudioFile string `json:"audio_file,omitempty"`
	PID       int    `json:"pid,omitempty"`
	Error     string `json:"error,omitempty"`
}

// DaemonBackend talks to a running recorderd over its unix socket.
type DaemonBackend struct {
	SocketPath string
}

func (d *DaemonBackend) call(ctx context.Context, req daemonWireRequest, readTimeout time.Duration) (Status, error) {
	conn, err := ipc.Dial(ctx, d.SocketPath, ipc.DefaultConnectTimeout)
	if err != nil {
		return Status{}, err // already wraps ErrBackendUnavailable
	}
	defer conn.Close()

	if err := ipc.WriteRequest(conn, req); err != nil {
		return Status{}, err
	}
	var resp daemonWireResponse
	if err := ipc.ReadResponse(conn, readTimeout, ipc.MaxRecorderResponseBytes, &resp); err != nil {
		return Status{}, err
	}
	if resp.Error != "" {
		return Status{}, fmt.Errorf("%w: %s", ipc.ErrProtocol, resp.Error)
	}
	return Status{Status: resp.Status, AudioFile: resp.AudioFile, PID: resp.PID}, nil
}

func (d *DaemonBackend) Start(ctx context.Context, device string) (Status, error) {
	return d.call(ctx, daemonWireRequest{Command: "start", Device: device}, ipc.DefaultCommandReadTimeout)
}

func (d *DaemonBackend) Stop(ctx context.Context) (Status, error) {
	return d.call(ctx, daemonWireRequest{Command: "stop"}, ipc.DefaultCommandReadTimeout)
}

func (d *DaemonBackend) Cancel(ctx context.Context) (Status, error) {
	return d.call(ctx, daemonWireRequest{Command: "cancel"}, ipc.DefaultCommandReadTimeout)
}

func (d *DaemonBackend) StatusOf(ctx context.Context) (Status, error) {
	return d.call(ctx, daemonWireRequest{Command: "status"}, ipc.DefaultStatusReadTimeout)
}

// --- subprocess backend ---

const subprocessHealthCheckDelay = 500 * time.Millisecond
const subprocessSessionPollTimeout = 2 * time.Second

// SubprocessBackend spawns a standalone recording process (an
// invocation of the same recorder binary running without a daemon
// listener) when no recorderd is reachable. It discovers the spawned
// process's session entry by polling the shared session registry,
// since there is no IPC channel to ask it directly.
type SubprocessBackend struct {
	Command  []string // argv, e.g. {"voicepipe-recorderd", "--oneshot"}
	Sessions *session.Registry

	mu     sync.Mutex
	cmd    *exec.Cmd
	sess   *session.Session
	stderr *bytes.Buffer
	exited chan error
}

func (s *SubprocessBackend) Start(ctx context.Context, device string) (Status, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cmd != nil {
		return Status{}, fmt.Errorf("recbackend: subprocess recording already in progress")
	}
	if len(s.Command) == 0 {
		return Status{}, fmt.Errorf("recbackend: no subprocess recorder command configured")
	}

	cmd := exec.Command(s.Command[0], s.Command[1:]...)
	cmd.Env = append(os.Environ(), "VOICEPIPE_DEVICE="+device)
	stderr := &bytes.Buffer{}
	cmd.Stderr = stderr

	if err := cmd.Start(); err != nil {
		return Status{}, fmt.Errorf("recbackend: start subprocess recorder: %w", err)
	}

	exited := make(chan error, 1)
	go func() { exited <- cmd.Wait() }()

	select {
	case err := <-exited:
		return Status{}, fmt.Errorf("recbackend: subprocess recorder exited immediately: %v (stderr: %s)", err, stderr.String())
	case <-time.After(subprocessHealthCheckDelay):
	}

	sess, err := s.findSessionByPID(cmd.Process.Pid)
	if err != nil {
		cmd.Process.Signal(syscall.SIGTERM)
		return Status{}, err
	}

	s.cmd = cmd
	s.sess = sess
	s.stderr = stderr
	s.exited = exited

	return Status{Status: "recording", AudioFile: sess.AudioPath, PID: sess.PID}, nil
}

func (s *SubprocessBackend) findSessionByPID(pid int) (*session.Session, error) {
	deadline := time.Now().Add(subprocessSessionPollTimeout)
	for {
		sessions, err := s.Sessions.FindActiveSessions()
		if err == nil {
			for _, sess := range sessions {
				if sess.PID == pid {
					return sess, nil
				}
			}
		}
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("recbackend: subprocess recorder (pid %d) never registered a session", pid)
		}
		time.Sleep(50 * time.Millisecond)
	}
}

func (s *SubprocessBackend) Stop(ctx context.Context) (Status, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cmd == nil {
		return Status{}, fmt.Errorf("recbackend: no subprocess recording in progress")
	}

	s.cmd.Process.Signal(syscall.SIGTERM)
	select {
	case <-s.exited:
	case <-time.After(5 * time.Second):
		s.cmd.Process.Kill()
		<-s.exited
	}

	sess := s.sess
	s.cmd, s.sess, s.stderr, s.exited = nil, nil, nil, nil

	return Status{Status: "stopped", AudioFile: sess.AudioPath, PID: sess.PID, Session: sess}, nil
}

func (s *SubprocessBackend) Cancel(ctx context.Context) (Status, error) {
	status, err := s.Stop(ctx)
	if err != nil {
		return status, err
	}
	if status.Session != nil {
		os.Remove(status.Session.AudioPath)
		s.Sessions.Remove(status.Session)
	}
	return Status{Status: "cancelled"}, nil
}

func (s *SubprocessBackend) StatusOf(ctx context.Context) (Status, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cmd == nil {
		return Status{Status: "idle"}, nil
	}
	return Status{Status: "recording", AudioFile: s.sess.AudioPath, PID: s.sess.PID}, nil
}

// --- chooser ---

// Chooser tries the daemon backend first, falling back to the
// subprocess backend on ipc.ErrBackendUnavailable. Stop, Cancel and
// StatusOf go to the backend this Chooser started; when it started
// none, they go to the daemon, so a subprocess recorder started by
// another Chooser is not reached.
type Chooser struct {
	Daemon     *DaemonBackend
	Subprocess *SubprocessBackend

	mu     sync.Mutex
	active Backend
}

func (c *Chooser) Start(ctx context.Context, device string) (Status, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	status, err := c.Daemon.Start(ctx, device)
	if err == nil {
		c.active = c.Daemon
		return status, nil
	}
	if !isBackendUnavailable(err) {
		return status, err
	}

	status, err = c.Subprocess.Start(ctx, device)
	if err != nil {
		return status, err
	}
	c.active = c.Subprocess
	return status, nil
}

func (c *Chooser) Stop(ctx context.Context) (Status, error) {
	c.mu.Lock()
	active := c.active
	c.active = nil
	c.mu.Unlock()

	if active == nil {
		status, err := c.Daemon.Stop(ctx)
		if isBackendUnavailable(err) {
			return Status{}, fmt.Errorf("recbackend: no recording in progress")
		}
		return status, err
	}
	return active.Stop(ctx)
}

func (c *Chooser) Cancel(ctx context.Context) (Status, error) {
	c.mu.Lock()
	active := c.active
	c.active = nil
	c.mu.Unlock()

	if active == nil {
		status, err := c.Daemon.Cancel(ctx)
		if isBackendUnavailable(err) {
			return Status{}, fmt.Errorf("recbackend: no recording in progress")
		}
		return status, err
	}
	return active.Cancel(ctx)
}

func (c *Chooser) StatusOf(ctx context.Context) (Status, error) {
	c.mu.Lock()
	active := c.active
	c.mu.Unlock()

	if active == nil {
		status, err := c.Daemon.StatusOf(ctx)
		if isBackendUnavailable(err) {
			return Status{Status: "idle"}, nil
		}
		return status, err
	}
	return active.StatusOf(ctx)
}

func isBackendUnavailable(err error) bool {
	return errors.Is(err, ipc.ErrBackendUnavailable)
}
