// Package capture owns a single open audio input stream, buffers
// int16 LE PCM into a ring buffer fed by a malgo.Device capture
// callback, and writes it out as a canonical WAV file (or hands frames
// to an attached MP3 encoder subprocess), enforcing a maximum capture
// duration.
//
// The capture-callback/ring-buffer shape is grounded on the pack's one
// malgo consumer, doismellburning-samoyed's src/audio.go
// (ringBuffer.WriteNonBlocking fed from a malgo.DeviceCallbacks.Data
// callback); no WAV-writing library appears anywhere in the corpus, so
// the RIFF header is hand-rolled per the original spec's exact byte
// layout (format code 1, int16 LE, mono/stereo).
package capture

import (
	"bufio"
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/exec"
	"runtime"
	"sync"
	"time"
	"unsafe"

	"github.com/gen2brain/malgo"
)

// ErrEncoderExited is returned by Stop/cancel bookkeeping when an
// attached MP3 encoder subprocess died mid-capture.
var ErrEncoderExited = errors.New("capture: encoder subprocess exited mid-capture")

const ringBufSize = 1 << 20 // 1 MiB; ~10.9s of 48kHz mono int16 audio

// Options configures a single capture session.
type Options struct {
	DeviceID        string
	SampleRateHz    int
	ChannelCount    int
	MaxDuration     time.Duration // 0 disables the watchdog
	EncoderCommand  []string      // e.g. {"ffmpeg", "-f", "s16le", ...}; the output path is appended as the last argument; nil means raw WAV mode
}

// Engine owns one open input stream at a time.
type Engine struct {
	mu      sync.Mutex
	device  *malgo.Device
	ctx     *malgo.AllocatedContext
	ring    *ringBuffer
	opts    Options
	outPath string

	encoderCmd    *exec.Cmd
	encoderStdin  io.WriteCloser
	encoderErr    chan error
	encoderStderr *bytes.Buffer

	watchdogCancel context.CancelFunc
	timedOut       chan struct{}
	overruns       int
}

// New constructs an Engine; call Start to begin capturing.
func New() *Engine {
	return &Engine{}
}

// Start opens the configured device and begins writing frames into
// the engine's ring buffer (WAV mode) or into the attached encoder's
// stdin (encoder mode), writing the eventual artifact to outputPath.
func (e *Engine) Start(opts Options, outputPath string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.device != nil {
		return fmt.Errorf("capture: a capture is already in progress")
	}

	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return fmt.Errorf("capture: init audio context: %w", err)
	}

	e.opts = opts
	e.outPath = outputPath
	e.timedOut = make(chan struct{})
	e.ring = newRingBuffer(ringBufSize)

	if len(opts.EncoderCommand) > 0 {
		if err := e.startEncoder(opts.EncoderCommand, outputPath); err != nil {
			ctx.Uninit()
			ctx.Free()
			return err
		}
	}

	cfg := malgo.DefaultDeviceConfig(malgo.Capture)
	cfg.Capture.Format = malgo.FormatS16
	cfg.Capture.Channels = uint32(opts.ChannelCount)
	cfg.SampleRate = uint32(opts.SampleRateHz)
	cfg.PeriodSizeInMilliseconds = 20

	var pinner runtime.Pinner
	if opts.DeviceID != "" && opts.DeviceID != "default" {
		var id malgo.DeviceID
		copy(id[:], opts.DeviceID)
		pinner.Pin(&id)
		cfg.Capture.DeviceID = unsafe.Pointer(&id) //nolint:gosec // required by malgo's DeviceID binding
	}

	callbacks := malgo.DeviceCallbacks{
		Data: func(_, input []byte, frameCount uint32) {
			e.onData(input)
		},
	}

	device, err := malgo.InitDevice(ctx.Context, cfg, callbacks)
	pinner.Unpin()
	if err != nil {
		e.stopEncoderOnError()
		ctx.Uninit()
		ctx.Free()
		return fmt.Errorf("capture: open device: %w", err)
	}

	if err := device.Start(); err != nil {
		device.Uninit()
		e.stopEncoderOnError()
		ctx.Uninit()
		ctx.Free()
		return fmt.Errorf("capture: start device: %w", err)
	}

	e.ctx = ctx
	e.device = device

	if opts.MaxDuration > 0 {
		watchdogCtx, cancel := context.WithCancel(context.Background())
		e.watchdogCancel = cancel
		go e.runWatchdog(watchdogCtx, opts.MaxDuration)
	}

	return nil
}

func (e *Engine) onData(input []byte) {
	if len(input) == 0 {
		return
	}
	if e.encoderStdin != nil {
		if _, err := e.encoderStdin.Write(input); err != nil {
			log.Printf("capture: encoder stdin write failed: %v", err)
		}
		return
	}
	if n := e.ring.WriteNonBlocking(input); n < len(input) {
		e.mu.Lock()
		e.overruns++
		e.mu.Unlock()
		log.Printf("capture: input overrun, dropped %d bytes", len(input)-n)
	}
}

func (e *Engine) runWatchdog(ctx context.Context, d time.Duration) {
	select {
	case <-ctx.Done():
		return
	case <-time.After(d):
		close(e.timedOut)
	}
}

// TimedOut returns a channel closed when the max-duration watchdog
// fires. Callers (the recorder daemon) select on this to auto-stop.
func (e *Engine) TimedOut() <-chan struct{} {
	return e.timedOut
}

// Stop closes the stream, flushes any encoder, and returns the raw PCM
// bytes in WAV mode (nil in encoder mode, since the artifact is
// already on disk at outputPath).
func (e *Engine) Stop() ([]byte, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stopLocked(false)
}

// Cancel behaves like Stop but deletes the output artifact.
func (e *Engine) Cancel() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, err := e.stopLocked(true)
	os.Remove(e.outPath)
	return err
}

func (e *Engine) stopLocked(cancelling bool) ([]byte, error) {
	if e.device == nil {
		return nil, fmt.Errorf("capture: no capture in progress")
	}
	if e.watchdogCancel != nil {
		e.watchdogCancel()
	}

	e.device.Stop()
	e.device.Uninit()
	e.ctx.Uninit()
	e.ctx.Free()
	e.device = nil
	e.ctx = nil

	if e.overruns > 0 {
		log.Printf("capture: %d overrun(s) during session", e.overruns)
	}

	if e.encoderCmd != nil {
		encErr := e.flushEncoder()
		if !cancelling && encErr != nil {
			return nil, encErr
		}
		return nil, nil
	}

	pcm := e.ring.DrainAll()
	if !cancelling {
		if err := SaveWAV(pcm, e.outPath, e.opts.SampleRateHz, e.opts.ChannelCount); err != nil {
			return nil, fmt.Errorf("capture: save wav: %w", err)
		}
	}
	return pcm, nil
}

func (e *Engine) startEncoder(command []string, outputPath string) error {
	args := append(append([]string{}, command[1:]...), outputPath)
	cmd := exec.Command(command[0], args...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("capture: encoder stdin pipe: %w", err)
	}
	stderr := &bytes.Buffer{}
	cmd.Stderr = stderr

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("capture: start encoder %q: %w", command[0], err)
	}

	e.encoderCmd = cmd
	e.encoderStdin = stdin
	e.encoderStderr = stderr
	e.encoderErr = make(chan error, 1)
	go func() {
		e.encoderErr <- cmd.Wait()
	}()
	return nil
}

func (e *Engine) flushEncoder() error {
	e.encoderStdin.Close()

	select {
	case err := <-e.encoderErr:
		if err != nil {
			return fmt.Errorf("%w: %v (stderr: %s)", ErrEncoderExited, err, e.encoderStderr.String())
		}
		return nil
	case <-time.After(5 * time.Second):
	}

	e.encoderCmd.Process.Signal(os.Interrupt)
	select {
	case <-e.encoderErr:
		return nil
	case <-time.After(1 * time.Second):
	}
	e.encoderCmd.Process.Kill()
	<-e.encoderErr
	return ErrEncoderExited
}

func (e *Engine) stopEncoderOnError() {
	if e.encoderCmd == nil {
		return
	}
	e.encoderStdin.Close()
	e.encoderCmd.Process.Kill()
	<-e.encoderErr
}

// SaveWAV writes a canonical RIFF/WAVE header (PCM, int16 LE) followed
// by pcm to path.
func SaveWAV(pcm []byte, path string, sampleRateHz, channels int) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("capture: create %s: %w", path, err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	if err := writeWAVHeader(w, len(pcm), sampleRateHz, channels); err != nil {
		return err
	}
	if _, err := w.Write(pcm); err != nil {
		return fmt.Errorf("capture: write pcm: %w", err)
	}
	return w.Flush()
}

const (
	bitsPerSample = 16
	wavFormatPCM  = 1
)

func writeWAVHeader(w io.Writer, pcmLen, sampleRateHz, channels int) error {
	byteRate := sampleRateHz * channels * bitsPerSample / 8
	blockAlign := channels * bitsPerSample / 8

	var buf bytes.Buffer
	buf.WriteString("RIFF")
	binary.Write(&buf, binary.LittleEndian, uint32(36+pcmLen))
	buf.WriteString("WAVE")

	buf.WriteString("fmt ")
	binary.Write(&buf, binary.LittleEndian, uint32(16))
	binary.Write(&buf, binary.LittleEndian, uint16(wavFormatPCM))
	binary.Write(&buf, binary.LittleEndian, uint16(channels))
	binary.Write(&buf, binary.LittleEndian, uint32(sampleRateHz))
	binary.Write(&buf, binary.LittleEndian, uint32(byteRate))
	binary.Write(&buf, binary.LittleEndian, uint16(blockAlign))
	binary.Write(&buf, binary.LittleEndian, uint16(bitsPerSample))

	buf.WriteString("data")
	binary.Write(&buf, binary.LittleEndian, uint32(pcmLen))

	_, err := w.Write(buf.Bytes())
	if err != nil {
		return fmt.Errorf("capture: write wav header: %w", err)
	}
	return nil
}

// ReadWAV parses a canonical WAV file back into its PCM payload plus
// format, used by tests and by callers inspecting a preserved capture.
func ReadWAV(path string) (pcm []byte, sampleRateHz, channels int, err error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, 0, 0, fmt.Errorf("capture: read %s: %w", path, err)
	}
	if len(data) < 44 || string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return nil, 0, 0, fmt.Errorf("capture: %s is not a valid WAV file", path)
	}
	channels = int(binary.LittleEndian.Uint16(data[22:24]))
	sampleRateHz = int(binary.LittleEndian.Uint32(data[24:28]))

	// Scan chunks after fmt to find "data", tolerating extra chunks.
	offset := 12
	for offset+8 <= len(data) {
		id := string(data[offset : offset+4])
		size := int(binary.LittleEndian.Uint32(data[offset+4 : offset+8]))
		body := offset + 8
		if id == "data" {
			end := body + size
			if end > len(data) {
				end = len(data)
			}
			return data[body:end], sampleRateHz, channels, nil
		}
		offset = body + size
		if size%2 == 1 {
			offset++
		}
	}
	return nil, 0, 0, fmt.Errorf("capture: %s has no data chunk", path)
}
