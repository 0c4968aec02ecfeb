package capture

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"
)

// FFmpeg captures the platform microphone by running ffmpeg and reading raw
// PCM from its stdout.
type FFmpeg struct {
	// Path to the ffmpeg binary. Defaults to "ffmpeg".
	Path string
	// InputFormat is the ffmpeg demuxer (pulse, alsa, avfoundation, dshow).
	InputFormat string
	// Input is the device name for the demuxer.
	Input string
	// Format of the PCM requested from ffmpeg.
	Format Format
	// StartupTimeout bounds how long Acquire waits for the first audio bytes.
	StartupTimeout time.Duration
}

// NewFFmpeg returns an ffmpeg device with platform defaults for empty fields.
func NewFFmpeg(path, inputFormat, input string) *FFmpeg {
	defFormat, defInput := platformInput()
	if path == "" {
		path = "ffmpeg"
	}
	if inputFormat == "" {
		inputFormat = defFormat
	}
	if input == "" {
		input = defInput
	}
	return &FFmpeg{
		Path:           path,
		InputFormat:    inputFormat,
		Input:          input,
		Format:         DefaultFormat,
		StartupTimeout: 3 * time.Second,
	}
}

func platformInput() (string, string) {
	switch runtime.GOOS {
	case "darwin":
		return "avfoundation", ":0"
	case "windows":
		return "dshow", "audio=default"
	default:
		return "pulse", "default"
	}
}

func (f *FFmpeg) Name() string {
	return fmt.Sprintf("ffmpeg:%s:%s", f.InputFormat, f.Input)
}

func (f *FFmpeg) args() []string {
	return []string{
		"-hide_banner", "-loglevel", "error", "-nostdin",
		"-f", f.InputFormat, "-i", f.Input,
		"-ac", strconv.Itoa(f.Format.Channels),
		"-ar", strconv.Itoa(f.Format.SampleRate),
		"-f", f.Format.Encoding,
		"-",
	}
}

// Acquire starts ffmpeg and waits until it produces audio. A process that
// exits or stays silent through the startup window means the microphone could
// not be opened.
func (f *FFmpeg) Acquire(ctx context.Context) (Handle, error) {
	// Not CommandContext: the process must outlive the Acquire call.
	cmd := exec.Command(f.Path, f.args()...)
	var stderr lockedBuffer
	cmd.Stderr = &stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("%w: ffmpeg stdout: %v", ErrDeviceUnavailable, err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("%w: start ffmpeg: %v", ErrDeviceUnavailable, err)
	}

	wait := func() error {
		_ = cmd.Process.Kill()
		return cmd.Wait()
	}
	s := newStream(f.Name(), stdout, f.Format, wait)

	limit := f.StartupTimeout
	if limit <= 0 {
		limit = 3 * time.Second
	}
	timer := time.NewTimer(limit)
	defer timer.Stop()

	select {
	case <-s.ready:
		return s, nil
	case <-s.done:
		s.Release()
		return nil, fmt.Errorf("%w: ffmpeg exited: %s", ErrDeviceUnavailable, strings.TrimSpace(stderr.String()))
	case <-timer.C:
		s.Release()
		return nil, fmt.Errorf("%w: no audio from %s within %s", ErrDeviceUnavailable, f.Name(), limit)
	case <-ctx.Done():
		s.Release()
		return nil, fmt.Errorf("acquire %s: %w", f.Name(), ctx.Err())
	}
}

// lockedBuffer collects ffmpeg's stderr while it is written from exec's copier.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
