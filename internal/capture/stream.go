package capture

import (
	"errors"
	"fmt"
	"io"
	"sync"
)

// stream is a Handle over a raw PCM reader. A goroutine drains the reader
// into buf for as long as the handle is held.
type stream struct {
	name   string
	rc     io.ReadCloser
	format Format
	wait   func() error // reaps a child process, if any

	mu        sync.Mutex
	buf       []byte
	capturing bool
	released  bool
	err       error

	ready     chan struct{}
	readyOnce sync.Once
	done      chan struct{}
	doneOnce  sync.Once
}

func newStream(name string, rc io.ReadCloser, format Format, wait func() error) *stream {
	s := &stream{
		name:   name,
		rc:     rc,
		format: format,
		wait:   wait,
		ready:  make(chan struct{}),
		done:   make(chan struct{}),
	}
	go s.run()
	return s
}

func (s *stream) run() {
	p := make([]byte, 32*1024)
	for {
		n, err := s.rc.Read(p)
		if n > 0 {
			s.readyOnce.Do(func() { close(s.ready) })
			s.mu.Lock()
			if s.capturing {
				s.buf = append(s.buf, p[:n]...)
			}
			s.mu.Unlock()
		}
		if err != nil {
			s.stop(err)
			return
		}
	}
}

// stop records why reading ended and closes done exactly once.
func (s *stream) stop(cause error) {
	s.mu.Lock()
	if !s.released && s.err == nil {
		if errors.Is(cause, io.EOF) {
			s.err = fmt.Errorf("%w: %s: stream ended", ErrDeviceLost, s.name)
		} else {
			s.err = fmt.Errorf("%w: %s: %v", ErrDeviceLost, s.name, cause)
		}
	}
	s.mu.Unlock()
	s.doneOnce.Do(func() { close(s.done) })
}

// BeginSegment starts buffering. Bytes carried over from the last cut stay in
// the buffer; they belong to this segment.
func (s *stream) BeginSegment() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.released {
		return fmt.Errorf("begin segment: %s released", s.name)
	}
	if s.err != nil {
		return s.err
	}
	s.capturing = true
	return nil
}

// EndSegment cuts the buffer on a frame boundary. A partial frame left by a
// short read stays buffered and opens the next segment. Capture keeps running
// until Release, so the cut is the only boundary between segments.
func (s *stream) EndSegment() ([]byte, error) {
	s.mu.Lock()
	cut := len(s.buf) - len(s.buf)%s.format.frameSize()
	pcm := s.buf[:cut:cut]
	var rest []byte
	if cut < len(s.buf) {
		rest = append(rest, s.buf[cut:]...)
	}
	s.buf = rest
	err := s.err
	s.mu.Unlock()

	return EncodeWAV(pcm, s.format.SampleRate, s.format.Channels), err
}

func (s *stream) Release() error {
	s.mu.Lock()
	if s.released {
		s.mu.Unlock()
		return nil
	}
	s.released = true
	s.capturing = false
	s.buf = nil
	s.mu.Unlock()

	err := s.rc.Close()
	if s.wait != nil {
		// The child is expected to exit non-zero once its stdout is closed.
		_ = s.wait()
	}
	s.doneOnce.Do(func() { close(s.done) })
	return err
}

func (s *stream) Done() <-chan struct{} { return s.done }

func (s *stream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}
