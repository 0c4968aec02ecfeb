package capture

import (
	"context"
	"fmt"
	"sync"
)

// Synthetic is a deterministic device. Each segment yields BytesPerSegment
// bytes of silence, wrapped as WAV. It backs the "synthetic" device setting
// and the scheduler tests.
type Synthetic struct {
	// Deny makes Acquire fail as if permission were refused.
	Deny bool
	// BytesPerSegment of PCM per segment; 0 produces empty segments.
	BytesPerSegment int
	// LoseAfter drops the device after this many completed segments; 0 never.
	LoseAfter int

	mu           sync.Mutex
	acquired     int
	capturing    int
	maxCapturing int
	segments     int
	current      *syntheticHandle
}

// NewSynthetic returns a device producing n bytes of PCM per segment.
func NewSynthetic(n int) *Synthetic {
	return &Synthetic{BytesPerSegment: n}
}

func (s *Synthetic) Name() string { return "synthetic" }

func (s *Synthetic) Acquire(ctx context.Context) (Handle, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("acquire synthetic: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Deny {
		return nil, fmt.Errorf("%w: permission denied", ErrDeviceUnavailable)
	}
	if s.current != nil {
		return nil, fmt.Errorf("%w: device busy", ErrDeviceUnavailable)
	}
	h := &syntheticHandle{dev: s, done: make(chan struct{})}
	s.current = h
	s.acquired++
	return h, nil
}

// Lose simulates the device disappearing, e.g. the OS revoking permission.
func (s *Synthetic) Lose() {
	s.mu.Lock()
	h := s.current
	s.mu.Unlock()
	if h != nil {
		h.lose()
	}
}

// Acquired returns how many times the device was acquired.
func (s *Synthetic) Acquired() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.acquired
}

// Held reports whether a handle is currently outstanding.
func (s *Synthetic) Held() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current != nil
}

// Segments returns the number of EndSegment calls across all handles.
func (s *Synthetic) Segments() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.segments
}

// MaxCapturing is the largest number of simultaneously open segments seen.
func (s *Synthetic) MaxCapturing() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.maxCapturing
}

type syntheticHandle struct {
	dev       *Synthetic
	capturing bool
	released  bool
	err       error
	done      chan struct{}
	doneOnce  sync.Once
}

func (h *syntheticHandle) BeginSegment() error {
	d := h.dev
	d.mu.Lock()
	defer d.mu.Unlock()
	if h.released {
		return fmt.Errorf("begin segment: synthetic released")
	}
	if h.err != nil {
		return h.err
	}
	if h.capturing {
		return nil
	}
	h.capturing = true
	d.capturing++
	if d.capturing > d.maxCapturing {
		d.maxCapturing = d.capturing
	}
	return nil
}

func (h *syntheticHandle) EndSegment() ([]byte, error) {
	d := h.dev
	d.mu.Lock()
	if h.capturing {
		h.capturing = false
		d.capturing--
	}
	d.segments++
	err := h.err
	lose := d.LoseAfter > 0 && d.segments >= d.LoseAfter && err == nil
	n := d.BytesPerSegment
	d.mu.Unlock()

	if lose {
		h.lose()
	}
	return EncodeWAV(make([]byte, n), DefaultFormat.SampleRate, DefaultFormat.Channels), err
}

func (h *syntheticHandle) Release() error {
	d := h.dev
	d.mu.Lock()
	if h.released {
		d.mu.Unlock()
		return nil
	}
	h.released = true
	if h.capturing {
		h.capturing = false
		d.capturing--
	}
	if d.current == h {
		d.current = nil
	}
	d.mu.Unlock()
	h.doneOnce.Do(func() { close(h.done) })
	return nil
}

func (h *syntheticHandle) lose() {
	d := h.dev
	d.mu.Lock()
	if h.err == nil && !h.released {
		h.err = fmt.Errorf("%w: synthetic device revoked", ErrDeviceLost)
	}
	d.mu.Unlock()
	h.doneOnce.Do(func() { close(h.done) })
}

func (h *syntheticHandle) Done() <-chan struct{} { return h.done }

func (h *syntheticHandle) Err() error {
	h.dev.mu.Lock()
	defer h.dev.mu.Unlock()
	return h.err
}
