// Package scheduler slices a continuous capture into back-to-back segments of
// a fixed target duration and hands each one off exactly once.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jwulff/sequent/internal/capture"
	"github.com/jwulff/sequent/internal/lang"
	"github.com/jwulff/sequent/internal/logging"

	"golang.org/x/exp/slog"
)

// ErrAlreadyRunning is returned by Start while a session is active.
var ErrAlreadyRunning = errors.New("scheduler already running")

const (
	DefaultInterval  = 15 * time.Second
	DefaultTickEvery = 250 * time.Millisecond
)

// Status of a segment.
type Status string

const (
	Capturing Status = "capturing"
	Pending   Status = "pending"
	Resolved  Status = "resolved"
	Failed    Status = "failed"
)

// Segment is one slice of the recording.
type Segment struct {
	Seq       int64
	StartedAt time.Time
	EndedAt   time.Time
	Target    time.Duration
	Status    Status
	Payload   []byte
	MIMEType  string
	Languages lang.Pair
	// Err is set when the segment is delivered already failed.
	Err error
}

// Duration is the wall-clock span the segment covered.
func (s Segment) Duration() time.Duration {
	if s.EndedAt.IsZero() {
		return 0
	}
	return s.EndedAt.Sub(s.StartedAt)
}

// Handler receives scheduler events. All methods are called from the
// scheduler's goroutine and must return quickly; they must not call Stop.
type Handler interface {
	// SegmentReady delivers a closed segment, Pending or Failed.
	SegmentReady(Segment)
	// ClockTick reports progress through the current segment.
	ClockTick(elapsed, interval time.Duration)
	// DeviceError reports a terminal device failure. The scheduler has
	// already stopped when it is called.
	DeviceError(error)
}

// Config tunes a Scheduler. Zero values take defaults.
type Config struct {
	Interval  time.Duration
	TickEvery time.Duration
	Languages lang.Pair
	Now       func() time.Time
	Logger    *slog.Logger
}

// clock measures elapsed time in the current segment from wall-clock
// timestamps, so throttled ticks never accumulate drift.
type clock struct {
	now   func() time.Time
	start time.Time
}

func (c *clock) resetAt(t time.Time) { c.start = t }

func (c *clock) elapsed() time.Duration {
	if c.start.IsZero() {
		return 0
	}
	d := c.now().Sub(c.start)
	if d < 0 {
		return 0
	}
	return d
}

// Scheduler owns the capture device for the length of a recording session.
type Scheduler struct {
	dev capture.Device
	h   Handler
	cfg Config
	log *slog.Logger

	mu       sync.Mutex
	starting bool
	running  bool
	langs    lang.Pair
	seq      int64
	clock    clock
	current  Segment
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// New returns a stopped scheduler.
func New(dev capture.Device, h Handler, cfg Config) *Scheduler {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.TickEvery <= 0 {
		cfg.TickEvery = DefaultTickEvery
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Scheduler{
		dev:   dev,
		h:     h,
		cfg:   cfg,
		log:   logging.OrDiscard(cfg.Logger),
		langs: cfg.Languages,
		clock: clock{now: cfg.Now},
	}
}

// Interval returns the configured segment length.
func (s *Scheduler) Interval() time.Duration { return s.cfg.Interval }

// SetLanguages sets the hints stamped on segments that start from now on.
// The segment already capturing keeps the hints it started with.
func (s *Scheduler) SetLanguages(p lang.Pair) {
	s.mu.Lock()
	s.langs = p
	s.mu.Unlock()
}

// Languages returns the hints for the next segment.
func (s *Scheduler) Languages() lang.Pair {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.langs
}

// Running reports whether a segment is being captured.
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Elapsed returns time spent in the current segment, 0 when stopped.
func (s *Scheduler) Elapsed() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return 0
	}
	return s.clock.elapsed()
}

// Progress returns elapsed/interval clamped to [0, 1].
func (s *Scheduler) Progress() float64 {
	p := float64(s.Elapsed()) / float64(s.cfg.Interval)
	if p > 1 {
		return 1
	}
	return p
}

// Start acquires the device and begins the first segment. If the device
// cannot be acquired the scheduler stays stopped and the error wraps
// capture.ErrDeviceUnavailable.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running || s.starting {
		s.mu.Unlock()
		return ErrAlreadyRunning
	}
	s.starting = true
	prev := s.doneCh
	s.mu.Unlock()

	// A loop that stopped on device loss may still be delivering its last
	// events.
	if prev != nil {
		<-prev
	}
	handle, err := s.acquire(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.starting = false
	if err != nil {
		return err
	}

	s.seq++
	start := s.cfg.Now()
	s.clock.resetAt(start)
	s.current = s.newSegment(start)
	s.running = true
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})
	go s.loop(handle, s.stopCh, s.doneCh)

	s.log.Info("recording started", "device", s.dev.Name(), "seq", s.seq, "interval", s.cfg.Interval)
	return nil
}

func (s *Scheduler) acquire(ctx context.Context) (capture.Handle, error) {
	handle, err := s.dev.Acquire(ctx)
	if err != nil {
		if !errors.Is(err, capture.ErrDeviceUnavailable) {
			err = fmt.Errorf("%w: %v", capture.ErrDeviceUnavailable, err)
		}
		return nil, err
	}
	if err := handle.BeginSegment(); err != nil {
		handle.Release()
		return nil, fmt.Errorf("%w: begin segment: %v", capture.ErrDeviceUnavailable, err)
	}
	return handle, nil
}

// newSegment must be called with mu held.
func (s *Scheduler) newSegment(start time.Time) Segment {
	return Segment{
		Seq:       s.seq,
		StartedAt: start,
		Target:    s.cfg.Interval,
		Status:    Capturing,
		Languages: s.langs,
	}
}

// Stop ends the session. A trailing partial segment is delivered only if it
// captured any audio; an empty one is dropped. Stop returns after the device
// is released, so a following Start never overlaps the old capture.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	if s.stopCh != nil {
		close(s.stopCh)
		s.stopCh = nil
	}
	done := s.doneCh
	s.mu.Unlock()

	<-done
}

// Wait blocks until the loop of the last recording has exited and delivered
// all of its events.
func (s *Scheduler) Wait() {
	s.mu.Lock()
	done := s.doneCh
	s.mu.Unlock()
	if done != nil {
		<-done
	}
}

func (s *Scheduler) loop(handle capture.Handle, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(s.cfg.TickEvery)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			s.finish(handle)
			return
		case <-handle.Done():
			s.lost(handle, nil, handle.Err())
			return
		case <-ticker.C:
			elapsed := s.Elapsed()
			if elapsed >= s.cfg.Interval {
				if !s.rotate(handle) {
					return
				}
				elapsed = s.Elapsed()
			}
			s.h.ClockTick(elapsed, s.cfg.Interval)
		}
	}
}

// rotate closes the current segment and opens the next. The next segment
// begins before the closed one is handed off so no audio falls between them.
// It reports false if the device failed and the loop must exit.
//
// Segments are stamped with the real cut time, but the next deadline stays on
// the start + k*Interval grid, so tick lateness shortens the following segment
// instead of accumulating. After a stall of a whole interval or more the grid
// restarts at the cut.
func (s *Scheduler) rotate(handle capture.Handle) bool {
	payload, err := handle.EndSegment()
	if err != nil {
		s.lost(handle, payload, err)
		return false
	}
	cut := s.cfg.Now()
	beginErr := handle.BeginSegment()

	s.mu.Lock()
	closed := s.current
	closed.EndedAt = cut
	closed.Status = Pending
	closed.Payload = payload
	closed.MIMEType = capture.MIMEType

	s.seq++
	s.clock.resetAt(nextBoundary(s.clock.start, cut, s.cfg.Interval))
	s.current = s.newSegment(cut)
	s.mu.Unlock()

	s.log.Debug("segment rotated", "seq", closed.Seq, "bytes", len(payload), "duration", closed.Duration())
	s.h.SegmentReady(closed)

	if beginErr != nil {
		s.lost(handle, nil, beginErr)
		return false
	}
	return true
}

// nextBoundary is the grid point that starts the segment opened at cut.
func nextBoundary(prev, cut time.Time, interval time.Duration) time.Time {
	next := prev.Add(interval)
	if next.After(cut) || cut.Sub(next) >= interval {
		return cut
	}
	return next
}

func (s *Scheduler) finish(handle capture.Handle) {
	payload, err := handle.EndSegment()
	cut := s.cfg.Now()
	if rerr := handle.Release(); rerr != nil {
		s.log.Warn("release device", "err", rerr)
	}

	s.mu.Lock()
	closed := s.current
	s.current = Segment{}
	s.running = false
	s.clock.resetAt(time.Time{})
	s.mu.Unlock()

	closed.EndedAt = cut
	closed.Payload = payload
	closed.MIMEType = capture.MIMEType
	switch {
	case err != nil:
		closed.Status = Failed
		closed.Err = err
		s.h.SegmentReady(closed)
	case len(payload) > 0:
		closed.Status = Pending
		s.h.SegmentReady(closed)
	default:
		s.log.Debug("dropping empty trailing segment", "seq", closed.Seq)
	}
	s.log.Info("recording stopped", "seq", closed.Seq)
}

// lost delivers the in-flight segment as failed and stops without retrying.
func (s *Scheduler) lost(handle capture.Handle, payload []byte, cause error) {
	if cause == nil {
		cause = capture.ErrDeviceLost
	} else if !errors.Is(cause, capture.ErrDeviceLost) {
		cause = fmt.Errorf("%w: %v", capture.ErrDeviceLost, cause)
	}
	cut := s.cfg.Now()
	handle.Release()

	s.mu.Lock()
	closed := s.current
	s.current = Segment{}
	s.running = false
	s.stopCh = nil
	s.clock.resetAt(time.Time{})
	s.mu.Unlock()

	closed.EndedAt = cut
	closed.Status = Failed
	closed.Payload = payload
	closed.MIMEType = capture.MIMEType
	closed.Err = cause

	s.log.Error("device lost", "seq", closed.Seq, "err", cause)
	s.h.SegmentReady(closed)
	s.h.DeviceError(cause)
}
