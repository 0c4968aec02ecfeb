// Package session runs a recording: segments from the scheduler become
// ledger entries, each entry is interpreted by the gateway in the background,
// and every change is persisted and announced to listeners.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/exp/slog"
	"golang.org/x/sync/semaphore"

	"github.com/jwulff/sequent/internal/capture"
	"github.com/jwulff/sequent/internal/gateway"
	"github.com/jwulff/sequent/internal/lang"
	"github.com/jwulff/sequent/internal/ledger"
	"github.com/jwulff/sequent/internal/logging"
	"github.com/jwulff/sequent/internal/scheduler"
)

// ErrRecording is returned by SetLanguages while a recording is running.
var ErrRecording = errors.New("cannot change languages while recording")

// DefaultGatewayTimeout bounds a single gateway call.
const DefaultGatewayTimeout = 60 * time.Second

// Store persists sessions and entries. *db.Store satisfies it.
type Store interface {
	BeginSession(id string, langs lang.Pair, startedAt time.Time) error
	EndSession(id string, endedAt time.Time, status string) error
	InsertEntry(e ledger.Entry) error
	ResolveEntry(sessionID string, seq int64, original, translated string) error
	FailEntry(sessionID string, seq int64, message string) error
	DeleteEntries(sessionID string, seqs []int64) error
}

// Session end statuses written to the store.
const (
	StatusCompleted   = "completed"
	StatusInterrupted = "interrupted"
)

// Options configures a Session. Device and Gateway are required.
type Options struct {
	Device   capture.Device
	Gateway  gateway.Gateway
	Store    Store
	Listener Listener

	Interval       time.Duration
	TickEvery      time.Duration
	Languages      lang.Pair
	GatewayTimeout time.Duration
	// MaxInFlight bounds concurrent gateway calls; 0 means unbounded.
	MaxInFlight int

	Now    func() time.Time
	Logger *slog.Logger
}

// Session is safe for concurrent use.
type Session struct {
	opts  Options
	log   *slog.Logger
	sched *scheduler.Scheduler
	led   *ledger.Ledger
	sem   *semaphore.Weighted
	lis   Listener
	wg    sync.WaitGroup

	// ctl serializes Start, Stop and SetLanguages.
	ctl sync.Mutex

	mu sync.Mutex
	id string
}

// New builds a stopped session.
func New(opts Options) *Session {
	if opts.GatewayTimeout <= 0 {
		opts.GatewayTimeout = DefaultGatewayTimeout
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Languages.Source == "" {
		opts.Languages.Source = lang.Korean
	}
	if opts.Languages.Target == "" {
		opts.Languages.Target = lang.English
	}
	s := &Session{
		opts: opts,
		log:  logging.OrDiscard(opts.Logger),
		led:  ledger.New(),
		lis:  opts.Listener,
	}
	if s.lis == nil {
		s.lis = NopListener{}
	}
	if opts.MaxInFlight > 0 {
		s.sem = semaphore.NewWeighted(int64(opts.MaxInFlight))
	}
	s.sched = scheduler.New(opts.Device, handler{s}, scheduler.Config{
		Interval:  opts.Interval,
		TickEvery: opts.TickEvery,
		Languages: opts.Languages,
		Now:       opts.Now,
		Logger:    s.log,
	})
	return s
}

// Start begins recording under a fresh session ID.
func (s *Session) Start(ctx context.Context) error {
	s.ctl.Lock()
	defer s.ctl.Unlock()

	if s.sched.Running() {
		return scheduler.ErrAlreadyRunning
	}
	// Let a loop that died on device loss finish ending its session first.
	s.sched.Wait()
	id := uuid.NewString()
	s.setID(id)
	if err := s.sched.Start(ctx); err != nil {
		s.setID("")
		return fmt.Errorf("start recording: %w", err)
	}
	if s.opts.Store != nil {
		if err := s.opts.Store.BeginSession(id, s.sched.Languages(), s.opts.Now()); err != nil {
			s.log.Error("persist session start", "session", id, "err", err)
		}
	}
	s.log.Info("session started", "session", id)
	s.lis.RecordingChanged(true)
	return nil
}

// Stop ends recording. The trailing segment, if it has audio, is still
// dispatched; gateway calls already in flight keep running.
func (s *Session) Stop() {
	s.ctl.Lock()
	defer s.ctl.Unlock()

	if !s.sched.Running() {
		return
	}
	s.sched.Stop()
	s.end(StatusCompleted)
}

// end closes the current session ID once. It runs from Stop or from the
// scheduler goroutine after a device failure.
func (s *Session) end(status string) {
	s.mu.Lock()
	id := s.id
	s.id = ""
	s.mu.Unlock()
	if id == "" {
		return
	}
	if s.opts.Store != nil {
		if err := s.opts.Store.EndSession(id, s.opts.Now(), status); err != nil {
			s.log.Error("persist session end", "session", id, "err", err)
		}
	}
	s.log.Info("session ended", "session", id, "status", status)
	s.lis.RecordingChanged(false)
}

func (s *Session) setID(id string) {
	s.mu.Lock()
	s.id = id
	s.mu.Unlock()
}

// ID returns the current recording's session ID, "" when stopped.
func (s *Session) ID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.id
}

// Recording reports whether audio is being captured.
func (s *Session) Recording() bool { return s.sched.Running() }

// Progress is the fraction of the current segment elapsed.
func (s *Session) Progress() float64 { return s.sched.Progress() }

// Elapsed is the time spent in the current segment.
func (s *Session) Elapsed() time.Duration { return s.sched.Elapsed() }

// Interval is the segment length.
func (s *Session) Interval() time.Duration { return s.sched.Interval() }

// Languages returns the active language pair.
func (s *Session) Languages() lang.Pair { return s.sched.Languages() }

// SetLanguages changes the language pair. It is rejected while recording.
func (s *Session) SetLanguages(source, target lang.Language) error {
	s.ctl.Lock()
	defer s.ctl.Unlock()

	if !source.Valid() {
		return fmt.Errorf("set source language: unsupported %q", source)
	}
	if !target.Valid() {
		return fmt.Errorf("set target language: unsupported %q", target)
	}
	if s.sched.Running() {
		return ErrRecording
	}
	s.sched.SetLanguages(lang.Pair{Source: source, Target: target})
	return nil
}

// Snapshot returns all entries ordered by sequence.
func (s *Session) Snapshot() []ledger.Entry { return s.led.Snapshot() }

// Pending returns how many entries await a result.
func (s *Session) Pending() int { return s.led.Pending() }

// Clear removes every entry from the timeline and the archive. Results that
// arrive later for removed entries are dropped.
func (s *Session) Clear() int {
	removed := s.led.Clear()
	if s.opts.Store != nil && len(removed) > 0 {
		bySession := make(map[string][]int64)
		for _, e := range removed {
			bySession[e.SessionID] = append(bySession[e.SessionID], e.ID)
		}
		for id, seqs := range bySession {
			if err := s.opts.Store.DeleteEntries(id, seqs); err != nil {
				s.log.Error("delete entries", "session", id, "err", err)
			}
		}
	}
	s.log.Info("ledger cleared", "entries", len(removed))
	s.lis.LedgerCleared()
	return len(removed)
}

// Wait blocks until every gateway call started so far has finished.
func (s *Session) Wait() { s.wg.Wait() }

func (s *Session) dispatch(seg scheduler.Segment) {
	e := ledger.Entry{
		ID:           seg.Seq,
		SessionID:    s.ID(),
		StartedAt:    seg.StartedAt,
		DispatchedAt: seg.EndedAt,
		Source:       seg.Languages.Source,
		Target:       seg.Languages.Target,
		PayloadBytes: len(seg.Payload),
	}
	if err := s.led.RegisterPending(e); err != nil {
		s.log.Error("register entry", "seq", seg.Seq, "err", err)
		return
	}
	e, _ = s.led.Get(seg.Seq)
	if s.opts.Store != nil {
		if err := s.opts.Store.InsertEntry(e); err != nil {
			s.log.Error("persist entry", "seq", e.ID, "err", err)
		}
	}
	s.lis.SegmentDispatched(e)

	switch {
	case seg.Status == scheduler.Failed:
		msg := "recording failed"
		if seg.Err != nil {
			msg = seg.Err.Error()
		}
		s.fail(e.ID, msg)
	case len(seg.Payload) == 0:
		s.log.Debug("empty segment, treating as silence", "seq", e.ID)
		s.resolve(e.ID, gateway.Result{})
	default:
		s.submit(e, seg.Payload, seg.MIMEType)
	}
}

func (s *Session) submit(e ledger.Entry, audio []byte, mimeType string) {
	req := gateway.Request{
		Audio:    audio,
		MIMEType: mimeType,
		Source:   e.Source,
		Target:   e.Target,
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if s.sem != nil {
			if err := s.sem.Acquire(context.Background(), 1); err != nil {
				s.fail(e.ID, err.Error())
				return
			}
			defer s.sem.Release(1)
		}

		ctx, cancel := context.WithTimeout(context.Background(), s.opts.GatewayTimeout)
		defer cancel()

		start := time.Now()
		res, err := s.opts.Gateway.Submit(ctx, req)
		if err != nil {
			s.log.Warn("gateway call failed", "seq", e.ID, "took", time.Since(start), "err", err)
			s.fail(e.ID, err.Error())
			return
		}
		s.log.Debug("gateway call done", "seq", e.ID, "took", time.Since(start))
		s.resolve(e.ID, res)
	}()
}

func (s *Session) resolve(id int64, res gateway.Result) {
	e, ok := s.led.Resolve(id, res.Original, res.Translated)
	if !ok {
		s.log.Debug("dropping result for settled or cleared entry", "seq", id)
		return
	}
	if s.opts.Store != nil {
		if err := s.opts.Store.ResolveEntry(e.SessionID, e.ID, e.OriginalText, e.TranslatedText); err != nil {
			s.log.Error("persist resolve", "seq", id, "err", err)
		}
	}
	s.lis.EntryResolved(e)
}

func (s *Session) fail(id int64, msg string) {
	e, ok := s.led.Fail(id, msg)
	if !ok {
		s.log.Debug("dropping failure for settled or cleared entry", "seq", id)
		return
	}
	if s.opts.Store != nil {
		if err := s.opts.Store.FailEntry(e.SessionID, e.ID, msg); err != nil {
			s.log.Error("persist failure", "seq", id, "err", err)
		}
	}
	s.lis.EntryFailed(e)
}

// handler adapts the scheduler callbacks so they stay off the Session API.
type handler struct{ s *Session }

func (h handler) SegmentReady(seg scheduler.Segment) { h.s.dispatch(seg) }

func (h handler) ClockTick(elapsed, interval time.Duration) {
	h.s.lis.ClockTick(elapsed, interval)
}

func (h handler) DeviceError(err error) {
	h.s.log.Error("recording stopped by device", "err", err)
	h.s.lis.DeviceError(err)
	h.s.end(StatusInterrupted)
}
