package daemon

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/exp/slog"

	"github.com/jwulff/sequent/internal/export"
	"github.com/jwulff/sequent/internal/lang"
	"github.com/jwulff/sequent/internal/ledger"
	"github.com/jwulff/sequent/internal/logging"
)

// subscriberBuffer is how many events a slow subscriber may fall behind
// before it is dropped. Tick events are skipped instead of counted.
const subscriberBuffer = 256

// Recorder is the session the daemon controls. *session.Session satisfies it.
type Recorder interface {
	Start(ctx context.Context) error
	Stop()
	Recording() bool
	ID() string
	Languages() lang.Pair
	SetLanguages(source, target lang.Language) error
	Elapsed() time.Duration
	Interval() time.Duration
	Pending() int
	Snapshot() []ledger.Entry
	Clear() int
}

// Server answers commands and fans session events out to subscribers. It
// implements session.Listener; set Recorder before serving.
type Server struct {
	Recorder  Recorder
	ExportDir string
	Now       func() time.Time
	// WSOrigins lists extra browser origins, e.g. "http://localhost:5173",
	// allowed on the websocket bridge besides its own host.
	WSOrigins []string

	log *slog.Logger

	mu    sync.Mutex
	subs  map[*subscriber]struct{}
	conns map[net.Conn]struct{}
}

type subscriber struct {
	ch     chan Event
	filter map[string]bool
	done   chan struct{}
	once   sync.Once
}

func (s *subscriber) close() { s.once.Do(func() { close(s.done) }) }

// NewServer returns a server with no recorder bound yet.
func NewServer(exportDir string, log *slog.Logger) *Server {
	return &Server{
		ExportDir: exportDir,
		Now:       time.Now,
		log:       logging.OrDiscard(log),
		subs:      make(map[*subscriber]struct{}),
		conns:     make(map[net.Conn]struct{}),
	}
}

// Listen opens the Unix socket at path. A stale socket file left by a dead
// daemon is removed; a live one is an error.
func Listen(path string) (net.Listener, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create socket dir: %w", err)
	}
	if _, err := os.Stat(path); err == nil {
		if conn, err := net.DialTimeout("unix", path, time.Second); err == nil {
			conn.Close()
			return nil, fmt.Errorf("daemon already running at %s", path)
		}
		if err := os.Remove(path); err != nil {
			return nil, fmt.Errorf("remove stale socket: %w", err)
		}
	}
	ln, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("listen: %w", err)
	}
	if err := os.Chmod(path, 0o600); err != nil {
		ln.Close()
		return nil, fmt.Errorf("chmod socket: %w", err)
	}
	return ln, nil
}

// Serve accepts connections until ctx is done or ln fails.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	go func() {
		<-ctx.Done()
		ln.Close()
		s.mu.Lock()
		for c := range s.conns {
			c.Close()
		}
		s.mu.Unlock()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("accept: %w", err)
		}
		s.mu.Lock()
		s.conns[conn] = struct{}{}
		s.mu.Unlock()
		go s.handleConn(ctx, conn)
	}
}

func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	defer func() {
		conn.Close()
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
	}()

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	enc := json.NewEncoder(conn)

	for scanner.Scan() {
		var cmd Command
		if err := json.Unmarshal(scanner.Bytes(), &cmd); err != nil {
			enc.Encode(Response{Error: fmt.Sprintf("invalid command: %v", err)})
			continue
		}
		if cmd.Cmd == CmdSubscribe {
			if err := enc.Encode(Response{OK: true}); err != nil {
				return
			}
			s.stream(ctx, conn, enc, cmd.Events)
			return
		}
		if err := enc.Encode(s.Handle(cmd)); err != nil {
			s.log.Debug("write response", "err", err)
			return
		}
	}
}

// stream turns a connection into an event feed until either side goes away.
func (s *Server) stream(ctx context.Context, conn net.Conn, enc *json.Encoder, events []string) {
	sub := s.subscribe(events)
	defer s.unsubscribe(sub)

	gone := make(chan struct{})
	go func() {
		io.Copy(io.Discard, conn)
		close(gone)
	}()

	// Start every stream with the current state.
	if err := enc.Encode(s.statusEvent()); err != nil {
		return
	}
	for {
		select {
		case ev := <-sub.ch:
			if err := enc.Encode(ev); err != nil {
				return
			}
		case <-sub.done:
			s.log.Warn("dropping slow subscriber")
			return
		case <-gone:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (s *Server) subscribe(events []string) *subscriber {
	sub := &subscriber{
		ch:   make(chan Event, subscriberBuffer),
		done: make(chan struct{}),
	}
	s.mu.Lock()
	s.setFilterLocked(sub, events)
	s.subs[sub] = struct{}{}
	s.mu.Unlock()
	return sub
}

func (s *Server) setFilterLocked(sub *subscriber, events []string) {
	if len(events) == 0 {
		sub.filter = nil
		return
	}
	sub.filter = make(map[string]bool, len(events))
	for _, e := range events {
		sub.filter[e] = true
	}
}

func (s *Server) unsubscribe(sub *subscriber) {
	s.mu.Lock()
	delete(s.subs, sub)
	s.mu.Unlock()
	sub.close()
}

// broadcast never blocks. A subscriber whose buffer is full misses ticks; if
// it misses anything else it is dropped and must resync with a snapshot.
func (s *Server) broadcast(ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for sub := range s.subs {
		if sub.filter != nil && !sub.filter[ev.Event] {
			continue
		}
		select {
		case sub.ch <- ev:
		default:
			if ev.Event == EventTick {
				continue
			}
			delete(s.subs, sub)
			sub.close()
		}
	}
}

// Subscribers returns the number of live event streams.
func (s *Server) Subscribers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs)
}

// Handle executes one command.
func (s *Server) Handle(cmd Command) Response {
	if s.Recorder == nil {
		return Response{Error: "daemon not ready"}
	}
	switch cmd.Cmd {
	case CmdStatus:
		return s.status()

	case CmdStart:
		if err := s.Recorder.Start(context.Background()); err != nil {
			return Response{Error: err.Error()}
		}
		return s.status()

	case CmdStop:
		s.Recorder.Stop()
		return s.status()

	case CmdLanguages:
		current := s.Recorder.Languages()
		source, target := current.Source, current.Target
		var err error
		if cmd.Source != "" {
			if source, err = lang.Parse(cmd.Source); err != nil {
				return Response{Error: err.Error()}
			}
		}
		if cmd.Target != "" {
			if target, err = lang.Parse(cmd.Target); err != nil {
				return Response{Error: err.Error()}
			}
		}
		if err := s.Recorder.SetLanguages(source, target); err != nil {
			return Response{Error: err.Error()}
		}
		return s.status()

	case CmdSnapshot:
		resp := s.status()
		snap := s.Recorder.Snapshot()
		resp.Entries = make([]Entry, len(snap))
		for i, e := range snap {
			resp.Entries[i] = EntryFrom(e)
		}
		return resp

	case CmdClear:
		n := s.Recorder.Clear()
		return Response{OK: true, Cleared: IntPtr(n)}

	case CmdExport:
		dir := cmd.Dir
		if dir == "" {
			dir = s.ExportDir
		}
		if dir == "" {
			dir = "."
		}
		path, err := export.WriteFile(dir, s.Recorder.Snapshot(), s.Now())
		if err != nil {
			return Response{Error: err.Error()}
		}
		s.log.Info("exported timeline", "path", path)
		return Response{OK: true, Path: path}

	case CmdSubscribe:
		return Response{OK: true}

	default:
		return Response{Error: fmt.Sprintf("unknown command %q", cmd.Cmd)}
	}
}

func (s *Server) status() Response {
	langs := s.Recorder.Languages()
	return Response{
		OK:         true,
		SessionID:  s.Recorder.ID(),
		Recording:  BoolPtr(s.Recorder.Recording()),
		Source:     string(langs.Source),
		Target:     string(langs.Target),
		IntervalMs: Millis(s.Recorder.Interval()),
		ElapsedMs:  Millis(s.Recorder.Elapsed()),
		Pending:    IntPtr(s.Recorder.Pending()),
	}
}

func (s *Server) statusEvent() Event {
	return Event{
		Event:      EventStatus,
		Recording:  BoolPtr(s.Recorder.Recording()),
		SessionID:  s.Recorder.ID(),
		ElapsedMs:  Millis(s.Recorder.Elapsed()),
		IntervalMs: Millis(s.Recorder.Interval()),
	}
}

func entryEvent(name string, e ledger.Entry) Event {
	we := EntryFrom(e)
	return Event{Event: name, Entry: &we, SessionID: e.SessionID}
}

func (s *Server) SegmentDispatched(e ledger.Entry) { s.broadcast(entryEvent(EventDispatched, e)) }

func (s *Server) EntryResolved(e ledger.Entry) { s.broadcast(entryEvent(EventResolved, e)) }

func (s *Server) EntryFailed(e ledger.Entry) { s.broadcast(entryEvent(EventFailed, e)) }

func (s *Server) ClockTick(elapsed, interval time.Duration) {
	s.broadcast(Event{Event: EventTick, ElapsedMs: Millis(elapsed), IntervalMs: Millis(interval)})
}

func (s *Server) DeviceError(err error) {
	s.broadcast(Event{Event: EventDeviceError, Message: err.Error()})
}

func (s *Server) RecordingChanged(recording bool) {
	ev := Event{Event: EventStatus, Recording: BoolPtr(recording)}
	if s.Recorder != nil {
		ev.SessionID = s.Recorder.ID()
		ev.IntervalMs = Millis(s.Recorder.Interval())
	}
	s.broadcast(ev)
}

func (s *Server) LedgerCleared() { s.broadcast(Event{Event: EventCleared}) }
