package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/jwulff/sequent/internal/capture"
	"github.com/jwulff/sequent/internal/gateway"
	"github.com/jwulff/sequent/internal/lang"
	"github.com/jwulff/sequent/internal/ledger"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// call is one gateway request held until the test replies.
type call struct {
	req   gateway.Request
	reply chan callResult
}

type callResult struct {
	res gateway.Result
	err error
}

// heldGateway parks every Submit until the test answers it.
type heldGateway struct {
	calls chan *call
}

func newHeldGateway() *heldGateway {
	return &heldGateway{calls: make(chan *call, 16)}
}

func (g *heldGateway) Submit(ctx context.Context, req gateway.Request) (gateway.Result, error) {
	c := &call{req: req, reply: make(chan callResult, 1)}
	g.calls <- c
	select {
	case r := <-c.reply:
		return r.res, r.err
	case <-ctx.Done():
		return gateway.Result{}, ctx.Err()
	}
}

func (g *heldGateway) next(t *testing.T) *call {
	t.Helper()
	select {
	case c := <-g.calls:
		return c
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for gateway call")
		return nil
	}
}

func (c *call) answer(original, translated string) {
	c.reply <- callResult{res: gateway.Result{Original: original, Translated: translated}}
}

func (c *call) reject(err error) {
	c.reply <- callResult{err: err}
}

// events records listener callbacks.
type events struct {
	NopListener
	mu         sync.Mutex
	dispatched []int64
	resolved   []int64
	failed     []int64
	recording  []bool
	cleared    int
	deviceErrs chan error
	changed    chan struct{}
}

func newEvents() *events {
	return &events{deviceErrs: make(chan error, 4), changed: make(chan struct{}, 64)}
}

func (e *events) note() {
	select {
	case e.changed <- struct{}{}:
	default:
	}
}

func (e *events) SegmentDispatched(en ledger.Entry) {
	e.mu.Lock()
	e.dispatched = append(e.dispatched, en.ID)
	e.mu.Unlock()
	e.note()
}

func (e *events) EntryResolved(en ledger.Entry) {
	e.mu.Lock()
	e.resolved = append(e.resolved, en.ID)
	e.mu.Unlock()
	e.note()
}

func (e *events) EntryFailed(en ledger.Entry) {
	e.mu.Lock()
	e.failed = append(e.failed, en.ID)
	e.mu.Unlock()
	e.note()
}

func (e *events) RecordingChanged(r bool) {
	e.mu.Lock()
	e.recording = append(e.recording, r)
	e.mu.Unlock()
}

func (e *events) LedgerCleared() {
	e.mu.Lock()
	e.cleared++
	e.mu.Unlock()
}

func (e *events) DeviceError(err error) { e.deviceErrs <- err }

func (e *events) dispatchedCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.dispatched)
}

// memStore records what the session persists.
type memStore struct {
	mu       sync.Mutex
	sessions map[string]string
	entries  map[int64]ledger.Entry
	deleted  []int64
}

func newMemStore() *memStore {
	return &memStore{sessions: map[string]string{}, entries: map[int64]ledger.Entry{}}
}

func (m *memStore) BeginSession(id string, _ lang.Pair, _ time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[id] = "active"
	return nil
}

func (m *memStore) EndSession(id string, _ time.Time, status string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[id] = status
	return nil
}

func (m *memStore) InsertEntry(e ledger.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[e.ID] = e
	return nil
}

func (m *memStore) ResolveEntry(_ string, seq int64, original, translated string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := m.entries[seq]
	e.State, e.OriginalText, e.TranslatedText = ledger.Resolved, original, translated
	m.entries[seq] = e
	return nil
}

func (m *memStore) FailEntry(_ string, seq int64, message string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := m.entries[seq]
	e.State, e.ErrorMessage = ledger.Failed, message
	m.entries[seq] = e
	return nil
}

func (m *memStore) DeleteEntries(_ string, seqs []int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range seqs {
		delete(m.entries, s)
		m.deleted = append(m.deleted, s)
	}
	return nil
}

func (m *memStore) entry(seq int64) ledger.Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.entries[seq]
}

type harness struct {
	s     *Session
	clk   *fakeClock
	dev   *capture.Synthetic
	gw    *heldGateway
	ev    *events
	store *memStore
}

func newHarness(t *testing.T, bytesPerSegment int) *harness {
	t.Helper()
	h := &harness{
		clk:   &fakeClock{now: time.Date(2025, 5, 1, 18, 0, 0, 0, time.Local)},
		dev:   capture.NewSynthetic(bytesPerSegment),
		gw:    newHeldGateway(),
		ev:    newEvents(),
		store: newMemStore(),
	}
	h.s = New(Options{
		Device:    h.dev,
		Gateway:   h.gw,
		Store:     h.store,
		Listener:  h.ev,
		Interval:  15 * time.Second,
		TickEvery: time.Millisecond,
		Now:       h.clk.Now,
	})
	t.Cleanup(h.s.Stop)
	return h
}

// rotate advances one interval and waits for the resulting dispatch.
func (h *harness) rotate(t *testing.T) {
	t.Helper()
	want := h.ev.dispatchedCount() + 1
	h.clk.Advance(15 * time.Second)
	h.waitFor(t, func() bool { return h.ev.dispatchedCount() >= want })
}

func (h *harness) waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for !cond() {
		select {
		case <-h.ev.changed:
		case <-time.After(5 * time.Millisecond):
		case <-deadline:
			t.Fatal("condition not met")
		}
	}
}

func states(entries []ledger.Entry) string {
	out := ""
	for _, e := range entries {
		out += fmt.Sprintf("%d:%s ", e.ID, e.State)
	}
	return out
}

func TestOutOfOrderResultsKeepTimelineOrder(t *testing.T) {
	h := newHarness(t, 320)
	if err := h.s.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}

	h.rotate(t)
	a := h.gw.next(t)
	h.rotate(t)
	b := h.gw.next(t)
	h.rotate(t)
	c := h.gw.next(t)

	if got := states(h.s.Snapshot()); got != "1:pending 2:pending 3:pending " {
		t.Fatalf("before results: %s", got)
	}

	b.answer("둘", "two")
	h.waitFor(t, func() bool { e, _ := h.s.led.Get(2); return e.State == ledger.Resolved })
	if got := states(h.s.Snapshot()); got != "1:pending 2:resolved 3:pending " {
		t.Errorf("after B: %s", got)
	}

	a.answer("하나", "one")
	c.answer("셋", "three")
	h.s.Wait()

	snap := h.s.Snapshot()
	if got := states(snap); got != "1:resolved 2:resolved 3:resolved " {
		t.Errorf("after all: %s", got)
	}
	for i, want := range []string{"one", "two", "three"} {
		if snap[i].TranslatedText != want {
			t.Errorf("entry %d translated = %q, want %q", snap[i].ID, snap[i].TranslatedText, want)
		}
	}
	if e := h.store.entry(2); e.TranslatedText != "two" {
		t.Errorf("stored entry 2 = %+v", e)
	}
}

func TestEmptySegmentResolvesAsSilence(t *testing.T) {
	h := newHarness(t, 0)
	if err := h.s.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	h.rotate(t)
	h.waitFor(t, func() bool { return h.s.Pending() == 0 })

	snap := h.s.Snapshot()
	if len(snap) != 1 {
		t.Fatalf("entries = %d, want 1", len(snap))
	}
	if !snap[0].Silent() {
		t.Errorf("entry = %+v, want silent", snap[0])
	}
	select {
	case c := <-h.gw.calls:
		t.Errorf("gateway called for empty segment: %+v", c.req)
	default:
	}
}

func TestGatewayFailureScopedToEntry(t *testing.T) {
	h := newHarness(t, 64)
	if err := h.s.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	h.rotate(t)
	first := h.gw.next(t)
	h.rotate(t)
	second := h.gw.next(t)

	first.reject(fmt.Errorf("%w: http 429: quota", gateway.ErrGatewayFailure))
	second.reject(fmt.Errorf("%w: missing field", gateway.ErrMalformedResponse))
	h.s.Wait()

	snap := h.s.Snapshot()
	if got := states(snap); got != "1:failed 2:failed " {
		t.Fatalf("states = %s", got)
	}
	if snap[0].ErrorMessage == "" {
		t.Error("failed entry has no message")
	}
	if !h.s.Recording() {
		t.Error("gateway failure must not stop recording")
	}
}

func TestClearDropsLateResults(t *testing.T) {
	h := newHarness(t, 64)
	if err := h.s.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	h.rotate(t)
	late := h.gw.next(t)

	if n := h.s.Clear(); n != 1 {
		t.Errorf("cleared = %d, want 1", n)
	}
	late.answer("late", "late")
	h.s.Wait()

	if n := len(h.s.Snapshot()); n != 0 {
		t.Errorf("entries after late result = %d, want 0", n)
	}
	h.ev.mu.Lock()
	defer h.ev.mu.Unlock()
	if len(h.ev.resolved) != 0 {
		t.Errorf("resolved events = %v, want none", h.ev.resolved)
	}
	if h.ev.cleared != 1 {
		t.Errorf("cleared events = %d, want 1", h.ev.cleared)
	}
}

func TestDeniedDeviceLeavesLedgerEmpty(t *testing.T) {
	h := newHarness(t, 64)
	h.dev.Deny = true

	err := h.s.Start(context.Background())
	if !errors.Is(err, capture.ErrDeviceUnavailable) {
		t.Fatalf("err = %v, want ErrDeviceUnavailable", err)
	}
	if h.s.Recording() || h.s.ID() != "" {
		t.Error("session should stay stopped")
	}
	if h.s.Progress() != 0 {
		t.Errorf("progress = %v, want 0", h.s.Progress())
	}
	if len(h.s.Snapshot()) != 0 {
		t.Error("ledger should be empty")
	}
}

func TestDeviceLossFailsEntryAndStops(t *testing.T) {
	h := newHarness(t, 64)
	if err := h.s.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	id := h.s.ID()
	h.dev.Lose()

	select {
	case err := <-h.ev.deviceErrs:
		if !errors.Is(err, capture.ErrDeviceLost) {
			t.Errorf("device error = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no device error")
	}
	h.waitFor(t, func() bool { return h.s.ID() == "" })

	snap := h.s.Snapshot()
	if len(snap) != 1 || snap[0].State != ledger.Failed {
		t.Fatalf("snapshot = %s", states(snap))
	}
	h.store.mu.Lock()
	status := h.store.sessions[id]
	h.store.mu.Unlock()
	if status != StatusInterrupted {
		t.Errorf("session status = %q, want %q", status, StatusInterrupted)
	}

	// Recording can be started again.
	if err := h.s.Start(context.Background()); err != nil {
		t.Fatalf("restart: %v", err)
	}
	if h.s.ID() == id {
		t.Error("restart should use a new session id")
	}
}

func TestLanguagesLockedWhileRecording(t *testing.T) {
	h := newHarness(t, 64)
	if err := h.s.SetLanguages(lang.Japanese, lang.Chinese); err != nil {
		t.Fatalf("set languages: %v", err)
	}
	if err := h.s.SetLanguages("Klingon", lang.English); err == nil {
		t.Error("unsupported language should be rejected")
	}
	if err := h.s.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := h.s.SetLanguages(lang.Korean, lang.English); !errors.Is(err, ErrRecording) {
		t.Errorf("err = %v, want ErrRecording", err)
	}

	h.rotate(t)
	c := h.gw.next(t)
	if c.req.Source != lang.Japanese || c.req.Target != lang.Chinese {
		t.Errorf("request languages = %s -> %s", c.req.Source, c.req.Target)
	}
	c.answer("", "")
}

func TestStopDispatchesTrailingSegment(t *testing.T) {
	h := newHarness(t, 64)
	if err := h.s.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	id := h.s.ID()
	h.clk.Advance(5 * time.Second)
	h.s.Stop()

	if h.s.Recording() || h.s.ID() != "" {
		t.Error("still recording after stop")
	}
	c := h.gw.next(t)
	c.answer("끝", "end")
	h.s.Wait()

	snap := h.s.Snapshot()
	if len(snap) != 1 || snap[0].TranslatedText != "end" || snap[0].SessionID != id {
		t.Errorf("snapshot = %+v", snap)
	}
	h.ev.mu.Lock()
	defer h.ev.mu.Unlock()
	if fmt.Sprint(h.ev.recording) != "[true false]" {
		t.Errorf("recording events = %v", h.ev.recording)
	}
}

func TestMaxInFlight(t *testing.T) {
	var (
		mu      sync.Mutex
		active  int
		maxSeen int
	)
	release := make(chan struct{})
	gw := gateway.Func(func(ctx context.Context, req gateway.Request) (gateway.Result, error) {
		mu.Lock()
		active++
		if active > maxSeen {
			maxSeen = active
		}
		mu.Unlock()
		<-release
		mu.Lock()
		active--
		mu.Unlock()
		return gateway.Result{}, nil
	})
	clk := &fakeClock{now: time.Now()}
	ev := newEvents()
	s := New(Options{
		Device:      capture.NewSynthetic(8),
		Gateway:     gw,
		Listener:    ev,
		Interval:    time.Second,
		TickEvery:   time.Millisecond,
		MaxInFlight: 1,
		Now:         clk.Now,
	})
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	for i := 0; i < 3; i++ {
		clk.Advance(time.Second)
		want := i + 1
		deadline := time.Now().Add(2 * time.Second)
		for ev.dispatchedCount() < want && time.Now().Before(deadline) {
			time.Sleep(time.Millisecond)
		}
	}
	s.Stop()
	close(release)
	s.Wait()

	if maxSeen != 1 {
		t.Errorf("max concurrent calls = %d, want 1", maxSeen)
	}
	if s.Pending() != 0 {
		t.Errorf("pending = %d, want 0", s.Pending())
	}
}
