package ledger

import (
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/jwulff/sequent/internal/lang"
)

func pending(id int64) Entry {
	return Entry{ID: id, Source: lang.Korean, Target: lang.English}
}

func ids(entries []Entry) []int64 {
	out := make([]int64, len(entries))
	for i, e := range entries {
		out[i] = e.ID
	}
	return out
}

func TestOutOfOrderResolutionKeepsOrder(t *testing.T) {
	l := New()
	for _, id := range []int64{1, 2, 3} {
		if err := l.RegisterPending(pending(id)); err != nil {
			t.Fatalf("register %d: %v", id, err)
		}
	}

	// B returns first, then A, then C.
	l.Resolve(2, "b", "B")
	l.Resolve(1, "a", "A")
	l.Resolve(3, "c", "C")

	snap := l.Snapshot()
	if got := fmt.Sprint(ids(snap)); got != "[1 2 3]" {
		t.Fatalf("order = %s, want [1 2 3]", got)
	}
	for _, e := range snap {
		if e.State != Resolved {
			t.Errorf("entry %d state = %q, want resolved", e.ID, e.State)
		}
	}
	if snap[0].TranslatedText != "A" || snap[1].TranslatedText != "B" {
		t.Errorf("texts landed on wrong entries: %+v", snap)
	}
}

func TestResolveTwiceIsNoop(t *testing.T) {
	l := New()
	l.RegisterPending(pending(1))

	if _, ok := l.Resolve(1, "first", "FIRST"); !ok {
		t.Fatal("first resolve should transition")
	}
	if _, ok := l.Resolve(1, "second", "SECOND"); ok {
		t.Error("second resolve should be a no-op")
	}
	if _, ok := l.Fail(1, "late failure"); ok {
		t.Error("fail after resolve should be a no-op")
	}

	e, _ := l.Get(1)
	if e.OriginalText != "first" || e.State != Resolved || e.ErrorMessage != "" {
		t.Errorf("entry = %+v", e)
	}
}

func TestFailTwiceIsNoop(t *testing.T) {
	l := New()
	l.RegisterPending(pending(7))

	if _, ok := l.Fail(7, "quota"); !ok {
		t.Fatal("first fail should transition")
	}
	if _, ok := l.Fail(7, "again"); ok {
		t.Error("second fail should be a no-op")
	}
	if _, ok := l.Resolve(7, "x", "y"); ok {
		t.Error("resolve after fail should be a no-op")
	}
	e, _ := l.Get(7)
	if e.ErrorMessage != "quota" || e.State != Failed {
		t.Errorf("entry = %+v", e)
	}
}

func TestUnknownIDIsNoop(t *testing.T) {
	l := New()
	if _, ok := l.Resolve(42, "a", "b"); ok {
		t.Error("resolve of unknown id should report false")
	}
	if _, ok := l.Fail(42, "x"); ok {
		t.Error("fail of unknown id should report false")
	}
	if l.Len() != 0 {
		t.Errorf("len = %d, want 0", l.Len())
	}
}

func TestClearDoesNotResurrect(t *testing.T) {
	l := New()
	l.RegisterPending(pending(1))
	l.RegisterPending(pending(2))

	removed := l.Clear()
	if len(removed) != 2 {
		t.Errorf("removed = %d, want 2", len(removed))
	}

	if _, ok := l.Resolve(1, "late", "late"); ok {
		t.Error("resolve after clear should be a no-op")
	}
	if _, ok := l.Fail(2, "late"); ok {
		t.Error("fail after clear should be a no-op")
	}
	if l.Len() != 0 {
		t.Errorf("len after late results = %d, want 0", l.Len())
	}

	if err := l.RegisterPending(pending(3)); err != nil {
		t.Fatalf("register after clear: %v", err)
	}
	if l.Len() != 1 {
		t.Errorf("len = %d, want 1", l.Len())
	}
}

func TestDuplicateRegister(t *testing.T) {
	l := New()
	l.RegisterPending(pending(1))
	err := l.RegisterPending(pending(1))
	if !errors.Is(err, ErrDuplicateEntry) {
		t.Errorf("err = %v, want ErrDuplicateEntry", err)
	}
}

func TestRegisterResetsResultFields(t *testing.T) {
	l := New()
	e := pending(1)
	e.OriginalText = "stale"
	e.State = Resolved
	l.RegisterPending(e)

	got, _ := l.Get(1)
	if got.State != Pending || got.OriginalText != "" {
		t.Errorf("registered entry = %+v, want clean pending", got)
	}
}

func TestLateLowerIDInsertedInPlace(t *testing.T) {
	l := New()
	l.RegisterPending(pending(1))
	l.RegisterPending(pending(3))
	l.RegisterPending(pending(2))

	if got := fmt.Sprint(ids(l.Snapshot())); got != "[1 2 3]" {
		t.Fatalf("order = %s, want [1 2 3]", got)
	}
	if _, ok := l.Resolve(3, "c", "C"); !ok {
		t.Error("index should follow the shifted entry")
	}
	e, _ := l.Get(3)
	if e.OriginalText != "c" {
		t.Errorf("entry 3 = %+v", e)
	}
}

func TestSnapshotIsCopy(t *testing.T) {
	l := New()
	l.RegisterPending(pending(1))
	snap := l.Snapshot()
	snap[0].OriginalText = "mutated"

	e, _ := l.Get(1)
	if e.OriginalText != "" {
		t.Error("mutating a snapshot must not touch the ledger")
	}
}

func TestPendingCount(t *testing.T) {
	l := New()
	l.RegisterPending(pending(1))
	l.RegisterPending(pending(2))
	l.Resolve(1, "", "")
	if l.Pending() != 1 {
		t.Errorf("pending = %d, want 1", l.Pending())
	}
}

func TestLoadSortsSnapshot(t *testing.T) {
	l := New()
	l.Load([]Entry{
		{ID: 5, State: Resolved, OriginalText: "five"},
		{ID: 2, State: Pending},
		{ID: 5, State: Failed},
	})
	snap := l.Snapshot()
	if got := fmt.Sprint(ids(snap)); got != "[2 5]" {
		t.Fatalf("order = %s, want [2 5]", got)
	}
	if snap[1].OriginalText != "five" {
		t.Errorf("first duplicate should win, got %+v", snap[1])
	}
	if _, ok := l.Resolve(2, "two", "TWO"); !ok {
		t.Error("loaded pending entry should still resolve")
	}
}

func TestSilent(t *testing.T) {
	e := Entry{State: Resolved}
	if !e.Silent() {
		t.Error("resolved entry with no text should be silent")
	}
	e.State = Pending
	if e.Silent() {
		t.Error("pending entry is not silent")
	}
}

func TestConcurrentResults(t *testing.T) {
	l := New()
	const n = 200
	for i := int64(1); i <= n; i++ {
		l.RegisterPending(pending(i))
	}

	var wg sync.WaitGroup
	for i := int64(n); i >= 1; i-- {
		wg.Add(2)
		go func(id int64) {
			defer wg.Done()
			l.Resolve(id, "o", "t")
		}(i)
		go func(id int64) {
			defer wg.Done()
			l.Fail(id, "err")
		}(i)
	}
	wg.Wait()

	snap := l.Snapshot()
	for i, e := range snap {
		if e.ID != int64(i+1) {
			t.Fatalf("snap[%d].ID = %d", i, e.ID)
		}
		if e.State == Pending {
			t.Errorf("entry %d still pending", e.ID)
		}
		if e.State == Resolved && e.ErrorMessage != "" {
			t.Errorf("entry %d resolved with error %q", e.ID, e.ErrorMessage)
		}
	}
}
