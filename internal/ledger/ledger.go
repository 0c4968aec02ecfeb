// Package ledger keeps the ordered record of interpretation entries and
// applies asynchronous results to it.
//
// Order is fixed at registration time by the entry ID (the segment sequence
// number). Results may arrive in any order; they only ever change the state
// of an existing entry, never its position.
package ledger

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/jwulff/sequent/internal/lang"
)

// ErrDuplicateEntry is returned when an ID is registered twice.
var ErrDuplicateEntry = errors.New("duplicate ledger entry")

// State of an entry.
type State string

const (
	Pending  State = "pending"
	Resolved State = "resolved"
	Failed   State = "failed"
)

// Entry is one row of the timeline, one per dispatched segment.
type Entry struct {
	ID             int64
	SessionID      string
	StartedAt      time.Time // segment start
	DispatchedAt   time.Time // segment end, when the entry was created
	Source         lang.Language
	Target         lang.Language
	OriginalText   string
	TranslatedText string
	ErrorMessage   string
	State          State
	PayloadBytes   int
}

// Silent reports whether a resolved entry carried no speech.
func (e Entry) Silent() bool {
	return e.State == Resolved && e.OriginalText == "" && e.TranslatedText == ""
}

// Ledger is safe for concurrent use.
type Ledger struct {
	mu      sync.RWMutex
	entries []Entry
	index   map[int64]int
}

// New returns an empty ledger.
func New() *Ledger {
	return &Ledger{index: make(map[int64]int)}
}

// RegisterPending adds e in the Pending state. Entries normally arrive in
// ID order and are appended; a late lower ID is inserted in place.
func (l *Ledger) RegisterPending(e Entry) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.index[e.ID]; ok {
		return fmt.Errorf("register entry %d: %w", e.ID, ErrDuplicateEntry)
	}
	e.State = Pending
	e.OriginalText = ""
	e.TranslatedText = ""
	e.ErrorMessage = ""

	n := len(l.entries)
	if n == 0 || l.entries[n-1].ID < e.ID {
		l.entries = append(l.entries, e)
		l.index[e.ID] = n
		return nil
	}

	i := sort.Search(n, func(i int) bool { return l.entries[i].ID > e.ID })
	l.entries = append(l.entries, Entry{})
	copy(l.entries[i+1:], l.entries[i:])
	l.entries[i] = e
	for j := i; j < len(l.entries); j++ {
		l.index[l.entries[j].ID] = j
	}
	return nil
}

// Resolve stores the texts for a pending entry. It reports false, and
// changes nothing, when the entry is unknown (never registered or cleared)
// or already final.
func (l *Ledger) Resolve(id int64, original, translated string) (Entry, bool) {
	return l.finish(id, func(e *Entry) {
		e.State = Resolved
		e.OriginalText = original
		e.TranslatedText = translated
	})
}

// Fail marks a pending entry failed. Same no-op rules as Resolve.
func (l *Ledger) Fail(id int64, message string) (Entry, bool) {
	return l.finish(id, func(e *Entry) {
		e.State = Failed
		e.ErrorMessage = message
	})
}

func (l *Ledger) finish(id int64, apply func(*Entry)) (Entry, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	i, ok := l.index[id]
	if !ok {
		return Entry{}, false
	}
	e := &l.entries[i]
	if e.State != Pending {
		return *e, false
	}
	apply(e)
	return *e, true
}

// Get returns the entry with the given ID.
func (l *Ledger) Get(id int64) (Entry, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	i, ok := l.index[id]
	if !ok {
		return Entry{}, false
	}
	return l.entries[i], true
}

// Snapshot returns a copy of all entries ordered by ID.
func (l *Ledger) Snapshot() []Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Entry, len(l.entries))
	copy(out, l.entries)
	return out
}

// Len returns the number of entries.
func (l *Ledger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

// Pending returns how many entries still await a result.
func (l *Ledger) Pending() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	n := 0
	for _, e := range l.entries {
		if e.State == Pending {
			n++
		}
	}
	return n
}

// Load replaces the contents with a snapshot taken elsewhere, such as the
// daemon's ledger mirrored by a client. Duplicate IDs keep the first entry.
func (l *Ledger) Load(entries []Entry) {
	sorted := make([]Entry, 0, len(entries))
	seen := make(map[int64]bool, len(entries))
	for _, e := range entries {
		if seen[e.ID] {
			continue
		}
		seen[e.ID] = true
		sorted = append(sorted, e)
	}
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = sorted
	l.index = make(map[int64]int, len(sorted))
	for i, e := range sorted {
		l.index[e.ID] = i
	}
}

// Clear empties the ledger and returns the removed entries. Results that
// arrive later for removed IDs are ignored.
func (l *Ledger) Clear() []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	removed := l.entries
	l.entries = nil
	l.index = make(map[int64]int)
	return removed
}
