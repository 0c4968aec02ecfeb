package session

import (
	"time"

	"github.com/jwulff/sequent/internal/ledger"
)

// Listener receives session events. Methods may be called from several
// goroutines at once and must not block.
type Listener interface {
	// SegmentDispatched fires when a segment closes and its entry is created.
	SegmentDispatched(e ledger.Entry)
	// EntryResolved fires once per entry that got texts, possibly empty.
	EntryResolved(e ledger.Entry)
	// EntryFailed fires once per entry whose segment or gateway call failed.
	EntryFailed(e ledger.Entry)
	// ClockTick reports progress through the segment being captured.
	ClockTick(elapsed, interval time.Duration)
	// DeviceError reports that recording stopped because the device failed.
	DeviceError(err error)
	// RecordingChanged fires on every start and stop.
	RecordingChanged(recording bool)
	// LedgerCleared fires after Clear.
	LedgerCleared()
}

// NopListener ignores every event. Embed it to implement part of Listener.
type NopListener struct{}

func (NopListener) SegmentDispatched(ledger.Entry) {}
func (NopListener) EntryResolved(ledger.Entry) {}
func (NopListener) EntryFailed(ledger.Entry) {}
func (NopListener) ClockTick(time.Duration, time.Duration) {}
func (NopListener) DeviceError(error) {}
func (NopListener) RecordingChanged(bool) {}
func (NopListener) LedgerCleared() {}

// Listeners fans events out in order.
type Listeners []Listener

func (ls Listeners) SegmentDispatched(e ledger.Entry) {
	for _, l := range ls {
		l.SegmentDispatched(e)
	}
}

func (ls Listeners) EntryResolved(e ledger.Entry) {
	for _, l := range ls {
		l.EntryResolved(e)
	}
}

func (ls Listeners) EntryFailed(e ledger.Entry) {
	for _, l := range ls {
		l.EntryFailed(e)
	}
}

func (ls Listeners) ClockTick(elapsed, interval time.Duration) {
	for _, l := range ls {
		l.ClockTick(elapsed, interval)
	}
}

func (ls Listeners) DeviceError(err error) {
	for _, l := range ls {
		l.DeviceError(err)
	}
}

func (ls Listeners) RecordingChanged(recording bool) {
	for _, l := range ls {
		l.RecordingChanged(recording)
	}
}

func (ls Listeners) LedgerCleared() {
	for _, l := range ls {
		l.LedgerCleared()
	}
}
