// Package daemon provides the server, client and protocol types for talking to
// the sequent daemon over a Unix socket using NDJSON.
package daemon

import (
	"time"

	"github.com/jwulff/sequent/internal/lang"
	"github.com/jwulff/sequent/internal/ledger"
)

// Command names.
const (
	CmdStatus    = "status"
	CmdStart     = "start"
	CmdStop      = "stop"
	CmdLanguages = "languages"
	CmdSnapshot  = "snapshot"
	CmdClear     = "clear"
	CmdExport    = "export"
	CmdSubscribe = "subscribe"
)

// Event names.
const (
	EventDispatched  = "dispatched"
	EventResolved    = "resolved"
	EventFailed      = "failed"
	EventTick        = "tick"
	EventDeviceError = "device_error"
	EventStatus      = "status"
	EventCleared     = "cleared"
)

// Command is sent from a client to the daemon.
type Command struct {
	Cmd    string   `json:"cmd"`
	Source string   `json:"source,omitempty"`
	Target string   `json:"target,omitempty"`
	Dir    string   `json:"dir,omitempty"`
	Events []string `json:"events,omitempty"`
}

// Response is returned by the daemon after processing a command.
type Response struct {
	OK         bool    `json:"ok"`
	SessionID  string  `json:"sessionId,omitempty"`
	Recording  *bool   `json:"recording,omitempty"`
	Source     string  `json:"source,omitempty"`
	Target     string  `json:"target,omitempty"`
	IntervalMs *int64  `json:"intervalMs,omitempty"`
	ElapsedMs  *int64  `json:"elapsedMs,omitempty"`
	Pending    *int    `json:"pending,omitempty"`
	Entries    []Entry `json:"entries,omitempty"`
	Cleared    *int    `json:"cleared,omitempty"`
	Path       string  `json:"path,omitempty"`
	Error      string  `json:"error,omitempty"`
}

// Event is streamed from the daemon to subscribed clients.
type Event struct {
	Event      string `json:"event"`
	Entry      *Entry `json:"entry,omitempty"`
	ElapsedMs  *int64 `json:"elapsedMs,omitempty"`
	IntervalMs *int64 `json:"intervalMs,omitempty"`
	Recording  *bool  `json:"recording,omitempty"`
	SessionID  string `json:"sessionId,omitempty"`
	Message    string `json:"message,omitempty"`
}

// Entry is the wire form of a ledger entry.
type Entry struct {
	SequenceNumber int64     `json:"sequenceNumber"`
	SessionID      string    `json:"sessionId,omitempty"`
	StartedAt      time.Time `json:"startedAt"`
	DispatchedAt   time.Time `json:"dispatchedAt"`
	Source         string    `json:"source"`
	Target         string    `json:"target"`
	OriginalText   string    `json:"originalText"`
	TranslatedText string    `json:"translatedText"`
	ErrorMessage   string    `json:"errorMessage,omitempty"`
	State          string    `json:"state"`
	PayloadBytes   int       `json:"payloadBytes,omitempty"`
}

// EntryFrom converts a ledger entry for the wire.
func EntryFrom(e ledger.Entry) Entry {
	return Entry{
		SequenceNumber: e.ID,
		SessionID:      e.SessionID,
		StartedAt:      e.StartedAt,
		DispatchedAt:   e.DispatchedAt,
		Source:         string(e.Source),
		Target:         string(e.Target),
		OriginalText:   e.OriginalText,
		TranslatedText: e.TranslatedText,
		ErrorMessage:   e.ErrorMessage,
		State:          string(e.State),
		PayloadBytes:   e.PayloadBytes,
	}
}

// Ledger converts a wire entry back.
func (e Entry) Ledger() ledger.Entry {
	return ledger.Entry{
		ID:             e.SequenceNumber,
		SessionID:      e.SessionID,
		StartedAt:      e.StartedAt,
		DispatchedAt:   e.DispatchedAt,
		Source:         lang.Language(e.Source),
		Target:         lang.Language(e.Target),
		OriginalText:   e.OriginalText,
		TranslatedText: e.TranslatedText,
		ErrorMessage:   e.ErrorMessage,
		State:          ledger.State(e.State),
		PayloadBytes:   e.PayloadBytes,
	}
}

// Entries converts a slice of wire entries.
func Entries(in []Entry) []ledger.Entry {
	out := make([]ledger.Entry, len(in))
	for i, e := range in {
		out[i] = e.Ledger()
	}
	return out
}

// BoolPtr returns a pointer to a bool value. Convenience for building responses.
func BoolPtr(b bool) *bool { return &b }

// IntPtr returns a pointer to an int value.
func IntPtr(n int) *int { return &n }

// Millis returns d in milliseconds as a pointer.
func Millis(d time.Duration) *int64 {
	ms := d.Milliseconds()
	return &ms
}
