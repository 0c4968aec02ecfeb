package daemon

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/jwulff/sequent/internal/lang"
	"github.com/jwulff/sequent/internal/ledger"
)

func TestCommandOmitsEmptyFields(t *testing.T) {
	data, err := json.Marshal(Command{Cmd: CmdStop})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(data) != `{"cmd":"stop"}` {
		t.Errorf("stop command = %s", data)
	}
}

func TestResponseError(t *testing.T) {
	j := `{"ok":false,"error":"start recording: audio device unavailable: permission denied"}`

	var resp Response
	if err := json.Unmarshal([]byte(j), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	if resp.OK {
		t.Error("ok = true, want false")
	}
	if resp.Recording != nil {
		t.Errorf("recording = %v, want nil", resp.Recording)
	}
}

func TestResponseSnapshot(t *testing.T) {
	j := `{"ok":true,"recording":false,"source":"Korean","target":"English","intervalMs":15000,
		"entries":[{"sequenceNumber":1,"startedAt":"2025-05-01T18:00:00Z","dispatchedAt":"2025-05-01T18:00:15Z",
		"source":"Korean","target":"English","originalText":"","translatedText":"","state":"resolved"}]}`

	var resp Response
	if err := json.Unmarshal([]byte(j), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.IntervalMs == nil || *resp.IntervalMs != 15000 {
		t.Errorf("intervalMs = %v", resp.IntervalMs)
	}
	entries := Entries(resp.Entries)
	if len(entries) != 1 {
		t.Fatalf("entries = %d, want 1", len(entries))
	}
	if !entries[0].Silent() {
		t.Errorf("entry = %+v, want silent", entries[0])
	}
	if entries[0].DispatchedAt.Sub(entries[0].StartedAt) != 15*time.Second {
		t.Errorf("span = %v", entries[0].DispatchedAt.Sub(entries[0].StartedAt))
	}
}

func TestEntryConversion(t *testing.T) {
	in := ledger.Entry{
		ID:             9,
		SessionID:      "s",
		StartedAt:      time.Date(2025, 5, 1, 18, 0, 0, 0, time.UTC),
		DispatchedAt:   time.Date(2025, 5, 1, 18, 0, 15, 0, time.UTC),
		Source:         lang.Chinese,
		Target:         lang.Korean,
		OriginalText:   "团结",
		TranslatedText: "연대",
		State:          ledger.Resolved,
		PayloadBytes:   100,
	}
	if out := EntryFrom(in).Ledger(); out != in {
		t.Errorf("round trip = %+v, want %+v", out, in)
	}
}

func TestEventFailedCarriesMessage(t *testing.T) {
	j := `{"event":"failed","sessionId":"s","entry":{"sequenceNumber":3,"state":"failed","errorMessage":"gateway failure: http 429"}}`

	var ev Event
	if err := json.Unmarshal([]byte(j), &ev); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if ev.Entry == nil || ev.Entry.ErrorMessage != "gateway failure: http 429" {
		t.Errorf("entry = %+v", ev.Entry)
	}
	if ev.Entry.Ledger().State != ledger.Failed {
		t.Errorf("state = %q", ev.Entry.State)
	}
}

func TestMillis(t *testing.T) {
	if got := *Millis(1500 * time.Millisecond); got != 1500 {
		t.Errorf("Millis = %d, want 1500", got)
	}
}

func TestBoolPtr(t *testing.T) {
	p := BoolPtr(true)
	if p == nil || !*p {
		t.Error("BoolPtr(true) should return pointer to true")
	}

	p = BoolPtr(false)
	if p == nil || *p {
		t.Error("BoolPtr(false) should return pointer to false")
	}
}
