package export

import (
	"bytes"
	"encoding/csv"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/jwulff/sequent/internal/lang"
	"github.com/jwulff/sequent/internal/ledger"
)

func TestQuote(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{``, `""`},
		{`plain`, `"plain"`},
		{`He said "hi"`, `"He said ""hi"""`},
		{`a,b`, `"a,b"`},
	}
	for _, tt := range tests {
		if got := Quote(tt.in); got != tt.want {
			t.Errorf("Quote(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestWriteCSV(t *testing.T) {
	start := time.Date(2025, 5, 1, 18, 30, 15, 0, time.Local)
	entries := []ledger.Entry{
		{ID: 1, StartedAt: start, Source: lang.Korean, Target: lang.English,
			OriginalText: "안녕하세요", TranslatedText: `He said "hi", then left`, State: ledger.Resolved},
		{ID: 2, StartedAt: start.Add(15 * time.Second), Source: lang.Chinese, Target: lang.Japanese,
			State: ledger.Resolved},
	}

	var buf bytes.Buffer
	if err := WriteCSV(&buf, entries); err != nil {
		t.Fatalf("write: %v", err)
	}
	out := buf.String()

	if !strings.HasPrefix(out, "\ufeff") {
		t.Fatal("missing BOM")
	}
	lines := strings.Split(strings.TrimSuffix(strings.TrimPrefix(out, "\ufeff"), "\n"), "\n")
	if len(lines) != 3 {
		t.Fatalf("lines = %d, want 3: %q", len(lines), out)
	}
	if lines[0] != "Timestamp,Source Language,Target Language,Original Text,Translated Text" {
		t.Errorf("header = %q", lines[0])
	}
	want := `2025-05-01 18:30:15,Korean,English,"안녕하세요","He said ""hi"", then left"`
	if lines[1] != want {
		t.Errorf("row 1 = %q, want %q", lines[1], want)
	}
	if !strings.HasSuffix(lines[2], `,Chinese (Mandarin),Japanese,"",""`) {
		t.Errorf("row 2 = %q", lines[2])
	}

	// A standard CSV reader recovers the original text.
	r := csv.NewReader(strings.NewReader(strings.TrimPrefix(out, "\ufeff")))
	records, err := r.ReadAll()
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if records[1][4] != `He said "hi", then left` {
		t.Errorf("round trip = %q", records[1][4])
	}
}

func TestWriteCSVMultiline(t *testing.T) {
	var buf bytes.Buffer
	WriteCSV(&buf, []ledger.Entry{{OriginalText: "one\ntwo"}})
	r := csv.NewReader(strings.NewReader(strings.TrimPrefix(buf.String(), "\ufeff")))
	records, err := r.ReadAll()
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(records) != 2 || records[1][3] != "one\ntwo" {
		t.Errorf("records = %q", records)
	}
}

func TestFileName(t *testing.T) {
	got := FileName(time.Date(2025, 1, 9, 7, 5, 59, 0, time.UTC))
	if got != "interpretation_2025-01-09-07-05.csv" {
		t.Errorf("FileName = %q", got)
	}
}

func TestWriteFile(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "exports")
	now := time.Date(2025, 1, 9, 7, 5, 0, 0, time.Local)

	if _, err := WriteFile(dir, nil, now); !errors.Is(err, ErrNothingToExport) {
		t.Errorf("empty export err = %v, want ErrNothingToExport", err)
	}

	path, err := WriteFile(dir, []ledger.Entry{{ID: 1, OriginalText: "x"}}, now)
	if err != nil {
		t.Fatalf("write file: %v", err)
	}
	if filepath.Base(path) != "interpretation_2025-01-09-07-05.csv" {
		t.Errorf("path = %q", path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	if !bytes.Contains(data, []byte(`"x"`)) {
		t.Errorf("file content = %q", data)
	}
}
