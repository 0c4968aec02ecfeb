// Package export writes the timeline out as a spreadsheet-friendly CSV.
package export

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jwulff/sequent/internal/ledger"
)

// ErrNothingToExport is returned for an empty timeline.
var ErrNothingToExport = errors.New("nothing to export")

// Header is the first CSV row.
var Header = []string{"Timestamp", "Source Language", "Target Language", "Original Text", "Translated Text"}

// TimestampLayout formats entry start times in local time.
const TimestampLayout = "2006-01-02 15:04:05"

// bom makes spreadsheet apps read the file as UTF-8.
const bom = "\ufeff"

// WriteCSV writes entries in the order given. Transcript columns are always
// quoted so multi-line and comma-laden speech round-trips; other columns are
// quoted only when they need it.
func WriteCSV(w io.Writer, entries []ledger.Entry) error {
	bw := bufio.NewWriter(w)
	bw.WriteString(bom)
	bw.WriteString(strings.Join(Header, ","))
	for _, e := range entries {
		bw.WriteByte('\n')
		bw.WriteString(field(e.StartedAt.Local().Format(TimestampLayout)))
		bw.WriteByte(',')
		bw.WriteString(field(e.Source.String()))
		bw.WriteByte(',')
		bw.WriteString(field(e.Target.String()))
		bw.WriteByte(',')
		bw.WriteString(Quote(e.OriginalText))
		bw.WriteByte(',')
		bw.WriteString(Quote(e.TranslatedText))
	}
	bw.WriteByte('\n')
	if err := bw.Flush(); err != nil {
		return fmt.Errorf("write csv: %w", err)
	}
	return nil
}

// Quote wraps s in double quotes, doubling any embedded quote.
func Quote(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}

func field(s string) string {
	if strings.ContainsAny(s, ",\"\r\n") {
		return Quote(s)
	}
	return s
}

// FileName is the export name for a timeline exported at t.
func FileName(t time.Time) string {
	return "interpretation_" + t.Format("2006-01-02-15-04") + ".csv"
}

// WriteFile writes entries to dir and returns the file path.
func WriteFile(dir string, entries []ledger.Entry, now time.Time) (string, error) {
	if len(entries) == 0 {
		return "", ErrNothingToExport
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create export dir: %w", err)
	}
	path := filepath.Join(dir, FileName(now))
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("create export file: %w", err)
	}
	if err := WriteCSV(f, entries); err != nil {
		f.Close()
		return "", err
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("close export file: %w", err)
	}
	return path, nil
}
