package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/jwulff/sequent/internal/lang"
	"github.com/jwulff/sequent/internal/ledger"
)

const schema = `
	CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		sourceLang TEXT NOT NULL,
		targetLang TEXT NOT NULL,
		startedAt REAL NOT NULL,
		endedAt REAL,
		status TEXT NOT NULL DEFAULT 'active',
		createdAt REAL NOT NULL
	);

	CREATE TABLE IF NOT EXISTS entries (
		sessionId TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
		sequenceNumber INTEGER NOT NULL,
		startedAt REAL NOT NULL,
		dispatchedAt REAL NOT NULL,
		sourceLang TEXT NOT NULL,
		targetLang TEXT NOT NULL,
		originalText TEXT NOT NULL DEFAULT '',
		translatedText TEXT NOT NULL DEFAULT '',
		errorMessage TEXT NOT NULL DEFAULT '',
		state TEXT NOT NULL DEFAULT 'pending',
		payloadBytes INTEGER NOT NULL DEFAULT 0,
		createdAt REAL NOT NULL,
		PRIMARY KEY (sessionId, sequenceNumber)
	);

	CREATE INDEX IF NOT EXISTS idx_sessions_startedAt ON sessions(startedAt);
`

// Store reads and writes the sequent SQLite database.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// DefaultDBPath returns the default database path.
func DefaultDBPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		home, _ := os.UserHomeDir()
		dir = filepath.Join(home, ".config")
	}
	return filepath.Join(dir, "Sequent", "sequent.sqlite")
}

// Open opens the database read-write, creating it and its schema if needed.
// Only the daemon writes.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create database dir: %w", err)
	}
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate schema: %w", err)
	}
	return &Store{db: db, now: time.Now}, nil
}

// OpenReadOnly opens an existing database in read-only mode with WAL, for
// readers running next to the daemon.
func OpenReadOnly(path string) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?mode=ro&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// Verify connection
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &Store{db: db, now: time.Now}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// BeginSession records a new active session.
func (s *Store) BeginSession(id string, langs lang.Pair, startedAt time.Time) error {
	_, err := s.db.Exec(`
		INSERT INTO sessions (id, sourceLang, targetLang, startedAt, status, createdAt)
		VALUES (?, ?, ?, ?, 'active', ?)
	`, id, string(langs.Source), string(langs.Target), unixFromTime(startedAt), unixFromTime(s.now()))
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

// EndSession stamps the end time and final status.
func (s *Store) EndSession(id string, endedAt time.Time, status string) error {
	_, err := s.db.Exec(`UPDATE sessions SET endedAt = ?, status = ? WHERE id = ?`,
		unixFromTime(endedAt), status, id)
	if err != nil {
		return fmt.Errorf("end session: %w", err)
	}
	return nil
}

// MarkInterrupted closes sessions left active by a daemon that died. It
// returns how many were closed.
func (s *Store) MarkInterrupted(at time.Time) (int64, error) {
	res, err := s.db.Exec(`
		UPDATE sessions SET status = 'interrupted', endedAt = ?
		WHERE status = 'active'
	`, unixFromTime(at))
	if err != nil {
		return 0, fmt.Errorf("mark interrupted: %w", err)
	}
	return res.RowsAffected()
}

// InsertEntry stores a freshly dispatched entry.
func (s *Store) InsertEntry(e ledger.Entry) error {
	_, err := s.db.Exec(`
		INSERT INTO entries (sessionId, sequenceNumber, startedAt, dispatchedAt,
			sourceLang, targetLang, originalText, translatedText, errorMessage,
			state, payloadBytes, createdAt)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, e.SessionID, e.ID, unixFromTime(e.StartedAt), unixFromTime(e.DispatchedAt),
		string(e.Source), string(e.Target), e.OriginalText, e.TranslatedText, e.ErrorMessage,
		string(e.State), e.PayloadBytes, unixFromTime(s.now()))
	if err != nil {
		return fmt.Errorf("insert entry: %w", err)
	}
	return nil
}

// ResolveEntry stores the texts of a pending entry. Settled entries are left
// untouched.
func (s *Store) ResolveEntry(sessionID string, seq int64, original, translated string) error {
	_, err := s.db.Exec(`
		UPDATE entries SET originalText = ?, translatedText = ?, state = 'resolved'
		WHERE sessionId = ? AND sequenceNumber = ? AND state = 'pending'
	`, original, translated, sessionID, seq)
	if err != nil {
		return fmt.Errorf("resolve entry: %w", err)
	}
	return nil
}

// FailEntry marks a pending entry failed.
func (s *Store) FailEntry(sessionID string, seq int64, message string) error {
	_, err := s.db.Exec(`
		UPDATE entries SET errorMessage = ?, state = 'failed'
		WHERE sessionId = ? AND sequenceNumber = ? AND state = 'pending'
	`, message, sessionID, seq)
	if err != nil {
		return fmt.Errorf("fail entry: %w", err)
	}
	return nil
}

// DeleteEntries removes entries of a session in one transaction.
func (s *Store) DeleteEntries(sessionID string, seqs []int64) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin delete: %w", err)
	}
	stmt, err := tx.Prepare(`DELETE FROM entries WHERE sessionId = ? AND sequenceNumber = ?`)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("prepare delete: %w", err)
	}
	defer stmt.Close()
	for _, seq := range seqs {
		if _, err := stmt.Exec(sessionID, seq); err != nil {
			tx.Rollback()
			return fmt.Errorf("delete entry %d: %w", seq, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit delete: %w", err)
	}
	return nil
}

const sessionColumns = `
	s.id, s.sourceLang, s.targetLang, s.startedAt, s.endedAt, s.status, s.createdAt,
	(SELECT COUNT(*) FROM entries e WHERE e.sessionId = s.id)
`

type scanner interface {
	Scan(dest ...any) error
}

func scanSession(row scanner) (Session, error) {
	var sess Session
	var source, target string
	var startedAt, createdAt float64
	var endedAt sql.NullFloat64

	if err := row.Scan(&sess.ID, &source, &target, &startedAt, &endedAt,
		&sess.Status, &createdAt, &sess.EntryCount); err != nil {
		return Session{}, err
	}
	sess.Source = lang.Language(source)
	sess.Target = lang.Language(target)
	sess.StartedAt = timeFromUnix(startedAt)
	sess.CreatedAt = timeFromUnix(createdAt)
	if endedAt.Valid {
		t := timeFromUnix(endedAt.Float64)
		sess.EndedAt = &t
	}
	return sess, nil
}

// ActiveSession returns the most recent active session, if any.
func (s *Store) ActiveSession() (*Session, error) {
	row := s.db.QueryRow(`SELECT ` + sessionColumns + `
		FROM sessions s
		WHERE s.status = 'active'
		ORDER BY s.startedAt DESC
		LIMIT 1
	`)
	sess, err := scanSession(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("scan session: %w", err)
	}
	return &sess, nil
}

// LatestSession returns the most recent session regardless of status.
func (s *Store) LatestSession() (*Session, error) {
	row := s.db.QueryRow(`SELECT ` + sessionColumns + `
		FROM sessions s
		ORDER BY s.startedAt DESC
		LIMIT 1
	`)
	sess, err := scanSession(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("scan session: %w", err)
	}
	return &sess, nil
}

// GetSession returns one session by ID, or nil.
func (s *Store) GetSession(id string) (*Session, error) {
	row := s.db.QueryRow(`SELECT `+sessionColumns+`
		FROM sessions s
		WHERE s.id = ?
	`, id)
	sess, err := scanSession(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("scan session: %w", err)
	}
	return &sess, nil
}

// Sessions lists sessions newest first.
func (s *Store) Sessions(limit int) ([]Session, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.Query(`SELECT `+sessionColumns+`
		FROM sessions s
		ORDER BY s.startedAt DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	var sessions []Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		sessions = append(sessions, sess)
	}
	return sessions, rows.Err()
}

const entryColumns = `
	sessionId, sequenceNumber, startedAt, dispatchedAt, sourceLang, targetLang,
	originalText, translatedText, errorMessage, state, payloadBytes
`

func scanEntries(rows *sql.Rows) ([]ledger.Entry, error) {
	defer rows.Close()

	var entries []ledger.Entry
	for rows.Next() {
		var e ledger.Entry
		var startedAt, dispatchedAt float64
		var source, target, state string
		if err := rows.Scan(&e.SessionID, &e.ID, &startedAt, &dispatchedAt, &source, &target,
			&e.OriginalText, &e.TranslatedText, &e.ErrorMessage, &state, &e.PayloadBytes); err != nil {
			return nil, fmt.Errorf("scan entry: %w", err)
		}
		e.StartedAt = timeFromUnix(startedAt)
		e.DispatchedAt = timeFromUnix(dispatchedAt)
		e.Source = lang.Language(source)
		e.Target = lang.Language(target)
		e.State = ledger.State(state)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// EntriesForSession returns a session's entries ordered by sequence number.
func (s *Store) EntriesForSession(sessionID string) ([]ledger.Entry, error) {
	rows, err := s.db.Query(`SELECT `+entryColumns+`
		FROM entries
		WHERE sessionId = ?
		ORDER BY sequenceNumber ASC
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query entries: %w", err)
	}
	return scanEntries(rows)
}

// SearchEntries finds entries whose original or translated text contains
// query, newest first.
func (s *Store) SearchEntries(query string, limit int) ([]ledger.Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	pattern := "%" + escapeLike(query) + "%"
	rows, err := s.db.Query(`SELECT `+entryColumns+`
		FROM entries
		WHERE originalText LIKE ? ESCAPE '\' OR translatedText LIKE ? ESCAPE '\'
		ORDER BY startedAt DESC, sequenceNumber DESC
		LIMIT ?
	`, pattern, pattern, limit)
	if err != nil {
		return nil, fmt.Errorf("search entries: %w", err)
	}
	return scanEntries(rows)
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

func unixFromTime(t time.Time) float64 {
	if t.IsZero() {
		return 0
	}
	return float64(t.UnixNano()) / 1e9
}

func timeFromUnix(ts float64) time.Time {
	sec := int64(ts)
	nsec := int64((ts - float64(sec)) * 1e9)
	return time.Unix(sec, nsec)
}
