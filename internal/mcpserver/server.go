// Package mcpserver exposes the interpretation archive to MCP clients over
// stdio: session listing, transcripts, full-text search and CSV export.
package mcpserver

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"golang.org/x/exp/slog"

	"github.com/jwulff/sequent/internal/db"
	"github.com/jwulff/sequent/internal/export"
	"github.com/jwulff/sequent/internal/ledger"
	"github.com/jwulff/sequent/internal/logging"
)

// Version is reported to MCP clients.
const Version = "0.1.0"

// Archive is the read side of the session store. *db.Store satisfies it.
type Archive interface {
	Sessions(limit int) ([]db.Session, error)
	LatestSession() (*db.Session, error)
	GetSession(id string) (*db.Session, error)
	EntriesForSession(id string) ([]ledger.Entry, error)
	SearchEntries(query string, limit int) ([]ledger.Entry, error)
}

// Handlers implements the tools. ExportDir is where export_csv writes.
type Handlers struct {
	Archive   Archive
	ExportDir string
	Now       func() time.Time
	Log       *slog.Logger
}

func (h *Handlers) now() time.Time {
	if h.Now == nil {
		return time.Now()
	}
	return h.Now()
}

func (h *Handlers) log() *slog.Logger { return logging.OrDiscard(h.Log) }

// New builds an MCP server with every tool registered.
func New(h *Handlers) *server.MCPServer {
	s := server.NewMCPServer("sequent", Version,
		server.WithToolCapabilities(false),
		server.WithRecovery(),
	)

	s.AddTool(mcp.NewTool("list_sessions",
		mcp.WithDescription("List recording sessions, newest first, with their languages and entry counts."),
		mcp.WithNumber("limit", mcp.Description("Maximum sessions to return (default 20)")),
	), h.ListSessions)

	s.AddTool(mcp.NewTool("get_transcript",
		mcp.WithDescription("Return the interpreted timeline of a session: timestamps, original and translated text."),
		mcp.WithString("session_id", mcp.Description("Session ID; the most recent session when omitted")),
	), h.GetTranscript)

	s.AddTool(mcp.NewTool("search_entries",
		mcp.WithDescription("Search original and translated text across all sessions."),
		mcp.WithString("query", mcp.Required(), mcp.Description("Text to look for")),
		mcp.WithNumber("limit", mcp.Description("Maximum entries to return (default 50)")),
	), h.SearchEntries)

	s.AddTool(mcp.NewTool("export_csv",
		mcp.WithDescription("Write a session's timeline as a UTF-8 CSV spreadsheet and return the file path."),
		mcp.WithString("session_id", mcp.Description("Session ID; the most recent session when omitted")),
	), h.ExportCSV)

	return s
}

// ServeStdio runs the server on stdin and stdout until the client leaves.
func ServeStdio(s *server.MCPServer) error {
	return server.ServeStdio(s)
}

func (h *Handlers) ListSessions(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sessions, err := h.Archive.Sessions(req.GetInt("limit", 20))
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("list sessions: %v", err)), nil
	}
	if len(sessions) == 0 {
		return mcp.NewToolResultText("No sessions recorded yet."), nil
	}

	var b strings.Builder
	for _, s := range sessions {
		fmt.Fprintf(&b, "%s  %s  %s -> %s  %d entries  %s\n",
			s.ID,
			s.StartedAt.Local().Format(export.TimestampLayout),
			s.Source, s.Target,
			s.EntryCount,
			s.Status,
		)
	}
	return mcp.NewToolResultText(b.String()), nil
}

func (h *Handlers) GetTranscript(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sess, errResult := h.session(req.GetString("session_id", ""))
	if errResult != nil {
		return errResult, nil
	}
	entries, err := h.Archive.EntriesForSession(sess.ID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("load entries: %v", err)), nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Session %s (%s -> %s, %s)\n\n", sess.ID, sess.Source, sess.Target, sess.Status)
	if len(entries) == 0 {
		b.WriteString("No entries.\n")
	}
	for _, e := range entries {
		writeEntry(&b, e)
	}
	return mcp.NewToolResultText(b.String()), nil
}

func (h *Handlers) SearchEntries(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query, err := req.RequireString("query")
	if err != nil || strings.TrimSpace(query) == "" {
		return mcp.NewToolResultError("query is required"), nil
	}
	entries, err := h.Archive.SearchEntries(query, req.GetInt("limit", 50))
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("search: %v", err)), nil
	}
	if len(entries) == 0 {
		return mcp.NewToolResultText(fmt.Sprintf("No entries match %q.", query)), nil
	}

	var b strings.Builder
	for _, e := range entries {
		fmt.Fprintf(&b, "session %s ", e.SessionID)
		writeEntry(&b, e)
	}
	return mcp.NewToolResultText(b.String()), nil
}

func (h *Handlers) ExportCSV(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sess, errResult := h.session(req.GetString("session_id", ""))
	if errResult != nil {
		return errResult, nil
	}
	entries, err := h.Archive.EntriesForSession(sess.ID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("load entries: %v", err)), nil
	}
	dir := h.ExportDir
	if dir == "" {
		dir = "."
	}
	path, err := export.WriteFile(dir, entries, h.now())
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("export: %v", err)), nil
	}
	h.log().Info("exported session", "session", sess.ID, "path", path)
	return mcp.NewToolResultText(path), nil
}

// session resolves an explicit ID or falls back to the latest session.
func (h *Handlers) session(id string) (*db.Session, *mcp.CallToolResult) {
	var (
		sess *db.Session
		err  error
	)
	if id == "" {
		sess, err = h.Archive.LatestSession()
	} else {
		sess, err = h.Archive.GetSession(id)
	}
	if err != nil {
		return nil, mcp.NewToolResultError(fmt.Sprintf("load session: %v", err))
	}
	if sess == nil {
		if id == "" {
			return nil, mcp.NewToolResultError("no sessions recorded yet")
		}
		return nil, mcp.NewToolResultError(fmt.Sprintf("session %q not found", id))
	}
	return sess, nil
}

func writeEntry(b *strings.Builder, e ledger.Entry) {
	fmt.Fprintf(b, "[%s] #%d ", e.StartedAt.Local().Format("15:04:05"), e.ID)
	switch {
	case e.State == ledger.Pending:
		b.WriteString("(not interpreted)\n")
	case e.State == ledger.Failed:
		fmt.Fprintf(b, "(failed: %s)\n", e.ErrorMessage)
	case e.Silent():
		b.WriteString("(no speech)\n")
	default:
		fmt.Fprintf(b, "\n  %s: %s\n  %s: %s\n", e.Source, e.OriginalText, e.Target, e.TranslatedText)
	}
}
