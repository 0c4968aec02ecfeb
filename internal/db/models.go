// Package db archives recording sessions and their interpretation entries in
// SQLite.
package db

import (
	"time"

	"github.com/jwulff/sequent/internal/lang"
)

// Session statuses.
const (
	StatusActive      = "active"
	StatusCompleted   = "completed"
	StatusInterrupted = "interrupted"
)

// Session represents one recording, from start to stop.
type Session struct {
	ID         string
	Source     lang.Language
	Target     lang.Language
	StartedAt  time.Time
	EndedAt    *time.Time
	Status     string
	CreatedAt  time.Time
	EntryCount int
}
