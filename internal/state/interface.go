package state

import (
	"errors"
	"io"

	"github.com/ShayCichocki/courier/pkg/models"
)

// ErrSessionNotFound is returned when no session matches a lookup.
var ErrSessionNotFound = errors.New("session not found")

// SessionReader handles session lookups.
type SessionReader interface {
	// Load returns the session with the given id.
	Load(id string) (*models.Session, error)
	// LoadByOrigin returns the newest non-terminal session for an origin,
	// falling back to the newest terminal one.
	LoadByOrigin(originID string) (*models.Session, error)
	// List returns all sessions, newest first.
	List() ([]*models.Session, error)
	// ListActive returns non-terminal sessions, newest first.
	ListActive() ([]*models.Session, error)
}

// SessionWriter handles session mutations.
type SessionWriter interface {
	// Save inserts or replaces a full session snapshot.
	Save(s *models.Session) error
	// UpdateStatus changes only the status of a stored session.
	UpdateStatus(id string, status models.SessionStatus) error
	// CleanupOlderThan deletes terminal sessions last updated more than
	// days ago and returns how many were removed.
	CleanupOlderThan(days int) (int64, error)
}

// SessionStorage defines the interface for session persistence.
// The session manager works with any backend through it; a process
// always reads its own writes.
type SessionStorage interface {
	io.Closer
	SessionReader
	SessionWriter
}

// Compile-time verification that both backends implement the interfaces.
var (
	_ SessionStorage = (*DB)(nil)
	_ SessionStorage = (*MemoryStore)(nil)
	_ Migrator       = (*DB)(nil)
)

// Migrator handles database schema migrations.
type Migrator interface {
	// Migrate applies all pending schema migrations.
	Migrate() error
}
