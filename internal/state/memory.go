package state

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ShayCichocki/courier/pkg/models"
)

// MemoryStore keeps sessions in process memory. Every read and write works
// on deep copies, so callers never share state with the store.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*models.Session
	now      func() time.Time
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]*models.Session),
		now:      time.Now,
	}
}

// Save stores a copy of the session snapshot.
func (m *MemoryStore) Save(s *models.Session) error {
	if s == nil || s.ID == "" {
		return fmt.Errorf("save session: id is required")
	}
	c := s.Clone()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = m.now()
	}
	if c.UpdatedAt.IsZero() {
		c.UpdatedAt = m.now()
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if prev, ok := m.sessions[c.ID]; ok {
		c.CreatedAt = prev.CreatedAt
	}
	m.sessions[c.ID] = c
	return nil
}

// Load returns a copy of the session with the given id.
func (m *MemoryStore) Load(id string) (*models.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, fmt.Errorf("load session %s: %w", id, ErrSessionNotFound)
	}
	return s.Clone(), nil
}

// LoadByOrigin returns the newest non-terminal session for the origin,
// else the newest terminal one.
func (m *MemoryStore) LoadByOrigin(originID string) (*models.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var best *models.Session
	for _, s := range m.sessions {
		if s.OriginID != originID {
			continue
		}
		if best == nil || originRank(s, best) {
			best = s
		}
	}
	if best == nil {
		return nil, fmt.Errorf("load session for origin %s: %w", originID, ErrSessionNotFound)
	}
	return best.Clone(), nil
}

// originRank reports whether a should be preferred over b.
func originRank(a, b *models.Session) bool {
	if a.Status.Terminal() != b.Status.Terminal() {
		return !a.Status.Terminal()
	}
	return a.CreatedAt.After(b.CreatedAt)
}

// List returns copies of all sessions, newest first.
func (m *MemoryStore) List() ([]*models.Session, error) {
	return m.filter(func(*models.Session) bool { return true }), nil
}

// ListActive returns copies of non-terminal sessions, newest first.
func (m *MemoryStore) ListActive() ([]*models.Session, error) {
	return m.filter(func(s *models.Session) bool { return !s.Status.Terminal() }), nil
}

func (m *MemoryStore) filter(keep func(*models.Session) bool) []*models.Session {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*models.Session
	for _, s := range m.sessions {
		if keep(s) {
			out = append(out, s.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

// UpdateStatus changes the status of a stored session.
func (m *MemoryStore) UpdateStatus(id string, status models.SessionStatus) error {
	if !status.Valid() {
		return fmt.Errorf("update session status: invalid status %q", status)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return fmt.Errorf("update session %s: %w", id, ErrSessionNotFound)
	}
	s.Status = status
	s.UpdatedAt = m.now()
	return nil
}

// CleanupOlderThan deletes terminal sessions not updated within days.
func (m *MemoryStore) CleanupOlderThan(days int) (int64, error) {
	if days <= 0 {
		return 0, fmt.Errorf("cleanup sessions: days must be positive, got %d", days)
	}
	cutoff := m.now().AddDate(0, 0, -days)

	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, s := range m.sessions {
		if s.Status.Terminal() && s.UpdatedAt.Before(cutoff) {
			delete(m.sessions, id)
			n++
		}
	}
	return n, nil
}

// Close is a no-op.
func (m *MemoryStore) Close() error {
	return nil
}
