package session

import (
	"context"
	"sync"
	"time"

	"github.com/relaycast/relaycast/pkg/types"
)

// MemoryStore keeps sessions in a map with lazy TTL expiry. Suitable for
// tests and single-process development runs; production uses RedisStore.
type MemoryStore struct {
	mu       sync.Mutex
	ttl      time.Duration
	now      func() time.Time
	sessions map[string]*memoryEntry
}

type memoryEntry struct {
	session   *types.UploadSession
	expiresAt time.Time
}

// MemoryOption configures a MemoryStore.
type MemoryOption func(*MemoryStore)

// WithClock overrides the store's clock. Tests use this to drive expiry.
func WithClock(now func() time.Time) MemoryOption {
	return func(m *MemoryStore) { m.now = now }
}

// NewMemoryStore creates a memory store. ttl of zero disables expiry.
func NewMemoryStore(ttl time.Duration, opts ...MemoryOption) *MemoryStore {
	m := &MemoryStore{
		ttl:      ttl,
		now:      time.Now,
		sessions: make(map[string]*memoryEntry),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *MemoryStore) expiry() time.Time {
	if m.ttl == 0 {
		return time.Time{}
	}
	return m.now().Add(m.ttl)
}

// live must be called with the lock held.
func (m *MemoryStore) live(id string) (*memoryEntry, bool) {
	e, ok := m.sessions[id]
	if !ok {
		return nil, false
	}
	if !e.expiresAt.IsZero() && m.now().After(e.expiresAt) {
		delete(m.sessions, id)
		return nil, false
	}
	return e, true
}

// Create implements Store.
func (m *MemoryStore) Create(_ context.Context, s *types.UploadSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.live(s.ID); ok {
		return ErrAlreadyExists
	}
	m.sessions[s.ID] = &memoryEntry{session: s.Clone(), expiresAt: m.expiry()}
	return nil
}

// Get implements Store.
func (m *MemoryStore) Get(_ context.Context, id string) (*types.UploadSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.live(id)
	if !ok {
		return nil, ErrNotFound
	}
	return e.session.Clone(), nil
}

// Update implements Store. The single store lock makes the read-modify-write
// atomic per key.
func (m *MemoryStore) Update(_ context.Context, id string, mutate Mutator) (*types.UploadSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.live(id)
	if !ok {
		return nil, ErrNotFound
	}

	s := e.session.Clone()
	if err := mutate(s); err != nil {
		return nil, err
	}
	m.sessions[id] = &memoryEntry{session: s, expiresAt: m.expiry()}
	return s.Clone(), nil
}

// Delete implements Store.
func (m *MemoryStore) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, id)
	return nil
}

// ListByOwner implements Store.
func (m *MemoryStore) ListByOwner(_ context.Context, ownerID string) ([]*types.UploadSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*types.UploadSession
	for id := range m.sessions {
		if e, ok := m.live(id); ok && e.session.OwnerID == ownerID {
			out = append(out, e.session.Clone())
		}
	}
	return out, nil
}

// List implements Store.
func (m *MemoryStore) List(_ context.Context) ([]*types.UploadSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*types.UploadSession, 0, len(m.sessions))
	for id := range m.sessions {
		if e, ok := m.live(id); ok {
			out = append(out, e.session.Clone())
		}
	}
	return out, nil
}

// Close implements Store.
func (m *MemoryStore) Close() error {
	return nil
}
