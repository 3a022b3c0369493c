package session

import (
	"context"
	"sync"

	"github.com/hashicorp/go-multierror"
)

// Store is the registry of open sessions. Implementations must be safe for
// concurrent use.
type Store interface {
	Get(key string) (*Session, bool)
	// Put registers s under key, closing any session it replaces
	Put(ctx context.Context, key string, s *Session) error
	// Evict closes and forgets the session under key
	Evict(ctx context.Context, key string) error
}

// MemoryStore keeps sessions in process memory
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty registry
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[string]*Session)}
}

func (m *MemoryStore) Get(key string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[key]
	return s, ok
}

func (m *MemoryStore) Put(ctx context.Context, key string, s *Session) error {
	m.mu.Lock()
	previous := m.sessions[key]
	m.sessions[key] = s
	m.mu.Unlock()

	if previous != nil && previous != s {
		return previous.Close(ctx)
	}
	return nil
}

func (m *MemoryStore) Evict(ctx context.Context, key string) error {
	m.mu.Lock()
	s, ok := m.sessions[key]
	delete(m.sessions, key)
	m.mu.Unlock()

	if !ok {
		return nil
	}
	return s.Close(ctx)
}

// Len returns the number of open sessions
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Close evicts every session
func (m *MemoryStore) Close(ctx context.Context) error {
	m.mu.Lock()
	sessions := m.sessions
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()

	var result *multierror.Error
	for _, s := range sessions {
		if err := s.Close(ctx); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}
