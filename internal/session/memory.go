package session

import (
	"context"
	"sync"
	"time"

	"github.com/altrix0/pcit-crd-sub000/internal/model"
)

// MemoryStore keeps sessions in process memory. It serves local
// development when REDIS_ADDR is unset, and the package tests. Expiry is
// enforced by the manager's idle-timeout check, so entries are reaped
// lazily on Get.
type MemoryStore struct {
	mu       sync.Mutex
	sessions map[string]memoryEntry
}

type memoryEntry struct {
	session   model.Session
	expiresAt time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[string]memoryEntry)}
}

func (s *MemoryStore) Put(_ context.Context, session model.Session, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[session.ID] = memoryEntry{session: session, expiresAt: session.LastActivity.Add(ttl)}
	return nil
}

func (s *MemoryStore) Get(_ context.Context, sessionID string) (model.Session, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.sessions[sessionID]
	if !ok {
		return model.Session{}, false, nil
	}
	return entry.session, true, nil
}

func (s *MemoryStore) Delete(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, sessionID)
	return nil
}

func (s *MemoryStore) DeleteAccountSessions(_ context.Context, accountID, keep string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, entry := range s.sessions {
		if entry.session.AccountID == accountID && id != keep {
			delete(s.sessions, id)
		}
	}
	return nil
}
