package auth

import (
	"context"
	"sync"
)

var _ UserStore = (*MemoryUserStore)(nil)

// MemoryUserStore keeps users in process memory. Used in tests and when no
// database is configured.
type MemoryUserStore struct {
	mu      sync.RWMutex
	byEmail map[string]User
}

func NewMemoryUserStore() *MemoryUserStore {
	return &MemoryUserStore{byEmail: make(map[string]User)}
}

func (s *MemoryUserStore) Create(_ context.Context, u *User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byEmail[u.Email]; ok {
		return ErrAlreadyExists
	}
	s.byEmail[u.Email] = *u
	return nil
}

func (s *MemoryUserStore) FindByEmail(_ context.Context, email string) (*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.byEmail[email]
	if !ok {
		return nil, ErrNotFound
	}
	return &u, nil
}
