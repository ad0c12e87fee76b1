package testutil

import (
	"context"
	"sync"

	"github.com/musicroom/backend/internal/model"
	"github.com/musicroom/backend/internal/repository"
)

// MemoryStore is an in-memory user store with the repository's error contract.
type MemoryStore struct {
	mu         sync.Mutex
	byUsername map[string]model.User

	// CreateErr, when set, is returned by CreateUser instead of inserting.
	CreateErr error
	// LookupErr, when set, is returned by GetUserByUsername.
	LookupErr error
	// SkipLookup makes GetUserByUsername report not found, simulating a
	// concurrent insert landing between lookup and create.
	SkipLookup bool

	creates int
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{byUsername: make(map[string]model.User)}
}

// CreateUser stores a copy of user.
func (s *MemoryStore) CreateUser(_ context.Context, user *model.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.creates++
	if s.CreateErr != nil {
		return s.CreateErr
	}
	if _, ok := s.byUsername[user.Username]; ok {
		return repository.ErrUsernameExists
	}
	s.byUsername[user.Username] = *user
	return nil
}

// GetUserByUsername returns a copy of the stored user.
func (s *MemoryStore) GetUserByUsername(_ context.Context, username string) (*model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.LookupErr != nil {
		return nil, s.LookupErr
	}
	user, ok := s.byUsername[username]
	if !ok || s.SkipLookup {
		return nil, repository.ErrUserNotFound
	}
	return &user, nil
}

// Len returns the number of stored users.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.byUsername)
}

// CreateCalls returns how many times CreateUser was invoked.
func (s *MemoryStore) CreateCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.creates
}
