package user

import (
	"context"
	"slices"
	"sync"

	"myapi/internal/auth/models"
	id "myapi/pkg/domain"
	"myapi/pkg/platform/sentinel"
)

// InMemoryUserStore indexes users by ID and by normalized email.
type InMemoryUserStore struct {
	mu      sync.RWMutex
	users   map[id.UserID]*models.User
	byEmail map[string]id.UserID
}

func New() *InMemoryUserStore {
	return &InMemoryUserStore{
		users:   make(map[id.UserID]*models.User),
		byEmail: make(map[string]id.UserID),
	}
}

// Create inserts a user, failing with ErrConflict on a taken email.
func (s *InMemoryUserStore) Create(_ context.Context, user *models.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, taken := s.byEmail[user.Email]; taken {
		return ErrEmailTaken
	}
	if _, exists := s.users[user.ID]; exists {
		return sentinel.ErrConflict
	}
	s.users[user.ID] = clone(user)
	s.byEmail[user.Email] = user.ID
	return nil
}

func (s *InMemoryUserStore) FindByID(_ context.Context, userID id.UserID) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if user, ok := s.users[userID]; ok {
		return clone(user), nil
	}
	return nil, ErrNotFound
}

func (s *InMemoryUserStore) FindByEmail(_ context.Context, email string) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	userID, ok := s.byEmail[email]
	if !ok {
		return nil, ErrNotFound
	}
	return clone(s.users[userID]), nil
}

// UpdateRoles replaces the role set of an existing user.
func (s *InMemoryUserStore) UpdateRoles(_ context.Context, userID id.UserID, roles []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	user, ok := s.users[userID]
	if !ok {
		return ErrNotFound
	}
	user.Roles = slices.Clone(roles)
	return nil
}

func clone(u *models.User) *models.User {
	cp := *u
	cp.Roles = slices.Clone(u.Roles)
	return &cp
}
