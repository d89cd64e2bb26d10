// Package account registers learners, checks their passwords and issues
// the bearer tokens the HTTP API authenticates with.
package account

import (
	"context"
	"errors"
	"sync"
	"time"
)

var (
	// ErrNotFound is returned when no account has the email.
	ErrNotFound = errors.New("account not found")
	// ErrEmailTaken is returned when registering an email twice.
	ErrEmailTaken = errors.New("email already registered")
)

// Account is a learner's login identity.
type Account struct {
	ID           string
	Email        string
	PasswordHash string
	CreatedAt    time.Time
}

// Store persists accounts. Emails are unique.
type Store interface {
	Create(ctx context.Context, a Account) error
	ByEmail(ctx context.Context, email string) (Account, error)
}

// MemoryStore is an in-memory implementation of Store.
type MemoryStore struct {
	byEmail map[string]Account
	mu      sync.RWMutex
}

// NewMemoryStore creates a new in-memory account store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{byEmail: make(map[string]Account)}
}

func (s *MemoryStore) Create(_ context.Context, a Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byEmail[a.Email]; ok {
		return ErrEmailTaken
	}
	s.byEmail[a.Email] = a
	return nil
}

func (s *MemoryStore) ByEmail(_ context.Context, email string) (Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.byEmail[email]
	if !ok {
		return Account{}, ErrNotFound
	}
	return a, nil
}
