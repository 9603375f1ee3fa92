// Package memory keeps the session store in process memory. State is lost on
// restart; it backs development runs and tests.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/ahmedmanch666/slam/internal/models"
	"github.com/ahmedmanch666/slam/internal/repository"
)

type Store struct {
	mu      sync.RWMutex
	users   map[string]models.User
	byEmail map[string]string
	tokens  map[string]models.RefreshToken
}

var _ repository.SessionStore = (*Store)(nil)

func New() *Store {
	return &Store{
		users:   make(map[string]models.User),
		byEmail: make(map[string]string),
		tokens:  make(map[string]models.RefreshToken),
	}
}

func (s *Store) FindUserByEmail(ctx context.Context, email string) (models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byEmail[email]
	if !ok {
		return models.User{}, repository.ErrUserNotFound
	}
	return s.users[id], nil
}

func (s *Store) FindUserByID(ctx context.Context, id string) (models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	user, ok := s.users[id]
	if !ok {
		return models.User{}, repository.ErrUserNotFound
	}
	return user, nil
}

func (s *Store) CreateUser(ctx context.Context, user models.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byEmail[user.Email]; exists {
		return repository.ErrDuplicateEmail
	}
	s.users[user.ID] = user
	s.byEmail[user.Email] = user.ID
	return nil
}

func (s *Store) CountUsers(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.users), nil
}

func (s *Store) SaveRefreshToken(ctx context.Context, token models.RefreshToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.tokens[token.Token]; exists {
		return repository.ErrDuplicateToken
	}
	s.tokens[token.Token] = token
	return nil
}

func (s *Store) FindRefreshToken(ctx context.Context, token string) (models.RefreshToken, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	record, ok := s.tokens[token]
	if !ok {
		return models.RefreshToken{}, repository.ErrTokenNotFound
	}
	return record, nil
}

func (s *Store) RevokeRefreshToken(ctx context.Context, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if record, ok := s.tokens[token]; ok {
		record.Revoked = true
		s.tokens[token] = record
	}
	return nil
}

func (s *Store) SessionStats(ctx context.Context, now time.Time) (models.SessionStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := models.SessionStats{Users: len(s.users), GeneratedAt: now}
	for _, record := range s.tokens {
		switch {
		case record.Revoked:
			stats.RevokedSessions++
		case record.ExpiresAt.Before(now):
			stats.ExpiredSessions++
		default:
			stats.ActiveSessions++
		}
	}
	return stats, nil
}

func (s *Store) Ping(ctx context.Context) error {
	return ctx.Err()
}

func (s *Store) Close() error {
	return nil
}
