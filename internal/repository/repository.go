package repository

import (
	"context"
	"errors"
	"time"

	"github.com/ahmedmanch666/slam/internal/models"
)

var (
	ErrUserNotFound   = errors.New("user not found")
	ErrDuplicateEmail = errors.New("email already registered")
	ErrTokenNotFound  = errors.New("refresh token not found")
	ErrDuplicateToken = errors.New("refresh token already stored")
)

// SessionStore persists users and their refresh tokens. Refresh token rows
// are never deleted; revocation only flips the revoked flag.
type SessionStore interface {
	FindUserByEmail(ctx context.Context, email string) (models.User, error)
	FindUserByID(ctx context.Context, id string) (models.User, error)
	CreateUser(ctx context.Context, user models.User) error
	CountUsers(ctx context.Context) (int, error)

	// SaveRefreshToken inserts a new row and never overwrites one; a token
	// that is already stored yields ErrDuplicateToken.
	SaveRefreshToken(ctx context.Context, token models.RefreshToken) error
	FindRefreshToken(ctx context.Context, token string) (models.RefreshToken, error)
	// RevokeRefreshToken is idempotent and succeeds for unknown tokens.
	RevokeRefreshToken(ctx context.Context, token string) error

	SessionStats(ctx context.Context, now time.Time) (models.SessionStats, error)
	Ping(ctx context.Context) error
	Close() error
}

// ToMillis and FromMillis convert between time.Time and the epoch
// millisecond columns used by the SQL backends.
func ToMillis(t time.Time) int64 {
	return t.UnixMilli()
}

func FromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}
