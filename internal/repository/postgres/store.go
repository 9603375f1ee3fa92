// Package postgres implements the session store on a pgx connection pool.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ahmedmanch666/slam/internal/models"
	"github.com/ahmedmanch666/slam/internal/repository"
)

const uniqueViolation = "23505"

type Store struct {
	pool *pgxpool.Pool
}

var _ repository.SessionStore = (*Store)(nil)

// New wraps a pool whose schema is migrated. The store closes the pool in Close.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

func (s *Store) FindUserByEmail(ctx context.Context, email string) (models.User, error) {
	const query = `
		SELECT id, email, password_hash, role, created_at
		FROM users WHERE email = $1
	`
	return scanUser(s.pool.QueryRow(ctx, query, email))
}

func (s *Store) FindUserByID(ctx context.Context, id string) (models.User, error) {
	const query = `
		SELECT id, email, password_hash, role, created_at
		FROM users WHERE id = $1
	`
	return scanUser(s.pool.QueryRow(ctx, query, id))
}

func scanUser(row pgx.Row) (models.User, error) {
	var (
		user      models.User
		role      string
		createdAt int64
	)
	if err := row.Scan(&user.ID, &user.Email, &user.PasswordHash, &role, &createdAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.User{}, repository.ErrUserNotFound
		}
		return models.User{}, fmt.Errorf("scan user: %w", err)
	}
	user.Role = models.UserRole(role)
	user.CreatedAt = repository.FromMillis(createdAt)
	return user, nil
}

func (s *Store) CreateUser(ctx context.Context, user models.User) error {
	const query = `
		INSERT INTO users (id, email, password_hash, role, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`
	_, err := s.pool.Exec(ctx, query,
		user.ID,
		user.Email,
		user.PasswordHash,
		string(user.Role),
		repository.ToMillis(user.CreatedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return repository.ErrDuplicateEmail
		}
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func (s *Store) CountUsers(ctx context.Context) (int, error) {
	var count int
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM users`).Scan(&count); err != nil {
		return 0, fmt.Errorf("count users: %w", err)
	}
	return count, nil
}

func (s *Store) SaveRefreshToken(ctx context.Context, token models.RefreshToken) error {
	const query = `
		INSERT INTO refresh_tokens (token, user_id, expires_at, revoked, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`
	_, err := s.pool.Exec(ctx, query,
		token.Token,
		token.UserID,
		repository.ToMillis(token.ExpiresAt),
		token.Revoked,
		repository.ToMillis(token.CreatedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return repository.ErrDuplicateToken
		}
		return fmt.Errorf("insert refresh token: %w", err)
	}
	return nil
}

func (s *Store) FindRefreshToken(ctx context.Context, token string) (models.RefreshToken, error) {
	const query = `
		SELECT token, user_id, expires_at, revoked, created_at
		FROM refresh_tokens WHERE token = $1
	`
	var (
		record               models.RefreshToken
		expiresAt, createdAt int64
	)
	err := s.pool.QueryRow(ctx, query, token).Scan(
		&record.Token,
		&record.UserID,
		&expiresAt,
		&record.Revoked,
		&createdAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.RefreshToken{}, repository.ErrTokenNotFound
		}
		return models.RefreshToken{}, fmt.Errorf("scan refresh token: %w", err)
	}
	record.ExpiresAt = repository.FromMillis(expiresAt)
	record.CreatedAt = repository.FromMillis(createdAt)
	return record, nil
}

func (s *Store) RevokeRefreshToken(ctx context.Context, token string) error {
	if _, err := s.pool.Exec(ctx, `UPDATE refresh_tokens SET revoked = TRUE WHERE token = $1`, token); err != nil {
		return fmt.Errorf("revoke refresh token: %w", err)
	}
	return nil
}

func (s *Store) SessionStats(ctx context.Context, now time.Time) (models.SessionStats, error) {
	const query = `
		SELECT
			(SELECT COUNT(*) FROM users),
			COUNT(*) FILTER (WHERE NOT revoked AND expires_at >= $1),
			COUNT(*) FILTER (WHERE revoked),
			COUNT(*) FILTER (WHERE NOT revoked AND expires_at < $1)
		FROM refresh_tokens
	`
	stats := models.SessionStats{GeneratedAt: now}
	err := s.pool.QueryRow(ctx, query, repository.ToMillis(now)).Scan(
		&stats.Users,
		&stats.ActiveSessions,
		&stats.RevokedSessions,
		&stats.ExpiredSessions,
	)
	if err != nil {
		return models.SessionStats{}, fmt.Errorf("session stats: %w", err)
	}
	return stats, nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}
