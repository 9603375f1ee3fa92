// Package sqlite implements the session store on an embedded SQLite file.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/ahmedmanch666/slam/internal/models"
	"github.com/ahmedmanch666/slam/internal/repository"
)

type Store struct {
	db *sql.DB
}

var _ repository.SessionStore = (*Store)(nil)

// New wraps an open, migrated database. The store owns db and closes it in Close.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

func (s *Store) FindUserByEmail(ctx context.Context, email string) (models.User, error) {
	const query = `
		SELECT id, email, password_hash, role, created_at
		FROM users WHERE email = ?
	`
	return s.scanUser(s.db.QueryRowContext(ctx, query, email))
}

func (s *Store) FindUserByID(ctx context.Context, id string) (models.User, error) {
	const query = `
		SELECT id, email, password_hash, role, created_at
		FROM users WHERE id = ?
	`
	return s.scanUser(s.db.QueryRowContext(ctx, query, id))
}

func (s *Store) scanUser(row *sql.Row) (models.User, error) {
	var (
		user      models.User
		createdAt int64
	)
	if err := row.Scan(&user.ID, &user.Email, &user.PasswordHash, &user.Role, &createdAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.User{}, repository.ErrUserNotFound
		}
		return models.User{}, fmt.Errorf("scan user: %w", err)
	}
	user.CreatedAt = repository.FromMillis(createdAt)
	return user, nil
}

func (s *Store) CreateUser(ctx context.Context, user models.User) error {
	const query = `
		INSERT INTO users (id, email, password_hash, role, created_at)
		VALUES (?, ?, ?, ?, ?)
	`
	_, err := s.db.ExecContext(ctx, query,
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
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users`).Scan(&count); err != nil {
		return 0, fmt.Errorf("count users: %w", err)
	}
	return count, nil
}

func (s *Store) SaveRefreshToken(ctx context.Context, token models.RefreshToken) error {
	const query = `
		INSERT INTO refresh_tokens (token, user_id, expires_at, revoked, created_at)
		VALUES (?, ?, ?, ?, ?)
	`
	_, err := s.db.ExecContext(ctx, query,
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
		FROM refresh_tokens WHERE token = ?
	`
	var (
		record               models.RefreshToken
		expiresAt, createdAt int64
	)
	err := s.db.QueryRowContext(ctx, query, token).Scan(
		&record.Token,
		&record.UserID,
		&expiresAt,
		&record.Revoked,
		&createdAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.RefreshToken{}, repository.ErrTokenNotFound
		}
		return models.RefreshToken{}, fmt.Errorf("scan refresh token: %w", err)
	}
	record.ExpiresAt = repository.FromMillis(expiresAt)
	record.CreatedAt = repository.FromMillis(createdAt)
	return record, nil
}

func (s *Store) RevokeRefreshToken(ctx context.Context, token string) error {
	if _, err := s.db.ExecContext(ctx, `UPDATE refresh_tokens SET revoked = 1 WHERE token = ?`, token); err != nil {
		return fmt.Errorf("revoke refresh token: %w", err)
	}
	return nil
}

func (s *Store) SessionStats(ctx context.Context, now time.Time) (models.SessionStats, error) {
	const query = `
		SELECT
			(SELECT COUNT(*) FROM users),
			COALESCE(SUM(CASE WHEN revoked = 0 AND expires_at >= ? THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN revoked = 1 THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN revoked = 0 AND expires_at < ? THEN 1 ELSE 0 END), 0)
		FROM refresh_tokens
	`
	ms := repository.ToMillis(now)
	stats := models.SessionStats{GeneratedAt: now}
	err := s.db.QueryRowContext(ctx, query, ms, ms).Scan(
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
	return s.db.PingContext(ctx)
}

func (s *Store) Close() error {
	return s.db.Close()
}

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}
