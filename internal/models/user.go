package models

import "time"

type UserRole string

const (
	UserRoleUser  UserRole = "user"
	UserRoleAdmin UserRole = "admin"
)

func (r UserRole) Valid() bool {
	return r == UserRoleUser || r == UserRoleAdmin
}

type User struct {
	ID           string
	Email        string
	PasswordHash string
	Role         UserRole
	CreatedAt    time.Time
}

// RefreshToken is the persisted half of a session. Rows are never deleted;
// logout only flips Revoked.
type RefreshToken struct {
	Token     string
	UserID    string
	ExpiresAt time.Time
	Revoked   bool
	CreatedAt time.Time
}

// Usable reports whether the row may still mint access tokens at now.
func (t RefreshToken) Usable(now time.Time) bool {
	return !t.Revoked && !t.ExpiresAt.Before(now)
}

type SessionStats struct {
	Users           int       `json:"users"`
	ActiveSessions  int       `json:"activeSessions"`
	RevokedSessions int       `json:"revokedSessions"`
	ExpiredSessions int       `json:"expiredSessions"`
	GeneratedAt     time.Time `json:"generatedAt"`
}
