package models

import "time"

type AuthEventType string

const (
	AuthEventRegister      AuthEventType = "register"
	AuthEventLogin         AuthEventType = "login"
	AuthEventLoginFailed   AuthEventType = "login_failed"
	AuthEventRefresh       AuthEventType = "refresh"
	AuthEventRefreshFailed AuthEventType = "refresh_failed"
	AuthEventLogout        AuthEventType = "logout"
)

type AuthEvent struct {
	Type   AuthEventType
	UserID string
	Email  string
	At     time.Time
}
