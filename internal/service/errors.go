package service

import "errors"

var (
	ErrInvalidEmail          = errors.New("invalid email")
	ErrWeakPassword          = errors.New("password too short")
	ErrEmailTaken            = errors.New("email already registered")
	ErrInvalidCredentials    = errors.New("invalid credentials")
	ErrMissingToken          = errors.New("missing refresh token")
	ErrInvalidToken          = errors.New("invalid refresh token")
	ErrTokenRevokedOrExpired = errors.New("refresh token revoked or expired")
	ErrUserNotFound          = errors.New("user not found")
)
