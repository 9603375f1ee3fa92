package service

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"github.com/ahmedmanch666/slam/internal/ids"
	"github.com/ahmedmanch666/slam/internal/metrics"
	"github.com/ahmedmanch666/slam/internal/models"
	"github.com/ahmedmanch666/slam/internal/repository"
	"github.com/ahmedmanch666/slam/internal/security"
)

// BootstrapSubject is the token subject of the configured administrator.
const BootstrapSubject = "seed_admin"

const MinPasswordLength = 8

var verifyPassword = security.VerifyPassword

type EventPublisher interface {
	Publish(ctx context.Context, event models.AuthEvent) error
}

type MetricsRecorder interface {
	ObserveAuth(operation string, outcome string)
}

type BootstrapAdmin struct {
	Enabled  bool
	Email    string
	Password string
}

type AuthService struct {
	store     repository.SessionStore
	tokens    *security.Issuer
	events    EventPublisher
	metrics   MetricsRecorder
	bootstrap BootstrapAdmin
	log       zerolog.Logger
	now       func() time.Time
}

type Option func(*AuthService)

func WithEvents(events EventPublisher) Option {
	return func(s *AuthService) {
		if events != nil {
			s.events = events
		}
	}
}

func WithMetrics(recorder MetricsRecorder) Option {
	return func(s *AuthService) {
		if recorder != nil {
			s.metrics = recorder
		}
	}
}

func WithBootstrap(admin BootstrapAdmin) Option {
	return func(s *AuthService) {
		admin.Email = normalizeEmail(admin.Email)
		s.bootstrap = admin
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *AuthService) {
		s.now = now
	}
}

func NewAuthService(
	store repository.SessionStore,
	tokens *security.Issuer,
	log zerolog.Logger,
	opts ...Option,
) *AuthService {
	s := &AuthService{
		store:   store,
		tokens:  tokens,
		events:  nopPublisher{},
		metrics: (*metrics.Metrics)(nil),
		log:     log,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type LoginResult struct {
	AccessToken  string
	RefreshToken string
	Role         models.UserRole
	Email        string
}

// Register creates an account. The first account becomes admin. No session
// is opened; callers log in separately.
func (s *AuthService) Register(ctx context.Context, email string, password string) (models.User, error) {
	email, err := validateCredentials(email, password)
	if err != nil {
		s.metrics.ObserveAuth("register", metrics.OutcomeFailure)
		return models.User{}, err
	}

	if s.bootstrap.Enabled && email == s.bootstrap.Email {
		s.metrics.ObserveAuth("register", metrics.OutcomeFailure)
		return models.User{}, ErrEmailTaken
	}

	if _, err := s.store.FindUserByEmail(ctx, email); err == nil {
		s.metrics.ObserveAuth("register", metrics.OutcomeFailure)
		return models.User{}, ErrEmailTaken
	} else if !errors.Is(err, repository.ErrUserNotFound) {
		return models.User{}, s.fail("register", fmt.Errorf("lookup user: %w", err))
	}

	count, err := s.store.CountUsers(ctx)
	if err != nil {
		return models.User{}, s.fail("register", fmt.Errorf("count users: %w", err))
	}
	role := models.UserRoleUser
	if count == 0 {
		role = models.UserRoleAdmin
	}

	passwordHash, err := security.HashPassword(password)
	if err != nil {
		return models.User{}, s.fail("register", err)
	}

	user := models.User{
		ID:           ids.New(),
		Email:        email,
		PasswordHash: passwordHash,
		Role:         role,
		CreatedAt:    s.now(),
	}

	if err := s.store.CreateUser(ctx, user); err != nil {
		if errors.Is(err, repository.ErrDuplicateEmail) {
			s.metrics.ObserveAuth("register", metrics.OutcomeFailure)
			return models.User{}, ErrEmailTaken
		}
		return models.User{}, s.fail("register", fmt.Errorf("create user: %w", err))
	}

	s.metrics.ObserveAuth("register", metrics.OutcomeSuccess)
	s.publish(ctx, models.AuthEventRegister, user.ID, user.Email)
	return user, nil
}

// Login checks credentials and opens a session. Unknown email and wrong
// password are indistinguishable to the caller.
func (s *AuthService) Login(ctx context.Context, email string, password string) (LoginResult, error) {
	email, err := validateCredentials(email, password)
	if err != nil {
		s.metrics.ObserveAuth("login", metrics.OutcomeFailure)
		return LoginResult{}, err
	}

	if s.bootstrap.Enabled && s.isBootstrapEmail(email) {
		// The configured admin has no stored hash; pay one PBKDF2 round anyway.
		verifyPassword(password, dummyHash())
		if !s.isBootstrapPassword(password) {
			return LoginResult{}, s.loginFailed(ctx, email)
		}
		return s.openSession(ctx, s.bootstrapUser())
	}

	user, err := s.store.FindUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			verifyPassword(password, dummyHash())
			return LoginResult{}, s.loginFailed(ctx, email)
		}
		return LoginResult{}, s.fail("login", fmt.Errorf("lookup user: %w", err))
	}

	if !verifyPassword(password, user.PasswordHash) {
		return LoginResult{}, s.loginFailed(ctx, email)
	}

	return s.openSession(ctx, user)
}

func (s *AuthService) openSession(ctx context.Context, user models.User) (LoginResult, error) {
	accessToken, err := s.tokens.IssueAccess(user)
	if err != nil {
		return LoginResult{}, s.fail("login", err)
	}
	refreshToken, err := s.tokens.IssueRefresh(user)
	if err != nil {
		return LoginResult{}, s.fail("login", err)
	}

	now := s.now()
	if err := s.store.SaveRefreshToken(ctx, models.RefreshToken{
		Token:     refreshToken,
		UserID:    user.ID,
		ExpiresAt: now.Add(security.RefreshTTL),
		CreatedAt: now,
	}); err != nil {
		return LoginResult{}, s.fail("login", fmt.Errorf("save refresh token: %w", err))
	}

	s.metrics.ObserveAuth("login", metrics.OutcomeSuccess)
	s.publish(ctx, models.AuthEventLogin, user.ID, user.Email)

	return LoginResult{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		Role:         user.Role,
		Email:        user.Email,
	}, nil
}

// Refresh mints a new access token from a stored, unrevoked refresh token.
// The refresh token itself is not rotated.
func (s *AuthService) Refresh(ctx context.Context, refreshToken string) (string, error) {
	if refreshToken == "" {
		s.metrics.ObserveAuth("refresh", metrics.OutcomeFailure)
		return "", ErrMissingToken
	}

	claims, err := s.tokens.VerifyRefresh(refreshToken)
	if err != nil {
		return "", s.refreshFailed(ctx, "", ErrInvalidToken)
	}

	record, err := s.store.FindRefreshToken(ctx, refreshToken)
	if err != nil {
		if errors.Is(err, repository.ErrTokenNotFound) {
			return "", s.refreshFailed(ctx, claims.Subject, ErrTokenRevokedOrExpired)
		}
		return "", s.fail("refresh", fmt.Errorf("lookup refresh token: %w", err))
	}
	if !record.Usable(s.now()) {
		return "", s.refreshFailed(ctx, claims.Subject, ErrTokenRevokedOrExpired)
	}
	if record.UserID != claims.Subject {
		return "", s.refreshFailed(ctx, claims.Subject, ErrInvalidToken)
	}

	user, err := s.resolveSubject(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return "", s.refreshFailed(ctx, claims.Subject, ErrUserNotFound)
		}
		return "", s.fail("refresh", err)
	}

	accessToken, err := s.tokens.IssueAccess(user)
	if err != nil {
		return "", s.fail("refresh", err)
	}

	s.metrics.ObserveAuth("refresh", metrics.OutcomeSuccess)
	s.publish(ctx, models.AuthEventRefresh, user.ID, user.Email)
	return accessToken, nil
}

func (s *AuthService) resolveSubject(ctx context.Context, subject string) (models.User, error) {
	if subject == BootstrapSubject {
		if !s.bootstrap.Enabled {
			return models.User{}, ErrUserNotFound
		}
		return s.bootstrapUser(), nil
	}

	user, err := s.store.FindUserByID(ctx, subject)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return models.User{}, ErrUserNotFound
		}
		return models.User{}, fmt.Errorf("lookup user: %w", err)
	}
	return user, nil
}

// Logout revokes the refresh token. An empty token is a successful no-op.
func (s *AuthService) Logout(ctx context.Context, refreshToken string) error {
	if refreshToken == "" {
		s.metrics.ObserveAuth("logout", metrics.OutcomeSuccess)
		return nil
	}

	owner := s.tokenOwner(ctx, refreshToken)
	if err := s.store.RevokeRefreshToken(ctx, refreshToken); err != nil {
		return s.fail("logout", fmt.Errorf("revoke refresh token: %w", err))
	}

	s.metrics.ObserveAuth("logout", metrics.OutcomeSuccess)
	s.publish(ctx, models.AuthEventLogout, owner.ID, owner.Email)
	return nil
}

// tokenOwner is best effort: lookup failures only leave the audit event anonymous.
func (s *AuthService) tokenOwner(ctx context.Context, refreshToken string) models.User {
	record, err := s.store.FindRefreshToken(ctx, refreshToken)
	if err != nil {
		if !errors.Is(err, repository.ErrTokenNotFound) {
			s.log.Debug().Err(err).Msg("logout token lookup failed")
		}
		return models.User{}
	}
	user, err := s.resolveSubject(ctx, record.UserID)
	if err != nil {
		return models.User{ID: record.UserID}
	}
	return user
}

func (s *AuthService) Stats(ctx context.Context) (models.SessionStats, error) {
	stats, err := s.store.SessionStats(ctx, s.now())
	if err != nil {
		return models.SessionStats{}, fmt.Errorf("session stats: %w", err)
	}
	return stats, nil
}

func (s *AuthService) bootstrapUser() models.User {
	return models.User{
		ID:    BootstrapSubject,
		Email: s.bootstrap.Email,
		Role:  models.UserRoleAdmin,
	}
}

func (s *AuthService) isBootstrapEmail(email string) bool {
	return constantTimeEqual(email, s.bootstrap.Email)
}

func (s *AuthService) isBootstrapPassword(password string) bool {
	return constantTimeEqual(password, s.bootstrap.Password)
}

func (s *AuthService) loginFailed(ctx context.Context, email string) error {
	s.metrics.ObserveAuth("login", metrics.OutcomeFailure)
	s.publish(ctx, models.AuthEventLoginFailed, "", email)
	return ErrInvalidCredentials
}

func (s *AuthService) refreshFailed(ctx context.Context, subject string, err error) error {
	s.metrics.ObserveAuth("refresh", metrics.OutcomeFailure)
	s.publish(ctx, models.AuthEventRefreshFailed, subject, "")
	return err
}

func (s *AuthService) fail(operation string, err error) error {
	s.metrics.ObserveAuth(operation, metrics.OutcomeError)
	return err
}

func (s *AuthService) publish(ctx context.Context, kind models.AuthEventType, userID string, email string) {
	event := models.AuthEvent{Type: kind, UserID: userID, Email: email, At: s.now()}
	if err := s.events.Publish(ctx, event); err != nil {
		s.log.Warn().Err(err).Str("event", string(kind)).Msg("publish auth event failed")
	}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func validateCredentials(email string, password string) (string, error) {
	email = normalizeEmail(email)
	if email == "" || !strings.Contains(email, "@") {
		return "", ErrInvalidEmail
	}
	if utf8.RuneCountInString(password) < MinPasswordLength {
		return "", ErrWeakPassword
	}
	return email, nil
}

// Hashing both sides first keeps the comparison independent of input length.
func constantTimeEqual(a string, b string) bool {
	ha := sha256.Sum256([]byte(a))
	hb := sha256.Sum256([]byte(b))
	return subtle.ConstantTimeCompare(ha[:], hb[:]) == 1
}

var (
	dummyOnce   sync.Once
	dummyRecord string
)

// dummyHash gives unknown-email logins the same PBKDF2 cost as real ones.
func dummyHash() string {
	dummyOnce.Do(func() {
		record, err := security.HashPassword("unused-password-for-timing")
		if err != nil {
			record = fmt.Sprintf("%d$00$00", security.PasswordIterations)
		}
		dummyRecord = record
	})
	return dummyRecord
}

type nopPublisher struct{}

func (nopPublisher) Publish(context.Context, models.AuthEvent) error { return nil }
