package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahmedmanch666/slam/internal/models"
	"github.com/ahmedmanch666/slam/internal/repository"
	"github.com/ahmedmanch666/slam/internal/repository/memory"
	"github.com/ahmedmanch666/slam/internal/security"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []models.AuthEvent
}

func (p *recordingPublisher) Publish(_ context.Context, event models.AuthEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

func (p *recordingPublisher) Last(kind models.AuthEventType) (models.AuthEvent, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i := len(p.events) - 1; i >= 0; i-- {
		if p.events[i].Type == kind {
			return p.events[i], true
		}
	}
	return models.AuthEvent{}, false
}

func (p *recordingPublisher) Types() []models.AuthEventType {
	p.mu.Lock()
	defer p.mu.Unlock()
	types := make([]models.AuthEventType, 0, len(p.events))
	for _, event := range p.events {
		types = append(types, event.Type)
	}
	return types
}

type harness struct {
	svc    *AuthService
	store  *memory.Store
	tokens *security.Issuer
	clock  *fakeClock
	events *recordingPublisher
}

func newHarness(t *testing.T, opts ...Option) *harness {
	t.Helper()
	clock := &fakeClock{now: time.Date(2026, 4, 1, 8, 0, 0, 0, time.UTC)}
	tokens, err := security.NewIssuer("access-test-secret", "refresh-test-secret", security.WithClock(clock.Now))
	require.NoError(t, err)

	store := memory.New()
	events := &recordingPublisher{}
	opts = append([]Option{WithClock(clock.Now), WithEvents(events)}, opts...)

	return &harness{
		svc:    NewAuthService(store, tokens, zerolog.Nop(), opts...),
		store:  store,
		tokens: tokens,
		clock:  clock,
		events: events,
	}
}

func TestRegister_FirstUserIsAdmin(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	first, err := h.svc.Register(ctx, "  Boss@Example.COM ", "password1")
	require.NoError(t, err)
	assert.Equal(t, models.UserRoleAdmin, first.Role)
	assert.Equal(t, "boss@example.com", first.Email)
	assert.NotEmpty(t, first.ID)
	assert.True(t, security.VerifyPassword("password1", first.PasswordHash))

	second, err := h.svc.Register(ctx, "staff@example.com", "password2")
	require.NoError(t, err)
	assert.Equal(t, models.UserRoleUser, second.Role)
	assert.NotEqual(t, first.ID, second.ID)
}

func TestRegister_DuplicateEmail(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.svc.Register(ctx, "dup@example.com", "password1")
	require.NoError(t, err)

	_, err = h.svc.Register(ctx, "DUP@example.com", "password2")
	assert.ErrorIs(t, err, ErrEmailTaken)

	count, err := h.store.CountUsers(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestRegister_Validation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.svc.Register(ctx, "no-at-sign", "password1")
	assert.ErrorIs(t, err, ErrInvalidEmail)

	_, err = h.svc.Register(ctx, "   ", "password1")
	assert.ErrorIs(t, err, ErrInvalidEmail)

	_, err = h.svc.Register(ctx, "a@b.co", "short")
	assert.ErrorIs(t, err, ErrWeakPassword)

	count, err := h.store.CountUsers(ctx)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestLogin_IssuesAndPersistsSession(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	user, err := h.svc.Register(ctx, "a@b.co", "password1")
	require.NoError(t, err)

	res, err := h.svc.Login(ctx, "A@B.CO", "password1")
	require.NoError(t, err)
	assert.Equal(t, models.UserRoleAdmin, res.Role)
	assert.Equal(t, "a@b.co", res.Email)

	claims, err := h.tokens.VerifyAccess(res.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, user.ID, claims.Subject)
	assert.Equal(t, "admin", claims.Role)

	record, err := h.store.FindRefreshToken(ctx, res.RefreshToken)
	require.NoError(t, err)
	assert.Equal(t, user.ID, record.UserID)
	assert.False(t, record.Revoked)
	assert.True(t, record.ExpiresAt.Equal(h.clock.Now().Add(7*24*time.Hour)))
}

func TestLogin_FailuresAreIndistinguishable(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.svc.Register(ctx, "a@b.co", "password1")
	require.NoError(t, err)

	_, wrongPassword := h.svc.Login(ctx, "a@b.co", "password2")
	_, unknownEmail := h.svc.Login(ctx, "nobody@b.co", "password1")

	assert.ErrorIs(t, wrongPassword, ErrInvalidCredentials)
	assert.ErrorIs(t, unknownEmail, ErrInvalidCredentials)
	assert.Equal(t, wrongPassword.Error(), unknownEmail.Error())
}

func TestLogin_Validation(t *testing.T) {
	h := newHarness(t)

	_, err := h.svc.Login(context.Background(), "nope", "password1")
	assert.ErrorIs(t, err, ErrInvalidEmail)

	_, err = h.svc.Login(context.Background(), "a@b.co", "1234567")
	assert.ErrorIs(t, err, ErrWeakPassword)
}

func TestPasswordLength_CountsCodePoints(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	// Four astral runes are eight UTF-16 units but still only four characters.
	_, err := h.svc.Register(ctx, "emoji@b.co", "😀😀😀😀")
	assert.ErrorIs(t, err, ErrWeakPassword)

	_, err = h.svc.Register(ctx, "emoji@b.co", "😀😀😀😀😀😀😀😀")
	require.NoError(t, err)
	_, err = h.svc.Login(ctx, "emoji@b.co", "😀😀😀😀😀😀😀😀")
	require.NoError(t, err)
}

func TestLogin_EveryFailurePaysOneHash(t *testing.T) {
	var calls int
	verify := verifyPassword
	verifyPassword = func(password string, record string) bool {
		calls++
		return verify(password, record)
	}
	t.Cleanup(func() { verifyPassword = verify })

	admin := BootstrapAdmin{Enabled: true, Email: "root@crm.local", Password: "bootstrap-pass"}
	h := newHarness(t, WithBootstrap(admin))
	ctx := context.Background()
	_, err := h.svc.Register(ctx, "a@b.co", "password1")
	require.NoError(t, err)

	cases := []struct {
		name     string
		email    string
		password string
		wantErr  error
	}{
		{"unknown email", "ghost@b.co", "password1", ErrInvalidCredentials},
		{"wrong password", "a@b.co", "password2", ErrInvalidCredentials},
		{"bootstrap wrong password", "root@crm.local", "password2", ErrInvalidCredentials},
		{"bootstrap success", "root@crm.local", "bootstrap-pass", nil},
		{"success", "a@b.co", "password1", nil},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			calls = 0
			_, err := h.svc.Login(ctx, tc.email, tc.password)
			if tc.wantErr != nil {
				assert.ErrorIs(t, err, tc.wantErr)
			} else {
				require.NoError(t, err)
			}
			assert.Equal(t, 1, calls)
		})
	}
}

func TestAccessToken_ExpiresAfterFifteenMinutes(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.svc.Register(ctx, "a@b.co", "password1")
	require.NoError(t, err)
	res, err := h.svc.Login(ctx, "a@b.co", "password1")
	require.NoError(t, err)

	h.clock.Advance(16 * time.Minute)
	_, err = h.tokens.VerifyAccess(res.AccessToken)
	assert.ErrorIs(t, err, security.ErrInvalidToken)

	fresh, err := h.svc.Refresh(ctx, res.RefreshToken)
	require.NoError(t, err)
	_, err = h.tokens.VerifyAccess(fresh)
	require.NoError(t, err)
}

func TestRefresh_DoesNotRotate(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.svc.Register(ctx, "a@b.co", "password1")
	require.NoError(t, err)
	res, err := h.svc.Login(ctx, "a@b.co", "password1")
	require.NoError(t, err)

	_, err = h.svc.Refresh(ctx, res.RefreshToken)
	require.NoError(t, err)
	h.clock.Advance(time.Hour)
	_, err = h.svc.Refresh(ctx, res.RefreshToken)
	require.NoError(t, err, "same refresh token keeps working")
}

func TestRefresh_FailsAfterLogout(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.svc.Register(ctx, "a@b.co", "password1")
	require.NoError(t, err)
	res, err := h.svc.Login(ctx, "a@b.co", "password1")
	require.NoError(t, err)

	require.NoError(t, h.svc.Logout(ctx, res.RefreshToken))
	require.NoError(t, h.svc.Logout(ctx, res.RefreshToken), "logout is idempotent")

	_, err = h.svc.Refresh(ctx, res.RefreshToken)
	assert.ErrorIs(t, err, ErrTokenRevokedOrExpired)

	record, err := h.store.FindRefreshToken(ctx, res.RefreshToken)
	require.NoError(t, err, "revoked rows are retained")
	assert.True(t, record.Revoked)
}

func TestRefresh_Errors(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.svc.Refresh(ctx, "")
	assert.ErrorIs(t, err, ErrMissingToken)

	_, err = h.svc.Refresh(ctx, "not-a-jwt")
	assert.ErrorIs(t, err, ErrInvalidToken)

	phantom := models.User{ID: "ghost", Email: "ghost@b.co", Role: models.UserRoleUser}

	unknown, err := h.tokens.IssueRefresh(phantom)
	require.NoError(t, err)
	_, err = h.svc.Refresh(ctx, unknown)
	assert.ErrorIs(t, err, ErrTokenRevokedOrExpired, "validly signed but never stored")

	stored, err := h.tokens.IssueRefresh(phantom)
	require.NoError(t, err)
	require.NoError(t, h.store.SaveRefreshToken(ctx, models.RefreshToken{
		Token: stored, UserID: "ghost", ExpiresAt: h.clock.Now().Add(time.Hour), CreatedAt: h.clock.Now(),
	}))
	_, err = h.svc.Refresh(ctx, stored)
	assert.ErrorIs(t, err, ErrUserNotFound)

	lapsed, err := h.tokens.IssueRefresh(phantom)
	require.NoError(t, err)
	require.NoError(t, h.store.SaveRefreshToken(ctx, models.RefreshToken{
		Token: lapsed, UserID: "ghost", ExpiresAt: h.clock.Now().Add(-time.Second), CreatedAt: h.clock.Now(),
	}))
	_, err = h.svc.Refresh(ctx, lapsed)
	assert.ErrorIs(t, err, ErrTokenRevokedOrExpired, "row expiry is enforced independently of the JWT")
}

func TestLogout_EmptyTokenIsNoop(t *testing.T) {
	h := newHarness(t)
	assert.NoError(t, h.svc.Logout(context.Background(), ""))
	assert.NoError(t, h.svc.Logout(context.Background(), "never-issued"))
}

func TestConcurrentLogins_ProduceIndependentSessions(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.svc.Register(ctx, "a@b.co", "password1")
	require.NoError(t, err)

	const n = 4
	results := make([]LoginResult, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := h.svc.Login(ctx, "a@b.co", "password1")
			assert.NoError(t, err)
			results[i] = res
		}(i)
	}
	wg.Wait()

	seen := map[string]bool{}
	for _, res := range results {
		require.NotEmpty(t, res.RefreshToken)
		assert.False(t, seen[res.RefreshToken])
		seen[res.RefreshToken] = true
	}

	require.NoError(t, h.svc.Logout(ctx, results[0].RefreshToken))
	_, err = h.svc.Refresh(ctx, results[1].RefreshToken)
	assert.NoError(t, err, "other sessions survive one logout")
}

func TestBootstrapAdmin(t *testing.T) {
	admin := BootstrapAdmin{Enabled: true, Email: "Root@CRM.local", Password: "bootstrap-pass"}
	h := newHarness(t, WithBootstrap(admin))
	ctx := context.Background()

	res, err := h.svc.Login(ctx, "root@crm.local", "bootstrap-pass")
	require.NoError(t, err)
	assert.Equal(t, models.UserRoleAdmin, res.Role)

	claims, err := h.tokens.VerifyAccess(res.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, BootstrapSubject, claims.Subject)

	_, err = h.svc.Refresh(ctx, res.RefreshToken)
	require.NoError(t, err)

	_, err = h.svc.Login(ctx, "root@crm.local", "wrong-password")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = h.svc.Register(ctx, "root@crm.local", "password1")
	assert.ErrorIs(t, err, ErrEmailTaken)

	count, err := h.store.CountUsers(ctx)
	require.NoError(t, err)
	assert.Zero(t, count, "bootstrap admin has no user row")

	disabled := NewAuthService(h.store, h.tokens, zerolog.Nop(), WithClock(h.clock.Now))
	_, err = disabled.Refresh(ctx, res.RefreshToken)
	assert.ErrorIs(t, err, ErrUserNotFound)

	_, err = disabled.Login(ctx, "root@crm.local", "bootstrap-pass")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestEventsArePublished(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.svc.Register(ctx, "a@b.co", "password1")
	require.NoError(t, err)
	res, err := h.svc.Login(ctx, "a@b.co", "password1")
	require.NoError(t, err)
	_, _ = h.svc.Login(ctx, "a@b.co", "password2")
	_, err = h.svc.Refresh(ctx, res.RefreshToken)
	require.NoError(t, err)
	require.NoError(t, h.svc.Logout(ctx, res.RefreshToken))
	_, _ = h.svc.Refresh(ctx, res.RefreshToken)

	assert.Equal(t, []models.AuthEventType{
		models.AuthEventRegister,
		models.AuthEventLogin,
		models.AuthEventLoginFailed,
		models.AuthEventRefresh,
		models.AuthEventLogout,
		models.AuthEventRefreshFailed,
	}, h.events.Types())
}

func TestLogoutEvent_NamesTheSessionOwner(t *testing.T) {
	admin := BootstrapAdmin{Enabled: true, Email: "root@crm.local", Password: "bootstrap-pass"}
	h := newHarness(t, WithBootstrap(admin))
	ctx := context.Background()

	user, err := h.svc.Register(ctx, "a@b.co", "password1")
	require.NoError(t, err)
	res, err := h.svc.Login(ctx, "a@b.co", "password1")
	require.NoError(t, err)
	require.NoError(t, h.svc.Logout(ctx, res.RefreshToken))

	event, ok := h.events.Last(models.AuthEventLogout)
	require.True(t, ok)
	assert.Equal(t, user.ID, event.UserID)
	assert.Equal(t, "a@b.co", event.Email)

	res, err = h.svc.Login(ctx, "root@crm.local", "bootstrap-pass")
	require.NoError(t, err)
	require.NoError(t, h.svc.Logout(ctx, res.RefreshToken))

	event, ok = h.events.Last(models.AuthEventLogout)
	require.True(t, ok)
	assert.Equal(t, BootstrapSubject, event.UserID)
	assert.Equal(t, "root@crm.local", event.Email)

	require.NoError(t, h.svc.Logout(ctx, "never-issued"))
	event, ok = h.events.Last(models.AuthEventLogout)
	require.True(t, ok)
	assert.Empty(t, event.UserID, "unknown tokens log out anonymously")
}

func TestStats(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.svc.Register(ctx, "a@b.co", "password1")
	require.NoError(t, err)
	first, err := h.svc.Login(ctx, "a@b.co", "password1")
	require.NoError(t, err)
	_, err = h.svc.Login(ctx, "a@b.co", "password1")
	require.NoError(t, err)
	require.NoError(t, h.svc.Logout(ctx, first.RefreshToken))

	stats, err := h.svc.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Users)
	assert.Equal(t, 1, stats.ActiveSessions)
	assert.Equal(t, 1, stats.RevokedSessions)
	assert.Zero(t, stats.ExpiredSessions)
}

type brokenStore struct {
	*memory.Store
	err error
}

func (s brokenStore) FindUserByEmail(context.Context, string) (models.User, error) {
	return models.User{}, s.err
}

func (s brokenStore) FindRefreshToken(context.Context, string) (models.RefreshToken, error) {
	return models.RefreshToken{}, s.err
}

func (s brokenStore) RevokeRefreshToken(context.Context, string) error {
	return s.err
}

func TestStorageFailuresPropagate(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 4, 1, 8, 0, 0, 0, time.UTC)}
	tokens, err := security.NewIssuer("access-test-secret", "refresh-test-secret", security.WithClock(clock.Now))
	require.NoError(t, err)

	boom := errors.New("connection reset")
	var store repository.SessionStore = brokenStore{Store: memory.New(), err: boom}
	svc := NewAuthService(store, tokens, zerolog.Nop(), WithClock(clock.Now))
	ctx := context.Background()

	_, err = svc.Register(ctx, "a@b.co", "password1")
	assert.ErrorIs(t, err, boom)

	_, err = svc.Login(ctx, "a@b.co", "password1")
	assert.ErrorIs(t, err, boom)
	assert.NotErrorIs(t, err, ErrInvalidCredentials)

	refresh, err := tokens.IssueRefresh(models.User{ID: "u-1"})
	require.NoError(t, err)
	_, err = svc.Refresh(ctx, refresh)
	assert.ErrorIs(t, err, boom)

	err = svc.Logout(ctx, refresh)
	assert.ErrorIs(t, err, boom)
}
