// Package storetest holds the behaviour every repository.SessionStore
// backend must share. Backend packages call Run from their own tests.
package storetest

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahmedmanch666/slam/internal/models"
	"github.com/ahmedmanch666/slam/internal/repository"
)

// Factory returns an empty store. Run closes it when the subtest ends.
type Factory func(t *testing.T) repository.SessionStore

var baseTime = time.Date(2026, 5, 4, 12, 0, 0, 0, time.UTC)

func Run(t *testing.T, newStore Factory) {
	t.Helper()

	tests := []struct {
		name string
		fn   func(t *testing.T, store repository.SessionStore)
	}{
		{"CreateAndFindUser", testCreateAndFindUser},
		{"UnknownUser", testUnknownUser},
		{"DuplicateEmail", testDuplicateEmail},
		{"CountUsers", testCountUsers},
		{"RefreshTokenLifecycle", testRefreshTokenLifecycle},
		{"RevokeUnknownToken", testRevokeUnknownToken},
		{"RevokeIsIdempotent", testRevokeIsIdempotent},
		{"DuplicateTokenKeepsRevocation", testDuplicateTokenKeepsRevocation},
		{"TokensForUnknownSubject", testTokensForUnknownSubject},
		{"SessionStats", testSessionStats},
		{"ConcurrentSaves", testConcurrentSaves},
		{"Ping", testPing},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			store := newStore(t)
			t.Cleanup(func() { _ = store.Close() })
			tc.fn(t, store)
		})
	}
}

func newUser(id string, email string, role models.UserRole) models.User {
	return models.User{
		ID:           id,
		Email:        email,
		PasswordHash: "1$00ff$00ff",
		Role:         role,
		CreatedAt:    baseTime,
	}
}

func testCreateAndFindUser(t *testing.T, store repository.SessionStore) {
	ctx := context.Background()
	user := newUser("u-1", "alice@crm.local", models.UserRoleAdmin)
	require.NoError(t, store.CreateUser(ctx, user))

	byEmail, err := store.FindUserByEmail(ctx, "alice@crm.local")
	require.NoError(t, err)
	assert.Equal(t, user.ID, byEmail.ID)
	assert.Equal(t, user.PasswordHash, byEmail.PasswordHash)
	assert.Equal(t, models.UserRoleAdmin, byEmail.Role)
	assert.True(t, user.CreatedAt.Equal(byEmail.CreatedAt))

	byID, err := store.FindUserByID(ctx, "u-1")
	require.NoError(t, err)
	assert.Equal(t, "alice@crm.local", byID.Email)
}

func testUnknownUser(t *testing.T, store repository.SessionStore) {
	ctx := context.Background()

	_, err := store.FindUserByEmail(ctx, "nobody@crm.local")
	assert.ErrorIs(t, err, repository.ErrUserNotFound)

	_, err = store.FindUserByID(ctx, "missing")
	assert.ErrorIs(t, err, repository.ErrUserNotFound)
}

func testDuplicateEmail(t *testing.T, store repository.SessionStore) {
	ctx := context.Background()
	require.NoError(t, store.CreateUser(ctx, newUser("u-1", "dup@crm.local", models.UserRoleAdmin)))

	err := store.CreateUser(ctx, newUser("u-2", "dup@crm.local", models.UserRoleUser))
	assert.ErrorIs(t, err, repository.ErrDuplicateEmail)

	count, err := store.CountUsers(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func testCountUsers(t *testing.T, store repository.SessionStore) {
	ctx := context.Background()

	count, err := store.CountUsers(ctx)
	require.NoError(t, err)
	assert.Zero(t, count)

	for i := 0; i < 3; i++ {
		user := newUser(fmt.Sprintf("u-%d", i), fmt.Sprintf("user%d@crm.local", i), models.UserRoleUser)
		require.NoError(t, store.CreateUser(ctx, user))
	}

	count, err = store.CountUsers(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, count)
}

func testRefreshTokenLifecycle(t *testing.T, store repository.SessionStore) {
	ctx := context.Background()
	require.NoError(t, store.CreateUser(ctx, newUser("u-1", "bob@crm.local", models.UserRoleUser)))

	record := models.RefreshToken{
		Token:     "refresh-token-1",
		UserID:    "u-1",
		ExpiresAt: baseTime.Add(7 * 24 * time.Hour),
		CreatedAt: baseTime,
	}
	require.NoError(t, store.SaveRefreshToken(ctx, record))

	found, err := store.FindRefreshToken(ctx, "refresh-token-1")
	require.NoError(t, err)
	assert.Equal(t, "u-1", found.UserID)
	assert.False(t, found.Revoked)
	assert.True(t, record.ExpiresAt.Equal(found.ExpiresAt))
	assert.True(t, found.Usable(baseTime))

	require.NoError(t, store.RevokeRefreshToken(ctx, "refresh-token-1"))

	found, err = store.FindRefreshToken(ctx, "refresh-token-1")
	require.NoError(t, err, "revoked rows are kept")
	assert.True(t, found.Revoked)
	assert.False(t, found.Usable(baseTime))

	_, err = store.FindRefreshToken(ctx, "never-issued")
	assert.ErrorIs(t, err, repository.ErrTokenNotFound)
}

func testRevokeUnknownToken(t *testing.T, store repository.SessionStore) {
	assert.NoError(t, store.RevokeRefreshToken(context.Background(), "never-issued"))
}

func testRevokeIsIdempotent(t *testing.T, store repository.SessionStore) {
	ctx := context.Background()
	require.NoError(t, store.SaveRefreshToken(ctx, models.RefreshToken{
		Token:     "tok",
		UserID:    "u-1",
		ExpiresAt: baseTime.Add(time.Hour),
		CreatedAt: baseTime,
	}))

	require.NoError(t, store.RevokeRefreshToken(ctx, "tok"))
	require.NoError(t, store.RevokeRefreshToken(ctx, "tok"))

	found, err := store.FindRefreshToken(ctx, "tok")
	require.NoError(t, err)
	assert.True(t, found.Revoked)
}

func testDuplicateTokenKeepsRevocation(t *testing.T, store repository.SessionStore) {
	ctx := context.Background()
	record := models.RefreshToken{
		Token:     "tok-dup",
		UserID:    "u-1",
		ExpiresAt: baseTime.Add(time.Hour),
		CreatedAt: baseTime,
	}
	require.NoError(t, store.SaveRefreshToken(ctx, record))
	require.NoError(t, store.RevokeRefreshToken(ctx, record.Token))

	err := store.SaveRefreshToken(ctx, record)
	assert.ErrorIs(t, err, repository.ErrDuplicateToken)

	found, err := store.FindRefreshToken(ctx, record.Token)
	require.NoError(t, err)
	assert.True(t, found.Revoked, "a revoked row stays revoked")
	assert.Equal(t, "u-1", found.UserID)
}

// Bootstrap-admin sessions reference a subject without a user row.
func testTokensForUnknownSubject(t *testing.T, store repository.SessionStore) {
	ctx := context.Background()
	require.NoError(t, store.SaveRefreshToken(ctx, models.RefreshToken{
		Token:     "seed-token",
		UserID:    "seed_admin",
		ExpiresAt: baseTime.Add(time.Hour),
		CreatedAt: baseTime,
	}))

	found, err := store.FindRefreshToken(ctx, "seed-token")
	require.NoError(t, err)
	assert.Equal(t, "seed_admin", found.UserID)
}

func testSessionStats(t *testing.T, store repository.SessionStore) {
	ctx := context.Background()
	require.NoError(t, store.CreateUser(ctx, newUser("u-1", "a@crm.local", models.UserRoleAdmin)))
	require.NoError(t, store.CreateUser(ctx, newUser("u-2", "b@crm.local", models.UserRoleUser)))

	records := []models.RefreshToken{
		{Token: "active-1", UserID: "u-1", ExpiresAt: baseTime.Add(time.Hour)},
		{Token: "active-2", UserID: "u-2", ExpiresAt: baseTime.Add(2 * time.Hour)},
		{Token: "expired", UserID: "u-2", ExpiresAt: baseTime.Add(-time.Hour)},
		{Token: "revoked", UserID: "u-1", ExpiresAt: baseTime.Add(time.Hour)},
	}
	for _, record := range records {
		record.CreatedAt = baseTime.Add(-2 * time.Hour)
		require.NoError(t, store.SaveRefreshToken(ctx, record))
	}
	require.NoError(t, store.RevokeRefreshToken(ctx, "revoked"))

	stats, err := store.SessionStats(ctx, baseTime)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Users)
	assert.Equal(t, 2, stats.ActiveSessions)
	assert.Equal(t, 1, stats.ExpiredSessions)
	assert.Equal(t, 1, stats.RevokedSessions)
	assert.True(t, stats.GeneratedAt.Equal(baseTime))
}

func testConcurrentSaves(t *testing.T, store repository.SessionStore) {
	ctx := context.Background()

	const workers = 8
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs <- store.SaveRefreshToken(ctx, models.RefreshToken{
				Token:     fmt.Sprintf("concurrent-%d", i),
				UserID:    "u-1",
				ExpiresAt: baseTime.Add(time.Hour),
				CreatedAt: baseTime,
			})
		}(i)
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}

	for i := 0; i < workers; i++ {
		_, err := store.FindRefreshToken(ctx, fmt.Sprintf("concurrent-%d", i))
		require.NoError(t, err)
	}
}

func testPing(t *testing.T, store repository.SessionStore) {
	require.NoError(t, store.Ping(context.Background()))
}
