package events

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahmedmanch666/slam/internal/models"
)

func newRedis(t *testing.T) *redis.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestPublisher_AuthEventRoundTrip(t *testing.T) {
	client := newRedis(t)
	pub := NewPublisher(client, "auth:events")
	ctx := context.Background()

	at := time.Date(2026, 2, 3, 4, 5, 6, 7, time.UTC)
	require.NoError(t, pub.Publish(ctx, models.AuthEvent{
		Type:   models.AuthEventLogin,
		UserID: "u-1",
		Email:  "a@crm.local",
		At:     at,
	}))

	entries, err := client.XRange(ctx, "auth:events", "-", "+").Result()
	require.NoError(t, err)
	require.Len(t, entries, 1)

	msg, err := Decode(entries[0].Values)
	require.NoError(t, err)
	assert.Equal(t, KindAuth, msg.Kind)

	event, err := msg.AuthEvent()
	require.NoError(t, err)
	assert.Equal(t, models.AuthEventLogin, event.Type)
	assert.Equal(t, "u-1", event.UserID)
	assert.Equal(t, "a@crm.local", event.Email)
	assert.True(t, at.Equal(event.At))
}

func TestPublisher_ReportRoundTrip(t *testing.T) {
	client := newRedis(t)
	pub := NewPublisher(client, "auth:events")
	ctx := context.Background()

	stats := models.SessionStats{
		Users:           3,
		ActiveSessions:  5,
		RevokedSessions: 2,
		ExpiredSessions: 1,
		GeneratedAt:     time.Date(2026, 2, 3, 0, 0, 0, 0, time.UTC),
	}
	require.NoError(t, pub.PublishReport(ctx, stats))

	entries, err := client.XRange(ctx, "auth:events", "-", "+").Result()
	require.NoError(t, err)
	require.Len(t, entries, 1)

	msg, err := Decode(entries[0].Values)
	require.NoError(t, err)
	assert.Equal(t, KindSessionReport, msg.Kind)

	report, err := msg.Report()
	require.NoError(t, err)
	assert.Equal(t, 5, report.ActiveSessions)
	assert.True(t, stats.GeneratedAt.Equal(report.GeneratedAt))
}

func TestPublisher_NilIsNoop(t *testing.T) {
	var pub *Publisher
	assert.NoError(t, pub.Publish(context.Background(), models.AuthEvent{Type: models.AuthEventLogout}))
}

func TestDecode_RejectsMessagesWithoutKind(t *testing.T) {
	_, err := Decode(map[string]interface{}{"at": "2026-01-01T00:00:00Z"})
	assert.Error(t, err)
}
