// Package tasks handles entries read from the auth event stream.
package tasks

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/ahmedmanch666/slam/internal/events"
	"github.com/ahmedmanch666/slam/internal/models"
)

type Archiver interface {
	PutJSON(ctx context.Context, key string, v any) error
}

type Processor struct {
	logger   zerolog.Logger
	archiver Archiver
}

// NewProcessor builds a processor. A nil archiver drops session reports
// after logging them.
func NewProcessor(logger zerolog.Logger, archiver Archiver) *Processor {
	return &Processor{
		logger:   logger,
		archiver: archiver,
	}
}

func (p *Processor) Handle(ctx context.Context, msg redis.XMessage) error {
	payload, err := events.Decode(msg.Values)
	if err != nil {
		// Undecodable entries would be retried forever; log and ack them.
		p.logger.Warn().Err(err).Str("message_id", msg.ID).Msg("dropping malformed entry")
		return nil
	}

	switch payload.Kind {
	case events.KindAuth:
		return p.handleAuth(payload)
	case events.KindSessionReport:
		return p.handleReport(ctx, payload)
	default:
		p.logger.Warn().Str("kind", payload.Kind).Msg("unknown entry kind")
		return nil
	}
}

func (p *Processor) handleAuth(payload events.Message) error {
	event, err := payload.AuthEvent()
	if err != nil {
		p.logger.Warn().Err(err).Msg("dropping auth event")
		return nil
	}

	level := zerolog.InfoLevel
	if event.Type == models.AuthEventLoginFailed || event.Type == models.AuthEventRefreshFailed {
		level = zerolog.WarnLevel
	}
	p.logger.WithLevel(level).
		Str("event", string(event.Type)).
		Str("user_id", event.UserID).
		Str("email", event.Email).
		Time("at", event.At).
		Msg("auth audit")
	return nil
}

func (p *Processor) handleReport(ctx context.Context, payload events.Message) error {
	report, err := payload.Report()
	if err != nil {
		p.logger.Warn().Err(err).Msg("dropping session report")
		return nil
	}

	p.logger.Info().
		Int("users", report.Users).
		Int("active_sessions", report.ActiveSessions).
		Int("revoked_sessions", report.RevokedSessions).
		Int("expired_sessions", report.ExpiredSessions).
		Msg("session report")

	if p.archiver == nil {
		return nil
	}
	key := ReportKey(report)
	if err := p.archiver.PutJSON(ctx, key, report); err != nil {
		return fmt.Errorf("archive session report: %w", err)
	}
	return nil
}

// ReportKey names the archived object for a report, one per generation instant.
func ReportKey(report models.SessionStats) string {
	return "session-reports/" + report.GeneratedAt.UTC().Format("2006/01/02/150405") + ".json"
}
