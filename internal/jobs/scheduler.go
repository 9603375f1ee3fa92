// Package jobs runs periodic work next to the API process.
package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/ahmedmanch666/slam/internal/models"
)

type StatsSource interface {
	Stats(ctx context.Context) (models.SessionStats, error)
}

type ReportPublisher interface {
	PublishReport(ctx context.Context, stats models.SessionStats) error
}

type Scheduler struct {
	cron      *cron.Cron
	stats     StatsSource
	publisher ReportPublisher
	spec      string
	log       zerolog.Logger
}

// NewScheduler takes a six-field cron spec (seconds first).
func NewScheduler(stats StatsSource, publisher ReportPublisher, spec string, log zerolog.Logger) *Scheduler {
	c := cron.New(cron.WithSeconds())
	return &Scheduler{
		cron:      c,
		stats:     stats,
		publisher: publisher,
		spec:      spec,
		log:       log,
	}
}

func (s *Scheduler) Start() error {
	if _, err := s.cron.AddFunc(s.spec, s.enqueueReport); err != nil {
		return fmt.Errorf("schedule session report %q: %w", s.spec, err)
	}

	s.cron.Start()
	return nil
}

// Stop waits for a running job to finish or for ctx to expire.
func (s *Scheduler) Stop(ctx context.Context) error {
	done := s.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RunOnce computes the current session stats and enqueues them as a report.
func (s *Scheduler) RunOnce(ctx context.Context) error {
	stats, err := s.stats.Stats(ctx)
	if err != nil {
		return fmt.Errorf("collect session stats: %w", err)
	}
	if err := s.publisher.PublishReport(ctx, stats); err != nil {
		return fmt.Errorf("enqueue session report: %w", err)
	}

	s.log.Info().
		Int("users", stats.Users).
		Int("active_sessions", stats.ActiveSessions).
		Msg("session report enqueued")
	return nil
}

func (s *Scheduler) enqueueReport() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.RunOnce(ctx); err != nil {
		s.log.Error().Err(err).Msg("session report failed")
	}
}
