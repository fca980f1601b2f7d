// Package scheduler drives the periodic engine work: journey ticks, dynamic
// segment refreshes and full-population health recalculations. Each loop
// runs independently on its own interval and stops when the context ends.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/fieldpulse/lifecycle/internal/config"
	"github.com/fieldpulse/lifecycle/internal/journey"
	"github.com/fieldpulse/lifecycle/internal/segment"
	"github.com/fieldpulse/lifecycle/pkg/models"
)

// EnrollmentProcessor runs one journey progression tick
type EnrollmentProcessor interface {
	ProcessEnrollments(ctx context.Context) (*journey.TickResult, error)
}

// SegmentRefresher recomputes one dynamic segment's membership
type SegmentRefresher interface {
	Refresh(ctx context.Context, segmentID uuid.UUID) (*segment.RefreshResult, error)
}

// SegmentLister enumerates the dynamic segments to refresh
type SegmentLister interface {
	ListDynamicSegmentIDs(ctx context.Context) ([]uuid.UUID, error)
}

// HealthRecalculator recalculates one account's health score
type HealthRecalculator interface {
	CalculateAndSave(ctx context.Context, accountID uuid.UUID) (*models.HealthScore, error)
}

// AccountLister enumerates the accounts to recalculate
type AccountLister interface {
	ListAccountIDs(ctx context.Context) ([]uuid.UUID, error)
}

// Scheduler owns the periodic loops
type Scheduler struct {
	cfg         config.SchedulerConfig
	enrollments EnrollmentProcessor
	segments    SegmentRefresher
	segmentList SegmentLister
	health      HealthRecalculator
	accounts    AccountLister
	logger      zerolog.Logger
}

// New creates a scheduler over the engine components
func New(cfg config.SchedulerConfig, enrollments EnrollmentProcessor, segments SegmentRefresher, segmentList SegmentLister, health HealthRecalculator, accounts AccountLister, logger zerolog.Logger) *Scheduler {
	return &Scheduler{
		cfg:         cfg,
		enrollments: enrollments,
		segments:    segments,
		segmentList: segmentList,
		health:      health,
		accounts:    accounts,
		logger:      logger.With().Str("component", "scheduler").Logger(),
	}
}

// Run starts all loops and blocks until ctx ends
func (s *Scheduler) Run(ctx context.Context) {
	var wg sync.WaitGroup
	loops := []struct {
		name     string
		interval time.Duration
		fn       func(context.Context)
	}{
		{"journey-tick", s.cfg.JourneyTickInterval, s.runJourneyTick},
		{"segment-refresh", s.cfg.SegmentRefreshInterval, s.runSegmentRefresh},
		{"health-recalc", s.cfg.HealthRecalcInterval, s.runHealthRecalc},
	}
	for _, loop := range loops {
		wg.Add(1)
		go func(name string, interval time.Duration, fn func(context.Context)) {
			defer wg.Done()
			s.loop(ctx, name, interval, fn)
		}(loop.name, loop.interval, loop.fn)
	}
	wg.Wait()
}

func (s *Scheduler) loop(ctx context.Context, name string, interval time.Duration, fn func(context.Context)) {
	s.logger.Info().Str("loop", name).Dur("interval", interval).Msg("scheduler loop started")
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Str("loop", name).Msg("scheduler loop stopped")
			return
		case <-ticker.C:
			fn(ctx)
		}
	}
}

func (s *Scheduler) runJourneyTick(ctx context.Context) {
	result, err := s.enrollments.ProcessEnrollments(ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("journey tick failed")
		return
	}
	if result.Processed > 0 || len(result.Errors) > 0 {
		s.logger.Info().
			Int("processed", result.Processed).
			Int("advanced", result.Advanced).
			Int("completed", result.Completed).
			Int("errors", len(result.Errors)).
			Msg("journey tick")
	}
}

func (s *Scheduler) runSegmentRefresh(ctx context.Context) {
	ids, err := s.segmentList.ListDynamicSegmentIDs(ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("list dynamic segments failed")
		return
	}
	for _, id := range ids {
		result, err := s.segments.Refresh(ctx, id)
		if err != nil {
			s.logger.Error().Err(err).Str("segment_id", id.String()).Msg("segment refresh failed")
			continue
		}
		if result.Added > 0 || result.Removed > 0 {
			s.logger.Info().
				Str("segment_id", id.String()).
				Int("added", result.Added).
				Int("removed", result.Removed).
				Int("members", result.MemberCount).
				Msg("segment refreshed")
		}
	}
}

func (s *Scheduler) runHealthRecalc(ctx context.Context) {
	ids, err := s.accounts.ListAccountIDs(ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("list accounts failed")
		return
	}
	recalculated := 0
	for _, id := range ids {
		if ctx.Err() != nil {
			return
		}
		if _, err := s.health.CalculateAndSave(ctx, id); err != nil {
			s.logger.Error().Err(err).Str("account_id", id.String()).Msg("health recalculation failed")
			continue
		}
		recalculated++
	}
	s.logger.Info().Int("accounts", recalculated).Msg("health recalculation sweep complete")
}
