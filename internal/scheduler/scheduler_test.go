package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/fieldpulse/lifecycle/internal/config"
	"github.com/fieldpulse/lifecycle/internal/journey"
	"github.com/fieldpulse/lifecycle/internal/segment"
	"github.com/fieldpulse/lifecycle/pkg/models"
)

type spyProcessor struct {
	ticks atomic.Int64
}

func (s *spyProcessor) ProcessEnrollments(_ context.Context) (*journey.TickResult, error) {
	s.ticks.Add(1)
	return &journey.TickResult{}, nil
}

type spyRefresher struct {
	refreshed atomic.Int64
}

func (s *spyRefresher) Refresh(_ context.Context, _ uuid.UUID) (*segment.RefreshResult, error) {
	s.refreshed.Add(1)
	return &segment.RefreshResult{}, nil
}

type stubSegmentList struct {
	ids []uuid.UUID
}

func (s *stubSegmentList) ListDynamicSegmentIDs(_ context.Context) ([]uuid.UUID, error) {
	return s.ids, nil
}

type spyRecalc struct {
	calls atomic.Int64
}

func (s *spyRecalc) CalculateAndSave(_ context.Context, _ uuid.UUID) (*models.HealthScore, error) {
	s.calls.Add(1)
	return &models.HealthScore{}, nil
}

type stubAccountList struct {
	ids []uuid.UUID
}

func (s *stubAccountList) ListAccountIDs(_ context.Context) ([]uuid.UUID, error) {
	return s.ids, nil
}

func TestSchedulerRunsAllLoopsAndStops(t *testing.T) {
	processor := &spyProcessor{}
	refresher := &spyRefresher{}
	recalc := &spyRecalc{}
	segments := &stubSegmentList{ids: []uuid.UUID{uuid.New(), uuid.New()}}
	accounts := &stubAccountList{ids: []uuid.UUID{uuid.New()}}

	cfg := config.SchedulerConfig{
		JourneyTickInterval:    5 * time.Millisecond,
		SegmentRefreshInterval: 5 * time.Millisecond,
		HealthRecalcInterval:   5 * time.Millisecond,
	}
	sched := New(cfg, processor, refresher, segments, recalc, accounts, zerolog.Nop())

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Millisecond)
	defer cancel()

	done := make(chan struct{})
	go func() {
		sched.Run(ctx)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("scheduler did not stop after context cancellation")
	}

	if processor.ticks.Load() == 0 {
		t.Error("journey tick loop never ran")
	}
	if refresher.refreshed.Load() == 0 {
		t.Error("segment refresh loop never ran")
	}
	if recalc.calls.Load() == 0 {
		t.Error("health recalc loop never ran")
	}
}
