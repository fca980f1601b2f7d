package activity

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/fieldpulse/lifecycle/internal/events"
	"github.com/fieldpulse/lifecycle/pkg/models"
)

type recalcSpy struct {
	calls []uuid.UUID
}

func (r *recalcSpy) CalculateAndSave(_ context.Context, accountID uuid.UUID) (*models.HealthScore, error) {
	r.calls = append(r.calls, accountID)
	return &models.HealthScore{AccountID: accountID}, nil
}

type checkerSpy struct {
	goalChecks []uuid.UUID
	exitChecks []uuid.UUID
}

func (c *checkerSpy) CheckExitCriteria(_ context.Context, id uuid.UUID) (bool, error) {
	c.exitChecks = append(c.exitChecks, id)
	return false, nil
}

func (c *checkerSpy) CheckGoalAchieved(_ context.Context, id uuid.UUID) (bool, error) {
	c.goalChecks = append(c.goalChecks, id)
	return false, nil
}

type listerStub struct {
	enrollments []*models.JourneyEnrollment
}

func (l *listerStub) ListActiveEnrollmentsByAccount(_ context.Context, _ uuid.UUID) ([]*models.JourneyEnrollment, error) {
	return l.enrollments, nil
}

func message(t *testing.T, event any) events.Message {
	t.Helper()
	raw, err := json.Marshal(event)
	if err != nil {
		t.Fatalf("marshal event: %v", err)
	}
	return events.Message{Topic: events.TopicActivityEvents, Value: raw}
}

func TestTouchpointTriggersRecalc(t *testing.T) {
	recalc := &recalcSpy{}
	processor := NewProcessor(zerolog.Nop())
	processor.RegisterHealthRecalc(recalc)

	accountID := uuid.New()
	event := models.BaseEvent{
		ID:        uuid.NewString(),
		Type:      models.EventTypeTouchpointRecorded,
		Timestamp: time.Now().UTC(),
		Source:    "billing",
		AccountID: accountID,
	}
	if err := processor.Handle(context.Background(), message(t, event)); err != nil {
		t.Fatalf("Handle: %v", err)
	}

	if len(recalc.calls) != 1 || recalc.calls[0] != accountID {
		t.Errorf("recalc calls = %v, want [%s]", recalc.calls, accountID)
	}
}

func TestUnregisteredEventTypeIgnored(t *testing.T) {
	recalc := &recalcSpy{}
	processor := NewProcessor(zerolog.Nop())
	processor.RegisterHealthRecalc(recalc)

	event := models.BaseEvent{
		ID:        uuid.NewString(),
		Type:      models.EventTypeSegmentJoined,
		AccountID: uuid.New(),
	}
	if err := processor.Handle(context.Background(), message(t, event)); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if len(recalc.calls) != 0 {
		t.Errorf("recalc calls = %v, want none", recalc.calls)
	}
}

func TestHealthChangeRunsEnrollmentChecks(t *testing.T) {
	accountID := uuid.New()
	enrollments := []*models.JourneyEnrollment{
		{ID: uuid.New(), AccountID: accountID, Status: models.EnrollmentStatusActive},
		{ID: uuid.New(), AccountID: accountID, Status: models.EnrollmentStatusActive},
	}
	checker := &checkerSpy{}
	processor := NewProcessor(zerolog.Nop())
	processor.RegisterEnrollmentChecks(&listerStub{enrollments: enrollments}, checker)

	event := models.HealthScoreChangedEvent{
		BaseEvent: models.BaseEvent{
			ID:        uuid.NewString(),
			Type:      models.EventTypeHealthScoreChanged,
			AccountID: accountID,
		},
		OldScore: 73,
		NewScore: 58,
	}
	if err := processor.Handle(context.Background(), message(t, event)); err != nil {
		t.Fatalf("Handle: %v", err)
	}

	if len(checker.goalChecks) != 2 || len(checker.exitChecks) != 2 {
		t.Errorf("checks = %d goal / %d exit, want 2/2", len(checker.goalChecks), len(checker.exitChecks))
	}
}

func TestMalformedMessageErrors(t *testing.T) {
	processor := NewProcessor(zerolog.Nop())
	err := processor.Handle(context.Background(), events.Message{Value: []byte("{not json")})
	if err == nil {
		t.Fatal("Handle accepted malformed payload")
	}
}
