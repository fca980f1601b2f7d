// Package activity consumes account activity events from the bus and
// reacts to them: recorded touchpoints trigger a health recalculation, and
// health score changes trigger goal/exit checks for the account's active
// journey enrollments.
package activity

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/fieldpulse/lifecycle/internal/events"
	"github.com/fieldpulse/lifecycle/pkg/models"
)

// HealthRecalculator is the slice of the health calculator the processor
// needs.
type HealthRecalculator interface {
	CalculateAndSave(ctx context.Context, accountID uuid.UUID) (*models.HealthScore, error)
}

// EnrollmentChecker runs on-demand goal and exit checks for one
// enrollment after its account's health moved.
type EnrollmentChecker interface {
	CheckExitCriteria(ctx context.Context, enrollmentID uuid.UUID) (bool, error)
	CheckGoalAchieved(ctx context.Context, enrollmentID uuid.UUID) (bool, error)
}

// EnrollmentLister finds the active enrollments for one account
type EnrollmentLister interface {
	ListActiveEnrollmentsByAccount(ctx context.Context, accountID uuid.UUID) ([]*models.JourneyEnrollment, error)
}

// HandlerFunc reacts to one decoded event envelope
type HandlerFunc func(ctx context.Context, event models.BaseEvent, raw []byte) error

// Processor routes consumed bus messages to registered per-type handlers.
type Processor struct {
	mu       sync.RWMutex
	handlers map[models.EventType][]HandlerFunc
	logger   zerolog.Logger
}

// NewProcessor creates an empty processor
func NewProcessor(logger zerolog.Logger) *Processor {
	return &Processor{
		handlers: map[models.EventType][]HandlerFunc{},
		logger:   logger.With().Str("component", "activity-processor").Logger(),
	}
}

// Register adds a handler for one event type
func (p *Processor) Register(eventType models.EventType, handler HandlerFunc) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.handlers[eventType] = append(p.handlers[eventType], handler)
}

// Handle decodes one consumed message and fans it out to the handlers
// registered for its type. It satisfies events.Handler.
func (p *Processor) Handle(ctx context.Context, msg events.Message) error {
	var envelope models.BaseEvent
	if err := json.Unmarshal(msg.Value, &envelope); err != nil {
		return fmt.Errorf("decode event envelope: %w", err)
	}

	p.mu.RLock()
	handlers := p.handlers[envelope.Type]
	p.mu.RUnlock()
	if len(handlers) == 0 {
		return nil
	}

	for _, handler := range handlers {
		if err := handler(ctx, envelope, msg.Value); err != nil {
			p.logger.Error().Err(err).
				Str("event_type", string(envelope.Type)).
				Str("account_id", envelope.AccountID.String()).
				Msg("event handler failed")
		}
	}
	return nil
}

// RegisterHealthRecalc wires touchpoint events to health recalculation
func (p *Processor) RegisterHealthRecalc(calculator HealthRecalculator) {
	p.Register(models.EventTypeTouchpointRecorded, func(ctx context.Context, event models.BaseEvent, _ []byte) error {
		if event.AccountID == uuid.Nil {
			return nil
		}
		_, err := calculator.CalculateAndSave(ctx, event.AccountID)
		return err
	})
}

// RegisterEnrollmentChecks wires health score changes to goal and exit
// checks on the account's active enrollments.
func (p *Processor) RegisterEnrollmentChecks(lister EnrollmentLister, checker EnrollmentChecker) {
	p.Register(models.EventTypeHealthScoreChanged, func(ctx context.Context, event models.BaseEvent, _ []byte) error {
		enrollments, err := lister.ListActiveEnrollmentsByAccount(ctx, event.AccountID)
		if err != nil {
			return err
		}
		for _, enrollment := range enrollments {
			if _, err := checker.CheckGoalAchieved(ctx, enrollment.ID); err != nil {
				return err
			}
			if _, err := checker.CheckExitCriteria(ctx, enrollment.ID); err != nil {
				return err
			}
		}
		return nil
	})
}
